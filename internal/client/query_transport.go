package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Belphemur/TwinQuery/internal/apperrors"
	"github.com/Belphemur/TwinQuery/internal/models"
	"github.com/Belphemur/TwinQuery/internal/parser"
)

// maxErrorBody bounds how much of an error response is read for its message.
const maxErrorBody = 64 << 10

// QueryTransport fetches query pages from the hub's devices/query endpoint.
// It implements query.PageFetcher.
type QueryTransport struct {
	httpClient *http.Client
	endpoint   string
	apiVersion string
	parser     parser.Parser[models.TwinDocument]
}

// NewQueryTransport creates a transport posting queries to endpoint with the given HTTP client.
func NewQueryTransport(httpClient *http.Client, endpoint, apiVersion string) *QueryTransport {
	return &QueryTransport{
		httpClient: httpClient,
		endpoint:   NormalizeEndpoint(endpoint),
		apiVersion: apiVersion,
		parser:     parser.NewTwinParser(),
	}
}

type queryBody struct {
	Query string `json:"query"`
}

// FetchPage performs one POST to /devices/query. The query text is sent as-is.
func (t *QueryTransport) FetchPage(ctx context.Context, req models.QueryRequest) (*models.QueryPage, error) {
	payload, err := json.Marshal(queryBody{Query: req.Text})
	if err != nil {
		return nil, apperrors.NewTransportError("query", fmt.Errorf("encode request: %w", err))
	}

	endpoint := fmt.Sprintf("%s/devices/query?api-version=%s", t.endpoint, url.QueryEscape(t.apiVersion))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, apperrors.NewTransportError("query", fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json; charset=utf-8")
	httpReq.Header.Set("Accept", "application/json")
	if req.PageSize > 0 {
		httpReq.Header.Set(headerMaxItemCount, strconv.Itoa(req.PageSize))
	}
	if req.Continuation != "" {
		httpReq.Header.Set(headerContinuation, req.Continuation)
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperrors.NewTransportError("query", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, apperrors.FromQueryStatus(req.Text, resp.StatusCode, body)
	}

	docs, err := t.parser.Parse(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, &apperrors.ErrTransport{Op: "query", StatusCode: resp.StatusCode, Err: err}
	}

	return &models.QueryPage{
		Documents:    docs,
		Continuation: resp.Header.Get(headerContinuation),
		ItemType:     resp.Header.Get(headerItemType),
	}, nil
}

// NormalizeEndpoint trims trailing slashes and defaults the scheme to https.
func NormalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint != "" && !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	return endpoint
}
