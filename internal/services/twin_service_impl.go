package services

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
	"github.com/Belphemur/TwinQuery/internal/cache"
	"github.com/Belphemur/TwinQuery/internal/config"
	"github.com/Belphemur/TwinQuery/internal/metrics"
	"github.com/Belphemur/TwinQuery/internal/models"
	"github.com/Belphemur/TwinQuery/internal/parser"
)

const (
	opGetTwin    = "get_twin"
	opUpdateTags = "update_tags"

	maxErrorBody = 64 << 10
)

// DefaultTwinService implements TwinService against the hub's /twins endpoints.
// It is safe for concurrent use.
type DefaultTwinService struct {
	httpClient *http.Client
	endpoint   string
	apiVersion string
	parser     parser.SingleResultParser[models.TwinDocument]
	twinCache  cache.Cache // nil disables revalidation
}

// NewTwinService creates a twin service. twinCache may be nil.
func NewTwinService(httpClient *http.Client, endpoint, apiVersion string, twinCache cache.Cache) TwinService {
	return &DefaultTwinService{
		httpClient: httpClient,
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiVersion: apiVersion,
		parser:     parser.NewTwinParser(),
		twinCache:  twinCache,
	}
}

// GetTwin fetches a twin, answering from the cache when the hub reports 304 Not Modified.
func (s *DefaultTwinService) GetTwin(ctx context.Context, id models.TwinID) (*models.TwinDocument, error) {
	logger := config.GetLogger()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.twinURL(id), nil)
	if err != nil {
		return nil, apperrors.NewTransportError(opGetTwin, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	cached := s.cachedTwin(id)
	if cached != nil && cached.ETag != "" {
		req.Header.Set("If-None-Match", quoteETag(cached.ETag))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		metrics.TwinRequestsTotal.WithLabelValues(opGetTwin, "error").Inc()
		return nil, apperrors.NewTransportError(opGetTwin, err)
	}
	defer resp.Body.Close()
	metrics.TwinRequestsTotal.WithLabelValues(opGetTwin, strconv.Itoa(resp.StatusCode)).Inc()

	switch {
	case resp.StatusCode == http.StatusNotModified && cached != nil:
		logger.Debug().Str("twin", id.String()).Str("etag", cached.ETag).Msg("Twin not modified, using cached copy")
		return cached, nil
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if resp.StatusCode == http.StatusNotFound {
			s.forget(id)
		}
		return nil, apperrors.FromTwinStatus(opGetTwin, id.String(), "", resp.StatusCode, body)
	}

	doc, err := s.parser.ParseOne(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, &apperrors.ErrTransport{Op: opGetTwin, StatusCode: resp.StatusCode, Err: err}
	}
	fillETag(doc, resp)
	s.remember(id, doc)

	logger.Debug().Str("twin", id.String()).Str("etag", doc.ETag).Int64("version", doc.Version).Msg("Fetched twin")
	return doc, nil
}

// UpdateTags sends a PATCH with the tags and an If-Match precondition ("*" when etag is empty).
func (s *DefaultTwinService) UpdateTags(ctx context.Context, id models.TwinID, tags map[string]any, etag string) (*models.TwinDocument, error) {
	logger := config.GetLogger()

	payload, err := json.Marshal(map[string]any{"tags": tags})
	if err != nil {
		return nil, apperrors.NewTransportError(opUpdateTags, fmt.Errorf("encode tags: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, s.twinURL(id), bytes.NewReader(payload))
	if err != nil {
		return nil, apperrors.NewTransportError(opUpdateTags, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Accept", "application/json")
	if etag == "" {
		req.Header.Set("If-Match", "*")
	} else {
		req.Header.Set("If-Match", quoteETag(etag))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		metrics.TwinRequestsTotal.WithLabelValues(opUpdateTags, "error").Inc()
		return nil, apperrors.NewTransportError(opUpdateTags, err)
	}
	defer resp.Body.Close()
	metrics.TwinRequestsTotal.WithLabelValues(opUpdateTags, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusPreconditionFailed {
			s.forget(id)
		}
		logger.Warn().Str("twin", id.String()).Str("etag", etag).Int("status", resp.StatusCode).Msg("Twin tag update rejected")
		return nil, apperrors.FromTwinStatus(opUpdateTags, id.String(), etag, resp.StatusCode, body)
	}

	doc, err := s.parser.ParseOne(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, &apperrors.ErrTransport{Op: opUpdateTags, StatusCode: resp.StatusCode, Err: err}
	}
	fillETag(doc, resp)
	s.remember(id, doc)

	logger.Info().Str("twin", id.String()).Int("tags", len(tags)).Str("etag", doc.ETag).Msg("Updated twin tags")
	return doc, nil
}

// Close releases the twin cache.
func (s *DefaultTwinService) Close() error {
	if s.twinCache == nil {
		return nil
	}
	return s.twinCache.Close()
}

func (s *DefaultTwinService) twinURL(id models.TwinID) string {
	path := "/twins/" + url.PathEscape(id.DeviceID)
	if id.IsModule() {
		path += "/modules/" + url.PathEscape(id.ModuleID)
	}
	return fmt.Sprintf("%s%s?api-version=%s", s.endpoint, path, url.QueryEscape(s.apiVersion))
}

func (s *DefaultTwinService) cachedTwin(id models.TwinID) *models.TwinDocument {
	if s.twinCache == nil {
		return nil
	}
	raw, ok := s.twinCache.Get(id.String())
	if !ok {
		return nil
	}
	doc, err := s.parser.ParseOne(bytes.NewReader(raw), "application/json")
	if err != nil {
		logger := config.GetLogger()
		logger.Warn().Err(err).Str("twin", id.String()).Msg("Dropping undecodable cached twin")
		s.twinCache.Delete(id.String())
		return nil
	}
	return doc
}

func (s *DefaultTwinService) remember(id models.TwinID, doc *models.TwinDocument) {
	if s.twinCache == nil || doc.ETag == "" || len(doc.Raw) == 0 {
		return
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc.Raw, &fields); err != nil {
		return
	}
	raw := doc.Raw
	// The ETag may only have been sent as a header; keep it with the cached body.
	var bodyETag string
	if err := json.Unmarshal(fields["etag"], &bodyETag); err != nil || bodyETag == "" {
		encodedETag, err := json.Marshal(doc.ETag)
		if err != nil {
			return
		}
		fields["etag"] = encodedETag
		if encoded, err := json.Marshal(fields); err == nil {
			raw = encoded
		}
	}
	s.twinCache.Set(id.String(), raw)
}

func (s *DefaultTwinService) forget(id models.TwinID) {
	if s.twinCache != nil {
		s.twinCache.Delete(id.String())
	}
}

// fillETag takes the ETag response header when the body did not carry one.
func fillETag(doc *models.TwinDocument, resp *http.Response) {
	if doc.ETag == "" {
		doc.ETag = strings.Trim(resp.Header.Get("ETag"), `"`)
	}
}

func quoteETag(etag string) string {
	if strings.HasPrefix(etag, `"`) || strings.HasPrefix(etag, `W/"`) {
		return etag
	}
	return `"` + etag + `"`
}
