package client

import (
	"context"
	"net/http"

	"github.com/Belphemur/TwinQuery/internal/cache"
	"github.com/Belphemur/TwinQuery/internal/config"
	"github.com/Belphemur/TwinQuery/internal/models"
	"github.com/Belphemur/TwinQuery/internal/query"
	"github.com/Belphemur/TwinQuery/internal/services"
)

// Client defines the interface for querying and updating twins of an IoT hub.
type Client interface {
	// Query returns a lazy stream over the results of queryText. Nothing is sent to the hub
	// until the stream is advanced.
	Query(queryText string) *query.Stream

	// StreamQuery runs queryText and emits twins on the returned channel as pages arrive.
	// The channel is closed when all results have been sent.
	// Errors are sent as StreamResult with a non-nil Err field.
	// Cancel ctx to stop reading early; the producing goroutine exits only then.
	StreamQuery(ctx context.Context, queryText string) <-chan models.StreamResult[models.TwinDocument]

	GetTwin(ctx context.Context, id models.TwinID) (*models.TwinDocument, error)
	UpdateTwinTags(ctx context.Context, id models.TwinID, tags map[string]any, etag string) (*models.TwinDocument, error)

	// Close releases any resources held by the client (e.g., cache connections).
	Close() error
}

// client implements the Client interface
type client struct {
	httpClient *http.Client
	executor   *query.Executor
	twins      services.TwinService
}

// NewClient creates a client for the hub configured in cfg.
func NewClient(cfg *config.Config) Client {
	logger := config.GetLogger()
	httpClient := newHTTPClient(cfg)
	endpoint := NormalizeEndpoint(cfg.Hub.Endpoint)

	twinCache, err := cache.NewFromConfig(cfg)
	if err != nil {
		logger.Warn().Err(err).Str("provider", cfg.Cache.Provider).Msg("Twin cache unavailable, continuing without cache")
		twinCache = nil
	}

	transport := NewQueryTransport(httpClient, endpoint, cfg.APIVersion())

	logger.Debug().
		Str("endpoint", endpoint).
		Str("apiVersion", cfg.APIVersion()).
		Int("pageSize", cfg.Query.PageSize).
		Int("maxRetries", cfg.Retry.MaxRetries).
		Bool("twinCache", twinCache != nil).
		Msg("Hub client configured")

	return &client{
		httpClient: httpClient,
		executor:   query.NewExecutor(transport, query.WithPageSize(cfg.Query.PageSize)),
		twins:      services.NewTwinService(httpClient, endpoint, cfg.APIVersion(), twinCache),
	}
}

func (c *client) Query(queryText string) *query.Stream {
	return c.executor.Execute(queryText)
}

func (c *client) StreamQuery(ctx context.Context, queryText string) <-chan models.StreamResult[models.TwinDocument] {
	return c.executor.Execute(queryText).Chan(ctx)
}

func (c *client) GetTwin(ctx context.Context, id models.TwinID) (*models.TwinDocument, error) {
	return c.twins.GetTwin(ctx, id)
}

func (c *client) UpdateTwinTags(ctx context.Context, id models.TwinID, tags map[string]any, etag string) (*models.TwinDocument, error) {
	return c.twins.UpdateTags(ctx, id, tags, etag)
}

// Close releases any resources held by the client, such as cache connections.
func (c *client) Close() error {
	c.httpClient.CloseIdleConnections()
	return c.twins.Close()
}
