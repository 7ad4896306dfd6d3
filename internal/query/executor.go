package query

import (
	"context"

	"github.com/Belphemur/TwinQuery/internal/models"
)

// PageFetcher retrieves a single page of query results. Implementations own the wire
// protocol and any transport-level retry; the executor calls FetchPage exactly once per page.
type PageFetcher interface {
	FetchPage(ctx context.Context, req models.QueryRequest) (*models.QueryPage, error)
}

// PageFetcherFunc adapts a function to the PageFetcher interface.
type PageFetcherFunc func(ctx context.Context, req models.QueryRequest) (*models.QueryPage, error)

// FetchPage calls f(ctx, req).
func (f PageFetcherFunc) FetchPage(ctx context.Context, req models.QueryRequest) (*models.QueryPage, error) {
	return f(ctx, req)
}

// Option configures an Executor.
type Option func(*Executor)

// WithPageSize sets the page size hint sent with every page request.
func WithPageSize(size int) Option {
	return func(e *Executor) {
		if size > 0 {
			e.pageSize = size
		}
	}
}

// Executor turns query text into lazy streams of twin documents.
// It keeps no state between streams and is safe for concurrent use.
type Executor struct {
	fetcher  PageFetcher
	pageSize int
}

// NewExecutor creates an executor that fetches pages through fetcher.
func NewExecutor(fetcher PageFetcher, opts ...Option) *Executor {
	e := &Executor{fetcher: fetcher}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute returns a stream over the results of queryText. No request is made until the
// first call to Next; the text is sent to the hub unmodified.
func (e *Executor) Execute(queryText string) *Stream {
	return &Stream{
		fetcher:  e.fetcher,
		text:     queryText,
		pageSize: e.pageSize,
	}
}
