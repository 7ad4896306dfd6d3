package query

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/Belphemur/TwinQuery/internal/apperrors"
	"github.com/Belphemur/TwinQuery/internal/config"
	"github.com/Belphemur/TwinQuery/internal/metrics"
	"github.com/Belphemur/TwinQuery/internal/models"
)

// maxConsecutiveEmptyPages bounds how many empty pages with a continuation token are
// followed in a row before the stream fails.
const maxConsecutiveEmptyPages = 32

// Stream is a forward-only cursor over the results of one query. It owns the continuation
// token and the current page; the next page is requested only once the current one is
// exhausted. A Stream is not safe for concurrent use and cannot be restarted: run the
// query again through Executor.Execute to start over.
type Stream struct {
	fetcher  PageFetcher
	text     string
	pageSize int

	buffer       []models.TwinDocument
	pos          int
	current      models.TwinDocument
	continuation string
	started      bool
	done         bool
	err          error
	pages        int
	yielded      int
	emptyPages   int // consecutive empty pages that still carried a continuation token
}

// Next advances to the next document, fetching a page when the buffered one is exhausted.
// It returns false when the results are exhausted or a fetch failed; Err tells the two apart.
func (s *Stream) Next(ctx context.Context) bool {
	for s.pos >= len(s.buffer) {
		if s.done {
			return false
		}
		if s.started && s.continuation == "" {
			s.finish()
			return false
		}
		if !s.fetch(ctx) {
			return false
		}
	}

	s.current = s.buffer[s.pos]
	s.pos++
	s.yielded++
	return true
}

// Value returns the document the last successful Next advanced to.
func (s *Stream) Value() models.TwinDocument {
	return s.current
}

// Err returns the error that ended the stream, or nil if it ended normally or is still running.
func (s *Stream) Err() error {
	return s.err
}

// Pages returns the number of pages fetched successfully so far.
func (s *Stream) Pages() int {
	return s.pages
}

// Count returns the number of documents yielded so far.
func (s *Stream) Count() int {
	return s.yielded
}

// Query returns the query text of the stream.
func (s *Stream) Query() string {
	return s.text
}

// All consumes the stream and returns every document. On failure the documents yielded
// before the failing page are returned together with the error.
func (s *Stream) All(ctx context.Context) ([]models.TwinDocument, error) {
	var results []models.TwinDocument
	for s.Next(ctx) {
		results = append(results, s.Value())
	}
	return results, s.Err()
}

// Seq exposes the stream as a range-over-func sequence. A failure is yielded once, as the
// last pair, with a zero document. Breaking out of the loop stops fetching.
func (s *Stream) Seq(ctx context.Context) iter.Seq2[models.TwinDocument, error] {
	return func(yield func(models.TwinDocument, error) bool) {
		for s.Next(ctx) {
			if !yield(s.Value(), nil) {
				return
			}
		}
		if err := s.Err(); err != nil {
			yield(models.TwinDocument{}, err)
		}
	}
}

// Chan drives the stream from a background goroutine and emits results on the returned channel.
// The channel is closed when the stream ends or ctx is cancelled; errors are sent as a
// StreamResult with a non-nil Err. The goroutine runs at most one document ahead of the receiver.
//
// A receiver that stops reading before the channel is closed must cancel ctx, otherwise the
// goroutine stays blocked on its next send.
func (s *Stream) Chan(ctx context.Context) <-chan models.StreamResult[models.TwinDocument] {
	ch := make(chan models.StreamResult[models.TwinDocument])

	go func() {
		defer close(ch)
		for s.Next(ctx) {
			select {
			case ch <- models.StreamResult[models.TwinDocument]{Value: s.Value()}:
			case <-ctx.Done():
				return
			}
		}
		if err := s.Err(); err != nil {
			select {
			case ch <- models.StreamResult[models.TwinDocument]{Err: err}:
			case <-ctx.Done():
			}
		}
	}()

	return ch
}

// fetch requests the next page and refills the buffer. It returns false when the stream ended.
func (s *Stream) fetch(ctx context.Context) bool {
	logger := config.GetLogger()
	pageNum := s.pages + 1

	if !s.started && strings.TrimSpace(s.text) == "" {
		metrics.QueryPagesTotal.WithLabelValues(metrics.OutcomeSyntaxError).Inc()
		s.fail(&apperrors.ErrQuerySyntax{Query: s.text, Message: "query text is empty"})
		return false
	}
	if err := ctx.Err(); err != nil {
		s.fail(fmt.Errorf("query page %d: %w", pageNum, apperrors.NewTransportError("query", err)))
		return false
	}

	req := models.QueryRequest{
		Text:         s.text,
		Continuation: s.continuation,
		PageSize:     s.pageSize,
	}

	start := time.Now()
	page, err := s.fetcher.FetchPage(ctx, req)
	metrics.QueryPageDuration.Observe(time.Since(start).Seconds())
	s.started = true

	if err != nil {
		err = classify(err)
		metrics.QueryPagesTotal.WithLabelValues(outcomeOf(err)).Inc()
		logger.Warn().Err(err).Str("query", s.text).Int("page", pageNum).Int("yielded", s.yielded).Msg("Query page fetch failed")
		s.fail(fmt.Errorf("query page %d: %w", pageNum, err))
		return false
	}
	if page == nil {
		page = &models.QueryPage{}
	}

	s.pages++
	metrics.QueryPagesTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	metrics.QueryDocumentsTotal.Add(float64(len(page.Documents)))

	logger.Debug().
		Str("query", s.text).
		Int("page", pageNum).
		Int("documents", len(page.Documents)).
		Bool("hasContinuation", page.Continuation != "").
		Dur("elapsed", time.Since(start)).
		Msg("Fetched query page")

	s.buffer = page.Documents
	s.pos = 0
	s.continuation = page.Continuation

	if len(page.Documents) > 0 || page.Continuation == "" {
		s.emptyPages = 0
		return true
	}
	s.emptyPages++
	if s.emptyPages >= maxConsecutiveEmptyPages {
		logger.Error().Str("query", s.text).Int("page", pageNum).Int("emptyPages", s.emptyPages).Msg("Hub keeps returning empty pages with a continuation token")
		metrics.QueryPagesTotal.WithLabelValues(metrics.OutcomeTransport).Inc()
		s.fail(fmt.Errorf("query page %d: %w", pageNum, apperrors.NewTransportError("query",
			fmt.Errorf("%d consecutive empty pages with a continuation token", s.emptyPages))))
		return false
	}
	return true
}

func (s *Stream) fail(err error) {
	s.err = err
	s.done = true
	s.buffer = nil
	s.pos = 0
}

func (s *Stream) finish() {
	if s.done {
		return
	}
	s.done = true
	s.buffer = nil
	s.pos = 0

	logger := config.GetLogger()
	logger.Debug().Str("query", s.text).Int("pages", s.pages).Int("documents", s.yielded).Msg("Query completed")
}

// classify maps errors outside the query taxonomy to ErrTransport.
func classify(err error) error {
	switch {
	case errors.Is(err, &apperrors.ErrQuerySyntax{}),
		errors.Is(err, &apperrors.ErrAuthorization{}),
		errors.Is(err, &apperrors.ErrTransport{}):
		return err
	}
	return apperrors.NewTransportError("query", err)
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, &apperrors.ErrQuerySyntax{}):
		return metrics.OutcomeSyntaxError
	case errors.Is(err, &apperrors.ErrAuthorization{}):
		return metrics.OutcomeUnauthorized
	}
	return metrics.OutcomeTransport
}
