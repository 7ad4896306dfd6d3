package client

import (
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/failsafehttp"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/google/uuid"
	"golang.org/x/net/http/httpproxy"

	"github.com/Belphemur/TwinQuery/internal/config"
	"github.com/Belphemur/TwinQuery/internal/metrics"
)

// Hub request headers.
const (
	headerRequestID    = "x-ms-client-request-id"
	headerContinuation = "x-ms-continuation"
	headerMaxItemCount = "x-ms-max-item-count"
	headerItemType     = "x-ms-item-type"
)

// newHTTPClient assembles the transport chain shared by the query transport and the twin service:
// hub headers, then retries, then content decoding, then a cloned DefaultTransport with proxy support.
func newHTTPClient(cfg *config.Config) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	if proxy := newProxyFunc(cfg.ProxyConnectionString, cfg.NoProxy); proxy != nil {
		base.Proxy = proxy
	}

	var rt http.RoundTripper = newCompressionTransport(base)
	rt = newRetryTransport(rt,
		cfg.Retry.MaxRetries,
		config.ParseDuration("retry.initial_delay", cfg.Retry.InitialDelay, 200*time.Millisecond),
		config.ParseDuration("retry.max_delay", cfg.Retry.MaxDelay, 5*time.Second),
	)
	rt = &hubTransport{next: rt, sasToken: cfg.Hub.SASToken, userAgent: config.GetUserAgent()}

	return &http.Client{
		Timeout:   config.ParseDuration("client_timeout", cfg.ClientTimeout, 30*time.Second),
		Transport: rt,
	}
}

// newProxyFunc routes requests through proxyURL except for hosts listed in noProxy.
// It returns nil when no proxy is configured or proxyURL is invalid.
func newProxyFunc(proxyURL, noProxy string) func(*http.Request) (*url.URL, error) {
	if proxyURL == "" {
		return nil
	}
	if _, err := url.Parse(proxyURL); err != nil {
		logger := config.GetLogger()
		logger.Warn().Err(err).Str("proxy", proxyURL).Msg("Invalid proxy URL, continuing without proxy")
		return nil
	}
	proxyFunc := (&httpproxy.Config{
		HTTPProxy:  proxyURL,
		HTTPSProxy: proxyURL,
		NoProxy:    noProxy,
	}).ProxyFunc()
	return func(req *http.Request) (*url.URL, error) {
		return proxyFunc(req.URL)
	}
}

// hubTransport stamps every request with the SAS token, a client request id and the User-Agent.
// Headers already present on the request win.
type hubTransport struct {
	next      http.RoundTripper
	sasToken  string
	userAgent string
}

func (t *hubTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if t.sasToken != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", t.sasToken)
	}
	if req.Header.Get(headerRequestID) == "" {
		req.Header.Set(headerRequestID, uuid.NewString())
	}
	if t.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.next.RoundTrip(req)
}

// retryTransport re-sends requests that failed with a connection error, 429 or a retryable 5xx.
// Bodies are rewound through Request.GetBody; requests without GetBody are sent once.
type retryTransport struct {
	next   http.RoundTripper
	policy retrypolicy.RetryPolicy[*http.Response]
}

// newRetryTransport returns next unchanged when maxRetries is not positive.
func newRetryTransport(next http.RoundTripper, maxRetries int, initialDelay, maxDelay time.Duration) http.RoundTripper {
	if maxRetries <= 0 {
		return next
	}
	if maxDelay < initialDelay {
		maxDelay = initialDelay
	}

	policy := failsafehttp.NewRetryPolicyBuilder().
		WithBackoff(initialDelay, maxDelay).
		WithMaxRetries(maxRetries).
		ReturnLastFailure().
		OnRetry(func(e failsafe.ExecutionEvent[*http.Response]) {
			metrics.TransportRetriesTotal.Inc()

			logger := config.GetLogger()
			event := logger.Warn().Int("attempt", e.Attempts())
			if resp := e.LastResult(); resp != nil {
				event = event.Int("status", resp.StatusCode)
				// The response is superseded by the next attempt.
				_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
				resp.Body.Close()
			}
			if err := e.LastError(); err != nil {
				event = event.Err(err)
			}
			event.Msg("Retrying hub request")
		}).
		Build()

	return &retryTransport{next: next, policy: policy}
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return t.next.RoundTrip(req)
	}

	attempt := 0
	return failsafe.With[*http.Response](t.policy).
		WithContext(req.Context()).
		Get(func() (*http.Response, error) {
			r := req
			if attempt > 0 && req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				r = req.Clone(req.Context())
				r.Body = body
			}
			attempt++
			return t.next.RoundTrip(r)
		})
}
