package client

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	dto "github.com/prometheus/client_model/go"

	"github.com/Belphemur/TwinQuery/internal/config"
	"github.com/Belphemur/TwinQuery/internal/metrics"
)

func retriesSoFar(t *testing.T) float64 {
	t.Helper()
	var m dto.Metric
	if err := metrics.TransportRetriesTotal.Write(&m); err != nil {
		t.Fatalf("read retries counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestHubTransport_SetsHeaders(t *testing.T) {
	headers := make(chan http.Header, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := &http.Client{Transport: &hubTransport{
		next:      http.DefaultTransport,
		sasToken:  "SharedAccessSignature sr=hub&sig=abc&se=1&skn=service",
		userAgent: "twinquery-test/1.0",
	}}
	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	got := <-headers

	if got.Get("Authorization") != "SharedAccessSignature sr=hub&sig=abc&se=1&skn=service" {
		t.Errorf("Expected SAS token in Authorization, got %q", got.Get("Authorization"))
	}
	if got.Get("User-Agent") != "twinquery-test/1.0" {
		t.Errorf("Expected configured User-Agent, got %q", got.Get("User-Agent"))
	}
	if _, err := uuid.Parse(got.Get(headerRequestID)); err != nil {
		t.Errorf("Expected a uuid request id, got %q: %v", got.Get(headerRequestID), err)
	}
}

func TestHubTransport_KeepsCallerHeaders(t *testing.T) {
	headers := make(chan http.Header, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
	}))
	defer server.Close()

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	req.Header.Set("Authorization", "caller-token")
	req.Header.Set(headerRequestID, "caller-request")

	resp, err := (&hubTransport{next: http.DefaultTransport, sasToken: "configured"}).RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip failed: %v", err)
	}
	resp.Body.Close()
	got := <-headers

	if got.Get("Authorization") != "caller-token" {
		t.Errorf("Expected caller Authorization to win, got %q", got.Get("Authorization"))
	}
	if got.Get(headerRequestID) != "caller-request" {
		t.Errorf("Expected caller request id to win, got %q", got.Get(headerRequestID))
	}
	if req.Header.Get("User-Agent") != "" {
		t.Error("RoundTrip must not modify the caller's request")
	}
}

func TestRetryTransport_RetriesServiceUnavailable(t *testing.T) {
	var calls atomic.Int32
	var mu sync.Mutex
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(body))
		mu.Unlock()
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("[]"))
	}))
	defer server.Close()

	before := retriesSoFar(t)
	client := &http.Client{Transport: newRetryTransport(http.DefaultTransport, 3, time.Millisecond, 5*time.Millisecond)}
	resp, err := client.Post(server.URL, "application/json", strings.NewReader(`{"query":"SELECT * FROM devices"}`))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 after retries, got %d", resp.StatusCode)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls.Load())
	}
	mu.Lock()
	defer mu.Unlock()
	for i, body := range bodies {
		if body != `{"query":"SELECT * FROM devices"}` {
			t.Errorf("Attempt %d sent body %q, expected the original body", i+1, body)
		}
	}
	if diff := retriesSoFar(t) - before; diff < 2 {
		t.Errorf("Expected retry counter to grow by at least 2, got %.0f", diff)
	}
}

func TestRetryTransport_ReturnsLastFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := &http.Client{Transport: newRetryTransport(http.DefaultTransport, 2, time.Millisecond, time.Millisecond)}
	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("Expected the last response, got error: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected final 503, got %d", resp.StatusCode)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 1 attempt + 2 retries, got %d", calls.Load())
	}
}

func TestRetryTransport_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := &http.Client{Transport: newRetryTransport(http.DefaultTransport, 3, time.Millisecond, time.Millisecond)}
	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()

	if calls.Load() != 1 {
		t.Errorf("Expected a single attempt for 400, got %d", calls.Load())
	}
}

func TestRetryTransport_Disabled(t *testing.T) {
	base := http.DefaultTransport
	if rt := newRetryTransport(base, 0, time.Millisecond, time.Millisecond); rt != base {
		t.Error("Expected the next transport to be returned unchanged when retries are disabled")
	}
}

func TestNewProxyFunc(t *testing.T) {
	if newProxyFunc("", "") != nil {
		t.Fatal("Expected no proxy function without a proxy URL")
	}

	proxy := newProxyFunc("http://proxy.internal:3128", "excluded.azure-devices.net")

	req, _ := http.NewRequest(http.MethodPost, "https://my-hub.azure-devices.net/devices/query", nil)
	u, err := proxy(req)
	if err != nil {
		t.Fatalf("proxy: %v", err)
	}
	if u == nil || u.Host != "proxy.internal:3128" {
		t.Errorf("Expected requests to go through the proxy, got %v", u)
	}

	req, _ = http.NewRequest(http.MethodPost, "https://excluded.azure-devices.net/devices/query", nil)
	u, err = proxy(req)
	if err != nil {
		t.Fatalf("proxy: %v", err)
	}
	if u != nil {
		t.Errorf("Expected no_proxy host to bypass the proxy, got %v", u)
	}
}

func TestNewHTTPClient_Timeout(t *testing.T) {
	cfg := &config.Config{}
	cfg.ClientTimeout = "not-a-duration"
	if got := newHTTPClient(cfg).Timeout; got != 30*time.Second {
		t.Errorf("Expected default 30s timeout for invalid value, got %v", got)
	}

	cfg.ClientTimeout = "2s"
	if got := newHTTPClient(cfg).Timeout; got != 2*time.Second {
		t.Errorf("Expected 2s timeout, got %v", got)
	}
}
