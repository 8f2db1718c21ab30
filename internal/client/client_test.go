package client

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/talkie-project/talkie/internal/circuitbreaker"
	"github.com/talkie-project/talkie/internal/registry"
	"github.com/talkie-project/talkie/internal/store/driver/memory"
	"github.com/talkie-project/talkie/pkg/discovery"

	staticdir "github.com/talkie-project/talkie/internal/discovery/driver/static"
)

// countingServer wraps an httptest server and counts API requests,
// ignoring the construction-time health probe.
type countingServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests int
	headers  []http.Header
}

func newCountingServer(t *testing.T, handler http.HandlerFunc) *countingServer {
	t.Helper()
	cs := &countingServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		cs.mu.Lock()
		cs.requests++
		cs.headers = append(cs.headers, r.Header.Clone())
		cs.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *countingServer) count() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.requests
}

func (cs *countingServer) header(i int) http.Header {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.headers[i]
}

func testConfig(endpoints ...string) *Config {
	return &Config{
		ModuleName: "llm",
		Endpoints:  endpoints,
		RetryMax:   0,
		RetryDelay: time.Millisecond,
	}
}

func mustNewClient(t *testing.T, cfg *Config, reg *registry.Registry) *Client {
	t.Helper()
	c, err := New(cfg, reg, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestClientFailover(t *testing.T) {
	bad := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	good := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	c := mustNewClient(t, testConfig(bad.URL, good.URL), nil)

	result, err := c.Get(context.Background(), "/api/generate")
	if err != nil {
		t.Fatalf("Expected failover to succeed, got %v", err)
	}
	if result["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", result["status"])
	}
	if bad.count() != 1 {
		t.Errorf("Expected 1 request to failing endpoint, got %d", bad.count())
	}
	if good.count() != 1 {
		t.Errorf("Expected 1 request to healthy endpoint, got %d", good.count())
	}
}

func TestClientCircuitBreakerFailsFast(t *testing.T) {
	bad := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	cfg := testConfig(bad.URL)
	cfg.FailureThreshold = 1
	cfg.RecoveryTimeout = time.Minute
	c := mustNewClient(t, cfg, nil)

	if _, err := c.Get(context.Background(), "/api/generate"); err == nil {
		t.Fatal("Expected error from failing endpoint")
	}
	hits := bad.count()

	_, err := c.Get(context.Background(), "/api/generate")
	var open *circuitbreaker.OpenError
	if !errors.As(err, &open) {
		t.Fatalf("Expected OpenError once breaker tripped, got %v", err)
	}
	if bad.count() != hits {
		t.Errorf("Expected no network traffic while breaker is open, got %d extra requests", bad.count()-hits)
	}
	if c.BreakerState() != circuitbreaker.StateOpen {
		t.Errorf("Expected breaker state OPEN, got %v", c.BreakerState())
	}
}

func TestClientRetriesInsideBreaker(t *testing.T) {
	var calls int
	var mu sync.Mutex
	flaky := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	})

	cfg := testConfig(flaky.URL)
	cfg.RetryMax = 2
	cfg.FailureThreshold = 1
	c := mustNewClient(t, cfg, nil)

	result, err := c.Get(context.Background(), "/api/generate")
	if err != nil {
		t.Fatalf("Expected retries to recover, got %v", err)
	}
	if result["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", result["status"])
	}
	if flaky.count() != 3 {
		t.Errorf("Expected 3 attempts against endpoint, got %d", flaky.count())
	}
	// The retried run succeeded, so the breaker never saw a failure.
	if c.BreakerState() != circuitbreaker.StateClosed {
		t.Errorf("Expected breaker state CLOSED, got %v", c.BreakerState())
	}
}

func TestClientAPIErrorEnvelope(t *testing.T) {
	bad := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad_request","message":"text is required"}`))
	})

	cfg := testConfig(bad.URL)
	cfg.RetryMax = 3
	c := mustNewClient(t, cfg, nil)

	_, err := c.Post(context.Background(), "/api/generate", map[string]interface{}{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", apiErr.StatusCode)
	}
	if apiErr.Code != "bad_request" {
		t.Errorf("Expected error code bad_request, got %q", apiErr.Code)
	}
	if apiErr.Message != "text is required" {
		t.Errorf("Expected envelope message, got %q", apiErr.Message)
	}
	// 4xx responses are not transient; no retries should happen.
	if bad.count() != 1 {
		t.Errorf("Expected 1 request for non-retryable error, got %d", bad.count())
	}
}

func TestClientRequestHeaders(t *testing.T) {
	var calls int
	var mu sync.Mutex
	srv := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{}`))
	})

	cfg := testConfig(srv.URL)
	cfg.RetryMax = 1
	cfg.APIKey = "test-key"
	c := mustNewClient(t, cfg, nil)

	if _, err := c.Get(context.Background(), "/api/generate"); err != nil {
		t.Fatalf("Expected call to succeed after retry, got %v", err)
	}
	if srv.count() != 2 {
		t.Fatalf("Expected 2 requests, got %d", srv.count())
	}

	first := srv.header(0)
	if first.Get("X-API-Version") == "" {
		t.Error("Expected X-API-Version header")
	}
	if first.Get("X-API-Key") != "test-key" {
		t.Errorf("Expected API key header, got %q", first.Get("X-API-Key"))
	}
	if first.Get("Content-Type") != "application/json" {
		t.Errorf("Expected JSON content type, got %q", first.Get("Content-Type"))
	}

	id := first.Get("X-Request-ID")
	if id == "" {
		t.Fatal("Expected X-Request-ID header")
	}
	if got := srv.header(1).Get("X-Request-ID"); got != id {
		t.Errorf("Expected request ID stable across retries, got %q then %q", id, got)
	}
}

func TestClientPerCallTimeoutExtendsDefault(t *testing.T) {
	slow := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(`{"status":"ok"}`))
	})

	cfg := testConfig(slow.URL)
	cfg.Timeout = 100 * time.Millisecond
	c := mustNewClient(t, cfg, nil)

	// The configured default is shorter than the handler; without an
	// override the call must time out.
	if _, err := c.Get(context.Background(), "/api/generate"); err == nil {
		t.Fatal("Expected timeout with default per-attempt deadline")
	}

	// A per-call timeout above the configured default fully replaces
	// it rather than being capped by it.
	result, err := c.Get(context.Background(), "/api/generate", WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("Expected per-call timeout to allow slow response, got %v", err)
	}
	if result["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", result["status"])
	}
}

func instanceFor(t *testing.T, rawURL string) *discovery.ServiceInstance {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("Failed to parse server URL: %v", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("Failed to split host/port: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return &discovery.ServiceInstance{
		ID:      "llm-test-1",
		Service: "llm",
		Address: host,
		Port:    port,
	}
}

func TestClientServiceDiscovery(t *testing.T) {
	srv := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})

	dir := staticdir.New([]*discovery.ServiceInstance{instanceFor(t, srv.URL)})
	reg := registry.New(dir, memory.New(0), 0, zap.NewNop())

	cfg := testConfig()
	cfg.UseServiceDiscovery = true
	c := mustNewClient(t, cfg, reg)

	result, err := c.Get(context.Background(), "/api/generate")
	if err != nil {
		t.Fatalf("Expected discovered endpoint to serve call, got %v", err)
	}
	if result["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", result["status"])
	}
}

func TestClientNoEndpoints(t *testing.T) {
	dir := staticdir.New(nil)
	reg := registry.New(dir, memory.New(0), 0, zap.NewNop())

	cfg := testConfig()
	cfg.UseServiceDiscovery = true
	c := mustNewClient(t, cfg, reg)

	_, err := c.Get(context.Background(), "/api/generate")
	var noEndpoints *NoEndpointsError
	if !errors.As(err, &noEndpoints) {
		t.Fatalf("Expected NoEndpointsError, got %v", err)
	}
	if noEndpoints.Module != "llm" {
		t.Errorf("Expected module name in error, got %q", noEndpoints.Module)
	}
}

func TestClientRequiresEndpointsOrDiscovery(t *testing.T) {
	if _, err := New(&Config{ModuleName: "llm"}, nil, zap.NewNop()); err == nil {
		t.Error("Expected error when neither endpoints nor discovery are configured")
	}
	if _, err := New(&Config{}, nil, zap.NewNop()); err == nil {
		t.Error("Expected error for missing module name")
	}
}
