// Package client implements the HTTP client used for module-to-module
// calls. A call runs through three cooperating layers: a load balancer
// picks the endpoint, a per-client circuit breaker guards the module as
// a whole, and a retry policy re-attempts transient failures against
// the chosen endpoint. When the attempt fails the client fails over to
// the next endpoint, up to a bounded number of endpoints per call.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/talkie-project/talkie/internal/circuitbreaker"
	"github.com/talkie-project/talkie/internal/loadbalancer"
	"github.com/talkie-project/talkie/internal/registry"
	"github.com/talkie-project/talkie/internal/retry"
	"github.com/talkie-project/talkie/internal/tracing"
)

const (
	// DefaultTimeout bounds a single HTTP attempt.
	DefaultTimeout = 30 * time.Second

	// DefaultFailoverAttempts is how many distinct endpoints one call
	// may try before giving up.
	DefaultFailoverAttempts = 3

	// DefaultHealthCheckInterval throttles discovery refreshes.
	DefaultHealthCheckInterval = 30 * time.Second

	apiVersion = "1.0"
)

// Config configures a module client.
type Config struct {
	// ModuleName is the logical name of the target module, used for
	// discovery lookups and error reporting.
	ModuleName string `yaml:"module_name"`

	// Endpoints seeds the balancer with static base URLs. Optional when
	// service discovery is enabled.
	Endpoints []string `yaml:"endpoints"`

	// Strategy selects how endpoints are picked. Defaults to
	// round-robin.
	Strategy string `yaml:"strategy"`

	Timeout time.Duration `yaml:"timeout"`

	// Retry tuning for a single endpoint.
	RetryMax   int           `yaml:"retry_max"`
	RetryDelay time.Duration `yaml:"retry_delay"`

	// Circuit breaker tuning, shared by all endpoints of this client.
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`

	// Credentials attached to every request. APIKey wins when both are
	// set.
	APIKey      string `yaml:"api_key"`
	BearerToken string `yaml:"bearer_token"`

	// UseServiceDiscovery refreshes the endpoint set from the registry
	// at most once per HealthCheckInterval.
	UseServiceDiscovery bool          `yaml:"use_service_discovery"`
	DiscoveryTag        string        `yaml:"discovery_tag"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

func (c *Config) withDefaults() *Config {
	out := *c
	if out.Timeout <= 0 {
		out.Timeout = DefaultTimeout
	}
	if out.RetryMax < 0 {
		out.RetryMax = 0
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = time.Second
	}
	if out.FailureThreshold <= 0 {
		out.FailureThreshold = circuitbreaker.DefaultConfig().FailureThreshold
	}
	if out.RecoveryTimeout <= 0 {
		out.RecoveryTimeout = circuitbreaker.DefaultConfig().RecoveryTimeout
	}
	if out.HealthCheckInterval <= 0 {
		out.HealthCheckInterval = DefaultHealthCheckInterval
	}
	return &out
}

// CallOption adjusts a single call.
type CallOption func(*callOptions)

type callOptions struct {
	timeout          time.Duration
	shouldRetry      func(error) bool
	failoverAttempts int
}

// WithTimeout overrides the per-attempt timeout for this call.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// WithShouldRetry overrides the retry predicate for this call.
func WithShouldRetry(fn func(error) bool) CallOption {
	return func(o *callOptions) { o.shouldRetry = fn }
}

// WithMaxFailoverAttempts bounds how many endpoints this call may try.
func WithMaxFailoverAttempts(n int) CallOption {
	return func(o *callOptions) {
		if n > 0 {
			o.failoverAttempts = n
		}
	}
}

// Client calls one target module over HTTP with load balancing,
// circuit breaking, retry and optional discovery-driven endpoints.
type Client struct {
	config   *Config
	http     *http.Client
	balancer *loadbalancer.Balancer
	breaker  *circuitbreaker.Breaker
	retry    *retry.Policy
	registry *registry.Registry
	logger   *zap.Logger

	refreshMu   sync.Mutex
	lastRefresh time.Time
}

// New builds a client. reg may be nil when UseServiceDiscovery is off.
// Construction performs a best-effort health probe against one endpoint
// so misconfiguration surfaces in the logs early; probe failure does
// not fail construction.
func New(config *Config, reg *registry.Registry, logger *zap.Logger) (*Client, error) {
	if config == nil || config.ModuleName == "" {
		return nil, errors.New("client: module name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := config.withDefaults()

	if cfg.UseServiceDiscovery && reg == nil {
		return nil, fmt.Errorf("client: service discovery enabled for %s but no registry provided", cfg.ModuleName)
	}
	if !cfg.UseServiceDiscovery && len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("client: no endpoints configured for %s", cfg.ModuleName)
	}

	// Timeouts are enforced per call through the request context so a
	// WithTimeout above the configured default is honored; a
	// transport-level Timeout would cap every call at cfg.Timeout.
	c := &Client{
		config: cfg,
		http:   &http.Client{},
		balancer: loadbalancer.New(cfg.Endpoints, loadbalancer.ParseStrategy(cfg.Strategy), logger),
		breaker: circuitbreaker.New(cfg.ModuleName, &circuitbreaker.Config{
			FailureThreshold: cfg.FailureThreshold,
			RecoveryTimeout:  cfg.RecoveryTimeout,
		}, logger),
		retry: retry.New(&retry.Config{
			MaxRetries:   cfg.RetryMax,
			InitialDelay: cfg.RetryDelay,
			MaxDelay:     retry.DefaultConfig().MaxDelay,
			Multiplier:   retry.DefaultConfig().Multiplier,
		}, logger),
		registry: reg,
		logger:   logger.With(zap.String("module", cfg.ModuleName)),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if cfg.UseServiceDiscovery {
		c.refreshEndpoints(ctx, true)
	}
	c.probeHealth(ctx)

	return c, nil
}

// probeHealth checks one endpoint's /health so a dead target is visible
// at startup. It reads the endpoint list directly so the probe does not
// advance the balancer's rotation.
func (c *Client) probeHealth(ctx context.Context) {
	endpoints := c.balancer.Endpoints()
	if len(endpoints) == 0 {
		c.logger.Warn("no endpoints available at construction")
		return
	}
	endpoint := endpoints[0]
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/health", nil)
	if err != nil {
		return
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.balancer.MarkUnhealthy(endpoint)
		c.logger.Warn("initial health check failed",
			zap.String("endpoint", endpoint),
			zap.Error(err))
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		c.balancer.MarkUnhealthy(endpoint)
		c.logger.Warn("initial health check returned non-OK status",
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode))
	}
}

// refreshEndpoints replaces the balancer's endpoint set from the
// registry. Unless force is set, refreshes are throttled to one per
// HealthCheckInterval; concurrent callers collapse onto a single
// lookup.
func (c *Client) refreshEndpoints(ctx context.Context, force bool) {
	if c.registry == nil {
		return
	}
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	if !force && time.Since(c.lastRefresh) < c.config.HealthCheckInterval {
		return
	}

	urls, err := c.registry.HealthyServiceURLs(ctx, c.config.ModuleName, c.config.DiscoveryTag, "http")
	if err != nil {
		c.logger.Warn("service discovery refresh failed", zap.Error(err))
		return
	}
	c.lastRefresh = time.Now()
	if len(urls) == 0 {
		// Keep whatever we had; an empty set would make every call fail
		// even if the old endpoints still answer.
		c.logger.Warn("service discovery returned no healthy instances")
		return
	}
	c.balancer.UpdateEndpoints(urls)
	c.logger.Debug("refreshed endpoints from discovery", zap.Int("count", len(urls)))
}

// Do performs one call against the module. The returned map is the
// decoded JSON response body; an empty body decodes to nil.
func (c *Client) Do(ctx context.Context, method, path string, body interface{}, opts ...CallOption) (map[string]interface{}, error) {
	options := &callOptions{
		timeout:          c.config.Timeout,
		shouldRetry:      defaultShouldRetry,
		failoverAttempts: DefaultFailoverAttempts,
	}
	for _, opt := range opts {
		opt(options)
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	if c.config.UseServiceDiscovery {
		c.refreshEndpoints(ctx, false)
	}

	// Request ID is generated once so every retry and failover attempt
	// of this call correlates in the target's logs.
	requestID := uuid.NewString()

	var lastErr error
	for attempt := 0; attempt < options.failoverAttempts; attempt++ {
		endpoint, err := c.balancer.Select()
		if err != nil {
			if c.config.UseServiceDiscovery {
				c.refreshEndpoints(ctx, true)
				endpoint, err = c.balancer.Select()
			}
			if err != nil {
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, &NoEndpointsError{Module: c.config.ModuleName}
			}
		}

		c.balancer.IncrementConnections(endpoint)
		result, err := c.callEndpoint(ctx, endpoint, method, path, payload, requestID, options)
		c.balancer.DecrementConnections(endpoint)
		if err == nil {
			return result, nil
		}
		lastErr = err

		// The breaker is shared across endpoints, so once it opens the
		// remaining failover attempts would fail fast too.
		var open *circuitbreaker.OpenError
		if errors.As(err, &open) {
			return nil, err
		}
		c.balancer.MarkUnhealthy(endpoint)

		c.logger.Warn("endpoint attempt failed, failing over",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return nil, lastErr
}

// callEndpoint runs the breaker-wrapped, retried HTTP exchange against
// one endpoint. The retry policy sits inside the breaker so an
// exhausted retry run counts as a single breaker failure.
func (c *Client) callEndpoint(ctx context.Context, endpoint, method, path string, payload []byte, requestID string, options *callOptions) (map[string]interface{}, error) {
	var result map[string]interface{}
	err := c.breaker.Do(func() error {
		return c.retry.ExecuteIf(func() error {
			out, err := c.httpCall(ctx, endpoint, method, path, payload, requestID, options.timeout)
			if err != nil {
				return err
			}
			result = out
			return nil
		}, options.shouldRetry)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) httpCall(ctx context.Context, endpoint, method, path string, payload []byte, requestID string, timeout time.Duration) (map[string]interface{}, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := strings.TrimRight(endpoint, "/") + path
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(callCtx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Version", apiVersion)
	req.Header.Set("X-Request-ID", requestID)
	switch {
	case c.config.APIKey != "":
		req.Header.Set("X-API-Key", c.config.APIKey)
	case c.config.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.config.BearerToken)
	}
	tracing.InjectHeaders(callCtx, req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		c.balancer.MarkUnhealthy(endpoint)
		return nil, fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.balancer.MarkUnhealthy(endpoint)
		return nil, fmt.Errorf("failed to read response from %s: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{
			Module:     c.config.ModuleName,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
		}
		var envelope struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &envelope) == nil {
			apiErr.Code = envelope.Error
			apiErr.Message = envelope.Message
		}
		if apiErr.Retryable() {
			c.balancer.MarkUnhealthy(endpoint)
		}
		return nil, apiErr
	}

	c.balancer.MarkHealthy(endpoint)
	if len(raw) == 0 {
		return nil, nil
	}
	var result map[string]interface{}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response from %s: %w", endpoint, err)
	}
	return result, nil
}

// defaultShouldRetry retries network failures and transient server
// statuses; other API errors return immediately.
func defaultShouldRetry(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return true
}

// Get issues a GET call.
func (c *Client) Get(ctx context.Context, path string, opts ...CallOption) (map[string]interface{}, error) {
	return c.Do(ctx, http.MethodGet, path, nil, opts...)
}

// Post issues a POST call with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body interface{}, opts ...CallOption) (map[string]interface{}, error) {
	return c.Do(ctx, http.MethodPost, path, body, opts...)
}

// Endpoints returns the current endpoint set.
func (c *Client) Endpoints() []string {
	return c.balancer.Endpoints()
}

// BreakerState exposes the breaker state for health reporting.
func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.State()
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}
