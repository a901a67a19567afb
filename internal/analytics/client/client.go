// Package client is the single point of contact with the analytics service.
// It hides transport, bearer-token injection and query-string construction
// from callers, and fans the six section fetches out concurrently.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pabbly/hookdash/internal/analytics"
	"github.com/pabbly/hookdash/internal/credentials"
	apperrors "github.com/pabbly/hookdash/pkg/errors"
	"github.com/pabbly/hookdash/pkg/logger"
	"github.com/pabbly/hookdash/pkg/metrics"
	"github.com/pabbly/hookdash/pkg/resilience"
	"github.com/pabbly/hookdash/pkg/tracing"
)

// DefaultBaseURL is used when Config.BaseURL is empty.
const DefaultBaseURL = "http://localhost:5000/api/analytics"

const maxErrorBody = 1 << 20

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Endpoint   string
	Message    string
	Body       map[string]any
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Unwrap() error {
	return apperrors.ErrUpstream
}

// HTTPStatus maps the upstream status onto the status the dashboard API
// answers with: client errors pass through, everything else is a bad gateway.
func (e *APIError) HTTPStatus() int {
	if e.StatusCode >= 400 && e.StatusCode < 500 {
		return e.StatusCode
	}
	return http.StatusBadGateway
}

// Config holds the client's connection settings.
type Config struct {
	BaseURL string
	// Timeout bounds each request attempt. Zero means no timeout.
	Timeout time.Duration
	// Retry defaults to a single attempt.
	Retry resilience.RetryConfig
}

// Client talks to the analytics service. It is safe for concurrent use.
type Client struct {
	baseURL string
	timeout time.Duration
	retry   resilience.RetryConfig
	http    *http.Client
	tokens  credentials.Provider
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	tracing bool
	logger  *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTokenProvider sets where bearer tokens come from. The provider is
// called on every request.
func WithTokenProvider(p credentials.Provider) Option {
	return func(c *Client) { c.tokens = p }
}

// WithCircuitBreaker puts a breaker in front of the analytics service. Only
// upstream failures (5xx, 429, transport errors) count towards opening it
// unless cfg.Trips says otherwise.
func WithCircuitBreaker(name string, cfg resilience.CircuitBreakerConfig) Option {
	if cfg.Trips == nil {
		cfg.Trips = isRetryable
	}
	return func(c *Client) { c.breaker = resilience.NewCircuitBreaker(name, cfg) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTracing logs a span tree for every GetAllAnalytics call.
func WithTracing(enabled bool) Option {
	return func(c *Client) { c.tracing = enabled }
}

// New creates a Client.
func New(cfg Config, opts ...Option) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	retry := cfg.Retry
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	if retry.Retryable == nil {
		retry.Retryable = isRetryable
	}
	c := &Client{
		baseURL: base,
		timeout: cfg.Timeout,
		retry:   retry,
		http:    &http.Client{},
		tokens:  credentials.None(),
		logger:  logger.WithComponent("analytics-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the normalised base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Token resolves the bearer token the next request would carry.
func (c *Client) Token(ctx context.Context) (string, error) {
	token, err := c.tokens(ctx)
	if err != nil {
		return "", fmt.Errorf("reading auth token: %w", err)
	}
	return token, nil
}

// Breaker returns the circuit breaker, or nil when none is configured.
func (c *Client) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}

// RequestOptions overrides parts of a request. Method defaults to GET. Body,
// when set, is JSON encoded.
type RequestOptions struct {
	Method string
	Header http.Header
	Body   any
}

// MakeRequest sends a request to baseURL+endpoint and decodes the JSON
// response into out (which may be nil). Non-2xx responses yield *APIError.
func (c *Client) MakeRequest(ctx context.Context, endpoint string, opts RequestOptions, out any) error {
	if tracing.FromContext(ctx) != nil {
		var span *tracing.Span
		ctx, span = tracing.Start(ctx, endpointName(endpoint))
		err := c.makeRequest(ctx, endpoint, opts, out)
		span.Finish(err)
		return err
	}
	return c.makeRequest(ctx, endpoint, opts, out)
}

func (c *Client) makeRequest(ctx context.Context, endpoint string, opts RequestOptions, out any) error {
	attempt := func() error {
		return c.do(ctx, endpoint, opts, out)
	}
	if c.breaker != nil {
		guarded := attempt
		attempt = func() error {
			err := c.breaker.Execute(guarded)
			if errors.Is(err, resilience.ErrCircuitOpen) {
				return fmt.Errorf("%w: %w", apperrors.ErrUnavailable, err)
			}
			return err
		}
	}
	return resilience.Retry(ctx, endpointName(endpoint), c.retry, attempt)
}

func (c *Client) do(ctx context.Context, endpoint string, opts RequestOptions, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if opts.Body != nil {
		data, err := json.Marshal(opts.Body)
		if err != nil {
			return fmt.Errorf("encoding request body for %s: %w", endpoint, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("building request for %s: %w", endpoint, err)
	}

	token, err := c.Token(ctx)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, vs := range opts.Header {
		if http.CanonicalHeaderKey(k) == "Content-Type" {
			continue
		}
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	if id := logger.RequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(endpoint, "error", start)
		return fmt.Errorf("requesting %s: %w: %w", endpoint, apperrors.ErrUpstream, err)
	}
	defer resp.Body.Close()
	c.observe(endpoint, strconv.Itoa(resp.StatusCode), start)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := newAPIError(endpoint, resp)
		c.logger.Debug("analytics request failed",
			"request_id", logger.RequestID(ctx),
			"endpoint", endpoint,
			"status", resp.StatusCode,
			"error", apiErr.Message,
		)
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w: %w", endpoint, apperrors.ErrInvalidFormat, err)
	}
	return nil
}

// newAPIError builds the error for a non-2xx response. An unparseable body is
// treated as an empty object.
func newAPIError(endpoint string, resp *http.Response) *APIError {
	payload := map[string]any{}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err == nil {
		if jsonErr := json.Unmarshal(data, &payload); jsonErr != nil || payload == nil {
			payload = map[string]any{}
		}
	}
	msg, _ := payload["error"].(string)
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, statusText(resp))
	}
	return &APIError{
		StatusCode: resp.StatusCode,
		Endpoint:   endpoint,
		Message:    msg,
		Body:       payload,
	}
}

func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}

func (c *Client) observe(endpoint, status string, start time.Time) {
	if c.metrics == nil {
		return
	}
	name := endpointName(endpoint)
	c.metrics.UpstreamRequestsTotal.WithLabelValues(name, status).Inc()
	c.metrics.UpstreamRequestDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
}

// endpointName strips the query string so metric labels stay bounded.
func endpointName(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		endpoint = endpoint[:i]
	}
	return endpoint
}

// isRetryable reports whether another attempt could succeed: transport
// failures and 5xx answers, but not cancellations or client errors.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	if errors.Is(err, apperrors.ErrInvalidFormat) {
		return false
	}
	return errors.Is(err, apperrors.ErrUpstream)
}

func fetch[T any](ctx context.Context, c *Client, section string, f analytics.Filters) (T, error) {
	var env analytics.Envelope[T]
	if err := c.MakeRequest(ctx, "/"+section+"?"+analytics.BuildQueryString(f), RequestOptions{}, &env); err != nil {
		var zero T
		return zero, err
	}
	return env.Data, nil
}

func (c *Client) GetSummary(ctx context.Context, f analytics.Filters) (analytics.Summary, error) {
	return fetch[analytics.Summary](ctx, c, analytics.SectionSummary, f)
}

func (c *Client) GetMRR(ctx context.Context, f analytics.Filters) ([]analytics.MRRPoint, error) {
	return fetch[[]analytics.MRRPoint](ctx, c, analytics.SectionMRR, f)
}

func (c *Client) GetChurn(ctx context.Context, f analytics.Filters) (analytics.Churn, error) {
	return fetch[analytics.Churn](ctx, c, analytics.SectionChurn, f)
}

func (c *Client) GetPlans(ctx context.Context, f analytics.Filters) ([]analytics.PlanMetric, error) {
	return fetch[[]analytics.PlanMetric](ctx, c, analytics.SectionPlans, f)
}

func (c *Client) GetProducts(ctx context.Context, f analytics.Filters) ([]analytics.ProductMetric, error) {
	return fetch[[]analytics.ProductMetric](ctx, c, analytics.SectionProducts, f)
}

func (c *Client) GetCustomers(ctx context.Context, f analytics.Filters) ([]analytics.Customer, error) {
	return fetch[[]analytics.Customer](ctx, c, analytics.SectionCustomers, f)
}

// GetSection fetches one section's raw envelope, undecoded.
func (c *Client) GetSection(ctx context.Context, section string, f analytics.Filters) (map[string]any, error) {
	if !analytics.IsSection(section) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, http.StatusNotFound, "unknown analytics section %q", section)
	}
	var raw map[string]any
	if err := c.MakeRequest(ctx, "/"+section+"?"+analytics.BuildQueryString(f), RequestOptions{}, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// GetAllAnalytics fetches all six sections concurrently. It succeeds only if
// every fetch succeeds; the first failure cancels the others and is returned
// as is. There is no partial result.
func (c *Client) GetAllAnalytics(ctx context.Context, f analytics.Filters) (*analytics.Result, error) {
	var root *tracing.Span
	if c.tracing {
		ctx, root = tracing.Start(ctx, "analytics.all")
		root.Set("query", analytics.BuildQueryString(f))
	}
	start := time.Now()

	var res analytics.Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		res.Summary, err = c.GetSummary(gctx, f)
		return err
	})
	g.Go(func() (err error) {
		res.MRR, err = c.GetMRR(gctx, f)
		return err
	})
	g.Go(func() (err error) {
		res.Churn, err = c.GetChurn(gctx, f)
		return err
	})
	g.Go(func() (err error) {
		res.Plans, err = c.GetPlans(gctx, f)
		return err
	})
	g.Go(func() (err error) {
		res.Products, err = c.GetProducts(gctx, f)
		return err
	})
	g.Go(func() (err error) {
		res.Customers, err = c.GetCustomers(gctx, f)
		return err
	})
	err := g.Wait()
	if root != nil {
		root.Finish(err)
		root.Log(ctx)
	}
	if err != nil {
		c.recordAggregate("error", start)
		return nil, err
	}
	c.recordAggregate("ok", start)

	res.Filters = f
	res.GeneratedAt = time.Now().UTC()
	return &res, nil
}

func (c *Client) recordAggregate(outcome string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.AnalyticsFetchesTotal.WithLabelValues(outcome).Inc()
	c.metrics.AnalyticsFetchLatency.Observe(time.Since(start).Seconds())
}

// HealthCheck GETs the service's /health endpoint and returns its body.
func (c *Client) HealthCheck(ctx context.Context) (map[string]any, error) {
	var body map[string]any
	if err := c.MakeRequest(ctx, "/health", RequestOptions{}, &body); err != nil {
		return nil, err
	}
	return body, nil
}
