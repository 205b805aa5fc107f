// Package adminapi is the REST client for the admin user collection.
//
// Every call runs through one attempt loop: a per-attempt timeout, retries
// only for transport failures (network, timeout), attempt × step delay
// between tries, and classification of every failure into a FetchError.
// Server-validated errors are never retried.
package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/adminsync/internal/clock"
	"github.com/roach88/adminsync/internal/ids"
	"github.com/roach88/adminsync/internal/metrics"
	"github.com/roach88/adminsync/internal/query"
	"github.com/roach88/adminsync/internal/session"
)

// Defaults for NewClient.
const (
	DefaultCollectionPath = "/api/admin/users"
	DefaultStatsPath      = "/api/admin/stats"
	DefaultHealthPath     = "/health"
	DefaultServiceHeader  = "X-Admin-Key"
	DefaultTimeout        = 10 * time.Second
	DefaultMaxAttempts    = 3
	DefaultRetryStep      = time.Second

	maxBodyBytes = 8 << 20
)

// Gate is consulted before every call. A closed gate fails the call with
// KindServiceUnavailable and no network attempt.
type Gate interface {
	Allow() bool
}

// Sleeper waits between attempts. It must return early with ctx.Err() when
// ctx ends.
type Sleeper func(ctx context.Context, d time.Duration) error

// Client talks to the admin REST API.
//
// Thread-safety: a Client is safe for concurrent use.
type Client struct {
	baseURL        string
	collectionPath string
	statsPath      string
	healthPath     string
	serviceHeader  string

	creds       session.Credentials
	httpClient  *http.Client
	timeout     time.Duration
	maxAttempts int
	retryStep   time.Duration
	sleep       Sleeper
	gate        Gate
	ids         ids.Generator
	clock       clock.Clock
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	propagator  propagation.TextMapPropagator
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPaths overrides the collection, stats and health paths. Empty values keep the default.
func WithPaths(collection, stats, health string) Option {
	return func(c *Client) {
		if collection != "" {
			c.collectionPath = collection
		}
		if stats != "" {
			c.statsPath = stats
		}
		if health != "" {
			c.healthPath = health
		}
	}
}

// WithServiceHeader sets the header carrying the admin-service key.
func WithServiceHeader(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.serviceHeader = name
		}
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRetry sets the attempt bound (initial attempt included) and the delay step.
func WithRetry(maxAttempts int, step time.Duration) Option {
	return func(c *Client) {
		c.maxAttempts = maxAttempts
		c.retryStep = step
	}
}

// WithSleeper replaces the inter-attempt wait.
func WithSleeper(s Sleeper) Option {
	return func(c *Client) { c.sleep = s }
}

// WithGate installs the health gate.
func WithGate(g Gate) Option {
	return func(c *Client) { c.gate = g }
}

// WithIDGenerator sets the correlation id source.
func WithIDGenerator(g ids.Generator) Option {
	return func(c *Client) { c.ids = g }
}

// WithClock sets the clock used for FetchedAt stamps and default waits.
func WithClock(cl clock.Clock) Option {
	return func(c *Client) { c.clock = cl }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics sets the Prometheus instruments.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTracer sets the OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// WithPropagator sets the propagator that writes trace context into request
// headers. Defaults to the global propagator.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(c *Client) { c.propagator = p }
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, creds session.Credentials, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		collectionPath: DefaultCollectionPath,
		statsPath:      DefaultStatsPath,
		healthPath:     DefaultHealthPath,
		serviceHeader:  DefaultServiceHeader,
		creds:          creds,
		httpClient:     &http.Client{},
		timeout:        DefaultTimeout,
		maxAttempts:    DefaultMaxAttempts,
		retryStep:      DefaultRetryStep,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.creds == nil {
		c.creds = session.NewStatic("", "")
	}
	c.clock = clock.OrReal(c.clock)
	c.ids = ids.OrUUIDv7(c.ids)
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer("github.com/roach88/adminsync/internal/adminapi")
	}
	if c.propagator == nil {
		c.propagator = otel.GetTextMapPropagator()
	}
	if c.sleep == nil {
		cl := c.clock
		c.sleep = func(ctx context.Context, d time.Duration) error { return clock.Sleep(ctx, cl, d) }
	}
	return c
}

// Fetch returns the page of the collection selected by q.
func (c *Client) Fetch(ctx context.Context, q query.Params) (FetchResult, error) {
	issued := c.clock.Now()
	path := c.collectionPath + "?" + q.Values().Encode()

	var env ListEnvelope
	if err := c.call(ctx, "fetch", http.MethodGet, path, nil, &env, true); err != nil {
		return FetchResult{}, err
	}

	pages := env.Data.Pagination.TotalPages
	total := env.Data.Pagination.Total
	if pages == 0 && total > 0 && q.PageSize > 0 {
		pages = int(math.Ceil(float64(total) / float64(q.PageSize)))
	}
	records := env.Data.Records
	if records == nil {
		records = []Record{}
	}
	return FetchResult{
		Records:    records,
		TotalCount: total,
		TotalPages: pages,
		FetchedAt:  issued,
		ForQuery:   q.Clone(),
	}, nil
}

// FetchStats returns the dashboard summary.
func (c *Client) FetchStats(ctx context.Context) (Stats, error) {
	issued := c.clock.Now()
	var env StatsEnvelope
	if err := c.call(ctx, "stats", http.MethodGet, c.statsPath, nil, &env, true); err != nil {
		return Stats{}, err
	}
	out := env.Data
	out.FetchedAt = issued
	return out, nil
}

// Bulk applies action to ids with a single request. Bulk requests change
// server state and are not retried.
func (c *Client) Bulk(ctx context.Context, action BulkAction, ids []string) (BulkResult, error) {
	if !action.Valid() {
		return BulkResult{}, NewValidationError("unknown bulk action %q", action)
	}
	if len(ids) == 0 {
		return BulkResult{}, NewValidationError("bulk %s: no target ids", action)
	}

	var env BulkEnvelope
	path := c.collectionPath + "/" + action.Endpoint()
	if err := c.call(ctx, "bulk_"+string(action), http.MethodPost, path, BulkRequest{IDs: ids}, &env, false); err != nil {
		return BulkResult{}, err
	}
	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = "bulk request reported failure"
		}
		return BulkResult{}, &FetchError{Kind: KindServerError, Status: http.StatusOK, Message: msg, Attempts: 1}
	}
	return env.Data, nil
}

// Probe checks the liveness endpoint once. Any non-200 status or transport
// failure is an error. The health gate is not consulted.
func (c *Client) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.healthPath, nil)
	if err != nil {
		return &FetchError{Kind: KindNetwork, Message: "build request", Err: err}
	}
	req.Header.Set("X-Correlation-Id", c.ids.Generate())
	if tok, err := c.creds.Bearer(); err == nil {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.Attempt("probe", string(classifyTransport(ctx, err)))
		return &FetchError{Kind: classifyTransport(ctx, err), Message: "health probe failed", Err: err, Attempts: 1}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.metrics.Attempt("probe", string(KindServerError))
		return &FetchError{Kind: KindServerError, Status: resp.StatusCode, Message: "health probe failed", Attempts: 1}
	}
	c.metrics.Attempt("probe", "ok")
	return nil
}

// call runs the attempt loop for one logical request and decodes a 2xx body
// into out.
func (c *Client) call(ctx context.Context, op, method, path string, body, out any, retry bool) error {
	if c.gate != nil && !c.gate.Allow() {
		c.metrics.Attempt(op, string(KindServiceUnavailable))
		return NewServiceUnavailable()
	}

	bearer, err := c.creds.Bearer()
	if err != nil {
		return &FetchError{Kind: KindUnauthorized, Message: "bearer credential unavailable", Err: err}
	}
	key, err := c.creds.ServiceKey()
	if err != nil {
		return &FetchError{Kind: KindUnauthorized, Message: "service credential unavailable", Err: err}
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return &FetchError{Kind: KindValidation, Message: "encode request body", Err: err}
		}
	}

	maxAttempts := c.maxAttempts
	if !retry {
		maxAttempts = 1
	}
	started := c.clock.Now()
	defer func() { c.metrics.RequestDuration(op, c.clock.Now().Sub(started).Seconds()) }()

	a := newAttempt(maxAttempts, c.retryStep)
	for {
		respBody, ferr := c.once(ctx, op, method, path, payload, bearer, key, a.n)
		switch a.record(ferr) {
		case succeeded:
			if out == nil || len(respBody) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return &FetchError{Kind: KindServerError, Status: http.StatusOK, Message: "malformed response body", Err: err, Attempts: a.n}
			}
			return nil

		case failed:
			return a.failure()

		case retrying:
			if ctx.Err() != nil {
				return a.failure()
			}
			c.logger.Debug("retrying request",
				"operation", op,
				"attempt", a.n,
				"kind", ferr.Kind,
				"delay", a.delay())
			if err := c.sleep(ctx, a.delay()); err != nil {
				return a.failure()
			}
			a.next()
		}
	}
}

// once performs a single attempt.
func (c *Client) once(ctx context.Context, op, method, path string, payload []byte, bearer, key string, n int) ([]byte, *FetchError) {
	ctx, span := c.tracer.Start(ctx, "adminapi."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", path),
			attribute.Int("attempt", n),
		))
	defer span.End()

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, c.baseURL+path, bodyReader)
	if err != nil {
		ferr := &FetchError{Kind: KindNetwork, Message: "build request", Err: err}
		c.finishSpan(span, op, ferr)
		return nil, ferr
	}
	correlationID := c.ids.Generate()
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set(c.serviceHeader, key)
	req.Header.Set("X-Correlation-Id", correlationID)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.propagator.Inject(attemptCtx, propagation.HeaderCarrier(req.Header))
	span.SetAttributes(attribute.String("correlation_id", correlationID))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		kind := classifyTransport(attemptCtx, err)
		ferr := &FetchError{Kind: kind, Message: transportMessage(kind), Err: err}
		c.finishSpan(span, op, ferr)
		return nil, ferr
	}
	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	_ = resp.Body.Close()
	if readErr != nil {
		kind := classifyTransport(attemptCtx, readErr)
		ferr := &FetchError{Kind: kind, Message: "read response body", Err: readErr}
		c.finishSpan(span, op, ferr)
		return nil, ferr
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		c.finishSpan(span, op, nil)
		return respBody, nil
	}

	ferr := &FetchError{Status: resp.StatusCode, Message: errorMessage(resp.StatusCode, respBody)}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		ferr.Kind = KindUnauthorized
	} else {
		ferr.Kind = KindServerError
	}
	c.logger.Debug("request rejected",
		"operation", op,
		"status", resp.StatusCode,
		"correlation_id", correlationID)
	c.finishSpan(span, op, ferr)
	return nil, ferr
}

func (c *Client) finishSpan(span trace.Span, op string, ferr *FetchError) {
	if ferr == nil {
		c.metrics.Attempt(op, "ok")
		return
	}
	c.metrics.Attempt(op, string(ferr.Kind))
	span.RecordError(ferr)
	span.SetStatus(codes.Error, string(ferr.Kind))
}

// classifyTransport maps a transport failure to network or timeout.
func classifyTransport(ctx context.Context, err error) Kind {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}

func transportMessage(k Kind) string {
	if k == KindTimeout {
		return "request timed out"
	}
	return "no response from server"
}

func errorMessage(status int, body []byte) string {
	var env ErrorEnvelope
	if err := json.Unmarshal(body, &env); err == nil {
		if env.Message != "" {
			return env.Message
		}
		if env.Error != "" {
			return env.Error
		}
	}
	if text := http.StatusText(status); text != "" {
		return strings.ToLower(text)
	}
	return fmt.Sprintf("status %d", status)
}
