// Package feed pulls newly raised alerts into the alert store, either by
// polling the create-alert endpoint for the current tenant or by consuming
// alert.created events from Kafka.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quantumlayerhq/ql-threatwatch/pkg/config"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/logger"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/metrics"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/models"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/resilience"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/telemetry"
)

// DefaultInterval is the time between polls.
const DefaultInterval = 10 * time.Second

// State is the polling state of a Consumer.
type State int

const (
	StateIdle State = iota
	StatePolling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	default:
		return "unknown"
	}
}

// StatusError is returned for a non-200 response from the endpoint.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error! status: %d", e.Code)
}

// ClientError reports a 4xx response. Those are answers about the tenant,
// not about the endpoint's health, so they never trip the breaker.
func (e *StatusError) ClientError() bool {
	return e.Code >= 400 && e.Code < 500
}

// Sink receives fetched alerts. *alertstore.Store implements it.
type Sink interface {
	AddAlert(alert models.Alert) bool
}

// Stats counts poll outcomes since the consumer was created.
type Stats struct {
	Polls    int64
	Received int64
	Failures int64
	Skipped  int64
}

// Consumer polls the create-alert endpoint for the selected tenant.
type Consumer struct {
	endpoint   string
	interval   time.Duration
	timeout    time.Duration
	httpClient *http.Client
	breaker    *resilience.Breaker
	metrics    *metrics.Metrics
	sink       Sink
	log        *logger.Logger

	mu       sync.Mutex
	tenantID string
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	polls    atomic.Int64
	received atomic.Int64
	failures atomic.Int64
	skipped  atomic.Int64
}

// NewConsumer creates an idle consumer delivering alerts to sink.
func NewConsumer(cfg config.FeedConfig, sink Sink, log *logger.Logger) *Consumer {
	if log == nil {
		log = logger.Nop()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Consumer{
		endpoint:   cfg.Endpoint,
		interval:   interval,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		sink:       sink,
		log:        log.WithComponent("feed-consumer"),
	}
}

// WithBreaker routes every fetch through b.
func (c *Consumer) WithBreaker(b *resilience.Breaker) *Consumer {
	c.breaker = b
	return c
}

// WithMetrics records poll outcomes on m.
func (c *Consumer) WithMetrics(m *metrics.Metrics) *Consumer {
	c.metrics = m
	return c
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Consumer) WithHTTPClient(hc *http.Client) *Consumer {
	c.httpClient = hc
	return c
}

// SetTenant restarts polling for tenantID: any running loop is stopped, one
// fetch happens immediately and then one every interval. An empty tenantID
// leaves the consumer idle. Switching to another tenant closes the breaker so
// the first fetch for it is always sent.
func (c *Consumer) SetTenant(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
	if tenantID != c.tenantID && c.breaker != nil {
		c.breaker.Reset()
	}
	c.tenantID = tenantID

	if tenantID == "" {
		c.log.Info("no tenant selected, not polling for alerts")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.log.Info("starting alert polling", "tenant_id", tenantID, "interval", c.interval.String())
	c.wg.Add(1)
	go c.pollLoop(ctx, tenantID)
}

// ScopeChanged restarts polling when the tenant changes. Project changes do
// not affect the feed.
func (c *Consumer) ScopeChanged(prev, next models.Scope) {
	if prev.TenantID() == next.TenantID() {
		return
	}
	c.SetTenant(next.TenantID())
}

// Stop stops polling and waits for the loop to exit.
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.tenantID = ""
}

func (c *Consumer) stopLocked() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.cancel = nil
	c.wg.Wait()
	c.log.Debug("alert polling stopped", "tenant_id", c.tenantID)
}

// State reports whether a polling loop is running.
func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return StatePolling
	}
	return StateIdle
}

// TenantID returns the tenant being polled, or "".
func (c *Consumer) TenantID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tenantID
}

// Stats returns poll counters.
func (c *Consumer) Stats() Stats {
	return Stats{
		Polls:    c.polls.Load(),
		Received: c.received.Load(),
		Failures: c.failures.Load(),
		Skipped:  c.skipped.Load(),
	}
}

func (c *Consumer) pollLoop(ctx context.Context, tenantID string) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.poll(ctx, tenantID)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.poll(ctx, tenantID)
		}
	}
}

// poll performs one fetch. Failures are logged and polling carries on.
func (c *Consumer) poll(ctx context.Context, tenantID string) {
	c.polls.Add(1)
	start := time.Now()

	alert, ok, err := c.Fetch(ctx, tenantID)
	switch {
	case err != nil && ctx.Err() != nil:
		return
	case resilience.IsOpen(err):
		c.skipped.Add(1)
		c.metrics.ObservePoll(metrics.PollSkipped, 0)
		c.log.Debug("alert feed circuit open, skipping poll", "tenant_id", tenantID)
		return
	case err != nil:
		c.failures.Add(1)
		c.metrics.ObservePoll(metrics.PollFailed, time.Since(start))
		c.log.Error("error polling for alerts", "tenant_id", tenantID, "error", err)
		return
	case !ok:
		c.metrics.ObservePoll(metrics.PollEmpty, time.Since(start))
		return
	}

	if !c.sink.AddAlert(alert) {
		c.metrics.ObservePoll(metrics.PollDuplicate, time.Since(start))
		return
	}
	c.received.Add(1)
	c.metrics.ObservePoll(metrics.PollReceived, time.Since(start))
	c.metrics.ObserveIngest("feed", string(alert.Severity))
}

// Fetch asks the endpoint for one new alert for tenantID. ok is false when
// the endpoint answered with null.
func (c *Consumer) Fetch(ctx context.Context, tenantID string) (alert models.Alert, ok bool, err error) {
	ctx, span := telemetry.FeedFetchSpan(ctx, c.endpoint, tenantID)
	defer span.End()

	call := func(ctx context.Context) error {
		alert, ok, err = c.fetch(ctx, tenantID)
		return err
	}
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}

	if err != nil {
		span.SetError(err)
		return models.Alert{}, false, err
	}
	span.SetOK()
	return alert, ok, nil
}

type fetchRequest struct {
	TenantID string `json:"tenantId"`
}

func (c *Consumer) fetch(ctx context.Context, tenantID string) (models.Alert, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(fetchRequest{TenantID: tenantID})
	if err != nil {
		return models.Alert{}, false, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return models.Alert{}, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	telemetry.InjectHTTPHeaders(ctx, req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Alert{}, false, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Alert{}, false, &StatusError{Code: resp.StatusCode}
	}

	var alert *models.Alert
	if err := json.NewDecoder(resp.Body).Decode(&alert); err != nil {
		return models.Alert{}, false, fmt.Errorf("failed to decode alert: %w", err)
	}
	if alert == nil {
		return models.Alert{}, false, nil
	}
	return *alert, true, nil
}
