// Package assistant streams security-analyst responses from the chat endpoint
// and delivers them as incremental text tokens.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/quantumlayerhq/ql-threatwatch/pkg/config"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/logger"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/metrics"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/models"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/resilience"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/telemetry"
)

// ErrorMessage is the only error text surfaced to users, whatever went wrong.
const ErrorMessage = "AI service temporarily unavailable. Please try again later."

// DefaultHistoryLimit is how many prior messages accompany a query.
const DefaultHistoryLimit = config.MaxHistoryLimit

const readBufferSize = 4096

// ErrNoBody is returned when a successful response carries no body to stream.
var ErrNoBody = errors.New("no response body")

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error: %d", e.Code)
}

// ClientError reports a 4xx response, which the breaker does not count.
func (e *StatusError) ClientError() bool {
	return e.Code >= 400 && e.Code < 500
}

// Request is the JSON body sent to the chat endpoint.
type Request struct {
	Query               string           `json:"query"`
	Alerts              []models.Alert   `json:"alerts"`
	ConversationHistory []models.Message `json:"conversationHistory"`
}

// Client talks to the token-streaming chat endpoint. A Client holds no
// per-call state, so concurrent streams are independent.
type Client struct {
	endpoint     string
	historyLimit int
	httpClient   *http.Client
	breaker      *resilience.Breaker
	metrics      *metrics.Metrics
	log          *logger.Logger
}

// NewClient creates a client for the configured endpoint.
func NewClient(cfg config.AssistantConfig, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}

	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 || historyLimit > config.MaxHistoryLimit {
		historyLimit = DefaultHistoryLimit
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	return &Client{
		endpoint:     cfg.Endpoint,
		historyLimit: historyLimit,
		httpClient:   &http.Client{Timeout: timeout},
		log:          log.WithComponent("assistant-client"),
	}
}

// WithBreaker routes every stream through b.
func (c *Client) WithBreaker(b *resilience.Breaker) *Client {
	c.breaker = b
	return c
}

// WithMetrics records stream outcomes on m.
func (c *Client) WithMetrics(m *metrics.Metrics) *Client {
	c.metrics = m
	return c
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Endpoint returns the chat endpoint URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Stream starts a streamed response on its own goroutine. Tokens arrive on
// Tokens() in order; once that channel closes, Err() reports how the stream
// ended. Callers must either drain Tokens() or call Cancel.
func (c *Client) Stream(ctx context.Context, req Request) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		tokens: make(chan string, 16),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	req = c.prepare(req)
	go s.run(ctx, c, req)
	return s
}

// prepare trims the history and replaces nil slices so they encode as [].
func (c *Client) prepare(req Request) Request {
	if req.Alerts == nil {
		req.Alerts = []models.Alert{}
	}
	history := req.ConversationHistory
	if len(history) > c.historyLimit {
		history = history[len(history)-c.historyLimit:]
	}
	if history == nil {
		history = []models.Message{}
	}
	req.ConversationHistory = history
	return req
}

// do performs one request and forwards decoded chunks to emit.
func (c *Client) do(ctx context.Context, req Request, emit func(string) error) (stats streamStats, err error) {
	body, err := json.Marshal(req)
	if err != nil {
		return stats, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return stats, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	telemetry.InjectHTTPHeaders(ctx, httpReq.Header)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return stats, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return stats, &StatusError{Code: resp.StatusCode}
	}
	// Null-body statuses carry nothing to stream. An empty 200 is a valid,
	// empty answer.
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusResetContent {
		return stats, ErrNoBody
	}

	var dec decoder
	buf := make([]byte, readBufferSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			stats.bytes += n
			if chunk := dec.decode(buf[:n]); chunk != "" {
				stats.chunks++
				if err := emit(chunk); err != nil {
					return stats, err
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return stats, fmt.Errorf("failed to read response: %w", readErr)
		}
	}

	if tail := dec.flush(); tail != "" {
		stats.chunks++
		if err := emit(tail); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

type streamStats struct {
	chunks int
	bytes  int
}
