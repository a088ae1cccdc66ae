package assistant

import (
	"context"
	"errors"
	"time"

	"github.com/quantumlayerhq/ql-threatwatch/pkg/metrics"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/models"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/resilience"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/telemetry"
)

// Stream is one in-flight assistant response.
type Stream struct {
	tokens chan string
	done   chan struct{}
	cancel context.CancelFunc
	err    error
}

// Tokens yields decoded, non-empty text chunks in arrival order. The channel
// is closed when the stream ends for any reason.
func (s *Stream) Tokens() <-chan string {
	return s.tokens
}

// Err blocks until the stream has ended and reports why: nil on a clean end
// of body, otherwise the transport, status, read or cancellation error.
func (s *Stream) Err() error {
	<-s.done
	return s.err
}

// Cancel aborts the stream. Tokens already buffered may still be read; Err
// reports context.Canceled unless the stream had already finished.
func (s *Stream) Cancel() {
	s.cancel()
}

// Done is closed once the stream has ended.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

func (s *Stream) run(ctx context.Context, c *Client, req Request) {
	defer close(s.done)
	defer close(s.tokens)
	defer s.cancel()

	ctx, span := telemetry.AssistantStreamSpan(ctx, c.endpoint, len(req.Alerts), len(req.ConversationHistory))
	defer span.End()
	start := time.Now()

	emit := func(tok string) error {
		select {
		case s.tokens <- tok:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var stats streamStats
	call := func(ctx context.Context) error {
		var err error
		stats, err = c.do(ctx, req, emit)
		if err != nil && ctx.Err() != nil {
			// Transport errors caused by cancellation are reported as such.
			return ctx.Err()
		}
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}
	if err == nil {
		// A cancellation racing a clean end of body still counts as cancelled.
		err = ctx.Err()
	}

	took := time.Since(start)
	telemetry.RecordStreamUsage(span, stats.chunks, stats.bytes, took.Milliseconds())
	c.metrics.ObserveStream(streamOutcome(err), stats.chunks, took)
	if err != nil {
		span.SetError(err)
		c.log.Warn("assistant stream failed", "error", err, "chunks", stats.chunks, "breaker_open", resilience.IsOpen(err))
	} else {
		span.SetOK()
		c.log.Debug("assistant stream completed", "chunks", stats.chunks, "bytes", stats.bytes)
	}

	s.err = err
}

func streamOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.StreamCompleted
	case errors.Is(err, context.Canceled):
		return metrics.StreamCancelled
	default:
		return metrics.StreamFailed
	}
}

// Handler receives the callbacks of StreamResponse. Nil fields are skipped.
type Handler struct {
	OnToken    func(token string)
	OnComplete func()
	OnError    func(message string)
}

// StreamResponse streams the answer to query and blocks until it ends.
// OnToken fires for each chunk in order. On any failure OnError fires exactly
// once with ErrorMessage, after the last token. OnComplete always fires
// exactly once, last. The underlying error is returned for logging.
func (c *Client) StreamResponse(ctx context.Context, query string, alerts []models.Alert, history []models.Message, h Handler) error {
	s := c.Stream(ctx, Request{
		Query:               query,
		Alerts:              alerts,
		ConversationHistory: history,
	})

	for tok := range s.Tokens() {
		if h.OnToken != nil {
			h.OnToken(tok)
		}
	}

	err := s.Err()
	if err != nil && h.OnError != nil {
		h.OnError(ErrorMessage)
	}
	if h.OnComplete != nil {
		h.OnComplete()
	}
	return err
}
