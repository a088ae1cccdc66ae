package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/quantumlayerhq/ql-threatwatch/pkg/kafka"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/logger"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/metrics"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/models"
)

// Subscriber consumes topics until ctx is done. *kafka.Consumer implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, topics []string, handler kafka.MessageHandler) error
}

// Ingestor adds alerts published as alert.created events to the sink.
type Ingestor struct {
	sink    Sink
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewIngestor creates an ingestor delivering to sink.
func NewIngestor(sink Sink, log *logger.Logger) *Ingestor {
	if log == nil {
		log = logger.Nop()
	}
	return &Ingestor{sink: sink, log: log.WithComponent("feed-ingestor")}
}

// WithMetrics counts ingested alerts on m.
func (i *Ingestor) WithMetrics(m *metrics.Metrics) *Ingestor {
	i.metrics = m
	return i
}

// Run consumes topic until ctx is done.
func (i *Ingestor) Run(ctx context.Context, sub Subscriber, topic string) error {
	i.log.Info("consuming alerts from kafka", "topic", topic)
	err := sub.Subscribe(ctx, []string{topic}, i.Handle)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// Handle processes one message. Events of other types are ignored; a
// malformed alert is an error so the message is not marked.
func (i *Ingestor) Handle(_ context.Context, msg kafka.Message) error {
	var ev kafka.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return fmt.Errorf("failed to decode event: %w", err)
	}
	if ev.Type != kafka.EventAlertCreated {
		i.log.Debug("ignoring event", "type", ev.Type, "offset", msg.Offset)
		return nil
	}

	var alert models.Alert
	if err := json.Unmarshal(ev.Data, &alert); err != nil {
		return fmt.Errorf("failed to decode alert: %w", err)
	}
	if alert.ID == "" || !alert.Severity.IsValid() || !alert.Category.IsValid() {
		return fmt.Errorf("invalid alert %q in event %s", alert.ID, ev.ID)
	}

	if !i.sink.AddAlert(alert) {
		i.log.Debug("alert already known", "alert_id", alert.ID)
		return nil
	}
	i.metrics.ObserveIngest("kafka", string(alert.Severity))
	return nil
}
