// Package notify delivers high-severity alert notifications to sinks: the
// log, a Kafka topic, a Prometheus counter and an in-memory buffer of recent
// toasts.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/quantumlayerhq/ql-threatwatch/pkg/alertstore"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/kafka"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/logger"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/metrics"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/models"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/telemetry"
)

// Multi fans a notification out to every sink in order.
type Multi []alertstore.Notifier

// Notify implements alertstore.Notifier.
func (m Multi) Notify(n models.Notification) {
	for _, sink := range m {
		if sink != nil {
			sink.Notify(n)
		}
	}
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	log *logger.Logger
}

// NewLogNotifier creates a log sink.
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.Nop()
	}
	return &LogNotifier{log: log.WithComponent("notify")}
}

// Notify implements alertstore.Notifier.
func (l *LogNotifier) Notify(n models.Notification) {
	l.log.Warn(n.Title,
		"description", n.Description,
		"severity", n.Severity,
		"count", n.Count,
		"tenant_id", n.TenantID,
	)
}

// MetricsNotifier counts notifications by severity.
type MetricsNotifier struct {
	m *metrics.Metrics
}

// NewMetricsNotifier creates a sink counting on m.
func NewMetricsNotifier(m *metrics.Metrics) *MetricsNotifier {
	return &MetricsNotifier{m: m}
}

// Notify implements alertstore.Notifier.
func (c *MetricsNotifier) Notify(n models.Notification) {
	c.m.ObserveNotification(string(n.Severity))
}

// Publisher publishes an event envelope. *kafka.Producer implements it.
type Publisher interface {
	PublishEvent(ctx context.Context, topic string, event kafka.Event) error
}

// KafkaNotifier publishes notifications as alert.notification events.
type KafkaNotifier struct {
	pub     Publisher
	topic   string
	timeout time.Duration
	log     *logger.Logger
}

// NewKafkaNotifier creates a sink publishing to topic.
func NewKafkaNotifier(pub Publisher, topic string, log *logger.Logger) *KafkaNotifier {
	if log == nil {
		log = logger.Nop()
	}
	return &KafkaNotifier{
		pub:     pub,
		topic:   topic,
		timeout: 5 * time.Second,
		log:     log.WithComponent("notify-kafka"),
	}
}

// Notify implements alertstore.Notifier. Publish failures are logged, never
// propagated back into the store.
func (k *KafkaNotifier) Notify(n models.Notification) {
	if err := k.Publish(context.Background(), n); err != nil {
		k.log.Error("failed to publish notification", "error", err, "title", n.Title, "topic", k.topic)
	}
}

// Publish sends one notification and reports the outcome.
func (k *KafkaNotifier) Publish(ctx context.Context, n models.Notification) error {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	ctx, span := telemetry.NotificationSpan(ctx, "kafka", string(n.Severity))
	defer span.End()

	ev, err := kafka.NewEvent(kafka.EventAlertNotification, n.TenantID, n)
	if err != nil {
		span.SetError(err)
		return err
	}
	if err := k.pub.PublishEvent(ctx, k.topic, ev); err != nil {
		span.SetError(err)
		return err
	}
	span.SetOK()
	return nil
}

// Buffer keeps the most recent notifications, newest first.
type Buffer struct {
	mu    sync.Mutex
	size  int
	items []models.Notification
}

// NewBuffer creates a buffer holding at most size notifications.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = 1
	}
	return &Buffer{size: size}
}

// Notify implements alertstore.Notifier.
func (b *Buffer) Notify(n models.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = append([]models.Notification{n}, b.items...)
	if len(b.items) > b.size {
		b.items = b.items[:b.size]
	}
}

// Recent returns the buffered notifications, newest first.
func (b *Buffer) Recent() []models.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]models.Notification, len(b.items))
	copy(out, b.items)
	return out
}
