package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumlayerhq/ql-threatwatch/pkg/alertstore"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/kafka"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/logger"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/metrics"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/models"
)

func criticalNotification() models.Notification {
	return models.Notification{
		Title:       "New Critical Alert",
		Description: "Critical severity Runtime alert in API Services",
		Severity:    models.SeverityCritical,
		Count:       1,
		TenantID:    "t1",
	}
}

func TestMulti_FansOutInOrder(t *testing.T) {
	var order []string
	m := Multi{
		alertstore.NotifierFunc(func(models.Notification) { order = append(order, "a") }),
		nil,
		alertstore.NotifierFunc(func(models.Notification) { order = append(order, "b") }),
	}

	m.Notify(criticalNotification())
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(logger.NewWithWriter(&buf, "info", "json"))

	n.Notify(criticalNotification())

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "New Critical Alert", line["msg"])
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "t1", line["tenant_id"])
	assert.Equal(t, "notify", line["component"])
}

func TestKafkaNotifier_PublishesEvent(t *testing.T) {
	sp := mocks.NewSyncProducer(t, sarama.NewConfig())
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev kafka.Event
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		var n models.Notification
		if err := json.Unmarshal(ev.Data, &n); err != nil {
			return err
		}
		if ev.Type != kafka.EventAlertNotification || n.Title != "New Critical Alert" {
			return errors.New("unexpected payload")
		}
		return nil
	})

	producer := kafka.NewProducerWith(sp, nil)
	k := NewKafkaNotifier(producer, "alerts.notifications", nil)

	require.NoError(t, k.Publish(context.Background(), criticalNotification()))
	require.NoError(t, producer.Close())
}

type failingPublisher struct{ calls int }

func (f *failingPublisher) PublishEvent(context.Context, string, kafka.Event) error {
	f.calls++
	return errors.New("broker down")
}

func TestKafkaNotifier_FailureIsLoggedNotPropagated(t *testing.T) {
	var buf bytes.Buffer
	pub := &failingPublisher{}
	k := NewKafkaNotifier(pub, "alerts.notifications", logger.NewWithWriter(&buf, "info", "json"))

	assert.Error(t, k.Publish(context.Background(), criticalNotification()))

	buf.Reset()
	assert.NotPanics(t, func() { k.Notify(criticalNotification()) })
	assert.Equal(t, 2, pub.calls)
	assert.Contains(t, buf.String(), "failed to publish notification")
}

func TestBuffer_KeepsNewestFirst(t *testing.T) {
	b := NewBuffer(2)
	for _, title := range []string{"one", "two", "three"} {
		b.Notify(models.Notification{Title: title})
	}

	recent := b.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, "three", recent[0].Title)
	assert.Equal(t, "two", recent[1].Title)
}

func TestBuffer_WiredToStore(t *testing.T) {
	b := NewBuffer(10)
	store := alertstore.New(nil, alertstore.Options{Notifier: Multi{b, NewLogNotifier(nil)}})

	store.AddAlert(models.Alert{ID: "a1", Severity: models.SeverityHigh, Summary: "x"})
	store.AddAlert(models.Alert{ID: "a2", Severity: models.SeverityLow, Summary: "y"})

	recent := b.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, "New High Alert", recent[0].Title)
}

func TestMetricsNotifier(t *testing.T) {
	m := metrics.NewWith(prometheus.NewRegistry())
	sink := NewMetricsNotifier(m)

	sink.Notify(criticalNotification())
	sink.Notify(criticalNotification())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Notifications.WithLabelValues("Critical")))
	assert.NotPanics(t, func() { NewMetricsNotifier(nil).Notify(criticalNotification()) })
}
