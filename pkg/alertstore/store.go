// Package alertstore holds the session's alerts and derives the scoped views
// the dashboard renders: filtered lists, cumulative trend series and category
// breakdowns.
package alertstore

import (
	"fmt"
	"sync"
	"time"

	"github.com/quantumlayerhq/ql-threatwatch/pkg/logger"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/models"
)

// ScopeSource supplies the tenant/project scope queries are evaluated against.
type ScopeSource interface {
	Current() models.Scope
}

// Notifier receives a notification whenever high-severity alerts are added.
// It is called after the store lock is released.
type Notifier interface {
	Notify(n models.Notification)
}

// NotifierFunc adapts a plain function to the Notifier interface.
type NotifierFunc func(n models.Notification)

// Notify calls f(n).
func (f NotifierFunc) Notify(n models.Notification) {
	f(n)
}

// Options configures a Store.
type Options struct {
	Notifier Notifier
	Logger   *logger.Logger
	// Now returns the reference time for time-range filters. Defaults to time.Now.
	Now func() time.Time
	// Location determines the calendar day an alert is bucketed into for
	// trend data. Defaults to time.Local.
	Location *time.Location
}

// Store is the alert repository. All mutations and derived reads are
// serialized by a single lock, so no reader ever observes a partial batch.
type Store struct {
	scope    ScopeSource
	notifier Notifier
	log      *logger.Logger
	now      func() time.Time
	loc      *time.Location

	mu      sync.Mutex
	alerts  []models.Alert // newest first
	ids     map[string]struct{}
	filters models.AlertFilters

	trendKey   trendCacheKey
	trendCache []models.TrendDataPoint
	trendValid bool
}

// New creates an empty store evaluating queries against scope.
func New(scope ScopeSource, opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Store{
		scope:    scope,
		notifier: opts.Notifier,
		log:      opts.Logger.WithComponent("alertstore"),
		now:      opts.Now,
		loc:      opts.Location,
		ids:      make(map[string]struct{}),
	}
}

// AddAlert prepends a single alert. A High or Critical alert raises a
// "New <Severity> Alert" notification.
func (s *Store) AddAlert(alert models.Alert) bool {
	s.mu.Lock()
	if _, dup := s.ids[alert.ID]; dup {
		s.mu.Unlock()
		s.log.Warn("duplicate alert dropped", "alert_id", alert.ID)
		return false
	}
	s.ids[alert.ID] = struct{}{}
	s.alerts = append([]models.Alert{alert}, s.alerts...)
	s.mu.Unlock()

	s.log.Debug("alert added", "alert_id", alert.ID, "severity", alert.Severity, "tenant_id", alert.TenantID)

	if alert.Severity.IsHighSeverity() {
		s.notify(models.Notification{
			Title:       fmt.Sprintf("New %s Alert", alert.Severity),
			Description: alert.Summary,
			Severity:    alert.Severity,
			Count:       1,
			TenantID:    alert.TenantID,
			RaisedAt:    s.now(),
		})
	}
	return true
}

// AddAlerts prepends a batch, keeping the batch's own order ahead of existing
// alerts. At most one notification is raised for the whole batch, labelled
// with the severity of the first high-severity alert in it. It returns the
// number of alerts accepted.
func (s *Store) AddAlerts(batch []models.Alert) int {
	if len(batch) == 0 {
		return 0
	}

	accepted := make([]models.Alert, 0, len(batch))

	s.mu.Lock()
	for _, a := range batch {
		if _, dup := s.ids[a.ID]; dup {
			s.log.Warn("duplicate alert dropped", "alert_id", a.ID)
			continue
		}
		s.ids[a.ID] = struct{}{}
		accepted = append(accepted, a)
	}
	merged := make([]models.Alert, 0, len(accepted)+len(s.alerts))
	merged = append(merged, accepted...)
	s.alerts = append(merged, s.alerts...)
	s.mu.Unlock()

	s.log.Debug("alerts added", "count", len(accepted))

	var (
		highCount int
		label     models.Severity
		tenantID  string
	)
	for _, a := range accepted {
		if a.Severity.IsHighSeverity() {
			if highCount == 0 {
				label = a.Severity
				tenantID = a.TenantID
			}
			highCount++
		}
	}
	if highCount > 0 {
		plural := ""
		if highCount > 1 {
			plural = "s"
		}
		s.notify(models.Notification{
			Title:       fmt.Sprintf("%d New %s Alert%s", highCount, label, plural),
			Description: fmt.Sprintf("Multiple %s threats detected", label.Lower()),
			Severity:    label,
			Count:       highCount,
			TenantID:    tenantID,
			RaisedAt:    s.now(),
		})
	}

	return len(accepted)
}

// Load appends historical alerts behind the existing ones without raising
// notifications. It returns the number of alerts accepted.
func (s *Store) Load(alerts []models.Alert) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, a := range alerts {
		if _, dup := s.ids[a.ID]; dup {
			continue
		}
		s.ids[a.ID] = struct{}{}
		s.alerts = append(s.alerts, a)
		n++
	}
	s.log.Debug("alerts loaded", "count", n)
	return n
}

// UpdateAlert merges the patch into the alert with the given ID. An unknown
// ID leaves the store untouched and returns false.
func (s *Store) UpdateAlert(id string, patch models.AlertPatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.alerts {
		if s.alerts[i].ID == id {
			s.alerts[i] = patch.Apply(s.alerts[i])
			return true
		}
	}
	return false
}

// Alert returns the alert with the given ID.
func (s *Store) Alert(id string) (models.Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.alerts {
		if a.ID == id {
			return a, true
		}
	}
	return models.Alert{}, false
}

// Alerts returns a copy of every alert, newest first.
func (s *Store) Alerts() []models.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Alert, len(s.alerts))
	copy(out, s.alerts)
	return out
}

// Len returns the total number of alerts held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

// SetFilters replaces the active filters wholesale.
func (s *Store) SetFilters(f models.AlertFilters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = f
}

// ClearFilters removes every filter.
func (s *Store) ClearFilters() {
	s.SetFilters(models.AlertFilters{})
}

// Filters returns the active filters.
func (s *Store) Filters() models.AlertFilters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters
}

func (s *Store) notify(n models.Notification) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(n)
}
