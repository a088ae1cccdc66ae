package alertstore

import (
	"math"
	"sort"
	"time"

	"github.com/quantumlayerhq/ql-threatwatch/pkg/models"
)

// dayKeyLayout formats the calendar-day bucket of a trend point.
const dayKeyLayout = "2006-01-02"

// DefaultCriticalLimit is the number of alerts shown in the critical feed.
const DefaultCriticalLimit = 5

// SortDirection orders alerts by timestamp.
type SortDirection string

const (
	SortAscending  SortDirection = "asc"
	SortDescending SortDirection = "desc"
)

type trendCacheKey struct {
	tenantID    string
	projectID   string
	scopedCount int
}

func (s *Store) currentScope() models.Scope {
	if s.scope == nil {
		return models.Scope{}
	}
	return s.scope.Current()
}

// scopedLocked returns the alerts visible in scope, newest first. Callers must
// hold s.mu.
func (s *Store) scopedLocked(scope models.Scope) []models.Alert {
	out := make([]models.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		if scope.Contains(a) {
			out = append(out, a)
		}
	}
	return out
}

// AlertsForCurrentScope returns the alerts belonging to the current tenant and
// project. An empty scope returns every alert.
func (s *Store) AlertsForCurrentScope() []models.Alert {
	scope := s.currentScope()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scopedLocked(scope)
}

// FilteredAlerts applies the scope first and then the active filters.
func (s *Store) FilteredAlerts() []models.Alert {
	scope := s.currentScope()
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		if scope.Contains(a) && s.filters.Matches(a, now) {
			out = append(out, a)
		}
	}
	return out
}

// TrendData returns per-day cumulative severity counts for the scoped alerts,
// ordered by day ascending. The result is cached on (tenant, project, scoped
// alert count): while that key is unchanged the exact same slice is returned,
// so callers must treat it as read-only.
func (s *Store) TrendData() []models.TrendDataPoint {
	scope := s.currentScope()

	s.mu.Lock()
	defer s.mu.Unlock()

	scoped := s.scopedLocked(scope)
	key := trendCacheKey{
		tenantID:    scope.TenantID(),
		projectID:   scope.ProjectID(),
		scopedCount: len(scoped),
	}
	if s.trendValid && s.trendKey == key {
		return s.trendCache
	}

	s.trendCache = buildTrend(scoped, s.loc)
	s.trendKey = key
	s.trendValid = true
	return s.trendCache
}

// InvalidateTrend drops the cached trend series.
func (s *Store) InvalidateTrend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trendValid = false
	s.trendCache = nil
}

func buildTrend(alerts []models.Alert, loc *time.Location) []models.TrendDataPoint {
	daily := make(map[string]*models.TrendDataPoint)
	for _, a := range alerts {
		day := a.Timestamp.In(loc).Format(dayKeyLayout)
		p, ok := daily[day]
		if !ok {
			p = &models.TrendDataPoint{Timestamp: day}
			daily[day] = p
		}
		p.Add(a.Severity, 1)
	}

	days := make([]string, 0, len(daily))
	for d := range daily {
		days = append(days, d)
	}
	sort.Strings(days)

	out := make([]models.TrendDataPoint, 0, len(days))
	var running models.TrendDataPoint
	for _, d := range days {
		p := daily[d]
		running.Critical += p.Critical
		running.High += p.High
		running.Medium += p.Medium
		running.Low += p.Low
		running.Timestamp = d
		out = append(out, running)
	}
	return out
}

// CategoryBreakdown returns the share of scoped alerts per category, in order
// of first appearance in the scoped list. Zero scoped alerts yield an empty
// slice. Rounded percentages may not sum to exactly 100.
func (s *Store) CategoryBreakdown() []models.CategoryBreakdown {
	scoped := s.AlertsForCurrentScope()
	total := len(scoped)
	if total == 0 {
		return []models.CategoryBreakdown{}
	}

	counts := make(map[models.Category]int)
	var order []models.Category
	for _, a := range scoped {
		if _, seen := counts[a.Category]; !seen {
			order = append(order, a.Category)
		}
		counts[a.Category]++
	}

	out := make([]models.CategoryBreakdown, 0, len(order))
	for _, c := range order {
		n := counts[c]
		out = append(out, models.CategoryBreakdown{
			Category:   c,
			Count:      n,
			Percentage: int(math.Round(float64(n) / float64(total) * 100)),
		})
	}
	return out
}

// CriticalAlerts returns up to limit Critical alerts in scope, most recent
// first. A non-positive limit uses DefaultCriticalLimit.
func (s *Store) CriticalAlerts(limit int) []models.Alert {
	if limit <= 0 {
		limit = DefaultCriticalLimit
	}

	var critical []models.Alert
	for _, a := range s.AlertsForCurrentScope() {
		if a.Severity == models.SeverityCritical {
			critical = append(critical, a)
		}
	}
	SortByTimestamp(critical, SortDescending)

	if len(critical) > limit {
		critical = critical[:limit]
	}
	return critical
}

// SortByTimestamp sorts alerts in place. Alerts with equal timestamps keep
// their relative order.
func SortByTimestamp(alerts []models.Alert, dir SortDirection) {
	sort.SliceStable(alerts, func(i, j int) bool {
		if dir == SortAscending {
			return alerts[i].Timestamp.Before(alerts[j].Timestamp)
		}
		return alerts[i].Timestamp.After(alerts[j].Timestamp)
	})
}
