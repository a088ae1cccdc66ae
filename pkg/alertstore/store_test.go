package alertstore

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumlayerhq/ql-threatwatch/pkg/models"
)

var testNow = time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)

type staticScope struct {
	scope models.Scope
}

func (s *staticScope) Current() models.Scope { return s.scope }

type captureNotifier struct {
	got []models.Notification
}

func (c *captureNotifier) Notify(n models.Notification) {
	c.got = append(c.got, n)
}

var (
	testTenant = &models.Tenant{
		ID:   "tenant-1",
		Name: "Test Tenant",
		Projects: []models.Project{
			{ID: "project-1", Name: "Project Alpha", TenantID: "tenant-1"},
			{ID: "project-2", Name: "Project Beta", TenantID: "tenant-1"},
		},
	}
	testProject = &testTenant.Projects[0]
)

func newTestStore(t *testing.T, scope models.Scope) (*Store, *staticScope, *captureNotifier) {
	t.Helper()
	src := &staticScope{scope: scope}
	n := &captureNotifier{}
	s := New(src, Options{
		Notifier: n,
		Now:      func() time.Time { return testNow },
		Location: time.UTC,
	})
	return s, src, n
}

func mockAlert(id string) models.Alert {
	return models.Alert{
		ID:           id,
		Summary:      "Test alert",
		Severity:     models.SeverityCritical,
		Category:     models.CategoryRuntime,
		ResourceType: "Pod",
		ProjectID:    "project-1",
		ClusterName:  "prod-cluster",
		Timestamp:    time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		TenantID:     "tenant-1",
	}
}

func withSeverity(a models.Alert, s models.Severity) models.Alert {
	a.Severity = s
	return a
}

func TestStore_AddAlert(t *testing.T) {
	s, _, n := newTestStore(t, models.Scope{})

	require.True(t, s.AddAlert(mockAlert("1")))
	require.True(t, s.AddAlert(mockAlert("2")))

	alerts := s.Alerts()
	require.Len(t, alerts, 2)
	assert.Equal(t, "2", alerts[0].ID, "newest alert is first")
	assert.Equal(t, "1", alerts[1].ID)
	require.Len(t, n.got, 2)
	assert.Equal(t, "New Critical Alert", n.got[0].Title)
	assert.Equal(t, "Test alert", n.got[0].Description)
}

func TestStore_AddAlertDropsDuplicateID(t *testing.T) {
	s, _, n := newTestStore(t, models.Scope{})

	require.True(t, s.AddAlert(mockAlert("1")))
	assert.False(t, s.AddAlert(mockAlert("1")))
	assert.Equal(t, 1, s.Len())
	assert.Len(t, n.got, 1)
}

func TestStore_Notifications(t *testing.T) {
	tests := []struct {
		name      string
		batch     []models.Alert
		wantTitle string
		wantDesc  string
		wantCount int
	}{
		{
			name:      "two critical alerts",
			batch:     []models.Alert{mockAlert("1"), mockAlert("2")},
			wantTitle: "2 New Critical Alerts",
			wantDesc:  "Multiple critical threats detected",
			wantCount: 2,
		},
		{
			name:      "single high alert among low ones",
			batch:     []models.Alert{withSeverity(mockAlert("1"), models.SeverityLow), withSeverity(mockAlert("2"), models.SeverityHigh)},
			wantTitle: "1 New High Alert",
			wantDesc:  "Multiple high threats detected",
			wantCount: 1,
		},
		{
			name: "mixed batch labelled by first high-severity alert",
			batch: []models.Alert{
				withSeverity(mockAlert("1"), models.SeverityMedium),
				withSeverity(mockAlert("2"), models.SeverityHigh),
				withSeverity(mockAlert("3"), models.SeverityCritical),
			},
			wantTitle: "2 New High Alerts",
			wantDesc:  "Multiple high threats detected",
			wantCount: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, n := newTestStore(t, models.Scope{})

			assert.Equal(t, len(tt.batch), s.AddAlerts(tt.batch))

			require.Len(t, n.got, 1, "exactly one notification per batch")
			assert.Equal(t, tt.wantTitle, n.got[0].Title)
			assert.Equal(t, tt.wantDesc, n.got[0].Description)
			assert.Equal(t, tt.wantCount, n.got[0].Count)
		})
	}
}

func TestStore_NoNotificationForMediumAndLow(t *testing.T) {
	s, _, n := newTestStore(t, models.Scope{})

	s.AddAlert(withSeverity(mockAlert("1"), models.SeverityMedium))
	s.AddAlert(withSeverity(mockAlert("2"), models.SeverityLow))
	s.AddAlerts([]models.Alert{withSeverity(mockAlert("3"), models.SeverityLow)})

	assert.Empty(t, n.got)
}

func TestStore_AddAlertsPreservesBatchOrder(t *testing.T) {
	s, _, _ := newTestStore(t, models.Scope{})
	s.AddAlert(mockAlert("old"))

	s.AddAlerts([]models.Alert{mockAlert("a"), mockAlert("b"), mockAlert("a")})

	ids := make([]string, 0)
	for _, a := range s.Alerts() {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"a", "b", "old"}, ids)
}

func TestStore_LoadDoesNotNotify(t *testing.T) {
	s, _, n := newTestStore(t, models.Scope{})
	s.AddAlert(withSeverity(mockAlert("live"), models.SeverityLow))

	loaded := s.Load([]models.Alert{mockAlert("h1"), mockAlert("h2"), mockAlert("live")})

	assert.Equal(t, 2, loaded)
	assert.Empty(t, n.got)
	ids := make([]string, 0)
	for _, a := range s.Alerts() {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"live", "h1", "h2"}, ids)
}

func TestStore_UpdateAlert(t *testing.T) {
	s, _, _ := newTestStore(t, models.Scope{})
	s.AddAlert(mockAlert("1"))
	isolated := true

	t.Run("existing alert is patched", func(t *testing.T) {
		assert.True(t, s.UpdateAlert("1", models.AlertPatch{IsIsolated: &isolated}))
		a, ok := s.Alert("1")
		require.True(t, ok)
		assert.True(t, a.IsIsolated)
	})

	t.Run("missing id is a no-op", func(t *testing.T) {
		before := s.Alerts()
		assert.False(t, s.UpdateAlert("missing", models.AlertPatch{IsIsolated: &isolated}))
		assert.Equal(t, before, s.Alerts())
	})
}

func TestStore_AlertsReturnsCopy(t *testing.T) {
	s, _, _ := newTestStore(t, models.Scope{})
	s.AddAlert(mockAlert("1"))

	out := s.Alerts()
	out[0].Summary = "mutated"

	a, _ := s.Alert("1")
	assert.Equal(t, "Test alert", a.Summary)
}

func TestStore_Filtering(t *testing.T) {
	s, _, _ := newTestStore(t, models.Scope{Tenant: testTenant, Project: testProject})

	base := mockAlert("")
	s.AddAlerts([]models.Alert{
		func() models.Alert {
			a := base
			a.ID, a.Timestamp = "1", testNow
			return a
		}(),
		func() models.Alert {
			a := base
			a.ID, a.Severity, a.Category, a.Timestamp = "2", models.SeverityHigh, models.CategoryIdentity, testNow.Add(-30*time.Minute)
			return a
		}(),
		func() models.Alert {
			a := base
			a.ID, a.Severity, a.Category, a.Timestamp = "3", models.SeverityMedium, models.CategoryConfig, testNow.Add(-2*time.Hour)
			return a
		}(),
	})

	tests := []struct {
		name    string
		filters models.AlertFilters
		want    int
	}{
		{"by severity", models.AlertFilters{Severity: []models.Severity{models.SeverityCritical}}, 1},
		{"by category", models.AlertFilters{Category: []models.Category{models.CategoryRuntime}}, 1},
		{"by cluster name", models.AlertFilters{ClusterName: "prod-cluster"}, 3},
		{"by time range", models.AlertFilters{TimeRange: models.TimeRangeHour}, 2},
		{"cleared", models.AlertFilters{}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.SetFilters(tt.filters)
			assert.Len(t, s.FilteredAlerts(), tt.want)
		})
	}

	s.SetFilters(models.AlertFilters{Severity: []models.Severity{models.SeverityCritical}})
	s.ClearFilters()
	assert.True(t, s.Filters().IsEmpty())
	assert.Len(t, s.FilteredAlerts(), 3)
}

func TestStore_ScopeFiltering(t *testing.T) {
	s, src, _ := newTestStore(t, models.Scope{Tenant: testTenant, Project: testProject})

	s.AddAlert(mockAlert("1"))
	other := mockAlert("2")
	other.TenantID = "tenant-2"
	s.AddAlert(other)
	otherProject := mockAlert("3")
	otherProject.ProjectID = "project-2"
	s.AddAlert(otherProject)

	scoped := s.AlertsForCurrentScope()
	require.Len(t, scoped, 1)
	assert.Equal(t, "1", scoped[0].ID)

	src.scope = models.Scope{Tenant: testTenant}
	assert.Len(t, s.AlertsForCurrentScope(), 2)

	src.scope = models.Scope{}
	assert.Len(t, s.AlertsForCurrentScope(), 3)
}

func TestStore_FilteredAlertsIsSubsetOfScope(t *testing.T) {
	s, _, _ := newTestStore(t, models.Scope{Tenant: testTenant})
	for i := 0; i < 20; i++ {
		a := mockAlert(fmt.Sprintf("a%d", i))
		a.Severity = models.Severities[i%4]
		if i%3 == 0 {
			a.TenantID = "tenant-2"
		}
		s.AddAlert(a)
	}
	s.SetFilters(models.AlertFilters{Severity: []models.Severity{models.SeverityHigh, models.SeverityLow}})

	scope := models.Scope{Tenant: testTenant}
	for _, a := range s.FilteredAlerts() {
		assert.True(t, scope.Contains(a))
		assert.True(t, s.Filters().Matches(a, testNow))
	}
}
