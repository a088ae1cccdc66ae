package dashboard

import (
	"github.com/quantumlayerhq/ql-threatwatch/pkg/alertstore"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/conversation"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/feed"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/models"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/resilience"
)

// View is everything the dashboard renders at one instant.
type View struct {
	TenantID  string
	ProjectID string

	TotalAlerts  int
	ScopedAlerts int
	Filtered     []models.Alert
	Trend        []models.TrendDataPoint
	Categories   []models.CategoryBreakdown
	Critical     []models.Alert

	Selected         int
	Headline         string
	ConversationOpen bool
	Streaming        bool

	FeedState     feed.State
	FeedStats     feed.Stats
	Notifications []models.Notification
	Breakers      []resilience.BreakerMetrics
}

// View derives the current dashboard view. Each derived list is computed
// under the store lock, so none of them reflects a partial batch.
func (s *Session) View() View {
	scope := s.Scope.Current()
	selected := s.Selection.Count()

	return View{
		TenantID:         scope.TenantID(),
		ProjectID:        scope.ProjectID(),
		TotalAlerts:      s.Store.Len(),
		ScopedAlerts:     len(s.Store.AlertsForCurrentScope()),
		Filtered:         s.Store.FilteredAlerts(),
		Trend:            s.Store.TrendData(),
		Categories:       s.Store.CategoryBreakdown(),
		Critical:         s.Store.CriticalAlerts(alertstore.DefaultCriticalLimit),
		Selected:         selected,
		Headline:         conversation.SelectionHeadline(selected),
		ConversationOpen: s.Conversation.IsOpen(),
		Streaming:        s.Conversation.IsStreaming(),
		FeedState:        s.Feed.State(),
		FeedStats:        s.Feed.Stats(),
		Notifications:    s.Notifications.Recent(),
		Breakers:         s.Breakers.AllMetrics(),
	}
}
