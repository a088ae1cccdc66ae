package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quantumlayerhq/ql-threatwatch/pkg/audit"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/models"
)

// displayTimeLayout renders timestamps the way the dashboard shows them.
const displayTimeLayout = "1/2/2006, 3:04:05 PM"

// ErrIsolationInProgress is returned when the alert's workload is already
// being isolated.
var ErrIsolationInProgress = errors.New("isolation already in progress")

// RecommendedActions are shown when investigating any alert.
var RecommendedActions = []string{
	"Review resource configuration and recent changes",
	"Check cluster logs for related events",
	"Verify resource permissions and access patterns",
	"Consider temporary isolation if suspicious activity detected",
}

// Isolate isolates the workload behind an alert and marks the alert
// isolated. It reports false without doing anything if the alert is already
// isolated.
func (s *Session) Isolate(ctx context.Context, alertID string) (bool, error) {
	alert, ok := s.Store.Alert(alertID)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrAlertNotFound, alertID)
	}
	if alert.IsIsolated {
		return false, nil
	}

	entry := alertEntry(alert, audit.ActionIsolate, audit.ActionCategoryExecute)

	s.mu.Lock()
	if _, busy := s.isolating[alertID]; busy {
		s.mu.Unlock()
		entry.Status = audit.StatusDenied
		entry.ErrorMessage = ErrIsolationInProgress.Error()
		s.Audit.Log(ctx, entry)
		return false, ErrIsolationInProgress
	}
	s.isolating[alertID] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.isolating, alertID)
		s.mu.Unlock()
	}()

	log := s.log.WithTenant(alert.TenantID)
	log.Info("starting workload isolation", "alert_id", alertID, "summary", alert.Summary)
	started := time.Now()

	timer := time.NewTimer(s.isolationDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		log.Error("workload isolation failed", "alert_id", alertID, "error", ctx.Err())
		s.Audit.Record(context.WithoutCancel(ctx), entry, started, ctx.Err())
		return false, ctx.Err()
	case <-timer.C:
	}

	isolated := true
	s.Store.UpdateAlert(alertID, models.AlertPatch{IsIsolated: &isolated})
	log.Info("workload isolation completed", "alert_id", alertID)
	s.Audit.Record(ctx, entry, started, nil)
	return true, nil
}

// IsIsolating reports whether an isolation is running for the alert.
func (s *Session) IsIsolating(alertID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.isolating[alertID]
	return ok
}

// SlackSummary formats an alert for pasting into Slack.
func (s *Session) SlackSummary(alert models.Alert) string {
	s.Audit.Record(context.Background(), alertEntry(alert, audit.ActionShareSlack, audit.ActionCategoryRead), time.Time{}, nil)
	return strings.Join([]string{
		"*Alert*: " + alert.Summary,
		"*Severity*: " + string(alert.Severity),
		"*Resource*: " + alert.ResourceType,
		"*Cluster*: " + alert.ClusterName,
		"*Time*: " + s.formatTime(alert.Timestamp),
	}, "\n")
}

// JiraDraft is the prefilled issue for an alert.
type JiraDraft struct {
	Title       string
	Description string
	Priority    string
	Type        string
	Labels      []string
}

// JiraPriority maps alert severity to an issue priority.
func JiraPriority(sev models.Severity) string {
	switch sev {
	case models.SeverityCritical:
		return "Highest"
	case models.SeverityHigh:
		return "High"
	default:
		return "Medium"
	}
}

// JiraDraft prefills a security issue for an alert.
func (s *Session) JiraDraft(alert models.Alert) JiraDraft {
	s.Audit.Record(context.Background(), alertEntry(alert, audit.ActionCreateJira, audit.ActionCategoryRead), time.Time{}, nil)
	return JiraDraft{
		Title: alert.Summary,
		Description: strings.Join([]string{
			"Alert Details:",
			"• Severity: " + string(alert.Severity),
			"• Resource Type: " + alert.ResourceType,
			"• Cluster: " + alert.ClusterName,
			"• Time: " + s.formatTime(alert.Timestamp),
			"• Category: " + string(alert.Category),
		}, "\n"),
		Priority: JiraPriority(alert.Severity),
		Type:     "Security Issue",
		Labels:   []string{"security", "alert"},
	}
}

// Investigation is the detail view of one alert.
type Investigation struct {
	Alert       models.Alert
	ProjectName string
	Time        string
	Actions     []string
}

// Investigate returns the detail view of an alert.
func (s *Session) Investigate(alertID string) (Investigation, error) {
	alert, ok := s.Store.Alert(alertID)
	if !ok {
		return Investigation{}, fmt.Errorf("%w: %s", ErrAlertNotFound, alertID)
	}

	s.Audit.Record(context.Background(), alertEntry(alert, audit.ActionInvestigate, audit.ActionCategoryRead), time.Time{}, nil)

	projectName := alert.ProjectID
	if p, ok := s.catalog.ProjectByID(alert.ProjectID); ok {
		projectName = p.Name
	}

	return Investigation{
		Alert:       alert,
		ProjectName: projectName,
		Time:        s.formatTime(alert.Timestamp),
		Actions:     RecommendedActions,
	}, nil
}

func alertEntry(alert models.Alert, action string, category audit.ActionCategory) audit.Entry {
	return audit.Entry{
		TenantID:       alert.TenantID,
		Action:         action,
		ActionCategory: category,
		ResourceType:   "alert",
		ResourceID:     alert.ID,
		Context:        map[string]interface{}{"severity": string(alert.Severity)},
	}
}

func (s *Session) formatTime(t time.Time) string {
	return t.In(s.loc).Format(displayTimeLayout)
}
