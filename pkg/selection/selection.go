// Package selection tracks which alerts the user has selected.
package selection

import (
	"sync"

	"github.com/quantumlayerhq/ql-threatwatch/pkg/models"
)

// Tracker is a set of selected alert IDs.
type Tracker struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{ids: make(map[string]struct{})}
}

// Toggle selects the alert if it is not selected and deselects it otherwise.
// It reports whether the alert is selected afterwards.
func (t *Tracker) Toggle(alert models.Alert) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.ids[alert.ID]; ok {
		delete(t.ids, alert.ID)
		return false
	}
	t.ids[alert.ID] = struct{}{}
	return true
}

// Clear deselects everything.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ids = make(map[string]struct{})
}

// SelectedAlerts returns the selected members of all, preserving its order.
func (t *Tracker) SelectedAlerts(all []models.Alert) []models.Alert {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]models.Alert, 0, len(t.ids))
	for _, a := range all {
		if _, ok := t.ids[a.ID]; ok {
			out = append(out, a)
		}
	}
	return out
}

// IsSelected reports whether the alert with the given ID is selected.
func (t *Tracker) IsSelected(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.ids[id]
	return ok
}

// Count returns the number of selected alerts.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.ids)
}

// ScopeChanged clears the selection whenever the tenant or project changes.
func (t *Tracker) ScopeChanged(_, _ models.Scope) {
	t.Clear()
}
