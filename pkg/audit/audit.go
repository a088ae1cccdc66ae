// Package audit records the analyst actions taken in a dashboard session.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantumlayerhq/ql-threatwatch/pkg/logger"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/telemetry"
)

// DefaultCapacity bounds the entries a Trail keeps.
const DefaultCapacity = 500

// Actions recorded by the dashboard.
const (
	ActionSelectTenant  = "scope.select_tenant"
	ActionSelectProject = "scope.select_project"
	ActionAsk           = "assistant.ask"
	ActionIsolate       = "alert.isolate"
	ActionInvestigate   = "alert.investigate"
	ActionShareSlack    = "alert.share_slack"
	ActionCreateJira    = "alert.create_jira"
)

// ActionCategory classifies the action type.
type ActionCategory string

const (
	ActionCategoryRead    ActionCategory = "read"
	ActionCategoryUpdate  ActionCategory = "update"
	ActionCategoryExecute ActionCategory = "execute"
)

// Status indicates the outcome of the action.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusDenied  Status = "denied"
)

// Entry represents an audit log entry.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	TenantID  string    `json:"tenant_id,omitempty"`
	TraceID   string    `json:"trace_id,omitempty"`

	Action         string         `json:"action"`
	ActionCategory ActionCategory `json:"action_category"`

	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id,omitempty"`

	Context map[string]interface{} `json:"context,omitempty"`

	Status       Status `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	DurationMS   int64  `json:"duration_ms,omitempty"`

	IntegrityHash string `json:"integrity_hash"`
	PreviousHash  string `json:"previous_hash,omitempty"`
}

// QueryFilters narrows Query results. Zero fields match everything.
type QueryFilters struct {
	TenantID   string
	Action     string
	ResourceID string
	Status     Status
	StartTime  time.Time
	Limit      int
}

// IntegrityReport is the result of verifying the hash chain.
type IntegrityReport struct {
	TotalRecords int    `json:"total_records"`
	ValidRecords int    `json:"valid_records"`
	IsValid      bool   `json:"is_valid"`
	FirstInvalid string `json:"first_invalid_id,omitempty"`
}

// Trail keeps a bounded, hash-chained history of a session's actions.
type Trail struct {
	mu        sync.Mutex
	sessionID string
	capacity  int
	entries   []Entry
	lastHash  string
	now       func() time.Time
	log       *logger.Logger
}

// NewTrail creates a trail for a session. A non-positive capacity means
// DefaultCapacity.
func NewTrail(sessionID string, capacity int, log *logger.Logger) *Trail {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Trail{
		sessionID: sessionID,
		capacity:  capacity,
		now:       time.Now,
		log:       log.WithComponent("audit"),
	}
}

// Log appends an entry, stamping its ID, time, session and hash chain.
func (t *Trail) Log(ctx context.Context, entry Entry) Entry {
	t.mu.Lock()
	entry.ID = uuid.NewString()
	entry.Timestamp = t.now().UTC()
	entry.SessionID = t.sessionID
	if entry.TraceID == "" {
		entry.TraceID = telemetry.GetTraceID(ctx)
	}
	entry.PreviousHash = t.lastHash
	entry.IntegrityHash = hashEntry(entry)
	t.lastHash = entry.IntegrityHash

	t.entries = append(t.entries, entry)
	if over := len(t.entries) - t.capacity; over > 0 {
		t.entries = append([]Entry(nil), t.entries[over:]...)
	}
	t.mu.Unlock()

	t.log.WithContext(ctx).Info("audit",
		"action", entry.Action,
		"status", entry.Status,
		"tenant_id", entry.TenantID,
		"resource_type", entry.ResourceType,
		"resource_id", entry.ResourceID,
		"duration_ms", entry.DurationMS,
	)
	return entry
}

// Record logs an action outcome: err decides between success and failure.
func (t *Trail) Record(ctx context.Context, entry Entry, started time.Time, err error) Entry {
	entry.Status = StatusSuccess
	if err != nil {
		entry.Status = StatusFailure
		entry.ErrorMessage = err.Error()
	}
	if !started.IsZero() {
		entry.DurationMS = t.now().Sub(started).Milliseconds()
	}
	return t.Log(ctx, entry)
}

// Query returns matching entries, newest first.
func (t *Trail) Query(filters QueryFilters) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Entry
	for i := len(t.entries) - 1; i >= 0; i-- {
		e := t.entries[i]
		if filters.TenantID != "" && e.TenantID != filters.TenantID {
			continue
		}
		if filters.Action != "" && e.Action != filters.Action {
			continue
		}
		if filters.ResourceID != "" && e.ResourceID != filters.ResourceID {
			continue
		}
		if filters.Status != "" && e.Status != filters.Status {
			continue
		}
		if !filters.StartTime.IsZero() && e.Timestamp.Before(filters.StartTime) {
			continue
		}
		out = append(out, e)
		if filters.Limit > 0 && len(out) == filters.Limit {
			break
		}
	}
	return out
}

// Len returns the number of retained entries.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// VerifyIntegrity recomputes every retained entry's hash and checks that each
// links to its predecessor. The oldest retained entry may point at an evicted
// one.
func (t *Trail) VerifyIntegrity() IntegrityReport {
	t.mu.Lock()
	defer t.mu.Unlock()

	report := IntegrityReport{TotalRecords: len(t.entries), IsValid: true}
	for i, e := range t.entries {
		valid := hashEntry(e) == e.IntegrityHash
		if i > 0 && e.PreviousHash != t.entries[i-1].IntegrityHash {
			valid = false
		}
		if !valid {
			if report.IsValid {
				report.FirstInvalid = e.ID
			}
			report.IsValid = false
			continue
		}
		report.ValidRecords++
	}
	return report
}

// hashEntry hashes every field of the entry except its own hash.
func hashEntry(e Entry) string {
	e.IntegrityHash = ""
	raw, err := json.Marshal(e)
	if err != nil {
		raw = []byte(fmt.Sprintf("%s|%s|%s", e.ID, e.Action, e.PreviousHash))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
