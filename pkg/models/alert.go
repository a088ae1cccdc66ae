package models

import (
	"strings"
	"time"
)

// Alert represents a security alert raised against a tenant's project.
type Alert struct {
	ID           string    `json:"id"`
	Summary      string    `json:"summary"`
	Severity     Severity  `json:"severity"`
	Category     Category  `json:"category"`
	Timestamp    time.Time `json:"timestamp"`
	ResourceType string    `json:"resourceType"`
	ClusterName  string    `json:"clusterName"`
	ProjectID    string    `json:"projectId"`
	TenantID     string    `json:"tenantId"`
	IsIsolated   bool      `json:"isIsolated,omitempty"`
}

// AlertPatch carries the fields of an alert that may change after creation.
// Nil fields are left untouched.
type AlertPatch struct {
	IsIsolated *bool `json:"isIsolated,omitempty"`
}

// Apply merges the patch into a copy of the alert.
func (p AlertPatch) Apply(a Alert) Alert {
	if p.IsIsolated != nil {
		a.IsIsolated = *p.IsIsolated
	}
	return a
}

// Severity represents alert severity levels, ordered Low < Medium < High < Critical.
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// Severities lists all severities from lowest to highest.
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// Rank returns the ordinal of the severity, or -1 if unknown.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

// IsValid checks if the severity is known.
func (s Severity) IsValid() bool {
	return s.Rank() >= 0
}

// IsHighSeverity reports whether alerts of this severity trigger a notification.
func (s Severity) IsHighSeverity() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// Lower returns the lowercase label, e.g. "critical".
func (s Severity) Lower() string {
	return strings.ToLower(string(s))
}

// Category represents the alert category.
type Category string

const (
	CategoryRuntime  Category = "Runtime"
	CategoryIdentity Category = "Identity"
	CategoryConfig   Category = "Config"
	CategoryNetwork  Category = "Network"
)

// Categories lists all categories.
var Categories = []Category{CategoryRuntime, CategoryIdentity, CategoryConfig, CategoryNetwork}

// IsValid checks if the category is known.
func (c Category) IsValid() bool {
	switch c {
	case CategoryRuntime, CategoryIdentity, CategoryConfig, CategoryNetwork:
		return true
	default:
		return false
	}
}

// TimeRange restricts alerts to those raised within a window ending now.
type TimeRange string

const (
	TimeRangeNone TimeRange = ""
	TimeRangeHour TimeRange = "hour"
	TimeRange24h  TimeRange = "24h"
	TimeRange7d   TimeRange = "7d"
)

// Duration returns the window length. Unknown ranges return 0.
func (r TimeRange) Duration() time.Duration {
	switch r {
	case TimeRangeHour:
		return time.Hour
	case TimeRange24h:
		return 24 * time.Hour
	case TimeRange7d:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// AlertFilters represents optional constraints on the alert list.
// Empty slices and zero values leave a dimension unconstrained.
type AlertFilters struct {
	Severity    []Severity `json:"severity,omitempty"`
	Category    []Category `json:"category,omitempty"`
	ClusterName string     `json:"clusterName,omitempty"`
	TimeRange   TimeRange  `json:"timeRange,omitempty"`
}

// IsEmpty reports whether no constraint is set.
func (f AlertFilters) IsEmpty() bool {
	return len(f.Severity) == 0 && len(f.Category) == 0 && f.ClusterName == "" && f.TimeRange == TimeRangeNone
}

// Matches checks the alert against every set constraint. now is the
// reference point for the time range.
func (f AlertFilters) Matches(a Alert, now time.Time) bool {
	if len(f.Severity) > 0 && !containsSeverity(f.Severity, a.Severity) {
		return false
	}
	if len(f.Category) > 0 && !containsCategory(f.Category, a.Category) {
		return false
	}
	if f.ClusterName != "" && a.ClusterName != f.ClusterName {
		return false
	}
	if d := f.TimeRange.Duration(); d > 0 && now.Sub(a.Timestamp) > d {
		return false
	}
	return true
}

func containsSeverity(set []Severity, s Severity) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func containsCategory(set []Category, c Category) bool {
	for _, v := range set {
		if v == c {
			return true
		}
	}
	return false
}

// TrendDataPoint holds cumulative per-severity alert counts up to and
// including the day named by Timestamp (YYYY-MM-DD).
type TrendDataPoint struct {
	Timestamp string `json:"timestamp"`
	Critical  int    `json:"Critical"`
	High      int    `json:"High"`
	Medium    int    `json:"Medium"`
	Low       int    `json:"Low"`
}

// Add increments the counter for the given severity.
func (p *TrendDataPoint) Add(s Severity, n int) {
	switch s {
	case SeverityCritical:
		p.Critical += n
	case SeverityHigh:
		p.High += n
	case SeverityMedium:
		p.Medium += n
	case SeverityLow:
		p.Low += n
	}
}

// Count returns the counter for the given severity.
func (p TrendDataPoint) Count(s Severity) int {
	switch s {
	case SeverityCritical:
		return p.Critical
	case SeverityHigh:
		return p.High
	case SeverityMedium:
		return p.Medium
	case SeverityLow:
		return p.Low
	default:
		return 0
	}
}

// CategoryBreakdown represents the share of scoped alerts in one category.
type CategoryBreakdown struct {
	Category   Category `json:"category"`
	Count      int      `json:"count"`
	Percentage int      `json:"percentage"`
}

// Notification is raised when high-severity alerts enter the repository.
type Notification struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Severity    Severity  `json:"severity"`
	Count       int       `json:"count"`
	TenantID    string    `json:"tenantId,omitempty"`
	RaisedAt    time.Time `json:"raisedAt"`
}
