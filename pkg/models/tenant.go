// Package models contains domain models shared by the dashboard components.
package models

import "time"

// Tenant represents a customer organization. It owns an ordered list of projects.
type Tenant struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Projects []Project `json:"projects"`
}

// Project represents a project within a tenant. TenantID is a back-reference
// to the owning tenant, never an ownership pointer.
type Project struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	TenantID string   `json:"tenantId"`
	Clusters []string `json:"clusters"`
}

// Project returns the tenant's project with the given ID.
func (t *Tenant) Project(id string) (*Project, bool) {
	for i := range t.Projects {
		if t.Projects[i].ID == id {
			return &t.Projects[i], true
		}
	}
	return nil, false
}

// ProjectName resolves a project ID to its display name, falling back to the ID.
func (t *Tenant) ProjectName(projectID string) string {
	if t == nil {
		return projectID
	}
	if p, ok := t.Project(projectID); ok {
		return p.Name
	}
	return projectID
}

// Scope is the tenant and optional project the dashboard is currently viewing.
// A nil Tenant means every tenant is visible.
type Scope struct {
	Tenant  *Tenant  `json:"tenant,omitempty"`
	Project *Project `json:"project,omitempty"`
}

// TenantID returns the scoped tenant ID, or "" if unscoped.
func (s Scope) TenantID() string {
	if s.Tenant == nil {
		return ""
	}
	return s.Tenant.ID
}

// ProjectID returns the scoped project ID, or "" if unscoped.
func (s Scope) ProjectID() string {
	if s.Project == nil {
		return ""
	}
	return s.Project.ID
}

// IsEmpty reports whether no tenant is selected.
func (s Scope) IsEmpty() bool {
	return s.Tenant == nil
}

// Contains reports whether an alert falls within the scope.
func (s Scope) Contains(a Alert) bool {
	if s.Tenant != nil && a.TenantID != s.Tenant.ID {
		return false
	}
	if s.Project != nil && a.ProjectID != s.Project.ID {
		return false
	}
	return true
}

// Role is the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// IsValid checks if the role is valid.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Message is one turn in the assistant conversation. Content grows while the
// assistant response streams in.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
