// Package multitenancy tracks which tenant and project a dashboard session is
// scoped to and tells interested components when that changes.
package multitenancy

import (
	"sync"

	"github.com/quantumlayerhq/ql-threatwatch/pkg/logger"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/models"
)

// Observer is notified after every accepted scope transition. Observers are
// called synchronously, in registration order, outside the provider lock.
type Observer interface {
	ScopeChanged(prev, next models.Scope)
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(prev, next models.Scope)

// ScopeChanged calls f(prev, next).
func (f ObserverFunc) ScopeChanged(prev, next models.Scope) {
	f(prev, next)
}

// Provider holds the current tenant/project scope.
type Provider struct {
	catalog *Catalog
	log     *logger.Logger

	mu        sync.RWMutex
	scope     models.Scope
	observers []Observer
}

// NewProvider creates a scope provider over the given catalog. The initial
// scope is empty.
func NewProvider(catalog *Catalog, log *logger.Logger) *Provider {
	if log == nil {
		log = logger.Nop()
	}
	return &Provider{
		catalog: catalog,
		log:     log.WithComponent("scope"),
	}
}

// Subscribe registers an observer for scope changes.
func (p *Provider) Subscribe(o Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, o)
}

// Current returns the current scope.
func (p *Provider) Current() models.Scope {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.scope
}

// Tenants returns all tenants in the catalog.
func (p *Provider) Tenants() []models.Tenant {
	return p.catalog.Tenants()
}

// TenantByID looks up a tenant in the catalog.
func (p *Provider) TenantByID(id string) (*models.Tenant, bool) {
	return p.catalog.TenantByID(id)
}

// ProjectByID looks up a project in the catalog.
func (p *Provider) ProjectByID(id string) (*models.Project, bool) {
	return p.catalog.ProjectByID(id)
}

// CurrentTenantProjects returns the projects of the current tenant, or nil if
// no tenant is selected.
func (p *Provider) CurrentTenantProjects() []models.Project {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.scope.Tenant == nil {
		return nil
	}
	return p.scope.Tenant.Projects
}

// SetCurrentTenant replaces the current tenant and always clears the project.
// A nil tenant returns the session to the unscoped state.
func (p *Provider) SetCurrentTenant(tenant *models.Tenant) {
	p.mu.Lock()
	prev := p.scope
	p.scope = models.Scope{Tenant: tenant}
	next := p.scope
	observers := p.snapshotObservers()
	p.mu.Unlock()

	p.log.Debug("tenant changed", "from", prev.TenantID(), "to", next.TenantID())
	notify(observers, prev, next)
}

// SetCurrentProject selects a project within the current tenant. A nil project
// clears the project. A project that does not belong to the current tenant is
// rejected: the scope is left unchanged, no observer is called, and false is
// returned.
func (p *Provider) SetCurrentProject(project *models.Project) bool {
	p.mu.Lock()
	if project != nil && (p.scope.Tenant == nil || project.TenantID != p.scope.Tenant.ID) {
		current := p.scope.TenantID()
		p.mu.Unlock()
		p.log.Debug("project rejected", "project_id", project.ID, "project_tenant", project.TenantID, "current_tenant", current)
		return false
	}
	prev := p.scope
	p.scope.Project = project
	next := p.scope
	observers := p.snapshotObservers()
	p.mu.Unlock()

	p.log.Debug("project changed", "from", prev.ProjectID(), "to", next.ProjectID())
	notify(observers, prev, next)
	return true
}

// SelectTenantByID is a convenience wrapper resolving the tenant through the
// catalog. It returns false if the tenant is unknown.
func (p *Provider) SelectTenantByID(id string) bool {
	t, ok := p.catalog.TenantByID(id)
	if !ok {
		return false
	}
	p.SetCurrentTenant(t)
	return true
}

// SelectProjectByID resolves the project through the catalog and applies the
// same ownership rule as SetCurrentProject.
func (p *Provider) SelectProjectByID(id string) bool {
	proj, ok := p.catalog.ProjectByID(id)
	if !ok {
		return false
	}
	return p.SetCurrentProject(proj)
}

func (p *Provider) snapshotObservers() []Observer {
	out := make([]Observer, len(p.observers))
	copy(out, p.observers)
	return out
}

func notify(observers []Observer, prev, next models.Scope) {
	for _, o := range observers {
		o.ScopeChanged(prev, next)
	}
}
