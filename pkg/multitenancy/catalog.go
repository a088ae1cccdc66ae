package multitenancy

import (
	"errors"
	"fmt"

	"github.com/quantumlayerhq/ql-threatwatch/pkg/models"
)

// ErrProjectTenantMismatch is returned when a project's TenantID does not
// match the tenant that owns it.
var ErrProjectTenantMismatch = errors.New("project does not belong to tenant")

// ErrDuplicateID is returned when a catalog holds two tenants or two projects
// with the same ID.
var ErrDuplicateID = errors.New("duplicate id in tenant catalog")

// Catalog is the static, validated set of tenants visible to a session.
type Catalog struct {
	tenants  []models.Tenant
	tenantIx map[string]int
	projects map[string][2]int
}

// NewCatalog validates the tenants and builds lookup indexes.
func NewCatalog(tenants []models.Tenant) (*Catalog, error) {
	c := &Catalog{
		tenants:  make([]models.Tenant, len(tenants)),
		tenantIx: make(map[string]int, len(tenants)),
		projects: make(map[string][2]int),
	}
	copy(c.tenants, tenants)

	for ti := range c.tenants {
		t := &c.tenants[ti]
		if _, dup := c.tenantIx[t.ID]; dup {
			return nil, fmt.Errorf("tenant %s: %w", t.ID, ErrDuplicateID)
		}
		c.tenantIx[t.ID] = ti

		for pi := range t.Projects {
			p := &t.Projects[pi]
			if p.TenantID != t.ID {
				return nil, fmt.Errorf("project %s (tenant %s, owner %s): %w",
					p.ID, p.TenantID, t.ID, ErrProjectTenantMismatch)
			}
			if _, dup := c.projects[p.ID]; dup {
				return nil, fmt.Errorf("project %s: %w", p.ID, ErrDuplicateID)
			}
			c.projects[p.ID] = [2]int{ti, pi}
		}
	}

	return c, nil
}

// MustCatalog is like NewCatalog but panics on an invalid catalog.
func MustCatalog(tenants []models.Tenant) *Catalog {
	c, err := NewCatalog(tenants)
	if err != nil {
		panic(err)
	}
	return c
}

// Tenants returns the tenants in catalog order. The returned slice is owned by
// the catalog and must not be modified.
func (c *Catalog) Tenants() []models.Tenant {
	return c.tenants
}

// TenantByID returns the tenant with the given ID.
func (c *Catalog) TenantByID(id string) (*models.Tenant, bool) {
	ix, ok := c.tenantIx[id]
	if !ok {
		return nil, false
	}
	return &c.tenants[ix], true
}

// ProjectByID returns the project with the given ID, whichever tenant owns it.
func (c *Catalog) ProjectByID(id string) (*models.Project, bool) {
	ix, ok := c.projects[id]
	if !ok {
		return nil, false
	}
	return &c.tenants[ix[0]].Projects[ix[1]], true
}

// DemoTenants returns the built-in demo catalog.
func DemoTenants() []models.Tenant {
	return []models.Tenant{
		{
			ID:   "t1",
			Name: "Acme Corp",
			Projects: []models.Project{
				{ID: "p1", Name: "Cloud Infrastructure", TenantID: "t1", Clusters: []string{"prod-us-east", "staging-us-east"}},
				{ID: "p2", Name: "Data Platform", TenantID: "t1", Clusters: []string{"data-prod", "data-dev"}},
			},
		},
		{
			ID:   "t2",
			Name: "TechStart Inc",
			Projects: []models.Project{
				{ID: "p3", Name: "Web Services", TenantID: "t2", Clusters: []string{"web-prod"}},
				{ID: "p4", Name: "Mobile Backend", TenantID: "t2", Clusters: []string{"mobile-prod", "mobile-staging"}},
				{ID: "p5", Name: "Analytics", TenantID: "t2", Clusters: []string{"analytics-prod"}},
			},
		},
		{
			ID:   "t3",
			Name: "DevOps Solutions",
			Projects: []models.Project{
				{ID: "p6", Name: "Security Platform", TenantID: "t3", Clusters: []string{"security-prod", "security-staging"}},
			},
		},
	}
}
