// Package alertgen produces synthetic alerts for the demo tenants: the
// seed history a session starts with and the single alerts the feed
// simulator hands out.
package alertgen

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantumlayerhq/ql-threatwatch/pkg/models"
)

// ResourceTypes are the workload kinds an alert can point at.
var ResourceTypes = []string{"Pod", "ServiceAccount", "Deployment", "Service"}

// ClusterNames are the clusters generated alerts are attributed to.
var ClusterNames = []string{"prod-cluster", "staging-cluster", "dev-cluster"}

const (
	seedPerProject = 10
	seedWindow     = 7 * 24 * time.Hour
)

// recentSeeds are added to each tenant's first project so every tenant has
// something fresh on screen.
var recentSeeds = []struct {
	severity models.Severity
	category models.Category
	age      time.Duration
}{
	{models.SeverityHigh, models.CategoryRuntime, 30 * time.Minute},
	{models.SeverityCritical, models.CategoryIdentity, 4 * time.Hour},
	{models.SeverityMedium, models.CategoryConfig, 12 * time.Hour},
}

// Generator creates random alerts. It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// New creates a generator seeded from the runtime's entropy source.
func New() *Generator {
	return &Generator{
		rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now: time.Now,
	}
}

// NewSeeded creates a deterministic generator with a fixed clock.
func NewSeeded(seed uint64, now func() time.Time) *Generator {
	return &Generator{
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now: now,
	}
}

// Summary is the human-readable line shown for a generated alert.
func Summary(severity models.Severity, category models.Category, projectName string) string {
	return fmt.Sprintf("%s severity %s alert in %s", severity, category, projectName)
}

// Alert creates a random alert raised now in one of the tenant's projects,
// the way the create-alert endpoint does.
func (g *Generator) Alert(tenant models.Tenant) (models.Alert, error) {
	if len(tenant.Projects) == 0 {
		return models.Alert{}, fmt.Errorf("tenant %s has no projects", tenant.ID)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	project := tenant.Projects[g.rng.IntN(len(tenant.Projects))]
	severity := pick(g.rng, models.Severities)
	category := pick(g.rng, models.Categories)

	return models.Alert{
		ID:           fmt.Sprintf("%d-%s", now.UnixMilli(), g.suffixLocked()),
		Summary:      Summary(severity, category, project.Name),
		Severity:     severity,
		Category:     category,
		Timestamp:    now.UTC(),
		ResourceType: pick(g.rng, ResourceTypes),
		ClusterName:  pick(g.rng, ClusterNames),
		ProjectID:    project.ID,
		TenantID:     tenant.ID,
	}, nil
}

// suffixLocked returns nine random base-36 characters.
func (g *Generator) suffixLocked() string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, 9)
	for i := range b {
		b[i] = alphabet[g.rng.IntN(len(alphabet))]
	}
	return string(b)
}

// Seed builds the initial alert history: ten random alerts per project spread
// over the past week, plus a High, a Critical and a Medium alert in each
// tenant's first project from the last twelve hours. The result is newest
// first.
func (g *Generator) Seed(tenants []models.Tenant) []models.Alert {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	var alerts []models.Alert

	for _, tenant := range tenants {
		for _, project := range tenant.Projects {
			for i := 0; i < seedPerProject; i++ {
				age := time.Duration(g.rng.Int64N(int64(seedWindow)))
				alerts = append(alerts, g.seedAlertLocked(tenant.ID, project,
					pick(g.rng, models.Severities), pick(g.rng, models.Categories), now.Add(-age)))
			}
		}

		if len(tenant.Projects) == 0 {
			continue
		}
		first := tenant.Projects[0]
		for _, r := range recentSeeds {
			alerts = append(alerts, g.seedAlertLocked(tenant.ID, first, r.severity, r.category, now.Add(-r.age)))
		}
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Timestamp.After(alerts[j].Timestamp)
	})
	return alerts
}

func (g *Generator) seedAlertLocked(tenantID string, project models.Project, severity models.Severity, category models.Category, ts time.Time) models.Alert {
	return models.Alert{
		ID:           uuid.NewString(),
		Summary:      Summary(severity, category, project.Name),
		Severity:     severity,
		Category:     category,
		Timestamp:    ts.UTC(),
		ResourceType: pick(g.rng, ResourceTypes),
		ClusterName:  pick(g.rng, ClusterNames),
		ProjectID:    project.ID,
		TenantID:     tenantID,
	}
}

func pick[T any](rng *rand.Rand, items []T) T {
	return items[rng.IntN(len(items))]
}
