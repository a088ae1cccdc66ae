package multitenancy

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumlayerhq/ql-threatwatch/pkg/models"
)

type recordingObserver struct {
	calls []models.Scope
}

func (r *recordingObserver) ScopeChanged(_, next models.Scope) {
	r.calls = append(r.calls, next)
}

func newTestProvider(t *testing.T) (*Provider, *recordingObserver) {
	t.Helper()
	catalog, err := NewCatalog(DemoTenants())
	require.NoError(t, err)
	p := NewProvider(catalog, nil)
	obs := &recordingObserver{}
	p.Subscribe(obs)
	return p, obs
}

func TestNewCatalog(t *testing.T) {
	t.Run("demo catalog is valid", func(t *testing.T) {
		c, err := NewCatalog(DemoTenants())
		require.NoError(t, err)
		assert.Len(t, c.Tenants(), 3)

		p, ok := c.ProjectByID("p4")
		require.True(t, ok)
		assert.Equal(t, "Mobile Backend", p.Name)
		assert.Equal(t, "t2", p.TenantID)
	})

	t.Run("project owned by another tenant is rejected", func(t *testing.T) {
		tenants := []models.Tenant{{
			ID:       "t1",
			Projects: []models.Project{{ID: "p1", TenantID: "t2"}},
		}}
		_, err := NewCatalog(tenants)
		assert.ErrorIs(t, err, ErrProjectTenantMismatch)
	})

	t.Run("duplicate tenant id is rejected", func(t *testing.T) {
		_, err := NewCatalog([]models.Tenant{{ID: "t1"}, {ID: "t1"}})
		assert.ErrorIs(t, err, ErrDuplicateID)
	})

	t.Run("duplicate project id is rejected", func(t *testing.T) {
		tenants := []models.Tenant{
			{ID: "t1", Projects: []models.Project{{ID: "p1", TenantID: "t1"}}},
			{ID: "t2", Projects: []models.Project{{ID: "p1", TenantID: "t2"}}},
		}
		_, err := NewCatalog(tenants)
		assert.ErrorIs(t, err, ErrDuplicateID)
	})

	t.Run("must catalog panics on invalid input", func(t *testing.T) {
		assert.Panics(t, func() {
			MustCatalog([]models.Tenant{{ID: "t1"}, {ID: "t1"}})
		})
	})
}

func TestProvider_SetCurrentTenantClearsProject(t *testing.T) {
	p, obs := newTestProvider(t)

	require.True(t, p.SelectTenantByID("t1"))
	require.True(t, p.SelectProjectByID("p1"))
	assert.Equal(t, "p1", p.Current().ProjectID())

	t2, _ := p.TenantByID("t2")
	p.SetCurrentTenant(t2)

	scope := p.Current()
	assert.Equal(t, "t2", scope.TenantID())
	assert.Nil(t, scope.Project)
	assert.Len(t, obs.calls, 3)
}

func TestProvider_SetCurrentProjectRejectsForeignProject(t *testing.T) {
	p, obs := newTestProvider(t)
	require.True(t, p.SelectTenantByID("t1"))
	require.True(t, p.SelectProjectByID("p2"))
	callsBefore := len(obs.calls)

	p3, ok := p.ProjectByID("p3")
	require.True(t, ok)

	assert.False(t, p.SetCurrentProject(p3))
	assert.Equal(t, "t1", p.Current().TenantID())
	assert.Equal(t, "p2", p.Current().ProjectID())
	assert.Len(t, obs.calls, callsBefore, "rejected transition must not notify")
}

func TestProvider_SetCurrentProjectWithoutTenant(t *testing.T) {
	p, obs := newTestProvider(t)
	p1, _ := p.ProjectByID("p1")

	assert.False(t, p.SetCurrentProject(p1))
	assert.True(t, p.Current().IsEmpty())
	assert.Empty(t, obs.calls)
}

func TestProvider_ClearProject(t *testing.T) {
	p, obs := newTestProvider(t)
	require.True(t, p.SelectTenantByID("t3"))
	require.True(t, p.SelectProjectByID("p6"))

	assert.True(t, p.SetCurrentProject(nil))
	assert.Nil(t, p.Current().Project)
	assert.Equal(t, "t3", p.Current().TenantID())
	assert.Len(t, obs.calls, 3)
}

func TestProvider_CurrentTenantProjects(t *testing.T) {
	p, _ := newTestProvider(t)
	assert.Nil(t, p.CurrentTenantProjects())

	require.True(t, p.SelectTenantByID("t2"))
	projects := p.CurrentTenantProjects()
	require.Len(t, projects, 3)
	assert.Equal(t, "p3", projects[0].ID)
	assert.Equal(t, "p5", projects[2].ID)
}

func TestProvider_UnknownIDs(t *testing.T) {
	p, obs := newTestProvider(t)
	assert.False(t, p.SelectTenantByID("t9"))
	assert.False(t, p.SelectProjectByID("p9"))
	assert.Empty(t, obs.calls)
}

func TestProvider_ObserverSeesPreviousAndNext(t *testing.T) {
	p, _ := newTestProvider(t)

	var prevs, nexts []string
	p.Subscribe(ObserverFunc(func(prev, next models.Scope) {
		prevs = append(prevs, prev.TenantID())
		nexts = append(nexts, next.TenantID())
	}))

	p.SelectTenantByID("t1")
	p.SelectTenantByID("t2")
	p.SetCurrentTenant(nil)

	assert.Equal(t, []string{"", "t1", "t2"}, prevs)
	assert.Equal(t, []string{"t1", "t2", ""}, nexts)
}

func TestMiddleware_RequireTenant(t *testing.T) {
	m := NewMiddleware(MustCatalog(DemoTenants()))

	var seen *models.Tenant
	handler := m.RequireTenant()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetTenantFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantTenant string
	}{
		{"known tenant", `{"tenantId":"t2"}`, http.StatusOK, "t2"},
		{"missing tenant", `{}`, http.StatusBadRequest, ""},
		{"malformed body", `not json`, http.StatusBadRequest, ""},
		{"unknown tenant", `{"tenantId":"t42"}`, http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodPost, "/api/create-alert", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantTenant == "" {
				assert.Nil(t, seen)
				assert.Contains(t, rec.Body.String(), `"error"`)
				return
			}
			require.NotNil(t, seen)
			assert.Equal(t, tt.wantTenant, seen.ID)
		})
	}
}
