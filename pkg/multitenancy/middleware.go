package multitenancy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/quantumlayerhq/ql-threatwatch/pkg/models"
)

// ContextKey is the type for context keys.
type ContextKey string

const (
	// ContextKeyTenant is the context key for the resolved tenant.
	ContextKeyTenant ContextKey = "scope_tenant"
)

// maxTenantBody bounds how much of a request body is buffered to find the tenant.
const maxTenantBody = 1 << 20

// Middleware provides HTTP middleware resolving the tenant named in a request.
type Middleware struct {
	catalog *Catalog
}

// NewMiddleware creates a new tenant middleware over the catalog.
func NewMiddleware(catalog *Catalog) *Middleware {
	return &Middleware{catalog: catalog}
}

// RequireTenant returns middleware that reads {"tenantId": "..."} from the JSON
// body, rejects missing (400) or unknown (404) tenants, and stores the tenant
// in the request context. The body is restored for downstream handlers.
func (m *Middleware) RequireTenant() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := io.ReadAll(io.LimitReader(r.Body, maxTenantBody))
			if err != nil {
				writeError(w, http.StatusBadRequest, "tenantId is required")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(raw))

			var body struct {
				TenantID string `json:"tenantId"`
			}
			// A malformed body is treated like a missing tenant.
			_ = json.Unmarshal(raw, &body)
			if body.TenantID == "" {
				writeError(w, http.StatusBadRequest, "tenantId is required")
				return
			}

			tenant, ok := m.catalog.TenantByID(body.TenantID)
			if !ok {
				writeError(w, http.StatusNotFound, "Tenant not found")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyTenant, tenant)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetTenantFromContext returns the tenant resolved by RequireTenant.
func GetTenantFromContext(ctx context.Context) *models.Tenant {
	if v := ctx.Value(ContextKeyTenant); v != nil {
		if t, ok := v.(*models.Tenant); ok {
			return t
		}
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
