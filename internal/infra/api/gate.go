package api

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/infra/logging"
)

// ModuleChecker answers whether a tenant is entitled to a module.
type ModuleChecker interface {
	HasModule(ctx context.Context, tenantID int64, module model.Module) (bool, error)
}

// RequireModule gates a handler on a module entitlement. Host services
// mount it on their own routes; tenantOf extracts the tenant from the request.
func RequireModule(checker ModuleChecker, module model.Module, tenantOf func(*http.Request) (int64, bool), logger *zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID, ok := tenantOf(r)
			if !ok {
				writeError(w, r, errUnauthorized)
				return
			}
			allowed, err := checker.HasModule(r.Context(), tenantID, module)
			if err != nil {
				l := logging.With(r.Context(), logger)
				l.Error().Err(err).Str("module", string(module)).Msg("entitlement check failed")
				writeError(w, r, err)
				return
			}
			if !allowed {
				writeError(w, r, errNotEntitled)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TenantFromPath reads the tenant resolved by the {tenantID} route scope.
func TenantFromPath(r *http.Request) (int64, bool) {
	id := tenantFrom(r)
	return id, id > 0
}
