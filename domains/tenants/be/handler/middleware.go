package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaycore/courier/domains/tenants/be/service"
	"github.com/relaycore/courier/platform/go/httpjson"
	platformlogging "github.com/relaycore/courier/platform/go/logging"
	"github.com/relaycore/courier/platform/go/tenant"
)

// TenantHeader carries the caller's tenant on data-plane requests.
const TenantHeader = "X-Tenant-ID"

// Resolver resolves a tenant id to its connection descriptor.
type Resolver interface {
	Resolve(ctx context.Context, id uuid.UUID) (tenant.Descriptor, error)
}

// RequireTenant resolves the X-Tenant-ID header and stores the descriptor in
// the request context. Requests without a resolvable active tenant never reach
// the wrapped handler.
func RequireTenant(resolver Resolver, logger *zap.Logger) func(http.Handler) http.Handler {
	if resolver == nil {
		panic("tenant resolver is required")
	}
	if logger == nil {
		panic("logger is required")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(TenantHeader)
			if raw == "" {
				httpjson.Error(w, http.StatusBadRequest, "Missing tenant header", TenantHeader+" is required")
				return
			}
			id, err := uuid.Parse(raw)
			if err != nil {
				httpjson.Error(w, http.StatusBadRequest, "Invalid tenant id", err.Error())
				return
			}

			desc, err := resolver.Resolve(r.Context(), id)
			switch {
			case errors.Is(err, service.ErrNotFound):
				httpjson.Error(w, http.StatusNotFound, "Tenant not found", "")
				return
			case errors.Is(err, service.ErrSuspended):
				httpjson.Error(w, http.StatusForbidden, "Tenant suspended", "")
				return
			case err != nil:
				platformlogging.FromRequest(r, logger).Error("resolve tenant", zap.Error(err))
				httpjson.Error(w, http.StatusInternalServerError, "Internal error", "")
				return
			}

			next.ServeHTTP(w, r.WithContext(tenant.WithDescriptor(r.Context(), desc)))
		})
	}
}
