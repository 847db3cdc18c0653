package rbac

import (
	"context"
	"errors"
	"net/http"

	"github.com/platinummonkey/rampart/pkg/contextkeys"
	"github.com/platinummonkey/rampart/pkg/hierarchy"
	"github.com/platinummonkey/rampart/pkg/httputil"
	"github.com/platinummonkey/rampart/pkg/observability"
)

// WithPrincipal stores the authenticated principal in ctx
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return contextkeys.WithPrincipal(ctx, p)
}

// PrincipalFromContext returns the principal stored by WithPrincipal
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextkeys.PrincipalKey).(Principal)
	return p, ok
}

// ContainerFromContext returns the container resolved by
// RequireContainerPermission
func ContainerFromContext(ctx context.Context) (*hierarchy.Container, bool) {
	c, ok := ctx.Value(contextkeys.ContainerKey).(*hierarchy.Container)
	return c, ok && c != nil
}

// PermissionMiddleware guards HTTP handlers with authorization checks.
// It fails closed: a missing principal is 401, a denial 403, an unknown
// container 404 and any other failure 500.
type PermissionMiddleware struct {
	auth *Authorizer
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(auth *Authorizer) *PermissionMiddleware {
	return &PermissionMiddleware{auth: auth}
}

// check decides one request; ok reports whether the handler may run
type check func(r *http.Request, p Principal) (*http.Request, bool, error)

func (pm *PermissionMiddleware) guard(denied string, fn check) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				httputil.WriteUnauthorized(w, "Authentication required")
				return
			}

			r, allowed, err := fn(r, p)
			switch {
			case errors.Is(err, ErrNotFound), errors.Is(err, hierarchy.ErrNotFound):
				httputil.WriteNotFoundError(w, err.Error())
				return
			case err != nil:
				observability.FromContext(r.Context()).WithError(err).Error("permission check failed")
				httputil.WriteErrorMessage(w, http.StatusInternalServerError, "Permission check failed")
				return
			case !allowed:
				httputil.WriteForbidden(w, denied)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission requires the permission in global scope
func (pm *PermissionMiddleware) RequirePermission(name string) func(http.Handler) http.Handler {
	return pm.guard("Insufficient permissions", func(r *http.Request, p Principal) (*http.Request, bool, error) {
		ok, err := pm.auth.HasPermission(r.Context(), p, name, nil)
		return r, ok, err
	})
}

// RequireAnyPermission requires at least one of the permissions globally
func (pm *PermissionMiddleware) RequireAnyPermission(names ...string) func(http.Handler) http.Handler {
	return pm.guard("Insufficient permissions", func(r *http.Request, p Principal) (*http.Request, bool, error) {
		ok, err := pm.auth.HasAnyPermission(r.Context(), p, names, nil)
		return r, ok, err
	})
}

// RequireAllPermissions requires every one of the permissions globally
func (pm *PermissionMiddleware) RequireAllPermissions(names ...string) func(http.Handler) http.Handler {
	return pm.guard("Insufficient permissions", func(r *http.Request, p Principal) (*http.Request, bool, error) {
		ok, err := pm.auth.HasAllPermissions(r.Context(), p, names, nil)
		return r, ok, err
	})
}

// RequireRole requires the role in global scope
func (pm *PermissionMiddleware) RequireRole(name string) func(http.Handler) http.Handler {
	return pm.guard("Required role missing", func(r *http.Request, p Principal) (*http.Request, bool, error) {
		ok, err := pm.auth.HasRole(r.Context(), p, name, nil)
		return r, ok, err
	})
}

// RequireContainerPermission requires the permission in the container
// named by the route variable idVar, walking its ancestors when
// checkHierarchy is set. The resolved container is stored in the
// request context, except for global root holders who pass without
// resolving it.
func (pm *PermissionMiddleware) RequireContainerPermission(name string, kind hierarchy.Kind, idVar string, checkHierarchy bool) func(http.Handler) http.Handler {
	return pm.guard("Insufficient permissions for this "+string(kind), func(r *http.Request, p Principal) (*http.Request, bool, error) {
		id, err := httputil.ParsePathInt64(r, idVar)
		if err != nil {
			return r, false, errors.Join(ErrNotFound, err)
		}

		d, err := pm.auth.rootDecision(r.Context(), p, name, Context(string(kind), id))
		if err != nil || d != nil {
			return r, d != nil, err
		}

		c, err := pm.auth.Container(r.Context(), kind, id)
		if err != nil {
			return r, false, err
		}

		d, err = pm.auth.authorizeContainer(r.Context(), p, name, c, checkHierarchy)
		if err != nil {
			return r, false, err
		}
		return r.WithContext(contextkeys.WithContainer(r.Context(), c)), d.Allowed, nil
	})
}
