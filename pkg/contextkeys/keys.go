// Package contextkeys provides centralized context key definitions
//
// All context keys shared between packages are defined here so that
// middleware, handlers and the logger agree on names and value types.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/rampart/pkg/contextkeys"
//	ctx = contextkeys.WithPrincipal(ctx, rbac.User(42))
//	p, ok := ctx.Value(contextkeys.PrincipalKey).(rbac.Principal)
package contextkeys

import (
	"context"
	"fmt"
	"time"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains rbac.Principal
	// Set by: middleware.PrincipalMiddleware (pkg/middleware/principal.go)
	// Required by: rbac.PermissionMiddleware, check handlers
	// Type: rbac.Principal
	PrincipalKey Key = "principal"

	// ContainerKey contains *hierarchy.Container
	// Set by: rbac.PermissionMiddleware after resolving a route container
	// Used by: Handlers scoped to an organization or partner
	// Type: *hierarchy.Container
	ContainerKey Key = "container"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, distributed tracing
	// Type: string
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: Observability middleware
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"

	// RequestStartTimeKey contains request start timestamp
	// Set by: httputil.RequestIDMiddleware
	// Used by: Duration calculation for access logs
	// Type: time.Time
	RequestStartTimeKey Key = "request_start_time"
)

// WithPrincipal adds the authenticated principal to the context
func WithPrincipal(ctx context.Context, principal interface{}) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// WithContainer adds the resolved container to the context
func WithContainer(ctx context.Context, container interface{}) context.Context {
	return context.WithValue(ctx, ContainerKey, container)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithRequestStartTime adds request start time to the context
func WithRequestStartTime(ctx context.Context, startTime time.Time) context.Context {
	return context.WithValue(ctx, RequestStartTimeKey, startTime)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetPrincipalString renders the principal stored in the context, or ""
func GetPrincipalString(ctx context.Context) string {
	if p, ok := ctx.Value(PrincipalKey).(fmt.Stringer); ok {
		return p.String()
	}
	return ""
}

// GetRequestStartTime retrieves the request start time from context
func GetRequestStartTime(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(RequestStartTimeKey).(time.Time)
	return t, ok
}
