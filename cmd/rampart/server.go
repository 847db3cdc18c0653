package main

import (
	"context"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/rampart/pkg/config"
	"github.com/platinummonkey/rampart/pkg/httputil"
	"github.com/platinummonkey/rampart/pkg/middleware"
	"github.com/platinummonkey/rampart/pkg/observability"
	"github.com/platinummonkey/rampart/pkg/rbac"
)

// routeRegistrar is implemented by the audit and webhook handlers
type routeRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// newAPIHandler builds the public handler. The API lives under /v1; the
// admin registrars share the administration permission. Limiter cleanup
// goroutines stop with ctx.
func newAPIHandler(ctx context.Context, cfg *config.Config, manager *rbac.Manager, admin []routeRegistrar, metrics *observability.Metrics, redisClient *redis.Client, logger *observability.Logger) http.Handler {
	router := mux.NewRouter()
	if metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(metrics, routeTemplate))
	}
	v1 := router.PathPrefix("/v1").Subrouter()
	if len(admin) > 0 {
		adminRouter := v1.NewRoute().Subrouter()
		if cfg.RBAC.AdminPermission != "" {
			adminRouter.Use(manager.Middleware().RequirePermission(cfg.RBAC.AdminPermission))
		}
		for _, r := range admin {
			r.RegisterRoutes(adminRouter)
		}
	}
	manager.RegisterRoutes(v1, cfg.RBAC.AdminPermission)

	principals := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.Security.RateLimitPerMinute,
		WindowDuration:    middleware.PerPrincipalRateLimitConfig().WindowDuration,
		BurstSize:         cfg.Security.RateLimitBurst,
	}
	var principalLimiter, anonymousLimiter middleware.Limiter
	if redisClient != nil {
		principalLimiter = middleware.NewDistributedRateLimiter(redisClient, principals, "")
		anonymousLimiter = middleware.NewDistributedRateLimiter(redisClient, middleware.DefaultRateLimitConfig(), "rampart:ratelimit:anon")
	} else {
		local := middleware.NewRateLimiter(principals)
		local.StartCleanup(ctx)
		anon := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
		anon.StartCleanup(ctx)
		principalLimiter, anonymousLimiter = local, anon
	}

	var handler http.Handler = router
	if cfg.Security.RateLimitPerMinute > 0 {
		// limiter errors let requests through
		handler = middleware.NewRateLimitMiddleware(principalLimiter, anonymousLimiter, true, logger).Handler(handler)
	}

	handler = httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		observability.RecoveryMiddleware(logger),
		httputil.CORSMiddleware(cfg.Server.CORSOrigins),
		httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes),
		httputil.ContentTypeMiddleware,
		middleware.NewPrincipalMiddleware(cfg.Security.PrincipalHeader, cfg.Security.ProxySecret, cfg.Security.AllowAnonymous).Handler,
	)(handler)

	return otelhttp.NewHandler(handler, "rampart")
}

// newHealthHandler serves probes and metrics on the internal port
func newHealthHandler(checker *observability.HealthChecker, registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	observability.RegisterHealthRoutes(mux, checker)
	observability.RegisterMetricsEndpoint(mux, registry)
	return mux
}

// routeTemplate labels metrics with the matched route, not the raw path
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
