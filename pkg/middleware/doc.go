// Package middleware provides the HTTP middleware that sits in front of
// rampart's API: principal extraction and rate limiting.
//
// PrincipalMiddleware trusts an authenticating proxy to name the caller:
//
//	router.Use(middleware.NewPrincipalMiddleware("X-Principal", secret, false).Handler)
//
// RateLimitMiddleware keys identified callers by principal and anonymous
// callers by client IP. RateLimiter keeps token buckets in process;
// DistributedRateLimiter shares fixed-window counters through Redis.
package middleware
