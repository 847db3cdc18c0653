package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/platinummonkey/rampart/pkg/httputil"
	"github.com/platinummonkey/rampart/pkg/rbac"
)

// DefaultPrincipalHeader names the header carrying "type:id"
const DefaultPrincipalHeader = "X-Principal"

// PrincipalMiddleware trusts an upstream proxy to authenticate callers
// and to name them in a header. When a shared secret is configured the
// proxy must also present it as a bearer token.
type PrincipalMiddleware struct {
	header   string
	secret   string
	optional bool
}

// NewPrincipalMiddleware creates a principal middleware. With optional
// set, requests without the header pass through anonymously.
func NewPrincipalMiddleware(header, secret string, optional bool) *PrincipalMiddleware {
	if header == "" {
		header = DefaultPrincipalHeader
	}
	return &PrincipalMiddleware{
		header:   header,
		secret:   secret,
		optional: optional,
	}
}

// Handler wraps an HTTP handler with principal extraction
func (m *PrincipalMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.secret != "" && !m.validSecret(r) {
			httputil.WriteUnauthorized(w, "invalid proxy credentials")
			return
		}

		raw := r.Header.Get(m.header)
		if raw == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing "+m.header+" header")
			return
		}

		p, err := rbac.ParsePrincipal(raw)
		if err != nil {
			httputil.WriteUnauthorized(w, "invalid "+m.header+" header")
			return
		}

		next.ServeHTTP(w, r.WithContext(rbac.WithPrincipal(r.Context(), p)))
	})
}

// validSecret expects "Authorization: Bearer <secret>"
func (m *PrincipalMiddleware) validSecret(r *http.Request) bool {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || scheme != "Bearer" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(m.secret)) == 1
}
