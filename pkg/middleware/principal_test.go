package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/rampart/pkg/rbac"
)

func TestPrincipalMiddleware(t *testing.T) {
	tests := []struct {
		name          string
		secret        string
		optional      bool
		headers       map[string]string
		wantStatus    int
		wantPrincipal *rbac.Principal
	}{
		{
			name:          "valid principal",
			headers:       map[string]string{"X-Principal": "user:42"},
			wantStatus:    http.StatusOK,
			wantPrincipal: &rbac.Principal{Type: "user", ID: 42},
		},
		{
			name:       "missing header",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "missing header optional",
			optional:   true,
			wantStatus: http.StatusOK,
		},
		{
			name:       "malformed header",
			headers:    map[string]string{"X-Principal": "42"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:          "secret matches",
			secret:        "s3cret",
			headers:       map[string]string{"X-Principal": "service:7", "Authorization": "Bearer s3cret"},
			wantStatus:    http.StatusOK,
			wantPrincipal: &rbac.Principal{Type: "service", ID: 7},
		},
		{
			name:       "secret mismatch",
			secret:     "s3cret",
			headers:    map[string]string{"X-Principal": "service:7", "Authorization": "Bearer wrong"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "secret missing",
			secret:     "s3cret",
			optional:   true,
			headers:    map[string]string{"X-Principal": "service:7"},
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *rbac.Principal
			h := NewPrincipalMiddleware("", tt.secret, tt.optional).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if p, ok := rbac.PrincipalFromContext(r.Context()); ok {
					got = &p
				}
			}))

			req := httptest.NewRequest("GET", "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantPrincipal, got)
		})
	}
}

func TestPrincipalMiddlewareCustomHeader(t *testing.T) {
	var got rbac.Principal
	h := NewPrincipalMiddleware("X-Forwarded-User", "", false).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = rbac.PrincipalFromContext(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Forwarded-User", "user:3")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, rbac.User(3), got)
}
