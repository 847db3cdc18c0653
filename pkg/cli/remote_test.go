package cli

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/rampart/pkg/database"
	"github.com/platinummonkey/rampart/pkg/hierarchy"
	"github.com/platinummonkey/rampart/pkg/middleware"
	"github.com/platinummonkey/rampart/pkg/observability"
	"github.com/platinummonkey/rampart/pkg/rbac"
)

const testSecret = "s3cret"

func newTestServer(t *testing.T) (*rbac.Manager, *httptest.Server) {
	t.Helper()
	ctx := context.Background()

	m, err := rbac.NewManager(rbac.Deps{
		DB:     database.NewTestSQLite(t),
		Logger: observability.NewLogger(observability.ErrorLevel, os.Stderr),
	}, rbac.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, m.Initialize(ctx))

	_, err = m.Store().EnsurePermission(ctx, "edit-posts", "")
	require.NoError(t, err)
	_, err = m.Assignments().AssignRole(ctx, rbac.User(1), rbac.RoleNamed(rbac.RootRole), nil, rbac.Window{})
	require.NoError(t, err)

	router := mux.NewRouter()
	m.RegisterRoutes(router.PathPrefix("/v1").Subrouter(), "manage-rbac")

	srv := httptest.NewServer(middleware.NewPrincipalMiddleware("", testSecret, true).Handler(router))
	t.Cleanup(srv.Close)
	return m, srv
}

// run executes one command as principal against srv
func run(t *testing.T, srv *httptest.Server, principal string, newCmd func(*env) *Command, args ...string) (string, error) {
	t.Helper()
	e, out := newTestEnv(map[string]string{
		"RAMPART_SERVER":       srv.URL + "/v1",
		"RAMPART_PRINCIPAL":    principal,
		"RAMPART_PROXY_SECRET": testSecret,
	})
	err := newCmd(e).Run(args)
	return out.String(), err
}

func TestGrantCheckRevoke(t *testing.T) {
	_, srv := newTestServer(t)

	out, err := run(t, srv, "user:1", newGrantCommand,
		"--principal", "user:2", "--permission", "edit-posts", "--context", "team:3")
	require.NoError(t, err)
	var granted map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &granted))
	assert.Equal(t, "edit-posts", granted["permission_name"])

	out, err = run(t, srv, "user:2", newCheckCommand, "--permission", "edit-posts", "--context", "team:3")
	require.NoError(t, err)
	var d rbac.Decision
	require.NoError(t, json.Unmarshal([]byte(out), &d))
	assert.True(t, d.Allowed)
	assert.Equal(t, rbac.User(2), d.Principal)

	_, err = run(t, srv, "user:2", newCheckCommand, "--permission", "edit-posts")
	assert.ErrorIs(t, err, ErrDenied)

	out, err = run(t, srv, "user:1", newEffectiveCommand, "--principal", "user:2", "--context", "team:3")
	require.NoError(t, err)
	assert.Contains(t, out, "edit-posts")

	out, err = run(t, srv, "user:1", newRevokeCommand,
		"--principal", "user:2", "--permission", "edit-posts", "--context", "team:3")
	require.NoError(t, err)
	assert.JSONEq(t, `{"removed": 1}`, out)

	_, err = run(t, srv, "user:2", newCheckCommand, "--permission", "edit-posts", "--context", "team:3")
	assert.ErrorIs(t, err, ErrDenied)
}

func TestGrantRequiresAdmin(t *testing.T) {
	_, srv := newTestServer(t)

	_, err := run(t, srv, "user:2", newGrantCommand, "--principal", "user:2", "--role", "root")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 403, apiErr.Status)
}

func TestRemoteFlagValidation(t *testing.T) {
	_, srv := newTestServer(t)

	tests := []struct {
		name   string
		newCmd func(*env) *Command
		args   []string
		want   string
	}{
		{"check without permission", newCheckCommand, nil, "permission is required"},
		{"check-in without id", newCheckInCommand, []string{"--permission", "x"}, "permission and id are required"},
		{"grant without principal", newGrantCommand, []string{"--role", "x"}, "principal is required"},
		{"grant with both", newGrantCommand, []string{"--principal", "user:1", "--role", "x", "--permission", "y"}, "exactly one"},
		{"revoke with neither", newRevokeCommand, []string{"--principal", "user:1"}, "exactly one"},
		{"bad expiry", newGrantCommand, []string{"--principal", "user:1", "--role", "x", "--expires", "soon"}, "invalid expires time"},
		{"bad relation", newHierarchyCommand, []string{"--id", "1", "--relation", "cousins"}, "unknown relation"},
		{"effective without principal", newEffectiveCommand, nil, "principal is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, srv, "user:1", tt.newCmd, tt.args...)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestWrongSecretIsRejected(t *testing.T) {
	_, srv := newTestServer(t)

	e, _ := newTestEnv(map[string]string{"RAMPART_SERVER": srv.URL + "/v1"})
	err := newCheckCommand(e).Run([]string{"--as", "user:1", "--secret", "nope", "--permission", "edit-posts"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.Status)
	assert.Equal(t, "invalid proxy credentials", apiErr.Message)
}

func TestHierarchyAndCheckIn(t *testing.T) {
	m, srv := newTestServer(t)
	ctx := context.Background()

	orgs, ok := m.Containers(hierarchy.KindOrganization)
	require.True(t, ok)
	parent := &hierarchy.Container{Name: "acme"}
	require.NoError(t, orgs.Create(ctx, parent))
	child := &hierarchy.Container{Name: "acme-eu", ParentID: &parent.ID}
	require.NoError(t, orgs.Create(ctx, child))

	_, err := m.Store().EnsurePermission(ctx, "view-reports", "")
	require.NoError(t, err)
	_, err = m.Assignments().AssignPermission(ctx, rbac.User(3), rbac.PermissionNamed("view-reports"),
		rbac.Context(string(hierarchy.KindOrganization), parent.ID), rbac.Window{})
	require.NoError(t, err)

	out, err := run(t, srv, "user:1", newHierarchyCommand, "--id", itoa(child.ID))
	require.NoError(t, err)
	var ancestors []hierarchy.Container
	require.NoError(t, json.Unmarshal([]byte(out), &ancestors))
	require.Len(t, ancestors, 1)
	assert.Equal(t, parent.ID, ancestors[0].ID)

	out, err = run(t, srv, "user:3", newCheckInCommand, "--permission", "view-reports", "--id", itoa(child.ID))
	require.NoError(t, err)
	var d rbac.Decision
	require.NoError(t, json.Unmarshal([]byte(out), &d))
	assert.True(t, d.Allowed)
	require.NotNil(t, d.Via)
	assert.Equal(t, parent.ID, d.Via.ID)

	_, err = run(t, srv, "user:3", newCheckInCommand,
		"--permission", "view-reports", "--id", itoa(child.ID), "--no-hierarchy")
	assert.ErrorIs(t, err, ErrDenied)
}
