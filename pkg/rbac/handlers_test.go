package rbac

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/rampart/pkg/hierarchy"
)

type invalidations struct {
	ids []int64
}

func (i *invalidations) Invalidate(_ context.Context, id int64) error {
	i.ids = append(i.ids, id)
	return nil
}

func newTestRouter(t *testing.T) (*fixture, *mux.Router, *invalidations) {
	t.Helper()
	f := newFixture(t)
	inv := &invalidations{}
	router := mux.NewRouter()
	NewHandlers(f.auth, f.manager).
		WithContainers(f.orgs, inv).
		RegisterRoutes(router, nil)
	return f, router, inv
}

func do(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v))
}

func TestCheckHandler(t *testing.T) {
	f, router, _ := newTestRouter(t)
	ctx := context.Background()
	f.role(t, "editor", "edit-posts")
	_, err := f.manager.AssignRole(ctx, User(5), RoleNamed("editor"), Context("team", 3), Window{})
	require.NoError(t, err)

	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
		wantAllow  bool
	}{
		{"allowed in context", CheckRequest{Principal: "user:5", Permission: "edit-posts", Context: "team:3"}, http.StatusOK, true},
		{"denied globally", CheckRequest{Principal: "user:5", Permission: "edit-posts"}, http.StatusOK, false},
		{"unknown permission", CheckRequest{Principal: "user:5", Permission: "nope"}, http.StatusOK, false},
		{"missing permission", CheckRequest{Principal: "user:5"}, http.StatusBadRequest, false},
		{"bad principal", CheckRequest{Principal: "5", Permission: "edit-posts"}, http.StatusBadRequest, false},
		{"bad context", CheckRequest{Principal: "user:5", Permission: "edit-posts", Context: "team"}, http.StatusBadRequest, false},
		{"no principal", CheckRequest{Permission: "edit-posts"}, http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, router, "POST", "/check", tt.body)
			require.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			if tt.wantStatus != http.StatusOK {
				return
			}
			var d Decision
			decode(t, rr, &d)
			assert.Equal(t, tt.wantAllow, d.Allowed)
		})
	}
}

func TestCheckHandlerDefaultsToCaller(t *testing.T) {
	f, _, _ := newTestRouter(t)
	f.perm(t, "export")
	_, err := f.manager.AssignPermission(context.Background(), User(2), PermissionNamed("export"), nil, Window{})
	require.NoError(t, err)

	h := NewHandlers(f.auth, f.manager)
	req := httptest.NewRequest("POST", "/check", bytes.NewBufferString(`{"permission":"export"}`))
	req = req.WithContext(WithPrincipal(req.Context(), User(2)))
	rr := httptest.NewRecorder()
	h.Check(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var d Decision
	decode(t, rr, &d)
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonDirect, d.Reason)
	assert.Equal(t, User(2), d.Principal)
}

func TestCheckContainerHandler(t *testing.T) {
	f, router, _ := newTestRouter(t)
	ctx := context.Background()
	root := f.org(t, "acme", nil)
	child := f.org(t, "acme-eu", root)
	f.perm(t, "view-reports")
	_, err := f.manager.AssignPermission(ctx, User(1), PermissionNamed("view-reports"), Context("organization", root.ID), Window{})
	require.NoError(t, err)

	no := false
	rr := do(t, router, "POST", "/check/container", ContainerCheckRequest{
		Principal: "user:1", Permission: "view-reports", Kind: "organization", ID: child.ID,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var d Decision
	decode(t, rr, &d)
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonAncestor, d.Reason)
	require.NotNil(t, d.Via)
	assert.Equal(t, root.ID, d.Via.ID)

	rr = do(t, router, "POST", "/check/container", ContainerCheckRequest{
		Principal: "user:1", Permission: "view-reports", Kind: "organization", ID: child.ID, CheckHierarchy: &no,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	decode(t, rr, &d)
	assert.False(t, d.Allowed)

	rr = do(t, router, "POST", "/check/container", ContainerCheckRequest{
		Principal: "user:1", Permission: "view-reports", Kind: "organization", ID: 999,
	})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, router, "POST", "/check/container", ContainerCheckRequest{
		Principal: "user:1", Permission: "view-reports", Kind: "galaxy", ID: 1,
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, "POST", "/check/container", ContainerCheckRequest{Principal: "user:1", Permission: "view-reports"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRoleCatalogHandlers(t *testing.T) {
	_, router, _ := newTestRouter(t)

	rr := do(t, router, "POST", "/roles", map[string]string{"name": "auditor", "label": "Auditor"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var role Role
	decode(t, rr, &role)
	assert.Equal(t, "auditor", role.Name)
	assert.Equal(t, DefaultGuard, role.GuardName)

	rr = do(t, router, "POST", "/roles", map[string]string{"name": "auditor"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, router, "POST", "/roles", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, "POST", "/permissions", map[string]string{"name": "read-ledger"})
	require.Equal(t, http.StatusCreated, rr.Code)
	var perm Permission
	decode(t, rr, &perm)

	rr = do(t, router, "POST", fmt.Sprintf("/roles/%d/permissions", role.ID), GrantRequest{Name: "read-ledger"})
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

	rr = do(t, router, "GET", fmt.Sprintf("/roles/%d/permissions", role.ID), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var perms []Permission
	decode(t, rr, &perms)
	require.Len(t, perms, 1)
	assert.Equal(t, "read-ledger", perms[0].Name)

	rr = do(t, router, "POST", fmt.Sprintf("/roles/%d/permissions", role.ID), GrantRequest{Name: "missing"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, router, "DELETE", fmt.Sprintf("/roles/%d/permissions/%d", role.ID, perm.ID), nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = do(t, router, "GET", "/roles", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var roles []Role
	decode(t, rr, &roles)
	assert.Len(t, roles, 1)

	rr = do(t, router, "DELETE", fmt.Sprintf("/roles/%d", role.ID), nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = do(t, router, "GET", fmt.Sprintf("/roles/%d", role.ID), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = do(t, router, "GET", "/roles/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, "DELETE", fmt.Sprintf("/permissions/%d", perm.ID), nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = do(t, router, "DELETE", fmt.Sprintf("/permissions/%d", perm.ID), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAssignmentHandlers(t *testing.T) {
	f, router, _ := newTestRouter(t)
	f.role(t, "writer", "write")
	f.perm(t, "publish")

	rr := do(t, router, "POST", "/principals/user:7/roles", GrantRequest{Name: "writer", Context: "team:1"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var ra RoleAssignment
	decode(t, rr, &ra)
	assert.Equal(t, "writer", ra.RoleName)
	assert.Equal(t, Context("team", 1), ra.Context)

	rr = do(t, router, "POST", "/principals/user:7/permissions", GrantRequest{Name: "publish"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = do(t, router, "POST", "/principals/user:7/roles", GrantRequest{Name: "ghost"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = do(t, router, "POST", "/principals/user:7/roles", GrantRequest{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = do(t, router, "POST", "/principals/user:7/roles", GrantRequest{Name: "writer", ActivatedAt: at(0), ExpiredAt: at(-1)})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = do(t, router, "POST", "/principals/bogus/roles", GrantRequest{Name: "writer"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, "GET", "/principals/user:7/roles", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var roles []RoleAssignment
	decode(t, rr, &roles)
	assert.Len(t, roles, 1)

	rr = do(t, router, "GET", "/principals/user:7/effective?context=team:1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var eff struct {
		Permissions []string `json:"permissions"`
	}
	decode(t, rr, &eff)
	assert.Equal(t, []string{"write"}, eff.Permissions)

	rr = do(t, router, "GET", "/principals/user:7/effective", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decode(t, rr, &eff)
	assert.Equal(t, []string{"publish"}, eff.Permissions)

	// global revoke leaves the team-scoped grant alone
	rr = do(t, router, "DELETE", "/principals/user:7/roles/writer", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var removed map[string]int64
	decode(t, rr, &removed)
	assert.EqualValues(t, 0, removed["removed"])

	rr = do(t, router, "DELETE", "/principals/user:7/roles/writer?context=team:1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decode(t, rr, &removed)
	assert.EqualValues(t, 1, removed["removed"])

	rr = do(t, router, "DELETE", "/principals/user:7/permissions/publish", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decode(t, rr, &removed)
	assert.EqualValues(t, 1, removed["removed"])

	rr = do(t, router, "GET", "/principals/user:7/permissions", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var perms []PermissionAssignment
	decode(t, rr, &perms)
	assert.Empty(t, perms)
}

func TestContainerHandlers(t *testing.T) {
	_, router, inv := newTestRouter(t)

	create := func(name string, parent *int64) hierarchy.Container {
		rr := do(t, router, "POST", "/containers/organization", map[string]interface{}{"name": name, "parent_id": parent})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		var c hierarchy.Container
		decode(t, rr, &c)
		return c
	}

	root := create("acme", nil)
	mid := create("acme-eu", &root.ID)
	leaf := create("acme-eu-fr", &mid.ID)

	rr := do(t, router, "GET", fmt.Sprintf("/containers/organization/%d/ancestors", leaf.ID), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var chain []hierarchy.Container
	decode(t, rr, &chain)
	require.Len(t, chain, 2)
	assert.Equal(t, mid.ID, chain[0].ID)
	assert.Equal(t, root.ID, chain[1].ID)

	rr = do(t, router, "GET", fmt.Sprintf("/containers/organization/%d/descendants", root.ID), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decode(t, rr, &chain)
	assert.Len(t, chain, 2)

	rr = do(t, router, "GET", fmt.Sprintf("/containers/organization/%d/children", leaf.ID), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())

	rr = do(t, router, "PUT", fmt.Sprintf("/containers/organization/%d/parent", root.ID), map[string]interface{}{"parent_id": leaf.ID})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Empty(t, inv.ids)

	rr = do(t, router, "PUT", fmt.Sprintf("/containers/organization/%d/parent", leaf.ID), map[string]interface{}{"parent_id": nil})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var moved hierarchy.Container
	decode(t, rr, &moved)
	assert.True(t, moved.IsRoot())
	assert.Equal(t, []int64{leaf.ID}, inv.ids)

	rr = do(t, router, "POST", fmt.Sprintf("/containers/organization/%d/members", mid.ID), map[string]interface{}{"principal": "user:9"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	rr = do(t, router, "POST", fmt.Sprintf("/containers/organization/%d/members", mid.ID), map[string]interface{}{"principal": "user:9"})
	assert.Equal(t, http.StatusConflict, rr.Code)
	rr = do(t, router, "POST", fmt.Sprintf("/containers/organization/%d/members", mid.ID), map[string]interface{}{"principal": "service:9"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	rr = do(t, router, "POST", fmt.Sprintf("/containers/organization/%d/members", mid.ID), map[string]interface{}{"principal": "9"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = do(t, router, "GET", fmt.Sprintf("/containers/organization/%d/members", mid.ID), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var members []hierarchy.Membership
	decode(t, rr, &members)
	require.Len(t, members, 2)
	assert.Equal(t, "service", members[0].PrincipalType)
	assert.Equal(t, "user", members[1].PrincipalType)
	assert.EqualValues(t, 9, members[1].PrincipalID)
	rr = do(t, router, "DELETE", fmt.Sprintf("/containers/organization/%d/members/user:9", mid.ID), nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = do(t, router, "DELETE", fmt.Sprintf("/containers/organization/%d/members/user:9", mid.ID), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = do(t, router, "GET", fmt.Sprintf("/containers/organization/%d/members", mid.ID), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decode(t, rr, &members)
	require.Len(t, members, 1)
	assert.Equal(t, "service", members[0].PrincipalType)

	inv.ids = nil
	rr = do(t, router, "DELETE", fmt.Sprintf("/containers/organization/%d", root.ID), nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.ElementsMatch(t, []int64{root.ID, mid.ID}, inv.ids)

	rr = do(t, router, "GET", fmt.Sprintf("/containers/organization/%d", mid.ID), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = do(t, router, "GET", fmt.Sprintf("/containers/organization/%d", leaf.ID), nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, router, "GET", "/containers/partner/1", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAdminRoutesAreGuarded(t *testing.T) {
	f := newFixture(t)
	router := mux.NewRouter()
	pm := NewPermissionMiddleware(f.auth)
	NewHandlers(f.auth, f.manager).RegisterRoutes(router, pm.RequirePermission("manage-rbac"))

	rr := do(t, router, "GET", "/roles", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(t, router, "POST", "/check", CheckRequest{Principal: "user:1", Permission: "anything"})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequireContainerPermission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	org := f.org(t, "acme", nil)
	f.perm(t, "edit-org")
	f.role(t, RootRole)
	_, err := f.manager.AssignRole(ctx, User(1), RoleNamed(RootRole), nil, Window{})
	require.NoError(t, err)
	_, err = f.manager.AssignPermission(ctx, User(2), PermissionNamed("edit-org"), Context("organization", org.ID), Window{})
	require.NoError(t, err)

	pm := NewPermissionMiddleware(f.auth)
	router := mux.NewRouter()
	router.Handle("/orgs/{id}", pm.RequireContainerPermission("edit-org", hierarchy.KindOrganization, "id", true)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})))

	tests := []struct {
		name      string
		principal Principal
		path      string
		want      int
	}{
		{"root on unknown container", User(1), "/orgs/404", http.StatusNoContent},
		{"root on known container", User(1), fmt.Sprintf("/orgs/%d", org.ID), http.StatusNoContent},
		{"granted", User(2), fmt.Sprintf("/orgs/%d", org.ID), http.StatusNoContent},
		{"unknown container", User(2), "/orgs/404", http.StatusNotFound},
		{"denied", User(3), fmt.Sprintf("/orgs/%d", org.ID), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			req = req.WithContext(WithPrincipal(req.Context(), tt.principal))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
}
