package rbac

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/rampart/pkg/database"
	"github.com/platinummonkey/rampart/pkg/hierarchy"
	"github.com/platinummonkey/rampart/pkg/observability"
)

func TestManagerWiring(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	m, err := NewManager(Deps{
		DB:      database.NewTestSQLite(t),
		Redis:   client,
		Metrics: metrics,
	}, DefaultConfig())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))
	require.NoError(t, m.Initialize(ctx))

	_, err = m.Assignments().AssignRole(ctx, User(1), RoleNamed(RootRole), nil, Window{})
	require.NoError(t, err)

	orgs, ok := m.Containers(hierarchy.KindOrganization)
	require.True(t, ok)
	org := &hierarchy.Container{Name: "acme"}
	require.NoError(t, orgs.Create(ctx, org))

	_, err = m.Store().EnsurePermission(ctx, "view", "")
	require.NoError(t, err)
	_, err = m.Assignments().AssignPermission(ctx, User(2), PermissionNamed("view"), Context("organization", org.ID), Window{})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		allowed, err := m.Authorizer().HasPermissionInContainerID(ctx, User(2), "view", hierarchy.KindOrganization, org.ID, true)
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	stats, err := m.GetStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Roles)
	assert.EqualValues(t, 1, stats.RoleAssignments)
	assert.EqualValues(t, 1, stats.PermissionAssignments)
	assert.EqualValues(t, 1, stats.Caches[hierarchy.KindOrganization].Hits)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AssignmentsTotal.WithLabelValues("role", "assign")))
	assert.NotEmpty(t, mr.Keys())

	_, ok = m.Containers("galaxy")
	assert.False(t, ok)

	require.NoError(t, m.Start())
	require.NoError(t, m.Stop(ctx))
}

func TestManagerAdminRoutes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CacheSize = 0
	cfg.PurgeSchedule = ""
	m, err := NewManager(Deps{DB: database.NewTestSQLite(t)}, cfg)
	require.NoError(t, err)
	require.NoError(t, m.Start())

	router := mux.NewRouter()
	m.RegisterRoutes(router, "manage-rbac")

	rr := do(t, router, "GET", "/permissions", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestNewManagerRequiresDB(t *testing.T) {
	_, err := NewManager(Deps{}, DefaultConfig())
	assert.Error(t, err)
}

func TestReplicasShareContainerInvalidations(t *testing.T) {
	mr := miniredis.RunT(t)
	db := database.NewTestSQLite(t)
	ctx := context.Background()

	replica := func() (*Manager, *mux.Router) {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		m, err := NewManager(Deps{DB: db, Redis: client}, DefaultConfig())
		require.NoError(t, err)
		router := mux.NewRouter()
		m.RegisterRoutes(router, "")
		return m, router
	}
	a, routerA := replica()
	b, _ := replica()

	orgs, ok := a.Containers(hierarchy.KindOrganization)
	require.True(t, ok)
	parent := &hierarchy.Container{Name: "acme"}
	require.NoError(t, orgs.Create(ctx, parent))
	child := &hierarchy.Container{Name: "acme-eu", ParentID: &parent.ID}
	require.NoError(t, orgs.Create(ctx, child))

	_, err := a.Store().EnsurePermission(ctx, "view", "")
	require.NoError(t, err)
	_, err = a.Assignments().AssignPermission(ctx, User(2), PermissionNamed("view"), Context("organization", parent.ID), Window{})
	require.NoError(t, err)

	for _, m := range []*Manager{a, b} {
		allowed, err := m.Authorizer().HasPermissionInContainerID(ctx, User(2), "view", hierarchy.KindOrganization, child.ID, true)
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	rr := do(t, routerA, "PUT", fmt.Sprintf("/containers/organization/%d/parent", child.ID), map[string]interface{}{"parent_id": nil})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	for name, m := range map[string]*Manager{"writer": a, "other": b} {
		allowed, err := m.Authorizer().HasPermissionInContainerID(ctx, User(2), "view", hierarchy.KindOrganization, child.ID, true)
		require.NoError(t, err)
		assert.False(t, allowed, name)
	}

	rr = do(t, routerA, "DELETE", fmt.Sprintf("/containers/organization/%d", child.ID), nil)
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

	_, err = b.Authorizer().HasPermissionInContainerID(ctx, User(2), "view", hierarchy.KindOrganization, child.ID, true)
	assert.ErrorIs(t, err, hierarchy.ErrNotFound)
}
