package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/rampart/pkg/hierarchy"
	"github.com/platinummonkey/rampart/pkg/observability"
)

// Config holds authorization engine configuration
type Config struct {
	// Guard scopes role and permission names
	Guard string

	// RootRole is the role whose global holders bypass every check
	RootRole string

	// Kinds lists the container hierarchies to serve
	Kinds []hierarchy.Kind

	// CacheSize bounds the in-process container cache; 0 disables it.
	// It is ignored when Redis is configured.
	CacheSize int

	// CacheTTL is how long a cached container record stays valid
	CacheTTL time.Duration

	// PurgeSchedule is the janitor cron spec; empty disables the janitor
	PurgeSchedule string

	// PurgeGrace keeps expired assignments around for this long
	PurgeGrace time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Guard:         DefaultGuard,
		RootRole:      RootRole,
		Kinds:         hierarchy.Kinds(),
		CacheSize:     1024,
		CacheTTL:      5 * time.Minute,
		PurgeSchedule: DefaultPurgeSchedule,
		PurgeGrace:    24 * time.Hour,
	}
}

// Deps are the external resources a Manager runs on. Only DB is required.
type Deps struct {
	DB        *sql.DB
	Redis     *redis.Client
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	Recorders []Recorder
	Auditor   Auditor
}

// Manager wires the store, authorizer, assignment manager, middleware,
// handlers and janitor together.
type Manager struct {
	config      Config
	store       *Store
	auth        *Authorizer
	assignments *AssignmentManager
	middleware  *PermissionMiddleware
	handlers    *Handlers
	janitor     *Janitor
	containers  map[hierarchy.Kind]*hierarchy.Store
	caches      map[hierarchy.Kind]statsCache
	logger      *observability.Logger
}

// NewManager creates a manager from deps and config
func NewManager(deps Deps, config Config) (*Manager, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("rbac: database is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, os.Stdout)
	}

	store := NewStore(deps.DB).WithGuard(config.Guard)
	auth := NewAuthorizer(store).WithRootRole(config.RootRole).WithLogger(logger)
	assignments := NewAssignmentManager(store).WithLogger(logger)
	janitor := NewJanitor(store, config.PurgeGrace).WithLogger(logger)
	if deps.Metrics != nil {
		auth.WithRecorder(deps.Metrics)
		assignments.WithRecorder(deps.Metrics)
		janitor.WithRecorder(deps.Metrics)
	}
	for _, r := range deps.Recorders {
		auth.WithRecorder(r)
	}
	if deps.Auditor != nil {
		assignments.WithAuditor(deps.Auditor)
	}

	m := &Manager{
		config:      config,
		store:       store,
		auth:        auth,
		assignments: assignments,
		middleware:  NewPermissionMiddleware(auth),
		handlers:    NewHandlers(auth, assignments).WithLogger(logger),
		janitor:     janitor,
		containers:  make(map[hierarchy.Kind]*hierarchy.Store),
		caches:      make(map[hierarchy.Kind]statsCache),
		logger:      logger,
	}

	var observe hierarchy.LookupObserver
	if deps.Metrics != nil {
		observe = deps.Metrics.RecordCacheLookup
	}

	for _, kind := range config.Kinds {
		containers, err := hierarchy.NewStore(deps.DB, kind)
		if err != nil {
			return nil, err
		}
		m.containers[kind] = containers

		// Replicas share Redis, so an invalidation there is seen by all of
		// them. A per-process LRU would only be cleared on the replica that
		// served the write.
		var source hierarchy.Source = containers
		var invalidators []hierarchy.Invalidator
		switch {
		case deps.Redis != nil:
			shared := hierarchy.NewRedisSource(containers, deps.Redis, kind, config.CacheTTL).WithObserver(observe)
			source, m.caches[kind] = shared, shared
			invalidators = append(invalidators, shared)
		case config.CacheSize > 0:
			local := hierarchy.NewLRUSource(containers, config.CacheSize, config.CacheTTL).WithObserver(observe)
			source, m.caches[kind] = local, local
			invalidators = append(invalidators, local)
		}

		auth.WithHierarchy(kind, source)
		m.handlers.WithContainers(containers, invalidators...)
	}

	return m, nil
}

// Initialize makes sure the root role exists
func (m *Manager) Initialize(ctx context.Context) error {
	if _, err := m.store.EnsureRole(ctx, m.auth.rootRole, "Root"); err != nil {
		return fmt.Errorf("failed to ensure root role: %w", err)
	}
	return nil
}

// Start starts the janitor if a schedule is configured
func (m *Manager) Start() error {
	if m.config.PurgeSchedule == "" {
		return nil
	}
	return m.janitor.Start(m.config.PurgeSchedule)
}

// Stop stops the janitor
func (m *Manager) Stop(ctx context.Context) error {
	return m.janitor.Stop(ctx)
}

// RegisterRoutes registers the API. Administration routes require the
// adminPermission unless it is empty.
func (m *Manager) RegisterRoutes(router *mux.Router, adminPermission string) {
	var admin func(http.Handler) http.Handler
	if adminPermission != "" {
		admin = m.middleware.RequirePermission(adminPermission)
	}
	m.handlers.RegisterRoutes(router, admin)
}

// Store returns the store
func (m *Manager) Store() *Store {
	return m.store
}

// Authorizer returns the authorizer
func (m *Manager) Authorizer() *Authorizer {
	return m.auth
}

// Assignments returns the assignment manager
func (m *Manager) Assignments() *AssignmentManager {
	return m.assignments
}

// Middleware returns the permission middleware
func (m *Manager) Middleware() *PermissionMiddleware {
	return m.middleware
}

// Janitor returns the expired-assignment janitor
func (m *Manager) Janitor() *Janitor {
	return m.janitor
}

// Containers returns the store for kind, if configured
func (m *Manager) Containers(kind hierarchy.Kind) (*hierarchy.Store, bool) {
	s, ok := m.containers[kind]
	return s, ok
}

type statsCache interface {
	Stats() hierarchy.CacheStats
}

// ManagerStats combines store counts with container cache statistics
type ManagerStats struct {
	*Stats
	Caches map[hierarchy.Kind]hierarchy.CacheStats `json:"caches,omitempty"`
}

// GetStats returns engine statistics
func (m *Manager) GetStats(ctx context.Context) (*ManagerStats, error) {
	stats, err := m.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := &ManagerStats{Stats: stats, Caches: make(map[hierarchy.Kind]hierarchy.CacheStats)}
	for kind, cache := range m.caches {
		out.Caches[kind] = cache.Stats()
	}
	return out, nil
}
