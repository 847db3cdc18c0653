package rbac

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/rampart/pkg/hierarchy"
	"github.com/platinummonkey/rampart/pkg/observability"
)

// Recorder receives the outcome of every authorization call.
// observability.Metrics and observability.OTelMetrics implement it.
type Recorder interface {
	RecordDecision(ctx context.Context, operation string, allowed bool, reason string, duration time.Duration)
	RecordError(ctx context.Context, operation string)
}

// Operation names reported to recorders and used as span names
const (
	OpHasPermission          = "has_permission"
	OpHasRole                = "has_role"
	OpIsRoot                 = "is_root"
	OpHasPermissionContainer = "has_permission_in_container"
	OpHasAnyPermission       = "has_any_permission"
	OpHasAllPermissions      = "has_all_permissions"
	OpEffectivePermissions   = "effective_permissions"
)

// Authorizer answers "may principal P do X in context C". It only reads:
// every call re-queries the store and nothing is cached between calls.
type Authorizer struct {
	store     *Store
	sources   map[hierarchy.Kind]hierarchy.Source
	clock     Clock
	rootRole  string
	logger    *observability.Logger
	recorders []Recorder
	tracer    trace.Tracer
}

// NewAuthorizer creates an authorizer over store using the system clock
func NewAuthorizer(store *Store) *Authorizer {
	return &Authorizer{
		store:    store,
		sources:  make(map[hierarchy.Kind]hierarchy.Source),
		clock:    SystemClock(),
		rootRole: RootRole,
		logger:   observability.NewLogger(observability.WarnLevel, os.Stderr),
		tracer:   observability.Tracer(),
	}
}

// WithHierarchy sets the container source walked for kind
func (a *Authorizer) WithHierarchy(kind hierarchy.Kind, source hierarchy.Source) *Authorizer {
	a.sources[kind] = source
	return a
}

// WithClock sets the clock that supplies the reference instant
func (a *Authorizer) WithClock(clock Clock) *Authorizer {
	a.clock = clock
	return a
}

// WithRootRole renames the bypass role
func (a *Authorizer) WithRootRole(name string) *Authorizer {
	if name != "" {
		a.rootRole = name
	}
	return a
}

// WithLogger sets the decision logger
func (a *Authorizer) WithLogger(logger *observability.Logger) *Authorizer {
	if logger != nil {
		a.logger = logger
	}
	return a
}

// WithRecorder adds a decision recorder
func (a *Authorizer) WithRecorder(r Recorder) *Authorizer {
	if r != nil {
		a.recorders = append(a.recorders, r)
	}
	return a
}

// Store returns the underlying store
func (a *Authorizer) Store() *Store {
	return a.store
}

// HasPermission reports whether p holds the named permission in exactly
// ref, either directly or through a role. A global root role bypasses
// the check. Unknown permission names are simply not granted.
func (a *Authorizer) HasPermission(ctx context.Context, p Principal, name string, ref *ContextRef) (bool, error) {
	d, err := a.Authorize(ctx, p, name, ref)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// Authorize is HasPermission with the reason for the outcome
func (a *Authorizer) Authorize(ctx context.Context, p Principal, name string, ref *ContextRef) (*Decision, error) {
	ctx, span := a.start(ctx, OpHasPermission, p,
		attribute.String("rbac.permission", name),
		attribute.String("rbac.context", ref.String()))
	defer span.End()

	started := time.Now()
	now := a.clock.Now()
	d := &Decision{Principal: p, Permission: name, Context: ref, CheckedAt: now}

	root, err := a.isRoot(ctx, p, now)
	if err == nil && root {
		d.Allowed, d.Reason = true, ReasonRoot
	} else if err == nil {
		d.Allowed, d.Reason, err = a.granted(ctx, p, name, ref, now)
	}

	return a.finish(ctx, span, OpHasPermission, d, started, err)
}

// HasRole reports whether p holds the named role in exactly ref
func (a *Authorizer) HasRole(ctx context.Context, p Principal, name string, ref *ContextRef) (bool, error) {
	ctx, span := a.start(ctx, OpHasRole, p,
		attribute.String("rbac.role", name),
		attribute.String("rbac.context", ref.String()))
	defer span.End()

	started := time.Now()
	now := a.clock.Now()
	d := &Decision{Principal: p, Context: ref, CheckedAt: now, Reason: ReasonNoGrant}

	allowed, err := a.hasRole(ctx, p, name, ref, now)
	if allowed {
		d.Allowed, d.Reason = true, ReasonRole
	}

	d, err = a.finish(ctx, span, OpHasRole, d, started, err)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// IsRoot reports whether p holds the root role globally. It goes through
// the role path only, never through HasPermission.
func (a *Authorizer) IsRoot(ctx context.Context, p Principal) (bool, error) {
	ctx, span := a.start(ctx, OpIsRoot, p)
	defer span.End()

	started := time.Now()
	now := a.clock.Now()
	d := &Decision{Principal: p, CheckedAt: now, Reason: ReasonNoGrant}

	root, err := a.isRoot(ctx, p, now)
	if root {
		d.Allowed, d.Reason = true, ReasonRoot
	}

	d, err = a.finish(ctx, span, OpIsRoot, d, started, err)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// HasAnyPermission reports whether p holds at least one of names in ref.
// An empty list is never satisfied.
func (a *Authorizer) HasAnyPermission(ctx context.Context, p Principal, names []string, ref *ContextRef) (bool, error) {
	return a.checkMany(ctx, OpHasAnyPermission, p, names, ref, true)
}

// HasAllPermissions reports whether p holds every one of names in ref.
// An empty list is always satisfied.
func (a *Authorizer) HasAllPermissions(ctx context.Context, p Principal, names []string, ref *ContextRef) (bool, error) {
	return a.checkMany(ctx, OpHasAllPermissions, p, names, ref, false)
}

// checkMany evaluates names in order and stops at the first result that
// settles the outcome: a grant when any is true, a denial otherwise.
func (a *Authorizer) checkMany(ctx context.Context, op string, p Principal, names []string, ref *ContextRef, wantAny bool) (bool, error) {
	ctx, span := a.start(ctx, op, p,
		attribute.StringSlice("rbac.permissions", names),
		attribute.String("rbac.context", ref.String()))
	defer span.End()

	started := time.Now()
	now := a.clock.Now()
	d := &Decision{Principal: p, Context: ref, CheckedAt: now}

	var err error
	switch {
	case len(names) == 0:
		d.Allowed = !wantAny
		d.Reason = "empty permission list"
	default:
		var root bool
		root, err = a.isRoot(ctx, p, now)
		if err != nil {
			break
		}
		if root {
			d.Allowed, d.Reason = true, ReasonRoot
			break
		}

		d.Allowed, d.Reason = !wantAny, ReasonNoGrant
		for _, name := range names {
			var ok bool
			var reason string
			ok, reason, err = a.granted(ctx, p, name, ref, now)
			if err != nil {
				break
			}
			if ok == wantAny {
				d.Allowed, d.Permission = ok, name
				if ok {
					d.Reason = reason
				}
				break
			}
			if ok {
				d.Reason = reason
			}
		}
	}

	d, err = a.finish(ctx, span, op, d, started, err)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// HasPermissionInContainer checks the permission in container c and,
// when checkHierarchy is set, in each of its ancestors nearest first.
// The ancestor chain is resolved completely before any ancestor is
// consulted, so a corrupted chain fails even if a nearer ancestor grants.
func (a *Authorizer) HasPermissionInContainer(ctx context.Context, p Principal, name string, c *hierarchy.Container, checkHierarchy bool) (bool, error) {
	d, err := a.authorizeContainer(ctx, p, name, c, checkHierarchy)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// HasPermissionInContainerID resolves kind:id and then behaves like
// HasPermissionInContainer. An unknown container fails with an error
// matching both ErrNotFound and hierarchy.ErrNotFound.
func (a *Authorizer) HasPermissionInContainerID(ctx context.Context, p Principal, name string, kind hierarchy.Kind, id int64, checkHierarchy bool) (bool, error) {
	d, err := a.AuthorizeInContainer(ctx, p, name, kind, id, checkHierarchy)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// AuthorizeInContainer is HasPermissionInContainerID with the reason
// for the outcome. Via names the granting ancestor, if any.
// A global root holder is allowed before the container is resolved.
func (a *Authorizer) AuthorizeInContainer(ctx context.Context, p Principal, name string, kind hierarchy.Kind, id int64, checkHierarchy bool) (*Decision, error) {
	d, err := a.rootDecision(ctx, p, name, Context(string(kind), id))
	if err != nil || d != nil {
		return d, err
	}

	c, err := a.Container(ctx, kind, id)
	if err != nil {
		a.recordError(ctx, OpHasPermissionContainer)
		return nil, err
	}
	return a.authorizeContainer(ctx, p, name, c, checkHierarchy)
}

// Container resolves kind:id through the configured hierarchy source
func (a *Authorizer) Container(ctx context.Context, kind hierarchy.Kind, id int64) (*hierarchy.Container, error) {
	source, err := a.sourceFor(kind)
	if err != nil {
		return nil, err
	}
	c, err := source.Get(ctx, id)
	if errors.Is(err, hierarchy.ErrNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s:%d: %w", kind, id, err)
	}
	return c, nil
}

func (a *Authorizer) authorizeContainer(ctx context.Context, p Principal, name string, c *hierarchy.Container, checkHierarchy bool) (*Decision, error) {
	ref := containerRef(c)
	ctx, span := a.start(ctx, OpHasPermissionContainer, p,
		attribute.String("rbac.permission", name),
		attribute.String("rbac.context", ref.String()),
		attribute.Bool("rbac.check_hierarchy", checkHierarchy))
	defer span.End()

	started := time.Now()
	now := a.clock.Now()
	d := &Decision{Principal: p, Permission: name, Context: ref, CheckedAt: now}

	err := a.decideContainer(ctx, d, p, name, c, checkHierarchy, now)
	return a.finish(ctx, span, OpHasPermissionContainer, d, started, err)
}

func (a *Authorizer) decideContainer(ctx context.Context, d *Decision, p Principal, name string, c *hierarchy.Container, checkHierarchy bool, now time.Time) error {
	root, err := a.isRoot(ctx, p, now)
	if err != nil {
		return err
	}
	if root {
		d.Allowed, d.Reason = true, ReasonRoot
		return nil
	}

	ok, reason, err := a.granted(ctx, p, name, d.Context, now)
	if err != nil {
		return err
	}
	if ok {
		d.Allowed, d.Reason = true, reason
		return nil
	}
	if !checkHierarchy {
		d.Reason = ReasonNoGrant
		return nil
	}

	source, err := a.sourceFor(c.Kind)
	if err != nil {
		return err
	}
	ancestors, err := hierarchy.NewResolver(source).Ancestors(ctx, c)
	if err != nil {
		return err
	}

	for i := range ancestors {
		ref := containerRef(&ancestors[i])
		ok, _, err := a.granted(ctx, p, name, ref, now)
		if err != nil {
			return err
		}
		if ok {
			d.Allowed, d.Reason, d.Via = true, ReasonAncestor, ref
			return nil
		}
	}

	d.Reason = ReasonUnmatched
	return nil
}

// EffectivePermissions returns the sorted names of the permissions p
// holds in exactly ref. For a root principal every permission of the
// guard is returned, since the bypass covers them all.
func (a *Authorizer) EffectivePermissions(ctx context.Context, p Principal, ref *ContextRef) ([]string, error) {
	ctx, span := a.start(ctx, OpEffectivePermissions, p, attribute.String("rbac.context", ref.String()))
	defer span.End()

	now := a.clock.Now()
	names, err := a.effective(ctx, p, ref, now)
	if err != nil {
		a.recordError(ctx, OpEffectivePermissions)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("rbac.permission_count", len(names)))
	return names, nil
}

func (a *Authorizer) effective(ctx context.Context, p Principal, ref *ContextRef, now time.Time) ([]string, error) {
	root, err := a.isRoot(ctx, p, now)
	if err != nil {
		return nil, err
	}
	if root {
		perms, err := a.store.ListPermissions(ctx)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(perms))
		for _, perm := range perms {
			names = append(names, perm.Name)
		}
		return names, nil
	}

	candidates, err := a.store.permissionCandidates(ctx, p, ref)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	names := []string{}
	for _, c := range candidates {
		if _, dup := seen[c.name]; dup || !c.activeAt(now) {
			continue
		}
		seen[c.name] = struct{}{}
		names = append(names, c.name)
	}
	sort.Strings(names)
	return names, nil
}

// rootDecision returns an allowing decision for a global root holder
// and nil otherwise.
func (a *Authorizer) rootDecision(ctx context.Context, p Principal, name string, ref *ContextRef) (*Decision, error) {
	now := a.clock.Now()
	root, err := a.isRoot(ctx, p, now)
	if err != nil {
		a.recordError(ctx, OpHasPermissionContainer)
		return nil, err
	}
	if !root {
		return nil, nil
	}

	ctx, span := a.start(ctx, OpHasPermissionContainer, p,
		attribute.String("rbac.permission", name),
		attribute.String("rbac.context", ref.String()))
	defer span.End()
	d := &Decision{Principal: p, Permission: name, Context: ref, CheckedAt: now, Allowed: true, Reason: ReasonRoot}
	return a.finish(ctx, span, OpHasPermissionContainer, d, time.Now(), nil)
}

func (a *Authorizer) isRoot(ctx context.Context, p Principal, now time.Time) (bool, error) {
	return a.hasRole(ctx, p, a.rootRole, nil, now)
}

func (a *Authorizer) hasRole(ctx context.Context, p Principal, name string, ref *ContextRef, now time.Time) (bool, error) {
	windows, err := a.store.roleWindows(ctx, p, name, ref)
	if err != nil {
		return false, err
	}
	return anyActive(windows, now), nil
}

// granted runs the direct and then the role-mediated permission checks
// without the root bypass.
func (a *Authorizer) granted(ctx context.Context, p Principal, name string, ref *ContextRef, now time.Time) (bool, string, error) {
	direct, err := a.store.directPermissionWindows(ctx, p, name, ref)
	if err != nil {
		return false, "", err
	}
	if anyActive(direct, now) {
		return true, ReasonDirect, nil
	}

	viaRole, err := a.store.rolePermissionWindows(ctx, p, name, ref)
	if err != nil {
		return false, "", err
	}
	if anyActive(viaRole, now) {
		return true, ReasonRole, nil
	}
	return false, ReasonNoGrant, nil
}

func (a *Authorizer) sourceFor(kind hierarchy.Kind) (hierarchy.Source, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}
	source, ok := a.sources[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no source configured for %s", hierarchy.ErrUnknownKind, kind)
	}
	return source, nil
}

func (a *Authorizer) start(ctx context.Context, op string, p Principal, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("rbac.principal", p.String()))
	return a.tracer.Start(ctx, "rbac."+op, trace.WithAttributes(attrs...))
}

func (a *Authorizer) finish(ctx context.Context, span trace.Span, op string, d *Decision, started time.Time, err error) (*Decision, error) {
	elapsed := time.Since(started)
	logger := observability.UpdateLoggerWithTraceContext(ctx, a.logger).WithFields(map[string]interface{}{
		"operation": op,
		"principal": d.Principal.String(),
		"context":   d.Context.String(),
	})

	if err != nil {
		a.recordError(ctx, op)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.WithError(err).Warn("authorization check failed")
		return nil, err
	}

	span.SetAttributes(
		attribute.Bool("rbac.allowed", d.Allowed),
		attribute.String("rbac.reason", d.Reason),
	)
	for _, r := range a.recorders {
		r.RecordDecision(ctx, op, d.Allowed, d.Reason, elapsed)
	}
	logger.WithFields(map[string]interface{}{
		"permission": d.Permission,
		"allowed":    d.Allowed,
		"reason":     d.Reason,
	}).Debug("authorization decision")
	return d, nil
}

func (a *Authorizer) recordError(ctx context.Context, op string) {
	for _, r := range a.recorders {
		r.RecordError(ctx, op)
	}
}

func containerRef(c *hierarchy.Container) *ContextRef {
	return Context(string(c.Kind), c.ID)
}

func anyActive(windows []window, now time.Time) bool {
	for _, w := range windows {
		if w.activeAt(now) {
			return true
		}
	}
	return false
}
