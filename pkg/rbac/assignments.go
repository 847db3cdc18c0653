package rbac

import (
	"context"
	"fmt"
	"os"

	"github.com/platinummonkey/rampart/pkg/observability"
)

// AssignmentRecorder counts grant and revoke operations
type AssignmentRecorder interface {
	RecordAssignment(kind, operation string)
}

// AssignmentEvent describes a completed grant or revoke
type AssignmentEvent struct {
	// Kind is "role" or "permission"
	Kind string
	// Operation is "assign" or "revoke"
	Operation string
	Principal Principal
	Name      string
	Context   *ContextRef
	Window    Window
	// Removed counts the rows a revoke deleted
	Removed int64
}

// Auditor receives every completed grant and revoke. It must not block
// for long: it runs on the request path.
type Auditor interface {
	AuditAssignment(ctx context.Context, e AssignmentEvent)
}

// AssignmentManager is the only writer of role and permission bindings.
// Duplicate grants are stored as separate rows; revoking removes all of
// them at once.
type AssignmentManager struct {
	store    *Store
	logger   *observability.Logger
	recorder AssignmentRecorder
	auditor  Auditor
}

// NewAssignmentManager creates a manager writing through store
func NewAssignmentManager(store *Store) *AssignmentManager {
	return &AssignmentManager{
		store:  store,
		logger: observability.NewLogger(observability.InfoLevel, os.Stderr),
	}
}

// WithLogger sets the audit logger for grants and revokes
func (m *AssignmentManager) WithLogger(logger *observability.Logger) *AssignmentManager {
	if logger != nil {
		m.logger = logger
	}
	return m
}

// WithRecorder sets the grant/revoke counter
func (m *AssignmentManager) WithRecorder(r AssignmentRecorder) *AssignmentManager {
	m.recorder = r
	return m
}

// WithAuditor sets the audit trail for grants and revokes
func (m *AssignmentManager) WithAuditor(a Auditor) *AssignmentManager {
	m.auditor = a
	return m
}

// AssignRole grants a role to p in ref for the given window
func (m *AssignmentManager) AssignRole(ctx context.Context, p Principal, role RoleRef, ref *ContextRef, w Window) (*RoleAssignment, error) {
	if err := validateGrant(p, w); err != nil {
		return nil, err
	}

	r, err := m.store.ResolveRole(ctx, role)
	if err != nil {
		return nil, err
	}

	a := &RoleAssignment{
		Assignment: newAssignment(p, ref, w),
		RoleID:     r.ID,
		RoleName:   r.Name,
	}
	if err := m.store.InsertRoleAssignment(ctx, a); err != nil {
		return nil, err
	}

	m.audit(ctx, AssignmentEvent{Kind: "role", Operation: "assign", Principal: p, Name: r.Name, Context: ref, Window: w}).
		Info("role assigned")
	return a, nil
}

// RevokeRole removes every binding of the role to p in exactly ref,
// whatever its window, and returns how many were removed.
func (m *AssignmentManager) RevokeRole(ctx context.Context, p Principal, role RoleRef, ref *ContextRef) (int64, error) {
	r, err := m.store.ResolveRole(ctx, role)
	if err != nil {
		return 0, err
	}

	n, err := m.store.DeleteRoleAssignments(ctx, p, r.ID, ref)
	if err != nil {
		return 0, err
	}

	m.audit(ctx, AssignmentEvent{Kind: "role", Operation: "revoke", Principal: p, Name: r.Name, Context: ref, Removed: n}).
		Info("role revoked")
	return n, nil
}

// AssignPermission grants a permission directly to p in ref
func (m *AssignmentManager) AssignPermission(ctx context.Context, p Principal, perm PermissionRef, ref *ContextRef, w Window) (*PermissionAssignment, error) {
	if err := validateGrant(p, w); err != nil {
		return nil, err
	}

	resolved, err := m.store.ResolvePermission(ctx, perm)
	if err != nil {
		return nil, err
	}

	a := &PermissionAssignment{
		Assignment:     newAssignment(p, ref, w),
		PermissionID:   resolved.ID,
		PermissionName: resolved.Name,
	}
	if err := m.store.InsertPermissionAssignment(ctx, a); err != nil {
		return nil, err
	}

	m.audit(ctx, AssignmentEvent{Kind: "permission", Operation: "assign", Principal: p, Name: resolved.Name, Context: ref, Window: w}).
		Info("permission assigned")
	return a, nil
}

// RevokePermission removes every direct binding of the permission to p
// in exactly ref and returns how many were removed.
func (m *AssignmentManager) RevokePermission(ctx context.Context, p Principal, perm PermissionRef, ref *ContextRef) (int64, error) {
	resolved, err := m.store.ResolvePermission(ctx, perm)
	if err != nil {
		return 0, err
	}

	n, err := m.store.DeletePermissionAssignments(ctx, p, resolved.ID, ref)
	if err != nil {
		return 0, err
	}

	m.audit(ctx, AssignmentEvent{Kind: "permission", Operation: "revoke", Principal: p, Name: resolved.Name, Context: ref, Removed: n}).
		Info("permission revoked")
	return n, nil
}

func (m *AssignmentManager) audit(ctx context.Context, e AssignmentEvent) *observability.Logger {
	if m.recorder != nil {
		m.recorder.RecordAssignment(e.Kind, e.Operation)
	}
	if m.auditor != nil {
		m.auditor.AuditAssignment(ctx, e)
	}
	logger := m.logger.WithFields(map[string]interface{}{
		e.Kind:      e.Name,
		"principal": e.Principal.String(),
		"context":   e.Context.String(),
	})
	if e.Operation == "revoke" {
		logger = logger.WithField("removed", e.Removed)
	}
	return logger
}

func validateGrant(p Principal, w Window) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := w.Validate(); err != nil {
		return fmt.Errorf("invalid window for %s: %w", p, err)
	}
	return nil
}

func newAssignment(p Principal, ref *ContextRef, w Window) Assignment {
	return Assignment{
		Principal:   p,
		Context:     ref,
		ActivatedAt: w.ActivatedAt,
		ExpiredAt:   w.ExpiredAt,
	}
}
