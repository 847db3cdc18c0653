package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/rampart/pkg/database"
)

// Store handles RBAC data persistence. Name lookups are scoped to the
// store's guard.
type Store struct {
	db    *sql.DB
	guard string
}

// NewStore creates a new RBAC store for the default guard
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, guard: DefaultGuard}
}

// WithGuard returns a copy of the store scoped to guard
func (s *Store) WithGuard(guard string) *Store {
	if guard == "" {
		guard = DefaultGuard
	}
	return &Store{db: s.db, guard: guard}
}

// Guard returns the guard name lookups are scoped to
func (s *Store) Guard() string {
	return s.guard
}

// DB returns the underlying connection pool
func (s *Store) DB() *sql.DB {
	return s.db
}

// table names the two catalog tables so roles and permissions share code
type catalog struct {
	table  string
	entity string
}

var (
	rolesCatalog       = catalog{table: "roles", entity: "role"}
	permissionsCatalog = catalog{table: "permissions", entity: "permission"}
)

// catalogEntry is the common shape of Role and Permission rows
type catalogEntry struct {
	ID        int64
	Name      string
	GuardName string
	Label     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *Store) createEntry(ctx context.Context, c catalog, e *catalogEntry) error {
	if e.Name == "" {
		return fmt.Errorf("%s name is required", c.entity)
	}
	if e.GuardName == "" {
		e.GuardName = s.guard
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (name, guard_name, label, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, c.table)

	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx, query, e.Name, e.GuardName, nullString(e.Label), now, now).Scan(&e.ID)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s %q in guard %q", ErrAlreadyExists, c.entity, e.Name, e.GuardName)
	}
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", c.entity, err)
	}

	e.CreatedAt = now
	e.UpdatedAt = now
	return nil
}

func (s *Store) getEntry(ctx context.Context, c catalog, where string, args ...any) (*catalogEntry, error) {
	query := fmt.Sprintf(`
		SELECT id, name, guard_name, label, created_at, updated_at
		FROM %s
		WHERE %s
	`, c.table, where)

	var e catalogEntry
	var label sql.NullString
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&e.ID, &e.Name, &e.GuardName, &label, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Label = label.String
	return &e, nil
}

func (s *Store) listEntries(ctx context.Context, query string, args ...any) ([]catalogEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []catalogEntry
	for rows.Next() {
		var e catalogEntry
		var label sql.NullString
		if err := rows.Scan(&e.ID, &e.Name, &e.GuardName, &label, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.Label = label.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) deleteEntry(ctx context.Context, c catalog, id int64) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, c.table)

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", c.entity, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s %d", ErrNotFound, c.entity, id)
	}
	return nil
}

// CreateRole creates a new role in the store's guard unless one is set
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	e := catalogEntry{Name: role.Name, GuardName: role.GuardName, Label: role.Label}
	if err := s.createEntry(ctx, rolesCatalog, &e); err != nil {
		return err
	}
	*role = Role(e)
	return nil
}

// GetRole retrieves a role by ID regardless of guard
func (s *Store) GetRole(ctx context.Context, id int64) (*Role, error) {
	e, err := s.getEntry(ctx, rolesCatalog, "id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: role %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	role := Role(*e)
	return &role, nil
}

// GetRoleByName retrieves a role by name within the store's guard
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	e, err := s.getEntry(ctx, rolesCatalog, "name = $1 AND guard_name = $2", name, s.guard)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: role %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	role := Role(*e)
	return &role, nil
}

// EnsureRole returns the named role, creating it if needed
func (s *Store) EnsureRole(ctx context.Context, name, label string) (*Role, error) {
	role, err := s.GetRoleByName(ctx, name)
	if err == nil {
		return role, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	role = &Role{Name: name, Label: label}
	if err := s.CreateRole(ctx, role); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return s.GetRoleByName(ctx, name)
		}
		return nil, err
	}
	return role, nil
}

// ListRoles lists the roles of the store's guard ordered by name
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	entries, err := s.listEntries(ctx, `
		SELECT id, name, guard_name, label, created_at, updated_at
		FROM roles
		WHERE guard_name = $1
		ORDER BY name
	`, s.guard)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}

	roles := make([]Role, 0, len(entries))
	for _, e := range entries {
		roles = append(roles, Role(e))
	}
	return roles, nil
}

// DeleteRole deletes a role. Its bindings cascade.
func (s *Store) DeleteRole(ctx context.Context, id int64) error {
	return s.deleteEntry(ctx, rolesCatalog, id)
}

// CreatePermission creates a new permission in the store's guard unless one is set
func (s *Store) CreatePermission(ctx context.Context, perm *Permission) error {
	e := catalogEntry{Name: perm.Name, GuardName: perm.GuardName, Label: perm.Label}
	if err := s.createEntry(ctx, permissionsCatalog, &e); err != nil {
		return err
	}
	*perm = Permission(e)
	return nil
}

// GetPermission retrieves a permission by ID regardless of guard
func (s *Store) GetPermission(ctx context.Context, id int64) (*Permission, error) {
	e, err := s.getEntry(ctx, permissionsCatalog, "id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: permission %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	perm := Permission(*e)
	return &perm, nil
}

// GetPermissionByName retrieves a permission by name within the store's guard
func (s *Store) GetPermissionByName(ctx context.Context, name string) (*Permission, error) {
	e, err := s.getEntry(ctx, permissionsCatalog, "name = $1 AND guard_name = $2", name, s.guard)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: permission %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	perm := Permission(*e)
	return &perm, nil
}

// EnsurePermission returns the named permission, creating it if needed
func (s *Store) EnsurePermission(ctx context.Context, name, label string) (*Permission, error) {
	perm, err := s.GetPermissionByName(ctx, name)
	if err == nil {
		return perm, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	perm = &Permission{Name: name, Label: label}
	if err := s.CreatePermission(ctx, perm); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return s.GetPermissionByName(ctx, name)
		}
		return nil, err
	}
	return perm, nil
}

// ListPermissions lists the permissions of the store's guard ordered by name
func (s *Store) ListPermissions(ctx context.Context) ([]Permission, error) {
	entries, err := s.listEntries(ctx, `
		SELECT id, name, guard_name, label, created_at, updated_at
		FROM permissions
		WHERE guard_name = $1
		ORDER BY name
	`, s.guard)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}

	perms := make([]Permission, 0, len(entries))
	for _, e := range entries {
		perms = append(perms, Permission(e))
	}
	return perms, nil
}

// DeletePermission deletes a permission. Its bindings cascade.
func (s *Store) DeletePermission(ctx context.Context, id int64) error {
	return s.deleteEntry(ctx, permissionsCatalog, id)
}

// AttachPermission adds a permission to a role. Attaching twice is a no-op.
func (s *Store) AttachPermission(ctx context.Context, roleID, permissionID int64) error {
	if _, err := s.GetRole(ctx, roleID); err != nil {
		return err
	}
	if _, err := s.GetPermission(ctx, permissionID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO role_has_permissions (role_id, permission_id) VALUES ($1, $2)`,
		roleID, permissionID,
	)
	if err != nil && !database.IsUniqueViolation(err) {
		return fmt.Errorf("failed to attach permission: %w", err)
	}
	return nil
}

// DetachPermission removes a permission from a role
func (s *Store) DetachPermission(ctx context.Context, roleID, permissionID int64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM role_has_permissions WHERE role_id = $1 AND permission_id = $2`,
		roleID, permissionID,
	)
	if err != nil {
		return fmt.Errorf("failed to detach permission: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: permission %d on role %d", ErrNotFound, permissionID, roleID)
	}
	return nil
}

// RolePermissions lists the permissions attached to a role ordered by name
func (s *Store) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	entries, err := s.listEntries(ctx, `
		SELECT p.id, p.name, p.guard_name, p.label, p.created_at, p.updated_at
		FROM permissions p
		JOIN role_has_permissions rhp ON rhp.permission_id = p.id
		WHERE rhp.role_id = $1
		ORDER BY p.name
	`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}

	perms := make([]Permission, 0, len(entries))
	for _, e := range entries {
		perms = append(perms, Permission(e))
	}
	return perms, nil
}

// ResolveRole looks up a role by ID or by name
func (s *Store) ResolveRole(ctx context.Context, ref RoleRef) (*Role, error) {
	if ref.Name != "" {
		return s.GetRoleByName(ctx, ref.Name)
	}
	return s.GetRole(ctx, ref.ID)
}

// ResolvePermission looks up a permission by ID or by name
func (s *Store) ResolvePermission(ctx context.Context, ref PermissionRef) (*Permission, error) {
	if ref.Name != "" {
		return s.GetPermissionByName(ctx, ref.Name)
	}
	return s.GetPermission(ctx, ref.ID)
}

// assignmentTable describes model_has_roles and model_has_permissions
type assignmentTable struct {
	table   string
	column  string
	catalog string
}

var (
	roleAssignments       = assignmentTable{table: "model_has_roles", column: "role_id", catalog: "roles"}
	permissionAssignments = assignmentTable{table: "model_has_permissions", column: "permission_id", catalog: "permissions"}
)

func (s *Store) insertAssignment(ctx context.Context, t assignmentTable, targetID int64, a *Assignment) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (%s, principal_type, principal_id, context_type, context_id, activated_at, expired_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, t.table, t.column)

	var contextType sql.NullString
	var contextID sql.NullInt64
	if a.Context != nil {
		contextType = sql.NullString{String: a.Context.Kind, Valid: true}
		contextID = sql.NullInt64{Int64: a.Context.ID, Valid: true}
	}

	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx, query,
		targetID,
		a.Principal.Type,
		a.Principal.ID,
		contextType,
		contextID,
		utcPtr(a.ActivatedAt),
		utcPtr(a.ExpiredAt),
		now,
		now,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("failed to insert into %s: %w", t.table, err)
	}

	a.CreatedAt = now
	a.UpdatedAt = now
	return nil
}

func (s *Store) deleteAssignments(ctx context.Context, t assignmentTable, targetID int64, p Principal, ref *ContextRef) (int64, error) {
	clause, args := contextClause("", ref, 4)
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE %s = $1 AND principal_type = $2 AND principal_id = $3 AND %s
	`, t.table, t.column, clause)

	result, err := s.db.ExecContext(ctx, query, append([]any{targetID, p.Type, p.ID}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", t.table, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// InsertRoleAssignment stores a role binding as given; windows are not validated here
func (s *Store) InsertRoleAssignment(ctx context.Context, a *RoleAssignment) error {
	return s.insertAssignment(ctx, roleAssignments, a.RoleID, &a.Assignment)
}

// DeleteRoleAssignments removes every binding of roleID to p in exactly ref
func (s *Store) DeleteRoleAssignments(ctx context.Context, p Principal, roleID int64, ref *ContextRef) (int64, error) {
	return s.deleteAssignments(ctx, roleAssignments, roleID, p, ref)
}

// InsertPermissionAssignment stores a direct permission binding as given
func (s *Store) InsertPermissionAssignment(ctx context.Context, a *PermissionAssignment) error {
	return s.insertAssignment(ctx, permissionAssignments, a.PermissionID, &a.Assignment)
}

// DeletePermissionAssignments removes every binding of permissionID to p in exactly ref
func (s *Store) DeletePermissionAssignments(ctx context.Context, p Principal, permissionID int64, ref *ContextRef) (int64, error) {
	return s.deleteAssignments(ctx, permissionAssignments, permissionID, p, ref)
}

func (s *Store) listAssignments(ctx context.Context, t assignmentTable, p Principal) ([]Assignment, []int64, []string, error) {
	query := fmt.Sprintf(`
		SELECT a.id, a.%[2]s, c.name, a.context_type, a.context_id, a.activated_at, a.expired_at, a.created_at, a.updated_at
		FROM %[1]s a
		JOIN %[3]s c ON c.id = a.%[2]s
		WHERE a.principal_type = $1 AND a.principal_id = $2
		ORDER BY a.id
	`, t.table, t.column, t.catalog)

	rows, err := s.db.QueryContext(ctx, query, p.Type, p.ID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to list %s: %w", t.table, err)
	}
	defer rows.Close()

	var assignments []Assignment
	var targets []int64
	var names []string
	for rows.Next() {
		var a Assignment
		var targetID int64
		var name string
		var contextType sql.NullString
		var contextID sql.NullInt64
		var activatedAt, expiredAt sql.NullTime

		if err := rows.Scan(&a.ID, &targetID, &name, &contextType, &contextID, &activatedAt, &expiredAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to scan %s: %w", t.table, err)
		}

		a.Principal = p
		if contextType.Valid {
			a.Context = &ContextRef{Kind: contextType.String, ID: contextID.Int64}
		}
		a.ActivatedAt = timePtr(activatedAt)
		a.ExpiredAt = timePtr(expiredAt)

		assignments = append(assignments, a)
		targets = append(targets, targetID)
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to iterate %s: %w", t.table, err)
	}
	return assignments, targets, names, nil
}

// RoleAssignments lists every role binding of p, active or not
func (s *Store) RoleAssignments(ctx context.Context, p Principal) ([]RoleAssignment, error) {
	assignments, roleIDs, names, err := s.listAssignments(ctx, roleAssignments, p)
	if err != nil {
		return nil, err
	}

	out := make([]RoleAssignment, 0, len(assignments))
	for i, a := range assignments {
		out = append(out, RoleAssignment{Assignment: a, RoleID: roleIDs[i], RoleName: names[i]})
	}
	return out, nil
}

// PermissionAssignments lists every direct permission binding of p, active or not
func (s *Store) PermissionAssignments(ctx context.Context, p Principal) ([]PermissionAssignment, error) {
	assignments, permIDs, names, err := s.listAssignments(ctx, permissionAssignments, p)
	if err != nil {
		return nil, err
	}

	out := make([]PermissionAssignment, 0, len(assignments))
	for i, a := range assignments {
		out = append(out, PermissionAssignment{Assignment: a, PermissionID: permIDs[i], PermissionName: names[i]})
	}
	return out, nil
}

// window is the temporal part of a candidate binding
type window struct {
	activatedAt *time.Time
	expiredAt   *time.Time
}

func (w window) activeAt(t time.Time) bool {
	return IsActive(w.activatedAt, w.expiredAt, t)
}

func (s *Store) queryWindows(ctx context.Context, query string, args ...any) ([]window, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var windows []window
	for rows.Next() {
		var activatedAt, expiredAt sql.NullTime
		if err := rows.Scan(&activatedAt, &expiredAt); err != nil {
			return nil, err
		}
		windows = append(windows, window{activatedAt: timePtr(activatedAt), expiredAt: timePtr(expiredAt)})
	}
	return windows, rows.Err()
}

// roleWindows returns the windows of every binding of the named role to
// p in exactly ref.
func (s *Store) roleWindows(ctx context.Context, p Principal, roleName string, ref *ContextRef) ([]window, error) {
	clause, args := contextClause("mhr.", ref, 5)
	query := fmt.Sprintf(`
		SELECT mhr.activated_at, mhr.expired_at
		FROM model_has_roles mhr
		JOIN roles r ON r.id = mhr.role_id
		WHERE mhr.principal_type = $1 AND mhr.principal_id = $2
		  AND r.name = $3 AND r.guard_name = $4
		  AND %s
	`, clause)

	windows, err := s.queryWindows(ctx, query, append([]any{p.Type, p.ID, roleName, s.guard}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query role bindings: %w", err)
	}
	return windows, nil
}

// directPermissionWindows returns the windows of every direct binding of
// the named permission to p in exactly ref.
func (s *Store) directPermissionWindows(ctx context.Context, p Principal, permName string, ref *ContextRef) ([]window, error) {
	clause, args := contextClause("mhp.", ref, 5)
	query := fmt.Sprintf(`
		SELECT mhp.activated_at, mhp.expired_at
		FROM model_has_permissions mhp
		JOIN permissions perm ON perm.id = mhp.permission_id
		WHERE mhp.principal_type = $1 AND mhp.principal_id = $2
		  AND perm.name = $3 AND perm.guard_name = $4
		  AND %s
	`, clause)

	windows, err := s.queryWindows(ctx, query, append([]any{p.Type, p.ID, permName, s.guard}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query permission bindings: %w", err)
	}
	return windows, nil
}

// rolePermissionWindows returns the windows of every role binding of p in
// exactly ref whose role carries the named permission.
func (s *Store) rolePermissionWindows(ctx context.Context, p Principal, permName string, ref *ContextRef) ([]window, error) {
	clause, args := contextClause("mhr.", ref, 5)
	query := fmt.Sprintf(`
		SELECT mhr.activated_at, mhr.expired_at
		FROM model_has_roles mhr
		JOIN role_has_permissions rhp ON rhp.role_id = mhr.role_id
		JOIN permissions perm ON perm.id = rhp.permission_id
		WHERE mhr.principal_type = $1 AND mhr.principal_id = $2
		  AND perm.name = $3 AND perm.guard_name = $4
		  AND %s
	`, clause)

	windows, err := s.queryWindows(ctx, query, append([]any{p.Type, p.ID, permName, s.guard}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query role permission bindings: %w", err)
	}
	return windows, nil
}

// namedWindow is a candidate binding carrying the permission name it grants
type namedWindow struct {
	name string
	window
}

// permissionCandidates returns direct and role-mediated permission
// bindings of p in exactly ref, for every permission of the guard.
func (s *Store) permissionCandidates(ctx context.Context, p Principal, ref *ContextRef) ([]namedWindow, error) {
	direct, args := contextClause("mhp.", ref, 4)
	viaRole, _ := contextClause("mhr.", ref, 4)
	query := fmt.Sprintf(`
		SELECT perm.name, mhp.activated_at, mhp.expired_at
		FROM model_has_permissions mhp
		JOIN permissions perm ON perm.id = mhp.permission_id
		WHERE mhp.principal_type = $1 AND mhp.principal_id = $2 AND perm.guard_name = $3
		  AND %s
		UNION ALL
		SELECT perm.name, mhr.activated_at, mhr.expired_at
		FROM model_has_roles mhr
		JOIN role_has_permissions rhp ON rhp.role_id = mhr.role_id
		JOIN permissions perm ON perm.id = rhp.permission_id
		WHERE mhr.principal_type = $1 AND mhr.principal_id = $2 AND perm.guard_name = $3
		  AND %s
	`, direct, viaRole)

	rows, err := s.db.QueryContext(ctx, query, append([]any{p.Type, p.ID, s.guard}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query permission candidates: %w", err)
	}
	defer rows.Close()

	var candidates []namedWindow
	for rows.Next() {
		var c namedWindow
		var activatedAt, expiredAt sql.NullTime
		if err := rows.Scan(&c.name, &activatedAt, &expiredAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission candidate: %w", err)
		}
		c.activatedAt = timePtr(activatedAt)
		c.expiredAt = timePtr(expiredAt)
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate permission candidates: %w", err)
	}
	return candidates, nil
}

// PurgeExpired deletes role and permission bindings whose expiry lies
// strictly before cutoff and returns how many were removed.
func (s *Store) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for _, t := range []assignmentTable{roleAssignments, permissionAssignments} {
		ids, err := s.expiredIDs(ctx, t, cutoff)
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			continue
		}

		n, err := s.deleteByIDs(ctx, t, ids)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// expiredIDs compares expiry in Go so that SQLite's textual timestamps
// and Postgres timestamptz behave the same.
func (s *Store) expiredIDs(ctx context.Context, t assignmentTable, cutoff time.Time) ([]int64, error) {
	query := fmt.Sprintf(`SELECT id, expired_at FROM %s WHERE expired_at IS NOT NULL`, t.table)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s for expired bindings: %w", t.table, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		var expiredAt time.Time
		if err := rows.Scan(&id, &expiredAt); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", t.table, err)
		}
		if expiredAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", t.table, err)
	}
	return ids, nil
}

const purgeBatchSize = 500

func (s *Store) deleteByIDs(ctx context.Context, t assignmentTable, ids []int64) (int64, error) {
	var total int64
	for start := 0; start < len(ids); start += purgeBatchSize {
		end := min(start+purgeBatchSize, len(ids))
		batch := ids[start:end]

		placeholders := make([]string, len(batch))
		args := make([]any, len(batch))
		for i, id := range batch {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args[i] = id
		}

		query := fmt.Sprintf(`DELETE FROM %s WHERE id IN (%s)`, t.table, strings.Join(placeholders, ", "))
		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return total, fmt.Errorf("failed to purge %s: %w", t.table, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to get rows affected: %w", err)
		}
		total += n
	}
	return total, nil
}

// contextClause renders the exact-match scope condition for ref. Bound
// parameters start at $next.
func contextClause(prefix string, ref *ContextRef, next int) (string, []any) {
	if ref == nil {
		return fmt.Sprintf("%[1]scontext_type IS NULL AND %[1]scontext_id IS NULL", prefix), nil
	}
	return fmt.Sprintf("%scontext_type = $%d AND %scontext_id = $%d", prefix, next, prefix, next+1),
		[]any{ref.Kind, ref.ID}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

// Stats counts catalog entries and bindings
type Stats struct {
	Roles                 int64 `json:"roles"`
	Permissions           int64 `json:"permissions"`
	RoleAssignments       int64 `json:"role_assignments"`
	PermissionAssignments int64 `json:"permission_assignments"`
}

// Stats returns row counts for every guard
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	counts := []struct {
		table string
		dest  *int64
	}{
		{rolesCatalog.table, &stats.Roles},
		{permissionsCatalog.table, &stats.Permissions},
		{roleAssignments.table, &stats.RoleAssignments},
		{permissionAssignments.table, &stats.PermissionAssignments},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", c.table, err)
		}
	}
	return stats, nil
}
