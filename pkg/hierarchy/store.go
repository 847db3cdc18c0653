package hierarchy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/rampart/pkg/database"
)

// Store persists one kind of container and its memberships.
// Organizations and partners share this implementation; only the
// table names differ.
type Store struct {
	db      *sql.DB
	dialect string
	kind    Kind
	tables  tables
	now     func() time.Time
}

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewStore creates a store for the given kind
func NewStore(db *sql.DB, kind Kind) (*Store, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}
	store := &Store{
		db:      db,
		dialect: database.DriverPostgres,
		kind:    kind,
		tables:  kindTables[kind],
		now:     func() time.Time { return time.Now().UTC() },
	}
	if db != nil {
		store.dialect = database.Dialect(db)
	}
	return store, nil
}

// Kind returns the container kind this store manages
func (s *Store) Kind() Kind {
	return s.kind
}

// Create inserts a container. A parent, if set, must exist and have an
// acyclic ancestor chain.
func (s *Store) Create(ctx context.Context, c *Container) error {
	return s.inTx(ctx, func(q querier) error {
		if c.ParentID != nil {
			if err := s.checkParent(ctx, q, 0, *c.ParentID); err != nil {
				return err
			}
		}

		query := fmt.Sprintf(`
			INSERT INTO %s (name, parent_id, type, description, is_business, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, s.tables.containers)

		now := s.now()
		err := q.QueryRowContext(ctx, query,
			c.Name,
			c.ParentID,
			nullString(c.Type),
			nullString(c.Description),
			c.IsBusiness,
			now,
			now,
		).Scan(&c.ID)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", s.kind, err)
		}

		c.Kind = s.kind
		c.CreatedAt = now
		c.UpdatedAt = now
		return nil
	})
}

// Get retrieves a container by ID
func (s *Store) Get(ctx context.Context, id int64) (*Container, error) {
	return s.get(ctx, s.db, id)
}

func (s *Store) get(ctx context.Context, q querier, id int64) (*Container, error) {
	query := fmt.Sprintf(`
		SELECT id, name, parent_id, type, description, is_business, created_at, updated_at
		FROM %s
		WHERE id = $1
	`, s.tables.containers)

	c, err := s.scanContainer(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s:%d", ErrNotFound, s.kind, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", s.kind, err)
	}
	return c, nil
}

// Children returns the direct children of a container ordered by ID
func (s *Store) Children(ctx context.Context, parentID int64) ([]Container, error) {
	return s.children(ctx, s.db, parentID)
}

func (s *Store) children(ctx context.Context, q querier, parentID int64) ([]Container, error) {
	query := fmt.Sprintf(`
		SELECT id, name, parent_id, type, description, is_business, created_at, updated_at
		FROM %s
		WHERE parent_id = $1
		ORDER BY id
	`, s.tables.containers)

	return s.queryContainers(ctx, q, query, parentID)
}

// Roots returns every container without a parent
func (s *Store) Roots(ctx context.Context) ([]Container, error) {
	query := fmt.Sprintf(`
		SELECT id, name, parent_id, type, description, is_business, created_at, updated_at
		FROM %s
		WHERE parent_id IS NULL
		ORDER BY id
	`, s.tables.containers)

	return s.queryContainers(ctx, s.db, query)
}

// Business returns the container flagged as the business entity
func (s *Store) Business(ctx context.Context) (*Container, error) {
	query := fmt.Sprintf(`
		SELECT id, name, parent_id, type, description, is_business, created_at, updated_at
		FROM %s
		WHERE is_business = $1
		ORDER BY id
		LIMIT 1
	`, s.tables.containers)

	c, err := s.scanContainer(s.db.QueryRowContext(ctx, query, true))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no business %s", ErrNotFound, s.kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get business %s: %w", s.kind, err)
	}
	return c, nil
}

// SetParent moves a container under a new parent, or makes it a root
// when parentID is nil. Moves that would close a loop fail with
// ErrCycleDetected. The check and the move run in one transaction that
// excludes concurrent moves of the same kind.
func (s *Store) SetParent(ctx context.Context, id int64, parentID *int64) error {
	return s.inTx(ctx, func(q querier) error {
		if parentID != nil {
			if err := s.checkParent(ctx, q, id, *parentID); err != nil {
				return err
			}
		}

		query := fmt.Sprintf(`UPDATE %s SET parent_id = $1, updated_at = $2 WHERE id = $3`, s.tables.containers)

		result, err := q.ExecContext(ctx, query, parentID, s.now(), id)
		if err != nil {
			return fmt.Errorf("failed to set parent of %s:%d: %w", s.kind, id, err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("%w: %s:%d", ErrNotFound, s.kind, id)
		}
		return nil
	})
}

// Delete removes a container. Descendants and memberships cascade.
func (s *Store) Delete(ctx context.Context, id int64) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.tables.containers)

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s:%d: %w", s.kind, id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s:%d", ErrNotFound, s.kind, id)
	}
	return nil
}

// Join adds a principal to a container
func (s *Store) Join(ctx context.Context, containerID int64, member Member, position *string) (*Membership, error) {
	if err := member.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.Get(ctx, containerID); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (%s, principal_type, principal_id, position, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.tables.memberships, s.tables.foreignKey)

	now := s.now()
	_, err := s.db.ExecContext(ctx, query, containerID, member.Type, member.ID, position, true, now, now)
	if database.IsUniqueViolation(err) {
		return nil, fmt.Errorf("%w: %s in %s:%d", ErrAlreadyMember, member, s.kind, containerID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to add member to %s:%d: %w", s.kind, containerID, err)
	}

	return &Membership{
		ContainerID:   containerID,
		PrincipalType: member.Type,
		PrincipalID:   member.ID,
		Position:      position,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Leave removes a principal from a container
func (s *Store) Leave(ctx context.Context, containerID int64, member Member) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1 AND principal_type = $2 AND principal_id = $3`,
		s.tables.memberships, s.tables.foreignKey)

	result, err := s.db.ExecContext(ctx, query, containerID, member.Type, member.ID)
	if err != nil {
		return fmt.Errorf("failed to remove member from %s:%d: %w", s.kind, containerID, err)
	}
	return s.memberAffected(result, containerID, member)
}

// SetMemberActive toggles the active flag of a membership
func (s *Store) SetMemberActive(ctx context.Context, containerID int64, member Member, active bool) error {
	query := fmt.Sprintf(`UPDATE %s SET is_active = $1, updated_at = $2 WHERE %s = $3 AND principal_type = $4 AND principal_id = $5`,
		s.tables.memberships, s.tables.foreignKey)

	result, err := s.db.ExecContext(ctx, query, active, s.now(), containerID, member.Type, member.ID)
	if err != nil {
		return fmt.Errorf("failed to update member of %s:%d: %w", s.kind, containerID, err)
	}
	return s.memberAffected(result, containerID, member)
}

func (s *Store) memberAffected(result sql.Result, containerID int64, member Member) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s in %s:%d", ErrNotMember, member, s.kind, containerID)
	}
	return nil
}

// IsMember reports whether a principal holds an active membership
func (s *Store) IsMember(ctx context.Context, containerID int64, member Member) (bool, error) {
	query := fmt.Sprintf(`SELECT is_active FROM %s WHERE %s = $1 AND principal_type = $2 AND principal_id = $3`,
		s.tables.memberships, s.tables.foreignKey)

	var active bool
	err := s.db.QueryRowContext(ctx, query, containerID, member.Type, member.ID).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return active, nil
}

// Members lists the memberships of a container ordered by principal
func (s *Store) Members(ctx context.Context, containerID int64) ([]Membership, error) {
	query := fmt.Sprintf(`
		SELECT %s, principal_type, principal_id, position, is_active, created_at, updated_at
		FROM %s
		WHERE %s = $1
		ORDER BY principal_type, principal_id
	`, s.tables.foreignKey, s.tables.memberships, s.tables.foreignKey)

	rows, err := s.db.QueryContext(ctx, query, containerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []Membership
	for rows.Next() {
		var m Membership
		var position sql.NullString
		if err := rows.Scan(&m.ContainerID, &m.PrincipalType, &m.PrincipalID, &position, &m.IsActive, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		if position.Valid {
			p := position.String
			m.Position = &p
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate members: %w", err)
	}
	return members, nil
}

// inTx runs fn in a transaction holding the tree lock of this kind.
// SQLite connections begin immediate transactions, which already
// serialize writers; Postgres takes a transaction-scoped advisory lock
// keyed by the container table.
func (s *Store) inTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if s.dialect == database.DriverPostgres {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, s.tables.containers); err != nil {
			return fmt.Errorf("failed to lock %s: %w", s.tables.containers, err)
		}
	}

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// txSource reads containers through an open transaction
type txSource struct {
	store *Store
	q     querier
}

func (t txSource) Get(ctx context.Context, id int64) (*Container, error) {
	return t.store.get(ctx, t.q, id)
}

func (t txSource) Children(ctx context.Context, parentID int64) ([]Container, error) {
	return t.store.children(ctx, t.q, parentID)
}

// checkParent verifies that parentID exists and that attaching id
// beneath it keeps the forest acyclic. id is 0 for new containers.
func (s *Store) checkParent(ctx context.Context, q querier, id, parentID int64) error {
	if id != 0 && id == parentID {
		return fmt.Errorf("%w: %s:%d cannot be its own parent", ErrCycleDetected, s.kind, id)
	}

	source := txSource{store: s, q: q}
	parent, err := source.Get(ctx, parentID)
	if err != nil {
		return err
	}

	ancestors, err := NewResolver(source).Ancestors(ctx, parent)
	if err != nil {
		return err
	}
	if id != 0 && containsID(ancestors, id) {
		return fmt.Errorf("%w: %s:%d is an ancestor of %s", ErrCycleDetected, s.kind, id, parent)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanContainer(row rowScanner) (*Container, error) {
	var c Container
	var parentID sql.NullInt64
	var typ, description sql.NullString

	err := row.Scan(
		&c.ID,
		&c.Name,
		&parentID,
		&typ,
		&description,
		&c.IsBusiness,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Kind = s.kind
	if parentID.Valid {
		id := parentID.Int64
		c.ParentID = &id
	}
	c.Type = typ.String
	c.Description = description.String
	return &c, nil
}

func (s *Store) queryContainers(ctx context.Context, q querier, query string, args ...any) ([]Container, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.tables.containers, err)
	}
	defer rows.Close()

	var containers []Container
	for rows.Next() {
		c, err := s.scanContainer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", s.kind, err)
		}
		containers = append(containers, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", s.tables.containers, err)
	}
	return containers, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
