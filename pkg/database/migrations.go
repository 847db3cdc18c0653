package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/rampart/pkg/observability"
)

// Migration represents a database migration with one script per dialect
type Migration struct {
	Version     int
	Description string
	Postgres    string
	SQLite      string
}

// SQL returns the script for driver
func (m Migration) SQL(driver string) string {
	if driver == DriverSQLite {
		return m.SQLite
	}
	return m.Postgres
}

// GetMigrations returns all schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create roles and permissions tables",
			Postgres: `
				CREATE TABLE IF NOT EXISTS roles (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					guard_name VARCHAR(255) NOT NULL DEFAULT 'web',
					label VARCHAR(255),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE(name, guard_name)
				);

				CREATE TABLE IF NOT EXISTS permissions (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					guard_name VARCHAR(255) NOT NULL DEFAULT 'web',
					label VARCHAR(255),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE(name, guard_name)
				);

				CREATE TABLE IF NOT EXISTS role_has_permissions (
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					PRIMARY KEY (role_id, permission_id)
				);

				CREATE INDEX IF NOT EXISTS idx_role_has_permissions_permission_id ON role_has_permissions(permission_id);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS roles (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL,
					guard_name TEXT NOT NULL DEFAULT 'web',
					label TEXT,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					UNIQUE(name, guard_name)
				);

				CREATE TABLE IF NOT EXISTS permissions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL,
					guard_name TEXT NOT NULL DEFAULT 'web',
					label TEXT,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					UNIQUE(name, guard_name)
				);

				CREATE TABLE IF NOT EXISTS role_has_permissions (
					role_id INTEGER NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_id INTEGER NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					PRIMARY KEY (role_id, permission_id)
				);

				CREATE INDEX IF NOT EXISTS idx_role_has_permissions_permission_id ON role_has_permissions(permission_id);
			`,
		},
		{
			Version:     2,
			Description: "Create principal assignment tables",
			Postgres: `
				CREATE TABLE IF NOT EXISTS model_has_roles (
					id BIGSERIAL PRIMARY KEY,
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					principal_type VARCHAR(255) NOT NULL,
					principal_id BIGINT NOT NULL,
					context_type VARCHAR(255),
					context_id BIGINT,
					activated_at TIMESTAMPTZ,
					expired_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_model_has_roles_principal ON model_has_roles(principal_type, principal_id);
				CREATE INDEX IF NOT EXISTS idx_model_has_roles_context ON model_has_roles(context_type, context_id);
				CREATE INDEX IF NOT EXISTS idx_model_has_roles_expired_at ON model_has_roles(expired_at);

				CREATE TABLE IF NOT EXISTS model_has_permissions (
					id BIGSERIAL PRIMARY KEY,
					permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					principal_type VARCHAR(255) NOT NULL,
					principal_id BIGINT NOT NULL,
					context_type VARCHAR(255),
					context_id BIGINT,
					activated_at TIMESTAMPTZ,
					expired_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_model_has_permissions_principal ON model_has_permissions(principal_type, principal_id);
				CREATE INDEX IF NOT EXISTS idx_model_has_permissions_context ON model_has_permissions(context_type, context_id);
				CREATE INDEX IF NOT EXISTS idx_model_has_permissions_expired_at ON model_has_permissions(expired_at);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS model_has_roles (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					role_id INTEGER NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					principal_type TEXT NOT NULL,
					principal_id INTEGER NOT NULL,
					context_type TEXT,
					context_id INTEGER,
					activated_at TIMESTAMP,
					expired_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_model_has_roles_principal ON model_has_roles(principal_type, principal_id);

				CREATE TABLE IF NOT EXISTS model_has_permissions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					permission_id INTEGER NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					principal_type TEXT NOT NULL,
					principal_id INTEGER NOT NULL,
					context_type TEXT,
					context_id INTEGER,
					activated_at TIMESTAMP,
					expired_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_model_has_permissions_principal ON model_has_permissions(principal_type, principal_id);
			`,
		},
		{
			Version:     3,
			Description: "Create organizations tables",
			Postgres:    containerTablesPostgres("organizations", "organization_employees", "organization_id"),
			SQLite:      containerTablesSQLite("organizations", "organization_employees", "organization_id"),
		},
		{
			Version:     4,
			Description: "Create partners tables",
			Postgres:    containerTablesPostgres("partners", "partner_employees", "partner_id"),
			SQLite:      containerTablesSQLite("partners", "partner_employees", "partner_id"),
		},
		{
			Version:     5,
			Description: "Create audit log table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS rbac_audit_log (
					id BIGSERIAL PRIMARY KEY,
					occurred_at TIMESTAMPTZ NOT NULL,
					event_type VARCHAR(64) NOT NULL,
					actor VARCHAR(255),
					principal VARCHAR(255) NOT NULL,
					target VARCHAR(255) NOT NULL,
					context VARCHAR(255),
					removed BIGINT NOT NULL DEFAULT 0,
					request_id VARCHAR(100),
					metadata JSONB
				);

				CREATE INDEX IF NOT EXISTS idx_rbac_audit_log_principal ON rbac_audit_log(principal, occurred_at DESC);
				CREATE INDEX IF NOT EXISTS idx_rbac_audit_log_occurred_at ON rbac_audit_log(occurred_at DESC);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS rbac_audit_log (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					occurred_at TIMESTAMP NOT NULL,
					event_type TEXT NOT NULL,
					actor TEXT,
					principal TEXT NOT NULL,
					target TEXT NOT NULL,
					context TEXT,
					removed INTEGER NOT NULL DEFAULT 0,
					request_id TEXT,
					metadata TEXT
				);

				CREATE INDEX IF NOT EXISTS idx_rbac_audit_log_principal ON rbac_audit_log(principal, occurred_at);
			`,
		},
		{
			Version:     6,
			Description: "Create webhook subscriptions table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS rbac_webhooks (
					id BIGSERIAL PRIMARY KEY,
					url TEXT NOT NULL,
					events TEXT NOT NULL,
					secret VARCHAR(255),
					format VARCHAR(32) NOT NULL DEFAULT 'json',
					active BOOLEAN NOT NULL DEFAULT TRUE,
					description TEXT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS rbac_webhooks (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					url TEXT NOT NULL,
					events TEXT NOT NULL,
					secret TEXT,
					format TEXT NOT NULL DEFAULT 'json',
					active BOOLEAN NOT NULL DEFAULT 1,
					description TEXT,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
			`,
		},
	}
}

func containerTablesPostgres(containers, memberships, foreignKey string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id BIGSERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			parent_id BIGINT REFERENCES %[1]s(id) ON DELETE CASCADE,
			type VARCHAR(255),
			description TEXT,
			is_business BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_%[1]s_parent_id ON %[1]s(parent_id);

		CREATE TABLE IF NOT EXISTS %[2]s (
			id BIGSERIAL PRIMARY KEY,
			%[3]s BIGINT NOT NULL REFERENCES %[1]s(id) ON DELETE CASCADE,
			principal_type VARCHAR(255) NOT NULL,
			principal_id BIGINT NOT NULL,
			position VARCHAR(255),
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(%[3]s, principal_type, principal_id)
		);

		CREATE INDEX IF NOT EXISTS idx_%[2]s_principal ON %[2]s(principal_type, principal_id);
	`, containers, memberships, foreignKey)
}

func containerTablesSQLite(containers, memberships, foreignKey string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			parent_id INTEGER REFERENCES %[1]s(id) ON DELETE CASCADE,
			type TEXT,
			description TEXT,
			is_business BOOLEAN NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_%[1]s_parent_id ON %[1]s(parent_id);

		CREATE TABLE IF NOT EXISTS %[2]s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			%[3]s INTEGER NOT NULL REFERENCES %[1]s(id) ON DELETE CASCADE,
			principal_type TEXT NOT NULL,
			principal_id INTEGER NOT NULL,
			position TEXT,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(%[3]s, principal_type, principal_id)
		);
	`, containers, memberships, foreignKey)
}

// Migrate executes all pending migrations for driver.
// logger may be nil.
func Migrate(ctx context.Context, db *sql.DB, driver string, logger *observability.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS rampart_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		if logger != nil {
			logger.WithField("version", migration.Version).Infof("Running migration: %s", migration.Description)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL(driver)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO rampart_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// AppliedVersions returns the versions recorded in the tracking table
func AppliedVersions(ctx context.Context, db *sql.DB) ([]int, error) {
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, err
	}
	var versions []int
	for _, m := range GetMigrations() {
		if applied[m.Version] {
			versions = append(versions, m.Version)
		}
	}
	return versions, nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM rampart_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}
