package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/tenancy/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the tenancy schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					username VARCHAR(255) NOT NULL,
					email VARCHAR(320) NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CONSTRAINT users_email_key UNIQUE (email)
				);
			`,
		},
		{
			Version:     2,
			Description: "Create organizations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS organizations (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(64) NOT NULL,
					display_name VARCHAR(255),
					description TEXT,
					website_url TEXT,
					avatar_url TEXT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CONSTRAINT organizations_name_key UNIQUE (name)
				);
			`,
		},
		{
			Version:     3,
			Description: "Create organization_members table",
			SQL: `
				CREATE TABLE IF NOT EXISTS organization_members (
					id BIGSERIAL PRIMARY KEY,
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role VARCHAR(16) NOT NULL CHECK (role IN ('owner', 'admin', 'member')),
					joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					invited_at TIMESTAMPTZ,
					invited_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					CONSTRAINT organization_members_org_user_key UNIQUE (organization_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_organization_members_user_id ON organization_members(user_id);
				CREATE INDEX IF NOT EXISTS idx_organization_members_owners ON organization_members(organization_id) WHERE role = 'owner';
			`,
		},
		{
			Version:     4,
			Description: "Create audit_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_events (
					id UUID PRIMARY KEY,
					occurred_at TIMESTAMPTZ NOT NULL,
					event_type VARCHAR(64) NOT NULL,
					status VARCHAR(16) NOT NULL,
					actor_id BIGINT,
					organization_id BIGINT,
					organization VARCHAR(64),
					target_user_id BIGINT,
					role VARCHAR(16),
					request_id VARCHAR(128),
					message TEXT,
					changes JSONB
				);

				CREATE INDEX IF NOT EXISTS idx_audit_events_organization ON audit_events(organization, occurred_at DESC);
			`,
		},
		{
			Version:     5,
			Description: "Restrict deleting users that still hold memberships",
			SQL: `
				ALTER TABLE organization_members
					DROP CONSTRAINT IF EXISTS organization_members_user_id_fkey,
					ADD CONSTRAINT organization_members_user_id_fkey
						FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE RESTRICT;
			`,
		},
	}
}

// RunMigrations applies pending migrations, each in its own transaction
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("failed to read migrations: %w", err)
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
