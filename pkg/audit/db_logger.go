package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// DBLogger implements audit logging to the audit_events table
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-based audit logger. The table is
// created by the storage migrations.
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

// Log logs an audit event to the database
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	var changes interface{}
	if event.Changes != nil {
		changesJSON, err := json.Marshal(event.Changes)
		if err != nil {
			return fmt.Errorf("failed to marshal changes: %w", err)
		}
		changes = changesJSON
	}

	query := `
		INSERT INTO audit_events (
			id, occurred_at, event_type, status,
			actor_id, organization_id, organization, target_user_id, role,
			request_id, message, changes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := l.db.ExecContext(ctx, query,
		event.ID, event.Timestamp, string(event.Type), string(event.Status),
		nullInt64(event.ActorID), nullInt64(event.OrganizationID), event.Organization,
		nullInt64(event.TargetUserID), nullString(event.Role),
		nullString(event.RequestID), nullString(event.Message), changes,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Close is a no-op; the database handle is owned by the caller
func (l *DBLogger) Close() error {
	return nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
