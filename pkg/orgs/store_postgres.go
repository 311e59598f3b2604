package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

const orgColumns = `id, name, display_name, description, website_url, avatar_url, created_at, updated_at`

const memberColumns = `id, organization_id, user_id, role, joined_at, invited_at, invited_by`

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db     *sql.DB
	reader querier
	q      querier
	inTx   bool
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, reader: db, q: db}
}

// WithReader routes pass-through reads (organization lookups and the
// per-user organization listing) to a replica. Role checks always use the
// primary.
func (s *PostgresStore) WithReader(reader *sql.DB) *PostgresStore {
	if reader == nil {
		return s
	}
	clone := *s
	clone.reader = reader
	return &clone
}

// Primary returns a view of the store with replica routing undone.
func (s *PostgresStore) Primary() Store {
	clone := *s
	clone.reader = s.q
	return &clone
}

// InTx runs fn inside a transaction. Nested calls reuse the outer transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Store(err, "failed to start transaction")
	}

	txStore := &PostgresStore{db: s.db, reader: tx, q: tx, inTx: true}
	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return apperrors.Store(fmt.Errorf("%v (rollback: %w)", err, rbErr), "failed to roll back transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Store(err, "failed to commit transaction")
	}
	return nil
}

// CreateOrganization inserts a new organization
func (s *PostgresStore) CreateOrganization(ctx context.Context, org NewOrganization) (*Organization, error) {
	query := `
		INSERT INTO organizations (name, display_name, description, website_url)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + orgColumns
	created, err := scanOrganization(s.q.QueryRowContext(ctx, query,
		org.Name, nullString(org.DisplayName), nullString(org.Description), nullString(org.WebsiteURL)))
	if err != nil {
		if isPQCode(err, pqUniqueViolation) {
			return nil, apperrors.Conflictf("organization %q already exists", org.Name)
		}
		return nil, apperrors.Store(err, "failed to create organization")
	}
	return created, nil
}

// GetOrganization retrieves an organization by name
func (s *PostgresStore) GetOrganization(ctx context.Context, name string) (*Organization, error) {
	query := `SELECT ` + orgColumns + ` FROM organizations WHERE name = $1`
	org, err := scanOrganization(s.reader.QueryRowContext(ctx, query, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Store(err, "failed to get organization")
	}
	return org, nil
}

// LockOrganization retrieves an organization by name and locks its row
func (s *PostgresStore) LockOrganization(ctx context.Context, name string) (*Organization, error) {
	query := `SELECT ` + orgColumns + ` FROM organizations WHERE name = $1 FOR UPDATE`
	org, err := scanOrganization(s.q.QueryRowContext(ctx, query, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Store(err, "failed to lock organization")
	}
	return org, nil
}

// UpdateOrganization applies a partial update
func (s *PostgresStore) UpdateOrganization(ctx context.Context, name string, patch OrganizationPatch) (*Organization, error) {
	query := `
		UPDATE organizations
		SET display_name = COALESCE($2, display_name),
		    description = COALESCE($3, description),
		    website_url = COALESCE($4, website_url),
		    avatar_url = COALESCE($5, avatar_url),
		    updated_at = NOW()
		WHERE name = $1
		RETURNING ` + orgColumns
	org, err := scanOrganization(s.q.QueryRowContext(ctx, query, name,
		nullString(patch.DisplayName), nullString(patch.Description),
		nullString(patch.WebsiteURL), nullString(patch.AvatarURL)))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFoundf("organization %q not found", name)
	}
	if err != nil {
		return nil, apperrors.Store(err, "failed to update organization")
	}
	return org, nil
}

// DeleteOrganization deletes an organization; memberships cascade
func (s *PostgresStore) DeleteOrganization(ctx context.Context, name string) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM organizations WHERE name = $1`, name)
	if err != nil {
		return apperrors.Store(err, "failed to delete organization")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.Store(err, "failed to get rows affected")
	}
	if rows == 0 {
		return apperrors.NotFoundf("organization %q not found", name)
	}
	return nil
}

// ListMembers lists all members of an organization in join order
func (s *PostgresStore) ListMembers(ctx context.Context, orgID int64) ([]*Membership, error) {
	query := `
		SELECT ` + memberColumns + `
		FROM organization_members
		WHERE organization_id = $1
		ORDER BY joined_at ASC, id ASC`
	rows, err := s.q.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, apperrors.Store(err, "failed to list members")
	}
	defer rows.Close()

	members := []*Membership{}
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, apperrors.Store(err, "failed to scan member")
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Store(err, "failed to iterate members")
	}
	return members, nil
}

// ListUserOrganizations lists the organizations a user belongs to
func (s *PostgresStore) ListUserOrganizations(ctx context.Context, userID int64) ([]*Organization, error) {
	query := `
		SELECT o.id, o.name, o.display_name, o.description, o.website_url, o.avatar_url, o.created_at, o.updated_at
		FROM organizations o
		INNER JOIN organization_members om ON om.organization_id = o.id
		WHERE om.user_id = $1
		ORDER BY o.name`
	rows, err := s.reader.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, apperrors.Store(err, "failed to list user organizations")
	}
	defer rows.Close()

	orgs := []*Organization{}
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, apperrors.Store(err, "failed to scan organization")
		}
		orgs = append(orgs, org)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Store(err, "failed to iterate organizations")
	}
	return orgs, nil
}

// GetRole returns a user's role in an organization
func (s *PostgresStore) GetRole(ctx context.Context, orgID, userID int64) (Role, bool, error) {
	var raw string
	err := s.q.QueryRowContext(ctx,
		`SELECT role FROM organization_members WHERE organization_id = $1 AND user_id = $2`,
		orgID, userID).Scan(&raw)
	if err == sql.ErrNoRows {
		return roleUnknown, false, nil
	}
	if err != nil {
		return roleUnknown, false, apperrors.Store(err, "failed to get member role")
	}
	role, err := ParseRole(raw)
	if err != nil {
		return roleUnknown, false, apperrors.Store(err, "failed to parse stored role")
	}
	return role, true, nil
}

// AddMember inserts a membership
func (s *PostgresStore) AddMember(ctx context.Context, m NewMembership) (*Membership, error) {
	query := `
		INSERT INTO organization_members (organization_id, user_id, role, invited_at, invited_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + memberColumns
	var invitedAt sql.NullTime
	if m.InvitedAt != nil {
		invitedAt = sql.NullTime{Time: *m.InvitedAt, Valid: true}
	}
	var invitedBy sql.NullInt64
	if m.InvitedBy != nil {
		invitedBy = sql.NullInt64{Int64: *m.InvitedBy, Valid: true}
	}

	created, err := scanMembership(s.q.QueryRowContext(ctx, query,
		m.OrganizationID, m.UserID, m.Role.String(), invitedAt, invitedBy))
	if err != nil {
		if isPQCode(err, pqUniqueViolation) {
			return nil, apperrors.Conflictf("user %d is already a member of this organization", m.UserID)
		}
		if isPQCode(err, pqForeignKeyViolation) {
			return nil, apperrors.NotFoundf("user %d not found", m.UserID)
		}
		return nil, apperrors.Store(err, "failed to add member")
	}
	return created, nil
}

// UpdateMemberRole changes a member's role
func (s *PostgresStore) UpdateMemberRole(ctx context.Context, orgID, userID int64, role Role) (*Membership, error) {
	query := `
		UPDATE organization_members
		SET role = $3
		WHERE organization_id = $1 AND user_id = $2
		RETURNING ` + memberColumns
	m, err := scanMembership(s.q.QueryRowContext(ctx, query, orgID, userID, role.String()))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFoundf("user %d is not a member of this organization", userID)
	}
	if err != nil {
		return nil, apperrors.Store(err, "failed to update member role")
	}
	return m, nil
}

// RemoveMember deletes a membership
func (s *PostgresStore) RemoveMember(ctx context.Context, orgID, userID int64) error {
	result, err := s.q.ExecContext(ctx,
		`DELETE FROM organization_members WHERE organization_id = $1 AND user_id = $2`,
		orgID, userID)
	if err != nil {
		return apperrors.Store(err, "failed to remove member")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.Store(err, "failed to get rows affected")
	}
	if rows == 0 {
		return apperrors.NotFoundf("user %d is not a member of this organization", userID)
	}
	return nil
}

// CountOwners counts owner memberships of an organization
func (s *PostgresStore) CountOwners(ctx context.Context, orgID int64) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM organization_members WHERE organization_id = $1 AND role = $2`,
		orgID, RoleOwner.String()).Scan(&count)
	if err != nil {
		return 0, apperrors.Store(err, "failed to count owners")
	}
	return count, nil
}

func scanOrganization(row rowScanner) (*Organization, error) {
	org := &Organization{}
	var displayName, description, websiteURL, avatarURL sql.NullString
	err := row.Scan(&org.ID, &org.Name, &displayName, &description, &websiteURL, &avatarURL,
		&org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return nil, err
	}
	org.DisplayName = stringPtr(displayName)
	org.Description = stringPtr(description)
	org.WebsiteURL = stringPtr(websiteURL)
	org.AvatarURL = stringPtr(avatarURL)
	return org, nil
}

func scanMembership(row rowScanner) (*Membership, error) {
	m := &Membership{}
	var role string
	var invitedAt sql.NullTime
	var invitedBy sql.NullInt64
	if err := row.Scan(&m.ID, &m.OrganizationID, &m.UserID, &role, &m.JoinedAt, &invitedAt, &invitedBy); err != nil {
		return nil, err
	}
	parsed, err := ParseRole(role)
	if err != nil {
		return nil, err
	}
	m.Role = parsed
	if invitedAt.Valid {
		t := invitedAt.Time
		m.InvitedAt = &t
	}
	if invitedBy.Valid {
		id := invitedBy.Int64
		m.InvitedBy = &id
	}
	return m, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func isPQCode(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == code
	}
	return false
}
