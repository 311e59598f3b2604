package users

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

const userColumns = `id, username, email, created_at, updated_at`

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create inserts a new user
func (s *PostgresStore) Create(ctx context.Context, req CreateUserRequest) (*User, error) {
	query := `
		INSERT INTO users (username, email)
		VALUES ($1, $2)
		RETURNING ` + userColumns
	user, err := scanUser(s.db.QueryRowContext(ctx, query, req.Username, req.Email))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.Conflictf("email %q is already registered", req.Email)
		}
		return nil, apperrors.Store(err, "failed to create user")
	}
	return user, nil
}

// Get retrieves a user by id
func (s *PostgresStore) Get(ctx context.Context, id int64) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	user, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Store(err, "failed to get user")
	}
	return user, nil
}

// GetByEmail retrieves a user by email address
func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	user, err := scanUser(s.db.QueryRowContext(ctx, query, normalizeEmail(email)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Store(err, "failed to get user by email")
	}
	return user, nil
}

// GetMany retrieves every existing user among ids
func (s *PostgresStore) GetMany(ctx context.Context, ids []int64) (map[int64]*User, error) {
	found := make(map[int64]*User, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE id = ANY($1)`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, apperrors.Store(err, "failed to get users")
	}
	defer rows.Close()

	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, apperrors.Store(err, "failed to scan user")
		}
		found[user.ID] = user
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Store(err, "failed to iterate users")
	}
	return found, nil
}

// Update applies a partial update
func (s *PostgresStore) Update(ctx context.Context, id int64, req UpdateUserRequest) (*User, error) {
	query := `
		UPDATE users
		SET username = COALESCE($2, username),
		    email = COALESCE($3, email),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns
	user, err := scanUser(s.db.QueryRowContext(ctx, query, id, nullString(req.Username), nullString(req.Email)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.Conflictf("email %q is already registered", *req.Email)
		}
		return nil, apperrors.Store(err, "failed to update user")
	}
	return user, nil
}

// Delete removes a user. The schema refuses while memberships remain.
func (s *PostgresStore) Delete(ctx context.Context, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		if isPQCode(err, pqForeignKeyViolation) {
			return false, apperrors.Conflictf("user %d still belongs to an organization", id)
		}
		return false, apperrors.Store(err, "failed to delete user")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.Store(err, "failed to get rows affected")
	}
	return affected > 0, nil
}

// List returns a page of users ordered by id
func (s *PostgresStore) List(ctx context.Context, opts ListOptions) ([]*User, error) {
	opts = opts.normalized()
	query := `SELECT ` + userColumns + ` FROM users ORDER BY id LIMIT $1 OFFSET $2`
	rows, err := s.db.QueryContext(ctx, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, apperrors.Store(err, "failed to list users")
	}
	defer rows.Close()

	list := []*User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, apperrors.Store(err, "failed to scan user")
		}
		list = append(list, user)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Store(err, "failed to iterate users")
	}
	return list, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*User, error) {
	user := &User{}
	if err := row.Scan(&user.ID, &user.Username, &user.Email, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}
	return user, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func isUniqueViolation(err error) bool {
	return isPQCode(err, pqUniqueViolation)
}

func isPQCode(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == code
	}
	return false
}
