package postgres

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenancy/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{})
}

func TestGetMigrations_Ordered(t *testing.T) {
	migrations := GetMigrations()
	require.NotEmpty(t, migrations)
	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.Description)
		assert.NotEmpty(t, m.SQL)
	}
	assert.Contains(t, migrations[2].SQL, "ON DELETE CASCADE")
	assert.Contains(t, migrations[2].SQL, "UNIQUE (organization_id, user_id)")
	assert.Contains(t, migrations[4].SQL, "REFERENCES users(id) ON DELETE RESTRICT")
}

func TestRunMigrations_AppliesPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1).AddRow(2))

	for _, m := range GetMigrations()[2:] {
		mock.ExpectBegin()
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS|ALTER TABLE organization_members").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("INSERT INTO schema_migrations").
			WithArgs(m.Version, m.Description).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}

	require.NoError(t, RunMigrations(context.Background(), db, testLogger()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_RollsBackFailedMigration(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	err = RunMigrations(context.Background(), db, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute migration 1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_TrackingTableFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnError(errors.New("read-only"))

	err = RunMigrations(context.Background(), db, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create migrations table")
}
