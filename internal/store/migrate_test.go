package store

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationFiles_Ordered(t *testing.T) {
	files := migrationFiles()
	require.NotEmpty(t, files)
	for i := 1; i < len(files); i++ {
		assert.Less(t, files[i-1], files[i])
	}
	assert.Equal(t, "0001_init.sql", files[0])
}

func TestMigratePostgres_SkipsApplied(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	files := migrationFiles()

	mock.ExpectExec(`SELECT pg_advisory_lock\(\$1\)`).
		WithArgs(migrationLockID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	// First file already applied; the rest are pending.
	mock.ExpectQuery(`SELECT filename FROM schema_migrations`).
		WillReturnRows(pgxmock.NewRows([]string{"filename"}).AddRow(files[0]))

	for _, name := range files[1:] {
		mock.ExpectExec(`CREATE`).
			WillReturnResult(pgxmock.NewResult("CREATE", 0))
		mock.ExpectExec(`INSERT INTO schema_migrations`).
			WithArgs(name).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}

	mock.ExpectExec(`SELECT pg_advisory_unlock\(\$1\)`).
		WithArgs(migrationLockID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, migratePostgres(context.Background(), mock))
	assert.NoError(t, mock.ExpectationsWereMet())
}
