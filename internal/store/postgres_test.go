package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fibregrid/fieldlink/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_Projects(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT id, name, created_at FROM projects`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "created_at"}).
			AddRow("proj-1", "Northern Ring", now).
			AddRow("proj-2", "Harbour East", now))

	projects, err := s.Projects(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "proj-1", projects[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PlanningAssets(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	lat, lon := -33.9, 18.4
	mock.ExpectQuery(`SELECT project_id, kind, code, latitude, longitude, status\s+FROM planning_assets WHERE project_id = \$1 AND kind = \$2`).
		WithArgs("proj-1", "pole").
		WillReturnRows(pgxmock.NewRows([]string{"project_id", "kind", "code", "latitude", "longitude", "status"}).
			AddRow("proj-1", "pole", "LEP.001.045", &lat, &lon, ""))

	assets, err := s.PlanningAssets(context.Background(), "proj-1", model.AssetKindPole)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, "LEP.001.045", assets[0].Code)
	require.NotNil(t, assets[0].Latitude)
	assert.Equal(t, -33.9, *assets[0].Latitude)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FieldRecords_Shared(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT property_id, pole_code, drop_code, latitude, longitude, address, contact_name FROM field_records ORDER BY property_id`).
		WillReturnRows(pgxmock.NewRows([]string{"property_id", "pole_code", "drop_code", "latitude", "longitude", "address", "contact_name"}).
			AddRow("p1", "ONEMAP.045", "", nil, nil, "12 Main Rd", ""))

	records, err := s.FieldRecords(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ONEMAP.045", records[0].PoleCode)
	assert.False(t, records[0].HasCoords())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FieldRecords_Scoped(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM field_records WHERE project_id = \$1`).
		WithArgs("proj-1").
		WillReturnRows(pgxmock.NewRows([]string{"property_id", "pole_code", "drop_code", "latitude", "longitude", "address", "contact_name"}))

	records, err := s.FieldRecords(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ExistingLinks(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT DISTINCT planning_code FROM linkage_links WHERE project_id = \$1 AND asset_kind = \$2`).
		WithArgs("proj-1", "pole").
		WillReturnRows(pgxmock.NewRows([]string{"planning_code"}).
			AddRow("LEP.001.045").
			AddRow("LEP.001.046"))

	linked, err := s.ExistingLinks(context.Background(), "proj-1", model.AssetKindPole)
	require.NoError(t, err)
	assert.True(t, linked["LEP.001.045"])
	assert.True(t, linked["LEP.001.046"])
	assert.False(t, linked["LEP.001.047"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertLink_GreatestRule(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT \(project_id, planning_code, field_code\) DO UPDATE SET(?s).*GREATEST\(linkage_links\.confidence, EXCLUDED\.confidence\)`).
		WithArgs("proj-1", "LEP.001.045", "ONEMAP.045", "pole", "numeric_suffix", 0.95, (*float64)(nil), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertLink(context.Background(), model.AssetKindPole, model.LinkageRecord{
		ProjectID:    "proj-1",
		PlanningCode: "LEP.001.045",
		FieldCode:    "ONEMAP.045",
		MatchType:    model.MatchNumericSuffix,
		Confidence:   0.95,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_BulkUpsertLinks(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_linkage_links"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_linkage_links"}, []string{
		"project_id", "planning_code", "field_code", "asset_kind",
		"match_type", "confidence", "distance_meters", "created_at", "updated_at",
	}).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "linkage_links"(?s).*GREATEST\("?linkage_links"?\.confidence, EXCLUDED\.confidence\)`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := s.BulkUpsertLinks(context.Background(), model.AssetKindPole, []model.LinkageRecord{
		{ProjectID: "proj-1", PlanningCode: "LEP.001.045", FieldCode: "ONEMAP.045", MatchType: model.MatchNumericSuffix, Confidence: 0.95},
		{ProjectID: "proj-1", PlanningCode: "LEP.001.046", FieldCode: "ONEMAP.046", MatchType: model.MatchExact, Confidence: 1.0},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_BulkUpsertLinks_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	n, err := s.BulkUpsertLinks(context.Background(), model.AssetKindPole, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_BestLinks(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	dist := 12.3
	mock.ExpectQuery(`ORDER BY confidence DESC, field_code ASC`).
		WithArgs("proj-1", "LEP.001.045").
		WillReturnRows(pgxmock.NewRows([]string{
			"project_id", "planning_code", "field_code", "match_type", "confidence", "distance_meters", "created_at", "updated_at",
		}).
			AddRow("proj-1", "LEP.001.045", "ONEMAP.045", "numeric_suffix", 0.95, (*float64)(nil), now, now).
			AddRow("proj-1", "LEP.001.045", "ONEMAP.144", "proximity", 0.7, &dist, now, now))

	links, err := s.BestLinks(context.Background(), "proj-1", "LEP.001.045")
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "ONEMAP.045", links[0].FieldCode)
	require.NotNil(t, links[1].DistanceMeters)
	assert.Equal(t, 12.3, *links[1].DistanceMeters)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkFieldVerified(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE planning_assets SET status = \$1`).
		WithArgs(model.StatusFieldVerified, "proj-1", "pole", []string{"LEP.001.045"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	n, err := s.MarkFieldVerified(context.Background(), "proj-1", model.AssetKindPole, []string{"LEP.001.045"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkFieldVerified_EmptyCodes(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	n, err := s.MarkFieldVerified(context.Background(), "proj-1", model.AssetKindPole, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StartRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO reconcile_runs`).
		WithArgs(pgxmock.AnyArg(), "pole,drop", "running", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.StartRun(context.Background(), "pole,drop")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusRunning, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE reconcile_runs SET status`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), "nonexistent").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteRun(context.Background(), &model.RunEntry{ID: "nonexistent"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE reconcile_runs SET status = \$1, completed_at = \$2, error = \$3`).
		WithArgs("failed", pgxmock.AnyArg(), "store: connection refused", "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.FailRun(context.Background(), "run-1", "store: connection refused")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_StatusFilter(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`FROM reconcile_runs WHERE true AND status = \$1 ORDER BY started_at DESC LIMIT \$2`).
		WithArgs("complete", 100).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "kinds", "status", "started_at", "completed_at",
			"projects_processed", "projects_failed", "links_created", "error", "summary",
		}).AddRow("run-1", "pole", "complete", now, &now, 3, 0, 42, "", (*[]byte)(nil)))

	runs, err := s.ListRuns(context.Background(), RunFilter{Status: model.RunStatusComplete})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 42, runs[0].LinksCreated)
	assert.Nil(t, runs[0].Summary)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RunLock(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT pg_try_advisory_lock\(\$1\)`).
		WithArgs(runLockID).
		WillReturnRows(pgxmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectQuery(`SELECT pg_advisory_unlock\(\$1\)`).
		WithArgs(runLockID).
		WillReturnRows(pgxmock.NewRows([]string{"pg_advisory_unlock"}).AddRow(true))

	ok, err := s.AcquireRunLock(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, s.ReleaseRunLock(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RunLock_Busy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT pg_try_advisory_lock\(\$1\)`).
		WithArgs(runLockID).
		WillReturnRows(pgxmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	ok, err := s.AcquireRunLock(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
