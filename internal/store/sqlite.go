package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/fibregrid/fieldlink/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS projects (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS planning_assets (
	project_id TEXT NOT NULL REFERENCES projects(id),
	kind       TEXT NOT NULL,
	code       TEXT NOT NULL,
	latitude   REAL,
	longitude  REAL,
	status     TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (project_id, kind, code)
);

CREATE TABLE IF NOT EXISTS field_records (
	property_id  TEXT PRIMARY KEY,
	project_id   TEXT,
	pole_code    TEXT NOT NULL DEFAULT '',
	drop_code    TEXT NOT NULL DEFAULT '',
	latitude     REAL,
	longitude    REAL,
	address      TEXT NOT NULL DEFAULT '',
	contact_name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS linkage_links (
	project_id      TEXT NOT NULL,
	planning_code   TEXT NOT NULL,
	field_code      TEXT NOT NULL,
	asset_kind      TEXT NOT NULL,
	match_type      TEXT NOT NULL,
	confidence      REAL NOT NULL,
	distance_meters REAL,
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL,
	PRIMARY KEY (project_id, planning_code, field_code)
);

CREATE TABLE IF NOT EXISTS reconcile_runs (
	id                 TEXT PRIMARY KEY,
	kinds              TEXT NOT NULL,
	status             TEXT NOT NULL DEFAULT 'running',
	started_at         DATETIME NOT NULL,
	completed_at       DATETIME,
	projects_processed INTEGER NOT NULL DEFAULT 0,
	projects_failed    INTEGER NOT NULL DEFAULT 0,
	links_created      INTEGER NOT NULL DEFAULT 0,
	error              TEXT NOT NULL DEFAULT '',
	summary            TEXT
);

CREATE TABLE IF NOT EXISTS run_lock (
	id        INTEGER PRIMARY KEY CHECK (id = 1),
	locked_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_planning_assets_project_kind ON planning_assets(project_id, kind);
CREATE INDEX IF NOT EXISTS idx_field_records_project ON field_records(project_id);
CREATE INDEX IF NOT EXISTS idx_linkage_links_project_kind ON linkage_links(project_id, asset_kind);
CREATE INDEX IF NOT EXISTS idx_linkage_links_field_code ON linkage_links(field_code);
CREATE INDEX IF NOT EXISTS idx_reconcile_runs_status ON reconcile_runs(status);
`

// sqliteUpsertLink mirrors the Postgres conflict rule: keep the higher
// confidence, carry match_type and distance with whichever side won, always
// refresh updated_at.
const sqliteUpsertLink = `
INSERT INTO linkage_links (project_id, planning_code, field_code, asset_kind, match_type, confidence, distance_meters, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (project_id, planning_code, field_code) DO UPDATE SET
	match_type = CASE WHEN excluded.confidence > linkage_links.confidence THEN excluded.match_type ELSE linkage_links.match_type END,
	distance_meters = CASE WHEN excluded.confidence > linkage_links.confidence THEN excluded.distance_meters ELSE linkage_links.distance_meters END,
	confidence = MAX(linkage_links.confidence, excluded.confidence),
	updated_at = excluded.updated_at`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Projects(ctx context.Context) ([]model.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, created_at FROM projects ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list projects")
	}
	defer rows.Close()

	var projects []model.Project
	for rows.Next() {
		var p model.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan project")
		}
		projects = append(projects, p)
	}
	return projects, eris.Wrap(rows.Err(), "sqlite: list projects iterate")
}

func (s *SQLiteStore) PlanningAssets(ctx context.Context, projectID string, kind model.AssetKind) ([]model.PlanningAsset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT project_id, kind, code, latitude, longitude, status
		 FROM planning_assets WHERE project_id = ? AND kind = ? ORDER BY code`,
		projectID, string(kind),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list planning assets for %s", projectID)
	}
	defer rows.Close()

	var assets []model.PlanningAsset
	for rows.Next() {
		var a model.PlanningAsset
		if err := rows.Scan(&a.ProjectID, &a.Kind, &a.Code, &a.Latitude, &a.Longitude, &a.Status); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan planning asset")
		}
		assets = append(assets, a)
	}
	return assets, eris.Wrap(rows.Err(), "sqlite: list planning assets iterate")
}

func (s *SQLiteStore) FieldRecords(ctx context.Context, projectID string) ([]model.FieldRecord, error) {
	query := `SELECT property_id, pole_code, drop_code, latitude, longitude, address, contact_name FROM field_records`
	args := []any{}
	if projectID != "" {
		query += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY property_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list field records")
	}
	defer rows.Close()

	var records []model.FieldRecord
	for rows.Next() {
		var r model.FieldRecord
		if err := rows.Scan(&r.PropertyID, &r.PoleCode, &r.DropCode, &r.Latitude, &r.Longitude, &r.Address, &r.ContactName); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan field record")
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list field records iterate")
}

func (s *SQLiteStore) ExistingLinks(ctx context.Context, projectID string, kind model.AssetKind) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT planning_code FROM linkage_links WHERE project_id = ? AND asset_kind = ?`,
		projectID, string(kind),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: existing links for %s", projectID)
	}
	defer rows.Close()

	linked := make(map[string]bool)
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan link code")
		}
		linked[code] = true
	}
	return linked, eris.Wrap(rows.Err(), "sqlite: existing links iterate")
}

func (s *SQLiteStore) UpsertLink(ctx context.Context, kind model.AssetKind, link model.LinkageRecord) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, sqliteUpsertLink,
		link.ProjectID, link.PlanningCode, link.FieldCode, string(kind),
		string(link.MatchType), link.Confidence, link.DistanceMeters, now, now,
	)
	return eris.Wrapf(err, "sqlite: upsert link %s -> %s", link.PlanningCode, link.FieldCode)
}

func (s *SQLiteStore) BulkUpsertLinks(ctx context.Context, kind model.AssetKind, links []model.LinkageRecord) (int64, error) {
	if len(links) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: bulk upsert begin")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertLink)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: bulk upsert prepare")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	var total int64
	for _, l := range links {
		res, err := stmt.ExecContext(ctx,
			l.ProjectID, l.PlanningCode, l.FieldCode, string(kind),
			string(l.MatchType), l.Confidence, l.DistanceMeters, now, now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: bulk upsert %s -> %s", l.PlanningCode, l.FieldCode)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: bulk upsert rows affected")
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: bulk upsert commit")
	}
	return total, nil
}

func (s *SQLiteStore) BestLinks(ctx context.Context, projectID, planningCode string) ([]model.LinkageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT project_id, planning_code, field_code, match_type, confidence, distance_meters, created_at, updated_at
		 FROM linkage_links WHERE project_id = ? AND planning_code = ?
		 ORDER BY confidence DESC, field_code ASC`,
		projectID, planningCode,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: best links for %s", planningCode)
	}
	defer rows.Close()

	var links []model.LinkageRecord
	for rows.Next() {
		var l model.LinkageRecord
		if err := rows.Scan(&l.ProjectID, &l.PlanningCode, &l.FieldCode, &l.MatchType, &l.Confidence, &l.DistanceMeters, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan link")
		}
		links = append(links, l)
	}
	return links, eris.Wrap(rows.Err(), "sqlite: best links iterate")
}

func (s *SQLiteStore) MarkFieldVerified(ctx context.Context, projectID string, kind model.AssetKind, codes []string) (int64, error) {
	if len(codes) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(codes)), ", ")
	args := []any{model.StatusFieldVerified, projectID, string(kind)}
	for _, c := range codes {
		args = append(args, c)
	}
	args = append(args, model.StatusFieldVerified)

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE planning_assets SET status = ?
			WHERE project_id = ? AND kind = ? AND code IN (%s) AND status <> ?`, placeholders),
		args...,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: mark field verified for %s", projectID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: mark field verified rows affected")
	}
	return n, nil
}

func (s *SQLiteStore) StartRun(ctx context.Context, kinds string) (*model.RunEntry, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reconcile_runs (id, kinds, status, started_at) VALUES (?, ?, ?, ?)`,
		id, kinds, string(model.RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.RunEntry{
		ID:        id,
		Kinds:     kinds,
		Status:    model.RunStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, run *model.RunEntry) error {
	summaryJSON, err := json.Marshal(run.Summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run summary")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE reconcile_runs SET status = ?, completed_at = ?, projects_processed = ?,
			projects_failed = ?, links_created = ?, summary = ? WHERE id = ?`,
		string(model.RunStatusComplete), time.Now().UTC(), run.ProjectsProcessed,
		run.ProjectsFailed, run.LinksCreated, string(summaryJSON), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", run.ID)
	}
	return checkRowsAffected(res, "run", run.ID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, cause string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reconcile_runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(model.RunStatusFailed), time.Now().UTC(), cause, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunEntry, error) {
	query := `SELECT id, kinds, status, started_at, completed_at, projects_processed, projects_failed, links_created, error, summary
		FROM reconcile_runs WHERE 1=1`
	args := []any{}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.RunEntry
	for rows.Next() {
		var r model.RunEntry
		var summary sql.NullString
		if err := rows.Scan(&r.ID, &r.Kinds, &r.Status, &r.StartedAt, &r.CompletedAt,
			&r.ProjectsProcessed, &r.ProjectsFailed, &r.LinksCreated, &r.Error, &summary); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		if summary.Valid && summary.String != "" && summary.String != "null" {
			r.Summary = &model.RunSummary{}
			if err := json.Unmarshal([]byte(summary.String), r.Summary); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal run summary")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// AcquireRunLock takes the single-row lock table. SQLite has no advisory
// locks, so lock ownership is a row: whoever inserts it holds the lock.
func (s *SQLiteStore) AcquireRunLock(ctx context.Context) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO run_lock (id, locked_at) VALUES (1, ?) ON CONFLICT (id) DO NOTHING`,
		time.Now().UTC(),
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: acquire run lock")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: acquire run lock rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) ReleaseRunLock(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM run_lock WHERE id = 1`)
	if err != nil {
		return eris.Wrap(err, "sqlite: release run lock")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: release run lock rows affected")
	}
	if n == 0 {
		return eris.New("sqlite: run lock was not held")
	}
	return nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %s", entity, id)
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
