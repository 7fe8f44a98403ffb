package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/fibregrid/fieldlink/internal/db"
	"github.com/fibregrid/fieldlink/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// runLockID is the advisory lock key serializing reconciliation passes.
// Distinct from migrationLockID so a migration never blocks behind a run.
const runLockID = 7713205

// preparedStatements lists queries to prepare on each new connection. These
// are the per-asset hot paths of a reconciliation pass.
var preparedStatements = map[string]string{
	"existing_links": `SELECT DISTINCT planning_code FROM linkage_links WHERE project_id = $1 AND asset_kind = $2`,
	"best_links":     `SELECT project_id, planning_code, field_code, match_type, confidence, distance_meters, created_at, updated_at FROM linkage_links WHERE project_id = $1 AND planning_code = $2 ORDER BY confidence DESC, field_code ASC`,
	"upsert_link": `INSERT INTO linkage_links (project_id, planning_code, field_code, asset_kind, match_type, confidence, distance_meters, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (project_id, planning_code, field_code) DO UPDATE SET
			match_type = CASE WHEN EXCLUDED.confidence > linkage_links.confidence THEN EXCLUDED.match_type ELSE linkage_links.match_type END,
			distance_meters = CASE WHEN EXCLUDED.confidence > linkage_links.confidence THEN EXCLUDED.distance_meters ELSE linkage_links.distance_meters END,
			confidence = GREATEST(linkage_links.confidence, EXCLUDED.confidence),
			updated_at = EXCLUDED.updated_at`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access (reporting).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return migratePostgres(ctx, s.pool)
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Projects(ctx context.Context) ([]model.Project, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, created_at FROM projects ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list projects")
	}
	defer rows.Close()

	var projects []model.Project
	for rows.Next() {
		var p model.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan project")
		}
		projects = append(projects, p)
	}
	return projects, eris.Wrap(rows.Err(), "postgres: list projects iterate")
}

func (s *PostgresStore) PlanningAssets(ctx context.Context, projectID string, kind model.AssetKind) ([]model.PlanningAsset, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT project_id, kind, code, latitude, longitude, status
		 FROM planning_assets WHERE project_id = $1 AND kind = $2 ORDER BY code`,
		projectID, string(kind),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list planning assets for %s", projectID)
	}
	defer rows.Close()

	var assets []model.PlanningAsset
	for rows.Next() {
		var a model.PlanningAsset
		if err := rows.Scan(&a.ProjectID, &a.Kind, &a.Code, &a.Latitude, &a.Longitude, &a.Status); err != nil {
			return nil, eris.Wrap(err, "postgres: scan planning asset")
		}
		assets = append(assets, a)
	}
	return assets, eris.Wrap(rows.Err(), "postgres: list planning assets iterate")
}

func (s *PostgresStore) FieldRecords(ctx context.Context, projectID string) ([]model.FieldRecord, error) {
	query := `SELECT property_id, pole_code, drop_code, latitude, longitude, address, contact_name FROM field_records`
	args := []any{}
	if projectID != "" {
		query += ` WHERE project_id = $1`
		args = append(args, projectID)
	}
	query += ` ORDER BY property_id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list field records")
	}
	defer rows.Close()

	var records []model.FieldRecord
	for rows.Next() {
		var r model.FieldRecord
		if err := rows.Scan(&r.PropertyID, &r.PoleCode, &r.DropCode, &r.Latitude, &r.Longitude, &r.Address, &r.ContactName); err != nil {
			return nil, eris.Wrap(err, "postgres: scan field record")
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list field records iterate")
}

func (s *PostgresStore) ExistingLinks(ctx context.Context, projectID string, kind model.AssetKind) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT planning_code FROM linkage_links WHERE project_id = $1 AND asset_kind = $2`,
		projectID, string(kind),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: existing links for %s", projectID)
	}
	defer rows.Close()

	linked := make(map[string]bool)
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, eris.Wrap(err, "postgres: scan link code")
		}
		linked[code] = true
	}
	return linked, eris.Wrap(rows.Err(), "postgres: existing links iterate")
}

func (s *PostgresStore) UpsertLink(ctx context.Context, kind model.AssetKind, link model.LinkageRecord) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO linkage_links (project_id, planning_code, field_code, asset_kind, match_type, confidence, distance_meters, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		 ON CONFLICT (project_id, planning_code, field_code) DO UPDATE SET
			match_type = CASE WHEN EXCLUDED.confidence > linkage_links.confidence THEN EXCLUDED.match_type ELSE linkage_links.match_type END,
			distance_meters = CASE WHEN EXCLUDED.confidence > linkage_links.confidence THEN EXCLUDED.distance_meters ELSE linkage_links.distance_meters END,
			confidence = GREATEST(linkage_links.confidence, EXCLUDED.confidence),
			updated_at = EXCLUDED.updated_at`,
		link.ProjectID, link.PlanningCode, link.FieldCode, string(kind),
		string(link.MatchType), link.Confidence, link.DistanceMeters, now,
	)
	return eris.Wrapf(err, "postgres: upsert link %s -> %s", link.PlanningCode, link.FieldCode)
}

func (s *PostgresStore) BulkUpsertLinks(ctx context.Context, kind model.AssetKind, links []model.LinkageRecord) (int64, error) {
	if len(links) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(links))
	for _, l := range links {
		rows = append(rows, []any{
			l.ProjectID, l.PlanningCode, l.FieldCode, string(kind),
			string(l.MatchType), l.Confidence, l.DistanceMeters, now, now,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table: "linkage_links",
		Columns: []string{
			"project_id", "planning_code", "field_code", "asset_kind",
			"match_type", "confidence", "distance_meters", "created_at", "updated_at",
		},
		ConflictKeys: []string{"project_id", "planning_code", "field_code"},
		UpdateExprs: []string{
			`match_type = CASE WHEN EXCLUDED.confidence > linkage_links.confidence THEN EXCLUDED.match_type ELSE linkage_links.match_type END`,
			`distance_meters = CASE WHEN EXCLUDED.confidence > linkage_links.confidence THEN EXCLUDED.distance_meters ELSE linkage_links.distance_meters END`,
			`confidence = GREATEST(linkage_links.confidence, EXCLUDED.confidence)`,
			`updated_at = EXCLUDED.updated_at`,
		},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: bulk upsert links")
	}
	return n, nil
}

func (s *PostgresStore) BestLinks(ctx context.Context, projectID, planningCode string) ([]model.LinkageRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT project_id, planning_code, field_code, match_type, confidence, distance_meters, created_at, updated_at
		 FROM linkage_links WHERE project_id = $1 AND planning_code = $2
		 ORDER BY confidence DESC, field_code ASC`,
		projectID, planningCode,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: best links for %s", planningCode)
	}
	defer rows.Close()

	var links []model.LinkageRecord
	for rows.Next() {
		var l model.LinkageRecord
		if err := rows.Scan(&l.ProjectID, &l.PlanningCode, &l.FieldCode, &l.MatchType, &l.Confidence, &l.DistanceMeters, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan link")
		}
		links = append(links, l)
	}
	return links, eris.Wrap(rows.Err(), "postgres: best links iterate")
}

func (s *PostgresStore) MarkFieldVerified(ctx context.Context, projectID string, kind model.AssetKind, codes []string) (int64, error) {
	if len(codes) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE planning_assets SET status = $1
		 WHERE project_id = $2 AND kind = $3 AND code = ANY($4) AND status <> $1`,
		model.StatusFieldVerified, projectID, string(kind), codes,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: mark field verified for %s", projectID)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) StartRun(ctx context.Context, kinds string) (*model.RunEntry, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO reconcile_runs (id, kinds, status, started_at) VALUES ($1, $2, $3, $4)`,
		id, kinds, string(model.RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.RunEntry{
		ID:        id,
		Kinds:     kinds,
		Status:    model.RunStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, run *model.RunEntry) error {
	summaryJSON, err := json.Marshal(run.Summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run summary")
	}

	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE reconcile_runs SET status = $1, completed_at = $2, projects_processed = $3,
			projects_failed = $4, links_created = $5, summary = $6 WHERE id = $7`,
		string(model.RunStatusComplete), now, run.ProjectsProcessed,
		run.ProjectsFailed, run.LinksCreated, summaryJSON, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", run.ID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, cause string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reconcile_runs SET status = $1, completed_at = $2, error = $3 WHERE id = $4`,
		string(model.RunStatusFailed), time.Now().UTC(), cause, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunEntry, error) {
	query := `SELECT id, kinds, status, started_at, completed_at, projects_processed, projects_failed, links_created, error, summary
		FROM reconcile_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.RunEntry
	for rows.Next() {
		var r model.RunEntry
		var summaryJSON *[]byte
		if err := rows.Scan(&r.ID, &r.Kinds, &r.Status, &r.StartedAt, &r.CompletedAt,
			&r.ProjectsProcessed, &r.ProjectsFailed, &r.LinksCreated, &r.Error, &summaryJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if summaryJSON != nil {
			r.Summary = &model.RunSummary{}
			if err := json.Unmarshal(*summaryJSON, r.Summary); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal run summary")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) AcquireRunLock(ctx context.Context) (bool, error) {
	var acquired bool
	err := s.pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", runLockID).Scan(&acquired)
	if err != nil {
		return false, eris.Wrap(err, "postgres: acquire run lock")
	}
	return acquired, nil
}

func (s *PostgresStore) ReleaseRunLock(ctx context.Context) error {
	var released bool
	err := s.pool.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", runLockID).Scan(&released)
	if err != nil {
		return eris.Wrap(err, "postgres: release run lock")
	}
	if !released {
		return eris.New("postgres: run lock was not held")
	}
	return nil
}
