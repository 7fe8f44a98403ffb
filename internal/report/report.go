// Package report builds read-only diagnostics over the linkage tables:
// overall coverage, per-project rates, and confidence samples for review.
package report

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/fibregrid/fieldlink/internal/db"
	"github.com/fibregrid/fieldlink/internal/model"
)

// Confidence thresholds bounding the review samples.
const (
	highConfidenceFloor = 0.9
	lowConfidenceCeil   = 0.7
)

// Overview aggregates the whole store.
type Overview struct {
	Projects            int            `json:"projects" yaml:"projects"`
	PlanningAssets      int            `json:"planning_assets" yaml:"planning_assets"`
	FieldRecords        int            `json:"field_records" yaml:"field_records"`
	Links               int            `json:"links" yaml:"links"`
	AvgConfidence       float64        `json:"avg_confidence" yaml:"avg_confidence"`
	UniquePlanningCodes int            `json:"unique_planning_codes" yaml:"unique_planning_codes"`
	UniqueFieldCodes    int            `json:"unique_field_codes" yaml:"unique_field_codes"`
	ByMatchType         map[string]int `json:"by_match_type" yaml:"by_match_type"`
}

// ProjectCoverage is one project+kind coverage row.
type ProjectCoverage struct {
	ProjectID     string  `json:"project_id" yaml:"project_id"`
	ProjectName   string  `json:"project_name" yaml:"project_name"`
	Kind          string  `json:"kind" yaml:"kind"`
	Assets        int     `json:"assets" yaml:"assets"`
	Linked        int     `json:"linked" yaml:"linked"`
	RatePercent   float64 `json:"rate_percent" yaml:"rate_percent"`
	AvgConfidence float64 `json:"avg_confidence" yaml:"avg_confidence"`
}

// Sample is one link pulled for human review.
type Sample struct {
	ProjectID      string   `json:"project_id" yaml:"project_id"`
	PlanningCode   string   `json:"planning_code" yaml:"planning_code"`
	FieldCode      string   `json:"field_code" yaml:"field_code"`
	MatchType      string   `json:"match_type" yaml:"match_type"`
	Confidence     float64  `json:"confidence" yaml:"confidence"`
	DistanceMeters *float64 `json:"distance_meters,omitempty" yaml:"distance_meters,omitempty"`
}

// UnlinkedAsset is a planning asset no strategy could link.
type UnlinkedAsset struct {
	ProjectID string `json:"project_id" yaml:"project_id"`
	Kind      string `json:"kind" yaml:"kind"`
	Code      string `json:"code" yaml:"code"`
	HasCoords bool   `json:"has_coords" yaml:"has_coords"`
}

// Report is the full diagnostic document.
type Report struct {
	GeneratedAt    time.Time         `json:"generated_at" yaml:"generated_at"`
	Overview       Overview          `json:"overview" yaml:"overview"`
	PerProject     []ProjectCoverage `json:"per_project" yaml:"per_project"`
	HighConfidence []Sample          `json:"high_confidence" yaml:"high_confidence"`
	LowConfidence  []Sample          `json:"low_confidence" yaml:"low_confidence"`
	Unlinked       []UnlinkedAsset   `json:"unlinked" yaml:"unlinked"`
}

// Generator builds reports from the Postgres pool.
type Generator struct {
	pool       db.Pool
	sampleSize int
}

// NewGenerator creates a Generator. sampleSize bounds each sample section.
func NewGenerator(pool db.Pool, sampleSize int) *Generator {
	if sampleSize <= 0 {
		sampleSize = 10
	}
	return &Generator{pool: pool, sampleSize: sampleSize}
}

// Generate runs all report queries.
func (g *Generator) Generate(ctx context.Context) (*Report, error) {
	r := &Report{GeneratedAt: time.Now().UTC()}

	if err := g.overview(ctx, &r.Overview); err != nil {
		return nil, err
	}
	var err error
	if r.PerProject, err = g.perProject(ctx); err != nil {
		return nil, err
	}
	if r.HighConfidence, err = g.samples(ctx,
		`SELECT project_id, planning_code, field_code, match_type, confidence, distance_meters
		 FROM linkage_links WHERE confidence >= $1
		 ORDER BY confidence DESC, project_id, planning_code LIMIT $2`,
		highConfidenceFloor); err != nil {
		return nil, err
	}
	if r.LowConfidence, err = g.samples(ctx,
		`SELECT project_id, planning_code, field_code, match_type, confidence, distance_meters
		 FROM linkage_links WHERE confidence < $1
		 ORDER BY confidence ASC, project_id, planning_code LIMIT $2`,
		lowConfidenceCeil); err != nil {
		return nil, err
	}
	if r.Unlinked, err = g.unlinked(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (g *Generator) overview(ctx context.Context, o *Overview) error {
	err := g.pool.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM projects),
		       (SELECT COUNT(*) FROM planning_assets),
		       (SELECT COUNT(*) FROM field_records),
		       COUNT(*),
		       COALESCE(AVG(confidence), 0),
		       COUNT(DISTINCT planning_code),
		       COUNT(DISTINCT field_code)
		FROM linkage_links`,
	).Scan(&o.Projects, &o.PlanningAssets, &o.FieldRecords, &o.Links,
		&o.AvgConfidence, &o.UniquePlanningCodes, &o.UniqueFieldCodes)
	if err != nil {
		return eris.Wrap(err, "report: overview")
	}

	rows, err := g.pool.Query(ctx,
		`SELECT match_type, COUNT(*) FROM linkage_links GROUP BY match_type`,
	)
	if err != nil {
		return eris.Wrap(err, "report: match type breakdown")
	}
	defer rows.Close()

	o.ByMatchType = make(map[string]int)
	for rows.Next() {
		var mt string
		var n int
		if err := rows.Scan(&mt, &n); err != nil {
			return eris.Wrap(err, "report: scan match type")
		}
		o.ByMatchType[mt] = n
	}
	return eris.Wrap(rows.Err(), "report: match type iterate")
}

// perProject counts each project's planning assets against its linked assets.
// The DISTINCT ON subquery collapses multiple links per planning code to the
// best one, so an asset with two candidate links still counts as one.
func (g *Generator) perProject(ctx context.Context) ([]ProjectCoverage, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT pa.project_id, p.name, pa.kind,
		       COUNT(*) AS assets,
		       COUNT(l.planning_code) AS linked,
		       COALESCE(AVG(l.confidence), 0) AS avg_confidence
		FROM planning_assets pa
		JOIN projects p ON p.id = pa.project_id
		LEFT JOIN (
			SELECT DISTINCT ON (project_id, asset_kind, planning_code)
			       project_id, asset_kind, planning_code, confidence
			FROM linkage_links
			ORDER BY project_id, asset_kind, planning_code, confidence DESC, field_code
		) l ON l.project_id = pa.project_id AND l.asset_kind = pa.kind AND l.planning_code = pa.code
		GROUP BY pa.project_id, p.name, pa.kind
		ORDER BY pa.project_id, pa.kind`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "report: per-project coverage")
	}
	defer rows.Close()

	var out []ProjectCoverage
	for rows.Next() {
		var pc ProjectCoverage
		if err := rows.Scan(&pc.ProjectID, &pc.ProjectName, &pc.Kind, &pc.Assets, &pc.Linked, &pc.AvgConfidence); err != nil {
			return nil, eris.Wrap(err, "report: scan coverage row")
		}
		pc.RatePercent = model.Rate(pc.Linked, pc.Assets)
		out = append(out, pc)
	}
	return out, eris.Wrap(rows.Err(), "report: per-project iterate")
}

func (g *Generator) samples(ctx context.Context, query string, threshold float64) ([]Sample, error) {
	rows, err := g.pool.Query(ctx, query, threshold, g.sampleSize)
	if err != nil {
		return nil, eris.Wrap(err, "report: confidence samples")
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var s Sample
		if err := rows.Scan(&s.ProjectID, &s.PlanningCode, &s.FieldCode, &s.MatchType, &s.Confidence, &s.DistanceMeters); err != nil {
			return nil, eris.Wrap(err, "report: scan sample")
		}
		out = append(out, s)
	}
	return out, eris.Wrap(rows.Err(), "report: samples iterate")
}

func (g *Generator) unlinked(ctx context.Context) ([]UnlinkedAsset, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT pa.project_id, pa.kind, pa.code,
		       pa.latitude IS NOT NULL AND pa.longitude IS NOT NULL AS has_coords
		FROM planning_assets pa
		LEFT JOIN linkage_links l
			ON l.project_id = pa.project_id AND l.asset_kind = pa.kind AND l.planning_code = pa.code
		WHERE l.planning_code IS NULL
		ORDER BY pa.project_id, pa.kind, pa.code
		LIMIT $1`,
		g.sampleSize,
	)
	if err != nil {
		return nil, eris.Wrap(err, "report: unlinked assets")
	}
	defer rows.Close()

	var out []UnlinkedAsset
	for rows.Next() {
		var u UnlinkedAsset
		if err := rows.Scan(&u.ProjectID, &u.Kind, &u.Code, &u.HasCoords); err != nil {
			return nil, eris.Wrap(err, "report: scan unlinked asset")
		}
		out = append(out, u)
	}
	return out, eris.Wrap(rows.Err(), "report: unlinked iterate")
}
