// Package store persists the reconciliation domain: planning assets, field
// records, linkage links and the run log. Two implementations exist, a
// Postgres store for production and a SQLite store for local work.
package store

import (
	"context"

	"github.com/fibregrid/fieldlink/internal/model"
)

// RunFilter specifies criteria for listing reconciliation runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the linkage engine.
type Store interface {
	// Sources
	Projects(ctx context.Context) ([]model.Project, error)
	PlanningAssets(ctx context.Context, projectID string, kind model.AssetKind) ([]model.PlanningAsset, error)
	// FieldRecords returns the survey pool. An empty projectID returns the
	// shared pool (every record); a non-empty one restricts to records the
	// capture system attributed to that project.
	FieldRecords(ctx context.Context, projectID string) ([]model.FieldRecord, error)

	// Links
	// ExistingLinks returns the planning codes of this project and kind that
	// already carry a persisted link, so re-runs skip them before matching.
	ExistingLinks(ctx context.Context, projectID string, kind model.AssetKind) (map[string]bool, error)
	UpsertLink(ctx context.Context, kind model.AssetKind, link model.LinkageRecord) error
	BulkUpsertLinks(ctx context.Context, kind model.AssetKind, links []model.LinkageRecord) (int64, error)
	BestLinks(ctx context.Context, projectID, planningCode string) ([]model.LinkageRecord, error)
	MarkFieldVerified(ctx context.Context, projectID string, kind model.AssetKind, codes []string) (int64, error)

	// Run log
	StartRun(ctx context.Context, kinds string) (*model.RunEntry, error)
	CompleteRun(ctx context.Context, run *model.RunEntry) error
	FailRun(ctx context.Context, runID string, cause string) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.RunEntry, error)

	// Run lock serializes whole reconciliation passes across processes.
	// AcquireRunLock returns false, without error, when another run holds it.
	AcquireRunLock(ctx context.Context) (bool, error)
	ReleaseRunLock(ctx context.Context) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
