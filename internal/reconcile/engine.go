// Package reconcile orchestrates a full linkage pass: every project, poles
// then drops, matched against the field-survey pool and persisted as links.
package reconcile

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fibregrid/fieldlink/internal/match"
	"github.com/fibregrid/fieldlink/internal/model"
	"github.com/fibregrid/fieldlink/internal/resilience"
	"github.com/fibregrid/fieldlink/internal/store"
)

// Options controls one reconciliation run.
type Options struct {
	// Kinds lists the code spaces to process, in order. Empty means poles
	// then drops.
	Kinds []model.AssetKind

	// ProjectIDs restricts the run to the named projects. Empty means all.
	ProjectIDs []string

	// SharedFieldPool matches every project against the full survey pool.
	// When false each project only sees records attributed to it.
	SharedFieldPool bool

	// ProximityRadiusM is the acceptance radius for the proximity strategy.
	ProximityRadiusM float64

	// PropagateStatus marks planning assets field_verified when their link
	// carries geographic evidence.
	PropagateStatus bool

	// BatchSize caps the number of links per bulk write.
	BatchSize int
}

// DefaultOptions returns the production run configuration.
func DefaultOptions() Options {
	return Options{
		Kinds:            []model.AssetKind{model.AssetKindPole, model.AssetKindDrop},
		SharedFieldPool:  true,
		ProximityRadiusM: 30,
		PropagateStatus:  true,
		BatchSize:        500,
	}
}

// Engine runs reconciliation passes against a Store.
type Engine struct {
	store store.Store
	retry resilience.RetryConfig
}

// New creates an Engine with the default store-write retry policy.
func New(st store.Store) *Engine {
	return &Engine{store: st, retry: resilience.DefaultRetryConfig()}
}

// Run executes one full reconciliation pass and returns its run-log entry.
// A failing project is recorded and skipped; only infrastructure failures
// (lock, run log, source loads) abort the run.
func (e *Engine) Run(ctx context.Context, opts Options) (*model.RunEntry, error) {
	if len(opts.Kinds) == 0 {
		opts.Kinds = []model.AssetKind{model.AssetKindPole, model.AssetKindDrop}
	}
	if opts.ProximityRadiusM <= 0 {
		opts.ProximityRadiusM = 30
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}

	log := zap.L().With(zap.String("component", "reconcile"))

	acquired, err := e.store.AcquireRunLock(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: acquire run lock")
	}
	if !acquired {
		return nil, eris.New("reconcile: another run holds the lock")
	}
	defer func() {
		if err := e.store.ReleaseRunLock(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to release run lock", zap.Error(err))
		}
	}()

	run, err := e.store.StartRun(ctx, joinKinds(opts.Kinds))
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: start run")
	}

	entry, runErr := e.execute(ctx, log, run, opts)
	if runErr != nil {
		if failErr := e.store.FailRun(context.WithoutCancel(ctx), run.ID, runErr.Error()); failErr != nil {
			log.Error("failed to record run failure", zap.Error(failErr))
		}
		return nil, runErr
	}

	if err := e.store.CompleteRun(ctx, entry); err != nil {
		return nil, eris.Wrap(err, "reconcile: complete run")
	}
	return entry, nil
}

func (e *Engine) execute(ctx context.Context, log *zap.Logger, run *model.RunEntry, opts Options) (*model.RunEntry, error) {
	// The project list and the shared pool are independent reads; load them
	// concurrently. Per-project pools are loaded inside the project loop.
	var (
		projects   []model.Project
		sharedPool []model.FieldRecord
	)
	g, loadCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		projects, err = e.store.Projects(loadCtx)
		return eris.Wrap(err, "reconcile: load projects")
	})
	if opts.SharedFieldPool {
		g.Go(func() error {
			var err error
			sharedPool, err = e.store.FieldRecords(loadCtx, "")
			return eris.Wrap(err, "reconcile: load field pool")
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	projects = filterProjects(projects, opts.ProjectIDs)
	log.Info("starting reconciliation",
		zap.Int("projects", len(projects)),
		zap.String("kinds", run.Kinds),
		zap.Bool("shared_pool", opts.SharedFieldPool),
	)

	// With a shared pool the per-kind indexes are identical for every
	// project, so build them once.
	var sharedPools map[model.AssetKind]*match.Pool
	if opts.SharedFieldPool {
		sharedPools = buildPools(sharedPool, opts.Kinds)
	}

	summary := &model.RunSummary{}
	for _, project := range projects {
		pools := sharedPools
		if !opts.SharedFieldPool {
			records, err := resilience.DoVal(ctx, e.retry, func(ctx context.Context) ([]model.FieldRecord, error) {
				return e.store.FieldRecords(ctx, project.ID)
			})
			if err != nil {
				e.recordProjectFailure(log, summary, run, project, "", err)
				continue
			}
			pools = buildPools(records, opts.Kinds)
		}

		projectFailed := false
		for _, kind := range opts.Kinds {
			ps, err := e.reconcileProject(ctx, project, kind, pools[kind], opts, run)
			if err != nil {
				if ctx.Err() != nil {
					return nil, eris.Wrap(err, "reconcile: run cancelled")
				}
				e.recordProjectFailure(log, summary, run, project, kind, err)
				projectFailed = true
				continue
			}
			summary.Add(*ps)
			log.Info("project reconciled",
				zap.String("project_id", project.ID),
				zap.String("kind", string(kind)),
				zap.Int("assets", ps.TotalPlanningAssets),
				zap.Int("linked", ps.LinkedTotal),
				zap.Float64("rate_percent", ps.LinkageRatePercent),
			)
		}
		if !projectFailed {
			run.ProjectsProcessed++
		}
	}

	run.Summary = summary
	return run, nil
}

func (e *Engine) recordProjectFailure(log *zap.Logger, summary *model.RunSummary, run *model.RunEntry, project model.Project, kind model.AssetKind, err error) {
	log.Error("project failed, continuing",
		zap.String("project_id", project.ID),
		zap.String("project_name", project.Name),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)
	summary.Add(model.ProjectSummary{
		ProjectID:   project.ID,
		ProjectName: project.Name,
		Kind:        string(kind),
		Failed:      true,
		Error:       err.Error(),
	})
	run.ProjectsFailed++
}

// reconcileProject matches one project's planning assets of one kind and
// persists the resulting links.
func (e *Engine) reconcileProject(ctx context.Context, project model.Project, kind model.AssetKind, pool *match.Pool, opts Options, run *model.RunEntry) (*model.ProjectSummary, error) {
	assets, err := resilience.DoVal(ctx, e.retry, func(ctx context.Context) ([]model.PlanningAsset, error) {
		return e.store.PlanningAssets(ctx, project.ID, kind)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "reconcile: load planning assets for %s", project.ID)
	}

	linked, err := resilience.DoVal(ctx, e.retry, func(ctx context.Context) (map[string]bool, error) {
		return e.store.ExistingLinks(ctx, project.ID, kind)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "reconcile: load existing links for %s", project.ID)
	}

	matcher := match.New(match.Config{
		MaxDistanceM: opts.ProximityRadiusM,
		BBoxDegrees:  match.DefaultConfig().BBoxDegrees,
		Strategies:   strategiesFor(kind),
	})

	ps := &model.ProjectSummary{
		ProjectID:           project.ID,
		ProjectName:         project.Name,
		Kind:                string(kind),
		TotalPlanningAssets: len(assets),
	}

	var (
		batch    []model.LinkageRecord
		verified []string
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := resilience.DoVal(ctx, resilienceWithLog(e.retry, project.ID, "bulk_upsert_links"), func(ctx context.Context) (int64, error) {
			return e.store.BulkUpsertLinks(ctx, kind, batch)
		})
		if err != nil {
			return eris.Wrapf(err, "reconcile: persist links for %s", project.ID)
		}
		run.LinksCreated += int(n)
		batch = batch[:0]
		return nil
	}

	for _, asset := range assets {
		// An asset with a persisted link is settled; rematching it could only
		// add a weaker duplicate row, so identical inputs rerun to identical
		// links.
		if linked[asset.Code] {
			ps.AlreadyLinked++
			continue
		}
		result, ok := matcher.FindBest(asset, pool)
		if !ok {
			continue
		}

		switch result.MatchType {
		case model.MatchExact:
			ps.ExactMatches++
		case model.MatchNumericSuffix:
			ps.SuffixMatches++
		case model.MatchProximity:
			ps.ProximityMatches++
		}
		ps.LinkedTotal++

		link := model.LinkageRecord{
			ProjectID:      project.ID,
			PlanningCode:   asset.Code,
			FieldCode:      result.FieldCode,
			MatchType:      result.MatchType,
			Confidence:     result.Confidence,
			DistanceMeters: result.DistanceMeters,
		}
		batch = append(batch, link)

		if opts.PropagateStatus && link.GeographicEvidence() {
			verified = append(verified, asset.Code)
		}

		if len(batch) >= opts.BatchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	if len(verified) > 0 {
		_, err := resilience.DoVal(ctx, resilienceWithLog(e.retry, project.ID, "mark_field_verified"), func(ctx context.Context) (int64, error) {
			return e.store.MarkFieldVerified(ctx, project.ID, kind, verified)
		})
		if err != nil {
			return nil, eris.Wrapf(err, "reconcile: mark field verified for %s", project.ID)
		}
	}

	ps.LinkageRatePercent = model.Rate(ps.LinkedTotal+ps.AlreadyLinked, ps.TotalPlanningAssets)
	return ps, nil
}

func resilienceWithLog(cfg resilience.RetryConfig, projectID, operation string) resilience.RetryConfig {
	cfg.OnRetry = resilience.RetryLogger(projectID, operation)
	return cfg
}

// strategiesFor returns the matching cascade for a code space. Drops are
// exact-only; their field codes are allocated per property and carry no
// reliable numeric or spatial relationship to planning drops.
func strategiesFor(kind model.AssetKind) []match.Strategy {
	if kind == model.AssetKindDrop {
		return match.DropStrategies
	}
	return match.PoleStrategies
}

func buildPools(records []model.FieldRecord, kinds []model.AssetKind) map[model.AssetKind]*match.Pool {
	pools := make(map[model.AssetKind]*match.Pool, len(kinds))
	for _, kind := range kinds {
		pools[kind] = match.NewPool(kind, records, match.DefaultConfig().BBoxDegrees)
	}
	return pools
}

func filterProjects(projects []model.Project, ids []string) []model.Project {
	if len(ids) == 0 {
		return projects
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []model.Project
	for _, p := range projects {
		if want[p.ID] {
			out = append(out, p)
		}
	}
	return out
}

func joinKinds(kinds []model.AssetKind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ",")
}
