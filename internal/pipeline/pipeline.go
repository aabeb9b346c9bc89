// Package pipeline runs a sync: it plans work units from the group
// definition, fetches every source of a unit concurrently under one shared
// budget, normalizes and merges the results, and replace-loads each unit's
// table. One unit's failure never stops the others.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/sheetsync/internal/config"
	"github.com/sells-group/sheetsync/internal/fetcher"
	"github.com/sells-group/sheetsync/internal/merge"
	"github.com/sells-group/sheetsync/internal/metrics"
	"github.com/sells-group/sheetsync/internal/model"
	"github.com/sells-group/sheetsync/internal/monitoring"
	"github.com/sells-group/sheetsync/internal/normalize"
	"github.com/sells-group/sheetsync/internal/resilience"
	"github.com/sells-group/sheetsync/internal/store"
	"github.com/sells-group/sheetsync/internal/warehouse"
)

// OnlyGroupEnv overrides Config.OnlyGroup when set.
const OnlyGroupEnv = "SHEETSYNC_ONLY_GROUP"

// Loader replace-loads one unit's dataset.
type Loader interface {
	Load(ctx context.Context, ds model.Dataset, unit model.WorkUnit) (warehouse.LoadReport, error)
}

// Deps holds the collaborators of a Pipeline. Fetcher and Loader are
// required; the rest are optional.
type Deps struct {
	// Fetcher dispatches a source by protocol. It is wrapped in the shared
	// budget and retry policy for every run.
	Fetcher fetcher.SourceFetcher
	Loader  Loader
	Store   store.Store
	Metrics *metrics.Metrics
	Alerter *monitoring.Alerter
	// Definition loads the group definition at the start of each run.
	// Default: config.LoadDefinition(cfg.Definition).
	Definition func() (*config.Definition, error)
	// Authorize obtains fresh credentials for the run. An error aborts the
	// run before any unit is processed. Nil skips the check.
	Authorize func(ctx context.Context) error
}

// Pipeline runs syncs. A Pipeline may be reused across runs but a single
// run is not safe to overlap with another on the same destination tables.
type Pipeline struct {
	cfg  *config.Config
	deps Deps
}

// New creates a Pipeline.
func New(cfg *config.Config, deps Deps) *Pipeline {
	if deps.Store == nil {
		deps.Store = store.Nop{}
	}
	if deps.Definition == nil {
		path := cfg.Definition
		deps.Definition = func() (*config.Definition, error) {
			return config.LoadDefinition(path)
		}
	}
	return &Pipeline{cfg: cfg, deps: deps}
}

// Report summarizes one run.
type Report struct {
	RunID    string
	Result   model.RunResult
	Duration time.Duration
	// SetupFailed is set when the run aborted before processing any unit.
	SetupFailed bool
	// FetchAttempts counts budget acquisitions across the run.
	FetchAttempts int64
}

// Run executes one sync and returns its result.
func (p *Pipeline) Run(ctx context.Context) model.RunResult {
	return p.Execute(ctx, "cli").Result
}

// Execute executes one sync on behalf of trigger and records it in the run
// log. It never returns an error: every failure is an entry of the result.
func (p *Pipeline) Execute(ctx context.Context, trigger string) (rep Report) {
	start := time.Now()
	log := zap.L().With(zap.String("component", "pipeline"))

	runID := uuid.NewString()
	if run, err := p.deps.Store.StartRun(ctx, trigger); err != nil {
		log.Warn("pipeline: run log unavailable", zap.Error(err))
	} else {
		runID = run.ID
	}
	log = log.With(zap.String("run_id", runID))

	rep = Report{RunID: runID}
	defer func() {
		rep.Duration = time.Since(start)
		p.finish(ctx, log, &rep)
	}()

	abort := func(err error) Report {
		rep.Result = model.SetupFailure(err)
		rep.SetupFailed = true
		p.record(ctx, log, runID, 0, rep.Result.Outcomes[0])
		return rep
	}

	def, err := p.deps.Definition()
	if err != nil {
		log.Error("pipeline: load definition", zap.Error(err))
		return abort(err)
	}
	if p.deps.Authorize != nil {
		if err := p.deps.Authorize(ctx); err != nil {
			log.Error("pipeline: authorize", zap.Error(err))
			return abort(eris.Wrap(err, "cannot obtain authorization"))
		}
	}

	only := strings.TrimSpace(os.Getenv(OnlyGroupEnv))
	if only == "" {
		only = p.cfg.OnlyGroup
	}
	plan := Plan(def, PlanOptions{OnlyGroup: only})
	log.Info("pipeline: run started",
		zap.String("trigger", trigger),
		zap.Int("units", len(plan)),
		zap.String("only_group", only),
	)

	fc := p.cfg.Fetch
	budget := fetcher.NewBudget(fc.MaxConcurrency, fc.RequestsPerMinute)
	src := fetcher.NewRetrying(p.deps.Fetcher, budget, fetcher.RetryingOptions{
		Retry:          resilience.FromRetryConfig(fc.MaxAttempts, fc.BaseBackoffMs, fc.MaxBackoffMs, fc.JitterMs),
		AttemptTimeout: time.Duration(fc.RequestTimeoutSecs) * time.Second,
		Observer:       p.deps.Metrics.RecordFetchAttempt,
	})
	importedAt := time.Now().UTC().Truncate(time.Second)

	for i, pu := range plan {
		var o model.Outcome
		if ctx.Err() != nil {
			o = cancelled(pu)
		} else {
			o = p.processUnit(ctx, src, pu, importedAt)
		}
		rep.Result.Add(o)
		p.deps.Metrics.RecordOutcome(o)
		p.record(ctx, log, runID, i, o)
	}
	rep.FetchAttempts = budget.Acquired()
	return rep
}

func (p *Pipeline) record(ctx context.Context, log *zap.Logger, runID string, position int, o model.Outcome) {
	if err := p.deps.Store.RecordOutcome(ctx, runID, position, o); err != nil {
		log.Warn("pipeline: record outcome", zap.Int("position", position), zap.Error(err))
	}
}

func (p *Pipeline) finish(ctx context.Context, log *zap.Logger, rep *Report) {
	// The run log and alerts outlive a cancelled run context.
	ctx = context.WithoutCancel(ctx)

	if err := p.deps.Store.FinishRun(ctx, rep.RunID, rep.Result); err != nil {
		log.Warn("pipeline: finish run", zap.Error(err))
	}
	p.deps.Metrics.RecordRun(rep.Duration)
	p.deps.Alerter.NotifyRun(ctx, rep.RunID, rep.Result)

	log.Info("pipeline: run finished",
		zap.Int("done", rep.Result.Count(model.UnitDone)),
		zap.Int("no_data", rep.Result.Count(model.UnitNoData)),
		zap.Int("failed", rep.Result.Count(model.UnitFailed)),
		zap.Int("skipped", rep.Result.Count(model.UnitSkipped)),
		zap.Int64("fetch_attempts", rep.FetchAttempts),
		zap.Duration("duration", rep.Duration),
	)
}

func cancelled(pu PlannedUnit) model.Outcome {
	if pu.Err != nil {
		return skipped(pu.Err)
	}
	return model.Outcome{
		Group:   pu.Unit.Group,
		Unit:    pu.Unit.Name(),
		Table:   pu.Unit.Table,
		State:   model.UnitSkipped,
		Sources: len(pu.Unit.Sources),
		Message: fmt.Sprintf("Skipped %s: run cancelled", pu.Unit.Name()),
	}
}

func skipped(e *StructuralError) model.Outcome {
	return model.Outcome{
		Group:   e.Group,
		Unit:    e.Unit,
		State:   model.UnitSkipped,
		Message: "Skipped " + e.Error(),
	}
}

// fetchResult is the result of one source fetch, kept at the source's
// position within the unit.
type fetchResult struct {
	rows fetcher.Rows
	err  error
}

// processUnit fetches, normalizes, merges, and loads one unit. Panics are
// contained to the unit.
func (p *Pipeline) processUnit(ctx context.Context, src fetcher.SourceFetcher, pu PlannedUnit, importedAt time.Time) (o model.Outcome) {
	if pu.Err != nil {
		zap.L().Warn("pipeline: unit skipped", zap.String("group", pu.Err.Group), zap.String("unit", pu.Err.Unit), zap.String("reason", pu.Err.Reason))
		return skipped(pu.Err)
	}

	unit := pu.Unit
	log := zap.L().With(
		zap.String("component", "pipeline"),
		zap.String("group", unit.Group),
		zap.String("unit", unit.Name()),
		zap.String("table", unit.Table),
	)
	o = model.Outcome{
		Group:   unit.Group,
		Unit:    unit.Name(),
		Table:   unit.Table,
		Sources: len(unit.Sources),
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline: unit panicked", zap.Any("panic", r))
			o.State = model.UnitFailed
			o.Rows = 0
			o.Message = fmt.Sprintf("Failed to process %s: panic: %v", unit.Name(), r)
		}
	}()

	results := fetchAll(ctx, src, unit.Sources)

	var inputs []model.SourceDataset
	for i, s := range unit.Sources {
		res := results[i]
		switch {
		case res.err != nil:
			log.Warn("pipeline: source failed", zap.String("source", s.String()), zap.Error(res.err))
			o.FailedSources = append(o.FailedSources, model.SourceFailure{Source: s.String(), Error: res.err.Error()})
		case res.rows.NoData:
			log.Info("pipeline: source has no data", zap.String("source", s.String()))
		default:
			records, warnings := normalize.Normalize(res.rows.Values, unit.Mapping, model.Provenance{
				Team:       s.Label,
				Department: s.Department,
				ImportedAt: importedAt,
			}, normalize.Options{
				NullTokens:   p.cfg.Fetch.NullTokens,
				DropUnmapped: unit.DropUnmapped,
			})
			for _, w := range warnings {
				log.Warn("pipeline: normalize", zap.String("source", s.String()), zap.String("warning", w))
			}
			inputs = append(inputs, model.SourceDataset{Source: s, Records: records})
		}
	}

	ds, err := merge.Merge(inputs)
	if errors.Is(err, merge.ErrNoData) {
		o.State = model.UnitNoData
		o.Message = fmt.Sprintf("No data for %s, nothing loaded into %s", unit.Name(), p.qualified(unit))
		return o
	}
	if err != nil {
		o.State = model.UnitFailed
		o.Message = fmt.Sprintf("Failed to merge %s: %v", unit.Name(), err)
		return o
	}
	defer ds.Release()

	rep, err := p.deps.Loader.Load(ctx, ds, unit)
	if err != nil {
		log.Error("pipeline: load failed", zap.String("kind", warehouse.KindOf(err).String()), zap.Error(err))
		o.State = model.UnitFailed
		o.Message = fmt.Sprintf("Failed to load %s into %s: %v", unit.Name(), p.qualified(unit), err)
		return o
	}

	p.deps.Metrics.RecordLoadDuration(unit.Table, rep.Duration)
	o.State = model.UnitDone
	o.Rows = rep.Rows
	o.Message = fmt.Sprintf("Loaded %d rows for %s into %s", rep.Rows, unit.Name(), p.qualified(unit))
	log.Info("pipeline: unit loaded", zap.Int64("rows", rep.Rows), zap.Duration("duration", rep.Duration))
	return o
}

// fetchAll fetches every source concurrently. The shared budget inside src
// bounds the requests actually in flight. Results keep source order.
func fetchAll(ctx context.Context, src fetcher.SourceFetcher, sources []model.SourceSpec) []fetchResult {
	results := make([]fetchResult, len(sources))
	var g errgroup.Group
	for i, s := range sources {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					results[i] = fetchResult{err: eris.Errorf("pipeline: fetch %s: panic: %v", s, r)}
				}
			}()
			rows, ferr := src.Fetch(ctx, s)
			results[i] = fetchResult{rows: rows, err: ferr}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// qualified renders the destination as project.namespace.table.
func (p *Pipeline) qualified(u model.WorkUnit) string {
	t := warehouse.Table{Namespace: u.Namespace, Name: u.Table}.String()
	if p.cfg.ProjectID == "" {
		return t
	}
	return p.cfg.ProjectID + "." + t
}
