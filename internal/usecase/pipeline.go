package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/user/bizscraper/internal/entity"
	"github.com/user/bizscraper/internal/repository"
	"github.com/user/bizscraper/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PipelineDeps are the collaborators of a pipeline. Checkpoints, Exporter and
// Reports may be nil.
type PipelineDeps struct {
	Names    NameExtractor
	Contacts ContactExtractor
	// NewResolver is called once per run so that the search cache and the
	// quota state do not leak between runs.
	NewResolver func() URLResolver
	Checkpoints repository.CheckpointRepository
	Exporter    repository.Exporter
	Reports     repository.ReportWriter
}

type PipelineOptions struct {
	// Workers bounds the number of businesses processed concurrently per stage.
	Workers      int
	ExportFormat repository.ExportFormat
	// StopAfter ends the run after the given stage has been checkpointed.
	// The run can be resumed later with the same id.
	StopAfter entity.Stage
	// OnStage is called after each completed stage.
	OnStage func(runID string, stage entity.Stage)
}

func (o PipelineOptions) withDefaults() PipelineOptions {
	if o.Workers <= 0 {
		o.Workers = 5
	}
	if o.ExportFormat == "" {
		o.ExportFormat = repository.FormatAll
	}
	return o
}

// RunResult is what a run produced, including partial output of aborted runs.
type RunResult struct {
	Records []entity.BusinessRecord
	Report  *entity.RunReport
	Files   []string
	Aborted bool
	// Stopped is set when the run ended early because of StopAfter.
	Stopped bool
}

// Pipeline drives names -> urls -> contacts -> export for one run at a time.
type Pipeline struct {
	deps   PipelineDeps
	opts   PipelineOptions
	logger *zap.Logger
}

func NewPipeline(deps PipelineDeps, opts PipelineOptions, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		deps:   deps,
		opts:   opts.withDefaults(),
		logger: logger.With(zap.String("component", "pipeline")),
	}
}

// WithStageHook returns a copy of p that also calls fn after each completed
// stage, after any OnStage set in the options.
func (p *Pipeline) WithStageHook(fn func(runID string, stage entity.Stage)) *Pipeline {
	cp := *p
	prev := p.opts.OnStage
	cp.opts.OnStage = func(runID string, stage entity.Stage) {
		if prev != nil {
			prev(runID, stage)
		}
		fn(runID, stage)
	}
	return &cp
}

// Run executes the remaining stages of run. A run with checkpoints in the
// recovery store resumes after its last completed stage.
//
// A run-level abort (identity pool exhausted, cancellation) stops new work,
// exports what was collected so far and returns an error wrapping
// entity.ErrRunAborted together with the partial result.
func (p *Pipeline) Run(ctx context.Context, run *entity.PipelineRun) (*RunResult, error) {
	start := time.Now()
	logger := p.logger.With(zap.String("run_id", run.ID))

	if err := p.resume(ctx, run, logger); err != nil {
		return nil, err
	}
	if run.Seed.Empty() && run.Records.Len() == 0 {
		return nil, fmt.Errorf("%w: run %s has no targets or business names", entity.ErrConfiguration, run.ID)
	}

	runCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	var resolver URLResolver
	if p.deps.NewResolver != nil {
		resolver = p.deps.NewResolver()
	}

	var runErr error
	for _, stage := range entity.Stages {
		if stage.Index() <= run.Completed.Index() {
			continue
		}
		stageStart := time.Now()
		logger.Info("stage started", zap.String("stage", string(stage)), zap.Int("records", run.Records.Len()))

		err := p.runStage(runCtx, abort, run, stage, resolver, logger)
		if err == nil && runCtx.Err() != nil {
			err = context.Cause(runCtx)
		}
		metrics.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(stageStart).Seconds())
		if err != nil {
			runErr = err
			logger.Error("run aborted", zap.String("stage", string(stage)), zap.Error(err))
			break
		}

		run.Completed = stage
		p.checkpoint(ctx, run, stage, logger)
		logger.Info("stage completed",
			zap.String("stage", string(stage)),
			zap.Int("records", run.Records.Len()),
			zap.Duration("elapsed", time.Since(stageStart)),
		)
		if p.opts.OnStage != nil {
			p.opts.OnStage(run.ID, stage)
		}
		if stage == p.opts.StopAfter {
			logger.Info("run stopped as requested", zap.String("stage", string(stage)))
			records := run.Records.Snapshot()
			return &RunResult{
				Records: records,
				Report:  BuildReport(run.ID, records, run.Completed, time.Since(start)),
				Stopped: true,
			}, nil
		}
	}

	result, exportErr := p.export(context.WithoutCancel(ctx), run, runErr, start, logger)
	if runErr != nil {
		return result, fmt.Errorf("%w: %w", entity.ErrRunAborted, runErr)
	}
	return result, exportErr
}

func (p *Pipeline) runStage(ctx context.Context, abort context.CancelCauseFunc, run *entity.PipelineRun, stage entity.Stage, resolver URLResolver, logger *zap.Logger) error {
	switch stage {
	case entity.StageNames:
		return p.extractNames(ctx, abort, run, logger)
	case entity.StageURLs:
		return p.resolveURLs(ctx, abort, run, resolver, logger)
	case entity.StageContacts:
		return p.extractContacts(ctx, abort, run, logger)
	}
	return fmt.Errorf("unknown stage %q", stage)
}

// forEach runs fn for items [0, n) on the bounded worker pool. An error from
// fn is run-level: it cancels ctx through abort so no new items start, while
// items already running finish and keep their results.
func (p *Pipeline) forEach(ctx context.Context, abort context.CancelCauseFunc, n int, fn func(ctx context.Context, i int) error) error {
	var g errgroup.Group
	g.SetLimit(p.opts.Workers)
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if err := fn(ctx, i); err != nil {
				abort(err)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func (p *Pipeline) extractNames(ctx context.Context, abort context.CancelCauseFunc, run *entity.PipelineRun, logger *zap.Logger) error {
	for _, n := range run.Seed.Names {
		run.Records.Add(entity.NewBusinessRecord(n.Name, "", run.Seed.LocationFor(n.Location)))
	}

	targets := run.Seed.Targets
	if len(targets) > 0 && p.deps.Names == nil {
		return fmt.Errorf("%w: no name extractor configured", entity.ErrConfiguration)
	}
	err := p.forEach(ctx, abort, len(targets), func(ctx context.Context, i int) error {
		target := targets[i]
		res := p.deps.Names.Extract(ctx, target)
		for _, name := range res.Names {
			run.Records.Add(entity.NewBusinessRecord(name, target.URL, run.Seed.LocationFor(target.Location)))
		}
		if res.PoolExhausted() {
			return res.Err
		}
		return nil
	})
	if err == nil && run.Records.Len() == 0 {
		logger.Warn("no business names extracted")
	}
	return err
}

func (p *Pipeline) resolveURLs(ctx context.Context, abort context.CancelCauseFunc, run *entity.PipelineRun, resolver URLResolver, logger *zap.Logger) error {
	pending := run.Records.Select(func(r entity.BusinessRecord) bool {
		return r.Website == "" && r.Status == entity.StatusPending
	})
	if len(pending) > 0 && resolver == nil {
		return fmt.Errorf("%w: no url resolver configured", entity.ErrConfiguration)
	}

	return p.forEach(ctx, abort, len(pending), func(ctx context.Context, i int) error {
		rec := pending[i]
		website, err := resolver.Resolve(ctx, rec.Name, rec.Location)
		switch {
		case err == nil && website != "":
			run.Records.Update(rec.Name, func(r *entity.BusinessRecord) { r.SetWebsite(website) })
		case err == nil:
			run.Records.Update(rec.Name, func(r *entity.BusinessRecord) { r.MarkUnresolved("no website found") })
		case errors.Is(err, entity.ErrPoolExhausted):
			return err
		case ctx.Err() != nil:
			// aborted while in flight: the record stays pending
		case errors.Is(err, entity.ErrQuotaExceeded):
			run.Records.Update(rec.Name, func(r *entity.BusinessRecord) { r.MarkUnresolved("search quota exceeded") })
		default:
			logger.Warn("url resolution failed", zap.String("business", rec.Name), zap.Error(err))
			run.Records.Update(rec.Name, func(r *entity.BusinessRecord) { r.MarkUnresolved(err.Error()) })
		}
		return nil
	})
}

func (p *Pipeline) extractContacts(ctx context.Context, abort context.CancelCauseFunc, run *entity.PipelineRun, logger *zap.Logger) error {
	withSite := run.Records.Select(func(r entity.BusinessRecord) bool {
		return r.Website != ""
	})
	if len(withSite) > 0 && p.deps.Contacts == nil {
		return fmt.Errorf("%w: no contact extractor configured", entity.ErrConfiguration)
	}

	return p.forEach(ctx, abort, len(withSite), func(ctx context.Context, i int) error {
		rec := withSite[i]
		contacts, err := p.deps.Contacts.Extract(ctx, rec.Website)
		switch {
		case err == nil:
			run.Records.Update(rec.Name, func(r *entity.BusinessRecord) { r.MergeContacts(contacts) })
		case errors.Is(err, entity.ErrPoolExhausted):
			return err
		case ctx.Err() != nil:
		default:
			logger.Warn("contact extraction failed",
				zap.String("business", rec.Name),
				zap.String("website", rec.Website),
				zap.String("outcome", string(entity.OutcomeOf(err))),
				zap.Error(err),
			)
			run.Records.Update(rec.Name, func(r *entity.BusinessRecord) {
				if r.Status != entity.StatusResolved {
					r.MarkUnresolved(err.Error())
				}
			})
		}
		return nil
	})
}

func (p *Pipeline) resume(ctx context.Context, run *entity.PipelineRun, logger *zap.Logger) error {
	if p.deps.Checkpoints == nil || run.Completed != "" {
		return nil
	}
	for i := len(entity.Stages) - 1; i >= 0; i-- {
		stage := entity.Stages[i]
		cp, err := p.deps.Checkpoints.Load(ctx, run.ID, stage)
		if errors.Is(err, entity.ErrCheckpointNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to load checkpoint %s/%s: %w", run.ID, stage, err)
		}
		run.Records.Restore(cp.Records)
		if run.Seed.Empty() {
			run.Seed = cp.Seed
		}
		run.Completed = stage
		logger.Info("resuming run from checkpoint",
			zap.String("stage", string(stage)),
			zap.Int("records", len(cp.Records)),
		)
		return nil
	}
	return nil
}

// checkpoint failures are logged only: the run can go on, a restart would
// just repeat the stage.
func (p *Pipeline) checkpoint(ctx context.Context, run *entity.PipelineRun, stage entity.Stage, logger *zap.Logger) {
	if p.deps.Checkpoints == nil {
		return
	}
	cp := &entity.Checkpoint{
		RunID:     run.ID,
		Stage:     stage,
		Seed:      run.Seed,
		Records:   run.Records.Snapshot(),
		CreatedAt: time.Now().UTC(),
	}
	if err := p.deps.Checkpoints.Save(ctx, cp); err != nil {
		logger.Error("failed to save checkpoint", zap.String("stage", string(stage)), zap.Error(err))
	}
}

func (p *Pipeline) export(ctx context.Context, run *entity.PipelineRun, runErr error, start time.Time, logger *zap.Logger) (*RunResult, error) {
	records := run.Records.Snapshot()
	report := BuildReport(run.ID, records, run.Completed, time.Since(start))
	result := &RunResult{Records: records, Report: report, Aborted: runErr != nil}
	if runErr != nil {
		report.Aborted = true
		report.AbortReason = runErr.Error()
	}

	for _, r := range records {
		metrics.RecordsTotal.WithLabelValues(string(r.Status)).Inc()
	}

	var errs []error
	if p.deps.Exporter != nil {
		files, err := p.deps.Exporter.Export(ctx, records, p.opts.ExportFormat)
		if err != nil {
			errs = append(errs, fmt.Errorf("export failed: %w", err))
		}
		result.Files = append(result.Files, files...)
	}
	report.Files = append([]string(nil), result.Files...)
	if p.deps.Reports != nil {
		path, err := p.deps.Reports.WriteReport(ctx, report)
		if err != nil {
			errs = append(errs, fmt.Errorf("report failed: %w", err))
		} else {
			result.Files = append(result.Files, path)
		}
	}

	logger.Info("run finished",
		zap.Int("total", report.TotalBusinesses),
		zap.Int("resolved", report.Resolved),
		zap.Int("unresolved", report.Unresolved),
		zap.Int("pending", report.Pending),
		zap.String("success_rate", report.SuccessRate),
		zap.Strings("files", result.Files),
		zap.Bool("aborted", result.Aborted),
	)
	return result, errors.Join(errs...)
}
