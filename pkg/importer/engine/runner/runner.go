// Package runner wires the grouping, validation, processing and scheduling
// stages into one import run. The Importer is the single entry point callers
// use: rows in, run summary out.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quayside/groupage/pkg/importer/core/config"
	model "github.com/quayside/groupage/pkg/importer/core/domain/model"
	"github.com/quayside/groupage/pkg/importer/core/domain/repository"
	"github.com/quayside/groupage/pkg/importer/core/metrics"
	"github.com/quayside/groupage/pkg/importer/core/store"
	"github.com/quayside/groupage/pkg/importer/engine/grouping"
	"github.com/quayside/groupage/pkg/importer/engine/processor"
	"github.com/quayside/groupage/pkg/importer/engine/retry"
	"github.com/quayside/groupage/pkg/importer/engine/scheduler"
	"github.com/quayside/groupage/pkg/importer/support/util/exception"
	"github.com/quayside/groupage/pkg/importer/support/util/logger"
)

const moduleName = "runner"

// Importer runs complete import jobs for one configured entity kind.
type Importer struct {
	cfg      *config.Config
	rules    grouping.RuleSet
	store    store.RecordStore
	jobs     repository.JobRepository
	recorder metrics.MetricRecorder
	tracer   metrics.Tracer
	progress scheduler.ProgressFunc
}

// NewImporter creates an Importer.
func NewImporter(
	cfg *config.Config,
	rules grouping.RuleSet,
	st store.RecordStore,
	jobs repository.JobRepository,
	recorder metrics.MetricRecorder,
	tracer metrics.Tracer,
) *Importer {
	return &Importer{
		cfg:      cfg,
		rules:    rules,
		store:    st,
		jobs:     jobs,
		recorder: recorder,
		tracer:   tracer,
	}
}

// OnProgress registers the single progress consumer for subsequent runs.
func (i *Importer) OnProgress(fn scheduler.ProgressFunc) {
	i.progress = fn
}

// Run imports the given rows as one job and returns the run summary.
// Grouping and validation never abort the run; each invalid group becomes a
// failed outcome and the remaining groups are still written.
func (i *Importer) Run(ctx context.Context, rows []model.Row) (*model.RunSummary, error) {
	importCfg := i.cfg.Groupage.Import

	parents, err := i.store.Repository(i.rules.ParentKind())
	if err != nil {
		return nil, exception.NewWriteError(moduleName, fmt.Sprintf("no repository for '%s'", i.rules.ParentKind()), err)
	}
	children, err := i.store.Repository(i.rules.ChildKind())
	if err != nil {
		return nil, exception.NewWriteError(moduleName, fmt.Sprintf("no repository for '%s'", i.rules.ChildKind()), err)
	}

	refs, err := i.loadReferences(ctx)
	if err != nil {
		return nil, err
	}

	set := grouping.NewGrouper(i.rules, refs).GroupRows(rows)
	groups := set.Ordered()
	logger.Infof("Grouped %d rows into %d %s group(s).", len(rows), len(groups), i.rules.Kind())

	if preparer, ok := i.rules.(grouping.LookupPreparer); ok {
		if err := preparer.PrepareLookups(ctx, groups, refs, i.store); err != nil {
			return nil, err
		}
	}

	existing, err := i.loadExistingKeys(ctx, parents)
	if err != nil {
		return nil, err
	}

	valid, seedOutcomes, seedTotals := i.validateGroups(groups)

	job := model.NewImportJob(importCfg.JobName, i.rules.Kind(), len(groups))
	if err := i.jobs.SaveJob(ctx, job); err != nil {
		return nil, exception.NewWriteError(moduleName, "failed to persist job record", err)
	}

	ctx, endRun := i.tracer.StartRunSpan(ctx, job)
	defer endRun()
	i.recorder.RecordRunStart(ctx, job)
	started := time.Now()

	policy := retry.NewDefaultPolicyFactory().FromConfig(importCfg.Retry)
	proc := processor.NewProcessor(
		i.rules, refs, parents, children, existing,
		i.upsertMode(), policy, i.recorder, i.tracer,
	)

	sched := scheduler.NewScheduler(
		proc, i.jobs, i.recorder,
		i.rules.Kind(), i.waveSize(),
		time.Duration(importCfg.PausePollIntervalMs)*time.Millisecond,
	)
	if i.progress != nil {
		sched.OnProgress(i.progress)
	}

	result, err := sched.Run(ctx, job, valid, seedTotals)
	if err != nil {
		job.MarkFinished(model.JobStatusFailed)
		if updateErr := i.updateJobWithResync(ctx, job); updateErr != nil {
			logger.Errorf("Failed to finalize job '%s': %v", job.ID, updateErr)
		}
		return nil, err
	}

	summary := i.buildSummary(job, seedOutcomes, result)
	i.finalizeJob(ctx, job, summary)
	i.recorder.RecordRunEnd(ctx, job, time.Since(started))
	return summary, nil
}

// loadReferences pre-loads every lookup table the rule set declares.
// Each table is read with a single Filter call per run.
func (i *Importer) loadReferences(ctx context.Context) (*grouping.References, error) {
	refs := grouping.NewReferences()
	for _, ref := range i.rules.ReferenceKinds() {
		repo, err := i.store.Repository(ref.Kind)
		if err != nil {
			return nil, exception.NewWriteError(moduleName, fmt.Sprintf("no repository for '%s'", ref.Kind), err)
		}
		records, err := repo.Filter(ctx, nil)
		if err != nil {
			return nil, exception.NewTransientError(moduleName, fmt.Sprintf("failed to pre-load '%s' references", ref.Kind), err)
		}
		for _, rec := range records {
			if code, ok := rec.Fields[ref.CodeField].(string); ok && code != "" {
				refs.Add(ref.Kind, code, rec.ID)
			}
		}
		logger.Debugf("Pre-loaded %d '%s' reference(s).", refs.Len(ref.Kind), ref.Kind)
	}
	return refs, nil
}

// loadExistingKeys pre-loads the business keys already present in the parent
// store so duplicate detection is one in-memory lookup per attempt.
func (i *Importer) loadExistingKeys(ctx context.Context, parents store.RecordRepository) (*processor.KeySet, error) {
	existing := processor.NewKeySet()
	records, err := parents.Filter(ctx, nil)
	if err != nil {
		return nil, exception.NewTransientError(moduleName, "failed to pre-load existing business keys", err)
	}
	for _, rec := range records {
		if key := i.rules.BusinessKeyOf(rec); key != "" {
			existing.Add(key, rec.ID)
		}
	}
	logger.Debugf("Pre-loaded %d existing %s key(s).", existing.Len(), i.rules.Kind())
	return existing, nil
}

// validateGroups partitions groups into schedulable ones and validation
// failures. Failures become outcomes immediately and seed the totals the
// scheduler continues from.
func (i *Importer) validateGroups(groups []*model.Group) ([]*model.Group, []*model.WriteOutcome, model.Totals) {
	valid := make([]*model.Group, 0, len(groups))
	var failed []*model.WriteOutcome
	var totals model.Totals

	for _, g := range groups {
		ok, failures := grouping.Validate(g, i.rules)
		if ok {
			valid = append(valid, g)
			continue
		}
		outcome := &model.WriteOutcome{
			GroupKey:   g.BusinessKey,
			Success:    false,
			Err:        exception.NewValidationError(i.rules.Kind(), fmt.Sprintf("%v", failures)),
			RowCount:   g.RowCount(),
			SourceRows: g.SourceRows,
		}
		failed = append(failed, outcome)
		totals.Add(outcome)
	}
	if len(failed) > 0 {
		logger.Warnf("%d of %d group(s) rejected by validation.", len(failed), len(groups))
	}
	return valid, failed, totals
}

// buildSummary merges validation outcomes and scheduler outcomes into the run
// summary, in validation-first order.
func (i *Importer) buildSummary(job *model.ImportJob, seed []*model.WriteOutcome, result *scheduler.Result) *model.RunSummary {
	outcomes := make([]*model.WriteOutcome, 0, len(seed)+len(result.Outcomes))
	outcomes = append(outcomes, seed...)
	outcomes = append(outcomes, result.Outcomes...)

	summary := &model.RunSummary{
		JobID:        job.ID,
		TotalGroups:  job.TotalCount,
		SuccessCount: result.Totals.Success,
		FailCount:    result.Totals.Failed,
		Cancelled:    result.Cancelled,
		Outcomes:     outcomes,
	}
	for _, o := range outcomes {
		if o.Success {
			continue
		}
		summary.Errors = append(summary.Errors, model.GroupError{
			Key:        o.GroupKey,
			Err:        o.Err,
			SourceRows: o.SourceRows,
		})
		if o.ErrorKind() == exception.KindRollback {
			summary.RollbackFailureKeys = append(summary.RollbackFailureKeys, o.GroupKey)
		}
	}
	if len(summary.RollbackFailureKeys) > 0 {
		logger.Warnf("MANUAL REVIEW REQUIRED for %d group(s): %v", len(summary.RollbackFailureKeys), summary.RollbackFailureKeys)
	}
	return summary
}

// finalizeJob records the terminal job status. A cancelled run lands on the
// distinct CANCELLED status, never COMPLETED, regardless of how many groups
// finished before the boundary check.
func (i *Importer) finalizeJob(ctx context.Context, job *model.ImportJob, summary *model.RunSummary) {
	status := model.JobStatusCompleted
	if summary.Cancelled {
		status = model.JobStatusCancelled
	}
	job.MarkProgress(summary.SuccessCount+summary.FailCount, summary.SuccessCount, summary.FailCount, "")
	job.MarkFinished(status)
	if err := i.updateJobWithResync(ctx, job); err != nil {
		logger.Errorf("Failed to finalize job '%s' as %s: %v", job.ID, status, err)
	}
}

// updateJobWithResync writes the job record and, when the optimistic-lock check
// reports a concurrent writer, re-reads the persisted version and retries once.
// A cancel request issued between the last wave and finalization otherwise
// leaves the job parked in CANCELLING with no writer able to finish it.
func (i *Importer) updateJobWithResync(ctx context.Context, job *model.ImportJob) error {
	err := i.jobs.UpdateJob(ctx, job)
	if !errors.Is(err, repository.ErrStaleJobVersion) {
		return err
	}
	latest, findErr := i.jobs.FindJobByID(ctx, job.ID)
	if findErr != nil {
		return err
	}
	job.Version = latest.Version
	return i.jobs.UpdateJob(ctx, job)
}

func (i *Importer) waveSize() int {
	if size := i.cfg.Groupage.Import.WaveSize; size > 0 {
		return size
	}
	return i.rules.DefaultWaveSize()
}

func (i *Importer) upsertMode() model.UpsertMode {
	switch model.UpsertMode(i.cfg.Groupage.Import.UpsertMode) {
	case model.UpsertFail:
		return model.UpsertFail
	case model.UpsertUpdate:
		return model.UpsertUpdate
	default:
		return model.UpsertSkip
	}
}
