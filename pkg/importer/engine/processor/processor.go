// Package processor executes the multi-step write for one group against the
// hosted record store. The store offers no multi-row transactions, so the
// processor approximates all-or-nothing semantics: every successful sub-step
// records a compensating delete, failures are classified into transient and
// permanent, transient ones are retried on a bounded backoff schedule, and
// permanent ones trigger the compensation stack.
package processor

import (
	"context"
	"fmt"
	"time"

	model "github.com/quayside/groupage/pkg/importer/core/domain/model"
	"github.com/quayside/groupage/pkg/importer/core/metrics"
	"github.com/quayside/groupage/pkg/importer/core/store"
	"github.com/quayside/groupage/pkg/importer/engine/grouping"
	"github.com/quayside/groupage/pkg/importer/engine/retry"
	"github.com/quayside/groupage/pkg/importer/support/util/exception"
	"github.com/quayside/groupage/pkg/importer/support/util/logger"
)

const moduleName = "processor"

// Processor writes one group at a time. It is safe for concurrent use: all
// per-group state lives on the stack of Process.
type Processor struct {
	rules    grouping.RuleSet
	refs     *grouping.References
	parents  store.RecordRepository
	children store.RecordRepository
	existing *KeySet
	mode     model.UpsertMode
	policy   retry.Policy
	recorder metrics.MetricRecorder
	tracer   metrics.Tracer

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewProcessor creates a Processor for one entity kind.
//
// rules: The entity kind's rule set.
// refs: The pre-loaded lookup cache.
// parents, children: The typed repositories for the parent and child entity kinds.
// existing: The pre-loaded set of business keys already present in the store.
// mode: How pre-existing business keys are handled.
// policy: The transient-failure retry policy.
func NewProcessor(
	rules grouping.RuleSet,
	refs *grouping.References,
	parents store.RecordRepository,
	children store.RecordRepository,
	existing *KeySet,
	mode model.UpsertMode,
	policy retry.Policy,
	recorder metrics.MetricRecorder,
	tracer metrics.Tracer,
) *Processor {
	return &Processor{
		rules:    rules,
		refs:     refs,
		parents:  parents,
		children: children,
		existing: existing,
		mode:     mode,
		policy:   policy,
		recorder: recorder,
		tracer:   tracer,
		sleep:    sleepContext,
	}
}

// Process runs the atomic write protocol for one group and returns its
// immutable outcome. The group is consumed exactly once; the outcome always
// carries the original source rows for failure reporting.
func (p *Processor) Process(ctx context.Context, g *model.Group) *model.WriteOutcome {
	ctx, end := p.tracer.StartGroupSpan(ctx, p.rules.Kind(), g.BusinessKey)
	defer end()

	var lastErr error
	attempts := 0
	maxAttempts := p.policy.MaxAttempts()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		// Duplicate check first on every attempt. It reads the pre-loaded key
		// set, not live store state, so repeating it after a rolled-back
		// attempt cannot observe that attempt's partial writes.
		if parentID, exists := p.existing.Get(g.BusinessKey); exists {
			return p.processExisting(ctx, g, parentID, attempt, maxAttempts)
		}

		created, err := p.writeGroup(ctx, g)
		if err == nil {
			p.recordOutcome(ctx, g, true)
			return &model.WriteOutcome{
				GroupKey:   g.BusinessKey,
				Success:    true,
				Action:     model.ActionCreated,
				Created:    created,
				RowCount:   g.RowCount(),
				SourceRows: g.SourceRows,
				Attempts:   attempt,
			}
		}
		lastErr = err

		if exception.KindOf(err) == exception.KindRollback {
			// The store may hold a partial group; retrying would only make it
			// worse. Escalate immediately.
			p.tracer.RecordError(ctx, moduleName, err)
			return p.failure(ctx, g, err, attempt)
		}

		if p.shouldRetry(ctx, g, err, attempt, maxAttempts) {
			continue
		}
		break
	}

	if exception.IsTemporary(lastErr) {
		lastErr = exception.NewWriteError(moduleName,
			fmt.Sprintf("max retries exceeded after %d attempts: %s", maxAttempts, exception.ExtractErrorMessage(lastErr)), lastErr)
	}
	p.tracer.RecordError(ctx, moduleName, lastErr)
	return p.failure(ctx, g, lastErr, attempts)
}

// processExisting handles a business key that pre-exists in the store,
// according to the configured upsert mode.
func (p *Processor) processExisting(ctx context.Context, g *model.Group, parentID string, attempt, maxAttempts int) *model.WriteOutcome {
	switch p.mode {
	case model.UpsertSkip:
		logger.Debugf("Group '%s' already exists; skipped.", g.BusinessKey)
		p.recordOutcome(ctx, g, true)
		return &model.WriteOutcome{
			GroupKey:   g.BusinessKey,
			Success:    true,
			Action:     model.ActionSkipped,
			RowCount:   g.RowCount(),
			SourceRows: g.SourceRows,
			Attempts:   attempt,
		}

	case model.UpsertUpdate:
		return p.processUpdate(ctx, g, parentID, attempt, maxAttempts)

	default:
		err := exception.NewDuplicateError(moduleName,
			fmt.Sprintf("business key '%s' already exists", g.BusinessKey))
		return p.failure(ctx, g, err, attempt)
	}
}

// processUpdate issues the update call for an existing parent record.
// Rollback is deliberately not attempted for updates: the pre-update field
// values were never snapshotted, so a partial update cannot be safely
// reversed. An update failure is reported as-is.
func (p *Processor) processUpdate(ctx context.Context, g *model.Group, parentID string, attempt, maxAttempts int) *model.WriteOutcome {
	for ; attempt <= maxAttempts; attempt++ {
		_, err := p.parents.Update(ctx, parentID, p.rules.ParentFields(g, p.refs))
		if err == nil {
			p.recordOutcome(ctx, g, true)
			return &model.WriteOutcome{
				GroupKey:   g.BusinessKey,
				Success:    true,
				Action:     model.ActionUpdated,
				Created:    &model.CreatedIDs{ParentID: parentID},
				RowCount:   g.RowCount(),
				SourceRows: g.SourceRows,
				Attempts:   attempt,
			}
		}

		if p.shouldRetry(ctx, g, err, attempt, maxAttempts) {
			continue
		}

		werr := exception.NewWriteError(moduleName,
			fmt.Sprintf("update of '%s' failed (pre-update state not restored): %s",
				g.BusinessKey, exception.ExtractErrorMessage(err)), err)
		p.tracer.RecordError(ctx, moduleName, werr)
		return p.failure(ctx, g, werr, attempt)
	}

	err := exception.NewWriteError(moduleName,
		fmt.Sprintf("max retries exceeded updating '%s'", g.BusinessKey), nil)
	return p.failure(ctx, g, err, maxAttempts)
}

// writeGroup performs one attempt of the create protocol: parent first, then
// one bulk call for all children. On any failure the compensation stack is
// rolled back before returning, so a retrying caller re-enters with a clean
// store; a rollback failure is returned as a KindRollback error carrying both
// the write and the compensation error.
func (p *Processor) writeGroup(ctx context.Context, g *model.Group) (*model.CreatedIDs, error) {
	comp := NewCompensationStack()

	parent, err := p.parents.Create(ctx, p.rules.ParentFields(g, p.refs))
	if err != nil {
		// Nothing written yet; nothing to roll back.
		return nil, err
	}
	parentID := parent.ID
	comp.Push(fmt.Sprintf("delete %s %s", p.rules.ParentKind(), parentID), func(ctx context.Context) error {
		return p.parents.Delete(ctx, parentID)
	})

	created := &model.CreatedIDs{ParentID: parentID}

	if len(g.Lines) > 0 {
		fields := make([]store.Fields, 0, len(g.Lines))
		for _, line := range g.Lines {
			fields = append(fields, p.rules.ChildFields(g, line, parentID))
		}

		childRecords, bulkErr := p.children.BulkCreate(ctx, fields)
		for _, c := range childRecords {
			childID := c.ID
			created.ChildIDs = append(created.ChildIDs, childID)
			comp.Push(fmt.Sprintf("delete %s %s", p.rules.ChildKind(), childID), func(ctx context.Context) error {
				return p.children.Delete(ctx, childID)
			})
		}

		if bulkErr == nil && len(childRecords) != len(fields) {
			// Partial bulk-insert without an error is still a failure.
			bulkErr = exception.NewWriteError(moduleName,
				fmt.Sprintf("bulk create returned %d of %d requested records", len(childRecords), len(fields)), nil)
		}

		if bulkErr != nil {
			return nil, p.rollback(ctx, bulkErr, comp)
		}
	}

	return created, nil
}

// rollback executes the compensation stack for a failed attempt. The original
// write error is returned unless the compensation itself fails, in which case
// a rollback-failure error carrying both is returned.
func (p *Processor) rollback(ctx context.Context, writeErr error, comp *CompensationStack) error {
	logger.Warnf("Write failed (%v); rolling back %d compensation action(s).", writeErr, comp.Len())
	compErr := comp.Rollback(ctx)
	p.recorder.RecordRollback(ctx, p.rules.Kind(), compErr == nil)
	if compErr != nil {
		return exception.NewRollbackFailure(moduleName, writeErr, compErr)
	}
	return writeErr
}

// shouldRetry reports whether the attempt loop should re-enter after err, and
// performs the backoff sleep when it should.
func (p *Processor) shouldRetry(ctx context.Context, g *model.Group, err error, attempt, maxAttempts int) bool {
	if attempt >= maxAttempts || !p.policy.ShouldRetry(err) {
		return false
	}

	backoff := p.policy.Backoff(attempt)
	logger.Debugf("Transient failure on group '%s' (attempt %d/%d): %v; retrying in %v.",
		g.BusinessKey, attempt, maxAttempts, err, backoff)
	p.recorder.RecordRetry(ctx, p.rules.Kind(), string(exception.KindOf(err)))

	if sleepErr := p.sleep(ctx, backoff); sleepErr != nil {
		return false
	}
	return true
}

// failure builds the failure outcome for a group, tagged with its source rows.
func (p *Processor) failure(ctx context.Context, g *model.Group, err error, attempts int) *model.WriteOutcome {
	p.recordOutcome(ctx, g, false)
	return &model.WriteOutcome{
		GroupKey:   g.BusinessKey,
		Success:    false,
		Err:        err,
		RowCount:   g.RowCount(),
		SourceRows: g.SourceRows,
		Attempts:   attempts,
	}
}

func (p *Processor) recordOutcome(ctx context.Context, g *model.Group, success bool) {
	// Outcome-level metrics are recorded by the scheduler's aggregation point;
	// here only the trace event is emitted.
	p.tracer.RecordEvent(ctx, "group_settled", map[string]interface{}{
		"group":   g.BusinessKey,
		"success": success,
	})
}

// sleepContext sleeps for the given duration or until the context is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
