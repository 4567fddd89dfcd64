package processor_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/quayside/groupage/pkg/importer/core/domain/model"
	"github.com/quayside/groupage/pkg/importer/core/metrics"
	"github.com/quayside/groupage/pkg/importer/engine/grouping"
	"github.com/quayside/groupage/pkg/importer/engine/processor"
	"github.com/quayside/groupage/pkg/importer/engine/retry"
	"github.com/quayside/groupage/pkg/importer/entity/order"
	memorystore "github.com/quayside/groupage/pkg/importer/infrastructure/store/memory"
	"github.com/quayside/groupage/pkg/importer/support/util/exception"
)

// zeroBackoffPolicy keeps the default three attempts but sleeps for nothing
// between them, so retry paths run instantly in tests.
func zeroBackoffPolicy() retry.Policy {
	return retry.NewDefaultPolicyFactory().Create(3, []int{0, 0, 0}, nil)
}

func orderGroup(key string, lineCount int) *model.Group {
	g := &model.Group{
		BusinessKey: key,
		Header: map[string]interface{}{
			"store_id":   "1",
			"order_id":   key,
			"order_date": "2026-01-15",
		},
		SourceRows: []model.Row{{Number: 1, Fields: map[string]string{"store_id": "1"}}},
	}
	for i := 0; i < lineCount; i++ {
		g.Lines = append(g.Lines, model.LineIntent{
			RefID:    "sku-" + string(rune('a'+i)),
			RefCode:  "SKU-" + string(rune('A'+i)),
			Quantity: float64(i + 1),
		})
	}
	return g
}

func newOrderProcessor(st *memorystore.Store, existing *processor.KeySet, mode model.UpsertMode) *processor.Processor {
	rules := order.NewRules()
	parents := st.Repo(rules.ParentKind())
	children := st.Repo(rules.ChildKind())
	return processor.NewProcessor(
		rules, grouping.NewReferences(), parents, children, existing, mode,
		zeroBackoffPolicy(), metrics.NewNoOpMetricRecorder(), metrics.NewNoOpTracer(),
	)
}

func TestProcessCreatesParentAndChildrenTogether(t *testing.T) {
	st := memorystore.NewStore()
	p := newOrderProcessor(st, processor.NewKeySet(), model.UpsertSkip)

	outcome := p.Process(context.Background(), orderGroup("1|1001", 2))

	require.True(t, outcome.Success)
	assert.Equal(t, model.ActionCreated, outcome.Action)
	assert.Equal(t, 1, outcome.Attempts)
	require.NotNil(t, outcome.Created)
	assert.NotEmpty(t, outcome.Created.ParentID)
	assert.Len(t, outcome.Created.ChildIDs, 2)
	assert.Equal(t, 1, st.Repo("orders").Len())
	assert.Equal(t, 2, st.Repo("order_lines").Len())
}

func TestProcessRetriesTransientFailureFromCleanState(t *testing.T) {
	st := memorystore.NewStore()
	st.Repo("order_lines").FailNext(memorystore.OpBulkCreate,
		exception.NewTransientError("test", "429 Too Many Requests", nil))
	p := newOrderProcessor(st, processor.NewKeySet(), model.UpsertSkip)

	outcome := p.Process(context.Background(), orderGroup("1|1002", 2))

	require.True(t, outcome.Success)
	assert.Equal(t, 2, outcome.Attempts)
	// The first attempt's parent was compensated before the retry, so the
	// second attempt left exactly one parent behind.
	assert.Equal(t, 1, st.Repo("orders").Len())
	assert.Equal(t, 2, st.Repo("order_lines").Len())
}

func TestProcessPartialBulkInsertIsCompensated(t *testing.T) {
	st := memorystore.NewStore()
	st.Repo("order_lines").FailNextBulkPartial(1)
	p := newOrderProcessor(st, processor.NewKeySet(), model.UpsertSkip)

	outcome := p.Process(context.Background(), orderGroup("1|1003", 3))

	require.False(t, outcome.Success)
	require.Error(t, outcome.Err)
	assert.Equal(t, exception.KindWrite, exception.KindOf(outcome.Err))
	assert.Contains(t, outcome.Err.Error(), "bulk create returned 1 of 3 requested records")
	// Both the parent and the stray child were rolled back.
	assert.Equal(t, 0, st.Repo("orders").Len())
	assert.Equal(t, 0, st.Repo("order_lines").Len())
	// Failure reporting keeps the original rows.
	assert.Len(t, outcome.SourceRows, 1)
}

func TestProcessExhaustsRetriesOnPersistentTransientFailure(t *testing.T) {
	st := memorystore.NewStore()
	lines := st.Repo("order_lines")
	for i := 0; i < 3; i++ {
		lines.FailNext(memorystore.OpBulkCreate,
			exception.NewTransientError("test", "rate limit hit", nil))
	}
	p := newOrderProcessor(st, processor.NewKeySet(), model.UpsertSkip)

	outcome := p.Process(context.Background(), orderGroup("1|1004", 1))

	require.False(t, outcome.Success)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, exception.KindWrite, exception.KindOf(outcome.Err))
	assert.Contains(t, outcome.Err.Error(), "max retries exceeded after 3 attempts")
	// Every attempt was rolled back.
	assert.Equal(t, 0, st.Repo("orders").Len())
	assert.Equal(t, 0, st.Repo("order_lines").Len())
}

func TestProcessPermanentFailureReportsSingleAttempt(t *testing.T) {
	st := memorystore.NewStore()
	st.Repo("orders").FailNext(memorystore.OpCreate,
		exception.NewWriteError("test", "schema validation rejected", nil))
	p := newOrderProcessor(st, processor.NewKeySet(), model.UpsertSkip)

	outcome := p.Process(context.Background(), orderGroup("1|1009", 1))

	require.False(t, outcome.Success)
	// A permanent failure stops on the spot, and the outcome reports the one
	// attempt that actually ran, not the retry ceiling.
	assert.Equal(t, 1, outcome.Attempts)
	assert.Equal(t, exception.KindWrite, exception.KindOf(outcome.Err))
	assert.Equal(t, 0, st.Repo("orders").Len())
	assert.Equal(t, 0, st.Repo("order_lines").Len())
}

func TestProcessRollbackFailureEscalatesWithoutRetry(t *testing.T) {
	st := memorystore.NewStore()
	st.Repo("order_lines").FailNext(memorystore.OpBulkCreate,
		exception.NewTransientError("test", "429 Too Many Requests", nil))
	st.Repo("orders").FailNext(memorystore.OpDelete, errors.New("delete rejected"))
	p := newOrderProcessor(st, processor.NewKeySet(), model.UpsertSkip)

	outcome := p.Process(context.Background(), orderGroup("1|1005", 1))

	require.False(t, outcome.Success)
	// The write error was transient, but a failed compensation must not be
	// retried on top of unknown store state.
	assert.Equal(t, 1, outcome.Attempts)
	assert.Equal(t, exception.KindRollback, exception.KindOf(outcome.Err))
	assert.Contains(t, outcome.Err.Error(), "MANUAL REVIEW REQUIRED")
	assert.Contains(t, outcome.Err.Error(), "delete rejected")
	// The orphaned parent is still there; that is exactly what the error reports.
	assert.Equal(t, 1, st.Repo("orders").Len())
}

func TestProcessSkipModeLeavesExistingGroupAlone(t *testing.T) {
	st := memorystore.NewStore()
	seeded := st.Repo("orders").Seed(map[string]interface{}{"business_key": "1|1006"})
	existing := processor.NewKeySet()
	existing.Add("1|1006", seeded.ID)
	p := newOrderProcessor(st, existing, model.UpsertSkip)

	outcome := p.Process(context.Background(), orderGroup("1|1006", 1))

	require.True(t, outcome.Success)
	assert.Equal(t, model.ActionSkipped, outcome.Action)
	assert.Equal(t, 1, st.Repo("orders").Len())
	assert.Equal(t, 0, st.Repo("order_lines").Len())
}

func TestProcessFailModeReportsDuplicate(t *testing.T) {
	st := memorystore.NewStore()
	seeded := st.Repo("orders").Seed(map[string]interface{}{"business_key": "1|1007"})
	existing := processor.NewKeySet()
	existing.Add("1|1007", seeded.ID)
	p := newOrderProcessor(st, existing, model.UpsertFail)

	outcome := p.Process(context.Background(), orderGroup("1|1007", 1))

	require.False(t, outcome.Success)
	assert.Equal(t, exception.KindDuplicate, exception.KindOf(outcome.Err))
	assert.Contains(t, outcome.Err.Error(), "1|1007")
	assert.Equal(t, 1, st.Repo("orders").Len())
}

func TestProcessUpdateModeUpdatesExistingParent(t *testing.T) {
	st := memorystore.NewStore()
	seeded := st.Repo("orders").Seed(map[string]interface{}{
		"business_key": "1|1008",
		"customer":     "old name",
	})
	existing := processor.NewKeySet()
	existing.Add("1|1008", seeded.ID)
	p := newOrderProcessor(st, existing, model.UpsertUpdate)

	g := orderGroup("1|1008", 1)
	g.Header["customer"] = "new name"
	outcome := p.Process(context.Background(), g)

	require.True(t, outcome.Success)
	assert.Equal(t, model.ActionUpdated, outcome.Action)
	require.NotNil(t, outcome.Created)
	assert.Equal(t, seeded.ID, outcome.Created.ParentID)

	records, err := st.Repo("orders").Filter(context.Background(), map[string]interface{}{"business_key": "1|1008"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "new name", records[0].Fields["customer"])
}

func TestProcessUpdateFailureIsNotRolledBack(t *testing.T) {
	st := memorystore.NewStore()
	seeded := st.Repo("orders").Seed(map[string]interface{}{"business_key": "1|1009"})
	st.Repo("orders").FailNext(memorystore.OpUpdate, errors.New("field validation rejected"))
	existing := processor.NewKeySet()
	existing.Add("1|1009", seeded.ID)
	p := newOrderProcessor(st, existing, model.UpsertUpdate)

	outcome := p.Process(context.Background(), orderGroup("1|1009", 1))

	require.False(t, outcome.Success)
	assert.Equal(t, exception.KindWrite, exception.KindOf(outcome.Err))
	assert.Contains(t, outcome.Err.Error(), "pre-update state not restored")
	// The seeded parent survives; updates are never compensated.
	assert.Equal(t, 1, st.Repo("orders").Len())
}
