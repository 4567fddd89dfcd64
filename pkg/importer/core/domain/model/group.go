package model

import (
	"fmt"

	"github.com/quayside/groupage/pkg/importer/support/util/exception"
)

// Row is one raw input row. Number is the 1-based position in the source file
// and is retained through grouping so failed groups can be reported back
// against their original rows.
type Row struct {
	Number int
	Fields map[string]string
}

// Get returns the named field value, trimmed of nothing; missing fields return "".
func (r Row) Get(field string) string {
	return r.Fields[field]
}

// LineIntent is a child record to be created atomically with its parent,
// for example one order line. RefID is the resolved foreign key (e.g., the SKU
// record id), RefCode the raw code it was resolved from.
type LineIntent struct {
	RefID    string
	RefCode  string
	Quantity float64
	Fields   map[string]interface{}
}

// Group is the aggregated representation of all input rows sharing one business
// key, treated as one atomic write unit. It is created once per import run,
// consumed exactly once by the processor, and discarded after its outcome is
// recorded.
type Group struct {
	BusinessKey string
	Header      map[string]interface{}
	Lines       []LineIntent
	SourceRows  []Row
}

// RowCount returns the number of source rows folded into this group.
func (g *Group) RowCount() int {
	return len(g.SourceRows)
}

// Action describes what the processor did for a group that succeeded.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionSkipped Action = "skipped"
)

// UpsertMode controls how the processor treats a business key that already
// exists in the target store.
type UpsertMode string

const (
	// UpsertSkip records the group as a successful no-op.
	UpsertSkip UpsertMode = "skip"
	// UpsertFail records the group as a duplicate failure.
	UpsertFail UpsertMode = "fail"
	// UpsertUpdate issues an update call against the existing record.
	// Rollback is not attempted for updates: partial updates to an existing
	// record are not safely reversible without a prior snapshot, so an update
	// failure is reported but the pre-update state is not restored.
	UpsertUpdate UpsertMode = "update"
)

// CreatedIDs holds the store ids assigned to a successfully written group.
type CreatedIDs struct {
	ParentID string
	ChildIDs []string
}

// WriteOutcome is the immutable result of processing one group.
// Every outcome carries the original source rows so the caller can produce a
// failed-rows report without re-deriving context.
type WriteOutcome struct {
	GroupKey   string
	Success    bool
	Action     Action
	Created    *CreatedIDs
	Err        error
	RowCount   int
	SourceRows []Row
	Attempts   int
}

// ErrorKind returns the taxonomy kind of the outcome's error, or KindUnknown
// for successful outcomes.
func (o *WriteOutcome) ErrorKind() exception.Kind {
	if o.Err == nil {
		return exception.KindUnknown
	}
	return exception.KindOf(o.Err)
}

// Message renders the human-readable per-group progress line.
func (o *WriteOutcome) Message() string {
	if o.Success {
		return fmt.Sprintf("✓ %s (%d rows)", o.GroupKey, o.RowCount)
	}
	return fmt.Sprintf("✗ %s: %s", o.GroupKey, exception.ExtractErrorMessage(o.Err))
}

// Totals carries running counters aggregated by the scheduler.
type Totals struct {
	Processed int
	Success   int
	Failed    int
}

// Add folds one outcome into the totals.
func (t *Totals) Add(o *WriteOutcome) {
	t.Processed++
	if o.Success {
		t.Success++
	} else {
		t.Failed++
	}
}

// ProgressEvent is the structured event emitted once per completed wave.
type ProgressEvent struct {
	Phase        string
	Current      int
	Total        int
	SuccessCount int
	FailCount    int
	Message      string
}

// GroupError pairs a failed business key with its error and original rows.
type GroupError struct {
	Key        string
	Err        error
	SourceRows []Row
}

// RunSummary is the aggregate result of one import run.
type RunSummary struct {
	JobID        string
	TotalGroups  int
	SuccessCount int
	FailCount    int
	Cancelled    bool
	Errors       []GroupError
	// RollbackFailureKeys lists groups whose compensation failed; these represent
	// store inconsistencies the engine could not self-heal and are surfaced as a
	// run-level warning in addition to their per-group errors.
	RollbackFailureKeys []string
	Outcomes            []*WriteOutcome
}
