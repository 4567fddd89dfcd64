package processor

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/quayside/groupage/pkg/importer/support/util/logger"
)

// compensation is one reversal action recorded after a successful sub-step.
type compensation struct {
	description string
	run         func(ctx context.Context) error
}

// CompensationStack records the reversal actions of a partially written group.
// Every successful sub-step pushes its compensating delete; on failure the
// stack is executed in reverse push order, which deletes children before the
// parent, mirroring dependency order.
type CompensationStack struct {
	actions []compensation
}

// NewCompensationStack creates an empty compensation stack.
func NewCompensationStack() *CompensationStack {
	return &CompensationStack{}
}

// Push records a compensating action.
func (s *CompensationStack) Push(description string, run func(ctx context.Context) error) {
	s.actions = append(s.actions, compensation{description: description, run: run})
}

// Len returns the number of recorded actions.
func (s *CompensationStack) Len() int {
	return len(s.actions)
}

// Rollback executes the recorded actions in reverse push order. A failing
// action does not stop the remaining ones; all compensation errors are
// collected and returned together so the operator sees the full damage.
func (s *CompensationStack) Rollback(ctx context.Context) error {
	var result *multierror.Error
	for i := len(s.actions) - 1; i >= 0; i-- {
		a := s.actions[i]
		if err := a.run(ctx); err != nil {
			logger.Errorf("Compensation '%s' failed: %v", a.description, err)
			result = multierror.Append(result, fmt.Errorf("%s: %w", a.description, err))
		} else {
			logger.Debugf("Compensation '%s' executed.", a.description)
		}
	}
	s.actions = s.actions[:0]
	return result.ErrorOrNil()
}
