package cut

import (
	"errors"
	"fmt"

	"github.com/martin-labs/diamondctl/pkg/loupe"
)

var (
	// ErrExecutionReverted is the sentinel behind ExecutionRevertedError.
	ErrExecutionReverted = errors.New("cut: execution reverted")

	// ErrInconsistentDispatchState aborts a planning pass. No partial plan is
	// ever returned alongside it.
	ErrInconsistentDispatchState = loupe.ErrInconsistentDispatchState

	// ErrSelectorConflict is returned when two candidate facets expose the
	// same selector in one pass.
	ErrSelectorConflict = errors.New("cut: selector claimed by more than one facet")

	// ErrInvalidFacet is returned for candidates without a usable address.
	ErrInvalidFacet = errors.New("cut: invalid facet")

	// ErrPolicyDenied is returned when the cut guard rejects a batch.
	ErrPolicyDenied = errors.New("cut: rejected by cut policy")
)

// ExecutionRevertedError reports a batch the target system rejected. It is
// fatal to the calling step and never retried automatically.
type ExecutionRevertedError struct {
	OperationID string
	Reason      string
}

func (e *ExecutionRevertedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("diamond cut reverted: %s (%s)", e.OperationID, e.Reason)
	}
	return fmt.Sprintf("diamond cut reverted: %s", e.OperationID)
}

func (e *ExecutionRevertedError) Unwrap() error { return ErrExecutionReverted }
