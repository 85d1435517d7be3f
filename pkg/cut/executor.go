package cut

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/martin-labs/diamondctl/pkg/channel"
	"github.com/martin-labs/diamondctl/pkg/diamond"
)

// Guard vets a batch before submission.
type Guard interface {
	Check(ctx context.Context, cuts []diamond.FacetCut) error
}

// Touched is a facet whose selectors a successful batch bound.
type Touched struct {
	Name    string
	Address diamond.Address
}

// Result is the outcome of Apply.
type Result struct {
	// Noop is true when nothing was submitted.
	Noop        bool
	OperationID string
	Touched     []Touched
	Receipt     channel.Receipt
}

// Executor submits cut batches to one diamond.
type Executor struct {
	ch      channel.Channel
	diamond diamond.Address
	guard   Guard
	logger  *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithGuard installs a policy check evaluated before every submission.
func WithGuard(g Guard) ExecutorOption {
	return func(e *Executor) { e.guard = g }
}

// NewExecutor creates an executor for the diamond at target.
func NewExecutor(ch channel.Channel, target diamond.Address, opts ...ExecutorOption) *Executor {
	e := &Executor{
		ch:      ch,
		diamond: target,
		logger:  slog.Default().With("component", "cut.executor", "diamond", target.String()),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply submits actions as one atomic batch plus the optional initializer
// call and blocks until the batch is confirmed or reverted. An empty batch
// succeeds without contacting the channel.
func (e *Executor) Apply(ctx context.Context, actions []diamond.FacetCut, initTarget diamond.Address, initPayload []byte) (Result, error) {
	if len(actions) == 0 {
		e.logger.InfoContext(ctx, "no facets to add, replace or remove")
		return Result{Noop: true}, nil
	}
	if err := diamond.ValidateBatch(actions); err != nil {
		return Result{}, err
	}
	if initTarget == "" {
		initTarget = diamond.ZeroAddress
	}
	if initTarget.IsZero() && len(initPayload) > 0 {
		return Result{}, fmt.Errorf("%w: initializer payload without initializer target", diamond.ErrInvalidCut)
	}
	if e.guard != nil {
		if err := e.guard.Check(ctx, actions); err != nil {
			return Result{}, err
		}
	}

	adds, replaces, removes := diamond.CountSelectors(actions)
	e.logger.InfoContext(ctx, "submitting diamond cut",
		"actions", len(actions),
		"add", adds,
		"replace", replaces,
		"remove", removes,
		"init", initTarget.String(),
	)

	h, err := e.ch.Submit(ctx, channel.CutIntent{
		Diamond:  e.diamond,
		Cuts:     actions,
		Init:     initTarget,
		InitData: initPayload,
	})
	if err != nil {
		return Result{}, fmt.Errorf("submit diamond cut: %w", err)
	}
	e.logger.InfoContext(ctx, "diamond cut submitted", "operation", h.ID)

	receipt, err := e.ch.Await(ctx, h)
	if err != nil {
		return Result{}, err
	}
	opID := receipt.ID
	if opID == "" {
		opID = h.ID
	}
	if !receipt.Success {
		e.logger.ErrorContext(ctx, "diamond cut reverted", "operation", opID, "reason", receipt.Reason)
		return Result{}, &ExecutionRevertedError{OperationID: opID, Reason: receipt.Reason}
	}

	e.logger.InfoContext(ctx, "diamond cut confirmed", "operation", opID, "block", receipt.Block)
	return Result{
		OperationID: opID,
		Touched:     touched(actions),
		Receipt:     receipt,
	}, nil
}

func touched(actions []diamond.FacetCut) []Touched {
	var out []Touched
	seen := make(map[diamond.Address]struct{})
	for _, a := range actions {
		if a.Action == diamond.ActionRemove {
			continue
		}
		key := a.FacetAddress.Lower()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, Touched{Name: a.Facet, Address: a.FacetAddress})
	}
	return out
}
