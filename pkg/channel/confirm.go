package channel

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// ErrUnknownOperation is returned when a status source has never seen a handle.
var ErrUnknownOperation = errors.New("channel: unknown operation")

// StatusSource reports the current state of a submitted operation. pending is
// true while the operation has not been included yet.
type StatusSource interface {
	Status(ctx context.Context, h Handle) (r Receipt, pending bool, err error)
}

// ConfirmOptions bounds the wait for a terminal state.
type ConfirmOptions struct {
	// Confirmations is the depth a successful operation must reach.
	Confirmations int
	// Limiter paces status polls. Nil polls every 250ms.
	Limiter *rate.Limiter
}

// Confirm polls src until h is reverted or has reached the requested depth.
// Context cancellation and deadlines are returned unmodified.
func Confirm(ctx context.Context, src StatusSource, h Handle, opts ConfirmOptions) (Receipt, error) {
	limiter := opts.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Every(250*time.Millisecond), 1)
	}
	depth := opts.Confirmations
	if depth < 1 {
		depth = 1
	}

	for {
		if err := ctx.Err(); err != nil {
			return Receipt{}, err
		}
		if err := limiter.Wait(ctx); err != nil {
			// The limiter refuses waits that would pass the deadline before
			// the context itself expires.
			if _, ok := ctx.Deadline(); ok {
				<-ctx.Done()
				return Receipt{}, ctx.Err()
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Receipt{}, ctxErr
			}
			return Receipt{}, err
		}

		r, pending, err := src.Status(ctx, h)
		if err != nil {
			return Receipt{}, err
		}
		if pending {
			continue
		}
		if !r.Success || r.Confirmations >= depth {
			return r, nil
		}
	}
}
