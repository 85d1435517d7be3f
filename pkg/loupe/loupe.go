// Package loupe reads the live dispatch table of a target system.
//
// The table is owned by the target system. A Snapshot is only valid for the
// planning pass that produced it and must not be reused across passes.
package loupe

import (
	"context"
	"errors"
	"fmt"

	"github.com/martin-labs/diamondctl/pkg/diamond"
)

var (
	// ErrInconsistentDispatchState is returned when the table answers with
	// something the planner cannot trust, such as a malformed address.
	ErrInconsistentDispatchState = errors.New("loupe: inconsistent dispatch state")

	// ErrLoupeUnavailable is returned when the loupe entry points themselves
	// are not yet bound in the table.
	ErrLoupeUnavailable = errors.New("loupe: loupe facet not reachable")
)

// Reader queries the facet currently serving a selector. The zero address
// means unassigned.
type Reader interface {
	FacetAddress(ctx context.Context, sel diamond.Selector) (diamond.Address, error)
}

// FacetInfo is one row of the table grouped by facet.
type FacetInfo struct {
	Address   diamond.Address    `json:"facetAddress"`
	Selectors []diamond.Selector `json:"functionSelectors"`
}

// Inspector lists the whole table.
type Inspector interface {
	Facets(ctx context.Context) ([]FacetInfo, error)
}

// Snapshot is the binding of a fixed set of selectors, read once.
type Snapshot struct {
	bindings map[diamond.Selector]diamond.Address
}

// Read queries every distinct selector once and returns the result. All reads
// complete before the caller builds any action.
func Read(ctx context.Context, r Reader, selectors []diamond.Selector) (*Snapshot, error) {
	snap := &Snapshot{bindings: make(map[diamond.Selector]diamond.Address, len(selectors))}
	for _, sel := range selectors {
		if _, done := snap.bindings[sel]; done {
			continue
		}
		addr, err := r.FacetAddress(ctx, sel)
		if err != nil {
			return nil, fmt.Errorf("read binding of %s: %w", sel, err)
		}
		if addr == "" {
			addr = diamond.ZeroAddress
		}
		if !addr.Valid() {
			return nil, fmt.Errorf("%w: selector %s bound to malformed address %q", ErrInconsistentDispatchState, sel, addr)
		}
		snap.bindings[sel] = addr
	}
	return snap, nil
}

// Lookup returns the binding of sel and whether it was part of the read.
func (s *Snapshot) Lookup(sel diamond.Selector) (diamond.Address, bool) {
	addr, ok := s.bindings[sel]
	return addr, ok
}

// Len returns the number of selectors read.
func (s *Snapshot) Len() int {
	return len(s.bindings)
}

// Available reports whether the loupe answers at all. Any error other than
// ErrLoupeUnavailable is returned to the caller.
func Available(ctx context.Context, in Inspector) (bool, error) {
	if _, err := in.Facets(ctx); err != nil {
		if errors.Is(err, ErrLoupeUnavailable) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
