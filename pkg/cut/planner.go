// Package cut plans and applies changes to a diamond's dispatch table.
//
// The Planner is the only producer of cut actions. It consults the live
// table, never the deployment ledger. The Executor pushes a whole batch
// through one channel submission so partial application is never observable.
package cut

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/martin-labs/diamondctl/pkg/diamond"
	"github.com/martin-labs/diamondctl/pkg/loupe"
)

// Planner computes the minimal action list for a set of candidate facets.
type Planner struct {
	reader loupe.Reader
	logger *slog.Logger
}

// NewPlanner creates a planner reading bindings from r.
func NewPlanner(r loupe.Reader) *Planner {
	return &Planner{
		reader: r,
		logger: slog.Default().With("component", "cut.planner"),
	}
}

// Plan returns, per candidate facet, one Replace action for selectors bound
// to another address and one Add action for unbound selectors, Replace first.
// Selectors already bound to the candidate are skipped. An empty result means
// the table already matches.
func (p *Planner) Plan(ctx context.Context, facets []diamond.Facet) ([]diamond.FacetCut, error) {
	candidates, all, err := normalize(facets)
	if err != nil {
		return nil, err
	}

	snap, err := loupe.Read(ctx, p.reader, all)
	if err != nil {
		return nil, err
	}

	var plan []diamond.FacetCut
	for _, f := range candidates {
		var add, replace []diamond.Selector
		for _, sel := range f.Selectors {
			bound, _ := snap.Lookup(sel)
			switch {
			case bound.IsZero():
				add = append(add, sel)
			case !bound.Equal(f.Address):
				replace = append(replace, sel)
			}
		}
		if len(replace) > 0 {
			plan = append(plan, diamond.FacetCut{
				Action:       diamond.ActionReplace,
				FacetAddress: f.Address,
				Selectors:    replace,
				Facet:        f.Name,
			})
		}
		if len(add) > 0 {
			plan = append(plan, diamond.FacetCut{
				Action:       diamond.ActionAdd,
				FacetAddress: f.Address,
				Selectors:    add,
				Facet:        f.Name,
			})
		}
	}

	p.logger.DebugContext(ctx, "plan computed",
		"candidates", len(candidates),
		"selectors", len(all),
		"actions", len(plan),
	)
	return plan, nil
}

// PlanRemoval returns exactly one Remove action for selectors. Removal
// carries no facet address.
func (p *Planner) PlanRemoval(selectors []diamond.Selector) diamond.FacetCut {
	return diamond.FacetCut{
		Action:       diamond.ActionRemove,
		FacetAddress: diamond.ZeroAddress,
		Selectors:    dedupe(selectors),
	}
}

// PlanAdd returns an unconditional Add of every facet's full catalog without
// reading the table. It is used for tables whose loupe is not reachable yet.
func (p *Planner) PlanAdd(facets []diamond.Facet) ([]diamond.FacetCut, error) {
	candidates, _, err := normalize(facets)
	if err != nil {
		return nil, err
	}
	plan := make([]diamond.FacetCut, 0, len(candidates))
	for _, f := range candidates {
		if len(f.Selectors) == 0 {
			continue
		}
		plan = append(plan, diamond.FacetCut{
			Action:       diamond.ActionAdd,
			FacetAddress: f.Address,
			Selectors:    f.Selectors,
			Facet:        f.Name,
		})
	}
	return plan, nil
}

// PlanReplace returns one Replace action covering the facet's full catalog.
func (p *Planner) PlanReplace(f diamond.Facet) (diamond.FacetCut, error) {
	candidates, _, err := normalize([]diamond.Facet{f})
	if err != nil {
		return diamond.FacetCut{}, err
	}
	c := candidates[0]
	return diamond.FacetCut{
		Action:       diamond.ActionReplace,
		FacetAddress: c.Address,
		Selectors:    c.Selectors,
		Facet:        c.Name,
	}, nil
}

// normalize validates candidates, drops repeated selectors within a facet and
// rejects selectors claimed by two facets. It returns the flat selector list
// in candidate order.
func normalize(facets []diamond.Facet) ([]diamond.Facet, []diamond.Selector, error) {
	owner := make(map[diamond.Selector]string)
	out := make([]diamond.Facet, 0, len(facets))
	var all []diamond.Selector

	for _, f := range facets {
		if !f.Address.Valid() || f.Address.IsZero() {
			return nil, nil, fmt.Errorf("%w: %q has address %q", ErrInvalidFacet, f.Name, f.Address)
		}
		sels := dedupe(f.Selectors)
		for _, s := range sels {
			if other, taken := owner[s]; taken {
				return nil, nil, fmt.Errorf("%w: %s exposed by %q and %q", ErrSelectorConflict, s, other, f.Name)
			}
			owner[s] = f.Name
		}
		f.Selectors = sels
		out = append(out, f)
		all = append(all, sels...)
	}
	return out, all, nil
}

func dedupe(sels []diamond.Selector) []diamond.Selector {
	seen := make(map[diamond.Selector]struct{}, len(sels))
	out := make([]diamond.Selector, 0, len(sels))
	for _, s := range sels {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
