//go:build property
// +build property

package cut_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/martin-labs/diamondctl/pkg/diamond"
	"github.com/martin-labs/diamondctl/pkg/selector"
)

const poolSize = 12

// assign turns an owner index per pool signature into candidate facets.
// Index 0 leaves the signature out.
func assign(t *testing.T, f *fixture, owners []int, addrs []diamond.Address) []diamond.Facet {
	byOwner := make(map[int]*diamond.Facet)
	var order []int
	for i, o := range owners {
		if i >= poolSize || o == 0 {
			continue
		}
		fc, ok := byOwner[o]
		if !ok {
			fc = &diamond.Facet{Name: fmt.Sprintf("Facet%d", o), Address: addrs[o-1]}
			byOwner[o] = fc
			order = append(order, o)
		}
		fc.Selectors = append(fc.Selectors, selector.MustOf(fmt.Sprintf("f%d()", i)))
	}
	out := make([]diamond.Facet, 0, len(order))
	for _, o := range order {
		out = append(out, *byOwner[o])
	}
	return out
}

// TestReconcileConverges checks that after any two successive passes every
// requested selector is bound to its candidate and a further plan is empty.
func TestReconcileConverges(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	owners := gen.SliceOfN(poolSize, gen.IntRange(0, 3))

	properties.Property("plan after apply is empty and bindings are injective", prop.ForAll(
		func(first, second []int) bool {
			ctx := context.Background()
			f := newFixture(t)
			v1 := []diamond.Address{
				deploy(t, f.chain, "Facet1"), deploy(t, f.chain, "Facet2"), deploy(t, f.chain, "Facet3"),
			}
			v2 := []diamond.Address{
				deploy(t, f.chain, "Facet1"), v1[1], deploy(t, f.chain, "Facet3"),
			}

			if _, err := f.svc.PlanAndCutIn(ctx, assign(t, f, first, v1)); err != nil {
				return false
			}
			candidates := assign(t, f, second, v2)
			if _, err := f.svc.PlanAndCutIn(ctx, candidates); err != nil {
				return false
			}

			pending, err := f.svc.Planner().Plan(ctx, candidates)
			if err != nil || len(pending) != 0 {
				return false
			}
			table := f.chain.Bindings(f.diamond)
			for _, c := range candidates {
				for _, s := range c.Selectors {
					if !table[s].Equal(c.Address) {
						return false
					}
				}
			}
			for _, a := range table {
				if a.IsZero() || !a.Valid() {
					return false
				}
			}
			return true
		},
		owners,
		owners,
	))

	properties.TestingRun(t)
}

// TestPlanDeterministic checks that planning twice against an unchanged table
// yields the same actions.
func TestPlanDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("plan is a function of table and candidates", prop.ForAll(
		func(owners []int) bool {
			ctx := context.Background()
			f := newFixture(t)
			addrs := []diamond.Address{
				deploy(t, f.chain, "Facet1"), deploy(t, f.chain, "Facet2"), deploy(t, f.chain, "Facet3"),
			}
			candidates := assign(t, f, owners, addrs)
			a, errA := f.svc.Planner().Plan(ctx, candidates)
			b, errB := f.svc.Planner().Plan(ctx, candidates)
			if errA != nil || errB != nil {
				return false
			}
			return fmt.Sprint(a) == fmt.Sprint(b)
		},
		gen.SliceOfN(poolSize, gen.IntRange(0, 3)),
	))

	properties.TestingRun(t)
}
