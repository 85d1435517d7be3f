package cut_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martin-labs/diamondctl/pkg/channel"
	"github.com/martin-labs/diamondctl/pkg/cut"
	"github.com/martin-labs/diamondctl/pkg/diamond"
	"github.com/martin-labs/diamondctl/pkg/selector"
	"github.com/martin-labs/diamondctl/pkg/simchain"
)

type fixture struct {
	chain   *simchain.Chain
	diamond diamond.Address
	svc     *cut.Service
}

func deploy(t *testing.T, c *simchain.Chain, name string) diamond.Address {
	t.Helper()
	ctx := context.Background()
	h, err := c.Submit(ctx, channel.DeployIntent{Name: name})
	require.NoError(t, err)
	r, err := c.Await(ctx, h)
	require.NoError(t, err)
	return r.ContractAddress
}

// newFixture returns a diamond with its cut and loupe facets bound.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	c := simchain.New()
	cutFacet := deploy(t, c, "DiamondCutFacet")
	h, err := c.Submit(ctx, channel.DiamondIntent{
		Owner:        c.Sender(),
		CutFacet:     cutFacet,
		CutSelectors: []diamond.Selector{selector.MustOf("diamondCut((address,uint8,bytes4[])[],address,bytes)")},
	})
	require.NoError(t, err)
	r, err := c.Await(ctx, h)
	require.NoError(t, err)
	d := r.ContractAddress

	svc := cut.NewService(cut.NewPlanner(c.Loupe(d)), cut.NewExecutor(c, d), nil)

	loupeFacet := diamond.Facet{
		Name:    "DiamondLoupeFacet",
		Address: deploy(t, c, "DiamondLoupeFacet"),
		Selectors: []diamond.Selector{
			selector.MustOf("facetAddress(bytes4)"),
			selector.MustOf("facets()"),
		},
	}
	_, err = svc.AddFacets(ctx, []diamond.Facet{loupeFacet}, diamond.ZeroAddress, nil)
	require.NoError(t, err)

	return &fixture{chain: c, diamond: d, svc: svc}
}

func (f *fixture) facet(t *testing.T, name string, sigs ...string) diamond.Facet {
	sels := make([]diamond.Selector, len(sigs))
	for i, s := range sigs {
		sels[i] = selector.MustOf(s)
	}
	return diamond.Facet{Name: name, Address: deploy(t, f.chain, name), Selectors: sels}
}

func injective(t *testing.T, table map[diamond.Selector]diamond.Address) {
	t.Helper()
	for s, a := range table {
		assert.True(t, a.Valid(), "selector %s bound to %q", s, a)
		assert.False(t, a.IsZero(), "selector %s bound to zero address", s)
	}
}

func TestPlanApplyPlan_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	deposit := f.facet(t, "DepositFacet", "deposit(address,uint256)", "getDeposit(address)")
	borrow := f.facet(t, "BorrowFacet", "borrow(address,uint256)")

	p := f.svc.Planner()
	first, err := p.Plan(ctx, []diamond.Facet{deposit, borrow})
	require.NoError(t, err)
	second, err := p.Plan(ctx, []diamond.Facet{deposit, borrow})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	res, err := f.svc.PlanAndCutIn(ctx, []diamond.Facet{deposit, borrow})
	require.NoError(t, err)
	assert.False(t, res.Noop)
	assert.Len(t, res.Touched, 2)
	injective(t, f.chain.Bindings(f.diamond))

	after, err := p.Plan(ctx, []diamond.Facet{deposit, borrow})
	require.NoError(t, err)
	assert.Empty(t, after)

	again, err := f.svc.PlanAndCutIn(ctx, []diamond.Facet{deposit, borrow})
	require.NoError(t, err)
	assert.True(t, again.Noop)
}

func TestRedeploy_ReplacesAndAdds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v1 := f.facet(t, "DepositFacet", "deposit(address,uint256)")
	_, err := f.svc.PlanAndCutIn(ctx, []diamond.Facet{v1})
	require.NoError(t, err)

	v2 := f.facet(t, "DepositFacet", "deposit(address,uint256)", "depositAll(address)")
	plan, err := f.svc.Planner().Plan(ctx, []diamond.Facet{v2})
	require.NoError(t, err)
	require.Len(t, plan, 2)
	assert.Equal(t, diamond.ActionReplace, plan[0].Action)
	assert.Equal(t, diamond.ActionAdd, plan[1].Action)

	_, err = f.svc.PlanAndCutIn(ctx, []diamond.Facet{v2})
	require.NoError(t, err)

	table := f.chain.Bindings(f.diamond)
	assert.True(t, table[selector.MustOf("deposit(address,uint256)")].Equal(v2.Address))
	assert.True(t, table[selector.MustOf("depositAll(address)")].Equal(v2.Address))
	injective(t, table)
}

func TestApply_RevertLeavesPlanUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	deposit := f.facet(t, "DepositFacet", "deposit(address,uint256)")
	ghost := diamond.Facet{
		Name:      "GhostFacet",
		Address:   "0x9999999999999999999999999999999999999999",
		Selectors: []diamond.Selector{selector.MustOf("haunt()")},
	}

	before := f.chain.Bindings(f.diamond)
	pending, err := f.svc.Planner().Plan(ctx, []diamond.Facet{deposit, ghost})
	require.NoError(t, err)

	// The ghost facet has no code, so the whole batch reverts.
	_, err = f.svc.PlanAndCutIn(ctx, []diamond.Facet{deposit, ghost})
	require.ErrorIs(t, err, cut.ErrExecutionReverted)

	assert.Equal(t, before, f.chain.Bindings(f.diamond))
	still, err := f.svc.Planner().Plan(ctx, []diamond.Facet{deposit, ghost})
	require.NoError(t, err)
	assert.Equal(t, pending, still)
}

func TestPlanAndRemove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	uiData := f.facet(t, "UIDataFacet", "getUserData(address)", "getTokens()")
	_, err := f.svc.PlanAndCutIn(ctx, []diamond.Facet{uiData})
	require.NoError(t, err)

	res, err := f.svc.PlanAndRemove(ctx, []diamond.Selector{selector.MustOf("getTokens()")})
	require.NoError(t, err)
	assert.Empty(t, res.Touched)

	table := f.chain.Bindings(f.diamond)
	_, bound := table[selector.MustOf("getTokens()")]
	assert.False(t, bound)
	assert.True(t, table[selector.MustOf("getUserData(address)")].Equal(uiData.Address))

	// Removing it again reverts: the selector is no longer bound.
	_, err = f.svc.PlanAndRemove(ctx, []diamond.Selector{selector.MustOf("getTokens()")})
	assert.ErrorIs(t, err, cut.ErrExecutionReverted)
}

func TestReplaceFacet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v1 := f.facet(t, "OwnerFacet", "setToken(address)")
	_, err := f.svc.PlanAndCutIn(ctx, []diamond.Facet{v1})
	require.NoError(t, err)

	v2 := f.facet(t, "OwnerFacet", "setToken(address)")
	res, err := f.svc.ReplaceFacet(ctx, v2, diamond.ZeroAddress, nil)
	require.NoError(t, err)
	assert.Equal(t, []cut.Touched{{Name: "OwnerFacet", Address: v2.Address}}, res.Touched)
}
