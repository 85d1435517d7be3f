package cut

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martin-labs/diamondctl/pkg/channel"
	"github.com/martin-labs/diamondctl/pkg/diamond"
	"github.com/martin-labs/diamondctl/pkg/loupe"
)

var (
	selA  = diamond.Selector{0x0a, 0, 0, 0}
	selB  = diamond.Selector{0x0b, 0, 0, 0}
	selC  = diamond.Selector{0x0c, 0, 0, 0}
	addrX = diamond.Address("0x1111111111111111111111111111111111111111")
	addrY = diamond.Address("0x2222222222222222222222222222222222222222")
)

type tableReader struct {
	table map[diamond.Selector]diamond.Address
	reads int
}

func newTable() *tableReader {
	return &tableReader{table: make(map[diamond.Selector]diamond.Address)}
}

func (r *tableReader) FacetAddress(_ context.Context, s diamond.Selector) (diamond.Address, error) {
	r.reads++
	if a, ok := r.table[s]; ok {
		return a, nil
	}
	return diamond.ZeroAddress, nil
}

// recordingChannel counts submissions and answers with a fixed outcome.
type recordingChannel struct {
	submitted []channel.CutIntent
	success   bool
	reason    string
}

func (c *recordingChannel) Submit(_ context.Context, in channel.Intent) (channel.Handle, error) {
	c.submitted = append(c.submitted, in.(channel.CutIntent))
	return channel.Handle{ID: "0xop1"}, nil
}

func (c *recordingChannel) Await(_ context.Context, h channel.Handle) (channel.Receipt, error) {
	return channel.Receipt{ID: h.ID, Success: c.success, Reason: c.reason, Block: 7}, nil
}

func TestPlan_EmptyTableAddsEverything(t *testing.T) {
	p := NewPlanner(newTable())

	plan, err := p.Plan(context.Background(), []diamond.Facet{
		{Name: "F1", Address: addrX, Selectors: []diamond.Selector{selA, selB}},
	})
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, diamond.ActionAdd, plan[0].Action)
	assert.Equal(t, addrX, plan[0].FacetAddress)
	assert.ElementsMatch(t, []diamond.Selector{selA, selB}, plan[0].Selectors)
	assert.Equal(t, "F1", plan[0].Facet)
}

func TestPlan_ReplaceBeforeAdd(t *testing.T) {
	r := newTable()
	r.table[selA] = addrX
	p := NewPlanner(r)

	plan, err := p.Plan(context.Background(), []diamond.Facet{
		{Name: "F1", Address: addrY, Selectors: []diamond.Selector{selA, selB}},
	})
	require.NoError(t, err)
	require.Len(t, plan, 2)

	assert.Equal(t, diamond.ActionReplace, plan[0].Action)
	assert.Equal(t, addrY, plan[0].FacetAddress)
	assert.Equal(t, []diamond.Selector{selA}, plan[0].Selectors)

	assert.Equal(t, diamond.ActionAdd, plan[1].Action)
	assert.Equal(t, addrY, plan[1].FacetAddress)
	assert.Equal(t, []diamond.Selector{selB}, plan[1].Selectors)
}

func TestPlan_SkipsSelectorsAlreadyCurrent(t *testing.T) {
	r := newTable()
	// Same address in a different case is still current.
	r.table[selA] = diamond.Address("0xABCDEFABCDEFABCDEFABCDEFABCDEFABCDEFABCD")
	p := NewPlanner(r)

	plan, err := p.Plan(context.Background(), []diamond.Facet{
		{Name: "F1", Address: "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd", Selectors: []diamond.Selector{selA}},
	})
	require.NoError(t, err)
	assert.Empty(t, plan)
}

func TestPlan_ReadsEverySelectorOnce(t *testing.T) {
	r := newTable()
	p := NewPlanner(r)

	_, err := p.Plan(context.Background(), []diamond.Facet{
		{Name: "F1", Address: addrX, Selectors: []diamond.Selector{selA, selB, selA}},
		{Name: "F2", Address: addrY, Selectors: []diamond.Selector{selC}},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, r.reads)
}

func TestPlan_Rejections(t *testing.T) {
	p := NewPlanner(newTable())

	t.Run("selector claimed twice", func(t *testing.T) {
		_, err := p.Plan(context.Background(), []diamond.Facet{
			{Name: "F1", Address: addrX, Selectors: []diamond.Selector{selA}},
			{Name: "F2", Address: addrY, Selectors: []diamond.Selector{selA}},
		})
		assert.ErrorIs(t, err, ErrSelectorConflict)
	})

	t.Run("zero address", func(t *testing.T) {
		_, err := p.Plan(context.Background(), []diamond.Facet{
			{Name: "F1", Address: diamond.ZeroAddress, Selectors: []diamond.Selector{selA}},
		})
		assert.ErrorIs(t, err, ErrInvalidFacet)
	})

	t.Run("malformed binding", func(t *testing.T) {
		r := newTable()
		r.table[selA] = "0xnothex"
		_, err := NewPlanner(r).Plan(context.Background(), []diamond.Facet{
			{Name: "F1", Address: addrX, Selectors: []diamond.Selector{selA}},
		})
		assert.ErrorIs(t, err, ErrInconsistentDispatchState)
	})
}

func TestPlan_LoupeUnavailable(t *testing.T) {
	p := NewPlanner(readerFunc(func(context.Context, diamond.Selector) (diamond.Address, error) {
		return "", loupe.ErrLoupeUnavailable
	}))
	_, err := p.Plan(context.Background(), []diamond.Facet{{Name: "F", Address: addrX, Selectors: []diamond.Selector{selA}}})
	assert.ErrorIs(t, err, loupe.ErrLoupeUnavailable)
}

type readerFunc func(context.Context, diamond.Selector) (diamond.Address, error)

func (f readerFunc) FacetAddress(ctx context.Context, s diamond.Selector) (diamond.Address, error) {
	return f(ctx, s)
}

func TestPlanRemoval(t *testing.T) {
	p := NewPlanner(newTable())
	action := p.PlanRemoval([]diamond.Selector{selA, selB, selA})

	assert.Equal(t, diamond.ActionRemove, action.Action)
	assert.True(t, action.FacetAddress.IsZero())
	assert.Equal(t, []diamond.Selector{selA, selB}, action.Selectors)
	require.NoError(t, action.Validate())
}

func TestPlanAddAndReplace(t *testing.T) {
	p := NewPlanner(newTable())

	adds, err := p.PlanAdd([]diamond.Facet{
		{Name: "Loupe", Address: addrX, Selectors: []diamond.Selector{selA}},
		{Name: "Empty", Address: addrY},
	})
	require.NoError(t, err)
	require.Len(t, adds, 1)
	assert.Equal(t, diamond.ActionAdd, adds[0].Action)

	rep, err := p.PlanReplace(diamond.Facet{Name: "F", Address: addrY, Selectors: []diamond.Selector{selB, selC}})
	require.NoError(t, err)
	assert.Equal(t, diamond.ActionReplace, rep.Action)
	assert.Len(t, rep.Selectors, 2)
}

func TestApply_EmptyIsNoop(t *testing.T) {
	ch := &recordingChannel{success: true}
	e := NewExecutor(ch, addrX)

	res, err := e.Apply(context.Background(), nil, diamond.ZeroAddress, nil)
	require.NoError(t, err)
	assert.True(t, res.Noop)
	assert.Empty(t, ch.submitted)
}

func TestApply_SingleSubmission(t *testing.T) {
	ch := &recordingChannel{success: true}
	e := NewExecutor(ch, addrX)

	actions := []diamond.FacetCut{
		{Action: diamond.ActionReplace, FacetAddress: addrY, Selectors: []diamond.Selector{selA}, Facet: "F1"},
		{Action: diamond.ActionAdd, FacetAddress: addrY, Selectors: []diamond.Selector{selB}, Facet: "F1"},
		{Action: diamond.ActionRemove, FacetAddress: diamond.ZeroAddress, Selectors: []diamond.Selector{selC}},
	}
	res, err := e.Apply(context.Background(), actions, diamond.ZeroAddress, nil)
	require.NoError(t, err)

	require.Len(t, ch.submitted, 1)
	assert.Equal(t, actions, ch.submitted[0].Cuts)
	assert.Equal(t, addrX, ch.submitted[0].Diamond)
	assert.Equal(t, "0xop1", res.OperationID)
	assert.Equal(t, []Touched{{Name: "F1", Address: addrY}}, res.Touched)
}

func TestApply_Reverted(t *testing.T) {
	ch := &recordingChannel{success: false, reason: "LibDiamondCut: New facet has no code"}
	e := NewExecutor(ch, addrX)

	_, err := e.Apply(context.Background(), []diamond.FacetCut{
		{Action: diamond.ActionAdd, FacetAddress: addrY, Selectors: []diamond.Selector{selA}},
	}, diamond.ZeroAddress, nil)

	require.ErrorIs(t, err, ErrExecutionReverted)
	var reverted *ExecutionRevertedError
	require.True(t, errors.As(err, &reverted))
	assert.Equal(t, "0xop1", reverted.OperationID)
}

func TestApply_RejectsInvalidBatchBeforeSubmitting(t *testing.T) {
	ch := &recordingChannel{success: true}
	e := NewExecutor(ch, addrX)

	_, err := e.Apply(context.Background(), []diamond.FacetCut{
		{Action: diamond.ActionAdd, FacetAddress: addrY, Selectors: []diamond.Selector{selA}},
		{Action: diamond.ActionRemove, FacetAddress: diamond.ZeroAddress, Selectors: []diamond.Selector{selA}},
	}, diamond.ZeroAddress, nil)
	assert.ErrorIs(t, err, diamond.ErrInvalidCut)

	_, err = e.Apply(context.Background(), []diamond.FacetCut{
		{Action: diamond.ActionRemove, FacetAddress: addrY, Selectors: []diamond.Selector{selB}},
	}, diamond.ZeroAddress, nil)
	assert.ErrorIs(t, err, diamond.ErrInvalidCut)

	_, err = e.Apply(context.Background(), []diamond.FacetCut{
		{Action: diamond.ActionAdd, FacetAddress: addrY, Selectors: []diamond.Selector{selB}},
	}, diamond.ZeroAddress, []byte{1})
	assert.ErrorIs(t, err, diamond.ErrInvalidCut)

	assert.Empty(t, ch.submitted)
}

type denyAll struct{}

func (denyAll) Check(context.Context, []diamond.FacetCut) error { return ErrPolicyDenied }

func TestApply_GuardBlocksSubmission(t *testing.T) {
	ch := &recordingChannel{success: true}
	e := NewExecutor(ch, addrX, WithGuard(denyAll{}))

	_, err := e.Apply(context.Background(), []diamond.FacetCut{
		{Action: diamond.ActionAdd, FacetAddress: addrY, Selectors: []diamond.Selector{selA}},
	}, diamond.ZeroAddress, nil)
	assert.ErrorIs(t, err, ErrPolicyDenied)
	assert.Empty(t, ch.submitted)
}
