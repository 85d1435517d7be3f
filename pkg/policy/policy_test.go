package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martin-labs/diamondctl/pkg/cut"
	"github.com/martin-labs/diamondctl/pkg/diamond"
)

const facetA diamond.Address = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

var batch = []diamond.FacetCut{
	{Action: diamond.ActionReplace, FacetAddress: facetA, Selectors: []diamond.Selector{{0xa9, 0x05, 0x9c, 0xbb}}, Facet: "DepositFacet"},
	{Action: diamond.ActionAdd, FacetAddress: facetA, Selectors: []diamond.Selector{{1}, {2}}, Facet: "DepositFacet"},
	{Action: diamond.ActionRemove, FacetAddress: diamond.ZeroAddress, Selectors: []diamond.Selector{{3}}},
}

func TestGuard(t *testing.T) {
	live := Target{Network: "sepolia", Environment: "production", Live: true}
	local := Target{Network: "local", Environment: "staging"}

	tests := []struct {
		name   string
		expr   string
		target Target
		allow  bool
	}{
		{"empty allows", "", live, true},
		{"no removals on live", "!live || removes == 0", live, false},
		{"removals fine locally", "!live || removes == 0", local, true},
		{"counts", "adds == 2 && replaces == 1 && removes == 1", live, true},
		{"selector membership", "'0xa9059cbb' in selectors", live, true},
		{"facet allowlist", "facets.all(f, f in ['DepositFacet', 'BorrowFacet'])", live, true},
		{"facet denylist", "!('DepositFacet' in facets)", live, false},
		{"network", "network == 'sepolia' && environment == 'production'", live, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := New(tt.expr, tt.target)
			require.NoError(t, err)
			err = g.Check(context.Background(), batch)
			if tt.allow {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, cut.ErrPolicyDenied)
			}
		})
	}
}

func TestNew_Rejects(t *testing.T) {
	_, err := New("adds +", Target{})
	assert.Error(t, err)

	_, err = New("adds + 1", Target{})
	assert.Error(t, err, "non-bool expressions are rejected")

	_, err = New("unknown == 1", Target{})
	assert.Error(t, err)
}
