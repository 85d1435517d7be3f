package simchain

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/martin-labs/diamondctl/pkg/diamond"
	"github.com/martin-labs/diamondctl/pkg/loupe"
	"github.com/martin-labs/diamondctl/pkg/selector"
)

var (
	selFacetAddress = selector.MustOf("facetAddress(bytes4)")
	selFacets       = selector.MustOf("facets()")
)

// Diamond is one dispatch table hosted by the chain.
type Diamond struct {
	owner diamond.Address
	table map[diamond.Selector]diamond.Address
}

func newDiamond(owner diamond.Address) *Diamond {
	return &Diamond{owner: owner, table: make(map[diamond.Selector]diamond.Address)}
}

// applied returns the table that results from cuts, or the first violation.
// The receiver is never modified.
func (d *Diamond) applied(cuts []diamond.FacetCut, hasCode func(diamond.Address) bool) (map[diamond.Selector]diamond.Address, error) {
	next := make(map[diamond.Selector]diamond.Address, len(d.table))
	for s, a := range d.table {
		next[s] = a
	}

	for _, c := range cuts {
		if len(c.Selectors) == 0 {
			return nil, errors.New("LibDiamondCut: No selectors in facet to cut")
		}
		switch c.Action {
		case diamond.ActionAdd:
			if c.FacetAddress.IsZero() {
				return nil, errors.New("LibDiamondCut: Add facet can't be address(0)")
			}
			if !hasCode(c.FacetAddress) {
				return nil, errors.New("LibDiamondCut: New facet has no code")
			}
			for _, s := range c.Selectors {
				if cur, ok := next[s]; ok && !cur.IsZero() {
					return nil, fmt.Errorf("LibDiamondCut: Can't add function that already exists: %s", s)
				}
				next[s] = c.FacetAddress
			}
		case diamond.ActionReplace:
			if c.FacetAddress.IsZero() {
				return nil, errors.New("LibDiamondCut: Replace facet can't be address(0)")
			}
			if !hasCode(c.FacetAddress) {
				return nil, errors.New("LibDiamondCut: New facet has no code")
			}
			for _, s := range c.Selectors {
				cur, ok := next[s]
				if !ok || cur.IsZero() {
					return nil, fmt.Errorf("LibDiamondCut: Can't replace function that doesn't exist: %s", s)
				}
				if cur.Equal(c.FacetAddress) {
					return nil, fmt.Errorf("LibDiamondCut: Can't replace function with same function: %s", s)
				}
				next[s] = c.FacetAddress
			}
		case diamond.ActionRemove:
			if !c.FacetAddress.IsZero() {
				return nil, errors.New("LibDiamondCut: Remove facet address must be address(0)")
			}
			for _, s := range c.Selectors {
				if cur, ok := next[s]; !ok || cur.IsZero() {
					return nil, fmt.Errorf("LibDiamondCut: Can't remove function that doesn't exist: %s", s)
				}
				delete(next, s)
			}
		default:
			return nil, errors.New("LibDiamondCut: Incorrect FacetCutAction")
		}
	}
	return next, nil
}

// Bindings returns a copy of the table of the diamond at addr.
func (c *Chain) Bindings(addr diamond.Address) map[diamond.Selector]diamond.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.diamonds[addr.Lower()]
	if !ok {
		return nil
	}
	out := make(map[diamond.Selector]diamond.Address, len(d.table))
	for s, a := range d.table {
		out[s] = a
	}
	return out
}

// Loupe is the read side of one diamond. Queries go through the diamond's own
// dispatch, so they fail until the loupe facet is cut in.
type Loupe struct {
	chain   *Chain
	diamond diamond.Address
}

// Loupe returns the reader for the diamond at addr.
func (c *Chain) Loupe(addr diamond.Address) *Loupe {
	return &Loupe{chain: c, diamond: addr}
}

// FacetAddress implements loupe.Reader.
func (l *Loupe) FacetAddress(_ context.Context, sel diamond.Selector) (diamond.Address, error) {
	l.chain.mu.Lock()
	defer l.chain.mu.Unlock()

	d, err := l.dispatch(selFacetAddress)
	if err != nil {
		return "", err
	}
	addr, ok := d.table[sel]
	if !ok {
		return diamond.ZeroAddress, nil
	}
	return addr, nil
}

// Facets implements loupe.Inspector.
func (l *Loupe) Facets(_ context.Context) ([]loupe.FacetInfo, error) {
	l.chain.mu.Lock()
	defer l.chain.mu.Unlock()

	d, err := l.dispatch(selFacets)
	if err != nil {
		return nil, err
	}
	byFacet := make(map[diamond.Address]int)
	var out []loupe.FacetInfo
	for s, a := range d.table {
		key := a.Lower()
		i, ok := byFacet[key]
		if !ok {
			i = len(out)
			byFacet[key] = i
			out = append(out, loupe.FacetInfo{Address: a})
		}
		out[i].Selectors = append(out[i].Selectors, s)
	}
	for i := range out {
		diamond.SortSelectors(out[i].Selectors)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.Lower() < out[j].Address.Lower() })
	return out, nil
}

func (l *Loupe) dispatch(entry diamond.Selector) (*Diamond, error) {
	d, ok := l.chain.diamonds[l.diamond.Lower()]
	if !ok {
		return nil, fmt.Errorf("simchain: no diamond at %s", l.diamond)
	}
	if _, bound := d.table[entry]; !bound {
		return nil, fmt.Errorf("%w: Diamond: Function does not exist", loupe.ErrLoupeUnavailable)
	}
	return d, nil
}
