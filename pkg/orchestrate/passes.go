package orchestrate

import (
	"context"
	"fmt"
	"time"

	"github.com/martin-labs/diamondctl/pkg/channel"
	"github.com/martin-labs/diamondctl/pkg/cut"
	"github.com/martin-labs/diamondctl/pkg/diamond"
	"github.com/martin-labs/diamondctl/pkg/ledger"
	"github.com/martin-labs/diamondctl/pkg/selector"
)

// Facets builds cut candidates for already deployed modules from their
// recorded addresses and compiled interfaces.
func (d *Driver) Facets(ctx context.Context, names []string) ([]diamond.Facet, error) {
	out := make([]diamond.Facet, 0, len(names))
	for _, name := range names {
		addr, err := d.deps.Ledger.Address(d.settings.Context, name)
		if err != nil {
			return nil, fmt.Errorf("facet %s: %w", name, err)
		}
		m, err := d.load(name)
		if err != nil {
			return nil, err
		}
		f, err := d.facet(Deployed{Name: name, Address: addr, Version: m.version})
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// Plan computes the batch PlanAndCutIn would submit without submitting it.
func (d *Driver) Plan(ctx context.Context, facets []diamond.Facet) ([]diamond.FacetCut, error) {
	addr, err := d.diamondAddress()
	if err != nil {
		return nil, err
	}
	return cut.NewPlanner(d.deps.Loupe(addr)).Plan(ctx, facets)
}

// PlanAndCutIn reconciles the recorded diamond with facets and records
// them once the batch is confirmed.
func (d *Driver) PlanAndCutIn(ctx context.Context, facets []diamond.Facet) (cut.Result, error) {
	var res cut.Result
	err := d.withLock(ctx, "diamond.cut_in", func(ctx context.Context, _ string) error {
		addr, err := d.diamondAddress()
		if err != nil {
			return err
		}
		res, err = d.cutIn(ctx, d.service(addr), facets)
		return err
	})
	return res, err
}

// PlanAndRemove unbinds the selectors of signatures from the recorded
// diamond.
func (d *Driver) PlanAndRemove(ctx context.Context, signatures []string) (cut.Result, error) {
	sels := make([]diamond.Selector, 0, len(signatures))
	for _, sig := range signatures {
		s, err := selector.Of(sig)
		if err != nil {
			return cut.Result{}, err
		}
		sels = append(sels, s)
	}
	var res cut.Result
	err := d.withLock(ctx, "diamond.remove", func(ctx context.Context, _ string) error {
		addr, err := d.diamondAddress()
		if err != nil {
			return err
		}
		res, err = d.service(addr).PlanAndRemove(ctx, sels)
		return err
	})
	return res, err
}

// ReplaceFacet rebinds every selector in the catalog of the named module to
// its recorded address without consulting the table. The submission reverts
// if any selector is unbound or already points at that address.
func (d *Driver) ReplaceFacet(ctx context.Context, name string) (cut.Result, error) {
	var res cut.Result
	err := d.withLock(ctx, "diamond.replace", func(ctx context.Context, _ string) error {
		addr, err := d.diamondAddress()
		if err != nil {
			return err
		}
		facets, err := d.Facets(ctx, []string{name})
		if err != nil {
			return err
		}
		res, err = d.service(addr).ReplaceFacet(ctx, facets[0], diamond.ZeroAddress, nil)
		if err != nil {
			return err
		}
		return d.recordTouched(ctx, facets, res)
	})
	return res, err
}

// Deployment is a module deployed outside a pass.
type Deployment struct {
	Name            string
	Address         diamond.Address
	Timestamp       time.Time
	TxHash          string
	ConstructorArgs string
}

// Record verifies and records a deployment made outside a pass.
func (d *Driver) Record(ctx context.Context, dep Deployment) (Deployed, error) {
	m, err := d.load(dep.Name)
	if err != nil {
		return Deployed{}, err
	}
	var out Deployed
	err = d.withLock(ctx, "diamond.record", func(ctx context.Context, _ string) error {
		rec, err := d.finish(ctx, m, channel.Receipt{
			ID:              dep.TxHash,
			Success:         true,
			ContractAddress: dep.Address,
			Timestamp:       dep.Timestamp,
		}, dep.ConstructorArgs)
		if err != nil {
			return err
		}
		out = rec
		return nil
	})
	return out, err
}

// FundResult is one confirmed transfer to the diamond.
type FundResult struct {
	Token  string
	Record ledger.FundRecord
}
