package orchestrate

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/martin-labs/diamondctl/pkg/artifact"
	"github.com/martin-labs/diamondctl/pkg/channel"
	"github.com/martin-labs/diamondctl/pkg/cut"
	"github.com/martin-labs/diamondctl/pkg/diamond"
	"github.com/martin-labs/diamondctl/pkg/ledger"
	"github.com/martin-labs/diamondctl/pkg/loupe"
	"github.com/martin-labs/diamondctl/pkg/selector"
	"github.com/martin-labs/diamondctl/pkg/verify"
)

// EncodeArgs renders constructor arguments as the hex of their canonical
// JSON. Nil encodes as the empty string.
func EncodeArgs(args any) (string, error) {
	if args == nil {
		return "", nil
	}
	b, err := ledger.Canonical(args)
	if err != nil {
		return "", fmt.Errorf("encode constructor args: %w", err)
	}
	return "0x" + hex.EncodeToString(b), nil
}

// module is a resolved artifact ready to deploy.
type module struct {
	name     string
	artifact *artifact.Artifact
	version  string
	code     []byte
}

// load resolves the artifact and version tag of name. The version is
// resolved before anything is submitted so a module is never deployed
// without a record.
func (d *Driver) load(name string) (*module, error) {
	a, err := d.deps.Modules.Read(name)
	if err != nil {
		return nil, err
	}
	version, err := d.deps.Modules.Version(a)
	if err != nil {
		return nil, err
	}
	code, err := a.Code()
	if err != nil {
		return nil, fmt.Errorf("%s: bytecode: %w", name, err)
	}
	return &module{name: name, artifact: a, version: version, code: code}, nil
}

// submit sends intent and waits for a successful receipt.
func (d *Driver) submit(ctx context.Context, what string, intent channel.Intent) (channel.Receipt, error) {
	h, err := d.deps.Channel.Submit(ctx, intent)
	if err != nil {
		return channel.Receipt{}, fmt.Errorf("submit %s: %w", what, err)
	}
	r, err := d.deps.Channel.Await(ctx, h)
	if err != nil {
		return channel.Receipt{}, fmt.Errorf("await %s: %w", what, err)
	}
	if !r.Success {
		return channel.Receipt{}, fmt.Errorf("%w: %s (%s): %s", ErrOperationFailed, what, r.ID, r.Reason)
	}
	return r, nil
}

// finish verifies and records a confirmed deployment.
func (d *Driver) finish(ctx context.Context, m *module, r channel.Receipt, args string) (Deployed, error) {
	addr := r.ContractAddress
	verified := d.verify(ctx, m, addr, args)

	ts := r.Timestamp
	if ts.IsZero() {
		ts = d.clock()
	}
	rec := ledger.DeploymentRecord{
		Address:         addr,
		OptimizerRuns:   strconv.Itoa(d.settings.Manifest.Compiler.OptimizerRuns),
		Timestamp:       ledger.FormatTimestamp(ts),
		ConstructorArgs: args,
		Verified:        ledger.Verified(verified),
	}
	if err := d.deps.Ledger.RecordDeployment(ctx, d.settings.Context, m.name, m.version, rec); err != nil {
		return Deployed{}, err
	}
	return Deployed{
		Name:     m.name,
		Address:  addr,
		Version:  m.version,
		Verified: verified,
		TxHash:   r.ID,
	}, nil
}

func (d *Driver) verify(ctx context.Context, m *module, addr diamond.Address, args string) bool {
	src, err := d.deps.Modules.Source(m.artifact)
	if err != nil {
		d.logger.WarnContext(ctx, "verification skipped", "module", m.name, "error", err)
		return false
	}
	return d.deps.Verifier.Verify(ctx, verify.Request{
		Name:            m.name,
		Address:         addr,
		SourceName:      m.artifact.SourceName,
		Source:          src,
		CompilerVersion: d.settings.Manifest.Compiler.Version,
		OptimizerRuns:   d.settings.Manifest.Compiler.OptimizerRuns,
		ConstructorArgs: args,
	})
}

// deployModule deploys, verifies and records a plain module.
func (d *Driver) deployModule(ctx context.Context, name string) (Deployed, error) {
	m, err := d.load(name)
	if err != nil {
		return Deployed{}, err
	}
	r, err := d.submit(ctx, "deploy "+name, channel.DeployIntent{Name: name, Bytecode: m.code})
	if err != nil {
		return Deployed{}, err
	}
	d.logger.InfoContext(ctx, "module deployed", "module", name, "address", r.ContractAddress, "tx", r.ID)
	return d.finish(ctx, m, r, "")
}

// DeployModule deploys, verifies and records the current build of name
// without touching the diamond.
func (d *Driver) DeployModule(ctx context.Context, name string) (Deployed, error) {
	var out Deployed
	err := d.withLock(ctx, "diamond.deploy_module", func(ctx context.Context, _ string) error {
		dep, err := d.deployModule(ctx, name)
		out = dep
		return err
	})
	return out, err
}

// facet turns a deployed module into a cut candidate.
func (d *Driver) facet(dep Deployed) (diamond.Facet, error) {
	a, err := d.deps.Modules.Read(dep.Name)
	if err != nil {
		return diamond.Facet{}, err
	}
	sels, err := d.catalog(a)
	if err != nil {
		return diamond.Facet{}, err
	}
	return diamond.Facet{
		Name:          dep.Name,
		Address:       dep.Address,
		Selectors:     sels,
		SourceVersion: dep.Version,
	}, nil
}

// diamondArgs are the constructor arguments of the dispatch table.
type diamondArgs struct {
	Owner       diamond.Address `json:"owner"`
	DiamondInit diamond.Address `json:"diamondInit"`
	Data        string          `json:"data"`
	CutFacet    diamond.Address `json:"diamondCutFacet"`
}

// Deploy runs a full pass: base modules, the diamond with its initializer,
// the bootstrap cut, then the remaining facets.
func (d *Driver) Deploy(ctx context.Context) (Report, error) {
	var rep Report
	err := d.withLock(ctx, "diamond.deploy", func(ctx context.Context, runID string) error {
		rep.RunID = runID
		man := d.settings.Manifest

		byName := make(map[string]Deployed)
		for _, name := range man.Base {
			dep, err := d.deployModule(ctx, name)
			if err != nil {
				return err
			}
			byName[name] = dep
			rep.Deployed = append(rep.Deployed, dep)
		}

		addr, dep, err := d.deployDiamond(ctx, byName[man.Diamond.CutFacet], byName[man.Diamond.Init])
		if err != nil {
			return err
		}
		rep.Diamond = addr
		rep.Deployed = append(rep.Deployed, dep)
		svc := d.service(addr)

		bootstrap := make([]diamond.Facet, 0, len(man.Diamond.Bootstrap))
		for _, name := range man.Diamond.Bootstrap {
			f, err := d.facet(byName[name])
			if err != nil {
				return err
			}
			bootstrap = append(bootstrap, f)
		}
		res, err := d.bootstrap(ctx, svc, addr, bootstrap)
		if err != nil {
			return err
		}
		rep.Cuts = append(rep.Cuts, res...)

		facets := make([]diamond.Facet, 0, len(man.Facets))
		for _, name := range man.Facets {
			dep, err := d.deployModule(ctx, name)
			if err != nil {
				return err
			}
			rep.Deployed = append(rep.Deployed, dep)
			f, err := d.facet(dep)
			if err != nil {
				return err
			}
			facets = append(facets, f)
		}
		cr, err := d.cutIn(ctx, svc, facets)
		if err != nil {
			return err
		}
		rep.Cuts = append(rep.Cuts, cr)
		return nil
	})
	return rep, err
}

func (d *Driver) deployDiamond(ctx context.Context, cutFacet, initModule Deployed) (diamond.Address, Deployed, error) {
	m, err := d.load(DiamondName)
	if err != nil {
		return "", Deployed{}, err
	}
	cf, err := d.facet(cutFacet)
	if err != nil {
		return "", Deployed{}, err
	}
	payload, err := d.initPayload()
	if err != nil {
		return "", Deployed{}, err
	}
	owner := d.settings.Owner
	if owner == "" {
		owner = diamond.ZeroAddress
	}
	args, err := EncodeArgs(diamondArgs{
		Owner:       owner,
		DiamondInit: initModule.Address,
		Data:        "0x" + hex.EncodeToString(payload),
		CutFacet:    cutFacet.Address,
	})
	if err != nil {
		return "", Deployed{}, err
	}

	r, err := d.submit(ctx, "deploy "+DiamondName, channel.DiamondIntent{
		Owner:           owner,
		CutFacet:        cutFacet.Address,
		CutSelectors:    cf.Selectors,
		Init:            initModule.Address,
		InitData:        payload,
		ConstructorArgs: []byte(args),
	})
	if err != nil {
		return "", Deployed{}, err
	}
	d.logger.InfoContext(ctx, "diamond deployed", "address", r.ContractAddress, "tx", r.ID)

	dep, err := d.finish(ctx, m, r, args)
	if err != nil {
		return "", Deployed{}, err
	}
	if err := d.deps.Ledger.RecordFacets(ctx, d.settings.Context, []diamond.Facet{cf}); err != nil {
		return "", Deployed{}, err
	}
	return r.ContractAddress, dep, nil
}

// initPayload is the call data of the initializer: its selector.
func (d *Driver) initPayload() ([]byte, error) {
	sel, err := selector.Of(d.initializer)
	if err != nil {
		return nil, err
	}
	return sel[:], nil
}

// bootstrap binds the loupe and ownership facets. The loupe is added
// unconditionally first when the diamond cannot answer loupe queries yet.
func (d *Driver) bootstrap(ctx context.Context, svc *cut.Service, addr diamond.Address, facets []diamond.Facet) ([]cut.Result, error) {
	if len(facets) == 0 {
		return nil, nil
	}
	var out []cut.Result
	ok, err := loupe.Available(ctx, d.deps.Loupe(addr))
	if err != nil {
		return nil, err
	}
	if !ok {
		d.logger.InfoContext(ctx, "loupe not reachable, adding it", "facet", facets[0].Name)
		res, err := svc.AddFacets(ctx, facets[:1], diamond.ZeroAddress, nil)
		if err != nil {
			return nil, err
		}
		if err := d.recordTouched(ctx, facets[:1], res); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	res, err := d.cutIn(ctx, svc, facets)
	if err != nil {
		return nil, err
	}
	return append(out, res), nil
}

// cutIn reconciles facets and records the ones the batch touched.
func (d *Driver) cutIn(ctx context.Context, svc *cut.Service, facets []diamond.Facet) (cut.Result, error) {
	res, err := svc.PlanAndCutIn(ctx, facets)
	if err != nil {
		return cut.Result{}, err
	}
	if err := d.recordTouched(ctx, facets, res); err != nil {
		return cut.Result{}, err
	}
	return res, nil
}

// recordTouched records the candidates res bound. Facets whose selectors
// were already in place keep their existing diamond file entry.
func (d *Driver) recordTouched(ctx context.Context, candidates []diamond.Facet, res cut.Result) error {
	if res.Noop || len(res.Touched) == 0 {
		return nil
	}
	touched := make([]diamond.Facet, 0, len(res.Touched))
	for _, t := range res.Touched {
		for _, f := range candidates {
			if f.Name == t.Name && f.Address.Equal(t.Address) {
				touched = append(touched, f)
				break
			}
		}
	}
	return d.deps.Ledger.RecordFacets(ctx, d.settings.Context, touched)
}
