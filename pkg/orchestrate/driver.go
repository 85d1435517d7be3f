// Package orchestrate drives a full deployment pass: base modules, the
// diamond, the bootstrap cut and the remaining facets, recording every step
// in the ledger. Each pass holds the run lock of its diamond so two passes
// never plan against the same table.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/martin-labs/diamondctl/pkg/artifact"
	"github.com/martin-labs/diamondctl/pkg/channel"
	"github.com/martin-labs/diamondctl/pkg/config"
	"github.com/martin-labs/diamondctl/pkg/cut"
	"github.com/martin-labs/diamondctl/pkg/diamond"
	"github.com/martin-labs/diamondctl/pkg/ledger"
	"github.com/martin-labs/diamondctl/pkg/loupe"
	"github.com/martin-labs/diamondctl/pkg/runlock"
	"github.com/martin-labs/diamondctl/pkg/selector"
	"github.com/martin-labs/diamondctl/pkg/verify"
)

// DiamondName is the ledger name of the dispatch table.
const DiamondName = "Diamond"

var (
	// ErrLiveNetwork is returned by local-only operations on a live network.
	ErrLiveNetwork = errors.New("orchestrate: refusing to run a local script on a live network")
	// ErrNoDiamond is returned when the ledger has no diamond for the context.
	ErrNoDiamond = errors.New("orchestrate: no diamond deployed")
	// ErrOperationFailed is returned when a deployment or transfer reverts.
	ErrOperationFailed = errors.New("orchestrate: operation failed")
)

// Loupe is the read side of a diamond.
type Loupe interface {
	loupe.Reader
	loupe.Inspector
}

// LoupeFunc returns the loupe of the diamond at addr.
type LoupeFunc func(addr diamond.Address) Loupe

// Balances reads token balances.
type Balances interface {
	BalanceOf(ctx context.Context, token, holder diamond.Address) (*big.Int, error)
}

// Modules locates compiled modules and their source versions.
type Modules interface {
	Read(name string) (*artifact.Artifact, error)
	Source(a *artifact.Artifact) (string, error)
	Version(a *artifact.Artifact) (string, error)
}

// Deps are the collaborators of a Driver. Channel, Loupe, Modules and
// Ledger are required.
type Deps struct {
	Channel  channel.Channel
	Loupe    LoupeFunc
	Balances Balances
	Modules  Modules
	Ledger   *ledger.Ledger
	Verifier verify.Verifier
	Locker   runlock.Locker
	Guard    cut.Guard
	Tracker  cut.Tracker
}

// Settings select the target and the project.
type Settings struct {
	Context  ledger.Context
	Network  config.Network
	Manifest *config.Manifest
	// Owner is the diamond owner, usually the deployer account.
	Owner   diamond.Address
	LockTTL time.Duration
}

// Driver runs deployment passes for one ledger context.
type Driver struct {
	deps        Deps
	settings    Settings
	initializer string
	clock       func() time.Time
	logger      *slog.Logger
}

// Option configures a Driver.
type Option func(*Driver)

// WithClock overrides the timestamp source for receipts without one.
func WithClock(clock func() time.Time) Option {
	return func(d *Driver) { d.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.logger = l.With("component", "orchestrate") }
}

// New validates deps and settings and returns a driver.
func New(deps Deps, settings Settings, opts ...Option) (*Driver, error) {
	switch {
	case deps.Channel == nil:
		return nil, errors.New("orchestrate: channel is required")
	case deps.Loupe == nil:
		return nil, errors.New("orchestrate: loupe is required")
	case deps.Modules == nil:
		return nil, errors.New("orchestrate: modules are required")
	case deps.Ledger == nil:
		return nil, errors.New("orchestrate: ledger is required")
	case settings.Manifest == nil:
		return nil, errors.New("orchestrate: manifest is required")
	}
	if err := settings.Context.Validate(); err != nil {
		return nil, err
	}
	initSig, err := selector.Canonicalize(settings.Manifest.Initializer)
	if err != nil {
		return nil, fmt.Errorf("orchestrate: initializer: %w", err)
	}
	if deps.Verifier == nil {
		deps.Verifier = verify.Noop{}
	}
	if deps.Locker == nil {
		deps.Locker = runlock.NewMemoryLocker()
	}
	if settings.LockTTL <= 0 {
		settings.LockTTL = 15 * time.Minute
	}
	d := &Driver{
		deps:        deps,
		settings:    settings,
		initializer: initSig,
		clock:       time.Now,
		logger:      slog.Default().With("component", "orchestrate"),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("ledger", settings.Context.String())
	return d, nil
}

// Report summarizes a deployment pass.
type Report struct {
	RunID    string
	Diamond  diamond.Address
	Deployed []Deployed
	Cuts     []cut.Result
}

// Deployed is one module created by a pass.
type Deployed struct {
	Name     string
	Address  diamond.Address
	Version  string
	Verified bool
	TxHash   string
}

// withLock runs fn while holding the run lock of the context's diamond.
func (d *Driver) withLock(ctx context.Context, op string, fn func(ctx context.Context, runID string) error) (err error) {
	runID := uuid.NewString()
	key := runlock.Key(d.settings.Context.String(), DiamondName)
	lease, err := d.deps.Locker.Acquire(ctx, key, d.settings.LockTTL)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		if rerr := lease.Release(context.WithoutCancel(ctx)); rerr != nil {
			d.logger.WarnContext(ctx, "release run lock", "key", key, "error", rerr)
		}
	}()

	logger := d.logger.With("run", runID, "op", op)
	logger.InfoContext(ctx, "run started")
	if d.deps.Tracker != nil {
		var done func(error)
		ctx, done = d.deps.Tracker.TrackOperation(ctx, op)
		defer func() { done(err) }()
	}
	err = fn(ctx, runID)
	if err != nil {
		logger.ErrorContext(ctx, "run failed", "error", err)
		return err
	}
	logger.InfoContext(ctx, "run finished")
	return nil
}

// service builds the cut service for the diamond at target.
func (d *Driver) service(target diamond.Address) *cut.Service {
	var opts []cut.ExecutorOption
	if d.deps.Guard != nil {
		opts = append(opts, cut.WithGuard(d.deps.Guard))
	}
	return cut.NewService(
		cut.NewPlanner(d.deps.Loupe(target)),
		cut.NewExecutor(d.deps.Channel, target, opts...),
		d.deps.Tracker,
	)
}

// diamondAddress is the recorded diamond of the context.
func (d *Driver) diamondAddress() (diamond.Address, error) {
	addr, err := d.deps.Ledger.Address(d.settings.Context, DiamondName)
	if errors.Is(err, ledger.ErrNotFound) {
		return "", fmt.Errorf("%w on %s", ErrNoDiamond, d.settings.Context)
	}
	return addr, err
}

func (d *Driver) catalog(a *artifact.Artifact) ([]diamond.Selector, error) {
	return a.Selectors(selector.WithInitializer(d.initializer))
}
