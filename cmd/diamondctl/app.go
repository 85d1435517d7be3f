package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/martin-labs/diamondctl/pkg/artifact"
	"github.com/martin-labs/diamondctl/pkg/config"
	"github.com/martin-labs/diamondctl/pkg/diamond"
	"github.com/martin-labs/diamondctl/pkg/ledger"
	"github.com/martin-labs/diamondctl/pkg/observability"
	"github.com/martin-labs/diamondctl/pkg/orchestrate"
	"github.com/martin-labs/diamondctl/pkg/policy"
	"github.com/martin-labs/diamondctl/pkg/runlock"
	"github.com/martin-labs/diamondctl/pkg/simchain"
	"github.com/martin-labs/diamondctl/pkg/store"
	"github.com/martin-labs/diamondctl/pkg/verify"
)

var (
	// errNoChannel is returned for networks without an execution channel.
	errNoChannel = errors.New("no execution channel for network")
	// errFileBackend is returned by commands that need a SQL history.
	errFileBackend = errors.New("LEDGER_BACKEND is file; verify needs sqlite or postgres")
)

// app is the wiring shared by commands.
type app struct {
	cfg      *config.Config
	manifest *config.Manifest
	network  config.Network
	logger   *slog.Logger
	ledger   *ledger.Ledger
	history  *store.SQLHistory
	modules  *artifact.Reader
	closers  []func(context.Context) error
}

// newApp loads configuration and opens the ledger. Without requireManifest
// a missing manifest leaves a.manifest nil and the ledger lenient.
func newApp(ctx context.Context, stderr io.Writer, requireManifest bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := observability.NewLogger(stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		modules: artifact.NewReader(cfg.ProjectRoot),
	}
	man, err := loadManifest(cfg)
	switch {
	case err == nil:
		a.manifest = man
		if a.network, err = man.Network(cfg.Network); err != nil {
			return nil, err
		}
	case requireManifest || !errors.Is(err, config.ErrNoManifest):
		return nil, err
	}

	strictness := ledger.Lenient
	if a.manifest != nil {
		strictness = a.manifest.Strictness()
	}
	opts := []ledger.Option{ledger.WithStrictness(strictness), ledger.WithLogger(logger)}
	if cfg.LedgerBackend != "file" {
		h, closeDB, err := openHistory(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closeDB)
		a.history = h
		opts = append(opts, ledger.WithHistoryStore(h))
	}
	a.ledger = ledger.New(cfg.LedgerDir, opts...)
	return a, nil
}

func loadManifest(cfg *config.Config) (*config.Manifest, error) {
	path := cfg.Manifest
	if path == "" {
		var err error
		if path, err = config.FindManifest(cfg.ProjectRoot); err != nil {
			return nil, err
		}
	}
	return config.LoadManifest(path)
}

func openHistory(ctx context.Context, cfg *config.Config) (*store.SQLHistory, func(context.Context) error, error) {
	d, err := store.ParseDialect(cfg.LedgerBackend)
	if err != nil {
		return nil, nil, err
	}
	db, err := store.Open(d, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	h := store.NewSQLHistory(db, d)
	if err := h.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return h, func(context.Context) error { return db.Close() }, nil
}

// session is an app bound to an execution channel.
type session struct {
	*app
	chain  *simchain.Chain
	driver *orchestrate.Driver
}

// open connects to the network's execution channel and builds the driver.
// Development networks run on a persisted in-process chain.
func (a *app) open(ctx context.Context) (*session, error) {
	if a.network.Live {
		return nil, fmt.Errorf("%w %q: only development networks run in-process", errNoChannel, a.cfg.Network)
	}
	chain, err := simchain.Load(a.cfg.ChainStatePath(), simchain.WithConfirmations(a.network.ConfirmationDepth()))
	if err != nil {
		return nil, err
	}

	tracker, err := observability.New(ctx, &observability.Config{
		ServiceName:    "diamondctl",
		ServiceVersion: version,
		Environment:    string(a.cfg.LedgerContext().Environment),
		OTLPEndpoint:   a.cfg.OTLPEndpoint,
		SampleRate:     1.0,
		Insecure:       true,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, tracker.Shutdown)

	lctx := a.cfg.LedgerContext()
	guard, err := policy.New(a.manifest.Policy, policy.Target{
		Network:     lctx.Network,
		Environment: string(lctx.Environment),
		Live:        a.network.Live,
	})
	if err != nil {
		return nil, err
	}

	var locker runlock.Locker = runlock.NewMemoryLocker()
	if a.cfg.RedisURL != "" {
		rl, err := runlock.DialRedis(a.cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		locker = rl
	}

	endpoint := a.cfg.EtherscanURL
	if endpoint == "" {
		endpoint = a.network.ExplorerURL
	}

	driver, err := orchestrate.New(orchestrate.Deps{
		Channel:  chain,
		Loupe:    func(addr diamond.Address) orchestrate.Loupe { return chain.Loupe(addr) },
		Balances: chain,
		Modules:  a.modules,
		Ledger:   a.ledger,
		Verifier: verify.New(a.network.Live, endpoint, a.cfg.EtherscanAPIKey),
		Locker:   locker,
		Guard:    guard,
		Tracker:  tracker,
	}, orchestrate.Settings{
		Context:  lctx,
		Network:  a.network,
		Manifest: a.manifest,
		Owner:    chain.Sender(),
		LockTTL:  a.cfg.LockTTL,
	}, orchestrate.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	return &session{app: a, chain: chain, driver: driver}, nil
}

// save persists the in-process chain.
func (s *session) save() error {
	return s.chain.Save(s.cfg.ChainStatePath())
}

func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.WarnContext(ctx, "shutdown", "error", err)
		}
	}
}

// exitCode maps an operation error to an exit code.
func exitCode(stderr io.Writer, err error) int {
	if err == nil {
		return 0
	}
	_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
	if errors.Is(err, config.ErrNoManifest) || errors.Is(err, errNoChannel) || errors.Is(err, errFileBackend) {
		return 2
	}
	return 1
}
