package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/martin-labs/diamondctl/pkg/archive"
	"github.com/martin-labs/diamondctl/pkg/ledger"
)

func runLedgerCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, "Usage: diamondctl ledger <show|versions|verify|archive> [flags]")
		return 2
	}
	switch args[0] {
	case "show":
		return runLedgerShow(args[1:], stdout, stderr)
	case "versions":
		return runLedgerVersions(args[1:], stdout, stderr)
	case "verify":
		return runLedgerVerify(args[1:], stdout, stderr)
	case "archive":
		return runLedgerArchive(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown ledger subcommand: %s\n", args[0])
		return 2
	}
}

// withLedger runs fn with the ledger of the configured context.
func withLedger(stderr io.Writer, fn func(ctx context.Context, a *app, lctx ledger.Context) error) int {
	ctx, cancel := signalContext()
	defer cancel()
	a, err := newApp(ctx, stderr, false)
	if err != nil {
		return exitCode(stderr, err)
	}
	defer a.close(context.WithoutCancel(ctx))
	return exitCode(stderr, fn(ctx, a, a.cfg.LedgerContext()))
}

type ledgerView struct {
	Context   string              `json:"context"`
	Addresses map[string]string   `json:"addresses"`
	Diamond   ledger.DiamondState `json:"diamond"`
}

func runLedgerShow(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("ledger show", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var jsonOutput bool
	cmd.BoolVar(&jsonOutput, "json", false, "Output as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	return withLedger(stderr, func(_ context.Context, a *app, lctx ledger.Context) error {
		addrs, err := a.ledger.Addresses(lctx)
		if err != nil {
			return err
		}
		state, err := a.ledger.Diamond(lctx)
		if err != nil {
			return err
		}
		view := ledgerView{Context: lctx.String(), Addresses: make(map[string]string), Diamond: state}
		for n, addr := range addrs {
			view.Addresses[n] = addr.String()
		}
		if jsonOutput {
			data, _ := json.MarshalIndent(view, "", "  ")
			_, _ = fmt.Fprintln(stdout, string(data))
			return nil
		}

		_, _ = fmt.Fprintf(stdout, "%sLedger %s%s\n", colorBold, view.Context, colorReset)
		for _, n := range sortedKeys(view.Addresses) {
			_, _ = fmt.Fprintf(stdout, "  %-24s %s\n", n, view.Addresses[n])
		}
		if len(state.Facets) > 0 {
			_, _ = fmt.Fprintf(stdout, "%sFacets%s\n", colorBold, colorReset)
			for _, n := range sortedKeys(state.Facets) {
				f := state.Facets[n]
				_, _ = fmt.Fprintf(stdout, "  %-24s %s  v%s\n", n, f.Address, f.Version)
			}
		}
		if len(state.InitialFund) > 0 {
			_, _ = fmt.Fprintf(stdout, "%sFunds%s\n", colorBold, colorReset)
			for _, n := range sortedKeys(state.InitialFund) {
				f := state.InitialFund[n]
				_, _ = fmt.Fprintf(stdout, "  %-24s sent %s, balance %s\n", n, f.SentAmount, f.BalanceAfter)
			}
		}
		return nil
	})
}

func runLedgerVersions(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("ledger versions", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var module string
	cmd.StringVar(&module, "module", "", "Module name (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if module == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --module is required")
		return 2
	}

	return withLedger(stderr, func(ctx context.Context, a *app, lctx ledger.Context) error {
		h, err := a.ledger.History(ctx, lctx, module)
		if err != nil {
			return err
		}
		versions, err := a.ledger.Versions(ctx, lctx, module)
		if err != nil {
			return err
		}
		for _, v := range versions {
			for _, rec := range h[v] {
				digest, err := ledger.Digest(rec)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(stdout, "%-12s %s  %s  verified=%t  digest=%s\n",
					v, rec.Address, rec.Timestamp, bool(rec.Verified), digest[:12])
			}
		}
		return nil
	})
}

func runLedgerVerify(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("ledger verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var modules stringList
	cmd.Var(&modules, "module", "Module to verify (repeatable, default all)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	return withLedger(stderr, func(ctx context.Context, a *app, lctx ledger.Context) error {
		if a.history == nil {
			return errFileBackend
		}
		names := []string(modules)
		if len(names) == 0 {
			var err error
			if names, err = a.history.Modules(ctx, lctx); err != nil {
				return err
			}
		}
		for _, n := range names {
			if err := a.history.Verify(ctx, lctx, n); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(stdout, "%s✓%s %s\n", colorGreen, colorReset, n)
		}
		_, _ = fmt.Fprintf(stdout, "History of %s intact (%d module(s))\n", lctx, len(names))
		return nil
	})
}

func openArchive(ctx context.Context, a *app) (archive.Store, error) {
	c := a.cfg.Archive
	return archive.NewStore(ctx, archive.Config{
		Type:     c.Type,
		Dir:      c.Dir,
		Bucket:   c.Bucket,
		Region:   c.Region,
		Endpoint: c.Endpoint,
		Prefix:   c.Prefix,
	}, a.ledger.Dir())
}

func runLedgerArchive(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("ledger archive", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var show string
	cmd.StringVar(&show, "show", "", "Print the manifest of an earlier snapshot")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	return withLedger(stderr, func(ctx context.Context, a *app, lctx ledger.Context) error {
		st, err := openArchive(ctx, a)
		if err != nil {
			return err
		}
		if show != "" {
			m, err := archive.LoadManifest(ctx, st, show)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(stdout, "%sSnapshot %s%s\n", colorBold, show, colorReset)
			_, _ = fmt.Fprintf(stdout, "  network  %s (%s)\n", m.Network, m.Environment)
			_, _ = fmt.Fprintf(stdout, "  created  %s\n", m.CreatedAt.Format(time.RFC3339))
			for _, name := range sortedKeys(m.Files) {
				_, _ = fmt.Fprintf(stdout, "  %-36s %s\n", name, m.Files[name])
			}
			return nil
		}
		m, hash, err := archive.Snapshot(ctx, st, a.ledger, lctx, time.Now())
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(stdout, "Archived %d file(s) of %s: %s\n", len(m.Files), lctx, hash)
		return nil
	})
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
