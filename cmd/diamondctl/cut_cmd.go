package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/martin-labs/diamondctl/pkg/diamond"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// withSession runs fn against the network and saves the chain afterwards,
// also after a failure: a reverted batch still advanced the chain.
func withSession(stderr io.Writer, fn func(ctx context.Context, s *session) error) int {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, stderr, true)
	if err != nil {
		return exitCode(stderr, err)
	}
	defer a.close(context.WithoutCancel(ctx))

	s, err := a.open(ctx)
	if err != nil {
		return exitCode(stderr, err)
	}
	err = fn(ctx, s)
	if serr := s.save(); serr != nil && err == nil {
		err = serr
	}
	return exitCode(stderr, err)
}

func runDeployCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("deploy", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		fund       bool
		jsonOutput bool
	)
	cmd.BoolVar(&fund, "fund", false, "Run the manifest's funds after deploying")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the report as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	return withSession(stderr, func(ctx context.Context, s *session) error {
		rep, err := s.driver.Deploy(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			data, _ := json.MarshalIndent(rep, "", "  ")
			_, _ = fmt.Fprintln(stdout, string(data))
		} else {
			_, _ = fmt.Fprintf(stdout, "Diamond deployed at %s (run %s)\n", rep.Diamond, rep.RunID)
			for _, d := range rep.Deployed {
				_, _ = fmt.Fprintf(stdout, "  %-24s %s  v%s\n", d.Name, d.Address, d.Version)
			}
		}
		if !fund {
			return nil
		}
		_, err = s.driver.LocalFund(ctx)
		return err
	})
}

func runPlanCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("plan", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		facets     stringList
		apply      bool
		jsonOutput bool
	)
	cmd.Var(&facets, "facet", "Facet to reconcile (repeatable; default: the manifest's facets)")
	cmd.BoolVar(&apply, "apply", false, "Submit the cut instead of printing it")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the plan as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	return withSession(stderr, func(ctx context.Context, s *session) error {
		names := []string(facets)
		if len(names) == 0 {
			names = s.manifest.Facets
		}
		candidates, err := s.driver.Facets(ctx, names)
		if err != nil {
			return err
		}
		if apply {
			res, err := s.driver.PlanAndCutIn(ctx, candidates)
			if err != nil {
				return err
			}
			if res.Noop {
				_, _ = fmt.Fprintln(stdout, "No facets to add, replace or remove.")
				return nil
			}
			_, _ = fmt.Fprintf(stdout, "Diamond cut confirmed: %s\n", res.OperationID)
			return nil
		}
		plan, err := s.driver.Plan(ctx, candidates)
		if err != nil {
			return err
		}
		printPlan(stdout, plan, jsonOutput)
		return nil
	})
}

func printPlan(w io.Writer, plan []diamond.FacetCut, jsonOutput bool) {
	if jsonOutput {
		if plan == nil {
			plan = []diamond.FacetCut{}
		}
		data, _ := json.MarshalIndent(plan, "", "  ")
		_, _ = fmt.Fprintln(w, string(data))
		return
	}
	if len(plan) == 0 {
		_, _ = fmt.Fprintln(w, "No facets to add, replace or remove.")
		return
	}
	for _, c := range plan {
		_, _ = fmt.Fprintf(w, "%-8s %-24s %s\n", c.Action, c.Facet, c.FacetAddress)
		for _, s := range c.Selectors {
			_, _ = fmt.Fprintf(w, "         %s\n", s)
		}
	}
}

func runRemoveCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("remove", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var sigs stringList
	cmd.Var(&sigs, "sig", "Function signature to unbind, e.g. 'borrow(address,uint256)' (repeatable, REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if len(sigs) == 0 {
		_, _ = fmt.Fprintln(stderr, "Error: --sig is required")
		return 2
	}

	return withSession(stderr, func(ctx context.Context, s *session) error {
		res, err := s.driver.PlanAndRemove(ctx, sigs)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(stdout, "Removed %d selector(s): %s\n", len(sigs), res.OperationID)
		return nil
	})
}

func runReplaceCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("replace", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		facet    string
		redeploy bool
	)
	cmd.StringVar(&facet, "facet", "", "Facet whose selectors move to its recorded address (REQUIRED)")
	cmd.BoolVar(&redeploy, "deploy", false, "Deploy and record the current build of the facet first")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if facet == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --facet is required")
		return 2
	}

	return withSession(stderr, func(ctx context.Context, s *session) error {
		if redeploy {
			dep, err := s.driver.DeployModule(ctx, facet)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(stdout, "Deployed %s %s at %s\n", dep.Name, dep.Version, dep.Address)
		}
		res, err := s.driver.ReplaceFacet(ctx, facet)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(stdout, "Replaced %s: %s\n", facet, res.OperationID)
		return nil
	})
}

func runFundCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("fund", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var faucet bool
	cmd.BoolVar(&faucet, "faucet", false, "Credit the deployer with each amount first (development networks)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	return withSession(stderr, func(ctx context.Context, s *session) error {
		if faucet {
			for _, f := range s.manifest.Funds {
				token, err := s.ledger.Address(s.cfg.LedgerContext(), f.Token)
				if err != nil {
					return err
				}
				amount, ok := new(big.Int).SetString(f.Amount, 10)
				if !ok {
					return fmt.Errorf("fund %s: invalid amount %q", f.Token, f.Amount)
				}
				s.chain.Mint(token, s.chain.Sender(), amount)
			}
		}
		res, err := s.driver.LocalFund(ctx)
		if err != nil {
			return err
		}
		for _, r := range res {
			_, _ = fmt.Fprintf(stdout, "%-12s sent %s, balance %s (%s)\n",
				r.Token, r.Record.SentAmount, r.Record.BalanceAfter, r.Record.TxHash)
		}
		return nil
	})
}
