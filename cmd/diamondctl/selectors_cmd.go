package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/martin-labs/diamondctl/pkg/artifact"
	"github.com/martin-labs/diamondctl/pkg/diamond"
	"github.com/martin-labs/diamondctl/pkg/selector"
)

// runSelectorsCmd prints a selector catalog. It needs no network.
func runSelectorsCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("selectors", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		module      string
		abiPath     string
		root        string
		initializer string
		sigs        stringList
		exclude     stringList
		jsonOutput  bool
	)
	cmd.StringVar(&module, "module", "", "Module name to read from the artifacts tree")
	cmd.StringVar(&abiPath, "abi", "", "Path to a JSON ABI file")
	cmd.StringVar(&root, "root", ".", "Project root holding artifacts/")
	cmd.StringVar(&initializer, "initializer", selector.DefaultInitializer, "Signature excluded from catalogs")
	cmd.Var(&sigs, "sig", "Hash a single signature instead (repeatable)")
	cmd.Var(&exclude, "exclude", "Signature to drop from the catalog (repeatable)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	var (
		sels []diamond.Selector
		err  error
	)
	switch {
	case len(sigs) > 0:
		for _, sig := range sigs {
			s, err := selector.Of(sig)
			if err != nil {
				_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
				return 2
			}
			sels = append(sels, s)
		}
	case module != "" || abiPath != "":
		sels, err = catalog(module, abiPath, root, initializer)
		if err == nil && len(exclude) > 0 {
			sels, err = selector.Subtract(sels, exclude)
		}
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	default:
		_, _ = fmt.Fprintln(stderr, "Error: one of --module, --abi or --sig is required")
		return 2
	}

	if jsonOutput {
		if sels == nil {
			sels = []diamond.Selector{}
		}
		data, _ := json.MarshalIndent(sels, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}
	for _, s := range sels {
		_, _ = fmt.Fprintln(stdout, s)
	}
	return 0
}

func catalog(module, abiPath, root, initializer string) ([]diamond.Selector, error) {
	sig, err := selector.Canonicalize(initializer)
	if err != nil {
		return nil, err
	}
	opt := selector.WithInitializer(sig)
	if abiPath != "" {
		data, err := os.ReadFile(abiPath)
		if err != nil {
			return nil, err
		}
		iface, err := selector.ParseABI(data)
		if err != nil {
			return nil, err
		}
		return selector.Catalog(iface, opt), nil
	}
	a, err := artifact.NewReader(root).Read(module)
	if err != nil {
		return nil, err
	}
	return a.Selectors(opt)
}
