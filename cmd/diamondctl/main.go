package main

import (
	"fmt"
	"io"
	"os"
)

// version is set at build time.
var version = "dev"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches a command line. Exit codes: 0 success, 1 failed operation,
// 2 usage or configuration error.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "selectors":
		return runSelectorsCmd(args[2:], stdout, stderr)
	case "plan":
		return runPlanCmd(args[2:], stdout, stderr)
	case "deploy":
		return runDeployCmd(args[2:], stdout, stderr)
	case "remove":
		return runRemoveCmd(args[2:], stdout, stderr)
	case "replace":
		return runReplaceCmd(args[2:], stdout, stderr)
	case "fund":
		return runFundCmd(args[2:], stdout, stderr)
	case "ledger":
		return runLedgerCmd(args[2:], stdout, stderr)
	case "version", "--version":
		_, _ = fmt.Fprintf(stdout, "diamondctl %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

const (
	colorReset = "\033[0m"
	colorBold  = "\033[1m"
	colorCyan  = "\033[36m"
	colorGreen = "\033[32m"
)

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintf(w, "%sdiamondctl %s%s\n", colorBold, version, colorReset)
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintf(w, "%sUSAGE:%s\n", colorBold, colorReset)
	_, _ = fmt.Fprintln(w, "  diamondctl <command> [flags]")
	_, _ = fmt.Fprintln(w, "")

	printSection(w, "DIAMOND")
	printCommand(w, "deploy", "Deploy base modules, the diamond and its facets")
	printCommand(w, "plan", "Show the cut that would bring facets in line (--facet)")
	printCommand(w, "remove", "Unbind selectors from the diamond (--sig)")
	printCommand(w, "replace", "Move a facet's selectors to its recorded address (--facet)")
	printCommand(w, "fund", "Transfer the manifest's funds to the diamond")

	printSection(w, "LEDGER")
	printCommand(w, "ledger", "Inspect, verify or archive the ledger (show|versions|verify|archive)")

	printSection(w, "UTILITIES")
	printCommand(w, "selectors", "Print the selector catalog of a module")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "Settings come from the environment (DIAMOND_NETWORK, PRODUCTION, LEDGER_DIR, ...)")
	_, _ = fmt.Fprintln(w, "and the project manifest diamond.yaml or diamond.toml.")
}

func printSection(w io.Writer, title string) {
	_, _ = fmt.Fprintf(w, "%s%s:%s\n", colorBold+colorCyan, title, colorReset)
}

func printCommand(w io.Writer, name, desc string) {
	_, _ = fmt.Fprintf(w, "  %s%-12s%s %s\n", colorGreen, name, colorReset, desc)
}

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return fmt.Sprint([]string(*s)) }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}
