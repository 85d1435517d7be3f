// Package policy gates cut batches with a CEL expression before they are
// submitted.
//
// The expression sees:
//
//	network     string
//	environment string
//	live        bool
//	adds        int   selectors added
//	replaces    int   selectors replaced
//	removes     int   selectors removed
//	selectors   list(string)  every selector in the batch, 0x-hex
//	facets      list(string)  module names with an Add or Replace action
//
// and must evaluate to a bool. For example, to forbid removals on live
// networks: `!live || removes == 0`.
package policy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"

	"github.com/martin-labs/diamondctl/pkg/cut"
	"github.com/martin-labs/diamondctl/pkg/diamond"
)

// Target describes where a batch is going.
type Target struct {
	Network     string
	Environment string
	Live        bool
}

// Guard implements cut.Guard.
type Guard struct {
	expr   string
	prg    cel.Program
	target Target
	logger *slog.Logger
}

var _ cut.Guard = (*Guard)(nil)

func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("network", cel.StringType),
		cel.Variable("environment", cel.StringType),
		cel.Variable("live", cel.BoolType),
		cel.Variable("adds", cel.IntType),
		cel.Variable("replaces", cel.IntType),
		cel.Variable("removes", cel.IntType),
		cel.Variable("selectors", cel.ListType(cel.StringType)),
		cel.Variable("facets", cel.ListType(cel.StringType)),
	)
}

// New compiles expr. An empty expression allows every batch.
func New(expr string, target Target) (*Guard, error) {
	if expr == "" {
		expr = "true"
	}
	env, err := newEnv()
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("policy: compile %q: %w", expr, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("policy: %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("policy: program: %w", err)
	}
	return &Guard{
		expr:   expr,
		prg:    prg,
		target: target,
		logger: slog.Default().With("component", "policy"),
	}, nil
}

// Check returns cut.ErrPolicyDenied when the expression is false.
func (g *Guard) Check(ctx context.Context, cuts []diamond.FacetCut) error {
	adds, replaces, removes := diamond.CountSelectors(cuts)
	sels := []string{}
	facets := []string{}
	seen := make(map[string]bool)
	for _, c := range cuts {
		for _, s := range c.Selectors {
			sels = append(sels, s.String())
		}
		if c.Action != diamond.ActionRemove && c.Facet != "" && !seen[c.Facet] {
			seen[c.Facet] = true
			facets = append(facets, c.Facet)
		}
	}

	val, _, err := g.prg.Eval(map[string]any{
		"network":     g.target.Network,
		"environment": g.target.Environment,
		"live":        g.target.Live,
		"adds":        int64(adds),
		"replaces":    int64(replaces),
		"removes":     int64(removes),
		"selectors":   sels,
		"facets":      facets,
	})
	if err != nil {
		return fmt.Errorf("policy: evaluate: %w", err)
	}
	allowed, ok := val.Value().(bool)
	if !ok {
		return fmt.Errorf("policy: non-bool result %v", val.Value())
	}
	if !allowed {
		g.logger.WarnContext(ctx, "cut denied", "policy", g.expr, "adds", adds, "replaces", replaces, "removes", removes)
		return fmt.Errorf("%w: %s", cut.ErrPolicyDenied, g.expr)
	}
	return nil
}
