package cut

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/martin-labs/diamondctl/pkg/diamond"
)

// Tracker wraps an operation in a span and RED metrics.
type Tracker interface {
	TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error))
}

// Service exposes the reconciliation entry points used by the driver.
type Service struct {
	planner  *Planner
	executor *Executor
	tracker  Tracker
}

// NewService wires a planner and an executor for the same diamond. tracker
// may be nil.
func NewService(p *Planner, e *Executor, tracker Tracker) *Service {
	return &Service{planner: p, executor: e, tracker: tracker}
}

// Planner returns the planner.
func (s *Service) Planner() *Planner { return s.planner }

// PlanAndCutIn brings the table in line with facets in one batch.
func (s *Service) PlanAndCutIn(ctx context.Context, facets []diamond.Facet) (res Result, err error) {
	ctx, done := s.track(ctx, "diamond.plan_and_cut_in", attribute.Int("diamond.cut.candidates", len(facets)))
	defer func() { done(err) }()

	plan, err := s.planner.Plan(ctx, facets)
	if err != nil {
		return Result{}, err
	}
	return s.executor.Apply(ctx, plan, diamond.ZeroAddress, nil)
}

// PlanAndRemove unbinds selectors in one batch.
func (s *Service) PlanAndRemove(ctx context.Context, selectors []diamond.Selector) (res Result, err error) {
	ctx, done := s.track(ctx, "diamond.plan_and_remove", attribute.Int("diamond.cut.selectors", len(selectors)))
	defer func() { done(err) }()

	return s.executor.Apply(ctx, []diamond.FacetCut{s.planner.PlanRemoval(selectors)}, diamond.ZeroAddress, nil)
}

// AddFacets binds the full catalogs of facets without consulting the table.
func (s *Service) AddFacets(ctx context.Context, facets []diamond.Facet, init diamond.Address, payload []byte) (res Result, err error) {
	ctx, done := s.track(ctx, "diamond.add_facets", attribute.Int("diamond.cut.candidates", len(facets)))
	defer func() { done(err) }()

	plan, err := s.planner.PlanAdd(facets)
	if err != nil {
		return Result{}, err
	}
	return s.executor.Apply(ctx, plan, init, payload)
}

// ReplaceFacet rebinds every selector of f to f's address.
func (s *Service) ReplaceFacet(ctx context.Context, f diamond.Facet, init diamond.Address, payload []byte) (res Result, err error) {
	ctx, done := s.track(ctx, "diamond.replace_facet", attribute.String("diamond.facet", f.Name))
	defer func() { done(err) }()

	action, err := s.planner.PlanReplace(f)
	if err != nil {
		return Result{}, err
	}
	return s.executor.Apply(ctx, []diamond.FacetCut{action}, init, payload)
}

func (s *Service) track(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if s.tracker == nil {
		return ctx, func(error) {}
	}
	return s.tracker.TrackOperation(ctx, name, attrs...)
}
