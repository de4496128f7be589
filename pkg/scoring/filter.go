// Package scoring filters the model catalog down to eligible candidates
// for a request and ranks them with a weighted composite score.
package scoring

import (
	"fmt"
	"time"

	"github.com/odvcencio/moerouter/pkg/cost"
	"github.com/odvcencio/moerouter/pkg/model"
)

// Availability reports whether a model's circuit admits selection.
// Satisfied by breaker.Set.
type Availability interface {
	Allow(modelID string) bool
}

// Candidate is a model that survived filtering, paired with its cost
// estimate for the request.
type Candidate struct {
	Def  *model.ModelDefinition
	Cost cost.Prediction
}

// FilterResult carries the surviving candidates plus a removal reason for
// every model that was excluded.
type FilterResult struct {
	Eligible   []Candidate
	Removed    map[string]string
	Considered int
	Evidence   []model.Evidence

	removedForBudget map[string]bool
}

// BudgetOnly reports whether every removal was for budget reasons. Used
// to raise a budget-specific error instead of a generic empty-set one.
func (r *FilterResult) BudgetOnly() bool {
	if len(r.Removed) == 0 {
		return false
	}
	for id := range r.Removed {
		if r.removedForBudget == nil || !r.removedForBudget[id] {
			return false
		}
	}
	return true
}

func (r *FilterResult) markBudget(id string) {
	if r.removedForBudget == nil {
		r.removedForBudget = make(map[string]bool)
	}
	r.removedForBudget[id] = true
}

// Filter applies hard constraints in a fixed order. Models are removed
// for the first constraint they violate; the reason is recorded per model
// so empty-result errors can explain themselves.
type Filter struct {
	availability Availability
	predictor    *cost.Predictor
	now          func() time.Time
}

// NewFilter creates a filter. availability may be nil, in which case
// every model is treated as circuit-closed.
func NewFilter(availability Availability, predictor *cost.Predictor) *Filter {
	if predictor == nil {
		predictor = cost.NewPredictor()
	}
	return &Filter{
		availability: availability,
		predictor:    predictor,
		now:          time.Now,
	}
}

// Apply runs the constraint chain over candidates.
func (f *Filter) Apply(req *model.RoutingRequest, candidates []*model.ModelDefinition) *FilterResult {
	result := &FilterResult{
		Removed:    make(map[string]string),
		Considered: len(candidates),
	}

	for _, def := range candidates {
		if reason, budgetary := f.exclude(req, def, result); reason != "" {
			result.Removed[def.ID] = reason
			if budgetary {
				result.markBudget(def.ID)
			}
			result.Evidence = append(result.Evidence, model.Evidence{
				Source:    "filter",
				Detail:    fmt.Sprintf("%s removed: %s", def.ID, reason),
				Timestamp: f.now(),
			})
		}
	}
	return result
}

// exclude returns a non-empty reason when def fails a constraint, and
// whether that reason was budget-driven. A passing model is appended to
// the eligible set as a side effect so its cost estimate is computed once.
func (f *Filter) exclude(req *model.RoutingRequest, def *model.ModelDefinition, result *FilterResult) (string, bool) {
	if !def.Enabled {
		return "disabled in catalog", false
	}
	if f.availability != nil && !f.availability.Allow(def.ID) {
		return "circuit open", false
	}
	if req.MinQuality > 0 && def.Quality < req.MinQuality {
		return fmt.Sprintf("quality %.2f below required %.2f", def.Quality, req.MinQuality), false
	}
	if req.MinContextTokens > 0 && def.MaxContextTokens < req.MinContextTokens {
		return fmt.Sprintf("context window %d below required %d", def.MaxContextTokens, req.MinContextTokens), false
	}
	for _, cap := range req.RequiredCaps {
		if !def.Capabilities.Has(cap) {
			return fmt.Sprintf("missing capability %s", cap), false
		}
	}
	if req.MaxLatency > 0 && def.LatencyP50 > req.MaxLatency {
		return fmt.Sprintf("p50 latency %s above ceiling %s", def.LatencyP50, req.MaxLatency), false
	}

	pred := f.predictor.Predict(req, def)
	if err := f.predictor.ValidateBudget(pred, req.Budget); err != nil {
		return fmt.Sprintf("expected cost $%.6f exceeds budget $%.6f", pred.ExpectedCost, *req.Budget), true
	}

	result.Eligible = append(result.Eligible, Candidate{Def: def, Cost: pred})
	return "", false
}
