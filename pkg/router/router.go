// Package router wires the registry, breakers, performance history,
// learning loop, and hybrid planner into a single selection engine.
// SelectModel never performs network I/O; it is a pure function of the
// current catalog and the shared side tables.
package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/moerouter/pkg/breaker"
	"github.com/odvcencio/moerouter/pkg/cost"
	"github.com/odvcencio/moerouter/pkg/hybrid"
	"github.com/odvcencio/moerouter/pkg/learning"
	"github.com/odvcencio/moerouter/pkg/logging"
	"github.com/odvcencio/moerouter/pkg/model"
	"github.com/odvcencio/moerouter/pkg/perf"
	"github.com/odvcencio/moerouter/pkg/registry"
	"github.com/odvcencio/moerouter/pkg/scoring"
	"github.com/odvcencio/moerouter/pkg/storage"
)

const maxFallbacks = 3

// Config assembles a router. Registry is required; the rest defaults to
// in-process components when nil.
type Config struct {
	Registry *registry.Registry
	Breakers *breaker.Set
	Tracker  *perf.Tracker
	Learning *learning.Loop
	Logger   *logging.Logger
	History  *storage.Store
}

// Router is the selection engine. Safe for concurrent use.
type Router struct {
	registry  *registry.Registry
	breakers  *breaker.Set
	tracker   *perf.Tracker
	learning  *learning.Loop
	predictor *cost.Predictor
	planner   *hybrid.Planner
	logger    *logging.Logger
	history   *storage.Store
	tracer    trace.Tracer

	now   func() time.Time
	newID func() string
}

// New creates a router from the config, filling in defaults.
func New(cfg Config) (*Router, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("router: registry is required")
	}
	if cfg.Breakers == nil {
		cfg.Breakers = breaker.NewSet(breaker.DefaultConfig())
	}
	if cfg.Tracker == nil {
		cfg.Tracker = perf.NewTracker(perf.DefaultConfig(), nil)
	}
	if cfg.Learning == nil {
		cfg.Learning = learning.NewLoop()
	}

	return &Router{
		registry:  cfg.Registry,
		breakers:  cfg.Breakers,
		tracker:   cfg.Tracker,
		learning:  cfg.Learning,
		predictor: cost.NewPredictor(),
		planner:   hybrid.NewPlanner(),
		logger:    cfg.Logger,
		history:   cfg.History,
		tracer:    otel.Tracer("moerouter/router"),
		now:       time.Now,
		newID:     func() string { return ulid.Make().String() },
	}, nil
}

// Breakers exposes the breaker set for callers that report outcomes out
// of band.
func (r *Router) Breakers() *breaker.Set { return r.breakers }

// Learning exposes the learning loop, mostly for experiment management.
func (r *Router) Learning() *learning.Loop { return r.learning }

// Registry exposes the model catalog.
func (r *Router) Registry() *registry.Registry { return r.registry }

// perfAdapter binds the call context so the scorer can consult the
// tracker without threading a context through scoring itself.
type perfAdapter struct {
	ctx     context.Context
	tracker *perf.Tracker
}

func (a perfAdapter) RecommendationWeight(modelID string, task model.TaskType) float64 {
	return a.tracker.RecommendationWeight(a.ctx, modelID, task)
}

// SelectModel chooses the best model for the request. It validates,
// filters hard constraints, ranks the survivors, and decides whether to
// fan out. Errors are one of InvalidRequestError, NoAvailableModelError,
// or BudgetExceededError.
func (r *Router) SelectModel(ctx context.Context, req *model.RoutingRequest) (*model.RoutingDecision, error) {
	ctx, span := r.tracer.Start(ctx, "router.SelectModel")
	defer span.End()
	start := r.now()
	defer func() {
		metricSelectionLatency.Observe(r.now().Sub(start).Seconds())
	}()

	if err := req.Validate(); err != nil {
		recordSelectionError("invalid_request")
		return nil, err
	}
	span.SetAttributes(attribute.String("task_type", string(req.TaskType)))

	defs := r.registry.Models()
	candidates := make([]*model.ModelDefinition, 0, len(defs))
	for i := range defs {
		candidates = append(candidates, &defs[i])
	}

	filter := scoring.NewFilter(r.breakers, r.predictor)
	filtered := filter.Apply(req, candidates)
	if len(filtered.Eligible) == 0 {
		if filtered.BudgetOnly() && req.Budget != nil {
			recordSelectionError("budget_exceeded")
			return nil, &model.BudgetExceededError{
				TaskType:   req.TaskType,
				Budget:     *req.Budget,
				Considered: filtered.Considered,
				Evidence:   filtered.Evidence,
			}
		}
		recordSelectionError("no_available_model")
		r.logError("no_available_model", req, filtered.Removed)
		return nil, &model.NoAvailableModelError{
			TaskType:   req.TaskType,
			Considered: filtered.Considered,
			Reasons:    filtered.Removed,
			Evidence:   filtered.Evidence,
		}
	}

	scorer := scoring.NewScorer(perfAdapter{ctx: ctx, tracker: r.tracker}, r.learning)
	ranked := scorer.Rank(req, filtered.Eligible)

	decision := &model.RoutingDecision{
		ID:        r.newID(),
		RequestID: req.RequestID,
		TaskType:  req.TaskType,
		CreatedAt: r.now(),
	}

	winner := ranked[0]
	rationale := fmt.Sprintf("scored %.1f across %d candidates", winner.Score, len(ranked))

	// A live experiment pins matching traffic to its arm when that arm
	// survived filtering; scoring still produced the fallback order.
	if arm, ok := r.learning.Experiments().Assign(req.TaskType, req.RequestID); ok {
		for _, m := range ranked {
			if m.Def.ID == arm {
				winner = m
				rationale = fmt.Sprintf("experiment arm %s (scored %.1f)", arm, m.Score)
				break
			}
		}
	}

	decision.SelectedModel = winner.Def.ID
	decision.EstimatedCost = winner.Cost.ExpectedCost
	decision.Confidence = scoring.Confidence(ranked)
	decision.Evidence = append(scorer.WinnerEvidence(winner), filtered.Evidence...)
	decision.Fallbacks = scoring.Fallbacks(winnerFirst(ranked, winner), maxFallbacks)

	if fanOut, reason := r.planner.ShouldFanOut(req); fanOut {
		if plan := r.planner.Build(req, ranked, reason); plan != nil {
			if set, setCost, ok := r.affordableSet(ranked, plan.Models, req.Budget); ok {
				decision.ParallelSet = set
				decision.JudgeModel = plan.Judge
				decision.Consensus = plan.Strategy
				decision.SelectedModel = set[0]
				decision.EstimatedCost = setCost
				rationale = fmt.Sprintf("parallel fan-out (%s), %s", reason, rationale)
			}
		}
	}
	decision.Rationale = rationale

	span.SetAttributes(
		attribute.String("selected_model", decision.SelectedModel),
		attribute.Bool("parallel", decision.IsParallel()),
	)
	recordSelection(string(req.TaskType), decision.SelectedModel, decision.IsParallel())
	metricEstimatedCost.Observe(decision.EstimatedCost)

	r.logDecision(decision)
	if r.history != nil {
		if err := r.history.SaveDecision(decision); err != nil {
			r.logError("history_write_failed", req, map[string]string{"error": err.Error()})
		}
	}
	return decision, nil
}

// winnerFirst reorders ranked so winner leads, for fallback computation
// when an experiment pinned a non-top candidate. The selected model must
// never appear in its own fallback chain.
func winnerFirst(ranked []scoring.ScoredModel, winner scoring.ScoredModel) []scoring.ScoredModel {
	if len(ranked) == 0 || ranked[0].Def.ID == winner.Def.ID {
		return ranked
	}
	out := make([]scoring.ScoredModel, 0, len(ranked))
	out = append(out, winner)
	for _, m := range ranked {
		if m.Def.ID != winner.Def.ID {
			out = append(out, m)
		}
	}
	return out
}

// affordableSet trims the parallel set from the back until its summed
// expected cost fits the request budget. A set that cannot keep at least
// two members within budget reports !ok and the decision stays
// single-model, which already passed per-model budget filtering.
func (r *Router) affordableSet(ranked []scoring.ScoredModel, set []string, budget *float64) ([]string, float64, bool) {
	total := r.parallelCost(ranked, set)
	if budget == nil {
		return set, total, true
	}
	for total > *budget && len(set) > 2 {
		set = set[:len(set)-1]
		total = r.parallelCost(ranked, set)
	}
	if total > *budget || len(set) < 2 {
		return nil, 0, false
	}
	return set, total, true
}

func (r *Router) parallelCost(ranked []scoring.ScoredModel, set []string) float64 {
	inSet := make(map[string]bool, len(set))
	for _, id := range set {
		inSet[id] = true
	}
	total := 0.0
	for _, m := range ranked {
		if inSet[m.Def.ID] {
			total += m.Cost.ExpectedCost
		}
	}
	return total
}

// RecordRequestOutcome feeds an execution result into the performance
// tracker and the model's circuit.
func (r *Router) RecordRequestOutcome(ctx context.Context, modelID string, success bool, latencyMs float64, costUSD float64, task model.TaskType) {
	r.tracker.Record(ctx, modelID, task, success, latencyMs, costUSD)
	if success {
		r.breakers.RecordSuccess(modelID)
	} else {
		r.breakers.RecordFailure(modelID)
	}
	recordOutcome(modelID, success)
}

// CollectFeedback routes a feedback event to the learning loop and the
// audit trail.
func (r *Router) CollectFeedback(ctx context.Context, f *model.FeedbackData) error {
	if err := r.learning.CollectFeedback(f); err != nil {
		recordSelectionError("invalid_feedback")
		return err
	}
	metricFeedback.Inc()

	score := learning.FeedbackScore(f)
	if r.logger != nil {
		_ = r.logger.Feedback(f.RequestID, f.ModelID, map[string]any{
			"task_type": string(f.TaskType),
			"outcome":   string(f.Outcome),
			"score":     score,
		})
	}
	if r.history != nil {
		if err := r.history.SaveFeedback(f, score); err != nil && r.logger != nil {
			_ = r.logger.Error(logging.CategoryStorage, "feedback_write_failed", err.Error(), nil)
		}
	}
	return nil
}

// ModelStats is the per-model slice of Stats.
type ModelStats struct {
	Requests     int            `json:"requests"`
	SuccessRate  float64        `json:"success_rate"`
	AvgLatencyMs float64        `json:"avg_latency_ms"`
	AvgCost      float64        `json:"avg_cost"`
	CircuitState string         `json:"circuit_state"`
	Tasks        map[string]int `json:"tasks,omitempty"`
}

// RoutingStats is the read-only introspection surface.
type RoutingStats struct {
	Models      map[string]ModelStats     `json:"models"`
	Circuits    map[string]string         `json:"circuits"`
	Learned     []learning.WeightSnapshot `json:"learned_weights,omitempty"`
	Experiments []*learning.Experiment    `json:"experiments,omitempty"`
	Catalog     int                       `json:"catalog_size"`
}

// Stats summarizes tracked state for dashboards.
func (r *Router) Stats(ctx context.Context) RoutingStats {
	stats := RoutingStats{
		Models:   make(map[string]ModelStats),
		Circuits: make(map[string]string),
		Catalog:  r.registry.Len(),
	}

	for modelID, byTask := range r.tracker.Snapshot() {
		agg := ModelStats{Tasks: make(map[string]int)}
		var successes, samples int
		var latencySum, costSum float64
		for task, m := range byTask {
			agg.Requests += m.RequestCount
			successes += m.SuccessCount
			samples += m.RequestCount
			latencySum += m.AvgLatencyMs * float64(m.RequestCount)
			costSum += m.AvgCost * float64(m.RequestCount)
			agg.Tasks[string(task)] = m.RequestCount
		}
		if samples > 0 {
			agg.SuccessRate = float64(successes) / float64(samples)
			agg.AvgLatencyMs = latencySum / float64(samples)
			agg.AvgCost = costSum / float64(samples)
		}
		agg.CircuitState = r.breakers.State(modelID).String()
		stats.Models[modelID] = agg
	}
	for modelID, snap := range r.breakers.Snapshots() {
		stats.Circuits[modelID] = snap.State
	}
	stats.Learned = r.learning.Snapshot()
	stats.Experiments = r.learning.Experiments().Active()
	return stats
}

func (r *Router) logDecision(d *model.RoutingDecision) {
	if r.logger == nil {
		return
	}
	details := map[string]any{
		"task_type":      string(d.TaskType),
		"estimated_cost": d.EstimatedCost,
		"confidence":     d.Confidence,
		"rationale":      d.Rationale,
	}
	if d.IsParallel() {
		details["parallel_set"] = strings.Join(d.ParallelSet, ",")
		details["judge"] = d.JudgeModel
		details["consensus"] = string(d.Consensus)
	}
	_ = r.logger.Decision(d.RequestID, d.SelectedModel, details)
}

func (r *Router) logError(eventType string, req *model.RoutingRequest, details map[string]string) {
	if r.logger == nil {
		return
	}
	payload := make(map[string]any, len(details)+1)
	payload["task_type"] = string(req.TaskType)
	for k, v := range details {
		payload[k] = v
	}
	_ = r.logger.Error(logging.CategoryRouting, eventType, "routing failed", payload)
}
