// Package hybrid decides when a request should fan out to several models
// at once, selects the parallel set and judge, and provides a caller-side
// executor that runs the fan-out and reconciles the responses.
package hybrid

import (
	"fmt"

	"github.com/odvcencio/moerouter/pkg/model"
	"github.com/odvcencio/moerouter/pkg/scoring"
)

// MaxParallelModels caps the fan-out size.
const MaxParallelModels = 3

// Thresholds for the quality-and-budget trigger.
const (
	triggerQuality = 0.9
	triggerBudget  = 0.05
)

// criticalTasks always fan out when enough models are available.
var criticalTasks = map[model.TaskType]bool{
	model.TaskSecurityAudit: true,
	model.TaskCodeReview:    true,
	model.TaskPlanning:      true,
	model.TaskReasoning:     true,
}

// Plan describes a fan-out: which models to run, which model judges, and
// how the caller should reconcile the responses.
type Plan struct {
	Models   []string
	Judge    string
	Strategy model.ConsensusStrategy
	Reason   string
}

// Planner decides fan-out and assembles plans from ranked candidates.
type Planner struct {
	maxModels int
}

// NewPlanner creates a planner with the default fan-out cap.
func NewPlanner() *Planner {
	return &Planner{maxModels: MaxParallelModels}
}

// ShouldFanOut reports whether the request warrants parallel execution,
// with a human-readable trigger description.
func (p *Planner) ShouldFanOut(req *model.RoutingRequest) (bool, string) {
	if req.Parallel {
		return true, "parallel flag set"
	}
	if req.Critical() {
		return true, "request marked critical"
	}
	if criticalTasks[req.TaskType] {
		return true, fmt.Sprintf("task %s is in the critical set", req.TaskType)
	}
	if req.MinQuality >= triggerQuality && req.Budget != nil && *req.Budget >= triggerBudget {
		return true, fmt.Sprintf("quality requirement %.2f with budget $%.2f", req.MinQuality, *req.Budget)
	}
	return false, ""
}

// Build assembles a plan from ranked candidates. The parallel set favors
// provider diversity: no provider repeats while an unused one remains.
// The judge is the highest-quality candidate left outside the set. With
// fewer than two candidates there is nothing to reconcile and Build
// returns nil.
func (p *Planner) Build(req *model.RoutingRequest, ranked []scoring.ScoredModel, reason string) *Plan {
	if len(ranked) < 2 {
		return nil
	}

	set := pickDiverse(ranked, p.maxModels)
	inSet := make(map[string]bool, len(set))
	for _, id := range set {
		inSet[id] = true
	}

	judge := ""
	judgeQuality := -1.0
	for _, m := range ranked {
		if inSet[m.Def.ID] {
			continue
		}
		if m.Def.Quality > judgeQuality {
			judge = m.Def.ID
			judgeQuality = m.Def.Quality
		}
	}

	return &Plan{
		Models:   set,
		Judge:    judge,
		Strategy: strategyFor(req, judge),
		Reason:   reason,
	}
}

// pickDiverse walks the ranking and takes up to max models, skipping a
// provider that is already represented as long as enough candidates
// remain to fill the set with fresh providers.
func pickDiverse(ranked []scoring.ScoredModel, max int) []string {
	used := make(map[string]bool)
	out := make([]string, 0, max)

	for _, m := range ranked {
		if len(out) >= max {
			return out
		}
		if used[m.Def.Provider] {
			continue
		}
		used[m.Def.Provider] = true
		out = append(out, m.Def.ID)
	}
	if len(out) >= max {
		return out
	}

	// Not enough distinct providers; fill remaining slots in rank order.
	picked := make(map[string]bool, len(out))
	for _, id := range out {
		picked[id] = true
	}
	for _, m := range ranked {
		if len(out) >= max {
			break
		}
		if !picked[m.Def.ID] {
			out = append(out, m.Def.ID)
		}
	}
	return out
}

// strategyFor honors an explicit consensus request in metadata, falling
// back to judge when a judge model exists and quality-weighted otherwise.
func strategyFor(req *model.RoutingRequest, judge string) model.ConsensusStrategy {
	if req.Metadata != nil {
		if raw, ok := req.Metadata["consensus"].(string); ok {
			switch model.ConsensusStrategy(raw) {
			case model.ConsensusJudge:
				if judge != "" {
					return model.ConsensusJudge
				}
			case model.ConsensusQualityWeighted:
				return model.ConsensusQualityWeighted
			case model.ConsensusVoting:
				return model.ConsensusVoting
			case model.ConsensusFirstSuccess:
				return model.ConsensusFirstSuccess
			}
		}
	}
	if judge != "" {
		return model.ConsensusJudge
	}
	return model.ConsensusQualityWeighted
}
