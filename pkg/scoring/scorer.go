package scoring

import (
	"fmt"
	"sort"
	"time"

	"github.com/odvcencio/moerouter/pkg/model"
)

// PerfSource supplies a historical recommendation weight in [0,1] for a
// model and task. Satisfied by perf.Tracker.
type PerfSource interface {
	RecommendationWeight(modelID string, task model.TaskType) float64
}

// LearningSource supplies a learned routing weight in [0,1] for a model
// and task. Satisfied by learning.Loop.
type LearningSource interface {
	Weight(modelID string, task model.TaskType) float64
}

// Component score caps. The composite is the sum, so a perfect candidate
// lands at 105 and typical ones in the 40-80 band.
const (
	maxQualityScore    = 50.0
	maxCostScore       = 20.0
	maxPerfScore       = 15.0
	maxLearningScore   = 10.0
	preferredTaskBonus = 5.0
	budgetTaskBonus    = 2.0
	maxDiversityScore  = 3.0
	providerMatchScore = 2.0
)

// Components breaks the composite score into its capped parts.
type Components struct {
	Quality     float64 `json:"quality"`
	Cost        float64 `json:"cost"`
	Performance float64 `json:"performance"`
	Learning    float64 `json:"learning"`
	TaskFit     float64 `json:"task_fit"`
	Diversity   float64 `json:"diversity"`
	Provider    float64 `json:"provider"`
}

// Total sums the components.
func (c Components) Total() float64 {
	return c.Quality + c.Cost + c.Performance + c.Learning + c.TaskFit + c.Diversity + c.Provider
}

// ScoredModel is one ranked candidate.
type ScoredModel struct {
	Candidate
	Score      float64
	Components Components
}

// Scorer ranks eligible candidates. Perf and learning sources may be nil;
// missing history contributes the neutral midpoint rather than zero so
// new models are not starved.
type Scorer struct {
	perf     PerfSource
	learning LearningSource
	now      func() time.Time
}

// NewScorer creates a scorer.
func NewScorer(perf PerfSource, learning LearningSource) *Scorer {
	return &Scorer{perf: perf, learning: learning, now: time.Now}
}

// Rank scores every candidate and returns them best first. Ties break on
// raw quality, then lexicographically on model id, so identical inputs
// always produce identical order.
func (s *Scorer) Rank(req *model.RoutingRequest, candidates []Candidate) []ScoredModel {
	if len(candidates) == 0 {
		return nil
	}

	minCost, maxCost := costBounds(candidates)
	providerCounts := make(map[string]int, len(candidates))
	for _, c := range candidates {
		providerCounts[c.Def.Provider]++
	}

	ranked := make([]ScoredModel, 0, len(candidates))
	for _, c := range candidates {
		comp := s.score(req, c, minCost, maxCost, providerCounts, len(candidates))
		ranked = append(ranked, ScoredModel{
			Candidate:  c,
			Score:      comp.Total(),
			Components: comp,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if ranked[i].Def.Quality != ranked[j].Def.Quality {
			return ranked[i].Def.Quality > ranked[j].Def.Quality
		}
		return ranked[i].Def.ID < ranked[j].Def.ID
	})
	return ranked
}

func (s *Scorer) score(req *model.RoutingRequest, c Candidate, minCost, maxCost float64, providerCounts map[string]int, total int) Components {
	var comp Components

	comp.Quality = c.Def.Quality * maxQualityScore

	// Cheapest candidate earns the full cost score, the most expensive
	// earns zero, the rest scale linearly. A flat field scores full for
	// everyone so cost never discriminates when it cannot.
	if maxCost > minCost {
		comp.Cost = maxCostScore * (maxCost - c.Cost.ExpectedCost) / (maxCost - minCost)
	} else {
		comp.Cost = maxCostScore
	}

	perfWeight := 0.5
	if s.perf != nil {
		perfWeight = s.perf.RecommendationWeight(c.Def.ID, req.TaskType)
	}
	comp.Performance = clamp01(perfWeight) * maxPerfScore

	learnWeight := 0.5
	if s.learning != nil {
		learnWeight = s.learning.Weight(c.Def.ID, req.TaskType)
	}
	comp.Learning = clamp01(learnWeight) * maxLearningScore

	if tier, ok := c.Def.PreferenceFor(req.TaskType); ok {
		switch tier {
		case model.TierPreferred:
			comp.TaskFit = preferredTaskBonus
		case model.TierBudget:
			comp.TaskFit = budgetTaskBonus
		}
	}

	// Rarer providers earn a small diversity bonus so one vendor with
	// many catalog entries does not crowd out the field.
	if total > 1 {
		share := float64(providerCounts[c.Def.Provider]) / float64(total)
		comp.Diversity = maxDiversityScore * (1 - share)
	}

	if req.PreferredProvider != "" && req.PreferredProvider == c.Def.Provider {
		comp.Provider = providerMatchScore
	}

	return comp
}

// Fallbacks returns up to max alternates after the winner, preferring
// providers not already represented so a provider outage does not take
// the whole chain down. Remaining slots fill in rank order.
func Fallbacks(ranked []ScoredModel, max int) []string {
	if len(ranked) <= 1 || max <= 0 {
		return nil
	}

	used := map[string]bool{ranked[0].Def.Provider: true}
	picked := make(map[string]bool)
	out := make([]string, 0, max)

	for _, m := range ranked[1:] {
		if len(out) >= max {
			return out
		}
		if used[m.Def.Provider] {
			continue
		}
		used[m.Def.Provider] = true
		picked[m.Def.ID] = true
		out = append(out, m.Def.ID)
	}
	for _, m := range ranked[1:] {
		if len(out) >= max {
			break
		}
		if !picked[m.Def.ID] {
			out = append(out, m.Def.ID)
		}
	}
	return out
}

// Confidence derives a selection confidence in [0.5, 1.0] from the margin
// between the winner and the runner-up. A sole candidate is fully
// confident.
func Confidence(ranked []ScoredModel) float64 {
	if len(ranked) == 0 {
		return 0
	}
	if len(ranked) == 1 || ranked[0].Score <= 0 {
		return 1.0
	}
	margin := (ranked[0].Score - ranked[1].Score) / ranked[0].Score
	conf := 0.5 + margin
	if conf > 1.0 {
		conf = 1.0
	}
	return conf
}

// WinnerEvidence builds the audit trail for the top-ranked candidate.
func (s *Scorer) WinnerEvidence(winner ScoredModel) []model.Evidence {
	ts := s.now()
	c := winner.Components
	entries := []struct {
		source string
		detail string
		weight float64
	}{
		{"quality", fmt.Sprintf("declared quality %.2f", winner.Def.Quality), c.Quality},
		{"cost", fmt.Sprintf("expected cost $%.6f", winner.Cost.ExpectedCost), c.Cost},
		{"performance", "historical success weighting", c.Performance},
		{"learning", "learned routing weight", c.Learning},
		{"task_fit", "catalog task preference", c.TaskFit},
		{"diversity", "provider diversity bonus", c.Diversity},
		{"provider", "caller provider preference", c.Provider},
	}

	out := make([]model.Evidence, 0, len(entries))
	for _, e := range entries {
		out = append(out, model.Evidence{
			Source:    e.source,
			Detail:    e.detail,
			Weight:    e.weight,
			Timestamp: ts,
		})
	}
	return out
}

func costBounds(candidates []Candidate) (min, max float64) {
	min, max = candidates[0].Cost.ExpectedCost, candidates[0].Cost.ExpectedCost
	for _, c := range candidates[1:] {
		if c.Cost.ExpectedCost < min {
			min = c.Cost.ExpectedCost
		}
		if c.Cost.ExpectedCost > max {
			max = c.Cost.ExpectedCost
		}
	}
	return min, max
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
