package hybrid

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/moerouter/pkg/model"
)

// Invoker calls one model with the request and returns its raw response.
// Implemented by the embedding application; the router never talks to
// providers itself.
type Invoker interface {
	Invoke(ctx context.Context, modelID string, req *model.RoutingRequest) (*Response, error)
}

// Response is one model's answer to a fanned-out request.
type Response struct {
	ModelID string
	Content string
	Cost    float64
	Latency time.Duration
}

// Catalog resolves model ids to their definitions for quality-weighted
// reconciliation. Satisfied by registry.Registry.
type Catalog interface {
	Get(id string) (model.ModelDefinition, bool)
}

// InvocationResult records how one model in the set fared.
type InvocationResult struct {
	ModelID  string
	Response *Response
	Err      error
	Order    int // completion order, 0-based
}

// Succeeded reports whether the invocation produced a usable response.
func (r *InvocationResult) Succeeded() bool {
	return r.Err == nil && r.Response != nil
}

// ConsensusResult is the reconciled outcome of a fan-out.
type ConsensusResult struct {
	Winner   string
	Content  string
	Strategy model.ConsensusStrategy
	Results  []InvocationResult
}

// ErrAllFailed is returned when no model in the set produced a response.
var ErrAllFailed = errors.New("hybrid: every parallel invocation failed")

// Executor runs the caller side of a parallel decision: it fans the
// request out with an overall timeout and reconciles the responses with
// the decision's consensus strategy. A model that exceeds the timeout
// counts as a failure without delaying the others.
type Executor struct {
	invoker Invoker
	catalog Catalog
	timeout time.Duration
}

// NewExecutor creates an executor. timeout bounds the whole fan-out;
// zero means no bound beyond the caller's context.
func NewExecutor(invoker Invoker, catalog Catalog, timeout time.Duration) *Executor {
	return &Executor{invoker: invoker, catalog: catalog, timeout: timeout}
}

// Execute fans out to the decision's parallel set and reconciles.
func (e *Executor) Execute(ctx context.Context, decision *model.RoutingDecision, req *model.RoutingRequest) (*ConsensusResult, error) {
	ids := decision.ParallelSet
	if len(ids) == 0 {
		ids = []string{decision.SelectedModel}
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	results := make([]InvocationResult, len(ids))
	order := make(chan int, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			resp, err := e.invoker.Invoke(gctx, id, req)
			results[i] = InvocationResult{ModelID: id, Response: resp, Err: err}
			order <- i
			return nil
		})
	}
	_ = g.Wait()
	close(order)

	pos := 0
	for i := range order {
		results[i].Order = pos
		pos++
	}

	outcome := &ConsensusResult{Strategy: decision.Consensus, Results: results}
	if !anySucceeded(results) {
		return outcome, ErrAllFailed
	}

	switch decision.Consensus {
	case model.ConsensusJudge:
		if err := e.resolveJudge(ctx, decision, req, outcome); err != nil {
			// Judge unavailable; fall back to declared quality.
			e.resolveQualityWeighted(outcome)
		}
	case model.ConsensusVoting:
		e.resolveVoting(outcome)
	case model.ConsensusFirstSuccess:
		resolveFirstSuccess(outcome)
	default:
		e.resolveQualityWeighted(outcome)
	}
	return outcome, nil
}

func anySucceeded(results []InvocationResult) bool {
	for i := range results {
		if results[i].Succeeded() {
			return true
		}
	}
	return false
}

// resolveJudge asks the judge model to pick among the successful
// responses. The judge's content becomes the final answer.
func (e *Executor) resolveJudge(ctx context.Context, decision *model.RoutingDecision, req *model.RoutingRequest, outcome *ConsensusResult) error {
	if decision.JudgeModel == "" {
		return errors.New("hybrid: no judge model in decision")
	}

	var b strings.Builder
	b.WriteString("Multiple models answered the same task. Choose or synthesize the best answer.\n\n")
	fmt.Fprintf(&b, "Task: %s\n\n", req.Description)
	for i := range outcome.Results {
		r := &outcome.Results[i]
		if !r.Succeeded() {
			continue
		}
		fmt.Fprintf(&b, "--- Response from %s ---\n%s\n\n", r.ModelID, r.Response.Content)
	}

	judgeReq := &model.RoutingRequest{
		RequestID:   req.RequestID + ":judge",
		TaskType:    req.TaskType,
		Description: b.String(),
	}
	resp, err := e.invoker.Invoke(ctx, decision.JudgeModel, judgeReq)
	if err != nil {
		return err
	}
	outcome.Winner = decision.JudgeModel
	outcome.Content = resp.Content
	return nil
}

// resolveQualityWeighted adopts the response from the highest declared
// quality model among those that succeeded.
func (e *Executor) resolveQualityWeighted(outcome *ConsensusResult) {
	bestQuality := -1.0
	var best *InvocationResult
	for i := range outcome.Results {
		r := &outcome.Results[i]
		if !r.Succeeded() {
			continue
		}
		quality := 0.0
		if e.catalog != nil {
			if def, ok := e.catalog.Get(r.ModelID); ok {
				quality = def.Quality
			}
		}
		if quality > bestQuality || (quality == bestQuality && best != nil && r.ModelID < best.ModelID) {
			bestQuality = quality
			best = r
		}
	}
	if best != nil {
		outcome.Winner = best.ModelID
		outcome.Content = best.Response.Content
	}
}

// resolveVoting adopts the majority-matching response, breaking ties by
// declared quality and then model id.
func (e *Executor) resolveVoting(outcome *ConsensusResult) {
	votes := make(map[string][]*InvocationResult)
	for i := range outcome.Results {
		r := &outcome.Results[i]
		if r.Succeeded() {
			key := strings.TrimSpace(r.Response.Content)
			votes[key] = append(votes[key], r)
		}
	}

	contents := make([]string, 0, len(votes))
	for content := range votes {
		contents = append(contents, content)
	}
	sort.Strings(contents)

	bestCount := 0
	var bestContent string
	for _, content := range contents {
		if len(votes[content]) > bestCount {
			bestCount = len(votes[content])
			bestContent = content
		}
	}
	if bestCount == 0 {
		return
	}

	// Among the majority bloc, credit the highest-quality voter.
	bloc := votes[bestContent]
	tmp := &ConsensusResult{Results: make([]InvocationResult, len(bloc))}
	for i, r := range bloc {
		tmp.Results[i] = *r
	}
	e.resolveQualityWeighted(tmp)
	outcome.Winner = tmp.Winner
	outcome.Content = bestContent
}

// resolveFirstSuccess adopts whichever response completed first without
// error.
func resolveFirstSuccess(outcome *ConsensusResult) {
	bestOrder := len(outcome.Results)
	var best *InvocationResult
	for i := range outcome.Results {
		r := &outcome.Results[i]
		if r.Succeeded() && r.Order < bestOrder {
			bestOrder = r.Order
			best = r
		}
	}
	if best != nil {
		outcome.Winner = best.ModelID
		outcome.Content = best.Response.Content
	}
}
