package learning

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odvcencio/moerouter/pkg/model"
)

const (
	// DefaultMinSamples is the per-arm floor before analysis can conclude.
	DefaultMinSamples = 30
	// DefaultMeanGap is the minimum mean-score separation required to
	// declare a winner.
	DefaultMeanGap = 0.05
)

// armStats accumulates outcome scores for one side of an experiment.
type armStats struct {
	ModelID string  `json:"model_id"`
	Samples int     `json:"samples"`
	Sum     float64 `json:"-"`
}

// Mean returns the average score, or zero before any samples.
func (a *armStats) Mean() float64 {
	if a.Samples == 0 {
		return 0
	}
	return a.Sum / float64(a.Samples)
}

// Experiment is one live A/B comparison between two models on a task.
type Experiment struct {
	ID           string         `json:"id"`
	TaskType     model.TaskType `json:"task_type"`
	TrafficSplit float64        `json:"traffic_split"`
	MinSamples   int            `json:"min_samples"`
	MeanGap      float64        `json:"mean_gap"`
	StartedAt    time.Time      `json:"started_at"`

	A armStats `json:"arm_a"`
	B armStats `json:"arm_b"`
}

// Result is the outcome of analyzing an experiment.
type Result struct {
	ExperimentID string  `json:"experiment_id"`
	Winner       string  `json:"winner,omitempty"`
	Conclusive   bool    `json:"conclusive"`
	MeanA        float64 `json:"mean_a"`
	MeanB        float64 `json:"mean_b"`
	SamplesA     int     `json:"samples_a"`
	SamplesB     int     `json:"samples_b"`
}

// ABTester manages at most one active experiment per task type.
// Assignment is a pure function of the request id so retries of the same
// request always land on the same arm.
type ABTester struct {
	mu     sync.RWMutex
	byTask map[model.TaskType]*Experiment
	byID   map[string]*Experiment
	now    func() time.Time
}

// NewABTester creates an empty tester.
func NewABTester() *ABTester {
	return &ABTester{
		byTask: make(map[model.TaskType]*Experiment),
		byID:   make(map[string]*Experiment),
		now:    time.Now,
	}
}

// Start begins an experiment comparing modelA against modelB on task.
// trafficSplit is the fraction of matching traffic sent to modelA and
// must be in (0,1). An existing experiment for the task is an error.
func (t *ABTester) Start(modelA, modelB string, task model.TaskType, trafficSplit float64) (*Experiment, error) {
	if modelA == "" || modelB == "" || modelA == modelB {
		return nil, fmt.Errorf("abtest: need two distinct model ids, got %q and %q", modelA, modelB)
	}
	if trafficSplit <= 0 || trafficSplit >= 1 {
		return nil, fmt.Errorf("abtest: traffic split %.2f must be in (0,1)", trafficSplit)
	}
	if !task.Valid() {
		return nil, fmt.Errorf("abtest: unknown task type %q", task)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.byTask[task]; ok {
		return nil, fmt.Errorf("abtest: experiment %s already running for task %s", existing.ID, task)
	}

	exp := &Experiment{
		ID:           uuid.NewString(),
		TaskType:     task,
		TrafficSplit: trafficSplit,
		MinSamples:   DefaultMinSamples,
		MeanGap:      DefaultMeanGap,
		StartedAt:    t.now(),
		A:            armStats{ModelID: modelA},
		B:            armStats{ModelID: modelB},
	}
	t.byTask[task] = exp
	t.byID[exp.ID] = exp
	return exp, nil
}

// Stop removes an experiment by id, returning its final analysis.
func (t *ABTester) Stop(id string) (Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	exp, ok := t.byID[id]
	if !ok {
		return Result{}, fmt.Errorf("abtest: no experiment %s", id)
	}
	delete(t.byID, id)
	delete(t.byTask, exp.TaskType)
	return analyze(exp), nil
}

// Assign returns the arm model for a request when an experiment covers
// its task type. The second return is false when no experiment applies.
func (t *ABTester) Assign(task model.TaskType, requestID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	exp, ok := t.byTask[task]
	if !ok || requestID == "" {
		return "", false
	}

	h := fnv.New32a()
	h.Write([]byte(requestID))
	bucket := float64(h.Sum32()%1000) / 1000.0
	if bucket < exp.TrafficSplit {
		return exp.A.ModelID, true
	}
	return exp.B.ModelID, true
}

// RecordResult feeds an outcome score into the matching arm, if any.
func (t *ABTester) RecordResult(task model.TaskType, modelID string, score float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	exp, ok := t.byTask[task]
	if !ok {
		return
	}
	switch modelID {
	case exp.A.ModelID:
		exp.A.Samples++
		exp.A.Sum += score
	case exp.B.ModelID:
		exp.B.Samples++
		exp.B.Sum += score
	}
}

// Analyze reports the current standing of an experiment. It stays
// inconclusive until both arms reach the sample floor and the mean gap
// clears the threshold.
func (t *ABTester) Analyze(id string) (Result, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	exp, ok := t.byID[id]
	if !ok {
		return Result{}, fmt.Errorf("abtest: no experiment %s", id)
	}
	return analyze(exp), nil
}

// Active lists the running experiments.
func (t *ABTester) Active() []*Experiment {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*Experiment, 0, len(t.byID))
	for _, exp := range t.byID {
		copied := *exp
		out = append(out, &copied)
	}
	return out
}

func analyze(exp *Experiment) Result {
	res := Result{
		ExperimentID: exp.ID,
		MeanA:        exp.A.Mean(),
		MeanB:        exp.B.Mean(),
		SamplesA:     exp.A.Samples,
		SamplesB:     exp.B.Samples,
	}
	if exp.A.Samples < exp.MinSamples || exp.B.Samples < exp.MinSamples {
		return res
	}

	gap := res.MeanA - res.MeanB
	if gap < 0 {
		gap = -gap
	}
	if gap < exp.MeanGap {
		return res
	}

	res.Conclusive = true
	if res.MeanA > res.MeanB {
		res.Winner = exp.A.ModelID
	} else {
		res.Winner = exp.B.ModelID
	}
	return res
}
