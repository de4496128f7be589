package learning

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/odvcencio/moerouter/pkg/model"
)

func feedback(modelID string, outcome model.Outcome) *model.FeedbackData {
	return &model.FeedbackData{
		RequestID: "req-1",
		ModelID:   modelID,
		TaskType:  model.TaskCodeGeneration,
		Outcome:   outcome,
	}
}

func TestFeedbackScore(t *testing.T) {
	ptr := func(v float64) *float64 { return &v }
	rating := func(v int) *int { return &v }

	tests := []struct {
		name string
		f    *model.FeedbackData
		want float64
	}{
		{"plain success", feedback("m", model.OutcomeSuccess), 1.0},
		{"plain partial", feedback("m", model.OutcomePartial), 0.5},
		{"plain failure", feedback("m", model.OutcomeFailure), 0.0},
		{
			"quality scales outcome",
			&model.FeedbackData{ModelID: "m", TaskType: model.TaskTesting, Outcome: model.OutcomeSuccess, QualityScore: ptr(0.8)},
			0.8,
		},
		{
			"merged bonus capped",
			&model.FeedbackData{ModelID: "m", TaskType: model.TaskTesting, Outcome: model.OutcomeSuccess, PRMerged: true},
			1.0,
		},
		{
			"merged bonus applies below cap",
			&model.FeedbackData{ModelID: "m", TaskType: model.TaskTesting, Outcome: model.OutcomePartial, PRMerged: true},
			0.7,
		},
		{
			"reverted penalty floored",
			&model.FeedbackData{ModelID: "m", TaskType: model.TaskTesting, Outcome: model.OutcomeFailure, PRReverted: true},
			0.0,
		},
		{
			"reverted penalty applies",
			&model.FeedbackData{ModelID: "m", TaskType: model.TaskTesting, Outcome: model.OutcomeSuccess, PRReverted: true},
			0.5,
		},
		{
			"user rating blends equally",
			&model.FeedbackData{ModelID: "m", TaskType: model.TaskTesting, Outcome: model.OutcomeSuccess, UserRating: rating(3)},
			(1.0 + 0.6) / 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FeedbackScore(tt.f); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("score = %.4f, want %.4f", got, tt.want)
			}
		})
	}
}

func TestWeightDefaultsNeutral(t *testing.T) {
	l := NewLoop()
	if got := l.Weight("never-seen", model.TaskCodeReview); got != DefaultWeight {
		t.Errorf("unseen weight = %.2f, want %.2f", got, DefaultWeight)
	}
}

func TestCollectFeedbackSmoothsWeight(t *testing.T) {
	l := NewLoop()

	if err := l.CollectFeedback(feedback("m1", model.OutcomeSuccess)); err != nil {
		t.Fatalf("collect: %v", err)
	}
	// 0.5 + 0.1*(1.0-0.5) = 0.55
	if got := l.Weight("m1", model.TaskCodeGeneration); math.Abs(got-0.55) > 1e-9 {
		t.Errorf("weight after one success = %.4f, want 0.5500", got)
	}

	if err := l.CollectFeedback(feedback("m1", model.OutcomeFailure)); err != nil {
		t.Fatalf("collect: %v", err)
	}
	// 0.55 + 0.1*(0.0-0.55) = 0.495
	if got := l.Weight("m1", model.TaskCodeGeneration); math.Abs(got-0.495) > 1e-9 {
		t.Errorf("weight after failure = %.4f, want 0.4950", got)
	}
}

func TestCollectFeedbackConverges(t *testing.T) {
	l := NewLoop()
	for i := 0; i < 100; i++ {
		if err := l.CollectFeedback(feedback("m1", model.OutcomeSuccess)); err != nil {
			t.Fatalf("collect: %v", err)
		}
	}
	if got := l.Weight("m1", model.TaskCodeGeneration); got < 0.99 {
		t.Errorf("weight after 100 successes = %.4f, want near 1.0", got)
	}

	for i := 0; i < 100; i++ {
		if err := l.CollectFeedback(feedback("m2", model.OutcomeFailure)); err != nil {
			t.Fatalf("collect: %v", err)
		}
	}
	if got := l.Weight("m2", model.TaskCodeGeneration); got > 0.01 {
		t.Errorf("weight after 100 failures = %.4f, want near 0.0", got)
	}
}

func TestCollectFeedbackRejectsInvalid(t *testing.T) {
	l := NewLoop()
	bad := &model.FeedbackData{ModelID: "", TaskType: model.TaskTesting, Outcome: model.OutcomeSuccess}
	if err := l.CollectFeedback(bad); err == nil {
		t.Error("expected validation error for empty model id")
	}
}

func TestCollectFeedbackHistoryBounded(t *testing.T) {
	l := NewLoop()
	for i := 0; i < historyLimit+50; i++ {
		if err := l.CollectFeedback(feedback("m1", model.OutcomeSuccess)); err != nil {
			t.Fatalf("collect: %v", err)
		}
	}
	l.mu.RLock()
	entry := l.entries[weightKey{modelID: "m1", task: model.TaskCodeGeneration}]
	l.mu.RUnlock()
	if len(entry.history) != historyLimit {
		t.Errorf("history length %d, want %d", len(entry.history), historyLimit)
	}
	if entry.samples != historyLimit+50 {
		t.Errorf("samples %d, want %d", entry.samples, historyLimit+50)
	}
}

func TestConcurrentFeedback(t *testing.T) {
	l := NewLoop()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			id := fmt.Sprintf("model-%d", g%2)
			for i := 0; i < 50; i++ {
				_ = l.CollectFeedback(feedback(id, model.OutcomeSuccess))
			}
		}(g)
	}
	wg.Wait()

	snaps := l.Snapshot()
	total := 0
	for _, s := range snaps {
		total += s.Samples
	}
	if total != 400 {
		t.Errorf("total samples %d, want 400", total)
	}
}

func TestABStartValidation(t *testing.T) {
	ab := NewABTester()

	if _, err := ab.Start("a", "a", model.TaskTesting, 0.5); err == nil {
		t.Error("identical arms should fail")
	}
	if _, err := ab.Start("a", "b", model.TaskTesting, 0); err == nil {
		t.Error("zero split should fail")
	}
	if _, err := ab.Start("a", "b", model.TaskTesting, 1); err == nil {
		t.Error("full split should fail")
	}
	if _, err := ab.Start("a", "b", "mystery", 0.5); err == nil {
		t.Error("unknown task should fail")
	}

	if _, err := ab.Start("a", "b", model.TaskTesting, 0.5); err != nil {
		t.Fatalf("valid start failed: %v", err)
	}
	if _, err := ab.Start("c", "d", model.TaskTesting, 0.5); err == nil {
		t.Error("second experiment on same task should fail")
	}
}

func TestABAssignDeterministic(t *testing.T) {
	ab := NewABTester()
	if _, err := ab.Start("model-a", "model-b", model.TaskTesting, 0.5); err != nil {
		t.Fatalf("start: %v", err)
	}

	first, ok := ab.Assign(model.TaskTesting, "request-42")
	if !ok {
		t.Fatal("expected assignment for covered task")
	}
	for i := 0; i < 20; i++ {
		again, _ := ab.Assign(model.TaskTesting, "request-42")
		if again != first {
			t.Fatalf("assignment changed for same request id: %s vs %s", again, first)
		}
	}

	if _, ok := ab.Assign(model.TaskPlanning, "request-42"); ok {
		t.Error("uncovered task should not assign")
	}
	if _, ok := ab.Assign(model.TaskTesting, ""); ok {
		t.Error("empty request id should not assign")
	}
}

func TestABAssignSplitsTraffic(t *testing.T) {
	ab := NewABTester()
	if _, err := ab.Start("model-a", "model-b", model.TaskTesting, 0.5); err != nil {
		t.Fatalf("start: %v", err)
	}

	counts := map[string]int{}
	for i := 0; i < 1000; i++ {
		arm, _ := ab.Assign(model.TaskTesting, fmt.Sprintf("req-%d", i))
		counts[arm]++
	}
	if counts["model-a"] < 300 || counts["model-b"] < 300 {
		t.Errorf("split too skewed: %v", counts)
	}
}

func TestABAnalyzeInconclusiveBelowFloor(t *testing.T) {
	ab := NewABTester()
	exp, err := ab.Start("model-a", "model-b", model.TaskTesting, 0.5)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	for i := 0; i < DefaultMinSamples-1; i++ {
		ab.RecordResult(model.TaskTesting, "model-a", 1.0)
		ab.RecordResult(model.TaskTesting, "model-b", 0.0)
	}
	res, err := ab.Analyze(exp.ID)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Conclusive {
		t.Error("analysis below sample floor should be inconclusive")
	}
}

func TestABAnalyzeDeclaresWinner(t *testing.T) {
	ab := NewABTester()
	exp, err := ab.Start("model-a", "model-b", model.TaskTesting, 0.5)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	for i := 0; i < DefaultMinSamples; i++ {
		ab.RecordResult(model.TaskTesting, "model-a", 0.9)
		ab.RecordResult(model.TaskTesting, "model-b", 0.4)
	}
	res, err := ab.Analyze(exp.ID)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !res.Conclusive || res.Winner != "model-a" {
		t.Errorf("result = %+v, want conclusive winner model-a", res)
	}
}

func TestABAnalyzeInconclusiveTightGap(t *testing.T) {
	ab := NewABTester()
	exp, err := ab.Start("model-a", "model-b", model.TaskTesting, 0.5)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	for i := 0; i < DefaultMinSamples; i++ {
		ab.RecordResult(model.TaskTesting, "model-a", 0.80)
		ab.RecordResult(model.TaskTesting, "model-b", 0.78)
	}
	res, err := ab.Analyze(exp.ID)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Conclusive {
		t.Errorf("gap below threshold should be inconclusive, got winner %s", res.Winner)
	}
}

func TestABStopReleasesTask(t *testing.T) {
	ab := NewABTester()
	exp, err := ab.Start("model-a", "model-b", model.TaskTesting, 0.5)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := ab.Stop(exp.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := ab.Stop(exp.ID); err == nil {
		t.Error("double stop should fail")
	}
	if _, err := ab.Start("model-c", "model-d", model.TaskTesting, 0.3); err != nil {
		t.Errorf("task should be free after stop: %v", err)
	}
}

func TestLoopFeedsExperiment(t *testing.T) {
	l := NewLoop()
	exp, err := l.Experiments().Start("m1", "m2", model.TaskCodeGeneration, 0.5)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := l.CollectFeedback(feedback("m1", model.OutcomeSuccess)); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if err := l.CollectFeedback(feedback("m2", model.OutcomeFailure)); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if err := l.CollectFeedback(feedback("unrelated", model.OutcomeSuccess)); err != nil {
		t.Fatalf("collect: %v", err)
	}

	res, err := l.Experiments().Analyze(exp.ID)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.SamplesA != 1 || res.SamplesB != 1 {
		t.Errorf("samples A=%d B=%d, want 1 and 1", res.SamplesA, res.SamplesB)
	}
}

func TestSnapshotTimestamps(t *testing.T) {
	l := NewLoop()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return fixed })

	if err := l.CollectFeedback(feedback("m1", model.OutcomeSuccess)); err != nil {
		t.Fatalf("collect: %v", err)
	}
	snaps := l.Snapshot()
	if len(snaps) != 1 {
		t.Fatalf("snapshot length %d, want 1", len(snaps))
	}
	if !snaps[0].Updated.Equal(fixed) {
		t.Errorf("updated = %v, want %v", snaps[0].Updated, fixed)
	}
}
