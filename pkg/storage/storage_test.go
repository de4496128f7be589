package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/odvcencio/moerouter/pkg/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "router.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleDecision(id string, created time.Time) *model.RoutingDecision {
	return &model.RoutingDecision{
		ID:            id,
		RequestID:     "req-" + id,
		TaskType:      model.TaskCodeGeneration,
		SelectedModel: "anthropic/sonnet",
		ParallelSet:   []string{"anthropic/sonnet", "openai/gpt"},
		Fallbacks:     []string{"openai/mini"},
		EstimatedCost: 0.0123,
		Confidence:    0.87,
		Rationale:     "highest composite score",
		JudgeModel:    "anthropic/opus",
		Consensus:     model.ConsensusJudge,
		CreatedAt:     created,
	}
}

func TestSaveAndGetDecision(t *testing.T) {
	s := newTestStore(t)
	want := sampleDecision("dec-1", time.Date(2026, 2, 10, 9, 30, 0, 0, time.UTC))

	if err := s.SaveDecision(want); err != nil {
		t.Fatalf("SaveDecision: %v", err)
	}
	got, err := s.GetDecision("dec-1")
	if err != nil {
		t.Fatalf("GetDecision: %v", err)
	}

	if got.SelectedModel != want.SelectedModel || got.TaskType != want.TaskType {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if len(got.ParallelSet) != 2 || got.ParallelSet[1] != "openai/gpt" {
		t.Errorf("parallel set = %v", got.ParallelSet)
	}
	if len(got.Fallbacks) != 1 || got.Fallbacks[0] != "openai/mini" {
		t.Errorf("fallbacks = %v", got.Fallbacks)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("created at = %v, want %v", got.CreatedAt, want.CreatedAt)
	}
	if got.Consensus != model.ConsensusJudge {
		t.Errorf("consensus = %s", got.Consensus)
	}
}

func TestRecentDecisionsOrder(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		d := sampleDecision(string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute))
		if err := s.SaveDecision(d); err != nil {
			t.Fatalf("SaveDecision: %v", err)
		}
	}

	got, err := s.RecentDecisions(3)
	if err != nil {
		t.Fatalf("RecentDecisions: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d decisions, want 3", len(got))
	}
	if got[0].ID != "e" || got[2].ID != "c" {
		t.Errorf("order = %s,%s,%s, want e,d,c", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestModelSelectionCounts(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC()

	for i, modelID := range []string{"a", "a", "b"} {
		d := sampleDecision(string(rune('x'+i)), base)
		d.SelectedModel = modelID
		if err := s.SaveDecision(d); err != nil {
			t.Fatalf("SaveDecision: %v", err)
		}
	}

	counts, err := s.ModelSelectionCounts()
	if err != nil {
		t.Fatalf("ModelSelectionCounts: %v", err)
	}
	if counts["a"] != 2 || counts["b"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestSaveFeedbackAndStats(t *testing.T) {
	s := newTestStore(t)
	quality := 0.9
	rating := 4
	received := time.Date(2026, 2, 10, 9, 30, 0, 0, time.UTC)

	events := []struct {
		f     *model.FeedbackData
		score float64
	}{
		{
			&model.FeedbackData{
				RequestID: "req-1", ModelID: "m1", TaskType: model.TaskTesting,
				Outcome: model.OutcomeSuccess, QualityScore: &quality,
				PRMerged: true, UserRating: &rating, ReceivedAt: received,
			},
			0.95,
		},
		{
			&model.FeedbackData{
				RequestID: "req-2", ModelID: "m1", TaskType: model.TaskTesting,
				Outcome: model.OutcomeFailure,
			},
			0.05,
		},
		{
			&model.FeedbackData{
				RequestID: "req-3", ModelID: "m2", TaskType: model.TaskPlanning,
				Outcome: model.OutcomePartial,
			},
			0.5,
		},
	}
	for _, e := range events {
		if err := s.SaveFeedback(e.f, e.score); err != nil {
			t.Fatalf("SaveFeedback: %v", err)
		}
	}

	recent, err := s.RecentFeedback(10)
	if err != nil {
		t.Fatalf("RecentFeedback: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("recent %d, want 3", len(recent))
	}
	// The explicitly dated event sorts last and keeps its timestamp.
	if recent[2].RequestID != "req-1" {
		t.Fatalf("recent[2] = %s, want req-1", recent[2].RequestID)
	}
	if !recent[2].ReceivedAt.Equal(received) {
		t.Errorf("received at = %v, want %v", recent[2].ReceivedAt, received)
	}

	stats, err := s.FeedbackStats()
	if err != nil {
		t.Fatalf("FeedbackStats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("stats %d pairs, want 2", len(stats))
	}
	if stats[0].ModelID != "m1" || stats[0].Events != 2 {
		t.Errorf("stats[0] = %+v", stats[0])
	}
	if diff := stats[0].MeanScore - 0.5; diff < -0.001 || diff > 0.001 {
		t.Errorf("mean score = %.4f, want 0.5", stats[0].MeanScore)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "router.db")

	s1, err := New(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := s1.SaveDecision(sampleDecision("dec-1", time.Now().UTC())); err != nil {
		t.Fatalf("SaveDecision: %v", err)
	}
	s1.Close()

	s2, err := New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.GetDecision("dec-1")
	if err != nil {
		t.Fatalf("GetDecision after reopen: %v", err)
	}
	if got.ID != "dec-1" {
		t.Errorf("id = %s", got.ID)
	}
}
