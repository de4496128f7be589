package perf

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/moerouter/pkg/model"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestTracker(store Store) (*Tracker, *testClock) {
	t := NewTracker(DefaultConfig(), store)
	clock := newTestClock()
	t.SetClock(clock.Now)
	return t, clock
}

func TestTracker_RecordAndGet(t *testing.T) {
	tr, _ := newTestTracker(nil)
	ctx := context.Background()

	tr.Record(ctx, "m1", model.TaskCodeGeneration, true, 1200, 0.004)
	tr.Record(ctx, "m1", model.TaskCodeGeneration, false, 800, 0.002)

	m, ok := tr.Get(ctx, "m1", model.TaskCodeGeneration)
	require.True(t, ok)
	assert.Equal(t, 2, m.RequestCount)
	assert.Equal(t, 1, m.SuccessCount)
	assert.InDelta(t, 0.5, m.SuccessRate(), 1e-9)

	// EMA with alpha 0.1: 1200 + 0.1*(800-1200) = 1160.
	assert.InDelta(t, 1160, m.AvgLatencyMs, 1e-9)
	assert.InDelta(t, 0.004+0.1*(0.002-0.004), m.AvgCost, 1e-12)
}

func TestTracker_UnseenPairIsNeutral(t *testing.T) {
	tr, _ := newTestTracker(nil)
	w := tr.RecommendationWeight(context.Background(), "never-seen", model.TaskPlanning)
	assert.InDelta(t, 0.5, w, 1e-9)
}

func TestTracker_WeightGrowsWithSamples(t *testing.T) {
	tr, _ := newTestTracker(nil)
	ctx := context.Background()

	tr.Record(ctx, "m1", model.TaskTesting, true, 100, 0.001)
	few := tr.RecommendationWeight(ctx, "m1", model.TaskTesting)

	for i := 0; i < 50; i++ {
		tr.Record(ctx, "m1", model.TaskTesting, true, 100, 0.001)
	}
	many := tr.RecommendationWeight(ctx, "m1", model.TaskTesting)

	assert.Greater(t, many, few, "confidence should grow with sample size")
	assert.LessOrEqual(t, many, 1.0)
}

func TestTracker_DecayMonotonicity(t *testing.T) {
	tr, clock := newTestTracker(nil)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		tr.Record(ctx, "m1", model.TaskAnalysis, true, 100, 0.001)
	}

	prev := tr.RecommendationWeight(ctx, "m1", model.TaskAnalysis)
	for day := 0; day < 30; day++ {
		clock.Advance(24 * time.Hour)
		w := tr.RecommendationWeight(ctx, "m1", model.TaskAnalysis)
		assert.LessOrEqual(t, w, prev, "weight must be non-increasing with age (day %d)", day)
		prev = w
	}
}

func TestTracker_HalfLife(t *testing.T) {
	tr, clock := newTestTracker(nil)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		tr.Record(ctx, "m1", model.TaskReasoning, true, 100, 0.001)
	}

	fresh := tr.RecommendationWeight(ctx, "m1", model.TaskReasoning)
	clock.Advance(7 * 24 * time.Hour)
	aged := tr.RecommendationWeight(ctx, "m1", model.TaskReasoning)

	assert.InDelta(t, fresh/2, aged, 0.01, "one half-life should halve the weight")
}

func TestTracker_KeysAreIndependent(t *testing.T) {
	tr, _ := newTestTracker(nil)
	ctx := context.Background()

	tr.Record(ctx, "m1", model.TaskTesting, true, 100, 0.001)
	tr.Record(ctx, "m2", model.TaskTesting, false, 200, 0.002)

	m1, ok := tr.Get(ctx, "m1", model.TaskTesting)
	require.True(t, ok)
	m2, ok := tr.Get(ctx, "m2", model.TaskTesting)
	require.True(t, ok)

	assert.Equal(t, 1, m1.SuccessCount)
	assert.Equal(t, 0, m2.SuccessCount)

	_, ok = tr.Get(ctx, "m1", model.TaskPlanning)
	assert.False(t, ok, "same model, different task is a different key")
}

func TestTracker_ConcurrentRecording(t *testing.T) {
	tr, _ := newTestTracker(nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	models := []string{"a", "b", "c", "d"}
	for _, id := range models {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				tr.Record(ctx, id, model.TaskCodeGeneration, true, 100, 0.001)
			}
		}()
	}
	wg.Wait()

	for _, id := range models {
		m, ok := tr.Get(ctx, id, model.TaskCodeGeneration)
		require.True(t, ok)
		assert.Equal(t, 100, m.RequestCount, "no update may be lost for %s", id)
		assert.Equal(t, 100, m.SuccessCount)
	}
}

func TestTracker_WriteThroughStore(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	tr, _ := newTestTracker(store)
	ctx := context.Background()

	tr.Record(ctx, "m1", model.TaskTesting, true, 100, 0.001)

	persisted, ok, err := store.Load(ctx, "m1", model.TaskTesting)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, persisted.RequestCount)
}

func TestTracker_ColdReadFallsBackToStore(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	warm, _ := newTestTracker(store)
	warm.Record(ctx, "m1", model.TaskTesting, true, 100, 0.001)

	// A fresh tracker simulates a process restart against the same store.
	cold, _ := newTestTracker(store)
	m, ok := cold.Get(ctx, "m1", model.TaskTesting)
	require.True(t, ok)
	assert.Equal(t, 1, m.RequestCount)

	w := cold.RecommendationWeight(ctx, "m1", model.TaskTesting)
	assert.Greater(t, w, 0.0)
}

func TestStoreKey_Namespace(t *testing.T) {
	assert.Equal(t, "moe:perf:openai/mini:code_review",
		StoreKey("openai/mini", model.TaskCodeReview))
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	clock := newTestClock()
	store.now = clock.Now
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "m1", model.TaskTesting, Metrics{RequestCount: 3}))

	_, ok, err := store.Load(ctx, "m1", model.TaskTesting)
	require.NoError(t, err)
	assert.True(t, ok)

	clock.Advance(2 * time.Minute)
	_, ok, err = store.Load(ctx, "m1", model.TaskTesting)
	require.NoError(t, err)
	assert.False(t, ok, "expired entry must be treated as missing")
	assert.Equal(t, 0, store.Len())
}
