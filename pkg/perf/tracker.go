// Package perf tracks rolling, time-decayed performance statistics per
// (model, task type) pair. The data is advisory scoring input, not a
// ledger: readers may observe either side of an in-flight update, and
// losing the backing store only degrades scoring quality.
package perf

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/odvcencio/moerouter/pkg/model"
)

const shardCount = 16

// Metrics holds the rolling statistics for one (model, task) key.
type Metrics struct {
	RequestCount int       `json:"request_count"`
	SuccessCount int       `json:"success_count"`
	AvgLatencyMs float64   `json:"avg_latency_ms"`
	AvgCost      float64   `json:"avg_cost"`
	LastSample   time.Time `json:"last_sample"`
}

// SuccessRate returns the observed success ratio, zero when unseen.
func (m Metrics) SuccessRate() float64 {
	if m.RequestCount == 0 {
		return 0
	}
	return float64(m.SuccessCount) / float64(m.RequestCount)
}

// Config holds tracker tuning. The smoothing constant and half-life are
// configuration rather than hard-coded so they can be tuned per deployment.
type Config struct {
	// Alpha is the exponential moving average smoothing factor.
	Alpha float64
	// HalfLife is the age at which confidence in a sample halves.
	HalfLife time.Duration
	// NeutralWeight is returned for unseen (model, task) pairs so new
	// models are not permanently starved.
	NeutralWeight float64
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		Alpha:         0.1,
		HalfLife:      7 * 24 * time.Hour,
		NeutralWeight: 0.5,
	}
}

type shard struct {
	mu      sync.RWMutex
	metrics map[key]Metrics
}

type key struct {
	modelID string
	task    model.TaskType
}

// Tracker accumulates per-key statistics behind sharded locks, so
// concurrent updates to different keys never contend on a global lock.
type Tracker struct {
	config Config
	store  Store
	now    func() time.Time
	shards [shardCount]*shard
}

// NewTracker creates a tracker. store may be nil for memory-only
// operation; when present it is consulted lazily on first read of a key
// and written through best-effort on every update.
func NewTracker(config Config, store Store) *Tracker {
	if config.Alpha <= 0 || config.Alpha > 1 {
		config.Alpha = DefaultConfig().Alpha
	}
	if config.HalfLife <= 0 {
		config.HalfLife = DefaultConfig().HalfLife
	}
	if config.NeutralWeight <= 0 {
		config.NeutralWeight = DefaultConfig().NeutralWeight
	}
	t := &Tracker{
		config: config,
		store:  store,
		now:    time.Now,
	}
	for i := range t.shards {
		t.shards[i] = &shard{metrics: make(map[key]Metrics)}
	}
	return t
}

// SetClock overrides the time source. Intended for tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

func (t *Tracker) shardFor(k key) *shard {
	h := fnv.New32a()
	h.Write([]byte(k.modelID))
	h.Write([]byte{0})
	h.Write([]byte(k.task))
	return t.shards[h.Sum32()%shardCount]
}

// Record folds one reported outcome into the key's statistics.
func (t *Tracker) Record(ctx context.Context, modelID string, task model.TaskType, success bool, latencyMs float64, cost float64) {
	k := key{modelID: modelID, task: task}
	sh := t.shardFor(k)

	sh.mu.Lock()
	m, ok := sh.metrics[k]
	if !ok {
		m = t.loadFromStore(ctx, k)
	}

	if m.RequestCount == 0 {
		m.AvgLatencyMs = latencyMs
		m.AvgCost = cost
	} else {
		m.AvgLatencyMs = m.AvgLatencyMs + t.config.Alpha*(latencyMs-m.AvgLatencyMs)
		m.AvgCost = m.AvgCost + t.config.Alpha*(cost-m.AvgCost)
	}
	m.RequestCount++
	if success {
		m.SuccessCount++
	}
	m.LastSample = t.now()
	sh.metrics[k] = m
	sh.mu.Unlock()

	if t.store != nil {
		// Best effort; a store outage must never fail outcome recording.
		_ = t.store.Save(ctx, modelID, task, m)
	}
}

// loadFromStore pulls persisted metrics for a cold key. Caller holds the
// shard lock.
func (t *Tracker) loadFromStore(ctx context.Context, k key) Metrics {
	if t.store == nil {
		return Metrics{}
	}
	m, ok, err := t.store.Load(ctx, k.modelID, k.task)
	if err != nil || !ok {
		return Metrics{}
	}
	return m
}

// Get returns the current metrics for a key and whether it has been seen.
func (t *Tracker) Get(ctx context.Context, modelID string, task model.TaskType) (Metrics, bool) {
	k := key{modelID: modelID, task: task}
	sh := t.shardFor(k)

	sh.mu.RLock()
	m, ok := sh.metrics[k]
	sh.mu.RUnlock()
	if ok {
		return m, true
	}

	if t.store == nil {
		return Metrics{}, false
	}
	loaded, found, err := t.store.Load(ctx, modelID, task)
	if err != nil || !found {
		return Metrics{}, false
	}

	sh.mu.Lock()
	if existing, raced := sh.metrics[k]; raced {
		// A concurrent writer populated the key; keep its view.
		sh.mu.Unlock()
		return existing, true
	}
	sh.metrics[k] = loaded
	sh.mu.Unlock()
	return loaded, true
}

// Confidence returns the sample-size and staleness factor for metrics m
// as of now: it grows with request count and halves per HalfLife of age.
func (t *Tracker) confidence(m Metrics) float64 {
	if m.RequestCount == 0 {
		return 0
	}
	sampleFactor := float64(m.RequestCount) / float64(m.RequestCount+5)
	ageDays := t.now().Sub(m.LastSample).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	halfLifeDays := t.config.HalfLife.Hours() / 24
	decay := math.Pow(0.5, ageDays/halfLifeDays)
	return sampleFactor * decay
}

// RecommendationWeight blends success rate and confidence into [0,1].
// Unseen pairs return the neutral weight.
func (t *Tracker) RecommendationWeight(ctx context.Context, modelID string, task model.TaskType) float64 {
	m, ok := t.Get(ctx, modelID, task)
	if !ok || m.RequestCount == 0 {
		return t.config.NeutralWeight
	}
	return m.SuccessRate() * t.confidence(m)
}

// Keys returns every tracked (model, task) pair currently in memory.
func (t *Tracker) Keys() []struct {
	ModelID  string
	TaskType model.TaskType
} {
	var out []struct {
		ModelID  string
		TaskType model.TaskType
	}
	for _, sh := range t.shards {
		sh.mu.RLock()
		for k := range sh.metrics {
			out = append(out, struct {
				ModelID  string
				TaskType model.TaskType
			}{k.modelID, k.task})
		}
		sh.mu.RUnlock()
	}
	return out
}

// Snapshot returns a copy of every in-memory key's metrics.
func (t *Tracker) Snapshot() map[string]map[model.TaskType]Metrics {
	out := make(map[string]map[model.TaskType]Metrics)
	for _, sh := range t.shards {
		sh.mu.RLock()
		for k, m := range sh.metrics {
			byTask, ok := out[k.modelID]
			if !ok {
				byTask = make(map[model.TaskType]Metrics)
				out[k.modelID] = byTask
			}
			byTask[k.task] = m
		}
		sh.mu.RUnlock()
	}
	return out
}
