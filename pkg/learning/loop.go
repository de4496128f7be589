// Package learning turns reported feedback into per-model routing
// weights and runs A/B experiments over live traffic splits.
package learning

import (
	"sync"
	"time"

	"github.com/odvcencio/moerouter/pkg/model"
)

const (
	// DefaultAlpha matches the smoothing factor used by the performance
	// tracker so both signals react at the same speed.
	DefaultAlpha = 0.1
	// DefaultWeight is the neutral starting point for unseen pairs.
	DefaultWeight = 0.5
	// historyLimit bounds retained feedback per (model, task) pair.
	historyLimit = 100
)

type weightKey struct {
	modelID string
	task    model.TaskType
}

type weightEntry struct {
	weight  float64
	samples int
	history []scoredFeedback
	updated time.Time
}

type scoredFeedback struct {
	score      float64
	outcome    model.Outcome
	receivedAt time.Time
}

// Loop ingests feedback events and maintains smoothed weights per
// (model, task type) pair. All methods are safe for concurrent use.
type Loop struct {
	alpha float64
	now   func() time.Time

	mu      sync.RWMutex
	entries map[weightKey]*weightEntry

	experiments *ABTester
}

// NewLoop creates a learning loop with the default smoothing factor.
func NewLoop() *Loop {
	return &Loop{
		alpha:       DefaultAlpha,
		now:         time.Now,
		entries:     make(map[weightKey]*weightEntry),
		experiments: NewABTester(),
	}
}

// SetClock overrides the time source. Intended for tests.
func (l *Loop) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Experiments exposes the loop's A/B tester.
func (l *Loop) Experiments() *ABTester {
	return l.experiments
}

// FeedbackScore reduces a feedback event to a scalar in [0,1]. The
// outcome sets the base, the optional quality score scales it, PR fate
// nudges it, and a user rating blends in equally when present.
func FeedbackScore(f *model.FeedbackData) float64 {
	quality := 1.0
	if f.QualityScore != nil {
		quality = clamp01(*f.QualityScore)
	}
	score := f.Outcome.Weight() * quality

	if f.PRMerged {
		score += 0.2
		if score > 1.0 {
			score = 1.0
		}
	}
	if f.PRReverted {
		score -= 0.5
		if score < 0.0 {
			score = 0.0
		}
	}
	if f.UserRating != nil {
		score = (score + float64(*f.UserRating)/5.0) / 2.0
	}
	return clamp01(score)
}

// CollectFeedback validates and ingests one feedback event, smoothing
// the pair's weight toward the event's score and feeding any active
// experiment for the task.
func (l *Loop) CollectFeedback(f *model.FeedbackData) error {
	if err := f.Validate(); err != nil {
		return err
	}

	score := FeedbackScore(f)
	key := weightKey{modelID: f.ModelID, task: f.TaskType}

	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &weightEntry{weight: DefaultWeight}
		l.entries[key] = entry
	}
	entry.weight += l.alpha * (score - entry.weight)
	entry.samples++
	entry.updated = l.now()
	entry.history = append(entry.history, scoredFeedback{
		score:      score,
		outcome:    f.Outcome,
		receivedAt: entry.updated,
	})
	if len(entry.history) > historyLimit {
		entry.history = entry.history[len(entry.history)-historyLimit:]
	}
	l.mu.Unlock()

	l.experiments.RecordResult(f.TaskType, f.ModelID, score)
	return nil
}

// Weight returns the learned weight for a pair, or the neutral default
// when no feedback has been seen.
func (l *Loop) Weight(modelID string, task model.TaskType) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if entry, ok := l.entries[weightKey{modelID: modelID, task: task}]; ok {
		return entry.weight
	}
	return DefaultWeight
}

// WeightSnapshot is one pair's learned state for introspection.
type WeightSnapshot struct {
	ModelID  string         `json:"model_id"`
	TaskType model.TaskType `json:"task_type"`
	Weight   float64        `json:"weight"`
	Samples  int            `json:"samples"`
	Updated  time.Time      `json:"updated"`
}

// Snapshot returns the learned state of every tracked pair.
func (l *Loop) Snapshot() []WeightSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]WeightSnapshot, 0, len(l.entries))
	for key, entry := range l.entries {
		out = append(out, WeightSnapshot{
			ModelID:  key.modelID,
			TaskType: key.task,
			Weight:   entry.weight,
			Samples:  entry.samples,
			Updated:  entry.updated,
		})
	}
	return out
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
