// Package breaker implements per-model circuit breaking. The router never
// invokes models itself, so breakers observe reported outcomes rather than
// wrapping calls: callers feed successes and failures in, and filtering
// asks Allow before considering a model.
package breaker

import (
	"sync"
	"time"
)

// State represents the state of one circuit.
type State int

const (
	// StateClosed allows the model through filtering.
	StateClosed State = iota
	// StateOpen excludes the model from filtering.
	StateOpen
	// StateHalfOpen lets exactly one probe selection through.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker tuning.
type Config struct {
	// FailureThreshold is the number of failures within Window that open
	// the circuit.
	FailureThreshold int
	// Window is the sliding interval failures are counted in.
	Window time.Duration
	// ResetTimeout is how long an open circuit waits before allowing a
	// half-open probe.
	ResetTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Window:           60 * time.Second,
		ResetTimeout:     30 * time.Second,
	}
}

// Breaker is the state machine for a single model id.
type Breaker struct {
	config Config
	now    func() time.Time

	mu           sync.Mutex
	state        State
	failureCount int
	lastFailure  time.Time
	openedAt     time.Time
	probed       bool
	probedAt     time.Time
}

// NewBreaker creates a closed breaker with the given configuration.
func NewBreaker(config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if config.Window <= 0 {
		config.Window = DefaultConfig().Window
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = DefaultConfig().ResetTimeout
	}
	return &Breaker{
		config: config,
		state:  StateClosed,
		now:    time.Now,
	}
}

// Allow reports whether the model may be considered for selection.
// When an open circuit has waited out ResetTimeout, this observation
// transitions it to half-open and clears the failure counter. A
// half-open circuit admits exactly one probe until an outcome is
// recorded for it; a probe whose outcome never arrives re-arms after
// another ResetTimeout so an abandoned decision cannot wedge the
// circuit.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.config.ResetTimeout {
		b.state = StateHalfOpen
		b.failureCount = 0
		b.probed = false
	}
	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.probed && b.now().Sub(b.probedAt) < b.config.ResetTimeout {
			return false
		}
		b.probed = true
		b.probedAt = b.now()
		return true
	default:
		return false
	}
}

// RecordSuccess feeds a successful outcome into the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.state = StateClosed
		b.failureCount = 0
		b.lastFailure = time.Time{}
		b.probed = false
		b.probedAt = time.Time{}
	case StateClosed:
		// A success after the window expired forgets old failures.
		if b.failureCount > 0 && b.now().Sub(b.lastFailure) >= b.config.Window {
			b.failureCount = 0
		}
	}
}

// RecordFailure feeds a failed outcome into the circuit.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	switch b.state {
	case StateHalfOpen:
		// The probe failed; re-open immediately.
		b.state = StateOpen
		b.openedAt = now
		b.lastFailure = now
		b.failureCount = 1
		b.probed = false
		b.probedAt = time.Time{}
	case StateClosed:
		if b.failureCount > 0 && now.Sub(b.lastFailure) >= b.config.Window {
			b.failureCount = 0
		}
		b.failureCount++
		b.lastFailure = now
		if b.failureCount >= b.config.FailureThreshold {
			b.state = StateOpen
			b.openedAt = now
		}
	case StateOpen:
		b.lastFailure = now
	}
}

// State reports the current state. An open circuit past its reset
// timeout reports half-open without committing the transition; Allow
// owns the state change.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.config.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Snapshot reports the circuit's observable state for introspection.
type Snapshot struct {
	State        string    `json:"state"`
	FailureCount int       `json:"failure_count"`
	LastFailure  time.Time `json:"last_failure,omitempty"`
	OpenedAt     time.Time `json:"opened_at,omitempty"`
}

// Snapshot returns the current observable state.
func (b *Breaker) Snapshot() Snapshot {
	state := b.State()
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:        state.String(),
		FailureCount: b.failureCount,
		LastFailure:  b.lastFailure,
		OpenedAt:     b.openedAt,
	}
}

// Set manages one breaker per model id. Breakers for different models
// never share a lock, so updates to different keys cannot contend.
type Set struct {
	config Config
	now    func() time.Time

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewSet creates an empty breaker set.
func NewSet(config Config) *Set {
	return &Set{
		config:   config,
		now:      time.Now,
		breakers: make(map[string]*Breaker),
	}
}

// SetClock overrides the time source for the set and all breakers it
// creates afterwards. Intended for tests.
func (s *Set) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	for _, b := range s.breakers {
		b.mu.Lock()
		b.now = now
		b.mu.Unlock()
	}
}

func (s *Set) breaker(modelID string) *Breaker {
	s.mu.RLock()
	b, ok := s.breakers[modelID]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[modelID]; ok {
		return b
	}
	b = NewBreaker(s.config)
	b.now = s.now
	s.breakers[modelID] = b
	return b
}

// Allow reports whether the model may be considered for selection.
func (s *Set) Allow(modelID string) bool {
	return s.breaker(modelID).Allow()
}

// RecordSuccess feeds a success into the model's circuit.
func (s *Set) RecordSuccess(modelID string) {
	s.breaker(modelID).RecordSuccess()
}

// RecordFailure feeds a failure into the model's circuit.
func (s *Set) RecordFailure(modelID string) {
	s.breaker(modelID).RecordFailure()
}

// State returns the state of the model's circuit.
func (s *Set) State(modelID string) State {
	return s.breaker(modelID).State()
}

// Snapshots returns the observable state of every tracked circuit.
func (s *Set) Snapshots() map[string]Snapshot {
	s.mu.RLock()
	ids := make([]string, 0, len(s.breakers))
	for id := range s.breakers {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	out := make(map[string]Snapshot, len(ids))
	for _, id := range ids {
		out[id] = s.breaker(id).Snapshot()
	}
	return out
}
