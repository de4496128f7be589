package model

import (
	"fmt"
	"strings"
	"time"
)

// TaskType categorizes a routing request.
type TaskType string

const (
	TaskCodeGeneration TaskType = "code_generation"
	TaskCodeReview     TaskType = "code_review"
	TaskTesting        TaskType = "testing"
	TaskRefactoring    TaskType = "refactoring"
	TaskReasoning      TaskType = "reasoning"
	TaskPlanning       TaskType = "planning"
	TaskAnalysis       TaskType = "analysis"
	TaskSecurityAudit  TaskType = "security_audit"
	TaskDocumentation  TaskType = "documentation"
	TaskToolUse        TaskType = "tool_use"
	TaskMultimodal     TaskType = "multimodal"
	TaskLongContext    TaskType = "long_context"
)

// TaskTypes lists every known task type in stable order.
func TaskTypes() []TaskType {
	return []TaskType{
		TaskCodeGeneration, TaskCodeReview, TaskTesting, TaskRefactoring,
		TaskReasoning, TaskPlanning, TaskAnalysis, TaskSecurityAudit,
		TaskDocumentation, TaskToolUse, TaskMultimodal, TaskLongContext,
	}
}

// ParseTaskType converts a string into a known TaskType.
func ParseTaskType(s string) (TaskType, error) {
	candidate := TaskType(strings.ToLower(strings.TrimSpace(s)))
	for _, tt := range TaskTypes() {
		if tt == candidate {
			return tt, nil
		}
	}
	return "", fmt.Errorf("unknown task type %q", s)
}

// Valid reports whether the task type is one of the known categories.
func (t TaskType) Valid() bool {
	_, err := ParseTaskType(string(t))
	return err == nil
}

// Capability identifies a model feature a request may require.
type Capability string

const (
	CapabilityVision    Capability = "vision"
	CapabilityTools     Capability = "tools"
	CapabilityJSONMode  Capability = "json_mode"
	CapabilityStreaming Capability = "streaming"
)

// Capabilities describes the feature set a model declares.
type Capabilities struct {
	Vision    bool `yaml:"vision" json:"vision"`
	Tools     bool `yaml:"tools" json:"tools"`
	JSONMode  bool `yaml:"json_mode" json:"json_mode"`
	Streaming bool `yaml:"streaming" json:"streaming"`
}

// Has reports whether a single capability is present.
func (c Capabilities) Has(cap Capability) bool {
	switch cap {
	case CapabilityVision:
		return c.Vision
	case CapabilityTools:
		return c.Tools
	case CapabilityJSONMode:
		return c.JSONMode
	case CapabilityStreaming:
		return c.Streaming
	default:
		return false
	}
}

// PreferenceTier classifies a model for a task type.
type PreferenceTier string

const (
	TierPreferred PreferenceTier = "preferred"
	TierBudget    PreferenceTier = "budget"
)

// ModelDefinition is an immutable registry entry describing one endpoint.
// Prices are normalized to dollars per million tokens, matching the
// catalog convention used upstream.
type ModelDefinition struct {
	ID               string                      `json:"id"`
	Provider         string                      `json:"provider"`
	Quality          float64                     `json:"quality"`
	PricePerMilIn    float64                     `json:"price_per_mil_in"`
	PricePerMilOut   float64                     `json:"price_per_mil_out"`
	MaxContextTokens int                         `json:"max_context_tokens"`
	LatencyP50       time.Duration               `json:"latency_p50"`
	Capabilities     Capabilities                `json:"capabilities"`
	Enabled          bool                        `json:"enabled"`
	TaskPreferences  map[TaskType]PreferenceTier `json:"task_preferences,omitempty"`
}

// PreferenceFor returns the model's tier for a task, if classified.
func (m *ModelDefinition) PreferenceFor(task TaskType) (PreferenceTier, bool) {
	tier, ok := m.TaskPreferences[task]
	return tier, ok
}

// RoutingRequest is the caller-supplied description of a task to route.
// Immutable per call; Budget is nil when the caller imposes no ceiling.
type RoutingRequest struct {
	RequestID         string         `json:"request_id,omitempty"`
	TaskType          TaskType       `json:"task_type"`
	Description       string         `json:"description,omitempty"`
	Budget            *float64       `json:"budget,omitempty"`
	MinQuality        float64        `json:"min_quality,omitempty"`
	MinContextTokens  int            `json:"min_context_tokens,omitempty"`
	RequiredCaps      []Capability   `json:"required_capabilities,omitempty"`
	MaxLatency        time.Duration  `json:"max_latency,omitempty"`
	PreferredProvider string         `json:"preferred_provider,omitempty"`
	Parallel          bool           `json:"parallel,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// Critical reports whether the caller flagged this request as critical
// via metadata.
func (r *RoutingRequest) Critical() bool {
	if r.Metadata == nil {
		return false
	}
	switch v := r.Metadata["critical"].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	default:
		return false
	}
}

// Validate checks the request for structural problems before routing.
func (r *RoutingRequest) Validate() error {
	if !r.TaskType.Valid() {
		return &InvalidRequestError{Field: "task_type", Reason: fmt.Sprintf("unknown task type %q", r.TaskType)}
	}
	if r.Budget != nil && *r.Budget < 0 {
		return &InvalidRequestError{Field: "budget", Reason: "budget cannot be negative"}
	}
	if r.MinQuality < 0 || r.MinQuality > 1 {
		return &InvalidRequestError{Field: "min_quality", Reason: "minimum quality must be in [0,1]"}
	}
	if r.MinContextTokens < 0 {
		return &InvalidRequestError{Field: "min_context_tokens", Reason: "context requirement cannot be negative"}
	}
	if r.MaxLatency < 0 {
		return &InvalidRequestError{Field: "max_latency", Reason: "latency ceiling cannot be negative"}
	}
	return nil
}

// ConsensusStrategy tells the caller how to reconcile parallel outputs.
type ConsensusStrategy string

const (
	ConsensusJudge           ConsensusStrategy = "judge"
	ConsensusQualityWeighted ConsensusStrategy = "quality_weighted"
	ConsensusVoting          ConsensusStrategy = "voting"
	ConsensusFirstSuccess    ConsensusStrategy = "first_success"
)

// Evidence is a single audit-trail entry explaining a score contribution.
// It is never consulted for control flow.
type Evidence struct {
	Source    string    `json:"source"`
	Detail    string    `json:"detail"`
	Weight    float64   `json:"weight"`
	Timestamp time.Time `json:"timestamp"`
}

// RoutingDecision is the immutable output of a selection pass.
type RoutingDecision struct {
	ID            string            `json:"id"`
	RequestID     string            `json:"request_id,omitempty"`
	TaskType      TaskType          `json:"task_type"`
	SelectedModel string            `json:"selected_model"`
	ParallelSet   []string          `json:"parallel_set,omitempty"`
	Fallbacks     []string          `json:"fallbacks,omitempty"`
	EstimatedCost float64           `json:"estimated_cost"`
	Confidence    float64           `json:"confidence"`
	Rationale     string            `json:"rationale"`
	Evidence      []Evidence        `json:"evidence,omitempty"`
	JudgeModel    string            `json:"judge_model,omitempty"`
	Consensus     ConsensusStrategy `json:"consensus,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// IsParallel reports whether the decision fans out to multiple models.
func (d *RoutingDecision) IsParallel() bool {
	return len(d.ParallelSet) > 1
}

// Outcome classifies the real-world result of a routed request.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailure Outcome = "failure"
)

// Weight returns the base score contribution of the outcome.
func (o Outcome) Weight() float64 {
	switch o {
	case OutcomeSuccess:
		return 1.0
	case OutcomePartial:
		return 0.5
	default:
		return 0.0
	}
}

// FeedbackData is an outcome event reported by the caller once the
// real-world result of a routed request is known.
type FeedbackData struct {
	RequestID    string    `json:"request_id"`
	ModelID      string    `json:"model_id"`
	TaskType     TaskType  `json:"task_type"`
	Outcome      Outcome   `json:"outcome"`
	QualityScore *float64  `json:"quality_score,omitempty"`
	PRMerged     bool      `json:"pr_merged,omitempty"`
	PRReverted   bool      `json:"pr_reverted,omitempty"`
	UserRating   *int      `json:"user_rating,omitempty"`
	ReceivedAt   time.Time `json:"received_at,omitempty"`
}

// Validate checks feedback for structural problems before ingestion.
func (f *FeedbackData) Validate() error {
	if strings.TrimSpace(f.ModelID) == "" {
		return &InvalidRequestError{Field: "model_id", Reason: "model id is required"}
	}
	if !f.TaskType.Valid() {
		return &InvalidRequestError{Field: "task_type", Reason: fmt.Sprintf("unknown task type %q", f.TaskType)}
	}
	switch f.Outcome {
	case OutcomeSuccess, OutcomePartial, OutcomeFailure:
	default:
		return &InvalidRequestError{Field: "outcome", Reason: fmt.Sprintf("unknown outcome %q", f.Outcome)}
	}
	if f.UserRating != nil && (*f.UserRating < 1 || *f.UserRating > 5) {
		return &InvalidRequestError{Field: "user_rating", Reason: "rating must be between 1 and 5"}
	}
	return nil
}
