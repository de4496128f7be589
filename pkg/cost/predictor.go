// Package cost estimates token usage and dollar cost for a routing
// request against a candidate model, and validates the estimate against
// the caller's budget.
package cost

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/odvcencio/moerouter/pkg/model"
)

var (
	tokenEncoder *tiktoken.Tiktoken
	encoderOnce  sync.Once
	encoderErr   error
)

// initTokenEncoder initializes the tiktoken encoder (lazy initialization)
func initTokenEncoder() error {
	encoderOnce.Do(func() {
		tokenEncoder, encoderErr = tiktoken.GetEncoding("cl100k_base")
	})
	return encoderErr
}

// CountTokens counts tokens in a text using tiktoken, falling back to a
// chars/4 estimate if the encoder is unavailable.
func CountTokens(text string) int {
	if err := initTokenEncoder(); err != nil {
		return estimateTokens(text)
	}
	return len(tokenEncoder.Encode(text, nil, nil))
}

// estimateTokens approximates token count as roughly 4 characters per token.
func estimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// outputMultipliers scale expected completion size per task type.
// Reasoning-heavy tasks produce substantially more output than the prompt;
// review and analysis tasks produce less.
var outputMultipliers = map[model.TaskType]float64{
	model.TaskCodeGeneration: 2.0,
	model.TaskCodeReview:     1.2,
	model.TaskTesting:        2.0,
	model.TaskRefactoring:    1.8,
	model.TaskReasoning:      3.0,
	model.TaskPlanning:       2.5,
	model.TaskAnalysis:       1.5,
	model.TaskSecurityAudit:  1.5,
	model.TaskDocumentation:  1.8,
	model.TaskToolUse:        1.0,
	model.TaskMultimodal:     1.2,
	model.TaskLongContext:    0.8,
}

const (
	// promptOverheadTokens accounts for system prompt and formatting the
	// caller adds around the task description.
	promptOverheadTokens = 500
	// minOutputTokens floors the completion estimate for trivial prompts.
	minOutputTokens = 200
	// varianceBand is the symmetric uncertainty applied around the
	// expected cost.
	varianceBand = 0.30
)

// Prediction is the estimated cost envelope for one (request, model) pair.
type Prediction struct {
	ModelID      string  `json:"model_id"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	MinCost      float64 `json:"min_cost"`
	ExpectedCost float64 `json:"expected_cost"`
	MaxCost      float64 `json:"max_cost"`
}

// Predictor estimates request cost from description length, task type and
// declared per-token prices.
type Predictor struct{}

// NewPredictor creates a predictor.
func NewPredictor() *Predictor {
	return &Predictor{}
}

// Predict estimates the cost envelope for running the request on def.
func (p *Predictor) Predict(req *model.RoutingRequest, def *model.ModelDefinition) Prediction {
	inputTokens := CountTokens(req.Description) + promptOverheadTokens

	multiplier, ok := outputMultipliers[req.TaskType]
	if !ok {
		multiplier = 1.5
	}
	outputTokens := int(float64(inputTokens) * multiplier)
	if outputTokens < minOutputTokens {
		outputTokens = minOutputTokens
	}

	inputCost := float64(inputTokens) / 1_000_000 * def.PricePerMilIn
	outputCost := float64(outputTokens) / 1_000_000 * def.PricePerMilOut
	expected := inputCost + outputCost

	return Prediction{
		ModelID:      def.ID,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		MinCost:      expected * (1 - varianceBand),
		ExpectedCost: expected,
		MaxCost:      expected * (1 + varianceBand),
	}
}

// ValidateBudget fails closed: any model whose expected cost exceeds the
// budget is treated as unaffordable. A nil budget never fails.
func (p *Predictor) ValidateBudget(pred Prediction, budget *float64) error {
	if budget == nil {
		return nil
	}
	if pred.ExpectedCost > *budget {
		return fmt.Errorf("cost: model %s expected $%.6f exceeds budget $%.6f",
			pred.ModelID, pred.ExpectedCost, *budget)
	}
	return nil
}

// CostFromTokens converts observed token counts into dollars using the
// model's declared prices. Used when callers report outcomes with token
// usage instead of a precomputed cost.
func CostFromTokens(def *model.ModelDefinition, inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1_000_000*def.PricePerMilIn +
		float64(outputTokens)/1_000_000*def.PricePerMilOut
}
