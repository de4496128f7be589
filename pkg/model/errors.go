package model

import (
	"fmt"
	"strings"
)

// InvalidRequestError indicates a malformed routing request or feedback
// event. Raised before any filtering or scoring happens.
type InvalidRequestError struct {
	Field  string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid request: %s", e.Reason)
}

// NoAvailableModelError indicates filtering removed every candidate.
// The Evidence trail explains what was considered and why each model
// was excluded; it is surfaced to the caller for debugging.
type NoAvailableModelError struct {
	TaskType   TaskType
	Considered int
	Reasons    map[string]string // model id -> removal reason
	Evidence   []Evidence
}

func (e *NoAvailableModelError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "no available model for task %s: %d candidates considered", e.TaskType, e.Considered)
	if len(e.Reasons) > 0 {
		b.WriteString(" (")
		first := true
		for id, reason := range e.Reasons {
			if !first {
				b.WriteString("; ")
			}
			fmt.Fprintf(&b, "%s: %s", id, reason)
			first = false
		}
		b.WriteString(")")
	}
	return b.String()
}

// BudgetExceededError is a specialization of NoAvailableModelError raised
// when every candidate was removed for budget reasons alone, so callers
// can message it distinctly.
type BudgetExceededError struct {
	TaskType   TaskType
	Budget     float64
	Considered int
	Evidence   []Evidence
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget $%.6f too low for task %s: all %d candidates exceed it",
		e.Budget, e.TaskType, e.Considered)
}
