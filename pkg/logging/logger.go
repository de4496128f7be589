// Package logging writes structured JSONL events for routing activity.
// Every decision, error, and feedback event lands in an append-only file
// so routing behavior can be replayed and audited offline.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level represents log severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Category represents the subsystem generating the log
type Category string

const (
	CategoryRouting     Category = "routing"
	CategoryRegistry    Category = "registry"
	CategoryBreaker     Category = "breaker"
	CategoryPerformance Category = "performance"
	CategoryLearning    Category = "learning"
	CategoryHybrid      Category = "hybrid"
	CategoryFeedback    Category = "feedback"
	CategoryStorage     Category = "storage"
	CategoryServer      Category = "server"
)

// Event represents a structured log event
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Category  Category       `json:"category"`
	EventType string         `json:"type"`
	RequestID string         `json:"request_id,omitempty"`
	ModelID   string         `json:"model_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// Logger writes structured events to multiple destinations: everything
// goes to the main log, errors additionally to errors.jsonl, routing
// decisions to decisions.jsonl, and feedback events to feedback.jsonl.
type Logger struct {
	baseDir      string
	mainFile     *os.File
	errorFile    *os.File
	decisionFile *os.File
	feedbackFile *os.File
	mu           sync.Mutex
	minLevel     Level
}

// NewLogger creates a new structured logger rooted at baseDir.
func NewLogger(baseDir string) (*Logger, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	open := func(name string) (*os.File, error) {
		return os.OpenFile(
			filepath.Join(baseDir, name),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND,
			0644,
		)
	}

	mainFile, err := open("router.jsonl")
	if err != nil {
		return nil, fmt.Errorf("failed to open main log: %w", err)
	}
	errorFile, err := open("errors.jsonl")
	if err != nil {
		mainFile.Close()
		return nil, fmt.Errorf("failed to open error log: %w", err)
	}
	decisionFile, err := open("decisions.jsonl")
	if err != nil {
		mainFile.Close()
		errorFile.Close()
		return nil, fmt.Errorf("failed to open decision log: %w", err)
	}
	feedbackFile, err := open("feedback.jsonl")
	if err != nil {
		mainFile.Close()
		errorFile.Close()
		decisionFile.Close()
		return nil, fmt.Errorf("failed to open feedback log: %w", err)
	}

	return &Logger{
		baseDir:      baseDir,
		mainFile:     mainFile,
		errorFile:    errorFile,
		decisionFile: decisionFile,
		feedbackFile: feedbackFile,
		minLevel:     LevelInfo,
	}, nil
}

// SetMinLevel sets the minimum log level
func (l *Logger) SetMinLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
}

// Log writes an event to appropriate destinations
func (l *Logger) Log(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if !l.shouldLog(event.Level) {
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	data = append(data, '\n')

	if l.mainFile != nil {
		if _, err := l.mainFile.Write(data); err != nil {
			return fmt.Errorf("failed to write to main log: %w", err)
		}
	}
	if event.Level == LevelError && l.errorFile != nil {
		if _, err := l.errorFile.Write(data); err != nil {
			return fmt.Errorf("failed to write to error log: %w", err)
		}
	}
	if event.Category == CategoryRouting && event.EventType == "decision" && l.decisionFile != nil {
		if _, err := l.decisionFile.Write(data); err != nil {
			return fmt.Errorf("failed to write to decision log: %w", err)
		}
	}
	if event.Category == CategoryFeedback && l.feedbackFile != nil {
		if _, err := l.feedbackFile.Write(data); err != nil {
			return fmt.Errorf("failed to write to feedback log: %w", err)
		}
	}

	return nil
}

// shouldLog checks if event should be logged based on level
func (l *Logger) shouldLog(level Level) bool {
	levels := map[Level]int{
		LevelDebug: 0,
		LevelInfo:  1,
		LevelWarn:  2,
		LevelError: 3,
	}
	return levels[level] >= levels[l.minLevel]
}

// Helper methods for common log patterns

// Debug logs a debug event
func (l *Logger) Debug(category Category, eventType string, message string, details map[string]any) error {
	return l.Log(Event{
		Level:     LevelDebug,
		Category:  category,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}

// Info logs an info event
func (l *Logger) Info(category Category, eventType string, message string, details map[string]any) error {
	return l.Log(Event{
		Level:     LevelInfo,
		Category:  category,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}

// Warn logs a warning event
func (l *Logger) Warn(category Category, eventType string, message string, details map[string]any) error {
	return l.Log(Event{
		Level:     LevelWarn,
		Category:  category,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}

// Error logs an error event
func (l *Logger) Error(category Category, eventType string, message string, details map[string]any) error {
	return l.Log(Event{
		Level:     LevelError,
		Category:  category,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}

// Decision logs a routing decision to the main and decision logs.
func (l *Logger) Decision(requestID, modelID string, details map[string]any) error {
	return l.Log(Event{
		Level:     LevelInfo,
		Category:  CategoryRouting,
		EventType: "decision",
		RequestID: requestID,
		ModelID:   modelID,
		Details:   details,
	})
}

// Feedback logs a feedback event to the main and feedback logs.
func (l *Logger) Feedback(requestID, modelID string, details map[string]any) error {
	return l.Log(Event{
		Level:     LevelInfo,
		Category:  CategoryFeedback,
		EventType: "feedback",
		RequestID: requestID,
		ModelID:   modelID,
		Details:   details,
	})
}

// Close closes all log files
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for _, f := range []*os.File{l.mainFile, l.errorFile, l.decisionFile, l.feedbackFile} {
		if f != nil {
			if err := f.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing log files: %v", errs)
	}
	return nil
}

// ReadRecentEvents reads the last N events from a JSONL log file.
func ReadRecentEvents(logPath string, count int) ([]Event, error) {
	file, err := os.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	defer file.Close()

	var events []Event
	decoder := json.NewDecoder(file)
	for {
		var event Event
		if err := decoder.Decode(&event); err != nil {
			break
		}
		events = append(events, event)
	}

	if len(events) > count {
		events = events[len(events)-count:]
	}
	return events, nil
}
