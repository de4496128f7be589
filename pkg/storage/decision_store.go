package storage

import (
	"strings"
	"time"

	"github.com/odvcencio/moerouter/pkg/model"
)

const timeFormat = "2006-01-02 15:04:05"

// SaveDecision records a routing decision.
func (s *Store) SaveDecision(d *model.RoutingDecision) error {
	query := `
		INSERT INTO routing_decisions
			(id, request_id, task_type, selected_model, parallel_set, fallbacks,
			 estimated_cost, confidence, rationale, judge_model, consensus, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		d.ID,
		d.RequestID,
		string(d.TaskType),
		d.SelectedModel,
		strings.Join(d.ParallelSet, ","),
		strings.Join(d.Fallbacks, ","),
		d.EstimatedCost,
		d.Confidence,
		d.Rationale,
		d.JudgeModel,
		string(d.Consensus),
		d.CreatedAt.UTC().Format(timeFormat),
	)
	return err
}

// GetDecision loads one decision by id.
func (s *Store) GetDecision(id string) (*model.RoutingDecision, error) {
	query := `
		SELECT id, request_id, task_type, selected_model, parallel_set, fallbacks,
		       estimated_cost, confidence, rationale, judge_model, consensus, created_at
		FROM routing_decisions
		WHERE id = ?
	`
	return scanDecision(s.db.QueryRow(query, id))
}

// RecentDecisions returns the newest decisions, most recent first.
func (s *Store) RecentDecisions(limit int) ([]*model.RoutingDecision, error) {
	query := `
		SELECT id, request_id, task_type, selected_model, parallel_set, fallbacks,
		       estimated_cost, confidence, rationale, judge_model, consensus, created_at
		FROM routing_decisions
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.RoutingDecision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ModelSelectionCounts returns how often each model has been selected.
func (s *Store) ModelSelectionCounts() (map[string]int, error) {
	rows, err := s.db.Query(`
		SELECT selected_model, COUNT(*)
		FROM routing_decisions
		GROUP BY selected_model
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecision(row rowScanner) (*model.RoutingDecision, error) {
	var d model.RoutingDecision
	var taskType, parallelSet, fallbacks, consensus string
	var createdAt time.Time

	err := row.Scan(
		&d.ID,
		&d.RequestID,
		&taskType,
		&d.SelectedModel,
		&parallelSet,
		&fallbacks,
		&d.EstimatedCost,
		&d.Confidence,
		&d.Rationale,
		&d.JudgeModel,
		&consensus,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	d.TaskType = model.TaskType(taskType)
	d.Consensus = model.ConsensusStrategy(consensus)
	if parallelSet != "" {
		d.ParallelSet = strings.Split(parallelSet, ",")
	}
	if fallbacks != "" {
		d.Fallbacks = strings.Split(fallbacks, ",")
	}
	d.CreatedAt = createdAt.UTC()
	return &d, nil
}
