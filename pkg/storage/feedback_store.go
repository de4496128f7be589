package storage

import (
	"database/sql"
	"time"

	"github.com/odvcencio/moerouter/pkg/model"
)

// FeedbackRecord is a persisted feedback event with its computed score.
type FeedbackRecord struct {
	ID         int64     `json:"id"`
	RequestID  string    `json:"request_id"`
	ModelID    string    `json:"model_id"`
	TaskType   string    `json:"task_type"`
	Outcome    string    `json:"outcome"`
	Score      float64   `json:"score"`
	ReceivedAt time.Time `json:"received_at"`
}

// SaveFeedback records a feedback event alongside its computed score.
func (s *Store) SaveFeedback(f *model.FeedbackData, score float64) error {
	receivedAt := f.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	var quality sql.NullFloat64
	if f.QualityScore != nil {
		quality = sql.NullFloat64{Float64: *f.QualityScore, Valid: true}
	}
	var rating sql.NullInt64
	if f.UserRating != nil {
		rating = sql.NullInt64{Int64: int64(*f.UserRating), Valid: true}
	}

	query := `
		INSERT INTO feedback_events
			(request_id, model_id, task_type, outcome, quality_score,
			 pr_merged, pr_reverted, user_rating, score, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		f.RequestID,
		f.ModelID,
		string(f.TaskType),
		string(f.Outcome),
		quality,
		boolToInt(f.PRMerged),
		boolToInt(f.PRReverted),
		rating,
		score,
		receivedAt.UTC().Format(timeFormat),
	)
	return err
}

// RecentFeedback returns the newest feedback events, most recent first.
func (s *Store) RecentFeedback(limit int) ([]FeedbackRecord, error) {
	query := `
		SELECT id, request_id, model_id, task_type, outcome, score, received_at
		FROM feedback_events
		ORDER BY received_at DESC, id DESC
		LIMIT ?
	`
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FeedbackRecord
	for rows.Next() {
		var rec FeedbackRecord
		var receivedAt time.Time
		if err := rows.Scan(&rec.ID, &rec.RequestID, &rec.ModelID, &rec.TaskType, &rec.Outcome, &rec.Score, &receivedAt); err != nil {
			return nil, err
		}
		rec.ReceivedAt = receivedAt.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ModelFeedbackStats summarizes outcomes for one (model, task) pair.
type ModelFeedbackStats struct {
	ModelID   string  `json:"model_id"`
	TaskType  string  `json:"task_type"`
	Events    int     `json:"events"`
	MeanScore float64 `json:"mean_score"`
}

// FeedbackStats aggregates feedback per (model, task) pair.
func (s *Store) FeedbackStats() ([]ModelFeedbackStats, error) {
	rows, err := s.db.Query(`
		SELECT model_id, task_type, COUNT(*), AVG(score)
		FROM feedback_events
		GROUP BY model_id, task_type
		ORDER BY model_id, task_type
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ModelFeedbackStats
	for rows.Next() {
		var st ModelFeedbackStats
		if err := rows.Scan(&st.ModelID, &st.TaskType, &st.Events, &st.MeanScore); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
