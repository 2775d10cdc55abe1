package transcript

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// Record is one stored conversation turn, answered or failed.
type Record struct {
	ID                 int64     `json:"id"`
	SessionID          string    `json:"session_id"`
	CorrelationID      string    `json:"correlation_id"`
	TurnIndex          int       `json:"turn_index"`
	Question           string    `json:"question"`
	StandaloneQuestion string    `json:"standalone_question"`
	Answer             string    `json:"answer"`
	Sources            []string  `json:"sources"`
	FormLinks          []string  `json:"form_links"`
	Outcome            string    `json:"outcome"`
	ErrorStage         string    `json:"error_stage,omitempty"`
	DurationMs         int64     `json:"duration_ms"`
	CreatedAt          time.Time `json:"created_at"`
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Save(ctx context.Context, rec *Record) error {
	query := `INSERT INTO transcript_turns (session_id, correlation_id, turn_index, question, standalone_question, answer, sources, form_links, outcome, error_stage, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id, created_at`
	return r.db.QueryRowContext(ctx, query,
		rec.SessionID, rec.CorrelationID, rec.TurnIndex, rec.Question, rec.StandaloneQuestion, rec.Answer,
		pq.Array(nonNil(rec.Sources)), pq.Array(nonNil(rec.FormLinks)), rec.Outcome, rec.ErrorStage, rec.DurationMs,
	).Scan(&rec.ID, &rec.CreatedAt)
}

func (r *PostgresRepo) ListBySession(ctx context.Context, sessionID string) ([]Record, error) {
	query := `SELECT id, session_id, correlation_id, turn_index, question, standalone_question, answer, sources, form_links, outcome, error_stage, duration_ms, created_at
FROM transcript_turns WHERE session_id = $1 ORDER BY turn_index, id`
	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.CorrelationID, &rec.TurnIndex, &rec.Question,
			&rec.StandaloneQuestion, &rec.Answer, pq.Array(&rec.Sources), pq.Array(&rec.FormLinks),
			&rec.Outcome, &rec.ErrorStage, &rec.DurationMs, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transcript_turns`).Scan(&count)
	return count, err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
