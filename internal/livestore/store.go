package livestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classlive/backend/internal/live"
	"github.com/classlive/backend/internal/models"
)

// Store is the PostgreSQL persistence collaborator for the orchestration
// core: session lookup at start, write-behind of attendance, poll and
// question records at end. Never consulted on the live hot path.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a store backed by a pgx pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CreateSession inserts a scheduled session.
func (s *Store) CreateSession(ctx context.Context, m *models.Session) error {
	const query = `INSERT INTO sessions
		(id, class_id, host_id, status, waiting_room, max_participants, recording_enabled, reconnect_grace_sec, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING created_at`
	return s.pool.QueryRow(ctx, query,
		m.ID, m.ClassID, m.HostID, m.Status,
		m.Settings.WaitingRoom, m.Settings.MaxParticipants, m.Settings.RecordingEnabled,
		int(m.Settings.ReconnectGrace/time.Second),
	).Scan(&m.CreatedAt)
}

// GetSession returns a session by ID, or nil when absent.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	const query = `SELECT id, class_id, host_id, status, waiting_room, max_participants, recording_enabled, reconnect_grace_sec, created_at, started_at, ended_at
		FROM sessions WHERE id = $1`
	var (
		m        models.Session
		graceSec int
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&m.ID, &m.ClassID, &m.HostID, &m.Status,
		&m.Settings.WaitingRoom, &m.Settings.MaxParticipants, &m.Settings.RecordingEnabled,
		&graceSec, &m.CreatedAt, &m.StartedAt, &m.EndedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.Settings.ReconnectGrace = time.Duration(graceSec) * time.Second
	return &m, nil
}

// UpdateSessionStatus persists a lifecycle transition.
func (s *Store) UpdateSessionStatus(ctx context.Context, m *models.Session) error {
	const query = `UPDATE sessions SET status = $2, started_at = $3, ended_at = $4 WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, m.ID, m.Status, m.StartedAt, m.EndedAt)
	return err
}

// SaveAttendance upserts finalized attendance records for a session.
func (s *Store) SaveAttendance(ctx context.Context, records []models.AttendanceRecord) error {
	const query = `INSERT INTO attendance_records (session_id, identity, total_seconds, first_join, last_leave)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id, identity) DO UPDATE
		SET total_seconds = EXCLUDED.total_seconds, first_join = EXCLUDED.first_join, last_leave = EXCLUDED.last_leave`
	for _, rec := range records {
		if _, err := s.pool.Exec(ctx, query,
			rec.SessionID, rec.Identity, int64(rec.Total/time.Second), rec.FirstJoin, rec.LastLeave,
		); err != nil {
			return fmt.Errorf("save attendance for %s: %w", rec.Identity, err)
		}
	}
	return nil
}

// SavePollResults upserts closed polls with their tallies.
func (s *Store) SavePollResults(ctx context.Context, results []live.PollResult) error {
	const query = `INSERT INTO poll_results (poll_id, session_id, question, options, tally, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (poll_id) DO UPDATE SET tally = EXCLUDED.tally`
	for _, res := range results {
		options, err := json.Marshal(res.Poll.Options)
		if err != nil {
			return fmt.Errorf("marshal options: %w", err)
		}
		tally, err := json.Marshal(res.Tally)
		if err != nil {
			return fmt.Errorf("marshal tally: %w", err)
		}
		if _, err := s.pool.Exec(ctx, query,
			res.Poll.ID, res.Poll.SessionID, res.Poll.Question, options, tally, res.Poll.CreatedAt,
		); err != nil {
			return fmt.Errorf("save poll %s: %w", res.Poll.ID, err)
		}
	}
	return nil
}

// SaveQuestions upserts session questions.
func (s *Store) SaveQuestions(ctx context.Context, questions []models.SessionQuestion) error {
	const query = `INSERT INTO session_questions (id, session_id, author, text, upvotes, answered, answer, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET upvotes = EXCLUDED.upvotes, answered = EXCLUDED.answered, answer = EXCLUDED.answer`
	for _, q := range questions {
		if _, err := s.pool.Exec(ctx, query,
			q.ID, q.SessionID, q.Author, q.Text, q.Upvotes, q.Answered, q.Answer, q.CreatedAt,
		); err != nil {
			return fmt.Errorf("save question %s: %w", q.ID, err)
		}
	}
	return nil
}

// ListAttendance returns flushed attendance records for a session.
func (s *Store) ListAttendance(ctx context.Context, sessionID uuid.UUID) ([]models.AttendanceRecord, error) {
	const query = `SELECT session_id, identity, total_seconds, first_join, last_leave
		FROM attendance_records WHERE session_id = $1 ORDER BY first_join`
	rows, err := s.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AttendanceRecord
	for rows.Next() {
		var (
			rec     models.AttendanceRecord
			seconds int64
		)
		if err := rows.Scan(&rec.SessionID, &rec.Identity, &seconds, &rec.FirstJoin, &rec.LastLeave); err != nil {
			return nil, err
		}
		rec.Total = time.Duration(seconds) * time.Second
		out = append(out, rec)
	}
	return out, rows.Err()
}
