package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/nidhogg/nuka-memory/internal/dream"
	"github.com/nidhogg/nuka-memory/internal/sleep"
	"go.uber.org/zap"
)

// Session is a stored sleep session summary.
type Session struct {
	ID          string        `json:"id"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Stopped     bool          `json:"stopped"`
	Replays     int           `json:"replays"`
	Transferred int           `json:"transferred"`
	Errors      []string      `json:"errors,omitempty"`
}

// parseID accepts uuids and falls back to a fresh one for foreign ids.
func parseID(id string) string {
	if u, err := uuid.Parse(id); err == nil {
		return u.String()
	}
	return uuid.NewString()
}

// RecordSession stores a session report and its dream, if any, in one
// transaction.
func (s *Store) RecordSession(ctx context.Context, r sleep.Report) error {
	report, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	errs := r.Errors
	if errs == nil {
		errs = []string{}
	}
	sessionID := parseID(r.ID)

	err = pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO sleep_sessions (id, started_at, finished_at, duration_ms, forced, stopped,
				slow_wave_replays, rem_replays, transferred, cross_modal_links, procedural_transfers,
				errors, report)
			VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (id) DO NOTHING`,
			sessionID, r.StartedAt, r.FinishedAt, r.Duration.Milliseconds(), r.Forced, r.Stopped,
			r.SlowWaveReplays, r.REMReplays, r.Transferred, r.CrossModalLinks, r.ProceduralTransfers,
			errs, report,
		); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		if r.Dream == nil {
			return nil
		}
		return insertDream(ctx, tx, *r.Dream, sessionID)
	})
	if err != nil {
		return err
	}
	s.logger.Debug("session journaled", zap.String("id", sessionID))
	return nil
}

// SaveDream stores a dream produced outside a sleep session.
func (s *Store) SaveDream(ctx context.Context, n dream.Narrative) error {
	return insertDream(ctx, s.db, n, "")
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// insertDream stores n; an empty sessionID leaves the session unset.
func insertDream(ctx context.Context, db execer, n dream.Narrative, sessionID string) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal dream: %w", err)
	}
	_, err = db.Exec(ctx, `
		INSERT INTO dreams (id, session_id, type, text, coherence, creativity,
			emotional_intensity, created_at, narrative)
		VALUES ($1::uuid, NULLIF($2, '')::uuid, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		parseID(n.ID), sessionID, n.Type.String(), n.Text, n.Coherence, n.Creativity,
		n.EmotionalIntensity, n.Timestamp, body,
	)
	if err != nil {
		return fmt.Errorf("insert dream: %w", err)
	}
	return nil
}

// RecentDreams returns the newest dreams, optionally of one type.
func (s *Store) RecentDreams(ctx context.Context, limit int, typ string) ([]dream.Narrative, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `
		SELECT narrative FROM dreams
		WHERE $1 = '' OR type = $1
		ORDER BY created_at DESC
		LIMIT $2`, typ, limit)
	if err != nil {
		return nil, fmt.Errorf("query dreams: %w", err)
	}
	defer rows.Close()

	var out []dream.Narrative
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan dream: %w", err)
		}
		var n dream.Narrative
		if err := json.Unmarshal(body, &n); err != nil {
			return nil, fmt.Errorf("decode dream: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// RecentSessions returns the newest session summaries.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `
		SELECT id::text, started_at, duration_ms, stopped, slow_wave_replays + rem_replays, transferred, errors
		FROM sleep_sessions
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var ss Session
		var ms int64
		if err := rows.Scan(&ss.ID, &ss.StartedAt, &ms, &ss.Stopped, &ss.Replays, &ss.Transferred, &ss.Errors); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		ss.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, ss)
	}
	return out, rows.Err()
}
