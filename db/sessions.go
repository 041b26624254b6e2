package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// StreamSession is one tracked broadcast. EndedAt is nil while the
// stream is live or when the tracker missed the end of it.
type StreamSession struct {
	ID                int        `json:"id"`
	StreamID          string     `json:"stream_id"`
	GameID            string     `json:"game_id"`
	StartedAt         time.Time  `json:"started_at"`
	EndedAt           *time.Time `json:"ended_at"`
	PeakViewers       int        `json:"peak_viewers"`
	UniqueChatters    int        `json:"unique_chatters"`
	TotalChatMessages int        `json:"total_chat_messages"`
}

// StartSession records a newly detected broadcast. Re-detecting the same
// stream id (after a tracker restart) refreshes the metadata instead of
// failing.
func StartSession(ctx context.Context, dbx *sql.DB, streamID, gameID string, startedAt time.Time) error {
	q := `INSERT INTO stream_sessions(stream_id, game_id, started_at, updated_at)
		  VALUES($1,$2,$3,NOW())
		  ON CONFLICT(stream_id) DO UPDATE SET
		    game_id=EXCLUDED.game_id,
		    started_at=EXCLUDED.started_at,
		    updated_at=NOW()`
	if _, err := dbx.ExecContext(ctx, q, streamID, gameID, startedAt); err != nil {
		return fmt.Errorf("start session %s: %w", streamID, err)
	}
	return nil
}

// EndSession closes a broadcast with its final aggregates.
func EndSession(ctx context.Context, dbx *sql.DB, streamID string, endedAt time.Time, peakViewers, uniqueChatters, totalChatMessages int) error {
	q := `UPDATE stream_sessions SET
		    ended_at=$2,
		    peak_viewers=$3,
		    unique_chatters=$4,
		    total_chat_messages=$5,
		    updated_at=NOW()
		  WHERE stream_id=$1`
	res, err := dbx.ExecContext(ctx, q, streamID, endedAt, peakViewers, uniqueChatters, totalChatMessages)
	if err != nil {
		return fmt.Errorf("end session %s: %w", streamID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("end session %s: no such session", streamID)
	}
	return nil
}

// ListSessions returns the most recent sessions, newest first.
func ListSessions(ctx context.Context, dbx *sql.DB, limit int) ([]StreamSession, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := dbx.QueryContext(ctx,
		`SELECT id, stream_id, COALESCE(game_id, ''), started_at, ended_at, peak_viewers, unique_chatters, total_chat_messages
		 FROM stream_sessions ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []StreamSession
	for rows.Next() {
		var s StreamSession
		if err := rows.Scan(&s.ID, &s.StreamID, &s.GameID, &s.StartedAt, &s.EndedAt, &s.PeakViewers, &s.UniqueChatters, &s.TotalChatMessages); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// SessionStoreAdapter exposes the session table behind the monitor's
// SessionStore interface.
type SessionStoreAdapter struct{ DB *sql.DB }

func (a *SessionStoreAdapter) StartSession(ctx context.Context, streamID, gameID string, startedAt time.Time) error {
	return StartSession(ctx, a.DB, streamID, gameID, startedAt)
}

func (a *SessionStoreAdapter) EndSession(ctx context.Context, streamID string, endedAt time.Time, peakViewers, uniqueChatters, totalChatMessages int) error {
	return EndSession(ctx, a.DB, streamID, endedAt, peakViewers, uniqueChatters, totalChatMessages)
}
