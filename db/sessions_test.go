package db

import (
	"context"
	"testing"
	"time"
)

func findSession(sessions []StreamSession, streamID string) *StreamSession {
	for i := range sessions {
		if sessions[i].StreamID == streamID {
			return &sessions[i]
		}
	}
	return nil
}

func TestSessionLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	streamID := "test-session-lifecycle"
	if _, err := db.ExecContext(ctx, `DELETE FROM stream_sessions WHERE stream_id=$1`, streamID); err != nil {
		t.Fatalf("clear session: %v", err)
	}

	startedAt := time.Now().UTC().Truncate(time.Second)
	if err := StartSession(ctx, db, streamID, "509658", startedAt); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}

	sessions, err := ListSessions(ctx, db, 50)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	s := findSession(sessions, streamID)
	if s == nil {
		t.Fatalf("started session not listed")
	}
	if s.GameID != "509658" {
		t.Errorf("game_id = %q, want 509658", s.GameID)
	}
	if s.EndedAt != nil {
		t.Errorf("ended_at = %v, want nil while live", s.EndedAt)
	}
	if s.StartedAt.Sub(startedAt).Abs() > time.Second {
		t.Errorf("started_at = %v, want ~%v", s.StartedAt, startedAt)
	}

	// Re-detecting the same stream after a restart refreshes, not duplicates.
	if err := StartSession(ctx, db, streamID, "33214", startedAt); err != nil {
		t.Fatalf("StartSession() repeat error = %v", err)
	}
	sessions, err = ListSessions(ctx, db, 50)
	if err != nil {
		t.Fatalf("ListSessions() after repeat error = %v", err)
	}
	count := 0
	for _, sess := range sessions {
		if sess.StreamID == streamID {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("sessions for %s = %d, want 1", streamID, count)
	}
	if s = findSession(sessions, streamID); s.GameID != "33214" {
		t.Errorf("game_id after repeat = %q, want 33214", s.GameID)
	}

	endedAt := startedAt.Add(2 * time.Hour)
	if err := EndSession(ctx, db, streamID, endedAt, 180, 42, 913); err != nil {
		t.Fatalf("EndSession() error = %v", err)
	}
	sessions, err = ListSessions(ctx, db, 50)
	if err != nil {
		t.Fatalf("ListSessions() after end error = %v", err)
	}
	s = findSession(sessions, streamID)
	if s == nil {
		t.Fatal("ended session not listed")
	}
	if s.EndedAt == nil {
		t.Fatal("ended_at still nil after EndSession")
	}
	if s.EndedAt.Sub(endedAt).Abs() > time.Second {
		t.Errorf("ended_at = %v, want ~%v", s.EndedAt, endedAt)
	}
	if s.PeakViewers != 180 || s.UniqueChatters != 42 || s.TotalChatMessages != 913 {
		t.Errorf("final aggregates = %+v", s)
	}
}

func TestEndSessionUnknownStream(t *testing.T) {
	db := setupTestDB(t)
	err := EndSession(context.Background(), db, "never-started", time.Now(), 0, 0, 0)
	if err == nil {
		t.Fatal("expected error ending a session that was never started")
	}
}

func TestSessionStoreAdapter(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	streamID := "test-session-adapter"
	if _, err := db.ExecContext(ctx, `DELETE FROM stream_sessions WHERE stream_id=$1`, streamID); err != nil {
		t.Fatalf("clear session: %v", err)
	}

	adapter := &SessionStoreAdapter{DB: db}
	startedAt := time.Now().UTC()
	if err := adapter.StartSession(ctx, streamID, "g1", startedAt); err != nil {
		t.Fatalf("adapter StartSession() error = %v", err)
	}
	if err := adapter.EndSession(ctx, streamID, startedAt.Add(time.Hour), 9, 3, 27); err != nil {
		t.Fatalf("adapter EndSession() error = %v", err)
	}

	sessions, err := ListSessions(ctx, db, 50)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	s := findSession(sessions, streamID)
	if s == nil || s.EndedAt == nil || s.PeakViewers != 9 {
		t.Errorf("adapter round trip session = %+v", s)
	}
}
