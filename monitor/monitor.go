// Package monitor drives the offline/live state machine from periodic Helix
// polls. Each poll classifies the channel as starting, streaming, ending, or
// offline, feeds the live aggregate and batch buffers accordingly, and
// appends a status snapshot to the per-day log.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/stream-pulse/batch"
	"github.com/onnwee/stream-pulse/live"
	"github.com/onnwee/stream-pulse/storage"
	"github.com/onnwee/stream-pulse/telemetry"
	"github.com/onnwee/stream-pulse/twitchapi"
)

// StreamSource is the slice of the Helix client the status poll needs.
type StreamSource interface {
	GetStreams(ctx context.Context, userID string) ([]twitchapi.Stream, error)
}

// SubscriberSource yields the channel's subscriber total.
type SubscriberSource interface {
	GetSubscriberTotal(ctx context.Context, broadcasterID string) (int, error)
}

// SessionStore persists one row per stream session. Optional; the monitor
// runs without it when no database is configured.
type SessionStore interface {
	StartSession(ctx context.Context, streamID, gameID string, startedAt time.Time) error
	EndSession(ctx context.Context, streamID string, endedAt time.Time, peakViewers, uniqueChatters, totalChatMessages int) error
}

type Config struct {
	Source        StreamSource
	Subs          SubscriberSource
	Live          *live.Metrics
	Sink          *storage.Sink
	Buffers       *batch.Set
	Sessions      SessionStore
	BroadcasterID string
}

// Monitor tracks one channel. CheckStreamStatus is driven by the scheduler on
// a single goroutine; the session fields below are confined to that goroutine
// while cross-goroutine state lives in the live aggregate behind its own
// lock.
type Monitor struct {
	cfg Config
	log *slog.Logger

	isLive    bool
	streamID  string
	gameID    string
	startedAt time.Time
}

func New(cfg Config) (*Monitor, error) {
	if cfg.Source == nil {
		return nil, errors.New("stream source is required")
	}
	if cfg.Live == nil || cfg.Sink == nil || cfg.Buffers == nil {
		return nil, errors.New("live aggregate, sink, and buffers are required")
	}
	if cfg.BroadcasterID == "" {
		return nil, errors.New("broadcaster id is required")
	}
	return &Monitor{
		cfg: cfg,
		log: slog.Default().With(slog.String("component", "monitor")),
	}, nil
}

// CheckStreamStatus runs one poll cycle: fetch status, apply the state
// transition, and append the status snapshot. A fetch failure is returned
// without touching state so a flaky poll cannot fake a stream end.
func (m *Monitor) CheckStreamStatus(ctx context.Context) error {
	start := time.Now()
	now := start.UTC()
	ctx, span := telemetry.StartSpan(ctx, "monitor", "check_stream_status")
	defer span.End()
	telemetry.CountIngest(telemetry.PollCycles)
	streams, err := m.cfg.Source.GetStreams(ctx, m.cfg.BroadcasterID)
	if err != nil {
		err = fmt.Errorf("stream status: %w", err)
		telemetry.RecordError(span, err)
		telemetry.CountIngest(telemetry.PollErrors)
		return err
	}
	var st *twitchapi.Stream
	if len(streams) > 0 {
		st = &streams[0]
	}

	switch {
	case st != nil && !m.isLive:
		m.streamStarted(ctx, now, st)
	case st != nil:
		m.streamSample(ctx, now, st)
	case m.isLive:
		m.streamEnded(ctx, now)
	}

	m.appendStatus(ctx, now, st)
	telemetry.SetLive(m.isLive)
	telemetry.SetViewers(m.cfg.Live.CurrentViewers(), m.cfg.Live.PeakViewers())
	if telemetry.PollDuration != nil {
		telemetry.PollDuration.Observe(time.Since(start).Seconds())
	}
	return nil
}

func (m *Monitor) streamStarted(ctx context.Context, now time.Time, st *twitchapi.Stream) {
	m.isLive = true
	m.streamID = st.ID
	m.gameID = st.GameID
	m.startedAt = st.StartedAt.UTC()

	m.cfg.Live.StreamStarted(m.startedAt, st.ViewerCount)
	m.log.Info("stream started",
		slog.String("stream_id", st.ID),
		slog.String("game_id", st.GameID),
		slog.Time("started_at", m.startedAt),
		slog.Int("viewers", st.ViewerCount))

	ev := storage.StreamStartEvent{
		Timestamp: now,
		EventType: storage.EventTypeStreamStart,
		StreamID:  st.ID,
		GameID:    st.GameID,
		StartedAt: m.startedAt,
	}
	if err := m.cfg.Sink.SaveStreamStart(ctx, now, ev); err != nil {
		m.log.Error("stream start marker", slog.Any("err", err))
	}
	if m.cfg.Sessions != nil {
		if err := m.cfg.Sessions.StartSession(ctx, st.ID, st.GameID, m.startedAt); err != nil {
			m.log.Error("session start", slog.Any("err", err))
		}
	}
}

func (m *Monitor) streamSample(ctx context.Context, now time.Time, st *twitchapi.Stream) {
	m.gameID = st.GameID
	m.cfg.Live.UpdateViewers(st.ViewerCount, now)

	viewer := storage.ViewerSample{
		Timestamp:   now,
		ViewerCount: st.ViewerCount,
		StreamID:    m.streamID,
	}
	sample := storage.StreamSample{
		Timestamp:      now,
		ViewerCount:    st.ViewerCount,
		StreamDuration: now.Sub(m.startedAt).Minutes(),
		GameID:         st.GameID,
		StreamID:       m.streamID,
	}
	if err := m.cfg.Buffers.Viewer.Add(ctx, viewer); err != nil {
		m.log.Warn("viewer batch flush", slog.Any("err", err))
	}
	if err := m.cfg.Buffers.Stream.Add(ctx, sample); err != nil {
		m.log.Warn("stream batch flush", slog.Any("err", err))
	}
	if err := m.cfg.Sink.SaveViewerSample(ctx, now, viewer); err != nil {
		m.log.Warn("viewer sample save", slog.Any("err", err))
	}
}

func (m *Monitor) streamEnded(ctx context.Context, now time.Time) {
	dur := m.cfg.Live.StreamEnded(now)
	summary := storage.StreamEndEvent{
		Timestamp:             now,
		EventType:             storage.EventTypeStreamEnd,
		StreamDurationMinutes: dur.Minutes(),
		PeakViewers:           m.cfg.Live.PeakViewers(),
		UniqueChatters:        m.cfg.Live.UniqueChatters(),
		TotalChatMessages:     m.cfg.Live.TotalChatMessages(),
	}
	m.log.Info("stream ended",
		slog.String("stream_id", m.streamID),
		slog.Duration("duration", dur),
		slog.Int("peak_viewers", summary.PeakViewers))

	if err := m.cfg.Sink.SaveStreamEnd(ctx, now, summary); err != nil {
		m.log.Error("stream end summary", slog.Any("err", err))
	}
	// Partial batches would otherwise sit until the next stream reaches a
	// threshold; flush them while the session they belong to is fresh.
	if err := m.cfg.Buffers.FlushAll(ctx); err != nil {
		m.log.Error("final flush", slog.Any("err", err))
	}
	if m.cfg.Sessions != nil {
		err := m.cfg.Sessions.EndSession(ctx, m.streamID, now,
			summary.PeakViewers, summary.UniqueChatters, summary.TotalChatMessages)
		if err != nil {
			m.log.Error("session end", slog.Any("err", err))
		}
	}

	m.isLive = false
	m.streamID = ""
	m.gameID = ""
	m.startedAt = time.Time{}
}

func (m *Monitor) appendStatus(ctx context.Context, now time.Time, st *twitchapi.Stream) {
	status := storage.StreamStatus{Timestamp: now, IsLive: st != nil}
	if st != nil {
		gameID, streamID := st.GameID, st.ID
		started := st.StartedAt.UTC().Format(time.RFC3339)
		status.ViewerCount = st.ViewerCount
		status.GameID = &gameID
		status.StreamID = &streamID
		status.StartedAt = &started
	}
	if err := m.cfg.Sink.AppendStatus(ctx, status); err != nil {
		m.log.Warn("status append", slog.Any("err", err))
	}
}
