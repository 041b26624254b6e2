package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/stream-pulse/telemetry"
)

// Category identifies one batch buffer and its daily consolidated file.
type Category string

const (
	CategoryChat       Category = "chat"
	CategoryViewer     Category = "viewer"
	CategoryStream     Category = "stream"
	CategorySubscriber Category = "subscriber"
)

// Audit event types written under raw_events/.
const (
	EventTypeChatMessage  = "chat_message"
	EventTypeSubscription = "subscription"
	EventTypeRaid         = "raid"
)

// Marker event types for the stream lifecycle objects.
const (
	EventTypeStreamStart = "stream_start"
	EventTypeStreamEnd   = "stream_end"
)

// rawBatchStreamThreshold switches the raw chat batch artifact to
// newline-delimited JSON for very large batches.
const rawBatchStreamThreshold = 1000

// Sink writes tracker data to an object store, with a local data directory
// for the daily consolidated files, the status journal, and the event backup
// fallback. All methods are safe for concurrent use.
type Sink struct {
	store   ObjectStore
	dataDir string
	keys    keys
	log     *slog.Logger

	// dailyMu serializes local daily file appends and their uploads.
	dailyMu sync.Mutex

	// statusMu guards the single-writer day log for status snapshots.
	statusMu      sync.Mutex
	statusDate    string
	statusEntries []StreamStatus
}

func NewSink(store ObjectStore, broadcaster, dataDir string) (*Sink, error) {
	if store == nil {
		return nil, errors.New("object store is required")
	}
	if broadcaster == "" {
		return nil, errors.New("broadcaster name is required")
	}
	if dataDir == "" {
		dataDir = "data"
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Sink{
		store:   store,
		dataDir: dataDir,
		keys:    newKeys(broadcaster),
		log:     slog.Default().With(slog.String("component", "sink")),
	}, nil
}

// EnsureLayout seeds the broadcaster's folder markers. Best effort: failures
// are reported but the tracker can run without the markers.
func (s *Sink) EnsureLayout(ctx context.Context) error {
	var firstErr error
	for _, folder := range s.keys.folders() {
		if err := s.store.Put(ctx, folder, nil, ""); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Ping probes the object store backend. Whether the probe key exists does
// not matter; only a transport failure is an error.
func (s *Sink) Ping(ctx context.Context) error {
	_, err := s.store.Exists(ctx, s.keys.folders()[0])
	return err
}

// newEventID builds the audit object id: epoch millis plus a short random
// suffix to keep ids unique within the same millisecond.
func newEventID(at time.Time) string {
	return fmt.Sprintf("%d_%s", at.UnixMilli(), strings.Split(uuid.NewString(), "-")[0])
}

// SaveEvent writes one audit object under raw_events/. On a storage failure
// the payload lands in the local backup directory instead; only a double
// failure is returned as an error.
func (s *Sink) SaveEvent(ctx context.Context, at time.Time, eventType string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	id := newEventID(at)
	key := s.keys.rawEvent(at, eventType, id)

	err = s.store.Put(ctx, key, b, "application/json")
	telemetry.CountSinkWrite(err)
	if err == nil {
		return nil
	}

	s.log.Warn("event save failed, writing local backup", slog.String("key", key), slog.Any("err", err))
	telemetry.CountSinkFallback()

	backupDir := filepath.Join(s.dataDir, "backup", at.Format(dateLayout))
	if mkErr := os.MkdirAll(backupDir, 0o755); mkErr != nil {
		return fmt.Errorf("event save failed (%v) and backup dir failed: %w", err, mkErr)
	}
	backupPath := filepath.Join(backupDir, fmt.Sprintf("%s_%s.json", eventType, id))
	if wrErr := os.WriteFile(backupPath, b, 0o644); wrErr != nil {
		return fmt.Errorf("event save failed (%v) and local backup failed: %w", err, wrErr)
	}
	return nil
}

// SaveChatMetrics persists one flushed chat batch: derived metrics JSON, the
// raw batch, a CSV snapshot, and the daily consolidated append.
func (s *Sink) SaveChatMetrics(ctx context.Context, at time.Time, msgs []ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	metrics := DeriveChatMetrics(at, msgs)
	if err := s.putJSON(ctx, s.keys.chatMetrics(at), metrics); err != nil {
		return fmt.Errorf("chat metrics: %w", err)
	}
	if err := s.putRawBatch(ctx, s.keys.chatRawBatch(at), msgs); err != nil {
		return fmt.Errorf("chat raw batch: %w", err)
	}

	rows := make([][]string, 0, len(msgs))
	for _, m := range msgs {
		rows = append(rows, m.csvRow())
	}
	if err := s.putCSV(ctx, s.keys.chatCSV(at), chatCSVHeader(), rows); err != nil {
		return fmt.Errorf("chat csv: %w", err)
	}
	if err := s.appendDaily(ctx, s.keys.chatDaily(at), chatCSVHeader(), rows); err != nil {
		return fmt.Errorf("chat daily: %w", err)
	}
	return nil
}

// SaveViewerStats persists one flushed viewer sample batch.
func (s *Sink) SaveViewerStats(ctx context.Context, at time.Time, samples []ViewerSample) error {
	if len(samples) == 0 {
		return nil
	}
	if err := s.putJSON(ctx, s.keys.viewerStats(at), samples); err != nil {
		return fmt.Errorf("viewer stats: %w", err)
	}
	rows := make([][]string, 0, len(samples))
	for _, v := range samples {
		rows = append(rows, v.csvRow())
	}
	if err := s.putCSV(ctx, s.keys.viewerCSV(at), viewerCSVHeader(), rows); err != nil {
		return fmt.Errorf("viewer csv: %w", err)
	}
	if err := s.appendDaily(ctx, s.keys.viewerDaily(at), viewerCSVHeader(), rows); err != nil {
		return fmt.Errorf("viewer daily: %w", err)
	}
	return nil
}

// SaveStreamMetrics persists one flushed stream sample batch.
func (s *Sink) SaveStreamMetrics(ctx context.Context, at time.Time, samples []StreamSample) error {
	if len(samples) == 0 {
		return nil
	}
	if err := s.putJSON(ctx, s.keys.streamMetrics(at), samples); err != nil {
		return fmt.Errorf("stream metrics: %w", err)
	}
	rows := make([][]string, 0, len(samples))
	for _, v := range samples {
		rows = append(rows, v.csvRow())
	}
	if err := s.putCSV(ctx, s.keys.streamCSV(at), streamCSVHeader(), rows); err != nil {
		return fmt.Errorf("stream csv: %w", err)
	}
	if err := s.appendDaily(ctx, s.keys.streamDaily(at), streamCSVHeader(), rows); err != nil {
		return fmt.Errorf("stream daily: %w", err)
	}
	return nil
}

// SaveSubscriberData persists one flushed subscriber event batch. With the
// immediate-flush threshold this is normally a single event.
func (s *Sink) SaveSubscriberData(ctx context.Context, at time.Time, events []SubEvent) error {
	if len(events) == 0 {
		return nil
	}
	if err := s.putJSON(ctx, s.keys.subscribers(at), events); err != nil {
		return fmt.Errorf("subscriber data: %w", err)
	}
	rows := make([][]string, 0, len(events))
	for _, e := range events {
		rows = append(rows, e.csvRow())
	}
	if err := s.putCSV(ctx, s.keys.subscribersCSV(at), subCSVHeader(), rows); err != nil {
		return fmt.Errorf("subscriber csv: %w", err)
	}
	if err := s.appendDaily(ctx, s.keys.subscriberDaily(at), subCSVHeader(), rows); err != nil {
		return fmt.Errorf("subscriber daily: %w", err)
	}
	return nil
}

// SaveSubscriberCount writes the point-in-time subscriber count snapshot.
func (s *Sink) SaveSubscriberCount(ctx context.Context, at time.Time, count int) error {
	snapshot := struct {
		Timestamp       time.Time `json:"timestamp"`
		SubscriberCount int       `json:"subscriber_count"`
	}{Timestamp: at, SubscriberCount: count}
	if err := s.putJSON(ctx, s.keys.subscriberCount(at), snapshot); err != nil {
		return fmt.Errorf("subscriber count: %w", err)
	}
	return nil
}

// SaveViewerSample writes the individual per-poll viewer count object.
func (s *Sink) SaveViewerSample(ctx context.Context, at time.Time, v ViewerSample) error {
	if err := s.putJSON(ctx, s.keys.viewerSample(at), v); err != nil {
		return fmt.Errorf("viewer sample: %w", err)
	}
	return nil
}

// SaveStreamStart writes the stream-start marker for the day.
func (s *Sink) SaveStreamStart(ctx context.Context, at time.Time, ev StreamStartEvent) error {
	if err := s.putJSON(ctx, s.keys.streamStart(at), ev); err != nil {
		return fmt.Errorf("stream start: %w", err)
	}
	return nil
}

// SaveStreamEnd writes the stream-end summary for the day.
func (s *Sink) SaveStreamEnd(ctx context.Context, at time.Time, ev StreamEndEvent) error {
	if err := s.putJSON(ctx, s.keys.streamEnd(at), ev); err != nil {
		return fmt.Errorf("stream end: %w", err)
	}
	return nil
}

// AppendStatus adds one poll snapshot to the per-day status log and rewrites
// the day's array object. The log is single-writer: entries live in memory
// for the current day (warmed once from storage after a restart), mirrored to
// a local journal, and the full array is re-put on every poll.
func (s *Sink) AppendStatus(ctx context.Context, st StreamStatus) error {
	day := st.Timestamp.Format(dateLayout)
	key := s.keys.statusLog(st.Timestamp)

	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	if s.statusDate != day {
		s.statusDate = day
		s.statusEntries = nil
		if b, err := s.store.Get(ctx, key); err == nil {
			if err := json.Unmarshal(b, &s.statusEntries); err != nil {
				s.log.Warn("existing status log unreadable, starting fresh", slog.String("key", key), slog.Any("err", err))
				s.statusEntries = nil
			}
		} else if !errors.Is(err, ErrNotFound) {
			s.log.Warn("status log warm-up read failed", slog.String("key", key), slog.Any("err", err))
		}
	}

	s.statusEntries = append(s.statusEntries, st)
	s.journalStatus(day, st)

	b, err := json.Marshal(s.statusEntries)
	if err != nil {
		return fmt.Errorf("marshal status log: %w", err)
	}
	err = s.store.Put(ctx, key, b, "application/json")
	telemetry.CountSinkWrite(err)
	if err != nil {
		return fmt.Errorf("status log: %w", err)
	}
	return nil
}

// journalStatus appends the snapshot to the local JSONL journal. Journal
// failures are logged only; the in-memory log remains authoritative for the
// day.
func (s *Sink) journalStatus(day string, st StreamStatus) {
	dir := filepath.Join(s.dataDir, "status")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.log.Warn("status journal dir failed", slog.Any("err", err))
		return
	}
	line, err := json.Marshal(st)
	if err != nil {
		s.log.Warn("status journal marshal failed", slog.Any("err", err))
		return
	}
	path := filepath.Join(dir, fmt.Sprintf("stream_status_%s.jsonl", day))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.log.Warn("status journal open failed", slog.String("path", path), slog.Any("err", err))
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		s.log.Warn("status journal write failed", slog.String("path", path), slog.Any("err", err))
	}
}

// SaveDailyReport writes the generated daily report object.
func (s *Sink) SaveDailyReport(ctx context.Context, date time.Time, report any) error {
	if err := s.putJSON(ctx, s.keys.dailyReport(date), report); err != nil {
		return fmt.Errorf("daily report: %w", err)
	}
	return nil
}

// SaveTopClips writes the raw top-clip list for the day.
func (s *Sink) SaveTopClips(ctx context.Context, date time.Time, clips any) error {
	if err := s.putJSON(ctx, s.keys.topClips(date), clips); err != nil {
		return fmt.Errorf("top clips: %w", err)
	}
	return nil
}

// SaveClipAnalysis writes the clip analysis summary for the day.
func (s *Sink) SaveClipAnalysis(ctx context.Context, date time.Time, analysis any) error {
	if err := s.putJSON(ctx, s.keys.clipAnalysis(date), analysis); err != nil {
		return fmt.Errorf("clip analysis: %w", err)
	}
	return nil
}

// DailyRows reads back a day's consolidated CSV, header row included.
// Returns ErrNotFound when the category has no data for that day.
func (s *Sink) DailyRows(ctx context.Context, cat Category, date time.Time) ([][]string, error) {
	key, err := s.dailyKey(cat, date)
	if err != nil {
		return nil, err
	}
	b, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(bytes.NewReader(b))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", key, err)
	}
	return rows, nil
}

func (s *Sink) dailyKey(cat Category, date time.Time) (string, error) {
	switch cat {
	case CategoryChat:
		return s.keys.chatDaily(date), nil
	case CategoryViewer:
		return s.keys.viewerDaily(date), nil
	case CategoryStream:
		return s.keys.streamDaily(date), nil
	case CategorySubscriber:
		return s.keys.subscriberDaily(date), nil
	default:
		return "", fmt.Errorf("unknown category %q", cat)
	}
}

func (s *Sink) putJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	err = s.store.Put(ctx, key, b, "application/json")
	telemetry.CountSinkWrite(err)
	return err
}

// putRawBatch writes the raw message batch, switching to newline-delimited
// JSON once the batch is large enough that a single array would be unwieldy.
func (s *Sink) putRawBatch(ctx context.Context, key string, msgs []ChatMessage) error {
	if len(msgs) <= rawBatchStreamThreshold {
		return s.putJSON(ctx, key, msgs)
	}
	var buf bytes.Buffer
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal raw batch entry: %w", err)
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}
	err := s.store.Put(ctx, key, buf.Bytes(), "application/json")
	telemetry.CountSinkWrite(err)
	return err
}

func (s *Sink) putCSV(ctx context.Context, key string, header []string, rows [][]string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("write csv rows: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	err := s.store.Put(ctx, key, buf.Bytes(), "text/csv")
	telemetry.CountSinkWrite(err)
	return err
}

// appendDaily appends rows to the local daily file for key and uploads the
// whole file. The local file is the append-capable source of truth; the
// object is rewritten last-writer-wins. A missing local file is warmed from
// the object store once so appends survive restarts.
func (s *Sink) appendDaily(ctx context.Context, key string, header []string, rows [][]string) error {
	s.dailyMu.Lock()
	defer s.dailyMu.Unlock()

	local := filepath.Join(s.dataDir, "daily", filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return fmt.Errorf("daily dir: %w", err)
	}

	if _, err := os.Stat(local); os.IsNotExist(err) {
		if b, getErr := s.store.Get(ctx, key); getErr == nil {
			if wrErr := os.WriteFile(local, b, 0o644); wrErr != nil {
				return fmt.Errorf("warm daily file: %w", wrErr)
			}
		} else if !errors.Is(getErr, ErrNotFound) {
			s.log.Warn("daily warm-up read failed", slog.String("key", key), slog.Any("err", getErr))
		}
	}

	f, err := os.OpenFile(local, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open daily file: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat daily file: %w", err)
	}
	w := csv.NewWriter(f)
	if st.Size() == 0 {
		if err := w.Write(header); err != nil {
			f.Close()
			return fmt.Errorf("write daily header: %w", err)
		}
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return fmt.Errorf("append daily rows: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush daily rows: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close daily file: %w", err)
	}

	b, err := os.ReadFile(local)
	if err != nil {
		return fmt.Errorf("read daily file: %w", err)
	}
	err = s.store.Put(ctx, key, b, "text/csv")
	telemetry.CountSinkWrite(err)
	if err != nil {
		return fmt.Errorf("upload daily file: %w", err)
	}
	return nil
}
