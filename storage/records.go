package storage

import (
	"strconv"
	"time"
)

// Record shapes written to the durable sink. JSON field names and CSV column
// order are part of the storage layout consumed by the dashboard and report
// tooling, so they stay stable even when internal naming moves on.

// ChatMessage is one chat line as flattened for persistence.
type ChatMessage struct {
	Timestamp    time.Time `json:"timestamp"`
	Channel      string    `json:"channel"`
	Sender       string    `json:"sender"`
	Message      string    `json:"message"`
	IsSubscriber bool      `json:"is_subscriber"`
	IsMod        bool      `json:"is_mod"`
	Badges       string    `json:"badges"`
	MessageID    string    `json:"message_id"`
}

// ViewerSample is one polled viewer count.
type ViewerSample struct {
	Timestamp   time.Time `json:"timestamp"`
	ViewerCount int       `json:"viewer_count"`
	StreamID    string    `json:"stream_id"`
}

// StreamSample is one polled stream metrics row; duration is minutes since
// stream start at sample time.
type StreamSample struct {
	Timestamp      time.Time `json:"timestamp"`
	ViewerCount    int       `json:"viewer_count"`
	StreamDuration float64   `json:"stream_duration"`
	GameID         string    `json:"game_id"`
	StreamID       string    `json:"stream_id"`
}

// SubEvent is one subscription notice.
type SubEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	Channel     string    `json:"channel"`
	User        string    `json:"user"`
	Tier        string    `json:"tier"`
	IsGift      bool      `json:"is_gift"`
	TotalMonths int       `json:"total_months"`
}

// RaidEvent is one incoming raid. Raids skip the batch buffers and go
// straight to the sink.
type RaidEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	Channel     string    `json:"channel"`
	Raider      string    `json:"raider"`
	ViewerCount int       `json:"viewer_count"`
}

// StreamStatus is the full status snapshot appended to the per-day status
// log on every poll.
type StreamStatus struct {
	Timestamp   time.Time `json:"timestamp"`
	IsLive      bool      `json:"is_live"`
	ViewerCount int       `json:"viewer_count"`
	GameID      *string   `json:"game_id"`
	StreamID    *string   `json:"stream_id"`
	StartedAt   *string   `json:"started_at"`
}

// StreamStartEvent is the marker object written once per stream start.
type StreamStartEvent struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	StreamID  string    `json:"stream_id"`
	GameID    string    `json:"game_id"`
	StartedAt time.Time `json:"started_at"`
}

// StreamEndEvent is the summary object written when a stream ends.
type StreamEndEvent struct {
	Timestamp             time.Time `json:"timestamp"`
	EventType             string    `json:"event_type"`
	StreamDurationMinutes float64   `json:"stream_duration_minutes"`
	PeakViewers           int       `json:"peak_viewers"`
	UniqueChatters        int       `json:"unique_chatters"`
	TotalChatMessages     int       `json:"total_chat_messages"`
}

// ChatBatchMetrics are the derived metrics computed over one flushed chat
// batch. Unique chatters here are batch-local; the lifetime count lives in
// the live aggregate.
type ChatBatchMetrics struct {
	Timestamp       time.Time `json:"timestamp"`
	MessageCount    int       `json:"message_count"`
	UniqueChatters  int       `json:"unique_chatters"`
	ChatVelocity    float64   `json:"chat_velocity"`
	SubscriberRatio float64   `json:"subscriber_ratio"`
	ModMessageCount int       `json:"mod_message_count"`
	TimestampMin    time.Time `json:"timestamp_min"`
	TimestampMax    time.Time `json:"timestamp_max"`
}

// DeriveChatMetrics computes batch metrics for a chat flush at time now.
// Velocity is messages per minute over the batch's own span, zero for a
// single-message batch.
func DeriveChatMetrics(now time.Time, msgs []ChatMessage) ChatBatchMetrics {
	m := ChatBatchMetrics{Timestamp: now, MessageCount: len(msgs)}
	if len(msgs) == 0 {
		return m
	}

	chatters := make(map[string]struct{}, len(msgs))
	subs := 0
	tsMin, tsMax := msgs[0].Timestamp, msgs[0].Timestamp
	for _, msg := range msgs {
		chatters[msg.Sender] = struct{}{}
		if msg.IsSubscriber {
			subs++
		}
		if msg.IsMod {
			m.ModMessageCount++
		}
		if msg.Timestamp.Before(tsMin) {
			tsMin = msg.Timestamp
		}
		if msg.Timestamp.After(tsMax) {
			tsMax = msg.Timestamp
		}
	}
	m.UniqueChatters = len(chatters)
	m.SubscriberRatio = float64(subs) / float64(len(msgs))
	m.TimestampMin = tsMin
	m.TimestampMax = tsMax

	if len(msgs) >= 2 {
		span := msgs[len(msgs)-1].Timestamp.Sub(msgs[0].Timestamp).Minutes()
		if span < 1 {
			span = 1
		}
		m.ChatVelocity = float64(len(msgs)) / span
	}
	return m
}

// CSV row encoding. Column order matches the JSON field order above; the
// daily consolidated files and the report generator both depend on it.

func (c ChatMessage) csvRow() []string {
	return []string{
		c.Timestamp.Format(time.RFC3339),
		c.Channel,
		c.Sender,
		c.Message,
		strconv.FormatBool(c.IsSubscriber),
		strconv.FormatBool(c.IsMod),
		c.Badges,
		c.MessageID,
	}
}

func chatCSVHeader() []string {
	return []string{"timestamp", "channel", "sender", "message", "is_subscriber", "is_mod", "badges", "message_id"}
}

func (v ViewerSample) csvRow() []string {
	return []string{v.Timestamp.Format(time.RFC3339), strconv.Itoa(v.ViewerCount), v.StreamID}
}

func viewerCSVHeader() []string {
	return []string{"timestamp", "viewer_count", "stream_id"}
}

func (s StreamSample) csvRow() []string {
	return []string{
		s.Timestamp.Format(time.RFC3339),
		strconv.Itoa(s.ViewerCount),
		strconv.FormatFloat(s.StreamDuration, 'f', -1, 64),
		s.GameID,
		s.StreamID,
	}
}

func streamCSVHeader() []string {
	return []string{"timestamp", "viewer_count", "stream_duration", "game_id", "stream_id"}
}

func (s SubEvent) csvRow() []string {
	return []string{
		s.Timestamp.Format(time.RFC3339),
		s.Channel,
		s.User,
		s.Tier,
		strconv.FormatBool(s.IsGift),
		strconv.Itoa(s.TotalMonths),
	}
}

func subCSVHeader() []string {
	return []string{"timestamp", "channel", "user", "tier", "is_gift", "total_months"}
}
