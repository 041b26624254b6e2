// Package live holds the always-current aggregate view of channel state used
// for dashboard rendering. A single Metrics instance is created at process
// start and mutated by the chat handlers and the stream status poller; all
// access goes through its mutex so callbacks and pollers can run on separate
// goroutines.
package live

import (
	"fmt"
	"sync"
	"time"
)

// Capacities of the bounded history sequences. Oldest entries are evicted
// first once a sequence is full.
const (
	RetentionCap   = 60
	ActivityCap    = 30
	SubscribersCap = 20
	EventsCap      = 100
)

// Event entry types recorded in the rolling recent-events log.
const (
	EventStream       = "stream"
	EventChat         = "chat"
	EventSubscription = "subscription"
	EventRaid         = "raid"
)

// ViewerPoint is one viewer-count sample in the retention window.
type ViewerPoint struct {
	Timestamp   time.Time `json:"timestamp"`
	ViewerCount int       `json:"viewer_count"`
}

// ActivityBucket counts chat messages within one calendar minute.
type ActivityBucket struct {
	Timestamp    time.Time `json:"timestamp"`
	MessageCount int       `json:"message_count"`
}

// Subscriber is one entry in the recent-subscribers log. Tier holds the raw
// plan code ("1000", "2000", "3000", "Prime") as received from chat.
type Subscriber struct {
	Timestamp   time.Time `json:"timestamp"`
	Channel     string    `json:"channel"`
	User        string    `json:"user"`
	Tier        string    `json:"tier"`
	IsGift      bool      `json:"is_gift"`
	TotalMonths int       `json:"total_months"`
}

// Event is one entry in the recent-events log.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
}

// Snapshot is the JSON mirror of Metrics served to the dashboard. Field names
// match the layout the dashboard already consumes.
type Snapshot struct {
	IsLive                bool             `json:"is_live"`
	StreamStartedAt       *time.Time       `json:"stream_started_at"`
	CurrentViewers        int              `json:"current_viewers"`
	PeakViewers           int              `json:"peak_viewers"`
	SubscriberCount       int              `json:"subscriber_count"`
	NewSubsToday          int              `json:"new_subs_today"`
	TotalChatMessages     int              `json:"total_chat_messages"`
	ChatMessagesPerMinute float64          `json:"chat_messages_per_minute"`
	UniqueChatters        int              `json:"unique_chatters"`
	ViewerRetention       []ViewerPoint    `json:"viewer_retention"`
	ChatActivity          []ActivityBucket `json:"chat_activity"`
	RecentSubscribers     []Subscriber     `json:"recent_subscribers"`
	RecentEvents          []Event          `json:"recent_events"`
}

// Metrics is the process-wide live aggregate. The zero value is not usable;
// construct with NewMetrics.
type Metrics struct {
	mu sync.RWMutex

	isLive          bool
	streamStartedAt *time.Time

	currentViewers int
	peakViewers    int

	subscriberCount int
	newSubsToday    int

	totalChatMessages     int
	chatMessagesPerMinute float64

	// chatters is the lifetime set of distinct senders. Flushing batch
	// buffers must never shrink this, so it is kept here rather than
	// derived from any buffer.
	chatters map[string]struct{}

	viewerRetention   []ViewerPoint
	chatActivity      []ActivityBucket
	recentSubscribers []Subscriber
	recentEvents      []Event
}

func NewMetrics() *Metrics {
	return &Metrics{
		chatters:          make(map[string]struct{}),
		viewerRetention:   make([]ViewerPoint, 0, RetentionCap),
		chatActivity:      make([]ActivityBucket, 0, ActivityCap),
		recentSubscribers: make([]Subscriber, 0, SubscribersCap),
		recentEvents:      make([]Event, 0, EventsCap),
	}
}

// appendBounded appends v and evicts from the front once the sequence
// exceeds max.
func appendBounded[T any](s []T, v T, max int) []T {
	s = append(s, v)
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}

// RecordChatMessage updates chat-derived metrics for one message. The
// messages-per-minute rate only moves while a stream is live, matching the
// dashboard's definition of chat velocity.
func (m *Metrics) RecordChatMessage(sender, text string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalChatMessages++
	m.chatters[sender] = struct{}{}

	m.bumpActivityLocked(at)

	if m.isLive && m.streamStartedAt != nil {
		mins := at.Sub(*m.streamStartedAt).Minutes()
		if mins < 1 {
			mins = 1
		}
		m.chatMessagesPerMinute = float64(m.totalChatMessages) / mins
	}

	m.recentEvents = appendBounded(m.recentEvents, Event{
		Timestamp: at,
		Type:      EventChat,
		Message:   fmt.Sprintf("%s: %s", sender, truncate(text, 50)),
	}, EventsCap)
}

// bumpActivityLocked finds or creates the per-minute bucket for at.
func (m *Metrics) bumpActivityLocked(at time.Time) {
	bucket := at.Truncate(time.Minute)
	for i := range m.chatActivity {
		if m.chatActivity[i].Timestamp.Equal(bucket) {
			m.chatActivity[i].MessageCount++
			return
		}
	}
	m.chatActivity = appendBounded(m.chatActivity, ActivityBucket{
		Timestamp:    bucket,
		MessageCount: 1,
	}, ActivityCap)
}

// TierName maps a raw sub plan code to the label shown in event messages.
// Anything unrecognized (including Prime) reads as Tier 1.
func TierName(code string) string {
	switch code {
	case "2000":
		return "Tier 2"
	case "3000":
		return "Tier 3"
	default:
		return "Tier 1"
	}
}

// RecordSubscription updates subscription metrics and appends the rendered
// recent-events entry. sub.Tier carries the raw plan code; the event message
// renders the mapped tier label with gift and month annotations.
func (m *Metrics) RecordSubscription(sub Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.newSubsToday++
	m.recentSubscribers = appendBounded(m.recentSubscribers, sub, SubscribersCap)

	msg := fmt.Sprintf("%s subscribed (%s)", sub.User, TierName(sub.Tier))
	if sub.IsGift {
		msg += " (gifted)"
	}
	if sub.TotalMonths > 1 {
		msg += fmt.Sprintf(" - %d months", sub.TotalMonths)
	}
	m.recentEvents = appendBounded(m.recentEvents, Event{
		Timestamp: sub.Timestamp,
		Type:      EventSubscription,
		Message:   msg,
	}, EventsCap)
}

// RecordRaid appends the raid to the recent-events log.
func (m *Metrics) RecordRaid(raider string, viewers int, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recentEvents = appendBounded(m.recentEvents, Event{
		Timestamp: at,
		Type:      EventRaid,
		Message:   fmt.Sprintf("%s raided with %d viewers", raider, viewers),
	}, EventsCap)
}

// StreamStarted flips the aggregate live. Peak is reset to the first reported
// sample so a quiet stream cannot inherit the previous session's peak.
func (m *Metrics) StreamStarted(startedAt time.Time, viewers int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	started := startedAt
	m.isLive = true
	m.streamStartedAt = &started
	m.currentViewers = viewers
	m.peakViewers = viewers

	m.recentEvents = appendBounded(m.recentEvents, Event{
		Timestamp: time.Now().UTC(),
		Type:      EventStream,
		Message:   fmt.Sprintf("Stream started at %s", startedAt.Format("15:04:05")),
	}, EventsCap)
}

// UpdateViewers records a steady-state viewer sample while live.
func (m *Metrics) UpdateViewers(count int, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.currentViewers = count
	if count > m.peakViewers {
		m.peakViewers = count
	}
	m.viewerRetention = appendBounded(m.viewerRetention, ViewerPoint{
		Timestamp:   at,
		ViewerCount: count,
	}, RetentionCap)
}

// StreamEnded flips the aggregate offline and returns the session duration.
// Zero duration is returned when no start timestamp was recorded.
func (m *Metrics) StreamEnded(at time.Time) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	var dur time.Duration
	if m.streamStartedAt != nil {
		dur = at.Sub(*m.streamStartedAt)
	}
	m.isLive = false

	m.recentEvents = appendBounded(m.recentEvents, Event{
		Timestamp: at,
		Type:      EventStream,
		Message:   fmt.Sprintf("Stream ended (Duration: %d minutes)", int(dur.Minutes())),
	}, EventsCap)
	return dur
}

// SetSubscriberCount overwrites the channel subscriber total from a poll.
func (m *Metrics) SetSubscriberCount(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriberCount = n
}

// AddEvent appends an arbitrary entry to the recent-events log.
func (m *Metrics) AddEvent(typ, message string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recentEvents = appendBounded(m.recentEvents, Event{
		Timestamp: at,
		Type:      typ,
		Message:   message,
	}, EventsCap)
}

func (m *Metrics) IsLive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isLive
}

// StartedAt returns the current session start, or the zero time when offline
// or never started.
func (m *Metrics) StartedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.streamStartedAt == nil {
		return time.Time{}
	}
	return *m.streamStartedAt
}

func (m *Metrics) PeakViewers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.peakViewers
}

func (m *Metrics) CurrentViewers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentViewers
}

func (m *Metrics) TotalChatMessages() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalChatMessages
}

func (m *Metrics) UniqueChatters() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chatters)
}

// Snapshot deep-copies the aggregate for JSON rendering. The returned value
// shares nothing with the live state.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var started *time.Time
	if m.streamStartedAt != nil {
		t := *m.streamStartedAt
		started = &t
	}
	s := Snapshot{
		IsLive:                m.isLive,
		StreamStartedAt:       started,
		CurrentViewers:        m.currentViewers,
		PeakViewers:           m.peakViewers,
		SubscriberCount:       m.subscriberCount,
		NewSubsToday:          m.newSubsToday,
		TotalChatMessages:     m.totalChatMessages,
		ChatMessagesPerMinute: m.chatMessagesPerMinute,
		UniqueChatters:        len(m.chatters),
		ViewerRetention:       make([]ViewerPoint, len(m.viewerRetention)),
		ChatActivity:          make([]ActivityBucket, len(m.chatActivity)),
		RecentSubscribers:     make([]Subscriber, len(m.recentSubscribers)),
		RecentEvents:          make([]Event, len(m.recentEvents)),
	}
	copy(s.ViewerRetention, m.viewerRetention)
	copy(s.ChatActivity, m.chatActivity)
	copy(s.RecentSubscribers, m.recentSubscribers)
	copy(s.RecentEvents, m.recentEvents)
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
