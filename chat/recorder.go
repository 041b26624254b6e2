package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/stream-pulse/batch"
	"github.com/onnwee/stream-pulse/live"
	"github.com/onnwee/stream-pulse/storage"
	"github.com/onnwee/stream-pulse/telemetry"
)

// reconnectDelay spaces reconnect attempts after the IRC connection
// drops or fails to establish.
const reconnectDelay = 10 * time.Second

// Config wires a Recorder to its outputs.
type Config struct {
	// Channel is the broadcaster's login to join.
	Channel string
	// BotUsername and BotToken authenticate the IRC connection. The
	// token is the raw OAuth token; the "oauth:" prefix is added here.
	BotUsername string
	BotToken    string

	Live    *live.Metrics
	Sink    *storage.Sink
	Buffers *batch.Set
}

// Recorder consumes a channel's IRC traffic and fans each event out to
// the live aggregate, the batch buffers, and the audit trail. Handlers
// run on the IRC client's read goroutine; everything they touch is
// safe for concurrent use.
type Recorder struct {
	cfg Config
	log *slog.Logger
}

func NewRecorder(cfg Config) (*Recorder, error) {
	if cfg.Channel == "" || cfg.BotUsername == "" || cfg.BotToken == "" {
		return nil, fmt.Errorf("chat: channel, bot username, and bot token are required")
	}
	if cfg.Live == nil || cfg.Sink == nil || cfg.Buffers == nil {
		return nil, fmt.Errorf("chat: live metrics, sink, and buffers are required")
	}
	return &Recorder{
		cfg: cfg,
		log: slog.Default().With(slog.String("component", "chat")),
	}, nil
}

// Run connects to IRC and blocks until ctx is canceled, reconnecting
// after dropped connections. It returns nil on a clean shutdown.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		err := r.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			r.log.Error("chat connection lost", slog.Any("err", err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

func (r *Recorder) runOnce(ctx context.Context) error {
	token := r.cfg.BotToken
	if !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	client := twitch.NewClient(r.cfg.BotUsername, token)
	client.OnPrivateMessage(r.handleMessage)
	client.OnUserNoticeMessage(r.handleUserNotice)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			client.Disconnect()
		case <-done:
		}
	}()

	r.log.Info("joining chat", slog.String("channel", r.cfg.Channel))
	client.Join(r.cfg.Channel)
	err := client.Connect()
	close(done)
	return err
}

func (r *Recorder) handleMessage(msg twitch.PrivateMessage) {
	now := time.Now().UTC()
	rec := storage.ChatMessage{
		Timestamp:    now,
		Channel:      msg.Channel,
		Sender:       msg.User.Name,
		Message:      msg.Message,
		IsSubscriber: hasBadge(msg.User.Badges, "subscriber") || hasBadge(msg.User.Badges, "founder"),
		IsMod:        hasBadge(msg.User.Badges, "moderator"),
		Badges:       joinBadges(msg.User.Badges),
		MessageID:    msg.ID,
	}

	r.cfg.Live.RecordChatMessage(rec.Sender, rec.Message, now)
	telemetry.CountIngest(telemetry.ChatMessages)

	ctx := context.Background()
	if err := r.cfg.Sink.SaveEvent(ctx, now, storage.EventTypeChatMessage, rec); err != nil {
		r.log.Error("chat audit", slog.Any("err", err))
	}
	if err := r.cfg.Buffers.Chat.Add(ctx, rec); err != nil {
		r.log.Error("chat batch flush", slog.Any("err", err))
	}
}

func (r *Recorder) handleUserNotice(msg twitch.UserNoticeMessage) {
	switch msg.MsgID {
	case "sub", "resub":
		r.recordSubscription(msg, msg.User.Name, false)
	case "subgift", "anonsubgift":
		r.recordSubscription(msg, msg.MsgParams["msg-param-recipient-user-name"], true)
	case "raid":
		r.recordRaid(msg)
	}
}

func (r *Recorder) recordSubscription(msg twitch.UserNoticeMessage, user string, gift bool) {
	now := time.Now().UTC()
	rec := storage.SubEvent{
		Timestamp:   now,
		Channel:     msg.Channel,
		User:        user,
		Tier:        msg.MsgParams["msg-param-sub-plan"],
		IsGift:      gift,
		TotalMonths: subMonths(msg.MsgParams),
	}

	r.cfg.Live.RecordSubscription(live.Subscriber{
		Timestamp:   rec.Timestamp,
		Channel:     rec.Channel,
		User:        rec.User,
		Tier:        rec.Tier,
		IsGift:      rec.IsGift,
		TotalMonths: rec.TotalMonths,
	})
	telemetry.CountIngest(telemetry.Subscriptions)
	r.log.Info("new subscription", slog.String("user", rec.User), slog.String("tier", rec.Tier))

	ctx := context.Background()
	if err := r.cfg.Sink.SaveEvent(ctx, now, storage.EventTypeSubscription, rec); err != nil {
		r.log.Error("subscription audit", slog.Any("err", err))
	}
	// Subscriber threshold is 1, so this lands in durable storage
	// immediately.
	if err := r.cfg.Buffers.Subs.Add(ctx, rec); err != nil {
		r.log.Error("subscriber batch flush", slog.Any("err", err))
	}
}

func (r *Recorder) recordRaid(msg twitch.UserNoticeMessage) {
	now := time.Now().UTC()
	viewers, _ := strconv.Atoi(msg.MsgParams["msg-param-viewerCount"])
	raider := msg.MsgParams["msg-param-displayName"]
	if raider == "" {
		raider = msg.User.Name
	}
	rec := storage.RaidEvent{
		Timestamp:   now,
		Channel:     msg.Channel,
		Raider:      raider,
		ViewerCount: viewers,
	}

	r.cfg.Live.RecordRaid(rec.Raider, rec.ViewerCount, now)
	telemetry.CountIngest(telemetry.Raids)
	r.log.Info("raid received", slog.String("raider", rec.Raider), slog.Int("viewers", rec.ViewerCount))

	if err := r.cfg.Sink.SaveEvent(context.Background(), now, storage.EventTypeRaid, rec); err != nil {
		r.log.Error("raid audit", slog.Any("err", err))
	}
}

// subMonths pulls the cumulative month count from a USERNOTICE. Gift
// notices carry msg-param-months instead of the cumulative key.
func subMonths(params map[string]string) int {
	for _, key := range []string{"msg-param-cumulative-months", "msg-param-months"} {
		if raw, ok := params[key]; ok {
			if n, err := strconv.Atoi(raw); err == nil {
				return n
			}
		}
	}
	return 0
}

func hasBadge(badges map[string]int, name string) bool {
	_, ok := badges[name]
	return ok
}

// joinBadges renders the badge set as a stable comma-joined list.
func joinBadges(badges map[string]int) string {
	if len(badges) == 0 {
		return ""
	}
	names := make([]string, 0, len(badges))
	for name := range badges {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}
