package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/stream-pulse/telemetry"
)

// RefreshSubscriberCount polls the subscriber total and persists the
// snapshot. Runs on its own cadence, independent of the status poll.
func (m *Monitor) RefreshSubscriberCount(ctx context.Context) error {
	if m.cfg.Subs == nil {
		return errors.New("subscriber source not configured")
	}
	now := time.Now().UTC()
	ctx, span := telemetry.StartSpan(ctx, "monitor", "refresh_subscriber_count")
	defer span.End()
	total, err := m.cfg.Subs.GetSubscriberTotal(ctx, m.cfg.BroadcasterID)
	if err != nil {
		err = fmt.Errorf("subscriber total: %w", err)
		telemetry.RecordError(span, err)
		return err
	}

	m.cfg.Live.SetSubscriberCount(total)
	telemetry.SetSubscribers(total)
	if err := m.cfg.Sink.SaveSubscriberCount(ctx, now, total); err != nil {
		return fmt.Errorf("subscriber count save: %w", err)
	}
	m.log.Debug("subscriber count refreshed", slog.Int("total", total))
	return nil
}
