package batch

import (
	"context"
	"errors"
	"time"

	"github.com/onnwee/stream-pulse/storage"
)

// Set bundles the four category buffers wired to the durable sink. Flush
// timestamps come from the wall clock at flush time so artifact keys name the
// moment the batch was persisted, not when its first record arrived.
type Set struct {
	Chat   *Buffer[storage.ChatMessage]
	Viewer *Buffer[storage.ViewerSample]
	Stream *Buffer[storage.StreamSample]
	Subs   *Buffer[storage.SubEvent]
}

func NewSet(sink *storage.Sink) *Set {
	return &Set{
		Chat: NewBuffer(string(storage.CategoryChat), ChatThreshold,
			func(ctx context.Context, items []storage.ChatMessage) error {
				return sink.SaveChatMetrics(ctx, time.Now().UTC(), items)
			}),
		Viewer: NewBuffer(string(storage.CategoryViewer), ViewerThreshold,
			func(ctx context.Context, items []storage.ViewerSample) error {
				return sink.SaveViewerStats(ctx, time.Now().UTC(), items)
			}),
		Stream: NewBuffer(string(storage.CategoryStream), StreamThreshold,
			func(ctx context.Context, items []storage.StreamSample) error {
				return sink.SaveStreamMetrics(ctx, time.Now().UTC(), items)
			}),
		Subs: NewBuffer(string(storage.CategorySubscriber), SubscriberThreshold,
			func(ctx context.Context, items []storage.SubEvent) error {
				return sink.SaveSubscriberData(ctx, time.Now().UTC(), items)
			}),
	}
}

// FlushAll force-flushes every buffer so a partial batch is not stranded
// until the next threshold. Called at stream end and on shutdown. All buffers
// are attempted even when one fails.
func (s *Set) FlushAll(ctx context.Context) error {
	return errors.Join(
		s.Chat.Flush(ctx),
		s.Viewer.Flush(ctx),
		s.Stream.Flush(ctx),
		s.Subs.Flush(ctx),
	)
}
