// Package batch implements the threshold-flushed accumulators sitting between
// the event handlers and the durable sink. Each category of record (chat
// message, viewer sample, stream sample, subscriber event) gets its own
// buffer; a buffer flushes once its size threshold is reached or when it is
// force-flushed at stream end.
package batch

import (
	"context"
	"sync"

	"github.com/onnwee/stream-pulse/telemetry"
)

// Flush thresholds per category. Subscriber events flush on every append.
const (
	ChatThreshold       = 50
	ViewerThreshold     = 10
	StreamThreshold     = 10
	SubscriberThreshold = 1
)

// FlushFunc persists one batch of records. It must not retain the slice; the
// buffer reuses the backing array after a successful flush.
type FlushFunc[T any] func(ctx context.Context, items []T) error

// Buffer accumulates records of one category and flushes them through its
// FlushFunc once the threshold is reached. Append, threshold check, flush and
// clear happen under one mutex so concurrent producers cannot double-flush or
// lose records. A failed flush keeps the records for the next attempt.
type Buffer[T any] struct {
	mu        sync.Mutex
	category  string
	threshold int
	items     []T
	flush     FlushFunc[T]
}

func NewBuffer[T any](category string, threshold int, flush FlushFunc[T]) *Buffer[T] {
	return &Buffer[T]{
		category:  category,
		threshold: threshold,
		items:     make([]T, 0, threshold),
		flush:     flush,
	}
}

// Add appends one record and flushes if the buffer has reached its threshold.
// The returned error is the flush error when a flush was attempted; the
// record itself is always accepted.
func (b *Buffer[T]) Add(ctx context.Context, item T) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = append(b.items, item)
	telemetry.SetBufferDepth(b.category, len(b.items))
	if len(b.items) < b.threshold {
		return nil
	}
	return b.flushLocked(ctx)
}

// Flush force-flushes the buffer regardless of size. Flushing an empty
// buffer is a no-op success.
func (b *Buffer[T]) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked(ctx)
}

func (b *Buffer[T]) flushLocked(ctx context.Context) error {
	if len(b.items) == 0 {
		return nil
	}
	var err error
	telemetry.TimeFunc(telemetry.FlushDuration, func() {
		err = b.flush(ctx, b.items)
	})
	telemetry.CountFlush(b.category, err)
	if err != nil {
		// Keep the records; the next Add or Flush retries the whole
		// batch rather than dropping it on an unconfirmed write.
		return err
	}
	b.items = b.items[:0]
	telemetry.SetBufferDepth(b.category, 0)
	return nil
}

// Len returns the current number of buffered records.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Category returns the buffer's category label.
func (b *Buffer[T]) Category() string {
	return b.category
}
