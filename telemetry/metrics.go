// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	ChatMessages  prometheus.Counter
	Subscriptions prometheus.Counter
	Raids         prometheus.Counter
	PollCycles    prometheus.Counter
	PollErrors    prometheus.Counter

	// Per-category counters (chat, viewer, stream, subscriber)
	Flushes     *prometheus.CounterVec
	FlushErrors *prometheus.CounterVec

	// Sink counters
	SinkWrites    prometheus.Counter
	SinkErrors    prometheus.Counter
	SinkFallbacks prometheus.Counter

	// Scheduler
	JobRuns     *prometheus.CounterVec
	JobFailures *prometheus.CounterVec

	// Histograms (seconds)
	FlushDuration prometheus.Observer
	PollDuration  prometheus.Observer

	// Gauges
	LiveGauge           prometheus.Gauge // 1=live,0=offline
	CurrentViewersGauge prometheus.Gauge
	PeakViewersGauge    prometheus.Gauge
	SubscriberGauge     prometheus.Gauge
	BufferDepth         *prometheus.GaugeVec
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		ChatMessages = promauto.NewCounter(prometheus.CounterOpts{Name: "tracker_chat_messages_total", Help: "Number of chat messages ingested"})
		Subscriptions = promauto.NewCounter(prometheus.CounterOpts{Name: "tracker_subscriptions_total", Help: "Number of subscription events ingested"})
		Raids = promauto.NewCounter(prometheus.CounterOpts{Name: "tracker_raids_total", Help: "Number of raid events ingested"})
		PollCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "tracker_poll_cycles_total", Help: "Number of stream status poll cycles"})
		PollErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "tracker_poll_errors_total", Help: "Number of failed stream status polls"})
		Flushes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tracker_flushes_total", Help: "Number of batch buffer flushes"}, []string{"category"})
		FlushErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tracker_flush_errors_total", Help: "Number of failed batch buffer flushes"}, []string{"category"})
		SinkWrites = promauto.NewCounter(prometheus.CounterOpts{Name: "tracker_sink_writes_total", Help: "Number of objects written to the durable sink"})
		SinkErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "tracker_sink_errors_total", Help: "Number of failed durable sink writes"})
		SinkFallbacks = promauto.NewCounter(prometheus.CounterOpts{Name: "tracker_sink_local_fallbacks_total", Help: "Number of event writes diverted to the local backup"})
		JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tracker_job_runs_total", Help: "Number of scheduled job executions"}, []string{"job"})
		JobFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tracker_job_failures_total", Help: "Number of scheduled job failures"}, []string{"job"})
		FlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "tracker_flush_duration_seconds", Help: "Batch flush duration seconds", Buckets: prometheus.DefBuckets})
		PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "tracker_poll_duration_seconds", Help: "Stream status poll duration seconds", Buckets: prometheus.DefBuckets})
		LiveGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "tracker_stream_live", Help: "Stream live=1 offline=0"})
		CurrentViewersGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "tracker_current_viewers", Help: "Current viewer count"})
		PeakViewersGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "tracker_peak_viewers", Help: "Peak viewer count of the current session"})
		SubscriberGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "tracker_subscriber_count", Help: "Channel subscriber count from the last refresh"})
		BufferDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "tracker_buffer_depth", Help: "Current number of buffered records"}, []string{"category"})
	})
}

// CountFlush records one flush outcome for a category.
func CountFlush(category string, err error) {
	if Flushes == nil {
		return
	}
	if err != nil {
		FlushErrors.WithLabelValues(category).Inc()
		return
	}
	Flushes.WithLabelValues(category).Inc()
}

// SetBufferDepth records the buffered record count for a category.
func SetBufferDepth(category string, n int) {
	if BufferDepth != nil {
		BufferDepth.WithLabelValues(category).Set(float64(n))
	}
}

// SetLive sets the live gauge to 1 if live else 0.
func SetLive(live bool) {
	if LiveGauge == nil {
		return
	}
	if live {
		LiveGauge.Set(1)
	} else {
		LiveGauge.Set(0)
	}
}

// SetViewers records the current and peak viewer gauges.
func SetViewers(current, peak int) {
	if CurrentViewersGauge != nil {
		CurrentViewersGauge.Set(float64(current))
	}
	if PeakViewersGauge != nil {
		PeakViewersGauge.Set(float64(peak))
	}
}

// SetSubscribers records the subscriber count gauge.
func SetSubscribers(n int) {
	if SubscriberGauge != nil {
		SubscriberGauge.Set(float64(n))
	}
}

// CountSinkWrite records one sink write outcome.
func CountSinkWrite(err error) {
	if SinkWrites == nil {
		return
	}
	if err != nil {
		SinkErrors.Inc()
		return
	}
	SinkWrites.Inc()
}

// CountSinkFallback records one event write diverted to local backup.
func CountSinkFallback() {
	if SinkFallbacks != nil {
		SinkFallbacks.Inc()
	}
}

// CountIngest increments an ingest counter if metrics are registered.
func CountIngest(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// CountJobRun records one scheduled job execution and its outcome.
func CountJobRun(job string, err error) {
	if JobRuns == nil {
		return
	}
	JobRuns.WithLabelValues(job).Inc()
	if err != nil {
		JobFailures.WithLabelValues(job).Inc()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
