package storage

import (
	"fmt"
	"strings"
	"time"
)

// Object key layout. The prefix is always the lowercased broadcaster name;
// date and time components use the compact %Y%m%d / %H%M%S forms. Downstream
// tooling globs these paths, so the layout is load-bearing.

const (
	dateLayout = "20060102"
	timeLayout = "150405"
)

type keys struct {
	prefix string
}

func newKeys(broadcaster string) keys {
	return keys{prefix: strings.ToLower(broadcaster)}
}

// rawEvent partitions the audit trail by date and hour.
func (k keys) rawEvent(at time.Time, eventType, eventID string) string {
	return fmt.Sprintf("%s/raw_events/%s/%s/%s_%s.json",
		k.prefix, at.Format(dateLayout), at.Format("15"), eventType, eventID)
}

func (k keys) chatMetrics(at time.Time) string {
	return fmt.Sprintf("%s/chat_metrics/%s/metrics_%s.json", k.prefix, at.Format(dateLayout), at.Format(timeLayout))
}

func (k keys) chatRawBatch(at time.Time) string {
	return fmt.Sprintf("%s/chat_metrics/%s/raw_batch_%s.json", k.prefix, at.Format(dateLayout), at.Format(timeLayout))
}

func (k keys) chatCSV(at time.Time) string {
	return fmt.Sprintf("%s/chat_metrics/%s/messages_%s.csv", k.prefix, at.Format(dateLayout), at.Format(timeLayout))
}

func (k keys) chatDaily(at time.Time) string {
	return fmt.Sprintf("%s/chat_metrics/daily_%s.csv", k.prefix, at.Format(dateLayout))
}

func (k keys) viewerStats(at time.Time) string {
	return fmt.Sprintf("%s/viewer_stats/%s/viewers_%s.json", k.prefix, at.Format(dateLayout), at.Format(timeLayout))
}

func (k keys) viewerCSV(at time.Time) string {
	return fmt.Sprintf("%s/viewer_stats/%s/viewers_%s.csv", k.prefix, at.Format(dateLayout), at.Format(timeLayout))
}

func (k keys) viewerSample(at time.Time) string {
	return fmt.Sprintf("%s/viewer_stats/%s/viewer_count_%s.json", k.prefix, at.Format(dateLayout), at.Format(timeLayout))
}

func (k keys) viewerDaily(at time.Time) string {
	return fmt.Sprintf("%s/viewer_stats/daily_%s.csv", k.prefix, at.Format(dateLayout))
}

func (k keys) streamMetrics(at time.Time) string {
	return fmt.Sprintf("%s/stream_metrics/%s/metrics_%s.json", k.prefix, at.Format(dateLayout), at.Format(timeLayout))
}

func (k keys) streamCSV(at time.Time) string {
	return fmt.Sprintf("%s/stream_metrics/%s/metrics_%s.csv", k.prefix, at.Format(dateLayout), at.Format(timeLayout))
}

func (k keys) streamDaily(at time.Time) string {
	return fmt.Sprintf("%s/stream_metrics/daily_%s.csv", k.prefix, at.Format(dateLayout))
}

func (k keys) streamStart(at time.Time) string {
	return fmt.Sprintf("%s/stream_metrics/%s/stream_start.json", k.prefix, at.Format(dateLayout))
}

func (k keys) streamEnd(at time.Time) string {
	return fmt.Sprintf("%s/stream_metrics/%s/stream_end.json", k.prefix, at.Format(dateLayout))
}

func (k keys) subscribers(at time.Time) string {
	return fmt.Sprintf("%s/subscribers/%s/subscribers_%s.json", k.prefix, at.Format(dateLayout), at.Format(timeLayout))
}

func (k keys) subscribersCSV(at time.Time) string {
	return fmt.Sprintf("%s/subscribers/%s/subscribers_%s.csv", k.prefix, at.Format(dateLayout), at.Format(timeLayout))
}

func (k keys) subscriberCount(at time.Time) string {
	return fmt.Sprintf("%s/subscribers/%s/count_%s.json", k.prefix, at.Format(dateLayout), at.Format(timeLayout))
}

func (k keys) subscriberDaily(at time.Time) string {
	return fmt.Sprintf("%s/subscribers/daily_%s.csv", k.prefix, at.Format(dateLayout))
}

func (k keys) statusLog(at time.Time) string {
	return fmt.Sprintf("%s/status/stream_status_%s.json", k.prefix, at.Format(dateLayout))
}

func (k keys) dailyReport(at time.Time) string {
	return fmt.Sprintf("%s/reports/daily_report_%s.json", k.prefix, at.Format(dateLayout))
}

func (k keys) topClips(at time.Time) string {
	return fmt.Sprintf("%s/clip_analysis/top_clips_%s.json", k.prefix, at.Format(dateLayout))
}

func (k keys) clipAnalysis(at time.Time) string {
	return fmt.Sprintf("%s/clip_analysis/analysis_%s.json", k.prefix, at.Format(dateLayout))
}

// folders returns the top-level prefixes seeded as zero-byte markers when the
// bucket layout is first created.
func (k keys) folders() []string {
	return []string{
		k.prefix + "/subscribers/",
		k.prefix + "/chat_metrics/",
		k.prefix + "/viewer_stats/",
		k.prefix + "/stream_metrics/",
		k.prefix + "/reports/",
		k.prefix + "/raw_events/",
	}
}
