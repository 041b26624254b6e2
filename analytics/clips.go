package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/onnwee/stream-pulse/storage"
	"github.com/onnwee/stream-pulse/twitchapi"
)

// topClipCount is how many clips the daily analysis pulls from Helix.
const topClipCount = 20

// ClipSource lists a channel's top clips. Zero start and end times
// mean the channel's all-time top clips.
type ClipSource interface {
	GetClips(ctx context.Context, broadcasterID string, startedAt, endedAt time.Time, first int) ([]twitchapi.Clip, error)
}

// ClipSummary is the stored per-clip shape.
type ClipSummary struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	CreatedAt    string  `json:"created_at"`
	Duration     float64 `json:"duration"`
	ViewCount    int     `json:"view_count"`
	GameID       string  `json:"game_id"`
	ThumbnailURL string  `json:"thumbnail_url"`
}

// ClipAnalysis aggregates one day's top clips.
type ClipAnalysis struct {
	Date            string        `json:"date"`
	MostPopularGame string        `json:"most_popular_game"`
	AvgDuration     float64       `json:"avg_duration"`
	Top5Clips       []ClipSummary `json:"top_5_clips"`
}

// ClipAnalyzer pulls the channel's top clips once a day and stores
// both the raw list and a small aggregate next to it.
type ClipAnalyzer struct {
	source        ClipSource
	sink          *storage.Sink
	broadcasterID string
	log           *slog.Logger
}

func NewClipAnalyzer(source ClipSource, sink *storage.Sink, broadcasterID string) *ClipAnalyzer {
	return &ClipAnalyzer{
		source:        source,
		sink:          sink,
		broadcasterID: broadcasterID,
		log:           slog.Default().With(slog.String("component", "clips")),
	}
}

// AnalyzeTopClips fetches the channel's top clips and stores the list
// plus the derived analysis. A channel without clips is not an error.
func (a *ClipAnalyzer) AnalyzeTopClips(ctx context.Context) error {
	clips, err := a.source.GetClips(ctx, a.broadcasterID, time.Time{}, time.Time{}, topClipCount)
	if err != nil {
		return fmt.Errorf("clip fetch: %w", err)
	}
	if len(clips) == 0 {
		a.log.Info("no clips to analyze")
		return nil
	}

	now := time.Now().UTC()
	summaries := make([]ClipSummary, 0, len(clips))
	for _, c := range clips {
		summaries = append(summaries, ClipSummary{
			ID:           c.ID,
			Title:        c.Title,
			CreatedAt:    c.CreatedAt.UTC().Format(time.RFC3339),
			Duration:     c.Duration,
			ViewCount:    c.ViewCount,
			GameID:       c.GameID,
			ThumbnailURL: c.ThumbnailURL,
		})
	}
	if err := a.sink.SaveTopClips(ctx, now, summaries); err != nil {
		return fmt.Errorf("top clips save: %w", err)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].ViewCount > summaries[j].ViewCount
	})
	var totalDur float64
	for _, c := range summaries {
		totalDur += c.Duration
	}
	top5 := summaries
	if len(top5) > 5 {
		top5 = top5[:5]
	}
	analysis := ClipAnalysis{
		Date:            now.Format("20060102"),
		MostPopularGame: mostPopularGame(summaries),
		AvgDuration:     totalDur / float64(len(summaries)),
		Top5Clips:       top5,
	}
	if err := a.sink.SaveClipAnalysis(ctx, now, analysis); err != nil {
		return fmt.Errorf("clip analysis save: %w", err)
	}
	a.log.Info("clip analysis saved",
		slog.String("most_popular_game", analysis.MostPopularGame),
		slog.Float64("avg_duration", analysis.AvgDuration))
	return nil
}

// mostPopularGame returns the game appearing on the most clips. Ties
// go to the game seen first in view-count order.
func mostPopularGame(clips []ClipSummary) string {
	counts := map[string]int{}
	for _, c := range clips {
		counts[gameKey(c)]++
	}
	best, bestCount := "", 0
	for _, c := range clips {
		if n := counts[gameKey(c)]; n > bestCount {
			best, bestCount = gameKey(c), n
		}
	}
	return best
}

func gameKey(c ClipSummary) string {
	if c.GameID == "" {
		return "unknown"
	}
	return c.GameID
}
