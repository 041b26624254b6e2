package storage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// RetentionPolicy bounds how long local data directory artifacts are kept.
// The object store is the durable copy; the local backup, daily, and status
// trees only need to cover restarts and outages.
type RetentionPolicy struct {
	// KeepDays removes local files older than this many days. 0 disables.
	KeepDays int
	// DryRun logs what would be removed without deleting.
	DryRun bool
	// Interval is how often the cleanup runs.
	Interval time.Duration
}

// LoadRetentionPolicy reads policy from environment variables:
// RETENTION_KEEP_DAYS, RETENTION_DRY_RUN, RETENTION_INTERVAL.
func LoadRetentionPolicy() RetentionPolicy {
	p := RetentionPolicy{
		KeepDays: 14,
		Interval: 24 * time.Hour,
	}
	if v := os.Getenv("RETENTION_KEEP_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			p.KeepDays = n
		}
	}
	if v := os.Getenv("RETENTION_DRY_RUN"); v == "1" || v == "true" {
		p.DryRun = true
	}
	if v := os.Getenv("RETENTION_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			p.Interval = d
		}
	}
	return p
}

// StartRetentionJob runs local cleanup immediately and then on the policy
// interval until ctx is cancelled. Disabled policies return without starting
// a goroutine.
func (s *Sink) StartRetentionJob(ctx context.Context, policy RetentionPolicy) {
	if policy.KeepDays <= 0 {
		s.log.Info("local retention disabled")
		return
	}
	go func() {
		s.runRetention(policy)
		ticker := time.NewTicker(policy.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runRetention(policy)
			}
		}
	}()
}

func (s *Sink) runRetention(policy RetentionPolicy) {
	cutoff := time.Now().AddDate(0, 0, -policy.KeepDays)
	removed, kept := 0, 0
	for _, sub := range []string{"backup", "daily", "status"} {
		r, k := cleanupTree(filepath.Join(s.dataDir, sub), cutoff, policy.DryRun, s.log)
		removed += r
		kept += k
	}
	s.log.Info("local retention pass complete",
		slog.Int("removed", removed),
		slog.Int("kept", kept),
		slog.Bool("dry_run", policy.DryRun),
		slog.Time("cutoff", cutoff))
}

// cleanupTree removes regular files under root whose modification time is
// before cutoff, then prunes directories left empty.
func cleanupTree(root string, cutoff time.Time, dryRun bool, log *slog.Logger) (removed, kept int) {
	var dirs []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			if path != root {
				dirs = append(dirs, path)
			}
			return nil
		}
		if info.ModTime().After(cutoff) {
			kept++
			return nil
		}
		if dryRun {
			log.Info("would remove local file", slog.String("path", path))
			removed++
			return nil
		}
		if err := os.Remove(path); err != nil {
			log.Warn("remove failed", slog.String("path", path), slog.Any("err", err))
			kept++
			return nil
		}
		removed++
		return nil
	})
	if err != nil {
		log.Warn("retention walk failed", slog.String("root", root), slog.Any("err", err))
		return removed, kept
	}
	if dryRun {
		return removed, kept
	}
	// Deepest first so nested empty dirs collapse in one pass.
	for i := len(dirs) - 1; i >= 0; i-- {
		entries, err := os.ReadDir(dirs[i])
		if err == nil && len(entries) == 0 {
			_ = os.Remove(dirs[i])
		}
	}
	return removed, kept
}
