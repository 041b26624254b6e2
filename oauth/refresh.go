// Package oauth keeps the stored user token fresh. A background goroutine
// performs jittered checks against the oauth_tokens table and refreshes the
// token when its remaining lifetime falls within a configured window.
package oauth

import (
	"context"
	"database/sql"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/onnwee/stream-pulse/db"
)

// RefreshFunc performs the provider-specific refresh and returns
// (access, refresh, expiry, scope).
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error)

// StartRefresher launches a goroutine that periodically checks an oauth token
// row and refreshes it. Reads and writes go through the db helpers so tokens
// at rest stay encrypted when ENCRYPTION_KEY is configured.
// provider: key in oauth_tokens table.
// interval: how often to wake up and check.
// window: refresh when remaining lifetime <= window.
func StartRefresher(ctx context.Context, dbx *sql.DB, provider string, interval, window time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	log := slog.Default().With(slog.String("component", "oauth_refresher"), slog.String("provider", provider))

	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			// Per-iteration jitter (up to 20% of interval) for scheduling diversity.
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
			refreshIfNeeded(ctx, dbx, provider, interval, window, fn, log)
		}
	}()
}

func refreshIfNeeded(ctx context.Context, dbx *sql.DB, provider string, interval, window time.Duration, fn RefreshFunc, log *slog.Logger) {
	_, rt, exp, scope, err := db.GetOAuthToken(ctx, dbx, provider)
	if err != nil {
		log.Warn("token lookup failed", slog.Any("err", err))
		return
	}
	if rt == "" {
		return
	}
	if time.Until(exp) > window {
		return
	}

	// Small pre-refresh jitter so replicas seeing the same expiry do not
	// stampede the token endpoint. Bounded by the interval to stay
	// responsive at short check intervals.
	preMax := 5 * time.Second
	if interval < preMax {
		preMax = interval
	}
	//nolint:gosec // G404: math/rand is sufficient for jitter, not used for security
	pre := time.Duration(rand.Int63n(int64(preMax)))
	select {
	case <-ctx.Done():
		return
	case <-time.After(pre):
	}

	refreshCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	newAT, newRT, newExp, newScope, err := fn(refreshCtx, rt)
	cancel()
	if err != nil {
		log.Warn("token refresh failed", slog.Any("err", err))
		return
	}
	// Providers may rotate the refresh token or omit it; keep what we have
	// when the response leaves it out.
	if newRT == "" {
		newRT = rt
	}
	if newScope == "" {
		newScope = scope
	}
	if err := db.UpsertOAuthToken(ctx, dbx, provider, newAT, newRT, newExp, strings.TrimSpace(newScope)); err != nil {
		log.Warn("token persist failed", slog.Any("err", err))
		return
	}
	log.Info("token refreshed", slog.Time("expires_at", newExp))
}
