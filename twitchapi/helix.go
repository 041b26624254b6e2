// Package twitchapi contains minimal helpers to interact with Twitch Helix
// APIs for user id resolution, stream status polling, subscriber totals, and
// clip listing.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const helixBaseURL = "https://api.twitch.tv/helix"

// helixMaxRetries bounds transient-failure retries (429 and 5xx) per request.
// A 401 additionally gets one forced app-token refresh on top of these.
const helixMaxRetries = 3

// Stream is one entry from /helix/streams. An empty result from the endpoint
// means the channel is offline.
type Stream struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	UserLogin   string    `json:"user_login"`
	GameID      string    `json:"game_id"`
	GameName    string    `json:"game_name"`
	Title       string    `json:"title"`
	ViewerCount int       `json:"viewer_count"`
	StartedAt   time.Time `json:"started_at"`
}

// Clip is one entry from /helix/clips.
type Clip struct {
	ID            string    `json:"id"`
	URL           string    `json:"url"`
	BroadcasterID string    `json:"broadcaster_id"`
	CreatorName   string    `json:"creator_name"`
	GameID        string    `json:"game_id"`
	Title         string    `json:"title"`
	ViewCount     int       `json:"view_count"`
	CreatedAt     time.Time `json:"created_at"`
	Duration      float64   `json:"duration"`
	ThumbnailURL  string    `json:"thumbnail_url"`
}

// HelixClient provides the Helix methods the tracker needs. AppTokenSource is
// required; UserTokens only for GetSubscriberTotal.
type HelixClient struct {
	AppTokenSource *TokenSource
	UserTokens     TokenProvider
	ClientID       string
	HTTPClient     *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	q := url.Values{}
	q.Set("login", login)
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := hc.doGet(ctx, helixBaseURL+"/users", q, false, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("user not found")
	}
	return body.Data[0].ID, nil
}

// GetStreams returns the live streams for a user ID. Empty slice when the
// channel is offline.
func (hc *HelixClient) GetStreams(ctx context.Context, userID string) ([]Stream, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID empty")
	}
	q := url.Values{}
	q.Set("user_id", userID)
	var body struct {
		Data []Stream `json:"data"`
	}
	if err := hc.doGet(ctx, helixBaseURL+"/streams", q, false, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// GetSubscriberTotal returns the broadcaster's current subscriber count.
// Requires a user token with the channel:read:subscriptions scope.
func (hc *HelixClient) GetSubscriberTotal(ctx context.Context, broadcasterID string) (int, error) {
	if broadcasterID == "" {
		return 0, fmt.Errorf("broadcasterID empty")
	}
	if hc.UserTokens == nil {
		return 0, errors.New("subscriber lookup requires a user token source")
	}
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	q.Set("first", "1")
	var body struct {
		Total int `json:"total"`
	}
	if err := hc.doGet(ctx, helixBaseURL+"/subscriptions", q, true, &body); err != nil {
		return 0, err
	}
	return body.Total, nil
}

// GetClips lists a channel's top clips, optionally bounded to
// [startedAt, endedAt]. Zero times are omitted, which makes Helix
// return the all-time top clips.
func (hc *HelixClient) GetClips(ctx context.Context, broadcasterID string, startedAt, endedAt time.Time, first int) ([]Clip, error) {
	if broadcasterID == "" {
		return nil, fmt.Errorf("broadcasterID empty")
	}
	if first <= 0 {
		first = 20
	}
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	if !startedAt.IsZero() {
		q.Set("started_at", startedAt.UTC().Format(time.RFC3339))
	}
	if !endedAt.IsZero() {
		q.Set("ended_at", endedAt.UTC().Format(time.RFC3339))
	}
	q.Set("first", strconv.Itoa(first))
	var body struct {
		Data []Clip `json:"data"`
	}
	if err := hc.doGet(ctx, helixBaseURL+"/clips", q, false, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// doGet performs an authenticated Helix GET with bounded retries. 429 and 5xx
// responses are retried up to helixMaxRetries; a 401 on the app token forces
// one token refresh and one more attempt. User-token 401s are returned as-is
// since the background refresher owns user token freshness.
func (hc *HelixClient) doGet(ctx context.Context, rawURL string, q url.Values, useUserToken bool, out any) error {
	refreshed := false
	attempt := 0
	for {
		attempt++
		var tok string
		var err error
		if useUserToken {
			tok, err = hc.UserTokens.Get(ctx)
		} else {
			tok, err = hc.AppTokenSource.Get(ctx)
		}
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}
		req.URL.RawQuery = q.Encode()
		req.Header.Set("Client-Id", hc.ClientID)
		req.Header.Set("Authorization", "Bearer "+tok)

		resp, err := hc.http().Do(req)
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			err := json.NewDecoder(resp.Body).Decode(out)
			closeBody(resp)
			return err

		case resp.StatusCode == http.StatusUnauthorized && !useUserToken && !refreshed:
			closeBody(resp)
			if _, err := hc.AppTokenSource.ForceRefresh(ctx); err != nil {
				return fmt.Errorf("app token refresh after 401: %w", err)
			}
			refreshed = true
			continue

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			status := resp.Status
			snippet := readSnippet(resp.Body)
			delay := retryDelay(resp, attempt)
			closeBody(resp)
			if attempt >= helixMaxRetries {
				return fmt.Errorf("helix request failed after %d attempts: %s: %s", attempt, status, snippet)
			}
			slog.Debug("helix retry", slog.String("status", status), slog.Int("attempt", attempt), slog.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue

		default:
			status := resp.Status
			snippet := readSnippet(resp.Body)
			closeBody(resp)
			return fmt.Errorf("helix request failed: %s: %s", status, snippet)
		}
	}
}

// retryDelay honors Retry-After when present, otherwise backs off linearly.
func retryDelay(resp *http.Response, attempt int) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			d := time.Duration(secs) * time.Second
			if d > 5*time.Second {
				d = 5 * time.Second
			}
			return d
		}
	}
	return time.Duration(attempt) * 500 * time.Millisecond
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}
