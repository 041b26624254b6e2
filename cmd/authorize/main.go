// Command authorize walks the broadcaster through the OAuth code grant
// and stores the resulting token row.
//
// The tracker itself never serves the browser flow; this command is the
// one-time bootstrap for installs that don't already hold a user token
// to seed via TWITCH_USER_ACCESS_TOKEN. It prints the authorize URL,
// exchanges the code pasted back from the redirect, and upserts the row
// into oauth_tokens, after which the background refresher keeps it fresh.
//
// Usage:
//
//	authorize [--code CODE]
//
// Flags:
//
//	--code: authorization code or full redirect URL from an earlier run;
//	        prompts interactively when empty
//
// Environment:
//
//	TWITCH_CLIENT_ID, TWITCH_CLIENT_SECRET, TWITCH_REDIRECT_URI: required
//	TWITCH_SCOPES: scopes to request (default channel:read:subscriptions)
//	DB_DSN: Postgres connection string
//	ENCRYPTION_KEY: when set, the stored token is encrypted at rest
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/onnwee/stream-pulse/config"
	"github.com/onnwee/stream-pulse/db"
	"github.com/onnwee/stream-pulse/twitchapi"
)

func main() {
	codeFlag := flag.String("code", "", "authorization code or full redirect URL (prompts when empty)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}
	if cfg.TwitchClientID == "" || cfg.TwitchClientSecret == "" || cfg.TwitchRedirectURI == "" {
		slog.Error("TWITCH_CLIENT_ID, TWITCH_CLIENT_SECRET, and TWITCH_REDIRECT_URI are required")
		os.Exit(1)
	}

	state := uuid.NewString()
	authURL, err := twitchapi.BuildAuthorizeURL(cfg.TwitchClientID, cfg.TwitchRedirectURI, cfg.TwitchScopes, state)
	if err != nil {
		slog.Error("failed to build authorize URL", slog.Any("err", err))
		os.Exit(1)
	}

	input := *codeFlag
	if input == "" {
		fmt.Println("Open this URL in a browser and authorize the application:")
		fmt.Println()
		fmt.Println("  " + authURL)
		fmt.Println()
		fmt.Print("Paste the full redirect URL (or just the code value): ")
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			slog.Error("no input received")
			os.Exit(1)
		}
		input = scanner.Text()
	}

	code, gotState, err := extractCode(input)
	if err != nil {
		slog.Error("failed to read authorization code", slog.Any("err", err))
		os.Exit(1)
	}
	// State is only checked interactively; a code passed by flag was
	// authorized against an earlier run's URL with a different state.
	if *codeFlag == "" && gotState != "" && gotState != state {
		slog.Error("state mismatch, restart the flow", slog.String("got", gotState))
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	grant, err := twitchapi.ExchangeAuthCode(ctx, cfg.TwitchClientID, cfg.TwitchClientSecret, code, cfg.TwitchRedirectURI)
	if err != nil {
		slog.Error("code exchange failed", slog.Any("err", err))
		os.Exit(1)
	}

	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to connect to database", slog.Any("err", err))
		os.Exit(1)
	}
	defer database.Close()
	if err := database.PingContext(ctx); err != nil {
		slog.Error("failed to ping database", slog.Any("err", err))
		os.Exit(1)
	}

	scope := strings.Join(grant.Scope, " ")
	expiry := twitchapi.ComputeExpiry(grant.ExpiresIn)
	if err := db.UpsertOAuthToken(ctx, database, "twitch", grant.AccessToken, grant.RefreshToken, expiry, scope); err != nil {
		slog.Error("failed to store token", slog.Any("err", err))
		os.Exit(1)
	}

	slog.Info("token stored",
		slog.String("provider", "twitch"),
		slog.Time("expires_at", expiry),
		slog.String("scope", scope))
}

// extractCode accepts either the bare authorization code or the full
// redirect URL copied from the browser address bar.
func extractCode(input string) (code, state string, err error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", "", fmt.Errorf("empty input")
	}
	if !strings.Contains(input, "://") {
		return input, "", nil
	}
	u, err := url.Parse(input)
	if err != nil {
		return "", "", fmt.Errorf("parse redirect url: %w", err)
	}
	q := u.Query()
	if e := q.Get("error"); e != "" {
		return "", "", fmt.Errorf("authorization denied: %s: %s", e, q.Get("error_description"))
	}
	code = q.Get("code")
	if code == "" {
		return "", "", fmt.Errorf("redirect url has no code parameter")
	}
	return code, q.Get("state"), nil
}
