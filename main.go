// Command stream-pulse is the entrypoint for the stream analytics tracker.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Joins the broadcaster's chat and fans events into the live aggregate,
//     the batch buffers, and the audit trail.
//   - Polls Helix for stream status and subscriber counts and schedules the
//     overnight clip analysis and daily report jobs.
//   - Exposes an HTTP server with the dashboard API, health probes, and metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM; buffered batches are flushed before exit.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/stream-pulse/analytics"
	"github.com/onnwee/stream-pulse/batch"
	"github.com/onnwee/stream-pulse/chat"
	"github.com/onnwee/stream-pulse/config"
	"github.com/onnwee/stream-pulse/db"
	"github.com/onnwee/stream-pulse/live"
	"github.com/onnwee/stream-pulse/monitor"
	"github.com/onnwee/stream-pulse/oauth"
	"github.com/onnwee/stream-pulse/sched"
	"github.com/onnwee/stream-pulse/server"
	"github.com/onnwee/stream-pulse/storage"
	"github.com/onnwee/stream-pulse/telemetry"
	"github.com/onnwee/stream-pulse/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		// unknown level -> keep info but note once using temporary logger
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateHelixReady(); err != nil {
		slog.Error("helix not configured", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdownTracing, err := telemetry.InitTracing("stream-pulse", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	// DB
	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Versioned migrations first; the embedded schema covers deployments
	// that predate the migrations directory.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, falling back to embedded schema",
			slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db", slog.Any("err", err))
			os.Exit(1)
		}
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Seed the stored user token from env so a fresh deployment can poll
	// subscriptions without a browser flow. Seeding never overwrites a
	// stored token; the refresher keeps whichever token is stored fresh.
	if access := os.Getenv("TWITCH_USER_ACCESS_TOKEN"); access != "" {
		refresh := os.Getenv("TWITCH_USER_REFRESH_TOKEN")
		if err := db.SeedUserToken(ctx, database, "twitch", access, refresh, twitchapi.ComputeExpiry(3600), cfg.TwitchScopes); err != nil {
			slog.Warn("user token seed failed", slog.Any("err", err))
		}
	}

	// Centralized OAuth token refresher for the broadcaster's user token.
	oauth.StartRefresher(ctx, database, "twitch", 5*time.Minute, 15*time.Minute, func(rctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		res, err := twitchapi.RefreshToken(rctx, cfg.TwitchClientID, cfg.TwitchClientSecret, refreshToken)
		if err != nil {
			return "", "", time.Time{}, "", err
		}
		return res.AccessToken, res.RefreshToken, twitchapi.ComputeExpiry(res.ExpiresIn), strings.Join(res.Scope, " "), nil
	})

	// Helix client: app token for public endpoints, the stored user token
	// for the subscriptions endpoint.
	helix := &twitchapi.HelixClient{
		AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
		UserTokens:     &twitchapi.UserTokenSource{Store: &db.TwitchTokenReader{DB: database}},
		ClientID:       cfg.TwitchClientID,
	}

	broadcasterID, err := helix.GetUserID(ctx, cfg.Channel)
	if err != nil {
		slog.Error("broadcaster lookup failed", slog.String("channel", cfg.Channel), slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("tracking channel", slog.String("channel", cfg.Channel), slog.String("broadcaster_id", broadcasterID))

	// Object store: S3-compatible when configured, local filesystem otherwise.
	var store storage.ObjectStore
	if cfg.S3Enabled() {
		s3store, err := storage.NewS3Store(storage.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			slog.Error("s3 store init failed", slog.Any("err", err))
			os.Exit(1)
		}
		if err := s3store.EnsureBucket(ctx, cfg.S3Region); err != nil {
			slog.Warn("bucket ensure failed", slog.Any("err", err))
		}
		store = s3store
		slog.Info("object store ready", slog.String("backend", "s3"), slog.String("bucket", cfg.S3Bucket))
	} else {
		fsStore, err := storage.NewFSStore(filepath.Join(cfg.DataDir, "objects"))
		if err != nil {
			slog.Error("fs store init failed", slog.Any("err", err))
			os.Exit(1)
		}
		store = fsStore
		slog.Info("object store ready", slog.String("backend", "fs"), slog.String("root", filepath.Join(cfg.DataDir, "objects")))
	}

	sink, err := storage.NewSink(store, cfg.BroadcasterName, cfg.DataDir)
	if err != nil {
		slog.Error("sink init failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := sink.EnsureLayout(ctx); err != nil {
		slog.Warn("storage layout setup incomplete", slog.Any("err", err))
	}
	sink.StartRetentionJob(ctx, storage.LoadRetentionPolicy())

	metrics := live.NewMetrics()
	buffers := batch.NewSet(sink)

	// Chat recorder needs bot credentials; the tracker still polls stream
	// status without them.
	if err := cfg.ValidateChatReady(); err != nil {
		slog.Info("chat recorder disabled", slog.Any("err", err))
	} else {
		recorder, err := chat.NewRecorder(chat.Config{
			Channel:     cfg.Channel,
			BotUsername: cfg.BotUsername,
			BotToken:    cfg.BotToken,
			Live:        metrics,
			Sink:        sink,
			Buffers:     buffers,
		})
		if err != nil {
			slog.Error("chat recorder init failed", slog.Any("err", err))
			os.Exit(1)
		}
		go func() {
			if err := recorder.Run(ctx); err != nil {
				slog.Error("chat recorder exited", slog.Any("err", err))
			}
		}()
	}

	mon, err := monitor.New(monitor.Config{
		Source:        helix,
		Subs:          helix,
		Live:          metrics,
		Sink:          sink,
		Buffers:       buffers,
		Sessions:      &db.SessionStoreAdapter{DB: database},
		BroadcasterID: broadcasterID,
	})
	if err != nil {
		slog.Error("monitor init failed", slog.Any("err", err))
		os.Exit(1)
	}

	reporter := analytics.NewReporter(sink, cfg.Channel)
	clips := analytics.NewClipAnalyzer(helix, sink, broadcasterID)

	// Status and subscriber polls plus the overnight analysis jobs. Each
	// poll runs once up front so a stream already live at startup is
	// picked up now rather than one interval later, and a fresh deploy
	// has clip data before the first 04:00 run.
	if err := mon.CheckStreamStatus(ctx); err != nil {
		slog.Warn("initial status poll failed", slog.Any("err", err))
	}
	if err := mon.RefreshSubscriberCount(ctx); err != nil {
		slog.Warn("initial subscriber poll failed", slog.Any("err", err))
	}
	if err := clips.AnalyzeTopClips(ctx); err != nil {
		slog.Warn("initial clip analysis failed", slog.Any("err", err))
	}
	scheduler := sched.New()
	scheduler.Every("stream_status", cfg.StatusInterval, mon.CheckStreamStatus)
	scheduler.Every("subscriber_count", cfg.SubscriberInterval, mon.RefreshSubscriberCount)
	scheduler.DailyAt("clip_analysis", 4, 0, clips.AnalyzeTopClips)
	scheduler.DailyAt("daily_report", 0, 1, reporter.GenerateDailyReport)
	go scheduler.Run(ctx)

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (dashboard API, health probes, metrics)
	go func() {
		deps := server.Deps{
			DB:       database,
			Live:     metrics,
			Sink:     sink,
			Buffers:  buffers,
			Reporter: reporter,
			Clips:    clips,
			ClientID: cfg.TwitchClientID,
		}
		if err := server.Start(ctx, deps, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal, then flush whatever the buffers hold so a
	// partial batch survives the restart.
	<-ctx.Done()
	slog.Info("shutting down, flushing buffers")
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := buffers.FlushAll(flushCtx); err != nil {
		slog.Error("final flush failed", slog.Any("err", err))
	}
}
