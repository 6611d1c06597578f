// Command streamwatch is the main entrypoint for the live-status watcher.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Opens the Discord gateway session and registers platform adapters.
//   - Runs the startup consistency check, then starts the stream-check and
//     team-sync reconciliation loops.
//   - Exposes a read-only HTTP API with /healthz, /readyz, /live, /sessions,
//     and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/streamwatch/announce"
	"github.com/onnwee/streamwatch/config"
	"github.com/onnwee/streamwatch/db"
	"github.com/onnwee/streamwatch/discord"
	"github.com/onnwee/streamwatch/platform"
	"github.com/onnwee/streamwatch/probe"
	"github.com/onnwee/streamwatch/roles"
	"github.com/onnwee/streamwatch/scheduler"
	"github.com/onnwee/streamwatch/server"
	"github.com/onnwee/streamwatch/startupcheck"
	"github.com/onnwee/streamwatch/teamsync"
	"github.com/onnwee/streamwatch/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

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
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	switch strings.ToLower(os.Getenv("LOG_FORMAT")) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateDiscordReady(); err != nil {
		slog.Error("config invalid", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("streamwatch", "1.0.0")
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
	if err := db.Migrate(context.Background(), database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}
	store := db.NewStore(database)

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Discord gateway
	gw, err := discord.NewSession(cfg.DiscordToken)
	if err != nil {
		slog.Error("discord session init failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := gw.Open(); err != nil {
		slog.Error("discord gateway open failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := gw.Close(); err != nil {
			slog.Error("discord gateway close failed", slog.Any("err", err))
		}
	}()

	// Platform adapters. Adapters without credentials simply aren't registered;
	// their streamers report a warning and stay "not live".
	registry := platform.NewRegistry()
	var twitch *platform.TwitchAdapter
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		twitch = platform.NewTwitch(cfg.TwitchClientID, cfg.TwitchClientSecret)
		registry.Register(twitch)
	} else {
		slog.Warn("twitch adapter disabled (missing TWITCH_CLIENT_ID/TWITCH_CLIENT_SECRET)")
	}
	registry.Register(platform.NewKick())
	if cfg.YouTubeAPIKey != "" {
		ytCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		svc, err := yt.NewService(ytCtx, option.WithAPIKey(cfg.YouTubeAPIKey))
		cancel()
		if err != nil {
			slog.Error("youtube service init failed", slog.Any("err", err))
			os.Exit(1)
		}
		registry.Register(platform.NewYouTube(svc))
	} else {
		slog.Warn("youtube adapter disabled (missing YOUTUBE_API_KEY)")
	}
	var launchBrowser func(ctx context.Context) (*platform.Browser, error)
	if cfg.BrowserProbes {
		registry.Register(platform.NewTikTok())
		launchBrowser = platform.StartBrowser
	} else {
		slog.Info("browser probes disabled (BROWSER_PROBES=0)")
	}
	slog.Info("platform adapters registered", slog.Any("platforms", registry.Names()))

	// Reconcilers
	orchestrator := probe.New(registry, store, cfg.ProbeTimeout, launchBrowser)
	announcer := announce.New(store, gw)
	roleRec := roles.New(store, gw)

	var syncer scheduler.TeamSyncer
	if twitch != nil {
		syncer = teamsync.New(store, twitch, gw)
	} else {
		slog.Warn("team sync disabled (requires twitch adapter)")
	}

	// Validate persisted role and message references before the first cycle.
	checker := startupcheck.New(store, gw)
	if err := checker.Run(ctx); err != nil {
		slog.Error("startup consistency check failed", slog.Any("err", err))
		os.Exit(1)
	}

	sched := scheduler.New(store, orchestrator, announcer, roleRec, syncer, cfg.StreamCheckInterval, cfg.TeamSyncInterval)
	go sched.Run(ctx)

	// HTTP status API
	handlers := server.NewHandlers(database, store, gw)
	go func() {
		if err := server.Start(ctx, handlers, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
