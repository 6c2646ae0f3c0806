package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MikeSquared-Agency/scribe/internal/api"
	"github.com/MikeSquared-Agency/scribe/internal/config"
	"github.com/MikeSquared-Agency/scribe/internal/extractor"
	"github.com/MikeSquared-Agency/scribe/internal/hermes"
	"github.com/MikeSquared-Agency/scribe/internal/pipeline"
	"github.com/MikeSquared-Agency/scribe/internal/replay"
	"github.com/MikeSquared-Agency/scribe/internal/session"
	"github.com/MikeSquared-Agency/scribe/internal/sink"
	"github.com/MikeSquared-Agency/scribe/internal/store"
)

func main() {
	if err := config.LoadEnvFile(os.Getenv("SCRIBE_ENV_FILE")); err != nil {
		slog.Error("failed to load env file", "error", err)
		os.Exit(1)
	}
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	if len(os.Args) > 1 && os.Args[1] == "replay" {
		runReplay(cfg, os.Args[2:])
		return
	}

	serve(cfg)
}

func serve(cfg config.Config) {
	slog.Info("scribe starting", "port", cfg.Port, "store", cfg.StoreDriver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Store — fail fast when misconfigured or unreachable at boot.
	gateway, err := store.New(ctx, cfg, slog.Default())
	if err != nil {
		slog.Error("failed to connect to store", "error", err)
		os.Exit(1)
	}
	defer gateway.Close(context.Background())

	// Artifact sinks
	sinks, err := sink.NewSet(cfg.LogDir, cfg.RawLog, cfg.TextLog, cfg.JSONLog, slog.Default())
	if err != nil {
		slog.Error("failed to prepare artifact sinks", "error", err)
		os.Exit(1)
	}

	// NATS/Hermes
	hermesClient, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer hermesClient.Close()
	slog.Info("NATS connected", "url", cfg.NatsURL)

	tracker := session.NewTracker(slog.Default())
	ext := extractor.New(cfg.MinTextFragment)

	// Pipeline — the main capture path
	pipe := pipeline.New(gateway, ext, tracker, sinks, hermesClient, slog.Default())

	// Subscribe to interceptor events
	if err := hermesClient.Subscribe(hermes.SubjectSessionStarted, pipe.HandleSessionStarted); err != nil {
		slog.Error("failed to subscribe to session starts", "error", err)
		os.Exit(1)
	}
	if err := hermesClient.Subscribe(hermes.SubjectExchange, pipe.HandleExchange); err != nil {
		slog.Error("failed to subscribe to exchanges", "error", err)
		os.Exit(1)
	}
	if err := hermesClient.Subscribe(hermes.SubjectSessionEnded, pipe.HandleSessionEnded); err != nil {
		slog.Error("failed to subscribe to session ends", "error", err)
		os.Exit(1)
	}

	// HTTP API
	srv := api.NewServer(cfg.Port, tracker, gateway)
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	// Announce registration
	if err := hermesClient.Publish(hermes.SubjectRegistered, map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"port":      cfg.Port,
		"store":     cfg.StoreDriver,
	}); err != nil {
		slog.Warn("failed to publish registration", "error", err)
	}

	slog.Info("scribe ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	pipe.Shutdown(shutdownCtx)
	cancel()
	slog.Info("scribe stopped")
}

// runReplay re-feeds a raw artifact log through a fresh pipeline. Sinks stay
// off so the replay never appends to the log it is reading.
func runReplay(cfg config.Config, args []string) {
	if len(args) < 1 {
		slog.Error("usage: scribe replay <raw-log-file> [session-id]")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	gateway, err := store.New(ctx, cfg, slog.Default())
	if err != nil {
		slog.Error("failed to connect to store", "error", err)
		os.Exit(1)
	}
	defer gateway.Close(context.Background())

	sinks, err := sink.NewSet(cfg.LogDir, false, false, false, slog.Default())
	if err != nil {
		slog.Error("failed to prepare sinks", "error", err)
		os.Exit(1)
	}

	// Summaries still go out when the bus is reachable; a replay must work
	// without it.
	var bus pipeline.Publisher
	if hc, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default()); err != nil {
		slog.Warn("NATS unavailable, replaying without summary publish", "error", err)
	} else {
		bus = hc
		defer hc.Close()
	}

	pipe := pipeline.New(gateway, extractor.New(cfg.MinTextFragment),
		session.NewTracker(slog.Default()), sinks, bus, slog.Default())

	rcfg := replay.Config{File: args[0]}
	if len(args) > 1 {
		rcfg.SessionID = args[1]
	}

	if err := replay.NewRunner(rcfg, pipe, slog.Default()).Run(ctx); err != nil {
		slog.Error("replay failed", "error", err)
		os.Exit(1)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
