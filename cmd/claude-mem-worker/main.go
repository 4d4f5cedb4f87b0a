// Command claude-mem-worker is the local memory agent's background
// process: it owns the relational store, vector mirror, provider adapters,
// and session registry, and serves them over a loopback HTTP API for editor
// hooks to call.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/claude-mem/worker/pkg/api"
	"github.com/claude-mem/worker/pkg/config"
	claudecontext "github.com/claude-mem/worker/pkg/context"
	"github.com/claude-mem/worker/pkg/mode"
	"github.com/claude-mem/worker/pkg/models"
	"github.com/claude-mem/worker/pkg/provider"
	"github.com/claude-mem/worker/pkg/response"
	"github.com/claude-mem/worker/pkg/session"
	"github.com/claude-mem/worker/pkg/store"
	"github.com/claude-mem/worker/pkg/vector"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	dataDir := flag.String("data-dir",
		getEnv("CLAUDE_MEM_DATA_DIR", os.ExpandEnv("$HOME/.claude-mem")),
		"Path to the worker's data directory (db, vector store, modes, logs, credentials)")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Initialize(ctx, *dataDir)
	if err != nil {
		slog.Error("failed to initialize configuration", "err", err)
		os.Exit(1)
	}
	settings := cfg.Settings

	creds, err := config.LoadCredentials(cfg.CredentialsPath())
	if err != nil {
		slog.Error("failed to load credentials", "err", err)
		os.Exit(1)
	}

	db, err := store.Open(ctx, cfg.DBPath())
	if err != nil {
		slog.Error("failed to open relational store", "err", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	mirror, err := vector.Open(ctx, cfg.VectorDBPath())
	if err != nil {
		slog.Error("failed to open vector mirror", "err", err)
		os.Exit(1)
	}
	defer func() { _ = mirror.Close() }()

	if err := mode.EnsureDefaultModeFile(cfg.ModesDir()); err != nil {
		slog.Error("failed to seed default mode file", "err", err)
		os.Exit(1)
	}
	activeMode, err := mode.Load(cfg.ModesDir(), settings.Mode)
	if err != nil {
		slog.Error("failed to load mode", "mode", settings.Mode, "err", err)
		os.Exit(1)
	}

	primary, fallback, err := provider.Resolve(settings, creds)
	if err != nil {
		slog.Error("failed to resolve provider", "err", err)
		os.Exit(1)
	}

	composer := claudecontext.New(db, activeMode)

	processor := &response.Processor{Store: db, Mirror: mirror, Mode: activeMode}

	registry := session.NewRegistry(settings.MaxConcurrentAgents, session.BuildAgentLoop(session.Deps{
		Store:                     db,
		Settings:                  settings,
		IdleTimeout:               time.Duration(settings.SessionIdleTimeoutSecs) * time.Second,
		RetryCeiling:              settings.QueueRetryCeiling,
		Provider:                  primary,
		Fallback:                  fallback,
		Processor:                 processor,
		SynthesizeMemorySessionID: synthesizeMemorySessionID,
	}))

	sigCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	server := api.New(sigCtx, db, mirror, composer, registry, activeMode, settings, cfg.LogDir())
	processor.OnStored = func(obs *models.Observation) {
		server.Broadcaster.Publish(api.Event{
			Type:        "new_observation",
			Observation: obs,
			TimestampMS: time.Now().UnixMilli(),
		})
	}

	stopSweep := make(chan struct{})
	go runStaleSweep(db, settings, stopSweep)

	server.MarkReady()

	addr := settings.WorkerHost + ":" + strconv.Itoa(settings.WorkerPort)
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Start(addr) }()

	select {
	case <-sigCtx.Done():
		slog.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			slog.Error("http server exited", "err", err)
		}
	}

	close(stopSweep)
	registry.ShutdownAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "err", err)
	}
}

// runStaleSweep recovers pending_messages stuck in processing past the
// configured threshold once at startup and then periodically, the
// maintenance routine that lets a crashed agent process's in-flight work get
// picked back up.
func runStaleSweep(db *store.Store, settings *config.Settings, stop <-chan struct{}) {
	interval := time.Duration(settings.QueueStaleSweepInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sweep := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		n, err := db.RecoverStale(ctx, int64(settings.QueueStaleThresholdSecs), settings.QueueRetryCeiling)
		cancel()
		if err != nil {
			slog.Error("stale message sweep failed", "err", err)
			return
		}
		if n > 0 {
			slog.Info("recovered stale pending messages", "count", n)
		}
	}

	sweep()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			sweep()
		}
	}
}

// synthesizeMemorySessionID assigns a provider-independent session id for
// providers that don't hand back their own (all current adapters), keyed off
// the editor's content session id so the same editor session always maps to
// the same memory session even across a worker restart.
func synthesizeMemorySessionID(contentSessionID string) string {
	return "mem-" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(contentSessionID)).String()
}
