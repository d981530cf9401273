package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/inovadata/whatsman/internal/agents"
	"github.com/inovadata/whatsman/internal/bus"
	"github.com/inovadata/whatsman/internal/config"
	"github.com/inovadata/whatsman/internal/gateway"
	"github.com/inovadata/whatsman/internal/httpapi"
	"github.com/inovadata/whatsman/internal/llm"
	"github.com/inovadata/whatsman/internal/schedule"
	"github.com/inovadata/whatsman/internal/storage"
	"github.com/inovadata/whatsman/internal/store/pg"
	"github.com/inovadata/whatsman/internal/telemetry"
	"github.com/inovadata/whatsman/internal/workers"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the management API, event consumer, and background workers",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Warn("trace exporter shutdown failed", "error", err)
		}
	}()

	stores, db, err := pg.NewStores(cfg.Database.DSN)
	if err != nil {
		slog.Error("failed to connect to Postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var llmClient agents.LLMClient
	if cfg.LLM.APIKey != "" {
		llmClient = llm.NewClient(cfg.LLM.APIKey, cfg.LLM.APIBase, cfg.LLM.Model)
	} else {
		slog.Warn("no LLM API key configured, LLM agents will use static fallbacks")
	}

	var objects *storage.Client
	if cfg.Storage.Enabled() {
		objects, err = storage.NewClient(cfg.Storage.Endpoint, cfg.Storage.AccessKey, cfg.Storage.SecretKey, cfg.Storage.UseSSL)
		if err != nil {
			slog.Error("failed to connect to media storage", "error", err)
			os.Exit(1)
		}
		slog.Info("media storage connected", "endpoint", cfg.Storage.Endpoint)
	} else {
		slog.Info("no media storage configured, media features disabled")
	}

	messenger := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.Username, cfg.Gateway.Password)
	queue := bus.NewQueue(0)
	rnd := agents.DefaultRand

	var scheduleObjects schedule.ObjectStore
	var videoObjects workers.ObjectStore
	if objects != nil {
		scheduleObjects = objects
		videoObjects = objects
	}
	builder := schedule.NewBuilder(stores.Scheduled, stores.VideoHistory, scheduleObjects, rnd)
	runner := agents.NewRunner(stores, llmClient, rnd, builder)

	consumer := workers.NewConsumer(stores, queue, runner, messenger)
	dispatcher := workers.NewDispatcher(stores.Scheduled, stores.Contacts, messenger)
	videoRunner := workers.NewVideoRunner(stores, videoObjects, rnd)
	server := httpapi.NewServer(cfg.Server.Addr(), cfg.Server.APIToken, stores, queue)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx) })
	g.Go(func() error { return consumer.Run(ctx) })
	g.Go(func() error { return dispatcher.Run(ctx) })
	g.Go(func() error { return videoRunner.Run(ctx) })
	if cfg.Gateway.WebsocketURL != "" {
		listener := gateway.NewListener(cfg.Gateway.WebsocketURL, queue)
		g.Go(func() error { return listener.Run(ctx) })
	} else {
		slog.Info("no websocket URL configured, relying on webhook delivery only")
	}

	slog.Info("whatsman started", "version", Version, "addr", cfg.Server.Addr())
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("service stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}
