package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"limit_go/internal/app"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	// Secrets may live in a local .env during development
	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded environment from .env")
	}

	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	// 2. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Streaming price feed (optional)
	if bootstrap.FeedWorker != nil {
		if err := bootstrap.FeedWorker.Connect(ctx); err != nil {
			slog.Error("Failed to connect price feed", slog.Any("error", err))
		}
		defer bootstrap.FeedWorker.Disconnect()
	}

	// 4. Start the limit order engine
	if err := bootstrap.Scheduler.Start(ctx); err != nil {
		slog.Error("❌ Failed to start scheduler", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Scheduler.Stop()

	slog.Info("✅ Limit Go running", slog.String("version", bootstrap.Config.App.Version))

	<-ctx.Done()
	slog.Info("Shutdown signal received")
}
