package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/upload-backgrounder/internal/app"
	"github.com/aliskhannn/upload-backgrounder/internal/config"
)

func main() {
	// Context & signals: used for graceful shutdown on system interrupts.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize logger and load application configuration.
	zlog.Init()
	// Secrets may come from a local .env file during development.
	if err := godotenv.Load(); err != nil {
		zlog.Logger.Debug().Err(err).Msg("no .env file loaded")
	}
	cfg := config.MustLoad("./config/config.yml")

	a, err := app.New(ctx, cfg)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to initialize application")
	}
	defer a.Close()

	if err := a.RunAPI(ctx); err != nil {
		zlog.Logger.Error().Err(err).Msg("api stopped with error")
	}
}
