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

// The worker process only consumes jobs; the inproc backend runs its jobs
// inside the API process instead.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zlog.Init()
	if err := godotenv.Load(); err != nil {
		zlog.Logger.Debug().Err(err).Msg("no .env file loaded")
	}
	cfg := config.MustLoad("./config/config.yml")

	a, err := app.New(ctx, cfg)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to initialize worker")
	}
	defer a.Close()

	if err := a.RunWorker(ctx); err != nil {
		zlog.Logger.Error().Err(err).Msg("worker stopped with error")
	}
}
