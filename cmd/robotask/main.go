package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/robotask-client/internal/app"
	"github.com/noah-isme/robotask-client/internal/cli"
	"github.com/noah-isme/robotask-client/pkg/config"
	"github.com/noah-isme/robotask-client/pkg/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("failed to load config: %v", err)
		return 1
	}
	if os.Getenv("LOG_FORMAT") == "" {
		cfg.Log.Format = "console"
	}
	if os.Getenv("LOG_LEVEL") == "" {
		cfg.Log.Level = "warn"
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Printf("failed to init logger: %v", err)
		return 1
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logr)
	if err != nil {
		logr.Error("failed to wire application", zap.Error(err))
		return 1
	}
	a.Start(context.Background())
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Close(shutdownCtx); err != nil {
			logr.Warn("close application", zap.Error(err))
		}
	}()

	err = cli.New(a, os.Stdout, os.Getenv).Run(ctx, os.Args[1:])
	switch {
	case err == nil:
		return 0
	case errors.Is(err, cli.ErrUsage):
		return 2
	default:
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
}
