package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"gopherai-rag/internal/bootstrap"
	"gopherai-rag/internal/config"
	"gopherai-rag/internal/logging"
	"gopherai-rag/internal/transport/cli"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !cli.NeedsServices(os.Args[1:]) {
		cli.SetServices(nil, nil, cfg.Auth.JWTSecret)
		return cli.Execute(ctx)
	}

	logger, err := logging.New(cfg.App.Env)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("close resources failed", zap.Error(err))
		}
	}()

	cli.SetServices(app.RAG, app.Chat, cfg.Auth.JWTSecret)
	return cli.Execute(ctx)
}
