package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/campushq/campus-courier/internal/app"
	"github.com/campushq/campus-courier/internal/config"
	"github.com/campushq/campus-courier/internal/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "courier start failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.Init(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	courier, err := app.NewCourier(ctx, cfg, log)
	if err != nil {
		log.ErrorObj("failed to initialize courier", "error", err.Error())
		return err
	}

	if err := courier.Run(ctx); err != nil {
		return fmt.Errorf("courier run: %w", err)
	}

	return nil
}
