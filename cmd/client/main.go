package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/cleansync/internal/client/cli"
	"github.com/dmitrijs2005/cleansync/internal/client/config"
	"github.com/dmitrijs2005/cleansync/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 2
	}

	logger, closer := logging.New(logging.Options{File: cfg.LogFile, Level: cfg.LogLevel})
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := cli.NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "startup failed", "error", err)
		return 1
	}

	if err := app.Run(ctx); err != nil {
		logger.Error(ctx, "agent stopped with error", "error", err)
		return 1
	}
	return 0
}
