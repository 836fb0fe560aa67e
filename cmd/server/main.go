package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/cleansync/internal/logging"
	"github.com/dmitrijs2005/cleansync/internal/server"
	"github.com/dmitrijs2005/cleansync/internal/server/config"
)

func main() {
	os.Exit(run())
}

// run starts the endpoint, or with "token <account>" as the first
// arguments prints a bearer token for that account.
func run() int {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 2
	}

	if len(os.Args) > 2 && os.Args[1] == "token" {
		tok, err := server.IssueToken(cfg, os.Args[2], 0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "token: %v\n", err)
			return 1
		}
		fmt.Println(tok)
		return 0
	}

	logger, closer := logging.New(logging.Options{File: cfg.LogFile, Level: cfg.LogLevel})
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "startup failed", "error", err)
		return 1
	}

	if err := app.Run(ctx); err != nil {
		logger.Error(ctx, "server stopped with error", "error", err)
		return 1
	}
	return 0
}
