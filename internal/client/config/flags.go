package config

import (
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/cleansync/internal/flagx"
)

// parseFlags overlays cfg with command-line flags.
//
// Supported flags:
//
//	-a string   sync endpoint base URL
//	-t string   bearer token
//	-d string   local database path
//	-i int      background sync interval (in seconds)
//	-r int      max delivery attempts per queue entry
//	-s string   conflict strategy (last-write-wins, version, field-merge)
//	-l string   log file (rotated); empty logs to stderr
//
// Only these flags are considered; everything else in args is ignored.
func parseFlags(cfg *Config, args []string) error {
	filtered := flagx.FilterArgs(args, []string{"-a", "-t", "-d", "-i", "-r", "-s", "-l"})

	fs := flag.NewFlagSet("client", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.ServerURL, "a", cfg.ServerURL, "sync endpoint base URL")
	fs.StringVar(&cfg.AuthToken, "t", cfg.AuthToken, "bearer token")
	fs.StringVar(&cfg.DatabasePath, "d", cfg.DatabasePath, "local database path")
	interval := fs.Int("i", int(cfg.SyncInterval.Seconds()), "sync interval (in seconds)")
	fs.IntVar(&cfg.MaxRetries, "r", cfg.MaxRetries, "max delivery attempts")
	fs.StringVar(&cfg.Strategy, "s", cfg.Strategy, "conflict strategy")
	fs.StringVar(&cfg.LogFile, "l", cfg.LogFile, "log file")

	if err := fs.Parse(filtered); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	cfg.SyncInterval = time.Duration(*interval) * time.Second
	return nil
}
