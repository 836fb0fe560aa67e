package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects where and how verbosely logs are written.
type Options struct {
	// File enables size-based rotation into the given path. Empty means stderr.
	File string
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string
	// MaxSizeMB, MaxBackups and MaxAgeDays tune rotation when File is set.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New builds a JSON slog logger according to opts. The returned closer must
// be closed on shutdown when logging to a file; for stderr it is a no-op.
func New(opts Options) (*SlogLogger, io.Closer) {
	var w io.WriteCloser = nopCloser{os.Stderr}
	if opts.File != "" {
		w = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 10),
			MaxBackups: orDefault(opts.MaxBackups, 3),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
			Compress:   true,
		}
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(opts.Level)})
	return NewSlogLogger(slog.New(h)), w
}

// ParseLevel maps a textual level to slog.Level, falling back to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// Discard returns a logger that drops everything. Handy in tests.
func Discard() Logger {
	return NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}
