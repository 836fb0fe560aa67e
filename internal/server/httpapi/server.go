// Package httpapi exposes the change log over the push/pull HTTP contract
// used by sync clients.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/cleansync/internal/common"
	"github.com/dmitrijs2005/cleansync/internal/logging"
	"github.com/dmitrijs2005/cleansync/internal/server/changes"
)

// ChangeService is what the handlers need from changes.Service.
type ChangeService interface {
	Push(ctx context.Context, account, entity, operation string, data json.RawMessage, deviceID string) (*changes.PushResult, error)
	Pull(ctx context.Context, account string, since time.Time) (*changes.PullResult, error)
}

// Options tune the HTTP server.
type Options struct {
	MaxBodyBytes    int64
	ShutdownTimeout time.Duration
}

// Server serves POST /push and GET /pull for authenticated accounts.
type Server struct {
	address   string
	changes   ChangeService
	logger    logging.Logger
	jwtSecret []byte
	opts      Options
}

func NewServer(address string, l logging.Logger, cs ChangeService, secretKey string, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	return &Server{
		address:   address,
		changes:   cs,
		logger:    l.With("module", "http_server"),
		jwtSecret: []byte(secretKey),
		opts:      opts,
	}
}

// Handler returns the routed handler with authentication and request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST "+common.PushPath, s.authenticate(http.HandlerFunc(s.handlePush)))
	mux.Handle("GET "+common.PullPath, s.authenticate(http.HandlerFunc(s.handlePull)))
	return s.logRequests(mux)
}

// Run listens on the configured address until ctx is cancelled, then shuts
// down gracefully within the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve is Run over an existing listener.
func (s *Server) Serve(ctx context.Context, listen net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	stopped := make(chan error, 1)
	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		stopped <- srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-stopped
}
