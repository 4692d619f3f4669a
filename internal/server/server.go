// Package server exposes uploads, previews, the watch list and node metadata over HTTP,
// and pushes preview updates to websocket clients.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/kapnodes/kapimage/internal/dedup"
	"github.com/kapnodes/kapimage/internal/digest"
	"github.com/kapnodes/kapimage/internal/events"
	"github.com/kapnodes/kapimage/internal/folders"
	"github.com/kapnodes/kapimage/internal/nodes"
	"github.com/kapnodes/kapimage/pkg/logger"
	"github.com/kapnodes/kapimage/pkg/models"
	"go.uber.org/zap"
)

const (
	defaultMaxUploadBytes = 256 << 20
	shutdownTimeout       = 10 * time.Second
)

// Uploader stores uploaded images
type Uploader interface {
	Upload(ctx context.Context, req dedup.Request) (*models.UploadResult, error)
}

// Previewer generates preview images
type Previewer interface {
	Generate(ctx context.Context, source string) (models.PreviewResult, error)
}

// WatchList is the set of files whose previews follow their changes
type WatchList interface {
	Replace(entries []models.WatchEntry) models.ReplaceReport
	List() []string
	Len() int
	Available() bool
}

// Deps are the services behind the routes
type Deps struct {
	Roots    *folders.Roots
	Uploader Uploader
	Previews Previewer
	Watch    WatchList
	Hub      *events.Hub
	Nodes    *nodes.Registry
	Cache    *digest.Cache // optional
}

// Options tune the HTTP surface
type Options struct {
	Listen         string
	AllowedOrigins []string // websocket origins; empty allows same-host only
	MaxUploadBytes int64
}

// Server serves the kapimage routes
type Server struct {
	deps    Deps
	opts    Options
	handler http.Handler
	logger  *zap.Logger
}

// New creates a server and registers its routes
func New(deps Deps, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	s := &Server{
		deps:   deps,
		opts:   opts,
		logger: logger.Get(),
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.handler = mux
	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
