// Package server exposes the HTTP API: case listing and metadata, SSE
// change streams, the chat endpoint, search, and the sync operations.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/adalundhe/casehub/core/archive"
	"github.com/adalundhe/casehub/core/chat"
	"github.com/adalundhe/casehub/core/events"
	"github.com/adalundhe/casehub/core/providers"
	"github.com/adalundhe/casehub/core/search"
	"github.com/adalundhe/casehub/core/workspace"
)

// Server wires the core components behind the HTTP API.
type Server struct {
	store    *workspace.Store
	broker   *events.Broker
	index    *search.Index
	selector *providers.Selector
	engine   *chat.Engine
	syncer   *archive.Syncer
	logger   *slog.Logger

	heartbeatInterval time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithHeartbeatInterval overrides the SSE heartbeat interval.
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(s *Server) {
		s.heartbeatInterval = interval
	}
}

// New creates a server over the given components.
func New(
	store *workspace.Store,
	broker *events.Broker,
	index *search.Index,
	selector *providers.Selector,
	engine *chat.Engine,
	syncer *archive.Syncer,
	logger *slog.Logger,
	opts ...Option,
) *Server {
	s := &Server{
		store:             store,
		broker:            broker,
		index:             index,
		selector:          selector,
		engine:            engine,
		syncer:            syncer,
		logger:            logger.With("component", "server"),
		heartbeatInterval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the API routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/cases", s.handleListCases)
	mux.HandleFunc("GET /api/cases/watch", s.handleWatchAll)
	mux.HandleFunc("GET /api/case/{key}/watch", s.handleWatchCase)
	mux.HandleFunc("GET /api/case/{key}/meta", s.handleGetMeta)
	mux.HandleFunc("PATCH /api/case/{key}/meta", s.handlePatchMeta)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/chat/status", s.handleChatStatus)
	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/sync/preview", s.handleSyncPreview)
	mux.HandleFunc("POST /api/sync/commit", s.handleSyncCommit)

	return mux
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down
// gracefully. It also keeps the search index fresh by rebuilding on
// workspace change events.
func (s *Server) Serve(ctx context.Context, addr string) error {
	go s.refreshIndexOnChanges(ctx)

	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Info("http server listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// refreshIndexOnChanges rebuilds the search index whenever the workspace
// changes. Events coalesce in the subscription's single slot, so a burst
// of writes triggers one rebuild, not one per file.
func (s *Server) refreshIndexOnChanges(ctx context.Context) {
	sub := s.broker.Subscribe(events.TopicAll)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := s.index.Rebuild(); err != nil {
				s.logger.Warn("search index rebuild failed", "error", err)
			}
		}
	}
}
