// Package server exposes a workspace over HTTP: the IDE shell, the preview
// document, a JSON API and a WebSocket channel for live notices.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/livetemplate/codepane/internal/assets"
	"github.com/livetemplate/codepane/internal/config"
	"github.com/livetemplate/codepane/internal/logging"
	"github.com/livetemplate/codepane/internal/metrics"
	"github.com/livetemplate/codepane/internal/persist"
	"github.com/livetemplate/codepane/internal/workspace"
)

const (
	shutdownTimeout = 10 * time.Second
	maxTrackedIPs   = 10000
)

// Options configures a Server.
type Options struct {
	Config    *config.Config
	Workspace *workspace.Workspace
	// Assistant tells clients whether to offer code generation.
	Assistant bool
	Logger    *zap.Logger
	Now       func() time.Time
}

// Server is the codepane HTTP server.
type Server struct {
	cfg *config.Config
	ws  *workspace.Workspace
	hub *Hub
	log *zap.Logger
	now func() time.Time

	handler     http.Handler
	stopLimiter context.CancelFunc
	limiterDone <-chan struct{}

	mu      sync.Mutex
	watcher *persist.Watcher
}

// New builds the server and its handler chain. Call Close to release the
// rate limiter and disconnect clients.
func New(opts Options) *Server {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Named("server")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Server{
		cfg: opts.Config,
		ws:  opts.Workspace,
		log: opts.Logger,
		now: opts.Now,
	}
	s.hub = NewHub(opts.Workspace, opts.Config.Server.AllowedOrigins, opts.Assistant, opts.Logger.Named("ws"))
	s.handler = s.buildHandler()
	return s
}

func (s *Server) buildHandler() http.Handler {
	srv := s.cfg.Server

	api := http.NewServeMux()
	s.registerAPI(api)

	ctx, cancel := context.WithCancel(context.Background())
	limit, done := RateLimitMiddleware(ctx, srv.GetRateLimitRPS(), srv.GetRateLimitBurst(), maxTrackedIPs, s.log)
	s.stopLimiter, s.limiterDone = cancel, done

	mux := http.NewServeMux()
	mux.Handle("/api/", limit(AuthMiddleware(srv.Auth)(api)))
	mux.Handle("GET /ws", s.hub)
	mux.HandleFunc("GET /{$}", s.serveIDE)
	mux.HandleFunc("GET /preview", s.servePreview)
	mux.Handle("GET /assets/", http.StripPrefix("/assets/", http.FileServerFS(assets.ClientFS())))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", s.serveHealth)

	var h http.Handler = mux
	h = compressionMiddleware(h)
	h = CORSMiddleware(srv.AllowedOrigins, srv.Auth.GetHeaderName())(h)
	h = SecurityHeadersMiddleware()(h)
	h = metrics.Middleware(h)
	h = logging.Middleware(h)
	return h
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) serveIDE(w http.ResponseWriter, r *http.Request) {
	page, err := assets.GetIDEPage()
	if err != nil {
		http.Error(w, "IDE page not found", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(page)
}

// servePreview serves the latest composed document, rendering one first if
// nothing has been rendered yet.
func (s *Server) servePreview(w http.ResponseWriter, r *http.Request) {
	doc, err := s.ws.Preview(r.Context())
	if err == nil && doc == nil {
		doc, err = s.ws.Run(r.Context())
	}
	if err != nil {
		s.writeWorkspaceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Codepane-Generation", doc.Generation)
	_, _ = w.Write([]byte(doc.HTML))
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": s.hub.Clients(),
	})
}

// EnableWatch reloads the workspace whenever another process rewrites the
// snapshot in slot.
func (s *Server) EnableWatch(slot *persist.FileSlot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		return nil
	}
	w, err := persist.NewWatcher(slot, persist.Key, s.ws.ExternalChange, s.log.Named("watch"))
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	s.watcher = w
	s.watcher.Start()
	s.log.Info("watching storage for external changes", zap.String("dir", slot.Dir()))
	return nil
}

// StopWatch stops the storage watcher if it's running.
func (s *Server) StopWatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Stop()
	s.watcher = nil
	return err
}

// ListenAndServe serves on the configured address until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Server.Addr(),
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", "http://"+httpServer.Addr))
		errCh <- httpServer.ListenAndServe()
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
	// Hijacked socket connections are not tracked by Shutdown.
	s.hub.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close stops the watcher and the rate limiter and disconnects clients.
func (s *Server) Close() error {
	err := s.StopWatch()
	s.hub.Close()
	s.stopLimiter()
	<-s.limiterDone
	return err
}
