// Package gateway exposes sessions over HTTP: a server-sent event stream
// per session, a JSON-RPC command surface and session teardown.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aatumaykin/nexbackup/internal/logger"
	"github.com/aatumaykin/nexbackup/internal/metrics"
	"github.com/aatumaykin/nexbackup/internal/session"
	"github.com/aatumaykin/nexbackup/internal/tools"
)

const (
	// SessionHeader carries the session ID on every request.
	SessionHeader = "Mcp-Session-Id"
	// DefaultSessionID is used by GET and DELETE requests without a header.
	DefaultSessionID = "default"

	defaultHeartbeat = 5 * time.Second
	shutdownTimeout  = 10 * time.Second
)

// Options configures a Server.
type Options struct {
	Listen    string
	Heartbeat time.Duration
	// DeleteOnDisconnect removes a session when its stream reader leaves.
	DeleteOnDisconnect bool

	Sessions *session.Registry
	Tools    *tools.Registry
	Logger   *logger.Logger
	Metrics  *metrics.Metrics
	// Gatherer backs GET /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// Server is the HTTP front of the session registry.
type Server struct {
	opts   Options
	log    *logger.Logger
	router *chi.Mux
}

func New(opts Options) *Server {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Tools == nil {
		opts.Tools = tools.NewRegistry()
	}

	s := &Server{
		opts:   opts,
		log:    opts.Logger.Component("gateway"),
		router: chi.NewRouter(),
	}
	s.router.Use(middleware.RequestID)
	s.router.Use(s.observe)
	s.router.Use(middleware.Recoverer)
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/mcp", s.handleStream)
	s.router.Post("/mcp", s.handleRPC)
	s.router.Delete("/mcp", s.handleDelete)
	s.router.Get("/status", s.handleStatus)
	if s.opts.Gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
}

// Handler returns the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on Listen until ctx is done. Open streams are released by
// cancelling their request contexts before the listener shuts down.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ErrorLog:          slog.NewLogLogger(s.log.StdLogger().Handler(), slog.LevelError),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.log.Info("gateway listening", logger.Field{Key: "addr", Value: ln.Addr().String()})

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("gateway serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Error("gateway shutdown failed", err)
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	s.log.Info("gateway stopped")
	return nil
}

// observe logs and counts every request.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			s.opts.Metrics.HTTPRequest(r.Method, status)
			s.log.DebugCtx(r.Context(), "request completed",
				logger.Field{Key: "method", Value: r.Method},
				logger.Field{Key: "path", Value: r.URL.Path},
				logger.Field{Key: "status", Value: status},
				logger.Field{Key: "duration", Value: time.Since(start).String()},
				logger.Field{Key: "request_id", Value: middleware.GetReqID(r.Context())})
		}()

		next.ServeHTTP(ww, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := SessionID(r.Header.Get(SessionHeader), DefaultSessionID)
	if !s.opts.Sessions.Delete(id) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	s.log.Info("session deleted by client", logger.Field{Key: "session_id", Value: id})
	w.WriteHeader(http.StatusNoContent)
}

// SessionID normalizes a session header: the first comma separated value,
// trimmed, or fallback when that is empty.
func SessionID(header, fallback string) string {
	if i := strings.IndexByte(header, ','); i >= 0 {
		header = header[:i]
	}
	if id := strings.TrimSpace(header); id != "" {
		return id
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
