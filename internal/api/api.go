// Package api provides the HTTP server for LinePilot.
//
// It serves the MCP streamable HTTP transport at /mcp together with health,
// session inspection and metrics endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/BTreeMap/LinePilot/internal/flow"
	"github.com/BTreeMap/LinePilot/internal/store"
	"github.com/BTreeMap/LinePilot/internal/tools"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Default server parameters.
const (
	DefaultAddr            = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithShutdownTimeout bounds graceful shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Opts) { o.ShutdownTimeout = d }
}

// Server is the LinePilot HTTP server.
type Server struct {
	addr            string
	shutdownTimeout time.Duration
	tools           *tools.Server
	registry        *flow.Registry
	store           store.Store
	handler         http.Handler
}

// NewServer wires the HTTP routes.
func NewServer(ts *tools.Server, registry *flow.Registry, st store.Store, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, ShutdownTimeout: DefaultShutdownTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{
		addr:            cfg.Addr,
		shutdownTimeout: cfg.ShutdownTimeout,
		tools:           ts,
		registry:        registry,
		store:           st,
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.tools.MCP()
	}, nil)
	mux.Handle("/mcp", mcpHandler)
	mux.HandleFunc("GET /healthz", s.healthHandler)
	mux.HandleFunc("GET /sessions/{id}", s.getSessionHandler)
	mux.HandleFunc("DELETE /sessions/{id}", s.deleteSessionHandler)
	mux.Handle("GET /metrics", promhttp.Handler())
	return logRequests(mux)
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run listens on the configured address until ctx is canceled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	slog.Info("Server.Serve: API server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Server.Serve: shutting down", "timeout", s.shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// logRequests logs every request at debug level.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("api: request handled", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
