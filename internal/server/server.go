package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mksystems/hwlink/internal/link"
	"github.com/mksystems/hwlink/internal/logging"
	"github.com/mksystems/hwlink/internal/metrics"
	"github.com/mksystems/hwlink/internal/version"
)

// SessionSource reports the board sessions served on /sessions.
type SessionSource interface {
	Statuses() []link.Status
}

// Config holds the server configuration
type Config struct {
	Listen   string // host:port
	CertPath string // Serve HTTPS when both paths are set
	KeyPath  string

	Sessions SessionSource
	Registry *prometheus.Registry

	// Hub is the diagnostics feed to serve on /diag. Sessions need it as a
	// sink before the server exists, so callers may create it up front.
	Hub *Hub
}

// Server is the diagnostics HTTP server: Prometheus metrics, session status
// and a websocket feed of protocol diagnostics.
type Server struct {
	config     Config
	hub        *Hub
	router     chi.Router
	tlsConfig  *tls.Config
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// New creates a new Server instance
func New(config Config) (*Server, error) {
	if config.Registry == nil {
		config.Registry = metrics.NewRegistry()
	}

	s := &Server{
		config: config,
		hub:    config.Hub,
	}
	if s.hub == nil {
		s.hub = NewHub()
	}

	if config.CertPath != "" || config.KeyPath != "" {
		tlsConfig, err := NewTLSConfig(config.CertPath, config.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		s.tlsConfig = tlsConfig
	}

	s.router = s.routes()
	s.httpServer = &http.Server{
		Handler:           s.router,
		TLSConfig:         s.tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler(s.config.Registry))
	r.Get("/sessions", s.handleSessions)
	r.Get("/sessions/{name}", s.handleSession)
	r.Get("/diag", s.hub.HandleWebSocket)
	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, version.Get("hwlink-ctl"))
	})
	return r
}

// requestLogger logs each request at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}

func (s *Server) statuses() []link.Status {
	if s.config.Sessions == nil {
		return []link.Status{}
	}
	return s.config.Sessions.Statuses()
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.statuses())
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	for _, st := range s.statuses() {
		if st.Name == name {
			writeJSON(w, http.StatusOK, st)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown board " + name})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("Failed to write response", zap.Error(err))
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Hub returns the diagnostics hub. It is a diag.Sink.
func (s *Server) Hub() *Hub { return s.hub }

// Listen opens the listener so callers can learn the bound address before
// serving.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}
	if s.tlsConfig != nil {
		listener = tls.NewListener(listener, s.tlsConfig)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	return nil
}

// Addr returns the listener address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve handles requests until ctx is done, then shuts down.
func (s *Server) Serve(ctx context.Context) error {
	if s.Addr() == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	logging.Info("Diagnostics server listening",
		zap.String("addr", listener.Addr().String()),
		zap.Any("tls_info", GetTLSInfo(s.tlsConfig)),
	)

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down diagnostics server...")

	s.hub.Close()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		logging.Warn("Shutdown timeout, forcing close", zap.Error(err))
		return s.httpServer.Close()
	}
	return nil
}
