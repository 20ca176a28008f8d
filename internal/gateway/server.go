package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the hub, Prometheus metrics, and the health probe over one
// HTTP listener. The full HTTP API is out of scope; this is the minimal
// operational surface.
type Server struct {
	hub    *Hub
	addr   string
	path   string
	logger *slog.Logger

	httpServer *http.Server
	listener   net.Listener
}

// NewServer wires the hub onto host:port. metricsPath defaults to /metrics.
func NewServer(hub *Hub, host string, port int, metricsPath string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	return &Server{
		hub:    hub,
		addr:   fmt.Sprintf("%s:%d", host, port),
		path:   metricsPath,
		logger: logger.With("component", "gateway"),
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/ws", s.hub)

	server := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", s.addr, err)
	}
	s.httpServer = server
	s.listener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	s.logger.Info("gateway listening", "addr", s.addr)
	return nil
}

// Stop shuts the listener down, waiting for in-flight requests up to the
// context deadline.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("gateway: shutdown: %w", err)
	}
	s.httpServer = nil
	s.listener = nil
	return nil
}

// Addr reports the bound address, useful when port 0 was requested.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
