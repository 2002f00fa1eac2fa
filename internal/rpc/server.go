// Package rpc exposes the daemon over a localhost JSON-RPC 2.0
// endpoint, plus health and metrics handlers.
package rpc

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"keyhaven/internal/app"
)

const DefaultRPCAddr = "127.0.0.1:8770"

type Server struct {
	httpServer *http.Server
	service    *app.Service
	log        *slog.Logger
	rpcToken   string
}

type Options struct {
	Logger   *slog.Logger
	Gatherer prometheus.Gatherer
}

func NewServer(rpcAddr string, svc *app.Service, opts Options) *Server {
	if rpcAddr == "" {
		rpcAddr = DefaultRPCAddr
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	mux := http.NewServeMux()
	s := &Server{
		httpServer: &http.Server{
			Addr:              rpcAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		service:  svc,
		log:      log,
		rpcToken: strings.TrimSpace(os.Getenv("KEYHAVEN_RPC_TOKEN")),
	}
	if s.rpcToken == "" {
		log.Warn("KEYHAVEN_RPC_TOKEN is not set; RPC auth disabled")
	}
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/rpc", s.handleRPC)
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
// Networking is started before the listener and stopped after it.
func (s *Server) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	default:
	}
	if err := s.service.StartNetworking(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := s.service.StopNetworking(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = s.service.StopNetworking(shutdownCtx)
		cancel()
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) authorizeRPC(w http.ResponseWriter, r *http.Request) bool {
	if s.rpcToken == "" {
		return true
	}
	presented := r.Header.Get("X-Keyhaven-RPC-Token")
	if subtle.ConstantTimeCompare([]byte(presented), []byte(s.rpcToken)) != 1 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

// HandleRPC exposes the RPC handler for tests using httptest servers.
func (s *Server) HandleRPC(w http.ResponseWriter, r *http.Request) {
	s.handleRPC(w, r)
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.handleHealth(w, r)
}
