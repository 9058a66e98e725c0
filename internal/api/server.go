// Package api exposes a simulator over REST, gRPC and a websocket order-event
// stream, with Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"

	"simbroker/internal/broker"
	"simbroker/internal/domain"
)

// Backend is what the servers need from a simulator: the Simulator contract
// plus order event subscription.
type Backend interface {
	broker.Simulator
	Subscribe(bufSize int) (int, <-chan domain.OrderEvent)
	Unsubscribe(id int)
}

// Server hosts the REST and gRPC endpoints for one Backend.
type Server struct {
	backend Backend
	log     *slog.Logger
	metrics *Metrics
	hub     *Hub
	trading *TradingService

	mu      sync.Mutex
	httpSrv *http.Server
	grpcSrv *grpc.Server
}

// NewServer creates a Server for backend. A nil log means slog.Default.
func NewServer(backend Backend, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	m := NewMetrics()
	return &Server{
		backend: backend,
		log:     log,
		metrics: m,
		hub:     NewHub(log, m),
		trading: NewTradingService(backend, m, log),
	}
}

// Handler returns the REST handler with CORS and request metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.metrics.middleware(corsMiddleware(mux))
}

// RegisterGRPC registers the Trading service on gs.
func (s *Server) RegisterGRPC(gs *grpc.Server) {
	s.trading.RegisterGRPC(gs)
}

// startEvents subscribes to the backend before returning, then forwards
// events to websocket clients until ctx is cancelled.
func (s *Server) startEvents(ctx context.Context) {
	id, ch := s.backend.Subscribe(1024)
	go s.hub.Run(ctx)
	go func() {
		defer s.backend.Unsubscribe(id)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				msg, err := json.Marshal(evt)
				if err != nil {
					s.log.Error("encoding order event", "type", evt.Type, "error", err)
					continue
				}
				s.hub.Broadcast(msg)
			}
		}
	}()
}

// ListenAndServe listens on httpAddr and grpcAddr and serves until ctx is
// cancelled. An empty grpcAddr disables gRPC.
func (s *Server) ListenAndServe(ctx context.Context, httpAddr, grpcAddr string) error {
	httpLn, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", httpAddr, err)
	}
	var grpcLn net.Listener
	if grpcAddr != "" {
		grpcLn, err = net.Listen("tcp", grpcAddr)
		if err != nil {
			httpLn.Close()
			return fmt.Errorf("listening on %s: %w", grpcAddr, err)
		}
	}
	return s.Serve(ctx, httpLn, grpcLn)
}

// Serve serves REST on httpLn and gRPC on grpcLn (which may be nil) until ctx
// is cancelled, then shuts both down gracefully.
func (s *Server) Serve(ctx context.Context, httpLn, grpcLn net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.startEvents(ctx)

	s.mu.Lock()
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if grpcLn != nil {
		s.grpcSrv = grpc.NewServer()
		s.RegisterGRPC(s.grpcSrv)
	}
	httpSrv, grpcSrv := s.httpSrv, s.grpcSrv
	s.mu.Unlock()

	errCh := make(chan error, 2)
	go func() {
		s.log.Info("http server listening", "addr", httpLn.Addr().String())
		if err := httpSrv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	if grpcSrv != nil {
		go func() {
			s.log.Info("grpc server listening", "addr", grpcLn.Addr().String())
			if err := grpcSrv.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := s.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}

// Shutdown gracefully stops the HTTP and gRPC servers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	httpSrv, grpcSrv := s.httpSrv, s.grpcSrv
	s.mu.Unlock()

	if grpcSrv != nil {
		stopped := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			grpcSrv.Stop()
		}
	}
	if httpSrv != nil {
		if err := httpSrv.Shutdown(ctx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
	}
	s.log.Info("api server stopped")
	return nil
}
