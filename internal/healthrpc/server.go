// Package healthrpc exposes the standard gRPC health service, reporting
// SERVING while the database answers pings.
package healthrpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service key reported alongside the overall status.
const ServiceName = "voicedesk"

const (
	defaultProbeInterval = 15 * time.Second
	probeTimeout         = 3 * time.Second
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server serves grpc.health.v1.Health on its own listener.
type Server struct {
	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	pinger     Pinger
	interval   time.Duration
}

// New listens on addr and registers the health service.
func New(addr string, pinger Pinger) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	return &Server{
		listener:   listener,
		grpcServer: grpcServer,
		health:     healthServer,
		pinger:     pinger,
		interval:   defaultProbeInterval,
	}, nil
}

// Addr returns the listener address for the server.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Probe pings the dependency once and updates the served status.
func (s *Server) Probe(ctx context.Context) grpc_health_v1.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	status := grpc_health_v1.HealthCheckResponse_SERVING
	if err := s.pinger.Ping(ctx); err != nil {
		slog.Warn("Health probe failed", "error", err)
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

// Serve runs the gRPC server and the probe loop until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	slog.Info("gRPC health server listening", "addr", s.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()

	s.Probe(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Probe(ctx)
		case <-ctx.Done():
			s.health.Shutdown()
			s.grpcServer.GracefulStop()
			err := <-serveErr
			if err == nil || errors.Is(err, grpc.ErrServerStopped) {
				return nil
			}
			return fmt.Errorf("serve gRPC: %w", err)
		case err := <-serveErr:
			if err == nil || errors.Is(err, grpc.ErrServerStopped) {
				return nil
			}
			return fmt.Errorf("serve gRPC: %w", err)
		}
	}
}
