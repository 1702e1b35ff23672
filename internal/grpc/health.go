// Package grpc exposes the storefront's gRPC health endpoint.
package grpc

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const (
	defaultProbeInterval = 10 * time.Second
	probeTimeout         = 2 * time.Second
)

// Check probes one backing dependency.
type Check func(ctx context.Context) error

// HealthServer reports SERVING for a service name while its check passes.
// The empty service name covers the whole process and is SERVING only when
// every check passes.
type HealthServer struct {
	server   *grpc.Server
	health   *health.Server
	checks   map[string]Check
	interval time.Duration
	log      *slog.Logger

	stopProbe chan struct{}
	wg        sync.WaitGroup
}

func NewHealthServer(checks map[string]Check, log *slog.Logger) *HealthServer {
	s := &HealthServer{
		server:    grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler())),
		health:    health.NewServer(),
		checks:    checks,
		interval:  defaultProbeInterval,
		log:       log,
		stopProbe: make(chan struct{}),
	}
	healthpb.RegisterHealthServer(s.server, s.health)
	reflection.Register(s.server)
	return s
}

// Serve probes once, then keeps probing in the background while serving lis.
func (s *HealthServer) Serve(lis net.Listener) error {
	s.probe()

	s.wg.Add(1)
	go s.probeLoop()

	return s.server.Serve(lis)
}

func (s *HealthServer) probeLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.probe()
		case <-s.stopProbe:
			return
		}
	}
}

func (s *HealthServer) probe() {
	overall := healthpb.HealthCheckResponse_SERVING
	for name, check := range s.checks {
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		err := check(ctx)
		cancel()

		status := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			overall = status
			s.log.Warn("health check failed", "service", name, "error", err)
		}
		s.health.SetServingStatus(name, status)
	}
	s.health.SetServingStatus("", overall)
}

// GracefulStop marks everything NOT_SERVING and drains in-flight RPCs.
func (s *HealthServer) GracefulStop() {
	close(s.stopProbe)
	s.wg.Wait()
	s.health.Shutdown()
	s.server.GracefulStop()
}
