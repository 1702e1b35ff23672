package grpc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func startHealthServer(t *testing.T, checks map[string]Check) (*HealthServer, healthpb.HealthClient) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := NewHealthServer(checks, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.interval = 20 * time.Millisecond

	go func() { _ = s.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return s, healthpb.NewHealthClient(conn)
}

func status(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.Status
}

func TestHealthServer_ReportsChecks(t *testing.T) {
	var paymentsDown atomic.Bool
	s, client := startHealthServer(t, map[string]Check{
		"storefront.cart": func(context.Context) error { return nil },
		"storefront.payments": func(context.Context) error {
			if paymentsDown.Load() {
				return errors.New("postgres unreachable")
			}
			return nil
		},
	})
	defer s.GracefulStop()

	assert.Eventually(t, func() bool {
		return status(t, client, "") == healthpb.HealthCheckResponse_SERVING
	}, time.Second, 10*time.Millisecond)

	paymentsDown.Store(true)
	assert.Eventually(t, func() bool {
		return status(t, client, "") == healthpb.HealthCheckResponse_NOT_SERVING
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, client, "storefront.cart"))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, client, "storefront.payments"))
}
