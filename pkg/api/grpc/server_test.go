package grpc

import (
	"context"
	"testing"
	"time"

	"github.com/aescanero/modjob/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

func startServer(t *testing.T) (*Server, healthpb.HealthClient) {
	t.Helper()

	s := NewServer(&Config{Logger: zap.NewNop()})
	s.addr = "127.0.0.1:0"
	require.NoError(t, s.Start(context.Background()))

	conn, err := grpc.NewClient(s.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})

	return s, healthpb.NewHealthClient(conn)
}

func check(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestServer_Health(t *testing.T) {
	s, client := startServer(t)

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, ""))

	s.SetOverall(domain.ModuleStatusStarted)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ""))

	tests := []struct {
		status domain.ModuleStatus
		want   healthpb.HealthCheckResponse_ServingStatus
	}{
		{domain.ModuleStatusStarting, healthpb.HealthCheckResponse_NOT_SERVING},
		{domain.ModuleStatusStarted, healthpb.HealthCheckResponse_SERVING},
		{domain.ModuleStatusError, healthpb.HealthCheckResponse_NOT_SERVING},
		{domain.ModuleStatusStopped, healthpb.HealthCheckResponse_NOT_SERVING},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			s.SetModuleStatus("utils", tt.status)
			assert.Equal(t, tt.want, check(t, client, "utils"))
		})
	}
}

func TestServer_UnknownService(t *testing.T) {
	_, client := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: "ghost"})
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestServer_ShutdownWithoutStart(t *testing.T) {
	s := NewServer(&Config{Logger: zap.NewNop()})
	assert.NoError(t, s.Shutdown(context.Background()))
}
