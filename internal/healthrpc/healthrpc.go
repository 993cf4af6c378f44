// Package healthrpc exposes the live connection state over the standard
// gRPC health protocol so orchestrators can probe it.
package healthrpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/ashureev/healdash/internal/live"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// LiveService is the health service name that mirrors the live connection.
const LiveService = "healdash.live"

// Source publishes live session updates.
type Source interface {
	IsConnected() bool
	Subscribe(fn func(live.Update)) (unsubscribe func())
}

// Mirror keeps a health server in step with the live session.
type Mirror struct {
	health *health.Server
	unsub  func()
}

// NewMirror subscribes to src and reflects its connection state.
// The overall server ("") is always SERVING.
func NewMirror(src Source) *Mirror {
	m := &Mirror{health: health.NewServer()}
	m.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	m.unsub = src.Subscribe(func(u live.Update) { m.set(u.Status.Connected) })
	m.set(src.IsConnected())
	return m
}

func (m *Mirror) set(connected bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if connected {
		status = healthpb.HealthCheckResponse_SERVING
	}
	m.health.SetServingStatus(LiveService, status)
}

// Server returns the underlying health service.
func (m *Mirror) Server() healthpb.HealthServer {
	return m.health
}

// Close stops mirroring and marks every service NOT_SERVING.
func (m *Mirror) Close() {
	m.unsub()
	m.health.Shutdown()
}

// Serve runs a gRPC server with the health service on addr until ctx is done.
func Serve(ctx context.Context, addr string, m *Mirror) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, m.health)

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	slog.Info("gRPC health server listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve grpc health: %w", err)
	}
	return nil
}
