package database

import (
	"fmt"
	"net"

	"video_transcode_pipeline/pkg/logger"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer grpc server exposing grpc.health.v1
type HealthServer struct {
	Server *grpc.Server
	Health *health.Server
	lis    net.Listener
}

// NewHealthServer listen on addr and register the health service.
// Every service starts NOT_SERVING until SetServing is called.
func NewHealthServer(addr string, services ...string) (*HealthServer, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	for _, s := range services {
		hs.SetServingStatus(s, healthpb.HealthCheckResponse_NOT_SERVING)
	}

	return &HealthServer{Server: srv, Health: hs, lis: lis}, nil
}

// Serve blocks until Stop
func (h *HealthServer) Serve() error {
	logger.Log.Info("gRPC health server listening", zap.String("addr", h.Addr()))
	return h.Server.Serve(h.lis)
}

// SetServing flips the overall and named service status
func (h *HealthServer) SetServing(serving bool, services ...string) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.Health.SetServingStatus("", status)
	for _, s := range services {
		h.Health.SetServingStatus(s, status)
	}
}

// Addr listening address
func (h *HealthServer) Addr() string {
	return h.lis.Addr().String()
}

// Stop shuts the health service down
func (h *HealthServer) Stop() {
	h.Health.Shutdown()
	h.Server.GracefulStop()
}
