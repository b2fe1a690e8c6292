package httpapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/identra/identity/internal/obs"
)

// HealthServer exposes readiness over gRPC for callers that probe the
// standard health service instead of /readyz.
type HealthServer struct {
	grpc_health_v1.UnimplementedHealthServer
	probe ReadyProbe
}

// Check evaluates readiness against the backing stores.
func (s *HealthServer) Check(ctx context.Context, _ *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if err := s.probe.Check(ctx); err != nil {
		obs.SetReady(false)
		return &grpc_health_v1.HealthCheckResponse{
			Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING,
		}, nil
	}
	obs.SetReady(true)
	return &grpc_health_v1.HealthCheckResponse{
		Status: grpc_health_v1.HealthCheckResponse_SERVING,
	}, nil
}

// NewGRPCServer builds a gRPC server with the health service registered.
func NewGRPCServer(probe ReadyProbe) *grpc.Server {
	srv := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, &HealthServer{probe: probe})
	return srv
}
