// Package health reports hub liveness over the standard gRPC health
// protocol (grpc.health.v1.Health).
//
// The overall server status ("") and the ServiceName entry are SERVING while
// the hub loop runs and NOT_SERVING once it stops.
package health

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health-check service name of the hub.
const ServiceName = "fanstage.Hub"

// Server is a gRPC health server tied to the hub's lifecycle.
type Server struct {
	*grpchealth.Server
}

// New returns a Server that reports NOT_SERVING until Track is called.
func New() *Server {
	s := &Server{Server: grpchealth.NewServer()}
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Register adds the health service to g.
func (s *Server) Register(g *grpc.Server) {
	healthpb.RegisterHealthServer(g, s.Server)
}

// Track marks the hub SERVING and blocks until hubDone is closed or ctx
// ends, then marks it NOT_SERVING.
func (s *Server) Track(ctx context.Context, hubDone <-chan struct{}) {
	s.set(healthpb.HealthCheckResponse_SERVING)
	select {
	case <-hubDone:
		slog.Warn("health: hub stopped")
	case <-ctx.Done():
	}
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
}

func (s *Server) set(status healthpb.HealthCheckResponse_ServingStatus) {
	s.SetServingStatus("", status)
	s.SetServingStatus(ServiceName, status)
}
