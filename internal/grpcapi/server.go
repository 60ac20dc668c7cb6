// Package grpcapi exposes the standard gRPC health service. The terminal
// service reports SERVING only while live scans are being monitored.
package grpcapi

import (
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/BrandonDHaskell/biogate/internal/biogate/service"
	"github.com/BrandonDHaskell/biogate/internal/device"
)

// ServiceName is the health service key for the terminal session.
const ServiceName = "biogate.Terminal"

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	log    logrus.FieldLogger
}

func NewServer(log logrus.FieldLogger) *Server {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	return &Server{grpc: gs, health: hs, log: log}
}

// Serve blocks until Stop is called or lis fails.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Stop marks everything NOT_SERVING and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// OnState implements service.Observer.
func (s *Server) OnState(st service.State) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if st == service.StateMonitoring {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

func (s *Server) OnConnected(device.Address) {}

func (s *Server) OnError(err error, retryIn time.Duration) {
	s.log.WithError(err).WithField("retry_in", retryIn.String()).Debug("health: terminal unavailable")
}
