package gateway

import (
	"fmt"
	"net"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/inactu/inactu-web/core/infra/logging"
)

// HealthService is the gRPC health service name reporting upstream readiness.
const HealthService = "inactu.web.Gateway"

// newHealthServer builds the gRPC server carrying the standard health
// service. ready selects the initial serving status of HealthService.
func newHealthServer(ready bool) (*grpc.Server, *health.Server) {
	creds := insecure.NewCredentials()
	if certFile := os.Getenv("GRPC_TLS_CERT"); certFile != "" {
		keyFile := os.Getenv("GRPC_TLS_KEY")
		if keyFile == "" {
			logging.Error("gateway", "grpc tls key missing", "cert", certFile)
		} else if tlsCreds, err := credentials.NewServerTLSFromFile(certFile, keyFile); err != nil {
			logging.Error("gateway", "grpc tls setup failed", "error", err)
		} else {
			creds = tlsCreds
		}
	}

	srv := grpc.NewServer(grpc.Creds(creds))
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ready {
		status = healthpb.HealthCheckResponse_SERVING
	}
	hs.SetServingStatus(HealthService, status)
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)
	return srv, hs
}

func serveGRPC(srv *grpc.Server, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen grpc (%s): %w", addr, err)
	}
	go func() {
		logging.Info("gateway", "grpc listening", "addr", addr)
		if err := srv.Serve(lis); err != nil && err != grpc.ErrServerStopped {
			logging.Error("gateway", "grpc server error", "error", err)
		}
	}()
	return nil
}
