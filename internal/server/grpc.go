package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/tandemlabs/tandem-ai/internal/audit"
	"github.com/tandemlabs/tandem-ai/internal/config"
	"github.com/tandemlabs/tandem-ai/internal/llm/dispatch"
	"github.com/tandemlabs/tandem-ai/internal/orchestrator"
)

// gRPC health service names. The empty name covers the whole process.
const (
	healthServiceName = "tandem.ai"
	poolServiceName   = "tandem.ai.pool"
)

// poolWatchInterval is how often the pool status is refreshed.
const poolWatchInterval = 15 * time.Second

// grpcHealth serves the standard gRPC health-checking protocol so
// infrastructure that probes gRPC (load balancers, service meshes) can
// track the service without speaking the REST API.
type grpcHealth struct {
	server       *grpc.Server
	healthServer *health.Server
	addr         string
}

// startGRPCHealth binds the gRPC listener and begins serving health
// checks. The service itself stays SERVING until shutdown; only the
// pool service flips with endpoint health, because a degraded pool
// still answers requests.
func startGRPCHealth(ctx context.Context, cfg *config.Config, orch orchestrator.Orchestrator, auditLog audit.Logger, wg *sync.WaitGroup) (*grpcHealth, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.GRPC.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to bind grpc listener: %w", err)
	}

	server := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	reflection.Register(server)

	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(healthServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(poolServiceName, poolStatus(ctx, orch))

	go func() {
		if err := server.Serve(listener); err != nil && err != grpc.ErrServerStopped {
			auditLog.Log(ctx, audit.NewEvent(audit.EventServerShutdown).
				WithError(err, "GRPC_SERVE_FAILED"))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(poolWatchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				healthServer.SetServingStatus(poolServiceName, poolStatus(ctx, orch))
			}
		}
	}()

	return &grpcHealth{
		server:       server,
		healthServer: healthServer,
		addr:         listener.Addr().String(),
	}, nil
}

// poolStatus maps endpoint health onto the pool service status. One
// healthy endpoint is enough to serve.
func poolStatus(ctx context.Context, orch orchestrator.Orchestrator) grpc_health_v1.HealthCheckResponse_ServingStatus {
	for _, ep := range orch.Health(ctx).Endpoints {
		if ep.State == dispatch.StateHealthy {
			return grpc_health_v1.HealthCheckResponse_SERVING
		}
	}
	return grpc_health_v1.HealthCheckResponse_NOT_SERVING
}

// stop marks every service NOT_SERVING and drains in-flight RPCs,
// forcing the issue after five seconds.
func (g *grpcHealth) stop() {
	g.healthServer.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		g.server.Stop()
	}
}
