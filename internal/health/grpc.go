package health

import (
	"net"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service is the name reported alongside the overall ("") status.
const Service = "rendezvous.signal"

// GRPCServer exposes grpc.health.v1.Health for orchestrators that probe
// over gRPC.
type GRPCServer struct {
	srv *grpc.Server
	hs  *grpchealth.Server
}

func NewGRPCServer() *GRPCServer {
	srv := grpc.NewServer()
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	g := &GRPCServer{srv: srv, hs: hs}
	g.SetServing(true)
	return g
}

func (g *GRPCServer) Serve(lis net.Listener) error { return g.srv.Serve(lis) }

func (g *GRPCServer) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_SERVING
	if !ok {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.hs.SetServingStatus("", st)
	g.hs.SetServingStatus(Service, st)
}

// Stop reports NOT_SERVING to watchers and drains the server.
func (g *GRPCServer) Stop() {
	g.hs.Shutdown()
	g.srv.GracefulStop()
}
