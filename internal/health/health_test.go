package health

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func TestCheckAll(t *testing.T) {
	st := CheckAll(context.Background(),
		Check{Name: "store", Run: func(context.Context) error { return nil }},
		Check{Name: "disk", Run: func(context.Context) error { return errors.New("read-only") }},
	)
	if st.OK {
		t.Fatalf("expected overall failure")
	}
	if len(st.Checks) != 2 || !st.Checks[0].OK || st.Checks[1].Error != "read-only" {
		t.Fatalf("unexpected checks %+v", st.Checks)
	}
	if s := st.String(); !strings.Contains(s, "FAIL") || !strings.Contains(s, "disk") {
		t.Fatalf("unexpected report %q", s)
	}
	if !CheckAll(context.Background()).OK {
		t.Fatalf("no checks should be healthy")
	}
}

func TestGRPCHealth(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	g := NewGRPCServer()
	go g.Serve(lis)
	defer g.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	ctx := context.Background()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: Service})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", resp.Status)
	}

	g.SetServing(false)
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING, got %v", resp.Status)
	}
}
