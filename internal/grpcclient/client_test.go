package grpcclient

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/MarcDasilva/MyClientData/internal/face"
)

type embedFunc func(image []byte) (*structpb.Struct, error)

func startEmbedder(t *testing.T, fn embedFunc, withHealth bool) grpc.DialOption {
	t.Helper()

	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "Embed",
			Handler: func(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				in := new(wrapperspb.BytesValue)
				if err := dec(in); err != nil {
					return nil, err
				}
				return fn(in.GetValue())
			},
		}},
	}, struct{}{})
	if withHealth {
		hs := health.NewServer()
		hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
		healthpb.RegisterHealthServer(server, hs)
	}

	go server.Serve(listener)
	t.Cleanup(server.Stop)

	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	})
}

func dial(t *testing.T, opt grpc.DialOption) *Extractor {
	t.Helper()
	ex, err := Dial(context.Background(), "passthrough:///bufnet", time.Second, zap.NewNop(), opt)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { ex.Close() })
	return ex
}

func TestExtractReturnsDescriptor(t *testing.T) {
	var received []byte
	opt := startEmbedder(t, func(image []byte) (*structpb.Struct, error) {
		received = image
		return structpb.NewStruct(map[string]any{
			"found":      true,
			"descriptor": []any{0.5, -0.25, 1.0},
		})
	}, true)

	emb, err := dial(t, opt).Extract(context.Background(), []byte("jpeg"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(emb) != 3 || emb[0] != 0.5 || emb[1] != -0.25 || emb[2] != 1 {
		t.Fatalf("unexpected descriptor %v", emb)
	}
	if string(received) != "jpeg" {
		t.Fatalf("server received %q", received)
	}
}

func TestExtractNoFace(t *testing.T) {
	opt := startEmbedder(t, func([]byte) (*structpb.Struct, error) {
		return structpb.NewStruct(map[string]any{"found": false})
	}, false)

	_, err := dial(t, opt).Extract(context.Background(), []byte("jpeg"))
	if !errors.Is(err, face.ErrNoFaceDetected) {
		t.Fatalf("expected ErrNoFaceDetected, got %v", err)
	}
}

func TestExtractRejectsMalformedDescriptor(t *testing.T) {
	opt := startEmbedder(t, func([]byte) (*structpb.Struct, error) {
		return structpb.NewStruct(map[string]any{
			"found":      true,
			"descriptor": []any{"nope"},
		})
	}, true)

	_, err := dial(t, opt).Extract(context.Background(), []byte("jpeg"))
	if err == nil || errors.Is(err, face.ErrNoFaceDetected) {
		t.Fatalf("expected decode error, got %v", err)
	}
}
