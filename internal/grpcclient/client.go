package grpcclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/MarcDasilva/MyClientData/internal/face"
	"github.com/MarcDasilva/MyClientData/internal/logging"
)

// Embedder service contract: a JPEG goes in as google.protobuf.BytesValue and
// a google.protobuf.Struct {found: bool, descriptor: [number]} comes back.
const (
	ServiceName = "facerec.v1.FaceEmbedder"
	EmbedMethod = "/" + ServiceName + "/Embed"
)

// Extractor calls a remote face embedder over gRPC.
type Extractor struct {
	conn    *grpc.ClientConn
	timeout time.Duration
	logger  *zap.Logger
}

// Dial connects to the embedder at addr and waits until its health service
// reports SERVING. Servers without the health service are accepted.
func Dial(ctx context.Context, addr string, timeout time.Duration, logger *zap.Logger, opts ...grpc.DialOption) (*Extractor, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_embedder", "", err)
		logger.Error("failed to create embedder client", zap.Error(wrapped), zap.String("addr", addr))
		return nil, wrapped
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(checkCtx, &healthpb.HealthCheckRequest{Service: ServiceName}, grpc.WaitForReady(true))
	switch {
	case status.Code(err) == codes.Unimplemented:
		logger.Warn("embedder has no health service", zap.String("addr", addr))
	case err != nil:
		conn.Close()
		wrapped := logging.NewOperationError("grpcclient.health_check", "", err)
		logger.Error("embedder health check failed", zap.Error(wrapped), zap.String("addr", addr))
		return nil, wrapped
	case resp.GetStatus() != healthpb.HealthCheckResponse_SERVING:
		conn.Close()
		return nil, logging.NewOperationError("grpcclient.health_check", "", fmt.Errorf("embedder status %s", resp.GetStatus()))
	}

	return &Extractor{conn: conn, timeout: timeout, logger: logger.Named("grpc_extractor")}, nil
}

// Extract sends the image to the embedder and returns its descriptor.
func (e *Extractor) Extract(ctx context.Context, jpegData []byte) (face.Embedding, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var resp structpb.Struct
	if err := e.conn.Invoke(ctx, EmbedMethod, wrapperspb.Bytes(jpegData), &resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.embed", "", err)
		e.logger.Error("embedder call failed", zap.Error(wrapped))
		return nil, wrapped
	}
	return decodeDescriptor(&resp)
}

// Close closes the underlying connection.
func (e *Extractor) Close() error {
	return e.conn.Close()
}

func decodeDescriptor(resp *structpb.Struct) (face.Embedding, error) {
	fields := resp.GetFields()
	if !fields["found"].GetBoolValue() {
		return nil, face.ErrNoFaceDetected
	}
	values := fields["descriptor"].GetListValue().GetValues()
	if len(values) == 0 {
		return nil, errors.New("embedder reported a face without a descriptor")
	}
	out := make(face.Embedding, len(values))
	for i, v := range values {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("descriptor element %d is not a number", i)
		}
		out[i] = float32(n.NumberValue)
	}
	return out, nil
}
