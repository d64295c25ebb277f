package wire

import (
	"context"

	"google.golang.org/grpc"

	"github.com/casewatch/casewatch/pkg/types"
)

const (
	ServiceName = "casewatch.v1.Ingest"

	EnqueueMethod        = "/" + ServiceName + "/Enqueue"
	IngestCompleteMethod = "/" + ServiceName + "/IngestComplete"
)

// EnqueueRequest carries one shipped batch of change events.
type EnqueueRequest struct {
	BatchID string              `json:"batch_id,omitempty"`
	Source  string              `json:"source,omitempty"`
	Events  []types.ChangeEvent `json:"events"`
}

// EnqueueResponse counts what the server did with a batch. NewlySeen is the
// number of tree keys that were not pending before this batch.
type EnqueueResponse struct {
	Accepted  int `json:"accepted"`
	NewlySeen int `json:"newly_seen"`
	Ignored   int `json:"ignored"`
}

// IngestCompleteRequest tells the server a producer finished a run.
type IngestCompleteRequest struct {
	Source string `json:"source,omitempty"`
}

// IngestCompleteResponse reports how many keys the forced flush delivered.
type IngestCompleteResponse struct {
	Flushed int `json:"flushed"`
}

// IngestServer is implemented by the server side of casewatch.v1.Ingest.
type IngestServer interface {
	Enqueue(context.Context, *EnqueueRequest) (*EnqueueResponse, error)
	IngestComplete(context.Context, *IngestCompleteRequest) (*IngestCompleteResponse, error)
}

// RegisterIngestServer attaches srv to s.
func RegisterIngestServer(s grpc.ServiceRegistrar, srv IngestServer) {
	s.RegisterService(&IngestServiceDesc, srv)
}

// IngestServiceDesc describes casewatch.v1.Ingest to grpc.Server.
var IngestServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IngestServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Enqueue", Handler: enqueueHandler},
		{MethodName: "IngestComplete", Handler: ingestCompleteHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "casewatch/v1/ingest",
}

func enqueueHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(EnqueueRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IngestServer).Enqueue(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: EnqueueMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IngestServer).Enqueue(ctx, req.(*EnqueueRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func ingestCompleteHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(IngestCompleteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IngestServer).IngestComplete(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: IngestCompleteMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IngestServer).IngestComplete(ctx, req.(*IngestCompleteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// IngestClient calls casewatch.v1.Ingest over an existing connection.
type IngestClient struct {
	cc grpc.ClientConnInterface
}

// NewIngestClient wraps cc. The JSON content-subtype is added to every call.
func NewIngestClient(cc grpc.ClientConnInterface) *IngestClient {
	return &IngestClient{cc: cc}
}

func (c *IngestClient) Enqueue(ctx context.Context, in *EnqueueRequest, opts ...grpc.CallOption) (*EnqueueResponse, error) {
	out := new(EnqueueResponse)
	if err := c.cc.Invoke(ctx, EnqueueMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *IngestClient) IngestComplete(ctx context.Context, in *IngestCompleteRequest, opts ...grpc.CallOption) (*IngestCompleteResponse, error) {
	out := new(IngestCompleteResponse)
	if err := c.cc.Invoke(ctx, IngestCompleteMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}
