package patch

import (
	"context"
	"errors"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/oshokin/apk-patcher/internal/logger"
	"github.com/oshokin/apk-patcher/internal/pipeline"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "apkpatcher.v1.PatchService"
	// MethodPatch is the streaming method name.
	MethodPatch = "Patch"
	// FullMethodPatch is the method path used by clients.
	FullMethodPatch = "/" + ServiceName + "/" + MethodPatch
)

// Service abstracts the business operation the transport layer depends on.
type Service interface {
	Patch(ctx context.Context, req *Request, sink pipeline.Sink) error
}

// CodeFunc maps a service error to a status code.
type CodeFunc func(err error) codes.Code

// Server implements the PatchService gRPC API.
type Server struct {
	// service runs patch requests.
	service Service
	// code classifies service errors.
	code CodeFunc
}

// patchHandler is the handler type registered with grpc.
type patchHandler interface {
	handlePatch(stream grpc.ServerStream) error
}

// ServiceDesc describes PatchService without generated code.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*patchHandler)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodPatch,
			Handler:       handlePatchStream,
			ServerStreams: true,
		},
	},
	Metadata: "apkpatcher/v1/patch.proto",
}

// NewServer wires service into a gRPC handler. A nil code maps every error to Internal.
func NewServer(service Service, code CodeFunc) *Server {
	if code == nil {
		code = func(error) codes.Code { return codes.Internal }
	}

	return &Server{
		service: service,
		code:    code,
	}
}

// Register adds the service to a gRPC server.
func Register(registrar grpc.ServiceRegistrar, srv *Server) {
	registrar.RegisterService(&ServiceDesc, srv)
}

func handlePatchStream(srv any, stream grpc.ServerStream) error {
	return srv.(patchHandler).handlePatch(stream)
}

func (s *Server) handlePatch(stream grpc.ServerStream) error {
	ctx := stream.Context()

	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return status.Error(codes.InvalidArgument, "request is required")
	}

	req, err := DecodeRequest(in)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	var (
		mu      sync.Mutex
		sendErr error
	)

	sink := func(line string) {
		mu.Lock()
		defer mu.Unlock()

		if sendErr != nil {
			return
		}

		if err := stream.SendMsg(wrapperspb.String(line)); err != nil {
			sendErr = err
			logger.WarnKV(ctx, "Progress stream broken", "error", err)
		}
	}

	if err = s.service.Patch(ctx, req, sink); err != nil {
		if errors.Is(err, context.Canceled) {
			return status.Error(codes.Canceled, err.Error())
		}

		return status.Error(s.code(err), err.Error())
	}

	return nil
}
