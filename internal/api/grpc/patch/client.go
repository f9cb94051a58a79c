package patch

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/oshokin/apk-patcher/internal/pipeline"
)

// Call sends req over conn and forwards every progress line to sink.
// It returns the final status of the run.
func Call(ctx context.Context, conn grpc.ClientConnInterface, req *Request, sink pipeline.Sink) error {
	msg, err := EncodeRequest(req)
	if err != nil {
		return err
	}

	if sink == nil {
		sink = pipeline.Discard
	}

	stream, err := conn.NewStream(ctx, &ServiceDesc.Streams[0], FullMethodPatch)
	if err != nil {
		return fmt.Errorf("open patch stream: %w", err)
	}

	if err = stream.SendMsg(msg); err != nil {
		return fmt.Errorf("send patch request: %w", err)
	}

	if err = stream.CloseSend(); err != nil {
		return fmt.Errorf("close patch request: %w", err)
	}

	for {
		line := new(wrapperspb.StringValue)

		err = stream.RecvMsg(line)
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return err
		}

		sink(line.GetValue())
	}
}
