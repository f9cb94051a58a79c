// Package patch exposes the patch step over gRPC.
//
// The service has a single server-streaming method: the client sends one
// request encoded as a google.protobuf.Struct and receives progress lines as
// google.protobuf.StringValue messages until the run ends. The final status
// carries the run outcome.
package patch
