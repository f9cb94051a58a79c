//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/oshokin/apk-patcher/internal/api/grpc/patch"
	"github.com/oshokin/apk-patcher/internal/config"
	"github.com/oshokin/apk-patcher/internal/pipeline"
	"github.com/oshokin/apk-patcher/internal/version"
)

// Client wraps the apk-patchd connection with convenience helpers.
type Client struct {
	// conn is the underlying gRPC connection to the daemon.
	conn *grpc.ClientConn
	// health checks daemon readiness.
	health grpc_health_v1.HealthClient

	// callTimeout is the default timeout for unary calls. Patch runs are not bounded by it.
	callTimeout time.Duration
	// dialOptions are appended to the default dial options.
	dialOptions []grpc.DialOption
}

// Option configures client behaviour.
type Option func(*Client)

// WithDialOptions adds gRPC dial options, e.g. a custom dialer in tests.
func WithDialOptions(options ...grpc.DialOption) Option {
	return func(c *Client) {
		c.dialOptions = append(c.dialOptions, options...)
	}
}

// WithCallTimeout sets a default timeout for service calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

var (
	// errAddressRequired is returned when a required address value is missing.
	errAddressRequired = errors.New("address must be provided")
	// errRequestRequired is returned when a patch request is missing.
	errRequestRequired = errors.New("request must be provided")
	// errNotServing is returned when the daemon reports it cannot take requests.
	errNotServing = errors.New("daemon is not serving")
)

// Dial establishes a gRPC connection to apk-patchd.
// Note: this uses insecure transport credentials; deploy on a trusted network
// or terminate TLS in a proxy until native TLS is added.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	client := &Client{
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	dialOptions := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUserAgent(version.UserAgent()),
	}, client.dialOptions...)

	// Use the non-context NewClient API recommended by grpc-go
	// (DialContext is deprecated as of grpc-go v1.60+).
	conn, err := grpc.NewClient(address, dialOptions...)
	if err != nil {
		return nil, fmt.Errorf("dial apk-patchd: %w", err)
	}

	client.conn = conn
	client.health = grpc_health_v1.NewHealthClient(conn)

	return client, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}

	return c.conn.Close()
}

// CheckHealth verifies the daemon serves patch requests.
func (c *Client) CheckHealth(ctx context.Context) error {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.health.Check(callCtx, &grpc_health_v1.HealthCheckRequest{Service: patch.ServiceName})
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}

	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", errNotServing, resp.GetStatus())
	}

	return nil
}

// Patch runs req on the daemon and forwards its progress lines to sink.
// The call lasts as long as the run; only ctx bounds it.
func (c *Client) Patch(ctx context.Context, req *patch.Request, sink pipeline.Sink) error {
	if req == nil {
		return errRequestRequired
	}

	if err := patch.Call(ctx, c.conn, req, sink); err != nil {
		return fmt.Errorf("patch: %w", err)
	}

	return nil
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
