package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/oshokin/apk-patcher/internal/api/grpc/patch"
	"github.com/oshokin/apk-patcher/internal/config"
	"github.com/oshokin/apk-patcher/internal/logger"
	"github.com/oshokin/apk-patcher/internal/metrics"
	"github.com/oshokin/apk-patcher/internal/service/patcher"
	"github.com/oshokin/apk-patcher/internal/version"
)

// Options controls the apk-patchd process and configuration.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// EnvFile is an optional .env file with signing secrets.
	EnvFile string
	// ListenAddress provides an optional listen address override for the gRPC server.
	ListenAddress string
	// MetricsAddress, when set, serves Prometheus metrics over HTTP.
	MetricsAddress string
}

// ErrNoServerAddress indicates missing server configuration.
var ErrNoServerAddress = errors.New("no server address configured")

const metricsShutdownTimeout = 5 * time.Second

// Run starts the gRPC server and blocks until context is canceled or server stops.
// Loads configuration first, then determines listen address from config or override.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "apk-patchd")

	settings, err := config.LoadOrDefault(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if err = config.ApplyEnv(settings, opts.EnvFile); err != nil {
		return fmt.Errorf("load environment: %w", err)
	}

	// Determine listen address: CLI argument overrides the configured address.
	listenAddress, err := resolveListenAddress(settings.ServerAddress, opts.ListenAddress)
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}

	prom := metrics.NewProm(patcher.MetricsNamespace)
	svc := newService(settings, patcher.DepsFromConfig(settings, prom), prom)

	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", listenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddress, err)
	}

	grpcServer, healthServer := newGRPCServer(svc)

	if opts.MetricsAddress != "" {
		stopMetrics := serveMetrics(ctx, opts.MetricsAddress, prom)
		defer stopMetrics()
	}

	logger.InfoKV(ctx, "Patch daemon listening",
		"listen_address", listenAddress,
		"version", version.Short(),
		"keystore", settings.Signing.KeyStore,
		"tool", settings.Repackager.Command)

	// Done channel is closed after GracefulStop finishes to ensure we block
	// until the server fully stops before returning.
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		logger.Info(ctx, "Shutting down gRPC server")
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		close(done)
	}()

	if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve gRPC: %w", err)
	}

	<-done
	logger.Info(ctx, "GRPC server stopped")

	return nil
}

// newGRPCServer registers the patch and health services.
func newGRPCServer(svc *service) (*grpc.Server, *health.Server) {
	grpcServer := grpc.NewServer()
	patch.Register(grpcServer, patch.NewServer(svc, statusCode))

	healthServer := health.NewServer()
	healthServer.SetServingStatus(patch.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)

	return grpcServer, healthServer
}

// serveMetrics exposes /metrics until the returned stop function is called.
func serveMetrics(ctx context.Context, address string, prom *metrics.Prom) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", prom.Handler())

	srv := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: metricsShutdownTimeout,
	}

	go func() {
		logger.InfoKV(ctx, "Metrics endpoint listening", "address", address)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorKV(ctx, "Metrics endpoint failed", "error", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}
}

// resolveListenAddress determines the listen address for the gRPC server.
// If override is provided, uses it directly. Otherwise configAddr is validated and used as is.
func resolveListenAddress(configAddr, override string) (string, error) {
	// Use override address if provided (e.g., ":9090", "0.0.0.0:8080").
	if override != "" {
		return override, nil
	}

	if configAddr == "" {
		return "", ErrNoServerAddress
	}

	// The configured host is kept: the default binds loopback only, and a
	// daemon that cleans caller-named directories must not widen that silently.
	if _, _, err := net.SplitHostPort(configAddr); err != nil {
		return "", fmt.Errorf("invalid server address format %q: %w", configAddr, err)
	}

	return configAddr, nil
}
