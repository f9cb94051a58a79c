package server

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"google.golang.org/grpc/codes"

	"github.com/oshokin/apk-patcher/internal/api/grpc/patch"
	"github.com/oshokin/apk-patcher/internal/config"
	"github.com/oshokin/apk-patcher/internal/domain/apk"
	"github.com/oshokin/apk-patcher/internal/logger"
	"github.com/oshokin/apk-patcher/internal/pipeline"
	"github.com/oshokin/apk-patcher/internal/repository/marker"
	"github.com/oshokin/apk-patcher/internal/repository/report"
	"github.com/oshokin/apk-patcher/internal/service/patcher"
)

// errRelativePath is returned when a remote request carries relative paths.
var errRelativePath = errors.New("paths must be absolute")

// metricsWriter exports metrics after each run.
type metricsWriter interface {
	WriteTextfile(path string) error
}

// service runs patch requests received by the daemon.
// It is unexported to keep the transport decoupled from the implementation.
type service struct {
	// cfg holds the daemon settings, including its signing material.
	cfg *config.Config
	// deps are shared by every step the daemon builds.
	deps patcher.Deps
	// reports returns the report repository of an output directory.
	reports func(outputDir string) report.Repository
	// exporter writes the metrics textfile when configured.
	exporter metricsWriter
	// mu serializes metrics exports.
	mu sync.Mutex
}

// newService creates a service with the provided settings and step dependencies.
func newService(cfg *config.Config, deps patcher.Deps, exporter metricsWriter) *service {
	return &service{
		cfg:  cfg,
		deps: deps,
		reports: func(outputDir string) report.Repository {
			return report.NewFileRepository(patcher.ReportPath(cfg, outputDir))
		},
		exporter: exporter,
	}
}

// Patch runs one request and streams its progress to sink.
func (s *service) Patch(ctx context.Context, req *patch.Request, sink pipeline.Sink) error {
	ctx = logger.WithKV(ctx, "requested_by", req.Actor.String())

	if !filepath.IsAbs(req.SourceDir) || !filepath.IsAbs(req.OutputDir) ||
		(req.ModFile != "" && !filepath.IsAbs(req.ModFile)) {
		return fmt.Errorf("%w: %w", patcher.ErrInvalidRequest, errRelativePath)
	}

	step := patcher.NewStep(&apk.PatchRequest{
		SourceDir:   req.SourceDir,
		OutputDir:   req.OutputDir,
		ModFile:     req.ModFile,
		Signing:     s.cfg.Signing.ToDomain(),
		MapsAPIKey:  req.MapsAPIKey,
		Repackage:   req.Repackage,
		RequestedBy: req.Actor,
	}, s.deps)

	logger.InfoKV(ctx, "Patch request received", "run_id", step.RunID(), "source", req.SourceDir)

	mirrored := func(line string) {
		logger.Debug(ctx, line)
		sink(line)
	}

	result, err := patcher.Execute(ctx, step, mirrored, s.reports(req.OutputDir))
	s.exportMetrics(ctx)

	if err != nil {
		logger.ErrorKV(ctx, "Patch request failed", "run_id", result.RunID, "error", err)
		return err
	}

	logger.InfoKV(ctx, "Patch request completed", "run_id", result.RunID, "outputs", len(result.Outputs))

	return nil
}

func (s *service) exportMetrics(ctx context.Context) {
	if s.exporter == nil || s.cfg.MetricsFile == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.exporter.WriteTextfile(s.cfg.MetricsFile); err != nil {
		logger.WarnKV(ctx, "Unable to write metrics", "path", s.cfg.MetricsFile, "error", err)
	}
}

// statusCode maps run errors to gRPC codes.
func statusCode(err error) codes.Code {
	switch {
	case errors.Is(err, patcher.ErrInvalidRequest):
		return codes.InvalidArgument
	case errors.Is(err, patcher.ErrNoInputArtifacts):
		return codes.FailedPrecondition
	case errors.Is(err, marker.ErrBusy):
		return codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}
