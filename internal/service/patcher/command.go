package patcher

import (
	"context"
	"fmt"

	"github.com/oshokin/apk-patcher/internal/api/grpc/patch"
	"github.com/oshokin/apk-patcher/internal/config"
	"github.com/oshokin/apk-patcher/internal/domain/apk"
	"github.com/oshokin/apk-patcher/internal/logger"
	"github.com/oshokin/apk-patcher/internal/metrics"
	"github.com/oshokin/apk-patcher/internal/pipeline"
	"github.com/oshokin/apk-patcher/internal/repository/report"
	"github.com/oshokin/apk-patcher/internal/service/common"
)

// MetricsNamespace prefixes every exported metric.
const MetricsNamespace = "apk_patcher"

// Options contains inputs for the apk-patcher entry point.
type Options struct {
	// ConfigPath is an optional settings file (defaults to apk-patcher-settings.yaml when present).
	ConfigPath string
	// EnvFile is an optional .env file with signing secrets.
	EnvFile string
	// SourceDir holds the containers to patch.
	SourceDir string
	// OutputDir receives the results. It is cleaned first.
	OutputDir string
	// ModFile is the module injected when repackaging.
	ModFile string
	// KeyStore overrides the keystore from the settings.
	KeyStore string
	// MapsAPIKey enables the manifest patch when set.
	MapsAPIKey *string
	// Repackage selects repackaging instead of copy-through.
	Repackage bool
	// ServerAddress sends the request to apk-patchd instead of running locally.
	ServerAddress string
	// ReportFile overrides the report location.
	ReportFile string
	// MetricsFile overrides the metrics textfile location.
	MetricsFile string
	// Sink receives progress lines; nil logs them.
	Sink pipeline.Sink
}

// Run executes one patch run and returns its report. Remote runs return a nil
// report: apk-patchd keeps it on its side.
func Run(ctx context.Context, opts *Options) (*apk.Report, error) {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "apk-patcher")

	cfg, err := config.LoadOrDefault(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	if err = config.ApplyEnv(cfg, opts.EnvFile); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	sink := opts.Sink
	if sink == nil {
		sink = logger.SinkFor(ctx)
	}

	actor, err := common.DetectActor()
	if err != nil {
		logger.WarnKV(ctx, "Unable to detect the current user", "error", err)
	}

	if opts.ServerAddress != "" {
		return nil, runRemote(ctx, cfg, opts, actor, sink)
	}

	return runLocal(ctx, cfg, opts, actor, sink)
}

func runLocal(
	ctx context.Context,
	cfg *config.Config,
	opts *Options,
	actor *apk.Actor,
	sink pipeline.Sink,
) (*apk.Report, error) {
	if opts.KeyStore != "" {
		cfg.Signing.KeyStore = opts.KeyStore
	}

	if opts.ReportFile != "" {
		cfg.ReportFile = opts.ReportFile
	}

	if opts.MetricsFile != "" {
		cfg.MetricsFile = opts.MetricsFile
	}

	req := &apk.PatchRequest{
		SourceDir:   absPath(opts.SourceDir),
		OutputDir:   absPath(opts.OutputDir),
		ModFile:     absPath(opts.ModFile),
		Signing:     cfg.Signing.ToDomain(),
		MapsAPIKey:  opts.MapsAPIKey,
		Repackage:   opts.Repackage,
		RequestedBy: actor,
	}
	req.Signing.KeyStore = absPath(req.Signing.KeyStore)

	var recorder metrics.Recorder = metrics.Noop{}

	prom := metrics.NewProm(MetricsNamespace)
	if cfg.MetricsFile != "" {
		recorder = prom
	}

	step := NewStep(req, DepsFromConfig(cfg, recorder))
	logger.InfoKV(ctx, "Patch run started", "run_id", step.RunID(), "mode", req.Mode())

	result, runErr := Execute(ctx, step, sink, report.NewFileRepository(ReportPath(cfg, req.OutputDir)))

	if cfg.MetricsFile != "" {
		if err := prom.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.WarnKV(ctx, "Unable to write metrics", "path", cfg.MetricsFile, "error", err)
		}
	}

	if runErr != nil {
		return result, runErr
	}

	logger.InfoKV(ctx, "Patch run completed successfully", "run_id", result.RunID, "outputs", len(result.Outputs))

	return result, nil
}

func runRemote(
	ctx context.Context,
	cfg *config.Config,
	opts *Options,
	actor *apk.Actor,
	sink pipeline.Sink,
) error {
	client, err := common.Dial(ctx, opts.ServerAddress, common.WithCallTimeout(cfg.Timeout))
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			logger.WarnKV(ctx, "Unable to close connection", "error", closeErr)
		}
	}()

	if err = client.CheckHealth(ctx); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Sending patch request", "server", opts.ServerAddress)

	return client.Patch(ctx, &patch.Request{
		SourceDir:  opts.SourceDir,
		OutputDir:  opts.OutputDir,
		ModFile:    opts.ModFile,
		MapsAPIKey: opts.MapsAPIKey,
		Repackage:  opts.Repackage,
		Actor:      actor,
	}, sink)
}
