package patcher

import (
	"context"
	"path/filepath"

	"github.com/oshokin/apk-patcher/internal/config"
	"github.com/oshokin/apk-patcher/internal/domain/apk"
	"github.com/oshokin/apk-patcher/internal/logger"
	"github.com/oshokin/apk-patcher/internal/metrics"
	"github.com/oshokin/apk-patcher/internal/pipeline"
	"github.com/oshokin/apk-patcher/internal/repackager"
	"github.com/oshokin/apk-patcher/internal/repository/report"
	"github.com/oshokin/apk-patcher/internal/task"
)

// DepsFromConfig builds step dependencies from settings.
func DepsFromConfig(cfg *config.Config, recorder metrics.Recorder) Deps {
	options := []repackager.Option{
		repackager.WithDir(cfg.Repackager.WorkDir),
		repackager.WithTailSize(cfg.Repackager.TailSize),
	}

	if level, ok := logger.ParseLogLevel(cfg.Repackager.OutputLogLevel); ok {
		options = append(options, repackager.WithOutputLevel(level))
	}

	return Deps{
		Repackager: repackager.NewProcess(cfg.Repackager.Command, options...),
		Metrics: recorder,
		Tool: ToolOptions{
			LogLevel: cfg.Repackager.LogLevel,
			Force:    cfg.Repackager.Force,
			Verbose:  cfg.Repackager.Verbose,
		},
		BaseName:       cfg.BaseName,
		MarkerLifetime: cfg.MarkerLifetime,
	}
}

// ReportPath returns where the report of a run into outputDir is stored.
func ReportPath(cfg *config.Config, outputDir string) string {
	if cfg.ReportFile != "" {
		return cfg.ReportFile
	}

	return report.PathFor(outputDir)
}

// Execute runs step through a pipeline runner and persists its report whether
// the run succeeded or not. A report that cannot be saved is logged, never fatal.
func Execute(
	ctx context.Context,
	step *Step,
	sink pipeline.Sink,
	reports report.Repository,
) (*apk.Report, error) {
	runErr := pipeline.NewRunner(sink).Run(ctx, step)
	result := step.Report()

	if reports != nil {
		saving := task.Go(ctx, "save-report", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, reports.Save(ctx, result)
		})

		if saving.WaitLogged(context.WithoutCancel(ctx)) {
			logger.DebugKV(ctx, "Run report saved", "run_id", result.RunID)
		}
	}

	return result, runErr
}

// absPath resolves path, keeping it unchanged when it cannot be resolved.
func absPath(path string) string {
	if path == "" {
		return ""
	}

	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}

	return path
}
