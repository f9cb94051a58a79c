package patcher

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/apk-patcher/internal/domain/apk"
	"github.com/oshokin/apk-patcher/internal/logger"
	"github.com/oshokin/apk-patcher/internal/metrics"
	"github.com/oshokin/apk-patcher/internal/pipeline"
	"github.com/oshokin/apk-patcher/internal/repackager"
	"github.com/oshokin/apk-patcher/internal/repository/marker"
)

// StepName is the pipeline name of the patch step.
const StepName = "patch"

// ToolOptions are the repackaging tool switches that do not come from the request.
type ToolOptions struct {
	LogLevel int
	Force    bool
	Verbose  bool
}

// Deps are the collaborators of one step, owned by whoever builds the pipeline.
type Deps struct {
	// Repackager runs the external tool; required when the request asks for repackaging.
	Repackager repackager.Repackager
	// Metrics records stage and run observations; nil records nothing.
	Metrics metrics.Recorder
	// Tool holds the repackaging tool switches.
	Tool ToolOptions
	// BaseName identifies the base container; empty means base.apk.
	BaseName string
	// MarkerLifetime bounds how long an unreadable output marker is honoured.
	MarkerLifetime time.Duration
	// Now returns the current time; nil uses time.Now.
	Now func() time.Time
}

// Step is the patch step. It is single-use: build a new one per run.
type Step struct {
	req    apk.PatchRequest
	deps   Deps
	report apk.Report

	artifacts *apk.ArtifactSet
}

var _ pipeline.Step = (*Step)(nil)

// NewStep builds a step for req.
func NewStep(req *apk.PatchRequest, deps Deps) *Step {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Noop{}
	}

	if deps.Now == nil {
		deps.Now = time.Now
	}

	if deps.BaseName == "" {
		deps.BaseName = apk.DefaultBaseName
	}

	if deps.Tool.LogLevel == 0 {
		deps.Tool.LogLevel = repackager.DefaultLogLevel
	}

	return &Step{
		req:  *req,
		deps: deps,
		report: apk.Report{
			RunID:       uuid.NewString(),
			Mode:        req.Mode(),
			SourceDir:   req.SourceDir,
			OutputDir:   req.OutputDir,
			RequestedBy: req.RequestedBy.Clone(),
		},
	}
}

// Name returns StepName.
func (s *Step) Name() string {
	return StepName
}

// RunID identifies this run in logs, reports and metrics.
func (s *Step) RunID() string {
	return s.report.RunID
}

// Report returns a copy of the run report.
func (s *Step) Report() *apk.Report {
	r := s.report
	r.Outputs = slices.Clone(s.report.Outputs)
	r.Warnings = slices.Clone(s.report.Warnings)
	r.RequestedBy = s.report.RequestedBy.Clone()

	return &r
}

type stage struct {
	name string
	run  func(ctx context.Context, sink pipeline.Sink) error
}

// Execute runs the stages in order and stops at the first fatal error.
func (s *Step) Execute(ctx context.Context, sink pipeline.Sink) (err error) {
	ctx = logger.WithKV(logger.WithName(ctx, "patch-step"), "run_id", s.report.RunID)

	if sink == nil {
		sink = pipeline.Discard
	}

	started := s.deps.Now()
	s.report.StartedAt = started

	defer func() {
		s.report.FinishedAt = s.deps.Now()

		outcome := metrics.OutcomeSuccess
		if err != nil {
			outcome = metrics.OutcomeFailure
			s.report.Error = err.Error()
		}

		s.deps.Metrics.ObserveRun(s.report.Mode, outcome, s.report.FinishedAt.Sub(started))
	}()

	if err = s.req.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	if s.req.Repackage && s.deps.Repackager == nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, errNoRepackager)
	}

	logger.InfoKV(ctx, "Starting patch step",
		"source", s.req.SourceDir,
		"output", s.req.OutputDir,
		"mode", s.report.Mode,
		"signing", s.req.Signing.String())

	outputMarker := marker.New(s.req.OutputDir, s.deps.MarkerLifetime)

	defer func() {
		if releaseErr := outputMarker.Release(ctx); releaseErr != nil {
			logger.WarnKV(ctx, "Failed to release output marker", "error", releaseErr)
		}
	}()

	stages := []stage{
		{"clean", func(ctx context.Context, sink pipeline.Sink) error { return s.clean(ctx, sink, outputMarker) }},
		{"discover", s.discover},
		{"manifest", s.patchManifest},
		{"output", s.produce},
		{"verify", s.verify},
	}

	for _, st := range stages {
		stageStarted := s.deps.Now()
		err = st.run(ctx, sink)

		outcome := metrics.OutcomeSuccess
		if err != nil {
			outcome = metrics.OutcomeFailure
		}

		s.deps.Metrics.ObserveStage(st.name, outcome, s.deps.Now().Sub(stageStarted))

		if err != nil {
			logger.ErrorKV(ctx, "Patch stage failed", "stage", st.name, "error", err)
			return fmt.Errorf("%s: %w", st.name, err)
		}
	}

	logger.InfoKV(ctx, "Patch step finished", "outputs", len(s.report.Outputs))

	return nil
}
