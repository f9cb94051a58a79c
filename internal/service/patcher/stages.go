package patcher

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	goupdate "github.com/doitdistributed/go-update"
	"golang.org/x/sync/errgroup"

	"github.com/oshokin/apk-patcher/internal/config"
	"github.com/oshokin/apk-patcher/internal/domain/apk"
	"github.com/oshokin/apk-patcher/internal/logger"
	"github.com/oshokin/apk-patcher/internal/manifest"
	"github.com/oshokin/apk-patcher/internal/metrics"
	"github.com/oshokin/apk-patcher/internal/pipeline"
	"github.com/oshokin/apk-patcher/internal/repackager"
	"github.com/oshokin/apk-patcher/internal/repository/marker"
	"github.com/oshokin/apk-patcher/internal/task"
)

// clean empties the output directory, creating it when missing.
func (s *Step) clean(ctx context.Context, sink pipeline.Sink, outputMarker *marker.Marker) error {
	logger.Printf(sink, "Cleaning output directory %s", s.req.OutputDir)

	if err := os.MkdirAll(s.req.OutputDir, config.DefaultDirPermissions); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	if err := outputMarker.Acquire(ctx); err != nil {
		return err
	}

	entries, err := os.ReadDir(s.req.OutputDir)
	if err != nil {
		return fmt.Errorf("read output directory: %w", err)
	}

	removed := 0

	for _, entry := range entries {
		if marker.IsMarker(entry.Name()) {
			continue
		}

		err = os.RemoveAll(filepath.Join(s.req.OutputDir, entry.Name()))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", entry.Name(), err)
		}

		removed++
	}

	logger.Printf(sink, "Output directory cleaned, %d entries removed", removed)

	return nil
}

// discover lists the source containers.
func (s *Step) discover(_ context.Context, sink pipeline.Sink) error {
	logger.Printf(sink, "Looking for APK files in %s", s.req.SourceDir)

	set, err := apk.Discover(s.req.SourceDir, s.deps.BaseName)
	if err != nil {
		// A missing source directory holds no artifacts either.
		if errors.Is(err, apk.ErrNoArtifacts) || errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %w", ErrNoInputArtifacts, err)
		}

		return err
	}

	s.artifacts = set

	logger.Printf(sink, "Found %d APK files", len(set.Members))

	for _, m := range set.Members {
		logger.Printf(sink, "%s (%s, %s)", m.Name, m.Role, formatSize(m.Size))
	}

	return nil
}

// patchManifest edits the base manifest when a maps API key was requested.
// Failures are reported and swallowed: the edit is an enhancement, not a precondition.
func (s *Step) patchManifest(ctx context.Context, sink pipeline.Sink) error {
	if s.req.MapsAPIKey == nil {
		sink("No maps API key requested, manifest left as is")
		s.deps.Metrics.IncManifestPatch(metrics.OutcomeSkipped)

		return nil
	}

	if err := s.applyManifestPatch(ctx, sink); err != nil {
		logger.WarnKV(ctx, "Manifest patch failed", "error", err)
		logger.Printf(sink, "Manifest patch failed, continuing without it: %v", err)
		s.report.Warn("manifest patch failed: " + err.Error())
		s.deps.Metrics.IncManifestPatch(metrics.OutcomeFailure)

		return nil
	}

	outcome := metrics.OutcomeSkipped
	if s.report.ManifestPatched {
		outcome = metrics.OutcomeSuccess
	}

	s.deps.Metrics.IncManifestPatch(outcome)

	return nil
}

func (s *Step) applyManifestPatch(ctx context.Context, sink pipeline.Sink) error {
	base, matched := s.artifacts.Base()
	if !matched {
		warning := fmt.Sprintf("no member named %s, patching the first member %s", s.deps.BaseName, base.Name)
		logger.Warn(ctx, warning)
		sink("WARNING: " + warning)
		s.report.Warn(warning)
	}

	s.report.BaseMember = base.Name
	logger.Printf(sink, "Patching manifest of %s", base.Name)

	tree, err := manifest.Load(base.Path)
	if err != nil {
		return err
	}

	tree.RemovePermission(manifest.PermissionWriteExternalStorage)
	tree.AddPermission(manifest.PermissionWriteExternalStorage)
	tree.AddPermission(manifest.PermissionManageExternalStorage)
	sink("Storage permissions requested")

	meta, found := tree.FindMetadata(manifest.MapsAPIKeyName)
	if !found {
		logger.Printf(sink, "Metadata %s not found, manifest not saved", manifest.MapsAPIKeyName)
		return nil
	}

	tree.SetMetadataValue(meta, *s.req.MapsAPIKey)

	if err = tree.Save(base.Path); err != nil {
		return err
	}

	s.report.ManifestPatched = true
	logger.Printf(sink, "Manifest of %s saved with the new maps API key", base.Name)

	return nil
}

// produce copies the containers through or repackages them.
func (s *Step) produce(ctx context.Context, sink pipeline.Sink) error {
	if s.req.Repackage {
		return s.repackage(ctx, sink)
	}

	return s.copyThrough(ctx, sink)
}

func (s *Step) copyThrough(ctx context.Context, sink pipeline.Sink) error {
	logger.Printf(sink, "Copying %d APK files to %s", len(s.artifacts.Members), s.req.OutputDir)

	for _, m := range s.artifacts.Members {
		if err := ctx.Err(); err != nil {
			return err
		}

		target := filepath.Join(s.req.OutputDir, m.Name)
		if err := copyFile(m.Path, target); err != nil {
			return fmt.Errorf("copy %s: %w", m.Name, err)
		}

		logger.Printf(sink, "Copied %s", m.Name)
	}

	outputs, err := listOutputs(s.req.OutputDir)
	if err != nil {
		return err
	}

	if len(outputs) == 0 {
		return ErrNoOutputArtifacts
	}

	return nil
}

// repackage runs the tool on its own goroutine and waits for it to finish.
// The tool sees ctx cancellation; the wait itself is not cancellable.
func (s *Step) repackage(ctx context.Context, sink pipeline.Sink) error {
	outputDir, err := filepath.Abs(s.req.OutputDir)
	if err != nil {
		return err
	}

	inv := &repackager.Invocation{
		Inputs:    s.artifacts.Paths(),
		OutputDir: outputDir,
		ModFile:   s.req.ModFile,
		Signing:   s.req.Signing.WithPlaceholders(),
		LogLevel:  s.deps.Tool.LogLevel,
		Force:     s.deps.Tool.Force,
		Verbose:   s.deps.Tool.Verbose,
	}

	logger.Printf(sink, "Repackaging %d APK files", len(inv.Inputs))

	handle := task.Go(ctx, "repackage", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.deps.Repackager.Repackage(ctx, inv, sink)
	})

	if _, err = handle.Wait(context.WithoutCancel(ctx)); err != nil {
		if !errors.Is(err, repackager.ErrRepackagingFailed) {
			err = &repackager.Error{ExitCode: -1, Err: err}
		}

		return err
	}

	sink("Repackaging finished")

	return nil
}

// verify lists the output containers and records them in the report.
func (s *Step) verify(ctx context.Context, sink pipeline.Sink) error {
	sink("Verifying output directory")

	outputs, err := listOutputs(s.req.OutputDir)
	if err != nil {
		return err
	}

	if len(outputs) == 0 {
		return ErrNoOutputArtifacts
	}

	group, _ := errgroup.WithContext(ctx)
	group.SetLimit(runtime.GOMAXPROCS(0))

	for i := range outputs {
		out := &outputs[i]

		group.Go(func() error {
			sum, err := fileChecksum(filepath.Join(s.req.OutputDir, out.Name))
			if err != nil {
				return fmt.Errorf("checksum %s: %w", out.Name, err)
			}

			out.Checksum = hex.EncodeToString(sum)

			return nil
		})
	}

	if err = group.Wait(); err != nil {
		return err
	}

	var total int64

	for i, out := range outputs {
		logger.Printf(sink, "%d. %s (%s)", i+1, out.Name, formatSize(out.Size))
		total += out.Size
	}

	s.report.Outputs = outputs
	s.deps.Metrics.AddOutputBytes(s.report.Mode, total)
	logger.Printf(sink, "%d APK files ready in %s", len(outputs), s.req.OutputDir)

	return nil
}

// listOutputs returns the containers of dir sorted by name.
func listOutputs(dir string) ([]apk.OutputArtifact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read output directory: %w", err)
	}

	var outputs []apk.OutputArtifact

	for _, entry := range entries {
		if !entry.Type().IsRegular() || !apk.IsContainer(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}

		outputs = append(outputs, apk.OutputArtifact{Name: entry.Name(), Size: info.Size()})
	}

	sort.Slice(outputs, func(i, j int) bool { return outputs[i].Name < outputs[j].Name })

	return outputs, nil
}

// copyFile copies src to dst through go-update so a partially written file never
// appears under the final name.
func copyFile(src, dst string) error {
	sum, err := fileChecksum(src)
	if err != nil {
		return err
	}

	source, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}
	defer source.Close()

	info, err := source.Stat()
	if err != nil {
		return err
	}

	if _, err = os.Stat(dst); errors.Is(err, os.ErrNotExist) {
		var target *os.File

		if target, err = os.Create(dst); err != nil {
			return err
		}

		if err = target.Close(); err != nil {
			return err
		}
	}

	options := goupdate.Options{
		TargetPath: dst,
		TargetMode: info.Mode().Perm(),
		Checksum:   sum,
		Hash:       manifest.ChecksumFunction,
	}

	return goupdate.Apply(source, options)
}

func fileChecksum(path string) ([]byte, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	hasher := manifest.ChecksumFunction.New()
	if _, err = io.Copy(hasher, file); err != nil {
		return nil, err
	}

	return hasher.Sum(nil), nil
}

func formatSize(size int64) string {
	return fmt.Sprintf("%dKB", size/1024)
}
