package patcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/apk-patcher/internal/domain/apk"
	"github.com/oshokin/apk-patcher/internal/manifest"
	"github.com/oshokin/apk-patcher/internal/manifest/manifesttest"
	"github.com/oshokin/apk-patcher/internal/pipeline"
	"github.com/oshokin/apk-patcher/internal/repackager"
	"github.com/oshokin/apk-patcher/internal/repository/marker"
)

// lines collects progress lines from any goroutine.
type lines struct {
	mu   sync.Mutex
	list []string
}

func (l *lines) sink(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.list = append(l.list, line)
}

func (l *lines) contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, line := range l.list {
		if strings.Contains(line, substr) {
			return true
		}
	}

	return false
}

// recorder is a metrics.Recorder keeping the last observations.
type recorder struct {
	mu       sync.Mutex
	runs     []string
	stages   []string
	manifest []string
	bytes    int64
}

func (r *recorder) ObserveRun(mode, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.runs = append(r.runs, mode+"/"+outcome)
}

func (r *recorder) ObserveStage(stage, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stages = append(r.stages, stage+"/"+outcome)
}

func (r *recorder) IncManifestPatch(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.manifest = append(r.manifest, outcome)
}

func (r *recorder) AddOutputBytes(_ string, n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bytes += n
}

type workspace struct {
	source string
	output string
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()

	root := t.TempDir()
	ws := workspace{source: filepath.Join(root, "in"), output: filepath.Join(root, "out")}
	require.NoError(t, os.MkdirAll(ws.source, 0o755))

	return ws
}

func (ws workspace) addContainer(t *testing.T, name string, m manifesttest.Manifest) string {
	t.Helper()

	path := filepath.Join(ws.source, name)
	manifesttest.WriteContainer(t, path, m.Bytes(t),
		manifesttest.Entry{Name: "classes.dex", Data: []byte("dex of " + name)})

	return path
}

func (ws workspace) request(key *string) *apk.PatchRequest {
	return &apk.PatchRequest{SourceDir: ws.source, OutputDir: ws.output, MapsAPIKey: key}
}

func basicManifest(meta ...manifesttest.KV) manifesttest.Manifest {
	return manifesttest.Manifest{
		Package:     "com.example.maps",
		Permissions: []string{"android.permission.INTERNET", "android.permission.ACCESS_FINE_LOCATION"},
		Metadata:    meta,
	}
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return data
}

func outputNames(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}

	return names
}

func ptr(s string) *string { return &s }

// TestStep_NoInputArtifacts verifies an empty source fails with ErrNoInputArtifacts and leaves the output empty.
func TestStep_NoInputArtifacts(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(ws.source, "empty.apk"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ws.source, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(ws.output, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ws.output, "stale.apk"), []byte("old"), 0o644))

	rec := new(recorder)
	step := NewStep(ws.request(nil), Deps{Metrics: rec})

	err := step.Execute(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoInputArtifacts)
	require.ErrorIs(t, err, apk.ErrNoArtifacts)
	require.Empty(t, outputNames(t, ws.output))
	require.Equal(t, []string{"copy/failure"}, rec.runs)
	require.Equal(t, []string{"clean/success", "discover/failure"}, rec.stages)
	require.NotEmpty(t, step.Report().Error)
}

// TestStep_MissingSourceDir verifies a source directory that does not exist counts as no input.
func TestStep_MissingSourceDir(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	req := ws.request(nil)
	req.SourceDir = filepath.Join(ws.source, "missing")

	err := NewStep(req, Deps{}).Execute(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoInputArtifacts)
	require.ErrorIs(t, err, os.ErrNotExist)
	require.Empty(t, outputNames(t, ws.output))
}

// TestStep_CopyThrough verifies N inputs produce N byte-identical outputs.
func TestStep_CopyThrough(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	names := []string{"base.apk", "split_config.arm64_v8a.apk", "split_config.en.apk"}

	for _, name := range names {
		ws.addContainer(t, name, basicManifest())
	}

	rec := new(recorder)

	var progress lines

	step := NewStep(ws.request(nil), Deps{Metrics: rec})
	require.NoError(t, step.Execute(context.Background(), progress.sink))

	require.Equal(t, names, outputNames(t, ws.output))

	for _, name := range names {
		require.Equal(t, readFile(t, filepath.Join(ws.source, name)), readFile(t, filepath.Join(ws.output, name)))
	}

	report := step.Report()
	require.Len(t, report.Outputs, 3)
	require.Equal(t, "base.apk", report.Outputs[0].Name)
	require.Len(t, report.Outputs[0].Checksum, 128)
	require.False(t, report.ManifestPatched)
	require.Equal(t, []string{"skipped"}, rec.manifest)
	require.Equal(t, []string{"copy/success"}, rec.runs)
	require.Positive(t, rec.bytes)
	require.True(t, progress.contains("1. base.apk ("))
	require.True(t, progress.contains("No maps API key requested"))
}

// TestStep_ReplacesMapsKey verifies OLD becomes NEW, permissions are toggled and other metadata is kept.
func TestStep_ReplacesMapsKey(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	m := basicManifest(
		manifesttest.KV{Name: "com.example.flag", Value: "on"},
		manifesttest.KV{Name: manifest.MapsAPIKeyName, Value: "OLD"},
	)
	m.Permissions = append(m.Permissions, manifest.PermissionWriteExternalStorage)
	base := ws.addContainer(t, "base.apk", m)

	rec := new(recorder)
	step := NewStep(ws.request(ptr("NEW")), Deps{Metrics: rec})
	require.NoError(t, step.Execute(context.Background(), nil))
	require.True(t, step.Report().ManifestPatched)
	require.Equal(t, []string{"success"}, rec.manifest)

	for _, path := range []string{base, filepath.Join(ws.output, "base.apk")} {
		tree, err := manifest.Load(path)
		require.NoError(t, err)

		meta, ok := tree.FindMetadata(manifest.MapsAPIKeyName)
		require.True(t, ok)

		value, _ := meta.Value()
		require.Equal(t, "NEW", value)

		flag, ok := tree.FindMetadata("com.example.flag")
		require.True(t, ok)

		value, _ = flag.Value()
		require.Equal(t, "on", value)

		count := 0

		for _, p := range tree.Permissions() {
			if p == manifest.PermissionWriteExternalStorage {
				count++
			}
		}

		require.Equal(t, 1, count)
		require.True(t, tree.HasPermission(manifest.PermissionManageExternalStorage))
	}
}

// TestStep_PermissionToggleWithoutPriorEntry verifies the write permission is added when it was absent.
func TestStep_PermissionToggleWithoutPriorEntry(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	base := ws.addContainer(t, "base.apk", basicManifest(manifesttest.KV{Name: manifest.MapsAPIKeyName, Value: "OLD"}))

	require.NoError(t, NewStep(ws.request(ptr("NEW")), Deps{}).Execute(context.Background(), nil))

	tree, err := manifest.Load(base)
	require.NoError(t, err)
	require.Equal(t, []string{
		"android.permission.INTERNET",
		"android.permission.ACCESS_FINE_LOCATION",
		manifest.PermissionWriteExternalStorage,
		manifest.PermissionManageExternalStorage,
	}, tree.Permissions())
}

// TestStep_MissingMapsKeyLeavesManifest reproduces the base+split scenario without a maps key entry:
// the run succeeds, nothing is saved and both outputs equal the inputs.
func TestStep_MissingMapsKeyLeavesManifest(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	base := ws.addContainer(t, "base.apk", basicManifest())
	split := ws.addContainer(t, "split.apk", basicManifest())
	original := readFile(t, base)

	rec := new(recorder)

	var progress lines

	step := NewStep(ws.request(ptr("AIzaXYZ")), Deps{Metrics: rec})
	require.NoError(t, step.Execute(context.Background(), progress.sink))

	require.Equal(t, original, readFile(t, base), "no save when the key is missing")
	require.Equal(t, []string{"base.apk", "split.apk"}, outputNames(t, ws.output))
	require.Equal(t, original, readFile(t, filepath.Join(ws.output, "base.apk")))
	require.Equal(t, readFile(t, split), readFile(t, filepath.Join(ws.output, "split.apk")))
	require.True(t, progress.contains("not found"))
	require.False(t, step.Report().ManifestPatched)
	require.Equal(t, "base.apk", step.Report().BaseMember)
	require.Equal(t, []string{"skipped"}, rec.manifest)
}

// TestStep_ManifestFailureIsAbsorbed verifies a corrupt base manifest never fails the run.
func TestStep_ManifestFailureIsAbsorbed(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(ws.source, "base.apk"), []byte("not a zip"), 0o644))

	rec := new(recorder)

	var progress lines

	step := NewStep(ws.request(ptr("KEY")), Deps{Metrics: rec})
	require.NoError(t, step.Execute(context.Background(), progress.sink))

	require.Equal(t, []string{"base.apk"}, outputNames(t, ws.output))
	require.Equal(t, []string{"failure"}, rec.manifest)
	require.True(t, progress.contains("Manifest patch failed"))
	require.Len(t, step.Report().Warnings, 1)
}

// TestStep_BaseFallbackWarns verifies the first member is patched with a warning when no base.apk exists.
func TestStep_BaseFallbackWarns(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	first := ws.addContainer(t, "app.apk", basicManifest(manifesttest.KV{Name: manifest.MapsAPIKeyName, Value: "OLD"}))
	ws.addContainer(t, "other.apk", basicManifest())

	var progress lines

	step := NewStep(ws.request(ptr("NEW")), Deps{})
	require.NoError(t, step.Execute(context.Background(), progress.sink))
	require.True(t, progress.contains("WARNING: no member named base.apk"))
	require.Equal(t, "app.apk", step.Report().BaseMember)
	require.NotEmpty(t, step.Report().Warnings)

	tree, err := manifest.Load(first)
	require.NoError(t, err)

	meta, _ := tree.FindMetadata(manifest.MapsAPIKeyName)
	value, _ := meta.Value()
	require.Equal(t, "NEW", value)
}

// TestStep_Repackage verifies the tool receives every input and the placeholder secrets.
func TestStep_Repackage(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	ws.addContainer(t, "base.apk", basicManifest())
	ws.addContainer(t, "split.apk", basicManifest())

	var seen *repackager.Invocation

	tool := repackager.Func(func(_ context.Context, inv *repackager.Invocation, sink pipeline.Sink) error {
		seen = inv
		sink("INFO: patching")

		for _, input := range inv.Inputs {
			data, err := os.ReadFile(input)
			if err != nil {
				return err
			}

			if err = os.WriteFile(filepath.Join(inv.OutputDir, filepath.Base(input)), append(data, 'x'), 0o644); err != nil {
				return err
			}
		}

		return nil
	})

	req := ws.request(nil)
	req.Repackage = true
	req.ModFile = "/mods/module.apk"
	req.Signing = apk.Signing{KeyStore: "/keys/test.jks"}

	var progress lines

	step := NewStep(req, Deps{Repackager: tool, Tool: ToolOptions{Force: true}})
	require.NoError(t, step.Execute(context.Background(), progress.sink))

	require.Equal(t, []string{filepath.Join(ws.source, "base.apk"), filepath.Join(ws.source, "split.apk")}, seen.Inputs)
	require.Equal(t, apk.PlaceholderStorePassword, seen.Signing.StorePassword)
	require.Equal(t, apk.PlaceholderAlias, seen.Signing.Alias)
	require.Equal(t, apk.PlaceholderKeyPassword, seen.Signing.KeyPassword)
	require.Equal(t, repackager.DefaultLogLevel, seen.LogLevel)
	require.True(t, seen.Force)
	require.True(t, progress.contains("INFO: patching"))
	require.Len(t, step.Report().Outputs, 2)
	require.Equal(t, "repackage", step.Report().Mode)
}

// TestStep_RepackagingFailure verifies a tool failure is surfaced and verification never passes.
func TestStep_RepackagingFailure(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	ws.addContainer(t, "base.apk", basicManifest())

	rec := new(recorder)
	req := ws.request(nil)
	req.Repackage = true
	req.Signing = apk.Signing{KeyStore: "/keys/test.jks"}

	tool := repackager.Func(func(context.Context, *repackager.Invocation, pipeline.Sink) error {
		return &repackager.Error{ExitCode: 1, Tail: []string{"ERROR: signing failed"}}
	})

	step := NewStep(req, Deps{Repackager: tool, Metrics: rec})
	err := step.Execute(context.Background(), nil)
	require.ErrorIs(t, err, repackager.ErrRepackagingFailed)

	var toolErr *repackager.Error
	require.ErrorAs(t, err, &toolErr)
	require.Equal(t, []string{"ERROR: signing failed"}, toolErr.Tail)
	require.Empty(t, step.Report().Outputs)
	require.NotContains(t, rec.stages, "verify/success")
	require.Contains(t, rec.stages, "output/failure")

	plain := repackager.Func(func(context.Context, *repackager.Invocation, pipeline.Sink) error {
		return errors.New("jvm crashed")
	})

	err = NewStep(req, Deps{Repackager: plain}).Execute(context.Background(), nil)
	require.ErrorIs(t, err, repackager.ErrRepackagingFailed)
}

// TestStep_RepackageWithoutOutputs verifies an empty output after repackaging fails verification.
func TestStep_RepackageWithoutOutputs(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	ws.addContainer(t, "base.apk", basicManifest())

	req := ws.request(nil)
	req.Repackage = true
	req.Signing = apk.Signing{KeyStore: "/keys/test.jks"}

	tool := repackager.Func(func(context.Context, *repackager.Invocation, pipeline.Sink) error { return nil })

	err := NewStep(req, Deps{Repackager: tool}).Execute(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoOutputArtifacts)
}

// TestStep_InvalidRequest verifies request validation happens before any stage.
func TestStep_InvalidRequest(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)

	err := NewStep(&apk.PatchRequest{SourceDir: ws.source, OutputDir: ws.source}, Deps{}).
		Execute(context.Background(), nil)
	require.ErrorIs(t, err, ErrInvalidRequest)

	req := ws.request(nil)
	req.Repackage = true
	req.Signing.KeyStore = "/keys/test.jks"

	err = NewStep(req, Deps{}).Execute(context.Background(), nil)
	require.ErrorIs(t, err, ErrInvalidRequest)
	require.NoDirExists(t, ws.output)
}

// TestStep_BusyOutput verifies a second run on an owned output directory is rejected.
func TestStep_BusyOutput(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	ws.addContainer(t, "base.apk", basicManifest())
	require.NoError(t, os.MkdirAll(ws.output, 0o755))

	owner := marker.New(ws.output, time.Hour)
	require.NoError(t, owner.Acquire(context.Background()))

	err := NewStep(ws.request(nil), Deps{}).Execute(context.Background(), nil)
	require.ErrorIs(t, err, marker.ErrBusy)
	require.FileExists(t, owner.Path())
}

// TestStep_ThroughRunner verifies the step runs under the pipeline runner with prefixed lines.
func TestStep_ThroughRunner(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	ws.addContainer(t, "base.apk", basicManifest())

	var progress lines

	step := NewStep(ws.request(nil), Deps{})
	require.NoError(t, pipeline.NewRunner(progress.sink).Run(context.Background(), step))
	require.True(t, progress.contains("[1/1] patch: Found 1 APK files"))
	require.NotEmpty(t, step.RunID())
}
