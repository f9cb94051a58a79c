package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/apk-patcher/internal/config"
	"github.com/oshokin/apk-patcher/internal/manifest/manifesttest"
	"github.com/oshokin/apk-patcher/internal/repository/report"
	"github.com/oshokin/apk-patcher/internal/service/patcher"
)

// TestLocalRun_PatchesAndCopies runs the whole local flow in copy mode.
func TestLocalRun_PatchesAndCopies(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)

	// Leftovers from an earlier run must disappear.
	require.NoError(t, os.MkdirAll(ws.output, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ws.output, "stale.apk"), []byte("old"), 0o600))

	settingsPath := filepath.Join(ws.root, "settings.yaml")
	require.NoError(t, config.Save(settingsPath, config.Default()))

	key := "AIza-new"

	var lines progress

	result, err := patcher.Run(context.Background(), &patcher.Options{
		ConfigPath: settingsPath,
		EnvFile:    filepath.Join(ws.root, "absent.env"),
		SourceDir:  ws.source,
		OutputDir:  ws.output,
		MapsAPIKey: &key,
		Sink:       lines.sink,
	})
	require.NoError(t, err)
	require.True(t, result.ManifestPatched)
	require.Equal(t, "base.apk", result.BaseMember)
	require.Len(t, result.Outputs, 2)

	_, err = os.Stat(filepath.Join(ws.output, "stale.apk"))
	require.ErrorIs(t, err, os.ErrNotExist)

	requirePatched(t, ws.output, key)

	// The base member is edited in place, then copied through unchanged.
	requirePatched(t, ws.source, key)

	want, err := os.ReadFile(filepath.Join(ws.source, "base.apk"))
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(ws.output, "base.apk"))
	require.NoError(t, err)
	require.Equal(t, want, got)

	entries := manifesttest.ReadEntries(t, filepath.Join(ws.output, "base.apk"))
	require.Len(t, entries, 2)
	require.Equal(t, "classes.dex", entries[1].Name)
	require.Equal(t, []byte("dex"), entries[1].Data)

	saved, err := report.NewFileRepository(report.PathFor(ws.output)).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, result.RunID, saved.RunID)
	require.Empty(t, saved.Error)
}

// TestLocalRun_WithoutKeyLeavesManifest verifies an absent key copies the containers unchanged.
func TestLocalRun_WithoutKeyLeavesManifest(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)

	settingsPath := filepath.Join(ws.root, "settings.yaml")
	require.NoError(t, config.Save(settingsPath, config.Default()))

	result, err := patcher.Run(context.Background(), &patcher.Options{
		ConfigPath: settingsPath,
		EnvFile:    filepath.Join(ws.root, "absent.env"),
		SourceDir:  ws.source,
		OutputDir:  ws.output,
	})
	require.NoError(t, err)
	require.False(t, result.ManifestPatched)

	for _, name := range []string{"base.apk", "split_config.arm64_v8a.apk"} {
		want, err := os.ReadFile(filepath.Join(ws.source, name))
		require.NoError(t, err)

		got, err := os.ReadFile(filepath.Join(ws.output, name))
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}
