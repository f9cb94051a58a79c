package integration

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/apk-patcher/internal/manifest"
	"github.com/oshokin/apk-patcher/internal/manifest/manifesttest"
)

const oldMapsKey = "AIza-old"

// workspace is a source/output directory pair under one temp dir.
type workspace struct {
	root   string
	source string
	output string
}

// newWorkspace creates a source directory with a base container and one split.
func newWorkspace(t *testing.T) *workspace {
	t.Helper()

	root := t.TempDir()
	ws := &workspace{
		root:   root,
		source: filepath.Join(root, "source"),
		output: filepath.Join(root, "output"),
	}
	require.NoError(t, os.MkdirAll(ws.source, 0o755))

	base := manifesttest.Manifest{
		Package:     "com.example.maps",
		Permissions: []string{"android.permission.INTERNET", manifest.PermissionWriteExternalStorage},
		Metadata:    []manifesttest.KV{{Name: manifest.MapsAPIKeyName, Value: oldMapsKey}},
	}
	manifesttest.WriteContainer(t, filepath.Join(ws.source, "base.apk"), base.Bytes(t),
		manifesttest.Entry{Name: "classes.dex", Data: []byte("dex")})

	split := manifesttest.Manifest{Package: "com.example.maps", NoApplication: true}
	manifesttest.WriteContainer(t, filepath.Join(ws.source, "split_config.arm64_v8a.apk"), split.Bytes(t))

	return ws
}

// freeAddress reserves a loopback port and releases it for the daemon.
func freeAddress(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := l.Addr().String()
	require.NoError(t, l.Close())

	return addr
}

// progress collects sink lines from concurrent writers.
type progress struct {
	mu    sync.Mutex
	lines []string
}

func (p *progress) sink(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lines = append(p.lines, line)
}

func (p *progress) contains(substr string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, line := range p.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}

	return false
}

// requirePatched checks the base container of dir carries the patched manifest.
func requirePatched(t *testing.T, dir, mapsKey string) {
	t.Helper()

	tree, err := manifest.Load(filepath.Join(dir, "base.apk"))
	require.NoError(t, err)
	require.Equal(t, []string{
		"android.permission.INTERNET",
		manifest.PermissionWriteExternalStorage,
		manifest.PermissionManageExternalStorage,
	}, tree.Permissions())

	meta, ok := tree.FindMetadata(manifest.MapsAPIKeyName)
	require.True(t, ok)

	value, ok := meta.Value()
	require.True(t, ok)
	require.Equal(t, mapsKey, value)
}
