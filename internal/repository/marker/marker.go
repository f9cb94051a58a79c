// Package marker guards an output directory against concurrent patch runs.
//
// The marker is a dot file inside the directory holding the owner PID. A
// marker whose owner process is gone, or an unreadable marker older than its
// lifetime, is treated as stale and replaced.
package marker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/apk-patcher/internal/logger"
)

const (
	// FileName is the marker file name inside the guarded directory.
	FileName = ".apk-patcher.lock"
	// DefaultLifetime is how long an unreadable or self-owned marker counts as live.
	DefaultLifetime = 30 * time.Minute
)

// ErrBusy is returned when another run owns the directory.
var ErrBusy = errors.New("output directory is in use by another run")

// Marker is the ownership marker of one directory.
type Marker struct {
	path     string
	lifetime time.Duration
	pid      int
	alive    func(pid int) (bool, error)
	held     bool
}

// New returns the marker of dir.
func New(dir string, lifetime time.Duration) *Marker {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}

	return &Marker{
		path:     filepath.Join(dir, FileName),
		lifetime: lifetime,
		pid:      os.Getpid(),
		alive:    processAlive,
	}
}

// Path returns the marker file path.
func (m *Marker) Path() string {
	return m.path
}

// IsMarker reports whether name is the marker file name.
func IsMarker(name string) bool {
	return name == FileName
}

// Acquire creates the marker, replacing a stale one. The directory must exist.
func (m *Marker) Acquire(ctx context.Context) error {
	for attempt := 0; attempt < 2; attempt++ {
		err := m.create()
		if err == nil {
			m.held = true
			logger.DebugKV(ctx, "Acquired output marker", "path", m.path)

			return nil
		}

		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create marker: %w", err)
		}

		stale, err := m.isStale(ctx)
		if err != nil {
			return err
		}

		if !stale {
			return fmt.Errorf("%s: %w", filepath.Dir(m.path), ErrBusy)
		}

		logger.InfoKV(ctx, "Removing stale output marker", "path", m.path)

		if err = os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale marker: %w", err)
		}
	}

	return fmt.Errorf("%s: %w", filepath.Dir(m.path), ErrBusy)
}

// Release removes the marker if this Marker holds it.
func (m *Marker) Release(ctx context.Context) error {
	if !m.held {
		return nil
	}

	m.held = false

	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove marker: %w", err)
	}

	logger.DebugKV(ctx, "Released output marker", "path", m.path)

	return nil
}

func (m *Marker) create() error {
	file, err := os.OpenFile(m.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}

	_, err = file.WriteString(strconv.Itoa(m.pid))
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}

	return err
}

func (m *Marker) isStale(ctx context.Context) (bool, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return true, nil
		}

		return false, fmt.Errorf("stat marker: %w", err)
	}

	expired := time.Since(info.ModTime()) > m.lifetime

	contents, err := os.ReadFile(m.path)
	if err != nil {
		return false, fmt.Errorf("read marker: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err != nil || pid <= 0 {
		logger.WarnKV(ctx, "Output marker is unreadable", "path", m.path, "expired", expired)
		return expired, nil
	}

	// Another run inside this process, e.g. a second daemon request.
	if pid == m.pid {
		return expired, nil
	}

	alive, err := m.alive(pid)
	if err != nil {
		logger.WarnKV(ctx, "Unable to inspect marker owner", "pid", pid, "error", err)
		return expired, nil
	}

	return !alive, nil
}

func processAlive(pid int) (bool, error) {
	process, err := ps.FindProcess(pid)
	if err != nil {
		return false, err
	}

	return process != nil, nil
}
