package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/apk-patcher/internal/config"
	"github.com/oshokin/apk-patcher/internal/domain/apk"
)

// DefaultFileName is used when a report is written next to the output directory.
const DefaultFileName = "apk-patcher-report.yaml"

// ErrNotFound is returned when no report has been written yet.
var ErrNotFound = errors.New("report not found")

// Repository defines persistence operations for run reports.
type Repository interface {
	Load(ctx context.Context) (*apk.Report, error)
	Save(ctx context.Context, report *apk.Report) error
}

// FileRepository persists a report to a YAML file.
type FileRepository struct {
	// path is the filesystem location of the report file.
	path string
	// mu protects concurrent access to the report file.
	mu sync.Mutex
}

// NewFileRepository creates a repository that reads/writes YAML at path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// PathFor returns the default report location for an output directory: a
// sibling file, so cleaning the output directory never deletes it.
func PathFor(outputDir string) string {
	clean := filepath.Clean(outputDir)
	return filepath.Join(filepath.Dir(clean), filepath.Base(clean)+"-"+DefaultFileName)
}

// Path returns the report file path.
func (r *FileRepository) Path() string {
	return r.path
}

// Load reads the report from disk.
func (r *FileRepository) Load(_ context.Context) (*apk.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read report file: %w", err)
	}

	var report apk.Report
	if err = yaml.Unmarshal(contents, &report); err != nil {
		return nil, fmt.Errorf("decode report file: %w", err)
	}

	return &report, nil
}

// Save writes the report to disk, creating the parent directory if needed.
func (r *FileRepository) Save(_ context.Context, report *apk.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := yaml.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	if err = os.MkdirAll(filepath.Dir(r.path), config.DefaultDirPermissions); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}

	if err = os.WriteFile(r.path, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write report file: %w", err)
	}

	return nil
}
