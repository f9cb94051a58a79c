package apk

import "time"

// OutputArtifact is one file found in the output directory after a run.
type OutputArtifact struct {
	Name     string `yaml:"name"`
	Size     int64  `yaml:"size"`
	Checksum string `yaml:"sha512"`
}

// Report summarizes one patch run.
type Report struct {
	RunID           string           `yaml:"run_id"`
	Mode            string           `yaml:"mode"`
	StartedAt       time.Time        `yaml:"started_at"`
	FinishedAt      time.Time        `yaml:"finished_at"`
	SourceDir       string           `yaml:"source_dir"`
	OutputDir       string           `yaml:"output_dir"`
	RequestedBy     *Actor           `yaml:"requested_by,omitempty"`
	BaseMember      string           `yaml:"base_member,omitempty"`
	ManifestPatched bool             `yaml:"manifest_patched"`
	Outputs         []OutputArtifact `yaml:"outputs"`
	Warnings        []string         `yaml:"warnings,omitempty"`
	Error           string           `yaml:"error,omitempty"`
}

// Warn records a non-fatal problem.
func (r *Report) Warn(message string) {
	r.Warnings = append(r.Warnings, message)
}
