// Package report persists patch run reports.
//
// The FileRepository stores the last report as YAML on disk; the CLI and the
// daemon write it after every run, successful or not.
package report
