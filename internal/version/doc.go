// Package version exposes build metadata for apk-patcher and apk-patchd.
//
// Version, Commit and BuildTime are injected with -ldflags "-X" at build time.
package version
