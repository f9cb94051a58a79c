// Package common holds helpers shared by several services.
//
// It provides the apk-patchd gRPC client wrapper (health check and streamed
// patch runs) and detection of the current system actor for run reports.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
