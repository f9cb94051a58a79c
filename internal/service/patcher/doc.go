// Package patcher implements the patch step of the installation pipeline.
//
// The step cleans the output directory, discovers the source containers,
// optionally patches the base manifest (storage permissions and the maps API
// key), then either copies the containers through or hands them to the
// repackaging tool, and finally verifies the output.
//
// Run is the command-line entry point; it drives the step locally or sends the
// request to apk-patchd.
package patcher
