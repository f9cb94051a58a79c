// Package repackager invokes the external repackaging tool that injects a
// module into container files and re-signs them.
//
// The tool runs synchronously; every line it prints is classified by severity
// and forwarded to the progress sink and the log.
package repackager
