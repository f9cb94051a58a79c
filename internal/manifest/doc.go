// Package manifest edits the binary AndroidManifest.xml inside a container file.
//
// A Tree is loaded from a container, edited in memory (permissions and
// application meta-data) and saved back by rewriting the container with every
// other entry copied verbatim.
package manifest
