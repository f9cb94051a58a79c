// Package apk contains the domain types of a patch run.
//
// It defines Member and ArtifactSet (the container files of one logical
// install), PatchRequest (the immutable input of a run), Signing material,
// and Report (what ended up in the output directory).
package apk
