// Package axml decodes and encodes Android binary XML (the ResXMLTree chunk
// format used for AndroidManifest.xml inside APK files).
//
// Decode resolves every string pool reference into Go strings, so callers
// edit a plain element tree and never deal with pool indices. Encode rebuilds
// the string pool and resource map from the tree: attribute names that carry
// a resource ID are placed first, in resource map order, followed by the
// remaining strings in their original order.
package axml
