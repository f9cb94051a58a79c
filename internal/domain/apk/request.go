package apk

import (
	"errors"
	"fmt"
	"path/filepath"
)

const (
	// PlaceholderStorePassword is the keystore password used by non-production configurations.
	PlaceholderStorePassword = "password"
	// PlaceholderAlias is the key alias used by non-production configurations.
	PlaceholderAlias = "alias"
	// PlaceholderKeyPassword is the key password used by non-production configurations.
	PlaceholderKeyPassword = "password"
)

var (
	errSourceRequired   = errors.New("source directory must be provided")
	errOutputRequired   = errors.New("output directory must be provided")
	errSameDirectories  = errors.New("source and output directories must differ")
	errKeyStoreRequired = errors.New("keystore must be provided when repackaging")
)

// Signing is the three-part signing credential plus the keystore location.
type Signing struct {
	KeyStore      string
	StorePassword string
	Alias         string
	KeyPassword   string
}

// WithPlaceholders fills empty secrets with the non-production placeholders.
func (s Signing) WithPlaceholders() Signing {
	if s.StorePassword == "" {
		s.StorePassword = PlaceholderStorePassword
	}

	if s.Alias == "" {
		s.Alias = PlaceholderAlias
	}

	if s.KeyPassword == "" {
		s.KeyPassword = PlaceholderKeyPassword
	}

	return s
}

// String never prints the passwords.
func (s Signing) String() string {
	return fmt.Sprintf("keystore=%s alias=%s", s.KeyStore, s.Alias)
}

// PatchRequest is the immutable input of one patch run.
type PatchRequest struct {
	// SourceDir holds the unpacked container files.
	SourceDir string
	// OutputDir receives the copied or repackaged containers. It is cleaned first.
	OutputDir string
	// ModFile is the payload injected by the repackaging tool.
	ModFile string
	// Signing is the material handed to the repackaging tool.
	Signing Signing
	// MapsAPIKey, when set, enables the manifest patch and replaces the maps key value.
	MapsAPIKey *string
	// Repackage selects repackaging; false copies the inputs through unmodified.
	Repackage bool
	// RequestedBy identifies the requester for the report, optional.
	RequestedBy *Actor
}

// Mode names the output mode for logs and metrics.
func (r *PatchRequest) Mode() string {
	if r.Repackage {
		return "repackage"
	}

	return "copy"
}

// Validate checks the request for missing or conflicting fields.
func (r *PatchRequest) Validate() error {
	if r.SourceDir == "" {
		return errSourceRequired
	}

	if r.OutputDir == "" {
		return errOutputRequired
	}

	if filepath.Clean(r.SourceDir) == filepath.Clean(r.OutputDir) {
		return errSameDirectories
	}

	if r.Repackage && r.Signing.KeyStore == "" {
		return errKeyStoreRequired
	}

	return nil
}
