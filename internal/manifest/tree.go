package manifest

import (
	"bytes"
	"crypto"
	"fmt"
	"io"
	"os"

	goupdate "github.com/doitdistributed/go-update"
	"github.com/klauspost/compress/zip"

	"github.com/oshokin/apk-patcher/internal/axml"
)

const (
	// EntryName is the manifest path inside a container.
	EntryName = "AndroidManifest.xml"
	// AndroidNamespace is the namespace of framework attributes.
	AndroidNamespace = axml.AndroidNamespace

	// PermissionWriteExternalStorage is the legacy shared storage write permission.
	PermissionWriteExternalStorage = "android.permission.WRITE_EXTERNAL_STORAGE"
	// PermissionManageExternalStorage is the all-files access permission.
	PermissionManageExternalStorage = "android.permission.MANAGE_EXTERNAL_STORAGE"
	// MapsAPIKeyName is the meta-data key holding the maps API key.
	MapsAPIKeyName = "com.google.android.geo.API_KEY"

	// DefaultFileMode is applied to containers rewritten by Save.
	DefaultFileMode os.FileMode = 0o644

	attrName  uint32 = 0x01010003
	attrValue uint32 = 0x01010024

	elementManifest    = "manifest"
	elementApplication = "application"
	elementPermission  = "uses-permission"
	elementMetadata    = "meta-data"
)

// ChecksumFunction verifies rewritten containers before they replace the original.
const ChecksumFunction = crypto.SHA512

// Tree is an editable manifest decoded from a container.
type Tree struct {
	doc  *axml.Document
	root *axml.Element
}

// Metadata is a located application meta-data element.
type Metadata struct {
	element *axml.Element
}

// Value returns the current string value, if any.
func (m *Metadata) Value() (string, bool) {
	attr, ok := m.element.Attr("value")
	if !ok {
		return "", false
	}

	return attr.StringValue()
}

// Load reads and decodes the manifest of the container at path.
func Load(path string) (*Tree, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, &FormatError{Path: path, Err: err}
	}
	defer reader.Close()

	for _, file := range reader.File {
		if file.Name != EntryName {
			continue
		}

		data, err := readEntry(file)
		if err != nil {
			return nil, &FormatError{Path: path, Err: err}
		}

		tree, err := Parse(data)
		if err != nil {
			return nil, &FormatError{Path: path, Err: err}
		}

		return tree, nil
	}

	return nil, &FormatError{Path: path, Err: errNoManifestEntry}
}

// Parse decodes a binary manifest.
func Parse(data []byte) (*Tree, error) {
	doc, err := axml.Decode(data)
	if err != nil {
		return nil, err
	}

	root, ok := doc.Root()
	if !ok || root.Name != elementManifest {
		return nil, fmt.Errorf("root element is not <%s>: %w", elementManifest, axml.ErrMalformed)
	}

	return &Tree{doc: doc, root: root}, nil
}

// Bytes encodes the edited manifest.
func (t *Tree) Bytes() ([]byte, error) {
	return t.doc.Encode()
}

// Save writes the edited manifest back into the container at path.
// Every other entry is copied with its compressed bytes untouched and the
// manifest keeps its original compression method. The container is replaced
// atomically after the new content passes a SHA-512 check.
func (t *Tree) Save(path string) error {
	encoded, err := t.Bytes()
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	content, err := rewriteContainer(path, encoded)
	if err != nil {
		return err
	}

	hash := ChecksumFunction.New()
	hash.Write(content)

	mode := DefaultFileMode
	if info, statErr := os.Stat(path); statErr == nil {
		mode = info.Mode().Perm()
	}

	options := goupdate.Options{
		TargetPath: path,
		TargetMode: mode,
		Checksum:   hash.Sum(nil),
		Hash:       ChecksumFunction,
	}

	if err = goupdate.Apply(bytes.NewReader(content), options); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}

	return nil
}

func rewriteContainer(path string, manifest []byte) ([]byte, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, &FormatError{Path: path, Err: err}
	}
	defer reader.Close()

	var (
		buf     bytes.Buffer
		writer  = zip.NewWriter(&buf)
		written bool
	)

	if comment := reader.Comment; comment != "" {
		if err = writer.SetComment(comment); err != nil {
			return nil, fmt.Errorf("copy archive comment: %w", err)
		}
	}

	for _, file := range reader.File {
		if file.Name != EntryName {
			if err = writer.Copy(file); err != nil {
				return nil, fmt.Errorf("copy entry %s: %w", file.Name, err)
			}

			continue
		}

		header := file.FileHeader
		header.CompressedSize64 = 0
		header.UncompressedSize64 = 0
		header.CRC32 = 0

		entry, err := writer.CreateHeader(&header)
		if err != nil {
			return nil, fmt.Errorf("create entry %s: %w", EntryName, err)
		}

		if _, err = entry.Write(manifest); err != nil {
			return nil, fmt.Errorf("write entry %s: %w", EntryName, err)
		}

		written = true
	}

	if !written {
		return nil, &FormatError{Path: path, Err: errNoManifestEntry}
	}

	if err = writer.Close(); err != nil {
		return nil, fmt.Errorf("finish container: %w", err)
	}

	return buf.Bytes(), nil
}

func readEntry(file *zip.File) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return io.ReadAll(rc)
}
