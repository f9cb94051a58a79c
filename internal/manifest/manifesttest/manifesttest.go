// Package manifesttest builds container fixtures with binary manifests for tests.
package manifesttest

import (
	"bytes"
	"os"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/apk-patcher/internal/axml"
)

const (
	attrName  uint32 = 0x01010003
	attrValue uint32 = 0x01010024
)

// Manifest describes the fixture manifest content.
type Manifest struct {
	Package     string
	Permissions []string
	// Metadata is written in order as application meta-data entries.
	Metadata []KV
	// NoApplication omits the <application> element.
	NoApplication bool
}

// KV is one meta-data entry.
type KV struct {
	Name  string
	Value string
}

// Document builds the binary XML tree for m.
func (m Manifest) Document() *axml.Document {
	pkg := &axml.Attribute{Name: "package"}
	pkg.SetString(m.Package)

	root := &axml.Element{Name: "manifest", Line: 1, Attributes: []*axml.Attribute{pkg}}
	line := uint32(2)

	for _, p := range m.Permissions {
		root.Children = append(root.Children, &axml.Element{
			Name:       "uses-permission",
			Line:       line,
			Attributes: []*axml.Attribute{stringAttr("name", attrName, p)},
		})
		line++
	}

	if !m.NoApplication {
		application := &axml.Element{Name: "application", Line: line}
		line++

		for _, kv := range m.Metadata {
			application.Children = append(application.Children, &axml.Element{
				Name: "meta-data",
				Line: line,
				Attributes: []*axml.Attribute{
					stringAttr("name", attrName, kv.Name),
					stringAttr("value", attrValue, kv.Value),
				},
			})
			line++
		}

		root.Children = append(root.Children, application)
	}

	return axml.NewDocument(root)
}

// Bytes encodes the manifest, failing the test on error.
func (m Manifest) Bytes(t testing.TB) []byte {
	t.Helper()

	data, err := m.Document().Encode()
	require.NoError(t, err)

	return data
}

// Entry is an extra container entry.
type Entry struct {
	Name   string
	Data   []byte
	Method uint16
}

// WriteContainer writes a zip at path holding the encoded manifest and extra entries.
// A nil manifest writes no manifest entry at all.
func WriteContainer(t testing.TB, path string, manifest []byte, extra ...Entry) {
	t.Helper()

	var buf bytes.Buffer

	w := zip.NewWriter(&buf)

	if manifest != nil {
		writeEntry(t, w, Entry{Name: "AndroidManifest.xml", Data: manifest, Method: zip.Deflate})
	}

	for _, e := range extra {
		writeEntry(t, w, e)
	}

	require.NoError(t, w.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

// ReadEntries returns the uncompressed entries of the container at path, in archive order.
func ReadEntries(t testing.TB, path string) []Entry {
	t.Helper()

	r, err := zip.OpenReader(path)
	require.NoError(t, err)

	defer r.Close()

	entries := make([]Entry, 0, len(r.File))

	for _, f := range r.File {
		rc, err := f.Open()
		require.NoError(t, err)

		var data bytes.Buffer

		_, err = data.ReadFrom(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())

		entries = append(entries, Entry{Name: f.Name, Data: data.Bytes(), Method: f.Method})
	}

	return entries
}

func writeEntry(t testing.TB, w *zip.Writer, e Entry) {
	t.Helper()

	fw, err := w.CreateHeader(&zip.FileHeader{Name: e.Name, Method: e.Method})
	require.NoError(t, err)

	_, err = fw.Write(e.Data)
	require.NoError(t, err)
}

func stringAttr(name string, id uint32, value string) *axml.Attribute {
	attr := &axml.Attribute{Namespace: axml.AndroidNamespace, Name: name, ResourceID: id}
	attr.SetString(value)

	return attr
}
