package manifest_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/apk-patcher/internal/axml"
	"github.com/oshokin/apk-patcher/internal/manifest"
	"github.com/oshokin/apk-patcher/internal/manifest/manifesttest"
)

func fixture() manifesttest.Manifest {
	return manifesttest.Manifest{
		Package: "com.example.maps",
		Permissions: []string{
			"android.permission.INTERNET",
			manifest.PermissionWriteExternalStorage,
		},
		Metadata: []manifesttest.KV{
			{Name: "com.example.other", Value: "x"},
			{Name: manifest.MapsAPIKeyName, Value: "OLD_KEY"},
			{Name: manifest.MapsAPIKeyName, Value: "SHADOWED"},
		},
	}
}

func writeFixture(t *testing.T, m manifesttest.Manifest, extra ...manifesttest.Entry) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "base.apk")
	manifesttest.WriteContainer(t, path, m.Bytes(t), extra...)

	return path
}

// TestLoad_ReadsPermissionsAndMetadata verifies a loaded container exposes its manifest content.
func TestLoad_ReadsPermissionsAndMetadata(t *testing.T) {
	t.Parallel()

	tree, err := manifest.Load(writeFixture(t, fixture()))
	require.NoError(t, err)

	require.Equal(t, []string{"android.permission.INTERNET", manifest.PermissionWriteExternalStorage}, tree.Permissions())
	require.True(t, tree.HasPermission("android.permission.INTERNET"))
	require.False(t, tree.HasPermission(manifest.PermissionManageExternalStorage))

	meta, ok := tree.FindMetadata(manifest.MapsAPIKeyName)
	require.True(t, ok)

	value, ok := meta.Value()
	require.True(t, ok)
	require.Equal(t, "OLD_KEY", value, "first match in document order wins")
}

// TestLoad_FormatErrors verifies unreadable inputs surface as *FormatError.
func TestLoad_FormatErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	notZip := filepath.Join(dir, "not-zip.apk")
	require.NoError(t, os.WriteFile(notZip, []byte("definitely not a zip"), 0o644))

	noManifest := filepath.Join(dir, "no-manifest.apk")
	manifesttest.WriteContainer(t, noManifest, nil, manifesttest.Entry{Name: "classes.dex", Data: []byte("dex")})

	corrupt := filepath.Join(dir, "corrupt.apk")
	manifesttest.WriteContainer(t, corrupt, []byte{0x03, 0x00, 0x08, 0x00, 0xff, 0xff, 0x00, 0x00})

	for _, path := range []string{notZip, noManifest, corrupt, filepath.Join(dir, "missing.apk")} {
		_, err := manifest.Load(path)
		require.Error(t, err, path)
		require.ErrorIs(t, err, manifest.ErrFormat, path)

		var formatErr *manifest.FormatError
		require.True(t, errors.As(err, &formatErr), path)
		require.Equal(t, path, formatErr.Path)
	}

	_, err := manifest.Load(corrupt)
	require.ErrorIs(t, err, axml.ErrMalformed)
}

// TestRemoveThenAddPermission verifies remove-then-add leaves exactly one entry and AddPermission dedupes.
func TestRemoveThenAddPermission(t *testing.T) {
	t.Parallel()

	tree, err := manifest.Parse(fixture().Bytes(t))
	require.NoError(t, err)

	require.True(t, tree.RemovePermission(manifest.PermissionWriteExternalStorage))
	require.False(t, tree.RemovePermission(manifest.PermissionWriteExternalStorage))
	require.True(t, tree.AddPermission(manifest.PermissionWriteExternalStorage))
	require.True(t, tree.AddPermission(manifest.PermissionManageExternalStorage))
	require.False(t, tree.AddPermission(manifest.PermissionManageExternalStorage))

	require.Equal(t, []string{
		"android.permission.INTERNET",
		manifest.PermissionWriteExternalStorage,
		manifest.PermissionManageExternalStorage,
	}, tree.Permissions())
}

// TestAddPermission_NoExistingPermissions verifies a new entry lands before <application>.
func TestAddPermission_NoExistingPermissions(t *testing.T) {
	t.Parallel()

	tree, err := manifest.Parse(manifesttest.Manifest{Package: "p"}.Bytes(t))
	require.NoError(t, err)
	require.True(t, tree.AddPermission(manifest.PermissionManageExternalStorage))

	data, err := tree.Bytes()
	require.NoError(t, err)

	doc, err := axml.Decode(data)
	require.NoError(t, err)

	root, ok := doc.Root()
	require.True(t, ok)

	children := root.ChildElements()
	require.Len(t, children, 2)
	require.Equal(t, "uses-permission", children[0].Name)
	require.Equal(t, "application", children[1].Name)
}

// TestRemovePermission_RemovesDuplicates verifies every matching entry is removed.
func TestRemovePermission_RemovesDuplicates(t *testing.T) {
	t.Parallel()

	m := manifesttest.Manifest{
		Package:     "p",
		Permissions: []string{manifest.PermissionWriteExternalStorage, "a", manifest.PermissionWriteExternalStorage},
	}

	tree, err := manifest.Parse(m.Bytes(t))
	require.NoError(t, err)
	require.True(t, tree.RemovePermission(manifest.PermissionWriteExternalStorage))
	require.Equal(t, []string{"a"}, tree.Permissions())
}

// TestFindMetadata_Missing verifies absent keys and a missing <application> are reported as not found.
func TestFindMetadata_Missing(t *testing.T) {
	t.Parallel()

	tree, err := manifest.Parse(fixture().Bytes(t))
	require.NoError(t, err)

	_, ok := tree.FindMetadata("com.example.absent")
	require.False(t, ok)

	bare, err := manifest.Parse(manifesttest.Manifest{Package: "p", NoApplication: true}.Bytes(t))
	require.NoError(t, err)

	_, ok = bare.FindMetadata(manifest.MapsAPIKeyName)
	require.False(t, ok)
}

// TestSave_RewritesOnlyManifest verifies Save persists edits and leaves other entries untouched.
func TestSave_RewritesOnlyManifest(t *testing.T) {
	t.Parallel()

	extra := []manifesttest.Entry{
		{Name: "classes.dex", Data: []byte("dex payload"), Method: zip.Deflate},
		{Name: "resources.arsc", Data: []byte("stored resource table"), Method: zip.Store},
	}
	path := writeFixture(t, fixture(), extra...)

	tree, err := manifest.Load(path)
	require.NoError(t, err)

	meta, ok := tree.FindMetadata(manifest.MapsAPIKeyName)
	require.True(t, ok)

	tree.SetMetadataValue(meta, "NEW_KEY")
	tree.AddPermission(manifest.PermissionManageExternalStorage)
	require.NoError(t, tree.Save(path))

	entries := manifesttest.ReadEntries(t, path)
	require.Len(t, entries, 3)
	require.Equal(t, manifest.EntryName, entries[0].Name)
	require.Equal(t, zip.Deflate, entries[0].Method)
	require.Equal(t, extra, entries[1:])

	reloaded, err := manifest.Load(path)
	require.NoError(t, err)
	require.True(t, reloaded.HasPermission(manifest.PermissionManageExternalStorage))

	meta, ok = reloaded.FindMetadata(manifest.MapsAPIKeyName)
	require.True(t, ok)

	value, _ := meta.Value()
	require.Equal(t, "NEW_KEY", value)

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".*"))
	require.NoError(t, err)
	require.Empty(t, leftovers, "atomic replace must not leave temporary files")
}

// TestSetMetadataValue_AddsMissingValue verifies a meta-data entry without a value gains android:value.
func TestSetMetadataValue_AddsMissingValue(t *testing.T) {
	t.Parallel()

	name := &axml.Attribute{Namespace: axml.AndroidNamespace, Name: "name", ResourceID: 0x01010003}
	name.SetString(manifest.MapsAPIKeyName)

	root := &axml.Element{
		Name: "manifest",
		Children: []axml.Node{
			&axml.Element{
				Name:     "application",
				Children: []axml.Node{&axml.Element{Name: "meta-data", Attributes: []*axml.Attribute{name}}},
			},
		},
	}

	data, err := axml.NewDocument(root).Encode()
	require.NoError(t, err)

	tree, err := manifest.Parse(data)
	require.NoError(t, err)

	meta, ok := tree.FindMetadata(manifest.MapsAPIKeyName)
	require.True(t, ok)

	_, ok = meta.Value()
	require.False(t, ok)

	tree.SetMetadataValue(meta, "KEY")

	value, ok := meta.Value()
	require.True(t, ok)
	require.Equal(t, "KEY", value)
}

// TestEdit_AaptManifest runs the full edit cycle on a manifest compiled by aapt2.
func TestEdit_AaptManifest(t *testing.T) {
	t.Parallel()

	data, err := os.ReadFile(filepath.Join("testdata", "myapplication.axml"))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "base.apk")
	manifesttest.WriteContainer(t, path, data, manifesttest.Entry{Name: "classes.dex", Data: []byte("dex")})

	tree, err := manifest.Load(path)
	require.NoError(t, err)
	require.Empty(t, tree.Permissions())

	meta, ok := tree.FindMetadata("string_test")
	require.True(t, ok)

	value, ok := meta.Value()
	require.True(t, ok)
	require.Equal(t, "hogefuga", value)

	require.True(t, tree.AddPermission(manifest.PermissionManageExternalStorage))
	tree.SetMetadataValue(meta, "AIza-new")
	require.NoError(t, tree.Save(path))

	reloaded, err := manifest.Load(path)
	require.NoError(t, err)
	require.Equal(t, []string{manifest.PermissionManageExternalStorage}, reloaded.Permissions())

	meta, ok = reloaded.FindMetadata("string_test")
	require.True(t, ok)

	value, ok = meta.Value()
	require.True(t, ok)
	require.Equal(t, "AIza-new", value)

	encoded, err := reloaded.Bytes()
	require.NoError(t, err)

	doc, err := axml.Decode(encoded)
	require.NoError(t, err)

	root, ok := doc.Root()
	require.True(t, ok)

	names := make([]string, 0, 3)
	for _, child := range root.ChildElements() {
		names = append(names, child.Name)
	}

	// The permission goes before <application>, after uses-sdk.
	require.Equal(t, []string{"uses-sdk", "uses-permission", "application"}, names)

	// Typed values of the untouched entries survive.
	app, ok := root.Child("application")
	require.True(t, ok)

	typed := map[string]axml.Value{}

	for _, m := range app.Elements("meta-data") {
		name, _ := m.Attr("name")
		v, _ := m.Attr("value")
		typed[name.Value.String] = v.Value
	}

	require.Equal(t, axml.BoolValue(true), typed["bool_test_true"])
	require.Equal(t, axml.Value{Type: axml.TypeIntDec, Data: 42}, typed["int_test"])
	require.Equal(t, axml.Value{Type: axml.TypeReference, Data: 0x7f0b002a}, typed["string_test_arsc"])

	entries := manifesttest.ReadEntries(t, path)
	require.Equal(t, manifest.EntryName, entries[0].Name)
	require.Equal(t, "classes.dex", entries[1].Name)
	require.Equal(t, []byte("dex"), entries[1].Data)
}
