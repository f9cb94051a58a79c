package manifest

import "github.com/oshokin/apk-patcher/internal/axml"

// Permissions lists the requested permission names in document order.
func (t *Tree) Permissions() []string {
	var names []string

	for _, e := range t.root.Elements(elementPermission) {
		if name, ok := elementName(e); ok {
			names = append(names, name)
		}
	}

	return names
}

// HasPermission reports whether the manifest requests name.
func (t *Tree) HasPermission(name string) bool {
	for _, e := range t.root.Elements(elementPermission) {
		if n, ok := elementName(e); ok && n == name {
			return true
		}
	}

	return false
}

// RemovePermission deletes every uses-permission entry named name.
// It reports whether anything was removed.
func (t *Tree) RemovePermission(name string) bool {
	removed := false

	for _, e := range t.root.Elements(elementPermission) {
		if n, ok := elementName(e); ok && n == name {
			removed = t.root.RemoveChild(e) || removed
		}
	}

	return removed
}

// AddPermission requests name unless it is already requested.
// The entry goes after the last uses-permission, or before <application>.
func (t *Tree) AddPermission(name string) bool {
	if t.HasPermission(name) {
		return false
	}

	attr := &axml.Attribute{Namespace: AndroidNamespace, Name: "name", ResourceID: attrName}
	attr.SetString(name)

	permission := &axml.Element{
		Name:       elementPermission,
		Attributes: []*axml.Attribute{attr},
	}

	t.root.InsertChild(t.permissionInsertIndex(), permission)

	return true
}

func (t *Tree) permissionInsertIndex() int {
	if existing := t.root.Elements(elementPermission); len(existing) > 0 {
		return t.root.IndexOf(existing[len(existing)-1]) + 1
	}

	if application, ok := t.root.Child(elementApplication); ok {
		return t.root.IndexOf(application)
	}

	return len(t.root.Children)
}

// FindMetadata returns the first application meta-data entry named key.
func (t *Tree) FindMetadata(key string) (*Metadata, bool) {
	application, ok := t.root.Child(elementApplication)
	if !ok {
		return nil, false
	}

	for _, e := range application.Elements(elementMetadata) {
		if name, ok := elementName(e); ok && name == key {
			return &Metadata{element: e}, true
		}
	}

	return nil, false
}

// SetMetadataValue replaces the value of m with a plain string.
func (t *Tree) SetMetadataValue(m *Metadata, value string) {
	if attr, ok := m.element.Attr("value"); ok {
		attr.SetString(value)
		return
	}

	attr := &axml.Attribute{Namespace: AndroidNamespace, Name: "value", ResourceID: attrValue}
	attr.SetString(value)
	m.element.AddAttribute(attr)
}

func elementName(e *axml.Element) (string, bool) {
	attr, ok := e.Attr("name")
	if !ok {
		return "", false
	}

	return attr.StringValue()
}
