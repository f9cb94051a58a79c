package axml

import "slices"

// AndroidNamespace is the namespace URI bound to the "android" prefix.
const AndroidNamespace = "http://schemas.android.com/apk/res/android"

// ValueType is the dataType of a Res_value.
type ValueType uint8

// Res_value data types used by manifests.
const (
	TypeNull       ValueType = 0x00
	TypeReference  ValueType = 0x01
	TypeAttribute  ValueType = 0x02
	TypeString     ValueType = 0x03
	TypeFloat      ValueType = 0x04
	TypeDimension  ValueType = 0x05
	TypeFraction   ValueType = 0x06
	TypeIntDec     ValueType = 0x10
	TypeIntHex     ValueType = 0x11
	TypeIntBoolean ValueType = 0x12
)

// Value is a typed attribute or character data value.
// For TypeString the pool reference is resolved into String and Data is ignored.
type Value struct {
	Type   ValueType
	Data   uint32
	String string
}

// StringValue returns a string-typed value.
func StringValue(s string) Value {
	return Value{Type: TypeString, String: s}
}

// BoolValue returns a boolean value encoded the way aapt does (0xFFFFFFFF for true).
func BoolValue(v bool) Value {
	if v {
		return Value{Type: TypeIntBoolean, Data: 0xFFFFFFFF}
	}

	return Value{Type: TypeIntBoolean}
}

// Node is one entry of a document or element body.
type Node interface {
	node()
}

// Document is a decoded binary XML document.
type Document struct {
	// Nodes holds the top-level nodes: namespace markers and the root element.
	Nodes []Node

	// utf8 selects the string pool encoding on Encode.
	utf8 bool
	// resources is the original resource map paired with its attribute names.
	resources []resourceName
	// strings keeps the original pool strings that are not resource-mapped.
	strings []string
}

// resourceName pairs an attribute name with its resource ID.
type resourceName struct {
	name string
	id   uint32
}

// NewDocument returns a UTF-8 document wrapping root in the android namespace declaration.
func NewDocument(root *Element) *Document {
	return &Document{
		Nodes: []Node{
			&Namespace{Start: true, Prefix: "android", URI: AndroidNamespace, Line: root.Line},
			root,
			&Namespace{Start: false, Prefix: "android", URI: AndroidNamespace, Line: root.Line},
		},
		utf8: true,
	}
}

// Root returns the first top-level element.
func (d *Document) Root() (*Element, bool) {
	for _, n := range d.Nodes {
		if e, ok := n.(*Element); ok {
			return e, true
		}
	}

	return nil, false
}

// Namespace is a namespace start or end marker.
type Namespace struct {
	Start   bool
	Prefix  string
	URI     string
	Line    uint32
	Comment string
}

// CharData is a text node.
type CharData struct {
	Data    string
	Value   Value
	Line    uint32
	Comment string
}

// RawChunk is a chunk the decoder does not interpret; it is re-emitted verbatim.
type RawChunk struct {
	Bytes []byte
}

// Attribute is one attribute of a start element.
type Attribute struct {
	// Namespace is the attribute namespace URI, empty when none.
	Namespace string
	// Name is the local attribute name.
	Name string
	// ResourceID is the framework attribute ID (e.g. 0x01010003 for android:name), 0 when none.
	ResourceID uint32
	// Raw is the original textual value, nil when the attribute only has a typed value.
	Raw *string
	// Value is the typed value.
	Value Value
}

// SetString replaces the attribute value with a plain string.
func (a *Attribute) SetString(s string) {
	a.Raw = &s
	a.Value = StringValue(s)
}

// StringValue returns the attribute value when it is a string.
func (a *Attribute) StringValue() (string, bool) {
	if a.Value.Type == TypeString {
		return a.Value.String, true
	}

	if a.Raw != nil {
		return *a.Raw, true
	}

	return "", false
}

// Element is a start/end element pair with its body.
type Element struct {
	Namespace  string
	Name       string
	Attributes []*Attribute
	Children   []Node

	Line       uint32
	Comment    string
	EndLine    uint32
	EndComment string

	// IDIndex, ClassIndex and StyleIndex are 1-based attribute positions, 0 when absent.
	IDIndex    uint16
	ClassIndex uint16
	StyleIndex uint16
}

func (*Namespace) node() {}
func (*CharData) node()  {}
func (*RawChunk) node()  {}
func (*Element) node()   {}

// Attr returns the first attribute with the given local name.
// An attribute in the android namespace wins over one in any other namespace.
func (e *Element) Attr(name string) (*Attribute, bool) {
	var fallback *Attribute

	for _, a := range e.Attributes {
		if a.Name != name {
			continue
		}

		if a.Namespace == AndroidNamespace {
			return a, true
		}

		if fallback == nil {
			fallback = a
		}
	}

	return fallback, fallback != nil
}

// AddAttribute inserts a keeping resource-ID order (resource attributes first, ascending)
// and shifts IDIndex/ClassIndex/StyleIndex accordingly.
func (e *Element) AddAttribute(a *Attribute) {
	pos := len(e.Attributes)

	if a.ResourceID != 0 {
		for i, existing := range e.Attributes {
			if existing.ResourceID == 0 || existing.ResourceID > a.ResourceID {
				pos = i
				break
			}
		}
	}

	e.Attributes = slices.Insert(e.Attributes, pos, a)

	shift := func(idx *uint16) {
		if *idx != 0 && int(*idx) > pos {
			*idx++
		}
	}

	shift(&e.IDIndex)
	shift(&e.ClassIndex)
	shift(&e.StyleIndex)
}

// ChildElements returns the direct child elements in document order.
func (e *Element) ChildElements() []*Element {
	result := make([]*Element, 0, len(e.Children))

	for _, n := range e.Children {
		if child, ok := n.(*Element); ok {
			result = append(result, child)
		}
	}

	return result
}

// Elements returns the direct child elements named name, in document order.
func (e *Element) Elements(name string) []*Element {
	var result []*Element

	for _, child := range e.ChildElements() {
		if child.Name == name {
			result = append(result, child)
		}
	}

	return result
}

// Child returns the first direct child element named name.
func (e *Element) Child(name string) (*Element, bool) {
	for _, child := range e.ChildElements() {
		if child.Name == name {
			return child, true
		}
	}

	return nil, false
}

// IndexOf returns the position of n among the children, or -1.
func (e *Element) IndexOf(n Node) int {
	for i, child := range e.Children {
		if child == n {
			return i
		}
	}

	return -1
}

// InsertChild inserts n at index i, clamped to the valid range.
func (e *Element) InsertChild(i int, n Node) {
	i = max(0, min(i, len(e.Children)))
	e.Children = slices.Insert(e.Children, i, n)
}

// RemoveChild removes n and reports whether it was a child.
func (e *Element) RemoveChild(n Node) bool {
	i := e.IndexOf(n)
	if i < 0 {
		return false
	}

	e.Children = slices.Delete(e.Children, i, i+1)

	return true
}
