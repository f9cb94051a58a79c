package axml

import (
	"encoding/binary"
	"fmt"
)

// poolBuilder assigns string pool indices for an Encode call.
type poolBuilder struct {
	resources     []resourceName
	resourceIndex map[resourceName]uint32
	plain         []string
	plainIndex    map[string]int
}

func newPoolBuilder(d *Document) *poolBuilder {
	b := &poolBuilder{
		resourceIndex: make(map[resourceName]uint32, len(d.resources)),
		plainIndex:    make(map[string]int, len(d.strings)),
	}

	for _, r := range d.resources {
		b.addResource(r.name, r.id)
	}

	for _, s := range d.strings {
		b.addPlain(s)
	}

	return b
}

func (b *poolBuilder) addResource(name string, id uint32) {
	key := resourceName{name: name, id: id}
	if _, ok := b.resourceIndex[key]; ok {
		return
	}

	b.resourceIndex[key] = uint32(len(b.resources)) //nolint:gosec // Pool sizes fit in uint32.
	b.resources = append(b.resources, key)
}

func (b *poolBuilder) addPlain(s string) {
	if _, ok := b.plainIndex[s]; ok {
		return
	}

	b.plainIndex[s] = len(b.plain)
	b.plain = append(b.plain, s)
}

func (b *poolBuilder) addOptional(s string) {
	if s != "" {
		b.addPlain(s)
	}
}

func (b *poolBuilder) ref(s string) uint32 {
	return uint32(len(b.resources) + b.plainIndex[s]) //nolint:gosec // Pool sizes fit in uint32.
}

func (b *poolBuilder) optRef(s string) uint32 {
	if s == "" {
		return noIndex
	}

	return b.ref(s)
}

func (b *poolBuilder) attrNameRef(a *Attribute) uint32 {
	if a.ResourceID == 0 {
		return b.ref(a.Name)
	}

	return b.resourceIndex[resourceName{name: a.Name, id: a.ResourceID}]
}

// collect registers every string the node will reference.
func (b *poolBuilder) collect(n Node) {
	switch n := n.(type) {
	case *Namespace:
		b.addOptional(n.Comment)
		b.addOptional(n.Prefix)
		b.addPlain(n.URI)
	case *Element:
		b.addOptional(n.Comment)
		b.addOptional(n.EndComment)
		b.addOptional(n.Namespace)
		b.addPlain(n.Name)

		for _, a := range n.Attributes {
			b.addOptional(a.Namespace)

			if a.ResourceID != 0 {
				b.addResource(a.Name, a.ResourceID)
			} else {
				b.addPlain(a.Name)
			}

			if a.Raw != nil {
				b.addPlain(*a.Raw)
			}

			if a.Value.Type == TypeString {
				b.addPlain(a.Value.String)
			}
		}

		for _, child := range n.Children {
			b.collect(child)
		}
	case *CharData:
		b.addOptional(n.Comment)
		b.addPlain(n.Data)

		if n.Value.Type == TypeString {
			b.addPlain(n.Value.String)
		}
	}
}

// Encode serializes the document, rebuilding the string pool and resource map.
func (d *Document) Encode() ([]byte, error) {
	if _, ok := d.Root(); !ok {
		return nil, fmt.Errorf("encode: %w: document has no root element", ErrMalformed)
	}

	b := newPoolBuilder(d)
	for _, n := range d.Nodes {
		b.collect(n)
	}

	pool := &stringPool{
		strings: make([]string, 0, len(b.resources)+len(b.plain)),
		utf8:    d.utf8,
	}

	for _, r := range b.resources {
		pool.strings = append(pool.strings, r.name)
	}

	pool.strings = append(pool.strings, b.plain...)

	poolChunk, err := pool.encode()
	if err != nil {
		return nil, fmt.Errorf("encode string pool: %w", err)
	}

	out := make([]byte, chunkHeaderSize, chunkHeaderSize+len(poolChunk)+1024)
	out = append(out, poolChunk...)

	if len(b.resources) > 0 {
		size := chunkHeaderSize + 4*len(b.resources)

		out = appendChunkHeader(out, chunkResourceMap, chunkHeaderSize, size)
		for _, r := range b.resources {
			out = binary.LittleEndian.AppendUint32(out, r.id)
		}
	}

	for _, n := range d.Nodes {
		out = b.appendNode(out, n)
	}

	// Fill in the document header now that the size is known.
	copy(out, appendChunkHeader(nil, chunkXML, chunkHeaderSize, len(out)))

	return out, nil
}

func (b *poolBuilder) appendNodeHeader(out []byte, typ uint16, size int, line uint32, comment string) []byte {
	out = appendChunkHeader(out, typ, nodeHeaderSize, size)
	out = binary.LittleEndian.AppendUint32(out, line)

	return binary.LittleEndian.AppendUint32(out, b.optRef(comment))
}

func (b *poolBuilder) appendValue(out []byte, v Value) []byte {
	data := v.Data
	if v.Type == TypeString {
		data = b.ref(v.String)
	}

	out = binary.LittleEndian.AppendUint16(out, typedValueSize)
	out = append(out, 0, byte(v.Type))

	return binary.LittleEndian.AppendUint32(out, data)
}

func (b *poolBuilder) appendNode(out []byte, n Node) []byte {
	switch n := n.(type) {
	case *Namespace:
		typ := chunkEndNS
		if n.Start {
			typ = chunkStartNS
		}

		out = b.appendNodeHeader(out, typ, nodeHeaderSize+8, n.Line, n.Comment)
		out = binary.LittleEndian.AppendUint32(out, b.optRef(n.Prefix))

		return binary.LittleEndian.AppendUint32(out, b.ref(n.URI))
	case *Element:
		return b.appendElement(out, n)
	case *CharData:
		out = b.appendNodeHeader(out, chunkCData, nodeHeaderSize+4+typedValueSize, n.Line, n.Comment)
		out = binary.LittleEndian.AppendUint32(out, b.ref(n.Data))

		return b.appendValue(out, n.Value)
	case *RawChunk:
		return append(out, n.Bytes...)
	default:
		return out
	}
}

func (b *poolBuilder) appendElement(out []byte, e *Element) []byte {
	size := nodeHeaderSize + 20 + attributeSize*len(e.Attributes)

	out = b.appendNodeHeader(out, chunkStartElement, size, e.Line, e.Comment)
	out = binary.LittleEndian.AppendUint32(out, b.optRef(e.Namespace))
	out = binary.LittleEndian.AppendUint32(out, b.ref(e.Name))
	out = binary.LittleEndian.AppendUint16(out, 20)
	out = binary.LittleEndian.AppendUint16(out, attributeSize)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(e.Attributes))) //nolint:gosec // Attribute counts are small.
	out = binary.LittleEndian.AppendUint16(out, e.IDIndex)
	out = binary.LittleEndian.AppendUint16(out, e.ClassIndex)
	out = binary.LittleEndian.AppendUint16(out, e.StyleIndex)

	for _, a := range e.Attributes {
		raw := noIndex
		if a.Raw != nil {
			raw = b.ref(*a.Raw)
		}

		out = binary.LittleEndian.AppendUint32(out, b.optRef(a.Namespace))
		out = binary.LittleEndian.AppendUint32(out, b.attrNameRef(a))
		out = binary.LittleEndian.AppendUint32(out, raw)
		out = b.appendValue(out, a.Value)
	}

	for _, child := range e.Children {
		out = b.appendNode(out, child)
	}

	endLine := e.EndLine
	if endLine == 0 {
		endLine = e.Line
	}

	out = b.appendNodeHeader(out, chunkEndElement, nodeHeaderSize+8, endLine, e.EndComment)
	out = binary.LittleEndian.AppendUint32(out, b.optRef(e.Namespace))

	return binary.LittleEndian.AppendUint32(out, b.ref(e.Name))
}
