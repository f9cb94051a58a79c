package axml

import "slices"

// decoder holds the state of one Decode call.
type decoder struct {
	data     []byte
	pool     *stringPool
	resmap   []uint32
	doc      *Document
	stack    []*Element
	elements int
}

// Decode parses a binary XML document.
func Decode(data []byte) (*Document, error) {
	h, err := readChunkHeader(data, 0)
	if err != nil {
		return nil, err
	}

	if h.typ != chunkXML {
		return nil, formatErrorf(0, "unexpected document chunk type %#04x", h.typ)
	}

	d := &decoder{
		data: data[:h.size],
		doc:  new(Document),
	}

	for off := int(h.headerSize); off < len(d.data); {
		ch, err := readChunkHeader(d.data, off)
		if err != nil {
			return nil, err
		}

		if err = d.decodeChunk(off, ch); err != nil {
			return nil, err
		}

		off += int(ch.size)
	}

	if len(d.stack) > 0 {
		return nil, formatErrorf(len(d.data), "element <%s> is not closed", d.stack[len(d.stack)-1].Name)
	}

	if d.elements == 0 {
		return nil, formatErrorf(len(d.data), "document has no elements")
	}

	d.finish()

	return d.doc, nil
}

func (d *decoder) decodeChunk(off int, h chunkHeader) error {
	switch h.typ {
	case chunkStringPool:
		if d.pool != nil {
			return formatErrorf(off, "duplicate string pool")
		}

		pool, err := decodeStringPool(d.data, off, h)
		if err != nil {
			return err
		}

		d.pool = pool
		d.doc.utf8 = pool.utf8

		return nil
	case chunkResourceMap:
		count := (int(h.size) - int(h.headerSize)) / 4

		d.resmap = make([]uint32, count)
		for i := range d.resmap {
			d.resmap[i] = u32(d.data, off+int(h.headerSize)+i*4)
		}

		return nil
	case chunkStartNS, chunkEndNS:
		return d.decodeNamespace(off, h)
	case chunkStartElement:
		return d.decodeStartElement(off, h)
	case chunkEndElement:
		return d.decodeEndElement(off, h)
	case chunkCData:
		return d.decodeCData(off, h)
	default:
		d.appendNode(&RawChunk{Bytes: slices.Clone(d.data[off : off+int(h.size)])})

		return nil
	}
}

// nodeExt validates a node chunk and returns the offset of its extension and the line/comment.
func (d *decoder) nodeExt(off int, h chunkHeader, extSize int) (int, uint32, string, error) {
	if h.headerSize < nodeHeaderSize {
		return 0, 0, "", formatErrorf(off, "node header size %d too small", h.headerSize)
	}

	ext := off + int(h.headerSize)
	if ext+extSize > off+int(h.size) {
		return 0, 0, "", formatErrorf(off, "node extension truncated")
	}

	comment, err := d.optString(u32(d.data, off+12), off)
	if err != nil {
		return 0, 0, "", err
	}

	return ext, u32(d.data, off+8), comment, nil
}

func (d *decoder) decodeNamespace(off int, h chunkHeader) error {
	ext, line, comment, err := d.nodeExt(off, h, 8)
	if err != nil {
		return err
	}

	prefix, err := d.optString(u32(d.data, ext), off)
	if err != nil {
		return err
	}

	uri, err := d.string(u32(d.data, ext+4), off)
	if err != nil {
		return err
	}

	d.appendNode(&Namespace{
		Start:   h.typ == chunkStartNS,
		Prefix:  prefix,
		URI:     uri,
		Line:    line,
		Comment: comment,
	})

	return nil
}

func (d *decoder) decodeStartElement(off int, h chunkHeader) error {
	ext, line, comment, err := d.nodeExt(off, h, 20)
	if err != nil {
		return err
	}

	ns, err := d.optString(u32(d.data, ext), off)
	if err != nil {
		return err
	}

	name, err := d.string(u32(d.data, ext+4), off)
	if err != nil {
		return err
	}

	var (
		attrStart = int(u16(d.data, ext+8))
		attrSize  = int(u16(d.data, ext+10))
		attrCount = int(u16(d.data, ext+12))
	)

	if attrCount > 0 && attrSize < attributeSize {
		return formatErrorf(off, "attribute size %d too small", attrSize)
	}

	if ext+attrStart+attrCount*attrSize > off+int(h.size) {
		return formatErrorf(off, "attributes of <%s> overrun chunk", name)
	}

	el := &Element{
		Namespace:  ns,
		Name:       name,
		Attributes: make([]*Attribute, 0, attrCount),
		Line:       line,
		Comment:    comment,
		IDIndex:    u16(d.data, ext+14),
		ClassIndex: u16(d.data, ext+16),
		StyleIndex: u16(d.data, ext+18),
	}

	for i := range attrCount {
		attr, err := d.decodeAttribute(ext + attrStart + i*attrSize)
		if err != nil {
			return err
		}

		el.Attributes = append(el.Attributes, attr)
	}

	d.appendNode(el)
	d.stack = append(d.stack, el)
	d.elements++

	return nil
}

func (d *decoder) decodeAttribute(off int) (*Attribute, error) {
	ns, err := d.optString(u32(d.data, off), off)
	if err != nil {
		return nil, err
	}

	nameRef := u32(d.data, off+4)

	name, err := d.string(nameRef, off)
	if err != nil {
		return nil, err
	}

	attr := &Attribute{
		Namespace: ns,
		Name:      name,
	}

	if int(nameRef) < len(d.resmap) {
		attr.ResourceID = d.resmap[nameRef]
	}

	if rawRef := u32(d.data, off+8); rawRef != noIndex {
		raw, err := d.string(rawRef, off)
		if err != nil {
			return nil, err
		}

		attr.Raw = &raw
	}

	if attr.Value, err = d.decodeValue(off + 12); err != nil {
		return nil, err
	}

	return attr, nil
}

func (d *decoder) decodeValue(off int) (Value, error) {
	v := Value{
		Type: ValueType(d.data[off+3]),
		Data: u32(d.data, off+4),
	}

	if v.Type == TypeString {
		s, err := d.string(v.Data, off)
		if err != nil {
			return v, err
		}

		v.String = s
		v.Data = 0
	}

	return v, nil
}

func (d *decoder) decodeEndElement(off int, h chunkHeader) error {
	ext, line, comment, err := d.nodeExt(off, h, 8)
	if err != nil {
		return err
	}

	ns, err := d.optString(u32(d.data, ext), off)
	if err != nil {
		return err
	}

	name, err := d.string(u32(d.data, ext+4), off)
	if err != nil {
		return err
	}

	if len(d.stack) == 0 {
		return formatErrorf(off, "unexpected end of element <%s>", name)
	}

	top := d.stack[len(d.stack)-1]
	if top.Name != name || top.Namespace != ns {
		return formatErrorf(off, "end of <%s> does not match <%s>", name, top.Name)
	}

	top.EndLine = line
	top.EndComment = comment
	d.stack = d.stack[:len(d.stack)-1]

	return nil
}

func (d *decoder) decodeCData(off int, h chunkHeader) error {
	ext, line, comment, err := d.nodeExt(off, h, 4+typedValueSize)
	if err != nil {
		return err
	}

	data, err := d.string(u32(d.data, ext), off)
	if err != nil {
		return err
	}

	value, err := d.decodeValue(ext + 4)
	if err != nil {
		return err
	}

	d.appendNode(&CharData{
		Data:    data,
		Value:   value,
		Line:    line,
		Comment: comment,
	})

	return nil
}

func (d *decoder) appendNode(n Node) {
	if len(d.stack) == 0 {
		d.doc.Nodes = append(d.doc.Nodes, n)
		return
	}

	top := d.stack[len(d.stack)-1]
	top.Children = append(top.Children, n)
}

func (d *decoder) string(ref uint32, off int) (string, error) {
	if d.pool == nil {
		return "", formatErrorf(off, "string reference before string pool")
	}

	if ref == noIndex || int(ref) >= len(d.pool.strings) {
		return "", formatErrorf(off, "string reference %#x out of range", ref)
	}

	return d.pool.strings[ref], nil
}

func (d *decoder) optString(ref uint32, off int) (string, error) {
	if ref == noIndex {
		return "", nil
	}

	return d.string(ref, off)
}

// finish splits the pool into resource-mapped names and plain strings for re-encoding.
func (d *decoder) finish() {
	if d.pool == nil {
		return
	}

	mapped := min(len(d.resmap), len(d.pool.strings))

	d.doc.resources = make([]resourceName, 0, mapped)
	for i := range mapped {
		d.doc.resources = append(d.doc.resources, resourceName{name: d.pool.strings[i], id: d.resmap[i]})
	}

	d.doc.strings = slices.Clone(d.pool.strings[mapped:])
}
