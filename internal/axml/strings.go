package axml

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"
	"unicode/utf8"
)

const (
	// stringPoolHeaderSize is the header size of RES_STRING_POOL_TYPE.
	stringPoolHeaderSize = 28
	// flagUTF8 marks a pool whose strings are stored as UTF-8.
	flagUTF8 uint32 = 1 << 8
	// maxLength8 is the largest length a two-byte UTF-8 pool length prefix can hold.
	maxLength8 = 0x7FFF
	// maxLength16 is the largest length a two-unit UTF-16 pool length prefix can hold.
	maxLength16 = 0x7FFFFFFF
)

// stringPool is the decoded string pool.
type stringPool struct {
	strings []string
	utf8    bool
}

// decodeStringPool reads a RES_STRING_POOL_TYPE chunk located at off.
func decodeStringPool(data []byte, off int, h chunkHeader) (*stringPool, error) {
	if h.headerSize < stringPoolHeaderSize {
		return nil, formatErrorf(off, "string pool header size %d too small", h.headerSize)
	}

	var (
		chunk        = data[off : off+int(h.size)]
		stringCount  = int(u32(chunk, 8))
		styleCount   = u32(chunk, 12)
		flags        = u32(chunk, 16)
		stringsStart = int(u32(chunk, 20))
	)

	if styleCount != 0 {
		return nil, formatErrorf(off, "styled string pools are not supported")
	}

	offsetsEnd := int(h.headerSize) + stringCount*4
	if stringCount < 0 || offsetsEnd > len(chunk) {
		return nil, formatErrorf(off, "string offsets overrun chunk")
	}

	if stringCount > 0 && (stringsStart < offsetsEnd || stringsStart > len(chunk)) {
		return nil, formatErrorf(off, "strings start %#x outside chunk", stringsStart)
	}

	pool := &stringPool{
		strings: make([]string, stringCount),
		utf8:    flags&flagUTF8 != 0,
	}

	for i := range stringCount {
		pos := stringsStart + int(u32(chunk, int(h.headerSize)+i*4))

		var (
			s   string
			err error
		)

		if pool.utf8 {
			s, err = decodeUTF8String(chunk, pos)
		} else {
			s, err = decodeUTF16String(chunk, pos)
		}

		if err != nil {
			return nil, formatErrorf(off+pos, "string %d: %v", i, err)
		}

		pool.strings[i] = s
	}

	return pool, nil
}

// decodeLength8 reads a one- or two-byte UTF-8 pool length prefix.
func decodeLength8(b []byte, pos int) (int, int, error) {
	if pos >= len(b) {
		return 0, pos, errTruncated
	}

	n := int(b[pos])
	if n&0x80 == 0 {
		return n, pos + 1, nil
	}

	if pos+1 >= len(b) {
		return 0, pos, errTruncated
	}

	return (n&0x7F)<<8 | int(b[pos+1]), pos + 2, nil
}

func decodeUTF8String(b []byte, pos int) (string, error) {
	// The first prefix is the UTF-16 length and is only informative.
	_, pos, err := decodeLength8(b, pos)
	if err != nil {
		return "", err
	}

	n, pos, err := decodeLength8(b, pos)
	if err != nil {
		return "", err
	}

	if pos < 0 || pos+n > len(b) {
		return "", errTruncated
	}

	s := b[pos : pos+n]
	if !utf8.Valid(s) {
		return "", errInvalidUTF8
	}

	return string(s), nil
}

func decodeUTF16String(b []byte, pos int) (string, error) {
	if pos < 0 || pos+2 > len(b) {
		return "", errTruncated
	}

	n := int(binary.LittleEndian.Uint16(b[pos:]))
	pos += 2

	if n&0x8000 != 0 {
		if pos+2 > len(b) {
			return "", errTruncated
		}

		n = (n&0x7FFF)<<16 | int(binary.LittleEndian.Uint16(b[pos:]))
		pos += 2
	}

	if pos+n*2 > len(b) {
		return "", errTruncated
	}

	units := make([]uint16, n)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(b[pos+i*2:])
	}

	return string(utf16.Decode(units)), nil
}

// encode serializes the pool into a RES_STRING_POOL_TYPE chunk without styles.
func (p *stringPool) encode() ([]byte, error) {
	var (
		data    []byte
		offsets = make([]uint32, len(p.strings))
	)

	for i, s := range p.strings {
		offsets[i] = uint32(len(data)) //nolint:gosec // Pool size is bounded by the length prefixes.

		var err error
		if p.utf8 {
			data, err = appendUTF8String(data, s)
		} else {
			data, err = appendUTF16String(data, s)
		}

		if err != nil {
			return nil, fmt.Errorf("string %d: %w", i, err)
		}
	}

	for len(data)%4 != 0 {
		data = append(data, 0)
	}

	var (
		stringsStart = stringPoolHeaderSize + len(offsets)*4
		size         = stringsStart + len(data)
		flags        uint32
	)

	if p.utf8 {
		flags = flagUTF8
	}

	b := make([]byte, 0, size)
	b = appendChunkHeader(b, chunkStringPool, stringPoolHeaderSize, size)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(p.strings))) //nolint:gosec // See above.
	b = binary.LittleEndian.AppendUint32(b, 0)
	b = binary.LittleEndian.AppendUint32(b, flags)
	b = binary.LittleEndian.AppendUint32(b, uint32(stringsStart)) //nolint:gosec // See above.
	b = binary.LittleEndian.AppendUint32(b, 0)

	for _, o := range offsets {
		b = binary.LittleEndian.AppendUint32(b, o)
	}

	return append(b, data...), nil
}

func appendLength8(b []byte, n int) ([]byte, error) {
	switch {
	case n > maxLength8:
		return nil, errTooLong
	case n > 0x7F:
		return append(b, byte(0x80|n>>8), byte(n)), nil
	default:
		return append(b, byte(n)), nil
	}
}

func appendUTF8String(b []byte, s string) ([]byte, error) {
	var err error

	if b, err = appendLength8(b, len(utf16.Encode([]rune(s)))); err != nil {
		return nil, err
	}

	if b, err = appendLength8(b, len(s)); err != nil {
		return nil, err
	}

	b = append(b, s...)

	return append(b, 0), nil
}

func appendUTF16String(b []byte, s string) ([]byte, error) {
	units := utf16.Encode([]rune(s))

	switch n := len(units); {
	case n > maxLength16:
		return nil, errTooLong
	case n > 0x7FFF:
		b = binary.LittleEndian.AppendUint16(b, uint16(0x8000|n>>16)) //nolint:gosec // Bounded above.
		b = binary.LittleEndian.AppendUint16(b, uint16(n))             //nolint:gosec // Low half.
	default:
		b = binary.LittleEndian.AppendUint16(b, uint16(n))
	}

	for _, u := range units {
		b = binary.LittleEndian.AppendUint16(b, u)
	}

	return binary.LittleEndian.AppendUint16(b, 0), nil
}
