package axml

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Chunk types of the binary XML container.
const (
	chunkStringPool   uint16 = 0x0001
	chunkXML          uint16 = 0x0003
	chunkStartNS      uint16 = 0x0100
	chunkEndNS        uint16 = 0x0101
	chunkStartElement uint16 = 0x0102
	chunkEndElement   uint16 = 0x0103
	chunkCData        uint16 = 0x0104
	chunkResourceMap  uint16 = 0x0180
)

const (
	// chunkHeaderSize is the size of the common chunk header (type, header size, size).
	chunkHeaderSize = 8
	// nodeHeaderSize is the header size of every XML node chunk (common header, line, comment).
	nodeHeaderSize = 16
	// attributeSize is the size of one encoded attribute.
	attributeSize = 20
	// typedValueSize is the size of an encoded Res_value.
	typedValueSize = 8
	// noIndex marks an absent string reference.
	noIndex uint32 = 0xFFFFFFFF
)

// ErrMalformed is matched by every decoding error.
var ErrMalformed = errors.New("malformed binary xml")

// FormatError describes where a binary XML document is malformed.
type FormatError struct {
	// Offset is the byte offset at which the problem was detected.
	Offset int
	// Reason is a short description of the problem.
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("binary xml: %s at offset %#x", e.Reason, e.Offset)
}

// Unwrap makes errors.Is(err, ErrMalformed) hold for every FormatError.
func (e *FormatError) Unwrap() error {
	return ErrMalformed
}

func formatErrorf(offset int, format string, args ...any) error {
	return &FormatError{
		Offset: offset,
		Reason: fmt.Sprintf(format, args...),
	}
}

// chunkHeader is the common header shared by all chunks.
type chunkHeader struct {
	typ        uint16
	headerSize uint16
	size       uint32
}

// readChunkHeader reads and bounds-checks the chunk header at off.
func readChunkHeader(data []byte, off int) (chunkHeader, error) {
	if off < 0 || off+chunkHeaderSize > len(data) {
		return chunkHeader{}, formatErrorf(off, "truncated chunk header")
	}

	h := chunkHeader{
		typ:        binary.LittleEndian.Uint16(data[off:]),
		headerSize: binary.LittleEndian.Uint16(data[off+2:]),
		size:       binary.LittleEndian.Uint32(data[off+4:]),
	}

	switch {
	case h.headerSize < chunkHeaderSize:
		return h, formatErrorf(off, "chunk header size %d too small", h.headerSize)
	case uint64(h.size) < uint64(h.headerSize):
		return h, formatErrorf(off, "chunk size %d smaller than header", h.size)
	case uint64(off)+uint64(h.size) > uint64(len(data)):
		return h, formatErrorf(off, "chunk of %d bytes overruns buffer", h.size)
	}

	return h, nil
}

func u16(data []byte, off int) uint16 {
	return binary.LittleEndian.Uint16(data[off:])
}

func u32(data []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(data[off:])
}

// appendChunkHeader appends a common chunk header.
func appendChunkHeader(b []byte, typ, headerSize uint16, size int) []byte {
	b = binary.LittleEndian.AppendUint16(b, typ)
	b = binary.LittleEndian.AppendUint16(b, headerSize)

	return binary.LittleEndian.AppendUint32(b, uint32(size)) //nolint:gosec // Sizes are bounded by the encoder.
}

var (
	errTruncated   = errors.New("truncated data")
	errInvalidUTF8 = errors.New("invalid utf-8 string")
	errTooLong     = errors.New("string too long for pool encoding")
)
