package object

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	packHeaderSize       = 12
	defaultPackVersion   = 2
	maxVarintShift       = 63
	maxPackTypeSizeBytes = 10
)

var packMagic = [4]byte{'P', 'A', 'C', 'K'}

// PackObjectType is the git pack object type encoding used in object entry
// headers.
type PackObjectType uint8

const (
	PackCommit   PackObjectType = 1
	PackTree     PackObjectType = 2
	PackBlob     PackObjectType = 3
	PackTag      PackObjectType = 4
	PackOfsDelta PackObjectType = 6
	PackRefDelta PackObjectType = 7
)

func (t PackObjectType) String() string {
	switch t {
	case PackCommit:
		return "OBJ_COMMIT"
	case PackTree:
		return "OBJ_TREE"
	case PackBlob:
		return "OBJ_BLOB"
	case PackTag:
		return "OBJ_TAG"
	case PackOfsDelta:
		return "OBJ_OFS_DELTA"
	case PackRefDelta:
		return "OBJ_REF_DELTA"
	default:
		return fmt.Sprintf("OBJ_UNKNOWN(%d)", uint8(t))
	}
}

// IsDelta reports whether entries of this type carry delta instructions
// rather than final content.
func (t PackObjectType) IsDelta() bool {
	return t == PackOfsDelta || t == PackRefDelta
}

// ObjectType maps a non-delta pack type to its object type.
func (t PackObjectType) ObjectType() (ObjectType, bool) {
	switch t {
	case PackCommit:
		return TypeCommit, true
	case PackTree:
		return TypeTree, true
	case PackBlob:
		return TypeBlob, true
	case PackTag:
		return TypeTag, true
	default:
		return "", false
	}
}

// PackTypeFor maps an object type to its pack type.
func PackTypeFor(t ObjectType) (PackObjectType, bool) {
	switch t {
	case TypeCommit:
		return PackCommit, true
	case TypeTree:
		return PackTree, true
	case TypeBlob:
		return PackBlob, true
	case TypeTag:
		return PackTag, true
	default:
		return 0, false
	}
}

func validPackType(t PackObjectType) bool {
	switch t {
	case PackCommit, PackTree, PackBlob, PackTag, PackOfsDelta, PackRefDelta:
		return true
	default:
		return false
	}
}

// PackHeader is the fixed-size git pack header.
//
// Bytes:
//   - 0..3:  "PACK"
//   - 4..7:  version (big-endian), 2 or 3
//   - 8..11: number of objects (big-endian)
type PackHeader struct {
	Version    uint32
	NumObjects uint32
}

// Marshal serializes the header to the canonical 12-byte pack header.
func (h PackHeader) Marshal() []byte {
	buf := make([]byte, packHeaderSize)
	copy(buf[:4], packMagic[:])
	binary.BigEndian.PutUint32(buf[4:8], h.Version)
	binary.BigEndian.PutUint32(buf[8:12], h.NumObjects)
	return buf
}

// UnmarshalPackHeader parses a canonical git pack header.
func UnmarshalPackHeader(data []byte) (*PackHeader, error) {
	if len(data) < packHeaderSize {
		return nil, formatErrorf("pack header too short: got %d bytes", len(data))
	}
	if string(data[:4]) != string(packMagic[:]) {
		return nil, formatErrorf("invalid pack signature %q", data[:4])
	}

	version := binary.BigEndian.Uint32(data[4:8])
	if version != 2 && version != 3 {
		return nil, formatErrorf("unsupported pack version %d", version)
	}

	return &PackHeader{
		Version:    version,
		NumObjects: binary.BigEndian.Uint32(data[8:12]),
	}, nil
}

// ---------------------------------------------------------------------------
// Variable-length integers
// ---------------------------------------------------------------------------

// EncodeTypeSize encodes an object entry header: bits 4-6 of the first byte
// carry the type, bits 0-3 the low four bits of size, and every following
// byte seven more bits, least-significant chunk first. Bit 7 is the
// continuation flag.
func EncodeTypeSize(objType PackObjectType, size uint64) []byte {
	b := byte((objType & 0x7) << 4)
	b |= byte(size & 0x0f)
	size >>= 4

	out := make([]byte, 0, maxPackTypeSizeBytes)
	if size > 0 {
		b |= 0x80
	}
	out = append(out, b)

	for size > 0 {
		next := byte(size & 0x7f)
		size >>= 7
		if size > 0 {
			next |= 0x80
		}
		out = append(out, next)
	}
	return out
}

// DecodeTypeSize reads an object entry header written by EncodeTypeSize.
// It does not validate the type tag.
func DecodeTypeSize(r io.ByteReader) (PackObjectType, uint64, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, 0, truncated("entry header", err)
	}
	objType := PackObjectType((b >> 4) & 0x7)
	size := uint64(b & 0x0f)
	shift := uint(4)

	for b&0x80 != 0 {
		if shift > maxVarintShift {
			return 0, 0, formatErrorf("entry header size varint too long")
		}
		b, err = r.ReadByte()
		if err != nil {
			return 0, 0, truncated("entry header", err)
		}
		size |= uint64(b&0x7f) << shift
		shift += 7
	}
	return objType, size, nil
}

// EncodeVarint encodes v seven bits per byte, least-significant chunk first,
// with bit 7 as the continuation flag. Delta headers use this form.
func EncodeVarint(v uint64) []byte {
	out := make([]byte, 0, 10)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

// DecodeVarint reads a value written by EncodeVarint.
func DecodeVarint(r io.ByteReader) (uint64, error) {
	var (
		value uint64
		shift uint
	)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, truncated("varint", err)
		}
		value |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return value, nil
		}
		shift += 7
		if shift > maxVarintShift {
			return 0, formatErrorf("varint too long")
		}
	}
}

// EncodeOfsDeltaDistance encodes a backward distance for OFS_DELTA entries
// using git's offset encoding: big-endian seven-bit groups where each
// continuation adds one before shifting.
func EncodeOfsDeltaDistance(distance uint64) []byte {
	b := []byte{byte(distance & 0x7f)}
	for distance >>= 7; distance > 0; distance >>= 7 {
		distance--
		b = append([]byte{byte((distance & 0x7f) | 0x80)}, b...)
	}
	return b
}

// DecodeOfsDeltaDistance reads a distance written by EncodeOfsDeltaDistance.
func DecodeOfsDeltaDistance(r io.ByteReader) (uint64, error) {
	c, err := r.ReadByte()
	if err != nil {
		return 0, truncated("ofs-delta distance", err)
	}
	offset := uint64(c & 0x7f)
	for n := 1; c&0x80 != 0; n++ {
		if n > 9 {
			return 0, formatErrorf("ofs-delta distance too long")
		}
		c, err = r.ReadByte()
		if err != nil {
			return 0, truncated("ofs-delta distance", err)
		}
		offset = ((offset + 1) << 7) | uint64(c&0x7f)
	}
	return offset, nil
}

func truncated(what string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return formatErrorf("%s truncated", what)
	}
	return fmt.Errorf("read %s: %w", what, err)
}
