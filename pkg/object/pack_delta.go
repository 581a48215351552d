package object

import (
	"bytes"
	"io"
)

// maxDeltaTargetSize is the result size implied by an encoded target size of
// zero.
const maxDeltaTargetSize = 0x10000

// ApplyDelta reconstructs an object from a delta instruction stream and its
// base object. The result inherits the base's type.
//
// The stream starts with two varints, the base size and the target size,
// followed by instructions until the stream is exhausted:
//   - copy (high bit set): bits 0-3 select little-endian offset bytes and
//     bits 4-6 select little-endian size bytes; unselected bytes are zero.
//   - add (high bit clear): the low seven bits give a literal length k > 0
//     and the next k bytes are appended verbatim.
func ApplyDelta(base *Object, delta []byte) (*Object, error) {
	out, err := applyDelta(base.Content, delta)
	if err != nil {
		return nil, err
	}
	return &Object{Type: base.Type, Content: out}, nil
}

func applyDelta(base, delta []byte) ([]byte, error) {
	dr := bytes.NewReader(delta)

	baseSize, err := DecodeVarint(dr)
	if err != nil {
		return nil, err
	}
	if baseSize != uint64(len(base)) {
		return nil, &ConsistencyError{What: "delta base size", Expected: baseSize, Actual: uint64(len(base))}
	}
	targetSize, err := DecodeVarint(dr)
	if err != nil {
		return nil, err
	}
	if targetSize == 0 {
		targetSize = maxDeltaTargetSize
	}

	out := make([]byte, 0, min(targetSize, maxPreallocSize))
	for dr.Len() > 0 {
		cmd, _ := dr.ReadByte()
		if cmd&0x80 != 0 {
			offset, size, err := readCopyArgs(dr, cmd)
			if err != nil {
				return nil, err
			}
			if offset+size > uint64(len(base)) {
				return nil, formatErrorf("delta copy out of bounds: offset=%d size=%d base=%d", offset, size, len(base))
			}
			out = append(out, base[offset:offset+size]...)
			continue
		}

		if cmd == 0 {
			return nil, formatErrorf("delta add instruction with zero size")
		}
		n := int(cmd)
		if dr.Len() < n {
			return nil, formatErrorf("delta add instruction truncated: want %d bytes, have %d", n, dr.Len())
		}
		start := len(delta) - dr.Len()
		out = append(out, delta[start:start+n]...)
		if _, err := dr.Seek(int64(n), io.SeekCurrent); err != nil {
			return nil, err
		}
	}

	if uint64(len(out)) != targetSize {
		return nil, &ConsistencyError{What: "delta result size", Expected: targetSize, Actual: uint64(len(out))}
	}
	return out, nil
}

// readCopyArgs decodes the offset and size selected by a copy instruction.
// A size of zero means 0x10000.
func readCopyArgs(r io.ByteReader, cmd byte) (uint64, uint64, error) {
	var offset, size uint64
	for i := uint(0); i < 4; i++ {
		if cmd&(1<<i) == 0 {
			continue
		}
		b, err := r.ReadByte()
		if err != nil {
			return 0, 0, truncated("delta copy offset", err)
		}
		offset |= uint64(b) << (8 * i)
	}
	for i := uint(0); i < 3; i++ {
		if cmd&(0x10<<i) == 0 {
			continue
		}
		b, err := r.ReadByte()
		if err != nil {
			return 0, 0, truncated("delta copy size", err)
		}
		size |= uint64(b) << (8 * i)
	}
	if size == 0 {
		size = 0x10000
	}
	return offset, size, nil
}

// DeltaBuilder assembles a delta instruction stream.
type DeltaBuilder struct {
	buf bytes.Buffer
}

// NewDeltaBuilder starts a delta with the given base and target sizes.
func NewDeltaBuilder(baseSize, targetSize uint64) *DeltaBuilder {
	d := &DeltaBuilder{}
	d.buf.Write(EncodeVarint(baseSize))
	d.buf.Write(EncodeVarint(targetSize))
	return d
}

// Copy appends a copy instruction. Zero bytes of offset and size are omitted
// from the stream, as git does.
func (d *DeltaBuilder) Copy(offset, size uint32) *DeltaBuilder {
	cmd := byte(0x80)
	var args []byte
	for i := uint(0); i < 4; i++ {
		if b := byte(offset >> (8 * i)); b != 0 {
			cmd |= 1 << i
			args = append(args, b)
		}
	}
	if size == 0x10000 {
		size = 0
	}
	for i := uint(0); i < 3; i++ {
		if b := byte(size >> (8 * i)); b != 0 {
			cmd |= 0x10 << i
			args = append(args, b)
		}
	}
	d.buf.WriteByte(cmd)
	d.buf.Write(args)
	return d
}

// Add appends literal data, split into chunks of at most 127 bytes.
func (d *DeltaBuilder) Add(data []byte) *DeltaBuilder {
	for len(data) > 0 {
		n := min(len(data), 0x7f)
		d.buf.WriteByte(byte(n))
		d.buf.Write(data[:n])
		data = data[n:]
	}
	return d
}

// Bytes returns the encoded delta.
func (d *DeltaBuilder) Bytes() []byte {
	return d.buf.Bytes()
}
