package object

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"hash"
	"io"

	"github.com/klauspost/compress/zlib"
)

type packCountedWriter struct {
	w io.Writer
	n uint64
}

func (cw *packCountedWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += uint64(n)
	return n, err
}

func compressPackPayload(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		_ = zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PackWriter writes git-compatible version 2 pack streams with
// zlib-compressed entries. The trailer is the SHA-1 of every preceding byte.
type PackWriter struct {
	out      io.Writer
	hasher   hash.Hash
	hashedW  io.Writer
	counter  *packCountedWriter
	expected uint32
	written  uint32
	finished bool
}

// NewPackWriter writes the pack header for numObjects entries to out.
func NewPackWriter(out io.Writer, numObjects uint32) (*PackWriter, error) {
	hasher := sha1.New()
	counter := &packCountedWriter{w: out}
	pw := &PackWriter{
		out:      out,
		hasher:   hasher,
		hashedW:  io.MultiWriter(counter, hasher),
		counter:  counter,
		expected: numObjects,
	}

	header := PackHeader{Version: defaultPackVersion, NumObjects: numObjects}
	if _, err := pw.hashedW.Write(header.Marshal()); err != nil {
		return nil, fmt.Errorf("write pack header: %w", err)
	}
	return pw, nil
}

// CurrentOffset returns the offset the next entry will be written at.
func (p *PackWriter) CurrentOffset() uint64 {
	return p.counter.n
}

// WriteEntry appends one non-delta entry.
func (p *PackWriter) WriteEntry(objType PackObjectType, data []byte) error {
	if objType.IsDelta() || !validPackType(objType) {
		return fmt.Errorf("write pack entry: invalid type %s", objType)
	}
	return p.writeEntry(objType, data)
}

// WriteObject appends o as a non-delta entry.
func (p *PackWriter) WriteObject(o *Object) error {
	t, ok := PackTypeFor(o.Type)
	if !ok {
		return fmt.Errorf("write pack entry: unsupported object type %q", o.Type)
	}
	return p.writeEntry(t, o.Content)
}

// WriteRefDelta appends a REF_DELTA entry naming its base by id.
func (p *PackWriter) WriteRefDelta(base Hash, delta []byte) error {
	return p.writeEntry(PackRefDelta, delta, base[:]...)
}

// WriteOfsDelta appends an OFS_DELTA entry whose base starts at baseOffset.
func (p *PackWriter) WriteOfsDelta(baseOffset uint64, delta []byte) error {
	current := p.CurrentOffset()
	if baseOffset >= current {
		return fmt.Errorf("base offset %d must be before current offset %d", baseOffset, current)
	}
	return p.writeEntry(PackOfsDelta, delta, EncodeOfsDeltaDistance(current-baseOffset)...)
}

func (p *PackWriter) writeEntry(objType PackObjectType, data []byte, prefix ...byte) error {
	if p.finished {
		return fmt.Errorf("pack writer already finished")
	}
	if p.written >= p.expected {
		return fmt.Errorf("pack object count exceeded: expected %d", p.expected)
	}

	compressed, err := compressPackPayload(data)
	if err != nil {
		return fmt.Errorf("compress %s entry: %w", objType, err)
	}
	if _, err := p.hashedW.Write(EncodeTypeSize(objType, uint64(len(data)))); err != nil {
		return fmt.Errorf("write %s header: %w", objType, err)
	}
	if len(prefix) > 0 {
		if _, err := p.hashedW.Write(prefix); err != nil {
			return fmt.Errorf("write %s base: %w", objType, err)
		}
	}
	if _, err := p.hashedW.Write(compressed); err != nil {
		return fmt.Errorf("write %s payload: %w", objType, err)
	}

	p.written++
	return nil
}

// Finish validates the object count, writes the trailing checksum and
// returns it.
func (p *PackWriter) Finish() (Hash, error) {
	if p.finished {
		return ZeroHash, fmt.Errorf("pack writer already finished")
	}
	if p.written != p.expected {
		return ZeroHash, fmt.Errorf("pack object count mismatch: wrote %d, expected %d", p.written, p.expected)
	}

	sum := p.hasher.Sum(nil)
	if _, err := p.out.Write(sum); err != nil {
		return ZeroHash, fmt.Errorf("write pack trailer checksum: %w", err)
	}
	p.finished = true
	return HashFromBytes(sum)
}
