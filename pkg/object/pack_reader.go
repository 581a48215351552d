package object

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
)

// maxPreallocSize caps the buffer reserved up front for one entry so a
// corrupt size header cannot force a huge allocation.
const maxPreallocSize = 64 << 20

// PackObject is one entry decoded from a pack stream. For delta types Data
// holds the delta instruction stream, not final content.
type PackObject struct {
	Type         PackObjectType
	Offset       int64  // offset of the entry header from the start of the pack
	Size         uint64 // inflated size declared in the entry header
	BaseHash     Hash   // base id for PackRefDelta
	BaseDistance uint64 // backward distance to the base for PackOfsDelta
	Data         []byte
}

// BaseOffset returns the absolute pack offset of an OFS_DELTA base.
func (o *PackObject) BaseOffset() int64 {
	return o.Offset - int64(o.BaseDistance)
}

// PackFile is the decoded content of a fully buffered pack stream.
type PackFile struct {
	Header   PackHeader
	Objects  []PackObject
	Checksum Hash // zero when the stream carried no trailer
}

// DecodePack parses a complete pack held in memory.
func DecodePack(data []byte) (*PackFile, error) {
	return ReadPack(bytes.NewReader(data))
}

// ReadPack decodes every entry of the pack stream read from r.
func ReadPack(r io.Reader) (*PackFile, error) {
	pr, err := NewPackReader(r)
	if err != nil {
		return nil, err
	}
	pf := &PackFile{
		Header:  pr.Header(),
		Objects: make([]PackObject, 0, min(pr.Header().NumObjects, 1<<16)),
	}
	for {
		obj, err := pr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		pf.Objects = append(pf.Objects, *obj)
	}
	pf.Checksum, _ = pr.Checksum()
	return pf, nil
}

// PackReader decodes a pack stream one entry at a time without buffering
// the whole pack. Each entry's zlib payload has no explicit length, so the
// reader feeds the inflater byte by byte and leaves the stream positioned
// right after the compressed data.
type PackReader struct {
	in       *packStream
	header   PackHeader
	next     uint32
	zr       io.ReadCloser
	checksum Hash
	trailer  bool
	done     bool
}

// NewPackReader reads and validates the 12-byte pack header from r.
func NewPackReader(r io.Reader) (*PackReader, error) {
	in := newPackStream(r)
	raw := make([]byte, packHeaderSize)
	if _, err := io.ReadFull(in, raw); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, formatErrorf("pack header too short")
		}
		return nil, err
	}
	header, err := UnmarshalPackHeader(raw)
	if err != nil {
		return nil, err
	}
	return &PackReader{in: in, header: *header}, nil
}

// Header returns the parsed pack header.
func (pr *PackReader) Header() PackHeader {
	return pr.header
}

// BytesRead returns the number of pack bytes consumed so far.
func (pr *PackReader) BytesRead() int64 {
	return pr.in.n
}

// Checksum returns the verified trailer checksum once Next has returned
// io.EOF. The second result is false when the stream had no trailer.
func (pr *PackReader) Checksum() (Hash, bool) {
	return pr.checksum, pr.trailer
}

// Next decodes the next entry. After the declared number of objects it
// verifies the optional SHA-1 trailer and returns io.EOF.
func (pr *PackReader) Next() (*PackObject, error) {
	if pr.done {
		return nil, io.EOF
	}
	if pr.next >= pr.header.NumObjects {
		pr.done = true
		if err := pr.verifyTrailer(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	index := pr.next
	obj, err := pr.readEntry()
	if err != nil {
		return nil, formatEntryError(index, err)
	}
	pr.next++
	return obj, nil
}

func (pr *PackReader) readEntry() (*PackObject, error) {
	obj := &PackObject{Offset: pr.in.n}

	objType, size, err := DecodeTypeSize(pr.in)
	if err != nil {
		return nil, err
	}
	if !validPackType(objType) {
		return nil, formatErrorf("unknown pack object type %d", objType)
	}
	obj.Type = objType
	obj.Size = size

	switch objType {
	case PackOfsDelta:
		dist, err := DecodeOfsDeltaDistance(pr.in)
		if err != nil {
			return nil, err
		}
		if dist == 0 || int64(dist) > obj.Offset {
			return nil, formatErrorf("ofs-delta distance %d out of range at offset %d", dist, obj.Offset)
		}
		obj.BaseDistance = dist
	case PackRefDelta:
		var raw [HashSize]byte
		if _, err := io.ReadFull(pr.in, raw[:]); err != nil {
			return nil, truncated("ref-delta base id", err)
		}
		obj.BaseHash = Hash(raw)
	}

	data, err := pr.inflate(size)
	if err != nil {
		return nil, err
	}
	obj.Data = data
	return obj, nil
}

func (pr *PackReader) inflate(size uint64) ([]byte, error) {
	if pr.zr == nil {
		zr, err := zlib.NewReader(pr.in)
		if err != nil {
			return nil, truncated("zlib header", err)
		}
		pr.zr = zr
	} else if err := pr.zr.(zlib.Resetter).Reset(pr.in, nil); err != nil {
		return nil, truncated("zlib header", err)
	}

	buf := bytes.NewBuffer(make([]byte, 0, min(size, maxPreallocSize)))
	if _, err := buf.ReadFrom(pr.zr); err != nil {
		if isCorruptStream(err) {
			return nil, formatErrorf("inflate: %v", err)
		}
		return nil, fmt.Errorf("inflate: %w", err)
	}
	if uint64(buf.Len()) != size {
		return nil, formatErrorf("size mismatch header=%d inflated=%d", size, buf.Len())
	}
	return buf.Bytes(), nil
}

func (pr *PackReader) verifyTrailer() error {
	if pr.zr != nil {
		_ = pr.zr.Close()
	}
	sum := pr.in.sum()

	var trailer [HashSize]byte
	n, err := io.ReadFull(pr.in.r, trailer[:])
	pr.in.n += int64(n)
	switch {
	case n == 0 && errors.Is(err, io.EOF):
		return nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return formatErrorf("pack trailer truncated after %d bytes", n)
	case err != nil:
		return fmt.Errorf("read pack trailer: %w", err)
	}
	if !bytes.Equal(trailer[:], sum) {
		return formatErrorf("pack checksum mismatch")
	}
	switch _, err := pr.in.r.ReadByte(); {
	case err == nil:
		return formatErrorf("trailing bytes after pack checksum")
	case err != io.EOF:
		return fmt.Errorf("read after pack trailer: %w", err)
	}
	pr.checksum = Hash(trailer)
	pr.trailer = true
	return nil
}

// isCorruptStream reports whether an inflate error comes from the compressed
// data itself rather than from the underlying reader.
func isCorruptStream(err error) bool {
	var corrupt flate.CorruptInputError
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, zlib.ErrChecksum) ||
		errors.Is(err, zlib.ErrHeader) ||
		errors.As(err, &corrupt)
}

func formatEntryError(index uint32, err error) error {
	var fe *FormatError
	if errors.As(err, &fe) {
		return formatErrorf("entry %d: %s", index, fe.Msg)
	}
	return err
}

// packStream counts and checksums every byte handed to the decoder. It
// implements io.ByteReader so the inflater never reads past the end of a
// compressed entry.
type packStream struct {
	r       *bufio.Reader
	h       hash.Hash
	pending []byte
	n       int64
}

const packHashBatch = 32 << 10

func newPackStream(r io.Reader) *packStream {
	return &packStream{
		r:       bufio.NewReaderSize(r, 64<<10),
		h:       sha1.New(),
		pending: make([]byte, 0, packHashBatch),
	}
}

func (s *packStream) ReadByte() (byte, error) {
	b, err := s.r.ReadByte()
	if err != nil {
		return 0, err
	}
	s.n++
	s.pending = append(s.pending, b)
	if len(s.pending) == cap(s.pending) {
		s.flush()
	}
	return b, nil
}

func (s *packStream) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if n > 0 {
		s.flush()
		s.h.Write(p[:n])
		s.n += int64(n)
	}
	return n, err
}

func (s *packStream) flush() {
	if len(s.pending) > 0 {
		s.h.Write(s.pending)
		s.pending = s.pending[:0]
	}
}

func (s *packStream) sum() []byte {
	s.flush()
	return s.h.Sum(nil)
}
