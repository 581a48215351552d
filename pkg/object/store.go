package object

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klauspost/compress/zlib"
)

// Store is a content-addressed loose object store with a 2-character fan-out
// directory layout: <root>/ab/cdef0123...
type Store struct {
	root string
}

// NewStore creates a Store rooted at the given objects directory. Shard
// directories are created lazily on first write.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root returns the objects directory.
func (s *Store) Root() string {
	return s.root
}

// objectPath returns the filesystem path for a given hash.
func (s *Store) objectPath(h Hash) string {
	hex := h.String()
	return filepath.Join(s.root, hex[:2], hex[2:])
}

// Has reports whether the store contains an object with the given hash.
func (s *Store) Has(h Hash) bool {
	_, err := os.Stat(s.objectPath(h))
	return err == nil
}

// Write stores an object and returns its content hash. The on-disk format
// is zlib("type len\0content"). Writes are atomic: data is written to a temp
// file and then renamed into place, so readers never observe a partial
// object. Storing the same content twice is a no-op.
func (s *Store) Write(objType ObjectType, data []byte) (Hash, error) {
	h := HashObject(objType, data)

	// Fast path: already exists.
	if s.Has(h) {
		return h, nil
	}

	dir := filepath.Dir(s.objectPath(h))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return h, fmt.Errorf("object write mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return h, fmt.Errorf("object write tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	zw := zlib.NewWriter(tmp)
	_, err = zw.Write(envelopeHeader(objType, len(data)))
	if err == nil {
		_, err = zw.Write(data)
	}
	if err == nil {
		err = zw.Close()
	}
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return h, fmt.Errorf("object write %s: %w", h, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return h, fmt.Errorf("object write close: %w", err)
	}
	// Loose objects are immutable.
	_ = os.Chmod(tmpName, 0o444)

	if err := os.Rename(tmpName, s.objectPath(h)); err != nil {
		os.Remove(tmpName)
		return h, fmt.Errorf("object write rename: %w", err)
	}
	return h, nil
}

// WriteObject stores o and returns its id.
func (s *Store) WriteObject(o *Object) (Hash, error) {
	return s.Write(o.Type, o.Content)
}

// Read retrieves an object by hash. It returns an error wrapping ErrNotFound
// when the object does not exist and a FormatError when the envelope is
// corrupt.
func (s *Store) Read(h Hash) (*Object, error) {
	f, err := os.Open(s.objectPath(h))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("object read %s: %w", h, ErrNotFound)
		}
		return nil, fmt.Errorf("object read %s: %w", h, err)
	}
	defer f.Close()

	zr, err := zlib.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("object read %s: %w", h, &FormatError{Msg: "zlib: " + err.Error()})
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("object read %s: %w", h, &FormatError{Msg: "inflate: " + err.Error()})
	}
	if err := zr.Close(); err != nil {
		return nil, fmt.Errorf("object read %s: %w", h, err)
	}

	obj, err := parseEnvelope(raw)
	if err != nil {
		return nil, fmt.Errorf("object read %s: %w", h, err)
	}
	return obj, nil
}

// parseEnvelope splits "type len\0content" into an Object.
func parseEnvelope(raw []byte) (*Object, error) {
	header, content, ok := bytes.Cut(raw, []byte{0})
	if !ok {
		return nil, formatErrorf("invalid envelope (no NUL)")
	}
	typeName, lenText, ok := bytes.Cut(header, []byte{' '})
	if !ok {
		return nil, formatErrorf("invalid header %q", header)
	}
	objType, err := ParseObjectType(string(typeName))
	if err != nil {
		return nil, err
	}
	length, err := strconv.Atoi(string(lenText))
	if err != nil {
		return nil, formatErrorf("invalid length %q", lenText)
	}
	if len(content) != length {
		return nil, formatErrorf("length mismatch (header=%d, actual=%d)", length, len(content))
	}
	return &Object{Type: objType, Content: content}, nil
}

// ---------------------------------------------------------------------------
// Typed convenience methods
// ---------------------------------------------------------------------------

// WriteBlob stores raw file data as a blob.
func (s *Store) WriteBlob(data []byte) (Hash, error) {
	return s.Write(TypeBlob, data)
}

// ReadBlob reads a blob's content.
func (s *Store) ReadBlob(h Hash) ([]byte, error) {
	obj, err := s.readTyped(h, TypeBlob)
	if err != nil {
		return nil, err
	}
	return obj.Content, nil
}

// WriteTree serializes and stores a TreeObj.
func (s *Store) WriteTree(tr *TreeObj) (Hash, error) {
	return s.Write(TypeTree, MarshalTree(tr))
}

// ReadTree reads and deserializes a TreeObj.
func (s *Store) ReadTree(h Hash) (*TreeObj, error) {
	obj, err := s.readTyped(h, TypeTree)
	if err != nil {
		return nil, err
	}
	return UnmarshalTree(obj.Content)
}

// WriteCommit serializes and stores a CommitObj.
func (s *Store) WriteCommit(c *CommitObj) (Hash, error) {
	return s.Write(TypeCommit, MarshalCommit(c))
}

// ReadCommit reads and deserializes a CommitObj.
func (s *Store) ReadCommit(h Hash) (*CommitObj, error) {
	obj, err := s.readTyped(h, TypeCommit)
	if err != nil {
		return nil, err
	}
	return UnmarshalCommit(obj.Content)
}

func (s *Store) readTyped(h Hash, want ObjectType) (*Object, error) {
	obj, err := s.Read(h)
	if err != nil {
		return nil, err
	}
	if obj.Type != want {
		return nil, fmt.Errorf("object %s: type mismatch: got %q, want %q", h, obj.Type, want)
	}
	return obj, nil
}
