package object

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strconv"
)

// HashSize is the length of a raw object id in bytes.
const HashSize = sha1.Size

// HashHexSize is the length of the textual form of an object id.
const HashHexSize = 2 * HashSize

// Hash is a 20-byte SHA-1 object id. Equality is byte-wise.
type Hash [HashSize]byte

// ZeroHash is the all-zero id used by servers to advertise empty repositories.
var ZeroHash Hash

// ParseHash parses the 40-character hex form of an object id. Upper-case hex
// digits are accepted; anything that is not exactly 40 hex characters is
// rejected with a FormatError.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != HashHexSize {
		return h, &FormatError{Msg: fmt.Sprintf("object id %q: length %d, expected %d", s, len(s), HashHexSize)}
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return ZeroHash, &FormatError{Msg: fmt.Sprintf("object id %q: %v", s, err)}
	}
	return h, nil
}

// MustParseHash is like ParseHash but panics on malformed input. It is meant
// for constants and tests.
func MustParseHash(s string) Hash {
	h, err := ParseHash(s)
	if err != nil {
		panic(err)
	}
	return h
}

// HashFromBytes builds a Hash from a raw 20-byte slice.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, &FormatError{Msg: "raw object id length " + strconv.Itoa(len(b))}
	}
	copy(h[:], b)
	return h, nil
}

// String returns the lowercase 40-character hex form.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the all-zero id.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// HashObject computes the id of an object: SHA-1 over the envelope
// "type len\0" followed by the content.
func HashObject(objType ObjectType, data []byte) Hash {
	h := sha1.New()
	h.Write(envelopeHeader(objType, len(data)))
	h.Write(data)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

func envelopeHeader(objType ObjectType, n int) []byte {
	header := make([]byte, 0, len(objType)+12)
	header = append(header, objType...)
	header = append(header, ' ')
	header = strconv.AppendInt(header, int64(n), 10)
	return append(header, 0)
}
