// Package pktline reads and writes git's pkt-line framing: a four digit
// lowercase hex length that counts itself, followed by the payload. The
// length "0000" is the flush-pkt that ends a section.
package pktline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

const (
	// MaxLineLen is the largest pkt-line git will send or accept,
	// including the four byte length prefix.
	MaxLineLen = 65520

	// MaxPayloadLen is the largest payload that fits in one pkt-line.
	MaxPayloadLen = MaxLineLen - prefixLen

	prefixLen = 4
)

// FlushPkt is the encoded flush-pkt.
var FlushPkt = []byte("0000")

// ErrTooLong is returned when a payload exceeds MaxPayloadLen.
var ErrTooLong = errors.New("pkt-line too long")

// ProtocolError reports a framing violation on the wire or an unexpected
// message from the server.
type ProtocolError struct {
	Msg string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return "protocol error: " + e.Msg + ": " + e.Err.Error()
	}
	return "protocol error: " + e.Msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Errorf builds a ProtocolError with a formatted message.
func Errorf(format string, args ...any) *ProtocolError {
	return &ProtocolError{Msg: fmt.Sprintf(format, args...)}
}

// Packet is one decoded pkt-line. Flush packets carry no data; a "0004"
// line decodes to a non-flush packet with empty Data.
type Packet struct {
	Flush bool
	Data  []byte
}

// String returns the payload with one trailing newline removed.
func (p Packet) String() string {
	return string(bytes.TrimSuffix(p.Data, []byte{'\n'}))
}

// Encode frames payload as a pkt-line. An empty payload encodes as the
// flush-pkt.
func Encode(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return bytes.Clone(FlushPkt), nil
	}
	if len(payload) > MaxPayloadLen {
		return nil, ErrTooLong
	}
	out := make([]byte, prefixLen, prefixLen+len(payload))
	putLen(out, len(payload)+prefixLen)
	return append(out, payload...), nil
}

// Decode parses one pkt-line from the front of buf and returns it with the
// remaining bytes.
func Decode(buf []byte) (Packet, []byte, error) {
	if len(buf) < prefixLen {
		return Packet{}, buf, &ProtocolError{Msg: "short length prefix", Err: io.ErrUnexpectedEOF}
	}
	n, err := parseLen(buf[:prefixLen])
	if err != nil {
		return Packet{}, buf, err
	}
	if n == 0 {
		return Packet{Flush: true}, buf[prefixLen:], nil
	}
	if len(buf) < n {
		return Packet{}, buf, &ProtocolError{Msg: fmt.Sprintf("pkt-line wants %d bytes, have %d", n, len(buf)), Err: io.ErrUnexpectedEOF}
	}
	return Packet{Data: buf[prefixLen:n]}, buf[n:], nil
}

// parseLen decodes a length prefix and checks it is 0 or within
// [4, MaxLineLen].
func parseLen(prefix []byte) (int, error) {
	n := 0
	for _, c := range prefix {
		var v byte
		switch {
		case c >= '0' && c <= '9':
			v = c - '0'
		case c >= 'a' && c <= 'f':
			v = c - 'a' + 10
		case c >= 'A' && c <= 'F':
			v = c - 'A' + 10
		default:
			return 0, Errorf("invalid length prefix %q", prefix)
		}
		n = n<<4 | int(v)
	}
	if n != 0 && (n < prefixLen || n > MaxLineLen) {
		return 0, Errorf("invalid pkt-line length %d", n)
	}
	return n, nil
}

const hexDigits = "0123456789abcdef"

func putLen(dst []byte, n int) {
	dst[0] = hexDigits[n>>12&0xf]
	dst[1] = hexDigits[n>>8&0xf]
	dst[2] = hexDigits[n>>4&0xf]
	dst[3] = hexDigits[n&0xf]
}

// Reader reads pkt-lines from an underlying stream.
type Reader struct {
	r      io.Reader
	prefix [prefixLen]byte
	buf    []byte
}

// NewReader creates a new Reader from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadPacket reads the next pkt-line. It returns io.EOF only when the stream
// ends cleanly before a length prefix; any other short read is a
// ProtocolError. The returned Data is valid until the next call.
func (r *Reader) ReadPacket() (Packet, error) {
	if _, err := io.ReadFull(r.r, r.prefix[:]); err != nil {
		if err == io.EOF {
			return Packet{}, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return Packet{}, &ProtocolError{Msg: "short length prefix", Err: err}
		}
		return Packet{}, err
	}
	n, err := parseLen(r.prefix[:])
	if err != nil {
		return Packet{}, err
	}
	if n == 0 {
		return Packet{Flush: true}, nil
	}

	size := n - prefixLen
	if cap(r.buf) < size {
		r.buf = make([]byte, size, MaxPayloadLen)
	}
	r.buf = r.buf[:size]
	if _, err := io.ReadFull(r.r, r.buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Packet{}, &ProtocolError{Msg: fmt.Sprintf("pkt-line payload truncated (want %d bytes)", size), Err: io.ErrUnexpectedEOF}
		}
		return Packet{}, err
	}
	return Packet{Data: r.buf}, nil
}

// Writer writes pkt-lines to an underlying writer.
type Writer struct {
	w      io.Writer
	prefix [prefixLen]byte
}

// NewWriter creates a new Writer from w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Flush sends a flush-pkt.
func (w *Writer) Flush() error {
	_, err := w.w.Write(FlushPkt)
	return err
}

// WritePacket writes p as a single pkt-line. An empty p writes a "0004"
// line, not a flush. It returns ErrTooLong if len(p) exceeds MaxPayloadLen.
func (w *Writer) WritePacket(p []byte) error {
	if len(p) > MaxPayloadLen {
		return ErrTooLong
	}
	putLen(w.prefix[:], len(p)+prefixLen)
	if _, err := w.w.Write(w.prefix[:]); err != nil {
		return err
	}
	_, err := w.w.Write(p)
	return err
}

// WriteString writes s as a single pkt-line.
func (w *Writer) WriteString(s string) error {
	return w.WritePacket([]byte(s))
}

// WriteStringf writes a formatted pkt-line.
func (w *Writer) WriteStringf(format string, args ...any) error {
	return w.WriteString(fmt.Sprintf(format, args...))
}
