package remote

import (
	"bytes"
	"io"

	"github.com/odvcencio/grit/pkg/pktline"
)

// Side-band channel identifiers.
const (
	SidebandData     byte = 0x01
	SidebandProgress byte = 0x02
	SidebandError    byte = 0x03
)

// maxSidebandData is the largest channel payload in one side-band-64k
// packet: the pkt-line limit minus the channel byte.
const maxSidebandData = pktline.MaxPayloadLen - 1

// SidebandReader demultiplexes an upload-pack response. Channel 1 is
// returned from Read, channel 2 is copied to the progress writer and
// channel 3 ends the stream with a *RemoteError. NAK lines before the pack
// are skipped and a flush-pkt ends the stream.
type SidebandReader struct {
	pr       *pktline.Reader
	progress io.Writer
	buf      []byte
	err      error
}

// NewSidebandReader reads side-band packets from r. progress may be nil.
func NewSidebandReader(r io.Reader, progress io.Writer) *SidebandReader {
	return &SidebandReader{
		pr:       pktline.NewReader(r),
		progress: progress,
	}
}

func (sr *SidebandReader) Read(p []byte) (int, error) {
	for len(sr.buf) == 0 {
		if sr.err != nil {
			return 0, sr.err
		}
		sr.err = sr.next()
	}
	n := copy(p, sr.buf)
	sr.buf = sr.buf[n:]
	return n, nil
}

// next reads packets until channel 1 data is buffered or the stream ends.
func (sr *SidebandReader) next() error {
	pkt, err := sr.pr.ReadPacket()
	if err != nil {
		return err
	}
	if pkt.Flush {
		return io.EOF
	}
	if bytes.HasPrefix(pkt.Data, []byte("NAK")) {
		return nil
	}
	if len(pkt.Data) == 0 {
		return pktline.Errorf("empty side-band packet")
	}

	payload := pkt.Data[1:]
	switch pkt.Data[0] {
	case SidebandData:
		sr.buf = payload
	case SidebandProgress:
		if sr.progress != nil {
			if _, err := sr.progress.Write(payload); err != nil {
				return err
			}
		}
	case SidebandError:
		return &RemoteError{Message: string(bytes.TrimSpace(payload))}
	default:
		return pktline.Errorf("unsupported channel %d", pkt.Data[0])
	}
	return nil
}

// SidebandWriter frames data into side-band-64k pkt-lines. It is the
// server half of SidebandReader.
type SidebandWriter struct {
	pw *pktline.Writer
}

// NewSidebandWriter creates a new SidebandWriter writing to w.
func NewSidebandWriter(w io.Writer) *SidebandWriter {
	return &SidebandWriter{pw: pktline.NewWriter(w)}
}

func (sw *SidebandWriter) writeFrames(channel byte, data []byte) error {
	frame := make([]byte, 0, min(len(data), maxSidebandData)+1)
	for len(data) > 0 {
		n := min(len(data), maxSidebandData)
		frame = append(frame[:0], channel)
		frame = append(frame, data[:n]...)
		if err := sw.pw.WritePacket(frame); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// Write sends p on the data channel, split across as many packets as needed.
func (sw *SidebandWriter) Write(p []byte) (int, error) {
	if err := sw.writeFrames(SidebandData, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteProgress sends msg on the progress channel.
func (sw *SidebandWriter) WriteProgress(msg string) error {
	return sw.writeFrames(SidebandProgress, []byte(msg))
}

// WriteError sends msg on the error channel.
func (sw *SidebandWriter) WriteError(msg string) error {
	return sw.writeFrames(SidebandError, []byte(msg))
}

// WriteNAK sends the "NAK" acknowledgement line.
func (sw *SidebandWriter) WriteNAK() error {
	return sw.pw.WriteString("NAK\n")
}

// Flush ends the response.
func (sw *SidebandWriter) Flush() error {
	return sw.pw.Flush()
}
