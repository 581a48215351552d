package object

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/klauspost/compress/zlib"
)

// buildTestPack writes a pack holding a blob, a commit, a ref-delta against
// the blob and an ofs-delta against the blob.
func buildTestPack(t *testing.T) ([]byte, Hash) {
	t.Helper()
	var buf bytes.Buffer

	pw, err := NewPackWriter(&buf, 4)
	if err != nil {
		t.Fatalf("NewPackWriter: %v", err)
	}
	base := []byte("hello world")
	baseOffset := pw.CurrentOffset()
	if err := pw.WriteEntry(PackBlob, base); err != nil {
		t.Fatalf("WriteEntry blob: %v", err)
	}
	if err := pw.WriteEntry(PackCommit, []byte("tree abc\n\nmsg\n")); err != nil {
		t.Fatalf("WriteEntry commit: %v", err)
	}
	delta := NewDeltaBuilder(uint64(len(base)), 11).Copy(0, 6).Add([]byte("there")).Bytes()
	if err := pw.WriteRefDelta(HashObject(TypeBlob, base), delta); err != nil {
		t.Fatalf("WriteRefDelta: %v", err)
	}
	if err := pw.WriteOfsDelta(baseOffset, delta); err != nil {
		t.Fatalf("WriteOfsDelta: %v", err)
	}
	sum, err := pw.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return buf.Bytes(), sum
}

func TestDecodePackRoundTrip(t *testing.T) {
	data, sum := buildTestPack(t)

	pf, err := DecodePack(data)
	if err != nil {
		t.Fatalf("DecodePack: %v", err)
	}
	if pf.Header.NumObjects != 4 || pf.Header.Version != 2 {
		t.Fatalf("header = %+v", pf.Header)
	}
	if len(pf.Objects) != 4 {
		t.Fatalf("len(Objects) = %d, want 4", len(pf.Objects))
	}
	if pf.Checksum != sum {
		t.Fatalf("Checksum = %s, want %s", pf.Checksum, sum)
	}

	blob := pf.Objects[0]
	if blob.Type != PackBlob || string(blob.Data) != "hello world" || blob.Offset != packHeaderSize {
		t.Fatalf("object[0] mismatch: %+v", blob)
	}
	if pf.Objects[1].Type != PackCommit || string(pf.Objects[1].Data) != "tree abc\n\nmsg\n" {
		t.Fatalf("object[1] mismatch: %+v", pf.Objects[1])
	}

	ref := pf.Objects[2]
	if ref.Type != PackRefDelta || ref.BaseHash != HashObject(TypeBlob, []byte("hello world")) {
		t.Fatalf("object[2] mismatch: %+v", ref)
	}
	got, err := ApplyDelta(&Object{Type: TypeBlob, Content: blob.Data}, ref.Data)
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if string(got.Content) != "hello there" {
		t.Fatalf("delta result = %q", got.Content)
	}

	ofs := pf.Objects[3]
	if ofs.Type != PackOfsDelta || ofs.BaseOffset() != blob.Offset {
		t.Fatalf("object[3] base offset = %d, want %d", ofs.BaseOffset(), blob.Offset)
	}
	if !bytes.Equal(ofs.Data, ref.Data) {
		t.Fatal("ofs-delta payload mismatch")
	}
}

func TestPackReaderStreamsOneByteAtATime(t *testing.T) {
	data, sum := buildTestPack(t)

	pr, err := NewPackReader(iotest.OneByteReader(bytes.NewReader(data)))
	if err != nil {
		t.Fatalf("NewPackReader: %v", err)
	}
	n := 0
	for {
		_, err := pr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		n++
	}
	if n != 4 {
		t.Fatalf("decoded %d objects, want 4", n)
	}
	got, ok := pr.Checksum()
	if !ok || got != sum {
		t.Fatalf("Checksum = %s/%v, want %s", got, ok, sum)
	}
	if pr.BytesRead() != int64(len(data)) {
		t.Fatalf("BytesRead = %d, want %d", pr.BytesRead(), len(data))
	}
	if _, err := pr.Next(); err != io.EOF {
		t.Fatalf("Next after end = %v, want io.EOF", err)
	}
}

func TestDecodePackWithoutTrailer(t *testing.T) {
	data, _ := buildTestPack(t)
	pf, err := DecodePack(data[:len(data)-HashSize])
	if err != nil {
		t.Fatalf("DecodePack: %v", err)
	}
	if len(pf.Objects) != 4 {
		t.Fatalf("len(Objects) = %d, want 4", len(pf.Objects))
	}
	if !pf.Checksum.IsZero() {
		t.Fatalf("Checksum = %s, want zero", pf.Checksum)
	}
}

func TestDecodePackEmpty(t *testing.T) {
	var buf bytes.Buffer
	pw, err := NewPackWriter(&buf, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := pw.Finish(); err != nil {
		t.Fatal(err)
	}
	pf, err := DecodePack(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodePack: %v", err)
	}
	if len(pf.Objects) != 0 {
		t.Fatalf("len(Objects) = %d", len(pf.Objects))
	}
}

func requireFormatError(t *testing.T, err error, contains string) {
	t.Helper()
	var fe *FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("got %v, want FormatError", err)
	}
	if contains != "" && !strings.Contains(fe.Error(), contains) {
		t.Fatalf("error %q does not mention %q", fe.Error(), contains)
	}
}

func TestDecodePackRejectsBadTrailer(t *testing.T) {
	data, _ := buildTestPack(t)

	t.Run("checksum mismatch", func(t *testing.T) {
		bad := bytes.Clone(data)
		bad[len(bad)-1] ^= 0xff
		_, err := DecodePack(bad)
		requireFormatError(t, err, "checksum")
	})
	t.Run("partial trailer", func(t *testing.T) {
		_, err := DecodePack(data[:len(data)-10])
		requireFormatError(t, err, "trailer")
	})
	t.Run("trailing garbage", func(t *testing.T) {
		_, err := DecodePack(append(bytes.Clone(data), 'x'))
		requireFormatError(t, err, "trailing")
	})
}

func compressed(t *testing.T, raw []byte) []byte {
	t.Helper()
	out, err := compressPackPayload(raw)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestDecodePackRejectsBadEntries(t *testing.T) {
	header := PackHeader{Version: 2, NumObjects: 1}.Marshal()
	tests := []struct {
		name     string
		entry    []byte
		contains string
	}{
		{
			name:     "type 5",
			entry:    append([]byte{0x50}, compressed(t, nil)...),
			contains: "unknown pack object type",
		},
		{
			name:     "type 0",
			entry:    append([]byte{0x00}, compressed(t, nil)...),
			contains: "unknown pack object type",
		},
		{
			name:     "size mismatch",
			entry:    append(EncodeTypeSize(PackBlob, 10), compressed(t, []byte("abc"))...),
			contains: "size mismatch",
		},
		{
			name:     "truncated header",
			entry:    []byte{0xb4},
			contains: "truncated",
		},
		{
			name:     "truncated ref base",
			entry:    append(EncodeTypeSize(PackRefDelta, 3), 0x01, 0x02),
			contains: "truncated",
		},
		{
			name:     "ofs distance before pack start",
			entry:    append(EncodeTypeSize(PackOfsDelta, 0), EncodeOfsDeltaDistance(100)...),
			contains: "out of range",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := append(bytes.Clone(header), tt.entry...)
			_, err := DecodePack(data)
			requireFormatError(t, err, tt.contains)
		})
	}
}

func TestDecodePackTruncatedPayload(t *testing.T) {
	data, _ := buildTestPack(t)
	_, err := DecodePack(data[:packHeaderSize+4])
	if err == nil {
		t.Fatal("expected error for truncated payload")
	}
}

func TestNewPackReaderRejectsBadHeader(t *testing.T) {
	_, err := NewPackReader(strings.NewReader("PACK"))
	requireFormatError(t, err, "too short")

	_, err = NewPackReader(strings.NewReader("PACK\x00\x00\x00\x04\x00\x00\x00\x00"))
	requireFormatError(t, err, "version")
}

func TestPackReaderConsumesExactlyCompressedBytes(t *testing.T) {
	// Two entries back to back: if the inflater over-read, the second
	// entry header would be lost.
	var buf bytes.Buffer
	buf.Write(PackHeader{Version: 2, NumObjects: 2}.Marshal())
	for _, payload := range []string{"first", "second"} {
		buf.Write(EncodeTypeSize(PackBlob, uint64(len(payload))))
		zw := zlib.NewWriter(&buf)
		zw.Write([]byte(payload))
		zw.Close()
	}
	pf, err := DecodePack(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodePack: %v", err)
	}
	if string(pf.Objects[0].Data) != "first" || string(pf.Objects[1].Data) != "second" {
		t.Fatalf("objects = %q, %q", pf.Objects[0].Data, pf.Objects[1].Data)
	}
}
