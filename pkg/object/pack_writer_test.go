package object

import (
	"bytes"
	"crypto/sha1"
	"testing"
)

func TestPackWriterSingleBlob(t *testing.T) {
	var buf bytes.Buffer
	pw, err := NewPackWriter(&buf, 1)
	if err != nil {
		t.Fatalf("NewPackWriter: %v", err)
	}

	blobData := []byte("hello world")
	if err := pw.WriteObject(&Object{Type: TypeBlob, Content: blobData}); err != nil {
		t.Fatalf("WriteObject: %v", err)
	}

	checksum, err := pw.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	data := buf.Bytes()
	if len(data) <= packHeaderSize+HashSize {
		t.Fatalf("pack output too short: %d", len(data))
	}
	body := data[:len(data)-HashSize]
	if want := sha1.Sum(body); checksum != Hash(want) {
		t.Fatalf("checksum = %s, want %x", checksum, want)
	}
	if !bytes.Equal(data[len(data)-HashSize:], checksum[:]) {
		t.Fatal("trailer bytes do not match returned checksum")
	}

	header, err := UnmarshalPackHeader(data[:packHeaderSize])
	if err != nil {
		t.Fatalf("UnmarshalPackHeader: %v", err)
	}
	if header.NumObjects != 1 {
		t.Fatalf("NumObjects = %d, want 1", header.NumObjects)
	}
}

func TestPackWriterCountMismatch(t *testing.T) {
	var buf bytes.Buffer
	pw, err := NewPackWriter(&buf, 2)
	if err != nil {
		t.Fatalf("NewPackWriter: %v", err)
	}
	if err := pw.WriteEntry(PackBlob, []byte("data")); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}
	if _, err := pw.Finish(); err == nil {
		t.Fatal("expected count mismatch error")
	}
}

func TestPackWriterRejectsExtraEntries(t *testing.T) {
	var buf bytes.Buffer
	pw, err := NewPackWriter(&buf, 1)
	if err != nil {
		t.Fatalf("NewPackWriter: %v", err)
	}
	if err := pw.WriteEntry(PackBlob, []byte("one")); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}
	if err := pw.WriteEntry(PackBlob, []byte("two")); err == nil {
		t.Fatal("expected object count exceeded error")
	}
}

func TestPackWriterRejectsDeltaTypeInWriteEntry(t *testing.T) {
	var buf bytes.Buffer
	pw, err := NewPackWriter(&buf, 1)
	if err != nil {
		t.Fatalf("NewPackWriter: %v", err)
	}
	if err := pw.WriteEntry(PackRefDelta, []byte("x")); err == nil {
		t.Fatal("expected error writing a delta through WriteEntry")
	}
}

func TestPackWriterOfsDeltaNeedsEarlierBase(t *testing.T) {
	var buf bytes.Buffer
	pw, err := NewPackWriter(&buf, 1)
	if err != nil {
		t.Fatalf("NewPackWriter: %v", err)
	}
	if err := pw.WriteOfsDelta(pw.CurrentOffset(), []byte{0, 0}); err == nil {
		t.Fatal("expected error for base offset at current position")
	}
}

func TestPackWriterFinishTwice(t *testing.T) {
	var buf bytes.Buffer
	pw, err := NewPackWriter(&buf, 0)
	if err != nil {
		t.Fatalf("NewPackWriter: %v", err)
	}
	if _, err := pw.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if _, err := pw.Finish(); err == nil {
		t.Fatal("expected error on second Finish")
	}
	if err := pw.WriteEntry(PackBlob, nil); err == nil {
		t.Fatal("expected error writing after Finish")
	}
}
