package object

import (
	"crypto/rand"
	"testing"
)

// BenchmarkStoreWriteSmall benchmarks writing a 100-byte blob to the store.
func BenchmarkStoreWriteSmall(b *testing.B) {
	benchmarkStoreWrite(b, 100)
}

// BenchmarkStoreWriteLarge benchmarks writing a 100KB blob to the store.
func BenchmarkStoreWriteLarge(b *testing.B) {
	benchmarkStoreWrite(b, 100*1024)
}

func benchmarkStoreWrite(b *testing.B, size int) {
	s := NewStore(b.TempDir())

	// Distinct payloads so each write misses the Has() fast path.
	payloads := make([][]byte, b.N)
	for i := range payloads {
		buf := make([]byte, size)
		if _, err := rand.Read(buf); err != nil {
			b.Fatalf("rand.Read: %v", err)
		}
		payloads[i] = buf
	}

	b.ReportAllocs()
	b.SetBytes(int64(size))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Write(TypeBlob, payloads[i]); err != nil {
			b.Fatalf("Write: %v", err)
		}
	}
}

func BenchmarkStoreReadBlob(b *testing.B) {
	s := NewStore(b.TempDir())
	payload := []byte("package main\n\nfunc main() { println(\"hello\") }\n")
	h, err := s.Write(TypeBlob, payload)
	if err != nil {
		b.Fatalf("Write: %v", err)
	}

	b.SetBytes(int64(len(payload)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		obj, err := s.Read(h)
		if err != nil {
			b.Fatalf("Read: %v", err)
		}
		if len(obj.Content) != len(payload) {
			b.Fatalf("len = %d, want %d", len(obj.Content), len(payload))
		}
	}
}
