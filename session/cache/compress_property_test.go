package cache

import (
	"testing"

	"pgregory.net/rapid"
)

// TestCompressDecompressRoundTrip asserts decompress(compress(x)) == x
// for arbitrary byte payloads, the round-trip
// invariant spec.md §8 requires of the cache's compression transform.
func TestCompressDecompressRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOf(rapid.Byte()).Draw(t, "data")

		compressed, err := compress(data)
		if err != nil {
			t.Fatalf("compress: %v", err)
		}
		roundTripped, err := decompress(compressed)
		if err != nil {
			t.Fatalf("decompress: %v", err)
		}
		if len(roundTripped) != len(data) {
			t.Fatalf("length mismatch: got %d, want %d", len(roundTripped), len(data))
		}
		for i := range data {
			if roundTripped[i] != data[i] {
				t.Fatalf("byte %d mismatch: got %x, want %x", i, roundTripped[i], data[i])
			}
		}
	})
}
