package table

import (
	"bytes"
	"testing"
)

// FuzzRoundTrip tests that encoding and decoding reproduces any word
// sequence bit-for-bit.
func FuzzRoundTrip(f *testing.F) {
	// Add seed corpus spanning chunk boundaries
	f.Add([]byte{})
	f.Add([]byte{1, 2, 3, 4})
	f.Add(bytes.Repeat([]byte{0xAA}, ChunkSize))
	f.Add(bytes.Repeat([]byte{0x55}, ChunkSize+4))
	f.Add(make([]byte, 3*ChunkSize))

	f.Fuzz(func(t *testing.T, data []byte) {
		// Truncate to whole words; the codec only carries 32-bit content
		data = data[:len(data)-len(data)%4]
		words, err := Unmarshal(data)
		if err != nil {
			t.Fatalf("Unmarshal failed on aligned data: %v", err)
		}

		lines := Encode("SEQ1.TABLE", words, StreamContinue)
		decoded, err := Decode(lines)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}

		if !bytes.Equal(Marshal(decoded), data) {
			t.Errorf("round trip mismatch: got %d words, want %d", len(decoded), len(words))
		}
	})
}

// FuzzDecode tests that the decoder handles arbitrary line content
// gracefully without panicking.
func FuzzDecode(f *testing.F) {
	f.Add("SEQ1.TABLE<B")
	f.Add("AAAA")
	f.Add("")
	f.Add("not base64 at all")

	f.Fuzz(func(_ *testing.T, line string) {
		_, _ = Decode([]string{line})
	})
}
