package table

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordsPerChunk is where the chunk boundary falls in words: 48 words is the
// first count whose byte length exceeds one 191-byte chunk.
const wordsPerChunk = ChunkSize / 4 // 47

func sequence(n int) []uint32 {
	words := make([]uint32, n)
	for i := range words {
		words[i] = uint32(i * 0x01010101)
	}
	return words
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		words []uint32
	}{
		{name: "empty", words: nil},
		{name: "single word", words: []uint32{0xdeadbeef}},
		{name: "below chunk boundary", words: sequence(wordsPerChunk - 1)},
		{name: "at chunk boundary", words: sequence(wordsPerChunk)},
		{name: "above chunk boundary", words: sequence(wordsPerChunk + 1)},
		{name: "several chunks", words: sequence(1000)},
		{name: "extreme values", words: []uint32{0, 0xffffffff, 1, 0x80000000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := Encode("SEQ1.TABLE", tt.words, Single)
			decoded, err := Decode(lines)
			require.NoError(t, err)
			if len(tt.words) == 0 {
				assert.Empty(t, decoded)
			} else {
				assert.Equal(t, tt.words, decoded)
			}
		})
	}
}

func TestEncodeFraming(t *testing.T) {
	words := sequence(1000) // 4000 bytes, 21 chunks
	lines := Encode("PGEN1.TABLE", words, Single)

	require.GreaterOrEqual(t, len(lines), 3)
	assert.Equal(t, "PGEN1.TABLE<B", lines[0])
	assert.Equal(t, "", lines[len(lines)-1])

	wantChunks := (4*len(words) + ChunkSize - 1) / ChunkSize
	assert.Len(t, lines, wantChunks+2)

	// Every data line must stay under the device's line-length limit.
	for _, line := range lines[1 : len(lines)-1] {
		assert.LessOrEqual(t, len(line), base64.StdEncoding.EncodedLen(ChunkSize))
		_, err := base64.StdEncoding.DecodeString(line)
		assert.NoError(t, err)
	}

	// All chunks except the last carry exactly ChunkSize raw bytes.
	for _, line := range lines[1 : len(lines)-2] {
		raw, err := base64.StdEncoding.DecodeString(line)
		require.NoError(t, err)
		assert.Len(t, raw, ChunkSize)
	}
}

func TestModeSuffixes(t *testing.T) {
	tests := []struct {
		mode      Mode
		suffix    string
		streaming bool
	}{
		{Single, "<", false},
		{StreamFirst, "<<", true},
		{StreamContinue, "<<", true},
		{StreamLast, "<<|", true},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			assert.Equal(t, tt.suffix, tt.mode.Suffix())
			assert.Equal(t, tt.streaming, tt.mode.Streaming())

			lines := Encode("SEQ1.TABLE", []uint32{1}, tt.mode)
			assert.Equal(t, "SEQ1.TABLE"+tt.suffix+"B", lines[0])
		})
	}
}

func TestMarshalLittleEndian(t *testing.T) {
	raw := Marshal([]uint32{0x04030201})
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, raw)
}

func TestUnmarshalMisaligned(t *testing.T) {
	_, err := Unmarshal([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMisaligned)
}

func TestDecodeBadBase64(t *testing.T) {
	_, err := Decode([]string{"SEQ1.TABLE<B", "not*base64!", ""})
	assert.Error(t, err)
}
