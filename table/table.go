// Package table encodes ordered 32-bit word sequences into the device's
// chunked table-write framing and decodes them back.
//
// A table write is a short line-oriented session on the control channel:
//
//	<path><suffix>B      open line; suffix selects the write mode
//	<base64 chunk>       one or more encoded data lines
//	...
//	                     blank line terminates the write
//
// The word content is reinterpreted as raw little-endian bytes and split
// into fixed-size chunks before base64 encoding, so that each encoded line
// stays under the device's line-length limit.
package table

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// ChunkSize is the raw byte count encoded per data line. 191 bytes keeps the
// base64-encoded line under the device's line-length limit.
const ChunkSize = 191

var (
	// ErrMisaligned is returned when decoded table data is not a whole
	// number of 32-bit words.
	ErrMisaligned = errors.New("table data not 32-bit aligned")
)

// Mode selects the table-write framing suffix.
type Mode int

const (
	// Single replaces the table in one non-streaming write.
	Single Mode = iota
	// StreamFirst opens a streaming session with the first block.
	StreamFirst
	// StreamContinue appends an intermediate block to a streaming session.
	StreamContinue
	// StreamLast appends the final block and closes the streaming session.
	StreamLast
)

// String returns a string representation of the mode.
func (m Mode) String() string {
	switch m {
	case Single:
		return "Single"
	case StreamFirst:
		return "StreamFirst"
	case StreamContinue:
		return "StreamContinue"
	case StreamLast:
		return "StreamLast"
	default:
		return fmt.Sprintf("Unknown(%d)", int(m))
	}
}

// Suffix returns the wire suffix for the mode. The mapping is device
// firmware convention: verify against the target before changing it.
func (m Mode) Suffix() string {
	switch m {
	case StreamFirst, StreamContinue:
		return "<<"
	case StreamLast:
		return "<<|"
	default:
		return "<"
	}
}

// Streaming reports whether the mode takes part in a streaming session.
func (m Mode) Streaming() bool { return m != Single }

// Marshal reinterprets words as their raw little-endian byte representation.
func Marshal(words []uint32) []byte {
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	return buf
}

// Unmarshal reinterprets raw bytes as little-endian 32-bit words.
// The length of data must be a multiple of 4.
func Unmarshal(data []byte) ([]uint32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMisaligned, len(data))
	}
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[4*i:])
	}
	return words, nil
}

// Encode produces the complete command-line sequence for one table write:
// the open line, the base64 data lines, and the blank terminator.
func Encode(path string, words []uint32, mode Mode) []string {
	raw := Marshal(words)
	lines := make([]string, 0, 2+(len(raw)+ChunkSize-1)/ChunkSize)
	lines = append(lines, path+mode.Suffix()+"B")
	for i := 0; i < len(raw); i += ChunkSize {
		end := i + ChunkSize
		if end > len(raw) {
			end = len(raw)
		}
		lines = append(lines, base64.StdEncoding.EncodeToString(raw[i:end]))
	}
	lines = append(lines, "")
	return lines
}

// Decode reverses Encode for the data lines of one table write. It accepts
// the full line sequence produced by Encode (open line and terminator are
// skipped) or just the base64 data lines.
func Decode(lines []string) ([]uint32, error) {
	var raw []byte
	for _, line := range lines {
		// The open line always carries the '<' suffix; data lines are
		// pure base64 and the terminator is empty.
		if line == "" || strings.ContainsRune(line, '<') {
			continue
		}
		chunk, err := base64.StdEncoding.DecodeString(line)
		if err != nil {
			return nil, fmt.Errorf("decode table chunk: %w", err)
		}
		raw = append(raw, chunk...)
	}
	return Unmarshal(raw)
}
