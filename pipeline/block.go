package pipeline

import (
	"math/rand"
)

// seqWordsPerLine is the table row width of the sequencer block: one
// control word, two timing words and one spare.
const seqWordsPerLine = 4

// Block is one ordered unit of table data plus the output values the
// device is expected to reproduce for it. Blocks are immutable after
// creation: produced once, injected once, checked once.
type Block struct {
	Index    int
	Words    []uint32
	Expected []uint32
}

// newSeqBlock generates one sequencer table block of lines rows. Each row
// drives a random 6-bit value on the OUT bus: the value sits in bits 20-25
// of the control word, with trigger-immediate and time fields set so every
// clock tick emits one row.
func newSeqBlock(index, lines int, outTicks uint32) Block {
	words := make([]uint32, lines*seqWordsPerLine)
	expected := make([]uint32, lines)
	for j := 0; j < lines; j++ {
		val := uint32(rand.Intn(64))
		words[j*seqWordsPerLine+0] = 0x20001 | val<<20
		words[j*seqWordsPerLine+1] = 0
		words[j*seqWordsPerLine+2] = outTicks
		words[j*seqWordsPerLine+3] = 0
		expected[j] = val
	}
	return Block{Index: index, Words: words, Expected: expected}
}

// newCounterBlock generates one position-generator block: lines consecutive
// 32-bit counter values starting at start, wrapping at 2^32. The expected
// outputs are the words themselves, so both injector and checker can derive
// the sequence deterministically from the block index alone.
func newCounterBlock(index, lines int, start uint32) Block {
	words := make([]uint32, lines)
	for j := range words {
		words[j] = start + uint32(j)
	}
	return Block{Index: index, Words: words, Expected: words}
}

// decodeBits recovers a sequencer output value from one captured BITSx
// word, given the bit offset of each OUT line within the word.
func decodeBits(word uint32, offsets []int64) uint32 {
	var val uint32
	for i, off := range offsets {
		if word&(1<<uint(off)) != 0 {
			val |= 1 << uint(i)
		}
	}
	return val
}
