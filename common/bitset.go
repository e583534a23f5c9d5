package common

import (
	"iter"
	"math/bits"
)

// BitsPerWord is the number of bits stored in each BitSet word.
const BitsPerWord = 64

// BitSet is a dense set of bits, one per primitive index, backed by 64-bit words.
// Concurrent writers are safe only when each one touches a disjoint range of words,
// see WordRange.
type BitSet struct {
	words []uint64
	n     int
}

// NewBitSet creates a cleared BitSet able to hold n bits.
//
// Parameters:
//   - n: number of bits
//
// Returns:
//   - BitSet: the new bitset
func NewBitSet(n int) BitSet {
	return BitSet{words: make([]uint64, DivideAndRoundUp(n, BitsPerWord)), n: n}
}

// Resize changes the number of bits and clears every bit, reusing storage where possible.
func (b *BitSet) Resize(n int) {
	numWords := DivideAndRoundUp(n, BitsPerWord)
	if cap(b.words) >= numWords {
		b.words = b.words[:numWords]
		clear(b.words)
	} else {
		b.words = make([]uint64, numWords)
	}
	b.n = n
}

// Len returns the number of bits in the set.
func (b *BitSet) Len() int {
	return b.n
}

// NumWords returns the number of backing words.
func (b *BitSet) NumWords() int {
	return len(b.words)
}

// Test reports whether bit i is set. Out of range indices report false.
func (b *BitSet) Test(i int) bool {
	if i < 0 || i >= b.n {
		return false
	}
	return b.words[i/BitsPerWord]&(1<<(uint(i)%BitsPerWord)) != 0
}

// Set sets bit i.
func (b *BitSet) Set(i int) {
	b.words[i/BitsPerWord] |= 1 << (uint(i) % BitsPerWord)
}

// Clear clears bit i.
func (b *BitSet) Clear(i int) {
	b.words[i/BitsPerWord] &^= 1 << (uint(i) % BitsPerWord)
}

// SetTo sets or clears bit i.
func (b *BitSet) SetTo(i int, v bool) {
	if v {
		b.Set(i)
	} else {
		b.Clear(i)
	}
}

// Word returns the word at index w.
func (b *BitSet) Word(w int) uint64 {
	return b.words[w]
}

// SetWord overwrites the word at index w. Bits past Len are masked off.
func (b *BitSet) SetWord(w int, v uint64) {
	if w == len(b.words)-1 {
		if tail := b.n % BitsPerWord; tail != 0 {
			v &= (1 << uint(tail)) - 1
		}
	}
	b.words[w] = v
}

// Reset clears every bit.
func (b *BitSet) Reset() {
	clear(b.words)
}

// Count returns the number of set bits.
func (b *BitSet) Count() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Or sets every bit that is set in other. Both sets must have the same length.
func (b *BitSet) Or(other *BitSet) {
	for i := range b.words {
		b.words[i] |= other.words[i]
	}
}

// AndNot clears every bit that is set in other.
func (b *BitSet) AndNot(other *BitSet) {
	for i := range b.words {
		b.words[i] &^= other.words[i]
	}
}

// CopyFrom makes b an exact copy of other.
func (b *BitSet) CopyFrom(other *BitSet) {
	b.Resize(other.n)
	copy(b.words, other.words)
}

// Clone returns an independent copy.
func (b *BitSet) Clone() BitSet {
	c := BitSet{}
	c.CopyFrom(b)
	return c
}

// Equal reports whether both sets have the same length and bits.
func (b *BitSet) Equal(other *BitSet) bool {
	if b.n != other.n {
		return false
	}
	for i := range b.words {
		if b.words[i] != other.words[i] {
			return false
		}
	}
	return true
}

// Bools expands the set into a slice of booleans.
func (b *BitSet) Bools() []bool {
	out := make([]bool, b.n)
	for i := range out {
		out[i] = b.Test(i)
	}
	return out
}

// All iterates the indices of set bits in ascending order.
func (b *BitSet) All() iter.Seq[int] {
	return func(yield func(int) bool) {
		for w, word := range b.words {
			for word != 0 {
				bit := bits.TrailingZeros64(word)
				if !yield(w*BitsPerWord + bit) {
					return
				}
				word &= word - 1
			}
		}
	}
}

// WordRange is a half-open range of bit indices aligned to whole words. Ranges produced by
// SplitWords never share a word, so each may be written by a different goroutine.
type WordRange struct {
	Begin, End int
}

// SplitWords partitions [0, n) into word-aligned ranges of wordsPerRange words each.
//
// Parameters:
//   - n: total number of bits
//   - wordsPerRange: words per range, values below 1 are treated as 1
//
// Returns:
//   - []WordRange: the ranges in ascending order
func SplitWords(n, wordsPerRange int) []WordRange {
	wordsPerRange = max(wordsPerRange, 1)
	bitsPerRange := wordsPerRange * BitsPerWord
	ranges := make([]WordRange, 0, DivideAndRoundUp(n, bitsPerRange))
	for begin := 0; begin < n; begin += bitsPerRange {
		ranges = append(ranges, WordRange{Begin: begin, End: min(begin+bitsPerRange, n)})
	}
	return ranges
}
