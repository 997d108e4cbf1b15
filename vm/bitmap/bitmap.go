// Package bitmap provides a fixed-size array of bits used to track the
// occupancy of physical pages and swap slots.
//
// A Bitmap is not safe for concurrent use. Owners guard it with their own
// lock.
package bitmap

import (
	"fmt"
	"math/bits"
)

// NotFound is returned by the scan functions when no group of bits matches.
const NotFound = -1

const wordBits = 64

// A Bitmap is a fixed-size sequence of bits.
type Bitmap struct {
	size  int
	words []uint64
}

// New creates a bitmap of size bits, all cleared.
func New(size int) *Bitmap {
	if size < 0 {
		panic("bitmap size must not be negative")
	}

	return &Bitmap{
		size:  size,
		words: make([]uint64, (size+wordBits-1)/wordBits),
	}
}

// Size returns the number of bits in the bitmap.
func (b *Bitmap) Size() int {
	return b.size
}

// Set sets the bit at idx to value.
func (b *Bitmap) Set(idx int, value bool) {
	if value {
		b.Mark(idx)
	} else {
		b.Reset(idx)
	}
}

// Mark sets the bit at idx to true.
func (b *Bitmap) Mark(idx int) {
	b.indexMustBeValid(idx)
	b.words[idx/wordBits] |= 1 << (idx % wordBits)
}

// Reset sets the bit at idx to false.
func (b *Bitmap) Reset(idx int) {
	b.indexMustBeValid(idx)
	b.words[idx/wordBits] &^= 1 << (idx % wordBits)
}

// Test returns the value of the bit at idx.
func (b *Bitmap) Test(idx int) bool {
	b.indexMustBeValid(idx)
	return b.words[idx/wordBits]&(1<<(idx%wordBits)) != 0
}

// SetAll sets every bit to value.
func (b *Bitmap) SetAll(value bool) {
	var w uint64
	if value {
		w = ^uint64(0)
	}

	for i := range b.words {
		b.words[i] = w
	}

	b.clearTail()
}

// Count returns the number of bits set to true.
func (b *Bitmap) Count() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}

	return n
}

// Scan returns the index of the first group of cnt consecutive bits, starting
// at or after start, that are all equal to value. It returns NotFound if
// there is no such group.
func (b *Bitmap) Scan(start, cnt int, value bool) int {
	if cnt <= 0 || start < 0 {
		return NotFound
	}

	run := 0
	for i := start; i < b.size; i++ {
		if b.Test(i) != value {
			run = 0
			continue
		}

		run++
		if run == cnt {
			return i - cnt + 1
		}
	}

	return NotFound
}

// ScanAndFlip finds a group as Scan does and flips all of its bits to !value.
// It returns the index of the first bit of the group, or NotFound.
func (b *Bitmap) ScanAndFlip(start, cnt int, value bool) int {
	idx := b.Scan(start, cnt, value)
	if idx == NotFound {
		return NotFound
	}

	for i := idx; i < idx+cnt; i++ {
		b.Set(i, !value)
	}

	return idx
}

func (b *Bitmap) clearTail() {
	rem := b.size % wordBits
	if rem == 0 || len(b.words) == 0 {
		return
	}

	b.words[len(b.words)-1] &= (1 << rem) - 1
}

func (b *Bitmap) indexMustBeValid(idx int) {
	if idx < 0 || idx >= b.size {
		panic(fmt.Sprintf("bit %d out of range [0, %d)", idx, b.size))
	}
}
