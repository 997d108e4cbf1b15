// Package palloc is the physical page allocator for the user pool. It hands
// out page-aligned physical addresses and keeps the content of each page.
package palloc

import (
	"fmt"
	"sync"

	"github.com/sarchlab/vmcore/vm"
	"github.com/sarchlab/vmcore/vm/bitmap"
)

// Flags changes how a page is allocated.
type Flags uint8

const (
	// FlagNone requests a page with unspecified content.
	FlagNone Flags = 0

	// FlagZero requests a page filled with zeros.
	FlagZero Flags = 1
)

// An Allocator provides physical pages.
type Allocator interface {
	// AllocPage returns the address of a free page. The bool return value is
	// false if the pool is exhausted.
	AllocPage(flags Flags) (uint64, bool)

	// FreePage returns a page to the pool.
	FreePage(paddr uint64)

	// Page returns the bytes of an allocated page.
	Page(paddr uint64) []byte

	// NumPages returns the total number of pages in the pool.
	NumPages() int

	// NumFree returns the number of pages that can still be allocated.
	NumFree() int
}

// Pool allocates pages from a contiguous range of physical memory.
type Pool struct {
	lock    sync.Mutex
	base    uint64
	used    *bitmap.Bitmap
	storage *Storage
}

// NewPool creates a pool of numPages pages starting at base.
func NewPool(base uint64, numPages int) *Pool {
	return &Pool{
		base:    base,
		used:    bitmap.New(numPages),
		storage: NewStorage(base, uint64(numPages)*vm.PageSize),
	}
}

// AllocPage takes the lowest free page out of the pool.
func (p *Pool) AllocPage(flags Flags) (uint64, bool) {
	p.lock.Lock()
	idx := p.used.ScanAndFlip(0, 1, false)
	p.lock.Unlock()

	if idx == bitmap.NotFound {
		return 0, false
	}

	paddr := p.base + uint64(idx)*vm.PageSize
	if flags&FlagZero != 0 {
		clear(p.storage.Unit(paddr))
	}

	return paddr, true
}

// FreePage returns a page to the pool. Freeing a page that is not allocated
// panics.
func (p *Pool) FreePage(paddr uint64) {
	idx := p.index(paddr)

	p.lock.Lock()
	defer p.lock.Unlock()

	if !p.used.Test(idx) {
		panic(fmt.Sprintf("double free of physical page %#x", paddr))
	}

	p.used.Reset(idx)
}

// Page returns the bytes of an allocated page.
func (p *Pool) Page(paddr uint64) []byte {
	p.index(paddr)
	return p.storage.Unit(paddr)
}

// NumPages returns the total number of pages in the pool.
func (p *Pool) NumPages() int {
	return p.used.Size()
}

// NumFree returns the number of pages that can still be allocated.
func (p *Pool) NumFree() int {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.used.Size() - p.used.Count()
}

func (p *Pool) index(paddr uint64) int {
	if !vm.IsPageAligned(paddr) || paddr < p.base {
		panic(fmt.Sprintf("%#x is not a page of this pool", paddr))
	}

	idx := int((paddr - p.base) >> vm.Log2PageSize)
	if idx >= p.used.Size() {
		panic(fmt.Sprintf("%#x is not a page of this pool", paddr))
	}

	return idx
}
