// Package frame keeps the frame table: the record of every physical frame
// that currently backs a user page. When physical memory runs out, the frame
// table evicts a frame to make room.
package frame

import (
	"github.com/sarchlab/vmcore/vm"
)

// An Owner is the address space that a frame is mapped into.
type Owner interface {
	// PID returns the process that owns the address space.
	PID() vm.PID

	// IsAccessed checks the accessed bit of upage.
	IsAccessed(upage uint64) bool

	// ClearAccessed clears the accessed bit of upage.
	ClearAccessed(upage uint64)

	// Evict detaches upage from the frame f, preserving the content
	// somewhere it can be faulted back from if needed. The frame is pinned
	// while Evict runs. The owner must check that upage is still bound to f
	// since it may have been released concurrently.
	Evict(f *Frame)
}

// A Frame is a physical page that is assigned to a user page.
type Frame struct {
	paddr uint64
	upage uint64
	owner Owner
	data  []byte

	// The fields below are guarded by the frame table lock.
	pinned   bool
	evicting bool
	released bool
}

// PAddr returns the physical address of the frame.
func (f *Frame) PAddr() uint64 {
	return f.paddr
}

// UPage returns the user page that the frame backs.
func (f *Frame) UPage() uint64 {
	return f.upage
}

// Owner returns the address space that the frame is mapped into.
func (f *Frame) Owner() Owner {
	return f.owner
}

// Data returns the content of the frame.
func (f *Frame) Data() []byte {
	return f.data
}

// Pinned tells if the frame can not be evicted. Victim finders call it with
// the frame table locked; anyone else may see a stale value.
func (f *Frame) Pinned() bool {
	return f.pinned
}

// A Record is a copy of the bookkeeping of a frame.
type Record struct {
	PAddr  uint64 `json:"paddr"`
	PID    vm.PID `json:"pid"`
	UPage  uint64 `json:"upage"`
	Pinned bool   `json:"pinned"`
}

// Stats counts the operations of a frame table.
type Stats struct {
	Allocations uint64 `json:"allocations"`
	Evictions   uint64 `json:"evictions"`
	Frees       uint64 `json:"frees"`
}
