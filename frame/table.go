package frame

import (
	"fmt"
	"slices"
	"sync"

	"github.com/sarchlab/vmcore/hooking"
	"github.com/sarchlab/vmcore/palloc"
	"github.com/sarchlab/vmcore/vm"
)

// HookPosAllocate marks a frame being assigned to a user page.
var HookPosAllocate = &hooking.HookPos{Name: "FrameAllocate"}

// HookPosEvict marks a frame being taken away from its user page.
var HookPosEvict = &hooking.HookPos{Name: "FrameEvict"}

// HookPosFree marks a frame being released by its owner.
var HookPosFree = &hooking.HookPos{Name: "FrameFree"}

// A Table tracks all the frames allocated to user pages.
type Table interface {
	hooking.Hookable

	// Allocate assigns a physical frame to upage of owner, evicting another
	// frame if physical memory is exhausted. The frame is returned pinned and
	// the caller must Unpin it once its content is in place. Allocate panics
	// if no frame can be evicted.
	Allocate(owner Owner, upage uint64, flags palloc.Flags) *Frame

	// Free removes the frame from the table and releases the physical page.
	// Freeing a frame that is not in the table panics.
	Free(f *Frame)

	// Pin prevents a frame from being evicted. It returns false if the frame
	// is no longer in the table or is being evicted.
	Pin(f *Frame) bool

	// Unpin allows a frame to be evicted again.
	Unpin(f *Frame)

	// ReleaseOwner frees every frame that belongs to a process and returns
	// the number of frames freed.
	ReleaseOwner(pid vm.PID) int

	// Snapshot returns a copy of all the frame records.
	Snapshot() []Record

	// NumFrames returns the number of allocated frames.
	NumFrames() int

	// Stats returns the number of operations performed so far.
	Stats() Stats
}

// NewTable creates a frame table that takes physical pages from allocator.
func NewTable(allocator palloc.Allocator, victimFinder VictimFinder) Table {
	return &table{
		allocator:    allocator,
		victimFinder: victimFinder,
		byAddr:       make(map[uint64]*Frame),
	}
}

type table struct {
	hooking.HookableBase

	lock         sync.Mutex
	allocator    palloc.Allocator
	victimFinder VictimFinder
	frames       []*Frame
	byAddr       map[uint64]*Frame
	stats        Stats
}

func (t *table) Allocate(owner Owner, upage uint64, flags palloc.Flags) *Frame {
	var victim *Frame

	paddr, ok := t.allocator.AllocPage(flags)
	if !ok {
		victim, ok = t.evict(flags)
		if ok {
			paddr = victim.paddr
		} else {
			// Some frame may have been freed since the allocator said no.
			paddr, ok = t.allocator.AllocPage(flags)
		}
	}

	if !ok {
		panic("frame table exhausted: every frame is pinned")
	}

	f := &Frame{
		paddr:  paddr,
		upage:  upage,
		owner:  owner,
		data:   t.allocator.Page(paddr),
		pinned: true,
	}

	t.insert(f, victim)

	if victim != nil {
		t.invoke(HookPosEvict, victim)
	}

	t.invoke(HookPosAllocate, f)

	return f
}

// insert adds f to the table. A frame that reuses the physical page of an
// evicted victim takes the victim's place, so that the clock hand keeps
// sweeping the frames in the same order.
func (t *table) insert(f, victim *Frame) {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.stats.Allocations++

	if victim != nil && !victim.released {
		idx := slices.Index(t.frames, victim)
		t.frames[idx] = f
		t.byAddr[f.paddr] = f

		return
	}

	t.frameMustNotBeInTable(f.paddr)
	t.frames = append(t.frames, f)
	t.byAddr[f.paddr] = f
}

// evict takes a frame away from its owner. The victim stays in the table,
// pinned, until the new frame replaces it.
func (t *table) evict(flags palloc.Flags) (*Frame, bool) {
	t.lock.Lock()

	victim, found := t.victimFinder.FindVictim(t.frames)
	if !found {
		t.lock.Unlock()
		return nil, false
	}

	victim.pinned = true
	victim.evicting = true
	t.stats.Evictions++
	t.lock.Unlock()

	victim.owner.Evict(victim)

	if flags&palloc.FlagZero != 0 {
		clear(victim.data)
	}

	return victim, true
}

func (t *table) Free(f *Frame) {
	t.lock.Lock()

	if t.byAddr[f.paddr] != f {
		t.lock.Unlock()
		panic(fmt.Sprintf("frame %#x is not in the frame table", f.paddr))
	}

	handOver := t.release(f)
	t.lock.Unlock()

	if !handOver {
		t.allocator.FreePage(f.paddr)
	}

	t.invoke(HookPosFree, f)
}

// release removes f from the table. If f is being evicted, the physical page
// is handed over to the evicting thread and release returns true.
func (t *table) release(f *Frame) bool {
	t.remove(f)
	t.stats.Frees++

	if f.evicting {
		f.released = true
		return true
	}

	return false
}

func (t *table) Pin(f *Frame) bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.byAddr[f.paddr] != f || f.evicting {
		return false
	}

	f.pinned = true

	return true
}

func (t *table) Unpin(f *Frame) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if f.evicting {
		return
	}

	f.pinned = false
}

func (t *table) ReleaseOwner(pid vm.PID) int {
	t.lock.Lock()

	var released, toFree []*Frame
	for _, f := range slices.Clone(t.frames) {
		if f.owner.PID() != pid {
			continue
		}

		released = append(released, f)
		if !t.release(f) {
			toFree = append(toFree, f)
		}
	}

	t.lock.Unlock()

	for _, f := range toFree {
		t.allocator.FreePage(f.paddr)
	}

	for _, f := range released {
		t.invoke(HookPosFree, f)
	}

	return len(released)
}

func (t *table) Snapshot() []Record {
	t.lock.Lock()
	defer t.lock.Unlock()

	records := make([]Record, 0, len(t.frames))
	for _, f := range t.frames {
		records = append(records, Record{
			PAddr:  f.paddr,
			PID:    f.owner.PID(),
			UPage:  f.upage,
			Pinned: f.pinned,
		})
	}

	return records
}

func (t *table) NumFrames() int {
	t.lock.Lock()
	defer t.lock.Unlock()

	return len(t.frames)
}

func (t *table) Stats() Stats {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.stats
}

func (t *table) remove(f *Frame) {
	idx := slices.Index(t.frames, f)
	if idx < 0 {
		panic(fmt.Sprintf("frame %#x is not in the frame table", f.paddr))
	}

	t.frames = slices.Delete(t.frames, idx, idx+1)
	delete(t.byAddr, f.paddr)
}

func (t *table) frameMustNotBeInTable(paddr uint64) {
	if _, found := t.byAddr[paddr]; found {
		panic(fmt.Sprintf("frame %#x is already in the frame table", paddr))
	}
}

func (t *table) invoke(pos *hooking.HookPos, f *Frame) {
	if t.NumHooks() == 0 {
		return
	}

	t.InvokeHook(hooking.HookCtx{
		Domain: t,
		Pos:    pos,
		Item: vm.PageEvent{
			PID:   f.owner.PID(),
			UPage: f.upage,
			PAddr: f.paddr,
			Slot:  -1,
		},
	})
}
