package spt

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/sarchlab/vmcore/frame"
	"github.com/sarchlab/vmcore/hooking"
	"github.com/sarchlab/vmcore/pagedir"
	"github.com/sarchlab/vmcore/palloc"
	"github.com/sarchlab/vmcore/swap"
	"github.com/sarchlab/vmcore/vm"
)

// HookPosFault marks the end of a page fault. The detail is the Outcome.
var HookPosFault = &hooking.HookPos{Name: "PageFault"}

// ErrShortRead is returned when a file ends before a page is loaded.
var ErrShortRead = errors.New("file too short to load page")

type entry struct {
	sync.Mutex
	page    Page
	removed bool
}

// A Table is the supplemental page table of one process.
//
// The table lock only guards the map of entries. Each entry has its own lock
// that serializes faulting in, evicting and releasing that page, and that is
// held during the page's I/O.
type Table struct {
	hooking.HookableBase

	lock      sync.Mutex
	pid       vm.PID
	entries   map[uint64]*entry
	destroyed bool

	pagedir *pagedir.Directory
	frames  frame.Table
	swap    swap.Store
}

// NewTable creates an empty supplemental page table for a process.
func NewTable(
	pid vm.PID,
	dir *pagedir.Directory,
	frames frame.Table,
	swapStore swap.Store,
) *Table {
	return &Table{
		pid:     pid,
		entries: make(map[uint64]*entry),
		pagedir: dir,
		frames:  frames,
		swap:    swapStore,
	}
}

// PID returns the process that owns the table.
func (t *Table) PID() vm.PID {
	return t.pid
}

// Insert records a lazily mapped page. No frame is allocated.
func (t *Table) Insert(page Page) {
	t.pageMustBeValid(page)

	if page.Location != LocationSwap {
		page.Slot = swap.NoSlot
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	if t.destroyed {
		panic(fmt.Sprintf("inserting into the destroyed page table of process %d",
			t.pid))
	}

	if _, found := t.entries[page.UPage]; found {
		panic(fmt.Sprintf("page %#x of process %d exists", page.UPage, t.pid))
	}

	t.entries[page.UPage] = &entry{page: page}
}

// Lookup returns the page that contains vaddr.
func (t *Table) Lookup(vaddr uint64) (Page, bool) {
	e := t.find(vm.PageAlign(vaddr))
	if e == nil {
		return Page{}, false
	}

	e.Lock()
	defer e.Unlock()

	if e.removed {
		return Page{}, false
	}

	return e.page, true
}

// Pages returns all the pages sorted by address.
func (t *Table) Pages() []Page {
	t.lock.Lock()
	entries := make([]*entry, 0, len(t.entries))
	for _, e := range t.entries {
		entries = append(entries, e)
	}
	t.lock.Unlock()

	pages := make([]Page, 0, len(entries))
	for _, e := range entries {
		e.Lock()
		if !e.removed {
			pages = append(pages, e.page)
		}
		e.Unlock()
	}

	slices.SortFunc(pages, func(a, b Page) int {
		return cmp.Compare(a.UPage, b.UPage)
	})

	return pages
}

// Len returns the number of pages in the table.
func (t *Table) Len() int {
	t.lock.Lock()
	defer t.lock.Unlock()

	return len(t.entries)
}

// Remove takes the page that contains vaddr out of the table and returns it.
// The caller must Release the frame or the swap slot that the page still
// references. A resident page is returned with its frame pinned.
func (t *Table) Remove(vaddr uint64) (Page, bool) {
	upage := vm.PageAlign(vaddr)

	t.lock.Lock()
	e, found := t.entries[upage]
	delete(t.entries, upage)
	t.lock.Unlock()

	if !found {
		return Page{}, false
	}

	return t.detach(e), true
}

func (t *Table) detach(e *entry) Page {
	e.Lock()
	defer e.Unlock()

	e.removed = true

	if e.page.Resident && !t.frames.Pin(e.page.Frame) {
		// The frame is being evicted. The evictor will find the entry
		// removed and simply take the frame.
		t.pagedir.ClearPage(e.page.UPage)
		e.page.Resident = false
		e.page.Frame = nil
	}

	return e.page
}

// Release gives back what a removed page still holds. A dirty file-mapped
// page is written back to its file first.
func (t *Table) Release(page Page) error {
	if !page.Resident {
		if page.Location == LocationSwap && page.Slot != swap.NoSlot {
			t.swap.Free(page.Slot)
		}

		t.pagedir.Remove(page.UPage)

		return nil
	}

	var err error

	// The mapping goes first so that no write can land after the dirty bit
	// is read.
	t.pagedir.ClearPage(page.UPage)
	dirty := t.pagedir.IsDirty(page.UPage)

	if dirty && page.Location == LocationFilesys {
		err = writeBack(page, page.Frame.Data())
	}

	t.pagedir.Remove(page.UPage)
	t.frames.Free(page.Frame)

	return err
}

// Unmap removes the page that contains vaddr and releases it. It returns
// false if there is no such page.
func (t *Table) Unmap(vaddr uint64) (bool, error) {
	page, found := t.Remove(vaddr)
	if !found {
		return false, nil
	}

	return true, t.Release(page)
}

// Destroy removes and releases every page. Calling Destroy again has no
// effect. The first write-back error, if any, is returned.
func (t *Table) Destroy() error {
	t.lock.Lock()
	if t.destroyed {
		t.lock.Unlock()
		return nil
	}

	t.destroyed = true
	entries := t.entries
	t.entries = nil
	t.lock.Unlock()

	upages := make([]uint64, 0, len(entries))
	for upage := range entries {
		upages = append(upages, upage)
	}
	slices.Sort(upages)

	var firstErr error
	for _, upage := range upages {
		page := t.detach(entries[upage])

		err := t.Release(page)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// Fault handles a page fault at vaddr.
func (t *Table) Fault(vaddr uint64) (Outcome, error) {
	upage := vm.PageAlign(vaddr)
	event := vm.PageEvent{PID: t.pid, UPage: upage, Slot: -1}

	e := t.find(upage)
	if e == nil {
		t.invokeFault(event, OutcomeUnknownAddress)
		return OutcomeUnknownAddress, nil
	}

	e.Lock()
	outcome, err := t.faultIn(e)
	if e.page.Frame != nil {
		event.PAddr = e.page.Frame.PAddr()
	}
	e.Unlock()

	t.invokeFault(event, outcome)

	return outcome, err
}

func (t *Table) faultIn(e *entry) (Outcome, error) {
	if e.removed {
		return OutcomeUnknownAddress, nil
	}

	if e.page.Resident {
		return OutcomeAccessViolation, nil
	}

	page := &e.page
	f := t.frames.Allocate(t, page.UPage, palloc.FlagNone)

	err := t.load(page, f.Data())
	if err != nil {
		t.frames.Free(f)
		return OutcomeFailed, fmt.Errorf("process %d: load page %#x: %w",
			t.pid, page.UPage, err)
	}

	t.pagedir.SetPage(page.UPage, f.PAddr(), page.Writable)
	if page.Location == LocationSwap {
		// Reading the slot freed it, so the frame holds the only copy.
		t.pagedir.SetDirty(page.UPage, true)
	}

	page.Resident = true
	page.Frame = f
	page.Slot = swap.NoSlot

	t.frames.Unpin(f)

	return OutcomeResolved, nil
}

func (t *Table) load(page *Page, data []byte) error {
	switch page.Location {
	case LocationNone:
		clear(data)
	case LocationSwap:
		t.swap.Read(page.Slot, data)
	case LocationFilesys, LocationExecutable:
		n, err := page.File.ReadAt(data[:page.ReadBytes], page.Offset)
		if n < page.ReadBytes {
			if err == nil || errors.Is(err, io.EOF) {
				err = ErrShortRead
			}

			return err
		}

		clear(data[page.ReadBytes:])
	default:
		panic(fmt.Sprintf("unknown page location %v", page.Location))
	}

	return nil
}

// IsAccessed checks the accessed bit of upage.
func (t *Table) IsAccessed(upage uint64) bool {
	return t.pagedir.IsAccessed(upage)
}

// ClearAccessed clears the accessed bit of upage.
func (t *Table) ClearAccessed(upage uint64) {
	t.pagedir.SetAccessed(upage, false)
}

// Evict detaches a page from its frame. Dirty file-mapped pages are written
// back, other dirty pages are moved to swap and clean pages that can be
// loaded again are discarded.
func (t *Table) Evict(f *frame.Frame) {
	e := t.find(f.UPage())
	if e == nil {
		// Removed, but not yet detached.
		t.pagedir.ClearFrame(f.UPage(), f.PAddr())
		return
	}

	e.Lock()
	defer e.Unlock()

	if e.removed || e.page.Frame != f {
		t.pagedir.ClearFrame(f.UPage(), f.PAddr())
		return
	}

	page := &e.page

	t.pagedir.ClearPage(page.UPage)
	dirty := t.pagedir.IsDirty(page.UPage)

	switch {
	case dirty && page.Location == LocationFilesys:
		err := writeBack(*page, f.Data())
		if err != nil {
			panic(fmt.Sprintf("process %d: write back page %#x: %v",
				t.pid, page.UPage, err))
		}
	case dirty:
		page.Slot = t.swap.Write(f.Data())
		page.Location = LocationSwap
	}

	page.Resident = false
	page.Frame = nil
}

func (t *Table) find(upage uint64) *entry {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.entries[upage]
}

func (t *Table) pageMustBeValid(page Page) {
	if !vm.IsPageAligned(page.UPage) || !vm.IsUserAddr(page.UPage) {
		panic(fmt.Sprintf("%#x is not a user page", page.UPage))
	}

	if page.Resident || page.Frame != nil {
		panic("inserted pages must not be resident")
	}

	switch page.Location {
	case LocationNone:
	case LocationSwap:
		if !t.swap.IsOccupied(page.Slot) {
			panic(fmt.Sprintf("swap slot %d is not in use", page.Slot))
		}
	case LocationFilesys, LocationExecutable:
		if page.File == nil {
			panic("file-backed pages need a file")
		}

		if page.ReadBytes < 0 || page.ReadBytes > vm.PageSize {
			panic(fmt.Sprintf("cannot read %d bytes into a page", page.ReadBytes))
		}
	default:
		panic(fmt.Sprintf("unknown page location %v", page.Location))
	}
}

func (t *Table) invokeFault(event vm.PageEvent, outcome Outcome) {
	if t.NumHooks() == 0 {
		return
	}

	t.InvokeHook(hooking.HookCtx{
		Domain: t,
		Pos:    HookPosFault,
		Item:   event,
		Detail: outcome,
	})
}

func writeBack(page Page, data []byte) error {
	_, err := page.File.WriteAt(data[:page.ReadBytes], page.Offset)
	return err
}
