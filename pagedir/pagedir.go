// Package pagedir models the hardware page directory of a process: the
// mapping from user pages to physical frames that the MMU walks, including
// the accessed and dirty bits that the MMU sets.
package pagedir

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/sarchlab/vmcore/vm"
)

// An Entry maps a user page to a physical frame.
type Entry struct {
	UPage    uint64
	PAddr    uint64
	Present  bool
	Writable bool
	Accessed bool
	Dirty    bool
}

// AccessResult tells how the MMU handled an access.
type AccessResult int

const (
	// AccessOK means the access went through.
	AccessOK AccessResult = iota

	// AccessNotPresent means no frame is mapped at the address.
	AccessNotPresent

	// AccessReadOnly means a write hit a read-only page.
	AccessReadOnly
)

func (r AccessResult) String() string {
	switch r {
	case AccessOK:
		return "ok"
	case AccessNotPresent:
		return "not present"
	case AccessReadOnly:
		return "read only"
	default:
		return fmt.Sprintf("AccessResult(%d)", int(r))
	}
}

// A Directory holds the page mappings of one process.
//
// Entries are kept both in a list, to walk them in mapping order, and in a
// map, for fast lookups by user page.
type Directory struct {
	sync.Mutex
	pid          vm.PID
	entries      *list.List
	entriesTable map[uint64]*list.Element
}

// New creates an empty page directory.
func New(pid vm.PID) *Directory {
	return &Directory{
		pid:          pid,
		entries:      list.New(),
		entriesTable: make(map[uint64]*list.Element),
	}
}

// PID returns the process that the directory belongs to.
func (d *Directory) PID() vm.PID {
	return d.pid
}

// SetPage maps upage to the frame at paddr. Mapping a page that is already
// present panics.
func (d *Directory) SetPage(upage, paddr uint64, writable bool) {
	pageMustBeAligned(upage)
	pageMustBeAligned(paddr)

	d.Lock()
	defer d.Unlock()

	elem, found := d.entriesTable[upage]
	if found && elem.Value.(*Entry).Present {
		panic(fmt.Sprintf("page %#x of process %d is already mapped",
			upage, d.pid))
	}

	entry := &Entry{
		UPage:    upage,
		PAddr:    paddr,
		Present:  true,
		Writable: writable,
	}

	if found {
		elem.Value = entry
		return
	}

	d.entriesTable[upage] = d.entries.PushBack(entry)
}

// ClearPage marks upage not present. The accessed and dirty bits are kept so
// that they can still be inspected. Clearing an unmapped page does nothing.
func (d *Directory) ClearPage(upage uint64) {
	d.Lock()
	defer d.Unlock()

	elem, found := d.entriesTable[upage]
	if !found {
		return
	}

	elem.Value.(*Entry).Present = false
}

// ClearFrame marks upage not present if it is still mapped to paddr. It
// returns false if upage maps somewhere else or is not mapped at all.
func (d *Directory) ClearFrame(upage, paddr uint64) bool {
	d.Lock()
	defer d.Unlock()

	entry := d.find(upage)
	if entry == nil || !entry.Present || entry.PAddr != paddr {
		return false
	}

	entry.Present = false

	return true
}

// Lookup returns the entry of the page that contains vaddr.
func (d *Directory) Lookup(vaddr uint64) (Entry, bool) {
	d.Lock()
	defer d.Unlock()

	elem, found := d.entriesTable[vm.PageAlign(vaddr)]
	if !found {
		return Entry{}, false
	}

	return *elem.Value.(*Entry), true
}

// IsDirty returns if upage has been written since it was mapped.
func (d *Directory) IsDirty(upage uint64) bool {
	d.Lock()
	defer d.Unlock()

	entry := d.find(upage)

	return entry != nil && entry.Dirty
}

// SetDirty sets the dirty bit of upage.
func (d *Directory) SetDirty(upage uint64, dirty bool) {
	d.Lock()
	defer d.Unlock()

	d.pageMustExist(upage).Dirty = dirty
}

// IsAccessed returns if upage has been accessed since the bit was cleared.
func (d *Directory) IsAccessed(upage uint64) bool {
	d.Lock()
	defer d.Unlock()

	entry := d.find(upage)

	return entry != nil && entry.Accessed
}

// SetAccessed sets the accessed bit of upage.
func (d *Directory) SetAccessed(upage uint64, accessed bool) {
	d.Lock()
	defer d.Unlock()

	d.pageMustExist(upage).Accessed = accessed
}

// Access performs an access to vaddr the way the MMU would. If the access is
// allowed, the accessed bit (and the dirty bit for writes) is set and fn is
// called with the physical address of the frame while the mapping is held
// stable.
func (d *Directory) Access(
	vaddr uint64,
	write bool,
	fn func(paddr uint64),
) AccessResult {
	d.Lock()
	defer d.Unlock()

	entry := d.find(vm.PageAlign(vaddr))
	if entry == nil || !entry.Present {
		return AccessNotPresent
	}

	if write && !entry.Writable {
		return AccessReadOnly
	}

	entry.Accessed = true
	if write {
		entry.Dirty = true
	}

	fn(entry.PAddr)

	return AccessOK
}

// Entries returns a copy of all the entries in mapping order.
func (d *Directory) Entries() []Entry {
	d.Lock()
	defer d.Unlock()

	entries := make([]Entry, 0, d.entries.Len())
	for e := d.entries.Front(); e != nil; e = e.Next() {
		entries = append(entries, *e.Value.(*Entry))
	}

	return entries
}

// NumPresent returns the number of pages that are currently mapped.
func (d *Directory) NumPresent() int {
	d.Lock()
	defer d.Unlock()

	n := 0
	for e := d.entries.Front(); e != nil; e = e.Next() {
		if e.Value.(*Entry).Present {
			n++
		}
	}

	return n
}

// Remove forgets everything about upage.
func (d *Directory) Remove(upage uint64) {
	d.Lock()
	defer d.Unlock()

	elem, found := d.entriesTable[upage]
	if !found {
		return
	}

	d.entries.Remove(elem)
	delete(d.entriesTable, upage)
}

// Destroy removes all the entries.
func (d *Directory) Destroy() {
	d.Lock()
	defer d.Unlock()

	d.entries.Init()
	d.entriesTable = make(map[uint64]*list.Element)
}

func (d *Directory) find(upage uint64) *Entry {
	elem, found := d.entriesTable[upage]
	if !found {
		return nil
	}

	return elem.Value.(*Entry)
}

func (d *Directory) pageMustExist(upage uint64) *Entry {
	entry := d.find(upage)
	if entry == nil {
		panic("page does not exist")
	}

	return entry
}

func pageMustBeAligned(addr uint64) {
	if !vm.IsPageAligned(addr) {
		panic(fmt.Sprintf("address %#x is not page aligned", addr))
	}
}
