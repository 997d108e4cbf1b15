// Package swap manages the swap area: a block device divided into page-sized
// slots that hold the content of evicted pages.
package swap

import (
	"fmt"
	"sync"

	"github.com/sarchlab/vmcore/blockdev"
	"github.com/sarchlab/vmcore/hooking"
	"github.com/sarchlab/vmcore/vm"
	"github.com/sarchlab/vmcore/vm/bitmap"
)

// A Slot identifies a page-sized region of the swap device.
type Slot int64

// NoSlot is the slot of pages that are not in swap.
const NoSlot Slot = -1

// HookPosSwapOut marks a page being written to a slot.
var HookPosSwapOut = &hooking.HookPos{Name: "SwapOut"}

// HookPosSwapIn marks a slot being read back into a page.
var HookPosSwapIn = &hooking.HookPos{Name: "SwapIn"}

// HookPosSwapFree marks a slot being released without being read.
var HookPosSwapFree = &hooking.HookPos{Name: "SwapFree"}

// A Store moves page content to and from the swap device.
//
// A slot is occupied exactly when it holds the only copy of a page. Reading a
// slot moves the content out and frees the slot.
type Store interface {
	hooking.Hookable

	// Write stores a page into the first free slot and returns the slot. It
	// panics if the swap area is full.
	Write(page []byte) Slot

	// Read loads the content of an occupied slot into page and frees the
	// slot.
	Read(slot Slot, page []byte)

	// Free releases an occupied slot without reading it.
	Free(slot Slot)

	// IsOccupied checks if a slot holds a page.
	IsOccupied(slot Slot) bool

	// NumSlots returns the number of slots of the swap area.
	NumSlots() int

	// NumUsed returns the number of occupied slots.
	NumUsed() int
}

// NewStore creates a swap store on top of a block device.
func NewStore(device blockdev.Device) Store {
	sectorSize := device.SectorSize()
	if sectorSize <= 0 || vm.PageSize%sectorSize != 0 {
		panic(fmt.Sprintf("sector size %d does not divide the page size",
			sectorSize))
	}

	sectorsPerPage := uint64(vm.PageSize / sectorSize)
	numSlots := int(device.NumSectors() / sectorsPerPage)

	s := &store{
		device:         device,
		sectorSize:     sectorSize,
		sectorsPerPage: sectorsPerPage,
		used:           bitmap.New(numSlots),
	}

	return s
}

type store struct {
	hooking.HookableBase

	lock           sync.Mutex
	device         blockdev.Device
	sectorSize     int
	sectorsPerPage uint64
	used           *bitmap.Bitmap
}

func (s *store) Write(page []byte) Slot {
	slot := s.write(page)
	s.invoke(HookPosSwapOut, slot)

	return slot
}

func (s *store) write(page []byte) Slot {
	pageMustBeWhole(page)

	s.lock.Lock()
	defer s.lock.Unlock()

	idx := s.used.ScanAndFlip(0, 1, false)
	if idx == bitmap.NotFound {
		panic("swap is full")
	}

	slot := Slot(idx)
	sector := s.firstSector(slot)
	for i := uint64(0); i < s.sectorsPerPage; i++ {
		chunk := page[int(i)*s.sectorSize : int(i+1)*s.sectorSize]
		err := s.device.WriteSector(sector+i, chunk)
		dieOnErr(err)
	}

	return slot
}

func (s *store) Read(slot Slot, page []byte) {
	s.read(slot, page)
	s.invoke(HookPosSwapIn, slot)
}

func (s *store) read(slot Slot, page []byte) {
	pageMustBeWhole(page)

	s.lock.Lock()
	defer s.lock.Unlock()

	s.slotMustBeOccupied(slot)

	sector := s.firstSector(slot)
	for i := uint64(0); i < s.sectorsPerPage; i++ {
		chunk := page[int(i)*s.sectorSize : int(i+1)*s.sectorSize]
		err := s.device.ReadSector(sector+i, chunk)
		dieOnErr(err)
	}

	s.used.Reset(int(slot))
}

func (s *store) Free(slot Slot) {
	s.free(slot)
	s.invoke(HookPosSwapFree, slot)
}

func (s *store) free(slot Slot) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.slotMustBeOccupied(slot)
	s.used.Reset(int(slot))
}

func (s *store) IsOccupied(slot Slot) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	if slot < 0 || int(slot) >= s.used.Size() {
		return false
	}

	return s.used.Test(int(slot))
}

func (s *store) NumSlots() int {
	return s.used.Size()
}

func (s *store) NumUsed() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.used.Count()
}

func (s *store) firstSector(slot Slot) uint64 {
	return uint64(slot) * s.sectorsPerPage
}

func (s *store) slotMustBeOccupied(slot Slot) {
	if slot < 0 || int(slot) >= s.used.Size() || !s.used.Test(int(slot)) {
		panic(fmt.Sprintf("swap slot %d is not in use", slot))
	}
}

func (s *store) invoke(pos *hooking.HookPos, slot Slot) {
	if s.NumHooks() == 0 {
		return
	}

	s.InvokeHook(hooking.HookCtx{
		Domain: s,
		Pos:    pos,
		Item:   vm.PageEvent{Slot: int64(slot)},
	})
}

func pageMustBeWhole(page []byte) {
	if len(page) != vm.PageSize {
		panic(fmt.Sprintf("swap works on whole pages, got %d bytes", len(page)))
	}
}

func dieOnErr(err error) {
	if err != nil {
		panic(err)
	}
}
