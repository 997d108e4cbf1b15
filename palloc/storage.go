package palloc

import (
	"fmt"
	"sync"

	"github.com/sarchlab/vmcore/vm"
)

// A Storage keeps the bytes of physical memory.
//
// The storage manages memory in page-sized units. A unit is only allocated
// the first time it is touched, so a large physical address range costs
// nothing until pages are used.
type Storage struct {
	sync.Mutex
	base     uint64
	capacity uint64
	data     map[uint64][]byte
}

// NewStorage creates a storage that covers [base, base+capacity).
func NewStorage(base, capacity uint64) *Storage {
	if !vm.IsPageAligned(base) || !vm.IsPageAligned(capacity) {
		panic("storage must cover whole pages")
	}

	return &Storage{
		base:     base,
		capacity: capacity,
		data:     make(map[uint64][]byte),
	}
}

// Unit returns the page that starts at paddr. The returned slice aliases the
// storage, so writes to it change physical memory.
func (s *Storage) Unit(paddr uint64) []byte {
	if !vm.IsPageAligned(paddr) {
		panic(fmt.Sprintf("physical address %#x is not page aligned", paddr))
	}

	if paddr < s.base || paddr >= s.base+s.capacity {
		panic(fmt.Sprintf(
			"accessing physical address %#x beyond the storage capacity", paddr))
	}

	s.Lock()
	defer s.Unlock()

	unit, ok := s.data[paddr]
	if !ok {
		unit = make([]byte, vm.PageSize)
		s.data[paddr] = unit
	}

	return unit
}
