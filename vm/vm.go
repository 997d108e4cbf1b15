// Package vm defines the constants and small types shared by the paging core.
package vm

// PID stands for Process ID.
type PID uint32

const (
	// Log2PageSize is the log2 of the size of a page.
	Log2PageSize = 12

	// PageSize is the number of bytes in a page and in a physical frame.
	PageSize = 1 << Log2PageSize

	// SectorSize is the number of bytes in a block-device sector.
	SectorSize = 512

	// SectorsPerPage is the number of consecutive sectors that hold a page.
	SectorsPerPage = PageSize / SectorSize

	// PhysBase is the first address that belongs to the kernel. User virtual
	// addresses are strictly below it.
	PhysBase uint64 = 0xc0000000
)

// PageAlign returns the base address of the page that contains addr.
func PageAlign(addr uint64) uint64 {
	return (addr >> Log2PageSize) << Log2PageSize
}

// PageOffset returns the offset of addr within its page.
func PageOffset(addr uint64) uint64 {
	return addr & (PageSize - 1)
}

// IsPageAligned checks if addr is the first byte of a page.
func IsPageAligned(addr uint64) bool {
	return PageOffset(addr) == 0
}

// IsUserAddr checks if addr is below PhysBase.
func IsUserAddr(addr uint64) bool {
	return addr < PhysBase
}

// A PageEvent describes a paging action. It is the item carried by the hooks
// of the frame table, the swap store and the supplemental page tables.
type PageEvent struct {
	PID   PID
	UPage uint64
	PAddr uint64
	Slot  int64
}
