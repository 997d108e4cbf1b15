package blockdev

import (
	"sync"

	"github.com/sarchlab/vmcore/vm"
)

// MemDevice is a block device that keeps its sectors in memory. Sectors that
// are never written take no memory and read as zeros.
type MemDevice struct {
	sync.Mutex
	name       string
	sectorSize int
	numSectors uint64
	data       map[uint64][]byte
}

// NewMemDevice creates an in-memory device with numSectors sectors of
// vm.SectorSize bytes.
func NewMemDevice(name string, numSectors uint64) *MemDevice {
	return &MemDevice{
		name:       name,
		sectorSize: vm.SectorSize,
		numSectors: numSectors,
		data:       make(map[uint64][]byte),
	}
}

// Name returns the name of the device.
func (d *MemDevice) Name() string {
	return d.name
}

// SectorSize returns the number of bytes in a sector.
func (d *MemDevice) SectorSize() int {
	return d.sectorSize
}

// NumSectors returns the number of sectors on the device.
func (d *MemDevice) NumSectors() uint64 {
	return d.numSectors
}

// ReadSector copies the content of a sector into buf.
func (d *MemDevice) ReadSector(sector uint64, buf []byte) error {
	if err := checkAccess(d, sector, buf); err != nil {
		return err
	}

	d.Lock()
	defer d.Unlock()

	unit, ok := d.data[sector]
	if !ok {
		clear(buf)
		return nil
	}

	copy(buf, unit)

	return nil
}

// WriteSector copies buf into a sector.
func (d *MemDevice) WriteSector(sector uint64, buf []byte) error {
	if err := checkAccess(d, sector, buf); err != nil {
		return err
	}

	d.Lock()
	defer d.Unlock()

	unit, ok := d.data[sector]
	if !ok {
		unit = make([]byte, d.sectorSize)
		d.data[sector] = unit
	}

	copy(unit, buf)

	return nil
}

// NumTouchedSectors returns the number of sectors that have been written.
func (d *MemDevice) NumTouchedSectors() int {
	d.Lock()
	defer d.Unlock()

	return len(d.data)
}
