package blockdev

import (
	"fmt"
	"os"

	"github.com/sarchlab/vmcore/vm"
)

// FileDevice is a block device backed by a regular file, such as a swap file.
// Sector n lives at byte offset n*SectorSize of the file.
type FileDevice struct {
	file       *os.File
	numSectors uint64
}

// OpenFileDevice opens or creates the file at path and sizes it to hold
// numSectors sectors.
func OpenFileDevice(path string, numSectors uint64) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open block device %s: %w", path, err)
	}

	err = f.Truncate(int64(numSectors) * vm.SectorSize)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("size block device %s: %w", path, err)
	}

	d := &FileDevice{
		file:       f,
		numSectors: numSectors,
	}

	return d, nil
}

// Name returns the path of the backing file.
func (d *FileDevice) Name() string {
	return d.file.Name()
}

// SectorSize returns the number of bytes in a sector.
func (d *FileDevice) SectorSize() int {
	return vm.SectorSize
}

// NumSectors returns the number of sectors on the device.
func (d *FileDevice) NumSectors() uint64 {
	return d.numSectors
}

// ReadSector reads a sector from the file.
func (d *FileDevice) ReadSector(sector uint64, buf []byte) error {
	if err := checkAccess(d, sector, buf); err != nil {
		return err
	}

	_, err := d.file.ReadAt(buf, int64(sector)*vm.SectorSize)
	if err != nil {
		return fmt.Errorf("%s: read sector %d: %w", d.Name(), sector, err)
	}

	return nil
}

// WriteSector writes a sector to the file.
func (d *FileDevice) WriteSector(sector uint64, buf []byte) error {
	if err := checkAccess(d, sector, buf); err != nil {
		return err
	}

	_, err := d.file.WriteAt(buf, int64(sector)*vm.SectorSize)
	if err != nil {
		return fmt.Errorf("%s: write sector %d: %w", d.Name(), sector, err)
	}

	return nil
}

// Close closes the backing file.
func (d *FileDevice) Close() error {
	return d.file.Close()
}
