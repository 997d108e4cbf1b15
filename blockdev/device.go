// Package blockdev models the block devices that the paging core consumes.
// A device is an array of fixed-size sectors that can be read and written one
// at a time.
package blockdev

import (
	"errors"
	"fmt"
)

// ErrOutOfRange is returned when a sector beyond the device size is accessed.
var ErrOutOfRange = errors.New("sector out of range")

// A Device is a sector-addressed block device.
type Device interface {
	// Name returns the name of the device.
	Name() string

	// SectorSize returns the number of bytes in a sector.
	SectorSize() int

	// NumSectors returns the number of sectors on the device.
	NumSectors() uint64

	// ReadSector reads sector into buf. buf must be exactly one sector long.
	ReadSector(sector uint64, buf []byte) error

	// WriteSector writes buf into sector. buf must be exactly one sector long.
	WriteSector(sector uint64, buf []byte) error
}

func checkAccess(d Device, sector uint64, buf []byte) error {
	if sector >= d.NumSectors() {
		return fmt.Errorf("%s: sector %d: %w", d.Name(), sector, ErrOutOfRange)
	}

	if len(buf) != d.SectorSize() {
		return fmt.Errorf("%s: buffer of %d bytes, sector size is %d",
			d.Name(), len(buf), d.SectorSize())
	}

	return nil
}
