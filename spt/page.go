// Package spt implements the supplemental page table: the per-process record
// of where the content of every user page lives, and the page-fault protocol
// that brings non-resident pages into physical frames.
package spt

import (
	"fmt"
	"io"

	"github.com/sarchlab/vmcore/frame"
	"github.com/sarchlab/vmcore/swap"
)

// Location tells where the content of a non-resident page comes from.
type Location int

const (
	// LocationNone means the page is filled with zeros.
	LocationNone Location = iota

	// LocationSwap means the content is in a swap slot. Resident pages keep
	// this location to remember that their only copy is in memory.
	LocationSwap

	// LocationFilesys means the page maps a file. Dirty pages are written
	// back to the file.
	LocationFilesys

	// LocationExecutable means the page is loaded from an executable. Dirty
	// pages go to swap, the executable is never written.
	LocationExecutable
)

func (l Location) String() string {
	switch l {
	case LocationNone:
		return "none"
	case LocationSwap:
		return "swap"
	case LocationFilesys:
		return "filesys"
	case LocationExecutable:
		return "executable"
	default:
		return fmt.Sprintf("Location(%d)", int(l))
	}
}

// A File is the part of the file layer that file-backed pages use.
type File interface {
	io.ReaderAt
	io.WriterAt
}

// A Page describes one user page of a process.
type Page struct {
	UPage     uint64
	Writable  bool
	Location  Location
	Slot      swap.Slot
	File      File
	Offset    int64
	ReadBytes int
	Resident  bool
	Frame     *frame.Frame
}

// Outcome is the result of handling a page fault.
type Outcome int

const (
	// OutcomeResolved means the page is now resident.
	OutcomeResolved Outcome = iota

	// OutcomeUnknownAddress means the process has no page at the address.
	OutcomeUnknownAddress

	// OutcomeAccessViolation means the page is resident, so the fault was a
	// protection fault.
	OutcomeAccessViolation

	// OutcomeFailed means the content could not be loaded.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeResolved:
		return "resolved"
	case OutcomeUnknownAddress:
		return "unknown address"
	case OutcomeAccessViolation:
		return "access violation"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}
