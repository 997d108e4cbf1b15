package vmm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/sarchlab/vmcore/pagedir"
	"github.com/sarchlab/vmcore/spt"
	"github.com/sarchlab/vmcore/vm"
)

var (
	// ErrSegmentationFault is returned when a process touches an address it
	// may not touch.
	ErrSegmentationFault = errors.New("segmentation fault")

	// ErrExited is returned when an exited process is used.
	ErrExited = errors.New("process exited")
)

// A Process is a user address space.
type Process struct {
	manager *Manager
	pid     vm.PID
	name    string
	dir     *pagedir.Directory
	spt     *spt.Table

	lock   sync.Mutex
	exited bool
	status int
}

// PID returns the process ID.
func (p *Process) PID() vm.PID {
	return p.pid
}

// Name returns the name of the process.
func (p *Process) Name() string {
	return p.name
}

// Pages returns the supplemental page table entries of the process.
func (p *Process) Pages() []spt.Page {
	return p.spt.Pages()
}

// Directory returns the page directory of the process.
func (p *Process) Directory() *pagedir.Directory {
	return p.dir
}

// Map adds a lazily loaded page to the address space.
func (p *Process) Map(page spt.Page) {
	p.spt.Insert(page)
}

// MapZero maps n zero-filled pages starting at upage.
func (p *Process) MapZero(upage uint64, n int, writable bool) {
	for i := 0; i < n; i++ {
		p.spt.Insert(spt.Page{
			UPage:    upage + uint64(i)*vm.PageSize,
			Writable: writable,
			Location: spt.LocationNone,
		})
	}
}

// MapFile maps length bytes of file, starting at offset, to the pages from
// upage on. The last page is zero padded. Executable mappings are never
// written back to the file.
func (p *Process) MapFile(
	upage uint64,
	file spt.File,
	offset int64,
	length int,
	writable, executable bool,
) {
	if length <= 0 {
		panic("mapping an empty file region")
	}

	location := spt.LocationFilesys
	if executable {
		location = spt.LocationExecutable
	}

	for remaining := length; remaining > 0; {
		readBytes := min(remaining, vm.PageSize)

		p.spt.Insert(spt.Page{
			UPage:     upage,
			Writable:  writable,
			Location:  location,
			File:      file,
			Offset:    offset,
			ReadBytes: readBytes,
		})

		remaining -= readBytes
		upage += vm.PageSize
		offset += int64(readBytes)
	}
}

// Unmap removes n pages starting at upage. Dirty file-mapped pages are
// written back.
func (p *Process) Unmap(upage uint64, n int) error {
	var firstErr error

	for i := 0; i < n; i++ {
		found, err := p.spt.Unmap(upage + uint64(i)*vm.PageSize)
		if !found {
			return fmt.Errorf("%w: %#x is not mapped",
				ErrSegmentationFault, upage+uint64(i)*vm.PageSize)
		}

		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// Fault runs the page-fault protocol for vaddr.
func (p *Process) Fault(vaddr uint64) (spt.Outcome, error) {
	return p.spt.Fault(vaddr)
}

// HandlePageFault handles a fault raised by the process itself. Faults that
// cannot be resolved terminate the process with status -1.
func (p *Process) HandlePageFault(vaddr uint64) bool {
	if !vm.IsUserAddr(vaddr) {
		p.Exit(-1)
		return false
	}

	outcome, err := p.spt.Fault(vaddr)
	if outcome == spt.OutcomeResolved {
		return true
	}

	if err != nil {
		p.manager.logger.Printf("%s: %v", p.name, err)
	}

	p.Exit(-1)

	return false
}

// Read loads n bytes from vaddr as the process would. A bad access
// terminates the process.
func (p *Process) Read(vaddr uint64, n int) ([]byte, error) {
	buf := make([]byte, n)

	err := p.copyUser(vaddr, buf, false)
	if err != nil {
		p.kill(err)
		return nil, err
	}

	return buf, nil
}

// Write stores data at vaddr as the process would. A bad access terminates
// the process.
func (p *Process) Write(vaddr uint64, data []byte) error {
	err := p.copyUser(vaddr, data, true)
	if err != nil {
		p.kill(err)
	}

	return err
}

// GetUser reads a byte on behalf of the kernel. It returns false instead of
// faulting if the address cannot be read.
func (p *Process) GetUser(vaddr uint64) (byte, bool) {
	var b byte

	err := p.access(vaddr, false, func(data []byte) {
		b = data[0]
	})

	return b, err == nil
}

// PutUser writes a byte on behalf of the kernel. It returns false instead of
// faulting if the address cannot be written.
func (p *Process) PutUser(vaddr uint64, b byte) bool {
	err := p.access(vaddr, true, func(data []byte) {
		data[0] = b
	})

	return err == nil
}

// GetUserInt reads a little-endian 32-bit integer on behalf of the kernel.
func (p *Process) GetUserInt(vaddr uint64) (int32, bool) {
	var buf [4]byte

	for i := range buf {
		b, ok := p.GetUser(vaddr + uint64(i))
		if !ok {
			return 0, false
		}

		buf[i] = b
	}

	return int32(binary.LittleEndian.Uint32(buf[:])), true
}

// ReadUserString reads a NUL terminated string of at most maxLen bytes on
// behalf of the kernel.
func (p *Process) ReadUserString(vaddr uint64, maxLen int) (string, bool) {
	buf := make([]byte, 0, 64)

	for i := 0; i <= maxLen; i++ {
		b, ok := p.GetUser(vaddr + uint64(i))
		if !ok {
			return "", false
		}

		if b == 0 {
			return string(buf), true
		}

		buf = append(buf, b)
	}

	return "", false
}

// Exit terminates the process. The page table is destroyed, the frames it
// holds are reclaimed and the page directory is torn down. Calling Exit again
// has no effect.
func (p *Process) Exit(status int) {
	p.lock.Lock()
	if p.exited {
		p.lock.Unlock()
		return
	}

	p.exited = true
	p.status = status
	p.lock.Unlock()

	p.manager.logger.Printf("%s: exit(%d)", p.name, status)

	err := p.spt.Destroy()
	if err != nil {
		p.manager.logger.Printf("%s: %v", p.name, err)
	}

	p.manager.frames.ReleaseOwner(p.pid)
	p.dir.Destroy()
	p.manager.remove(p)

	p.manager.invokeExit(ExitEvent{PID: p.pid, Name: p.name, Status: status})
}

// Exited returns if the process has exited and its exit status.
func (p *Process) Exited() (bool, int) {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.exited, p.status
}

func (p *Process) isExited() bool {
	exited, _ := p.Exited()
	return exited
}

func (p *Process) kill(err error) {
	if errors.Is(err, ErrExited) {
		return
	}

	p.Exit(-1)
}

func (p *Process) copyUser(vaddr uint64, buf []byte, write bool) error {
	for done := 0; done < len(buf); {
		addr := vaddr + uint64(done)
		chunk := min(len(buf)-done, int(vm.PageSize-vm.PageOffset(addr)))
		part := buf[done : done+chunk]

		err := p.access(addr, write, func(data []byte) {
			if write {
				copy(data, part)
			} else {
				copy(part, data)
			}
		})
		if err != nil {
			return err
		}

		done += chunk
	}

	return nil
}

// access runs fn on the bytes of the frame from vaddr to the end of its page,
// faulting the page in as many times as needed.
func (p *Process) access(vaddr uint64, write bool, fn func(data []byte)) error {
	if !vm.IsUserAddr(vaddr) {
		return fmt.Errorf("%w: %#x is a kernel address",
			ErrSegmentationFault, vaddr)
	}

	offset := vm.PageOffset(vaddr)
	memory := p.manager.pool

	for {
		if p.isExited() {
			return ErrExited
		}

		result := p.dir.Access(vaddr, write, func(paddr uint64) {
			fn(memory.Page(paddr)[offset:])
		})

		switch result {
		case pagedir.AccessOK:
			return nil
		case pagedir.AccessReadOnly:
			return fmt.Errorf("%w: %#x is read-only", ErrSegmentationFault, vaddr)
		}

		outcome, err := p.spt.Fault(vaddr)
		switch outcome {
		case spt.OutcomeResolved, spt.OutcomeAccessViolation:
			// The page was present or has been brought in; retry.
		case spt.OutcomeUnknownAddress:
			return fmt.Errorf("%w: %#x is not mapped", ErrSegmentationFault, vaddr)
		default:
			return err
		}
	}
}
