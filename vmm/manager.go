// Package vmm is the face of the paging core towards the rest of the kernel.
// A Manager owns physical memory, the frame table and the swap area. Each
// Process owns a page directory and a supplemental page table.
package vmm

import (
	"cmp"
	"fmt"
	"log"
	"slices"
	"sync"

	"github.com/sarchlab/vmcore/frame"
	"github.com/sarchlab/vmcore/hooking"
	"github.com/sarchlab/vmcore/pagedir"
	"github.com/sarchlab/vmcore/palloc"
	"github.com/sarchlab/vmcore/spt"
	"github.com/sarchlab/vmcore/swap"
	"github.com/sarchlab/vmcore/vm"
)

// HookPosExit marks a process exiting. The item is an ExitEvent.
var HookPosExit = &hooking.HookPos{Name: "Exit"}

// An ExitEvent describes a process that exits.
type ExitEvent struct {
	PID    vm.PID
	Name   string
	Status int
}

// Summary describes the state of the paging core at one moment.
type Summary struct {
	NumFrames     int         `json:"num_frames"`
	NumFreeFrames int         `json:"num_free_frames"`
	NumSwapSlots  int         `json:"num_swap_slots"`
	NumSwapUsed   int         `json:"num_swap_used"`
	NumProcesses  int         `json:"num_processes"`
	FrameStats    frame.Stats `json:"frame_stats"`
}

// A Manager owns the shared paging structures.
type Manager struct {
	hooking.HookableBase

	pool   *palloc.Pool
	frames frame.Table
	swap   swap.Store
	hooks  []hooking.Hook
	logger *log.Logger

	lock      sync.Mutex
	processes map[vm.PID]*Process
}

// Spawn creates a process with an empty address space.
func (m *Manager) Spawn(pid vm.PID, name string) *Process {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, found := m.processes[pid]; found {
		panic(fmt.Sprintf("process %d exists", pid))
	}

	dir := pagedir.New(pid)
	table := spt.NewTable(pid, dir, m.frames, m.swap)
	for _, h := range m.hooks {
		table.AcceptHook(h)
	}

	p := &Process{
		manager: m,
		pid:     pid,
		name:    name,
		dir:     dir,
		spt:     table,
	}
	m.processes[pid] = p

	return p
}

// Process returns the live process with the given PID.
func (m *Manager) Process(pid vm.PID) (*Process, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	p, found := m.processes[pid]

	return p, found
}

// Processes returns the live processes sorted by PID.
func (m *Manager) Processes() []*Process {
	m.lock.Lock()
	processes := make([]*Process, 0, len(m.processes))
	for _, p := range m.processes {
		processes = append(processes, p)
	}
	m.lock.Unlock()

	slices.SortFunc(processes, func(a, b *Process) int {
		return cmp.Compare(a.pid, b.pid)
	})

	return processes
}

// Frames returns the frame table.
func (m *Manager) Frames() frame.Table {
	return m.frames
}

// Swap returns the swap store.
func (m *Manager) Swap() swap.Store {
	return m.swap
}

// Memory returns the physical page allocator of the user pool.
func (m *Manager) Memory() *palloc.Pool {
	return m.pool
}

// Summary returns the current state of frames, swap and processes.
func (m *Manager) Summary() Summary {
	m.lock.Lock()
	numProcesses := len(m.processes)
	m.lock.Unlock()

	return Summary{
		NumFrames:     m.pool.NumPages(),
		NumFreeFrames: m.pool.NumFree(),
		NumSwapSlots:  m.swap.NumSlots(),
		NumSwapUsed:   m.swap.NumUsed(),
		NumProcesses:  numProcesses,
		FrameStats:    m.frames.Stats(),
	}
}

func (m *Manager) remove(p *Process) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.processes[p.pid] == p {
		delete(m.processes, p.pid)
	}
}

func (m *Manager) invokeExit(evt ExitEvent) {
	if m.NumHooks() == 0 {
		return
	}

	m.InvokeHook(hooking.HookCtx{
		Domain: m,
		Pos:    HookPosExit,
		Item:   evt,
	})
}
