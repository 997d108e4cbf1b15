package vmm

import (
	"log"
	"os"

	"github.com/sarchlab/vmcore/blockdev"
	"github.com/sarchlab/vmcore/frame"
	"github.com/sarchlab/vmcore/hooking"
	"github.com/sarchlab/vmcore/palloc"
	"github.com/sarchlab/vmcore/swap"
	"github.com/sarchlab/vmcore/vm"
)

// A Builder can build Managers.
type Builder struct {
	numFrames    int
	frameBase    uint64
	numSwapSlots int
	swapDevice   blockdev.Device
	victimFinder frame.VictimFinder
	hooks        []hooking.Hook
	logger       *log.Logger
}

// MakeBuilder creates a Builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		numFrames:    64,
		frameBase:    0x100000,
		numSwapSlots: 1024,
	}
}

// WithNumFrames sets the number of physical frames in the user pool.
func (b Builder) WithNumFrames(n int) Builder {
	b.numFrames = n
	return b
}

// WithFrameBase sets the physical address of the first user frame.
func (b Builder) WithFrameBase(base uint64) Builder {
	b.frameBase = base
	return b
}

// WithNumSwapSlots sets the size of the in-memory swap device that is created
// when no swap device is given.
func (b Builder) WithNumSwapSlots(n int) Builder {
	b.numSwapSlots = n
	return b
}

// WithSwapDevice sets the block device that backs the swap area.
func (b Builder) WithSwapDevice(d blockdev.Device) Builder {
	b.swapDevice = d
	return b
}

// WithVictimFinder sets the eviction policy. The default is the clock
// algorithm.
func (b Builder) WithVictimFinder(v frame.VictimFinder) Builder {
	b.victimFinder = v
	return b
}

// WithHook adds a hook to the frame table, the swap store, the manager and
// the page table of every process.
func (b Builder) WithHook(h hooking.Hook) Builder {
	b.hooks = append(b.hooks[:len(b.hooks):len(b.hooks)], h)
	return b
}

// WithLogger sets the logger that reports process exits.
func (b Builder) WithLogger(l *log.Logger) Builder {
	b.logger = l
	return b
}

// Build creates a Manager.
func (b Builder) Build() *Manager {
	if b.numFrames <= 0 {
		panic("a manager needs at least one frame")
	}

	device := b.swapDevice
	if device == nil {
		device = blockdev.NewMemDevice("swap",
			uint64(b.numSwapSlots)*vm.SectorsPerPage)
	}

	victimFinder := b.victimFinder
	if victimFinder == nil {
		victimFinder = frame.NewClockVictimFinder()
	}

	logger := b.logger
	if logger == nil {
		logger = log.New(os.Stderr, "", 0)
	}

	pool := palloc.NewPool(b.frameBase, b.numFrames)

	m := &Manager{
		pool:      pool,
		frames:    frame.NewTable(pool, victimFinder),
		swap:      swap.NewStore(device),
		processes: make(map[vm.PID]*Process),
		hooks:     b.hooks,
		logger:    logger,
	}

	for _, h := range b.hooks {
		m.AcceptHook(h)
		m.frames.AcceptHook(h)
		m.swap.AcceptHook(h)
	}

	return m
}
