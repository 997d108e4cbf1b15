// Package workload drives many processes through the paging core at once and
// checks that no page content is lost or corrupted along the way.
package workload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sarchlab/vmcore/vm"
	"github.com/sarchlab/vmcore/vmm"
)

// ErrCorruption is returned when a read does not see the last value written.
var ErrCorruption = errors.New("page content corrupted")

// BaseAddr is the first user page that workloads map.
const BaseAddr uint64 = 0x10000000

// chunkSize is the number of bytes checked by a read.
const chunkSize = 64

// Config describes a workload.
type Config struct {
	Processes         int
	PagesPerProcess   int
	ThreadsPerProcess int
	Accesses          int
	WriteRatio        float64
	Seed              int64
}

// DefaultConfig returns a small workload that overcommits the default
// manager.
func DefaultConfig() Config {
	return Config{
		Processes:         4,
		PagesPerProcess:   32,
		ThreadsPerProcess: 2,
		Accesses:          1000,
		WriteRatio:        0.3,
		Seed:              1,
	}
}

// Result counts what a workload did.
type Result struct {
	Processes int           `json:"processes"`
	Reads     uint64        `json:"reads"`
	Writes    uint64        `json:"writes"`
	Faults    uint64        `json:"faults"`
	Evictions uint64        `json:"evictions"`
	Duration  time.Duration `json:"duration"`
}

// ProgressFunc is called after every access with the number of accesses
// finished so far.
type ProgressFunc func(done uint64)

// A Runner runs workloads on a manager.
type Runner struct {
	manager  *vmm.Manager
	progress ProgressFunc

	reads  atomic.Uint64
	writes atomic.Uint64
}

// NewRunner creates a runner for the manager.
func NewRunner(manager *vmm.Manager) *Runner {
	return &Runner{manager: manager}
}

// WithProgress sets a function that reports progress.
func (r *Runner) WithProgress(f ProgressFunc) *Runner {
	r.progress = f
	return r
}

// Run runs a workload on the manager.
func Run(ctx context.Context, manager *vmm.Manager, cfg Config) (Result, error) {
	return NewRunner(manager).Run(ctx, cfg)
}

// Run spawns the processes of the workload, runs their threads and exits the
// processes. The first error stops every thread.
func (r *Runner) Run(ctx context.Context, cfg Config) (Result, error) {
	err := r.validate(cfg)
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	before := r.manager.Frames().Stats()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)

	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	processes := make([]*vmm.Process, cfg.Processes)
	for i := range processes {
		pid := vm.PID(i + 1)
		processes[i] = r.manager.Spawn(pid, fmt.Sprintf("worker-%d", pid))
		processes[i].MapZero(BaseAddr, cfg.PagesPerProcess, true)
	}

	for i, p := range processes {
		for t := 0; t < cfg.ThreadsPerProcess; t++ {
			w := &thread{
				runner: r,
				proc:   p,
				cfg:    cfg,
				id:     t,
				rand:   rand.New(rand.NewSource(cfg.Seed + int64(i*cfg.ThreadsPerProcess+t))),
			}

			wg.Add(1)
			go func() {
				defer wg.Done()

				err := w.run(ctx)
				if err != nil {
					fail(err)
				}
			}()
		}
	}

	wg.Wait()

	for _, p := range processes {
		p.Exit(0)
	}

	after := r.manager.Frames().Stats()
	result := Result{
		Processes: cfg.Processes,
		Reads:     r.reads.Load(),
		Writes:    r.writes.Load(),
		Faults:    after.Allocations - before.Allocations,
		Evictions: after.Evictions - before.Evictions,
		Duration:  time.Since(start),
	}

	if firstErr != nil {
		return result, firstErr
	}

	return result, ctx.Err()
}

func (r *Runner) validate(cfg Config) error {
	numFrames := r.manager.Memory().NumPages()
	numThreads := cfg.Processes * cfg.ThreadsPerProcess
	numPages := cfg.Processes * cfg.PagesPerProcess

	switch {
	case cfg.Processes <= 0:
		return errors.New("workload needs at least one process")
	case cfg.ThreadsPerProcess <= 0:
		return errors.New("workload needs at least one thread per process")
	case cfg.PagesPerProcess < cfg.ThreadsPerProcess:
		return errors.New("every thread needs at least one page")
	case cfg.WriteRatio < 0 || cfg.WriteRatio > 1:
		return fmt.Errorf("write ratio %v is not in [0, 1]", cfg.WriteRatio)
	case numFrames <= 2*numThreads:
		// Each thread may pin one frame it faults in and one it evicts.
		return fmt.Errorf("%d frames are too few for %d threads",
			numFrames, numThreads)
	case numPages > numFrames+r.manager.Swap().NumSlots():
		return fmt.Errorf("%d pages do not fit in %d frames and %d swap slots",
			numPages, numFrames, r.manager.Swap().NumSlots())
	}

	return nil
}

// A thread owns the pages whose index modulo the number of threads equals
// its id, so it always knows what they should contain.
type thread struct {
	runner   *Runner
	proc     *vmm.Process
	cfg      Config
	id       int
	rand     *rand.Rand
	versions map[int]int
}

func (t *thread) run(ctx context.Context) error {
	t.versions = make(map[int]int)
	pages := t.pages()

	for i := 0; i < t.cfg.Accesses; i++ {
		if ctx.Err() != nil {
			return nil
		}

		page := pages[t.rand.Intn(len(pages))]

		var err error
		if t.rand.Float64() < t.cfg.WriteRatio {
			err = t.write(page)
		} else {
			err = t.read(page)
		}

		if err != nil {
			return err
		}

		if t.runner.progress != nil {
			t.runner.progress(t.runner.reads.Load() + t.runner.writes.Load())
		}
	}

	return nil
}

func (t *thread) pages() []int {
	pages := []int{}
	for p := t.id; p < t.cfg.PagesPerProcess; p += t.cfg.ThreadsPerProcess {
		pages = append(pages, p)
	}

	return pages
}

func (t *thread) write(page int) error {
	version := t.versions[page] + 1

	err := t.proc.Write(pageAddr(page), Pattern(t.proc.PID(), page, version))
	if err != nil {
		return err
	}

	t.versions[page] = version
	t.runner.writes.Add(1)

	return nil
}

func (t *thread) read(page int) error {
	offset := t.rand.Intn(vm.PageSize/chunkSize) * chunkSize

	data, err := t.proc.Read(pageAddr(page)+uint64(offset), chunkSize)
	if err != nil {
		return err
	}

	want := Pattern(t.proc.PID(), page, t.versions[page])[offset : offset+chunkSize]
	if !bytes.Equal(data, want) {
		return fmt.Errorf("%w: process %d page %d version %d offset %d",
			ErrCorruption, t.proc.PID(), page, t.versions[page], offset)
	}

	t.runner.reads.Add(1)

	return nil
}

func pageAddr(page int) uint64 {
	return BaseAddr + uint64(page)*vm.PageSize
}

// Pattern returns the content of a page after it has been written version
// times. Version 0 is the zero page.
func Pattern(pid vm.PID, page, version int) []byte {
	data := make([]byte, vm.PageSize)
	if version == 0 {
		return data
	}

	seed := uint32(pid)*2654435761 ^ uint32(page)*40503 ^ uint32(version)*97
	for i := range data {
		seed = seed*1664525 + 1013904223
		data[i] = byte(seed >> 24)
	}

	return data
}
