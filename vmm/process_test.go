package vmm

import (
	"bytes"
	"log"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/vmcore/hooking"
	"github.com/sarchlab/vmcore/spt"
	"github.com/sarchlab/vmcore/vm"
	"go.uber.org/mock/gomock"
)

type memFile struct {
	sync.Mutex
	data []byte
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	f.Lock()
	defer f.Unlock()

	return copy(p, f.data[off:]), nil
}

func (f *memFile) WriteAt(p []byte, off int64) (int, error) {
	f.Lock()
	defer f.Unlock()

	return copy(f.data[off:], p), nil
}

const (
	codeBase  = 0x8048000
	stackBase = vm.PhysBase - 4*vm.PageSize
	numFrames = 4
)

var _ = Describe("Process", func() {
	var (
		logBuf  *bytes.Buffer
		manager *Manager
		proc    *Process
	)

	BeforeEach(func() {
		logBuf = new(bytes.Buffer)
		manager = MakeBuilder().
			WithNumFrames(numFrames).
			WithNumSwapSlots(16).
			WithLogger(log.New(logBuf, "", 0)).
			Build()
		proc = manager.Spawn(1, "echo")
	})

	It("should demand page zero-filled memory", func() {
		proc.MapZero(stackBase, 2, true)
		Expect(manager.Frames().NumFrames()).To(Equal(0))

		data, err := proc.Read(stackBase+vm.PageSize-2, 4)

		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal([]byte{0, 0, 0, 0}))
		Expect(manager.Frames().NumFrames()).To(Equal(2))
	})

	It("should write across page boundaries", func() {
		proc.MapZero(stackBase, 2, true)

		Expect(proc.Write(stackBase+vm.PageSize-3, []byte("hello"))).To(Succeed())

		data, err := proc.Read(stackBase+vm.PageSize-3, 5)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("hello"))
	})

	It("should split file mappings into pages", func() {
		file := &memFile{data: bytes.Repeat([]byte{7}, 2*vm.PageSize)}

		proc.MapFile(codeBase, file, 100, vm.PageSize+10, false, true)

		pages := proc.Pages()
		Expect(pages).To(HaveLen(2))
		Expect(pages[0].Location).To(Equal(spt.LocationExecutable))
		Expect(pages[0].ReadBytes).To(Equal(vm.PageSize))
		Expect(pages[1].Offset).To(Equal(int64(100 + vm.PageSize)))
		Expect(pages[1].ReadBytes).To(Equal(10))

		data, err := proc.Read(codeBase+vm.PageSize+8, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal([]byte{7, 7, 0, 0}))
	})

	It("should write back file mappings on unmap", func() {
		file := &memFile{data: make([]byte, vm.PageSize)}
		proc.MapFile(codeBase, file, 0, vm.PageSize, true, false)

		Expect(proc.Write(codeBase+10, []byte("abc"))).To(Succeed())
		Expect(proc.Unmap(codeBase, 1)).To(Succeed())

		Expect(file.data[10:13]).To(Equal([]byte("abc")))
		Expect(manager.Frames().NumFrames()).To(Equal(0))
	})

	It("should terminate on an unmapped address", func() {
		_, err := proc.Read(codeBase, 1)

		Expect(err).To(MatchError(ErrSegmentationFault))
		exited, status := proc.Exited()
		Expect(exited).To(BeTrue())
		Expect(status).To(Equal(-1))
		Expect(logBuf.String()).To(ContainSubstring("echo: exit(-1)"))
	})

	It("should terminate on a write to read-only memory", func() {
		proc.MapZero(codeBase, 1, false)

		err := proc.Write(codeBase, []byte{1})

		Expect(err).To(MatchError(ErrSegmentationFault))
		exited, _ := proc.Exited()
		Expect(exited).To(BeTrue())
	})

	Context("when handling page faults", func() {
		It("should resolve mapped pages", func() {
			proc.MapZero(stackBase, 1, true)

			Expect(proc.HandlePageFault(stackBase + 12)).To(BeTrue())
			exited, _ := proc.Exited()
			Expect(exited).To(BeFalse())
		})

		It("should kill the process on unknown addresses", func() {
			Expect(proc.HandlePageFault(codeBase)).To(BeFalse())
			Expect(logBuf.String()).To(Equal("echo: exit(-1)\n"))
		})

		It("should kill the process on kernel addresses", func() {
			Expect(proc.HandlePageFault(vm.PhysBase)).To(BeFalse())
			exited, _ := proc.Exited()
			Expect(exited).To(BeTrue())
		})
	})

	Context("when the kernel reads user memory", func() {
		BeforeEach(func() {
			proc.MapZero(stackBase, 1, true)
			Expect(proc.Write(stackBase, []byte{0x78, 0x56, 0x34, 0x12})).
				To(Succeed())
			Expect(proc.Write(stackBase+8, []byte("args\x00"))).To(Succeed())
		})

		It("should read bytes and integers", func() {
			b, ok := proc.GetUser(stackBase + 1)
			Expect(ok).To(BeTrue())
			Expect(b).To(Equal(byte(0x56)))

			n, ok := proc.GetUserInt(stackBase)
			Expect(ok).To(BeTrue())
			Expect(n).To(Equal(int32(0x12345678)))
		})

		It("should write bytes", func() {
			Expect(proc.PutUser(stackBase+100, 9)).To(BeTrue())

			b, _ := proc.GetUser(stackBase + 100)
			Expect(b).To(Equal(byte(9)))
		})

		It("should read strings", func() {
			s, ok := proc.ReadUserString(stackBase+8, 16)
			Expect(ok).To(BeTrue())
			Expect(s).To(Equal("args"))

			_, ok = proc.ReadUserString(stackBase+8, 2)
			Expect(ok).To(BeFalse())
		})

		It("should reject bad addresses without killing the process", func() {
			_, ok := proc.GetUser(vm.PhysBase)
			Expect(ok).To(BeFalse())

			_, ok = proc.GetUser(codeBase)
			Expect(ok).To(BeFalse())

			Expect(proc.PutUser(vm.PhysBase+4, 1)).To(BeFalse())

			_, ok = proc.GetUserInt(stackBase + vm.PageSize - 2)
			Expect(ok).To(BeFalse())

			exited, _ := proc.Exited()
			Expect(exited).To(BeFalse())
		})
	})

	Context("when memory runs out", func() {
		It("should evict exactly one page to swap", func() {
			proc.MapZero(stackBase-numFrames*vm.PageSize, numFrames+1, true)

			for i := 0; i < numFrames; i++ {
				vaddr := stackBase - uint64(numFrames-i)*vm.PageSize
				Expect(proc.Write(vaddr, []byte{byte(i + 1)})).To(Succeed())
			}
			Expect(manager.Swap().NumUsed()).To(Equal(0))

			Expect(proc.Write(stackBase, []byte{0xff})).To(Succeed())

			nonResident := []spt.Page{}
			for _, p := range proc.Pages() {
				if !p.Resident {
					nonResident = append(nonResident, p)
				}
			}
			Expect(nonResident).To(HaveLen(1))
			Expect(nonResident[0].Location).To(Equal(spt.LocationSwap))
			Expect(manager.Swap().IsOccupied(nonResident[0].Slot)).To(BeTrue())

			for i := 0; i < numFrames; i++ {
				vaddr := stackBase - uint64(numFrames-i)*vm.PageSize
				data, err := proc.Read(vaddr, 1)
				Expect(err).NotTo(HaveOccurred())
				Expect(data).To(Equal([]byte{byte(i + 1)}))
			}
		})
	})

	Context("when exiting", func() {
		It("should reclaim frames and slots", func() {
			proc.MapZero(stackBase-4*vm.PageSize, 8, true)
			for i := 0; i < 8; i++ {
				vaddr := stackBase - 4*vm.PageSize + uint64(i)*vm.PageSize
				Expect(proc.Write(vaddr, []byte{1})).To(Succeed())
			}
			Expect(manager.Swap().NumUsed()).To(Equal(4))

			proc.Exit(0)
			proc.Exit(3)

			exited, status := proc.Exited()
			Expect(exited).To(BeTrue())
			Expect(status).To(Equal(0))
			Expect(logBuf.String()).To(Equal("echo: exit(0)\n"))
			Expect(manager.Swap().NumUsed()).To(Equal(0))
			Expect(manager.Memory().NumFree()).To(Equal(numFrames))
			Expect(manager.Frames().NumFrames()).To(Equal(0))
			Expect(proc.Directory().NumPresent()).To(Equal(0))

			_, found := manager.Process(1)
			Expect(found).To(BeFalse())
		})

		It("should refuse further accesses", func() {
			proc.MapZero(stackBase, 1, true)
			proc.Exit(0)

			_, err := proc.Read(stackBase, 1)

			Expect(err).To(MatchError(ErrExited))
		})
	})
})

var _ = Describe("Manager", func() {
	var (
		mockCtrl *gomock.Controller
		hook     *MockHook
		manager  *Manager
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		hook = NewMockHook(mockCtrl)
		manager = MakeBuilder().
			WithNumFrames(2).
			WithHook(hook).
			WithLogger(log.New(new(bytes.Buffer), "", 0)).
			Build()
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should list processes by PID", func() {
		manager.Spawn(3, "c")
		manager.Spawn(1, "a")

		processes := manager.Processes()

		Expect(processes).To(HaveLen(2))
		Expect(processes[0].Name()).To(Equal("a"))
		Expect(processes[1].PID()).To(Equal(vm.PID(3)))
		Expect(func() { manager.Spawn(1, "again") }).To(Panic())
	})

	It("should send paging events to the hooks", func() {
		var positions []*hooking.HookPos
		hook.EXPECT().Func(gomock.Any()).
			Do(func(ctx hooking.HookCtx) {
				positions = append(positions, ctx.Pos)
			}).
			AnyTimes()

		p := manager.Spawn(1, "a")
		p.MapZero(stackBase, 1, true)
		Expect(p.Write(stackBase, []byte{1})).To(Succeed())
		p.Exit(0)

		Expect(positions).To(ContainElement(BeIdenticalTo(HookPosExit)))
		Expect(positions).To(ContainElement(BeIdenticalTo(spt.HookPosFault)))
		Expect(manager.Summary().NumProcesses).To(Equal(0))
	})

	It("should summarize the state", func() {
		hook.EXPECT().Func(gomock.Any()).AnyTimes()

		p := manager.Spawn(1, "a")
		p.MapZero(stackBase, 3, true)
		for i := 0; i < 3; i++ {
			Expect(p.Write(stackBase+uint64(i)*vm.PageSize, []byte{1})).
				To(Succeed())
		}

		summary := manager.Summary()

		Expect(summary.NumFrames).To(Equal(2))
		Expect(summary.NumFreeFrames).To(Equal(0))
		Expect(summary.NumSwapUsed).To(Equal(1))
		Expect(summary.NumProcesses).To(Equal(1))
		Expect(summary.FrameStats.Evictions).To(Equal(uint64(1)))
	})
})
