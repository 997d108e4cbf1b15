package tracing

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/vmcore/hooking"
	"github.com/sarchlab/vmcore/vm"
	"go.uber.org/mock/gomock"
)

var (
	posSwapOut = &hooking.HookPos{Name: "SwapOut"}
	posExit    = &hooking.HookPos{Name: "Exit"}
)

var _ = Describe("DBTracer", func() {
	var (
		mockCtrl *gomock.Controller
		backend  *MockDataRecorder
		tracer   *DBTracer
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		backend = NewMockDataRecorder(mockCtrl)
		backend.EXPECT().CreateTable(EventTableName, EventRecord{})
		tracer = NewDBTracer(backend)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should record page events", func() {
		var record EventRecord
		backend.EXPECT().
			InsertData(EventTableName, gomock.Any()).
			Do(func(_ string, entry any) {
				record = entry.(EventRecord)
			})

		tracer.Func(hooking.HookCtx{
			Pos: posSwapOut,
			Item: vm.PageEvent{
				PID:   3,
				UPage: 0x8048000,
				PAddr: 0x101000,
				Slot:  5,
			},
		})

		Expect(record.ID).NotTo(BeEmpty())
		Expect(record.Kind).To(Equal("SwapOut"))
		Expect(record.PID).To(Equal(uint32(3)))
		Expect(record.UPage).To(Equal(uint64(0x8048000)))
		Expect(record.PAddr).To(Equal(uint64(0x101000)))
		Expect(record.Slot).To(Equal(int64(5)))
		Expect(record.Time).To(BeNumerically(">=", 0))
	})

	It("should describe other items", func() {
		var record EventRecord
		backend.EXPECT().
			InsertData(EventTableName, gomock.Any()).
			Do(func(_ string, entry any) {
				record = entry.(EventRecord)
			})

		tracer.Func(hooking.HookCtx{Pos: posExit, Item: "init"})

		Expect(record.Kind).To(Equal("Exit"))
		Expect(record.Detail).To(Equal("init"))
		Expect(record.Slot).To(Equal(int64(-1)))
	})
})

var _ = Describe("CountTracer", func() {
	It("should count by position", func() {
		tracer := NewCountTracer()

		tracer.Func(hooking.HookCtx{Pos: posSwapOut})
		tracer.Func(hooking.HookCtx{Pos: posSwapOut})
		tracer.Func(hooking.HookCtx{Pos: posExit})

		Expect(tracer.Count(posSwapOut)).To(Equal(uint64(2)))
		Expect(tracer.Counts()).To(Equal(map[string]uint64{
			"SwapOut": 2,
			"Exit":    1,
		}))
		Expect(tracer.Names()).To(Equal([]string{"Exit", "SwapOut"}))
	})
})
