package hooking

import (
	"bytes"
	"log"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/vmcore/vm"
	"go.uber.org/mock/gomock"
)

var _ = Describe("HookableBase", func() {
	var (
		mockCtrl *gomock.Controller
		hookable *HookableBase
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		hookable = &HookableBase{}
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should invoke every hook", func() {
		hook1 := NewMockHook(mockCtrl)
		hook2 := NewMockHook(mockCtrl)
		hookable.AcceptHook(hook1)
		hookable.AcceptHook(hook2)

		pos := &HookPos{Name: "Test"}
		ctx := HookCtx{Pos: pos, Item: 1}

		hook1.EXPECT().Func(ctx)
		hook2.EXPECT().Func(ctx)

		hookable.InvokeHook(ctx)

		Expect(hookable.NumHooks()).To(Equal(2))
		Expect(hookable.Hooks()).To(ConsistOf(hook1, hook2))
	})

	It("should accept functions as hooks", func() {
		var names []string
		hookable.AcceptHook(HookFunc(func(ctx HookCtx) {
			names = append(names, ctx.Pos.Name)
		}))

		hookable.InvokeHook(HookCtx{Pos: &HookPos{Name: "A"}})
		hookable.InvokeHook(HookCtx{Pos: &HookPos{Name: "B"}})

		Expect(names).To(Equal([]string{"A", "B"}))
	})

	It("should not expose the hook list", func() {
		hookable.AcceptHook(NewMockHook(mockCtrl))

		hooks := hookable.Hooks()
		hooks[0] = nil

		Expect(hookable.Hooks()[0]).NotTo(BeNil())
	})

	It("should panic on duplicated hooks", func() {
		hook := NewMockHook(mockCtrl)
		hookable.AcceptHook(hook)

		Expect(func() { hookable.AcceptHook(hook) }).To(Panic())
	})
})

var _ = Describe("LogHook", func() {
	It("should print page events", func() {
		buf := new(bytes.Buffer)
		hook := NewLogHook(log.New(buf, "", 0))

		hook.Func(HookCtx{
			Pos:  &HookPos{Name: "Evict"},
			Item: vm.PageEvent{PID: 3, UPage: 0x8000, PAddr: 0x100000, Slot: -1},
		})

		Expect(buf.String()).To(Equal(
			"Evict: pid=3 upage=0x8000 paddr=0x100000 slot=-1\n"))
	})

	It("should print details", func() {
		buf := new(bytes.Buffer)
		hook := NewLogHook(log.New(buf, "", 0))

		hook.Func(HookCtx{
			Pos:    &HookPos{Name: "Fault"},
			Item:   vm.PageEvent{PID: 1, UPage: 0x1000, Slot: -1},
			Detail: "resolved",
		})

		Expect(buf.String()).To(ContainSubstring("(resolved)"))
	})
})
