package hooking

import (
	"log"

	"github.com/sarchlab/vmcore/vm"
)

// A LogHook prints every paging event it sees.
type LogHook struct {
	*log.Logger
}

// NewLogHook creates a LogHook that writes with the given logger.
func NewLogHook(logger *log.Logger) *LogHook {
	return &LogHook{Logger: logger}
}

// Func prints the event.
func (h *LogHook) Func(ctx HookCtx) {
	evt, ok := ctx.Item.(vm.PageEvent)
	if !ok {
		h.Printf("%s: %v", ctx.Pos.Name, ctx.Item)
		return
	}

	if ctx.Detail != nil {
		h.Printf("%s: pid=%d upage=%#x paddr=%#x slot=%d (%v)",
			ctx.Pos.Name, evt.PID, evt.UPage, evt.PAddr, evt.Slot, ctx.Detail)
		return
	}

	h.Printf("%s: pid=%d upage=%#x paddr=%#x slot=%d",
		ctx.Pos.Name, evt.PID, evt.UPage, evt.PAddr, evt.Slot)
}
