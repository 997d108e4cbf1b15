// Package hooking lets observers attach to the paging core. Components invoke
// hooks at well-known positions, such as a frame being evicted or a fault
// being resolved, and the hooks decide what to do with the event.
package hooking

import (
	"slices"
	"sync"
	"sync/atomic"
)

// A HookPos names a place where hooks are invoked.
type HookPos struct {
	Name string
}

// HookCtx describes one invocation.
type HookCtx struct {
	// Domain is the component that invokes the hook.
	Domain Hookable

	// Pos tells where the hook is invoked.
	Pos *HookPos

	// Item is the subject of the event, usually a vm.PageEvent.
	Item any

	// Detail carries extra information, such as the outcome of a fault.
	Detail any
}

// Hookable is a component that hooks can attach to.
type Hookable interface {
	// AcceptHook registers a hook. Registering the same hook twice panics.
	AcceptHook(hook Hook)

	// NumHooks returns the number of hooks registered.
	NumHooks() int

	// Hooks returns all the hooks registered.
	Hooks() []Hook
}

// A Hook observes a Hookable.
//
// Hooks of the paging core are invoked from many goroutines at once, so Func
// must be safe for concurrent use.
type Hook interface {
	Func(ctx HookCtx)
}

type funcHook struct {
	f func(ctx HookCtx)
}

func (h *funcHook) Func(ctx HookCtx) {
	h.f(ctx)
}

// HookFunc turns a function into a Hook. Every call returns a distinct hook.
func HookFunc(f func(ctx HookCtx)) Hook {
	return &funcHook{f: f}
}

// A HookableBase implements Hookable for the components that embed it.
// Hooks can be registered at any time; an invocation that is already running
// does not see hooks that are added during it.
type HookableBase struct {
	registerLock sync.Mutex
	hooks        atomic.Pointer[[]Hook]
}

// NumHooks returns the number of hooks registered.
func (h *HookableBase) NumHooks() int {
	return len(h.load())
}

// Hooks returns all the hooks registered.
func (h *HookableBase) Hooks() []Hook {
	return slices.Clone(h.load())
}

// AcceptHook registers a hook.
func (h *HookableBase) AcceptHook(hook Hook) {
	h.registerLock.Lock()
	defer h.registerLock.Unlock()

	hooks := h.load()
	if slices.Contains(hooks, hook) {
		panic("duplicated hook")
	}

	next := append(slices.Clip(hooks), hook)
	h.hooks.Store(&next)
}

// InvokeHook calls every registered hook in registration order.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.load() {
		hook.Func(ctx)
	}
}

func (h *HookableBase) load() []Hook {
	hooks := h.hooks.Load()
	if hooks == nil {
		return nil
	}

	return *hooks
}
