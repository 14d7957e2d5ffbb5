package task

import (
	"github.com/khanhpdspkt/firmware.modules.rtos/kernel/cpu"
)

// Handle is the process-wide active-context pointer. It is owned jointly
// by the scheduler, which repoints it on every context switch, and by the
// trap core, which reads it at trap entry and again at trap exit. Either
// side touches it only with traps disabled, so plain reads and writes are
// sufficient; there is no second hardware thread.
type Handle struct {
	ctx Context
}

// NewHandle returns a handle pointing at the given context.
func NewHandle(ctx Context) *Handle {
	return &Handle{ctx: ctx}
}

// Context returns the currently active context.
func (h *Handle) Context() Context { return h.ctx }

// SetContext repoints the handle.
func (h *Handle) SetContext(ctx Context) { h.ctx = ctx }

// Null carves the null context sentinel out of reserved kernel memory.
// The sentinel lives for the whole life of the process and soaks up the
// save performed by a trap that was already in flight when the interrupted
// task's context was frozen for reuse. It never represents a runnable
// task, so nothing ever restores from it.
func Null(mem *cpu.Memory, addr uint32) Context {
	c := At(mem, addr)
	c.SetState(Live)
	return c
}
