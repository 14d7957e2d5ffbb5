// Package task persists and recovers the architectural state of a thread
// or an interrupted trap. A context is a fixed-layout record in memory;
// the layout is a binary contract shared with the task creation code and
// the scheduler and must not change.
package task

import (
	"github.com/khanhpdspkt/firmware.modules.rtos/kernel/cpu"
)

// Record layout, in byte offsets. All multi-word runs are stored as
// double-words, which pins the record to double-word alignment.
const (
	offPSR   = 0  // status register
	offG1    = 4  // global 1
	offG2    = 8  // globals 2-7 as three double-words
	offIn    = 32 // in registers 0-7 as four double-words
	offY     = 64 // multiply/divide register
	offPC    = 68 // program counter
	offNPC   = 72 // next program counter
	offState = 76 // Live / Frozen marker

	// RecordBytes is the context record size: 76 used bytes rounded up
	// to the next double-word boundary.
	RecordBytes = 80

	// FPURecordBytes is the record size when the optional floating
	// point block (FSR plus 32 registers) is appended.
	FPURecordBytes = RecordBytes + 4*33 + 4
)

// State tags a context as usable or invalidated.
type State uint32

const (
	// Live marks a context whose record reflects a schedulable thread.
	Live State = 0

	// Frozen marks a context invalidated by task termination: its stack
	// and record are being rebuilt for reuse and must not be written by
	// an in-flight trap.
	Frozen State = 1
)

// Context is a view over a context record at a fixed memory address. It
// carries no state of its own; two Contexts with the same address alias
// the same record.
type Context struct {
	mem  *cpu.Memory
	addr uint32
}

// At returns a context view over the record at addr.
func At(mem *cpu.Memory, addr uint32) Context {
	return Context{mem: mem, addr: addr}
}

// Addr returns the record address.
func (c Context) Addr() uint32 { return c.addr }

// Valid reports whether the view refers to a record at all.
func (c Context) Valid() bool { return c.mem != nil }

// State returns the Live/Frozen tag.
func (c Context) State() State {
	return State(c.mem.LoadWord(c.addr + offState))
}

// SetState rewrites the Live/Frozen tag. Called by task termination when a
// context is about to be rebuilt, and by task creation when it is ready.
func (c Context) SetState(s State) {
	c.mem.StoreWord(c.addr+offState, uint32(s))
}

// PSR returns the archived status register.
func (c Context) PSR() cpu.PSR {
	return cpu.PSR(c.mem.LoadWord(c.addr + offPSR))
}

// PC returns the archived program counter.
func (c Context) PC() uint32 { return c.mem.LoadWord(c.addr + offPC) }

// NPC returns the archived next program counter.
func (c Context) NPC() uint32 { return c.mem.LoadWord(c.addr + offNPC) }

// In returns archived in register i. In register 6 holds the stack pointer
// the thread's window frames were spilled against.
func (c Context) In(i int) uint32 {
	return c.mem.LoadWord(c.addr + offIn + uint32(4*i))
}

// Global returns archived global register i (1-7).
func (c Context) Global(i int) uint32 {
	return c.mem.LoadWord(c.addr + offG1 + uint32(4*(i-1)))
}

// Y returns the archived multiply/divide register.
func (c Context) Y() uint32 { return c.mem.LoadWord(c.addr + offY) }

// Save archives the full machine state into the record: status register,
// globals, the in registers of the trap window, Y and the resume pair. The
// whole record is written within one disabled-trap section so the
// scheduler can never observe a partially updated context; saving with
// traps enabled is fatal. The state word is rewritten as Live, which also
// initialises records freshly carved out of a stack.
func Save(m *cpu.Machine, c Context, pc, npc uint32) {
	if m.TrapsEnabled() {
		m.Fault("context save with traps enabled")
		return
	}
	mem := c.mem
	mem.StoreWord(c.addr+offPSR, uint32(m.PSR()))
	mem.StoreWord(c.addr+offG1, m.Global(1))
	for g := 2; g < 8; g += 2 {
		mem.StoreDouble(c.addr+offG2+uint32(4*(g-2)), m.Global(g), m.Global(g+1))
	}
	for i := 0; i < 8; i += 2 {
		mem.StoreDouble(c.addr+offIn+uint32(4*i), m.In(i), m.In(i+1))
	}
	mem.StoreWord(c.addr+offY, m.Y())
	mem.StoreWord(c.addr+offPC, pc)
	mem.StoreWord(c.addr+offNPC, npc)
	mem.StoreWord(c.addr+offState, uint32(Live))
}

// Restore reinstates the archived state on the machine and returns the
// resume pair. The status register is only partially archived state: the
// trap-enable bit and the interrupt priority level always come from the
// live environment, everything else from the record. The in registers land
// in the window selected by the archived window pointer.
func Restore(m *cpu.Machine, c Context) (pc, npc uint32) {
	if m.TrapsEnabled() {
		m.Fault("context restore with traps enabled")
		return 0, 0
	}
	m.SetPSR(cpu.MergeRestorable(c.PSR(), m.PSR()))
	m.SetGlobal(1, c.Global(1))
	for g := 2; g < 8; g++ {
		m.SetGlobal(g, c.Global(g))
	}
	for i := 0; i < 8; i++ {
		m.SetIn(i, c.In(i))
	}
	m.SetY(c.Y())
	return c.PC(), c.NPC()
}

// SaveFPU appends the floating point block to the record. Only the
// outermost trap path saves it, and only for contexts of tasks that have
// the FPU enabled; trap handlers are not allowed to use floating point, so
// nested records never carry one.
func SaveFPU(m *cpu.Machine, c Context) {
	base := c.addr + RecordBytes
	c.mem.StoreWord(base, m.FSR())
	for i := 0; i < 32; i += 2 {
		c.mem.StoreDouble(base+8+uint32(4*i), m.FReg(i), m.FReg(i+1))
	}
}

// RestoreFPU reinstates the floating point block.
func RestoreFPU(m *cpu.Machine, c Context) {
	base := c.addr + RecordBytes
	m.SetFSR(c.mem.LoadWord(base))
	for i := 0; i < 32; i++ {
		m.SetFReg(i, c.mem.LoadWord(base+8+uint32(4*i)))
	}
}
