// Package cpu models the architectural state of a LEON-class, register
// windowed SPARC v8 processor: the circular window file with its single
// invalid-window marker, the status register, the trap entry/return
// transitions and the power-down state. The kernel layers above manipulate
// the processor exclusively through this package; nothing else touches raw
// window-advance primitives.
package cpu

// WindowWords is the number of 32-bit words held by one register window:
// the eight locals followed by the eight in registers. These are the words
// a spill stores to the owning stack as eight double-words.
const WindowWords = 16

const (
	// MinWindows is the smallest window file the architecture allows.
	MinWindows = 2

	// MaxWindows is the largest window file the architecture allows.
	MaxWindows = 32
)

// Fault describes a fatal machine fault. Faults are latched: once a fault
// occurs the machine halts and every further operation is a no-op. There is
// no recovery path; a fault models the processor entering error mode.
type Fault struct {
	Reason string
	PC     uint32
}

// Machine is the architectural state of a single hardware thread.
type Machine struct {
	nwindows int
	windows  [][WindowWords]uint32
	invalid  int // index of the window marked invalid by WIM

	psr     PSR
	globals [8]uint32 // g0 hardwired to zero
	y       uint32
	pc, npc uint32

	fregs [32]uint32
	fsr   uint32

	Mem *Memory

	waiting bool
	fault   *Fault
}

// NewMachine returns a machine with the given number of register windows.
// The window count is probed exactly once at system init and is immutable
// afterwards; values outside the architectural range latch a fault
// immediately.
func NewMachine(nwindows int) *Machine {
	m := &Machine{nwindows: nwindows, psr: PSRS | PSRET}
	m.Mem = NewMemory(m.Fault)
	if nwindows < MinWindows || nwindows > MaxWindows {
		m.Fault("window count outside architectural range")
		return m
	}
	m.windows = make([][WindowWords]uint32, nwindows)
	m.invalid = nwindows - 1
	return m
}

// NWindows returns the number of register windows.
func (m *Machine) NWindows() int { return m.nwindows }

// Fault latches a fatal fault and halts the machine. The first fault wins.
func (m *Machine) Fault(reason string) {
	if m.fault != nil {
		return
	}
	m.fault = &Fault{Reason: reason, PC: m.pc}
}

// Faulted returns the latched fault, or nil while the machine is healthy.
func (m *Machine) Faulted() *Fault { return m.fault }

// PSR returns the live status register.
func (m *Machine) PSR() PSR { return m.psr }

// SetPSR replaces the status register wholesale. Used when a context is
// reinstated; the caller is responsible for filtering non-restorable bits.
func (m *Machine) SetPSR(p PSR) { m.psr = p }

// CWP returns the current window pointer.
func (m *Machine) CWP() int { return m.psr.CWP() }

// TrapsEnabled reports whether traps are currently enabled.
func (m *Machine) TrapsEnabled() bool { return m.psr.TrapsEnabled() }

// EnableTraps sets the ET bit.
func (m *Machine) EnableTraps() { m.psr |= PSRET }

// DisableTraps clears the ET bit.
func (m *Machine) DisableTraps() { m.psr &^= PSRET }

// PIL returns the processor interrupt level.
func (m *Machine) PIL() uint32 { return m.psr.PIL() }

// SetPIL replaces the processor interrupt level.
func (m *Machine) SetPIL(level uint32) { m.psr = m.psr.WithPIL(level) }

// PC returns the program counter.
func (m *Machine) PC() uint32 { return m.pc }

// NPC returns the next program counter.
func (m *Machine) NPC() uint32 { return m.npc }

// SetPC sets the program counter pair.
func (m *Machine) SetPC(pc, npc uint32) { m.pc, m.npc = pc, npc }

// Y returns the multiply/divide register.
func (m *Machine) Y() uint32 { return m.y }

// SetY sets the multiply/divide register.
func (m *Machine) SetY(v uint32) { m.y = v }

// Global returns global register i. g0 always reads as zero.
func (m *Machine) Global(i int) uint32 {
	if i == 0 {
		return 0
	}
	return m.globals[i]
}

// SetGlobal writes global register i. Writes to g0 are discarded.
func (m *Machine) SetGlobal(i int, v uint32) {
	if i == 0 {
		return
	}
	m.globals[i] = v
}

// FReg returns floating point register i.
func (m *Machine) FReg(i int) uint32 { return m.fregs[i] }

// SetFReg writes floating point register i.
func (m *Machine) SetFReg(i int, v uint32) { m.fregs[i] = v }

// FSR returns the floating point status register.
func (m *Machine) FSR() uint32 { return m.fsr }

// SetFSR writes the floating point status register.
func (m *Machine) SetFSR(v uint32) { m.fsr = v }

// Local returns local register i of the current window.
func (m *Machine) Local(i int) uint32 {
	return m.windows[m.CWP()][i]
}

// SetLocal writes local register i of the current window.
func (m *Machine) SetLocal(i int, v uint32) {
	m.windows[m.CWP()][i] = v
}

// In returns in register i of the current window. In register 6 is the
// frame pointer; because the in registers of a trap window are the out
// registers of the interrupted window, it holds the interrupted code's
// stack pointer after a trap.
func (m *Machine) In(i int) uint32 {
	return m.windows[m.CWP()][8+i]
}

// SetIn writes in register i of the current window.
func (m *Machine) SetIn(i int, v uint32) {
	m.windows[m.CWP()][8+i] = v
}

// Out returns out register i of the current window. The out registers are
// not separate storage: they are the in registers of the window one save
// away, which is how a trap window inherits the interrupted code's
// arguments and stack pointer.
func (m *Machine) Out(i int) uint32 {
	return m.windows[m.PrevWindow(m.CWP())][8+i]
}

// SetOut writes out register i of the current window.
func (m *Machine) SetOut(i int, v uint32) {
	m.windows[m.PrevWindow(m.CWP())][8+i] = v
}

// WindowWord returns word k of window w. Words 0-7 are the locals, words
// 8-15 the ins.
func (m *Machine) WindowWord(w, k int) uint32 { return m.windows[w][k] }

// SetWindowWord writes word k of window w.
func (m *Machine) SetWindowWord(w, k int, v uint32) { m.windows[w][k] = v }

// InvalidWindow returns the index of the window marked invalid.
func (m *Machine) InvalidWindow() int { return m.invalid }

// SetInvalidWindow moves the invalid-window marker. The marker is one-hot:
// marking a window valid again happens implicitly by marking another.
func (m *Machine) SetInvalidWindow(w int) { m.invalid = w }

// NextWindow returns the window index one advance (restore direction) away
// from w.
func (m *Machine) NextWindow(w int) int { return (w + 1) % m.nwindows }

// PrevWindow returns the window index one save away from w.
func (m *Machine) PrevWindow(w int) int { return (w + m.nwindows - 1) % m.nwindows }

// EnterTrap performs the machine side of trap delivery: traps are disabled,
// the supervisor bit is latched into PS and the window pointer retreats by
// one so the handler owns a fresh window. Delivery while traps are disabled
// puts the processor in error mode.
func (m *Machine) EnterTrap() {
	if m.fault != nil {
		return
	}
	if !m.psr.TrapsEnabled() {
		m.Fault("trap delivered while traps disabled")
		return
	}
	m.waiting = false
	m.psr &^= PSRET
	if m.psr.Supervisor() {
		m.psr |= PSRPS
	} else {
		m.psr &^= PSRPS
	}
	m.psr |= PSRS
	m.psr = m.psr.WithCWP(m.PrevWindow(m.CWP()))
	// The trapped instruction pair lands in locals 1 and 2 of the fresh
	// window, as the hardware leaves it.
	m.SetLocal(1, m.pc)
	m.SetLocal(2, m.npc)
}

// ReturnFromTrap performs the rett transition: the window pointer advances
// back into the resume window, traps are re-enabled and execution moves to
// the given instruction pair. Advancing into the invalid window, or
// returning with traps already enabled, is fatal; the refill obligations of
// the trap exit paths exist precisely so neither can happen.
func (m *Machine) ReturnFromTrap(pc, npc uint32) {
	if m.fault != nil {
		return
	}
	if m.psr.TrapsEnabled() {
		m.Fault("trap return with traps enabled")
		return
	}
	next := m.NextWindow(m.CWP())
	if next == m.invalid {
		m.Fault("trap return into invalid window")
		return
	}
	m.psr = m.psr.WithCWP(next)
	if m.psr&PSRPS != 0 {
		m.psr |= PSRS
	} else {
		m.psr &^= PSRS
	}
	m.psr |= PSRET
	m.pc, m.npc = pc, npc
}

// PowerDown halts the pipeline until the next enabled interrupt arrives,
// modeling the LEON write to %asr19.
func (m *Machine) PowerDown() { m.waiting = true }

// WakeUp ends a power-down wait. Invoked by interrupt delivery.
func (m *Machine) WakeUp() { m.waiting = false }

// Waiting reports whether the machine sits in the power-down state.
func (m *Machine) Waiting() bool { return m.waiting }
