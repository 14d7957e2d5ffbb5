// Package window manages the register-window file as a bounded cache of
// frames. The window file is circular with exactly one window marked
// invalid at any time; the operations here spill frames to the owning
// stack and fill them back so that trap handling can always claim a fresh
// window without the processor ever advancing into live state.
//
// Every operation requires traps to be disabled: a trap arriving mid
// operation would observe a torn invalid-window marker, which is fatal by
// design. The operations therefore latch a machine fault when invoked with
// traps enabled instead of attempting the transfer.
package window

import (
	"github.com/khanhpdspkt/firmware.modules.rtos/kernel/cpu"
)

// FrameBytes is the size of one spilled window frame on the stack: sixteen
// words stored as eight double-words.
const FrameBytes = 4 * cpu.WindowWords

// Stack is a descending cursor over a register save area in memory. Frames
// push downwards from the initial pointer, matching the stack discipline
// of the owning thread.
type Stack struct {
	mem *cpu.Memory
	sp  uint32
}

// NewStack returns a stack cursor starting at sp. The pointer must be
// double-word aligned; the first push lands at sp-FrameBytes.
func NewStack(mem *cpu.Memory, sp uint32) *Stack {
	return &Stack{mem: mem, sp: sp}
}

// Pointer returns the current cursor position.
func (s *Stack) Pointer() uint32 { return s.sp }

func (s *Stack) pushFrame(m *cpu.Machine, w int) {
	s.sp -= FrameBytes
	for k := 0; k < cpu.WindowWords; k += 2 {
		s.mem.StoreDouble(s.sp+uint32(4*k), m.WindowWord(w, k), m.WindowWord(w, k+1))
	}
}

func (s *Stack) popFrame(m *cpu.Machine, w int) {
	for k := 0; k < cpu.WindowWords; k += 2 {
		hi, lo := s.mem.LoadDouble(s.sp + uint32(4*k))
		m.SetWindowWord(w, k, hi)
		m.SetWindowWord(w, k+1, lo)
	}
	s.sp += FrameBytes
}

// Manager owns all movements of the invalid-window marker. Nothing else in
// the kernel may spill, fill or remark windows.
type Manager struct {
	m *cpu.Machine
}

// NewManager returns a manager bound to the given machine.
func NewManager(m *cpu.Machine) *Manager {
	return &Manager{m: m}
}

func (mgr *Manager) checkTrapsDisabled() bool {
	if mgr.m.TrapsEnabled() {
		mgr.m.Fault("window operation with traps enabled")
		return false
	}
	return true
}

// SpillAllInUse empties every window the interrupted thread had in use,
// storing each to the thread's stack. It walks from the window above the
// trap window until the next advance would land on the invalid window,
// then re-marks the window adjacent to the trap window as the invalid one.
// Afterwards exactly one window (the trap window) holds live state, and
// the eventual trap return is guaranteed to need a refill.
//
// Used once per period of trap activity, at outermost entry only. The
// frame of the interrupted window is pushed first, so its stack slot is
// always FrameBytes below the stack pointer archived in the task context.
func (mgr *Manager) SpillAllInUse(st *Stack) {
	if !mgr.checkTrapsDisabled() {
		return
	}
	m := mgr.m
	w := m.CWP()
	for m.NextWindow(w) != m.InvalidWindow() {
		w = m.NextWindow(w)
		st.pushFrame(m, w)
	}
	m.SetInvalidWindow(m.NextWindow(m.CWP()))
}

// EnsureOneFreeFrame guarantees that a further trap can claim a window
// without overwriting live state. If the window a further trap would enter
// is currently the invalid one, the least-recently-used in-use window is
// spilled to the stack and the invalid marker advances one position onto
// it; otherwise nothing happens. Returns whether a frame was spilled.
//
// Used at nested entry, before traps are re-enabled for the handler call.
func (mgr *Manager) EnsureOneFreeFrame(st *Stack) bool {
	if !mgr.checkTrapsDisabled() {
		return false
	}
	m := mgr.m
	if m.PrevWindow(m.CWP()) != m.InvalidWindow() {
		return false
	}
	lru := m.PrevWindow(m.InvalidWindow())
	st.pushFrame(m, lru)
	m.SetInvalidWindow(lru)
	return true
}

// RefillOne undoes the spill performed by EnsureOneFreeFrame in the same
// trap invocation: the frame on top of the stack is loaded back into the
// window at the invalid marker and the marker retreats one position. The
// caller tracks whether its entry spilled; the marker position alone is
// not a reliable signal once nesting has wrapped the window ring.
func (mgr *Manager) RefillOne(st *Stack) {
	if !mgr.checkTrapsDisabled() {
		return
	}
	m := mgr.m
	v := m.InvalidWindow()
	st.popFrame(m, v)
	m.SetInvalidWindow(m.NextWindow(v))
}

// RefillResume loads the resume window of the active thread back from its
// stack before a trap return. The stack cursor must sit on the frame
// spilled for the window above the trap window; after the fill the invalid
// marker moves beyond the resume window so the deeper frames of the thread
// keep refilling lazily through the ordinary underflow path.
//
// Used at outermost exit, where it is guaranteed necessary because
// SpillAllInUse emptied every window of whichever thread is now active.
func (mgr *Manager) RefillResume(st *Stack) {
	if !mgr.checkTrapsDisabled() {
		return
	}
	m := mgr.m
	v := m.NextWindow(m.CWP())
	st.popFrame(m, v)
	m.SetInvalidWindow(m.NextWindow(v))
}
