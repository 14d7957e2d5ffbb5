package trap

import (
	"bytes"
	"strings"
	"testing"

	"github.com/khanhpdspkt/firmware.modules.rtos/kernel/cpu"
	"github.com/khanhpdspkt/firmware.modules.rtos/kernel/irq"
	"github.com/khanhpdspkt/firmware.modules.rtos/kernel/klog"
	"github.com/khanhpdspkt/firmware.modules.rtos/kernel/task"
	"github.com/khanhpdspkt/firmware.modules.rtos/kernel/window"
)

const (
	ctxAddr      = uint32(0x1000)
	nullAddr     = uint32(0x2000)
	otherCtxAddr = uint32(0x3000)
	otherSP      = uint32(0x7000)
	threadSP     = uint32(0x9000)

	trappedPC  = uint32(0x40000100)
	trappedNPC = uint32(0x40000104)
)

type fixture struct {
	m    *cpu.Machine
	dev  *irq.IRQMP
	ctrl *irq.Controller
	h    *task.Handle
	ctx  task.Context
	d    *Dispatcher
}

// newFixture builds a machine in the shape of a running task: current
// window 3 with its callers in windows 4 and 5, the invalid marker above
// the oldest caller, distinct values everywhere a save must capture.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	m := cpu.NewMachine(8)
	m.SetPSR(cpu.PSRS | cpu.PSRET | cpu.PSR(0).WithCWP(3))
	m.SetInvalidWindow(6)

	for _, w := range []int{3, 4, 5} {
		for k := 0; k < cpu.WindowWords; k++ {
			m.SetWindowWord(w, k, uint32(w)<<16|uint32(k))
		}
	}
	for i := 0; i < 8; i++ {
		m.SetOut(i, 0xc0+uint32(i))
	}
	m.SetOut(6, threadSP)
	for g := 1; g < 8; g++ {
		m.SetGlobal(g, 0x50+uint32(g))
	}
	m.SetY(0x1234)
	m.SetPC(trappedPC, trappedNPC)

	dev := &irq.IRQMP{}
	ctrl := irq.NewController(dev)
	ctx := task.At(m.Mem, ctxAddr)
	h := task.NewHandle(ctx)
	null := task.Null(m.Mem, nullAddr)

	return &fixture{
		m:    m,
		dev:  dev,
		ctrl: ctrl,
		h:    h,
		ctx:  ctx,
		d:    NewDispatcher(m, ctrl, h, null),
	}
}

func (f *fixture) checkResumedThread(t *testing.T) {
	t.Helper()
	m := f.m
	if m.Faulted() != nil {
		t.Fatalf("unexpected fault: %s", m.Faulted().Reason)
	}
	if got := m.CWP(); got != 3 {
		t.Errorf("expected to resume in window 3; got %d", got)
	}
	if !m.TrapsEnabled() {
		t.Error("expected traps enabled after resume")
	}
	if got := m.PIL(); got != 0 {
		t.Errorf("expected the priority level back at 0; got %d", got)
	}
	for g := 1; g < 8; g++ {
		if got := m.Global(g); got != 0x50+uint32(g) {
			t.Errorf("global %d: expected %#x; got %#x", g, 0x50+uint32(g), got)
		}
	}
	if got := m.Y(); got != 0x1234 {
		t.Errorf("expected Y intact; got %#x", got)
	}
	for i := 0; i < 8; i++ {
		want := uint32(3)<<16 | uint32(8+i)
		if got := m.In(i); got != want {
			t.Errorf("in %d: expected %#x; got %#x", i, want, got)
		}
	}
	if got := m.Out(6); got != threadSP {
		t.Errorf("expected the stack pointer back in out 6; got %#x", got)
	}
}

func clobberHot(m *cpu.Machine) {
	for g := 1; g < 8; g++ {
		m.SetGlobal(g, 0xeeee0000+uint32(g))
	}
	m.SetY(0xeeee1234)
}

func TestOutermostInterrupt(t *testing.T) {
	f := newFixture(t)
	m := f.m

	called := false
	f.ctrl.InterruptHandlerCaller = func(line uint32) {
		called = true
		if line != 3 {
			t.Errorf("expected line 3; got %d", line)
		}
		if !m.TrapsEnabled() {
			t.Error("expected traps enabled for the handler")
		}
		if got := m.PIL(); got != 3 {
			t.Errorf("expected the priority level raised to 3; got %d", got)
		}
		if got := m.CWP(); got != 2 {
			t.Errorf("expected the handler in the trap window; got %d", got)
		}
		if got := m.Out(6); got != threadSP-3*window.FrameBytes {
			t.Errorf("expected the kernel stack pointer below the spill area; got %#x", got)
		}
		clobberHot(m)
	}

	f.d.Entry(irq.InterruptVector(3))

	if !called {
		t.Fatal("expected the handler to run")
	}
	f.checkResumedThread(t)
	if m.PC() != trappedPC || m.NPC() != trappedNPC {
		t.Errorf("expected the trapped pair re-executed; got %#x/%#x", m.PC(), m.NPC())
	}
	if got := m.InvalidWindow(); got != 4 {
		t.Errorf("expected the invalid marker past the resume window; got %d", got)
	}
	if got := f.ctx.In(6); got != threadSP {
		t.Errorf("expected the archived stack pointer; got %#x", got)
	}
	if got := f.ctx.State(); got != task.Live {
		t.Errorf("expected the context live; got %d", got)
	}
}

func TestServiceTrapResumesPastInstruction(t *testing.T) {
	f := newFixture(t)

	var calledService uint32
	f.ctrl.TaskContextReplacementCaller = func(service uint32) { calledService = service }

	f.d.Entry(irq.ServiceVector(2))

	if calledService != 2 {
		t.Fatalf("expected service 2; got %d", calledService)
	}
	f.checkResumedThread(t)
	if f.m.PC() != trappedNPC || f.m.NPC() != trappedNPC+4 {
		t.Errorf("expected to resume past the trapping instruction; got %#x/%#x", f.m.PC(), f.m.NPC())
	}
}

func TestNestedInterrupt(t *testing.T) {
	f := newFixture(t)
	m := f.m

	const nestedPC, nestedNPC = uint32(0x40002000), uint32(0x40002004)

	nestedRan := false
	f.ctrl.InterruptHandlerCaller = func(line uint32) {
		switch line {
		case 3:
			clobberHot(m)
			outerG4 := m.Global(4)
			m.SetPC(nestedPC, nestedNPC)
			f.d.Entry(irq.InterruptVector(5))

			// Back in the outer handler: its window, priority level
			// and registers must be exactly as the nested trap found
			// them.
			if m.Faulted() != nil {
				t.Fatalf("unexpected fault after nested return: %s", m.Faulted().Reason)
			}
			if got := m.CWP(); got != 2 {
				t.Errorf("expected the outer handler window back; got %d", got)
			}
			if got := m.PIL(); got != 3 {
				t.Errorf("expected the outer priority level back; got %d", got)
			}
			if !m.TrapsEnabled() {
				t.Error("expected traps enabled again in the outer handler")
			}
			if m.PC() != nestedPC || m.NPC() != nestedNPC {
				t.Errorf("expected the outer handler pair back; got %#x/%#x", m.PC(), m.NPC())
			}
			if got := m.Global(4); got != outerG4 {
				t.Errorf("expected the outer handler globals back; got %#x", got)
			}
		case 5:
			nestedRan = true
			if got := m.CWP(); got != 1 {
				t.Errorf("expected the nested handler one window deeper; got %d", got)
			}
			if got := m.PIL(); got != 5 {
				t.Errorf("expected the priority level raised to 5; got %d", got)
			}
			// The interrupted trap's record sits on the kernel stack,
			// just below the outer spill area.
			wantRec := (threadSP - 3*window.FrameBytes - task.RecordBytes) &^ 7
			if got := m.Out(6); got != wantRec {
				t.Errorf("expected the nested record at %#x; got %#x", wantRec, got)
			}
			clobberHot(m)
		default:
			t.Errorf("unexpected line %d", line)
		}
	}

	f.d.Entry(irq.InterruptVector(3))

	if !nestedRan {
		t.Fatal("expected the nested handler to run")
	}
	f.checkResumedThread(t)
	if m.PC() != trappedPC || m.NPC() != trappedNPC {
		t.Errorf("expected the trapped pair re-executed; got %#x/%#x", m.PC(), m.NPC())
	}
}

// TestDeepNesting drives trap nesting far enough to wrap the window ring:
// with eight windows the sixth nested entry finds the would-be trap window
// invalid and must spill one frame to proceed. The whole tower then
// unwinds back to a pristine thread.
func TestDeepNesting(t *testing.T) {
	f := newFixture(t)
	m := f.m

	const deepest = 9
	hpc := func(line uint32) uint32 { return 0x40010000 + line*0x100 }

	depthSpilled := -1
	f.ctrl.InterruptHandlerCaller = func(line uint32) {
		if line == deepest {
			return
		}
		if m.PrevWindow(m.PrevWindow(m.CWP())) == m.InvalidWindow() {
			depthSpilled = int(line) // the next entry has to spill
		}
		next := line + 1
		m.SetPC(hpc(next), hpc(next)+4)
		f.d.Entry(irq.InterruptVector(next))
		if m.Faulted() != nil {
			t.Fatalf("fault unwinding from line %d: %s", next, m.Faulted().Reason)
		}
		if m.PC() != hpc(next) {
			t.Errorf("line %d: expected pc %#x back; got %#x", line, hpc(next), m.PC())
		}
		if got := m.PIL(); got != line {
			t.Errorf("line %d: expected the priority level back; got %d", line, got)
		}
	}

	f.d.Entry(irq.InterruptVector(3))

	if depthSpilled < 0 {
		t.Fatal("expected the nesting tower to exhaust the free windows")
	}
	f.checkResumedThread(t)
	if got := m.InvalidWindow(); got != 4 {
		t.Errorf("expected the invalid marker past the resume window; got %d", got)
	}
}

func TestFrozenContextRedirect(t *testing.T) {
	f := newFixture(t)
	m := f.m

	// Seed the frozen record with a canary and snapshot it: a trap in
	// flight across task termination must not write a single word of it.
	for k := uint32(0); k < task.RecordBytes; k += 4 {
		m.Mem.StoreWord(ctxAddr+k, 0xfee1dead)
	}
	f.ctx.SetState(task.Frozen)
	var snapshot [task.RecordBytes / 4]uint32
	for k := range snapshot {
		snapshot[k] = m.Mem.LoadWord(ctxAddr + uint32(4*k))
	}

	f.ctrl.InterruptHandlerCaller = func(line uint32) {}
	f.d.Entry(irq.InterruptVector(3))

	f.checkResumedThread(t)
	for k := range snapshot {
		if got := m.Mem.LoadWord(ctxAddr + uint32(4*k)); got != snapshot[k] {
			t.Errorf("frozen record word %d: expected %#x; got %#x", k, snapshot[k], got)
		}
	}
	if got := f.h.Context().Addr(); got != nullAddr {
		t.Errorf("expected the active handle redirected to the sentinel; got %#x", got)
	}
	if got := task.At(m.Mem, nullAddr).In(6); got != threadSP {
		t.Errorf("expected the save soaked up by the sentinel; got %#x", got)
	}
}

func TestContextSwitchAcrossDispatch(t *testing.T) {
	f := newFixture(t)
	m := f.m

	// Hand-build the incoming context: archived in its own trap window
	// with its resume frame already sitting on its stack.
	other := task.At(m.Mem, otherCtxAddr)
	m.Mem.StoreWord(otherCtxAddr, uint32(cpu.PSRS|cpu.PSR(0).WithCWP(2)))
	for g := 1; g < 8; g++ {
		m.Mem.StoreWord(otherCtxAddr+uint32(4*g), 0x70+uint32(g))
	}
	for i := 0; i < 8; i++ {
		m.Mem.StoreWord(otherCtxAddr+32+uint32(4*i), 0xd0+uint32(i))
	}
	m.Mem.StoreWord(otherCtxAddr+32+4*6, otherSP)
	m.Mem.StoreWord(otherCtxAddr+64, 0x5678)      // Y
	m.Mem.StoreWord(otherCtxAddr+68, 0x40003000)  // pc
	m.Mem.StoreWord(otherCtxAddr+72, 0x40003004)  // npc
	m.Mem.StoreWord(otherCtxAddr+76, uint32(task.Live))
	for k := 0; k < cpu.WindowWords; k++ {
		m.Mem.StoreWord(otherSP-window.FrameBytes+uint32(4*k), 0xdd00+uint32(k))
	}

	trace := &klog.Trace{}
	f.d.SetTrace(trace)

	f.ctrl.InterruptHandlerCaller = func(line uint32) {
		f.h.SetContext(other)
	}

	f.d.Entry(irq.InterruptVector(3))

	if m.Faulted() != nil {
		t.Fatalf("unexpected fault: %s", m.Faulted().Reason)
	}
	if m.PC() != 0x40003000 || m.NPC() != 0x40003004 {
		t.Errorf("expected the incoming task's pair; got %#x/%#x", m.PC(), m.NPC())
	}
	if got := m.CWP(); got != 3 {
		t.Errorf("expected to resume in window 3; got %d", got)
	}
	for g := 1; g < 8; g++ {
		if got := m.Global(g); got != 0x70+uint32(g) {
			t.Errorf("global %d: expected the incoming value %#x; got %#x", g, 0x70+uint32(g), got)
		}
	}
	if got := m.Out(6); got != otherSP {
		t.Errorf("expected the incoming stack pointer; got %#x", got)
	}
	for i := 0; i < 8; i++ {
		want := 0xdd00 + uint32(8+i)
		if got := m.In(i); got != want {
			t.Errorf("in %d: expected the refilled frame value %#x; got %#x", i, want, got)
		}
	}
	// The outgoing task's context must hold a complete resumable archive.
	if got := f.ctx.PC(); got != trappedPC {
		t.Errorf("expected the outgoing pair archived; got %#x", got)
	}
	if got := f.ctx.In(6); got != threadSP {
		t.Errorf("expected the outgoing stack pointer archived; got %#x", got)
	}

	var buf bytes.Buffer
	trace.SetSink(&buf)
	if out := buf.String(); !strings.Contains(out, "switch") {
		t.Errorf("expected a context switch trace event; got:\n%s", out)
	}
}

func TestEntryWithTrapsDisabledIsFatal(t *testing.T) {
	f := newFixture(t)
	f.m.DisableTraps()

	called := false
	f.ctrl.InterruptHandlerCaller = func(line uint32) { called = true }
	f.d.Entry(irq.InterruptVector(3))

	if f.m.Faulted() == nil {
		t.Fatal("expected a trap during a disabled-trap section to be fatal")
	}
	if called {
		t.Error("expected no handler call on a faulted machine")
	}
}
