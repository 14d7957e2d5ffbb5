// Package trap implements the single reentrant routine every hardware
// interrupt and every synchronous kernel service trap passes through. It
// composes the window cache manager, the context store and the handler
// caller dispatch into two handling shapes — outermost and nested — that
// share one classification step and one resume discipline.
//
// There is no error path anywhere in this package. Every step is total
// over its preconditions; a violated precondition latches a fatal machine
// fault rather than producing a reportable condition.
package trap

import (
	"github.com/khanhpdspkt/firmware.modules.rtos/kernel/cpu"
	"github.com/khanhpdspkt/firmware.modules.rtos/kernel/irq"
	"github.com/khanhpdspkt/firmware.modules.rtos/kernel/klog"
	"github.com/khanhpdspkt/firmware.modules.rtos/kernel/task"
	"github.com/khanhpdspkt/firmware.modules.rtos/kernel/window"
)

// Dispatcher owns trap handling for one machine. It is re-entered, never
// concurrently: a nested trap can only begin while an outer one sits in
// its handler call, on the same hardware thread.
type Dispatcher struct {
	m      *cpu.Machine
	win    *window.Manager
	ctrl   *irq.Controller
	active *task.Handle
	null   task.Context

	// inTrap is true while any trap, outermost or nested, is being
	// handled. It is deliberately a flag and not a depth counter: the
	// outermost instance alone sets and clears it, which pins exactly
	// one full window dump and one refill to each period of trap
	// activity no matter how deeply traps nest inside it. No atomicity
	// is needed; traps stay disabled from delivery until the handler
	// caller deliberately reopens them.
	inTrap bool

	trace *klog.Trace
}

// NewDispatcher wires the trap entry for a machine. The null context must
// be a reserved sentinel record; active is the scheduler-shared handle.
func NewDispatcher(m *cpu.Machine, ctrl *irq.Controller, active *task.Handle, null task.Context) *Dispatcher {
	return &Dispatcher{
		m:      m,
		win:    window.NewManager(m),
		ctrl:   ctrl,
		active: active,
		null:   null,
	}
}

// SetTrace attaches a trace ring. Passing nil disables tracing.
func (d *Dispatcher) SetTrace(t *klog.Trace) { d.trace = t }

func (d *Dispatcher) emit(kind klog.Kind, v irq.Vector, pc uint32) {
	if d.trace == nil {
		return
	}
	d.trace.Emit(klog.Event{Kind: kind, Vector: uint32(v), Window: d.m.CWP(), PC: pc})
}

// Entry is the trap entry routine, bound to every used slot of the
// hardware trap vector table at system init. The machine's program
// counter pair must hold the trapped instruction pair, exactly as the
// hardware delivers it.
func (d *Dispatcher) Entry(v irq.Vector) {
	m := d.m
	pc, npc := m.PC(), m.NPC()
	m.EnterTrap()
	if m.Faulted() != nil {
		return
	}

	// Normalize the resume pair so both handling shapes end in one
	// resume discipline regardless of how the trap was raised.
	retA, retB := v.ResumePair(pc, npc)

	// Plain test-and-set: traps stay disabled until the handler caller
	// reopens them, so no other trap can race this flag.
	if !d.inTrap {
		d.inTrap = true
		d.outermost(v, retA, retB)
	} else {
		d.nested(v, retA, retB)
	}
}

// outermost handles the first trap of a period of trap activity. The full
// window file of the interrupted thread is dumped to its stack exactly
// once; the matching single refill happens on the way out, possibly
// against a different thread's stack if the handler switched contexts.
func (d *Dispatcher) outermost(v irq.Vector, retA, retB uint32) {
	m := d.m

	d.emit(klog.TrapEnter, v, retA)

	// The trap window's in registers are the interrupted code's outs,
	// so in 6 is the stack the thread's frames spill against.
	st := window.NewStack(m.Mem, m.In(6))
	d.win.SpillAllInUse(st)
	d.emit(klog.Spill, v, st.Pointer())

	ctx := d.active.Context()
	if ctx.State() == task.Frozen {
		// The context was invalidated for reuse while this trap was
		// in flight. Soak the save up in the sentinel instead of
		// corrupting the rebuilt record.
		ctx = d.null
		d.active.SetContext(d.null)
		d.emit(klog.FrozenRedirect, v, retA)
	}
	task.Save(m, ctx, retA, retB)
	if m.PSR().FPUEnabled() {
		task.SaveFPU(m, ctx)
	}

	// The handler call runs on this thread's stack, below the spill
	// area; publish the kernel stack pointer so a nested trap entry
	// finds it in its in registers.
	m.SetOut(6, st.Pointer())

	d.emit(klog.Dispatch, v, retA)
	d.ctrl.Dispatch(m, v)

	d.inTrap = false

	// The handler call is the one window where traps were open, so the
	// scheduler may have repointed the active context. Read it again.
	restored := d.active.Context()
	if restored.Addr() != ctx.Addr() {
		d.emit(klog.ContextSwitch, v, restored.Addr())
	}
	pc, npc := task.Restore(m, restored)
	if m.PSR().FPUEnabled() {
		task.RestoreFPU(m, restored)
	}

	// Refilling the resume window is guaranteed necessary: every window
	// the now-active thread had in use is sitting on its stack, with
	// the resume frame at the top slot below its archived pointer.
	rst := window.NewStack(m.Mem, restored.In(6)-window.FrameBytes)
	d.win.RefillResume(rst)
	d.emit(klog.Refill, v, restored.In(6))

	d.emit(klog.TrapExit, v, pc)
	m.ReturnFromTrap(pc, npc)
}

// nested handles a trap that arrived while another was already being
// handled. The interrupted trap's state goes to a record carved out of
// the kernel stack, never to the thread's persistent context: by the LIFO
// structure of trap activity this record is dead the moment the nested
// trap returns. Trap handlers may not use floating point, so the record
// never carries an FPU block, and the frozen check does not apply — stack
// records are never recycled by task termination.
func (d *Dispatcher) nested(v irq.Vector, retA, retB uint32) {
	m := d.m

	d.emit(klog.TrapNested, v, retA)

	st := window.NewStack(m.Mem, m.In(6))
	spilled := d.win.EnsureOneFreeFrame(st)
	if spilled {
		d.emit(klog.Spill, v, st.Pointer())
	}

	recAddr := (st.Pointer() - task.RecordBytes) &^ 7
	rec := task.At(m.Mem, recAddr)
	task.Save(m, rec, retA, retB)

	m.SetOut(6, recAddr)

	d.emit(klog.Dispatch, v, retA)
	d.ctrl.Dispatch(m, v)

	pc, npc := task.Restore(m, rec)

	// Refill exactly when this invocation spilled. The marker position
	// alone cannot tell: nesting deep enough wraps the window ring and
	// can park the marker where a positional test would misfire.
	if spilled {
		d.win.RefillOne(st)
		d.emit(klog.Refill, v, st.Pointer())
	}

	// The nesting flag stays set: only the outermost instance clears
	// it on its own way out.

	d.emit(klog.TrapExit, v, pc)
	m.ReturnFromTrap(pc, npc)
}
