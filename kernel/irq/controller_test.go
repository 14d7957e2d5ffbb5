package irq

import (
	"testing"

	"github.com/khanhpdspkt/firmware.modules.rtos/kernel/cpu"
)

func TestIRQMPRegisterFile(t *testing.T) {
	var d IRQMP

	d.RegisterWrite(ForceRegister, 1<<3|1<<5)
	if got := d.RegisterRead(PendingRegister); got != 1<<3|1<<5 {
		t.Errorf("expected forced lines pending; got %#x", got)
	}

	d.RegisterWrite(ClearRegister, 1<<3)
	if got := d.RegisterRead(PendingRegister); got != 1<<5 {
		t.Errorf("expected line 3 cleared; got %#x", got)
	}

	// Bit 0 is unused; the controller never latches it.
	d.RegisterWrite(ForceRegister, 1)
	if got := d.RegisterRead(PendingRegister) & 1; got != 0 {
		t.Errorf("expected bit 0 to stay clear; got %#x", got)
	}

	d.RegisterWrite(MaskRegister, 1<<5)
	if !d.Deliverable(5) {
		t.Error("expected a pending unmasked line to be deliverable")
	}
	if d.Deliverable(3) {
		t.Error("expected a cleared line not to be deliverable")
	}

	d.Acknowledge(5)
	if d.Deliverable(5) {
		t.Error("expected an acknowledged line not to be deliverable")
	}
}

func TestRegisterHandlerClearsPending(t *testing.T) {
	var d IRQMP
	d.Raise(4)

	c := NewController(&d)
	c.RegisterISR2Handler(HandlerRef(0x10), 4)

	if got := d.RegisterRead(PendingRegister) & (1 << 4); got != 0 {
		t.Error("expected registration to drop a stale pending latch")
	}
	if got := c.Handler(4); got != HandlerRef(0x10) {
		t.Errorf("expected handler 0x10 on line 4; got %#x", got)
	}
}

func TestClassMasks(t *testing.T) {
	var d IRQMP
	c := NewController(&d)
	c.RegisterISR1Handler(HandlerRef(1), 15) // non-maskable class
	c.RegisterISR2Handler(HandlerRef(2), 3)
	c.RegisterISR2Handler(HandlerRef(3), 5)

	specs := []struct {
		op      func()
		expMask uint32
	}{
		{c.EnableAllInterrupts, 1<<15 | 1<<3 | 1<<5},
		{c.DisableISR2Interrupts, 1 << 15},
		{c.EnableISR2Interrupts, 1<<15 | 1<<3 | 1<<5},
		{c.DisableAllInterrupts, 0},
		{c.EnableISR2Interrupts, 1<<3 | 1<<5},
		{c.DisableAllInterrupts, 0},
	}

	for specIndex, spec := range specs {
		spec.op()
		if got := c.CurrentMask(); got != spec.expMask {
			t.Errorf("[spec %d] expected mask %#x; got %#x", specIndex, spec.expMask, got)
		}
		if got := d.RegisterRead(MaskRegister); got != spec.expMask {
			t.Errorf("[spec %d] expected the mask mirrored to the device; got %#x", specIndex, got)
		}
	}
}

func TestDeliverableHonorsPriorityLevel(t *testing.T) {
	var d IRQMP
	c := NewController(&d)
	c.RegisterISR2Handler(HandlerRef(1), 7)
	c.EnableAllInterrupts()
	d.Raise(7)

	m := cpu.NewMachine(8)

	m.SetPIL(6)
	if !c.Deliverable(m, 7) {
		t.Error("expected line 7 deliverable above priority level 6")
	}
	m.SetPIL(7)
	if c.Deliverable(m, 7) {
		t.Error("expected line 7 masked at its own priority level")
	}
}

func TestDispatchInterruptRaisesPriority(t *testing.T) {
	var d IRQMP
	c := NewController(&d)
	m := cpu.NewMachine(8)
	m.DisableTraps()
	m.SetPIL(2)

	var calledLine uint32
	var levelDuring uint32
	var trapsDuring bool
	c.InterruptHandlerCaller = func(line uint32) {
		calledLine = line
		levelDuring = m.PIL()
		trapsDuring = m.TrapsEnabled()
	}

	c.Dispatch(m, InterruptVector(9))

	if calledLine != 9 {
		t.Errorf("expected the line 9 handler; got line %d", calledLine)
	}
	if levelDuring != 9 {
		t.Errorf("expected the priority level raised to the line's level during the call; got %d", levelDuring)
	}
	if !trapsDuring {
		t.Error("expected traps enabled during the handler call")
	}
	if m.TrapsEnabled() {
		t.Error("expected traps disabled again after the call")
	}
	if got := m.PIL(); got != 2 {
		t.Errorf("expected the entry priority level restored; got %d", got)
	}
}

func TestDispatchInterruptKeepsHigherEntryLevel(t *testing.T) {
	var d IRQMP
	c := NewController(&d)
	m := cpu.NewMachine(8)
	m.DisableTraps()
	m.SetPIL(12)

	var levelDuring uint32
	c.InterruptHandlerCaller = func(line uint32) { levelDuring = m.PIL() }
	c.Dispatch(m, InterruptVector(9))

	if levelDuring != 12 {
		t.Errorf("expected an already higher level left alone; got %d", levelDuring)
	}
	if got := m.PIL(); got != 12 {
		t.Errorf("expected the entry priority level kept; got %d", got)
	}
}

func TestDispatchServiceLeavesPriorityAlone(t *testing.T) {
	var d IRQMP
	c := NewController(&d)
	m := cpu.NewMachine(8)
	m.DisableTraps()
	m.SetPIL(4)

	var calledService uint32
	var trapsDuring bool
	c.TaskContextReplacementCaller = func(service uint32) {
		calledService = service
		trapsDuring = m.TrapsEnabled()
		if got := m.PIL(); got != 4 {
			t.Errorf("expected the priority level untouched during a service call; got %d", got)
		}
	}

	c.Dispatch(m, ServiceVector(2))

	if calledService != 2 {
		t.Errorf("expected service 2; got %d", calledService)
	}
	if !trapsDuring {
		t.Error("expected traps enabled during the service call")
	}
	if m.TrapsEnabled() {
		t.Error("expected traps disabled again after the call")
	}
}

func TestPausePowersDown(t *testing.T) {
	var d IRQMP
	c := NewController(&d)
	m := cpu.NewMachine(8)

	c.Pause(m)
	if !m.Waiting() {
		t.Error("expected the machine in the power-down state")
	}
	m.EnterTrap()
	if m.Waiting() {
		t.Error("expected trap delivery to end the wait")
	}
}
