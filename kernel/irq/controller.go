package irq

import (
	"github.com/khanhpdspkt/firmware.modules.rtos/kernel/cpu"
)

// NumLines is the number of external interrupt lines of the controller.
// Lines are numbered 1 to NumLines; the line number is also the interrupt
// priority level requested when the line is delivered.
const NumLines = 15

// HandlerRef is an opaque reference to a registered interrupt service
// routine. The kernel never calls through it directly: it hands the IRQ
// number to the external handler caller, which owns the table lookup.
type HandlerRef uint32

// Controller tracks the two interrupt service routine categories and the
// currently enabled mask, and mirrors every change into the IRQMP mask
// register. All three masks are bitsets over the interrupt lines and only
// the operations below may mutate them.
type Controller struct {
	dev *IRQMP

	isr1Mask uint32
	isr2Mask uint32
	current  uint32

	handlers [NumLines]HandlerRef

	// InterruptHandlerCaller runs the service routine registered for an
	// interrupt line. Supplied by the OSEK layer at init.
	InterruptHandlerCaller func(line uint32)

	// TaskContextReplacementCaller runs a kernel service that may
	// replace the active context. Supplied by the OSEK layer at init.
	TaskContextReplacementCaller func(service uint32)
}

// NewController returns a controller bound to the given IRQMP instance.
func NewController(dev *IRQMP) *Controller {
	return &Controller{dev: dev}
}

// Device returns the underlying interrupt controller model.
func (c *Controller) Device() *IRQMP { return c.dev }

func (c *Controller) register(handler HandlerRef, line uint32) {
	c.dev.RegisterWrite(ClearRegister, 1<<line)
	c.handlers[line-1] = handler
}

// RegisterISR1Handler records a category 1 service routine for a line:
// the pending latch is cleared and the line joins the ISR1 class mask.
// Registration does not enable the line.
func (c *Controller) RegisterISR1Handler(handler HandlerRef, line uint32) {
	c.register(handler, line)
	c.isr1Mask |= 1 << line
}

// RegisterISR2Handler records a category 2 service routine for a line.
func (c *Controller) RegisterISR2Handler(handler HandlerRef, line uint32) {
	c.register(handler, line)
	c.isr2Mask |= 1 << line
}

// Handler returns the reference registered for a line.
func (c *Controller) Handler(line uint32) HandlerRef {
	return c.handlers[line-1]
}

func (c *Controller) writeMask() {
	c.dev.RegisterWrite(MaskRegister, c.current)
}

// EnableAllInterrupts enables every line with a registered handler of
// either category.
func (c *Controller) EnableAllInterrupts() {
	c.current |= c.isr1Mask | c.isr2Mask
	c.writeMask()
}

// DisableAllInterrupts disables every registered line.
func (c *Controller) DisableAllInterrupts() {
	c.current &^= c.isr1Mask | c.isr2Mask
	c.writeMask()
}

// EnableISR2Interrupts enables the category 2 lines.
func (c *Controller) EnableISR2Interrupts() {
	c.current |= c.isr2Mask
	c.writeMask()
}

// DisableISR2Interrupts disables the category 2 lines.
func (c *Controller) DisableISR2Interrupts() {
	c.current &^= c.isr2Mask
	c.writeMask()
}

// CurrentMask returns the currently enabled mask.
func (c *Controller) CurrentMask() uint32 { return c.current }

// Deliverable reports whether a line is pending, enabled and above the
// processor's current interrupt level.
func (c *Controller) Deliverable(m *cpu.Machine, line uint32) bool {
	return c.dev.Deliverable(line) && line > m.PIL()
}

// Pause halts the pipeline until the next enabled interrupt arrives,
// modeling the LEON power-down write to %asr19. It returns nothing and
// execution resumes by itself.
func (c *Controller) Pause(m *cpu.Machine) {
	m.PowerDown()
}

// Dispatch decodes a trap vector and invokes the matching external caller.
// Traps are re-enabled only for the duration of the call, so this is the
// single site where a nested trap can begin. For interrupts the processor
// interrupt level is first raised to at least the line's own level,
// keeping lower or equal priority lines out for the duration; the level is
// put back once the caller returns. Service traps are never priority
// masked, so context-replacement dispatch leaves the level untouched.
func (c *Controller) Dispatch(m *cpu.Machine, v Vector) {
	arg := v.Arg()
	switch v.Kind() {
	case Interrupt:
		entryLevel := m.PIL()
		if arg > entryLevel {
			m.SetPIL(arg)
		}
		m.EnableTraps()
		c.InterruptHandlerCaller(arg)
		m.DisableTraps()
		m.SetPIL(entryLevel)
	case ContextReplacement:
		m.EnableTraps()
		c.TaskContextReplacementCaller(arg)
		m.DisableTraps()
	}
}
