// Package irq drives the multiprocessor interrupt controller (IRQMP) of a
// LEON-class system: registration of the two OSEK interrupt service
// routine categories, the class enable masks, the power-down wait and the
// decoding and dispatch of trap vectors to their external handlers.
package irq

// IRQMP register offsets, as documented in the GRLIB IP core manual. Only
// the registers the kernel actually touches are modeled.
const (
	// PendingRegister latches interrupt lines waiting for delivery.
	PendingRegister = 0x04

	// ForceRegister raises an interrupt line from software.
	ForceRegister = 0x08

	// ClearRegister clears pending latches; writing a set bit drops the
	// matching line.
	ClearRegister = 0x0c

	// MaskRegister is the per-processor interrupt mask (processor 0). A
	// clear bit keeps the line from being delivered.
	MaskRegister = 0x40
)

// IRQMP models the interrupt controller's register file. The controller
// exposes 15 external interrupt lines, numbered 1 to 15; line 15 has the
// highest priority and bit 0 is unused.
type IRQMP struct {
	pending uint32
	force   uint32
	mask    uint32
}

// RegisterWrite mimics a store to the controller's APB address space.
func (d *IRQMP) RegisterWrite(reg uint32, v uint32) {
	switch reg {
	case PendingRegister:
		d.pending = v & 0xfffe
	case ForceRegister:
		d.force = v & 0xfffe
		d.pending |= d.force
	case ClearRegister:
		d.pending &^= v
	case MaskRegister:
		d.mask = v & 0xfffe
	}
}

// RegisterRead mimics a load from the controller's APB address space.
func (d *IRQMP) RegisterRead(reg uint32) uint32 {
	switch reg {
	case PendingRegister:
		return d.pending
	case ForceRegister:
		return d.force
	case MaskRegister:
		return d.mask
	}
	return 0
}

// Raise latches an interrupt line as pending, the way a peripheral would.
func (d *IRQMP) Raise(line uint32) {
	d.pending |= 1 << line
}

// Deliverable reports whether the line is pending and unmasked.
func (d *IRQMP) Deliverable(line uint32) bool {
	bit := uint32(1) << line
	return d.pending&bit != 0 && d.mask&bit != 0
}

// Acknowledge drops the pending latch for a delivered line.
func (d *IRQMP) Acknowledge(line uint32) {
	d.pending &^= 1 << line
}
