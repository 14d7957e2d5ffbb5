package cpu

// PSR models the processor status register of a SPARC v8 class CPU. The
// layout follows the architecture manual: the current window pointer lives
// in the low five bits, the trap-enable and supervisor bits sit above it
// and the interrupt priority level occupies bits 8-11.
type PSR uint32

const (
	// PSRCWPMask masks the current window pointer field.
	PSRCWPMask = PSR(0x0000001f)

	// PSRET is the trap-enable bit. While clear, a further trap forces
	// the processor into error mode instead of being delivered.
	PSRET = PSR(0x00000020)

	// PSRPS latches the supervisor bit as it was before the last trap.
	PSRPS = PSR(0x00000040)

	// PSRS is the supervisor bit.
	PSRS = PSR(0x00000080)

	// PSRPILMask masks the 4-bit processor interrupt level. Interrupts
	// at or below this level are not delivered.
	PSRPILMask = PSR(0x00000f00)

	// PSREF enables the floating point unit.
	PSREF = PSR(0x00001000)

	// PSRICCMask masks the integer condition codes.
	PSRICCMask = PSR(0x00f00000)

	// PSRNonRestorable selects the PSR bits that always reflect the live
	// processor state and must never be taken from an archived status
	// word when a context is reinstated: the trap-enable bit and the
	// interrupt priority level.
	PSRNonRestorable = PSRET | PSRPILMask

	pilShift = 8
)

// CWP returns the current window pointer field.
func (p PSR) CWP() int { return int(p & PSRCWPMask) }

// WithCWP returns a copy of p with the window pointer field replaced.
func (p PSR) WithCWP(w int) PSR {
	return (p &^ PSRCWPMask) | (PSR(w) & PSRCWPMask)
}

// PIL returns the processor interrupt level.
func (p PSR) PIL() uint32 { return uint32(p&PSRPILMask) >> pilShift }

// WithPIL returns a copy of p with the interrupt level replaced.
func (p PSR) WithPIL(level uint32) PSR {
	return (p &^ PSRPILMask) | (PSR(level<<pilShift) & PSRPILMask)
}

// TrapsEnabled reports whether the ET bit is set.
func (p PSR) TrapsEnabled() bool { return p&PSRET != 0 }

// Supervisor reports whether the S bit is set.
func (p PSR) Supervisor() bool { return p&PSRS != 0 }

// FPUEnabled reports whether the EF bit is set.
func (p PSR) FPUEnabled() bool { return p&PSREF != 0 }

// MergeRestorable combines an archived status word with the live one: every
// restorable bit comes from the archive while the non-restorable bits (ET
// and PIL) keep their current hardware value.
func MergeRestorable(archived, live PSR) PSR {
	return (archived &^ PSRNonRestorable) | (live & PSRNonRestorable)
}
