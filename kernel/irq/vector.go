package irq

// Kind classifies a trap vector.
type Kind uint8

const (
	// Interrupt is an asynchronous hardware interrupt. The trapped
	// instruction has not completed; execution resumes at the trapped
	// program counter pair.
	Interrupt Kind = iota

	// ContextReplacement is a synchronous software trap requesting a
	// kernel service that may replace the running context. The trapping
	// instruction has completed; execution resumes past it.
	ContextReplacement
)

// Vector is a decoded trap-vector index. The low five bits carry the
// argument (the IRQ line or the service number) and bit five selects the
// kind.
type Vector uint32

const (
	argMask  = 0x1f
	kindBit  = 0x20
	instSize = 4
)

// InterruptVector builds the vector for a hardware interrupt line.
func InterruptVector(line uint32) Vector {
	return Vector(line & argMask)
}

// ServiceVector builds the vector for a context-replacement service trap.
func ServiceVector(service uint32) Vector {
	return Vector(kindBit | (service & argMask))
}

// Arg returns the 5-bit argument.
func (v Vector) Arg() uint32 { return uint32(v) & argMask }

// Kind returns the vector kind.
func (v Vector) Kind() Kind {
	if v&kindBit != 0 {
		return ContextReplacement
	}
	return Interrupt
}

// ResumePair normalizes the raw trapped program counter pair into the pair
// execution must resume at. An asynchronous interrupt re-executes the
// trapped instruction; a synchronous trap resumes at the instruction after
// the trapping one. Resuming at the first address and falling through to
// the second reproduces correct semantics regardless of origin.
func (v Vector) ResumePair(pc, npc uint32) (retA, retB uint32) {
	if v.Kind() == ContextReplacement {
		return npc, npc + instSize
	}
	return pc, npc
}
