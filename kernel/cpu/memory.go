package cpu

// Memory is a sparse, word-granular model of the address space visible to
// the kernel: task stacks, context records and any image loaded by the
// bring-up tooling. Words are stored at their native width; addresses must
// be word aligned, and double-word aligned where the architecture demands
// it (register save areas, context records).
type Memory struct {
	words map[uint32]uint32

	faultFn func(string)
}

// NewMemory returns an empty address space. The fault function is invoked
// on a misaligned access; it is expected not to return.
func NewMemory(faultFn func(string)) *Memory {
	return &Memory{
		words:   make(map[uint32]uint32),
		faultFn: faultFn,
	}
}

// LoadWord reads the 32-bit word at addr. Unwritten locations read as zero.
func (mem *Memory) LoadWord(addr uint32) uint32 {
	if addr&3 != 0 {
		mem.faultFn("misaligned word load")
		return 0
	}
	return mem.words[addr]
}

// StoreWord writes a 32-bit word at addr.
func (mem *Memory) StoreWord(addr uint32, v uint32) {
	if addr&3 != 0 {
		mem.faultFn("misaligned word store")
		return
	}
	mem.words[addr] = v
}

// StoreDouble writes two words at a double-word aligned address, the way
// the spill path stores register pairs with std.
func (mem *Memory) StoreDouble(addr uint32, hi, lo uint32) {
	if addr&7 != 0 {
		mem.faultFn("misaligned double-word store")
		return
	}
	mem.words[addr] = hi
	mem.words[addr+4] = lo
}

// LoadDouble reads two words from a double-word aligned address.
func (mem *Memory) LoadDouble(addr uint32) (hi, lo uint32) {
	if addr&7 != 0 {
		mem.faultFn("misaligned double-word load")
		return 0, 0
	}
	return mem.words[addr], mem.words[addr+4]
}

// WordCount returns the number of words that have been written. Used by the
// monitor to report image sizes.
func (mem *Memory) WordCount() int { return len(mem.words) }
