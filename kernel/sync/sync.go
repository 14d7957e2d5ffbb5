// Package sync provides the kernel's critical section primitive. On a
// single hardware thread mutual exclusion does not need a lock: a section
// that runs with traps disabled cannot be preempted, which is exactly the
// guarantee the shared active-context handle and the window file require.
package sync

import (
	"github.com/khanhpdspkt/firmware.modules.rtos/kernel/cpu"
)

// Critical is an open critical section. It remembers whether traps were
// enabled on entry so sections nest correctly.
type Critical struct {
	m       *cpu.Machine
	enabled bool
}

// Enter disables traps and returns a handle that restores the previous
// state. Usage follows the save/restore idiom:
//
//	cs := sync.Enter(m)
//	... touch shared state ...
//	cs.Leave()
func Enter(m *cpu.Machine) Critical {
	cs := Critical{m: m, enabled: m.TrapsEnabled()}
	m.DisableTraps()
	return cs
}

// Leave restores the trap-enable state captured by Enter.
func (cs Critical) Leave() {
	if cs.enabled {
		cs.m.EnableTraps()
	}
}
