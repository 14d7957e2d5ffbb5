// Package config loads the static system description that the OSEK
// generator distills from the application's OIL file: the probed register
// window count, the reserved kernel memory addresses and the interrupt
// lines with their service routine categories. The description is fixed at
// build time; nothing reconfigures at run time.
package config

import (
	"os"

	"gopkg.in/yaml.v2"

	"github.com/khanhpdspkt/firmware.modules.rtos/kernel/cpu"
	"github.com/khanhpdspkt/firmware.modules.rtos/kernel/errors"
	"github.com/khanhpdspkt/firmware.modules.rtos/kernel/irq"
)

var (
	// ErrBadWindowCount is returned when the window count lies outside
	// the architectural range.
	ErrBadWindowCount = errors.KernelError("window count outside architectural range")

	// ErrBadIRQLine is returned for an interrupt line outside 1..15 or
	// listed twice.
	ErrBadIRQLine = errors.KernelError("invalid or duplicate interrupt line")

	// ErrBadISRClass is returned for a service routine category other
	// than 1 or 2.
	ErrBadISRClass = errors.KernelError("interrupt service routine category must be 1 or 2")

	// ErrNoHandler is returned when an interrupt line names no handler.
	ErrNoHandler = errors.KernelError("interrupt line without handler")
)

// IRQLine describes one wired interrupt line.
type IRQLine struct {
	// Line is the IRQMP line number, 1..15. The line number doubles as
	// the interrupt priority level.
	Line uint32 `yaml:"line"`

	// Class is the OSEK service routine category: category 1 routines
	// may not call kernel services, category 2 routines may.
	Class int `yaml:"class"`

	// Handler names the service routine, resolved by the generated
	// handler table.
	Handler string `yaml:"handler"`
}

// System is the machine and interrupt description.
type System struct {
	// Windows is the register window count of the target part.
	Windows int `yaml:"windows"`

	// NullContextAddr is the reserved address of the null context
	// sentinel record.
	NullContextAddr uint32 `yaml:"null_context"`

	// KernelStackTop is the initial supervisor stack pointer.
	KernelStackTop uint32 `yaml:"kernel_stack_top"`

	// IRQs lists the wired interrupt lines.
	IRQs []IRQLine `yaml:"irqs"`
}

// Parse decodes and validates a system description.
func Parse(data []byte) (*System, error) {
	var sys System
	if err := yaml.UnmarshalStrict(data, &sys); err != nil {
		return nil, err
	}
	if err := sys.validate(); err != nil {
		return nil, err
	}
	return &sys, nil
}

// Load reads and parses a system description file.
func Load(path string) (*System, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func (sys *System) validate() error {
	if sys.Windows < cpu.MinWindows || sys.Windows > cpu.MaxWindows {
		return ErrBadWindowCount
	}
	var seen uint32
	for _, line := range sys.IRQs {
		if line.Line < 1 || line.Line > irq.NumLines || seen&(1<<line.Line) != 0 {
			return ErrBadIRQLine
		}
		seen |= 1 << line.Line
		if line.Class != 1 && line.Class != 2 {
			return ErrBadISRClass
		}
		if line.Handler == "" {
			return ErrNoHandler
		}
	}
	return nil
}
