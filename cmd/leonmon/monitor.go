package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/google/shlex"
	"github.com/inhies/go-bytesize"

	"github.com/khanhpdspkt/firmware.modules.rtos/kernel/cpu"
	"github.com/khanhpdspkt/firmware.modules.rtos/kernel/irq"
	"github.com/khanhpdspkt/firmware.modules.rtos/kernel/klog"
	"github.com/khanhpdspkt/firmware.modules.rtos/kernel/task"
	"github.com/khanhpdspkt/firmware.modules.rtos/kernel/trap"
)

const (
	ansiReset = "\x1b[0m"
	ansiBold  = "\x1b[1m"
	ansiRed   = "\x1b[31m"
	ansiGreen = "\x1b[32m"
	ansiCyan  = "\x1b[36m"
)

// monitor is the interactive bring-up console around one modeled system.
type monitor struct {
	m      *cpu.Machine
	ctrl   *irq.Controller
	disp   *trap.Dispatcher
	active *task.Handle
	trace  *klog.Trace
	out    io.Writer
}

// run reads commands until EOF or quit. The line source is injected so the
// loop can be driven by a terminal or by tests alike.
func (mon *monitor) run(readLine func() (string, error)) {
	for {
		line, err := readLine()
		if err != nil {
			return
		}
		args, err := shlex.Split(line)
		if err != nil {
			fmt.Fprintf(mon.out, "%s%s%s\n", ansiRed, err, ansiReset)
			continue
		}
		if len(args) == 0 {
			continue
		}
		if !mon.exec(args) {
			return
		}
		if f := mon.m.Faulted(); f != nil {
			fmt.Fprintf(mon.out, "%smachine fault: %s (pc=%#x)%s\n", ansiRed, f.Reason, f.PC, ansiReset)
			return
		}
	}
}

func (mon *monitor) exec(args []string) bool {
	switch args[0] {
	case "quit", "q":
		return false
	case "irq":
		mon.fireIRQ(args)
	case "svc":
		mon.fireService(args)
	case "regs":
		mon.dumpRegs()
	case "ctx":
		mon.dumpContext()
	case "win":
		mon.dumpWindows()
	case "mask":
		fmt.Fprintf(mon.out, "current=%#06x irqmp=%#06x\n",
			mon.ctrl.CurrentMask(), mon.ctrl.Device().RegisterRead(irq.MaskRegister))
	case "enable":
		mon.ctrl.EnableAllInterrupts()
	case "disable":
		mon.ctrl.DisableAllInterrupts()
	case "enable2":
		mon.ctrl.EnableISR2Interrupts()
	case "disable2":
		mon.ctrl.DisableISR2Interrupts()
	case "pause":
		mon.ctrl.Pause(mon.m)
		fmt.Fprintf(mon.out, "power-down, waiting for interrupt\n")
	case "load":
		mon.load(args)
	case "mem":
		used := bytesize.New(float64(mon.m.Mem.WordCount() * 4))
		fmt.Fprintf(mon.out, "%s touched\n", used)
	case "trace":
		mon.traceCmd(args)
	case "help":
		fmt.Fprint(mon.out, "commands: irq N, svc N, regs, ctx, win, mask, enable[2], disable[2], pause, load FILE [CRC], mem, trace on|off, quit\n")
	default:
		fmt.Fprintf(mon.out, "%sunknown command %q%s\n", ansiRed, args[0], ansiReset)
	}
	return true
}

func parseNum(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 0, 32)
	return uint32(n), err
}

func (mon *monitor) fireIRQ(args []string) {
	if len(args) != 2 {
		fmt.Fprintf(mon.out, "usage: irq N\n")
		return
	}
	line, err := parseNum(args[1])
	if err != nil || line < 1 || line > irq.NumLines {
		fmt.Fprintf(mon.out, "%sbad interrupt line%s\n", ansiRed, ansiReset)
		return
	}
	mon.ctrl.Device().Raise(line)
	if !mon.ctrl.Deliverable(mon.m, line) {
		fmt.Fprintf(mon.out, "line %d latched but masked\n", line)
		return
	}
	mon.m.WakeUp()
	mon.ctrl.Device().Acknowledge(line)
	mon.disp.Entry(irq.InterruptVector(line))
	fmt.Fprintf(mon.out, "%sirq %d handled%s\n", ansiGreen, line, ansiReset)
}

func (mon *monitor) fireService(args []string) {
	if len(args) != 2 {
		fmt.Fprintf(mon.out, "usage: svc N\n")
		return
	}
	service, err := parseNum(args[1])
	if err != nil || service > 31 {
		fmt.Fprintf(mon.out, "%sbad service number%s\n", ansiRed, ansiReset)
		return
	}
	mon.disp.Entry(irq.ServiceVector(service))
	fmt.Fprintf(mon.out, "%ssvc %d handled%s\n", ansiGreen, service, ansiReset)
}

func (mon *monitor) load(args []string) {
	if len(args) < 2 {
		fmt.Fprintf(mon.out, "usage: load FILE [CRC]\n")
		return
	}
	n, crc, err := loadImage(mon.m.Mem, args[1])
	if err != nil {
		fmt.Fprintf(mon.out, "%s%s%s\n", ansiRed, err, ansiReset)
		return
	}
	fmt.Fprintf(mon.out, "loaded %s, crc16 %#04x\n", bytesize.New(float64(n)), crc)
	if len(args) == 3 {
		want, err := strconv.ParseUint(args[2], 0, 16)
		if err != nil || uint16(want) != crc {
			fmt.Fprintf(mon.out, "%simage checksum mismatch%s\n", ansiRed, ansiReset)
		}
	}
}

func (mon *monitor) traceCmd(args []string) {
	if len(args) != 2 {
		fmt.Fprintf(mon.out, "usage: trace on|off\n")
		return
	}
	switch args[1] {
	case "on":
		mon.trace.SetSink(mon.out)
		mon.disp.SetTrace(mon.trace)
	case "off":
		mon.disp.SetTrace(nil)
	}
}

func (mon *monitor) dumpRegs() {
	m := mon.m
	fmt.Fprintf(mon.out, "%sPSR%s = %08x  PC = %08x  nPC = %08x  Y = %08x\n",
		ansiBold, ansiReset, uint32(m.PSR()), m.PC(), m.NPC(), m.Y())
	fmt.Fprintf(mon.out, "CWP = %d  PIL = %d  ET = %t  invalid window = %d\n",
		m.CWP(), m.PIL(), m.TrapsEnabled(), m.InvalidWindow())
	for g := 1; g < 8; g++ {
		fmt.Fprintf(mon.out, "g%d = %08x\n", g, m.Global(g))
	}
	for i := 0; i < 8; i += 2 {
		fmt.Fprintf(mon.out, "i%d = %08x i%d = %08x\n", i, m.In(i), i+1, m.In(i+1))
	}
}

func (mon *monitor) dumpContext() {
	ctx := mon.active.Context()
	state := "live"
	if ctx.State() == task.Frozen {
		state = "frozen"
	}
	fmt.Fprintf(mon.out, "%scontext @ %#08x%s (%s)\n", ansiCyan, ctx.Addr(), ansiReset, state)
	fmt.Fprintf(mon.out, "psr=%08x pc=%08x npc=%08x y=%08x\n",
		uint32(ctx.PSR()), ctx.PC(), ctx.NPC(), ctx.Y())
	for i := 0; i < 8; i += 2 {
		fmt.Fprintf(mon.out, "i%d = %08x i%d = %08x\n", i, ctx.In(i), i+1, ctx.In(i+1))
	}
}

func (mon *monitor) dumpWindows() {
	m := mon.m
	for w := 0; w < m.NWindows(); w++ {
		tag := "  "
		switch {
		case w == m.CWP():
			tag = "->"
		case w == m.InvalidWindow():
			tag = " x"
		}
		fmt.Fprintf(mon.out, "%s w%-2d  l0=%08x l1=%08x i6=%08x\n",
			tag, w, m.WindowWord(w, 0), m.WindowWord(w, 1), m.WindowWord(w, 14))
	}
}
