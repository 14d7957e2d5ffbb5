// Command leonmon is a bring-up monitor for the trap and context-switch
// core: it assembles the modeled LEON machine from a system description,
// optionally loads a boot image, and lets interrupts and service traps be
// fired interactively while inspecting windows, contexts and masks.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-tty"

	"github.com/khanhpdspkt/firmware.modules.rtos/kernel/config"
	"github.com/khanhpdspkt/firmware.modules.rtos/kernel/cpu"
	"github.com/khanhpdspkt/firmware.modules.rtos/kernel/irq"
	"github.com/khanhpdspkt/firmware.modules.rtos/kernel/klog"
	"github.com/khanhpdspkt/firmware.modules.rtos/kernel/task"
	"github.com/khanhpdspkt/firmware.modules.rtos/kernel/trap"
)

func main() {
	var (
		configPath = flag.String("config", "system.yaml", "system description file")
		imagePath  = flag.String("image", "", "Intel HEX boot image to load")
		traceOn    = flag.Bool("trace", false, "trace trap activity from the start")
	)
	flag.Parse()

	out := colorable.NewColorableStdout()

	sys, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "leonmon: %s\n", err)
		os.Exit(1)
	}

	mon, err := buildSystem(sys)
	if err != nil {
		fmt.Fprintf(os.Stderr, "leonmon: %s\n", err)
		os.Exit(1)
	}
	mon.out = out

	if *imagePath != "" {
		n, crc, err := loadImage(mon.m.Mem, *imagePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "leonmon: %s\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(out, "image: %d bytes, crc16 %#04x\n", n, crc)
	}
	if *traceOn {
		mon.trace.SetSink(out)
		mon.disp.SetTrace(mon.trace)
	}

	fmt.Fprintf(out, "leonmon: %d windows, %d interrupt lines wired\n",
		mon.m.NWindows(), len(sys.IRQs))

	mon.run(lineReader())
}

// buildSystem assembles machine, controller and dispatcher from a system
// description and parks the boot thread in a runnable state.
func buildSystem(sys *config.System) (*monitor, error) {
	m := cpu.NewMachine(sys.Windows)
	if f := m.Faulted(); f != nil {
		return nil, fmt.Errorf("machine: %s", f.Reason)
	}

	ctrl := irq.NewController(&irq.IRQMP{})
	trace := &klog.Trace{}

	null := task.Null(m.Mem, sys.NullContextAddr)
	bootAddr := (sys.NullContextAddr + task.FPURecordBytes + 7) &^ 7
	boot := task.At(m.Mem, bootAddr)
	active := task.NewHandle(boot)

	disp := trap.NewDispatcher(m, ctrl, active, null)

	// The boot thread owns the supervisor stack; its window frames spill
	// just below the configured top. The stack pointer rides in out 6,
	// where a trap entry finds it as in 6 of the trap window. Only the
	// boot window is in use, so the invalid marker sits immediately
	// above it.
	m.SetOut(6, sys.KernelStackTop)
	m.SetInvalidWindow(m.NextWindow(m.CWP()))
	m.SetPC(0x40000000, 0x40000004)

	mon := &monitor{m: m, ctrl: ctrl, disp: disp, active: active, trace: trace}

	ctrl.InterruptHandlerCaller = func(line uint32) {
		fmt.Fprintf(mon.out, "  isr: line %d (handler %v)\n", line, ctrl.Handler(line))
	}
	ctrl.TaskContextReplacementCaller = func(service uint32) {
		fmt.Fprintf(mon.out, "  service: %d\n", service)
	}

	for i, line := range sys.IRQs {
		ref := irq.HandlerRef(i + 1)
		if line.Class == 1 {
			ctrl.RegisterISR1Handler(ref, line.Line)
		} else {
			ctrl.RegisterISR2Handler(ref, line.Line)
		}
	}
	ctrl.EnableAllInterrupts()
	return mon, nil
}

// lineReader prefers the controlling terminal and falls back to standard
// input when there is none (pipes, CI).
func lineReader() func() (string, error) {
	t, err := tty.Open()
	if err == nil {
		return func() (string, error) {
			fmt.Fprint(t.Output(), "leon> ")
			return t.ReadString()
		}
	}
	sc := bufio.NewScanner(os.Stdin)
	return func() (string, error) {
		if !sc.Scan() {
			return "", fmt.Errorf("input closed")
		}
		return sc.Text(), nil
	}
}
