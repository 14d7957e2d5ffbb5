// Package klog captures a trace of kernel trap activity in a fixed-size
// ring. Events are recorded allocation-free on the trap path and drained
// to an io.Writer sink once one is registered, so activity from before the
// console came up is not lost.
package klog

import (
	"fmt"
	"io"
)

// Kind identifies a trace event.
type Kind uint8

const (
	// TrapEnter marks an outermost trap entry.
	TrapEnter Kind = iota

	// TrapNested marks a nested trap entry.
	TrapNested

	// TrapExit marks the completion of a trap.
	TrapExit

	// Dispatch marks the call out to an external handler caller.
	Dispatch

	// Spill marks windows written out to a stack.
	Spill

	// Refill marks a window loaded back from a stack.
	Refill

	// ContextSwitch marks that the active context changed across a
	// handler call.
	ContextSwitch

	// FrozenRedirect marks a save redirected into the null context.
	FrozenRedirect
)

var kindNames = [...]string{
	TrapEnter:      "enter",
	TrapNested:     "nested",
	TrapExit:       "exit",
	Dispatch:       "dispatch",
	Spill:          "spill",
	Refill:         "refill",
	ContextSwitch:  "switch",
	FrozenRedirect: "redirect",
}

// String returns the event kind name.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Event is one trace record.
type Event struct {
	Kind   Kind
	Vector uint32
	Window int
	PC     uint32
}

// ringSize must be a power of 2.
const ringSize = 256

// Trace is a ring of events. The zero value is ready to use.
type Trace struct {
	events [ringSize]Event
	rIndex int
	wIndex int
	sink   io.Writer
}

// Emit records an event. With a sink attached the event is also written
// out immediately.
func (t *Trace) Emit(ev Event) {
	t.events[t.wIndex] = ev
	t.wIndex = (t.wIndex + 1) & (ringSize - 1)
	if t.rIndex == t.wIndex {
		t.rIndex = (t.rIndex + 1) & (ringSize - 1)
	}
	if t.sink != nil {
		writeEvent(t.sink, ev)
	}
}

// SetSink attaches an output sink, first draining any buffered events to
// it in order.
func (t *Trace) SetSink(w io.Writer) {
	t.sink = w
	for t.rIndex != t.wIndex {
		writeEvent(w, t.events[t.rIndex])
		t.rIndex = (t.rIndex + 1) & (ringSize - 1)
	}
}

func writeEvent(w io.Writer, ev Event) {
	fmt.Fprintf(w, "[trap] %-8s vec=%#04x win=%d pc=%#010x\n", ev.Kind, ev.Vector, ev.Window, ev.PC)
}
