// Package idt builds the Interrupt Descriptor Table and dispatches vectors
// to handlers: the default handler for unhandled vectors and any handler
// installed over it (the keyboard IRQ and the int 0x80 syscall gate are
// installed by their owners; the PIT vector keeps the default handler).
package idt

import (
	"errors"
	"fmt"

	"github.com/skyos/kernel/internal/cpu"
	"github.com/skyos/kernel/internal/log"
)

// Vector identifies an entry in the 256-entry table.
type Vector uint8

// Vectors with kernel-defined behavior.
const (
	PIT      Vector = 0x20
	Keyboard Vector = 0x21
	Syscall  Vector = 0x80
)

// Privilege is the descriptor's DPL, the minimum ring that may invoke the
// gate with a software interrupt.
type Privilege uint8

const (
	DPL0 Privilege = 0
	DPL3 Privilege = 3
)

// Frame is the full register snapshot the common stub saves on entry to any
// interrupt, exception, or trap, and restores (less EAX, which holds a
// syscall's result) before IRET.
type Frame struct {
	cpu.Registers
}

// Handler processes one vector. It receives the frame saved on entry and may
// mutate it. It returns nothing; a handler that needs to report an error
// logs it itself (a handler that wants to terminate the current task does so
// explicitly, e.g. via the syscall exit handler).
type Handler func(vector Vector, frame *Frame)

// Gate is one IDT entry: a handler plus its privilege level.
type Gate struct {
	Handler Handler
	DPL     Privilege
}

// Table is the 256-entry IDT.
type Table struct {
	gates [256]Gate
	log   *log.Logger

	pic struct {
		baseVector uint8
		acked      bool
	}
}

// New fills every vector with a default handler that logs and returns. It
// installs no overrides; callers use Install for the keyboard IRQ and the
// syscall gate.
func New() *Table {
	t := &Table{log: log.DefaultLogger()}

	for v := range t.gates {
		t.gates[v] = Gate{Handler: t.defaultHandler, DPL: DPL0}
	}

	return t
}

func (t *Table) defaultHandler(vector Vector, _ *Frame) {
	t.log.Debug("interrupt", "vector", vector)
}

// Install overrides the handler and privilege level for a vector.
func (t *Table) Install(vector Vector, dpl Privilege, fn Handler) {
	t.gates[vector] = Gate{Handler: fn, DPL: dpl}
}

// Gate returns the installed gate for a vector, for tests and diagnostics.
func (t *Table) Gate(vector Vector) Gate {
	return t.gates[vector]
}

// Dispatch runs the handler installed for vector. A software interrupt
// (caller-supplied ring != 0) invoked against a DPL0 gate is rejected with
// ErrPrivilege, mirroring the CPU's own DPL check on INT n.
func (t *Table) Dispatch(vector Vector, callerRing cpu.Ring, frame *Frame) error {
	gate := t.gates[vector]

	if callerRing > 0 && gate.DPL < Privilege(callerRing) {
		return fmt.Errorf("%w: vector %#02x requires DPL<=%d, caller ring %d", ErrPrivilege, vector, gate.DPL, callerRing)
	}

	gate.Handler(vector, frame)

	return nil
}

// RemapPIC sets the modeled PIC base vector, standing in for the
// `out 0x20,0x11`/ICW sequence that remaps IRQ0..7 to vectors 0x20..0x27.
func (t *Table) RemapPIC(base uint8) {
	t.pic.baseVector = base
}

// AckPIC acknowledges the current interrupt to the PIC (`out 0x20,0x20`).
// It's a state flag here, asserted by tests that exercise an IRQ handler.
func (t *Table) AckPIC() {
	t.pic.acked = true
}

// Acked reports whether AckPIC was called since the last ResetAck.
func (t *Table) Acked() bool { return t.pic.acked }

// ResetAck clears the acknowledgement flag, used between test cases.
func (t *Table) ResetAck() { t.pic.acked = false }

var ErrPrivilege = errors.New("interrupt: insufficient privilege")
