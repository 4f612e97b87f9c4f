// Package keyboard implements the registered-driver keystroke queue: an
// IRQ handler appends scancodes to the current process's buffer, and the
// getkey syscall pops from a specific process's buffer.
package keyboard

import (
	"github.com/skyos/kernel/internal/idt"
	"github.com/skyos/kernel/internal/log"
)

// Keyboard holds one pending-keystroke buffer per process, the per-process
// key buffer spec.md's syscall layer reads from.
type Keyboard struct {
	buffers map[int][]byte
	log     *log.Logger
}

// New creates an empty keyboard driver.
func New() *Keyboard {
	return &Keyboard{
		buffers: make(map[int][]byte),
		log:     log.DefaultLogger(),
	}
}

// Push appends one scancode to pid's buffer, the action the IRQ handler
// takes once a key is read off the controller's data port.
func (k *Keyboard) Push(pid int, key byte) {
	k.buffers[pid] = append(k.buffers[pid], key)
}

// ReadKey pops the oldest pending keystroke for pid, or reports ok=false if
// its buffer is empty — getkey's "returns 0 if empty" contract.
func (k *Keyboard) ReadKey(pid int) (byte, bool) {
	q := k.buffers[pid]
	if len(q) == 0 {
		return 0, false
	}

	k.buffers[pid] = q[1:]

	return q[0], true
}

// Install registers the vector 0x21 IRQ handler: it reads one scancode off
// the simulated data port via scan, looks up the currently scheduled
// process through currentPID, and pushes the key into that process's
// buffer, then acknowledges the PIC.
func (k *Keyboard) Install(table *idt.Table, currentPID func() int, scan func() byte) {
	table.Install(idt.Keyboard, idt.DPL0, func(vector idt.Vector, frame *idt.Frame) {
		key := scan()
		pid := currentPID()

		k.Push(pid, key)
		k.log.Debug("keyboard irq", "pid", pid, "key", key)
		table.AckPIC()
	})
}
