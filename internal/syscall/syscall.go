// Package syscall implements the int 0x80 command table: the
// prologue/epilogue that snapshots and restores task state around a
// handler call, the bounded cross-address-space "peek" helper, and the
// ten recognized commands.
package syscall

import (
	"fmt"

	"github.com/skyos/kernel/internal/cpu"
	"github.com/skyos/kernel/internal/idt"
	"github.com/skyos/kernel/internal/kerrors"
	"github.com/skyos/kernel/internal/log"
	"github.com/skyos/kernel/internal/paging"
	"github.com/skyos/kernel/internal/process"
)

// Command identifies a recognized int 0x80 operation, assigned in
// declaration order starting at 0, the ABI spec.md fixes.
type Command int32

const (
	Sum Command = iota
	Print
	GetKey
	PutChar
	Malloc
	Free
	ProcessLoadStart
	InvokeSystemCommand
	GetProgramArguments
	Exit
)

// Handler implements one command's behavior. It reads arguments from frame
// (via the registers the caller placed them in) and returns the value to be
// placed in EAX.
type Handler func(t *Table, task *process.Task, frame *idt.Frame) (int32, error)

// Console is the bounded sink print and putchar write to.
type Console interface {
	WriteByte(b byte) error
}

// Keyboard is the bounded source getkey reads from.
type Keyboard interface {
	// ReadKey pops one keystroke for pid, or ok=false if its buffer is
	// empty.
	ReadKey(pid int) (byte, bool)
}

// Loader resolves a path to a process, the callback process_load_start and
// invoke_system_command use; internal/kernel supplies the concrete
// VFS+ELF-backed implementation so this package stays independent of disk
// and filesystem concerns.
type Loader func(path string, args []string) (*process.Process, *process.Task, error)

// Table is the command table plus the kernel dependencies its handlers
// need: the kernel heap, the kernel page directory to restore between
// syscalls, the scheduler ring, and the console/keyboard/loader
// collaborators.
type Table struct {
	handlers map[Command]Handler

	Heap      HeapAllocator
	KernelDir *paging.Directory
	Scheduler *process.Scheduler
	Console   Console
	Keyboard  Keyboard
	Loader    Loader

	log *log.Logger

	peeking bool
}

// HeapAllocator is the subset of *heap.Heap the malloc/free handlers need,
// named here so this package doesn't import internal/heap just for a
// pointer type.
type HeapAllocator interface {
	Malloc(size uint32) (uint32, error)
	Free(ptr uint32) error
}

// NewTable builds the command table with its default handlers installed.
func NewTable() *Table {
	t := &Table{
		handlers: make(map[Command]Handler),
		log:      log.DefaultLogger(),
	}

	t.handlers[Sum] = sum
	t.handlers[Print] = print
	t.handlers[GetKey] = getKey
	t.handlers[PutChar] = putChar
	t.handlers[Malloc] = malloc
	t.handlers[Free] = free
	t.handlers[ProcessLoadStart] = processLoadStart
	t.handlers[InvokeSystemCommand] = invokeSystemCommand
	t.handlers[GetProgramArguments] = getProgramArguments
	t.handlers[Exit] = exit

	return t
}

// Dispatch is the int 0x80 prologue/epilogue: it snapshots task's registers
// from frame, switches to the kernel page directory, runs the handler
// selected by frame.EAX, writes the result (or the errno-mapped negative
// status) into frame.EAX, then switches back to the task's (or, for exit,
// the newly current task's) page directory before returning.
//
// Every register but EAX is left exactly as the caller set it — property 5
// — except when the command is Exit, which replaces frame wholesale with
// the next scheduled task's saved frame, since there is no longer a task to
// resume into.
func (t *Table) Dispatch(task *process.Task, frame *idt.Frame) error {
	task.Frame = *frame

	paging.Switch(t.KernelDir)

	cmd := Command(frame.EAX)

	h, ok := t.handlers[cmd]
	if !ok {
		t.log.Debug("unknown syscall command", "command", cmd)
		frame.EAX = 0
		paging.Switch(task.Process.Directory)

		return nil
	}

	result, err := h(t, task, frame)
	if err != nil {
		frame.EAX = cpu.Word(uint32(kerrors.Errno(err)))
	} else {
		frame.EAX = cpu.Word(uint32(result))
	}

	if cmd == Exit {
		next := t.Scheduler.Current
		if next != nil {
			*frame = next.Frame
		}

		return nil
	}

	paging.Switch(task.Process.Directory)

	return nil
}

// Peek reads n bytes from task's address space starting at virt, the
// literal "with-user-pages" scoped region: it switches CR3 to the task's
// directory, reads, and restores the previously current directory before
// returning. Nesting two Peek calls is a programming error — the kernel
// heap and other kernel-CR3-only operations are not reentrant under a
// user directory — and panics rather than silently corrupting state.
func (t *Table) Peek(task *process.Task, virt uint32, n int) ([]byte, error) {
	if t.peeking {
		panic("syscall: nested Peek")
	}

	t.peeking = true
	defer func() { t.peeking = false }()

	prior := paging.Current()
	paging.Switch(task.Process.Directory)

	defer paging.Switch(prior)

	buf := make([]byte, n)
	if err := task.Process.Directory.ReadAt(buf, virt); err != nil {
		return nil, fmt.Errorf("peek %#x: %w", virt, err)
	}

	return buf, nil
}

// PeekCString reads a NUL-terminated string from task's address space
// starting at virt, up to maxLen bytes, the bound print's argument copy
// never exceeds.
func (t *Table) PeekCString(task *process.Task, virt uint32, maxLen int) (string, error) {
	buf, err := t.Peek(task, virt, maxLen)
	if err != nil {
		return "", err
	}

	for i, b := range buf {
		if b == 0 {
			return string(buf[:i]), nil
		}
	}

	return string(buf), nil
}
