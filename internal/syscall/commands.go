package syscall

import (
	"github.com/skyos/kernel/internal/idt"
	"github.com/skyos/kernel/internal/kerrors"
	"github.com/skyos/kernel/internal/process"
)

// Argument convention: a command's arguments arrive in EBX, ECX, EDX in
// that order, the same slots the user stub places its call arguments in
// before `int 0x80`.

const maxStringArg = 256

func sum(t *Table, task *process.Task, frame *idt.Frame) (int32, error) {
	return int32(frame.EBX) + int32(frame.ECX), nil
}

func print(t *Table, task *process.Task, frame *idt.Frame) (int32, error) {
	msg, err := t.PeekCString(task, uint32(frame.EBX), maxStringArg)
	if err != nil {
		return 0, err
	}

	for i := 0; i < len(msg); i++ {
		if err := t.Console.WriteByte(msg[i]); err != nil {
			return 0, err
		}
	}

	return int32(len(msg)), nil
}

func getKey(t *Table, task *process.Task, frame *idt.Frame) (int32, error) {
	if t.Keyboard == nil {
		return 0, nil
	}

	key, ok := t.Keyboard.ReadKey(task.Process.ID)
	if !ok {
		return 0, nil
	}

	return int32(key), nil
}

func putChar(t *Table, task *process.Task, frame *idt.Frame) (int32, error) {
	if err := t.Console.WriteByte(byte(frame.EBX)); err != nil {
		return 0, err
	}

	return 0, nil
}

func malloc(t *Table, task *process.Task, frame *idt.Frame) (int32, error) {
	size := uint32(frame.EBX)

	ptr, err := t.Heap.Malloc(size)
	if err != nil {
		return 0, err
	}

	if err := task.Process.RecordAllocation(ptr, size); err != nil {
		_ = t.Heap.Free(ptr)
		return 0, err
	}

	return int32(ptr), nil
}

func free(t *Table, task *process.Task, frame *idt.Frame) (int32, error) {
	if err := task.Process.ReleaseAllocation(uint32(frame.EBX)); err != nil {
		return 0, err
	}

	return 0, nil
}

// processLoadStart loads filename as a new process, adds it to the ring,
// and makes it current. The caller's int 0x80 still returns to the caller:
// Dispatch substitutes the newly current task's frame for Exit only, so
// process_load_start leaves the caller's frame as EAX=pid
// and the caller resumes normally, matching spec.md's "make it current, and
// resume through its entry" as "the new process becomes schedulable",
// not "control jumps there immediately" (no coroutine-style suspension
// exists per Design Notes).
func processLoadStart(t *Table, task *process.Task, frame *idt.Frame) (int32, error) {
	if t.Loader == nil {
		return 0, kerrors.ErrUnsupported
	}

	filename, err := t.PeekCString(task, uint32(frame.EBX), maxStringArg)
	if err != nil {
		return 0, err
	}

	newProc, newTask, err := t.Loader(filename, nil)
	if err != nil {
		return 0, err
	}

	t.Scheduler.Add(newTask)
	t.Scheduler.Current = newTask

	return int32(newProc.ID), nil
}

// invokeSystemCommand treats the peeked argument list's first element as a
// path and the rest as the new process's injected arguments.
func invokeSystemCommand(t *Table, task *process.Task, frame *idt.Frame) (int32, error) {
	if t.Loader == nil {
		return 0, kerrors.ErrUnsupported
	}

	argv, err := t.peekArgv(task, uint32(frame.EBX))
	if err != nil {
		return 0, err
	}

	if len(argv) == 0 {
		return 0, kerrors.ErrInvalidArg
	}

	newProc, newTask, err := t.Loader(argv[0], argv[1:])
	if err != nil {
		return 0, err
	}

	t.Scheduler.Add(newTask)
	t.Scheduler.Current = newTask

	return int32(newProc.ID), nil
}

// peekArgv reads a NUL-terminated, NUL-terminated-list argv from user
// space: a sequence of C strings back to back, ending with an empty one.
func (t *Table) peekArgv(task *process.Task, virt uint32) ([]string, error) {
	var argv []string

	for offset := uint32(0); offset < maxStringArg*8; {
		s, err := t.PeekCString(task, virt+offset, maxStringArg)
		if err != nil {
			return nil, err
		}

		if s == "" {
			break
		}

		argv = append(argv, s)
		offset += uint32(len(s)) + 1
	}

	return argv, nil
}

// getProgramArguments returns the fixed virtual address InjectArguments
// mapped argc and the argument strings into, so the calling process can read its own
// arguments directly rather than trust a kernel-copied struct.
func getProgramArguments(t *Table, task *process.Task, frame *idt.Frame) (int32, error) {
	addr := uint32(process.ArgumentsVirtualAddress)
	return int32(addr), nil
}

func exit(t *Table, task *process.Task, frame *idt.Frame) (int32, error) {
	if err := task.Process.Terminate(); err != nil {
		return 0, err
	}

	t.Scheduler.Remove(task)

	if _, err := t.Scheduler.Next(); err != nil {
		return 0, nil // no tasks left to resume; caller (boot/test) observes this via the scheduler
	}

	return 0, nil
}
