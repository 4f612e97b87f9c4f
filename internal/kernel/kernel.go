// Package kernel assembles every subsystem into one bootable whole: GDT,
// IDT, paging, heap, disk/VFS, the process/scheduler model, and the int
// 0x80 command table, mirroring the teacher's singleton-construction-plus-
// boot-sequence idiom.
package kernel

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/skyos/kernel/internal/console"
	"github.com/skyos/kernel/internal/cpu"
	"github.com/skyos/kernel/internal/disk"
	"github.com/skyos/kernel/internal/elf"
	"github.com/skyos/kernel/internal/gdt"
	"github.com/skyos/kernel/internal/heap"
	"github.com/skyos/kernel/internal/idt"
	"github.com/skyos/kernel/internal/kerrors"
	"github.com/skyos/kernel/internal/keyboard"
	"github.com/skyos/kernel/internal/log"
	"github.com/skyos/kernel/internal/paging"
	"github.com/skyos/kernel/internal/process"
	"github.com/skyos/kernel/internal/syscall"
	"github.com/skyos/kernel/internal/vfs"
	"github.com/skyos/kernel/internal/vfs/fat16"
)

const (
	// KernelStackTop is the fixed stack base spec.md assumes the boot
	// sector has already established.
	KernelStackTop = 0x00200000

	// KernelEnd bounds the identity-mapped kernel region every process
	// directory must keep reachable; the kernel image and stack live below
	// it, and the heap starts at it.
	KernelEnd = 0x00300000

	// HeapBase/HeapSize carve the kernel heap out of the region just past
	// KernelEnd.
	HeapBase = 0x00300000
	HeapSize = 0x00200000

	// InitProcessPath is the first ELF program loaded at boot, per
	// spec.md's "load first ELF as a process" step. It is loaded twice
	// (see Design Notes' resolution of the double process_load_switch
	// question), producing two independent resident processes.
	InitProcessPath = "0:/blank.elf"
)

// Kernel holds every subsystem singleton plus the one mutex guarding the
// task ring, the current-directory pointer, the heap table, and disk I/O —
// acquired for the duration of the interrupt/syscall re-entry point, the Go
// analogue of "disable interrupts ... re-enable before IRET".
type Kernel struct {
	mu sync.Mutex

	GDT         *gdt.Table
	IDT         *idt.Table
	Mem         *paging.Memory
	KernelDir   *paging.Directory
	Heap        *heap.Heap
	Disk        *disk.Disk
	VFS         *vfs.Registry
	Descriptors *vfs.Table
	Syscalls    *syscall.Table
	Scheduler   *process.Scheduler
	Console     *console.Console
	Keyboard    *keyboard.Keyboard

	// Processes holds every process loaded at boot, per Design Notes'
	// resolution of the double process_load_switch open question: both
	// calls create independent resident processes kept here, neither
	// discarded.
	Processes []*process.Process

	pendingKey byte
	log        *log.Logger
}

// Boot performs the control flow of spec.md's boot sequence: console init,
// GDT and TSS construction (the table is built; Load is not called here),
// kernel heap init, disk probe + VFS resolve, IDT install, kernel page
// directory build, enable paging, syscall table register, keyboard init,
// load the first ELF as a process (twice), switch to it. Any failure is
// returned as an error.
//
// diskPath names the backing disk image file; disk.Open needs a real path
// (not an arbitrary io.ReaderAt) since it duplicates the file descriptor
// for independent read/write streamers.
func Boot(diskPath string) (*Kernel, error) {
	k := &Kernel{log: log.DefaultLogger()}

	k.Console = console.New()

	k.GDT = gdt.NewFlat(KernelStackTop)

	k.Mem = paging.NewMemory()
	k.Heap = heap.New(k.Mem, HeapBase, HeapSize)

	d, err := disk.Open(0, diskPath)
	if err != nil {
		return nil, fmt.Errorf("boot: open disk: %w", err)
	}

	k.Disk = d

	k.VFS = vfs.NewRegistry()
	k.VFS.Register(&vfs.Filesystem{Name: "fat16", Resolve: fat16.Resolve})
	k.Descriptors = vfs.NewTable()

	if _, err := k.VFS.Resolve(d); err != nil {
		return nil, fmt.Errorf("boot: resolve filesystem: %w", err)
	}

	k.IDT = idt.New()
	k.IDT.RemapPIC(0x20)

	k.KernelDir = paging.New4GB(k.Mem, paging.Present|paging.Writable)
	paging.Switch(k.KernelDir)
	paging.Enable()

	k.Scheduler = process.NewScheduler()

	k.Syscalls = syscall.NewTable()
	k.Syscalls.Heap = k.Heap
	k.Syscalls.KernelDir = k.KernelDir
	k.Syscalls.Scheduler = k.Scheduler
	k.Syscalls.Console = k.Console
	k.Syscalls.Loader = k.loadProcess

	k.IDT.Install(idt.Syscall, idt.DPL3, func(vector idt.Vector, frame *idt.Frame) {
		if err := k.Syscall(frame); err != nil {
			k.log.Error("syscall dispatch", "err", err)
		}
	})

	k.Keyboard = keyboard.New()
	k.Syscalls.Keyboard = k.Keyboard
	k.Keyboard.Install(k.IDT, k.currentPID, func() byte { return k.pendingKey })

	if _, _, err := k.loadProcessSwitch(InitProcessPath, nil); err != nil {
		return nil, fmt.Errorf("boot: load init process: %w", err)
	}

	if _, _, err := k.loadProcessSwitch(InitProcessPath, nil); err != nil {
		return nil, fmt.Errorf("boot: load second init process: %w", err)
	}

	if _, err := k.Scheduler.RunFirstEver(); err != nil {
		return nil, fmt.Errorf("boot: start scheduler: %w", err)
	}

	return k, nil
}

// currentPID reports the currently scheduled process's id, or 0 if none is
// current, the hook the keyboard driver uses to route a scancode.
func (k *Kernel) currentPID() int {
	if k.Scheduler.Current == nil {
		return 0
	}

	return k.Scheduler.Current.Process.ID
}

// loadProcess resolves path through the VFS, loads it as an ELF32 image,
// and builds a fresh process and task, without touching the scheduler. It
// is installed as syscall.Table.Loader so process_load_start and
// invoke_system_command share this exact path-to-process pipeline.
//
// The open file is tracked through k.Descriptors, the kernel-wide file
// descriptor table, the same singleton fopen/fread/fclose would hand out
// to a direct filesystem caller, rather than holding the filesystem
// handle directly.
func (k *Kernel) loadProcess(path string, args []string) (*process.Process, *process.Task, error) {
	parsed, err := vfs.ParsePath(path)
	if err != nil {
		return nil, nil, err
	}

	fs, err := k.VFS.Resolve(k.Disk)
	if err != nil {
		return nil, nil, err
	}

	handle, err := fs.Open(parsed, vfs.ModeRead)
	if err != nil {
		return nil, nil, err
	}

	descriptor, err := k.Descriptors.Open(fs, handle, vfs.ModeRead)
	if err != nil {
		fs.Close(handle)
		return nil, nil, err
	}

	defer k.Descriptors.Close(descriptor.Index)

	stat, err := fs.Stat(handle)
	if err != nil {
		return nil, nil, err
	}

	data := make([]byte, stat.Size)
	if _, err := fs.Read(handle, data); err != nil {
		return nil, nil, err
	}

	image, err := elf.LoadExec(bytes.NewReader(data))
	if err != nil {
		return nil, nil, err
	}

	p, task, err := process.Load(path, image, k.Mem, k.Heap, KernelEnd)
	if err != nil {
		return nil, nil, err
	}

	if len(args) > 0 {
		if err := p.InjectArguments(args); err != nil {
			return nil, nil, err
		}
	}

	k.Processes = append(k.Processes, p)

	return p, task, nil
}

// loadProcessSwitch loads path and adds the resulting task to the
// scheduler ring, the boot-time variant of process_load_switch.
func (k *Kernel) loadProcessSwitch(path string, args []string) (*process.Process, *process.Task, error) {
	p, task, err := k.loadProcess(path, args)
	if err != nil {
		return nil, nil, err
	}

	k.Scheduler.Add(task)

	return p, task, nil
}

// Syscall dispatches one int 0x80 trap against the currently scheduled
// task, holding the kernel mutex for the duration — the single-writer
// section spec.md's "disable interrupts" models.
func (k *Kernel) Syscall(frame *idt.Frame) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	task := k.Scheduler.Current
	if task == nil {
		return fmt.Errorf("%w: no current task", kerrors.ErrNotFound)
	}

	return k.Syscalls.Dispatch(task, frame)
}

// Dispatch runs vector's handler with the kernel mutex held, the same
// critical section Syscall uses, for IRQ and exception vectors.
func (k *Kernel) Dispatch(vector idt.Vector, callerRing cpu.Ring, frame *idt.Frame) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	return k.IDT.Dispatch(vector, callerRing, frame)
}

// PressKey simulates one scancode arriving from the PS/2 controller: it
// latches the byte for the IRQ handler's scan callback and dispatches
// vector 0x21, the same way a hardware interrupt would.
func (k *Kernel) PressKey(b byte) error {
	k.mu.Lock()
	k.pendingKey = b
	k.mu.Unlock()

	return k.IDT.Dispatch(idt.Keyboard, 0, &idt.Frame{})
}

// Panic prints msg and err and halts forever, the Go analogue of "prints a
// message and halts in an infinite loop". Nothing in the kernel calls it:
// Boot returns its fatal conditions (such as failing to load the initial
// process) as errors to its caller.
func Panic(msg string, err error) {
	log.DefaultLogger().Error(msg, "err", err)

	select {}
}
