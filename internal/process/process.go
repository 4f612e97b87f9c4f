// Package process implements the process and task model: address-space
// construction for a loaded ELF image, the per-process syscall allocation
// table, argument injection, and termination.
package process

import (
	"fmt"

	"github.com/skyos/kernel/internal/cpu"
	"github.com/skyos/kernel/internal/elf"
	"github.com/skyos/kernel/internal/gdt"
	"github.com/skyos/kernel/internal/heap"
	"github.com/skyos/kernel/internal/idt"
	"github.com/skyos/kernel/internal/kerrors"
	"github.com/skyos/kernel/internal/paging"
)

const (
	// ProgramVirtualAddress is where every process's image is mapped,
	// regardless of its link-time vaddr spread: segments are relocated to
	// start here, matching the fixed single-process-image convention.
	ProgramVirtualAddress = 0x400000

	// UserStackSize is the fixed size of every process's user stack.
	UserStackSize = 0x4000 // 16 KiB

	// UserStackVirtualAddress is the top of the user stack, a fixed high
	// address below the arguments page.
	UserStackVirtualAddress = 0xbfffe000

	// ArgumentsVirtualAddress is where InjectArguments maps the (argc,
	// argv) buffer, one page above the stack's virtual region.
	ArgumentsVirtualAddress = 0xbffff000

	// MaxAllocations bounds the per-process syscall-tracked allocation
	// table; exhaustion is an explicit ErrBusy rather than silent growth,
	// preserving the no-leak testable property.
	MaxAllocations = 64
)

// allocation is one syscall-tracked (pointer, size) pair.
type allocation struct {
	ptr  uint32
	size uint32
	used bool
}

// Process is a loaded program: its address space, stack, image, argument
// buffer, and the allocations its malloc syscalls have handed out.
type Process struct {
	ID       int
	Filename string

	Directory     *paging.Directory
	ImageBase     uint32
	ImageSize     uint32
	ImagePhysBase uint32
	StackBase     uint32
	StackSize     uint32
	StackPhysBase uint32
	ArgsBase      uint32
	ArgsSize      uint32
	ArgsPhysBase  uint32
	EntryPoint    uint32

	allocations [MaxAllocations]allocation

	task *Task

	heap *heap.Heap
	mem  *paging.Memory
}

// Task is a process's single thread of control: its saved register frame,
// a weak back-reference to its process, and the scheduler ring links.
type Task struct {
	Process *Process
	Frame   idt.Frame

	next, prev *Task
}

var nextProcessID = 1

// Load builds a fresh address space for img, maps its segments and a user
// stack, and returns the new process and its task, performing the
// allocate/build-directory/map/create-task sequence. kernelEnd bounds the
// kernel's identity-mapped region that must stay reachable from every
// directory.
func Load(filename string, img *elf.Image, mem *paging.Memory, kheap *heap.Heap, kernelEnd uint32) (*Process, *Task, error) {
	dir := paging.New4GB(mem, paging.Present|paging.Writable)

	if err := dir.IdentityMapKernel(kernelEnd); err != nil {
		return nil, nil, fmt.Errorf("identity map kernel: %w", err)
	}

	p := &Process{
		ID:       nextProcessID,
		Filename: filename,
		Directory: dir,
		heap:      kheap,
		mem:       mem,
	}
	nextProcessID++

	if err := p.mapImage(img); err != nil {
		return nil, nil, err
	}

	if err := p.mapStack(); err != nil {
		return nil, nil, err
	}

	frame := idt.Frame{
		Registers: cpu.Registers{
			EIP:    cpu.Word(p.EntryPoint),
			ESP:    cpu.Word(p.StackBase + p.StackSize),
			CS:     gdt.UserCodeSelector,
			SS:     gdt.UserDataSelector,
			DS:     gdt.UserDataSelector,
			ES:     gdt.UserDataSelector,
			FS:     gdt.UserDataSelector,
			GS:     gdt.UserDataSelector,
			EFlags: cpu.FlagsInterrupt,
		},
	}

	task := &Task{Process: p, Frame: frame}
	p.task = task

	return p, task, nil
}

// mapImage copies every PT_LOAD segment of img into freshly zeroed kernel
// heap blocks and maps them contiguously at ProgramVirtualAddress, relocated
// from their link-time spread the way spec.md's process loader requires.
func (p *Process) mapImage(img *elf.Image) error {
	var lo, hi uint32 = ^uint32(0), 0

	for _, seg := range img.Segments {
		if seg.VAddr < lo {
			lo = seg.VAddr
		}

		end := seg.VAddr + uint32(len(seg.Data))
		if end > hi {
			hi = end
		}
	}

	if len(img.Segments) == 0 || hi <= lo {
		return fmt.Errorf("%w: elf image has no loadable segments", kerrors.ErrInvalidArg)
	}

	span := hi - lo
	pages := (span + paging.PageSize - 1) / paging.PageSize

	phys, err := p.heap.Zalloc(pages * paging.PageSize)
	if err != nil {
		return fmt.Errorf("allocate image: %w", err)
	}

	for _, seg := range img.Segments {
		p.mem.WriteAt(seg.Data, phys+(seg.VAddr-lo))
	}

	if err := p.Directory.MapRange(ProgramVirtualAddress, phys, int(pages), paging.Present|paging.Writable|paging.User); err != nil {
		return fmt.Errorf("map image: %w", err)
	}

	p.ImageBase = ProgramVirtualAddress
	p.ImageSize = pages * paging.PageSize
	p.ImagePhysBase = phys
	p.EntryPoint = ProgramVirtualAddress + (img.Entry - lo)

	return nil
}

// mapStack allocates and zeroes the user stack and maps it at its fixed
// virtual address.
func (p *Process) mapStack() error {
	pages := uint32(UserStackSize / paging.PageSize)

	phys, err := p.heap.Zalloc(UserStackSize)
	if err != nil {
		return fmt.Errorf("allocate stack: %w", err)
	}

	stackVirt := uint32(UserStackVirtualAddress - UserStackSize)

	if err := p.Directory.MapRange(stackVirt, phys, int(pages), paging.Present|paging.Writable|paging.User); err != nil {
		return fmt.Errorf("map stack: %w", err)
	}

	p.StackBase = stackVirt
	p.StackSize = UserStackSize
	p.StackPhysBase = phys

	return nil
}

// InjectArguments copies argc (a little-endian uint32) followed by the
// NUL-terminated argument strings into a kernel buffer and maps a read-only
// view into the process's address space at ArgumentsVirtualAddress. No
// argv pointer array is built; the strings follow argc back to back.
func (p *Process) InjectArguments(args []string) error {
	var buf []byte

	argc := uint32(len(args))
	buf = append(buf, le32(argc)...)

	for _, a := range args {
		buf = append(buf, []byte(a)...)
		buf = append(buf, 0)
	}

	pages := uint32(len(buf)+paging.PageSize-1) / paging.PageSize
	if pages == 0 {
		pages = 1
	}

	phys, err := p.heap.Zalloc(pages * paging.PageSize)
	if err != nil {
		return fmt.Errorf("allocate arguments: %w", err)
	}

	p.mem.WriteAt(buf, phys)

	argsVirt := uint32(ArgumentsVirtualAddress &^ (paging.PageSize - 1))

	if err := p.Directory.MapRange(argsVirt, phys, int(pages), paging.Present|paging.User); err != nil {
		return fmt.Errorf("map arguments: %w", err)
	}

	p.ArgsBase = argsVirt
	p.ArgsSize = pages * paging.PageSize
	p.ArgsPhysBase = phys

	return nil
}

func le32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

// RecordAllocation records a syscall-tracked (ptr, size) pair in the
// process's fixed-size allocation table. It returns ErrBusy if the table is
// full, the same bound a fixed C array would impose.
func (p *Process) RecordAllocation(ptr, size uint32) error {
	for i := range p.allocations {
		if !p.allocations[i].used {
			p.allocations[i] = allocation{ptr: ptr, size: size, used: true}
			return nil
		}
	}

	return fmt.Errorf("%w: allocation table full", kerrors.ErrBusy)
}

// ReleaseAllocation frees ptr through the kernel heap and clears its slot.
// It returns ErrInvalidArg if ptr was never recorded, matching spec.md's
// "free rejects pointers not in the allocation table".
func (p *Process) ReleaseAllocation(ptr uint32) error {
	for i := range p.allocations {
		if p.allocations[i].used && p.allocations[i].ptr == ptr {
			if err := p.heap.Free(ptr); err != nil {
				return err
			}

			p.allocations[i] = allocation{}

			return nil
		}
	}

	return fmt.Errorf("%w: pointer %#x not in allocation table", kerrors.ErrInvalidArg, ptr)
}

// Terminate frees every outstanding allocation, unmaps the image, stack and
// argument pages, and frees their heap blocks. It returns the first error
// from a free or unmap. It does not touch the scheduler: the caller discards
// the directory and removes the task from the ring.
func (p *Process) Terminate() error {
	for i := range p.allocations {
		if p.allocations[i].used {
			if err := p.heap.Free(p.allocations[i].ptr); err != nil {
				return err
			}

			p.allocations[i] = allocation{}
		}
	}

	if err := p.Directory.Unmap(ProgramVirtualAddress, int(p.ImageSize/paging.PageSize)); err != nil {
		return err
	}

	if err := p.Directory.Unmap(p.StackBase, int(p.StackSize/paging.PageSize)); err != nil {
		return err
	}

	if p.ArgsSize > 0 {
		if err := p.Directory.Unmap(p.ArgsBase, int(p.ArgsSize/paging.PageSize)); err != nil {
			return err
		}

		if err := p.heap.Free(p.ArgsPhysBase); err != nil {
			return err
		}
	}

	if err := p.heap.Free(p.ImagePhysBase); err != nil {
		return err
	}

	return p.heap.Free(p.StackPhysBase)
}
