// Package gdt builds and loads the kernel's flat-memory Global Descriptor
// Table and Task State Segment, per the flat-memory model described for
// ring 0/ring 3 code and data segments plus one TSS.
package gdt

import (
	"fmt"
	"unsafe"

	"github.com/skyos/kernel/internal/cpu"
)

// Selectors for the six descriptors, fixed by convention so the rest of the
// kernel (GDT-relative segment loads, ring-3 IRET frames) can reference them
// as constants.
const (
	NullSelector       cpu.Selector = 0x00
	KernelCodeSelector cpu.Selector = 0x08
	KernelDataSelector cpu.Selector = 0x10
	UserCodeSelector   cpu.Selector = 0x18 | 0x3 // RPL 3
	UserDataSelector   cpu.Selector = 0x20 | 0x3
	TSSSelector        cpu.Selector = 0x28
)

// Access byte bits (Type, S, DPL, P) and flags (G, D/B, L, AVL), per the
// standard descriptor encoding.
const (
	accessPresent   uint8 = 1 << 7
	accessRing3     uint8 = 3 << 5
	accessDescriptor uint8 = 1 << 4 // S=1: code/data, not a system segment
	accessExecutable uint8 = 1 << 3
	accessReadWrite  uint8 = 1 << 1
	accessAccessed   uint8 = 1 << 0

	accessTSS32Available uint8 = 0x9 // type 0x9 in a system descriptor (Type=0xE9 form below)

	flagGranularity4K uint8 = 1 << 7
	flag32Bit         uint8 = 1 << 6
)

// Descriptor is one 8-byte GDT entry.
type Descriptor struct {
	LimitLow  uint16
	BaseLow   uint16
	BaseMid   uint8
	Access    uint8
	LimitHigh uint8 // low nibble: limit[19:16]; high nibble: flags
	BaseHigh  uint8
}

// NewDescriptor packs a flat base/limit/access/flags quadruple into a
// Descriptor, the same bit layout used throughout the pack's GDT-building
// reference code.
func NewDescriptor(base, limit uint32, access, flags uint8) Descriptor {
	return Descriptor{
		LimitLow:  uint16(limit & 0xffff),
		BaseLow:   uint16(base & 0xffff),
		BaseMid:   uint8((base >> 16) & 0xff),
		Access:    access,
		LimitHigh: uint8((limit>>16)&0x0f) | (flags & 0xf0),
		BaseHigh:  uint8((base >> 24) & 0xff),
	}
}

func (d Descriptor) String() string {
	return fmt.Sprintf("GDT{base:%#08x limit:%#05x access:%#02x}",
		uint32(d.BaseLow)|uint32(d.BaseMid)<<16|uint32(d.BaseHigh)<<24,
		uint32(d.LimitLow)|uint32(d.LimitHigh&0x0f)<<16,
		d.Access)
}

// TSS is the Task State Segment. Only the ring-0 stack pointer fields are
// used by the kernel; the rest of the structure exists because the CPU
// expects the full layout to be present at the descriptor's base address.
type TSS struct {
	prevTask uint16
	_        uint16
	Esp0     uint32
	Ss0      uint16
	_        uint16
	rest     [23]uint32 // unused ESP1/SS1..IOPB; zeroed
}

// Table is the six-descriptor flat GDT: null, kernel code, kernel data, user
// code, user data, TSS.
type Table struct {
	entries [6]Descriptor
	tss     TSS
}

// NewFlat builds the flat-memory GDT of spec §4.1: base 0, limit 4 GiB for
// all four code/data segments, plus a TSS descriptor pointing at an embedded
// TSS whose esp0/ss0 are set from kernelStackTop.
func NewFlat(kernelStackTop uint32) *Table {
	const limit4GB = 0xfffff // 4 GiB in 4 KiB granules

	t := &Table{}

	t.entries[0] = Descriptor{} // null
	t.entries[1] = NewDescriptor(0, limit4GB,
		accessPresent|accessDescriptor|accessExecutable|accessReadWrite,
		flagGranularity4K|flag32Bit) // kernel code, ring 0
	t.entries[2] = NewDescriptor(0, limit4GB,
		accessPresent|accessDescriptor|accessReadWrite,
		flagGranularity4K|flag32Bit) // kernel data, ring 0
	t.entries[3] = NewDescriptor(0, limit4GB,
		accessPresent|accessRing3|accessDescriptor|accessExecutable|accessReadWrite,
		flagGranularity4K|flag32Bit) // user code, ring 3
	t.entries[4] = NewDescriptor(0, limit4GB,
		accessPresent|accessRing3|accessDescriptor|accessReadWrite,
		flagGranularity4K|flag32Bit) // user data, ring 3

	t.tss.Esp0 = kernelStackTop
	t.tss.Ss0 = uint16(KernelDataSelector)

	t.entries[5] = NewDescriptor(uint32(uintptr(unsafe.Pointer(&t.tss))), uint32(unsafe.Sizeof(t.tss)),
		accessPresent|accessRing3|accessTSS32Available, 0) // TSS, type 0xE9

	return t
}

// Load installs the table: writes all segment registers to kernel data and
// sets CS to kernel code. It mutates regs in place, the Go model of
// `lgdt`/segment-reg-loads. The TSS selector load (`ltr`) is not modeled:
// cpu.Registers has no task register.
func (t *Table) Load(regs *cpu.Registers) {
	regs.DS = KernelDataSelector
	regs.ES = KernelDataSelector
	regs.FS = KernelDataSelector
	regs.GS = KernelDataSelector
	regs.SS = KernelDataSelector
	regs.CS = KernelCodeSelector
}

// TSS returns the table's task state segment so the scheduler can update
// esp0 when switching kernel stacks.
func (t *Table) TSS() *TSS { return &t.tss }

// SetKernelStack updates TSS.esp0, the address the CPU loads into ESP on a
// ring-3-to-ring-0 trap.
func (t *TSS) SetKernelStack(esp0 uint32) { t.Esp0 = esp0 }
