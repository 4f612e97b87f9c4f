// Package paging implements the kernel's virtual memory manager: 4 GiB
// page-directory construction, arbitrary-range mapping, and the CR3/CR0.PG
// state transitions that switch and enable paging.
package paging

import (
	"fmt"

	"github.com/skyos/kernel/internal/kerrors"
)

// PageSize is the only page size the kernel supports.
const PageSize = 4096

// EntriesPerTable is the fixed fan-out of both the directory and each page
// table.
const EntriesPerTable = 1024

// Flags are the per-entry attribute bits tracked by the kernel: present,
// writable, user-accessible, cache-disable, write-through.
type Flags uint8

const (
	Present Flags = 1 << iota
	Writable
	User
	CacheDisable
	WriteThrough
)

// entry is one page-table or page-directory slot: a 4 KiB-aligned physical
// frame address plus flags.
type entry struct {
	frame uint32
	flags Flags
}

func (e entry) present() bool { return e.flags&Present != 0 }

// Table is one page table: 1024 entries, each describing one 4 KiB page.
type Table struct {
	entries [EntriesPerTable]entry
}

// Directory is a page directory: 1024 slots, each either empty or pointing
// at a Table covering a 4 MiB region. A process's entire address space is
// reachable through exactly one Directory while that process's CR3 is
// loaded.
type Directory struct {
	tables [EntriesPerTable]*Table
	flags  Flags // flags new tables are created with
	mem    *Memory
}

// Memory is the simulated physical address space backing every Directory.
// Real hardware backs a 4 GiB identity map with actual DRAM; a test binary
// cannot allocate 4 GiB up front, so frames are allocated lazily, the first
// time any directory's mapping is dereferenced for a given frame number.
type Memory struct {
	frames map[uint32]*[PageSize]byte
}

// NewMemory creates an empty simulated physical address space.
func NewMemory() *Memory {
	return &Memory{frames: make(map[uint32]*[PageSize]byte)}
}

func (m *Memory) frame(phys uint32) *[PageSize]byte {
	idx := phys / PageSize

	f, ok := m.frames[idx]
	if !ok {
		f = &[PageSize]byte{}
		m.frames[idx] = f
	}

	return f
}

// ReadAt reads len(buf) bytes of physical memory starting at phys. Reads
// never fail; an unmapped frame reads as zero, since allocating a frame the
// first time it's touched (even by a read) is observably equivalent to DRAM
// that powers on to an unspecified but stable value.
func (m *Memory) ReadAt(buf []byte, phys uint32) {
	for len(buf) > 0 {
		off := phys % PageSize
		n := copy(buf, m.frame(phys-off)[off:])
		buf = buf[n:]
		phys += uint32(n)
	}
}

// WriteAt writes buf into physical memory starting at phys.
func (m *Memory) WriteAt(buf []byte, phys uint32) {
	for len(buf) > 0 {
		off := phys % PageSize
		n := copy(m.frame(phys-off)[off:], buf)
		buf = buf[n:]
		phys += uint32(n)
	}
}

// currentDir is the package-level analogue of CR3: the directory that
// ReadAt/WriteAt and address translation consult. A nil value means paging
// is not yet active and addresses are physical.
var currentDir *Directory

// pagingEnabled is the analogue of CR0.PG.
var pagingEnabled bool

// New4GB allocates a directory and identity-maps the full 4 GiB logical
// address space, one page table per 4 MiB region, every page tagged with
// flags. This is the literal "4 GiB page-directory builder" of the spec:
// subsequent MapRange calls overwrite specific entries to relocate a
// process's image and stack.
func New4GB(mem *Memory, flags Flags) *Directory {
	dir := &Directory{flags: flags, mem: mem}

	for i := range dir.tables {
		table := &Table{}

		for j := range table.entries {
			frame := uint32(i)*EntriesPerTable*PageSize + uint32(j)*PageSize
			table.entries[j] = entry{frame: frame, flags: flags | Present}
		}

		dir.tables[i] = table
	}

	return dir
}

// IdentityMapKernel maps [0, end) in dir exactly as it is in every other
// directory, so that kernel code and data stay addressable no matter which
// process's CR3 is loaded. Because New4GB already identity-maps the full
// 4 GiB range, this only needs to ensure the kernel region has
// present+writable (not user-accessible) flags, undoing any later
// MapRange that touched it.
func (d *Directory) IdentityMapKernel(end uint32) error {
	return d.MapRange(0, 0, int((end+PageSize-1)/PageSize), Present|Writable)
}

// MapRange installs count contiguous mappings virt[i] -> phys[i] for
// i in [0, count), each PageSize apart. virt and phys must be page-aligned.
func (d *Directory) MapRange(virt, phys uint32, count int, flags Flags) error {
	if virt%PageSize != 0 || phys%PageSize != 0 {
		return fmt.Errorf("%w: unaligned mapping virt=%#x phys=%#x", kerrors.ErrInvalidArg, virt, phys)
	}

	for i := 0; i < count; i++ {
		v := virt + uint32(i)*PageSize
		p := phys + uint32(i)*PageSize

		dirIdx := v / (EntriesPerTable * PageSize)
		tableIdx := (v / PageSize) % EntriesPerTable

		table := d.tables[dirIdx]
		if table == nil {
			table = &Table{}
			d.tables[dirIdx] = table
		}

		table.entries[tableIdx] = entry{frame: p, flags: flags | Present}
	}

	return nil
}

// Unmap clears count mappings starting at virt, leaving the entries
// not-present.
func (d *Directory) Unmap(virt uint32, count int) error {
	if virt%PageSize != 0 {
		return fmt.Errorf("%w: unaligned unmap virt=%#x", kerrors.ErrInvalidArg, virt)
	}

	for i := 0; i < count; i++ {
		v := virt + uint32(i)*PageSize
		dirIdx := v / (EntriesPerTable * PageSize)
		tableIdx := (v / PageSize) % EntriesPerTable

		if table := d.tables[dirIdx]; table != nil {
			table.entries[tableIdx] = entry{}
		}
	}

	return nil
}

// Translate resolves a virtual address to its physical address under d. It
// returns ErrAccessControl, which wraps kerrors.ErrInvalidArg, if the page
// isn't present.
func (d *Directory) Translate(virt uint32) (uint32, error) {
	dirIdx := virt / (EntriesPerTable * PageSize)
	tableIdx := (virt / PageSize) % EntriesPerTable
	off := virt % PageSize

	table := d.tables[dirIdx]
	if table == nil {
		return 0, fmt.Errorf("%w: unmapped page %#x", ErrAccessControl, virt)
	}

	e := table.entries[tableIdx]
	if !e.present() {
		return 0, fmt.Errorf("%w: unmapped page %#x", ErrAccessControl, virt)
	}

	return e.frame + off, nil
}

// Switch loads d as the active directory (the CR3 write).
func Switch(d *Directory) { currentDir = d }

// Current returns the directory currently loaded, or nil if none.
func Current() *Directory { return currentDir }

// Enable sets CR0.PG.
func Enable() { pagingEnabled = true }

// Enabled reports whether paging has been enabled.
func Enabled() bool { return pagingEnabled }

// ReadAt reads len(buf) bytes of the address space mapped by d, starting at
// the virtual address virt.
func (d *Directory) ReadAt(buf []byte, virt uint32) error {
	for len(buf) > 0 {
		phys, err := d.Translate(virt)
		if err != nil {
			return err
		}

		n := PageSize - int(virt%PageSize)
		if n > len(buf) {
			n = len(buf)
		}

		d.mem.ReadAt(buf[:n], phys)
		buf = buf[n:]
		virt += uint32(n)
	}

	return nil
}

// WriteAt writes buf into the address space mapped by d, starting at the
// virtual address virt.
func (d *Directory) WriteAt(buf []byte, virt uint32) error {
	for len(buf) > 0 {
		phys, err := d.Translate(virt)
		if err != nil {
			return err
		}

		n := PageSize - int(virt%PageSize)
		if n > len(buf) {
			n = len(buf)
		}

		d.mem.WriteAt(buf[:n], phys)
		buf = buf[n:]
		virt += uint32(n)
	}

	return nil
}

var ErrAccessControl = fmt.Errorf("%w: page not present", kerrors.ErrInvalidArg)
