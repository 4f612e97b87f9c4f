// Package heap implements the kernel's first-fit block allocator over a
// fixed region, backed by a bitmap of 4 KiB-aligned chunks.
package heap

import (
	"fmt"

	"github.com/skyos/kernel/internal/kerrors"
	"github.com/skyos/kernel/internal/log"
	"github.com/skyos/kernel/internal/paging"
)

// BlockSize is the granularity of every allocation.
const BlockSize = paging.PageSize

// blockState is the per-block entry in the occupancy table: the table is
// the sole authority on whether a block is free, and if taken, whether it
// is the first block of a run (head) or a continuation, and whether the run
// extends past it (hasNext).
type blockState uint8

const (
	stateFree blockState = iota
	stateTaken
	stateMask  blockState = 0x3
	hasNextBit blockState = 1 << 2
)

func (s blockState) isFree() bool  { return s&stateMask == stateFree }
func (s blockState) hasNext() bool { return s&hasNextBit != 0 }

// Heap is a kernel heap singleton: a contiguous physical region [Base,
// Base+Size) divided into BlockSize blocks, tracked by a parallel table.
type Heap struct {
	base  uint32
	table []blockState
	mem   *paging.Memory
	log   *log.Logger
}

// New divides [base, base+size) into BlockSize blocks and zeroes the
// occupancy table.
func New(mem *paging.Memory, base, size uint32) *Heap {
	return &Heap{
		base:  base,
		table: make([]blockState, size/BlockSize),
		mem:   mem,
		log:   log.DefaultLogger(),
	}
}

// blocksFor returns the number of blocks needed to hold size bytes. A
// zero-size request still needs one block: kmalloc(0) returns a unique,
// freeable pointer rather than NoMem (the boundary behavior spec.md leaves
// open is resolved this way so a process's allocation table always records
// a valid, distinct address per call).
func blocksFor(size uint32) int {
	if size == 0 {
		return 1
	}

	return int((size + BlockSize - 1) / BlockSize)
}

// Malloc scans for the first run of blocksFor(size) free blocks, marks them
// taken (head plus continuations, hasNext set on all but the last), and
// returns the address of the first block. It returns ErrNoMem if no run of
// the required length is free.
func (h *Heap) Malloc(size uint32) (uint32, error) {
	need := blocksFor(size)

	start, ok := h.firstFitRun(need)
	if !ok {
		return 0, fmt.Errorf("%w: no run of %d blocks", kerrors.ErrNoMem, need)
	}

	for i := 0; i < need; i++ {
		s := stateTaken
		if i < need-1 {
			s |= hasNextBit
		}

		h.table[start+i] = s
	}

	return h.base + uint32(start)*BlockSize, nil
}

// Zalloc allocates like Malloc but zeroes the returned region.
func (h *Heap) Zalloc(size uint32) (uint32, error) {
	addr, err := h.Malloc(size)
	if err != nil {
		return 0, err
	}

	zero := make([]byte, size)
	if len(zero) == 0 {
		zero = make([]byte, BlockSize)
	}

	h.mem.WriteAt(zero, addr)

	return addr, nil
}

func (h *Heap) firstFitRun(need int) (int, bool) {
	run := 0

	for i := 0; i <= len(h.table)-need; i++ {
		if !h.table[i].isFree() {
			run = 0
			continue
		}

		run++
		if run == need {
			return i - need + 1, true
		}
	}

	return 0, false
}

// Free reclaims the run starting at ptr, walking continuation blocks until
// one without hasNext is reached. It is an error to free an address that
// isn't the head of a run (InvalidArg), matching the syscall-level
// requirement that free reject pointers the caller didn't receive from
// malloc.
func (h *Heap) Free(ptr uint32) error {
	if ptr < h.base || (ptr-h.base)%BlockSize != 0 {
		return fmt.Errorf("%w: unaligned or out-of-range pointer %#x", kerrors.ErrInvalidArg, ptr)
	}

	idx := int((ptr - h.base) / BlockSize)
	if idx >= len(h.table) || h.table[idx].isFree() {
		return fmt.Errorf("%w: pointer %#x not allocated", kerrors.ErrInvalidArg, ptr)
	}

	// A block whose predecessor has hasNext set is a continuation, not a head.
	if idx > 0 && h.table[idx-1].hasNext() {
		return fmt.Errorf("%w: pointer %#x is not the head of a run", kerrors.ErrInvalidArg, ptr)
	}

	for {
		cont := h.table[idx].hasNext()
		h.table[idx] = stateFree

		if !cont {
			break
		}

		idx++
	}

	return nil
}

// TakenBlocks reports the number of blocks currently marked taken, used by
// tests asserting the no-leak property across a process lifecycle.
func (h *Heap) TakenBlocks() int {
	n := 0

	for _, s := range h.table {
		if !s.isFree() {
			n++
		}
	}

	return n
}
