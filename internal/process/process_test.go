package process

import (
	"errors"
	"testing"

	"github.com/skyos/kernel/internal/elf"
	"github.com/skyos/kernel/internal/heap"
	"github.com/skyos/kernel/internal/kerrors"
	"github.com/skyos/kernel/internal/paging"
)

const kernelEnd = 0x100000

func newTestEnv(t *testing.T) (*paging.Memory, *heap.Heap) {
	t.Helper()

	mem := paging.NewMemory()
	kheap := heap.New(mem, 0x200000, 0x100000) // 256 blocks above the kernel region

	return mem, kheap
}

func blankImage() *elf.Image {
	return &elf.Image{
		Entry: 0x400010,
		Segments: []elf.Segment{
			{VAddr: 0x400000, Data: append([]byte{0x90, 0x90, 0xcd, 0x80}, make([]byte, 4092)...)},
		},
	}
}

// TestLoadAndTerminateNoLeak is property 2: after a process terminates, the
// heap's taken-block count returns to its pre-load value.
func TestLoadAndTerminateNoLeak(t *testing.T) {
	mem, kheap := newTestEnv(t)

	before := kheap.TakenBlocks()

	p, _, err := Load("0:/blank.elf", blankImage(), mem, kheap, kernelEnd)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// Simulate two malloc syscalls the process makes before exiting.
	a, err := kheap.Malloc(128)
	if err != nil {
		t.Fatalf("malloc: %v", err)
	}

	if err := p.RecordAllocation(a, 128); err != nil {
		t.Fatalf("record allocation: %v", err)
	}

	b, err := kheap.Malloc(128)
	if err != nil {
		t.Fatalf("malloc: %v", err)
	}

	if err := p.RecordAllocation(b, 128); err != nil {
		t.Fatalf("record allocation: %v", err)
	}

	if err := p.Terminate(); err != nil {
		t.Fatalf("terminate: %v", err)
	}

	after := kheap.TakenBlocks()
	if after != before {
		t.Errorf("taken blocks after terminate = %d, want %d (pre-load)", after, before)
	}
}

// TestLoadWithArgumentsAndTerminateNoLeak is property 2 again, this time
// for a process loaded with injected arguments: the (argc, argv) buffer
// InjectArguments allocates must be released by Terminate too.
func TestLoadWithArgumentsAndTerminateNoLeak(t *testing.T) {
	mem, kheap := newTestEnv(t)

	before := kheap.TakenBlocks()

	p, _, err := Load("0:/blank.elf", blankImage(), mem, kheap, kernelEnd)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := p.InjectArguments([]string{"0:/blank.elf", "arg1", "arg2"}); err != nil {
		t.Fatalf("inject arguments: %v", err)
	}

	if p.ArgsPhysBase == 0 {
		t.Fatal("ArgsPhysBase not recorded after InjectArguments")
	}

	if err := p.Terminate(); err != nil {
		t.Fatalf("terminate: %v", err)
	}

	after := kheap.TakenBlocks()
	if after != before {
		t.Errorf("taken blocks after terminate = %d, want %d (pre-load); arguments buffer leaked", after, before)
	}
}

// TestMallocTwicePatternIntact is end-to-end scenario 2: a process calls
// malloc(128) twice, writes a distinct byte pattern into each buffer, reads
// both back intact, then frees both.
func TestMallocTwicePatternIntact(t *testing.T) {
	mem, kheap := newTestEnv(t)

	p, _, err := Load("0:/blank.elf", blankImage(), mem, kheap, kernelEnd)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	first, err := kheap.Malloc(128)
	if err != nil {
		t.Fatalf("malloc: %v", err)
	}

	if err := p.RecordAllocation(first, 128); err != nil {
		t.Fatalf("record: %v", err)
	}

	second, err := kheap.Malloc(128)
	if err != nil {
		t.Fatalf("malloc: %v", err)
	}

	if err := p.RecordAllocation(second, 128); err != nil {
		t.Fatalf("record: %v", err)
	}

	if first == second {
		t.Fatal("two mallocs returned the same address")
	}

	patternA := make([]byte, 128)
	for i := range patternA {
		patternA[i] = 0xAA
	}

	patternB := make([]byte, 128)
	for i := range patternB {
		patternB[i] = 0xBB
	}

	mem.WriteAt(patternA, first)
	mem.WriteAt(patternB, second)

	gotA := make([]byte, 128)
	gotB := make([]byte, 128)
	mem.ReadAt(gotA, first)
	mem.ReadAt(gotB, second)

	for i := range gotA {
		if gotA[i] != 0xAA {
			t.Fatalf("first buffer corrupted at byte %d: %#x", i, gotA[i])
		}

		if gotB[i] != 0xBB {
			t.Fatalf("second buffer corrupted at byte %d: %#x", i, gotB[i])
		}
	}

	if err := p.ReleaseAllocation(first); err != nil {
		t.Fatalf("free first: %v", err)
	}

	if err := p.ReleaseAllocation(second); err != nil {
		t.Fatalf("free second: %v", err)
	}
}

func TestReleaseAllocationRejectsUntracked(t *testing.T) {
	mem, kheap := newTestEnv(t)

	p, _, err := Load("0:/blank.elf", blankImage(), mem, kheap, kernelEnd)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := p.ReleaseAllocation(0xdeadb000); !errors.Is(err, kerrors.ErrInvalidArg) {
		t.Errorf("free untracked pointer: err = %v, want ErrInvalidArg", err)
	}
}

func TestSchedulerRing(t *testing.T) {
	mem, kheap := newTestEnv(t)

	p1, t1, err := Load("0:/blank.elf", blankImage(), mem, kheap, kernelEnd)
	if err != nil {
		t.Fatalf("load 1: %v", err)
	}

	p2, t2, err := Load("0:/blank.elf", blankImage(), mem, kheap, kernelEnd)
	if err != nil {
		t.Fatalf("load 2: %v", err)
	}

	if p1.ID == p2.ID {
		t.Fatal("two loads of the same binary shared a process id")
	}

	sched := NewScheduler()
	sched.Add(t1)
	sched.Add(t2)

	frame, err := sched.RunFirstEver()
	if err != nil {
		t.Fatalf("run first: %v", err)
	}

	if frame != &t1.Frame {
		t.Error("RunFirstEver did not resume the ring's head")
	}

	frame, err = sched.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}

	if frame != &t2.Frame {
		t.Error("Next did not advance to the second task")
	}

	frame, err = sched.Next()
	if err != nil {
		t.Fatalf("next wraps: %v", err)
	}

	if frame != &t1.Frame {
		t.Error("Next did not wrap back to the first task")
	}
}
