package syscall

import (
	"testing"

	"github.com/skyos/kernel/internal/cpu"
	"github.com/skyos/kernel/internal/elf"
	"github.com/skyos/kernel/internal/heap"
	"github.com/skyos/kernel/internal/idt"
	"github.com/skyos/kernel/internal/paging"
	"github.com/skyos/kernel/internal/process"
)

const kernelEnd = 0x100000

type fakeConsole struct {
	buf []byte
}

func (c *fakeConsole) WriteByte(b byte) error {
	c.buf = append(c.buf, b)
	return nil
}

type fakeKeyboard struct {
	keys map[int][]byte
}

func (k *fakeKeyboard) ReadKey(pid int) (byte, bool) {
	q := k.keys[pid]
	if len(q) == 0 {
		return 0, false
	}

	k.keys[pid] = q[1:]

	return q[0], true
}

func blankImage() *elf.Image {
	return &elf.Image{
		Entry: 0x400010,
		Segments: []elf.Segment{
			{VAddr: 0x400000, Data: make([]byte, 4096)},
		},
	}
}

func newTestTable(t *testing.T) (*Table, *paging.Memory, *heap.Heap, *process.Task) {
	t.Helper()

	mem := paging.NewMemory()
	kheap := heap.New(mem, 0x200000, 0x100000)
	kernelDir := paging.New4GB(mem, paging.Present|paging.Writable)

	_, task, err := process.Load("0:/blank.elf", blankImage(), mem, kheap, kernelEnd)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	sched := process.NewScheduler()
	sched.Add(task)
	sched.Current = task

	tbl := NewTable()
	tbl.Heap = kheap
	tbl.KernelDir = kernelDir
	tbl.Scheduler = sched
	tbl.Console = &fakeConsole{}
	tbl.Keyboard = &fakeKeyboard{keys: map[int][]byte{}}
	tbl.Loader = func(path string, args []string) (*process.Process, *process.Task, error) {
		p, newTask, err := process.Load(path, blankImage(), mem, kheap, kernelEnd)
		if err != nil {
			return nil, nil, err
		}

		if len(args) > 0 {
			if err := p.InjectArguments(args); err != nil {
				return nil, nil, err
			}
		}

		return p, newTask, nil
	}

	return tbl, mem, kheap, task
}

// TestDispatchPreservesRegistersExceptEAX is property 5.
func TestDispatchPreservesRegistersExceptEAX(t *testing.T) {
	tbl, _, _, task := newTestTable(t)

	frame := &idt.Frame{}
	frame.EAX = cpu.Word(Sum)
	frame.EBX = 3
	frame.ECX = 4
	frame.EDX = 0xdeadbeef
	frame.ESI = 0x11
	frame.EDI = 0x22

	want := *frame

	if err := tbl.Dispatch(task, frame); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if int32(frame.EAX) != 7 {
		t.Errorf("sum result = %d, want 7", int32(frame.EAX))
	}

	want.EAX = frame.EAX
	if *frame != want {
		t.Errorf("registers changed beyond EAX: got %+v, want %+v", *frame, want)
	}
}

func TestDispatchUnknownCommandReturnsZero(t *testing.T) {
	tbl, _, _, task := newTestTable(t)

	frame := &idt.Frame{}
	frame.EAX = cpu.Word(999)

	if err := tbl.Dispatch(task, frame); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if frame.EAX != 0 {
		t.Errorf("unknown command EAX = %d, want 0", frame.EAX)
	}
}

// TestPrintAfterInvokeSystemCommand is end-to-end scenario 3: a process
// invoked via invoke_system_command later calls print, and the console
// observes the printed bytes.
func TestPrintAfterInvokeSystemCommand(t *testing.T) {
	tbl, mem, _, task := newTestTable(t)

	argvVirt := uint32(process.ProgramVirtualAddress + 0x1000)
	writeArgv(t, task.Process, mem, argvVirt, []string{"0:/blank.elf", "Testing!"})

	frame := &idt.Frame{}
	frame.EAX = cpu.Word(InvokeSystemCommand)
	frame.EBX = cpu.Word(argvVirt)

	if err := tbl.Dispatch(task, frame); err != nil {
		t.Fatalf("dispatch invoke_system_command: %v", err)
	}

	if int32(frame.EAX) <= 0 {
		t.Fatalf("invoke_system_command returned non-positive pid: %d", int32(frame.EAX))
	}

	newTask := tbl.Scheduler.Current
	if newTask == task {
		t.Fatal("scheduler.Current did not change")
	}

	msgVirt := uint32(process.ProgramVirtualAddress + 0x2000)
	writeCString(t, newTask.Process, mem, msgVirt, "Testing!\n")

	frame2 := &idt.Frame{}
	frame2.EAX = cpu.Word(Print)
	frame2.EBX = cpu.Word(msgVirt)

	if err := tbl.Dispatch(newTask, frame2); err != nil {
		t.Fatalf("dispatch print: %v", err)
	}

	got := string(tbl.Console.(*fakeConsole).buf)
	if got != "Testing!\n" {
		t.Errorf("console buffer = %q, want %q", got, "Testing!\n")
	}
}

// TestCooperativeSchedulingAlternates is end-to-end scenario 4: two
// instances of blank.elf with distinct arguments alternate under
// Scheduler.Next, and each process's argument page reports argc 1.
func TestCooperativeSchedulingAlternates(t *testing.T) {
	_, mem, kheap, _ := newTestTable(t)

	p1, t1, err := process.Load("0:/blank.elf", blankImage(), mem, kheap, kernelEnd)
	if err != nil {
		t.Fatalf("load 1: %v", err)
	}

	if err := p1.InjectArguments([]string{"Testing!"}); err != nil {
		t.Fatalf("inject args 1: %v", err)
	}

	p2, t2, err := process.Load("0:/blank.elf", blankImage(), mem, kheap, kernelEnd)
	if err != nil {
		t.Fatalf("load 2: %v", err)
	}

	if err := p2.InjectArguments([]string{"Abc!"}); err != nil {
		t.Fatalf("inject args 2: %v", err)
	}

	sched := process.NewScheduler()
	sched.Add(t1)
	sched.Add(t2)

	first, err := sched.RunFirstEver()
	if err != nil {
		t.Fatalf("run first: %v", err)
	}

	if first != &t1.Frame {
		t.Fatal("first scheduled task is not t1")
	}

	second, err := sched.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}

	if second != &t2.Frame {
		t.Fatal("second scheduled task is not t2")
	}

	back, err := sched.Next()
	if err != nil {
		t.Fatalf("next wraps: %v", err)
	}

	if back != &t1.Frame {
		t.Fatal("scheduling did not alternate back to t1")
	}

	buf1 := make([]byte, 4)
	if err := p1.Directory.ReadAt(buf1, process.ArgumentsVirtualAddress&^(paging.PageSize-1)); err != nil {
		t.Fatalf("read p1 argc: %v", err)
	}

	buf2 := make([]byte, 4)
	if err := p2.Directory.ReadAt(buf2, process.ArgumentsVirtualAddress&^(paging.PageSize-1)); err != nil {
		t.Fatalf("read p2 argc: %v", err)
	}

	if buf1[0] != 1 || buf2[0] != 1 {
		t.Errorf("argc mismatch: p1=%d p2=%d, want 1 each", buf1[0], buf2[0])
	}
}

// writeArgv writes a sequence of NUL-terminated strings ending with an
// empty string, the argv layout peekArgv expects.
func writeArgv(t *testing.T, p *process.Process, mem *paging.Memory, virt uint32, args []string) {
	t.Helper()

	offset := uint32(0)

	for _, a := range args {
		writeCString(t, p, mem, virt+offset, a)
		offset += uint32(len(a)) + 1
	}

	if err := p.Directory.WriteAt([]byte{0}, virt+offset); err != nil {
		t.Fatalf("write argv terminator: %v", err)
	}
}

func writeCString(t *testing.T, p *process.Process, mem *paging.Memory, virt uint32, s string) {
	t.Helper()

	buf := append([]byte(s), 0)
	if err := p.Directory.WriteAt(buf, virt); err != nil {
		t.Fatalf("write cstring %q at %#x: %v", s, virt, err)
	}
}

