package process

import (
	"fmt"

	"github.com/skyos/kernel/internal/idt"
	"github.com/skyos/kernel/internal/kerrors"
	"github.com/skyos/kernel/internal/paging"
)

// Scheduler is the task ring: a circular doubly linked list of resident
// tasks plus the currently running one. Scheduling is cooperative only —
// Next is called exclusively from the exit syscall and from tests, never
// preemptively from a PIT tick.
type Scheduler struct {
	head, Current *Task
}

// NewScheduler creates an empty ring.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Add inserts t into the ring. The first task added becomes the ring's
// head.
func (s *Scheduler) Add(t *Task) {
	if s.head == nil {
		t.next, t.prev = t, t
		s.head = t

		return
	}

	last := s.head.prev
	t.next = s.head
	t.prev = last
	last.next = t
	s.head.prev = t
}

// Remove unlinks t from the ring. If t was Current, Current is left nil;
// the caller is expected to call Next afterward.
func (s *Scheduler) Remove(t *Task) {
	if t.next == t {
		s.head = nil
	} else {
		t.prev.next = t.next
		t.next.prev = t.prev

		if s.head == t {
			s.head = t.next
		}
	}

	t.next, t.prev = nil, nil

	if s.Current == t {
		s.Current = nil
	}
}

// RunFirstEver loads the ring's head as Current and returns its register
// frame, the frame the caller "IRET"s to resume it.
func (s *Scheduler) RunFirstEver() (*idt.Frame, error) {
	if s.head == nil {
		return nil, fmt.Errorf("%w: scheduler ring is empty", kerrors.ErrNotFound)
	}

	s.Current = s.head
	paging.Switch(s.Current.Process.Directory)

	return &s.Current.Frame, nil
}

// Next advances Current to the next task in the ring and returns its
// register frame. It is an error to call Next on an empty ring.
func (s *Scheduler) Next() (*idt.Frame, error) {
	if s.Current == nil {
		return s.RunFirstEver()
	}

	next := s.Current.next
	if next == nil {
		return nil, fmt.Errorf("%w: scheduler ring is empty", kerrors.ErrNotFound)
	}

	s.Current = next
	paging.Switch(s.Current.Process.Directory)

	return &s.Current.Frame, nil
}
