package vfs

import (
	"fmt"

	"github.com/skyos/kernel/internal/kerrors"
)

// MaxDescriptors bounds the kernel's file descriptor table. Index 0 is
// reserved (never handed out); indices 1..MaxDescriptors are dense.
const MaxDescriptors = 512

// Descriptor is (index, filesystem, private, mode). Its filesystem pointer
// is stable for the descriptor's lifetime.
type Descriptor struct {
	Index      int
	Filesystem *Filesystem
	Private    FileHandle
	Mode       Mode
}

// Table is the kernel's singleton, fixed-size open-file table.
type Table struct {
	slots [MaxDescriptors + 1]*Descriptor
}

// NewTable creates an empty descriptor table.
func NewTable() *Table {
	return &Table{}
}

// Open installs a new descriptor for an already-opened file handle and
// returns it. It fails with ErrBusy if the table is full.
func (t *Table) Open(fs *Filesystem, h FileHandle, mode Mode) (*Descriptor, error) {
	for i := 1; i <= MaxDescriptors; i++ {
		if t.slots[i] == nil {
			d := &Descriptor{Index: i, Filesystem: fs, Private: h, Mode: mode}
			t.slots[i] = d

			return d, nil
		}
	}

	return nil, fmt.Errorf("%w: file descriptor table full", kerrors.ErrBusy)
}

// Get returns the descriptor at index, or ErrInvalidArg if the slot is
// unused.
func (t *Table) Get(index int) (*Descriptor, error) {
	if index <= 0 || index > MaxDescriptors || t.slots[index] == nil {
		return nil, fmt.Errorf("%w: bad file descriptor %d", kerrors.ErrInvalidArg, index)
	}

	return t.slots[index], nil
}

// Close clears the slot for index, after invoking the filesystem's Close
// hook against the descriptor's private handle.
func (t *Table) Close(index int) error {
	d, err := t.Get(index)
	if err != nil {
		return err
	}

	if d.Filesystem.Close != nil {
		if err := d.Filesystem.Close(d.Private); err != nil {
			return err
		}
	}

	t.slots[index] = nil

	return nil
}
