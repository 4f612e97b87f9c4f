package vfs

import (
	"fmt"

	"github.com/skyos/kernel/internal/disk"
	"github.com/skyos/kernel/internal/kerrors"
)

// Mode is a file's open mode.
type Mode int

const (
	ModeInvalid Mode = iota
	ModeRead
	ModeWrite
	ModeAppend
)

// Stat describes a resolved file or directory entry.
type Stat struct {
	Size  uint32
	IsDir bool
	Name  string
}

// FileHandle is filesystem-private state for one open descriptor; each
// concrete filesystem defines its own concrete type satisfying this as an
// opaque any, matching the capability-record pattern: the vfs layer never
// inspects it.
type FileHandle any

// Filesystem is a capability record — a struct of function fields, not an
// interface hierarchy — so a filesystem implementation is just a value that
// fills in the operations it supports and leaves the rest nil.
type Filesystem struct {
	Name string

	// Resolve reports whether d holds an instance of this filesystem
	// (e.g. by matching a BPB signature) and, if so, returns filesystem
	// state bound to that disk.
	Resolve func(d *disk.Disk) (bound *Filesystem, ok bool)

	Open  func(path Path, mode Mode) (FileHandle, error)
	Read  func(h FileHandle, buf []byte) (int, error)
	Write func(h FileHandle, buf []byte) (int, error)
	Seek  func(h FileHandle, pos int64) error
	Stat  func(h FileHandle) (Stat, error)
	Close func(h FileHandle) error
}

// Registry holds the ordered list of filesystem descriptors the kernel
// knows about. FAT16 is, today, the only entry.
type Registry struct {
	filesystems []*Filesystem
	bound       map[int]*Filesystem // disk id -> resolved filesystem
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{bound: make(map[int]*Filesystem)}
}

// Register adds a filesystem descriptor to the registry's probe order.
func (r *Registry) Register(fs *Filesystem) {
	r.filesystems = append(r.filesystems, fs)
}

// Resolve tries each registered filesystem against d in registration order;
// the first match wins and is cached for d's id.
func (r *Registry) Resolve(d *disk.Disk) (*Filesystem, error) {
	if fs, ok := r.bound[d.ID()]; ok {
		return fs, nil
	}

	for _, fs := range r.filesystems {
		if bound, ok := fs.Resolve(d); ok {
			r.bound[d.ID()] = bound
			return bound, nil
		}
	}

	return nil, fmt.Errorf("%w: disk %d: no recognized filesystem", kerrors.ErrNotFound, d.ID())
}

// Bound returns the filesystem previously resolved for a disk id, if any.
func (r *Registry) Bound(diskID int) (*Filesystem, bool) {
	fs, ok := r.bound[diskID]
	return fs, ok
}
