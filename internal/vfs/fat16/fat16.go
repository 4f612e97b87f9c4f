package fat16

import (
	"fmt"

	"github.com/skyos/kernel/internal/disk"
	"github.com/skyos/kernel/internal/kerrors"
	"github.com/skyos/kernel/internal/log"
	"github.com/skyos/kernel/internal/vfs"
)

// FS is a resolved FAT16 volume's in-memory private data: the BPB, the
// absolute byte offsets of the root directory and data region, and an
// allocator of descriptor-private cursors.
type FS struct {
	disk   *disk.Disk
	stream *disk.Stream
	bpb    *BootSector

	rootDirByteOffset uint32
	dataByteOffset    uint32

	log *log.Logger
}

// descriptorPrivate is the filesystem-private state behind a vfs.Descriptor:
// the cluster chain head and the caller's current byte offset into the
// file, matching spec.md's "(cluster_chain_head, byte_offset_within_file)".
type descriptorPrivate struct {
	startCluster uint32
	size         uint32
	offset       uint32
	isDir        bool
}

// Resolve probes d's first sector for a FAT16 signature and, if it matches,
// returns a bound vfs.Filesystem backed by a fresh FS.
func Resolve(d *disk.Disk) (*vfs.Filesystem, bool) {
	sector, err := d.ReadSectors(0, 1)
	if err != nil {
		return nil, false
	}

	bpb, err := ParseBootSector(sector)
	if err != nil || !bpb.Signature() {
		return nil, false
	}

	fs := &FS{
		disk:   d,
		stream: disk.NewStream(d),
		bpb:    bpb,
		log:    log.DefaultLogger(),
	}

	fs.rootDirByteOffset = fs.bpb.FirstRootDirSector() * disk.SectorSize
	fs.dataByteOffset = fs.bpb.FirstDataSector() * disk.SectorSize

	return fs.bind(), true
}

// bind wraps fs in the vfs capability record.
func (fs *FS) bind() *vfs.Filesystem {
	return &vfs.Filesystem{
		Name: "fat16",
		Resolve: func(d *disk.Disk) (*vfs.Filesystem, bool) {
			// Already bound to a disk; re-resolving against the same disk
			// is idempotent, any other disk is not this filesystem.
			if d == fs.disk {
				return fs.bind(), true
			}

			return Resolve(d)
		},
		Open: func(path vfs.Path, mode vfs.Mode) (vfs.FileHandle, error) {
			return fs.Open(path, mode)
		},
		Read: func(h vfs.FileHandle, buf []byte) (int, error) {
			return fs.Read(h.(*descriptorPrivate), buf)
		},
		Write: func(h vfs.FileHandle, buf []byte) (int, error) {
			return fs.Write(h.(*descriptorPrivate), buf)
		},
		Seek: func(h vfs.FileHandle, pos int64) error {
			return fs.Seek(h.(*descriptorPrivate), pos)
		},
		Stat: func(h vfs.FileHandle) (vfs.Stat, error) {
			return fs.Stat(h.(*descriptorPrivate))
		},
		Close: func(h vfs.FileHandle) error {
			return nil // no per-descriptor kernel resources to release
		},
	}
}

// readRootDir loads the fixed-size root directory's entries.
func (fs *FS) readRootDir() ([]DirEntry, error) {
	n := int(fs.bpb.RootEntryCount)
	buf := make([]byte, n*dirEntrySize)

	fs.stream.Seek(int64(fs.rootDirByteOffset))
	if err := fs.stream.Read(buf); err != nil {
		return nil, fmt.Errorf("%w: read root directory: %w", kerrors.ErrIO, err)
	}

	return decodeEntries(buf), nil
}

// readDir loads all entries of the subdirectory starting at cluster,
// following its cluster chain.
func (fs *FS) readDir(cluster uint32) ([]DirEntry, error) {
	data, err := fs.readClusterChain(cluster, 0)
	if err != nil {
		return nil, err
	}

	return decodeEntries(data), nil
}

func decodeEntries(buf []byte) []DirEntry {
	var entries []DirEntry

	for off := 0; off+dirEntrySize <= len(buf); off += dirEntrySize {
		e := DecodeDirEntry(buf[off : off+dirEntrySize])
		if e.End() {
			break
		}

		if e.Free() {
			continue
		}

		entries = append(entries, e)
	}

	return entries
}

// readClusterChain reads the full contents (or, if maxBytes > 0, up to
// maxBytes) of the cluster chain starting at startCluster.
func (fs *FS) readClusterChain(startCluster uint32, maxBytes uint32) ([]byte, error) {
	var out []byte

	cluster := startCluster

	for cluster != 0 && cluster < clusterEOCLo && cluster != clusterBad {
		offset := fs.dataByteOffset + (cluster-2)*fs.bpb.ClusterBytes()

		buf := make([]byte, fs.bpb.ClusterBytes())

		fs.stream.Seek(int64(offset))
		if err := fs.stream.Read(buf); err != nil {
			return nil, fmt.Errorf("%w: read cluster %d: %w", kerrors.ErrIO, cluster, err)
		}

		out = append(out, buf...)

		if maxBytes > 0 && uint32(len(out)) >= maxBytes {
			return out[:maxBytes], nil
		}

		next, err := fs.fatEntry(cluster)
		if err != nil {
			return nil, err
		}

		cluster = next
	}

	return out, nil
}

// fatEntry reads the FAT16 table entry for cluster, the next link in its
// chain (or an end-of-chain/free/bad marker).
func (fs *FS) fatEntry(cluster uint32) (uint32, error) {
	fatByteOffset := uint32(fs.bpb.ReservedSectors)*disk.SectorSize + cluster*2

	buf := make([]byte, 2)

	fs.stream.Seek(int64(fatByteOffset))
	if err := fs.stream.Read(buf); err != nil {
		return 0, fmt.Errorf("%w: read fat entry for cluster %d: %w", kerrors.ErrIO, cluster, err)
	}

	return uint32(buf[0]) | uint32(buf[1])<<8, nil
}

// findEntry looks up name within a directory listing, case-insensitively
// against the 8.3 name.
func findEntry(listing []DirEntry, name string) (DirEntry, bool) {
	for _, e := range listing {
		if matches8dot3(name, e) {
			return e, true
		}
	}

	return DirEntry{}, false
}

// Open resolves path by traversing the directory chain from the root,
// matching each component case-insensitively, and allocates a descriptor
// cursor. Only vfs.ModeRead is implemented; other modes — and writing to an
// existing file, which FAT16 here never extends — return ErrUnsupported.
//
// TODO: write-mode fopen needs a mode-table entry plus FAT chain
// allocation/extension; neither exists yet, so ModeWrite/ModeAppend are
// recognized values that always fail.
func (fs *FS) Open(path vfs.Path, mode vfs.Mode) (vfs.FileHandle, error) {
	if mode != vfs.ModeRead {
		return nil, fmt.Errorf("%w: fat16: mode %v not implemented", kerrors.ErrUnsupported, mode)
	}

	listing, err := fs.readRootDir()
	if err != nil {
		return nil, err
	}

	if len(path.Parts) == 0 {
		return nil, fmt.Errorf("%w: empty path", kerrors.ErrInvalidArg)
	}

	var entry DirEntry

	for i, part := range path.Parts {
		found, ok := findEntry(listing, part)
		if !ok {
			return nil, fmt.Errorf("%w: %s", kerrors.ErrNotFound, path)
		}

		entry = found
		last := i == len(path.Parts)-1

		if !last {
			if !entry.IsDir() {
				return nil, fmt.Errorf("%w: %s: not a directory", kerrors.ErrInvalidArg, part)
			}

			listing, err = fs.readDir(entry.Cluster())
			if err != nil {
				return nil, err
			}
		}
	}

	if entry.IsDir() {
		return nil, fmt.Errorf("%w: %s: is a directory", kerrors.ErrInvalidArg, path)
	}

	return &descriptorPrivate{
		startCluster: entry.Cluster(),
		size:         entry.FileSize,
		offset:       0,
	}, nil
}

// Read reads up to len(buf) bytes starting at the descriptor's current
// offset, advancing it, and returns the truncated count at EOF rather than
// an error.
func (fs *FS) Read(d *descriptorPrivate, buf []byte) (int, error) {
	if d.offset >= d.size {
		return 0, nil
	}

	remaining := d.size - d.offset
	want := uint32(len(buf))

	if want > remaining {
		want = remaining
	}

	data, err := fs.readClusterChain(d.startCluster, d.offset+want)
	if err != nil {
		return 0, err
	}

	if uint32(len(data)) < d.offset {
		return 0, nil
	}

	n := copy(buf, data[d.offset:])
	d.offset += uint32(n)

	return n, nil
}

// Write is always ErrUnsupported; see Open's TODO.
func (fs *FS) Write(d *descriptorPrivate, buf []byte) (int, error) {
	return 0, fmt.Errorf("%w: fat16: write", kerrors.ErrUnsupported)
}

// Seek sets the descriptor's byte offset.
func (fs *FS) Seek(d *descriptorPrivate, pos int64) error {
	if pos < 0 {
		return fmt.Errorf("%w: negative seek", kerrors.ErrInvalidArg)
	}

	d.offset = uint32(pos)

	return nil
}

// Stat reports the descriptor's size.
func (fs *FS) Stat(d *descriptorPrivate) (vfs.Stat, error) {
	return vfs.Stat{Size: d.size, IsDir: d.isDir}, nil
}
