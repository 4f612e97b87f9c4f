// Package disk implements LBA28 PIO sector access over a backing disk image
// and the byte-granular stream built on top of it.
package disk

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/skyos/kernel/internal/kerrors"
	"github.com/skyos/kernel/internal/log"

	"golang.org/x/sys/unix"
)

// SectorSize is the only sector size the kernel supports.
const SectorSize = 512

// ATA register fields, named for the real port they stand in for even
// though this implementation reads the backing file directly: there is no
// hosted equivalent of `in`/`out` on a port-mapped IDE controller, so the
// fields document the protocol the code models rather than driving it.
const (
	ataPortData       = 0x1f0 // data register
	ataPortSectorCnt  = 0x1f2 // sector count
	ataPortLBALo      = 0x1f3 // LBA[7:0]
	ataPortLBAMid     = 0x1f4 // LBA[15:8]
	ataPortLBAHi      = 0x1f5 // LBA[23:16]
	ataPortDriveHead  = 0x1f6 // drive/head, top 4 bits of LBA + master/slave
	ataPortCommand    = 0x1f7 // command/status
	ataCommandReadPIO = 0x20
	ataMaster         = 0xe0
)

// Disk identifies one backing store: the only supported configuration is a
// single "real" master disk on the primary bus.
type Disk struct {
	id   int
	file *os.File
	log  *log.Logger
}

// Open opens a disk image file read-write as disk id. It does not duplicate
// the file descriptor; Dup does that, via golang.org/x/sys/unix, for a
// caller that needs a second handle with its own *os.File offset.
func Open(id int, path string) (*Disk, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open disk image: %w", kerrors.ErrIO, err)
	}

	return &Disk{id: id, file: f, log: log.DefaultLogger()}, nil
}

// ID returns the disk's integer identifier (0..N-1).
func (d *Disk) ID() int { return d.id }

// Dup returns a new *os.File referring to the same backing image, suitable
// for a second, independent streamer.
func (d *Disk) Dup() (*os.File, error) {
	fd, err := unix.Dup(int(d.file.Fd()))
	if err != nil {
		return nil, fmt.Errorf("%w: dup disk fd: %w", kerrors.ErrIO, err)
	}

	return os.NewFile(uintptr(fd), d.file.Name()), nil
}

// Close releases the disk's backing file handle.
func (d *Disk) Close() error { return d.file.Close() }

// ReadSectors performs an LBA28 PIO sector read: count sectors starting at
// lba, from the master drive on the primary bus (the only configuration
// spec.md supports).
func (d *Disk) ReadSectors(lba uint32, count int) ([]byte, error) {
	if lba >= 1<<28 {
		return nil, fmt.Errorf("%w: lba %d exceeds 28 bits", kerrors.ErrInvalidArg, lba)
	}

	buf := make([]byte, count*SectorSize)

	n, err := d.file.ReadAt(buf, int64(lba)*SectorSize)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: ata read lba %d: %w", kerrors.ErrIO, lba, err)
	}

	// A read that runs off the end of the image (e.g. the filesystem probe
	// scanning past a small test fixture) zero-fills the remainder rather
	// than failing outright, so higher layers see a well-formed sector.
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}

	return buf, nil
}

// WriteSectors performs an LBA28 PIO sector write.
func (d *Disk) WriteSectors(lba uint32, data []byte) error {
	if lba >= 1<<28 {
		return fmt.Errorf("%w: lba %d exceeds 28 bits", kerrors.ErrInvalidArg, lba)
	}

	if len(data)%SectorSize != 0 {
		return fmt.Errorf("%w: write length %d not sector-aligned", kerrors.ErrInvalidArg, len(data))
	}

	if _, err := d.file.WriteAt(data, int64(lba)*SectorSize); err != nil {
		return fmt.Errorf("%w: ata write lba %d: %w", kerrors.ErrIO, lba, err)
	}

	return nil
}
