package disk

import (
	"fmt"

	"github.com/skyos/kernel/internal/kerrors"
)

// Stream is an owning cursor (disk, byte position) that decomposes
// arbitrary-length reads and writes into sector-aligned fetches through a
// private scratch buffer, so callers never observe sector boundaries.
type Stream struct {
	disk    *Disk
	pos     int64
	scratch [SectorSize]byte
}

// NewStream returns a cursor over disk positioned at byte 0.
func NewStream(d *Disk) *Stream {
	return &Stream{disk: d}
}

// Seek sets the absolute byte position.
func (s *Stream) Seek(pos int64) {
	s.pos = pos
}

// Position returns the current byte offset.
func (s *Stream) Position() int64 { return s.pos }

// Read fills buf by reading one sector at a time into the stream's scratch
// buffer and copying the overlapping slice, advancing the cursor by
// len(buf) on success. The cursor position after a failed read is
// unspecified, per spec.
func (s *Stream) Read(buf []byte) error {
	for len(buf) > 0 {
		lba := uint32(s.pos / SectorSize)
		off := int(s.pos % SectorSize)

		sector, err := s.disk.ReadSectors(lba, 1)
		if err != nil {
			return fmt.Errorf("%w: stream read: %w", kerrors.ErrIO, err)
		}

		copy(s.scratch[:], sector)

		n := SectorSize - off
		if n > len(buf) {
			n = len(buf)
		}

		copy(buf[:n], s.scratch[off:off+n])

		buf = buf[n:]
		s.pos += int64(n)
	}

	return nil
}

// Write writes buf starting at the cursor, read-modify-writing any sector
// only partially overlapped by buf.
func (s *Stream) Write(buf []byte) error {
	for len(buf) > 0 {
		lba := uint32(s.pos / SectorSize)
		off := int(s.pos % SectorSize)

		n := SectorSize - off
		if n > len(buf) {
			n = len(buf)
		}

		sector, err := s.disk.ReadSectors(lba, 1)
		if err != nil {
			return fmt.Errorf("%w: stream write: %w", kerrors.ErrIO, err)
		}

		copy(sector[off:off+n], buf[:n])

		if err := s.disk.WriteSectors(lba, sector); err != nil {
			return fmt.Errorf("%w: stream write: %w", kerrors.ErrIO, err)
		}

		buf = buf[n:]
		s.pos += int64(n)
	}

	return nil
}
