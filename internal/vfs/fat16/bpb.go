// Package fat16 implements a read-only FAT16 filesystem over a disk.Stream:
// BPB parsing, directory traversal, and cluster-chain reads. Write and the
// non-read open modes return ErrUnsupported.
package fat16

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/skyos/kernel/internal/kerrors"
)

// BootSector is the BIOS Parameter Block at the head of a FAT16 volume.
// Field layout follows the standard FAT BPB; reserved FAT32-only fields are
// not present since long file names and FAT32 are both explicitly
// unsupported.
type BootSector struct {
	JumpCode          [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumberOfFATs      uint8
	RootEntryCount    uint16
	TotalSectors16    uint16
	MediaType         uint8
	SectorsPerFAT     uint16
	SectorsPerTrack   uint16
	NumberOfHeads     uint16
	HiddenSectors     uint32
	TotalSectors32    uint32

	// Extended BPB (FAT12/16).
	DriveNumber    uint8
	Reserved1      uint8
	BootSignature  uint8
	VolumeID       uint32
	VolumeLabel    [11]byte
	FileSystemType [8]byte
}

const bootSectorSize = 62 // through FileSystemType; the rest of the 512-byte sector is boot code

// ParseBootSector decodes the first bootSectorSize bytes of sector as a BPB.
func ParseBootSector(sector []byte) (*BootSector, error) {
	if len(sector) < bootSectorSize {
		return nil, fmt.Errorf("%w: boot sector too short: %d bytes", kerrors.ErrInvalidArg, len(sector))
	}

	var bs BootSector
	if err := binary.Read(bytes.NewReader(sector[:bootSectorSize]), binary.LittleEndian, &bs); err != nil {
		return nil, fmt.Errorf("%w: decode boot sector: %w", kerrors.ErrInvalidArg, err)
	}

	return &bs, nil
}

// Signature reports whether the boot sector looks like a FAT16 volume: a
// plausible bytes-per-sector, a non-zero FAT size, and a FAT16-flavored
// filesystem type label. This is the "probe" signature spec.md refers to;
// there is no 0x55AA boot-sector marker check here because that signature
// belongs to the disk's partition boot sector, consumed by the (external)
// boot loader, not by the resident filesystem driver.
func (bs *BootSector) Signature() bool {
	if bs.BytesPerSector != 512 {
		return false
	}

	if bs.SectorsPerFAT == 0 {
		return false
	}

	fsType := bytes.TrimRight(bs.FileSystemType[:], " \x00")

	return bytes.HasPrefix(fsType, []byte("FAT16"))
}

// RootDirSectors returns the number of sectors the fixed-size root
// directory occupies.
func (bs *BootSector) RootDirSectors() uint32 {
	bytesPerSector := uint32(bs.BytesPerSector)
	entries := uint32(bs.RootEntryCount)

	return (entries*32 + bytesPerSector - 1) / bytesPerSector
}

// FirstRootDirSector is the sector offset, from the start of the volume, of
// the first root directory entry.
func (bs *BootSector) FirstRootDirSector() uint32 {
	return uint32(bs.ReservedSectors) + uint32(bs.NumberOfFATs)*uint32(bs.SectorsPerFAT)
}

// FirstDataSector is the sector offset of cluster 2, the first data
// cluster.
func (bs *BootSector) FirstDataSector() uint32 {
	return bs.FirstRootDirSector() + bs.RootDirSectors()
}

// ClusterToSector converts a cluster number to its first sector offset from
// the start of the volume.
func (bs *BootSector) ClusterToSector(cluster uint32) uint32 {
	return bs.FirstDataSector() + (cluster-2)*uint32(bs.SectorsPerCluster)
}

// ClusterBytes is the size in bytes of one cluster.
func (bs *BootSector) ClusterBytes() uint32 {
	return uint32(bs.SectorsPerCluster) * uint32(bs.BytesPerSector)
}

// FAT16 cluster-chain markers.
const (
	clusterFree  = 0x0000
	clusterBad   = 0xfff7
	clusterEOCLo = 0xfff8 // >= this value marks end-of-chain
)
