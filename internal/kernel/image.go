package kernel

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/skyos/kernel/internal/disk"
	"github.com/skyos/kernel/internal/kerrors"
	"github.com/skyos/kernel/internal/vfs/fat16"
)

// Disk image layout, fixed by convention: boot sector at LBA 0, the flat
// kernel image starting at LBA 1, and a FAT16 volume starting at LBA 200.
const (
	BootSectorLBA        = 0
	KernelImageStartLBA  = 1
	KernelImageMaxLBA    = 199 // sectors 1..199 are reserved for the kernel image
	FAT16StartLBA        = 200
	FAT16SizeBytes       = 15 * 1024 * 1024
	FAT16TotalSectors    = FAT16SizeBytes / disk.SectorSize
	FAT16ReservedSectors = 200
	FAT16SectorsPerFAT   = 119 // covers FAT16TotalSectors-FAT16ReservedSectors-rootDirSectors 1-sector clusters
	FAT16RootEntryCount  = 512
	FAT16NumberOfFATs    = 2
	FAT16VolumeLabel     = "SKYOS"

	bootSignatureOffset = 510
)

// WriteImage lays out bootSector, kernelImage, and an empty FAT16 volume on
// w exactly per spec.md's disk image format. kernelImage must fit within the
// sectors reserved for it (1..199).
func WriteImage(w io.WriterAt, bootSector, kernelImage []byte) error {
	if len(bootSector) != disk.SectorSize {
		return fmt.Errorf("%w: boot sector must be %d bytes, got %d", kerrors.ErrInvalidArg, disk.SectorSize, len(bootSector))
	}

	sectors := (len(kernelImage) + disk.SectorSize - 1) / disk.SectorSize
	if sectors > KernelImageMaxLBA {
		return fmt.Errorf("%w: kernel image needs %d sectors, only %d reserved", kerrors.ErrInvalidArg, sectors, KernelImageMaxLBA)
	}

	if _, err := w.WriteAt(bootSector, BootSectorLBA*disk.SectorSize); err != nil {
		return fmt.Errorf("%w: write boot sector: %w", kerrors.ErrIO, err)
	}

	if len(kernelImage) > 0 {
		if _, err := w.WriteAt(kernelImage, KernelImageStartLBA*disk.SectorSize); err != nil {
			return fmt.Errorf("%w: write kernel image: %w", kerrors.ErrIO, err)
		}
	}

	bpb := buildFAT16BPB()
	if _, err := w.WriteAt(bpb, FAT16StartLBA*disk.SectorSize); err != nil {
		return fmt.Errorf("%w: write fat16 bpb: %w", kerrors.ErrIO, err)
	}

	// Zero-extend the image to its full advertised size so later sector
	// reads past the BPB (FAT table, root directory, data region) see
	// well-formed zeroed space rather than a short file.
	tail := (FAT16StartLBA + FAT16TotalSectors) * disk.SectorSize
	if _, err := w.WriteAt([]byte{0}, int64(tail)-1); err != nil {
		return fmt.Errorf("%w: extend image to full size: %w", kerrors.ErrIO, err)
	}

	return nil
}

// Layout is what ReadImageLayout recovers from a disk image: the raw boot
// sector and whether each region's signature checks out.
type Layout struct {
	BootSector    [disk.SectorSize]byte
	BootSignature bool
	FAT16Present  bool
}

// ReadImageLayout reads back the regions WriteImage lays out, validating
// the boot sector's 0x55AA marker and the FAT16 volume's BPB signature.
func ReadImageLayout(r io.ReaderAt) (*Layout, error) {
	var layout Layout

	if _, err := r.ReadAt(layout.BootSector[:], BootSectorLBA*disk.SectorSize); err != nil {
		return nil, fmt.Errorf("%w: read boot sector: %w", kerrors.ErrIO, err)
	}

	layout.BootSignature = layout.BootSector[bootSignatureOffset] == 0x55 && layout.BootSector[bootSignatureOffset+1] == 0xAA

	fat16Sector := make([]byte, disk.SectorSize)
	if _, err := r.ReadAt(fat16Sector, FAT16StartLBA*disk.SectorSize); err != nil {
		return nil, fmt.Errorf("%w: read fat16 bpb: %w", kerrors.ErrIO, err)
	}

	if bpb, err := fat16.ParseBootSector(fat16Sector); err == nil {
		layout.FAT16Present = bpb.Signature()
	}

	return &layout, nil
}

// buildFAT16BPB encodes the fixed BPB WriteImage lays down at FAT16StartLBA:
// 512 bytes/sector, 1 sector/cluster, 200 reserved sectors, volume label
// SKYOS, matching spec.md §6 exactly.
func buildFAT16BPB() []byte {
	bs := fat16BootSectorFields{
		BytesPerSector:    disk.SectorSize,
		SectorsPerCluster: 1,
		ReservedSectors:   FAT16ReservedSectors,
		NumberOfFATs:      FAT16NumberOfFATs,
		RootEntryCount:    FAT16RootEntryCount,
		TotalSectors16:    FAT16TotalSectors,
		MediaType:         0xf8,
		SectorsPerFAT:     FAT16SectorsPerFAT,
		BootSignature:     0x29,
	}

	copy(bs.VolumeLabel[:], FAT16VolumeLabel)
	for i := len(FAT16VolumeLabel); i < len(bs.VolumeLabel); i++ {
		bs.VolumeLabel[i] = ' '
	}

	copy(bs.FileSystemType[:], "FAT16")
	for i := len("FAT16"); i < len(bs.FileSystemType); i++ {
		bs.FileSystemType[i] = ' '
	}

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, bs)

	sector := make([]byte, disk.SectorSize)
	copy(sector, buf.Bytes())
	sector[bootSignatureOffset] = 0x55
	sector[bootSignatureOffset+1] = 0xAA

	return sector
}

// fat16BootSectorFields mirrors fat16.BootSector's on-disk layout; kept as a
// private duplicate here rather than exporting fat16.BootSector's fields for
// construction, since the image builder only ever writes this shape, never
// reads it back through the fat16 package's own parser's internals.
type fat16BootSectorFields struct {
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

	DriveNumber    uint8
	Reserved1      uint8
	BootSignature  uint8
	VolumeID       uint32
	VolumeLabel    [11]byte
	FileSystemType [8]byte
}
