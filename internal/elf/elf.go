// Package elf loads 32-bit little-endian ET_EXEC binaries (the only kind
// spec.md's userland programs come as) into kernel-owned buffers ready to be
// mapped into a process's address space.
package elf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/skyos/kernel/internal/kerrors"
)

const (
	magic0, magic1, magic2, magic3 = 0x7f, 'E', 'L', 'F'

	classELF32 = 1
	dataLSB    = 1

	etExec = 2
	emI386 = 3

	ptLoad = 1
)

// header32 is the ELF32 file header, field order and widths per the ELF
// specification.
type header32 struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint32
	PHOff     uint32
	SHOff     uint32
	Flags     uint32
	EHSize    uint16
	PHEntSize uint16
	PHNum     uint16
	SHEntSize uint16
	SHNum     uint16
	SHStrNdx  uint16
}

// programHeader32 is one ELF32 program header (PT_LOAD is the only type this
// loader acts on; others are skipped).
type programHeader32 struct {
	Type   uint32
	Offset uint32
	VAddr  uint32
	PAddr  uint32
	FileSz uint32
	MemSz  uint32
	Flags  uint32
	Align  uint32
}

// Segment is one PT_LOAD segment's loaded bytes at its link-time virtual
// address. Data is exactly MemSz long: the file image followed by
// zero-filled bss, matching spec.md's "p_memsz - p_filesz left zeroed".
type Segment struct {
	VAddr uint32
	Data  []byte
}

// Image is a fully loaded executable: its PT_LOAD segments and entry point,
// ready for a process to map into a fresh address space.
type Image struct {
	Entry    uint32
	Segments []Segment
}

// LoadExec parses r as an ELF32 ET_EXEC/EM_386 binary and reads every
// PT_LOAD segment into memory. Anything other than 32-bit, little-endian,
// executable, i386 is rejected with ErrInvalidArg rather than partially
// loaded.
func LoadExec(r io.ReaderAt) (*Image, error) {
	var hdr header32

	hdrBuf := make([]byte, binary.Size(hdr))
	if _, err := io.ReadFull(io.NewSectionReader(r, 0, int64(len(hdrBuf))), hdrBuf); err != nil {
		return nil, fmt.Errorf("%w: read elf header: %w", kerrors.ErrInvalidArg, err)
	}

	if err := binary.Read(bytes.NewReader(hdrBuf), binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("%w: decode elf header: %w", kerrors.ErrInvalidArg, err)
	}

	if hdr.Ident[0] != magic0 || hdr.Ident[1] != magic1 || hdr.Ident[2] != magic2 || hdr.Ident[3] != magic3 {
		return nil, fmt.Errorf("%w: not an elf file", kerrors.ErrInvalidArg)
	}

	if hdr.Ident[4] != classELF32 {
		return nil, fmt.Errorf("%w: elf class %d, want ELFCLASS32", kerrors.ErrInvalidArg, hdr.Ident[4])
	}

	if hdr.Ident[5] != dataLSB {
		return nil, fmt.Errorf("%w: elf data encoding %d, want little-endian", kerrors.ErrInvalidArg, hdr.Ident[5])
	}

	if hdr.Type != etExec {
		return nil, fmt.Errorf("%w: elf type %d, want ET_EXEC", kerrors.ErrInvalidArg, hdr.Type)
	}

	if hdr.Machine != emI386 {
		return nil, fmt.Errorf("%w: elf machine %d, want EM_386", kerrors.ErrInvalidArg, hdr.Machine)
	}

	img := &Image{Entry: hdr.Entry}

	phSize := int64(hdr.PHEntSize)
	if phSize == 0 {
		phSize = int64(binary.Size(programHeader32{}))
	}

	for i := 0; i < int(hdr.PHNum); i++ {
		phOff := int64(hdr.PHOff) + int64(i)*phSize

		phBuf := make([]byte, binary.Size(programHeader32{}))
		if _, err := io.ReadFull(io.NewSectionReader(r, phOff, int64(len(phBuf))), phBuf); err != nil {
			return nil, fmt.Errorf("%w: read program header %d: %w", kerrors.ErrInvalidArg, i, err)
		}

		var ph programHeader32
		if err := binary.Read(bytes.NewReader(phBuf), binary.LittleEndian, &ph); err != nil {
			return nil, fmt.Errorf("%w: decode program header %d: %w", kerrors.ErrInvalidArg, i, err)
		}

		if ph.Type != ptLoad {
			continue
		}

		if ph.MemSz < ph.FileSz {
			return nil, fmt.Errorf("%w: segment %d: memsz %d < filesz %d", kerrors.ErrInvalidArg, i, ph.MemSz, ph.FileSz)
		}

		data := make([]byte, ph.MemSz) // bss tail stays zero

		if ph.FileSz > 0 {
			if _, err := io.ReadFull(io.NewSectionReader(r, int64(ph.Offset), int64(ph.FileSz)), data[:ph.FileSz]); err != nil {
				return nil, fmt.Errorf("%w: read segment %d: %w", kerrors.ErrInvalidArg, i, err)
			}
		}

		img.Segments = append(img.Segments, Segment{VAddr: ph.VAddr, Data: data})
	}

	return img, nil
}
