package elf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/skyos/kernel/internal/kerrors"
)

// buildELF32 assembles a minimal valid ELF32/ET_EXEC/EM_386 image with one
// PT_LOAD segment containing payload, mutating ident[4] (class), ident[5]
// (data encoding), typ, and machine so callers can construct malformed
// variants from the same layout.
func buildELF32(t *testing.T, ident4, ident5 byte, typ, machine uint16, entry uint32, payload []byte) []byte {
	t.Helper()

	const (
		ehSize = 52
		phSize = 32
	)

	var buf bytes.Buffer

	ident := [16]byte{0x7f, 'E', 'L', 'F', ident4, ident5, 1}

	hdr := header32{
		Ident:     ident,
		Type:      typ,
		Machine:   machine,
		Version:   1,
		Entry:     entry,
		PHOff:     ehSize,
		SHOff:     0,
		Flags:     0,
		EHSize:    ehSize,
		PHEntSize: phSize,
		PHNum:     1,
		SHEntSize: 0,
		SHNum:     0,
		SHStrNdx:  0,
	}

	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		t.Fatalf("write header: %v", err)
	}

	ph := programHeader32{
		Type:   ptLoad,
		Offset: ehSize + phSize,
		VAddr:  0x08048000,
		PAddr:  0x08048000,
		FileSz: uint32(len(payload)),
		MemSz:  uint32(len(payload)) + 16, // plus bss tail
		Flags:  7,
		Align:  0x1000,
	}

	if err := binary.Write(&buf, binary.LittleEndian, &ph); err != nil {
		t.Fatalf("write program header: %v", err)
	}

	buf.Write(payload)

	return buf.Bytes()
}

func TestLoadExecValidBinary(t *testing.T) {
	payload := []byte{0x90, 0x90, 0xcd, 0x80} // nop; nop; int 0x80
	raw := buildELF32(t, classELF32, dataLSB, etExec, emI386, 0x08048000, payload)

	img, err := LoadExec(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("LoadExec: %v", err)
	}

	if img.Entry != 0x08048000 {
		t.Errorf("entry = %#x, want 0x08048000", img.Entry)
	}

	if len(img.Segments) != 1 {
		t.Fatalf("segments = %d, want 1", len(img.Segments))
	}

	seg := img.Segments[0]
	if seg.VAddr != 0x08048000 {
		t.Errorf("vaddr = %#x, want 0x08048000", seg.VAddr)
	}

	if !bytes.Equal(seg.Data[:len(payload)], payload) {
		t.Errorf("segment file portion = %v, want %v", seg.Data[:len(payload)], payload)
	}

	for _, b := range seg.Data[len(payload):] {
		if b != 0 {
			t.Fatalf("bss tail not zeroed: %v", seg.Data[len(payload):])
		}
	}
}

// TestLoadExecRejectsWrongClassEndiannessMachine is spec.md's boundary:
// wrong class/endianness/machine are all rejected, never partially loaded.
func TestLoadExecRejectsWrongClassEndiannessMachine(t *testing.T) {
	payload := []byte{0x90}

	cases := []struct {
		name    string
		class   byte
		data    byte
		typ     uint16
		machine uint16
	}{
		{"wrong class (ELF64)", 2, dataLSB, etExec, emI386},
		{"wrong endianness (MSB)", classELF32, 2, etExec, emI386},
		{"wrong machine (not i386)", classELF32, dataLSB, etExec, 0x3e},
		{"wrong type (not ET_EXEC)", classELF32, dataLSB, 3, emI386},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			raw := buildELF32(t, c.class, c.data, c.typ, c.machine, 0x08048000, payload)

			if _, err := LoadExec(bytes.NewReader(raw)); !errors.Is(err, kerrors.ErrInvalidArg) {
				t.Errorf("LoadExec: err = %v, want ErrInvalidArg", err)
			}
		})
	}
}

func TestLoadExecRejectsBadMagic(t *testing.T) {
	raw := buildELF32(t, classELF32, dataLSB, etExec, emI386, 0x08048000, []byte{0x90})
	raw[0] = 0x00

	if _, err := LoadExec(bytes.NewReader(raw)); !errors.Is(err, kerrors.ErrInvalidArg) {
		t.Errorf("LoadExec: err = %v, want ErrInvalidArg", err)
	}
}

func TestLoadExecTruncatedHeader(t *testing.T) {
	if _, err := LoadExec(bytes.NewReader([]byte{0x7f, 'E', 'L'})); !errors.Is(err, kerrors.ErrInvalidArg) {
		t.Errorf("LoadExec: err = %v, want ErrInvalidArg", err)
	}
}
