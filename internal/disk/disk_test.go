package disk

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func newTestDisk(t *testing.T, size int) *Disk {
	t.Helper()

	path := filepath.Join(t.TempDir(), "disk.img")

	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("create fixture: %v", err)
	}

	d, err := Open(0, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	t.Cleanup(func() { d.Close() })

	return d
}

func TestReadWriteSectors(t *testing.T) {
	d := newTestDisk(t, 16*SectorSize)

	data := bytes.Repeat([]byte{0xAB}, SectorSize)
	if err := d.WriteSectors(3, data); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := d.ReadSectors(3, 1)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if !bytes.Equal(got, data) {
		t.Errorf("roundtrip mismatch")
	}
}

func TestStreamReadAcrossSectorBoundary(t *testing.T) {
	d := newTestDisk(t, 4*SectorSize)

	want := bytes.Repeat([]byte{0x11, 0x22}, SectorSize) // spans 2 sectors
	if err := d.WriteSectors(0, want); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s := NewStream(d)
	s.Seek(SectorSize - 10)

	got := make([]byte, 20)
	if err := s.Read(got); err != nil {
		t.Fatalf("stream read: %v", err)
	}

	if !bytes.Equal(got, want[SectorSize-10:SectorSize+10]) {
		t.Errorf("stream read across boundary: got %x, want %x", got, want[SectorSize-10:SectorSize+10])
	}

	if s.Position() != int64(SectorSize+10) {
		t.Errorf("position = %d, want %d", s.Position(), SectorSize+10)
	}
}

func TestStreamWritePreservesSurroundingBytes(t *testing.T) {
	d := newTestDisk(t, 2*SectorSize)

	original := bytes.Repeat([]byte{0xFF}, 2*SectorSize)
	if err := d.WriteSectors(0, original); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s := NewStream(d)
	s.Seek(10)

	if err := s.Write([]byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("stream write: %v", err)
	}

	got, err := d.ReadSectors(0, 1)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}

	want := append([]byte{}, original[:SectorSize]...)
	copy(want[10:13], []byte{0x01, 0x02, 0x03})

	if !bytes.Equal(got, want) {
		t.Errorf("write clobbered surrounding bytes: got %x, want %x", got, want)
	}
}
