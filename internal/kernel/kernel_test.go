package kernel

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/skyos/kernel/internal/idt"
)

// buildELF32 assembles a minimal valid ET_EXEC/EM_386 binary: one header,
// one PT_LOAD program header, and a tiny payload, mirroring the synthetic
// binaries internal/elf's own tests build.
func buildELF32(entry uint32, payload []byte) []byte {
	const (
		ehsize = 52
		phsize = 32
	)

	var buf bytes.Buffer

	ident := [16]byte{0x7f, 'E', 'L', 'F', 1, 1, 1, 0}
	buf.Write(ident[:])
	binary.Write(&buf, binary.LittleEndian, uint16(2))      // e_type = ET_EXEC
	binary.Write(&buf, binary.LittleEndian, uint16(3))      // e_machine = EM_386
	binary.Write(&buf, binary.LittleEndian, uint32(1))      // e_version
	binary.Write(&buf, binary.LittleEndian, entry)          // e_entry
	binary.Write(&buf, binary.LittleEndian, uint32(ehsize)) // e_phoff
	binary.Write(&buf, binary.LittleEndian, uint32(0))      // e_shoff
	binary.Write(&buf, binary.LittleEndian, uint32(0))      // e_flags
	binary.Write(&buf, binary.LittleEndian, uint16(ehsize)) // e_ehsize
	binary.Write(&buf, binary.LittleEndian, uint16(phsize)) // e_phentsize
	binary.Write(&buf, binary.LittleEndian, uint16(1))      // e_phnum
	binary.Write(&buf, binary.LittleEndian, uint16(0))      // e_shentsize
	binary.Write(&buf, binary.LittleEndian, uint16(0))      // e_shnum
	binary.Write(&buf, binary.LittleEndian, uint16(0))      // e_shstrndx

	dataOff := uint32(ehsize + phsize)

	binary.Write(&buf, binary.LittleEndian, uint32(1))             // p_type = PT_LOAD
	binary.Write(&buf, binary.LittleEndian, dataOff)                // p_offset
	binary.Write(&buf, binary.LittleEndian, entry&^0xfff)           // p_vaddr
	binary.Write(&buf, binary.LittleEndian, entry&^0xfff)           // p_paddr
	binary.Write(&buf, binary.LittleEndian, uint32(len(payload)))   // p_filesz
	binary.Write(&buf, binary.LittleEndian, uint32(len(payload)))   // p_memsz
	binary.Write(&buf, binary.LittleEndian, uint32(5))              // p_flags
	binary.Write(&buf, binary.LittleEndian, uint32(0x1000))         // p_align

	buf.Write(payload)

	return buf.Bytes()
}

// splitName8dot3 renders filename as a space-padded 8.3 name/extension
// pair, the on-disk directory entry format.
func splitName8dot3(filename string) (name [8]byte, ext [3]byte) {
	for i := range name {
		name[i] = ' '
	}

	for i := range ext {
		ext[i] = ' '
	}

	base, extension := filename, ""
	for i, c := range filename {
		if c == '.' {
			base, extension = filename[:i], filename[i+1:]
			break
		}
	}

	copy(name[:], base)
	copy(ext[:], extension)

	return name, ext
}

// buildDiskImage writes a minimal FAT16 volume (BPB at sector 0, matching
// the layout internal/vfs/fat16 expects from disk.Open+Resolve) containing
// one file, BLANK.ELF, holding a synthetic ELF32 binary.
func buildDiskImage(t *testing.T, elfBytes []byte) string {
	t.Helper()

	const (
		sectorSize        = 512
		reservedSectors   = 1
		numFATs           = 1
		rootEntryCount    = 16
		sectorsPerCluster = 1
		sectorsPerFAT     = 4
		totalSectors      = 128
	)

	img := make([]byte, totalSectors*sectorSize)

	bs := struct {
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
	}{
		BytesPerSector:    sectorSize,
		SectorsPerCluster: sectorsPerCluster,
		ReservedSectors:   reservedSectors,
		NumberOfFATs:      numFATs,
		RootEntryCount:    rootEntryCount,
		TotalSectors16:    totalSectors,
		MediaType:         0xf8,
		SectorsPerFAT:     sectorsPerFAT,
	}

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, &bs)
	copy(img[0:], buf.Bytes())

	// FileSystemType label lives at offset 54 in the extended BPB; write it
	// directly since the anonymous struct above only models the common BPB.
	copy(img[54:], "FAT16   ")
	img[510], img[511] = 0x55, 0xaa

	rootDirSectors := (uint32(rootEntryCount)*32 + sectorSize - 1) / sectorSize
	firstRootDirSector := uint32(reservedSectors) + uint32(numFATs)*sectorsPerFAT
	firstDataSector := firstRootDirSector + rootDirSectors

	clusterBytes := sectorsPerCluster * sectorSize
	clustersNeeded := (len(elfBytes) + clusterBytes - 1) / clusterBytes
	if clustersNeeded == 0 {
		clustersNeeded = 1
	}

	fatOffset := reservedSectors * sectorSize

	for i := 0; i < clustersNeeded; i++ {
		cluster := uint32(2 + i)

		next := uint16(0xffff)
		if i < clustersNeeded-1 {
			next = uint16(cluster + 1)
		}

		binary.LittleEndian.PutUint16(img[fatOffset+int(cluster)*2:], next)
	}

	entryOffset := firstRootDirSector * sectorSize
	name, ext := splitName8dot3("BLANK.ELF")
	copy(img[entryOffset:], name[:])
	copy(img[entryOffset+8:], ext[:])
	img[entryOffset+11] = 0
	binary.LittleEndian.PutUint16(img[entryOffset+26:], 2)
	binary.LittleEndian.PutUint32(img[entryOffset+28:], uint32(len(elfBytes)))

	dataOffset := firstDataSector * sectorSize
	copy(img[dataOffset:], elfBytes)

	path := filepath.Join(t.TempDir(), "skyos.img")
	if err := os.WriteFile(path, img, 0o644); err != nil {
		t.Fatalf("write disk image: %v", err)
	}

	return path
}

func bootTestKernel(t *testing.T) *Kernel {
	t.Helper()

	elfBytes := buildELF32(0x400010, []byte{0x90, 0x90, 0xcd, 0x80})
	path := buildDiskImage(t, elfBytes)

	k, err := Boot(path)
	if err != nil {
		t.Fatalf("boot: %v", err)
	}

	t.Cleanup(func() { k.Disk.Close() })

	return k
}

func TestBootLoadsTwoResidentProcesses(t *testing.T) {
	k := bootTestKernel(t)

	if len(k.Processes) != 2 {
		t.Fatalf("len(Processes) = %d, want 2", len(k.Processes))
	}

	if k.Processes[0].ID == k.Processes[1].ID {
		t.Fatal("the two boot-time processes share a process id")
	}

	if k.Scheduler.Current == nil {
		t.Fatal("scheduler has no current task after boot")
	}
}

func TestSumSyscallRoundTrip(t *testing.T) {
	k := bootTestKernel(t)

	frame := &idt.Frame{}
	frame.EAX = 0 // syscall.Sum
	frame.EBX = 3
	frame.ECX = 4

	if err := k.Syscall(frame); err != nil {
		t.Fatalf("syscall: %v", err)
	}

	if int32(frame.EAX) != 7 {
		t.Errorf("sum result = %d, want 7", int32(frame.EAX))
	}
}

func TestPressKeyDeliversToCurrentProcess(t *testing.T) {
	k := bootTestKernel(t)

	pid := k.currentPID()

	if err := k.PressKey('z'); err != nil {
		t.Fatalf("press key: %v", err)
	}

	got, ok := k.Keyboard.ReadKey(pid)
	if !ok || got != 'z' {
		t.Fatalf("ReadKey(%d) = %q, %v, want 'z', true", pid, got, ok)
	}
}
