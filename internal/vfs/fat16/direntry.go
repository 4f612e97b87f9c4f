package fat16

import (
	"bytes"
	"encoding/binary"
	"strings"
)

// DirEntry is one 32-byte FAT16 directory entry.
type DirEntry struct {
	Name       [8]byte
	Ext        [3]byte
	Attr       uint8
	Reserved   uint8
	CreateTime uint16
	CreateDate uint16
	AccessDate uint16
	ClusterHi  uint16 // unused in FAT16, kept for layout fidelity
	WriteTime  uint16
	WriteDate  uint16
	ClusterLo  uint16
	FileSize   uint32
}

const dirEntrySize = 32

// Attribute bits.
const (
	AttrReadOnly = 1 << 0
	AttrHidden   = 1 << 1
	AttrSystem   = 1 << 2
	AttrVolume   = 1 << 3
	AttrDir      = 1 << 4
	AttrArchive  = 1 << 5
)

const (
	entryFree    = 0x00
	entryDeleted = 0xE5
)

// DecodeDirEntry parses one 32-byte slice as a DirEntry.
func DecodeDirEntry(b []byte) DirEntry {
	var e DirEntry
	_ = binary.Read(bytes.NewReader(b[:dirEntrySize]), binary.LittleEndian, &e)

	return e
}

// Free reports whether the slot is free or marks the end of the directory.
func (e DirEntry) Free() bool {
	return e.Name[0] == entryFree || e.Name[0] == entryDeleted
}

// End reports whether this and all subsequent entries are unused.
func (e DirEntry) End() bool {
	return e.Name[0] == entryFree
}

// IsDir reports whether the entry names a subdirectory.
func (e DirEntry) IsDir() bool {
	return e.Attr&AttrDir != 0
}

// Cluster returns the entry's first cluster.
func (e DirEntry) Cluster() uint32 {
	return uint32(e.ClusterHi)<<16 | uint32(e.ClusterLo)
}

// DisplayName renders the 8.3 name in "NAME.EXT" form, trimmed of padding
// spaces, matching FAT16's on-disk fixed-width fields.
func (e DirEntry) DisplayName() string {
	name := strings.TrimRight(string(e.Name[:]), " ")
	ext := strings.TrimRight(string(e.Ext[:]), " ")

	if ext == "" {
		return name
	}

	return name + "." + ext
}

// matches8dot3 compares a user-supplied path component against this entry's
// 8.3 name, case-insensitively, per spec.md's "uppercased ASCII, max 8+3+dot"
// rule.
func matches8dot3(want string, e DirEntry) bool {
	return strings.EqualFold(e.DisplayName(), want)
}

// splitName8dot3 splits "NAME.EXT" into its padded 8 and 3 byte fields,
// uppercased, for building a new directory entry (write-path support).
func splitName8dot3(name string) (nameField [8]byte, extField [3]byte) {
	upper := strings.ToUpper(name)

	base, ext, _ := strings.Cut(upper, ".")

	copy(nameField[:], []byte(base))
	for i := len(base); i < 8; i++ {
		nameField[i] = ' '
	}

	copy(extField[:], []byte(ext))
	for i := len(ext); i < 3; i++ {
		extField[i] = ' '
	}

	return nameField, extField
}

// Item is the tagged union of spec.md §3: a directory listing or a file
// entry, pattern-matched on Kind rather than modeled as a shared base type.
type Item struct {
	Kind    ItemKind
	Entry   DirEntry   // valid when Kind == ItemFile or ItemDir
	Listing []DirEntry // valid when Kind == ItemDir
}

// ItemKind discriminates Item's tag.
type ItemKind int

const (
	ItemFile ItemKind = iota
	ItemDir
)
