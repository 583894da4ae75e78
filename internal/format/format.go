// Package format defines the on-disk SQLite database file format: the
// 100-byte file header, b-tree page header layout, and the page-type and
// text-encoding constants used to validate them.
package format

import (
	"encoding/binary"

	"github.com/chainindex/btreedb/internal/dberr"
)

// File format constants.
const (
	// HeaderSize is the database header size in bytes, always the first 100
	// bytes of the file.
	HeaderSize = 100

	// MagicString is the required magic header string, 16 bytes including
	// the null terminator.
	MagicString = "SQLite format 3\000"

	DefaultPageSize = 4096
	MinPageSize     = 512
	MaxPageSize     = 65536

	// ReservedBytes is the number of bytes reserved at the end of every page
	// for this engine's bookkeeping. The first reserved byte doubles as the
	// page's tree level (low 5 bits) and a dirty/changed flag (bit 0x40).
	ReservedBytes = 5
)

// Header offsets, byte positions within the 100-byte database header.
const (
	OffsetMagic             = 0
	OffsetPageSize          = 16
	OffsetWriteVersion      = 18
	OffsetReadVersion       = 19
	OffsetReservedSpace     = 20
	OffsetMaxPayloadFrac    = 21
	OffsetMinPayloadFrac    = 22
	OffsetLeafPayloadFrac   = 23
	OffsetFileChangeCounter = 24
	OffsetDatabaseSize      = 28
	OffsetFirstFreelist     = 32
	OffsetFreelistCount     = 36
	OffsetSchemaCookie      = 40
	OffsetSchemaFormat      = 44
	OffsetDefaultCacheSize  = 48
	OffsetLargestRootPage   = 52
	OffsetTextEncoding      = 56
	OffsetUserVersion       = 60
	OffsetIncrVacuum        = 64
	OffsetAppID             = 68
	OffsetReserved          = 72
	OffsetVersionValidFor   = 92
	OffsetSQLiteVersion     = 96
)

// Text encodings for OffsetTextEncoding. This engine only ever writes
// EncodingUTF8, the others are recognized on read for compatibility.
const (
	EncodingUTF8    = 1
	EncodingUTF16LE = 2
	EncodingUTF16BE = 3
)

// Page types, the first byte of a b-tree page header.
const (
	PageTypeInteriorIndex = 0x02
	PageTypeInteriorTable = 0x05
	PageTypeLeafIndex     = 0x0a
	PageTypeLeafTable     = 0x0d
)

// B-tree page header offsets.
const (
	BtreePageType         = 0
	BtreeFirstFreeblock   = 1
	BtreeCellCount        = 3
	BtreeCellContentStart = 5
	BtreeFragmentedBytes  = 7
	BtreeRightmostPointer = 8
)

// B-tree page header sizes.
const (
	BtreeHeaderSizeLeaf     = 8
	BtreeHeaderSizeInterior = 12
)

// Header is the 100-byte database file header.
type Header struct {
	Magic [16]byte

	// PageSize is stored as 1 when it represents 65536; GetPageSize handles
	// the translation.
	PageSize uint16

	WriteVersion    uint8
	ReadVersion     uint8
	ReservedSpace   uint8
	MaxPayloadFrac  uint8
	MinPayloadFrac  uint8
	LeafPayloadFrac uint8

	FileChangeCounter uint32
	DatabaseSize      uint32
	FirstFreelist     uint32
	FreelistCount     uint32
	SchemaCookie      uint32
	SchemaFormat      uint32
	DefaultCacheSize  uint32
	LargestRootPage   uint32
	TextEncoding      uint32
	UserVersion       uint32
	IncrVacuum        uint32
	AppID             uint32

	Reserved [20]byte

	VersionValidFor uint32
	SQLiteVersion   uint32
}

// Parse decodes the 100-byte header from the first HeaderSize bytes of data.
func (h *Header) Parse(data []byte) error {
	if len(data) < HeaderSize {
		return dberr.NewMalformed(1, "database file shorter than the 100-byte header")
	}

	copy(h.Magic[:], data[OffsetMagic:OffsetMagic+16])
	if string(h.Magic[:]) != MagicString {
		return dberr.NewMalformed(1, "bad magic header string")
	}

	pageSizeRaw := binary.BigEndian.Uint16(data[OffsetPageSize : OffsetPageSize+2])
	h.PageSize = pageSizeRaw

	if !IsValidPageSize(h.GetPageSize()) {
		return dberr.NewMalformed(1, "invalid page size in header")
	}

	h.WriteVersion = data[OffsetWriteVersion]
	h.ReadVersion = data[OffsetReadVersion]
	h.ReservedSpace = data[OffsetReservedSpace]
	h.MaxPayloadFrac = data[OffsetMaxPayloadFrac]
	h.MinPayloadFrac = data[OffsetMinPayloadFrac]
	h.LeafPayloadFrac = data[OffsetLeafPayloadFrac]

	h.FileChangeCounter = binary.BigEndian.Uint32(data[OffsetFileChangeCounter : OffsetFileChangeCounter+4])
	h.DatabaseSize = binary.BigEndian.Uint32(data[OffsetDatabaseSize : OffsetDatabaseSize+4])
	h.FirstFreelist = binary.BigEndian.Uint32(data[OffsetFirstFreelist : OffsetFirstFreelist+4])
	h.FreelistCount = binary.BigEndian.Uint32(data[OffsetFreelistCount : OffsetFreelistCount+4])
	h.SchemaCookie = binary.BigEndian.Uint32(data[OffsetSchemaCookie : OffsetSchemaCookie+4])
	h.SchemaFormat = binary.BigEndian.Uint32(data[OffsetSchemaFormat : OffsetSchemaFormat+4])
	h.DefaultCacheSize = binary.BigEndian.Uint32(data[OffsetDefaultCacheSize : OffsetDefaultCacheSize+4])
	h.LargestRootPage = binary.BigEndian.Uint32(data[OffsetLargestRootPage : OffsetLargestRootPage+4])
	h.TextEncoding = binary.BigEndian.Uint32(data[OffsetTextEncoding : OffsetTextEncoding+4])
	h.UserVersion = binary.BigEndian.Uint32(data[OffsetUserVersion : OffsetUserVersion+4])
	h.IncrVacuum = binary.BigEndian.Uint32(data[OffsetIncrVacuum : OffsetIncrVacuum+4])
	h.AppID = binary.BigEndian.Uint32(data[OffsetAppID : OffsetAppID+4])
	h.VersionValidFor = binary.BigEndian.Uint32(data[OffsetVersionValidFor : OffsetVersionValidFor+4])
	h.SQLiteVersion = binary.BigEndian.Uint32(data[OffsetSQLiteVersion : OffsetSQLiteVersion+4])

	copy(h.Reserved[:], data[OffsetReserved:OffsetReserved+20])

	return nil
}

// Serialize encodes the header back to its 100-byte on-disk form.
func (h *Header) Serialize() []byte {
	data := make([]byte, HeaderSize)

	copy(data[OffsetMagic:], h.Magic[:])
	binary.BigEndian.PutUint16(data[OffsetPageSize:], h.PageSize)

	data[OffsetWriteVersion] = h.WriteVersion
	data[OffsetReadVersion] = h.ReadVersion
	data[OffsetReservedSpace] = h.ReservedSpace
	data[OffsetMaxPayloadFrac] = h.MaxPayloadFrac
	data[OffsetMinPayloadFrac] = h.MinPayloadFrac
	data[OffsetLeafPayloadFrac] = h.LeafPayloadFrac

	binary.BigEndian.PutUint32(data[OffsetFileChangeCounter:], h.FileChangeCounter)
	binary.BigEndian.PutUint32(data[OffsetDatabaseSize:], h.DatabaseSize)
	binary.BigEndian.PutUint32(data[OffsetFirstFreelist:], h.FirstFreelist)
	binary.BigEndian.PutUint32(data[OffsetFreelistCount:], h.FreelistCount)
	binary.BigEndian.PutUint32(data[OffsetSchemaCookie:], h.SchemaCookie)
	binary.BigEndian.PutUint32(data[OffsetSchemaFormat:], h.SchemaFormat)
	binary.BigEndian.PutUint32(data[OffsetDefaultCacheSize:], h.DefaultCacheSize)
	binary.BigEndian.PutUint32(data[OffsetLargestRootPage:], h.LargestRootPage)
	binary.BigEndian.PutUint32(data[OffsetTextEncoding:], h.TextEncoding)
	binary.BigEndian.PutUint32(data[OffsetUserVersion:], h.UserVersion)
	binary.BigEndian.PutUint32(data[OffsetIncrVacuum:], h.IncrVacuum)
	binary.BigEndian.PutUint32(data[OffsetAppID:], h.AppID)
	binary.BigEndian.PutUint32(data[OffsetVersionValidFor:], h.VersionValidFor)
	binary.BigEndian.PutUint32(data[OffsetSQLiteVersion:], h.SQLiteVersion)

	copy(data[OffsetReserved:], h.Reserved[:])

	return data
}

// NewHeader builds a fresh header for a database about to be created at the
// given page size. ReservedSpace is always ReservedBytes: every page this
// engine writes carries the tree-level/dirty-flag trailer.
func NewHeader(pageSize int) *Header {
	var pageSizeVal uint16
	if pageSize == MaxPageSize {
		pageSizeVal = 1
	} else {
		pageSizeVal = uint16(pageSize)
	}

	h := &Header{
		PageSize:        pageSizeVal,
		WriteVersion:    1,
		ReadVersion:     1,
		ReservedSpace:   ReservedBytes,
		MaxPayloadFrac:  64,
		MinPayloadFrac:  32,
		LeafPayloadFrac: 32,
		SchemaFormat:    4,
		TextEncoding:    EncodingUTF8,
		DatabaseSize:    1,
	}
	copy(h.Magic[:], MagicString)
	return h
}

// Validate checks that the header's fixed fields hold their required values.
func (h *Header) Validate() error {
	if string(h.Magic[:]) != MagicString {
		return dberr.NewMalformed(1, "bad magic header string")
	}
	if !IsValidPageSize(h.GetPageSize()) {
		return dberr.NewMalformed(1, "invalid page size in header")
	}
	if h.WriteVersion != 1 && h.WriteVersion != 2 {
		return dberr.NewMalformed(1, "invalid write version")
	}
	if h.ReadVersion != 1 && h.ReadVersion != 2 {
		return dberr.NewMalformed(1, "invalid read version")
	}
	if h.MaxPayloadFrac != 64 {
		return dberr.NewMalformed(1, "invalid max payload fraction")
	}
	if h.MinPayloadFrac != 32 {
		return dberr.NewMalformed(1, "invalid min payload fraction")
	}
	if h.LeafPayloadFrac != 32 {
		return dberr.NewMalformed(1, "invalid leaf payload fraction")
	}
	if h.TextEncoding < EncodingUTF8 || h.TextEncoding > EncodingUTF16BE {
		return dberr.NewMalformed(1, "invalid text encoding")
	}
	return nil
}

// GetPageSize returns the page size in bytes, translating the stored value
// of 1 back to 65536.
func (h *Header) GetPageSize() int {
	if h.PageSize == 1 {
		return MaxPageSize
	}
	return int(h.PageSize)
}

// IsValidPageSize reports whether size is a power of 2 in [MinPageSize,
// MaxPageSize].
func IsValidPageSize(size int) bool {
	if size < MinPageSize || size > MaxPageSize {
		return false
	}
	return size&(size-1) == 0
}

// UsablePageSize returns the bytes of a page available for content once the
// reserved trailer is excluded — the "U" of the payload threshold formula.
func UsablePageSize(pageSize int) int {
	return pageSize - ReservedBytes
}
