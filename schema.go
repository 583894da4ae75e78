package btreedb

import (
	"encoding/binary"

	"github.com/chainindex/btreedb/internal/dberr"
	"github.com/chainindex/btreedb/internal/format"
	"github.com/chainindex/btreedb/internal/record"
)

// Page 1 doubles as both the 100-byte file header and the root page of a
// one-row sqlite_schema table b-tree, the way every real SQLite file does.
// Cell offsets stored in that b-tree's header are absolute, page-relative
// byte positions — the same coordinate space as any other page — even
// though the b-tree header itself starts at byte schemaBase instead of 0.
const schemaBase = format.HeaderSize

// writeSchemaPage lays out page 1's schema row: a single sqlite_schema entry
// declaring the table this file holds, with rootPage as its root-page
// column. createSQL is stored verbatim as the row's sql column, for readers
// (including real SQLite) that display schema text.
//
// The entry's type is "table", not "index": this engine's b-tree is laid
// out as a WITHOUT ROWID table's storage always is in real SQLite — index
// page types (2/10) holding the full declared row as the key, ordered by
// its primary-key prefix, with no separate rowid. Declaring it as a table
// is what lets a stock SQLite client run a plain `SELECT ... FROM` query
// against it; an "index" schema entry has no FROM-clause target of its own.
func writeSchemaPage(data []byte, pageSize int, tableName string, rootPage uint32, createSQL string) error {
	usable := format.UsablePageSize(pageSize)

	payload, err := record.MakeRecord([]record.Value{
		record.TextValue("table"),
		record.TextValue(tableName),
		record.TextValue(tableName),
		record.IntValue(int64(rootPage)),
		record.TextValue(createSQL),
	})
	if err != nil {
		return err
	}

	cell := record.AppendVarint(nil, uint64(len(payload)))
	cell = record.AppendVarint(cell, 1) // rowid, always 1: exactly one schema row
	cell = append(cell, payload...)

	// Page 1's usable content region sits below the schema b-tree header and
	// its one cell-pointer slot; this engine never grows page 1 beyond a
	// single schema row, so a small page size (512 bytes leaves 397 for the
	// cell) holding an unusually long CREATE TABLE statement is the only way
	// this check trips.
	if schemaBase+8+2+len(cell) > usable {
		return dberr.NewKeyTooLarge(len(cell), usable-schemaBase-10)
	}

	contentStart := usable - len(cell)
	copy(data[contentStart:], cell)

	data[schemaBase+format.BtreePageType] = format.PageTypeLeafTable
	binary.BigEndian.PutUint16(data[schemaBase+format.BtreeFirstFreeblock:], 0)
	binary.BigEndian.PutUint16(data[schemaBase+format.BtreeCellCount:], 1)
	writeRawCellContentStart(data, schemaBase+format.BtreeCellContentStart, contentStart)
	data[schemaBase+format.BtreeFragmentedBytes] = 0
	binary.BigEndian.PutUint16(data[schemaBase+format.BtreeHeaderSizeLeaf:], uint16(contentStart))

	return nil
}

func writeRawCellContentStart(data []byte, offset, v int) {
	if v == 65536 {
		v = 0
	}
	binary.BigEndian.PutUint16(data[offset:], uint16(v))
}

// readSchemaRow recovers the tbl_name and rootpage columns of page 1's
// single schema row, to resume an index b-tree across Open calls. The
// table name comes back from the file itself rather than from the caller's
// Config, since a caller reopening an existing file only ever knows the
// path, not necessarily the exact name under which it was created.
func readSchemaRow(data []byte) (tableName string, rootPage uint32, err error) {
	cellCount := binary.BigEndian.Uint16(data[schemaBase+format.BtreeCellCount:])
	if cellCount != 1 {
		return "", 0, dberr.NewMalformed(1, "schema page does not hold exactly one row")
	}

	cellPtr := binary.BigEndian.Uint16(data[schemaBase+format.BtreeHeaderSizeLeaf:])
	off := int(cellPtr)

	payloadLen, n := record.GetVarint(data[off:])
	if n == 0 {
		return "", 0, dberr.NewMalformed(1, "malformed schema cell payload length")
	}
	off += n

	_, n2 := record.GetVarint(data[off:]) // rowid, unused
	if n2 == 0 {
		return "", 0, dberr.NewMalformed(1, "malformed schema cell rowid")
	}
	off += n2

	if off+int(payloadLen) > len(data) {
		return "", 0, dberr.NewMalformed(1, "schema row payload runs past the page")
	}

	rec, err := record.ParseRecord(data[off : off+int(payloadLen)])
	if err != nil {
		return "", 0, err
	}
	if len(rec.Values) < 4 {
		return "", 0, dberr.NewMalformed(1, "schema row missing rootpage column")
	}
	return rec.Values[2].Text, uint32(rec.Values[3].Int), nil
}
