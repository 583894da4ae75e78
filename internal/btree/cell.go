package btree

import (
	"encoding/binary"

	"github.com/chainindex/btreedb/internal/record"
)

// Thresholds computes the SQLite payload-size thresholds for a given usable
// page size U: X is the maximum payload kept entirely on-page, M is the
// minimum. The trial size K for payloads between the two is computed
// per-payload by onPagePayload.
func Thresholds(usable int) (x, m int) {
	x = ((usable-12)*64)/255 - 23
	m = ((usable-12)*32)/255 - 23
	return x, m
}

// onPagePayload returns how many bytes of a P-byte payload are stored
// locally (the rest goes to an overflow chain). The rule: P itself if it
// fits within X; otherwise K = M + ((P-M) mod (U-4)) if that trial size also
// fits within X; otherwise M.
func onPagePayload(p, usable, x, m int) int {
	if p <= x {
		return p
	}
	k := m + (p-m)%(usable-4)
	if k <= x {
		return k
	}
	return m
}

// cellInfo is a decoded index b-tree cell: the optional left-child pointer
// (interior nodes only), the full logical payload length, and the slice of
// that payload stored directly on the page. If Overflow != 0, the remaining
// PayloadLen-len(Local) bytes live in the overflow chain starting at
// that page.
type cellInfo struct {
	LeftChild  uint32
	PayloadLen int
	Local      []byte
	Overflow   uint32
	// Size is the number of bytes this cell occupies on the page.
	Size int
}

// parseCell decodes the cell at byte offset off on a page of the given type
// and usable size.
func parseCell(data []byte, off int, interior bool, usable, x, m int) cellInfo {
	start := off
	var leftChild uint32
	if interior {
		leftChild = binary.BigEndian.Uint32(data[off:])
		off += 4
	}

	p64, n := record.GetVarint(data[off:])
	off += n
	p := int(p64)

	local := onPagePayload(p, usable, x, m)
	payload := data[off : off+local]
	off += local

	var overflow uint32
	if local < p {
		overflow = binary.BigEndian.Uint32(data[off:])
		off += 4
	}

	return cellInfo{
		LeftChild:  leftChild,
		PayloadLen: p,
		Local:      payload,
		Overflow:   overflow,
		Size:       off - start,
	}
}

// buildCell encodes a cell's on-page bytes: left-child (interior only),
// payload-length varint, the local payload slice, and the overflow page
// pointer if the payload did not fit entirely.
func buildCell(leftChild uint32, payload []byte, interior bool, usable, x, m int, overflowPage uint32) []byte {
	p := len(payload)
	local := onPagePayload(p, usable, x, m)

	size := 0
	if interior {
		size += 4
	}
	size += record.VarintLen(uint64(p))
	size += local
	if local < p {
		size += 4
	}

	buf := make([]byte, 0, size)
	if interior {
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], leftChild)
		buf = append(buf, tmp[:]...)
	}
	buf = record.AppendVarint(buf, uint64(p))
	buf = append(buf, payload[:local]...)
	if local < p {
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], overflowPage)
		buf = append(buf, tmp[:]...)
	}
	return buf
}
