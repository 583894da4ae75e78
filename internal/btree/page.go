package btree

import (
	"encoding/binary"

	"github.com/chainindex/btreedb/internal/cache"
	"github.com/chainindex/btreedb/internal/format"
)

// headerLen returns the b-tree page header size for the given page type:
// 12 bytes for interior pages (which carry a right-child pointer), 8 for
// leaves.
func headerLen(pageType byte) int {
	if pageType == format.PageTypeInteriorIndex {
		return format.BtreeHeaderSizeInterior
	}
	return format.BtreeHeaderSizeLeaf
}

func isInterior(pageType byte) bool {
	return pageType == format.PageTypeInteriorIndex
}

func pageType(p *cache.Page) byte {
	return p.Data[format.BtreePageType]
}

func setPageType(p *cache.Page, t byte) {
	p.Data[format.BtreePageType] = t
}

func cellCount(p *cache.Page) int {
	return int(binary.BigEndian.Uint16(p.Data[format.BtreeCellCount:]))
}

func setCellCount(p *cache.Page, n int) {
	binary.BigEndian.PutUint16(p.Data[format.BtreeCellCount:], uint16(n))
}

// cellContentStart returns the low-water mark where packed cell content
// begins; a stored 0 means the content area starts at 65536 (an empty
// content area on a 65536-byte page), matching SQLite's encoding.
func cellContentStart(p *cache.Page) int {
	v := int(binary.BigEndian.Uint16(p.Data[format.BtreeCellContentStart:]))
	if v == 0 {
		return 65536
	}
	return v
}

func setCellContentStart(p *cache.Page, v int) {
	if v == 65536 {
		v = 0
	}
	binary.BigEndian.PutUint16(p.Data[format.BtreeCellContentStart:], uint16(v))
}

func rightChild(p *cache.Page) uint32 {
	return binary.BigEndian.Uint32(p.Data[format.BtreeRightmostPointer:])
}

func setRightChild(p *cache.Page, child uint32) {
	binary.BigEndian.PutUint32(p.Data[format.BtreeRightmostPointer:], child)
}

// usableSize is the U of the payload threshold formula: page size minus the
// trailing reserved bytes.
func usableSize(pageSize int) int {
	return format.UsablePageSize(pageSize)
}

// cellPointerSlot returns the byte offset within the page, from the start
// of the cell-pointer array, of the i'th cell pointer slot (2 bytes each).
func cellPointerSlot(hdrLen, i int) int {
	return hdrLen + 2*i
}

func cellPointer(p *cache.Page, hdrLen, i int) int {
	off := cellPointerSlot(hdrLen, i)
	return int(binary.BigEndian.Uint16(p.Data[off:]))
}

func setCellPointer(p *cache.Page, hdrLen, i, offset int) {
	off := cellPointerSlot(hdrLen, i)
	binary.BigEndian.PutUint16(p.Data[off:], uint16(offset))
}

// initPage resets a fresh page's header for the given page type, with an
// empty cell array and content area starting at the usable end of the page.
func initPage(p *cache.Page, pType byte, pageSize int) {
	for i := range p.Data {
		p.Data[i] = 0
	}
	setPageType(p, pType)
	setCellContentStart(p, usableSize(pageSize))
	if isInterior(pType) {
		setRightChild(p, 0)
	}
}

// insertCellPointer shifts the cell-pointer array to make room at index idx
// and writes the new pointer value, then bumps the cell count.
func insertCellPointer(p *cache.Page, hdrLen, idx, offset int) {
	n := cellCount(p)
	for i := n; i > idx; i-- {
		setCellPointer(p, hdrLen, i, cellPointer(p, hdrLen, i-1))
	}
	setCellPointer(p, hdrLen, idx, offset)
	setCellCount(p, n+1)
}

// removeCellPointer deletes the cell-pointer array entry at idx. The cell's
// packed bytes are left in place as dead space; this engine never
// compacts or frees them (see remove_entry in the b-tree engine).
func removeCellPointer(p *cache.Page, hdrLen, idx int) {
	n := cellCount(p)
	for i := idx; i < n-1; i++ {
		setCellPointer(p, hdrLen, i, cellPointer(p, hdrLen, i+1))
	}
	setCellCount(p, n-1)
}

// freeSpace returns the number of bytes available between the end of the
// cell-pointer array (after accounting for one more pointer) and the start
// of packed cell content.
func freeSpace(p *cache.Page, hdrLen int) int {
	used := cellContentStart(p)
	needed := hdrLen + 2*(cellCount(p)+1)
	return used - needed
}
