// Package btree implements the SQLite index b-tree: binary-searched,
// leaf-and-interior pages holding key-only records, split on overflow with
// separator promotion, and overflow-chain emission for payloads too large
// to fit on a page.
package btree

import (
	"github.com/chainindex/btreedb/internal/cache"
	"github.com/chainindex/btreedb/internal/dberr"
	"github.com/chainindex/btreedb/internal/format"
	"github.com/chainindex/btreedb/internal/record"
)

// Engine is one open index b-tree: a single table backed by one root page,
// descending through interior pages to leaves holding the actual records.
type Engine struct {
	cache    *cache.Cache
	pageSize int
	pkCount  int
	rootPage uint32
}

// NewEngine wraps a page cache as a b-tree rooted at rootPage.
func NewEngine(c *cache.Cache, pageSize, pkCount int, rootPage uint32) *Engine {
	return &Engine{cache: c, pageSize: pageSize, pkCount: pkCount, rootPage: rootPage}
}

// NewLeafIndexPage allocates and initializes a fresh, empty leaf index page.
// Callers use this once, at file-creation time, to give a brand-new tree its
// first root page.
func NewLeafIndexPage(c *cache.Cache, pageSize int) (*cache.Page, error) {
	p, err := c.GetNewPage(0)
	if err != nil {
		return nil, err
	}
	initPage(p, format.PageTypeLeafIndex, pageSize)
	c.MarkDirty(p.Number)
	return p, nil
}

// RootPage returns the current root page number. It changes across the
// engine's lifetime whenever the root itself splits.
func (e *Engine) RootPage() uint32 { return e.rootPage }

// Put inserts or, for a record of identical encoded length, overwrites the
// entry whose primary-key prefix matches payload's. payload is the caller's
// already-encoded column record (record.MakeRecord output).
func (e *Engine) Put(payload []byte) error {
	key, err := record.ParseRecord(payload)
	if err != nil {
		return err
	}

	sr, err := e.putInto(e.rootPage, payload, key)
	if err != nil {
		return err
	}
	if sr == nil {
		return nil
	}
	return e.growRoot(sr)
}

// growRoot allocates a new root page after the previous root split, linking
// the old root (now the left half, at sr.SeparatorLeft) and the new right
// sibling as its two children.
func (e *Engine) growRoot(sr *splitResult) error {
	newRoot, err := e.cache.GetNewPage(0)
	if err != nil {
		return err
	}
	initPage(newRoot, pageTypeForLevel(true), e.pageSize)
	newRoot.SetLevel(e.rootLevel() + 1)
	setRightChild(newRoot, sr.NewRightPage)

	usable := usableSize(e.pageSize)
	x, m := Thresholds(usable)
	raw := buildCell(sr.SeparatorLeft, sr.SeparatorPayload, true, usable, x, m, 0)
	if !e.insertRawCell(newRoot, 0, raw) {
		return dberr.NewKeyTooLarge(len(sr.SeparatorPayload), x)
	}

	e.rootPage = newRoot.Number
	e.cache.MarkDirty(newRoot.Number)
	return nil
}

func pageTypeForLevel(interior bool) byte {
	if interior {
		return format.PageTypeInteriorIndex
	}
	return format.PageTypeLeafIndex
}

func (e *Engine) rootLevel() uint8 {
	p, err := e.cache.GetPage(e.rootPage)
	if err != nil {
		return 0
	}
	return p.Level()
}

// putInto recursively descends into page pageNum, inserting or updating
// key/payload, and returns a non-nil splitResult if pageNum itself had to
// split to make room — the caller is responsible for promoting that
// separator into its own parent (or growing the root, at the top level).
func (e *Engine) putInto(pageNum uint32, payload []byte, key *record.Record) (*splitResult, error) {
	p, err := e.cache.GetPage(pageNum)
	if err != nil {
		return nil, err
	}

	if !isInterior(pageType(p)) {
		return e.putLeaf(p, payload, key)
	}
	return e.putInterior(p, payload, key)
}

func (e *Engine) putLeaf(p *cache.Page, payload []byte, key *record.Record) (*splitResult, error) {
	hdrLen := headerLen(pageType(p))
	idx, found, err := e.searchLeaf(p, key)
	if err != nil {
		return nil, err
	}

	usable := usableSize(e.pageSize)
	x, m := Thresholds(usable)

	if found {
		existing := parseCell(p.Data, cellPointer(p, hdrLen, idx), false, usable, x, m)
		if existing.Overflow == 0 && existing.PayloadLen == len(payload) {
			// Identical encoded length: rewrite in place, tree shape
			// unchanged.
			off := cellPointer(p, hdrLen, idx)
			raw := buildCell(0, payload, false, usable, x, m, 0)
			copy(p.Data[off:off+len(raw)], raw)
			e.cache.MarkDirty(p.Number)
			return nil, nil
		}
		removeCellPointer(p, hdrLen, idx)
	}

	overflowPage, _, err := e.stageOverflow(payload, x, m, usable)
	if err != nil {
		return nil, err
	}
	raw := buildCell(0, payload, false, usable, x, m, overflowPage)

	if e.insertRawCell(p, idx, raw) {
		return nil, nil
	}

	return e.splitAndInsert(p, idx, raw)
}

func (e *Engine) putInterior(p *cache.Page, payload []byte, key *record.Record) (*splitResult, error) {
	idx, atRightmost, child, err := e.searchInterior(p, key)
	if err != nil {
		return nil, err
	}

	childSplit, err := e.putInto(child, payload, key)
	if err != nil {
		return nil, err
	}
	if childSplit == nil {
		return nil, nil
	}

	usable := usableSize(e.pageSize)
	x, m := Thresholds(usable)
	raw := buildCell(childSplit.SeparatorLeft, childSplit.SeparatorPayload, true, usable, x, m, 0)

	if atRightmost {
		if e.insertRawCell(p, cellCount(p), raw) {
			setRightChild(p, childSplit.NewRightPage)
			e.cache.MarkDirty(p.Number)
			return nil, nil
		}
		sr, err := e.splitAndInsert(p, cellCount(p), raw)
		if err != nil {
			return nil, err
		}
		// The page that ends up holding our new cell becomes responsible
		// for the rightmost redirection; splitAndInsert already rebuilt
		// both halves from the pre-split cell list, so the redirection
		// target is whichever of the two pages is now the logical
		// rightmost — always the new right page, since atRightmost means
		// our cell is the largest key in the subtree.
		e.redirectRightmost(sr, childSplit.NewRightPage)
		return sr, nil
	}

	// idx is the position of the existing cell whose left-child equals
	// child; that cell must be shifted right and its left-child redirected
	// to the new right sibling.
	if e.insertRawCell(p, idx, raw) {
		e.setLeftChildAt(p, idx+1, childSplit.NewRightPage)
		return nil, nil
	}
	sr, err := e.splitAndInsert(p, idx, raw)
	if err != nil {
		return nil, err
	}
	e.redirectLeftChildAfterInsert(sr, idx, childSplit.NewRightPage)
	return sr, nil
}

// setLeftChildAt overwrites the left-child pointer of the cell at position
// idx without disturbing the rest of the cell.
func (e *Engine) setLeftChildAt(p *cache.Page, idx int, newChild uint32) {
	hdrLen := headerLen(pageType(p))
	off := cellPointer(p, hdrLen, idx)
	writeUint32(p.Data, off, newChild)
	e.cache.MarkDirty(p.Number)
}

func writeUint32(b []byte, off int, v uint32) {
	b[off] = byte(v >> 24)
	b[off+1] = byte(v >> 16)
	b[off+2] = byte(v >> 8)
	b[off+3] = byte(v)
}

// redirectRightmost re-resolves which of the split halves should carry the
// redirected rightmost pointer after an interior page split at its own
// rightmost slot.
func (e *Engine) redirectRightmost(sr *splitResult, newChild uint32) {
	right, err := e.cache.GetPage(sr.NewRightPage)
	if err != nil {
		return
	}
	setRightChild(right, newChild)
	e.cache.MarkDirty(right.Number)
}

// redirectLeftChildAfterInsert finds the cell that now sits just after the
// newly inserted separator (which may have landed on either split half) and
// rewrites its left-child to newChild.
func (e *Engine) redirectLeftChildAfterInsert(sr *splitResult, originalIdx int, newChild uint32) {
	// The cell immediately following our inserted separator, in the
	// pre-split ordering, is at originalIdx+1. splitAndInsert already
	// remapped ordering across the two pages; locate it by re-deriving
	// which page holds it from the split's own bookkeeping.
	left, err := e.cache.GetPage(sr.SeparatorLeft)
	if err == nil {
		hdrLen := headerLen(pageType(left))
		n := cellCount(left)
		if originalIdx+1 < n {
			off := cellPointer(left, hdrLen, originalIdx+1)
			writeUint32(left.Data, off, newChild)
			e.cache.MarkDirty(left.Number)
			return
		}
		if originalIdx+1 == n {
			// The following cell was the promoted separator, whose left
			// child became the left half's rightmost pointer.
			setRightChild(left, newChild)
			e.cache.MarkDirty(left.Number)
			return
		}
	}
	right, err := e.cache.GetPage(sr.NewRightPage)
	if err != nil || left == nil {
		return
	}
	hdrLen := headerLen(pageType(right))
	if pos := originalIdx - cellCount(left); pos < cellCount(right) {
		off := cellPointer(right, hdrLen, pos)
		writeUint32(right.Data, off, newChild)
		e.cache.MarkDirty(right.Number)
	}
}

// splitAndInsert splits a full page and places the pending raw cell into
// whichever half its insertion index now falls in.
func (e *Engine) splitAndInsert(p *cache.Page, idx int, raw []byte) (*splitResult, error) {
	breakIdx, err := e.breakIndexOf(p)
	if err != nil {
		return nil, err
	}

	sr, err := e.splitPage(p)
	if err != nil {
		return nil, err
	}

	var target *cache.Page
	var targetIdx int
	if idx <= breakIdx {
		target = p
		targetIdx = idx
	} else {
		target, err = e.cache.GetPage(sr.NewRightPage)
		if err != nil {
			return nil, err
		}
		targetIdx = idx - breakIdx - 1
	}

	if !e.insertRawCell(target, targetIdx, raw) {
		usable := usableSize(e.pageSize)
		x, _ := Thresholds(usable)
		return nil, dberr.NewKeyTooLarge(len(raw), x)
	}
	return sr, nil
}

// breakIndexOf recomputes the break index splitPage will choose, without
// mutating the page, so splitAndInsert can route the pending cell correctly.
func (e *Engine) breakIndexOf(p *cache.Page) (int, error) {
	pType := pageType(p)
	interior := isInterior(pType)
	hdrLen := headerLen(pType)
	usable := usableSize(e.pageSize)
	x, m := Thresholds(usable)

	n := cellCount(p)
	halfContent := (usable - cellContentStart(p) + 1) / 2

	breakIdx := -1
	totLen := 0
	for i := 0; i < n; i++ {
		c := parseCell(p.Data, cellPointer(p, hdrLen, i), interior, usable, x, m)
		totLen += c.Size
		if breakIdx == -1 && i > 1 && (totLen > halfContent || i == n/2) {
			breakIdx = i
		}
	}
	if breakIdx == -1 {
		breakIdx = n - 1
	}
	return breakIdx, nil
}

// stageOverflow writes an overflow chain for payload if it does not fit
// entirely on-page, returning the chain's first page number (0 if none) and
// the number of bytes that remain local.
func (e *Engine) stageOverflow(payload []byte, x, m, usable int) (overflowPage uint32, local int, err error) {
	p := len(payload)
	local = onPagePayload(p, usable, x, m)
	if local >= p {
		return 0, local, nil
	}
	first, err := e.writeOverflowChain(payload[local:])
	if err != nil {
		return 0, 0, err
	}
	return first, local, nil
}

// insertRawCell places a pre-built cell at position idx if the page has
// room, advancing the content-start watermark. Returns false if there is
// not enough free space.
func (e *Engine) insertRawCell(p *cache.Page, idx int, raw []byte) bool {
	hdrLen := headerLen(pageType(p))
	if freeSpace(p, hdrLen) < len(raw) {
		return false
	}
	cs := cellContentStart(p) - len(raw)
	copy(p.Data[cs:], raw)
	insertCellPointer(p, hdrLen, idx, cs)
	setCellContentStart(p, cs)
	e.cache.MarkDirty(p.Number)
	return true
}

// searchLeaf binary-searches a leaf page's cells by primary-key prefix,
// returning the exact index and found=true on a match, or the insertion
// position and found=false.
func (e *Engine) searchLeaf(p *cache.Page, key *record.Record) (int, bool, error) {
	hdrLen := headerLen(pageType(p))
	usable := usableSize(e.pageSize)
	x, m := Thresholds(usable)
	n := cellCount(p)

	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		c := parseCell(p.Data, cellPointer(p, hdrLen, mid), false, usable, x, m)
		rec, err := e.decodeCellRecord(p, c)
		if err != nil {
			return 0, false, err
		}
		cmp, err := record.CompareRecords(key, rec, e.pkCount)
		if err != nil {
			return 0, false, err
		}
		switch {
		case cmp == 0:
			return mid, true, nil
		case cmp < 0:
			hi = mid
		default:
			lo = mid + 1
		}
	}
	return lo, false, nil
}

// searchInterior binary-searches an interior page's separators to find
// which child subtree the key belongs in, returning the cell index used (if
// any), whether the rightmost child was selected, and the chosen child page
// number.
func (e *Engine) searchInterior(p *cache.Page, key *record.Record) (idx int, atRightmost bool, child uint32, err error) {
	hdrLen := headerLen(pageType(p))
	usable := usableSize(e.pageSize)
	x, m := Thresholds(usable)
	n := cellCount(p)

	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		c := parseCell(p.Data, cellPointer(p, hdrLen, mid), true, usable, x, m)
		rec, err := e.decodeCellRecord(p, c)
		if err != nil {
			return 0, false, 0, err
		}
		cmp, err := record.CompareRecords(key, rec, e.pkCount)
		if err != nil {
			return 0, false, 0, err
		}
		if cmp < 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	if lo == n {
		return n, true, rightChild(p), nil
	}
	c := parseCell(p.Data, cellPointer(p, hdrLen, lo), true, usable, x, m)
	return lo, false, c.LeftChild, nil
}

// decodeCellRecord materializes a cell's payload into a record, reading the
// overflow chain if needed.
func (e *Engine) decodeCellRecord(p *cache.Page, c cellInfo) (*record.Record, error) {
	full := fullCellPayload(p, e, c)
	return record.ParseRecord(full)
}

// Get looks up the record whose primary-key prefix matches key (a record
// holding at least the PK columns; trailing columns are ignored for the
// comparison). Returns the full stored record bytes and found=true, or
// found=false if no entry matches.
func (e *Engine) Get(keyRecordBytes []byte) (value []byte, found bool, err error) {
	key, err := record.ParseRecord(keyRecordBytes)
	if err != nil {
		return nil, false, err
	}
	pageNum := e.rootPage
	for {
		p, err := e.cache.GetPage(pageNum)
		if err != nil {
			return nil, false, err
		}
		if !isInterior(pageType(p)) {
			idx, found, err := e.searchLeaf(p, key)
			if err != nil || !found {
				return nil, false, err
			}
			hdrLen := headerLen(pageType(p))
			usable := usableSize(e.pageSize)
			x, m := Thresholds(usable)
			c := parseCell(p.Data, cellPointer(p, hdrLen, idx), false, usable, x, m)
			return fullCellPayload(p, e, c), true, nil
		}
		idx, _, child, err := e.searchInterior(p, key)
		if err != nil {
			return nil, false, err
		}
		// A split moves its separator up into the parent, so a key can sit
		// in an interior cell itself: the one just before the chosen child.
		if idx > 0 {
			usable := usableSize(e.pageSize)
			x, m := Thresholds(usable)
			c := parseCell(p.Data, cellPointer(p, headerLen(pageType(p)), idx-1), true, usable, x, m)
			full := fullCellPayload(p, e, c)
			rec, err := record.ParseRecord(full)
			if err != nil {
				return nil, false, err
			}
			if cmp, err := record.CompareRecords(key, rec, e.pkCount); err != nil || cmp == 0 {
				return full, err == nil, err
			}
		}
		pageNum = child
	}
}

// Remove deletes the cell-pointer for the entry matching key, if present.
// The cell's bytes remain as dead space on the page; any overflow chain the
// entry owned is not reclaimed.
func (e *Engine) Remove(keyRecordBytes []byte) (removed bool, err error) {
	key, err := record.ParseRecord(keyRecordBytes)
	if err != nil {
		return false, err
	}
	pageNum := e.rootPage
	for {
		p, err := e.cache.GetPage(pageNum)
		if err != nil {
			return false, err
		}
		if !isInterior(pageType(p)) {
			idx, found, err := e.searchLeaf(p, key)
			if err != nil {
				return false, err
			}
			if !found {
				return false, nil
			}
			hdrLen := headerLen(pageType(p))
			removeCellPointer(p, hdrLen, idx)
			e.cache.MarkDirty(p.Number)
			return true, nil
		}
		_, _, child, err := e.searchInterior(p, key)
		if err != nil {
			return false, err
		}
		pageNum = child
	}
}
