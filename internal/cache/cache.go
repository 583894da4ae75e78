// Package cache implements the fixed-capacity resident page pool that
// mediates every read and write against the database file: it translates
// 1-based page numbers to in-memory buffers, tracks which pages are dirty,
// and evicts and allocates pages under a clock discipline.
package cache

import (
	"io"
	"os"

	"github.com/chainindex/btreedb/internal/dberr"
	"github.com/chainindex/btreedb/internal/format"
)

// lockBytePageOffset is the file offset of SQLite's lock-byte page (2^30).
// The page whose body covers this offset is never allocated for b-tree use.
const lockBytePageOffset = 1 << 30

// Page is a single resident page. Data always has length pageSize; the
// trailing format.ReservedBytes belong to the b-tree engine, which stores
// the node's tree level and a changed flag in the first reserved byte.
type Page struct {
	Number uint32
	Data   []byte
}

// Level returns the tree level the b-tree engine stamped into this page's
// reserved trailer.
func (p *Page) Level() uint8 {
	return p.reservedByte() & 0x1f
}

// SetLevel stamps the tree level into the reserved trailer, preserving the
// changed flag.
func (p *Page) SetLevel(level uint8) {
	b := p.reservedByte()
	p.setReservedByte((b &^ 0x1f) | (level & 0x1f))
}

// Changed reports the reserved trailer's changed flag, which MarkDirty sets.
// The cache decides what to write back from its own dirty set (IsDirty), not
// from this bit, and Flush does not clear it.
func (p *Page) Changed() bool {
	return p.reservedByte()&0x40 != 0
}

func (p *Page) setChanged(v bool) {
	b := p.reservedByte()
	if v {
		b |= 0x40
	} else {
		b &^= 0x40
	}
	p.setReservedByte(b)
}

func (p *Page) reservedByte() byte {
	return p.Data[len(p.Data)-format.ReservedBytes]
}

func (p *Page) setReservedByte(b byte) {
	p.Data[len(p.Data)-format.ReservedBytes] = b
}

// Cache is the resident page pool for one open database file.
type Cache struct {
	file     *os.File
	pageSize int
	capacity int

	pages map[uint32]*Page
	dirty map[uint32]bool

	// clockHand and recent implement a clock (second-chance) eviction
	// policy: ring is the admission order, recent marks pages touched since
	// their last sweep.
	ring      []uint32
	recent    map[uint32]bool
	clockHand int

	pageCount uint32 // highest page number ever allocated (file's page count)
}

// Open creates a Cache backed by file, with the given page size, resident
// capacity, and the page count recovered from the file header (0 for a
// brand-new file, whose first GetNewPage then allocates page 1). capacity ==
// 0 leaves the resident set unbounded. A nil file is what disables
// file-backed mode: every page then lives only in memory and is never read
// from or flushed to disk, for in-memory-only use in tests.
func Open(file *os.File, pageSize, capacity int, pageCount uint32) *Cache {
	return &Cache{
		file:      file,
		pageSize:  pageSize,
		capacity:  capacity,
		pages:     make(map[uint32]*Page),
		dirty:     make(map[uint32]bool),
		recent:    make(map[uint32]bool),
		pageCount: pageCount,
	}
}

// PageCount returns the highest allocated page number, i.e. the file's
// logical page count.
func (c *Cache) PageCount() uint32 { return c.pageCount }

// GetPage returns the page numbered n, reading it from the file if it is not
// resident.
func (c *Cache) GetPage(n uint32) (*Page, error) {
	if p, ok := c.pages[n]; ok {
		c.touch(n)
		return p, nil
	}

	p := &Page{Number: n, Data: make([]byte, c.pageSize)}
	if c.file != nil {
		if _, err := c.file.ReadAt(p.Data, int64(n-1)*int64(c.pageSize)); err != nil && err != io.EOF {
			return nil, dberr.NewIO("read page", c.file.Name(), err)
		}
	}
	if err := c.admit(p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetNewPage allocates a fresh page, numbered file_page_count+1, skipping the
// lock-byte page number if that is what the next allocation would land on.
// hintSibling, if nonzero, biases eviction away from that page number so a
// split's two halves are not evicted against each other mid-operation.
func (c *Cache) GetNewPage(hintSibling uint32) (*Page, error) {
	next := c.pageCount + 1
	if isLockBytePage(next, c.pageSize) {
		next++
	}
	c.pageCount = next

	p := &Page{Number: next, Data: make([]byte, c.pageSize)}
	if err := c.admitBiased(p, hintSibling); err != nil {
		return nil, err
	}
	c.MarkDirty(next)
	return p, nil
}

func isLockBytePage(n uint32, pageSize int) bool {
	return int64(n-1)*int64(pageSize) == lockBytePageOffset
}

// MarkDirty sets the page's reserved changed bit and records it in the
// cache's dirty set.
func (c *Cache) MarkDirty(n uint32) {
	if p, ok := c.pages[n]; ok {
		p.setChanged(true)
	}
	c.dirty[n] = true
}

// IsDirty reports whether page n is currently marked dirty.
func (c *Cache) IsDirty(n uint32) bool {
	return c.dirty[n]
}

// Flush writes every dirty resident page to the file and clears their dirty
// state. A nil-file cache (in-memory mode) is a no-op.
func (c *Cache) Flush() error {
	if c.file == nil {
		return nil
	}
	for n := range c.dirty {
		p, ok := c.pages[n]
		if !ok {
			continue
		}
		if err := c.writeThrough(p); err != nil {
			return err
		}
	}
	c.dirty = make(map[uint32]bool)
	return nil
}

// Close flushes dirty pages and releases the underlying file.
func (c *Cache) Close() error {
	if err := c.Flush(); err != nil {
		return err
	}
	if c.file == nil {
		return nil
	}
	if err := c.file.Close(); err != nil {
		return dberr.NewIO("close", c.file.Name(), err)
	}
	return nil
}

func (c *Cache) writeThrough(p *Page) error {
	if _, err := c.file.WriteAt(p.Data, int64(p.Number-1)*int64(c.pageSize)); err != nil {
		return dberr.NewIO("write page", c.file.Name(), err)
	}
	return nil
}

func (c *Cache) touch(n uint32) {
	c.recent[n] = true
}

func (c *Cache) admit(p *Page) error {
	return c.admitBiased(p, 0)
}

// admitBiased inserts p into the resident set, evicting a victim under the
// clock policy if the pool is already at capacity. hintSibling, when
// nonzero, is skipped as a victim candidate on every pass around the ring,
// so it is never the page evicted.
func (c *Cache) admitBiased(p *Page, hintSibling uint32) error {
	if c.capacity > 0 && len(c.pages) >= c.capacity {
		if err := c.evictOne(hintSibling); err != nil {
			return err
		}
	}
	c.pages[p.Number] = p
	c.ring = append(c.ring, p.Number)
	c.recent[p.Number] = true
	return nil
}

// evictOne runs one clock sweep: pages with their recent bit set are given a
// second chance (bit cleared, skipped); the first page found with the bit
// already clear is evicted, flushing it first if dirty.
func (c *Cache) evictOne(hintSibling uint32) error {
	if len(c.ring) == 0 {
		return dberr.NewIO("evict", "", io.ErrShortBuffer)
	}

	for pass := 0; pass < 2*len(c.ring)+1; pass++ {
		if len(c.ring) == 0 {
			break
		}
		if c.clockHand >= len(c.ring) {
			c.clockHand = 0
		}
		n := c.ring[c.clockHand]

		if _, resident := c.pages[n]; !resident {
			c.ring = append(c.ring[:c.clockHand], c.ring[c.clockHand+1:]...)
			continue
		}

		if n == hintSibling || c.recent[n] {
			c.recent[n] = false
			c.clockHand++
			continue
		}

		victim := c.pages[n]
		if c.dirty[n] {
			if err := c.writeThrough(victim); err != nil {
				return err
			}
			delete(c.dirty, n)
		}
		delete(c.pages, n)
		delete(c.recent, n)
		c.ring = append(c.ring[:c.clockHand], c.ring[c.clockHand+1:]...)
		return nil
	}

	return dberr.NewIO("evict", "", io.ErrShortBuffer)
}
