package cache

import (
	"os"
	"path/filepath"
	"testing"
)

func openTestFile(t *testing.T) *os.File {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestGetNewPageAllocatesSequentially(t *testing.T) {
	c := Open(openTestFile(t), 4096, 10, 0)
	p1, err := c.GetNewPage(0)
	if err != nil {
		t.Fatalf("GetNewPage: %v", err)
	}
	if p1.Number != 1 {
		t.Errorf("first page number = %d, want 1", p1.Number)
	}
	p2, err := c.GetNewPage(0)
	if err != nil {
		t.Fatalf("GetNewPage: %v", err)
	}
	if p2.Number != 2 {
		t.Errorf("second page number = %d, want 2", p2.Number)
	}
	if c.PageCount() != 2 {
		t.Errorf("PageCount() = %d, want 2", c.PageCount())
	}
}

func TestMarkDirtyAndFlush(t *testing.T) {
	file := openTestFile(t)
	c := Open(file, 4096, 10, 0)
	p, err := c.GetNewPage(0)
	if err != nil {
		t.Fatalf("GetNewPage: %v", err)
	}
	p.Data[0] = 0x42
	c.MarkDirty(p.Number)
	if !c.IsDirty(p.Number) {
		t.Fatal("page should be dirty after MarkDirty")
	}
	if !p.Changed() {
		t.Fatal("page's reserved changed bit should be set after MarkDirty")
	}

	if err := c.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if c.IsDirty(p.Number) {
		t.Fatal("page should not be dirty after Flush")
	}

	readBack := make([]byte, 4096)
	if _, err := file.ReadAt(readBack, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if readBack[0] != 0x42 {
		t.Errorf("flushed byte = %#x, want 0x42", readBack[0])
	}
}

func TestInMemoryModeNeverTouchesFile(t *testing.T) {
	c := Open(nil, 4096, 0, 0)
	p, err := c.GetNewPage(0)
	if err != nil {
		t.Fatalf("GetNewPage: %v", err)
	}
	c.MarkDirty(p.Number)
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush on a nil-file cache should be a no-op, got: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close on a nil-file cache should be a no-op, got: %v", err)
	}
}

func TestEvictionRespectsCapacity(t *testing.T) {
	c := Open(openTestFile(t), 4096, 2, 0)
	p1, _ := c.GetNewPage(0)
	_, _ = c.GetNewPage(0)
	// A third allocation beyond capacity 2 must evict something.
	_, err := c.GetNewPage(0)
	if err != nil {
		t.Fatalf("GetNewPage: %v", err)
	}
	if len(c.pages) > 2 {
		t.Errorf("resident set has %d pages, want at most 2", len(c.pages))
	}
	// Re-fetching the first page must not fail even if it was evicted.
	if _, err := c.GetPage(p1.Number); err != nil {
		t.Fatalf("GetPage after eviction: %v", err)
	}
}

func TestGetNewPageSkipsLockBytePage(t *testing.T) {
	pageSize := 512
	lockPage := uint32(lockBytePageOffset/int64(pageSize)) + 1
	c := Open(openTestFile(t), pageSize, 10, lockPage-1)

	p, err := c.GetNewPage(0)
	if err != nil {
		t.Fatalf("GetNewPage: %v", err)
	}
	if p.Number != lockPage+1 {
		t.Errorf("GetNewPage landed on page %d, want %d (lock-byte page %d skipped)", p.Number, lockPage+1, lockPage)
	}
	if c.PageCount() != lockPage+1 {
		t.Errorf("PageCount() = %d, want %d", c.PageCount(), lockPage+1)
	}
}

func TestLevelAndChangedBitsIndependent(t *testing.T) {
	c := Open(openTestFile(t), 4096, 10, 0)
	p, err := c.GetNewPage(0)
	if err != nil {
		t.Fatalf("GetNewPage: %v", err)
	}
	p.SetLevel(7)
	c.MarkDirty(p.Number)
	if p.Level() != 7 {
		t.Errorf("Level() = %d, want 7", p.Level())
	}
	if !p.Changed() {
		t.Error("Changed() should remain true after SetLevel")
	}
}
