package btreedb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chainindex/btreedb/internal/record"
)

func TestOpenCreatesNewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new.db")
	db, err := Open(Config{
		ColumnCount: 2,
		PKCount:     1,
		ColumnNames: []string{"key", "value"},
		TableName:   "kv",
		CacheSize:   100,
		FileName:    path,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestPutGetRemoveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	db, err := Open(Config{
		ColumnCount: 2,
		PKCount:     1,
		ColumnNames: []string{"key", "value"},
		TableName:   "kv",
		CacheSize:   100,
		FileName:    path,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.Put([]byte("foo"), []byte("bar")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	value, found, err := db.Get([]byte("foo"))
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if string(value) != "bar" {
		t.Errorf("value = %q, want %q", value, "bar")
	}

	removed, err := db.Remove([]byte("foo"))
	if err != nil || !removed {
		t.Fatalf("Remove: removed=%v err=%v", removed, err)
	}
	if _, found, err := db.Get([]byte("foo")); err != nil || found {
		t.Fatalf("Get after Remove: found=%v err=%v", found, err)
	}
}

func TestReopenRecoversRootPage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	cfg := Config{
		ColumnCount: 2,
		PKCount:     1,
		ColumnNames: []string{"key", "value"},
		TableName:   "kv",
		CacheSize:   100,
		FileName:    path,
	}

	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 200; i++ {
		key := []byte{byte(i), byte(i >> 8)}
		if err := db.Put(key, []byte("payload")); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	for i := 0; i < 200; i++ {
		key := []byte{byte(i), byte(i >> 8)}
		value, found, err := reopened.Get(key)
		if err != nil {
			t.Fatalf("Get(%d) after reopen: %v", i, err)
		}
		if !found {
			t.Fatalf("key %d missing after reopen", i)
		}
		if string(value) != "payload" {
			t.Fatalf("key %d value = %q", i, value)
		}
	}
}

// TestReopenKeepsOriginalTableName guards against a caller that only knows
// a file's path, not the exact name it was created with (as the CLI does):
// reopening with a different placeholder TableName must not overwrite the
// real name recorded in the file's sqlite_schema row.
func TestReopenKeepsOriginalTableName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "named.db")
	db, err := Open(Config{
		ColumnCount: 2,
		PKCount:     1,
		ColumnNames: []string{"key", "value"},
		TableName:   "orders",
		CacheSize:   100,
		FileName:    path,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(Config{
		ColumnCount: 2,
		PKCount:     1,
		ColumnNames: []string{"key", "value"},
		TableName:   "named", // a placeholder guessed from the file path
		CacheSize:   100,
		FileName:    path,
	})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.cfg.TableName != "orders" {
		t.Fatalf("reopened.cfg.TableName = %q, want %q (recovered from file)", reopened.cfg.TableName, "orders")
	}
	if err := reopened.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	tableName, _, err := readSchemaRow(data[:4096])
	if err != nil {
		t.Fatalf("readSchemaRow: %v", err)
	}
	if tableName != "orders" {
		t.Fatalf("on-disk table name = %q, want %q (must survive reopen with a different placeholder)", tableName, "orders")
	}
}

func TestInMemoryModeWorks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mem.db")
	db, err := Open(Config{
		ColumnCount: 2,
		PKCount:     1,
		ColumnNames: []string{"key", "value"},
		TableName:   "kv",
		CacheSize:   0,
		FileName:    path,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 50; i++ {
		if err := db.Put([]byte{byte(i)}, []byte("x")); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}
	value, found, err := db.Get([]byte{5})
	if err != nil || !found || string(value) != "x" {
		t.Fatalf("Get: found=%v err=%v value=%q", found, err, value)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestPutRequiresExactColumnCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cols.db")
	db, err := Open(Config{
		ColumnCount: 3,
		PKCount:     1,
		ColumnNames: []string{"key", "a", "b"},
		TableName:   "multi",
		CacheSize:   100,
		FileName:    path,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.PutRecord([]record.Value{record.IntValue(1)}); err == nil {
		t.Fatal("PutRecord with too few columns should fail")
	}
	if err := db.Put([]byte("k"), []byte("v")); err == nil {
		t.Fatal("Put (single key/value convenience) should reject a 3-column schema")
	}
}
