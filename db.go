// Package btreedb is a single-file, single-index key/value store in the
// SQLite 3 on-disk format: any SQLite 3 client can open a file this package
// writes and read its rows directly. It implements exactly one index
// b-tree, synchronously, with no journaling and no concurrent-writer
// support — see internal/btree for the engine and internal/cache for the
// page pool underneath it.
package btreedb

import (
	"fmt"
	"os"
	"strings"

	"github.com/chainindex/btreedb/internal/btree"
	"github.com/chainindex/btreedb/internal/cache"
	"github.com/chainindex/btreedb/internal/dberr"
	"github.com/chainindex/btreedb/internal/format"
	"github.com/chainindex/btreedb/internal/logging"
	"github.com/chainindex/btreedb/internal/record"
)

// Config holds the constructor parameters that are stable across a file's
// lifetime: they describe the schema and storage layout of the index this
// file holds, not anything reconfigurable per-Open.
type Config struct {
	// ColumnCount is the total number of columns in the index record,
	// including the PK prefix. Must be >= PKCount.
	ColumnCount int
	// PKCount is the number of leading columns that make up the primary
	// key; must be >= 1.
	PKCount int
	// ColumnNames names all ColumnCount columns, in declared order. Recorded
	// verbatim into the file's sqlite_schema CREATE TABLE text.
	ColumnNames []string
	// TableName is the logical name SQLite tooling will display for this
	// index's underlying table.
	TableName string
	// PageSize is a power of two in [512, 65536]. Zero selects
	// format.DefaultPageSize. Ignored (and read back from the file) when
	// opening an existing database.
	PageSize int
	// CacheSize is the resident page count. Zero disables caching AND
	// disables file-backed mode entirely — an in-memory-only tree, for
	// tests — since Open then hands the page cache no file (see
	// cacheBackingFile).
	CacheSize int
	// FileName is the host path; created if absent.
	FileName string
}

func (c Config) validate() error {
	if c.PKCount < 1 {
		return dberr.NewBadArgument("pk_count", "must be at least 1")
	}
	if c.ColumnCount < c.PKCount {
		return dberr.NewBadArgument("column_count", "must be at least pk_count")
	}
	if len(c.ColumnNames) != c.ColumnCount {
		return dberr.NewBadArgument("column_names", "must name exactly column_count columns")
	}
	if c.TableName == "" {
		return dberr.NewBadArgument("table_name", "must not be empty")
	}
	if c.PageSize != 0 && !format.IsValidPageSize(c.PageSize) {
		return dberr.NewBadArgument("page_size", "must be a power of two in [512, 65536]")
	}
	if c.CacheSize < 0 {
		return dberr.NewBadArgument("cache_size", "must not be negative")
	}
	if c.FileName == "" {
		return dberr.NewBadArgument("file_name", "must not be empty")
	}
	return nil
}

// DB is one open index file.
type DB struct {
	cfg    Config
	file   *os.File
	cache  *cache.Cache
	engine *btree.Engine
	header *format.Header

	// cacheOwnsFile is true once the page cache has taken ownership of file
	// (CacheSize > 0): its Close both flushes and closes the descriptor.
	// When CacheSize == 0 the cache never touches file at all (in-memory
	// mode), so Close must close the descriptor itself.
	cacheOwnsFile bool
}

// Open creates or resumes an index file per cfg. A brand-new file gets a
// fresh 100-byte header, a one-row sqlite_schema page declaring the table,
// and an empty root leaf page. An existing file has its header and schema
// row read back to recover the page count and root page.
func Open(cfg Config) (*DB, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	pageSize := cfg.PageSize
	if pageSize == 0 {
		pageSize = format.DefaultPageSize
	}

	file, err := os.OpenFile(cfg.FileName, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, dberr.NewIO("open", cfg.FileName, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, dberr.NewIO("stat", cfg.FileName, err)
	}

	var db *DB
	if info.Size() == 0 {
		db, err = createNew(file, cfg, pageSize)
	} else {
		db, err = openExisting(file, cfg, pageSize)
	}
	if err != nil {
		file.Close()
		return nil, err
	}

	logging.DatabaseOpened(cfg.FileName, pageSize, cfg.CacheSize, "root_page", db.engine.RootPage())
	return db, nil
}

func createNew(file *os.File, cfg Config, pageSize int) (*DB, error) {
	cacheFile, cacheOwnsFile := cacheBackingFile(file, cfg.CacheSize)
	c := cache.Open(cacheFile, pageSize, cfg.CacheSize, 0)

	page1, err := c.GetNewPage(0)
	if err != nil {
		return nil, err
	}
	root, err := btree.NewLeafIndexPage(c, pageSize)
	if err != nil {
		return nil, err
	}

	hdr := format.NewHeader(pageSize)
	hdr.DatabaseSize = 2
	copy(page1.Data, hdr.Serialize())

	createSQL := buildCreateTableSQL(cfg)
	if err := writeSchemaPage(page1.Data, pageSize, cfg.TableName, root.Number, createSQL); err != nil {
		return nil, err
	}
	c.MarkDirty(page1.Number)

	engine := btree.NewEngine(c, pageSize, cfg.PKCount, root.Number)
	return &DB{cfg: cfg, file: file, cache: c, engine: engine, header: hdr, cacheOwnsFile: cacheOwnsFile}, nil
}

// cacheBackingFile decides whether the page cache should own file: cache_size
// == 0 means in-memory-only mode, so the cache never reads or writes through
// to disk and the caller keeps ownership of file itself.
func cacheBackingFile(file *os.File, cacheSize int) (cacheFile *os.File, cacheOwns bool) {
	if cacheSize == 0 {
		return nil, false
	}
	return file, true
}

// openExisting resumes a file on disk. Note that cfg.CacheSize == 0 puts the
// resulting DB in pure in-memory mode (see cacheBackingFile): the header and
// page 1's schema row are read once here to recover the page count and root
// page number, but every later page fetch is served from memory with no
// reads from file, so pages already on disk come back zero-filled. That
// mode exists for tests against fresh files, not for durably resuming a
// long-lived database.
func openExisting(file *os.File, cfg Config, pageSize int) (*DB, error) {
	headerBytes := make([]byte, format.HeaderSize)
	if _, err := file.ReadAt(headerBytes, 0); err != nil {
		return nil, dberr.NewIO("read header", cfg.FileName, err)
	}
	hdr := &format.Header{}
	if err := hdr.Parse(headerBytes); err != nil {
		return nil, err
	}
	if err := hdr.Validate(); err != nil {
		return nil, err
	}

	actualPageSize := hdr.GetPageSize()
	page1 := make([]byte, actualPageSize)
	if _, err := file.ReadAt(page1, 0); err != nil {
		return nil, dberr.NewIO("read page 1", cfg.FileName, err)
	}
	tableName, rootPage, err := readSchemaRow(page1)
	if err != nil {
		return nil, err
	}
	// The file's own sqlite_schema row is authoritative: it's what Close
	// will write back, so a caller's guessed or placeholder TableName (the
	// CLI derives one from the file path before it has ever read the file)
	// must never overwrite the name the file was actually created with.
	cfg.TableName = tableName

	cacheFile, cacheOwnsFile := cacheBackingFile(file, cfg.CacheSize)
	c := cache.Open(cacheFile, actualPageSize, cfg.CacheSize, hdr.DatabaseSize)
	engine := btree.NewEngine(c, actualPageSize, cfg.PKCount, rootPage)
	return &DB{cfg: cfg, file: file, cache: c, engine: engine, header: hdr, cacheOwnsFile: cacheOwnsFile}, nil
}

// buildCreateTableSQL renders the sqlite_schema sql column text: a WITHOUT
// ROWID table declaration, matching how this engine actually stores rows —
// keyed by their primary-key prefix with no separate rowid column.
func buildCreateTableSQL(cfg Config) string {
	return fmt.Sprintf("CREATE TABLE %s (%s, PRIMARY KEY (%s)) WITHOUT ROWID",
		cfg.TableName,
		strings.Join(cfg.ColumnNames, ", "),
		strings.Join(cfg.ColumnNames[:cfg.PKCount], ", "))
}

// PutRecord inserts or overwrites the entry whose PK-prefix columns match
// values'. values must supply exactly cfg.ColumnCount columns, PK columns
// first. This is the general form of put(key_bytes, key_len, value_bytes,
// value_len) with key_len < 0: the caller supplies the already-structured
// record rather than two separate byte ranges.
func (db *DB) PutRecord(values []record.Value) error {
	if len(values) != db.cfg.ColumnCount {
		return dberr.NewBadArgument("values", "must supply exactly column_count columns")
	}
	payload, err := record.MakeRecord(values)
	if err != nil {
		return err
	}
	return db.PutEncoded(payload)
}

// PutEncoded inserts a pre-encoded record payload directly, bypassing column
// assembly — the key_len < 0 convention of put(), spelled as its own method
// since Go slices already carry their own length.
func (db *DB) PutEncoded(payload []byte) error {
	if err := db.engine.Put(payload); err != nil {
		logging.EngineError("put", err)
		return err
	}
	return nil
}

// Put is the common single-key/single-value convenience: it stores key and
// value as the two columns of a ColumnCount==2, PKCount==1 schema. Use
// PutRecord directly for any other column layout.
func (db *DB) Put(key, value []byte) error {
	if db.cfg.PKCount != 1 || db.cfg.ColumnCount != 2 {
		return dberr.NewBadArgument("schema", "Put requires pk_count=1 and column_count=2; use PutRecord")
	}
	return db.PutRecord([]record.Value{record.BlobValue(key), record.BlobValue(value)})
}

// GetRecord looks up the entry whose PK-prefix columns match keyValues
// (which must supply at least PKCount columns) and returns its full decoded
// record.
func (db *DB) GetRecord(keyValues []record.Value) (*record.Record, bool, error) {
	payload, err := record.MakeRecord(padForLookup(keyValues, db.cfg.ColumnCount))
	if err != nil {
		return nil, false, err
	}
	full, found, err := db.engine.Get(payload)
	if err != nil {
		logging.EngineError("get", err)
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	rec, err := record.ParseRecord(full)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// Get is the single-key/single-value convenience matching Put.
func (db *DB) Get(key []byte) (value []byte, found bool, err error) {
	if db.cfg.PKCount != 1 || db.cfg.ColumnCount != 2 {
		return nil, false, dberr.NewBadArgument("schema", "Get requires pk_count=1 and column_count=2; use GetRecord")
	}
	rec, found, err := db.GetRecord([]record.Value{record.BlobValue(key)})
	if err != nil || !found {
		return nil, found, err
	}
	return rec.Values[1].Blob, true, nil
}

// RemoveRecord deletes the entry whose PK-prefix columns match keyValues, if
// present. The cell's bytes and any overflow chain it owned are left
// unreclaimed; see btree.Engine.Remove.
func (db *DB) RemoveRecord(keyValues []record.Value) (removed bool, err error) {
	payload, err := record.MakeRecord(padForLookup(keyValues, db.cfg.ColumnCount))
	if err != nil {
		return false, err
	}
	removed, err = db.engine.Remove(payload)
	if err != nil {
		logging.EngineError("remove", err)
		return false, err
	}
	return removed, nil
}

// Remove is the single-key/single-value convenience matching Put.
func (db *DB) Remove(key []byte) (removed bool, err error) {
	if db.cfg.PKCount != 1 || db.cfg.ColumnCount != 2 {
		return false, dberr.NewBadArgument("schema", "Remove requires pk_count=1 and column_count=2; use RemoveRecord")
	}
	return db.RemoveRecord([]record.Value{record.BlobValue(key)})
}

// padForLookup extends a PK-only value slice to columnCount entries with
// NULLs, so a lookup key is encoded with the same column count as a stored
// record, even though lookups only ever compare the PK prefix.
func padForLookup(keyValues []record.Value, columnCount int) []record.Value {
	if len(keyValues) >= columnCount {
		return keyValues
	}
	out := make([]record.Value, columnCount)
	copy(out, keyValues)
	for i := len(keyValues); i < columnCount; i++ {
		out[i] = record.NullValue()
	}
	return out
}

// Close rewrites page 1's page count and root-page columns, flushes every
// dirty page, and releases the file.
func (db *DB) Close() error {
	pageCount := db.cache.PageCount()
	flushed := 0

	page1, err := db.cache.GetPage(1)
	if err != nil {
		return err
	}
	db.header.DatabaseSize = pageCount
	copy(page1.Data, db.header.Serialize())
	createSQL := buildCreateTableSQL(db.cfg)
	if err := writeSchemaPage(page1.Data, len(page1.Data), db.cfg.TableName, db.engine.RootPage(), createSQL); err != nil {
		return err
	}
	db.cache.MarkDirty(1)

	for n := uint32(1); n <= pageCount; n++ {
		if db.cache.IsDirty(n) {
			flushed++
		}
	}

	if err := db.cache.Close(); err != nil {
		logging.EngineError("close", err)
		return err
	}
	if !db.cacheOwnsFile {
		if err := db.file.Close(); err != nil {
			err = dberr.NewIO("close", db.cfg.FileName, err)
			logging.EngineError("close", err)
			return err
		}
	}

	logging.DatabaseClosed(db.cfg.FileName, int(pageCount), flushed)
	return nil
}
