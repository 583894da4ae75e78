// Command sqlidx builds and inspects btreedb index files.
package main

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/ulikunitz/xz"
	"github.com/zeebo/blake3"
	_ "modernc.org/sqlite"

	"github.com/chainindex/btreedb"
	"github.com/chainindex/btreedb/internal/logging"
)

const version = "0.1.0"

// CLI defines the command-line interface for sqlidx.
var CLI struct {
	Create   CreateCmd   `cmd:"" help:"Create a new index file"`
	Put      PutCmd      `cmd:"" help:"Insert or overwrite a key/value pair"`
	Get      GetCmd      `cmd:"" help:"Look up a key"`
	Remove   RemoveCmd   `cmd:"" help:"Delete a key"`
	Verify   VerifyCmd   `cmd:"" help:"Check a file against a real SQLite reader"`
	Export   ExportCmd   `cmd:"" help:"Compress a closed index file with xz"`
	Generate GenerateCmd `cmd:"" help:"Fill an index with synthetic sample rows"`
	Version  VersionCmd  `cmd:"" help:"Print version information"`
}

// CreateCmd creates a new empty index file.
type CreateCmd struct {
	Path      string `arg:"" help:"Output index file path" type:"path"`
	Table     string `required:"" help:"Logical table name recorded in sqlite_schema"`
	PageSize  int    `help:"Page size, a power of two in [512, 65536]" default:"4096"`
	CacheSize int    `help:"Resident page count; 0 builds an in-memory-only tree" default:"2000"`
}

func (c *CreateCmd) Run() error {
	db, err := btreedb.Open(btreedb.Config{
		ColumnCount: 2,
		PKCount:     1,
		ColumnNames: []string{"key", "value"},
		TableName:   c.Table,
		PageSize:    c.PageSize,
		CacheSize:   c.CacheSize,
		FileName:    c.Path,
	})
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer db.Close()

	fmt.Printf("Created: %s\n", c.Path)
	fmt.Printf("  Table:      %s\n", c.Table)
	fmt.Printf("  Page size:  %d\n", c.PageSize)
	fmt.Printf("  Cache size: %d\n", c.CacheSize)
	return nil
}

// PutCmd inserts a single key/value pair into an existing index.
type PutCmd struct {
	Path  string `arg:"" help:"Index file path" type:"existingfile"`
	Key   string `arg:"" help:"Key"`
	Value string `arg:"" help:"Value"`
}

func (c *PutCmd) Run() error {
	db, err := openForCommand(c.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Put([]byte(c.Key), []byte(c.Value)); err != nil {
		return fmt.Errorf("put: %w", err)
	}
	fmt.Printf("Stored: %s\n", c.Key)
	return nil
}

// GetCmd looks up a key and prints its value.
type GetCmd struct {
	Path string `arg:"" help:"Index file path" type:"existingfile"`
	Key  string `arg:"" help:"Key"`
}

func (c *GetCmd) Run() error {
	db, err := openForCommand(c.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	value, found, err := db.Get([]byte(c.Key))
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}
	if !found {
		fmt.Printf("Not found: %s\n", c.Key)
		return nil
	}
	fmt.Printf("%s\n", value)
	return nil
}

// RemoveCmd deletes a key.
type RemoveCmd struct {
	Path string `arg:"" help:"Index file path" type:"existingfile"`
	Key  string `arg:"" help:"Key"`
}

func (c *RemoveCmd) Run() error {
	db, err := openForCommand(c.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	removed, err := db.Remove([]byte(c.Key))
	if err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	if !removed {
		fmt.Printf("Not found: %s\n", c.Key)
		return nil
	}
	fmt.Printf("Removed: %s\n", c.Key)
	return nil
}

// VerifyCmd opens a closed index file through a real SQLite implementation
// and runs an integrity check, alongside a content hash of the raw file.
type VerifyCmd struct {
	Path string `arg:"" help:"Index file path" type:"existingfile"`
}

func (c *VerifyCmd) Run() error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	hash := blake3.Sum256(data)

	sqlDB, err := sql.Open("sqlite", c.Path)
	if err != nil {
		return fmt.Errorf("open with sqlite driver: %w", err)
	}
	defer sqlDB.Close()

	var integrity string
	if err := sqlDB.QueryRow("PRAGMA integrity_check").Scan(&integrity); err != nil {
		return fmt.Errorf("integrity_check: %w", err)
	}

	var tableName string
	if err := sqlDB.QueryRow("SELECT tbl_name FROM sqlite_schema LIMIT 1").Scan(&tableName); err != nil {
		return fmt.Errorf("read sqlite_schema: %w", err)
	}

	var rowCount int
	if err := sqlDB.QueryRow(fmt.Sprintf("SELECT count(*) FROM %s", tableName)).Scan(&rowCount); err != nil {
		return fmt.Errorf("count rows: %w", err)
	}

	fmt.Printf("Verified: %s\n", c.Path)
	fmt.Printf("  BLAKE3:          %x\n", hash)
	fmt.Printf("  Integrity check: %s\n", integrity)
	fmt.Printf("  Table:           %s\n", tableName)
	fmt.Printf("  Rows:            %d\n", rowCount)
	if integrity != "ok" {
		return fmt.Errorf("integrity check failed: %s", integrity)
	}
	return nil
}

// ExportCmd compresses a closed, flushed index file for handoff.
type ExportCmd struct {
	Path string `arg:"" help:"Index file path" type:"existingfile"`
	Out  string `required:"" help:"Output .xz path" type:"path"`
}

func (c *ExportCmd) Run() error {
	in, err := os.Open(c.Path)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer in.Close()

	out, err := os.Create(c.Out)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer out.Close()

	w, err := xz.NewWriter(out)
	if err != nil {
		return fmt.Errorf("create xz writer: %w", err)
	}
	n, err := io.Copy(w, in)
	if err != nil {
		return fmt.Errorf("compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish xz stream: %w", err)
	}

	fmt.Printf("Exported: %s\n", c.Out)
	fmt.Printf("  Source bytes: %d\n", n)
	return nil
}

// GenerateCmd fills an index with synthetic rows, for exercising the engine
// at scale without an external data source.
type GenerateCmd struct {
	Path      string `arg:"" help:"Output index file path" type:"path"`
	Table     string `required:"" help:"Logical table name recorded in sqlite_schema"`
	Count     int    `help:"Number of rows to generate" default:"1000"`
	PageSize  int    `help:"Page size, a power of two in [512, 65536]" default:"4096"`
	CacheSize int    `help:"Resident page count; 0 builds an in-memory-only tree" default:"2000"`
}

func (c *GenerateCmd) Run() error {
	db, err := btreedb.Open(btreedb.Config{
		ColumnCount: 2,
		PKCount:     1,
		ColumnNames: []string{"key", "value"},
		TableName:   c.Table,
		PageSize:    c.PageSize,
		CacheSize:   c.CacheSize,
		FileName:    c.Path,
	})
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer db.Close()

	for i := 0; i < c.Count; i++ {
		key := strconv.Itoa(i)
		value := uuid.New().String()
		if err := db.Put([]byte(key), []byte(value)); err != nil {
			return fmt.Errorf("put row %d: %w", i, err)
		}
	}

	fmt.Printf("Generated: %s\n", c.Path)
	fmt.Printf("  Table: %s\n", c.Table)
	fmt.Printf("  Rows:  %d\n", c.Count)
	return nil
}

// VersionCmd prints the CLI version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("sqlidx %s\n", version)
	return nil
}

// openForCommand opens an existing index file with defaults appropriate for
// a one-shot CLI invocation: a warm cache, never in-memory-only, since an
// in-memory tree built here would vanish the instant the command returns.
// TableName is only a placeholder to satisfy Config.validate before the file
// is read back; Open recovers the real name from the file's own
// sqlite_schema row and Close writes that recovered name back, never this
// one.
func openForCommand(path string) (*btreedb.DB, error) {
	started := time.Now()
	db, err := btreedb.Open(btreedb.Config{
		ColumnCount: 2,
		PKCount:     1,
		ColumnNames: []string{"key", "value"},
		TableName:   strings.TrimSuffix(filepath.Base(path), ".db"),
		CacheSize:   2000,
		FileName:    path,
	})
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	logging.Debug("opened for CLI command", "path", path, "elapsed", time.Since(started))
	return db, nil
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("sqlidx"),
		kong.Description("btreedb - SQLite-compatible single-index b-tree engine"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
