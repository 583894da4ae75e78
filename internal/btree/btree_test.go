package btree

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/chainindex/btreedb/internal/cache"
	"github.com/chainindex/btreedb/internal/record"
)

func newTestEngine(t *testing.T, pageSize, capacity int) *Engine {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	t.Cleanup(func() { f.Close() })

	c := cache.Open(f, pageSize, capacity, 0)
	root, err := NewLeafIndexPage(c, pageSize)
	if err != nil {
		t.Fatalf("NewLeafIndexPage: %v", err)
	}
	return NewEngine(c, pageSize, 1, root.Number)
}

func encodeRow(t *testing.T, key int, value string) []byte {
	t.Helper()
	buf, err := record.MakeRecord([]record.Value{record.IntValue(int64(key)), record.TextValue(value)})
	if err != nil {
		t.Fatalf("MakeRecord: %v", err)
	}
	return buf
}

func TestPutGetSingleRow(t *testing.T) {
	e := newTestEngine(t, 4096, 50)
	if err := e.Put(encodeRow(t, 1, "hello")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	key, err := record.MakeRecord([]record.Value{record.IntValue(1), record.NullValue()})
	if err != nil {
		t.Fatalf("MakeRecord: %v", err)
	}
	got, found, err := e.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatal("expected key 1 to be found")
	}
	rec, err := record.ParseRecord(got)
	if err != nil {
		t.Fatalf("ParseRecord: %v", err)
	}
	if rec.Values[1].Text != "hello" {
		t.Errorf("value = %q, want %q", rec.Values[1].Text, "hello")
	}
}

func TestGetMissingKey(t *testing.T) {
	e := newTestEngine(t, 4096, 50)
	if err := e.Put(encodeRow(t, 1, "hello")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	key, _ := record.MakeRecord([]record.Value{record.IntValue(99), record.NullValue()})
	_, found, err := e.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Fatal("key 99 should not be found")
	}
}

func TestPutOverwriteSameEncodedLength(t *testing.T) {
	e := newTestEngine(t, 4096, 50)
	if err := e.Put(encodeRow(t, 1, "aaaaa")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := e.Put(encodeRow(t, 1, "zzzzz")); err != nil {
		t.Fatalf("Put (overwrite): %v", err)
	}
	key, _ := record.MakeRecord([]record.Value{record.IntValue(1), record.NullValue()})
	got, found, err := e.Get(key)
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	rec, _ := record.ParseRecord(got)
	if rec.Values[1].Text != "zzzzz" {
		t.Errorf("value = %q, want %q", rec.Values[1].Text, "zzzzz")
	}
}

func TestPutOverwriteDifferentEncodedLength(t *testing.T) {
	e := newTestEngine(t, 4096, 50)
	if err := e.Put(encodeRow(t, 1, "short")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := e.Put(encodeRow(t, 1, "a very much longer replacement value")); err != nil {
		t.Fatalf("Put (overwrite): %v", err)
	}
	key, _ := record.MakeRecord([]record.Value{record.IntValue(1), record.NullValue()})
	got, found, err := e.Get(key)
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	rec, _ := record.ParseRecord(got)
	if rec.Values[1].Text != "a very much longer replacement value" {
		t.Errorf("value = %q", rec.Values[1].Text)
	}
}

func TestRemove(t *testing.T) {
	e := newTestEngine(t, 4096, 50)
	if err := e.Put(encodeRow(t, 1, "hello")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	key, _ := record.MakeRecord([]record.Value{record.IntValue(1), record.NullValue()})

	removed, err := e.Remove(key)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !removed {
		t.Fatal("expected Remove to report removed=true")
	}

	_, found, err := e.Get(key)
	if err != nil {
		t.Fatalf("Get after Remove: %v", err)
	}
	if found {
		t.Fatal("key should not be found after Remove")
	}

	removedAgain, err := e.Remove(key)
	if err != nil {
		t.Fatalf("Remove (already gone): %v", err)
	}
	if removedAgain {
		t.Fatal("second Remove of the same key should report removed=false")
	}
}

// TestManyInsertsForceSplitsAndRootGrowth inserts enough rows on a small page
// size to force leaf splits, interior splits, and at least one root growth,
// then confirms every row is still reachable in order.
func TestManyInsertsForceSplitsAndRootGrowth(t *testing.T) {
	e := newTestEngine(t, 512, 1000)
	const n = 500

	for i := 0; i < n; i++ {
		if err := e.Put(encodeRow(t, i, fmt.Sprintf("value-%04d", i))); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}

	for i := 0; i < n; i++ {
		key, _ := record.MakeRecord([]record.Value{record.IntValue(int64(i)), record.NullValue()})
		got, found, err := e.Get(key)
		if err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
		if !found {
			t.Fatalf("key %d not found after %d inserts", i, n)
		}
		rec, err := record.ParseRecord(got)
		if err != nil {
			t.Fatalf("ParseRecord(%d): %v", i, err)
		}
		want := fmt.Sprintf("value-%04d", i)
		if rec.Values[1].Text != want {
			t.Fatalf("key %d value = %q, want %q", i, rec.Values[1].Text, want)
		}
	}

	rootPage, err := e.cache.GetPage(e.RootPage())
	if err != nil {
		t.Fatalf("GetPage(root): %v", err)
	}
	if !isInterior(pageType(rootPage)) {
		t.Fatal("root should have grown into an interior page after this many inserts")
	}
}

// recordOfLength builds a one-column-key, one-column-blob record whose total
// MakeRecord encoding is exactly totalLen bytes, by probing the fixed-key
// overhead with an empty blob and sizing the blob to make up the difference.
func recordOfLength(t *testing.T, key int64, totalLen int) []byte {
	t.Helper()
	probe, err := record.MakeRecord([]record.Value{record.IntValue(key), record.BlobValue(nil)})
	if err != nil {
		t.Fatalf("MakeRecord (probe): %v", err)
	}
	bloblen := totalLen - len(probe)
	// The probe's empty blob has a one-byte serial type; a longer blob's
	// serial-type varint can be wider, and that extra width comes out of the
	// blob itself.
	bloblen -= record.VarintLen(uint64(12+2*bloblen)) - 1
	if bloblen < 0 {
		t.Fatalf("target length %d is below the minimum record overhead %d", totalLen, len(probe))
	}
	blob := make([]byte, bloblen)
	for i := range blob {
		blob[i] = byte(i)
	}
	payload, err := record.MakeRecord([]record.Value{record.IntValue(key), record.BlobValue(blob)})
	if err != nil {
		t.Fatalf("MakeRecord: %v", err)
	}
	if len(payload) != totalLen {
		t.Fatalf("built record of length %d, want %d", len(payload), totalLen)
	}
	return payload
}

// TestOverflowThresholdBoundaries exercises onPagePayload's switch between
// fully-local and overflow-chained storage at the exact byte lengths where
// its behavior can change: the on-page maximum X itself, one byte past it
// (the first length that must spill to overflow), and the two lengths
// bracketing the U-4 modulus used by the trial size K.
func TestOverflowThresholdBoundaries(t *testing.T) {
	pageSize := 4096
	usable := usableSize(pageSize)
	x, _ := Thresholds(usable)

	cases := []struct {
		name   string
		length int
	}{
		{"at_X", x},
		{"X_plus_1", x + 1},
		{"U_minus_4", usable - 4},
		{"U_minus_3", usable - 3},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			e := newTestEngine(t, pageSize, 50)
			payload := recordOfLength(t, 1, c.length)
			if err := e.Put(payload); err != nil {
				t.Fatalf("Put: %v", err)
			}

			key, _ := record.MakeRecord([]record.Value{record.IntValue(1), record.NullValue()})
			got, found, err := e.Get(key)
			if err != nil || !found {
				t.Fatalf("Get: found=%v err=%v", found, err)
			}
			if !bytes.Equal(got, payload) {
				t.Fatalf("round-tripped record (%d bytes) does not match original (%d bytes)", len(got), len(payload))
			}
		})
	}
}

func TestOverflowPayloadRoundTrips(t *testing.T) {
	e := newTestEngine(t, 512, 1000)
	big := make([]byte, 5000)
	for i := range big {
		big[i] = byte(i)
	}
	payload, err := record.MakeRecord([]record.Value{record.IntValue(1), record.BlobValue(big)})
	if err != nil {
		t.Fatalf("MakeRecord: %v", err)
	}
	if err := e.Put(payload); err != nil {
		t.Fatalf("Put: %v", err)
	}

	key, _ := record.MakeRecord([]record.Value{record.IntValue(1), record.NullValue()})
	got, found, err := e.Get(key)
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	rec, err := record.ParseRecord(got)
	if err != nil {
		t.Fatalf("ParseRecord: %v", err)
	}
	if len(rec.Values[1].Blob) != len(big) {
		t.Fatalf("blob length = %d, want %d", len(rec.Values[1].Blob), len(big))
	}
	for i := range big {
		if rec.Values[1].Blob[i] != big[i] {
			t.Fatalf("blob byte %d mismatch", i)
		}
	}
}
