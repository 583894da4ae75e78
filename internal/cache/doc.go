// Package cache: page pool overview.
//
// The cache owns a fixed number of resident pages. GetPage/GetNewPage are the
// only ways a page buffer reaches the b-tree engine; once returned, a page's
// slice is valid until the next call that may evict (any further GetPage or
// GetNewPage). Callers that need to retain a value past that point must copy
// it out first.
//
// Eviction runs a clock sweep: each resident page carries a recent bit set
// on access and cleared on its first pass under the clock hand. A page with
// the bit already clear is the victim; if dirty, it is flushed before its
// slot is reused. This is single-threaded and synchronous by design — see
// the engine's concurrency model, which assumes one owner and no concurrent
// mutation of a cache instance.
package cache
