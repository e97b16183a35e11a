// Package pagecache provides page caches for disk-resident paged files: a
// tiered, heat-aware MiraPageCache, a plain-LRU HeapPageCache, and an
// unbounded in-memory MemPageCache for testing consumers.
package pagecache

import (
	"errors"

	pagemanager "github.com/miradb/miracache/core/page_manager"
)

var (
	// ErrPageNotFound reports a fetch of a page id the cache cannot
	// materialize.
	ErrPageNotFound = errors.New("page not found")
)

// PageCache is the contract between a paged index (e.g. a B+tree) and its
// page source.
//
// NewPage and FetchPage return with the page's upgradable read latch held
// and one pin handed to the caller. The caller may upgrade the latch for
// writes and must, when done, call UnpinPage while still holding the latch
// (the latch proves buffer stability for any writeback UnpinPage performs)
// and only then release the latch.
type PageCache interface {
	// NewPage allocates a fresh page with a zeroed buffer.
	NewPage() (*pagemanager.Page, error)

	// FetchPage returns the page for id, reading it from the backing store
	// on a miss.
	FetchPage(id pagemanager.PageID) (*pagemanager.Page, error)

	// PinPage adds a pin to a live page, preventing eviction.
	PinPage(page *pagemanager.Page)

	// UnpinPage drops one pin. With dirty=true the page is marked dirty
	// first. See the interface comment for the latch protocol.
	UnpinPage(page *pagemanager.Page, dirty bool) error

	// FlushPage writes the page back if dirty and clears the dirty flag.
	// The caller must hold at least the upgradable read latch.
	FlushPage(page *pagemanager.Page) error

	// FlushAll writes back every dirty cached page, best-effort per page.
	FlushAll() error

	// Size returns the number of cached pages.
	Size() int

	// PageSize returns the fixed page size in bytes.
	PageSize() int
}
