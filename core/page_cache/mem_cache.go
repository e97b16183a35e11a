package pagecache

import (
	"fmt"
	"sync"
	"sync/atomic"

	pagemanager "github.com/miradb/miracache/core/page_manager"
)

// MemPageCache is a trivial PageCache that keeps every page in memory
// forever: no backing file, no eviction, no pin bookkeeping. It exists so a
// paged index can be tested without disk I/O.
type MemPageCache struct {
	pageSize int
	nextID   atomic.Uint32
	mu       sync.RWMutex
	pages    map[pagemanager.PageID]*pagemanager.Page
}

var _ PageCache = (*MemPageCache)(nil)

func NewMemPageCache(pageSize int) *MemPageCache {
	return &MemPageCache{
		pageSize: pageSize,
		pages:    make(map[pagemanager.PageID]*pagemanager.Page),
	}
}

func (c *MemPageCache) NewPage() (*pagemanager.Page, error) {
	id := pagemanager.PageID(c.nextID.Add(1) - 1)
	page := pagemanager.NewPage(id, c.pageSize)
	c.mu.Lock()
	c.pages[id] = page
	c.mu.Unlock()
	page.UpgradableRLock()
	return page, nil
}

func (c *MemPageCache) FetchPage(id pagemanager.PageID) (*pagemanager.Page, error) {
	c.mu.RLock()
	page, ok := c.pages[id]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: page %d", ErrPageNotFound, id)
	}
	page.UpgradableRLock()
	return page, nil
}

func (c *MemPageCache) PinPage(page *pagemanager.Page) {}

func (c *MemPageCache) UnpinPage(page *pagemanager.Page, dirty bool) error {
	if dirty && page != nil {
		page.SetDirty(true)
	}
	return nil
}

func (c *MemPageCache) FlushPage(page *pagemanager.Page) error { return nil }
func (c *MemPageCache) FlushAll() error                        { return nil }

func (c *MemPageCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pages)
}

func (c *MemPageCache) PageSize() int { return c.pageSize }
