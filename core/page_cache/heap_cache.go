package pagecache

import (
	"fmt"
	"sync"

	heapfile "github.com/miradb/miracache/core/heap_file"
	pagemanager "github.com/miradb/miracache/core/page_manager"
	"go.uber.org/zap"
)

// HeapPageCache is a single-tier plain-LRU page cache over a heap file: the
// baseline the tiered cache is measured against. It shares the MiraPageCache
// pin and latch protocol but has no admission or heat policy.
type HeapPageCache struct {
	heap     *heapfile.HeapFile
	pageSize int
	logger   *zap.Logger

	mu    sync.Mutex
	pages *tier
	pins  map[pagemanager.PageID]int

	stats CacheStats
}

var _ PageCache = (*HeapPageCache)(nil)

// NewHeapPageCache opens (or with create=true initializes) the heap file at
// filename and builds a plain LRU cache of at most maxPages pages over it.
func NewHeapPageCache(filename string, create bool, maxPages, pageSize int, logger *zap.Logger) (*HeapPageCache, error) {
	heap, err := heapfile.Open(filename, create, pageSize, logger)
	if err != nil {
		return nil, err
	}
	return &HeapPageCache{
		heap:     heap,
		pageSize: pageSize,
		logger:   logger.Named("heap_page_cache"),
		pages:    newTier("lru", maxPages),
		pins:     make(map[pagemanager.PageID]int),
	}, nil
}

func (c *HeapPageCache) NewPage() (*pagemanager.Page, error) {
	id, err := c.heap.NewPageID()
	if err != nil {
		return nil, fmt.Errorf("new page: %w", err)
	}
	page := pagemanager.NewPage(id, c.pageSize)
	page.UpgradableRLock()

	c.mu.Lock()
	c.insertLRU(newMiraPage(page, 0))
	c.pins[id]++
	page.Pin()
	c.mu.Unlock()

	c.stats.inserts.Add(1)
	return page, nil
}

func (c *HeapPageCache) FetchPage(id pagemanager.PageID) (*pagemanager.Page, error) {
	c.mu.Lock()
	if mp := c.pages.touch(id); mp != nil {
		c.pins[id]++
		mp.page.Pin()
		page := mp.page
		c.mu.Unlock()
		c.stats.hits.Add(1)
		page.UpgradableRLock()
		return page, nil
	}
	c.mu.Unlock()
	c.stats.misses.Add(1)

	page := pagemanager.NewPage(id, c.pageSize)
	page.UpgradableRLock()
	page.UpgradeLock()
	if err := c.heap.ReadPage(id, page.GetData()); err != nil {
		page.UpgradedUnlock()
		return nil, fmt.Errorf("fetch page %d: %w", id, err)
	}
	page.DowngradeLock()

	c.mu.Lock()
	if existing := c.pages.touch(id); existing != nil {
		c.pins[id]++
		existing.page.Pin()
		c.mu.Unlock()
		page.UpgradableRUnlock()
		existing.page.UpgradableRLock()
		return existing.page, nil
	}
	c.insertLRU(newMiraPage(page, 0))
	c.pins[id]++
	page.Pin()
	c.mu.Unlock()
	return page, nil
}

// insertLRU requires c.mu. A full cache evicts from the LRU end first; if
// every candidate is pinned the cache exceeds capacity transiently.
func (c *HeapPageCache) insertLRU(mp *miraPage) {
	if c.pages.full() {
		if !c.evictLocked() {
			c.logger.Warn("All eviction candidates pinned; cache exceeding capacity",
				zap.Int("size", c.pages.len()+1))
		}
	}
	c.pages.insertFront(mp)
}

// evictLocked requires c.mu.
func (c *HeapPageCache) evictLocked() bool {
	for e := c.pages.list.Back(); e != nil; e = e.Prev() {
		mp := e.Value.(*miraPage)
		id := mp.page.GetPageID()
		if c.pins[id] > 0 {
			continue
		}
		if mp.page.IsDirty() {
			if !mp.page.TryLock() {
				continue
			}
			err := c.heap.WritePage(id, mp.page.GetData())
			if err == nil {
				mp.page.SetDirty(false)
				c.stats.flushes.Add(1)
			}
			mp.page.Unlock()
			if err != nil {
				c.logger.Error("Writeback of eviction victim failed",
					zap.Uint32("page_id", uint32(id)), zap.Error(err))
				continue
			}
		}
		c.pages.removeElement(e)
		c.stats.evictions.Add(1)
		return true
	}
	return false
}

func (c *HeapPageCache) PinPage(page *pagemanager.Page) {
	if page == nil {
		return
	}
	c.mu.Lock()
	id := page.GetPageID()
	c.pins[id]++
	page.Pin()
	if c.pins[id] == 1 {
		c.pages.touch(id)
	}
	c.mu.Unlock()
}

func (c *HeapPageCache) UnpinPage(page *pagemanager.Page, dirty bool) error {
	if page == nil {
		return nil
	}
	if dirty {
		page.SetDirty(true)
	}
	id := page.GetPageID()

	becameZero := false
	c.mu.Lock()
	if n, ok := c.pins[id]; ok && n > 0 {
		if n == 1 {
			delete(c.pins, id)
			becameZero = true
		} else {
			c.pins[id] = n - 1
		}
		page.Unpin()
	} else {
		c.logger.Warn("Unpin of page with zero pin count", zap.Uint32("page_id", uint32(id)))
	}
	c.mu.Unlock()

	if becameZero && page.IsDirty() {
		return c.FlushPage(page)
	}
	return nil
}

func (c *HeapPageCache) FlushPage(page *pagemanager.Page) error {
	if page == nil || !page.IsDirty() {
		return nil
	}
	if err := c.heap.WritePage(page.GetPageID(), page.GetData()); err != nil {
		return fmt.Errorf("flush page %d: %w", page.GetPageID(), err)
	}
	page.SetDirty(false)
	c.stats.flushes.Add(1)
	return nil
}

func (c *HeapPageCache) FlushAll() error {
	c.mu.Lock()
	var dirty []*pagemanager.Page
	for e := c.pages.list.Front(); e != nil; e = e.Next() {
		if mp := e.Value.(*miraPage); mp.page.IsDirty() {
			dirty = append(dirty, mp.page)
		}
	}
	c.mu.Unlock()

	var firstErr error
	for _, page := range dirty {
		page.Lock()
		if page.IsDirty() {
			if err := c.heap.WritePage(page.GetPageID(), page.GetData()); err != nil {
				c.logger.Error("Flush failed",
					zap.Uint32("page_id", uint32(page.GetPageID())), zap.Error(err))
				if firstErr == nil {
					firstErr = err
				}
			} else {
				page.SetDirty(false)
				c.stats.flushes.Add(1)
			}
		}
		page.Unlock()
	}
	return firstErr
}

func (c *HeapPageCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pages.len()
}

func (c *HeapPageCache) PageSize() int { return c.pageSize }

// Stats returns a snapshot of the cache counters.
func (c *HeapPageCache) Stats() StatsSnapshot { return c.stats.Snapshot() }

// ResetStats zeroes all counters.
func (c *HeapPageCache) ResetStats() { c.stats.Reset() }

// LogStats emits the counters through the cache logger.
func (c *HeapPageCache) LogStats() { c.stats.Log(c.logger) }

// Close flushes all dirty pages and closes the heap file.
func (c *HeapPageCache) Close() error {
	flushErr := c.FlushAll()
	if err := c.heap.Close(); err != nil {
		return err
	}
	return flushErr
}
