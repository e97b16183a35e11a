package pagecache

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	heapfile "github.com/miradb/miracache/core/heap_file"
	pagemanager "github.com/miradb/miracache/core/page_manager"
	"go.uber.org/zap"
)

// pressureBatch is how many pages NewPage tries to shed when the cache is
// already at full occupancy.
const pressureBatch = 10

// MiraPageCache is a tiered, heat-aware page cache over a heap file. Newly
// materialized pages are admitted probabilistically into a small hot tier or
// a larger cold tier; accesses recompute a heat score that drives cold->hot
// promotion and hot->cold demotion; eviction scans each tier's LRU end,
// skipping pinned pages and writing dirty victims back first.
//
// Lock ordering: hotMu before coldMu when both are needed; the heap file's
// internal mutex is innermost and is never held while acquiring a tier
// mutex. The pin table is mutated only while holding both tier mutexes and
// may be read under either one.
type MiraPageCache struct {
	heap     *heapfile.HeapFile
	pageSize int
	start    time.Time
	logger   *zap.Logger

	// Runtime-tunable policy knobs.
	knobMu               sync.RWMutex
	promotionThreshold   float64
	admissionProbability float64
	forceMissProbability float64

	// Cache-scoped RNG for the admission policy and the force-miss knob.
	rngMu sync.Mutex
	rng   *rand.Rand

	hotMu  sync.Mutex
	coldMu sync.Mutex
	hot    *tier
	cold   *tier
	pins   map[pagemanager.PageID]int

	stats CacheStats
}

var _ PageCache = (*MiraPageCache)(nil)

// NewMiraPageCache opens (or with create=true initializes) the heap file at
// filename and builds a cache over it.
func NewMiraPageCache(filename string, create bool, opts Options, logger *zap.Logger) (*MiraPageCache, error) {
	heap, err := heapfile.Open(filename, create, opts.PageSize, logger)
	if err != nil {
		return nil, err
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	c := &MiraPageCache{
		heap:                 heap,
		pageSize:             opts.PageSize,
		start:                time.Now(),
		logger:               logger.Named("mira_page_cache").With(zap.String("cache_id", uuid.NewString())),
		promotionThreshold:   opts.PromotionThreshold,
		admissionProbability: opts.AdmissionProbability,
		forceMissProbability: opts.ForceMissProbability,
		rng:                  rand.New(rand.NewSource(seed)),
		hot:                  newTier("hot", opts.HotCapacity),
		cold:                 newTier("cold", opts.ColdCapacity),
		pins:                 make(map[pagemanager.PageID]int),
	}
	c.logger.Info("Cache initialized",
		zap.Int("hot_capacity", opts.HotCapacity),
		zap.Int("cold_capacity", opts.ColdCapacity),
		zap.Float64("promotion_threshold", opts.PromotionThreshold),
		zap.Int("page_size", opts.PageSize))
	return c, nil
}

// now returns milliseconds of monotonic time since the cache started.
func (c *MiraPageCache) now() uint64 {
	ms := time.Since(c.start).Milliseconds()
	if ms < 0 {
		return 0
	}
	return uint64(ms)
}

func (c *MiraPageCache) rand01() float64 {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return c.rng.Float64()
}

// NewPage allocates a fresh page id in the heap file and admits a zeroed
// page for it. The page is returned pinned with its upgradable latch held.
func (c *MiraPageCache) NewPage() (*pagemanager.Page, error) {
	if c.Size() >= c.hot.capacity+c.cold.capacity {
		c.EvictUnderPressure(pressureBatch)
	}

	id, err := c.heap.NewPageID()
	if err != nil {
		return nil, fmt.Errorf("new page: %w", err)
	}

	page := pagemanager.NewPage(id, c.pageSize)
	page.UpgradableRLock()

	threshold := c.currentThreshold()
	c.hotMu.Lock()
	c.coldMu.Lock()
	c.admitLocked(newMiraPage(page, c.now()), threshold)
	c.pins[id]++
	page.Pin()
	c.coldMu.Unlock()
	c.hotMu.Unlock()

	c.stats.inserts.Add(1)
	return page, nil
}

// FetchPage returns the page for id, pinned and with its upgradable latch
// held. On a cache miss the page content is read from the heap file.
func (c *MiraPageCache) FetchPage(id pagemanager.PageID) (*pagemanager.Page, error) {
	c.knobMu.RLock()
	forceMiss := c.forceMissProbability
	threshold := c.promotionThreshold
	c.knobMu.RUnlock()

	if forceMiss > 0 && c.rand01() < forceMiss {
		return c.fetchForceMiss(id)
	}

	if page := c.fetchResident(id, threshold); page != nil {
		c.stats.hits.Add(1)
		return page, nil
	}

	c.stats.misses.Add(1)
	return c.fetchFromDisk(id)
}

// fetchResident serves a hit out of either tier: splice to MRU front, pin,
// refresh access metadata, and promote out of cold if the new heat clears
// the threshold.
func (c *MiraPageCache) fetchResident(id pagemanager.PageID, threshold float64) *pagemanager.Page {
	c.hotMu.Lock()
	c.coldMu.Lock()

	inCold := false
	mp := c.hot.touch(id)
	if mp == nil {
		mp = c.cold.touch(id)
		inCold = mp != nil
	}
	if mp == nil {
		c.coldMu.Unlock()
		c.hotMu.Unlock()
		return nil
	}

	c.pinLocked(mp.page)
	mp.touch(c.now())
	if inCold && mp.heat > threshold {
		c.promoteLocked(id, threshold)
	}
	page := mp.page
	c.coldMu.Unlock()
	c.hotMu.Unlock()

	page.UpgradableRLock()
	return page
}

// fetchFromDisk materializes a missing page: read the bytes under an
// exclusive latch, then admit the page into a tier. The disk read happens
// before insertion so a failed read leaves no half-inserted entry.
func (c *MiraPageCache) fetchFromDisk(id pagemanager.PageID) (*pagemanager.Page, error) {
	page := pagemanager.NewPage(id, c.pageSize)
	page.UpgradableRLock()
	page.UpgradeLock()
	if err := c.heap.ReadPage(id, page.GetData()); err != nil {
		page.UpgradedUnlock()
		return nil, fmt.Errorf("fetch page %d: %w", id, err)
	}
	page.DowngradeLock()

	threshold := c.currentThreshold()
	c.hotMu.Lock()
	c.coldMu.Lock()

	// Another goroutine may have materialized the same id while we were
	// reading; a page id must live in at most one tier, so use theirs.
	existing := c.hot.touch(id)
	if existing == nil {
		existing = c.cold.touch(id)
	}
	if existing != nil {
		c.pinLocked(existing.page)
		c.coldMu.Unlock()
		c.hotMu.Unlock()
		page.UpgradableRUnlock()
		existing.page.UpgradableRLock()
		return existing.page, nil
	}

	c.admitLocked(newMiraPage(page, c.now()), threshold)
	c.pins[id]++
	page.Pin()
	c.coldMu.Unlock()
	c.hotMu.Unlock()
	return page, nil
}

// fetchForceMiss services the force-miss knob: count a miss and re-read the
// bytes from disk even when the page is resident. A resident page is
// refreshed in place (flushing it first if dirty) rather than duplicated, so
// an id never lives in two tiers.
func (c *MiraPageCache) fetchForceMiss(id pagemanager.PageID) (*pagemanager.Page, error) {
	c.stats.misses.Add(1)

	c.hotMu.Lock()
	c.coldMu.Lock()
	mp := c.hot.touch(id)
	if mp == nil {
		mp = c.cold.touch(id)
	}
	if mp != nil {
		c.pinLocked(mp.page)
	}
	c.coldMu.Unlock()
	c.hotMu.Unlock()

	if mp == nil {
		return c.fetchFromDisk(id)
	}

	page := mp.page
	page.UpgradableRLock()
	page.UpgradeLock()
	if page.IsDirty() {
		if err := c.heap.WritePage(id, page.GetData()); err != nil {
			return nil, c.abortForcedRead(page, err)
		}
		page.SetDirty(false)
		c.stats.flushes.Add(1)
	}
	if err := c.heap.ReadPage(id, page.GetData()); err != nil {
		return nil, c.abortForcedRead(page, err)
	}
	page.DowngradeLock()
	return page, nil
}

// abortForcedRead unwinds a failed forced re-read: drop the pin taken for
// the caller and release the latch.
func (c *MiraPageCache) abortForcedRead(page *pagemanager.Page, err error) error {
	page.DowngradeLock()
	if uerr := c.UnpinPage(page, false); uerr != nil {
		c.logger.Error("Unpin after failed forced read", zap.Error(uerr))
	}
	page.UpgradableRUnlock()
	return fmt.Errorf("forced re-read of page %d: %w", page.GetPageID(), err)
}

// PinPage adds a pin to a live page. On the 0->1 transition the page is
// spliced to the MRU front of its tier.
func (c *MiraPageCache) PinPage(page *pagemanager.Page) {
	if page == nil {
		return
	}
	c.hotMu.Lock()
	c.coldMu.Lock()
	c.pinLocked(page)
	c.coldMu.Unlock()
	c.hotMu.Unlock()
}

// pinLocked requires both tier mutexes.
func (c *MiraPageCache) pinLocked(page *pagemanager.Page) {
	id := page.GetPageID()
	c.pins[id]++
	page.Pin()
	if c.pins[id] == 1 {
		if c.hot.touch(id) == nil {
			c.cold.touch(id)
		}
	}
}

// UnpinPage drops one pin. With dirty=true the page is marked dirty first.
// When the pin count reaches zero on a dirty page the bytes are written back
// synchronously, in this goroutine, relying on the upgradable latch the
// caller still holds to keep the buffer stable. Unpinning a page whose pin
// count is already zero is a caller defect and is logged and ignored.
func (c *MiraPageCache) UnpinPage(page *pagemanager.Page, dirty bool) error {
	if page == nil {
		return nil
	}
	if dirty {
		page.SetDirty(true)
	}
	id := page.GetPageID()

	becameZero := false
	c.hotMu.Lock()
	c.coldMu.Lock()
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
	c.coldMu.Unlock()
	c.hotMu.Unlock()

	if becameZero && page.IsDirty() {
		return c.FlushPage(page)
	}
	return nil
}

// FlushPage writes the page back if dirty and clears the dirty flag. The
// caller must hold a latch proving the buffer is stable.
func (c *MiraPageCache) FlushPage(page *pagemanager.Page) error {
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

// FlushAll writes back every dirty page in both tiers, best-effort per page:
// failures are logged and the sweep continues. The first error is returned.
func (c *MiraPageCache) FlushAll() error {
	dirty := c.collectDirty(&c.hotMu, c.hot)
	dirty = append(dirty, c.collectDirty(&c.coldMu, c.cold)...)

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

// collectDirty snapshots the dirty pages of one tier. The latches are taken
// afterwards, outside the tier mutex, so that latch holders who are about to
// unpin (which takes the tier mutexes) cannot deadlock against the sweep.
func (c *MiraPageCache) collectDirty(mu *sync.Mutex, t *tier) []*pagemanager.Page {
	mu.Lock()
	defer mu.Unlock()
	var dirty []*pagemanager.Page
	for e := t.list.Front(); e != nil; e = e.Next() {
		if mp := e.Value.(*miraPage); mp.page.IsDirty() {
			dirty = append(dirty, mp.page)
		}
	}
	return dirty
}

// Size returns the total number of cached pages across both tiers.
func (c *MiraPageCache) Size() int {
	c.hotMu.Lock()
	c.coldMu.Lock()
	n := c.hot.len() + c.cold.len()
	c.coldMu.Unlock()
	c.hotMu.Unlock()
	return n
}

// PageSize returns the fixed page size in bytes.
func (c *MiraPageCache) PageSize() int { return c.pageSize }

// Stats returns a snapshot of the cache counters.
func (c *MiraPageCache) Stats() StatsSnapshot { return c.stats.Snapshot() }

// ResetStats zeroes all counters.
func (c *MiraPageCache) ResetStats() { c.stats.Reset() }

// LogStats emits the counters through the cache logger.
func (c *MiraPageCache) LogStats() { c.stats.Log(c.logger) }

// SetPromotionThreshold adjusts the heat threshold at runtime.
func (c *MiraPageCache) SetPromotionThreshold(threshold float64) {
	c.knobMu.Lock()
	c.promotionThreshold = threshold
	c.knobMu.Unlock()
}

// SetAdmissionProbability adjusts the hot-tier admission probability.
func (c *MiraPageCache) SetAdmissionProbability(p float64) {
	c.knobMu.Lock()
	c.admissionProbability = clamp01(p)
	c.knobMu.Unlock()
}

// SetForceMissProbability adjusts the forced-miss stress knob.
func (c *MiraPageCache) SetForceMissProbability(p float64) {
	c.knobMu.Lock()
	c.forceMissProbability = clamp01(p)
	c.knobMu.Unlock()
}

func (c *MiraPageCache) currentThreshold() float64 {
	c.knobMu.RLock()
	defer c.knobMu.RUnlock()
	return c.promotionThreshold
}

func (c *MiraPageCache) currentAdmissionProbability() float64 {
	c.knobMu.RLock()
	defer c.knobMu.RUnlock()
	return c.admissionProbability
}

func clamp01(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}

// Close flushes all dirty pages and closes the heap file.
func (c *MiraPageCache) Close() error {
	flushErr := c.FlushAll()
	if err := c.heap.Close(); err != nil {
		return err
	}
	return flushErr
}
