package pagecache

import (
	"container/list"
	"math"

	pagemanager "github.com/miradb/miracache/core/page_manager"
	"go.uber.org/zap"
)

// All helpers in this file require both tier mutexes (hotMu before coldMu).

// insertLocked puts mp at the MRU front of t, evicting from the same tier
// first if it is at capacity. If every candidate is pinned the tier exceeds
// its capacity transiently; that is logged, not an error, and never blocks.
func (c *MiraPageCache) insertLocked(t *tier, mp *miraPage, threshold float64) {
	if t.full() {
		if !c.evictFromTierLocked(t, threshold) {
			c.logger.Warn("All eviction candidates pinned; tier exceeding capacity",
				zap.String("tier", t.name), zap.Int("size", t.len()+1))
		}
	}
	t.insertFront(mp)
}

// evictFromTierLocked walks t from the LRU end looking for an unpinned
// victim. Dirty victims are written back first. A hot victim whose heat is
// below the promotion threshold is demoted to cold instead of dropped; with an
// infinite threshold nothing is demoted. Returns whether a slot was freed in t.
func (c *MiraPageCache) evictFromTierLocked(t *tier, threshold float64) bool {
	for e := t.list.Back(); e != nil; e = e.Prev() {
		mp := e.Value.(*miraPage)
		id := mp.page.GetPageID()
		if c.pins[id] > 0 {
			continue
		}
		if !c.writeBackLocked(mp) {
			continue
		}
		if t == c.hot && mp.heat < threshold && !math.IsInf(threshold, 1) {
			c.moveLocked(c.hot, c.cold, id, threshold)
			c.stats.demotes.Add(1)
			return true
		}
		t.removeElement(e)
		c.stats.evictions.Add(1)
		return true
	}
	return false
}

// writeBackLocked flushes a dirty victim before it leaves the cache.
// Returns false when the victim must be skipped: its latch is contended or
// the write failed (dropping it then would lose the only copy).
func (c *MiraPageCache) writeBackLocked(mp *miraPage) bool {
	page := mp.page
	if !page.IsDirty() {
		return true
	}
	if !page.TryLock() {
		return false
	}
	defer page.Unlock()
	if !page.IsDirty() {
		return true
	}
	if err := c.heap.WritePage(page.GetPageID(), page.GetData()); err != nil {
		c.logger.Error("Writeback of eviction victim failed",
			zap.Uint32("page_id", uint32(page.GetPageID())), zap.Error(err))
		return false
	}
	page.SetDirty(false)
	c.stats.flushes.Add(1)
	return true
}

// maybeDemoteLocked moves the minimum-heat unpinned hot page strictly below
// the threshold into cold, making room for a promotion. Returns whether a
// page was demoted.
func (c *MiraPageCache) maybeDemoteLocked(threshold float64) bool {
	minHeat := threshold
	var minE *list.Element
	for e := c.hot.list.Front(); e != nil; e = e.Next() {
		mp := e.Value.(*miraPage)
		if mp.heat < minHeat && c.pins[mp.page.GetPageID()] == 0 {
			minHeat = mp.heat
			minE = e
		}
	}
	if minE == nil {
		return false
	}
	c.moveLocked(c.hot, c.cold, minE.Value.(*miraPage).page.GetPageID(), threshold)
	c.stats.demotes.Add(1)
	return true
}

// moveLocked is the single cross-tier move primitive: detach id from one
// tier and insert it at the MRU front of the other, making room in the
// destination first. Moving into hot prefers demoting a low-heat page over
// evicting one.
func (c *MiraPageCache) moveLocked(from, to *tier, id pagemanager.PageID, threshold float64) bool {
	mp := from.remove(id)
	if mp == nil {
		return false
	}
	if to == c.hot && to.full() {
		c.maybeDemoteLocked(threshold)
	}
	c.insertLocked(to, mp, threshold)
	return true
}

// promoteLocked moves id from cold to hot.
func (c *MiraPageCache) promoteLocked(id pagemanager.PageID, threshold float64) {
	if c.moveLocked(c.cold, c.hot, id, threshold) {
		c.stats.promotes.Add(1)
	}
}

// EvictUnderPressure frees up to n unpinned pages, preferring the cold
// tier's LRU end (up to n/2) before turning to the hot tier for the
// remainder. Returns the number of pages actually freed, which may be less
// than n when candidates are pinned.
func (c *MiraPageCache) EvictUnderPressure(n int) int {
	if n <= 0 {
		return 0
	}
	c.hotMu.Lock()
	c.coldMu.Lock()
	freedCold := c.shedLocked(c.cold, n/2)
	freedHot := 0
	if freedCold < n {
		freedHot = c.shedLocked(c.hot, n-freedCold)
	}
	c.coldMu.Unlock()
	c.hotMu.Unlock()

	c.logger.Info("Memory pressure eviction",
		zap.Int("requested", n), zap.Int("freed_cold", freedCold), zap.Int("freed_hot", freedHot))
	return freedCold + freedHot
}

// shedLocked drops up to limit unpinned pages from the LRU end of t,
// restarting the scan after each removal so the cursor never dangles.
func (c *MiraPageCache) shedLocked(t *tier, limit int) int {
	freed := 0
	e := t.list.Back()
	for e != nil && freed < limit {
		mp := e.Value.(*miraPage)
		if c.pins[mp.page.GetPageID()] > 0 || !c.writeBackLocked(mp) {
			e = e.Prev()
			continue
		}
		t.removeElement(e)
		c.stats.evictions.Add(1)
		freed++
		e = t.list.Back()
	}
	return freed
}
