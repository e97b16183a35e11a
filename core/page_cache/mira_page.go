package pagecache

import (
	"math"

	pagemanager "github.com/miradb/miracache/core/page_manager"
)

// miraPage wraps a page with the access metadata the tiering policy runs on.
// The fields are guarded by the tier mutexes of the owning cache.
type miraPage struct {
	page        *pagemanager.Page
	lastAccess  uint64 // milliseconds since cache start
	accessCount uint32
	heat        float64
}

func newMiraPage(page *pagemanager.Page, now uint64) *miraPage {
	return &miraPage{
		page:        page,
		lastAccess:  now,
		accessCount: 1,
		heat:        1.0,
	}
}

// touch records an access at time now: bumps the access count (saturating),
// recomputes heat against the time since the previous access, and advances
// the last-access timestamp.
func (mp *miraPage) touch(now uint64) {
	if mp.accessCount < math.MaxUint32 {
		mp.accessCount++
	}
	mp.heat = computeHeat(mp.accessCount, now, mp.lastAccess)
	mp.lastAccess = now
}

// computeHeat rewards frequency and recency: count / ln(1 + elapsed). The
// elapsed time is clamped to at least one millisecond so back-to-back
// accesses do not divide by ln(1).
func computeHeat(count uint32, now, lastAccess uint64) float64 {
	elapsed := uint64(1)
	if now > lastAccess {
		elapsed = now - lastAccess
	}
	return float64(count) / math.Log(float64(elapsed+1))
}
