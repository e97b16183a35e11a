package pagemanager

import (
	"math"
	"sync/atomic"
)

// PageID identifies a page slot within a heap file. IDs are dense and
// allocated from 0 upward, so the all-ones value is reserved as the invalid
// sentinel.
type PageID uint32

const InvalidPageID PageID = math.MaxUint32

// Page is the in-memory copy of one disk page: a fixed-size byte buffer
// tagged with its PageID, a dirty flag, and a latch guarding the buffer
// contents. Pin counts are owned by the cache's pin table; the counter here
// is a mirror kept for diagnostics.
type Page struct {
	id       PageID
	data     []byte
	dirty    atomic.Bool
	pinCount atomic.Int32

	// latch protects the page buffer. The cache returns pages with the
	// upgradable read side held so callers can upgrade to exclusive writes.
	latch UpgradableRWMutex
}

// NewPage creates a page with a zeroed buffer of the given size.
func NewPage(id PageID, size int) *Page {
	return &Page{
		id:   id,
		data: make([]byte, size),
	}
}

func (p *Page) GetPageID() PageID { return p.id }
func (p *Page) GetData() []byte   { return p.data }

func (p *Page) IsDirty() bool       { return p.dirty.Load() }
func (p *Page) SetDirty(dirty bool) { p.dirty.Store(dirty) }
func (p *Page) GetPinCount() int32  { return p.pinCount.Load() }

// Pin and Unpin maintain the diagnostic mirror of the cache's pin table.
// Unpin saturates at zero rather than going negative on a double unpin.
func (p *Page) Pin() { p.pinCount.Add(1) }
func (p *Page) Unpin() {
	for {
		c := p.pinCount.Load()
		if c == 0 {
			return
		}
		if p.pinCount.CompareAndSwap(c, c-1) {
			return
		}
	}
}

// --- Latch methods ---

// RLock acquires a shared read latch on the page buffer.
func (p *Page) RLock() { p.latch.RLock() }

// RUnlock releases a shared read latch.
func (p *Page) RUnlock() { p.latch.RUnlock() }

// Lock acquires an exclusive write latch on the page buffer.
func (p *Page) Lock() { p.latch.Lock() }

// TryLock attempts the exclusive write latch without blocking.
func (p *Page) TryLock() bool { return p.latch.TryLock() }

// Unlock releases an exclusive write latch.
func (p *Page) Unlock() { p.latch.Unlock() }

// UpgradableRLock acquires the upgradable read latch. The cache hands pages
// back to callers with this latch held.
func (p *Page) UpgradableRLock() { p.latch.UpgradableRLock() }

// UpgradableRUnlock releases the upgradable read latch.
func (p *Page) UpgradableRUnlock() { p.latch.UpgradableRUnlock() }

// UpgradeLock converts the held upgradable latch into an exclusive latch.
func (p *Page) UpgradeLock() { p.latch.UpgradeLock() }

// DowngradeLock converts an upgraded exclusive latch back to upgradable.
func (p *Page) DowngradeLock() { p.latch.DowngradeLock() }

// UpgradedUnlock fully releases a latch that was upgraded with UpgradeLock.
func (p *Page) UpgradedUnlock() { p.latch.UpgradedUnlock() }
