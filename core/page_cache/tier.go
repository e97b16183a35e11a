package pagecache

import (
	"container/list"

	pagemanager "github.com/miradb/miracache/core/page_manager"
)

// tier is an LRU-ordered set of cached pages: a doubly linked list with the
// most recently used page at the front, plus an index for O(1) lookup.
// Callers guard a tier with the owning cache's tier mutex.
type tier struct {
	name     string
	capacity int
	list     *list.List // of *miraPage, MRU at front
	index    map[pagemanager.PageID]*list.Element
}

func newTier(name string, capacity int) *tier {
	return &tier{
		name:     name,
		capacity: capacity,
		list:     list.New(),
		index:    make(map[pagemanager.PageID]*list.Element),
	}
}

func (t *tier) len() int   { return t.list.Len() }
func (t *tier) full() bool { return t.list.Len() >= t.capacity }

// get returns the entry for id without disturbing LRU order.
func (t *tier) get(id pagemanager.PageID) *miraPage {
	if e, ok := t.index[id]; ok {
		return e.Value.(*miraPage)
	}
	return nil
}

// touch returns the entry for id after splicing it to the MRU front.
func (t *tier) touch(id pagemanager.PageID) *miraPage {
	e, ok := t.index[id]
	if !ok {
		return nil
	}
	t.list.MoveToFront(e)
	return e.Value.(*miraPage)
}

// insertFront adds a new entry at the MRU front. The id must not be present.
func (t *tier) insertFront(mp *miraPage) {
	t.index[mp.page.GetPageID()] = t.list.PushFront(mp)
}

// remove detaches and returns the entry for id, or nil.
func (t *tier) remove(id pagemanager.PageID) *miraPage {
	e, ok := t.index[id]
	if !ok {
		return nil
	}
	delete(t.index, id)
	return t.list.Remove(e).(*miraPage)
}

// removeElement detaches a known element, for eviction scans that already
// hold a cursor.
func (t *tier) removeElement(e *list.Element) *miraPage {
	mp := e.Value.(*miraPage)
	delete(t.index, mp.page.GetPageID())
	t.list.Remove(e)
	return mp
}
