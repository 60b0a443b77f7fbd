// Page replacement with frequency-biased aging.
//
// The cache maps file-relative page offsets to resident pool pages.
// Each resident page carries a saturating access counter: incremented
// on every hit or insert, halved on every collection pass. A page is
// evicted when its counter reaches zero and no lock pins it. Hot pages
// accumulate counter faster than halving erodes it; a one-shot scan
// leaves counter = 1, gone on the next collection. This is what makes
// the cache scan-resistant without tracking recency lists.
//
// All methods assume the owning archive's mutex (syncRoot) is held —
// the cache has no locking of its own. Pinning is represented by each
// pageLock retaining a page reference; a page's pin count is the
// number of locks currently pointing at it.
package tsarc

// hitCeiling saturates the access counter. High enough that halving
// takes ~30 collections to drain a genuinely hot page, low enough
// that the counter can never wrap.
const hitCeiling = 1 << 30

// cachedPage is a resident page: pool identity, memory, and the aging
// counter. pins counts the locks currently pointing at it.
type cachedPage struct {
	relPos    int64
	poolIndex int
	mem       []byte
	hits      int
	pins      int
}

// pageLock pins at most one page for a single reader. Re-pointing the
// lock (every tryGetPage/addOrGetPage) releases the previous pin.
type pageLock struct {
	page *cachedPage
}

// pageCache owns the relPos → page mapping and the set of outstanding
// locks.
type pageCache struct {
	pool  *PagePool
	pages map[int64]*cachedPage
	locks map[*pageLock]struct{}

	hitCount   uint64
	missCount  uint64
	evictCount uint64
}

func newPageCache(pool *PagePool) *pageCache {
	return &pageCache{
		pool:  pool,
		pages: map[int64]*cachedPage{},
		locks: map[*pageLock]struct{}{},
	}
}

// newLock creates a lock for a new I/O session.
func (c *pageCache) newLock() *pageLock {
	l := &pageLock{}
	c.locks[l] = struct{}{}
	return l
}

// releaseLock unpins the lock's page and forgets the lock.
func (c *pageCache) releaseLock(l *pageLock) {
	c.unpin(l)
	delete(c.locks, l)
}

// unpin detaches the lock from its current page, if any.
func (c *pageCache) unpin(l *pageLock) {
	if l.page != nil {
		l.page.pins--
		l.page = nil
	}
}

// pin points the lock at a page, releasing any previous pin first.
// A session holds at most one page at a time.
func (c *pageCache) pin(l *pageLock, pg *cachedPage) {
	c.unpin(l)
	pg.pins++
	l.page = pg
}

// tryGetPage returns the resident page covering relPos, pinning it via
// l and bumping its counter. Returns nil on miss.
func (c *pageCache) tryGetPage(l *pageLock, relPos int64) []byte {
	pg, ok := c.pages[relPos]
	if !ok {
		c.missCount++
		return nil
	}
	c.hitCount++
	if pg.hits < hitCeiling {
		pg.hits++
	}
	c.pin(l, pg)
	return pg.mem
}

// tryGetPageNoLock looks up a page without pinning. Used by the commit
// boundary repair, which runs under syncRoot and mutates in place.
func (c *pageCache) tryGetPageNoLock(relPos int64) []byte {
	if pg, ok := c.pages[relPos]; ok {
		return pg.mem
	}
	return nil
}

// addOrGetPage inserts a freshly read page, or returns the incumbent
// if a concurrent miss inserted one first. When added is false the
// caller still owns (mem, poolIndex) and must release the page back to
// the pool — losing the race is not an error.
func (c *pageCache) addOrGetPage(l *pageLock, relPos int64, mem []byte, poolIndex int) (data []byte, added bool) {
	if pg, ok := c.pages[relPos]; ok {
		if pg.hits < hitCeiling {
			pg.hits++
		}
		c.pin(l, pg)
		return pg.mem, false
	}
	pg := &cachedPage{relPos: relPos, poolIndex: poolIndex, mem: mem, hits: 1}
	c.pages[relPos] = pg
	c.pin(l, pg)
	return pg.mem, true
}

// doCollection runs the aging policy for one collection event. Normal
// and Emergency halve every counter once; Critical halves twice, so a
// page at counter ≤ 1 cannot survive the event. Pages pinned by any
// lock are never evicted regardless of counter.
func (c *pageCache) doCollection(mode CollectionMode) {
	passes := 1
	if mode == CollectionCritical {
		passes = 2
	}
	for p := 0; p < passes; p++ {
		for rel, pg := range c.pages {
			pg.hits >>= 1
			if pg.hits == 0 && pg.pins == 0 {
				delete(c.pages, rel)
				c.pool.ReleasePage(pg.poolIndex)
				c.evictCount++
			}
		}
	}
}

// repair overwrites a prefix of the resident page at relPos, if one
// exists. Non-resident pages need no action; they read fresh from
// disk.
func (c *pageCache) repair(relPos int64, src []byte, offset int) {
	if pg, ok := c.pages[relPos]; ok {
		copy(pg.mem[offset:], src)
	}
}

// close evicts everything, releasing all pool pages. Outstanding locks
// become inert; the owning archive fails their sessions with ErrClosed
// before any further use.
func (c *pageCache) close() {
	for rel, pg := range c.pages {
		delete(c.pages, rel)
		c.pool.ReleasePage(pg.poolIndex)
	}
	for l := range c.locks {
		l.page = nil
		delete(c.locks, l)
	}
}

// resident reports the number of cached pages.
func (c *pageCache) resident() int { return len(c.pages) }
