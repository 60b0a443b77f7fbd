// Page replacement tests.
//
// The aging policy is the heart of scan resistance: counters climb on
// hits and halve on collections, so only re-referenced pages survive
// pressure. These tests drive the cache directly (its methods assume
// the archive mutex, which a single-threaded test satisfies trivially)
// and pin the three behaviours everything else leans on: eviction at
// counter zero, pin immunity, and the Critical double pass that
// guarantees single-visit pages cannot outlive one event.
package tsarc

import "testing"

// addPage allocates from the pool and inserts at rel with counter 1.
func addPage(t *testing.T, c *pageCache, l *pageLock, rel int64) {
	t.Helper()
	idx, mem := c.pool.AllocatePage()
	if _, added := c.addOrGetPage(l, rel, mem, idx); !added {
		t.Fatalf("page %d already present", rel)
	}
}

// TestAgingEviction: a page visited once has counter 1; one Normal
// collection halves it to zero and evicts. A page visited three times
// survives the same pass at counter 1.
func TestAgingEviction(t *testing.T) {
	pool := NewPagePool(64, 100)
	c := newPageCache(pool)
	l := c.newLock()

	addPage(t, c, l, 0)
	addPage(t, c, l, 64) // counter 1
	c.tryGetPage(l, 0)   // counter 2
	c.tryGetPage(l, 0)   // counter 3
	c.releaseLock(l)     // unpin everything

	c.doCollection(CollectionNormal)

	if c.tryGetPageNoLock(64) != nil {
		t.Error("single-visit page survived collection")
	}
	if c.tryGetPageNoLock(0) == nil {
		t.Error("hot page was evicted")
	}
	if pool.InUse() != 1 {
		t.Errorf("pool InUse = %d, want 1", pool.InUse())
	}
}

// TestPinnedPageSurvives: a page at counter zero after halving must
// not be evicted while any lock points at it — evicting a pinned page
// would free memory a reader still holds a slice into.
func TestPinnedPageSurvives(t *testing.T) {
	pool := NewPagePool(64, 100)
	c := newPageCache(pool)
	l := c.newLock()

	addPage(t, c, l, 0) // counter 1, pinned by l

	c.doCollection(CollectionNormal)
	if c.tryGetPageNoLock(0) == nil {
		t.Fatal("pinned page evicted")
	}

	c.releaseLock(l)
	c.doCollection(CollectionNormal)
	if c.tryGetPageNoLock(0) != nil {
		t.Error("unpinned zero-counter page survived")
	}
}

// TestCriticalDoublePass: Critical runs two halvings in one event, so
// a counter-2 page (which Normal would leave at 1) is gone after a
// single Critical event.
func TestCriticalDoublePass(t *testing.T) {
	pool := NewPagePool(64, 100)
	c := newPageCache(pool)
	l := c.newLock()

	addPage(t, c, l, 0)
	c.tryGetPage(l, 0) // counter 2
	c.releaseLock(l)

	c.doCollection(CollectionCritical)
	if c.tryGetPageNoLock(0) != nil {
		t.Error("counter-2 page survived a Critical event")
	}
	if pool.InUse() != 0 {
		t.Errorf("pool InUse = %d, want 0", pool.InUse())
	}
}

// TestAddOrGetRace models the miss-path race: two readers both read
// the same page from disk; the second insert must adopt the incumbent
// and report added=false so the loser can release its page. Pool
// conservation (invariant: every allocation not retained by the cache
// is released) is checked through InUse.
func TestAddOrGetRace(t *testing.T) {
	pool := NewPagePool(64, 100)
	c := newPageCache(pool)
	l1 := c.newLock()
	l2 := c.newLock()

	idx1, mem1 := pool.AllocatePage()
	idx2, mem2 := pool.AllocatePage()
	mem1[0] = 1
	mem2[0] = 2

	winner, added := c.addOrGetPage(l1, 0, mem1, idx1)
	if !added || winner[0] != 1 {
		t.Fatalf("first insert: added=%v data=%d", added, winner[0])
	}

	incumbent, added := c.addOrGetPage(l2, 0, mem2, idx2)
	if added {
		t.Fatal("second insert claimed to add")
	}
	if incumbent[0] != 1 {
		t.Errorf("loser got its own page back, want incumbent")
	}
	pool.ReleasePage(idx2) // loser's duty

	if pool.InUse() != 1 {
		t.Errorf("pool InUse = %d, want 1", pool.InUse())
	}
}

// TestLockRepointing: each session pins at most one page. Fetching a
// second page through the same lock must unpin the first, making it
// evictable again.
func TestLockRepointing(t *testing.T) {
	pool := NewPagePool(64, 100)
	c := newPageCache(pool)
	l := c.newLock()

	addPage(t, c, l, 0)
	addPage(t, c, l, 64) // re-points l; page 0 now unpinned, counter 1

	c.doCollection(CollectionNormal)
	if c.tryGetPageNoLock(0) != nil {
		t.Error("previously pinned page not released by re-point")
	}
	if c.tryGetPageNoLock(64) == nil {
		t.Error("currently pinned page evicted")
	}
}

// TestCacheClose releases every resident page back to the pool and
// detaches outstanding locks.
func TestCacheClose(t *testing.T) {
	pool := NewPagePool(64, 100)
	c := newPageCache(pool)
	l := c.newLock()

	addPage(t, c, l, 0)
	addPage(t, c, l, 64)
	addPage(t, c, l, 128)

	c.close()
	if pool.InUse() != 0 {
		t.Errorf("pool InUse = %d after close, want 0", pool.InUse())
	}
	if c.resident() != 0 {
		t.Errorf("resident = %d after close, want 0", c.resident())
	}
	if l.page != nil {
		t.Error("lock still points at a page after close")
	}
}
