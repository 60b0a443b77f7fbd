// Fixed-size page pool with memory-pressure events.
//
// The pool hands out pageSize byte slices identified by a stable index.
// It never refuses an allocation; instead, crossing the configured page
// budget raises collection requests of increasing severity, and
// subscribers (page caches) respond by aging and evicting. Pages come
// back via ReleasePage and are reused before new memory is allocated.
//
// Subscription is explicit: Subscribe returns an id that the subscriber
// must pass to Unsubscribe on teardown. This keeps the pool↔cache
// reference cycle breakable without finalizers.
package tsarc

import "sync"

// CollectionMode is the severity of a collection request.
type CollectionMode int

const (
	CollectionNormal    CollectionMode = iota + 1 // One aging pass
	CollectionEmergency                           // One pass, caller may repeat
	CollectionCritical                            // Two passes in one event
)

// CollectionEvent is delivered to subscribers under memory pressure.
type CollectionEvent struct {
	Mode CollectionMode
}

// Pressure thresholds, in tenths of the page budget.
const (
	pressureNormal    = 8  // ≥ 80% raises Normal
	pressureEmergency = 9  // ≥ 90% raises Emergency
)

// PagePool allocates fixed-size pages and raises collection requests
// as usage approaches the page budget.
type PagePool struct {
	pageSize int
	budget   int

	mu      sync.Mutex
	pages   [][]byte // every slab ever created; index is the page id
	free    []int
	inUse   int
	subs    map[int]func(CollectionEvent)
	nextSub int
}

// NewPagePool creates a pool of pageSize pages with the given budget.
// The budget is advisory: allocations beyond it succeed but raise
// Critical collection requests.
func NewPagePool(pageSize, budget int) *PagePool {
	if budget < 1 {
		budget = 1
	}
	return &PagePool{
		pageSize: pageSize,
		budget:   budget,
		subs:     map[int]func(CollectionEvent){},
	}
}

var (
	defaultPoolOnce sync.Once
	defaultPool     *PagePool
)

// DefaultPool returns the process-wide shared pool (4 KiB pages, 1024
// page budget). It exists as a convenience for callers that want
// several archives under one pressure domain; nothing selects it
// implicitly.
func DefaultPool() *PagePool {
	defaultPoolOnce.Do(func() {
		defaultPool = NewPagePool(4096, 1024)
	})
	return defaultPool
}

// PageSize returns the size of every page in the pool.
func (p *PagePool) PageSize() int { return p.pageSize }

// AllocatePage returns a zeroed page and its index. Crossing a
// pressure threshold raises a collection event after the allocation,
// outside the pool mutex, on the caller's goroutine.
func (p *PagePool) AllocatePage() (int, []byte) {
	p.mu.Lock()
	var index int
	var mem []byte
	if n := len(p.free); n > 0 {
		index = p.free[n-1]
		p.free = p.free[:n-1]
		mem = p.pages[index]
		clear(mem)
	} else {
		index = len(p.pages)
		mem = make([]byte, p.pageSize)
		p.pages = append(p.pages, mem)
	}
	p.inUse++
	mode := p.pressureLocked()
	var subs []func(CollectionEvent)
	if mode != 0 {
		subs = make([]func(CollectionEvent), 0, len(p.subs))
		for _, fn := range p.subs {
			subs = append(subs, fn)
		}
	}
	p.mu.Unlock()

	for _, fn := range subs {
		fn(CollectionEvent{Mode: mode})
	}
	return index, mem
}

// ReleasePage returns a page to the free list. The caller must not
// touch the memory afterwards.
func (p *PagePool) ReleasePage(index int) {
	p.mu.Lock()
	p.free = append(p.free, index)
	p.inUse--
	p.mu.Unlock()
}

// InUse reports the number of outstanding pages.
func (p *PagePool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// pressureLocked maps current usage to a severity, or 0 below the
// first threshold. Called with p.mu held.
func (p *PagePool) pressureLocked() CollectionMode {
	switch {
	case p.inUse >= p.budget:
		return CollectionCritical
	case p.inUse*10 >= p.budget*pressureEmergency:
		return CollectionEmergency
	case p.inUse*10 >= p.budget*pressureNormal:
		return CollectionNormal
	default:
		return 0
	}
}

// Subscribe registers a collection handler and returns its id.
// Handlers run on the allocating goroutine and must not block on
// anything that allocates from this pool.
func (p *PagePool) Subscribe(fn func(CollectionEvent)) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	return id
}

// Unsubscribe removes a handler. Safe to call with an id that was
// already removed.
func (p *PagePool) Unsubscribe(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subs, id)
}
