// In-memory write buffer for the uncommitted tail.
//
// Uncommitted appends live logically at [endOfCommitted, …) in the
// file address space but physically in page-sized slabs keyed by their
// page-aligned header-relative offset — the same grid the page cache
// uses, so the commit boundary repair can map a buffer page onto its
// cached counterpart directly. Pages materialise zeroed on first
// touch. A commit streams a contiguous range out to disk and then
// discards every page that fell entirely below the new committed
// boundary; a page straddling the boundary is kept, because its tail
// still serves future writes.
//
// The buffer allocates plain slabs rather than pool pages: its
// lifetime is bounded by the next commit, and holding pool pages here
// would let an idle writer starve the cache through pressure events.
package tsarc

// writeBuffer is not safe for concurrent use; the archive mutex
// guards every call. All offsets are relative to endOfHeader.
type writeBuffer struct {
	pageSize int64
	pageMask int64
	pages    map[int64][]byte // key: page-aligned relative offset
}

func newWriteBuffer(pageSize int) *writeBuffer {
	return &writeBuffer{
		pageSize: int64(pageSize),
		pageMask: int64(pageSize) - 1,
		pages:    map[int64][]byte{},
	}
}

// block returns the writable range covering rel. The returned slice
// starts at max(pageStart, committed) so that a straddling page can
// never expose committed bytes for mutation.
func (w *writeBuffer) block(rel, committed int64) (data []byte, first int64, length int) {
	pageStart := rel &^ w.pageMask
	page, ok := w.pages[pageStart]
	if !ok {
		page = make([]byte, w.pageSize)
		w.pages[pageStart] = page
	}
	first = pageStart
	if first < committed {
		first = committed
	}
	return page[first-pageStart:], first, int(pageStart + w.pageSize - first)
}

// read copies the relative range [rel, rel+len(dst)) into dst.
// Untouched pages read as zeroes.
func (w *writeBuffer) read(dst []byte, rel int64) {
	for len(dst) > 0 {
		pageStart := rel &^ w.pageMask
		inPage := rel - pageStart
		n := int(w.pageSize - inPage)
		if n > len(dst) {
			n = len(dst)
		}
		if page, ok := w.pages[pageStart]; ok {
			copy(dst[:n], page[inPage:inPage+int64(n)])
		} else {
			clear(dst[:n])
		}
		dst = dst[n:]
		rel += int64(n)
	}
}

// discardBelow drops every page that lies entirely below the new
// committed boundary. The straddling page survives; its committed
// prefix is unreachable through block() from now on.
func (w *writeBuffer) discardBelow(committed int64) {
	for pageStart := range w.pages {
		if pageStart+w.pageSize <= committed {
			delete(w.pages, pageStart)
		}
	}
}

// reset drops everything. Used by rollback.
func (w *writeBuffer) reset() {
	clear(w.pages)
}
