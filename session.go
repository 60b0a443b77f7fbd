// I/O sessions and the GetBlock contract.
//
// A session is the unit of read concurrency: it owns one page lock,
// so it pins at most one cached page at a time. Every GetBlock
// re-points the lock, releasing the previous pin — callers must not
// retain a Block's slice past the next GetBlock on the same session.
package tsarc

// Block is a zero-copy view into a cached page or a write-buffer
// page. Data is valid until the owning session's next GetBlock (or
// Close); FirstPosition is the file position of Data[0].
type Block struct {
	Data            []byte
	FirstPosition   int64
	Length          int
	SupportsWriting bool
}

// IoSession provides positioned block access to one archive. Sessions
// are cheap; create one per reader goroutine — a session itself must
// not be used concurrently.
type IoSession struct {
	arch   *Archive
	lock   *pageLock
	closed bool
}

// NewIoSession creates a session bound to a private page lock.
func (a *Archive) NewIoSession() (*IoSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrClosed
	}
	return &IoSession{arch: a, lock: a.cache.newLock()}, nil
}

// GetBlock returns a contiguous memory range covering position.
//
//   - position below endOfHeader fails with ErrInvalidPosition: the
//     header is mutable only through the commit path.
//   - position at or beyond the committed boundary is served from the
//     write buffer; the block is writable and its FirstPosition is
//     normalized so committed bytes are never exposed for mutation.
//   - otherwise the block comes from the page cache, read-only, with
//     Length clipped so the range never crosses into uncommitted
//     space. Requesting isWriting there fails with ErrWriteCommitted.
func (s *IoSession) GetBlock(position int64, isWriting bool) (Block, error) {
	a := s.arch

	a.mu.Lock()
	if a.closed || s.closed {
		a.mu.Unlock()
		return Block{}, ErrClosed
	}
	if position < a.endOfHeader {
		a.mu.Unlock()
		return Block{}, ErrInvalidPosition
	}

	eoc := a.endOfCommitted
	if position >= eoc {
		if a.readOnly {
			a.mu.Unlock()
			return Block{}, ErrReadOnly
		}
		data, relFirst, length := a.wb.block(position-a.endOfHeader, eoc-a.endOfHeader)
		a.mu.Unlock()
		return Block{
			Data:            data,
			FirstPosition:   a.endOfHeader + relFirst,
			Length:          length,
			SupportsWriting: true,
		}, nil
	}
	if isWriting {
		a.mu.Unlock()
		return Block{}, ErrWriteCommitted
	}

	rel := (position - a.endOfHeader) &^ a.pageMask
	if mem := a.cache.tryGetPage(s.lock, rel); mem != nil {
		blk := a.clip(rel, mem, eoc)
		a.mu.Unlock()
		return blk, nil
	}
	a.mu.Unlock()

	// Miss: the disk read runs outside the cache mutex. A concurrent
	// miss on the same page may insert first; the loser releases its
	// page back to the pool and adopts the incumbent.
	poolIndex, mem := a.pool.AllocatePage()
	if err := a.ioq.readPage(a.endOfHeader+rel, mem); err != nil {
		a.pool.ReleasePage(poolIndex)
		return Block{}, err
	}

	a.mu.Lock()
	if a.closed || s.closed {
		a.mu.Unlock()
		a.pool.ReleasePage(poolIndex)
		return Block{}, ErrClosed
	}
	data, added := a.cache.addOrGetPage(s.lock, rel, mem, poolIndex)
	blk := a.clip(rel, data, a.endOfCommitted)
	a.mu.Unlock()
	if !added {
		a.pool.ReleasePage(poolIndex)
	}
	return blk, nil
}

// clip builds a committed-region block, bounding Length so the slice
// ends at the committed boundary. Called with mu held.
func (a *Archive) clip(rel int64, mem []byte, eoc int64) Block {
	first := a.endOfHeader + rel
	length := int64(a.cfg.PageSize)
	if first+length > eoc {
		length = eoc - first
	}
	return Block{
		Data:          mem[:length],
		FirstPosition: first,
		Length:        int(length),
	}
}

// Close releases the session's pin and detaches it from the archive.
// Safe to call twice.
func (s *IoSession) Close() {
	a := s.arch
	a.mu.Lock()
	defer a.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if !a.closed {
		a.cache.releaseLock(s.lock)
	}
}
