// Archive lifecycle and the commit protocol.
//
// Archive composes the page pool, the replacement cache, the I/O queue
// and the write buffer into one logical byte-addressable file. Reads
// from the committed region come out of the cache with zero-copy
// slices; reads and writes at or beyond the committed boundary go to
// the in-memory write buffer; the header is mutable only through
// CommitWithHeader.
//
// Two mutexes: mu (syncRoot) serialises the cache map, session lock
// lifecycle, write-buffer access, and the commit boundary repair;
// flushMu serialises commits so at most one is in flight. The disk
// read on a cache miss deliberately runs outside mu.
package tsarc

import (
	"fmt"
	"maps"
	"os"
	"sync"

	"github.com/google/uuid"
)

// Archive is an open archive file. Many concurrent readers are
// supported through independent I/O sessions; the write buffer and
// commit path belong to a single logical writer.
type Archive struct {
	cfg   Config
	pool  *PagePool
	cache *pageCache
	ioq   *ioQueue
	wb    *writeBuffer
	flock *fileLock

	mu      sync.Mutex // syncRoot
	flushMu sync.Mutex // at most one commit in flight

	header         *Header
	endOfHeader    int64
	endOfCommitted int64
	pageMask       int64
	readOnly       bool
	closed         bool
	subID          int
}

// Create makes a new archive at path, failing if the file exists.
// The fresh header is written to all ten copies; endOfHeader and
// endOfCommitted both start at ten blocks.
func Create(path string, cfg Config) (*Archive, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}

	hdr := &Header{
		Version:            headerVersion,
		Checksum:           cfg.Checksum,
		BlockSize:          uint32(cfg.BlockSize),
		LastAllocatedBlock: headerCopies - 1,
		SnapshotSequence:   0,
		FileID:             uuid.New(),
		Metadata:           maps.Clone(cfg.Metadata),
	}

	buf, err := hdr.encode(cfg.BlockSize)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}
	q := &ioQueue{file: file}
	for i := 0; i < headerCopies; i++ {
		if err := q.write(buf, int64(i)*int64(cfg.BlockSize), false); err != nil {
			file.Close()
			os.Remove(path)
			return nil, err
		}
	}
	if err := q.sync(); err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}

	return assemble(cfg, q, hdr, false)
}

// Open opens an existing archive for reading and writing. The header
// is recovered from the valid copy with the highest snapshot sequence
// (copy A, then B, then the rotating slots), and the committed
// boundary is derived from its last allocated block.
func Open(path string, cfg Config) (*Archive, error) {
	return open(path, cfg, false)
}

// OpenReadOnly opens an archive for reading. A shared OS lock is held
// instead of an exclusive one, so read-only opens coexist with each
// other but not with a writer.
func OpenReadOnly(path string, cfg Config) (*Archive, error) {
	return open(path, cfg, true)
}

func open(path string, cfg Config, readOnly bool) (*Archive, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	file, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	q := &ioQueue{file: file}

	hint := cfg.BlockSize
	if hint == 0 {
		hint = 4096
	}
	hdr, err := recoverHeader(q, hint)
	if err != nil {
		file.Close()
		return nil, err
	}

	// The file's geometry wins over the configured one; the checksum
	// algorithm defaults to whatever validated the recovered copy.
	cfg.BlockSize = int(hdr.BlockSize)
	if cfg.Checksum == 0 {
		cfg.Checksum = hdr.Checksum
	}
	cfg, err = cfg.withDefaults()
	if err != nil {
		file.Close()
		return nil, err
	}

	return assemble(cfg, q, hdr, readOnly)
}

// assemble wires the subsystems together, takes the OS lock, and
// registers the collection handler with the pool.
func assemble(cfg Config, q *ioQueue, hdr *Header, readOnly bool) (*Archive, error) {
	a := &Archive{
		cfg:            cfg,
		pool:           cfg.Pool,
		cache:          newPageCache(cfg.Pool),
		ioq:            q,
		wb:             newWriteBuffer(cfg.PageSize),
		flock:          &fileLock{f: q.file},
		header:         hdr,
		endOfHeader:    int64(headerCopies) * int64(cfg.BlockSize),
		endOfCommitted: (int64(hdr.LastAllocatedBlock) + 1) * int64(cfg.BlockSize),
		pageMask:       int64(cfg.PageSize) - 1,
		readOnly:       readOnly,
	}

	mode := LockExclusive
	if readOnly {
		mode = LockShared
	}
	if err := a.flock.Lock(mode); err != nil {
		q.close()
		return nil, fmt.Errorf("lock archive: %w", err)
	}

	a.subID = a.pool.Subscribe(a.onCollection)
	return a, nil
}

// onCollection runs the aging policy on pool pressure. Executes on the
// allocating goroutine; a closed archive returns silently — collection
// handlers never raise.
func (a *Archive) onCollection(ev CollectionEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.cache.doCollection(ev.Mode)
}

// commitChunk bounds how much tail data is staged under mu per
// iteration while a commit streams the write buffer to disk. Readers
// keep running between chunks.
const commitChunk = 256 * 1024

// CommitWithHeader makes the write buffer durable and publishes hdr as
// the new archive header. The snapshot sequence is advanced by the
// archive itself; callers only move LastAllocatedBlock forward (and may
// replace Metadata).
//
// Protocol: stream [endOfCommitted, newEnd) from the write buffer to
// disk, write header copies A, B, and the rotating slot, sync, advance
// the committed boundary, and repair the resident page straddling the
// old boundary so cached readers see the committed bytes.
func (a *Archive) CommitWithHeader(hdr *Header) error {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	blockSize := int64(a.cfg.BlockSize)

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if a.readOnly {
		a.mu.Unlock()
		return ErrReadOnly
	}
	oldEnd := a.endOfCommitted
	newEnd := (int64(hdr.LastAllocatedBlock) + 1) * blockSize
	if newEnd < oldEnd {
		a.mu.Unlock()
		return fmt.Errorf("%w: committed region cannot shrink", ErrInvalidPosition)
	}
	newHdr := &Header{
		Version:            headerVersion,
		Checksum:           a.cfg.Checksum,
		BlockSize:          uint32(a.cfg.BlockSize),
		LastAllocatedBlock: hdr.LastAllocatedBlock,
		SnapshotSequence:   a.header.SnapshotSequence + 1,
		FileID:             a.header.FileID,
		Metadata:           maps.Clone(hdr.Metadata),
	}
	a.mu.Unlock()

	// Stream the tail. Staged in chunks so readers are not starved of
	// mu for the duration of a large commit.
	chunk := make([]byte, commitChunk)
	for off := oldEnd; off < newEnd; {
		n := newEnd - off
		if n > int64(len(chunk)) {
			n = int64(len(chunk))
		}
		a.mu.Lock()
		a.wb.read(chunk[:n], off-a.endOfHeader)
		a.mu.Unlock()
		if err := a.ioq.write(chunk[:n], off, false); err != nil {
			return err
		}
		off += n
	}

	// Redundant header write: A, B, rotating slot.
	buf, err := newHdr.encode(a.cfg.BlockSize)
	if err != nil {
		return err
	}
	for _, slot := range commitSlots(newHdr, blockSize) {
		if err := a.ioq.write(buf, slot, a.cfg.SyncWrites); err != nil {
			return err
		}
	}
	if err := a.ioq.sync(); err != nil {
		return err
	}

	// Publish: advance the boundary and repair the straddling page.
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	a.repairBoundary(oldEnd, newEnd)
	a.endOfCommitted = newEnd
	a.header = newHdr
	a.wb.discardBelow(newEnd - a.endOfHeader)
	return nil
}

// repairBoundary fixes the cached page straddling the old committed
// boundary: it exists both in the cache (stale beyond oldEnd) and in
// the write buffer (authoritative). Called with mu held. Non-resident
// pages need no action — they will read fresh.
func (a *Archive) repairBoundary(oldEnd, newEnd int64) {
	relOld := oldEnd - a.endOfHeader
	relStart := relOld &^ a.pageMask
	if relStart == relOld {
		return // boundary was page-aligned; nothing cached is stale
	}
	pageEnd := a.endOfHeader + relStart + int64(a.cfg.PageSize)
	repairEnd := newEnd
	if repairEnd > pageEnd {
		repairEnd = pageEnd
	}
	if repairEnd <= oldEnd {
		return
	}
	if a.cache.tryGetPageNoLock(relStart) == nil {
		return
	}
	patch := make([]byte, repairEnd-oldEnd)
	a.wb.read(patch, relOld)
	a.cache.repair(relStart, patch, int(relOld-relStart))
}

// Rollback discards the write buffer and reloads the committed header
// from disk, abandoning everything since the last commit.
func (a *Archive) Rollback() error {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if a.readOnly {
		a.mu.Unlock()
		return ErrReadOnly
	}
	a.mu.Unlock()

	hdr, err := recoverHeader(a.ioq, a.cfg.BlockSize)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	a.wb.reset()
	a.header = hdr
	a.endOfCommitted = (int64(hdr.LastAllocatedBlock) + 1) * int64(a.cfg.BlockSize)
	return nil
}

// Header returns a copy of the current committed header. Mutating the
// copy (typically LastAllocatedBlock) and passing it to
// CommitWithHeader is the only way to grow the committed region.
func (a *Archive) Header() Header {
	a.mu.Lock()
	defer a.mu.Unlock()
	h := *a.header
	h.Metadata = maps.Clone(h.Metadata)
	return h
}

// FileID returns the archive's identity, assigned at Create and
// preserved across commits.
func (a *Archive) FileID() uuid.UUID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.header.FileID
}

// Metadata returns a copy of the committed header's metadata map.
func (a *Archive) Metadata() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return maps.Clone(a.header.Metadata)
}

// Length returns the committed length of the archive in bytes,
// including the header region.
func (a *Archive) Length() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.endOfCommitted
}

// EndOfHeader returns the first data position: ten blocks in.
func (a *Archive) EndOfHeader() int64 { return a.endOfHeader }

// IsReadOnly reports whether the archive rejects writes and commits.
func (a *Archive) IsReadOnly() bool { return a.readOnly }

// CacheStats is a snapshot of page-cache behaviour.
type CacheStats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Resident  int
}

// Stats returns current cache counters.
func (a *Archive) Stats() CacheStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return CacheStats{
		Hits:      a.cache.hitCount,
		Misses:    a.cache.missCount,
		Evictions: a.cache.evictCount,
		Resident:  a.cache.resident(),
	}
}

// Close unregisters from the pool, tears down the cache (releasing
// every resident page), discards the write buffer, releases the OS
// lock, and closes the file. Double-close is a no-op; in-flight
// operations on other goroutines fail with ErrClosed.
func (a *Archive) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.cache.close()
	a.wb.reset()
	a.mu.Unlock()

	a.pool.Unsubscribe(a.subID)
	a.flock.Unlock()
	a.flock.setFile(nil)
	if err := a.ioq.close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return nil
}
