// Positioned I/O over the archive file handle.
//
// A thin, synchronous wrapper: page-granular reads for the cache miss
// path, bulk positioned writes for the commit stream, and exact writes
// for the header slots. Errors propagate to the caller; there is no
// retry layer.
package tsarc

import (
	"fmt"
	"io"
	"os"
)

// ioQueue serialises nothing itself — the archive's locking discipline
// guarantees a single writer, and ReadAt/WriteAt are safe for
// concurrent readers.
type ioQueue struct {
	file *os.File
}

// readPage fills dst from fileOffset. A short read at end of file is
// legal for the page straddling the committed boundary: the remainder
// is zero-filled and repaired from the write buffer on the next
// commit.
func (q *ioQueue) readPage(fileOffset int64, dst []byte) error {
	n, err := q.file.ReadAt(dst, fileOffset)
	if err != nil && err != io.EOF {
		return fmt.Errorf("read page at %d: %w", fileOffset, err)
	}
	clear(dst[n:])
	return nil
}

// write puts buf at fileOffset, optionally flushing OS buffers.
func (q *ioQueue) write(buf []byte, fileOffset int64, sync bool) error {
	if _, err := q.file.WriteAt(buf, fileOffset); err != nil {
		return fmt.Errorf("write at %d: %w", fileOffset, err)
	}
	if sync {
		if err := q.file.Sync(); err != nil {
			return fmt.Errorf("sync: %w", err)
		}
	}
	return nil
}

// sync flushes OS buffers to stable storage.
func (q *ioQueue) sync() error {
	if err := q.file.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return nil
}

// size returns the current file length.
func (q *ioQueue) size() (int64, error) {
	info, err := q.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat: %w", err)
	}
	return info.Size(), nil
}

func (q *ioQueue) close() error {
	return q.file.Close()
}
