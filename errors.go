// Package tsarc implements the storage core of a time-series archive:
// a fixed-block buffered file with redundant header commits, a
// scan-resistant page cache, a delta/XOR leaf-record codec, and a
// bounded sorted point buffer that turns unordered ingest into ordered
// output for the archive writer.
//
// An archive is a single file: ten redundant header copies followed by
// data pages. Committed pages are immutable and served out of a page
// cache; uncommitted appends live in an in-memory write buffer until
// the next commit makes them durable.
package tsarc

import "errors"

// Sentinel errors returned by archive operations.
var (
	// ErrInvalidPosition is returned when a block request targets the
	// header region, which is only mutable through the commit path.
	ErrInvalidPosition = errors.New("position inside header region")

	// ErrWriteCommitted is returned when a writable block is requested
	// below the committed boundary. Committed pages are immutable.
	ErrWriteCommitted = errors.New("write to committed space")

	// ErrClosed is returned when operating on a closed archive or a
	// closed I/O session.
	ErrClosed = errors.New("archive is closed")

	// ErrReadOnly is returned when a read-only archive is asked for any
	// block at or beyond the committed boundary (the write buffer), a
	// commit, or a rollback.
	ErrReadOnly = errors.New("archive is read-only")

	// ErrMode is returned by the sorted point buffer when an enqueue
	// arrives while reading or a read arrives while writing.
	ErrMode = errors.New("operation not valid in current buffer mode")

	// ErrCorruptHeader is returned at open when no header copy
	// validates. The file cannot be safely interpreted.
	ErrCorruptHeader = errors.New("no valid header copy")

	// ErrMetadataTooLarge is returned when the compressed metadata
	// region does not fit inside a single header block.
	ErrMetadataTooLarge = errors.New("metadata exceeds header block")

	// ErrBlockSize is returned when the configured geometry is invalid:
	// block size not a power of two, or page size not a multiple of it.
	ErrBlockSize = errors.New("invalid block or page size")
)
