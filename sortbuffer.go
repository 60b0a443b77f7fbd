// Sorted point buffer: bounded, in-place, index-permuting merge sort.
//
// The buffer accepts up to capacity unsorted (key, value) pairs and
// emits them in non-decreasing key order without ever moving payload
// bytes: keys and values sit in two contiguous arrays written once at
// enqueue, and sorting only permutes two parallel index arrays.
//
// A two-phase mode machine governs access: Writing accepts enqueues,
// Reading serves the sorted stream. Switching to Reading sorts;
// switching back to Writing clears. The merge has a run-concatenation
// fast path — when the last element of the left run orders before the
// first of the right, the whole segment copies verbatim — which makes
// near-sorted input (the common replay shape) an O(n)-comparison case.
package tsarc

// BufferMode is the sorted buffer's phase.
type BufferMode int

const (
	ModeWriting BufferMode = iota // accepting unsorted enqueues
	ModeReading                   // serving the sorted stream
)

// PointStream is the ordered-output contract consumed by the archive
// writer. ReadNext fills key and value and reports whether a record
// was produced; EndOfStream reports a drained stream.
type PointStream[K, V any] interface {
	ReadNext(key *K, value *V) (bool, error)
	EndOfStream() bool
}

// SortedPointBuffer implements PointStream over a bounded staging
// area. Not safe for concurrent use.
type SortedPointBuffer[K, V any] struct {
	keyLayout   Layout[K]
	valueLayout Layout[V]

	keys   []byte
	values []byte
	idxA   []int32 // read order after sort
	idxB   []int32 // scratch for merge passes

	capacity int
	count    int // enqueue watermark
	cursor   int // dequeue position
	mode     BufferMode
	eos      bool
}

// NewSortedPointBuffer creates a buffer for capacity records of the
// given layouts, starting in Writing mode.
func NewSortedPointBuffer[K, V any](capacity int, keyLayout Layout[K], valueLayout Layout[V]) *SortedPointBuffer[K, V] {
	return &SortedPointBuffer[K, V]{
		keyLayout:   keyLayout,
		valueLayout: valueLayout,
		keys:        make([]byte, capacity*keyLayout.Size),
		values:      make([]byte, capacity*valueLayout.Size),
		idxA:        make([]int32, capacity),
		idxB:        make([]int32, capacity),
		capacity:    capacity,
	}
}

// NewPointBuffer is the archive's concrete staging buffer: PointKey
// ordering over PointValue payloads.
func NewPointBuffer(capacity int) *SortedPointBuffer[PointKey, PointValue] {
	return NewSortedPointBuffer(capacity, PointKeyLayout(), PointValueLayout())
}

// TryEnqueue stores one pair. A full buffer reports false without
// error — the caller commits the batch and retries. Enqueueing while
// Reading is a mode violation.
func (b *SortedPointBuffer[K, V]) TryEnqueue(key *K, value *V) (bool, error) {
	if b.mode != ModeWriting {
		return false, ErrMode
	}
	if b.count == b.capacity {
		return false, nil
	}
	b.keyLayout.Write(b.keys[b.count*b.keyLayout.Size:], key)
	b.valueLayout.Write(b.values[b.count*b.valueLayout.Size:], value)
	b.count++
	return true, nil
}

// SetMode switches phase. Entering Reading sorts the buffer; entering
// Writing clears it. Setting the current mode again is a no-op for
// Reading and a clear for Writing.
func (b *SortedPointBuffer[K, V]) SetMode(mode BufferMode) {
	switch mode {
	case ModeReading:
		if b.mode == ModeReading {
			return
		}
		b.sort()
		b.mode = ModeReading
		b.cursor = 0
		b.eos = b.count == 0
	case ModeWriting:
		b.mode = ModeWriting
		b.count = 0
		b.cursor = 0
		b.eos = false
	}
}

// Mode returns the current phase.
func (b *SortedPointBuffer[K, V]) Mode() BufferMode { return b.mode }

// Count returns the number of enqueued records.
func (b *SortedPointBuffer[K, V]) Count() int { return b.count }

// Capacity returns the fixed record capacity.
func (b *SortedPointBuffer[K, V]) Capacity() int { return b.capacity }

// ReadNext yields the next pair in key order. Returns false once the
// watermark is reached, after which EndOfStream reports true. Reading
// while Writing is a mode violation.
func (b *SortedPointBuffer[K, V]) ReadNext(key *K, value *V) (bool, error) {
	if b.mode != ModeReading {
		return false, ErrMode
	}
	if b.cursor >= b.count {
		b.eos = true
		return false, nil
	}
	i := int(b.idxA[b.cursor])
	b.keyLayout.Read(b.keys[i*b.keyLayout.Size:], key)
	b.valueLayout.Read(b.values[i*b.valueLayout.Size:], value)
	b.cursor++
	return true, nil
}

// EndOfStream reports whether the sorted stream has been drained.
func (b *SortedPointBuffer[K, V]) EndOfStream() bool { return b.eos }

// le orders two records by their serialised keys. Ties resolve to the
// left operand, which keeps the merge stable.
func (b *SortedPointBuffer[K, V]) le(i, j int32) bool {
	ks := b.keyLayout.Size
	return b.keyLayout.LessOrEqual(b.keys[int(i)*ks:], b.keys[int(j)*ks:])
}

// sort builds the read order in idxA: a pairwise init pass, then
// bottom-up merges alternating between the two index arrays, swapping
// the array roles at the end if the result landed in the scratch
// array.
func (b *SortedPointBuffer[K, V]) sort() {
	n := b.count
	src, dst := b.idxA, b.idxB

	for i := 0; i+1 < n; i += 2 {
		if b.le(int32(i), int32(i+1)) {
			src[i], src[i+1] = int32(i), int32(i+1)
		} else {
			src[i], src[i+1] = int32(i+1), int32(i)
		}
	}
	if n%2 == 1 {
		src[n-1] = int32(n - 1)
	}

	swapped := false
	for stride := 2; stride < n; stride *= 2 {
		for lo := 0; lo < n; lo += 2 * stride {
			mid := min(lo+stride, n)
			hi := min(lo+2*stride, n)
			b.merge(src, dst, lo, mid, hi)
		}
		src, dst = dst, src
		swapped = !swapped
	}

	if swapped {
		b.idxA, b.idxB = b.idxB, b.idxA
	}
}

// merge combines src[lo:mid] and src[mid:hi] into dst[lo:hi]. When
// the runs are already ordered end-to-end the segment copies verbatim
// after a single comparison — the dominant case for near-sorted
// input.
func (b *SortedPointBuffer[K, V]) merge(src, dst []int32, lo, mid, hi int) {
	if mid >= hi || b.le(src[mid-1], src[mid]) {
		copy(dst[lo:hi], src[lo:hi])
		return
	}
	i, j, k := lo, mid, lo
	for i < mid && j < hi {
		if b.le(src[i], src[j]) {
			dst[k] = src[i]
			i++
		} else {
			dst[k] = src[j]
			j++
		}
		k++
	}
	copy(dst[k:hi], src[i:mid])
	copy(dst[k+(mid-i):hi], src[j:hi])
}
