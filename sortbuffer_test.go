// Sorted point buffer tests.
//
// The buffer's contract has three load-bearing parts: the mode
// machine (an enqueue that slipped through during Reading would
// corrupt the sorted index arrays mid-merge), the permutation
// discipline (payload bytes never move, so a bug in the index juggling
// silently pairs keys with the wrong values), and the merge fast path
// (replay ingest is near-sorted; without run concatenation the sort
// would pay n·log n comparisons for input that needs a linear check).
package tsarc

import (
	"math/rand"
	"sort"
	"testing"
)

// enq is a test helper: enqueue must succeed.
func enq(t *testing.T, b *SortedPointBuffer[PointKey, PointValue], ts, v uint64) {
	t.Helper()
	ok, err := b.TryEnqueue(&PointKey{Timestamp: ts}, &PointValue{Value1: v})
	if err != nil || !ok {
		t.Fatalf("TryEnqueue(%d) = %v, %v", ts, ok, err)
	}
}

// TestSortOrder enqueues a small shuffled batch and checks the
// dequeue sequence is fully sorted with each value still attached to
// its original key.
func TestSortOrder(t *testing.T) {
	b := NewPointBuffer(16)
	for _, k := range []uint64{5, 3, 8, 1, 4, 9, 2, 6, 7} {
		enq(t, b, k, k*10)
	}
	b.SetMode(ModeReading)

	var got []uint64
	var k PointKey
	var v PointValue
	for {
		ok, err := b.ReadNext(&k, &v)
		if err != nil {
			t.Fatalf("ReadNext: %v", err)
		}
		if !ok {
			break
		}
		if v.Value1 != k.Timestamp*10 {
			t.Errorf("key %d carries value %d, want %d", k.Timestamp, v.Value1, k.Timestamp*10)
		}
		got = append(got, k.Timestamp)
	}

	want := []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9}
	if len(got) != len(want) {
		t.Fatalf("dequeued %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d = %d, want %d", i, got[i], want[i])
		}
	}
	if !b.EndOfStream() {
		t.Error("EndOfStream = false after drain")
	}
}

// countingKeyLayout wraps the point key layout so the test can count
// comparisons performed by the sort.
func countingKeyLayout(counter *int) Layout[PointKey] {
	kl := PointKeyLayout()
	inner := kl.LessOrEqual
	kl.LessOrEqual = func(a, b []byte) bool {
		*counter++
		return inner(a, b)
	}
	return kl
}

// TestSortedInputComparisons verifies the fast path: for already
// sorted input of length 1024, every merge segment short-circuits
// after one comparison, so the total count stays linear — n/2 for the
// pairwise pass plus one per merge segment — far below the ~10n of a
// full merge sort.
func TestSortedInputComparisons(t *testing.T) {
	const n = 1024
	var comparisons int
	b := NewSortedPointBuffer(n, countingKeyLayout(&comparisons), PointValueLayout())

	for i := 0; i < n; i++ {
		ok, err := b.TryEnqueue(&PointKey{Timestamp: uint64(i)}, &PointValue{Value1: uint64(i)})
		if err != nil || !ok {
			t.Fatalf("TryEnqueue(%d) = %v, %v", i, ok, err)
		}
	}
	b.SetMode(ModeReading)

	if comparisons > 2*n {
		t.Errorf("sorted input cost %d comparisons, want ≤ %d", comparisons, 2*n)
	}

	var k PointKey
	var v PointValue
	for i := 0; i < n; i++ {
		ok, err := b.ReadNext(&k, &v)
		if err != nil || !ok {
			t.Fatalf("ReadNext at %d = %v, %v", i, ok, err)
		}
		if k.Timestamp != uint64(i) {
			t.Fatalf("position %d = %d", i, k.Timestamp)
		}
	}
}

// TestModeViolations pins the mode machine: reads in Writing and
// enqueues in Reading both fail with ErrMode, and neither corrupts
// the buffer for subsequent legal use.
func TestModeViolations(t *testing.T) {
	b := NewPointBuffer(4)
	enq(t, b, 2, 20)

	var k PointKey
	var v PointValue
	if _, err := b.ReadNext(&k, &v); err != ErrMode {
		t.Errorf("ReadNext while writing = %v, want ErrMode", err)
	}

	b.SetMode(ModeReading)
	if ok, err := b.TryEnqueue(&k, &v); err != ErrMode || ok {
		t.Errorf("TryEnqueue while reading = %v, %v, want false, ErrMode", ok, err)
	}

	if ok, err := b.ReadNext(&k, &v); err != nil || !ok || k.Timestamp != 2 {
		t.Errorf("ReadNext after violations = %v, %v, key %d", ok, err, k.Timestamp)
	}
}

// TestCapacityExceeded: a full buffer reports false with no error —
// the caller is expected to drain and retry, not to handle a failure.
func TestCapacityExceeded(t *testing.T) {
	b := NewPointBuffer(2)
	enq(t, b, 1, 0)
	enq(t, b, 2, 0)

	ok, err := b.TryEnqueue(&PointKey{Timestamp: 3}, &PointValue{})
	if err != nil {
		t.Fatalf("TryEnqueue on full buffer: %v", err)
	}
	if ok {
		t.Error("TryEnqueue on full buffer = true")
	}
}

// TestClearReuse cycles the buffer through write → read → write and
// checks the second generation starts empty and sorts independently
// of the first.
func TestClearReuse(t *testing.T) {
	b := NewPointBuffer(8)
	enq(t, b, 9, 0)
	enq(t, b, 1, 0)
	b.SetMode(ModeReading)

	var k PointKey
	var v PointValue
	b.ReadNext(&k, &v)

	b.SetMode(ModeWriting)
	if b.Count() != 0 {
		t.Fatalf("Count after clear = %d", b.Count())
	}
	if b.EndOfStream() {
		t.Error("EndOfStream survived clear")
	}

	enq(t, b, 7, 70)
	b.SetMode(ModeReading)
	if ok, err := b.ReadNext(&k, &v); err != nil || !ok || k.Timestamp != 7 || v.Value1 != 70 {
		t.Errorf("second generation read = %v, %v, %d/%d", ok, err, k.Timestamp, v.Value1)
	}
}

// TestDuplicateKeysStable: equal keys must emit in enqueue order. The
// merge resolves ties to the left run, which preserves arrival order
// end to end; values distinguish the duplicates.
func TestDuplicateKeysStable(t *testing.T) {
	b := NewPointBuffer(8)
	enq(t, b, 5, 1)
	enq(t, b, 5, 2)
	enq(t, b, 3, 0)
	enq(t, b, 5, 3)
	b.SetMode(ModeReading)

	var k PointKey
	var v PointValue
	var fives []uint64
	for {
		ok, err := b.ReadNext(&k, &v)
		if err != nil || !ok {
			break
		}
		if k.Timestamp == 5 {
			fives = append(fives, v.Value1)
		}
	}
	if len(fives) != 3 || fives[0] != 1 || fives[1] != 2 || fives[2] != 3 {
		t.Errorf("duplicate emission order = %v, want [1 2 3]", fives)
	}
}

// TestRandomAgainstOracle sorts a few hundred random batches and
// compares against sort.Slice on the same data. Odd lengths exercise
// the singleton tail of the pairwise pass; small lengths exercise the
// degenerate strides.
func TestRandomAgainstOracle(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 200; trial++ {
		n := rng.Intn(65)
		b := NewPointBuffer(max(n, 1))
		keys := make([]uint64, n)
		for i := 0; i < n; i++ {
			keys[i] = uint64(rng.Intn(40))
			ok, err := b.TryEnqueue(&PointKey{Timestamp: keys[i]}, &PointValue{Value1: uint64(i)})
			if err != nil || !ok {
				t.Fatalf("trial %d enqueue %d: %v, %v", trial, i, ok, err)
			}
		}
		b.SetMode(ModeReading)

		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		var k PointKey
		var v PointValue
		for i := 0; i < n; i++ {
			ok, err := b.ReadNext(&k, &v)
			if err != nil || !ok {
				t.Fatalf("trial %d read %d: %v, %v", trial, i, ok, err)
			}
			if k.Timestamp != keys[i] {
				t.Fatalf("trial %d position %d = %d, want %d", trial, i, k.Timestamp, keys[i])
			}
		}
		if ok, _ := b.ReadNext(&k, &v); ok {
			t.Fatalf("trial %d yielded more than %d records", trial, n)
		}
	}
}
