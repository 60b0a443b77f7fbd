// Page pool tests.
//
// The pool is the core's only allocator, and its pressure protocol is
// what keeps the cache bounded: allocations never fail, so if the
// severity thresholds or the subscriber plumbing broke, the cache
// would simply grow until the process died. These tests pin the
// threshold arithmetic, page reuse through the free list, and the
// explicit subscribe/unsubscribe lifecycle that keeps the pool↔cache
// cycle collectable.
package tsarc

import "testing"

// TestPoolPressureSeverity drives usage through the 80/90/100%
// thresholds of a budget-10 pool and checks each allocation raises
// the severity its usage demands — and that allocations below the
// first threshold raise nothing.
func TestPoolPressureSeverity(t *testing.T) {
	p := NewPagePool(512, 10)
	var events []CollectionMode
	p.Subscribe(func(ev CollectionEvent) { events = append(events, ev.Mode) })

	for i := 0; i < 7; i++ {
		p.AllocatePage()
	}
	if len(events) != 0 {
		t.Fatalf("events below threshold = %v", events)
	}

	p.AllocatePage() // 8 of 10 → Normal
	p.AllocatePage() // 9 of 10 → Emergency
	p.AllocatePage() // 10 of 10 → Critical

	want := []CollectionMode{CollectionNormal, CollectionEmergency, CollectionCritical}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %v, want %v", i, events[i], want[i])
		}
	}
}

// TestPoolReuse: a released page index must be handed out again
// before any new memory is created, and its contents must come back
// zeroed — a page that leaked its previous tenant's bytes would
// surface as phantom data on the next cache miss.
func TestPoolReuse(t *testing.T) {
	p := NewPagePool(64, 4)

	idx, mem := p.AllocatePage()
	mem[0] = 0xFF
	p.ReleasePage(idx)

	idx2, mem2 := p.AllocatePage()
	if idx2 != idx {
		t.Errorf("reallocation index = %d, want reuse of %d", idx2, idx)
	}
	if mem2[0] != 0 {
		t.Errorf("reused page not zeroed: %#x", mem2[0])
	}
	if p.InUse() != 1 {
		t.Errorf("InUse = %d, want 1", p.InUse())
	}
}

// TestPoolUnsubscribe checks a removed handler never fires again and
// that removing an already-removed id is harmless.
func TestPoolUnsubscribe(t *testing.T) {
	p := NewPagePool(64, 1)
	fired := 0
	id := p.Subscribe(func(CollectionEvent) { fired++ })

	p.AllocatePage() // 1 of 1 → Critical
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}

	p.Unsubscribe(id)
	p.Unsubscribe(id)
	p.AllocatePage()
	if fired != 1 {
		t.Errorf("fired = %d after unsubscribe, want 1", fired)
	}
}

// TestDefaultPoolIdentity: DefaultPool is one process-wide instance,
// created on first use.
func TestDefaultPoolIdentity(t *testing.T) {
	if DefaultPool() != DefaultPool() {
		t.Error("DefaultPool returned distinct instances")
	}
	if DefaultPool().PageSize() != 4096 {
		t.Errorf("default page size = %d, want 4096", DefaultPool().PageSize())
	}
}
