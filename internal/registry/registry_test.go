package registry

import (
	"testing"
	"time"
)

func entry(insertedAt int64) *PendingTransfer {
	return &PendingTransfer{
		ProcessedSignatures: make(map[Signature]struct{}),
		Contributors:        make(map[string]struct{}),
		InsertedAt:          insertedAt,
	}
}

func TestInsertionOrderPreserved(t *testing.T) {
	r := New()
	r.Put("a", entry(1))
	r.Put("b", entry(2))
	r.Put("c", entry(3))

	vals := r.Values()
	if len(vals) != 3 {
		t.Fatalf("len = %d, want 3", len(vals))
	}
	wantOrder := []int64{1, 2, 3}
	for i, v := range vals {
		if v.InsertedAt != wantOrder[i] {
			t.Errorf("position %d: InsertedAt = %d, want %d", i, v.InsertedAt, wantOrder[i])
		}
	}
}

func TestReauthoringCollapsesToLatest(t *testing.T) {
	r := New()
	r.Put("a", entry(1))
	r.Put("b", entry(2))
	r.Put("a", entry(100)) // re-author: remove then append

	vals := r.Values()
	if len(vals) != 2 {
		t.Fatalf("len = %d, want 2", len(vals))
	}
	if vals[0].InsertedAt != 2 || vals[1].InsertedAt != 100 {
		t.Fatalf("re-authored entry should move to the tail, got order %v, %v", vals[0].InsertedAt, vals[1].InsertedAt)
	}
}

func TestExpireIsHeadOnly(t *testing.T) {
	r := New()
	r.Put("old", entry(0))
	r.Put("mid", entry(6000))
	r.Put("new", entry(9900))

	expired := r.Expire(10000, 5*time.Second)
	if len(expired) != 1 {
		t.Fatalf("expected exactly 1 expired (>=5000ms old), got %d", len(expired))
	}
	if r.Len() != 2 {
		t.Fatalf("remaining len = %d, want 2", r.Len())
	}
	if !r.Contains("mid") || !r.Contains("new") {
		t.Fatalf("expire should only remove from the head")
	}
}

func TestExpireStopsAtFirstYoungEntry(t *testing.T) {
	r := New()
	r.Put("a", entry(0))
	r.Put("b", entry(9999)) // young
	r.Put("c", entry(0))    // old, but behind a young entry in insertion order

	expired := r.Expire(10000, 5*time.Second)
	if len(expired) != 1 || expired[0].InsertedAt != 0 {
		t.Fatalf("head-only scan must stop at the first young entry, got %d expired", len(expired))
	}
	if r.Len() != 2 {
		t.Fatalf("len = %d, want 2 (stopped scan leaves b and c)", r.Len())
	}
}

func TestClear(t *testing.T) {
	r := New()
	r.Put("a", entry(1))
	r.Clear()
	if r.Len() != 0 {
		t.Fatalf("len = %d after Clear, want 0", r.Len())
	}
}
