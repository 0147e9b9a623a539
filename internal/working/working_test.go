package working

import (
	"math"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestMemory(t *testing.T, cfg Config) (*Memory, *time.Time) {
	t.Helper()
	m := New(cfg, zap.NewNop())
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, &now
}

func TestCapacityNeverExceeded(t *testing.T) {
	m, _ := newTestMemory(t, Config{Capacity: 3})
	for i := 0; i < 10; i++ {
		m.AddItem("item", []float64{float64(i)})
		if m.Len() > 3 {
			t.Fatalf("after insert %d: len %d exceeds capacity 3", i, m.Len())
		}
	}
	if s := m.Stats(); s.Evictions != 7 {
		t.Errorf("got %d evictions, want 7", s.Evictions)
	}
}

func TestEvictsWeakestFirst(t *testing.T) {
	m, _ := newTestMemory(t, Config{Capacity: 2})
	weak := m.AddItem("weak", nil)
	strong := m.AddItem("strong", nil)
	m.mu.Lock()
	m.items[weak].Activation = 0.1
	m.mu.Unlock()

	m.AddItem("new", nil)
	if _, ok := m.GetItem(weak); ok {
		t.Error("weak item should have been evicted")
	}
	if _, ok := m.GetItem(strong); !ok {
		t.Error("strong item should survive")
	}
}

func TestGetItemMarksAccess(t *testing.T) {
	m, _ := newTestMemory(t, Config{})
	id := m.AddItem("a", []float64{1, 2})
	m.GetItem(id)
	it, ok := m.GetItem(id)
	if !ok {
		t.Fatal("item not found")
	}
	if it.AccessCount != 2 {
		t.Errorf("got access count %d, want 2", it.AccessCount)
	}

	it.Features[0] = 99
	again, _ := m.GetItem(id)
	if again.Features[0] != 1 {
		t.Error("returned item must not alias internal state")
	}
}

func TestUnknownIDsAreNoops(t *testing.T) {
	m, _ := newTestMemory(t, Config{})
	if _, ok := m.GetItem(42); ok {
		t.Error("expected not found")
	}
	if m.RemoveItem(42) {
		t.Error("expected RemoveItem to report false")
	}
	if _, ok := m.CreateChunk([]uint64{41, 42}, "chunk"); ok {
		t.Error("expected chunk of unknown ids to fail")
	}
}

func TestUpdateActivationsZeroDtUnchanged(t *testing.T) {
	m, _ := newTestMemory(t, Config{})
	id := m.AddItem("a", nil)
	before, _ := m.GetItem(id)
	m.UpdateActivations(0)
	after, _ := m.GetItem(id)
	if before.Activation != after.Activation {
		t.Errorf("activation changed from %f to %f with dt=0", before.Activation, after.Activation)
	}
}

func TestUpdateActivationsComposable(t *testing.T) {
	a, _ := newTestMemory(t, Config{DecayRate: 0.3})
	b, _ := newTestMemory(t, Config{DecayRate: 0.3})
	ida := a.AddItem("x", nil)
	idb := b.AddItem("x", nil)

	T := 4 * time.Second
	a.UpdateActivations(T / 2)
	a.UpdateActivations(T / 2)
	b.UpdateActivations(T)

	ia, _ := a.GetItem(ida)
	ib, _ := b.GetItem(idb)
	if math.Abs(ia.Activation-ib.Activation) > 1e-9 {
		t.Errorf("two half steps gave %f, one full step gave %f", ia.Activation, ib.Activation)
	}
	want := math.Exp(-0.3 * 4)
	if math.Abs(ib.Activation-want) > 1e-9 {
		t.Errorf("got activation %f, want %f", ib.Activation, want)
	}
}

func TestExpiryNeedsAgeAndLowActivation(t *testing.T) {
	m, now := newTestMemory(t, Config{DecayRate: 1, ExpiryWindow: 10 * time.Second, ActivationFloor: 0.1})
	m.AddItem("fading", nil)

	// Low activation but still young: kept.
	if n := m.UpdateActivations(5 * time.Second); n != 0 {
		t.Fatalf("expired %d young items", n)
	}

	*now = now.Add(11 * time.Second)
	if n := m.UpdateActivations(0); n != 1 {
		t.Fatalf("got %d expired, want 1", n)
	}
	if m.Len() != 0 {
		t.Errorf("len %d after expiry, want 0", m.Len())
	}
}

func TestNegativeFloorDisablesExpiry(t *testing.T) {
	m, now := newTestMemory(t, Config{DecayRate: 1, ExpiryWindow: 10 * time.Second, ActivationFloor: -1})
	if m.cfg.ActivationFloor != 0 {
		t.Fatalf("floor %f, want 0", m.cfg.ActivationFloor)
	}
	m.AddItem("lingering", nil)
	*now = now.Add(time.Minute)
	if n := m.UpdateActivations(time.Minute); n != 0 {
		t.Errorf("expired %d items with no floor", n)
	}
	if m.Len() != 1 {
		t.Errorf("len %d, want 1", m.Len())
	}
}

func TestRehearseBoostsWeakest(t *testing.T) {
	m, _ := newTestMemory(t, Config{RehearsalCount: 1, RehearsalBoost: 0.3})
	strong := m.AddItem("strong", nil)
	weak := m.AddItem("weak", nil)
	m.mu.Lock()
	m.items[weak].Activation = 0.2
	m.items[strong].Activation = 0.9
	m.mu.Unlock()

	if n := m.RehearseItems(); n != 1 {
		t.Fatalf("rehearsed %d, want 1", n)
	}
	w, _ := m.GetItem(weak)
	s, _ := m.GetItem(strong)
	if math.Abs(w.Activation-0.5) > 1e-9 || !w.Rehearsed {
		t.Errorf("weak item: activation %f rehearsed %v", w.Activation, w.Rehearsed)
	}
	if s.Activation != 0.9 || s.Rehearsed {
		t.Errorf("strong item should be untouched: %+v", s)
	}
}

func TestCreateChunkMeans(t *testing.T) {
	m, _ := newTestMemory(t, Config{})
	a := m.AddItem("a", []float64{1, 0})
	b := m.AddItem("b", []float64{3, 2})
	m.mu.Lock()
	m.items[a].Activation = 0.4
	m.items[b].Activation = 0.8
	m.mu.Unlock()

	id, ok := m.CreateChunk([]uint64{a, b, 999}, "ab")
	if !ok {
		t.Fatal("chunk not created")
	}
	c, _ := m.GetItem(id)
	if c.Label != "ab" || c.Features[0] != 2 || c.Features[1] != 1 {
		t.Errorf("unexpected chunk %+v", c)
	}
	if math.Abs(c.Activation-0.6) > 1e-9 {
		t.Errorf("chunk activation %f, want 0.6", c.Activation)
	}
}

func TestChunkRespectsCapacity(t *testing.T) {
	m, _ := newTestMemory(t, Config{Capacity: 2})
	a := m.AddItem("a", []float64{1})
	b := m.AddItem("b", []float64{2})
	if _, ok := m.CreateChunk([]uint64{a, b}, "ab"); !ok {
		t.Fatal("chunk not created")
	}
	if m.Len() != 2 {
		t.Errorf("len %d, want 2", m.Len())
	}
}
