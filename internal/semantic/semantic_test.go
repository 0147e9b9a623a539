package semantic

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
	m.lastCycle = now
	return m, &now
}

func TestCreateConceptSameLabelBlends(t *testing.T) {
	m, _ := newTestMemory(t, Config{EvidenceWeight: 0.2})
	first := m.CreateConcept("cat", []float64{1, 0}, TypeObject, "small feline")
	second := m.CreateConcept("cat", []float64{0, 1}, TypeObject, "")
	if first != second {
		t.Fatalf("same label produced ids %d and %d", first, second)
	}
	if m.Len() != 1 {
		t.Fatalf("len %d, want 1", m.Len())
	}
	c, _ := m.FindByLabel("cat")
	if math.Abs(c.Features[0]-0.8) > 1e-9 || math.Abs(c.Features[1]-0.2) > 1e-9 {
		t.Errorf("features %v, want [0.8 0.2]", c.Features)
	}
	if c.Support <= 0.1 {
		t.Errorf("support %f not increased", c.Support)
	}
	if got := m.SearchKeyword("feline"); len(got) != 1 || got[0].ID != first {
		t.Errorf("keyword index returned %+v", got)
	}
}

func TestCapacityEvictsBeforeInsert(t *testing.T) {
	m, _ := newTestMemory(t, Config{MaxConcepts: 3})
	for i, label := range []string{"a", "b", "c", "d", "e"} {
		m.CreateConcept(label, []float64{float64(i + 1)}, TypeObject, "")
		if m.Len() > 3 {
			t.Fatalf("len %d exceeds capacity", m.Len())
		}
	}
	if s := m.Stats(); s.Evicted != 2 {
		t.Errorf("evicted %d, want 2", s.Evicted)
	}
	if _, ok := m.FindByLabel("e"); !ok {
		t.Error("newest concept missing")
	}
}

func TestRelateIsBidirectional(t *testing.T) {
	m, _ := newTestMemory(t, Config{})
	a := m.CreateConcept("a", []float64{1}, TypeObject, "")
	b := m.CreateConcept("b", []float64{1}, TypeObject, "")
	if !m.RelateConcepts(a, b, 0.7) {
		t.Fatal("relate failed")
	}
	if m.RelateConcepts(a, 999, 0.5) || m.RelateConcepts(a, a, 0.5) {
		t.Error("relating unknown or self should fail")
	}
	if r := m.Related(b); len(r) != 1 || r[0].ID != a || r[0].Strength != 0.7 {
		t.Errorf("unexpected relations of b: %+v", r)
	}
}

func TestMergeUnionsRelations(t *testing.T) {
	m, _ := newTestMemory(t, Config{})
	a := m.CreateConcept("dog", []float64{1, 0, 0}, TypeObject, "")
	b := m.CreateConcept("hound", []float64{0.99, 0.01, 0}, TypeObject, "")
	n1 := m.CreateConcept("bone", []float64{0, 1, 0}, TypeObject, "")
	n2 := m.CreateConcept("leash", []float64{0, 0, 1}, TypeObject, "")
	m.RelateConcepts(a, n1, 0.4)
	m.RelateConcepts(b, n2, 0.6)

	if n := m.MergeSimilarConcepts(0.92); n != 1 {
		t.Fatalf("merged %d, want 1", n)
	}
	if m.Len() != 3 {
		t.Fatalf("len %d, want 3", m.Len())
	}
	if _, ok := m.FindByLabel("hound"); ok {
		t.Error("loser still reachable through label index")
	}
	survivor, ok := m.Peek(a)
	if !ok {
		t.Fatal("survivor missing")
	}
	if survivor.Related[n1] != 0.4 || survivor.Related[n2] != 0.6 {
		t.Errorf("survivor relations %v", survivor.Related)
	}
	leash, _ := m.Peek(n2)
	if _, stale := leash.Related[b]; stale {
		t.Error("neighbor still points at merged concept")
	}
	if leash.Related[a] != 0.6 {
		t.Errorf("neighbor not repointed: %v", leash.Related)
	}
}

func TestFormHierarchy(t *testing.T) {
	m, _ := newTestMemory(t, Config{})
	animal := m.CreateConcept("animal", []float64{1, 1}, TypeAbstract, "")
	cat := m.CreateConcept("cat", []float64{1, 0.9}, TypeObject, "")
	m.CreateConcept("rock", []float64{-1, 0}, TypeObject, "")

	if n := m.FormHierarchicalRelationships(0.75); n != 1 {
		t.Fatalf("formed %d, want 1", n)
	}
	p, _ := m.Peek(animal)
	c, _ := m.Peek(cat)
	if len(p.Children) != 1 || p.Children[0] != cat || len(c.Parents) != 1 || c.Parents[0] != animal {
		t.Errorf("parent %+v child %+v", p.Children, c.Parents)
	}
	if n := m.FormHierarchicalRelationships(0.75); n != 0 {
		t.Errorf("second pass formed %d, want 0", n)
	}
}

func TestDecayThenPrune(t *testing.T) {
	m, _ := newTestMemory(t, Config{})
	weak := m.CreateConcept("weak", []float64{1}, TypeObject, "")
	used := m.CreateConcept("used", []float64{-1}, TypeObject, "")
	m.RelateConcepts(weak, used, 0.5)
	m.GetConcept(used)

	m.ApplyConceptDecay(0.9)
	c, _ := m.Peek(weak)
	if math.Abs(c.Strength-0.05) > 1e-9 {
		t.Fatalf("strength %f, want 0.05", c.Strength)
	}
	if n := m.PruneWeakConcepts(0.1, 1); n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}
	u, _ := m.Peek(used)
	if len(u.Related) != 0 {
		t.Errorf("dangling edge left: %v", u.Related)
	}
	if len(m.ByType(TypeObject)) != 1 {
		t.Error("type index not cleaned")
	}
}

func TestExtractReusesNearestConcept(t *testing.T) {
	m, _ := newTestMemory(t, Config{})
	ep := EpisodeFeatures{Context: "kitchen", Sensory: []float64{1, 0}, InternalState: []float64{1, 2, 3, 4, 5}}
	first := m.ExtractConceptsFromEpisode(ep, 0.8)
	again := m.ExtractConceptsFromEpisode(ep, 0.8)
	if len(first) != 1 || len(again) != 1 || first[0] != again[0] {
		t.Fatalf("expected reuse, got %v then %v", first, again)
	}
	c, _ := m.Peek(first[0])
	if len(c.Features) != 4 {
		t.Errorf("combined vector length %d, want 4", len(c.Features))
	}

	other := m.ExtractConceptsFromEpisode(EpisodeFeatures{Context: "garden", Sensory: []float64{0, 1}}, 0.8)
	if other[0] == first[0] {
		t.Error("dissimilar episode should create a new concept")
	}
	if m.ExtractConceptsFromEpisode(EpisodeFeatures{Context: "empty"}, 0.8) != nil {
		t.Error("empty episode should extract nothing")
	}
}

func TestConsolidateGatedAndNonReentrant(t *testing.T) {
	m, now := newTestMemory(t, Config{ConsolidationInterval: time.Minute})
	m.CreateConcept("a", []float64{1}, TypeObject, "")

	if _, ok := m.Consolidate(false); ok {
		t.Error("consolidation ran before interval elapsed")
	}
	*now = now.Add(2 * time.Minute)
	if _, ok := m.Consolidate(false); !ok {
		t.Error("consolidation should run after interval")
	}

	m.consolidating.Store(true)
	if _, ok := m.Consolidate(true); ok {
		t.Error("overlapping consolidation should be refused")
	}
	m.consolidating.Store(false)
	if _, ok := m.Consolidate(true); !ok {
		t.Error("forced consolidation should run")
	}
	if s := m.Stats(); s.Consolidations != 2 {
		t.Errorf("consolidations %d, want 2", s.Consolidations)
	}
}

func TestCreateAbstraction(t *testing.T) {
	m, _ := newTestMemory(t, Config{})
	a := m.CreateConcept("apple", []float64{1, 0}, TypeObject, "")
	b := m.CreateConcept("pear", []float64{0, 1}, TypeObject, "")
	pid, ok := m.CreateAbstraction([]uint64{a, b, 42}, "fruit")
	if !ok {
		t.Fatal("abstraction not created")
	}
	p, _ := m.Peek(pid)
	if len(p.Children) != 2 || p.Features[0] != 0.5 || p.Abstraction < 0.4 {
		t.Errorf("unexpected abstraction %+v", p)
	}
	if _, ok := m.CreateAbstraction([]uint64{99}, "nothing"); ok {
		t.Error("abstraction over unknown ids should fail")
	}
}

func TestCreateAbstractionAtCapacity(t *testing.T) {
	m, _ := newTestMemory(t, Config{MaxConcepts: 2})
	a := m.CreateConcept("apple", []float64{1, 0}, TypeObject, "")
	b := m.CreateConcept("pear", []float64{0, 1}, TypeObject, "")
	pid, ok := m.CreateAbstraction([]uint64{a, b}, "fruit")
	if !ok {
		t.Fatal("abstraction not created")
	}
	if m.Len() != 2 {
		t.Fatalf("len %d, want capacity 2", m.Len())
	}
	p, _ := m.Peek(pid)
	if len(p.Children) != 1 {
		t.Fatalf("children %v, want the surviving member only", p.Children)
	}
	for _, id := range p.Children {
		c, ok := m.Peek(id)
		if !ok {
			t.Fatalf("parent lists evicted child %d", id)
		}
		if len(c.Parents) != 1 || c.Parents[0] != pid {
			t.Errorf("child %d parents %v", id, c.Parents)
		}
	}
}
