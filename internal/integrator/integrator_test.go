package integrator

import (
	"context"
	"testing"
	"time"

	"github.com/nidhogg/nuka-memory/internal/memory"
	"github.com/nidhogg/nuka-memory/internal/semantic"
	"github.com/nidhogg/nuka-memory/internal/substrate"
	"go.uber.org/zap"
)

func newIntegrator(t *testing.T, cfg Config) (*Integrator, *substrate.Loopback) {
	t.Helper()
	sub := substrate.NewLoopback(substrate.Config{}, zap.NewNop())
	in, err := New(cfg, sub, sub, memory.NewRand(5), zap.NewNop())
	if err != nil {
		t.Fatalf("new integrator: %v", err)
	}
	return in, sub
}

func TestDefaultConfigIsOperational(t *testing.T) {
	in, sub := newIntegrator(t, DefaultConfig())
	if !in.IsOperational() {
		t.Fatal("default integrator not operational")
	}
	if in.Working() == nil || in.Episodic() == nil || in.Semantic() == nil || in.Procedural() == nil ||
		in.Development() == nil || in.Sleep() == nil || in.Dreams() == nil {
		t.Fatal("enabled subsystem missing")
	}
	if len(in.Development().Periods()) == 0 {
		t.Error("standard periods not loaded")
	}
	_ = sub.ReinforcePattern(context.Background(), []float64{1}, 1)
	if got, want := sub.Stats().LastPlasticity, in.Development().PlasticityMultiplier("cortex"); got != want {
		t.Errorf("plasticity %f, want developmental multiplier %f", got, want)
	}
}

func TestSleepReadinessSeparateFromOperational(t *testing.T) {
	in, err := New(DefaultConfig(), nil, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !in.IsOperational() {
		t.Error("every enabled store built but not operational")
	}
	if in.SleepReady() {
		t.Error("sleep ready without learning system and substrate")
	}
	if s := in.Stats(); !s.Operational || s.SleepReady {
		t.Errorf("stats operational=%v sleep_ready=%v", s.Operational, s.SleepReady)
	}

	ready, _ := newIntegrator(t, DefaultConfig())
	if !ready.SleepReady() {
		t.Error("sleep not ready with every collaborator")
	}
}

func TestDisabledStoresDoNotCount(t *testing.T) {
	disable := map[string]func(*Config){
		"working":     func(c *Config) { c.EnableWorking = false },
		"episodic":    func(c *Config) { c.EnableEpisodic = false },
		"semantic":    func(c *Config) { c.EnableSemantic = false },
		"procedural":  func(c *Config) { c.EnableProcedural = false },
		"development": func(c *Config) { c.EnableDevelopment = false },
		"sleep":       func(c *Config) { c.EnableSleep = false },
		"dreams":      func(c *Config) { c.EnableDreams = false },
	}
	for name, off := range disable {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			off(&cfg)
			in, _ := newIntegrator(t, cfg)
			if !in.IsOperational() {
				t.Errorf("%s disabled, all enabled stores built: not operational", name)
			}
		})
	}

	in, err := New(Config{EnableEpisodic: true}, nil, nil, nil, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if !in.IsOperational() {
		t.Error("disabled stores counted against operational state")
	}
	if in.Semantic() != nil || in.Sleep() != nil {
		t.Error("disabled subsystem constructed")
	}
	if in.SleepReady() {
		t.Error("sleep ready with sleep disabled")
	}
	ref, ok := in.StoreIntegratedMemory("rainy walk", []float64{0.1, 0.9}, []float64{2}, "forgot the umbrella")
	if !ok || ref.System != memory.SystemEpisodic {
		t.Errorf("stored as %v ok=%v, want episodic", ref, ok)
	}
	if _, ok := in.AddWorkingItem("x", nil); ok {
		t.Error("working item stored with working memory disabled")
	}
}

func TestStoreIntegratedMemoryPrefersSemantic(t *testing.T) {
	in, _ := newIntegrator(t, DefaultConfig())
	ref, ok := in.StoreIntegratedMemory("lighthouse", []float64{0.4, 0.4}, nil, "tall tower by the sea")
	if !ok || ref.System != memory.SystemSemantic {
		t.Fatalf("stored as %v ok=%v, want semantic", ref, ok)
	}
	if !in.Exists(ref) {
		t.Error("stored concept not found")
	}
}

func seedApples(in *Integrator) {
	in.AddWorkingItem("red apple", []float64{1, 0, 0})
	in.StoreEpisode("orchard", []float64{0.9, 0.1, 0}, []float64{3}, "picked a red apple")
	in.Semantic().CreateConcept("apple", []float64{1, 0.1, 0}, semantic.TypeObject, "a round fruit")
	in.Procedural().AddSkill("peel apple", []string{"hold", "rotate", "cut"}, []float64{0.3, 0.3})
	in.Semantic().CreateConcept("bicycle", []float64{0, 0, 1}, semantic.TypeObject, "two wheels")
}

func TestQueryAllSystems(t *testing.T) {
	in, _ := newIntegrator(t, DefaultConfig())
	seedApples(in)

	res := in.QueryAllSystems(context.Background(), Query{Text: "apple"})
	seen := map[memory.System]bool{}
	for i, r := range res {
		seen[r.Ref.System] = true
		if r.Label == "bicycle" {
			t.Error("unrelated concept returned")
		}
		if i > 0 && r.Score > res[i-1].Score {
			t.Error("results not ranked")
		}
	}
	if len(seen) != 4 {
		t.Errorf("hits from %d systems, want 4: %+v", len(seen), res)
	}

	if got := in.QueryAllSystems(context.Background(), Query{Text: "apple", K: 2}); len(got) != 2 {
		t.Errorf("k=2 returned %d", len(got))
	}
	only := in.QueryAllSystems(context.Background(), Query{Text: "apple", Systems: []memory.System{memory.SystemProcedural}})
	if len(only) != 1 || only[0].Label != "peel apple" {
		t.Errorf("system filter ignored: %+v", only)
	}
	byVec := in.QueryAllSystems(context.Background(), Query{Features: []float64{0, 0, 1}, K: 1})
	if len(byVec) != 1 || byVec[0].Label != "bicycle" {
		t.Errorf("feature query: %+v", byVec)
	}
	if in.QueryAllSystems(context.Background(), Query{}) != nil {
		t.Error("empty query returned results")
	}
}

func TestCrossSystemLinks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxLinksPerSource = 2
	in, _ := newIntegrator(t, cfg)
	now := time.Unix(1000, 0)
	in.now = func() time.Time { return now }

	src, _ := in.AddWorkingItem("kettle", []float64{1})
	a, _ := in.StoreEpisode("breakfast", []float64{1}, nil, "")
	b, _ := in.StoreEpisode("lunch", []float64{1}, nil, "")
	c, _ := in.StoreEpisode("dinner", []float64{1}, nil, "")

	if in.CreateCrossSystemLink(src, src, 0.5) {
		t.Error("self link accepted")
	}
	if in.CreateCrossSystemLink(src, memory.Ref{System: memory.SystemSemantic, ID: 999}, 0.5) {
		t.Error("link to missing target accepted")
	}

	in.CreateCrossSystemLink(src, a, 0.4)
	now = now.Add(time.Second)
	in.CreateCrossSystemLink(src, b, 0.4)
	now = now.Add(time.Second)
	in.CreateCrossSystemLink(src, c, 0.9)

	links := in.Links(src)
	if len(links) != 2 {
		t.Fatalf("links %d, want 2", len(links))
	}
	// equal strengths: the older link to a goes first
	if links[0].Target != c || links[1].Target != b {
		t.Errorf("wrong link evicted: %+v", links)
	}

	in.CreateCrossSystemLink(src, b, 0.2)
	if l := in.Links(src); l[1].Strength != 0.4 {
		t.Errorf("relink lowered strength to %f", l[1].Strength)
	}
}

func TestLinkMaintenance(t *testing.T) {
	in, _ := newIntegrator(t, DefaultConfig())
	src, _ := in.AddWorkingItem("umbrella", []float64{1})
	keep, _ := in.StoreEpisode("storm", []float64{1}, nil, "")
	gone, _ := in.StoreEpisode("drizzle", []float64{1}, nil, "")
	in.CreateCrossSystemLink(src, keep, 0.5)
	in.CreateCrossSystemLink(src, gone, 0.5)
	in.Episodic().RemoveEpisode(gone.ID)

	if n := in.UpdateMemoryRelevance(); n != 1 {
		t.Errorf("dropped %d links, want 1", n)
	}
	l := in.Links(src)
	if len(l) != 1 || l[0].Strength != 0.5*0.98 {
		t.Errorf("links after relevance update %+v", l)
	}
	if n := in.PruneWeakLinks(0.6); n != 1 || len(in.Links(src)) != 0 {
		t.Errorf("prune removed %d", n)
	}
	if s := in.Stats(); s.Links != 0 || s.LinkSources != 0 {
		t.Errorf("stats %+v", s)
	}
}

func TestRetrieveWithContextBoostsLinked(t *testing.T) {
	in, _ := newIntegrator(t, DefaultConfig())
	sem := in.Semantic()
	sem.CreateConcept("tea", []float64{1, 0}, semantic.TypeObject, "hot drink")
	coffee := memory.Ref{System: memory.SystemSemantic, ID: sem.CreateConcept("coffee", []float64{0, 1}, semantic.TypeObject, "hot drink")}
	morning, _ := in.StoreEpisode("morning", []float64{0.5}, nil, "woke up early")

	plain := in.QueryAllSystems(context.Background(), Query{Text: "drink"})
	if len(plain) < 2 || plain[0].Label != "tea" {
		t.Fatalf("baseline order %+v", plain)
	}
	if !in.CreateCrossSystemLink(morning, coffee, 0.8) {
		t.Fatal("link refused")
	}
	got := in.RetrieveWithContext(context.Background(), Query{Text: "drink", K: 2}, "morning")
	if len(got) != 2 || got[0].Label != "coffee" {
		t.Errorf("linked result not boosted: %+v", got)
	}
}

func TestMaintainGatesSlowTasks(t *testing.T) {
	in, _ := newIntegrator(t, DefaultConfig())
	id, _ := in.AddWorkingItem("phone number", []float64{1})

	r := in.Maintain(30 * time.Second)
	if r.Slow {
		t.Error("slow tasks ran before the interval")
	}
	it, _ := in.Working().GetItem(id.ID)
	if it.Activation >= 1 {
		t.Errorf("activation %f not decayed", it.Activation)
	}
	if in.Development().SystemAge() != 30*time.Second {
		t.Errorf("system age %s", in.Development().SystemAge())
	}
	if r = in.Maintain(30 * time.Second); !r.Slow {
		t.Error("slow tasks did not run after the interval")
	}
	if in.Stats().Maintenance != 1 {
		t.Error("maintenance run not counted")
	}
	if r = in.Maintain(0); r.Slow || r.Rehearsed != 0 {
		t.Error("zero step did work")
	}
}

func TestOnTickUsesElapsedWorldTime(t *testing.T) {
	in, _ := newIntegrator(t, DefaultConfig())
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	in.OnTick(t0)
	if in.Development().SystemAge() != 0 {
		t.Error("first tick advanced age")
	}
	in.OnTick(t0.Add(2 * time.Minute))
	if in.Development().SystemAge() != 2*time.Minute {
		t.Errorf("system age %s, want 2m", in.Development().SystemAge())
	}
	if in.Stats().Maintenance != 1 {
		t.Error("slow maintenance did not run")
	}
}

func TestSleepSessionProducesDream(t *testing.T) {
	in, sub := newIntegrator(t, DefaultConfig())
	seedApples(in)
	in.StoreEpisode("market", []float64{0.2, 0.8, 0.1}, []float64{5, 1}, "crowded stalls")

	r, ok := in.Sleep().TriggerConsolidation(context.Background(), true, 2*time.Minute)
	if !ok {
		t.Fatal("session refused")
	}
	if r.Dream == nil {
		t.Error("no dream generated in REM")
	}
	if sub.Stats().Replays == 0 {
		t.Error("no replays reached the substrate")
	}
	s := in.Stats()
	if s.Sleep == nil || s.Sleep.Sessions != 1 || s.Dreams == nil || s.Dreams.Total != 1 {
		t.Errorf("stats %+v", s)
	}
}
