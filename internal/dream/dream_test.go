package dream

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nidhogg/nuka-memory/internal/episodic"
	"github.com/nidhogg/nuka-memory/internal/memory"
	"github.com/nidhogg/nuka-memory/internal/semantic"
	"github.com/nidhogg/nuka-memory/internal/substrate"
	"github.com/nidhogg/nuka-memory/internal/working"
	"go.uber.org/zap"
)

type fixture struct {
	p   *Processor
	epi *episodic.Manager
	sem *semantic.Memory
	wm  *working.Memory
	sub *substrate.Loopback
}

func newFixture(t *testing.T, cfg Config, seed int64) *fixture {
	t.Helper()
	log := zap.NewNop()
	f := &fixture{
		p:   New(cfg, memory.NewRand(seed), log),
		epi: episodic.NewManager(episodic.Config{}, log),
		sem: semantic.New(semantic.Config{}, log),
		wm:  working.New(working.Config{}, log),
		sub: substrate.NewLoopback(substrate.Config{}, log),
	}
	f.p.RegisterEpisodic(f.epi)
	f.p.RegisterSemantic(f.sem)
	f.p.RegisterWorking(f.wm)
	f.p.RegisterSubstrate(f.sub)
	f.p.RegisterLearning(f.sub)
	f.p.RegisterPhase(remPhase{})
	return f
}

type remPhase struct{}

func (remPhase) Phase() memory.Phase { return memory.PhaseREM }

func (f *fixture) seed() {
	f.epi.StoreEpisode("the harbour", []float64{0.2, 0.8, 0.1}, []float64{3, 1}, "boats at dusk")
	f.epi.StoreEpisode("the exam hall", []float64{0.9, 0.1, 0.4}, []float64{-6, 5}, "blank page")
	f.sem.CreateConcept("boat", []float64{0.3, 0.7, 0.0}, semantic.TypeObject, "")
	f.sem.CreateConcept("sail", []float64{0.1, 0.9, 0.2}, semantic.TypeAction, "")
	f.wm.AddItem("deadline", []float64{0.5, 0.5, 0.5})
}

func TestNotReady(t *testing.T) {
	p := New(Config{}, memory.NewRand(1), zap.NewNop())
	if _, ok := p.GenerateDream(context.Background(), time.Minute, nil, 0); ok {
		t.Error("dream generated without stores")
	}
	if p.Stats().Total != 0 {
		t.Error("state changed on refusal")
	}

	f := newFixture(t, Config{}, 1)
	f.seed()
	f.p.RegisterLearning(nil)
	if f.p.Ready() {
		t.Error("ready without a learning system")
	}
	if _, ok := f.p.GenerateDream(context.Background(), time.Minute, nil, 0); ok {
		t.Error("dream generated without a learning system")
	}
}

func TestNothingToDreamAbout(t *testing.T) {
	f := newFixture(t, Config{}, 1)
	if _, ok := f.p.GenerateDream(context.Background(), time.Minute, nil, 0); ok {
		t.Error("dream generated from empty stores")
	}
}

func TestStressRaisesNightmares(t *testing.T) {
	count := func(stress float64) int {
		f := newFixture(t, Config{}, 42)
		f.seed()
		n := 0
		for i := 0; i < 300; i++ {
			d, ok := f.p.GenerateDream(context.Background(), time.Minute, []float64{0.1, 0.1}, stress)
			if !ok {
				t.Fatal("dream not generated")
			}
			if d.Type == Nightmare {
				n++
			}
		}
		return n
	}
	calm, stressed := count(0), count(1)
	if stressed <= calm {
		t.Errorf("nightmares at stress 1 (%d) not above stress 0 (%d)", stressed, calm)
	}
}

func TestNarrativeShape(t *testing.T) {
	f := newFixture(t, Config{}, 7)
	f.seed()
	d, ok := f.p.GenerateDream(context.Background(), time.Minute, []float64{0.3}, 0.2)
	if !ok {
		t.Fatal("dream not generated")
	}
	if d.ID == "" || d.Text == "" || len(d.Sources) == 0 {
		t.Errorf("incomplete narrative %+v", d)
	}
	for _, v := range []float64{d.Coherence, d.Creativity, d.EmotionalIntensity} {
		if v < 0 || v > 1 {
			t.Errorf("score %f outside [0,1]", v)
		}
	}
	if d.Duration <= 0 || d.Duration > time.Minute {
		t.Errorf("duration %s outside REM budget", d.Duration)
	}
	if s := f.sub.Stats(); s.Replays != 1 || s.Reinforcements != 1 {
		t.Errorf("write-back missing: %+v", s)
	}
}

func TestProblemContextFormsInsight(t *testing.T) {
	f := newFixture(t, Config{
		NightmareBase:             0.0001,
		LucidProbability:          0.0001,
		CreativeProbability:       0.0001,
		EmotionalProbability:      0.0001,
		SemanticProbability:       0.0001,
		ProblemSolvingProbability: 0.99,
		InsightThreshold:          0.5,
	}, 3)
	f.seed()
	f.p.SetProblemContext([]float64{0.4, 0.6, 0.2}, []string{"check the tide tables"})

	var got Narrative
	for i := 0; i < 20; i++ {
		d, _ := f.p.GenerateDream(context.Background(), time.Minute, nil, 0)
		if d.Type == ProblemSolving {
			got = d
			break
		}
	}
	if got.Type != ProblemSolving {
		t.Fatal("no problem-solving dream drawn")
	}
	if !strings.Contains(got.Text, "tide tables") {
		t.Errorf("hint missing from text %q", got.Text)
	}
	if got.Insight == nil {
		t.Fatal("insight not formed")
	}
	if _, ok := f.sem.Peek(got.Insight.ID); !ok {
		t.Error("insight concept missing from semantic memory")
	}
	if f.p.Stats().Insights == 0 {
		t.Error("insight not counted")
	}

	f.p.ClearProblemContext()
	if f.p.Stats().HasProblem {
		t.Error("problem context not cleared")
	}
}

func TestHistoryBounded(t *testing.T) {
	f := newFixture(t, Config{MaxHistory: 5, MaxPerType: 2}, 9)
	f.seed()
	for i := 0; i < 20; i++ {
		f.p.GenerateDream(context.Background(), time.Minute, nil, 0)
	}
	if h := f.p.History(0); len(h) != 5 {
		t.Errorf("history %d, want 5", len(h))
	}
	for _, typ := range Types {
		if n := len(f.p.HistoryByType(typ, 0)); n > 2 {
			t.Errorf("%s history %d exceeds 2", typ, n)
		}
	}
	if f.p.Stats().Total != 20 {
		t.Errorf("total %d, want 20", f.p.Stats().Total)
	}
}

func TestAnalyzeDream(t *testing.T) {
	calm := AnalyzeDream(Narrative{Type: Episodic, Coherence: 1, Sources: make([]memory.Ref, 5)})
	if calm.ConsolidationBenefit != 1 {
		t.Errorf("consolidation benefit %f, want 1", calm.ConsolidationBenefit)
	}
	bad := AnalyzeDream(Narrative{Type: Nightmare, EmotionalIntensity: 1, Coherence: 1})
	if bad.EmotionalProcessing != 1 {
		t.Errorf("emotional processing %f, want 1", bad.EmotionalProcessing)
	}
	prob := AnalyzeDream(Narrative{Type: ProblemSolving, Coherence: 0.5})
	if prob.ProblemSolving != 0.75 {
		t.Errorf("problem solving %f, want 0.75", prob.ProblemSolving)
	}
}
