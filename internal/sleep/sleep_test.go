package sleep

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nidhogg/nuka-memory/internal/dream"
	"github.com/nidhogg/nuka-memory/internal/episodic"
	"github.com/nidhogg/nuka-memory/internal/memory"
	"github.com/nidhogg/nuka-memory/internal/procedural"
	"github.com/nidhogg/nuka-memory/internal/semantic"
	"github.com/nidhogg/nuka-memory/internal/substrate"
	"github.com/nidhogg/nuka-memory/internal/working"
	"go.uber.org/zap"
)

type fixture struct {
	o    *Orchestrator
	epi  *episodic.Manager
	sem  *semantic.Memory
	wm   *working.Memory
	proc *procedural.Memory
	sub  *substrate.Loopback
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	log := zap.NewNop()
	o, err := New(cfg, memory.NewRand(11), log)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	f := &fixture{
		o:    o,
		epi:  episodic.NewManager(episodic.Config{}, log),
		sem:  semantic.New(semantic.Config{}, log),
		wm:   working.New(working.Config{}, log),
		proc: procedural.New(procedural.Config{}, log),
		sub:  substrate.NewLoopback(substrate.Config{}, log),
	}
	o.RegisterEpisodic(f.epi)
	o.RegisterSemantic(f.sem)
	o.RegisterWorking(f.wm)
	o.RegisterProcedural(f.proc)
	o.RegisterLearning(f.sub)
	o.RegisterSubstrate(f.sub)
	return f
}

func (f *fixture) seed() {
	f.epi.StoreEpisode("kitchen", []float64{1, 0, 0}, []float64{8, 2}, "burnt toast")
	f.epi.StoreEpisode("park", []float64{0, 1, 0}, []float64{1, 1}, "dog chased a ball")
	f.epi.StoreEpisode("office", []float64{0.2, 0.2, 0.9}, []float64{0, 0}, "long meeting")
	id := f.wm.AddItem("tie shoelaces", []float64{0.3, 0.7})
	f.wm.GetItem(id)
	f.wm.GetItem(id)
}

func TestNotReadyRefusesWithoutStateChange(t *testing.T) {
	o, err := New(Config{}, memory.NewRand(1), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	o.RegisterEpisodic(episodic.NewManager(episodic.Config{}, zap.NewNop()))
	for i := 0; i < 2; i++ {
		if _, ok := o.TriggerConsolidation(context.Background(), true, time.Minute); ok {
			t.Fatalf("call %d: session ran without collaborators", i)
		}
	}
	if s := o.Stats(); s.Sessions != 0 || s.Active || s.Phase != memory.PhaseAwake {
		t.Errorf("state changed: %+v", s)
	}
	if _, ok := o.LastReport(); ok {
		t.Error("report recorded for refused session")
	}
}

func TestSessionRunsAndReturnsToAwake(t *testing.T) {
	f := newFixture(t, Config{})
	f.seed()

	var observed []Report
	f.o.AddObserver(func(r Report) { observed = append(observed, r) })

	r, ok := f.o.TriggerConsolidation(context.Background(), true, 120*time.Second)
	if !ok {
		t.Fatal("session refused")
	}
	if f.o.IsConsolidationActive() || f.o.Phase() != memory.PhaseAwake {
		t.Error("orchestrator still active after session")
	}
	if r.SlowWave != 72*time.Second || r.REM != 36*time.Second {
		t.Errorf("phase budgets %s / %s", r.SlowWave, r.REM)
	}
	if r.SlowWaveReplays != 3 || r.REMReplays != 18 {
		t.Errorf("replays slow=%d rem=%d", r.SlowWaveReplays, r.REMReplays)
	}
	if !r.Scaled || f.sub.Stats().Scalings != 1 {
		t.Error("homeostatic scaling not applied")
	}
	if r.Transferred == 0 || f.sem.Len() == 0 {
		t.Error("no episodic to semantic transfer")
	}
	if r.ProceduralTransfers != 1 {
		t.Errorf("procedural transfers %d, want 1", r.ProceduralTransfers)
	}
	if _, ok := f.proc.FindSkill("tie shoelaces"); !ok {
		t.Error("rehearsed item not transferred to procedural memory")
	}
	if len(observed) != 1 || observed[0].ID != r.ID {
		t.Error("observer not notified")
	}
	if last, ok := f.o.LastReport(); !ok || last.ID != r.ID {
		t.Error("last report not recorded")
	}
}

func TestReplayBudgetCapped(t *testing.T) {
	f := newFixture(t, Config{MaxReplays: 4, ReplaysPerSecond: 10})
	for i := 0; i < 20; i++ {
		f.epi.StoreEpisode("e", []float64{float64(i), 1}, nil, "")
	}
	r, ok := f.o.TriggerConsolidation(context.Background(), true, 100*time.Second)
	if !ok {
		t.Fatal("session refused")
	}
	if r.SlowWaveReplays != 4 || r.REMReplays != 4 {
		t.Errorf("replays slow=%d rem=%d, want 4/4", r.SlowWaveReplays, r.REMReplays)
	}
}

func TestRandomDurationWithinBounds(t *testing.T) {
	f := newFixture(t, Config{MinDuration: 10 * time.Second, MaxDuration: 20 * time.Second})
	for i := 0; i < 5; i++ {
		r, _ := f.o.TriggerConsolidation(context.Background(), true, 0)
		if r.Duration < 10*time.Second || r.Duration > 20*time.Second {
			t.Errorf("duration %s out of bounds", r.Duration)
		}
	}
}

func TestPriorityRanking(t *testing.T) {
	f := newFixture(t, Config{})
	now := time.Now()
	recs := []episodic.Record{
		{Episode: episodic.Episode{ID: 1, Timestamp: now, Sensory: []float64{0, 0}, Emotional: []float64{0}}},
		{Episode: episodic.Episode{ID: 2, Timestamp: now, Sensory: []float64{0, 0}, Emotional: []float64{10}}},
		{Episode: episodic.Episode{ID: 3, Timestamp: now, Sensory: []float64{9, 9}, Emotional: []float64{0}}},
	}
	ranked := f.o.prioritize(f.o.Config(), recs)
	// emotional 0.3+0.2, surprising 0.4, plain 0.2 (+0.1 recency each)
	if ranked[0].rec.ID != 2 || ranked[1].rec.ID != 3 || ranked[2].rec.ID != 1 {
		t.Errorf("unexpected order %d %d %d", ranked[0].rec.ID, ranked[1].rec.ID, ranked[2].rec.ID)
	}
}

func TestSetConfigValidation(t *testing.T) {
	f := newFixture(t, Config{})
	bad := []Config{
		{SlowWaveRatio: 0.8, REMRatio: 0.4},
		{SlowWaveRatio: -0.1, REMRatio: 0.3},
		{MinDuration: time.Hour, MaxDuration: time.Minute},
	}
	for _, c := range bad {
		if err := f.o.SetConfig(c); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("config %+v: got %v", c, err)
		}
	}
	if _, err := New(Config{SlowWaveRatio: 0.9, REMRatio: 0.9}, nil, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Error("New accepted invalid config")
	}
	if err := f.o.SetConfig(Config{SlowWaveRatio: 0.5, REMRatio: 0.5}); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

// blockingSubstrate parks the first replay until released so a session
// can be observed mid-flight.
type blockingSubstrate struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSubstrate) InjectReplay(ctx context.Context, _ memory.Replay) error {
	b.once.Do(func() {
		close(b.entered)
		<-b.release
	})
	return nil
}

func TestOverlapAndStop(t *testing.T) {
	f := newFixture(t, Config{})
	f.seed()
	block := &blockingSubstrate{entered: make(chan struct{}), release: make(chan struct{})}
	f.o.RegisterSubstrate(block)

	done := make(chan Report)
	go func() {
		r, _ := f.o.TriggerConsolidation(context.Background(), true, time.Minute)
		done <- r
	}()
	<-block.entered

	if !f.o.IsConsolidationActive() || f.o.Phase() != memory.PhaseSlowWave {
		t.Errorf("active=%v phase=%s", f.o.IsConsolidationActive(), f.o.Phase())
	}
	if _, ok := f.o.TriggerConsolidation(context.Background(), true, time.Minute); ok {
		t.Error("overlapping session accepted")
	}
	if !f.o.StopConsolidation() {
		t.Error("stop not accepted while active")
	}
	close(block.release)

	r := <-done
	if !r.Stopped || r.REMReplays != 0 {
		t.Errorf("session not stopped at phase boundary: %+v", r)
	}
	if f.o.IsConsolidationActive() || f.o.StopConsolidation() {
		t.Error("orchestrator still active")
	}
	if s := f.o.Stats(); s.Refused != 1 || s.Stopped != 1 {
		t.Errorf("stats %+v", s)
	}
}

func TestConcurrentTriggersNeverOverlap(t *testing.T) {
	f := newFixture(t, Config{})
	f.seed()

	var wg sync.WaitGroup
	var mu sync.Mutex
	ran := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := f.o.TriggerConsolidation(context.Background(), true, 10*time.Second); ok {
				mu.Lock()
				ran++
				mu.Unlock()
			}
		}()
	}
	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(10 * time.Second):
		t.Fatal("concurrent triggers hung")
	}
	if ran == 0 {
		t.Error("no session ran")
	}
	if s := f.o.Stats(); s.Sessions != ran || s.Sessions+s.Refused != 16 {
		t.Errorf("sessions=%d refused=%d ran=%d", s.Sessions, s.Refused, ran)
	}
	if f.o.IsConsolidationActive() {
		t.Error("still active after all triggers returned")
	}
}

type fakeDreamer struct {
	calls  int
	stress float64
}

func (d *fakeDreamer) GenerateDream(_ context.Context, rem time.Duration, _ []float64, stress float64) (dream.Narrative, bool) {
	d.calls++
	d.stress = stress
	return dream.Narrative{ID: "d1", Duration: rem / 2}, true
}

func TestDreamerRunsInREM(t *testing.T) {
	f := newFixture(t, Config{})
	f.seed()
	d := &fakeDreamer{}
	f.o.RegisterDreamer(d)
	r, ok := f.o.TriggerConsolidation(context.Background(), true, time.Minute)
	if !ok || r.Dream == nil || r.Dream.ID != "d1" || d.calls != 1 {
		t.Fatalf("dream not produced: %+v calls=%d", r.Dream, d.calls)
	}
	if d.stress <= 0 || d.stress > 1 {
		t.Errorf("stress %f outside (0,1]", d.stress)
	}
	if f.o.Stats().Dreams != 1 {
		t.Error("dream not counted")
	}
}

type failingLearning struct{ *substrate.Loopback }

func (failingLearning) ApplyHomeostaticScaling(context.Context, float64) error {
	return errors.New("substrate offline")
}

func TestScalingFailureRecorded(t *testing.T) {
	f := newFixture(t, Config{})
	f.o.RegisterLearning(failingLearning{f.sub})
	r, ok := f.o.TriggerConsolidation(context.Background(), true, time.Minute)
	if !ok {
		t.Fatal("session refused")
	}
	if r.Scaled || len(r.Errors) == 0 {
		t.Errorf("scaling failure not reported: %+v", r)
	}
}
