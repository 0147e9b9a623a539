//go:build e2e

package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/nidhogg/nuka-memory/internal/events"
	"github.com/nidhogg/nuka-memory/internal/graph"
	"github.com/nidhogg/nuka-memory/internal/integrator"
	"github.com/nidhogg/nuka-memory/internal/journal"
	"github.com/nidhogg/nuka-memory/internal/memory"
	"github.com/nidhogg/nuka-memory/internal/semantic"
	"github.com/nidhogg/nuka-memory/internal/sleep"
	"github.com/nidhogg/nuka-memory/internal/substrate"
	"github.com/redis/go-redis/v9"
)

func newIntegrator(t *testing.T, learning memory.LearningSystem, sub memory.Substrate) *integrator.Integrator {
	t.Helper()
	in, err := integrator.New(integrator.DefaultConfig(), learning, sub, memory.NewRand(11), testLogger)
	if err != nil {
		t.Fatalf("integrator: %v", err)
	}
	return in
}

func seed(in *integrator.Integrator) {
	in.StoreEpisode("market", []float64{0.2, 0.8, 0.1}, []float64{5, 1}, "crowded stalls")
	in.StoreEpisode("harbor", []float64{0.7, 0.1, 0.3}, []float64{1}, "boats at dusk")
	in.Semantic().CreateConcept("boat", []float64{0.6, 0.2, 0.3}, semantic.TypeObject, "floats")
	in.AddWorkingItem("fish", []float64{0.5, 0.5, 0})
}

func runSession(t *testing.T, in *integrator.Integrator) sleep.Report {
	t.Helper()
	r, ok := in.Sleep().TriggerConsolidation(context.Background(), true, 2*time.Minute)
	if !ok {
		t.Fatal("sleep session refused")
	}
	return r
}

func TestJournalPersistsSessions(t *testing.T) {
	ctx := context.Background()
	store, err := journal.New(ctx, testPGDSN, testLogger)
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	defer store.Close()
	for i := 0; i < 2; i++ {
		if err := store.Migrate(ctx); err != nil {
			t.Fatalf("migrate pass %d: %v", i, err)
		}
	}

	sub := substrate.NewLoopback(substrate.DefaultConfig(), testLogger)
	in := newIntegrator(t, sub, sub)
	seed(in)
	report := runSession(t, in)
	if err := store.RecordSession(ctx, report); err != nil {
		t.Fatalf("record session: %v", err)
	}

	sessions, err := store.RecentSessions(ctx, 5)
	if err != nil {
		t.Fatalf("recent sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != report.ID || sessions[0].Replays != report.Replays() {
		t.Errorf("sessions %+v, want id %s", sessions, report.ID)
	}

	if report.Dream == nil {
		t.Fatal("session produced no dream")
	}
	dreams, err := store.RecentDreams(ctx, 5, report.Dream.Type.String())
	if err != nil {
		t.Fatalf("recent dreams: %v", err)
	}
	if len(dreams) != 1 || dreams[0].ID != report.Dream.ID || dreams[0].Text != report.Dream.Text {
		t.Errorf("dreams %+v", dreams)
	}
}

func TestGraphSyncAndActivation(t *testing.T) {
	ctx := context.Background()
	store, err := graph.NewStore(testNeo4jURI, "neo4j", neo4jPassword, testLogger)
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	defer store.Close(ctx)
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}

	sem := semantic.New(semantic.DefaultConfig(), testLogger)
	apple := sem.CreateConcept("apple", []float64{1, 0}, semantic.TypeObject, "fruit")
	pear := sem.CreateConcept("pear", []float64{0.9, 0.1}, semantic.TypeObject, "fruit")
	rock := sem.CreateConcept("rock", []float64{0, 1}, semantic.TypeObject, "stone")
	sem.RelateConcepts(apple, pear, 0.9)

	if err := store.SyncConcepts(ctx, sem.Concepts()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	res, err := store.Activate(ctx, []uint64{apple}, graph.DefaultActivationOpts())
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if len(res.Concepts) != 1 || res.Concepts[0].ID != pear {
		t.Errorf("activation %+v, want only pear", res.Concepts)
	}

	sem.RemoveConcept(pear)
	sem.RelateConcepts(apple, rock, 0.8)
	if err := store.SyncConcepts(ctx, sem.Concepts()); err != nil {
		t.Fatalf("resync: %v", err)
	}
	res, err = store.Activate(ctx, []uint64{apple}, graph.DefaultActivationOpts())
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if len(res.Concepts) != 1 || res.Concepts[0].ID != rock {
		t.Errorf("activation after resync %+v, want only rock", res.Concepts)
	}
}

func TestRemoteSubstrateOverRedis(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	bus, err := events.NewBus(ctx, testRedisURL, testLogger)
	if err != nil {
		t.Fatalf("bus: %v", err)
	}
	defer bus.Close()

	const stream = "e2e:replay"
	remote := events.NewRemoteSubstrate(bus, stream, "", testLogger)
	in := newIntegrator(t, remote, remote)
	seed(in)
	report := runSession(t, in)

	opts, err := redis.ParseURL(testRedisURL)
	if err != nil {
		t.Fatal(err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()
	n, err := rdb.XLen(ctx, stream).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if n == 0 || int(n) < report.Replays() {
		t.Errorf("stream holds %d commands for %d replays", n, report.Replays())
	}
	if remote.Sent()[events.KindReplay] < report.Replays() {
		t.Errorf("sent %v, report replays %d", remote.Sent(), report.Replays())
	}
}

func TestIngestFramesFromRedis(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	bus, err := events.NewBus(ctx, testRedisURL, testLogger)
	if err != nil {
		t.Fatalf("bus: %v", err)
	}
	defer bus.Close()

	sub := substrate.NewLoopback(substrate.DefaultConfig(), testLogger)
	in := newIntegrator(t, sub, sub)

	const stream = "e2e:ingest"
	ingestCtx, stop := context.WithCancel(ctx)
	done := make(chan int, 1)
	go func() { done <- bus.Ingest(ingestCtx, stream, in) }()

	// The reader starts at the stream tail, so keep publishing until a
	// frame lands.
	frame := events.Frame{Context: "doorbell", Sensory: []float64{0.4, 0.6}, Attend: true}
	deadline := time.Now().Add(20 * time.Second)
	for in.Episodic().Len() == 0 && time.Now().Before(deadline) {
		if err := bus.Publish(ctx, stream, events.KindFrame, frame); err != nil {
			t.Fatalf("publish: %v", err)
		}
		time.Sleep(200 * time.Millisecond)
	}
	stop()
	if got := <-done; got == 0 {
		t.Fatal("no frames ingested")
	}
	if len(in.Working().Items()) == 0 {
		t.Error("attended frame missing from working memory")
	}
}
