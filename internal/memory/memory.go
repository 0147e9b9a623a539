// Package memory holds the pieces shared by every memory store: id
// allocation, injectable randomness, cross-store references, vector math and
// the interfaces of the neural substrate the stores consolidate into.
package memory

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// System names a memory store.
type System string

const (
	SystemWorking    System = "working"
	SystemEpisodic   System = "episodic"
	SystemSemantic   System = "semantic"
	SystemProcedural System = "procedural"
)

// Ref addresses an item in one of the stores.
type Ref struct {
	System System `json:"system"`
	ID     uint64 `json:"id"`
}

func (r Ref) String() string {
	return fmt.Sprintf("%s:%d", r.System, r.ID)
}

// Sequence allocates monotonically increasing ids. Safe for concurrent use;
// ids are unique but not guaranteed gap-free.
type Sequence struct {
	n atomic.Uint64
}

// Next returns the next id, starting at 1.
func (s *Sequence) Next() uint64 {
	return s.n.Add(1)
}

// Rand is the randomness used by stores that sample or perturb content.
// Tests inject a seeded source to make statistical properties reproducible.
type Rand interface {
	Float64() float64
	Intn(n int) int
	NormFloat64() float64
	Perm(n int) []int
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRand returns a goroutine-safe Rand. A zero seed seeds from the clock.
func NewRand(seed int64) Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

func (l *lockedRand) NormFloat64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.NormFloat64()
}

func (l *lockedRand) Perm(n int) []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Perm(n)
}

// Modulator is the modulation read interface the substrate's learning rule
// queries on every update.
type Modulator interface {
	PlasticityMultiplier(region string) float64
	LearningRateMultiplier(region string) float64
	ConsolidationMultiplier(region string) float64
}

// Phase labels where a replay stimulus originates.
type Phase string

const (
	PhaseAwake    Phase = "awake"
	PhaseSlowWave Phase = "slow_wave"
	PhaseREM      Phase = "rem"
)

// Replay is a stimulus pushed into the substrate during consolidation.
type Replay struct {
	Pattern  []float64 `json:"pattern"`
	Speed    float64   `json:"speed"`
	Strength float64   `json:"strength"`
	Phase    Phase     `json:"phase"`
	Source   Ref       `json:"source"`
}

// Substrate is the opaque neural substrate handle. Its only contract is
// accepting replay stimuli.
type Substrate interface {
	InjectReplay(ctx context.Context, r Replay) error
}

// LearningSystem is the learning-rule collaborator of the substrate.
type LearningSystem interface {
	ApplyHomeostaticScaling(ctx context.Context, factor float64) error
	ReinforcePattern(ctx context.Context, pattern []float64, strength float64) error
	SetModulator(m Modulator)
}
