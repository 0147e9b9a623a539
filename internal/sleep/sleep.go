// Package sleep orchestrates offline consolidation sessions. A session
// walks awake → slow wave → REM → awake, replaying episodes into the
// substrate and moving knowledge between the stores.
package sleep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nidhogg/nuka-memory/internal/dream"
	"github.com/nidhogg/nuka-memory/internal/episodic"
	"github.com/nidhogg/nuka-memory/internal/memory"
	"github.com/nidhogg/nuka-memory/internal/semantic"
	"github.com/nidhogg/nuka-memory/internal/working"
	"go.uber.org/zap"
)

// ErrInvalidConfig is returned by SetConfig for inconsistent settings.
var ErrInvalidConfig = errors.New("invalid sleep config")

// EpisodicStore is what a session needs from episodic memory.
type EpisodicStore interface {
	Episodes() []episodic.Record
	MarkConsolidated(id uint64) bool
	ConsolidateMemories() int
}

// SemanticStore is what a session needs from semantic memory.
type SemanticStore interface {
	ExtractConceptsFromEpisode(ep semantic.EpisodeFeatures, threshold float64) []uint64
	RelateConcepts(a, b uint64, strength float64) bool
	Concepts() []semantic.Concept
	Consolidate(force bool) (semantic.ConsolidationReport, bool)
}

// WorkingStore is what a session needs from working memory.
type WorkingStore interface {
	Items() []working.Item
}

// ProceduralStore is what a session needs from procedural memory.
type ProceduralStore interface {
	AddSkill(name string, actions []string, motorPattern []float64) uint64
	PracticeSkill(id uint64, score float64) bool
	ConsolidateMotorMemories() int
}

// Dreamer produces a dream at the end of REM.
type Dreamer interface {
	GenerateDream(ctx context.Context, remDuration time.Duration, emotionalState []float64, stress float64) (dream.Narrative, bool)
}

// Config controls session length, replay budgets and transfer thresholds.
type Config struct {
	MinDuration         time.Duration `json:"min_duration"`          // default 60s
	MaxDuration         time.Duration `json:"max_duration"`          // default 180s
	SlowWaveRatio       float64       `json:"slow_wave_ratio"`       // default 0.6
	REMRatio            float64       `json:"rem_ratio"`             // default 0.3
	ReplaysPerSecond    float64       `json:"replays_per_second"`    // default 0.5
	MaxReplays          int           `json:"max_replays"`           // default 32 per phase
	SlowWaveSpeed       float64       `json:"slow_wave_speed"`       // default 10
	REMSpeed            float64       `json:"rem_speed"`             // default 20
	ScalingFactor       float64       `json:"scaling_factor"`        // default 0.95
	TransferThreshold   float64       `json:"transfer_threshold"`    // default 0.4
	CrossModalThreshold float64       `json:"cross_modal_threshold"` // default 0.5
	CrossModalStrength  float64       `json:"cross_modal_strength"`  // default 0.3
	CrossModalSample    int           `json:"cross_modal_sample"`    // default 64
	RecencyTau          time.Duration `json:"recency_tau"`           // default 6h
	ProceduralMinAccess int           `json:"procedural_min_access"` // default 2
	MinInterval         time.Duration `json:"min_interval"`          // default 0, no spacing
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MinDuration:         60 * time.Second,
		MaxDuration:         180 * time.Second,
		SlowWaveRatio:       0.6,
		REMRatio:            0.3,
		ReplaysPerSecond:    0.5,
		MaxReplays:          32,
		SlowWaveSpeed:       10,
		REMSpeed:            20,
		ScalingFactor:       0.95,
		TransferThreshold:   0.4,
		CrossModalThreshold: 0.5,
		CrossModalStrength:  0.3,
		CrossModalSample:    64,
		RecencyTau:          6 * time.Hour,
		ProceduralMinAccess: 2,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinDuration <= 0 {
		c.MinDuration = d.MinDuration
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = max(d.MaxDuration, c.MinDuration)
	}
	if c.SlowWaveRatio == 0 && c.REMRatio == 0 {
		c.SlowWaveRatio, c.REMRatio = d.SlowWaveRatio, d.REMRatio
	}
	if c.ReplaysPerSecond <= 0 {
		c.ReplaysPerSecond = d.ReplaysPerSecond
	}
	if c.MaxReplays <= 0 {
		c.MaxReplays = d.MaxReplays
	}
	if c.SlowWaveSpeed <= 0 {
		c.SlowWaveSpeed = d.SlowWaveSpeed
	}
	if c.REMSpeed <= 0 {
		c.REMSpeed = d.REMSpeed
	}
	if c.ScalingFactor <= 0 {
		c.ScalingFactor = d.ScalingFactor
	}
	if c.TransferThreshold <= 0 {
		c.TransferThreshold = d.TransferThreshold
	}
	if c.CrossModalThreshold <= 0 {
		c.CrossModalThreshold = d.CrossModalThreshold
	}
	if c.CrossModalStrength <= 0 {
		c.CrossModalStrength = d.CrossModalStrength
	}
	if c.CrossModalSample <= 0 {
		c.CrossModalSample = d.CrossModalSample
	}
	if c.RecencyTau <= 0 {
		c.RecencyTau = d.RecencyTau
	}
	if c.ProceduralMinAccess <= 0 {
		c.ProceduralMinAccess = d.ProceduralMinAccess
	}
	return c
}

// Validate reports inconsistent settings.
func (c Config) Validate() error {
	switch {
	case c.SlowWaveRatio < 0 || c.REMRatio < 0:
		return fmt.Errorf("%w: negative phase ratio", ErrInvalidConfig)
	case c.SlowWaveRatio+c.REMRatio > 1:
		return fmt.Errorf("%w: phase ratios sum to %.2f", ErrInvalidConfig, c.SlowWaveRatio+c.REMRatio)
	case c.MinDuration > c.MaxDuration:
		return fmt.Errorf("%w: min duration %s above max %s", ErrInvalidConfig, c.MinDuration, c.MaxDuration)
	case c.ScalingFactor > 1:
		return fmt.Errorf("%w: scaling factor %.2f above 1", ErrInvalidConfig, c.ScalingFactor)
	}
	return nil
}

// Report describes one finished session.
type Report struct {
	ID                  string           `json:"id"`
	StartedAt           time.Time        `json:"started_at"`
	FinishedAt          time.Time        `json:"finished_at"`
	Duration            time.Duration    `json:"duration"`
	SlowWave            time.Duration    `json:"slow_wave"`
	REM                 time.Duration    `json:"rem"`
	Forced              bool             `json:"forced"`
	Stopped             bool             `json:"stopped"`
	Scaled              bool             `json:"scaled"`
	SlowWaveReplays     int              `json:"slow_wave_replays"`
	REMReplays          int              `json:"rem_replays"`
	Transferred         int              `json:"transferred"`
	Concepts            []uint64         `json:"concepts,omitempty"`
	EpisodesPromoted    int              `json:"episodes_promoted"`
	CrossModalLinks     int              `json:"cross_modal_links"`
	ProceduralTransfers int              `json:"procedural_transfers"`
	Dream               *dream.Narrative `json:"dream,omitempty"`
	Errors              []string         `json:"errors,omitempty"`
}

// Replays is the total number of injected replays.
func (r Report) Replays() int {
	return r.SlowWaveReplays + r.REMReplays
}

// Stats aggregates every session so far.
type Stats struct {
	Active          bool          `json:"active"`
	Phase           memory.Phase  `json:"phase"`
	Sessions        int           `json:"sessions"`
	Refused         int           `json:"refused"`
	Stopped         int           `json:"stopped"`
	Replays         int           `json:"replays"`
	Transferred     int           `json:"transferred"`
	CrossModalLinks int           `json:"cross_modal_links"`
	Dreams          int           `json:"dreams"`
	SimulatedSleep  time.Duration `json:"simulated_sleep"`
	LastSession     time.Time     `json:"last_session"`
}

// Orchestrator runs consolidation sessions. At most one session runs at a
// time; the orchestrator never holds its own lock while calling a store.
type Orchestrator struct {
	cfg Config

	episodic   EpisodicStore
	semantic   SemanticStore
	working    WorkingStore
	procedural ProceduralStore
	learning   memory.LearningSystem
	substrate  memory.Substrate
	dreamer    Dreamer
	observers  []func(Report)

	active atomic.Bool
	stop   atomic.Bool
	phase  atomic.Value

	stats Stats
	last  *Report

	rnd    memory.Rand
	now    func() time.Time
	mu     sync.RWMutex
	logger *zap.Logger
}

// New creates an orchestrator. Collaborators are attached with the
// Register methods before the first session.
func New(cfg Config, rnd memory.Rand, logger *zap.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rnd == nil {
		rnd = memory.NewRand(0)
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{cfg: cfg, rnd: rnd, now: time.Now, logger: logger}
	o.phase.Store(memory.PhaseAwake)
	return o, nil
}

// SetConfig replaces the configuration. Rejected while a session runs.
func (o *Orchestrator) SetConfig(cfg Config) error {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if o.active.Load() {
		return fmt.Errorf("%w: session in progress", ErrInvalidConfig)
	}
	o.mu.Lock()
	o.cfg = cfg
	o.mu.Unlock()
	return nil
}

// Config returns the current configuration.
func (o *Orchestrator) Config() Config {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg
}

func (o *Orchestrator) RegisterEpisodic(s EpisodicStore) {
	o.mu.Lock()
	o.episodic = s
	o.mu.Unlock()
}

func (o *Orchestrator) RegisterSemantic(s SemanticStore) {
	o.mu.Lock()
	o.semantic = s
	o.mu.Unlock()
}

func (o *Orchestrator) RegisterWorking(s WorkingStore) {
	o.mu.Lock()
	o.working = s
	o.mu.Unlock()
}

func (o *Orchestrator) RegisterProcedural(s ProceduralStore) {
	o.mu.Lock()
	o.procedural = s
	o.mu.Unlock()
}

func (o *Orchestrator) RegisterLearning(l memory.LearningSystem) {
	o.mu.Lock()
	o.learning = l
	o.mu.Unlock()
}

func (o *Orchestrator) RegisterSubstrate(s memory.Substrate) {
	o.mu.Lock()
	o.substrate = s
	o.mu.Unlock()
}

// RegisterDreamer attaches the dream generator. Optional.
func (o *Orchestrator) RegisterDreamer(d Dreamer) {
	o.mu.Lock()
	o.dreamer = d
	o.mu.Unlock()
}

// AddObserver registers a callback run after every session with no lock
// held.
func (o *Orchestrator) AddObserver(fn func(Report)) {
	o.mu.Lock()
	o.observers = append(o.observers, fn)
	o.mu.Unlock()
}

// Ready reports whether every required collaborator is registered.
func (o *Orchestrator) Ready() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.readyLocked()
}

func (o *Orchestrator) readyLocked() bool {
	return o.episodic != nil && o.semantic != nil && o.working != nil &&
		o.procedural != nil && o.learning != nil && o.substrate != nil
}

// Phase returns the current sleep phase.
func (o *Orchestrator) Phase() memory.Phase {
	return o.phase.Load().(memory.Phase)
}

// IsConsolidationActive reports whether a session is running.
func (o *Orchestrator) IsConsolidationActive() bool {
	return o.active.Load()
}

// StopConsolidation asks the running session to finish at the next phase
// boundary. Returns false when no session is running.
func (o *Orchestrator) StopConsolidation() bool {
	if !o.active.Load() {
		return false
	}
	o.stop.Store(true)
	o.logger.Info("sleep stop requested", zap.String("phase", string(o.Phase())))
	return true
}

// Stats returns aggregate counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.RLock()
	s := o.stats
	o.mu.RUnlock()
	s.Active = o.active.Load()
	s.Phase = o.Phase()
	return s
}

// LastReport returns the most recent session report.
func (o *Orchestrator) LastReport() (Report, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.last == nil {
		return Report{}, false
	}
	return *o.last, true
}
