// Package integrator wires the memory stores, the developmental
// constraints, the sleep orchestrator and the dream processor into one
// system, and keeps a cross-store link index on top of them.
package integrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/nidhogg/nuka-memory/internal/development"
	"github.com/nidhogg/nuka-memory/internal/dream"
	"github.com/nidhogg/nuka-memory/internal/episodic"
	"github.com/nidhogg/nuka-memory/internal/memory"
	"github.com/nidhogg/nuka-memory/internal/procedural"
	"github.com/nidhogg/nuka-memory/internal/semantic"
	"github.com/nidhogg/nuka-memory/internal/sleep"
	"github.com/nidhogg/nuka-memory/internal/working"
	"go.uber.org/zap"
)

// Config selects the enabled subsystems and holds their settings.
type Config struct {
	EnableWorking     bool `json:"enable_working"`
	EnableEpisodic    bool `json:"enable_episodic"`
	EnableSemantic    bool `json:"enable_semantic"`
	EnableProcedural  bool `json:"enable_procedural"`
	EnableDevelopment bool `json:"enable_development"`
	EnableSleep       bool `json:"enable_sleep"`
	EnableDreams      bool `json:"enable_dreams"`

	Working     working.Config     `json:"working"`
	Episodic    episodic.Config    `json:"episodic"`
	Semantic    semantic.Config    `json:"semantic"`
	Procedural  procedural.Config  `json:"procedural"`
	Development development.Config `json:"development"`
	Sleep       sleep.Config       `json:"sleep"`
	Dream       dream.Config       `json:"dream"`

	StandardPeriods     bool          `json:"standard_periods"`
	MaxLinksPerSource   int           `json:"max_links_per_source"` // default 16
	LinkPruneThreshold  float64       `json:"link_prune_threshold"` // default 0.05
	RelevanceDecay      float64       `json:"relevance_decay"`      // default 0.02
	QueryTimeout        time.Duration `json:"query_timeout"`        // default 2s
	MaintenanceInterval time.Duration `json:"maintenance_interval"` // default 1m
}

// DefaultConfig enables every subsystem.
func DefaultConfig() Config {
	return Config{
		EnableWorking:       true,
		EnableEpisodic:      true,
		EnableSemantic:      true,
		EnableProcedural:    true,
		EnableDevelopment:   true,
		EnableSleep:         true,
		EnableDreams:        true,
		Working:             working.DefaultConfig(),
		Episodic:            episodic.DefaultConfig(),
		Semantic:            semantic.DefaultConfig(),
		Procedural:          procedural.DefaultConfig(),
		Development:         development.DefaultConfig(),
		Sleep:               sleep.DefaultConfig(),
		Dream:               dream.DefaultConfig(),
		StandardPeriods:     true,
		MaxLinksPerSource:   16,
		LinkPruneThreshold:  0.05,
		RelevanceDecay:      0.02,
		QueryTimeout:        2 * time.Second,
		MaintenanceInterval: time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxLinksPerSource <= 0 {
		c.MaxLinksPerSource = d.MaxLinksPerSource
	}
	if c.LinkPruneThreshold <= 0 {
		c.LinkPruneThreshold = d.LinkPruneThreshold
	}
	if c.RelevanceDecay <= 0 {
		c.RelevanceDecay = d.RelevanceDecay
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = d.QueryTimeout
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = d.MaintenanceInterval
	}
	return c
}

// Stats aggregates every subsystem.
type Stats struct {
	Operational bool               `json:"operational"`
	SleepReady  bool               `json:"sleep_ready"`
	Working     *working.Stats     `json:"working,omitempty"`
	Episodic    *episodic.Stats    `json:"episodic,omitempty"`
	Semantic    *semantic.Stats    `json:"semantic,omitempty"`
	Procedural  *procedural.Stats  `json:"procedural,omitempty"`
	Development *development.Stats `json:"development,omitempty"`
	Sleep       *sleep.Stats       `json:"sleep,omitempty"`
	Dreams      *dream.Stats       `json:"dreams,omitempty"`
	Links       int                `json:"links"`
	LinkSources int                `json:"link_sources"`
	Maintenance int                `json:"maintenance_runs"`
}

// Integrator is the composition root of the memory subsystem. Disabled
// stores stay nil and every operation skips them.
type Integrator struct {
	cfg Config

	working     *working.Memory
	episodic    *episodic.Manager
	semantic    *semantic.Memory
	procedural  *procedural.Memory
	development *development.Constraints
	sleep       *sleep.Orchestrator
	dreams      *dream.Processor

	learning  memory.LearningSystem
	substrate memory.Substrate

	links       map[memory.Ref][]*Link
	lastTick    time.Time
	sinceMaint  time.Duration
	maintenance int
	now         func() time.Time
	mu          sync.RWMutex
	logger      *zap.Logger
}

// New builds the enabled subsystems and connects them. learning and
// substrate may be nil, in which case sleep sessions refuse to run.
func New(cfg Config, learning memory.LearningSystem, substrate memory.Substrate, rnd memory.Rand, logger *zap.Logger) (*Integrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rnd == nil {
		rnd = memory.NewRand(0)
	}
	cfg = cfg.withDefaults()
	in := &Integrator{
		cfg:       cfg,
		learning:  learning,
		substrate: substrate,
		links:     make(map[memory.Ref][]*Link),
		now:       time.Now,
		logger:    logger,
	}

	if cfg.EnableWorking {
		in.working = working.New(cfg.Working, logger.Named("working"))
	}
	if cfg.EnableEpisodic {
		in.episodic = episodic.NewManager(cfg.Episodic, logger.Named("episodic"))
	}
	if cfg.EnableSemantic {
		in.semantic = semantic.New(cfg.Semantic, logger.Named("semantic"))
	}
	if cfg.EnableProcedural {
		in.procedural = procedural.New(cfg.Procedural, logger.Named("procedural"))
	}
	if cfg.EnableDevelopment {
		in.development = development.New(cfg.Development, logger.Named("development"))
		if cfg.StandardPeriods {
			if err := in.development.LoadStandardPeriods(); err != nil {
				return nil, fmt.Errorf("load standard periods: %w", err)
			}
		}
		if learning != nil {
			learning.SetModulator(in.development)
		}
	}
	if cfg.EnableSleep {
		o, err := sleep.New(cfg.Sleep, rnd, logger.Named("sleep"))
		if err != nil {
			return nil, fmt.Errorf("create sleep orchestrator: %w", err)
		}
		in.sleep = o
		in.wireSleep()
	}
	if cfg.EnableDreams {
		in.dreams = dream.New(cfg.Dream, rnd, logger.Named("dream"))
		in.wireDreams()
		if in.sleep != nil {
			in.sleep.RegisterDreamer(in.dreams)
		}
	}

	logger.Info("memory integrator ready",
		zap.Bool("working", in.working != nil),
		zap.Bool("episodic", in.episodic != nil),
		zap.Bool("semantic", in.semantic != nil),
		zap.Bool("procedural", in.procedural != nil),
		zap.Bool("development", in.development != nil),
		zap.Bool("sleep", in.sleep != nil),
		zap.Bool("dreams", in.dreams != nil))
	return in, nil
}

// wireSleep registers only the stores that exist; a nil pointer must not
// become a non-nil interface.
func (in *Integrator) wireSleep() {
	o := in.sleep
	if in.episodic != nil {
		o.RegisterEpisodic(in.episodic)
	}
	if in.semantic != nil {
		o.RegisterSemantic(in.semantic)
	}
	if in.working != nil {
		o.RegisterWorking(in.working)
	}
	if in.procedural != nil {
		o.RegisterProcedural(in.procedural)
	}
	if in.learning != nil {
		o.RegisterLearning(in.learning)
	}
	if in.substrate != nil {
		o.RegisterSubstrate(in.substrate)
	}
}

func (in *Integrator) wireDreams() {
	p := in.dreams
	if in.episodic != nil {
		p.RegisterEpisodic(in.episodic)
	}
	if in.semantic != nil {
		p.RegisterSemantic(in.semantic)
	}
	if in.working != nil {
		p.RegisterWorking(in.working)
	}
	if in.sleep != nil {
		p.RegisterPhase(in.sleep)
	}
	if in.substrate != nil {
		p.RegisterSubstrate(in.substrate)
	}
	if in.learning != nil {
		p.RegisterLearning(in.learning)
	}
}

// Config returns the effective configuration.
func (in *Integrator) Config() Config {
	return in.cfg
}

func (in *Integrator) Working() *working.Memory              { return in.working }
func (in *Integrator) Episodic() *episodic.Manager           { return in.episodic }
func (in *Integrator) Semantic() *semantic.Memory            { return in.semantic }
func (in *Integrator) Procedural() *procedural.Memory        { return in.procedural }
func (in *Integrator) Development() *development.Constraints { return in.development }
func (in *Integrator) Sleep() *sleep.Orchestrator            { return in.sleep }
func (in *Integrator) Dreams() *dream.Processor              { return in.dreams }

// IsOperational reports whether every enabled subsystem was built.
// Disabled subsystems never count against it.
func (in *Integrator) IsOperational() bool {
	c := in.cfg
	switch {
	case c.EnableWorking && in.working == nil,
		c.EnableEpisodic && in.episodic == nil,
		c.EnableSemantic && in.semantic == nil,
		c.EnableProcedural && in.procedural == nil,
		c.EnableDevelopment && in.development == nil,
		c.EnableSleep && in.sleep == nil,
		c.EnableDreams && in.dreams == nil:
		return false
	}
	return true
}

// SleepReady reports whether the sleep orchestrator exists and has every
// collaborator it needs to run a session.
func (in *Integrator) SleepReady() bool {
	return in.sleep != nil && in.sleep.Ready()
}

// StoreIntegratedMemory stores a labelled memory in semantic memory, or in
// episodic memory when semantic memory is disabled.
func (in *Integrator) StoreIntegratedMemory(label string, features, emotional []float64, narrative string) (memory.Ref, bool) {
	switch {
	case in.semantic != nil:
		id := in.semantic.CreateConcept(label, features, semantic.TypeObject, narrative)
		return memory.Ref{System: memory.SystemSemantic, ID: id}, true
	case in.episodic != nil:
		id := in.episodic.StoreEpisode(label, features, emotional, narrative)
		return memory.Ref{System: memory.SystemEpisodic, ID: id}, true
	}
	in.logger.Warn("no store available for integrated memory", zap.String("label", label))
	return memory.Ref{}, false
}

// StoreEpisode records an episode when episodic memory is enabled.
func (in *Integrator) StoreEpisode(context string, sensory, emotional []float64, narrative string) (memory.Ref, bool) {
	if in.episodic == nil {
		return memory.Ref{}, false
	}
	id := in.episodic.StoreEpisode(context, sensory, emotional, narrative)
	return memory.Ref{System: memory.SystemEpisodic, ID: id}, true
}

// AddWorkingItem puts an item into working memory when it is enabled.
func (in *Integrator) AddWorkingItem(label string, features []float64) (memory.Ref, bool) {
	if in.working == nil {
		return memory.Ref{}, false
	}
	id := in.working.AddItem(label, features)
	return memory.Ref{System: memory.SystemWorking, ID: id}, true
}

// Exists reports whether a reference resolves to a live item. Lookups never
// count as access.
func (in *Integrator) Exists(ref memory.Ref) bool {
	switch ref.System {
	case memory.SystemWorking:
		return in.working != nil && in.working.Has(ref.ID)
	case memory.SystemEpisodic:
		if in.episodic == nil {
			return false
		}
		_, ok := in.episodic.Trace(ref.ID)
		return ok
	case memory.SystemSemantic:
		if in.semantic == nil {
			return false
		}
		_, ok := in.semantic.Peek(ref.ID)
		return ok
	case memory.SystemProcedural:
		if in.procedural == nil {
			return false
		}
		_, ok := in.procedural.GetSkill(ref.ID)
		return ok
	}
	return false
}

// Stats returns statistics of every enabled subsystem.
func (in *Integrator) Stats() Stats {
	s := Stats{Operational: in.IsOperational(), SleepReady: in.SleepReady()}
	if in.working != nil {
		v := in.working.Stats()
		s.Working = &v
	}
	if in.episodic != nil {
		v := in.episodic.Stats()
		s.Episodic = &v
	}
	if in.semantic != nil {
		v := in.semantic.Stats()
		s.Semantic = &v
	}
	if in.procedural != nil {
		v := in.procedural.Stats()
		s.Procedural = &v
	}
	if in.development != nil {
		v := in.development.Stats()
		s.Development = &v
	}
	if in.sleep != nil {
		v := in.sleep.Stats()
		s.Sleep = &v
	}
	if in.dreams != nil {
		v := in.dreams.Stats()
		s.Dreams = &v
	}
	in.mu.RLock()
	for _, ls := range in.links {
		s.Links += len(ls)
	}
	s.LinkSources = len(in.links)
	s.Maintenance = in.maintenance
	in.mu.RUnlock()
	return s
}
