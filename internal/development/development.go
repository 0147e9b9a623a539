// Package development tracks system age and the critical periods that
// scale plasticity, learning rate and consolidation while they are open.
package development

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrInvalidPeriod is returned for a malformed critical period.
var ErrInvalidPeriod = errors.New("invalid critical period")

// PeriodType selects how a period's multiplier shapes the response.
type PeriodType int

const (
	Enhancement PeriodType = iota
	Restriction
	Specialization
	Pruning
	Stabilization
)

var periodNames = map[PeriodType]string{
	Enhancement:    "enhancement",
	Restriction:    "restriction",
	Specialization: "specialization",
	Pruning:        "pruning",
	Stabilization:  "stabilization",
}

func (t PeriodType) String() string {
	if n, ok := periodNames[t]; ok {
		return n
	}
	return fmt.Sprintf("period(%d)", int(t))
}

// MarshalText renders the type name.
func (t PeriodType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses a type name.
func (t *PeriodType) UnmarshalText(b []byte) error {
	for k, n := range periodNames {
		if n == string(b) {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("%w: unknown type %q", ErrInvalidPeriod, b)
}

// CriticalPeriod is a window of system age with its own multipliers.
// Values are taken literally: a zero multiplier suppresses, a zero Shape
// flattens the curve. Use NewCriticalPeriod for neutral starting values.
type CriticalPeriod struct {
	Name          string        `json:"name"`
	Start         time.Duration `json:"start"`
	End           time.Duration `json:"end"`
	Peak          time.Duration `json:"peak"`
	Plasticity    float64       `json:"plasticity"`
	LearningRate  float64       `json:"learning_rate"`
	Consolidation float64       `json:"consolidation"`
	Type          PeriodType    `json:"type"`
	Regions       []string      `json:"regions,omitempty"`
	Modalities    []string      `json:"modalities,omitempty"`
	LearningTypes []string      `json:"learning_types,omitempty"`
	Shape         float64       `json:"shape"`
}

// NewCriticalPeriod returns a period over [start, end] peaking at the
// midpoint with neutral multipliers.
func NewCriticalPeriod(name string, typ PeriodType, start, end time.Duration) CriticalPeriod {
	return CriticalPeriod{
		Name:          name,
		Type:          typ,
		Start:         start,
		End:           end,
		Peak:          start + (end-start)/2,
		Plasticity:    1,
		LearningRate:  1,
		Consolidation: 1,
		Shape:         1,
	}
}

// UnmarshalJSON fills omitted fields the way NewCriticalPeriod does.
func (p *CriticalPeriod) UnmarshalJSON(b []byte) error {
	type plain CriticalPeriod
	aux := struct {
		*plain
		Peak *time.Duration `json:"peak"`
	}{plain: (*plain)(p)}
	p.Plasticity, p.LearningRate, p.Consolidation, p.Shape = 1, 1, 1, 1
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if aux.Peak != nil {
		p.Peak = *aux.Peak
	} else {
		p.Peak = p.Start + (p.End-p.Start)/2
	}
	return nil
}

func (p CriticalPeriod) active(age time.Duration) bool {
	return age >= p.Start && age <= p.End
}

// sensitivity is the bell curve around Peak, 1 at the peak.
func (p CriticalPeriod) sensitivity(age time.Duration) float64 {
	half := max(p.Peak-p.Start, p.End-p.Peak)
	if half <= 0 {
		return 1
	}
	x := float64(age-p.Peak) / float64(half)
	return math.Exp(-p.Shape * x * x)
}

// factor shapes multiplier m by the period type at sensitivity s.
func (p CriticalPeriod) factor(m, s, floor float64) float64 {
	switch p.Type {
	case Enhancement:
		return 1 + (max(m, 1)-1)*s
	case Specialization:
		return 1 + (m-1)*s
	case Restriction:
		t := m
		if m > 1 {
			t = 1 / m
		}
		return 1 + (t-1)*s
	case Pruning:
		return 1 / (1 + (max(m, 1)-1)*s)
	case Stabilization:
		return max(floor, 1+(min(m, 1)-1)*s)
	}
	return 1
}

func matches(filter []string, v string) bool {
	return len(filter) == 0 || v == "" || slices.Contains(filter, v)
}

// Config controls age effects and the cache refresh cadence.
type Config struct {
	EnableAgeDecay     bool          `json:"enable_age_decay"`
	AgeDecayRate       float64       `json:"age_decay_rate"`      // per hour, default 0.01
	MinAgeFactor       float64       `json:"min_age_factor"`      // default 0.3
	UpdateInterval     time.Duration `json:"update_interval"`     // default 1s of system age
	StabilizationFloor float64       `json:"stabilization_floor"` // default 0.5
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		AgeDecayRate:       0.01,
		MinAgeFactor:       0.3,
		UpdateInterval:     time.Second,
		StabilizationFloor: 0.5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.AgeDecayRate <= 0 {
		c.AgeDecayRate = d.AgeDecayRate
	}
	if c.MinAgeFactor <= 0 {
		c.MinAgeFactor = d.MinAgeFactor
	}
	if c.UpdateInterval <= 0 {
		c.UpdateInterval = d.UpdateInterval
	}
	if c.StabilizationFloor <= 0 {
		c.StabilizationFloor = d.StabilizationFloor
	}
	return c
}

type multipliers struct {
	plasticity, learning, consolidation float64
}

// Stats summarizes the developmental state.
type Stats struct {
	SystemAge     time.Duration `json:"system_age"`
	Periods       int           `json:"periods"`
	Active        []string      `json:"active"`
	CachedRegions int           `json:"cached_regions"`
	Recomputes    int           `json:"recomputes"`
}

// Constraints implements memory.Modulator over a set of critical periods.
type Constraints struct {
	cfg        Config
	periods    map[string]CriticalPeriod
	age        time.Duration
	lastUpdate time.Duration
	cache      map[string]multipliers
	active     map[string]bool
	recomputes int
	mu         sync.RWMutex
	logger     *zap.Logger
}

// New creates developmental constraints at system age zero.
func New(cfg Config, logger *zap.Logger) *Constraints {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Constraints{
		cfg:     cfg.withDefaults(),
		periods: make(map[string]CriticalPeriod),
		cache:   make(map[string]multipliers),
		active:  make(map[string]bool),
		logger:  logger,
	}
}

// DefineCriticalPeriod adds or replaces a period by name.
func (c *Constraints) DefineCriticalPeriod(p CriticalPeriod) error {
	switch {
	case p.Name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidPeriod)
	case p.End <= p.Start:
		return fmt.Errorf("%w: %s ends at %s before it starts at %s", ErrInvalidPeriod, p.Name, p.End, p.Start)
	case p.Plasticity < 0 || p.LearningRate < 0 || p.Consolidation < 0:
		return fmt.Errorf("%w: %s has a negative multiplier", ErrInvalidPeriod, p.Name)
	case p.Shape < 0:
		return fmt.Errorf("%w: %s has a negative shape", ErrInvalidPeriod, p.Name)
	}
	if p.Peak < p.Start || p.Peak > p.End {
		return fmt.Errorf("%w: %s peak %s outside window", ErrInvalidPeriod, p.Name, p.Peak)
	}
	p.Regions = slices.Clone(p.Regions)
	p.Modalities = slices.Clone(p.Modalities)
	p.LearningTypes = slices.Clone(p.LearningTypes)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.periods[p.Name] = p
	c.invalidateLocked()
	c.logger.Debug("critical period defined",
		zap.String("name", p.Name),
		zap.Stringer("type", p.Type),
		zap.Duration("start", p.Start),
		zap.Duration("end", p.End))
	return nil
}

// RemoveCriticalPeriod deletes a period by name.
func (c *Constraints) RemoveCriticalPeriod(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.periods[name]; !ok {
		return false
	}
	delete(c.periods, name)
	delete(c.active, name)
	c.invalidateLocked()
	return true
}

// Period returns a period by name.
func (c *Constraints) Period(name string) (CriticalPeriod, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.periods[name]
	return p, ok
}

// Periods returns every period ordered by start.
func (c *Constraints) Periods() []CriticalPeriod {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sortedLocked(func(CriticalPeriod) bool { return true })
}

// ActivePeriods returns the periods open at the current age.
func (c *Constraints) ActivePeriods() []CriticalPeriod {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sortedLocked(func(p CriticalPeriod) bool { return p.active(c.age) })
}

func (c *Constraints) sortedLocked(keep func(CriticalPeriod) bool) []CriticalPeriod {
	var out []CriticalPeriod
	for _, p := range c.periods {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// PlasticityMultiplier implements memory.Modulator.
func (c *Constraints) PlasticityMultiplier(region string) float64 {
	return c.lookup(region).plasticity
}

// LearningRateMultiplier implements memory.Modulator.
func (c *Constraints) LearningRateMultiplier(region string) float64 {
	return c.lookup(region).learning
}

// ConsolidationMultiplier implements memory.Modulator.
func (c *Constraints) ConsolidationMultiplier(region string) float64 {
	return c.lookup(region).consolidation
}

// ModalityMultiplier is the plasticity product over active periods that
// target the given sensory modality.
func (c *Constraints) ModalityMultiplier(modality string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f := 1.0
	for _, p := range c.periods {
		if p.active(c.age) && matches(p.Modalities, modality) {
			f *= p.factor(p.Plasticity, p.sensitivity(c.age), c.cfg.StabilizationFloor)
		}
	}
	return f * c.ageFactorLocked()
}

// LearningTypeMultiplier is the learning-rate product over active periods
// that target a kind of learning such as "procedural" or "semantic".
func (c *Constraints) LearningTypeMultiplier(kind string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f := 1.0
	for _, p := range c.periods {
		if p.active(c.age) && matches(p.LearningTypes, kind) {
			f *= p.factor(p.LearningRate, p.sensitivity(c.age), c.cfg.StabilizationFloor)
		}
	}
	return f * c.ageFactorLocked()
}

func (c *Constraints) lookup(region string) multipliers {
	c.mu.RLock()
	m, ok := c.cache[region]
	c.mu.RUnlock()
	if ok {
		return m
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.cache[region]; ok {
		return m
	}
	m = c.computeLocked(region)
	c.cache[region] = m
	return m
}

func (c *Constraints) computeLocked(region string) multipliers {
	m := multipliers{plasticity: 1, learning: 1, consolidation: 1}
	for _, p := range c.periods {
		if !p.active(c.age) || !matches(p.Regions, region) {
			continue
		}
		s := p.sensitivity(c.age)
		m.plasticity *= p.factor(p.Plasticity, s, c.cfg.StabilizationFloor)
		m.learning *= p.factor(p.LearningRate, s, c.cfg.StabilizationFloor)
		m.consolidation *= p.factor(p.Consolidation, s, c.cfg.StabilizationFloor)
	}
	af := c.ageFactorLocked()
	m.plasticity *= af
	m.learning *= af
	return m
}

func (c *Constraints) ageFactorLocked() float64 {
	if !c.cfg.EnableAgeDecay {
		return 1
	}
	return max(c.cfg.MinAgeFactor, math.Exp(-c.cfg.AgeDecayRate*c.age.Hours()))
}

// AdvanceSystemAge moves the developmental clock forward. Cached region
// multipliers are refreshed once at least UpdateInterval has passed.
func (c *Constraints) AdvanceSystemAge(dt time.Duration) {
	if dt <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.age += dt
	if c.age-c.lastUpdate < c.cfg.UpdateInterval {
		return
	}
	c.refreshLocked()
}

// SetSystemAge jumps to an absolute age and recomputes immediately.
func (c *Constraints) SetSystemAge(age time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.age = max(age, 0)
	c.invalidateLocked()
	c.refreshLocked()
}

// SystemAge returns the current age.
func (c *Constraints) SystemAge() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.age
}

func (c *Constraints) invalidateLocked() {
	clear(c.cache)
}

// refreshLocked recomputes every cached region and logs window transitions.
func (c *Constraints) refreshLocked() {
	for name, p := range c.periods {
		open := p.active(c.age)
		switch {
		case open && !c.active[name]:
			c.logger.Info("critical period opened",
				zap.String("name", name),
				zap.Stringer("type", p.Type),
				zap.Duration("age", c.age))
		case !open && c.active[name]:
			c.logger.Info("critical period closed",
				zap.String("name", name),
				zap.Duration("age", c.age))
		}
		c.active[name] = open
	}
	for region := range c.cache {
		c.cache[region] = c.computeLocked(region)
	}
	c.lastUpdate = c.age
	c.recomputes++
}

// LoadStandardPeriods installs a default developmental schedule measured
// in hours of system age.
func (c *Constraints) LoadStandardPeriods() error {
	for _, p := range StandardPeriods() {
		if err := c.DefineCriticalPeriod(p); err != nil {
			return err
		}
	}
	return nil
}

// StandardPeriods returns the default schedule.
func StandardPeriods() []CriticalPeriod {
	h := time.Hour
	return []CriticalPeriod{
		{
			Name: "sensory_tuning", Type: Enhancement,
			Start: 0, Peak: 2 * h, End: 12 * h,
			Plasticity: 2.0, LearningRate: 1.5, Consolidation: 1,
			Modalities: []string{"visual", "auditory", "tactile"},
			Shape:      1.5,
		},
		{
			Name: "motor_specialization", Type: Specialization,
			Start: 4 * h, Peak: 16 * h, End: 48 * h,
			Plasticity: 1.4, LearningRate: 1.6, Consolidation: 1,
			Regions:       []string{"motor", "cerebellum"},
			LearningTypes: []string{"procedural"},
			Shape:         1,
		},
		{
			Name: "language_window", Type: Enhancement,
			Start: 8 * h, Peak: 36 * h, End: 96 * h,
			Plasticity: 1, LearningRate: 1.8, Consolidation: 1.3,
			Regions:       []string{"language", "association"},
			LearningTypes: []string{"semantic", "episodic"},
			Shape:         1,
		},
		{
			Name: "synaptic_pruning", Type: Pruning,
			Start: 24 * h, Peak: 72 * h, End: 168 * h,
			Plasticity: 1.5, LearningRate: 1, Consolidation: 1,
			Shape: 1,
		},
		{
			Name: "maturation", Type: Stabilization,
			Start: 96 * h, Peak: 240 * h, End: 720 * h,
			Plasticity: 0.6, LearningRate: 0.8, Consolidation: 1.2,
			Shape: 1,
		},
	}
}

// Stats returns the developmental state.
func (c *Constraints) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Stats{
		SystemAge:     c.age,
		Periods:       len(c.periods),
		CachedRegions: len(c.cache),
		Recomputes:    c.recomputes,
	}
	for _, p := range c.sortedLocked(func(p CriticalPeriod) bool { return p.active(c.age) }) {
		s.Active = append(s.Active, p.Name)
	}
	return s
}
