// Package dream generates synthetic dream narratives from the contents of
// the memory stores and feeds them back as replay and reinforcement.
package dream

import (
	"fmt"
	"sync"
	"time"

	"github.com/nidhogg/nuka-memory/internal/episodic"
	"github.com/nidhogg/nuka-memory/internal/memory"
	"github.com/nidhogg/nuka-memory/internal/semantic"
	"github.com/nidhogg/nuka-memory/internal/working"
	"go.uber.org/zap"
)

// Type classifies a dream.
type Type int

const (
	Episodic Type = iota
	Creative
	ProblemSolving
	Emotional
	Nightmare
	Lucid
	Semantic
)

var typeNames = map[Type]string{
	Episodic:       "episodic",
	Creative:       "creative",
	ProblemSolving: "problem_solving",
	Emotional:      "emotional",
	Nightmare:      "nightmare",
	Lucid:          "lucid",
	Semantic:       "semantic",
}

// Types lists every dream type in draw order.
var Types = []Type{Episodic, Creative, ProblemSolving, Emotional, Nightmare, Lucid, Semantic}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("dream(%d)", int(t))
}

// MarshalText renders the type name.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses a type name.
func (t *Type) UnmarshalText(b []byte) error {
	p, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = p
	return nil
}

// ParseType maps a name to a dream Type.
func ParseType(s string) (Type, error) {
	for t, n := range typeNames {
		if n == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown dream type %q", s)
}

// Narrative is one generated dream.
type Narrative struct {
	ID                 string        `json:"id"`
	Type               Type          `json:"type"`
	Text               string        `json:"text"`
	Sensory            []float64     `json:"sensory"`
	Emotional          []float64     `json:"emotional"`
	Symbolic           []float64     `json:"symbolic,omitempty"`
	Symbols            []string      `json:"symbols,omitempty"`
	Sources            []memory.Ref  `json:"sources,omitempty"`
	Coherence          float64       `json:"coherence"`
	Creativity         float64       `json:"creativity"`
	EmotionalIntensity float64       `json:"emotional_intensity"`
	Duration           time.Duration `json:"duration"`
	Timestamp          time.Time     `json:"timestamp"`
	Insight            *memory.Ref   `json:"insight,omitempty"`
}

// Config controls the type draw, content distortion and write-back.
type Config struct {
	NightmareBase             float64 `json:"nightmare_base"`              // default 0.02
	StressWeight              float64 `json:"stress_weight"`               // default 0.5
	EmotionWeight             float64 `json:"emotion_weight"`              // default 0.2
	HighEmotionThreshold      float64 `json:"high_emotion_threshold"`      // default 0.6
	LucidProbability          float64 `json:"lucid_probability"`           // default 0.05
	CreativeProbability       float64 `json:"creative_probability"`        // default 0.2
	ProblemSolvingProbability float64 `json:"problem_solving_probability"` // default 0.15
	EmotionalProbability      float64 `json:"emotional_probability"`       // default 0.1
	SemanticProbability       float64 `json:"semantic_probability"`        // default 0.1
	Distortion                float64 `json:"distortion"`                  // default 0.15
	CreativeNoise             float64 `json:"creative_noise"`              // default 0.25
	ExplorationNoise          float64 `json:"exploration_noise"`           // default 0.3
	EmotionalAmplification    float64 `json:"emotional_amplification"`     // default 1.5
	NightmareAmplification    float64 `json:"nightmare_amplification"`     // default 2.0
	MaxSources                int     `json:"max_sources"`                 // default 5
	SymbolicInjection         *bool   `json:"symbolic_injection"`          // default true
	SymbolRate                float64 `json:"symbol_rate"`                 // default 0.1
	GenerateText              *bool   `json:"generate_text"`               // default true
	MaxHistory                int     `json:"max_history"`                 // default 100
	MaxPerType                int     `json:"max_per_type"`                // default 20
	InsightThreshold          float64 `json:"insight_threshold"`           // default 0.7
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	on := true
	text := true
	return Config{
		NightmareBase:             0.02,
		StressWeight:              0.5,
		EmotionWeight:             0.2,
		HighEmotionThreshold:      0.6,
		LucidProbability:          0.05,
		CreativeProbability:       0.2,
		ProblemSolvingProbability: 0.15,
		EmotionalProbability:      0.1,
		SemanticProbability:       0.1,
		Distortion:                0.15,
		CreativeNoise:             0.25,
		ExplorationNoise:          0.3,
		EmotionalAmplification:    1.5,
		NightmareAmplification:    2.0,
		MaxSources:                5,
		SymbolicInjection:         &on,
		SymbolRate:                0.1,
		GenerateText:              &text,
		MaxHistory:                100,
		MaxPerType:                20,
		InsightThreshold:          0.7,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	fill := func(v *float64, def float64) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&c.NightmareBase, d.NightmareBase)
	fill(&c.StressWeight, d.StressWeight)
	fill(&c.EmotionWeight, d.EmotionWeight)
	fill(&c.HighEmotionThreshold, d.HighEmotionThreshold)
	fill(&c.LucidProbability, d.LucidProbability)
	fill(&c.CreativeProbability, d.CreativeProbability)
	fill(&c.ProblemSolvingProbability, d.ProblemSolvingProbability)
	fill(&c.EmotionalProbability, d.EmotionalProbability)
	fill(&c.SemanticProbability, d.SemanticProbability)
	fill(&c.Distortion, d.Distortion)
	fill(&c.CreativeNoise, d.CreativeNoise)
	fill(&c.ExplorationNoise, d.ExplorationNoise)
	fill(&c.EmotionalAmplification, d.EmotionalAmplification)
	fill(&c.NightmareAmplification, d.NightmareAmplification)
	fill(&c.SymbolRate, d.SymbolRate)
	fill(&c.InsightThreshold, d.InsightThreshold)
	if c.MaxSources <= 0 {
		c.MaxSources = d.MaxSources
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = d.MaxHistory
	}
	if c.MaxPerType <= 0 {
		c.MaxPerType = d.MaxPerType
	}
	if c.SymbolicInjection == nil {
		c.SymbolicInjection = d.SymbolicInjection
	}
	if c.GenerateText == nil {
		c.GenerateText = d.GenerateText
	}
	return c
}

// EpisodicSource supplies episodes to dream about.
type EpisodicSource interface {
	Episodes() []episodic.Record
}

// SemanticStore supplies concepts and receives insights.
type SemanticStore interface {
	Concepts() []semantic.Concept
	CreateConcept(label string, features []float64, typ semantic.ConceptType, description string) uint64
}

// WorkingStore supplies the current focus and receives insights.
type WorkingStore interface {
	Items() []working.Item
	AddItem(label string, features []float64) uint64
}

// PhaseReader reports the current sleep phase.
type PhaseReader interface {
	Phase() memory.Phase
}

// Stats summarizes generated dreams.
type Stats struct {
	Total         int            `json:"total"`
	ByType        map[string]int `json:"by_type"`
	Insights      int            `json:"insights"`
	AvgCoherence  float64        `json:"avg_coherence"`
	AvgCreativity float64        `json:"avg_creativity"`
	HasProblem    bool           `json:"has_problem"`
}

type problem struct {
	vector []float64
	hints  []string
}

// Processor generates dreams. All operations are thread-safe; stores are
// never called with the processor's lock held.
type Processor struct {
	cfg Config

	episodic  EpisodicSource
	semantic  SemanticStore
	working   WorkingStore
	phase     PhaseReader
	substrate memory.Substrate
	learning  memory.LearningSystem

	problem *problem
	history []Narrative
	byType  map[Type][]Narrative

	total         int
	counts        map[Type]int
	insights      int
	sumCoherence  float64
	sumCreativity float64

	rnd    memory.Rand
	now    func() time.Time
	mu     sync.RWMutex
	logger *zap.Logger
}

// New creates a dream processor.
func New(cfg Config, rnd memory.Rand, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rnd == nil {
		rnd = memory.NewRand(0)
	}
	return &Processor{
		cfg:    cfg.withDefaults(),
		byType: make(map[Type][]Narrative),
		counts: make(map[Type]int),
		rnd:    rnd,
		now:    time.Now,
		logger: logger,
	}
}

// Config returns the effective configuration.
func (p *Processor) Config() Config {
	return p.cfg
}

func (p *Processor) RegisterEpisodic(s EpisodicSource) {
	p.mu.Lock()
	p.episodic = s
	p.mu.Unlock()
}

func (p *Processor) RegisterSemantic(s SemanticStore) {
	p.mu.Lock()
	p.semantic = s
	p.mu.Unlock()
}

func (p *Processor) RegisterWorking(s WorkingStore) {
	p.mu.Lock()
	p.working = s
	p.mu.Unlock()
}

func (p *Processor) RegisterPhase(r PhaseReader) {
	p.mu.Lock()
	p.phase = r
	p.mu.Unlock()
}

func (p *Processor) RegisterSubstrate(s memory.Substrate) {
	p.mu.Lock()
	p.substrate = s
	p.mu.Unlock()
}

func (p *Processor) RegisterLearning(l memory.LearningSystem) {
	p.mu.Lock()
	p.learning = l
	p.mu.Unlock()
}

// Ready reports whether every collaborator is registered: the three
// stores a dream draws from, the sleep phase, the substrate and the
// learning system.
func (p *Processor) Ready() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.readyLocked()
}

func (p *Processor) readyLocked() bool {
	return p.episodic != nil && p.semantic != nil && p.working != nil &&
		p.phase != nil && p.substrate != nil && p.learning != nil
}

// SetProblemContext focuses problem-solving dreams on a vector with
// optional textual hints.
func (p *Processor) SetProblemContext(vec []float64, hints []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.problem = &problem{vector: memory.Clone(vec), hints: append([]string(nil), hints...)}
	p.logger.Debug("problem context set", zap.Int("dims", len(vec)), zap.Strings("hints", hints))
}

// ClearProblemContext removes the problem focus.
func (p *Processor) ClearProblemContext() {
	p.mu.Lock()
	p.problem = nil
	p.mu.Unlock()
}

// History returns up to n recent dreams, newest first. n <= 0 means all.
func (p *Processor) History(n int) []Narrative {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return newestFirst(p.history, n)
}

// HistoryByType returns up to n recent dreams of one type, newest first.
func (p *Processor) HistoryByType(t Type, n int) []Narrative {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return newestFirst(p.byType[t], n)
}

func newestFirst(src []Narrative, n int) []Narrative {
	if n <= 0 || n > len(src) {
		n = len(src)
	}
	out := make([]Narrative, 0, n)
	for i := len(src) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, src[i])
	}
	return out
}

// Stats returns dream statistics.
func (p *Processor) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := Stats{
		Total:      p.total,
		ByType:     make(map[string]int, len(p.counts)),
		Insights:   p.insights,
		HasProblem: p.problem != nil,
	}
	for t, n := range p.counts {
		s.ByType[t.String()] = n
	}
	if p.total > 0 {
		s.AvgCoherence = p.sumCoherence / float64(p.total)
		s.AvgCreativity = p.sumCreativity / float64(p.total)
	}
	return s
}

// record appends a dream to the bounded histories.
func (p *Processor) record(n Narrative) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = append(p.history, n)
	if over := len(p.history) - p.cfg.MaxHistory; over > 0 {
		p.history = append([]Narrative(nil), p.history[over:]...)
	}
	bucket := append(p.byType[n.Type], n)
	if over := len(bucket) - p.cfg.MaxPerType; over > 0 {
		bucket = append([]Narrative(nil), bucket[over:]...)
	}
	p.byType[n.Type] = bucket

	p.total++
	p.counts[n.Type]++
	p.sumCoherence += n.Coherence
	p.sumCreativity += n.Creativity
	if n.Insight != nil {
		p.insights++
	}
}
