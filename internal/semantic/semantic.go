// Package semantic implements the concept graph: label-addressed concepts
// with evidence blending, relations, a parent/child hierarchy and a
// merge/decay/prune consolidation cycle.
package semantic

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nidhogg/nuka-memory/internal/memory"
	"go.uber.org/zap"
)

// Config controls evidence weighting and the consolidation cycle.
type Config struct {
	MaxConcepts           int           `json:"max_concepts"`           // default 5000
	EvidenceWeight        float64       `json:"evidence_weight"`        // default 0.2
	MergeThreshold        float64       `json:"merge_threshold"`        // default 0.92
	HierarchyThreshold    float64       `json:"hierarchy_threshold"`    // default 0.75
	DecayRate             float64       `json:"decay_rate"`             // default 0.01
	MinStrength           float64       `json:"min_strength"`           // default 0.1
	MinAccess             int           `json:"min_access"`             // default 1
	ConsolidationInterval time.Duration `json:"consolidation_interval"` // default 10m
	InternalStateStep     int           `json:"internal_state_step"`    // default 4
	ExtractionThreshold   float64       `json:"extraction_threshold"`   // default 0.8
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcepts:           5000,
		EvidenceWeight:        0.2,
		MergeThreshold:        0.92,
		HierarchyThreshold:    0.75,
		DecayRate:             0.01,
		MinStrength:           0.1,
		MinAccess:             1,
		ConsolidationInterval: 10 * time.Minute,
		InternalStateStep:     4,
		ExtractionThreshold:   0.8,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConcepts <= 0 {
		c.MaxConcepts = d.MaxConcepts
	}
	if c.EvidenceWeight <= 0 || c.EvidenceWeight > 1 {
		c.EvidenceWeight = d.EvidenceWeight
	}
	if c.MergeThreshold <= 0 {
		c.MergeThreshold = d.MergeThreshold
	}
	if c.HierarchyThreshold <= 0 {
		c.HierarchyThreshold = d.HierarchyThreshold
	}
	if c.DecayRate <= 0 {
		c.DecayRate = d.DecayRate
	}
	if c.MinStrength <= 0 {
		c.MinStrength = d.MinStrength
	}
	if c.MinAccess <= 0 {
		c.MinAccess = d.MinAccess
	}
	if c.ConsolidationInterval <= 0 {
		c.ConsolidationInterval = d.ConsolidationInterval
	}
	if c.InternalStateStep <= 0 {
		c.InternalStateStep = d.InternalStateStep
	}
	if c.ExtractionThreshold <= 0 {
		c.ExtractionThreshold = d.ExtractionThreshold
	}
	return c
}

// EpisodeFeatures is the part of an experience that concepts are extracted from.
type EpisodeFeatures struct {
	Context       string
	Sensory       []float64
	Action        []float64
	InternalState []float64
}

// Match is a concept with its similarity to a probe.
type Match struct {
	Concept    Concept `json:"concept"`
	Similarity float64 `json:"similarity"`
}

// Relation is an outgoing edge.
type Relation struct {
	ID       uint64  `json:"id"`
	Label    string  `json:"label"`
	Strength float64 `json:"strength"`
}

// ConsolidationReport describes one consolidation cycle.
type ConsolidationReport struct {
	Merged      int           `json:"merged"`
	Hierarchies int           `json:"hierarchies"`
	Pruned      int           `json:"pruned"`
	Duration    time.Duration `json:"duration"`
}

// Stats summarizes the graph for telemetry.
type Stats struct {
	Count          int            `json:"count"`
	Capacity       int            `json:"capacity"`
	ByType         map[string]int `json:"by_type"`
	Relations      int            `json:"relations"`
	AvgStrength    float64        `json:"avg_strength"`
	AvgCertainty   float64        `json:"avg_certainty"`
	Merges         int            `json:"merges"`
	Pruned         int            `json:"pruned"`
	Evicted        int            `json:"evicted"`
	Consolidations int            `json:"consolidations"`
}

// Memory is the concept store. All operations are thread-safe; the
// consolidation cycle is never reentrant.
type Memory struct {
	cfg       Config
	concepts  map[uint64]*Concept
	byLabel   map[string]uint64
	byType    map[ConceptType]map[uint64]struct{}
	byKeyword map[string]map[uint64]struct{}
	seq       memory.Sequence

	merges         int
	pruned         int
	evicted        int
	consolidations int
	lastCycle      time.Time

	consolidating atomic.Bool
	now           func() time.Time
	mu            sync.RWMutex
	logger        *zap.Logger
}

// New creates a semantic memory.
func New(cfg Config, logger *zap.Logger) *Memory {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Memory{
		cfg:       cfg.withDefaults(),
		concepts:  make(map[uint64]*Concept),
		byLabel:   make(map[string]uint64),
		byType:    make(map[ConceptType]map[uint64]struct{}),
		byKeyword: make(map[string]map[uint64]struct{}),
		now:       time.Now,
		logger:    logger,
	}
	m.lastCycle = m.now()
	return m
}

// Config returns the effective configuration.
func (m *Memory) Config() Config {
	return m.cfg
}

// CreateConcept adds a concept. An existing label is updated by blending
// the incoming evidence into it and its id is returned instead.
func (m *Memory) CreateConcept(label string, features []float64, typ ConceptType, description string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertLocked(label, features, typ, description)
}

func (m *Memory) upsertLocked(label string, features []float64, typ ConceptType, description string) uint64 {
	if id, ok := m.byLabel[label]; ok {
		c := m.concepts[id]
		m.reinforceLocked(c, features)
		if description != "" && c.Description == "" {
			m.unindexKeywordsLocked(c)
			c.Description = description
			m.indexKeywordsLocked(c)
		}
		return id
	}

	for len(m.concepts) >= m.cfg.MaxConcepts {
		victim, ok := memory.Lowest(m.concepts, func(c *Concept) float64 { return c.retention() })
		if !ok {
			break
		}
		m.logger.Debug("concept evicted",
			zap.Uint64("id", victim),
			zap.String("label", m.concepts[victim].Label))
		m.removeLocked(victim)
		m.evicted++
	}

	now := m.now()
	c := &Concept{
		ID:          m.seq.Next(),
		Label:       label,
		Description: description,
		Type:        typ,
		Features:    memory.Clone(features),
		Abstraction: defaultAbstraction(typ),
		Strength:    0.5,
		Certainty:   0.5,
		Support:     0.1,
		CreatedAt:   now,
		LastAccess:  now,
		Related:     make(map[uint64]float64),
	}
	m.concepts[c.ID] = c
	m.indexLocked(c)
	m.logger.Debug("concept created",
		zap.Uint64("id", c.ID),
		zap.String("label", label),
		zap.Stringer("type", typ))
	return c.ID
}

// reinforceLocked blends new evidence into a concept (caller must hold lock).
func (m *Memory) reinforceLocked(c *Concept, features []float64) {
	w := m.cfg.EvidenceWeight
	agreement := max(0, memory.Cosine(c.Features, features))
	if len(features) > 0 {
		c.Features = memory.Blend(c.Features, features, w)
	}
	c.Support += w
	c.Strength = memory.Clamp01(c.Strength + w*0.5)
	c.Certainty = memory.Clamp01((1-w)*c.Certainty + w*agreement)
	c.AccessCount++
	c.LastAccess = m.now()
}

// ExtractConceptsFromEpisode folds an episode into the graph. The combined
// vector is sensory ++ action ++ subsampled internal state; a new concept is
// created only when the nearest existing one is below threshold. A zero
// threshold uses the configured default.
func (m *Memory) ExtractConceptsFromEpisode(ep EpisodeFeatures, threshold float64) []uint64 {
	if threshold <= 0 {
		threshold = m.cfg.ExtractionThreshold
	}
	vec := memory.Concat(ep.Sensory, ep.Action, memory.Subsample(ep.InternalState, m.cfg.InternalStateStep))
	if len(vec) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var best *Concept
	bestSim := -1.0
	for _, c := range m.concepts {
		if s := memory.Cosine(c.Features, vec); s > bestSim || (s == bestSim && best != nil && c.ID < best.ID) {
			best, bestSim = c, s
		}
	}
	if best != nil && bestSim >= threshold {
		m.reinforceLocked(best, vec)
		return []uint64{best.ID}
	}

	label := fmt.Sprintf("%s#%d", ep.Context, m.seq.Next())
	if ep.Context == "" {
		label = fmt.Sprintf("episode#%d", m.seq.Next())
	}
	id := m.upsertLocked(label, vec, TypeComposite, ep.Context)
	return []uint64{id}
}

// RelateConcepts links two concepts in both directions, keeping the
// stronger strength if an edge already exists.
func (m *Memory) RelateConcepts(a, b uint64, strength float64) bool {
	if a == b {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ca, okA := m.concepts[a]
	cb, okB := m.concepts[b]
	if !okA || !okB {
		return false
	}
	strength = memory.Clamp01(strength)
	ca.Related[b] = max(ca.Related[b], strength)
	cb.Related[a] = max(cb.Related[a], strength)
	return true
}

// Related returns the neighbors of a concept, strongest first.
func (m *Memory) Related(id uint64) []Relation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.concepts[id]
	if !ok {
		return nil
	}
	out := make([]Relation, 0, len(c.Related))
	for nb, s := range c.Related {
		r := Relation{ID: nb, Strength: s}
		if n, ok := m.concepts[nb]; ok {
			r.Label = n.Label
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Strength != out[j].Strength {
			return out[i].Strength > out[j].Strength
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// GetConcept returns a concept and records the access.
func (m *Memory) GetConcept(id uint64) (Concept, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.concepts[id]
	if !ok {
		return Concept{}, false
	}
	c.AccessCount++
	c.LastAccess = m.now()
	return c.clone(), true
}

// Peek returns a concept without recording an access.
func (m *Memory) Peek(id uint64) (Concept, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.concepts[id]
	if !ok {
		return Concept{}, false
	}
	return c.clone(), true
}

// FindByLabel looks a concept up through the label index.
func (m *Memory) FindByLabel(label string) (Concept, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byLabel[label]
	if !ok {
		return Concept{}, false
	}
	return m.concepts[id].clone(), true
}

// FindSimilar returns up to k concepts whose cosine similarity to features
// is at least minSim, most similar first.
func (m *Memory) FindSimilar(features []float64, k int, minSim float64) []Match {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Match
	for _, c := range m.concepts {
		s := memory.Cosine(c.Features, features)
		if s >= minSim {
			out = append(out, Match{Concept: c.clone(), Similarity: s})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].Concept.ID < out[j].Concept.ID
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

// ByType returns all concepts of a type via the type index.
func (m *Memory) ByType(t ConceptType) []Concept {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collectLocked(m.byType[t])
}

// SearchKeyword returns concepts indexed under a keyword.
func (m *Memory) SearchKeyword(word string) []Concept {
	m.mu.RLock()
	defer m.mu.RUnlock()
	toks := memory.Tokenize(word)
	if len(toks) == 0 {
		return nil
	}
	return m.collectLocked(m.byKeyword[toks[0]])
}

// Concepts returns every concept ordered by id.
func (m *Memory) Concepts() []Concept {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Concept, 0, len(m.concepts))
	for _, id := range m.sortedIDsLocked() {
		out = append(out, m.concepts[id].clone())
	}
	return out
}

// RemoveConcept deletes a concept and every reference to it.
func (m *Memory) RemoveConcept(id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.concepts[id]; !ok {
		return false
	}
	m.removeLocked(id)
	return true
}

// CreateAbstraction forms a parent concept over existing members. The parent
// holds the mean member features and sits above the most abstract member.
func (m *Memory) CreateAbstraction(childIDs []uint64, label string) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var children []*Concept
	var vecs [][]float64
	level := 0.0
	for _, id := range childIDs {
		if c, ok := m.concepts[id]; ok {
			children = append(children, c)
			vecs = append(vecs, c.Features)
			level = max(level, c.Abstraction)
		}
	}
	if len(children) == 0 {
		return 0, false
	}
	pid := m.upsertLocked(label, memory.Mean(vecs...), TypeAbstract, "")
	parent := m.concepts[pid]
	parent.Abstraction = memory.Clamp01(max(parent.Abstraction, level+0.2))
	for _, c := range children {
		// the upsert may have evicted a member to make room
		if c.ID == pid || m.concepts[c.ID] != c {
			continue
		}
		parent.Children = addUnique(parent.Children, c.ID)
		c.Parents = addUnique(c.Parents, pid)
	}
	return pid, true
}

// Len returns the number of concepts.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.concepts)
}

// Stats returns graph statistics.
func (m *Memory) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{
		Count:          len(m.concepts),
		Capacity:       m.cfg.MaxConcepts,
		ByType:         make(map[string]int),
		Merges:         m.merges,
		Pruned:         m.pruned,
		Evicted:        m.evicted,
		Consolidations: m.consolidations,
	}
	for _, c := range m.concepts {
		s.ByType[c.Type.String()]++
		s.Relations += len(c.Related)
		s.AvgStrength += c.Strength
		s.AvgCertainty += c.Certainty
	}
	s.Relations /= 2
	if s.Count > 0 {
		s.AvgStrength /= float64(s.Count)
		s.AvgCertainty /= float64(s.Count)
	}
	return s
}

// --- index maintenance (caller must hold lock) ---

func (m *Memory) indexLocked(c *Concept) {
	m.byLabel[c.Label] = c.ID
	set, ok := m.byType[c.Type]
	if !ok {
		set = make(map[uint64]struct{})
		m.byType[c.Type] = set
	}
	set[c.ID] = struct{}{}
	m.indexKeywordsLocked(c)
}

func (m *Memory) indexKeywordsLocked(c *Concept) {
	for _, kw := range c.keywords() {
		set, ok := m.byKeyword[kw]
		if !ok {
			set = make(map[uint64]struct{})
			m.byKeyword[kw] = set
		}
		set[c.ID] = struct{}{}
	}
}

func (m *Memory) unindexKeywordsLocked(c *Concept) {
	for _, kw := range c.keywords() {
		if set, ok := m.byKeyword[kw]; ok {
			delete(set, c.ID)
			if len(set) == 0 {
				delete(m.byKeyword, kw)
			}
		}
	}
}

func (m *Memory) unindexLocked(c *Concept) {
	if m.byLabel[c.Label] == c.ID {
		delete(m.byLabel, c.Label)
	}
	if set, ok := m.byType[c.Type]; ok {
		delete(set, c.ID)
		if len(set) == 0 {
			delete(m.byType, c.Type)
		}
	}
	m.unindexKeywordsLocked(c)
}

// removeLocked drops a concept from every index and from its neighbors,
// parents and children.
func (m *Memory) removeLocked(id uint64) {
	c, ok := m.concepts[id]
	if !ok {
		return
	}
	for nb := range c.Related {
		if n, ok := m.concepts[nb]; ok {
			delete(n.Related, id)
		}
	}
	for _, p := range c.Parents {
		if pc, ok := m.concepts[p]; ok {
			pc.Children = removeID(pc.Children, id)
		}
	}
	for _, ch := range c.Children {
		if cc, ok := m.concepts[ch]; ok {
			cc.Parents = removeID(cc.Parents, id)
		}
	}
	m.unindexLocked(c)
	delete(m.concepts, id)
}

func (m *Memory) collectLocked(set map[uint64]struct{}) []Concept {
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]Concept, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.concepts[id]; ok {
			out = append(out, c.clone())
		}
	}
	return out
}

func (m *Memory) sortedIDsLocked() []uint64 {
	ids := make([]uint64, 0, len(m.concepts))
	for id := range m.concepts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
