// Package episodic implements the salience-scored event log.
package episodic

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nidhogg/nuka-memory/internal/memory"
	"go.uber.org/zap"
)

// Episode is a single recorded event.
type Episode struct {
	ID           uint64    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Context      string    `json:"context"`
	Sensory      []float64 `json:"sensory"`
	Emotional    []float64 `json:"emotional"`
	Narrative    string    `json:"narrative"`
	Salience     float64   `json:"salience"`
	Consolidated bool      `json:"consolidated"`
}

// Trace tracks relevance of an episode independently of its payload.
type Trace struct {
	Activation   float64   `json:"activation"`
	LastAccessed time.Time `json:"last_accessed"`
	AccessCount  int       `json:"access_count"`
}

// Record is an episode together with its trace.
type Record struct {
	Episode
	Trace Trace `json:"trace"`
}

// Result is a ranked search hit.
type Result struct {
	Record
	Score float64 `json:"score"`
}

// Config controls capacity, consolidation and forgetting.
type Config struct {
	MaxEpisodes            int     `json:"max_episodes"`            // default 1000
	ConsolidationThreshold float64 `json:"consolidation_threshold"` // default 0.6
	ForgetRate             float64 `json:"forget_rate"`             // default 0.05
	AccessBoost            float64 `json:"access_boost"`            // default 0.1
	ConsolidationBoost     float64 `json:"consolidation_boost"`     // default 0.2
	InitialActivation      float64 `json:"initial_activation"`      // default 1.0
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxEpisodes:            1000,
		ConsolidationThreshold: 0.6,
		ForgetRate:             0.05,
		AccessBoost:            0.1,
		ConsolidationBoost:     0.2,
		InitialActivation:      1.0,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxEpisodes <= 0 {
		c.MaxEpisodes = d.MaxEpisodes
	}
	if c.ConsolidationThreshold <= 0 {
		c.ConsolidationThreshold = d.ConsolidationThreshold
	}
	if c.ForgetRate <= 0 {
		c.ForgetRate = d.ForgetRate
	}
	if c.AccessBoost <= 0 {
		c.AccessBoost = d.AccessBoost
	}
	if c.ConsolidationBoost <= 0 {
		c.ConsolidationBoost = d.ConsolidationBoost
	}
	if c.InitialActivation <= 0 {
		c.InitialActivation = d.InitialActivation
	}
	return c
}

// Stats summarizes the log for telemetry.
type Stats struct {
	Count         int     `json:"count"`
	Capacity      int     `json:"capacity"`
	Consolidated  int     `json:"consolidated"`
	AvgSalience   float64 `json:"avg_salience"`
	AvgActivation float64 `json:"avg_activation"`
	Pruned        int     `json:"pruned"`
}

// Salience blends emotional (60%) and sensory (40%) magnitude, each
// normalized by 100 and capped at 1.
func Salience(sensory, emotional []float64) float64 {
	e := min(1, memory.SumSquares(emotional)/100)
	s := min(1, memory.SumSquares(sensory)/100)
	return memory.Clamp01(0.6*e + 0.4*s)
}

// retention is the score used for consolidation and pruning.
func retention(salience, activation float64) float64 {
	return 0.6*salience + 0.4*activation
}

type entry struct {
	ep    Episode
	trace Trace
}

// Manager owns episodes and their traces. All operations are thread-safe.
type Manager struct {
	cfg      Config
	episodes map[uint64]*entry
	seq      memory.Sequence
	pruned   int
	now      func() time.Time
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewManager creates an episodic memory manager.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:      cfg.withDefaults(),
		episodes: make(map[uint64]*entry),
		now:      time.Now,
		logger:   logger,
	}
}

// StoreEpisode records an event and prunes back to capacity.
func (m *Manager) StoreEpisode(context string, sensory, emotional []float64, narrative string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	id := m.seq.Next()
	e := &entry{
		ep: Episode{
			ID:        id,
			Timestamp: now,
			Context:   context,
			Sensory:   memory.Clone(sensory),
			Emotional: memory.Clone(emotional),
			Narrative: narrative,
			Salience:  Salience(sensory, emotional),
		},
		trace: Trace{Activation: m.cfg.InitialActivation, LastAccessed: now},
	}
	m.episodes[id] = e
	m.pruneLocked()

	m.logger.Debug("episode stored",
		zap.Uint64("id", id),
		zap.String("context", context),
		zap.Float64("salience", e.ep.Salience))
	return id
}

// RetrieveEpisode returns an episode and reinforces its trace.
func (m *Manager) RetrieveEpisode(id uint64) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.episodes[id]
	if !ok {
		return Record{}, false
	}
	e.trace.AccessCount++
	e.trace.LastAccessed = m.now()
	e.trace.Activation = memory.Clamp01(e.trace.Activation + m.cfg.AccessBoost)
	return e.record(), true
}

// SearchEpisodes ranks episodes by text match (70%), salience (20%) and
// activation (10%). A non-empty query only returns matching episodes.
func (m *Manager) SearchEpisodes(query string, k int) []Result {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(query))
	keywords := memory.Tokenize(q)
	var results []Result
	for _, e := range m.episodes {
		match := 0.0
		if q != "" {
			if strings.Contains(strings.ToLower(e.ep.Context), q) ||
				strings.Contains(strings.ToLower(e.ep.Narrative), q) {
				match = 1
			} else {
				match = memory.TextMatch(keywords, e.ep.Context, e.ep.Narrative)
			}
			if match == 0 {
				continue
			}
		}
		results = append(results, Result{
			Record: e.record(),
			Score:  0.7*match + 0.2*e.ep.Salience + 0.1*e.trace.Activation,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID > results[j].ID
	})
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results
}

// ConsolidateMemories marks episodes whose retention score crosses the
// threshold as consolidated and reinforces them, then prunes.
func (m *Manager) ConsolidateMemories() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, e := range m.episodes {
		if e.ep.Consolidated {
			continue
		}
		if retention(e.ep.Salience, e.trace.Activation) >= m.cfg.ConsolidationThreshold {
			e.ep.Consolidated = true
			e.trace.Activation = memory.Clamp01(e.trace.Activation + m.cfg.ConsolidationBoost)
			n++
		}
	}
	m.pruneLocked()
	if n > 0 {
		m.logger.Info("episodes consolidated", zap.Int("count", n))
	}
	return n
}

// ForgetOldMemories decays every trace and prunes to capacity. Returns the
// number of removed episodes.
func (m *Manager) ForgetOldMemories() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.episodes {
		e.trace.Activation *= 1 - m.cfg.ForgetRate
	}
	return m.pruneLocked()
}

// pruneLocked removes the lowest retention episodes until under capacity
// (caller must hold lock).
func (m *Manager) pruneLocked() int {
	removed := 0
	for len(m.episodes) > m.cfg.MaxEpisodes {
		id, ok := memory.Lowest(m.episodes, func(e *entry) float64 {
			return retention(e.ep.Salience, e.trace.Activation)
		})
		if !ok {
			break
		}
		delete(m.episodes, id)
		removed++
	}
	m.pruned += removed
	if removed > 0 {
		m.logger.Debug("episodes pruned", zap.Int("count", removed))
	}
	return removed
}

// MarkConsolidated flags an episode as consolidated without reinforcement.
func (m *Manager) MarkConsolidated(id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.episodes[id]
	if !ok {
		return false
	}
	e.ep.Consolidated = true
	return true
}

// RemoveEpisode deletes an episode.
func (m *Manager) RemoveEpisode(id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.episodes[id]; !ok {
		return false
	}
	delete(m.episodes, id)
	return true
}

// Trace returns the trace of an episode without touching it.
func (m *Manager) Trace(id uint64) (Trace, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.episodes[id]
	if !ok {
		return Trace{}, false
	}
	return e.trace, true
}

// Episodes returns a snapshot of every episode, oldest first.
func (m *Manager) Episodes() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.episodes))
	for _, e := range m.episodes {
		out = append(out, e.record())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Recent returns the n newest episodes, newest first.
func (m *Manager) Recent(n int) []Record {
	all := m.Episodes()
	out := make([]Record, 0, min(n, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, all[i])
	}
	return out
}

// Unconsolidated returns episodes not yet consolidated, oldest first.
func (m *Manager) Unconsolidated() []Record {
	var out []Record
	for _, r := range m.Episodes() {
		if !r.Consolidated {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the number of stored episodes.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.episodes)
}

// Stats returns log statistics.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{Count: len(m.episodes), Capacity: m.cfg.MaxEpisodes, Pruned: m.pruned}
	for _, e := range m.episodes {
		s.AvgSalience += e.ep.Salience
		s.AvgActivation += e.trace.Activation
		if e.ep.Consolidated {
			s.Consolidated++
		}
	}
	if s.Count > 0 {
		s.AvgSalience /= float64(s.Count)
		s.AvgActivation /= float64(s.Count)
	}
	return s
}

func (e *entry) record() Record {
	ep := e.ep
	ep.Sensory = memory.Clone(e.ep.Sensory)
	ep.Emotional = memory.Clone(e.ep.Emotional)
	return Record{Episode: ep, Trace: e.trace}
}
