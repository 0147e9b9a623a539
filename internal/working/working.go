// Package working implements the bounded short-term buffer.
package working

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/nidhogg/nuka-memory/internal/memory"
	"go.uber.org/zap"
)

// Item is a single entry held in working memory.
type Item struct {
	ID          uint64    `json:"id"`
	Label       string    `json:"label"`
	Features    []float64 `json:"features"`
	Activation  float64   `json:"activation"`
	CreatedAt   time.Time `json:"created_at"`
	LastAccess  time.Time `json:"last_access"`
	AccessCount int       `json:"access_count"`
	Rehearsed   bool      `json:"rehearsed"`
}

// Config controls capacity, decay and rehearsal.
type Config struct {
	Capacity          int           `json:"capacity"`           // default 7
	DecayRate         float64       `json:"decay_rate"`         // per second, default 0.1
	ExpiryWindow      time.Duration `json:"expiry_window"`      // default 30s
	ActivationFloor   float64       `json:"activation_floor"`   // default 0.1, negative disables
	RehearsalCount    int           `json:"rehearsal_count"`    // default 2
	RehearsalBoost    float64       `json:"rehearsal_boost"`    // default 0.3
	InitialActivation float64       `json:"initial_activation"` // default 1.0
}

// DefaultConfig returns Miller-sized defaults.
func DefaultConfig() Config {
	return Config{
		Capacity:          7,
		DecayRate:         0.1,
		ExpiryWindow:      30 * time.Second,
		ActivationFloor:   0.1,
		RehearsalCount:    2,
		RehearsalBoost:    0.3,
		InitialActivation: 1.0,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Capacity <= 0 {
		c.Capacity = d.Capacity
	}
	if c.DecayRate <= 0 {
		c.DecayRate = d.DecayRate
	}
	if c.ExpiryWindow <= 0 {
		c.ExpiryWindow = d.ExpiryWindow
	}
	switch {
	case c.ActivationFloor == 0:
		c.ActivationFloor = d.ActivationFloor
	case c.ActivationFloor < 0:
		c.ActivationFloor = 0
	}
	if c.RehearsalCount <= 0 {
		c.RehearsalCount = d.RehearsalCount
	}
	if c.RehearsalBoost <= 0 {
		c.RehearsalBoost = d.RehearsalBoost
	}
	if c.InitialActivation <= 0 {
		c.InitialActivation = d.InitialActivation
	}
	return c
}

// Stats summarizes the buffer for telemetry.
type Stats struct {
	Count         int     `json:"count"`
	Capacity      int     `json:"capacity"`
	AvgActivation float64 `json:"avg_activation"`
	Rehearsed     int     `json:"rehearsed"`
	Evictions     int     `json:"evictions"`
	Expirations   int     `json:"expirations"`
}

// Memory is a capacity-bounded set of decaying items. All operations are
// thread-safe.
type Memory struct {
	cfg         Config
	items       map[uint64]*Item
	seq         memory.Sequence
	evictions   int
	expirations int
	now         func() time.Time
	mu          sync.RWMutex
	logger      *zap.Logger
}

// New creates a working memory. Zero config fields take defaults.
func New(cfg Config, logger *zap.Logger) *Memory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{
		cfg:    cfg.withDefaults(),
		items:  make(map[uint64]*Item),
		now:    time.Now,
		logger: logger,
	}
}

// Config returns the effective configuration.
func (m *Memory) Config() Config {
	return m.cfg
}

// AddItem inserts a new item, evicting the weakest one first when full.
func (m *Memory) AddItem(label string, features []float64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(label, memory.Clone(features), m.cfg.InitialActivation)
}

// insertLocked adds an item (caller must hold lock).
func (m *Memory) insertLocked(label string, features []float64, activation float64) uint64 {
	for len(m.items) >= m.cfg.Capacity {
		m.evictWeakestLocked()
	}
	now := m.now()
	id := m.seq.Next()
	m.items[id] = &Item{
		ID:         id,
		Label:      label,
		Features:   features,
		Activation: memory.Clamp01(activation),
		CreatedAt:  now,
		LastAccess: now,
	}
	m.logger.Debug("working item added",
		zap.Uint64("id", id),
		zap.String("label", label),
		zap.Int("size", len(m.items)))
	return id
}

func (m *Memory) evictWeakestLocked() {
	id, ok := memory.Lowest(m.items, func(it *Item) float64 { return it.Activation })
	if !ok {
		return
	}
	label := m.items[id].Label
	delete(m.items, id)
	m.evictions++
	m.logger.Debug("working item evicted", zap.Uint64("id", id), zap.String("label", label))
}

// GetItem marks the item accessed and returns a copy of it.
func (m *Memory) GetItem(id uint64) (Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return Item{}, false
	}
	it.AccessCount++
	it.LastAccess = m.now()
	return copyItem(it), true
}

// Has reports whether an item is held, without marking access.
func (m *Memory) Has(id uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.items[id]
	return ok
}

// RemoveItem deletes an item. Unknown ids return false.
func (m *Memory) RemoveItem(id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return false
	}
	delete(m.items, id)
	return true
}

// UpdateActivations decays every activation by exp(-rate*dt), then drops
// items older than the expiry window whose activation fell below the floor.
// Returns the number of expired items.
func (m *Memory) UpdateActivations(dt time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	factor := math.Exp(-m.cfg.DecayRate * dt.Seconds())
	now := m.now()
	expired := 0
	for id, it := range m.items {
		it.Activation *= factor
		if now.Sub(it.CreatedAt) > m.cfg.ExpiryWindow && it.Activation < m.cfg.ActivationFloor {
			delete(m.items, id)
			expired++
		}
	}
	m.expirations += expired
	if expired > 0 {
		m.logger.Debug("working items expired", zap.Int("count", expired))
	}
	return expired
}

// RehearseItems boosts the lowest-activation items so weak entries are not
// starved out. Returns the number rehearsed.
func (m *Memory) RehearseItems() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	ordered := m.sortedLocked(false)
	n := min(m.cfg.RehearsalCount, len(ordered))
	for _, it := range ordered[:n] {
		it.Activation = memory.Clamp01(it.Activation + m.cfg.RehearsalBoost)
		it.Rehearsed = true
	}
	return n
}

// CreateChunk aggregates member items into a single new item holding the
// mean feature vector and mean activation. Unknown ids are skipped.
func (m *Memory) CreateChunk(ids []uint64, name string) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var vecs [][]float64
	var act float64
	for _, id := range ids {
		it, ok := m.items[id]
		if !ok {
			continue
		}
		vecs = append(vecs, it.Features)
		act += it.Activation
	}
	if len(vecs) == 0 {
		return 0, false
	}
	id := m.insertLocked(name, memory.Mean(vecs...), act/float64(len(vecs)))
	m.logger.Debug("working chunk created",
		zap.Uint64("id", id),
		zap.String("name", name),
		zap.Int("members", len(vecs)))
	return id, true
}

// Items returns a snapshot ordered by activation, strongest first.
func (m *Memory) Items() []Item {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ordered := m.sortedLocked(true)
	out := make([]Item, len(ordered))
	for i, it := range ordered {
		out[i] = copyItem(it)
	}
	return out
}

// Focus returns the k most active items.
func (m *Memory) Focus(k int) []Item {
	items := m.Items()
	if k >= 0 && len(items) > k {
		items = items[:k]
	}
	return items
}

// Len returns the number of held items.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Clear drops every item.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[uint64]*Item)
}

// Stats returns buffer statistics.
func (m *Memory) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{
		Count:       len(m.items),
		Capacity:    m.cfg.Capacity,
		Evictions:   m.evictions,
		Expirations: m.expirations,
	}
	for _, it := range m.items {
		s.AvgActivation += it.Activation
		if it.Rehearsed {
			s.Rehearsed++
		}
	}
	if s.Count > 0 {
		s.AvgActivation /= float64(s.Count)
	}
	return s
}

// sortedLocked orders items by activation (caller must hold lock). Ties
// resolve by id so selection is deterministic.
func (m *Memory) sortedLocked(desc bool) []*Item {
	out := make([]*Item, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Activation != out[j].Activation {
			if desc {
				return out[i].Activation > out[j].Activation
			}
			return out[i].Activation < out[j].Activation
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func copyItem(it *Item) Item {
	c := *it
	c.Features = memory.Clone(it.Features)
	return c
}
