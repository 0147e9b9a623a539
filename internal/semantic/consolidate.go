package semantic

import (
	"github.com/nidhogg/nuka-memory/internal/memory"
	"go.uber.org/zap"
)

// MergeSimilarConcepts folds every pair whose similarity reaches th into
// the stronger of the two. Returns the number of merged-away concepts.
func (m *Memory) MergeSimilarConcepts(th float64) int {
	if th <= 0 {
		th = m.cfg.MergeThreshold
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	merged := 0
	ids := m.sortedIDsLocked()
	for i := 0; i < len(ids); i++ {
		a, ok := m.concepts[ids[i]]
		if !ok {
			continue
		}
		for j := i + 1; j < len(ids); j++ {
			b, ok := m.concepts[ids[j]]
			if !ok {
				continue
			}
			if similarity(a, b) < th {
				continue
			}
			survivor, loser := a, b
			if b.Strength > a.Strength {
				survivor, loser = b, a
			}
			m.mergeLocked(survivor, loser)
			merged++
			if loser == a {
				break
			}
		}
	}
	m.merges += merged
	if merged > 0 {
		m.logger.Debug("concepts merged", zap.Int("count", merged))
	}
	return merged
}

// mergeLocked moves everything loser owns into survivor and deletes loser
// (caller must hold lock).
func (m *Memory) mergeLocked(survivor, loser *Concept) {
	total := survivor.Strength + loser.Strength
	w := 0.5
	if total > 0 {
		w = loser.Strength / total
	}
	survivor.Features = memory.Blend(survivor.Features, loser.Features, w)
	survivor.Support += loser.Support
	survivor.AccessCount += loser.AccessCount
	survivor.Certainty = max(survivor.Certainty, loser.Certainty)
	if loser.LastAccess.After(survivor.LastAccess) {
		survivor.LastAccess = loser.LastAccess
	}

	for nb, s := range loser.Related {
		if nb == survivor.ID {
			continue
		}
		survivor.Related[nb] = max(survivor.Related[nb], s)
		if n, ok := m.concepts[nb]; ok {
			n.Related[survivor.ID] = max(n.Related[survivor.ID], s)
		}
	}
	delete(survivor.Related, loser.ID)

	for _, p := range loser.Parents {
		if p == survivor.ID {
			continue
		}
		if pc, ok := m.concepts[p]; ok {
			pc.Children = addUnique(pc.Children, survivor.ID)
			survivor.Parents = addUnique(survivor.Parents, p)
		}
	}
	for _, ch := range loser.Children {
		if ch == survivor.ID {
			continue
		}
		if cc, ok := m.concepts[ch]; ok {
			cc.Parents = addUnique(cc.Parents, survivor.ID)
			survivor.Children = addUnique(survivor.Children, ch)
		}
	}
	survivor.Parents = removeID(survivor.Parents, loser.ID)
	survivor.Children = removeID(survivor.Children, loser.ID)

	m.removeLocked(loser.ID)
}

// FormHierarchicalRelationships links A as parent of B whenever A is more
// abstract by more than 0.2 and their features agree to at least th.
func (m *Memory) FormHierarchicalRelationships(th float64) int {
	if th <= 0 {
		th = m.cfg.HierarchyThreshold
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	formed := 0
	ids := m.sortedIDsLocked()
	for _, ai := range ids {
		a := m.concepts[ai]
		for _, bi := range ids {
			if ai == bi {
				continue
			}
			b := m.concepts[bi]
			if a.Abstraction-b.Abstraction <= 0.2 {
				continue
			}
			if memory.Cosine(a.Features, b.Features) < th {
				continue
			}
			before := len(a.Children)
			a.Children = addUnique(a.Children, b.ID)
			b.Parents = addUnique(b.Parents, a.ID)
			if len(a.Children) > before {
				formed++
			}
		}
	}
	return formed
}

// ApplyConceptDecay weakens strength, support and certainty by rate.
func (m *Memory) ApplyConceptDecay(rate float64) {
	if rate <= 0 {
		rate = m.cfg.DecayRate
	}
	f := 1 - memory.Clamp01(rate)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.concepts {
		c.Strength *= f
		c.Support *= f
		c.Certainty *= f
	}
}

// PruneWeakConcepts removes concepts that are both weak and rarely used.
func (m *Memory) PruneWeakConcepts(minStrength float64, minAccess int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range m.sortedIDsLocked() {
		c := m.concepts[id]
		if c.Strength < minStrength && c.AccessCount < minAccess {
			m.removeLocked(id)
			n++
		}
	}
	m.pruned += n
	return n
}

// Consolidate runs merge, hierarchy, decay and prune in order. Unless force
// is set it only runs once per ConsolidationInterval. A call that overlaps a
// running cycle returns false.
func (m *Memory) Consolidate(force bool) (ConsolidationReport, bool) {
	if !m.consolidating.CompareAndSwap(false, true) {
		return ConsolidationReport{}, false
	}
	defer m.consolidating.Store(false)

	start := m.now()
	m.mu.RLock()
	due := start.Sub(m.lastCycle) >= m.cfg.ConsolidationInterval
	m.mu.RUnlock()
	if !force && !due {
		return ConsolidationReport{}, false
	}

	r := ConsolidationReport{
		Merged:      m.MergeSimilarConcepts(m.cfg.MergeThreshold),
		Hierarchies: m.FormHierarchicalRelationships(m.cfg.HierarchyThreshold),
	}
	m.ApplyConceptDecay(m.cfg.DecayRate)
	r.Pruned = m.PruneWeakConcepts(m.cfg.MinStrength, m.cfg.MinAccess)

	m.mu.Lock()
	m.lastCycle = m.now()
	m.consolidations++
	r.Duration = m.now().Sub(start)
	m.mu.Unlock()

	m.logger.Info("semantic consolidation complete",
		zap.Int("merged", r.Merged),
		zap.Int("hierarchies", r.Hierarchies),
		zap.Int("pruned", r.Pruned))
	return r, true
}

// Busy reports whether a consolidation cycle is running.
func (m *Memory) Busy() bool {
	return m.consolidating.Load()
}
