package integrator

import (
	"sort"
	"time"

	"github.com/nidhogg/nuka-memory/internal/memory"
	"go.uber.org/zap"
)

// Link is a directed association between items of any two stores.
type Link struct {
	Source    memory.Ref `json:"source"`
	Target    memory.Ref `json:"target"`
	Strength  float64    `json:"strength"`
	CreatedAt time.Time  `json:"created_at"`
	LastUsed  time.Time  `json:"last_used"`
}

// CreateCrossSystemLink links two existing items. Linking an item to
// itself, or to an unknown item, fails. Re-linking keeps the stronger
// strength. When a source exceeds MaxLinksPerSource its weakest link is
// dropped, the oldest first on ties.
func (in *Integrator) CreateCrossSystemLink(src, dst memory.Ref, strength float64) bool {
	if src == dst || strength <= 0 {
		return false
	}
	if !in.Exists(src) || !in.Exists(dst) {
		in.logger.Debug("link endpoint missing",
			zap.Stringer("source", src),
			zap.Stringer("target", dst))
		return false
	}
	strength = memory.Clamp01(strength)
	now := in.now()

	in.mu.Lock()
	defer in.mu.Unlock()
	if l := in.linkLocked(src, dst); l != nil {
		l.Strength = max(l.Strength, strength)
		l.LastUsed = now
		return true
	}
	ls := append(in.links[src], &Link{
		Source:    src,
		Target:    dst,
		Strength:  strength,
		CreatedAt: now,
		LastUsed:  now,
	})
	for len(ls) > in.cfg.MaxLinksPerSource {
		ls = dropWeakest(ls)
	}
	in.links[src] = ls
	return true
}

func dropWeakest(ls []*Link) []*Link {
	w := 0
	for i, l := range ls {
		if l.Strength < ls[w].Strength ||
			(l.Strength == ls[w].Strength && l.CreatedAt.Before(ls[w].CreatedAt)) {
			w = i
		}
	}
	return append(ls[:w], ls[w+1:]...)
}

// linkLocked returns the link src->dst (caller must hold lock).
func (in *Integrator) linkLocked(src, dst memory.Ref) *Link {
	for _, l := range in.links[src] {
		if l.Target == dst {
			return l
		}
	}
	return nil
}

// Links returns the outgoing links of src, strongest first.
func (in *Integrator) Links(src memory.Ref) []Link {
	in.mu.RLock()
	defer in.mu.RUnlock()
	out := make([]Link, 0, len(in.links[src]))
	for _, l := range in.links[src] {
		out = append(out, *l)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Strength > out[j].Strength })
	return out
}

// PruneWeakLinks drops links weaker than th. A non-positive th uses the
// configured threshold.
func (in *Integrator) PruneWeakLinks(th float64) int {
	if th <= 0 {
		th = in.cfg.LinkPruneThreshold
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.filterLocked(func(l *Link) bool { return l.Strength >= th })
}

// UpdateMemoryRelevance decays every link and drops links whose source or
// target no longer exists. Returns the number of dropped links.
func (in *Integrator) UpdateMemoryRelevance() int {
	in.mu.RLock()
	refs := make(map[memory.Ref]bool)
	for src, ls := range in.links {
		refs[src] = false
		for _, l := range ls {
			refs[l.Target] = false
		}
	}
	in.mu.RUnlock()
	for ref := range refs {
		refs[ref] = in.Exists(ref)
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	keep := 1 - in.cfg.RelevanceDecay
	return in.filterLocked(func(l *Link) bool {
		l.Strength *= keep
		src, ok1 := refs[l.Source]
		dst, ok2 := refs[l.Target]
		// links created after the snapshot wait for the next pass
		if !ok1 || !ok2 {
			return true
		}
		return src && dst
	})
}

// filterLocked keeps the links for which keep returns true (caller must
// hold lock).
func (in *Integrator) filterLocked(keep func(*Link) bool) int {
	dropped := 0
	for src, ls := range in.links {
		kept := ls[:0]
		for _, l := range ls {
			if keep(l) {
				kept = append(kept, l)
			} else {
				dropped++
			}
		}
		if len(kept) == 0 {
			delete(in.links, src)
			continue
		}
		in.links[src] = kept
	}
	if dropped > 0 {
		in.logger.Debug("links dropped", zap.Int("count", dropped))
	}
	return dropped
}
