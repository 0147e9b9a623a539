package integrator

import (
	"time"

	"go.uber.org/zap"
)

// MaintenanceReport summarizes one Maintain call. Slow is set when the
// interval-gated tasks ran.
type MaintenanceReport struct {
	Expired      int  `json:"expired"`
	Rehearsed    int  `json:"rehearsed"`
	Slow         bool `json:"slow"`
	Merged       int  `json:"merged"`
	Decayed      int  `json:"decayed"`
	Stabilized   int  `json:"stabilized"`
	Forgotten    int  `json:"forgotten"`
	LinksDropped int  `json:"links_dropped"`
}

// Maintain advances the fast processes by dt on every call: working memory
// decay and rehearsal and developmental age. Semantic consolidation,
// procedural upkeep, episodic forgetting and link relevance run once per
// MaintenanceInterval of accumulated time.
func (in *Integrator) Maintain(dt time.Duration) MaintenanceReport {
	var r MaintenanceReport
	if dt <= 0 {
		return r
	}
	if in.working != nil {
		r.Expired = in.working.UpdateActivations(dt)
		r.Rehearsed = in.working.RehearseItems()
	}
	if in.development != nil {
		in.development.AdvanceSystemAge(dt)
	}

	in.mu.Lock()
	in.sinceMaint += dt
	slow := in.sinceMaint >= in.cfg.MaintenanceInterval
	if slow {
		in.sinceMaint = 0
		in.maintenance++
	}
	in.mu.Unlock()
	if !slow {
		return r
	}

	r.Slow = true
	if in.semantic != nil {
		if rep, ok := in.semantic.Consolidate(false); ok {
			r.Merged = rep.Merged
		}
	}
	if in.procedural != nil {
		r.Decayed = in.procedural.DecayUnusedSkills(in.now())
		in.procedural.StrengthenFrequentlyUsed()
		r.Stabilized = in.procedural.ConsolidateMotorMemories()
	}
	if in.episodic != nil {
		r.Forgotten = in.episodic.ForgetOldMemories()
	}
	r.LinksDropped = in.UpdateMemoryRelevance() + in.PruneWeakLinks(0)

	in.logger.Debug("memory maintenance",
		zap.Int("expired", r.Expired),
		zap.Int("merged", r.Merged),
		zap.Int("decayed", r.Decayed),
		zap.Int("forgotten", r.Forgotten),
		zap.Int("links_dropped", r.LinksDropped))
	return r
}

// OnTick implements the clock listener. The first tick only records the
// time; later ticks maintain by the elapsed world time.
func (in *Integrator) OnTick(worldTime time.Time) {
	in.mu.Lock()
	last := in.lastTick
	in.lastTick = worldTime
	in.mu.Unlock()
	if last.IsZero() {
		return
	}
	in.Maintain(worldTime.Sub(last))
}
