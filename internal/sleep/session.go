package sleep

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/nuka-memory/internal/episodic"
	"github.com/nidhogg/nuka-memory/internal/memory"
	"github.com/nidhogg/nuka-memory/internal/semantic"
	"go.uber.org/zap"
)

// collaborators is a snapshot taken at session start so stores are never
// called under the orchestrator's lock.
type collaborators struct {
	cfg        Config
	episodic   EpisodicStore
	semantic   SemanticStore
	working    WorkingStore
	procedural ProceduralStore
	learning   memory.LearningSystem
	substrate  memory.Substrate
	dreamer    Dreamer
	observers  []func(Report)
}

// candidate is an episode ranked for replay.
type candidate struct {
	rec      episodic.Record
	priority float64
}

// TriggerConsolidation runs one complete session synchronously. It returns
// false without touching any state when a required collaborator is missing,
// when another session is running, or when MinInterval has not passed since
// the last session and force is unset. A zero duration draws one uniformly
// from [MinDuration, MaxDuration]. The duration is simulated: it sizes the
// replay budgets and nothing waits on it.
func (o *Orchestrator) TriggerConsolidation(ctx context.Context, force bool, duration time.Duration) (Report, bool) {
	o.mu.RLock()
	if !o.readyLocked() {
		o.mu.RUnlock()
		o.logger.Warn("sleep consolidation not ready: collaborators missing")
		return Report{}, false
	}
	c := collaborators{
		cfg:        o.cfg,
		episodic:   o.episodic,
		semantic:   o.semantic,
		working:    o.working,
		procedural: o.procedural,
		learning:   o.learning,
		substrate:  o.substrate,
		dreamer:    o.dreamer,
		observers:  append([]func(Report){}, o.observers...),
	}
	lastSession := o.stats.LastSession
	o.mu.RUnlock()

	if !o.active.CompareAndSwap(false, true) {
		o.logger.Debug("sleep consolidation already running")
		o.mu.Lock()
		o.stats.Refused++
		o.mu.Unlock()
		return Report{}, false
	}
	defer o.active.Store(false)

	if !force && c.cfg.MinInterval > 0 && !lastSession.IsZero() && o.now().Sub(lastSession) < c.cfg.MinInterval {
		return Report{}, false
	}
	o.stop.Store(false)

	if duration <= 0 {
		span := c.cfg.MaxDuration - c.cfg.MinDuration
		duration = c.cfg.MinDuration + time.Duration(o.rnd.Float64()*float64(span))
	}
	r := Report{
		ID:        uuid.NewString(),
		StartedAt: o.now(),
		Duration:  duration,
		SlowWave:  time.Duration(float64(duration) * c.cfg.SlowWaveRatio),
		REM:       time.Duration(float64(duration) * c.cfg.REMRatio),
		Forced:    force,
	}
	o.logger.Info("sleep session started",
		zap.String("session_id", r.ID),
		zap.Duration("duration", duration),
		zap.Bool("forced", force))

	o.slowWave(ctx, &c, &r)
	if o.interrupted(ctx) {
		r.Stopped = true
	} else {
		o.rem(ctx, &c, &r)
		r.Stopped = o.interrupted(ctx)
	}

	o.phase.Store(memory.PhaseAwake)
	r.FinishedAt = o.now()
	o.finish(r)

	o.logger.Info("sleep session finished",
		zap.String("session_id", r.ID),
		zap.Int("replays", r.Replays()),
		zap.Int("transferred", r.Transferred),
		zap.Int("cross_modal_links", r.CrossModalLinks),
		zap.Int("procedural_transfers", r.ProceduralTransfers),
		zap.Bool("stopped", r.Stopped))

	for _, fn := range c.observers {
		fn(r)
	}
	return r, true
}

func (o *Orchestrator) interrupted(ctx context.Context) bool {
	return o.stop.Load() || ctx.Err() != nil
}

func (o *Orchestrator) finish(r Report) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stats.Sessions++
	o.stats.Replays += r.Replays()
	o.stats.Transferred += r.Transferred
	o.stats.CrossModalLinks += r.CrossModalLinks
	o.stats.SimulatedSleep += r.Duration
	o.stats.LastSession = r.FinishedAt
	if r.Stopped {
		o.stats.Stopped++
	}
	if r.Dream != nil {
		o.stats.Dreams++
	}
	o.last = &r
}

// budget converts a phase length into a replay count.
func budget(cfg Config, d time.Duration) int {
	return min(cfg.MaxReplays, int(d.Seconds()*cfg.ReplaysPerSecond))
}

// slowWave scales synapses down, replays the highest-priority episodes and
// transfers salient ones into semantic memory.
func (o *Orchestrator) slowWave(ctx context.Context, c *collaborators, r *Report) {
	o.phase.Store(memory.PhaseSlowWave)

	if err := c.learning.ApplyHomeostaticScaling(ctx, c.cfg.ScalingFactor); err != nil {
		o.logger.Warn("homeostatic scaling failed", zap.Error(err))
		r.Errors = append(r.Errors, "scaling: "+err.Error())
	} else {
		r.Scaled = true
	}

	ranked := o.prioritize(c.cfg, c.episodic.Episodes())
	n := min(budget(c.cfg, r.SlowWave), len(ranked))
	for _, cand := range ranked[:n] {
		if ctx.Err() != nil {
			return
		}
		if o.inject(ctx, c.substrate, cand.rec, c.cfg.SlowWaveSpeed, cand.priority, memory.PhaseSlowWave, r) {
			r.SlowWaveReplays++
		}
	}

	for _, cand := range ranked {
		if cand.rec.Consolidated || cand.priority < c.cfg.TransferThreshold {
			continue
		}
		ids := c.semantic.ExtractConceptsFromEpisode(semantic.EpisodeFeatures{
			Context:       cand.rec.Context,
			Sensory:       cand.rec.Sensory,
			InternalState: cand.rec.Emotional,
		}, 0)
		if len(ids) == 0 {
			continue
		}
		c.episodic.MarkConsolidated(cand.rec.ID)
		r.Transferred++
		r.Concepts = append(r.Concepts, ids...)
	}
	r.EpisodesPromoted = c.episodic.ConsolidateMemories()
	c.semantic.Consolidate(true)
}

// rem links concepts across types, replays random episodes fast, moves
// well-rehearsed working items into procedural memory and dreams.
func (o *Orchestrator) rem(ctx context.Context, c *collaborators, r *Report) {
	o.phase.Store(memory.PhaseREM)

	r.CrossModalLinks = o.crossModal(c)

	episodes := c.episodic.Episodes()
	if len(episodes) > 0 {
		for i := 0; i < budget(c.cfg, r.REM); i++ {
			if ctx.Err() != nil {
				return
			}
			rec := episodes[o.rnd.Intn(len(episodes))]
			if o.inject(ctx, c.substrate, rec, c.cfg.REMSpeed, 0.5*(1+rec.Salience), memory.PhaseREM, r) {
				r.REMReplays++
			}
		}
	}
	if o.interrupted(ctx) {
		return
	}

	for _, it := range c.working.Items() {
		if it.AccessCount < c.cfg.ProceduralMinAccess {
			continue
		}
		id := c.procedural.AddSkill(it.Label, nil, it.Features)
		if c.procedural.PracticeSkill(id, it.Activation) {
			r.ProceduralTransfers++
		}
	}
	c.procedural.ConsolidateMotorMemories()
	if o.interrupted(ctx) {
		return
	}

	if c.dreamer == nil {
		return
	}
	emotional, stress := emotionalState(episodes)
	if d, ok := c.dreamer.GenerateDream(ctx, r.REM, emotional, stress); ok {
		r.Dream = &d
	}
}

// crossModal relates concepts of different types whose features agree.
// Only a random sample of concepts is compared per session.
func (o *Orchestrator) crossModal(c *collaborators) int {
	concepts := c.semantic.Concepts()
	if len(concepts) > c.cfg.CrossModalSample {
		perm := o.rnd.Perm(len(concepts))[:c.cfg.CrossModalSample]
		sample := make([]semantic.Concept, len(perm))
		for i, p := range perm {
			sample[i] = concepts[p]
		}
		concepts = sample
	}
	links := 0
	for i := range concepts {
		for j := i + 1; j < len(concepts); j++ {
			a, b := concepts[i], concepts[j]
			if a.Type == b.Type {
				continue
			}
			if _, linked := a.Related[b.ID]; linked {
				continue
			}
			sim := memory.Cosine(a.Features, b.Features)
			if sim < c.cfg.CrossModalThreshold {
				continue
			}
			if c.semantic.RelateConcepts(a.ID, b.ID, c.cfg.CrossModalStrength*sim) {
				links++
			}
		}
	}
	return links
}

func (o *Orchestrator) inject(ctx context.Context, s memory.Substrate, rec episodic.Record, speed, strength float64, phase memory.Phase, r *Report) bool {
	pattern := rec.Sensory
	if len(pattern) == 0 {
		pattern = rec.Emotional
	}
	if len(pattern) == 0 {
		return false
	}
	err := s.InjectReplay(ctx, memory.Replay{
		Pattern:  memory.Clone(pattern),
		Speed:    speed,
		Strength: memory.Clamp01(strength),
		Phase:    phase,
		Source:   memory.Ref{System: memory.SystemEpisodic, ID: rec.ID},
	})
	if err != nil {
		o.logger.Warn("replay injection failed", zap.Uint64("episode", rec.ID), zap.Error(err))
		r.Errors = append(r.Errors, "replay: "+err.Error())
		return false
	}
	return true
}

// prioritize ranks episodes by 0.3·emotion + 0.4·surprise + 0.2·strength +
// 0.1·recency, highest first. Surprise is the distance from the batch mean
// sensory vector relative to the furthest episode.
func (o *Orchestrator) prioritize(cfg Config, recs []episodic.Record) []candidate {
	if len(recs) == 0 {
		return nil
	}
	vecs := make([][]float64, len(recs))
	for i, r := range recs {
		vecs[i] = r.Sensory
	}
	mean := memory.Mean(vecs...)
	dist := make([]float64, len(recs))
	far := 0.0
	for i, r := range recs {
		dist[i] = memory.Distance(r.Sensory, mean)
		far = max(far, dist[i])
	}

	now := o.now()
	out := make([]candidate, len(recs))
	for i, r := range recs {
		surprise := 0.0
		if far > 0 {
			surprise = dist[i] / far
		}
		emotion := min(1, memory.SumSquares(r.Emotional)/100)
		age := max(0, now.Sub(r.Timestamp).Seconds())
		recency := math.Exp(-age / cfg.RecencyTau.Seconds())
		out[i] = candidate{
			rec:      r,
			priority: 0.3*emotion + 0.4*surprise + 0.2*r.Trace.Activation + 0.1*recency,
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].priority > out[j].priority })
	return out
}

// emotionalState averages the emotional vectors of the episodes; stress is
// their mean emotional weight.
func emotionalState(recs []episodic.Record) ([]float64, float64) {
	if len(recs) == 0 {
		return nil, 0
	}
	vecs := make([][]float64, len(recs))
	stress := 0.0
	for i, r := range recs {
		vecs[i] = r.Emotional
		stress += min(1, memory.SumSquares(r.Emotional)/100)
	}
	return memory.Mean(vecs...), stress / float64(len(recs))
}
