package dream

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/nuka-memory/internal/episodic"
	"github.com/nidhogg/nuka-memory/internal/memory"
	"github.com/nidhogg/nuka-memory/internal/semantic"
	"github.com/nidhogg/nuka-memory/internal/working"
	"go.uber.org/zap"
)

// material is everything a dream may draw from, snapshotted up front.
type material struct {
	episodes  []episodic.Record
	concepts  []semantic.Concept
	items     []working.Item
	problem   *problem
	emotional []float64
	stress    float64
}

func (m *material) empty() bool {
	return len(m.episodes) == 0 && len(m.concepts) == 0 && len(m.items) == 0 &&
		m.problem == nil && len(m.emotional) == 0
}

// GenerateDream draws a dream type, builds its content from the stores and
// writes the result back into the substrate, the learning system and, for
// insightful dreams, semantic and working memory. Returns false when the
// stores are not registered or hold nothing to dream about.
func (p *Processor) GenerateDream(ctx context.Context, remDuration time.Duration, emotionalState []float64, stress float64) (Narrative, bool) {
	p.mu.RLock()
	ready := p.readyLocked()
	epi, sem, wm := p.episodic, p.semantic, p.working
	phase, sub, learn := p.phase, p.substrate, p.learning
	cfg := p.cfg
	var prob *problem
	if p.problem != nil {
		prob = &problem{vector: memory.Clone(p.problem.vector), hints: p.problem.hints}
	}
	p.mu.RUnlock()

	if !ready {
		p.logger.Warn("dream processor not ready: collaborators missing")
		return Narrative{}, false
	}

	mat := &material{
		episodes:  epi.Episodes(),
		concepts:  sem.Concepts(),
		items:     wm.Items(),
		problem:   prob,
		emotional: memory.Clone(emotionalState),
		stress:    memory.Clamp01(stress),
	}
	if mat.empty() {
		return Narrative{}, false
	}

	t := p.drawType(cfg, mat)
	n := p.compose(cfg, t, mat)
	n.ID = uuid.NewString()
	n.Timestamp = p.now()
	n.Duration = time.Duration(float64(remDuration) * (0.2 + 0.6*p.rnd.Float64()))

	if *cfg.SymbolicInjection {
		p.injectSymbols(cfg, &n)
	}
	if *cfg.GenerateText {
		n.Text = p.render(&n, mat)
	}
	n.Coherence = coherence(n.Sensory, n.Text)
	n.Creativity = creativity(n.Sensory, n.Sources)
	n.EmotionalIntensity = memory.Clamp01(memory.MeanAbs(n.Emotional))
	if t == Lucid {
		n.Coherence = memory.Clamp01(n.Coherence + 0.1)
	}

	replayPhase := memory.PhaseREM
	if phase != nil && phase.Phase() != memory.PhaseAwake {
		replayPhase = phase.Phase()
	}
	p.writeBack(ctx, cfg, &n, replayPhase, sub, learn, sem, wm)
	p.record(n)

	p.logger.Info("dream generated",
		zap.String("dream_id", n.ID),
		zap.Stringer("type", n.Type),
		zap.Int("sources", len(n.Sources)),
		zap.Float64("coherence", n.Coherence),
		zap.Float64("creativity", n.Creativity))
	return n, true
}

// drawType samples a dream type. Stress and strong emotion raise the
// nightmare weight; problem-solving needs a problem context.
func (p *Processor) drawType(cfg Config, mat *material) Type {
	intensity := memory.Clamp01(memory.MeanAbs(mat.emotional))
	weights := map[Type]float64{
		Nightmare: cfg.NightmareBase + cfg.StressWeight*mat.stress +
			cfg.EmotionWeight*max(0, intensity-cfg.HighEmotionThreshold),
		Lucid:     cfg.LucidProbability,
		Creative:  cfg.CreativeProbability,
		Emotional: cfg.EmotionalProbability,
		Semantic:  cfg.SemanticProbability,
	}
	if mat.problem != nil {
		weights[ProblemSolving] = cfg.ProblemSolvingProbability
	}
	if intensity > cfg.HighEmotionThreshold {
		weights[Emotional] *= 2
	}
	if len(mat.concepts) == 0 {
		weights[Creative], weights[Semantic] = 0, 0
	}
	if len(mat.items) == 0 {
		weights[Lucid] = 0
	}
	rest := 0.0
	for _, w := range weights {
		rest += w
	}
	weights[Episodic] = max(0.1, 1-rest)
	if len(mat.episodes) == 0 {
		weights[Episodic] = 0
	}

	total := 0.0
	for _, t := range Types {
		total += weights[t]
	}
	if total <= 0 {
		return Nightmare
	}
	x := p.rnd.Float64() * total
	for _, t := range Types {
		x -= weights[t]
		if x < 0 && weights[t] > 0 {
			return t
		}
	}
	for i := len(Types) - 1; i >= 0; i-- {
		if weights[Types[i]] > 0 {
			return Types[i]
		}
	}
	return Episodic
}

func (p *Processor) compose(cfg Config, t Type, mat *material) Narrative {
	n := Narrative{Type: t}
	switch t {
	case Episodic:
		eps := p.sampleEpisodes(mat.episodes, cfg.MaxSources)
		n.Sensory = p.noisy(meanSensory(eps), cfg.Distortion)
		n.Emotional = meanEmotional(eps)
		n.Sources = episodeRefs(eps)
	case Creative:
		cs := p.sampleConcepts(mat.concepts, max(2, cfg.MaxSources))
		vecs := make([][]float64, len(cs))
		for i, c := range cs {
			vecs[i] = c.Features
		}
		n.Sensory = p.noisy(memory.Mean(vecs...), cfg.CreativeNoise)
		n.Emotional = memory.Clone(mat.emotional)
		n.Sources = conceptRefs(cs)
	case ProblemSolving:
		n.Sensory = p.noisy(mat.problem.vector, cfg.ExplorationNoise)
		n.Emotional = memory.Scale(mat.emotional, 0.5)
		for _, c := range nearestConcepts(mat.concepts, mat.problem.vector, cfg.MaxSources) {
			n.Sources = append(n.Sources, memory.Ref{System: memory.SystemSemantic, ID: c.ID})
		}
	case Emotional, Nightmare:
		eps := mostEmotional(mat.episodes, cfg.MaxSources)
		amp := cfg.EmotionalAmplification
		if t == Nightmare {
			amp = cfg.NightmareAmplification
		}
		base := meanEmotional(eps)
		if len(base) == 0 {
			base = mat.emotional
		}
		n.Emotional = memory.Scale(base, amp)
		n.Sensory = p.noisy(meanSensory(eps), cfg.Distortion)
		n.Sources = episodeRefs(eps)
	case Lucid:
		focus := mat.items
		if len(focus) > cfg.MaxSources {
			focus = focus[:cfg.MaxSources]
		}
		vecs := make([][]float64, 0, len(focus)+1)
		for _, it := range focus {
			vecs = append(vecs, it.Features)
			n.Sources = append(n.Sources, memory.Ref{System: memory.SystemWorking, ID: it.ID})
		}
		eps := p.sampleEpisodes(mat.episodes, 1)
		if len(eps) > 0 {
			vecs = append(vecs, eps[0].Sensory)
			n.Sources = append(n.Sources, episodeRefs(eps)...)
		}
		n.Sensory = memory.Mean(vecs...)
		n.Emotional = memory.Clone(mat.emotional)
	case Semantic:
		cs := p.sampleConcepts(mat.concepts, cfg.MaxSources)
		vecs := make([][]float64, len(cs))
		for i, c := range cs {
			vecs[i] = c.Features
		}
		n.Sensory = memory.Mean(vecs...)
		n.Emotional = memory.Clone(mat.emotional)
		n.Sources = conceptRefs(cs)
	}
	return n
}

// writeBack replays the dream into the substrate, reinforces it and turns
// insightful creative or problem-solving dreams into concepts.
func (p *Processor) writeBack(ctx context.Context, cfg Config, n *Narrative, phase memory.Phase,
	sub memory.Substrate, learn memory.LearningSystem, sem SemanticStore, wm WorkingStore) {
	if len(n.Sensory) == 0 {
		return
	}
	if sub != nil {
		src := memory.Ref{}
		if len(n.Sources) > 0 {
			src = n.Sources[0]
		}
		err := sub.InjectReplay(ctx, memory.Replay{
			Pattern:  memory.Clone(n.Sensory),
			Speed:    1,
			Strength: memory.Clamp01(0.5 + 0.5*n.EmotionalIntensity),
			Phase:    phase,
			Source:   src,
		})
		if err != nil {
			p.logger.Warn("dream replay failed", zap.String("dream_id", n.ID), zap.Error(err))
		}
	}
	if learn != nil {
		if err := learn.ReinforcePattern(ctx, n.Sensory, 0.5*n.Coherence); err != nil {
			p.logger.Warn("dream reinforcement failed", zap.String("dream_id", n.ID), zap.Error(err))
		}
	}

	if n.Type != Creative && n.Type != ProblemSolving {
		return
	}
	ins := AnalyzeDream(*n)
	if max(n.Creativity, ins.ProblemSolving) < cfg.InsightThreshold {
		return
	}
	label := "insight:" + n.ID[:8]
	id := sem.CreateConcept(label, n.Sensory, semantic.TypeAbstract, n.Text)
	wm.AddItem(label, n.Sensory)
	n.Insight = &memory.Ref{System: memory.SystemSemantic, ID: id}
	p.logger.Info("dream insight formed", zap.String("label", label), zap.Uint64("concept", id))
}

func (p *Processor) noisy(v []float64, sigma float64) []float64 {
	out := memory.Clone(v)
	for i := range out {
		out[i] += p.rnd.NormFloat64() * sigma
	}
	return out
}

func (p *Processor) sampleEpisodes(eps []episodic.Record, k int) []episodic.Record {
	if len(eps) <= k {
		return eps
	}
	out := make([]episodic.Record, 0, k)
	for _, i := range p.rnd.Perm(len(eps))[:k] {
		out = append(out, eps[i])
	}
	return out
}

func (p *Processor) sampleConcepts(cs []semantic.Concept, k int) []semantic.Concept {
	if len(cs) <= k {
		return cs
	}
	out := make([]semantic.Concept, 0, k)
	for _, i := range p.rnd.Perm(len(cs))[:k] {
		out = append(out, cs[i])
	}
	return out
}

func mostEmotional(eps []episodic.Record, k int) []episodic.Record {
	sorted := append([]episodic.Record(nil), eps...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return memory.SumSquares(sorted[i].Emotional) > memory.SumSquares(sorted[j].Emotional)
	})
	if len(sorted) > k {
		sorted = sorted[:k]
	}
	return sorted
}

func nearestConcepts(cs []semantic.Concept, v []float64, k int) []semantic.Concept {
	sorted := append([]semantic.Concept(nil), cs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return memory.Cosine(sorted[i].Features, v) > memory.Cosine(sorted[j].Features, v)
	})
	if len(sorted) > k {
		sorted = sorted[:k]
	}
	return sorted
}

func meanSensory(eps []episodic.Record) []float64 {
	vecs := make([][]float64, len(eps))
	for i, e := range eps {
		vecs[i] = e.Sensory
	}
	return memory.Mean(vecs...)
}

func meanEmotional(eps []episodic.Record) []float64 {
	vecs := make([][]float64, len(eps))
	for i, e := range eps {
		vecs[i] = e.Emotional
	}
	return memory.Mean(vecs...)
}

func episodeRefs(eps []episodic.Record) []memory.Ref {
	out := make([]memory.Ref, len(eps))
	for i, e := range eps {
		out[i] = memory.Ref{System: memory.SystemEpisodic, ID: e.ID}
	}
	return out
}

func conceptRefs(cs []semantic.Concept) []memory.Ref {
	out := make([]memory.Ref, len(cs))
	for i, c := range cs {
		out[i] = memory.Ref{System: memory.SystemSemantic, ID: c.ID}
	}
	return out
}

// coherence rewards smooth content and a narrative of reasonable length.
func coherence(sensory []float64, text string) float64 {
	return memory.Clamp01(0.7/(1+memory.Variance(sensory)) + 0.3*min(1, float64(len(text))/240))
}

// creativity rewards varied content drawn from varied stores.
func creativity(sensory []float64, sources []memory.Ref) float64 {
	return memory.Clamp01(0.6*min(1, memory.Variance(sensory)) + 0.4*diversity(sources))
}

// diversity is the share of distinct stores among the sources, scaled so
// that drawing from two or more stores scores 1.
func diversity(sources []memory.Ref) float64 {
	if len(sources) == 0 {
		return 0
	}
	seen := make(map[memory.System]struct{})
	for _, s := range sources {
		seen[s.System] = struct{}{}
	}
	if len(seen) >= 2 {
		return 1
	}
	return min(1, float64(len(sources))/5) * 0.5
}
