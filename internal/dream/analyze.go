package dream

// Insights scores what a dream may be good for. All values are in [0,1].
type Insights struct {
	Novelty              float64 `json:"novelty"`
	ProblemSolving       float64 `json:"problem_solving"`
	EmotionalProcessing  float64 `json:"emotional_processing"`
	ConsolidationBenefit float64 `json:"consolidation_benefit"`
}

// AnalyzeDream derives insight scores from a narrative. It has no side
// effects.
func AnalyzeDream(n Narrative) Insights {
	var in Insights
	in.Novelty = clamp01(0.5*n.Creativity + 0.5*min(1, float64(len(n.Symbols))/3))

	switch n.Type {
	case ProblemSolving:
		in.ProblemSolving = 0.5 + 0.5*n.Coherence
	case Creative:
		in.ProblemSolving = 0.3 + 0.4*n.Creativity
	default:
		in.ProblemSolving = 0.2 * n.Creativity
	}

	switch n.Type {
	case Emotional, Nightmare:
		in.EmotionalProcessing = n.EmotionalIntensity * (0.5 + 0.5*n.Coherence)
	default:
		in.EmotionalProcessing = 0.3 * n.EmotionalIntensity
	}

	in.ConsolidationBenefit = 0.5*n.Coherence +
		0.3*min(1, float64(len(n.Sources))/5) +
		0.2*(1-n.EmotionalIntensity)

	in.ProblemSolving = clamp01(in.ProblemSolving)
	in.EmotionalProcessing = clamp01(in.EmotionalProcessing)
	in.ConsolidationBenefit = clamp01(in.ConsolidationBenefit)
	return in
}

func clamp01(x float64) float64 {
	return max(0, min(1, x))
}
