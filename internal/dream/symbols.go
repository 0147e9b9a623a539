package dream

import (
	"fmt"
	"strings"

	"github.com/nidhogg/nuka-memory/internal/memory"
)

// Symbol is an archetypal image that may surface in a dream. Vector is a
// small affective signature: arousal, valence, openness, threat.
type Symbol struct {
	Name    string
	Meaning string
	Vector  []float64
}

// Vocabulary is the fixed symbol set used for injection.
var Vocabulary = []Symbol{
	{"water", "emotion and the unconscious", []float64{0.3, 0.2, 0.6, 0.1}},
	{"flight", "freedom and escape", []float64{0.8, 0.7, 0.9, 0.1}},
	{"falling", "loss of control", []float64{0.9, -0.6, 0.2, 0.7}},
	{"door", "opportunity and transition", []float64{0.4, 0.3, 0.8, 0.2}},
	{"mirror", "self reflection", []float64{0.3, 0.0, 0.5, 0.2}},
	{"labyrinth", "confusion and search", []float64{0.6, -0.3, 0.4, 0.5}},
	{"light", "understanding", []float64{0.5, 0.8, 0.7, 0.0}},
	{"shadow", "the hidden self", []float64{0.6, -0.5, 0.2, 0.6}},
	{"bridge", "connection between ideas", []float64{0.4, 0.5, 0.7, 0.1}},
	{"key", "a solution", []float64{0.5, 0.6, 0.8, 0.0}},
	{"storm", "turmoil", []float64{0.9, -0.7, 0.3, 0.8}},
	{"garden", "growth", []float64{0.2, 0.7, 0.6, 0.0}},
}

// injectSymbols draws symbols at SymbolRate. Nightmares favour threatening
// symbols and problem-solving dreams favour resolving ones.
func (p *Processor) injectSymbols(cfg Config, n *Narrative) {
	var vecs [][]float64
	for _, s := range Vocabulary {
		rate := cfg.SymbolRate
		threat := s.Vector[3]
		switch n.Type {
		case Nightmare:
			rate *= 1 + 2*threat
		case ProblemSolving, Creative:
			rate *= 1 + max(0, s.Vector[1])
		}
		if p.rnd.Float64() < min(1, rate) {
			n.Symbols = append(n.Symbols, s.Name)
			vecs = append(vecs, s.Vector)
		}
	}
	if len(vecs) > 0 {
		n.Symbolic = memory.Mean(vecs...)
	}
}

var templates = map[Type][]string{
	Episodic: {
		"I was back in %s, but everything was slightly wrong.",
		"The day replayed itself in %s, faster and stranger.",
	},
	Creative: {
		"%s melted into one another and became something new.",
		"A machine built out of %s started to hum.",
	},
	ProblemSolving: {
		"I kept turning the puzzle over while %s drifted past.",
		"Somewhere between %s the answer almost made sense.",
	},
	Emotional: {
		"The feeling from %s came back, louder than before.",
		"Everyone in %s was waiting for me to say something.",
	},
	Nightmare: {
		"Something followed me through %s and I could not run.",
		"%s collapsed and I was falling with it.",
	},
	Lucid: {
		"I realised I was dreaming while thinking about %s, and I could steer.",
		"Holding %s in mind, I chose where the dream would go.",
	},
	Semantic: {
		"A voice explained how %s all fit together.",
		"I was reading a book whose chapters were %s.",
	},
}

// render builds the narrative text from a type template, the source
// fragments, any problem hints and the injected symbols.
func (p *Processor) render(n *Narrative, mat *material) string {
	frags := fragments(n, mat)
	subject := "somewhere unfamiliar"
	if len(frags) > 0 {
		subject = joinList(frags)
	}
	tpl := templates[n.Type]
	var b strings.Builder
	b.WriteString(fmt.Sprintf(tpl[p.rnd.Intn(len(tpl))], subject))

	if n.Type == ProblemSolving && mat.problem != nil && len(mat.problem.hints) > 0 {
		b.WriteString(" A clue kept repeating: ")
		b.WriteString(mat.problem.hints[p.rnd.Intn(len(mat.problem.hints))])
		b.WriteString(".")
	}
	for _, name := range n.Symbols {
		for _, s := range Vocabulary {
			if s.Name == name {
				b.WriteString(fmt.Sprintf(" There was %s, %s.", withArticle(s.Name), s.Meaning))
			}
		}
	}
	return b.String()
}

// fragments collects human-readable names of the dream's sources.
func fragments(n *Narrative, mat *material) []string {
	episodes := make(map[uint64]string, len(mat.episodes))
	for _, e := range mat.episodes {
		episodes[e.ID] = e.Context
	}
	concepts := make(map[uint64]string, len(mat.concepts))
	for _, c := range mat.concepts {
		concepts[c.ID] = c.Label
	}
	items := make(map[uint64]string, len(mat.items))
	for _, it := range mat.items {
		items[it.ID] = it.Label
	}

	var out []string
	seen := make(map[string]bool)
	for _, src := range n.Sources {
		var name string
		switch src.System {
		case memory.SystemEpisodic:
			name = episodes[src.ID]
		case memory.SystemSemantic:
			name = concepts[src.ID]
		case memory.SystemWorking:
			name = items[src.ID]
		}
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

func joinList(items []string) string {
	switch len(items) {
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	}
	return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
}

func withArticle(word string) string {
	if word == "" {
		return word
	}
	switch word[0] {
	case 'a', 'e', 'i', 'o', 'u':
		return "an " + word
	}
	return "a " + word
}
