package semantic

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/nidhogg/nuka-memory/internal/memory"
)

// ConceptType categorizes a concept node.
type ConceptType int

const (
	TypeObject ConceptType = iota
	TypeAction
	TypeProperty
	TypeRelation
	TypeAbstract
	TypeComposite
)

var typeNames = map[ConceptType]string{
	TypeObject:    "object",
	TypeAction:    "action",
	TypeProperty:  "property",
	TypeRelation:  "relation",
	TypeAbstract:  "abstract",
	TypeComposite: "composite",
}

func (t ConceptType) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// MarshalText renders the type name.
func (t ConceptType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses a type name.
func (t *ConceptType) UnmarshalText(b []byte) error {
	p, err := ParseConceptType(string(b))
	if err != nil {
		return err
	}
	*t = p
	return nil
}

// ParseConceptType maps a name to a ConceptType.
func ParseConceptType(s string) (ConceptType, error) {
	for t, n := range typeNames {
		if strings.EqualFold(n, s) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown concept type %q", s)
}

// defaultAbstraction places fresh concepts on the abstraction ladder.
func defaultAbstraction(t ConceptType) float64 {
	switch t {
	case TypeObject:
		return 0.2
	case TypeAction:
		return 0.3
	case TypeProperty:
		return 0.4
	case TypeComposite:
		return 0.5
	case TypeRelation:
		return 0.6
	case TypeAbstract:
		return 0.8
	}
	return 0.5
}

// Concept is a node of the semantic graph. Related holds neighbor ids with
// per-edge strength, so every relation always carries a strength.
type Concept struct {
	ID          uint64             `json:"id"`
	Label       string             `json:"label"`
	Description string             `json:"description,omitempty"`
	Type        ConceptType        `json:"type"`
	Features    []float64          `json:"features"`
	Abstraction float64            `json:"abstraction"`
	Strength    float64            `json:"strength"`
	Certainty   float64            `json:"certainty"`
	Support     float64            `json:"support"`
	CreatedAt   time.Time          `json:"created_at"`
	LastAccess  time.Time          `json:"last_access"`
	AccessCount int                `json:"access_count"`
	Related     map[uint64]float64 `json:"related,omitempty"`
	Parents     []uint64           `json:"parents,omitempty"`
	Children    []uint64           `json:"children,omitempty"`
}

func (c *Concept) clone() Concept {
	out := *c
	out.Features = memory.Clone(c.Features)
	out.Related = maps.Clone(c.Related)
	out.Parents = slices.Clone(c.Parents)
	out.Children = slices.Clone(c.Children)
	return out
}

// keywords returns the unique index tokens of a concept.
func (c *Concept) keywords() []string {
	toks := memory.Tokenize(c.Label + " " + c.Description)
	slices.Sort(toks)
	return slices.Compact(toks)
}

// retention scores a concept for capacity eviction.
func (c *Concept) retention() float64 {
	return c.Strength + 0.5*c.Certainty + 0.5*min(1, float64(c.AccessCount)/10)
}

// similarity blends feature cosine (70%), type agreement (20%) and
// abstraction proximity (10%).
func similarity(a, b *Concept) float64 {
	same := 0.0
	if a.Type == b.Type {
		same = 1
	}
	return 0.7*memory.Cosine(a.Features, b.Features) + 0.2*same + 0.1*(1-abs(a.Abstraction-b.Abstraction))
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func addUnique(ids []uint64, id uint64) []uint64 {
	if slices.Contains(ids, id) {
		return ids
	}
	return append(ids, id)
}

func removeID(ids []uint64, id uint64) []uint64 {
	return slices.DeleteFunc(ids, func(x uint64) bool { return x == id })
}
