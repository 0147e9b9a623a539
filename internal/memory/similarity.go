package memory

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// Field weights for TextMatch. Labels are the context tag of an episode, the
// label of a concept or working item and the name of a skill.
const (
	labelWeight  = 1.0
	bodyWeight   = 0.6
	prefixFactor = 0.5
)

var stopwords = map[string]struct{}{
	"an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "in": {}, "is": {}, "it": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "with": {},
}

// TextMatch scores how well query terms cover a memory's label and body
// text, in [0,1]. A term found in the label counts fully, one found only in
// the body counts bodyWeight. A term that is only a prefix of a word
// (apple, apples) counts prefixFactor of its field weight.
func TextMatch(terms []string, label, body string) float64 {
	terms = uniqueTerms(terms)
	if len(terms) == 0 {
		return 0
	}
	labelToks := Tokenize(label)
	bodyToks := Tokenize(body)

	var score float64
	for _, t := range terms {
		score += max(
			labelWeight*termHit(t, labelToks),
			bodyWeight*termHit(t, bodyToks),
		)
	}
	return Clamp01(score / float64(len(terms)))
}

// termHit is 1 for an exact token, prefixFactor when t prefixes a token.
func termHit(t string, toks []string) float64 {
	hit := 0.0
	for _, w := range toks {
		if w == t {
			return 1
		}
		if len(t) >= 3 && strings.HasPrefix(w, t) {
			hit = prefixFactor
		}
	}
	return hit
}

func uniqueTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := terms[:0:0]
	for _, t := range terms {
		t = strings.ToLower(t)
		if _, ok := seen[t]; ok || t == "" {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Tokenize splits text into lowercase letter/digit words, dropping single
// characters and common stopwords.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Scored pairs an identifier with a ranking score.
type Scored[K comparable] struct {
	ID    K
	Score float64
}

// SortScored sorts by score descending. Ties keep the lower id first when
// ids are ordered, so rankings are stable across calls.
func SortScored[K interface{ ~uint64 | ~int | ~string }](items []Scored[K]) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ID < items[j].ID
	})
}

// Lowest returns the key whose value has the lowest score. Ties go to the
// smaller key, which for sequence ids is the oldest entry.
// ok is false for an empty map.
func Lowest[K interface{ ~uint64 | ~int | ~string }, V any](m map[K]V, score func(V) float64) (key K, ok bool) {
	best := math.Inf(1)
	for k, v := range m {
		s := score(v)
		if !ok || s < best || (s == best && k < key) {
			key, best, ok = k, s, true
		}
	}
	return key, ok
}
