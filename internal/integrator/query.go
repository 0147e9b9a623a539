package integrator

import (
	"context"
	"sort"
	"strings"

	"github.com/nidhogg/nuka-memory/internal/memory"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Query describes a cross-store lookup. Either Text or Features (or both)
// must be set. An empty Systems list means every enabled store.
type Query struct {
	Text     string          `json:"text"`
	Features []float64       `json:"features,omitempty"`
	K        int             `json:"k"`
	Systems  []memory.System `json:"systems,omitempty"`
}

// Result is a ranked hit from any store.
type Result struct {
	Ref     memory.Ref `json:"ref"`
	Label   string     `json:"label"`
	Score   float64    `json:"score"`
	Snippet string     `json:"snippet,omitempty"`
}

const defaultK = 10

// relevance combines a keyword match and a feature cosine. Hits with no
// overlap at all are reported as misses.
func relevance(q Query, keywords []string, label, text string, features []float64) (float64, bool) {
	var sum float64
	n := 0
	if q.Text != "" {
		lt := strings.ToLower(q.Text)
		m := memory.TextMatch(keywords, label, text)
		if strings.Contains(strings.ToLower(label), lt) || strings.Contains(strings.ToLower(text), lt) {
			m = 1
		}
		sum += m
		n++
	}
	if len(q.Features) > 0 && len(features) > 0 {
		sum += max(0, memory.Cosine(q.Features, features))
		n++
	}
	if n == 0 || sum <= 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func (q Query) wants(s memory.System) bool {
	if len(q.Systems) == 0 {
		return true
	}
	for _, x := range q.Systems {
		if x == s {
			return true
		}
	}
	return false
}

// QueryAllSystems fans out to every enabled store in parallel and merges
// the hits by score. Stores that miss the query timeout contribute nothing.
func (in *Integrator) QueryAllSystems(ctx context.Context, q Query) []Result {
	if q.Text == "" && len(q.Features) == 0 {
		return nil
	}
	if q.K <= 0 {
		q.K = defaultK
	}
	ctx, cancel := context.WithTimeout(ctx, in.cfg.QueryTimeout)
	defer cancel()

	keywords := memory.Tokenize(strings.ToLower(q.Text))
	var searches []func(context.Context) ([]Result, error)
	if in.working != nil && q.wants(memory.SystemWorking) {
		searches = append(searches, func(ctx context.Context) ([]Result, error) {
			return in.queryWorking(ctx, q, keywords)
		})
	}
	if in.episodic != nil && q.wants(memory.SystemEpisodic) {
		searches = append(searches, func(ctx context.Context) ([]Result, error) {
			return in.queryEpisodic(ctx, q, keywords)
		})
	}
	if in.semantic != nil && q.wants(memory.SystemSemantic) {
		searches = append(searches, func(ctx context.Context) ([]Result, error) {
			return in.querySemantic(ctx, q, keywords)
		})
	}
	if in.procedural != nil && q.wants(memory.SystemProcedural) {
		searches = append(searches, func(ctx context.Context) ([]Result, error) {
			return in.queryProcedural(ctx, q, keywords)
		})
	}

	parts := make([][]Result, len(searches))
	g, gctx := errgroup.WithContext(ctx)
	for i, search := range searches {
		g.Go(func() error {
			res, err := search(gctx)
			parts[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		in.logger.Warn("memory query incomplete", zap.String("text", q.Text), zap.Error(err))
	}

	var out []Result
	for _, p := range parts {
		out = append(out, p...)
	}
	rank(out)
	if len(out) > q.K {
		out = out[:q.K]
	}
	return out
}

func rank(rs []Result) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Score != rs[j].Score {
			return rs[i].Score > rs[j].Score
		}
		if rs[i].Ref.System != rs[j].Ref.System {
			return rs[i].Ref.System < rs[j].Ref.System
		}
		return rs[i].Ref.ID < rs[j].Ref.ID
	})
}

func (in *Integrator) queryWorking(ctx context.Context, q Query, keywords []string) ([]Result, error) {
	var out []Result
	for _, it := range in.working.Items() {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		r, ok := relevance(q, keywords, it.Label, "", it.Features)
		if !ok {
			continue
		}
		out = append(out, Result{
			Ref:   memory.Ref{System: memory.SystemWorking, ID: it.ID},
			Label: it.Label,
			Score: 0.8*r + 0.2*it.Activation,
		})
	}
	return out, nil
}

func (in *Integrator) queryEpisodic(ctx context.Context, q Query, keywords []string) ([]Result, error) {
	var out []Result
	for _, rec := range in.episodic.Episodes() {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		r, ok := relevance(q, keywords, rec.Context, rec.Narrative, rec.Sensory)
		if !ok {
			continue
		}
		out = append(out, Result{
			Ref:     memory.Ref{System: memory.SystemEpisodic, ID: rec.ID},
			Label:   rec.Context,
			Score:   0.7*r + 0.2*rec.Salience + 0.1*rec.Trace.Activation,
			Snippet: rec.Narrative,
		})
	}
	return out, nil
}

func (in *Integrator) querySemantic(ctx context.Context, q Query, keywords []string) ([]Result, error) {
	var out []Result
	for _, c := range in.semantic.Concepts() {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		r, ok := relevance(q, keywords, c.Label, c.Description, c.Features)
		if !ok {
			continue
		}
		out = append(out, Result{
			Ref:     memory.Ref{System: memory.SystemSemantic, ID: c.ID},
			Label:   c.Label,
			Score:   0.8*r + 0.2*c.Strength,
			Snippet: c.Description,
		})
	}
	return out, nil
}

func (in *Integrator) queryProcedural(ctx context.Context, q Query, keywords []string) ([]Result, error) {
	var out []Result
	for _, s := range in.procedural.Skills() {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		steps := strings.Join(s.Actions, " ")
		r, ok := relevance(q, keywords, s.Name, steps, s.MotorPattern)
		if !ok {
			continue
		}
		out = append(out, Result{
			Ref:     memory.Ref{System: memory.SystemProcedural, ID: s.ID},
			Label:   s.Name,
			Score:   0.8*r + 0.2*s.Proficiency,
			Snippet: steps,
		})
	}
	return out, nil
}

// RetrieveWithContext runs q and boosts hits linked to whatever matches
// contextLabel. Links used for a boost are marked as used.
func (in *Integrator) RetrieveWithContext(ctx context.Context, q Query, contextLabel string) []Result {
	k := q.K
	if k <= 0 {
		k = defaultK
	}
	q.K = 4 * k
	results := in.QueryAllSystems(ctx, q)
	if contextLabel == "" || len(results) == 0 {
		return trim(results, k)
	}
	anchors := in.QueryAllSystems(ctx, Query{Text: contextLabel, K: k})
	if len(anchors) == 0 {
		return trim(results, k)
	}

	now := in.now()
	in.mu.Lock()
	for i := range results {
		for _, a := range anchors {
			l := in.linkLocked(a.Ref, results[i].Ref)
			if l == nil {
				l = in.linkLocked(results[i].Ref, a.Ref)
			}
			if l == nil {
				continue
			}
			results[i].Score += 0.5 * l.Strength * a.Score
			l.LastUsed = now
		}
	}
	in.mu.Unlock()

	rank(results)
	return trim(results, k)
}

func trim(rs []Result, k int) []Result {
	if len(rs) > k {
		return rs[:k]
	}
	return rs
}
