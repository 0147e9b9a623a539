package graph

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// ActivationOpts controls spreading activation behavior.
type ActivationOpts struct {
	MaxDepth    int     // max hops, default 3
	DecayFactor float64 // per-hop decay, default 0.7
	Threshold   float64 // min activation to recall, default 0.3
	MaxNodes    int     // max recalled nodes, default 50
}

// DefaultActivationOpts returns sensible defaults.
func DefaultActivationOpts() ActivationOpts {
	return ActivationOpts{
		MaxDepth:    3,
		DecayFactor: 0.7,
		Threshold:   0.3,
		MaxNodes:    50,
	}
}

func (o ActivationOpts) withDefaults() ActivationOpts {
	d := DefaultActivationOpts()
	if o.MaxDepth <= 0 {
		o.MaxDepth = d.MaxDepth
	}
	if o.DecayFactor <= 0 || o.DecayFactor > 1 {
		o.DecayFactor = d.DecayFactor
	}
	if o.Threshold <= 0 {
		o.Threshold = d.Threshold
	}
	if o.MaxNodes <= 0 {
		o.MaxNodes = d.MaxNodes
	}
	return o
}

// ActivatedConcept is a concept recalled by spreading activation.
type ActivatedConcept struct {
	ID         uint64  `json:"id"`
	Label      string  `json:"label"`
	Type       string  `json:"type"`
	Activation float64 `json:"activation"`
}

// ActivationResult holds the output of a spreading activation pass.
type ActivationResult struct {
	Concepts []ActivatedConcept `json:"concepts"`
	Duration time.Duration      `json:"duration"`
}

// activationQuery walks up to depth hops from the seed concepts and keeps
// the best decayed path weight per reached concept.
func activationQuery(depth int) string {
	return `
		MATCH (seed:Concept) WHERE seed.id IN $seeds
		MATCH path = (seed)-[:RELATED_TO|IS_A*1..` + strconv.Itoa(depth) + `]-(node:Concept)
		WHERE NOT node.id IN $seeds
		WITH node, $decay ^ toFloat(length(path)) *
		     reduce(w = 1.0, r IN relationships(path) | w * coalesce(r.weight, 0.5)) AS activation
		WITH node, max(activation) AS activation
		WHERE activation > $threshold
		RETURN node.id AS id, node.label AS label, node.type AS type, activation
		ORDER BY activation DESC, id ASC
		LIMIT $maxNodes`
}

// Activate spreads activation from the seed concept ids.
func (s *Store) Activate(ctx context.Context, seeds []uint64, opts ActivationOpts) (*ActivationResult, error) {
	start := time.Now()
	opts = opts.withDefaults()
	ids := make([]int64, len(seeds))
	for i, id := range seeds {
		ids[i] = int64(id)
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, activationQuery(opts.MaxDepth), map[string]any{
		"seeds":     ids,
		"decay":     opts.DecayFactor,
		"threshold": opts.Threshold,
		"maxNodes":  opts.MaxNodes,
	})
	if err != nil {
		return nil, fmt.Errorf("spreading activation: %w", err)
	}

	ar := &ActivationResult{}
	for result.Next(ctx) {
		rec := result.Record()
		var c ActivatedConcept
		if v, ok := rec.Get("id"); ok && v != nil {
			c.ID = uint64(v.(int64))
		}
		if v, ok := rec.Get("label"); ok && v != nil {
			c.Label = v.(string)
		}
		if v, ok := rec.Get("type"); ok && v != nil {
			c.Type = v.(string)
		}
		if v, ok := rec.Get("activation"); ok && v != nil {
			c.Activation = v.(float64)
		}
		ar.Concepts = append(ar.Concepts, c)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("read activation result: %w", err)
	}

	ar.Duration = time.Since(start)
	s.logger.Debug("spreading activation complete",
		zap.Int("seeds", len(seeds)),
		zap.Int("recalled", len(ar.Concepts)),
		zap.Duration("duration", ar.Duration))
	return ar, nil
}
