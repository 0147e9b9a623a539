// Package graph mirrors the semantic concept graph into Neo4j and runs
// spreading activation over it.
package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/nidhogg/nuka-memory/internal/semantic"
	"go.uber.org/zap"
)

// Store handles Neo4j operations for the concept mirror.
type Store struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewStore creates a Neo4j-backed store.
func NewStore(uri, user, password string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Store{driver: driver, logger: logger}, nil
}

// Close shuts down the driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// EnsureSchema creates the uniqueness constraint on concept ids.
func (s *Store) EnsureSchema(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)
	_, err := session.Run(ctx,
		`CREATE CONSTRAINT concept_id IF NOT EXISTS FOR (c:Concept) REQUIRE c.id IS UNIQUE`, nil)
	if err != nil {
		return fmt.Errorf("create concept constraint: %w", err)
	}
	return nil
}

// rows flattens concepts into Cypher parameters. Relations are symmetric
// in memory, so only the edge with the smaller id first is emitted.
func rows(concepts []semantic.Concept) (nodes, related, isA []map[string]any) {
	for _, c := range concepts {
		nodes = append(nodes, map[string]any{
			"id":          int64(c.ID),
			"label":       c.Label,
			"description": c.Description,
			"type":        c.Type.String(),
			"abstraction": c.Abstraction,
			"strength":    c.Strength,
			"certainty":   c.Certainty,
		})
		for other, w := range c.Related {
			if c.ID < other {
				related = append(related, map[string]any{
					"from":   int64(c.ID),
					"to":     int64(other),
					"weight": w,
				})
			}
		}
		for _, p := range c.Parents {
			isA = append(isA, map[string]any{"child": int64(c.ID), "parent": int64(p)})
		}
	}
	return nodes, related, isA
}

// SyncConcepts upserts every concept and edge, then deletes concept nodes
// that are no longer present.
func (s *Store) SyncConcepts(ctx context.Context, concepts []semantic.Concept) error {
	start := time.Now()
	nodes, related, isA := rows(concepts)
	ids := make([]int64, len(concepts))
	for i, c := range concepts {
		ids[i] = int64(c.ID)
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx,
			`UNWIND $nodes AS n
			 MERGE (c:Concept {id: n.id})
			 SET c.label = n.label, c.description = n.description, c.type = n.type,
			     c.abstraction = n.abstraction, c.strength = n.strength,
			     c.certainty = n.certainty, c.synced_at = datetime()`,
			map[string]any{"nodes": nodes}); err != nil {
			return nil, err
		}
		if _, err := tx.Run(ctx,
			`MATCH (c:Concept) WHERE NOT c.id IN $ids DETACH DELETE c`,
			map[string]any{"ids": ids}); err != nil {
			return nil, err
		}
		if _, err := tx.Run(ctx,
			`UNWIND $edges AS e
			 MATCH (a:Concept {id: e.from}), (b:Concept {id: e.to})
			 MERGE (a)-[r:RELATED_TO]-(b)
			 SET r.weight = e.weight`,
			map[string]any{"edges": related}); err != nil {
			return nil, err
		}
		_, err := tx.Run(ctx,
			`UNWIND $edges AS e
			 MATCH (c:Concept {id: e.child}), (p:Concept {id: e.parent})
			 MERGE (c)-[r:IS_A]->(p)
			 SET r.weight = 1.0`,
			map[string]any{"edges": isA})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("sync concepts: %w", err)
	}
	s.logger.Debug("concept graph synced",
		zap.Int("concepts", len(nodes)),
		zap.Int("relations", len(related)),
		zap.Int("hierarchy", len(isA)),
		zap.Duration("duration", time.Since(start)))
	return nil
}
