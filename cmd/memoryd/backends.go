package main

import (
	"context"
	"sync"
	"time"

	"github.com/nidhogg/nuka-memory/internal/config"
	"github.com/nidhogg/nuka-memory/internal/events"
	"github.com/nidhogg/nuka-memory/internal/gateway"
	"github.com/nidhogg/nuka-memory/internal/graph"
	"github.com/nidhogg/nuka-memory/internal/integrator"
	"github.com/nidhogg/nuka-memory/internal/journal"
	"github.com/nidhogg/nuka-memory/internal/memory"
	"github.com/nidhogg/nuka-memory/internal/sleep"
	"github.com/nidhogg/nuka-memory/internal/substrate"
	"github.com/nidhogg/nuka-memory/internal/vectorstore"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const persistTimeout = 30 * time.Second

// backends holds the optional external services. A nil field means the
// service is not configured or could not be reached.
type backends struct {
	journal     *journal.Store
	graph       *graph.Store
	index       *vectorstore.Client
	bus         *events.Bus
	broadcaster *gateway.Broadcaster
	wg          sync.WaitGroup
	logger      *zap.Logger
}

func connectBackends(ctx context.Context, cfg *config.Config, logger *zap.Logger) *backends {
	b := &backends{logger: logger}
	db := cfg.Database

	if db.Postgres.DSN != "" {
		js, err := journal.New(ctx, db.Postgres.DSN, logger)
		if err != nil {
			logger.Warn("PostgreSQL unavailable, running without dream journal", zap.Error(err))
		} else if err := js.Migrate(ctx); err != nil {
			logger.Fatal("migration failed", zap.Error(err))
		} else {
			b.journal = js
		}
	}

	if db.Neo4j.URI != "" {
		gs, err := graph.NewStore(db.Neo4j.URI, db.Neo4j.User, db.Neo4j.Password, logger)
		if err == nil {
			err = gs.Ping(ctx)
		}
		if err == nil {
			err = gs.EnsureSchema(ctx)
		}
		if err != nil {
			logger.Warn("Neo4j unavailable, running without concept graph", zap.Error(err))
		} else {
			b.graph = gs
		}
	}

	if db.Qdrant.Host != "" {
		vc, err := vectorstore.NewClient(vectorstore.Config{
			Host:       db.Qdrant.Host,
			Port:       db.Qdrant.Port,
			Collection: db.Qdrant.Collection,
			Dimension:  db.Qdrant.Dimension,
		}, logger)
		if err == nil {
			err = vc.EnsureCollection(ctx)
		}
		if err != nil {
			logger.Warn("Qdrant unavailable, running without episode index", zap.Error(err))
		} else {
			b.index = vc
		}
	}

	if db.Redis.URL != "" {
		bus, err := events.NewBus(ctx, db.Redis.URL, logger)
		if err != nil {
			logger.Warn("Redis unavailable, running without event bus", zap.Error(err))
		} else {
			b.bus = bus
		}
	}

	gw := cfg.Gateway
	if gw.Slack.Enabled || gw.Discord.Enabled {
		b.broadcaster = gateway.NewBroadcaster(0, logger)
	}
	if gw.Slack.Enabled {
		b.broadcaster.Register(gateway.NewSlackNotifier(gw.Slack.BotToken, gw.Slack.Channel, logger))
	}
	if gw.Discord.Enabled {
		dn, err := gateway.NewDiscordNotifier(gw.Discord.BotToken, gw.Discord.ChannelID, logger)
		if err != nil {
			logger.Warn("discord notifier disabled", zap.Error(err))
		} else {
			b.broadcaster.Register(dn)
		}
	}
	return b
}

// substrate picks the learning system and replay target. Redis mode falls
// back to the in-process loopback when the bus is down.
func (b *backends) substrate(cfg *config.Config, logger *zap.Logger) (memory.LearningSystem, memory.Substrate) {
	if cfg.Substrate.Mode == "redis" && b.bus != nil {
		r := events.NewRemoteSubstrate(b.bus, cfg.Substrate.Stream, cfg.Substrate.Loopback.Region, logger)
		logger.Info("replays streamed to redis", zap.String("stream", cfg.Substrate.Stream))
		return r, r
	}
	if cfg.Substrate.Mode == "redis" {
		logger.Warn("redis substrate requested without a bus, using loopback")
	}
	l := substrate.NewLoopback(cfg.Substrate.Loopback, logger)
	return l, l
}

// persist mirrors a finished session into every configured backend in the
// background. Failures are logged and never reach the session.
func (b *backends) persist(mem *integrator.Integrator, r sleep.Report) {
	if b.journal == nil && b.graph == nil && b.index == nil && b.bus == nil {
		return
	}
	concepts := mem.Semantic()
	episodes := mem.Episodic()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		g, ctx := errgroup.WithContext(ctx)
		if b.journal != nil {
			g.Go(func() error { return b.journal.RecordSession(ctx, r) })
		}
		if b.graph != nil && concepts != nil {
			g.Go(func() error { return b.graph.SyncConcepts(ctx, concepts.Concepts()) })
		}
		if b.index != nil && episodes != nil {
			g.Go(func() error { return b.index.IndexEpisodes(ctx, episodes.Episodes()) })
		}
		if b.bus != nil {
			g.Go(func() error { return b.bus.PublishSession(ctx, r) })
		}
		if err := g.Wait(); err != nil {
			b.logger.Warn("session persistence incomplete",
				zap.String("session", r.ID),
				zap.Error(err))
		}
	}()
}

func (b *backends) wait() {
	b.wg.Wait()
}

func (b *backends) close() {
	ctx := context.Background()
	if b.broadcaster != nil {
		b.broadcaster.Close()
	}
	if b.journal != nil {
		b.journal.Close()
	}
	if b.graph != nil {
		b.graph.Close(ctx)
	}
	if b.index != nil {
		b.index.Close()
	}
	if b.bus != nil {
		b.bus.Close()
	}
}
