// Package events carries memory traffic over Redis Streams: replay and
// scaling commands for a remote substrate, session and dream
// notifications, and encoder frames ingested as episodes.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// StreamSessions receives a SessionFinished event per sleep session.
	StreamSessions = "memory:sessions"
	// StreamDreams receives a DreamGenerated event per dream.
	StreamDreams = "memory:dreams"
)

// Event kinds.
const (
	KindSessionFinished = "session_finished"
	KindDreamGenerated  = "dream_generated"
	KindReplay          = "replay"
	KindReinforce       = "reinforce"
	KindScale           = "scale"
)

// Event is the envelope written to every stream.
type Event struct {
	ID        string          `json:"id,omitempty"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Bus publishes and consumes events via Redis Streams.
type Bus struct {
	rdb        *redis.Client
	maxLen     int64
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewBus connects to redisURL and verifies the connection.
func NewBus(ctx context.Context, redisURL string, logger *zap.Logger) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewBusWithClient(rdb, logger), nil
}

// NewBusWithClient wraps an existing client.
func NewBusWithClient(rdb *redis.Client, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{rdb: rdb, maxLen: 10000, retryDelay: time.Second, logger: logger}
}

func newEvent(kind string, payload any, now time.Time) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Event{Kind: kind, Payload: data, Timestamp: now}, nil
}

// Publish appends an event built from payload to stream. Streams are
// trimmed approximately to the newest entries.
func (b *Bus) Publish(ctx context.Context, stream, kind string, payload any) error {
	ev, err := newEvent(kind, payload, time.Now())
	if err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}
	b.logger.Debug("published event", zap.String("stream", stream), zap.String("kind", kind))
	return nil
}

// Subscribe reads new entries of stream until ctx is cancelled. Failed
// reads are retried after a delay. The channel is closed when reading stops.
func (b *Bus) Subscribe(ctx context.Context, stream string) <-chan Event {
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		lastID := "$"
		for {
			if ctx.Err() != nil {
				return
			}
			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if !errors.Is(err, redis.Nil) {
					b.logger.Warn("stream read failed", zap.String("stream", stream), zap.Error(err))
					select {
					case <-time.After(b.retryDelay):
					case <-ctx.Done():
						return
					}
				}
				continue
			}
			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var ev Event
					if json.Unmarshal([]byte(data), &ev) != nil {
						continue
					}
					ev.ID = msg.ID
					select {
					case ch <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return ch
}

// Close shuts down the Redis connection.
func (b *Bus) Close() error {
	return b.rdb.Close()
}
