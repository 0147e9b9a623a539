package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nidhogg/nuka-memory/internal/memory"
	"go.uber.org/zap"
)

// KindFrame marks an encoder frame on the ingest stream.
const KindFrame = "frame"

// Frame is one encoded experience produced by an upstream encoder.
type Frame struct {
	Context   string    `json:"context"`
	Sensory   []float64 `json:"sensory"`
	Emotional []float64 `json:"emotional,omitempty"`
	Narrative string    `json:"narrative,omitempty"`
	// Attend also places the frame in working memory.
	Attend bool `json:"attend,omitempty"`
}

// EpisodeSink receives ingested frames.
type EpisodeSink interface {
	StoreEpisode(context string, sensory, emotional []float64, narrative string) (memory.Ref, bool)
	AddWorkingItem(label string, features []float64) (memory.Ref, bool)
}

var errEmptyFrame = errors.New("frame without sensory vector")

func decodeFrame(ev Event) (Frame, error) {
	var f Frame
	if ev.Kind != KindFrame {
		return f, fmt.Errorf("unexpected event kind %q", ev.Kind)
	}
	if err := json.Unmarshal(ev.Payload, &f); err != nil {
		return f, fmt.Errorf("decode frame: %w", err)
	}
	if len(f.Sensory) == 0 {
		return f, errEmptyFrame
	}
	return f, nil
}

// Ingest stores every frame read from stream until ctx is cancelled and
// returns the number of stored episodes. Malformed frames are skipped.
func (b *Bus) Ingest(ctx context.Context, stream string, sink EpisodeSink) int {
	return consume(b.Subscribe(ctx, stream), sink, b.logger)
}

func consume(events <-chan Event, sink EpisodeSink, logger *zap.Logger) int {
	n := 0
	for ev := range events {
		f, err := decodeFrame(ev)
		if err != nil {
			logger.Warn("frame skipped", zap.String("id", ev.ID), zap.Error(err))
			continue
		}
		if _, ok := sink.StoreEpisode(f.Context, f.Sensory, f.Emotional, f.Narrative); !ok {
			continue
		}
		if f.Attend {
			sink.AddWorkingItem(f.Context, f.Sensory)
		}
		n++
	}
	return n
}
