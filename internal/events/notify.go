package events

import (
	"context"
	"errors"
	"time"

	"github.com/nidhogg/nuka-memory/internal/dream"
	"github.com/nidhogg/nuka-memory/internal/sleep"
)

// SessionNotice is the payload of KindSessionFinished.
type SessionNotice struct {
	ID          string        `json:"id"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Stopped     bool          `json:"stopped"`
	Replays     int           `json:"replays"`
	Transferred int           `json:"transferred"`
	Dream       string        `json:"dream,omitempty"`
	Errors      int           `json:"errors"`
}

// NoticeFrom summarizes a session report.
func NoticeFrom(r sleep.Report) SessionNotice {
	n := SessionNotice{
		ID:          r.ID,
		StartedAt:   r.StartedAt,
		Duration:    r.Duration,
		Stopped:     r.Stopped,
		Replays:     r.Replays(),
		Transferred: r.Transferred,
		Errors:      len(r.Errors),
	}
	if r.Dream != nil {
		n.Dream = r.Dream.ID
	}
	return n
}

// PublishSession announces a finished session and its dream.
func (b *Bus) PublishSession(ctx context.Context, r sleep.Report) error {
	err := b.Publish(ctx, StreamSessions, KindSessionFinished, NoticeFrom(r))
	if r.Dream != nil {
		err = errors.Join(err, b.PublishDream(ctx, *r.Dream))
	}
	return err
}

// PublishDream announces a dream.
func (b *Bus) PublishDream(ctx context.Context, n dream.Narrative) error {
	return b.Publish(ctx, StreamDreams, KindDreamGenerated, n)
}
