package gateway

import (
	"context"
	"time"
)

// Notifier delivers a session digest to one chat platform.
type Notifier interface {
	Platform() string
	Notify(ctx context.Context, d Digest) error
	Close() error
}

// Digest is the platform-neutral summary of one sleep session.
type Digest struct {
	SessionID string    `json:"session_id"`
	Title     string    `json:"title"`
	Lines     []string  `json:"lines"`
	DreamType string    `json:"dream_type,omitempty"`
	DreamText string    `json:"dream_text,omitempty"`
	Insight   bool      `json:"insight"`
	Timestamp time.Time `json:"timestamp"`
}

// Delivery records one notification attempt.
type Delivery struct {
	SessionID string    `json:"session_id"`
	Platform  string    `json:"platform"`
	Error     string    `json:"error,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}
