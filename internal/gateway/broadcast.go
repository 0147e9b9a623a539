package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nidhogg/nuka-memory/internal/sleep"
	"go.uber.org/zap"
)

const (
	defaultHistory = 100
	notifyTimeout  = 15 * time.Second
)

// Broadcaster fans digests out to every registered notifier and keeps a
// bounded delivery history.
type Broadcaster struct {
	notifiers []Notifier
	history   []Delivery
	limit     int
	wg        sync.WaitGroup
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewBroadcaster creates a broadcaster keeping at most limit deliveries.
func NewBroadcaster(limit int, logger *zap.Logger) *Broadcaster {
	if limit <= 0 {
		limit = defaultHistory
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{limit: limit, logger: logger}
}

// Register adds a notifier.
func (b *Broadcaster) Register(n Notifier) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifiers = append(b.notifiers, n)
	b.logger.Info("registered notifier", zap.String("platform", n.Platform()))
}

// Platforms lists the registered platforms.
func (b *Broadcaster) Platforms() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, len(b.notifiers))
	for i, n := range b.notifiers {
		out[i] = n.Platform()
	}
	return out
}

// Send delivers d to every notifier. A failing platform does not stop the
// others; the failures are joined.
func (b *Broadcaster) Send(ctx context.Context, d Digest) error {
	b.mu.RLock()
	notifiers := append([]Notifier(nil), b.notifiers...)
	b.mu.RUnlock()

	var errs []error
	for _, n := range notifiers {
		rec := Delivery{SessionID: d.SessionID, Platform: n.Platform(), SentAt: time.Now()}
		if err := n.Notify(ctx, d); err != nil {
			rec.Error = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", n.Platform(), err))
			b.logger.Warn("digest delivery failed",
				zap.String("platform", n.Platform()),
				zap.String("session", d.SessionID),
				zap.Error(err))
		}
		b.record(rec)
	}
	return errors.Join(errs...)
}

func (b *Broadcaster) record(rec Delivery) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history, rec)
	if over := len(b.history) - b.limit; over > 0 {
		b.history = append(b.history[:0], b.history[over:]...)
	}
}

// Observe is a sleep observer. Delivery happens in the background so a
// slow platform never holds up the session.
func (b *Broadcaster) Observe(r sleep.Report) {
	d := Summarize(r)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		_ = b.Send(ctx, d)
	}()
}

// History returns the most recent deliveries, oldest first.
func (b *Broadcaster) History(limit int) []Delivery {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	return append([]Delivery(nil), b.history[len(b.history)-limit:]...)
}

// Close waits for pending deliveries and closes every notifier.
func (b *Broadcaster) Close() error {
	b.wg.Wait()
	b.mu.RLock()
	defer b.mu.RUnlock()
	var errs []error
	for _, n := range b.notifiers {
		if err := n.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
