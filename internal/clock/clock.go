// Package clock drives periodic memory maintenance from a simulated clock.
package clock

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Listener receives clock ticks.
type Listener interface {
	OnTick(worldTime time.Time)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(worldTime time.Time)

func (f ListenerFunc) OnTick(worldTime time.Time) { f(worldTime) }

// Clock advances simulated time by interval*speed on every real tick and
// fans the new time out to its listeners.
type Clock struct {
	speed     float64 // 1.0 = realtime
	interval  time.Duration
	listeners []Listener
	worldTime time.Time
	ticks     uint64
	mu        sync.RWMutex
	cancel    context.CancelFunc
	done      chan struct{}
	logger    *zap.Logger
}

// New creates a clock starting at start. A zero start means now.
func New(interval time.Duration, speed float64, start time.Time, logger *zap.Logger) *Clock {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	if speed <= 0 {
		speed = 1
	}
	if start.IsZero() {
		start = time.Now()
	}
	return &Clock{
		speed:     speed,
		interval:  interval,
		worldTime: start,
		logger:    logger,
	}
}

// AddListener registers a tick listener.
func (c *Clock) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// WorldTime returns the current simulated time.
func (c *Clock) WorldTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.worldTime
}

// Speed returns the time multiplier.
func (c *Clock) Speed() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.speed
}

// SetSpeed changes the time multiplier. Non-positive values are ignored.
func (c *Clock) SetSpeed(speed float64) {
	if speed <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speed = speed
}

// Ticks returns how many ticks have been delivered.
func (c *Clock) Ticks() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ticks
}

// Start begins the tick loop in a background goroutine. Calling Start on a
// running clock is a no-op.
func (c *Clock) Start() {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go c.loop(ctx, done)
	c.logger.Info("memory clock started",
		zap.Duration("interval", c.interval),
		zap.Float64("speed", c.Speed()))
}

// Stop halts the tick loop and waits for the in-flight tick.
func (c *Clock) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.logger.Info("memory clock stopped", zap.Uint64("ticks", c.Ticks()))
}

func (c *Clock) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Advance(c.interval)
		}
	}
}

// Advance moves simulated time by d scaled by the speed and notifies the
// listeners outside the lock. Used by the tick loop and by tests.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	c.worldTime = c.worldTime.Add(time.Duration(float64(d) * c.speed))
	c.ticks++
	wt := c.worldTime
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, l := range listeners {
		l.OnTick(wt)
	}
	return wt
}
