package clock

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SleepFunc runs one consolidation session of the given simulated length
// and reports whether it ran.
type SleepFunc func(ctx context.Context, duration time.Duration) bool

// SleepScheduler is a Listener that starts a sleep session once every
// interval of world time.
type SleepScheduler struct {
	interval  time.Duration // world time between sessions
	duration  time.Duration // simulated session length, 0 = random
	timeout   time.Duration
	lastSleep time.Time
	sleepFn   SleepFunc
	fired     int
	skipped   int
	mu        sync.Mutex
	logger    *zap.Logger
}

// NewSleepScheduler creates a scheduler listener.
func NewSleepScheduler(interval, duration time.Duration, sleepFn SleepFunc, logger *zap.Logger) *SleepScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &SleepScheduler{
		interval: interval,
		duration: duration,
		timeout:  time.Minute,
		sleepFn:  sleepFn,
		logger:   logger,
	}
}

// FireNow starts a session immediately, bypassing the interval check.
func (s *SleepScheduler) FireNow(ctx context.Context) bool {
	ok := s.run(ctx)
	if ok {
		s.logger.Info("forced sleep session ran")
	}
	return ok
}

// OnTick implements Listener.
func (s *SleepScheduler) OnTick(worldTime time.Time) {
	s.mu.Lock()
	if s.lastSleep.IsZero() {
		s.lastSleep = worldTime
		s.mu.Unlock()
		return
	}
	if worldTime.Sub(s.lastSleep) < s.interval {
		s.mu.Unlock()
		return
	}
	s.lastSleep = worldTime
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if s.run(ctx) {
		s.logger.Debug("scheduled sleep session ran", zap.Time("world_time", worldTime))
	}
}

func (s *SleepScheduler) run(ctx context.Context) bool {
	ok := s.sleepFn(ctx, s.duration)
	s.mu.Lock()
	if ok {
		s.fired++
	} else {
		s.skipped++
	}
	s.mu.Unlock()
	if !ok {
		s.logger.Warn("sleep session skipped")
	}
	return ok
}

// Counts returns how many sessions ran and how many were refused.
func (s *SleepScheduler) Counts() (fired, skipped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired, s.skipped
}
