// Package substrate provides an in-process stand-in for the spiking
// substrate and its learning rule.
package substrate

import (
	"context"
	"sync"

	"github.com/nidhogg/nuka-memory/internal/memory"
	"go.uber.org/zap"
)

// Config controls the loopback learning rule.
type Config struct {
	Region       string  `json:"region"`        // default "cortex"
	LearningRate float64 `json:"learning_rate"` // default 0.05
	MaxTrace     int     `json:"max_trace"`     // default 256
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.Region == "" {
		c.Region = "cortex"
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 0.05
	}
	if c.MaxTrace <= 0 {
		c.MaxTrace = 256
	}
	return c
}

// Stats describes what the substrate has received.
type Stats struct {
	Replays        int     `json:"replays"`
	Reinforcements int     `json:"reinforcements"`
	Scalings       int     `json:"scalings"`
	Gain           float64 `json:"gain"`
	WeightNorm     float64 `json:"weight_norm"`
	LastPlasticity float64 `json:"last_plasticity"`
}

// Loopback implements memory.Substrate and memory.LearningSystem. Replays
// and reinforcements nudge a single weight vector; homeostatic scaling
// multiplies the global gain. The modulator is consulted on every update.
type Loopback struct {
	cfg       Config
	modulator memory.Modulator
	weights   []float64
	gain      float64
	trace     []memory.Replay
	stats     Stats
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewLoopback creates a loopback substrate.
func NewLoopback(cfg Config, logger *zap.Logger) *Loopback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loopback{cfg: cfg.withDefaults(), gain: 1, logger: logger}
}

// SetModulator attaches the plasticity modulator.
func (l *Loopback) SetModulator(m memory.Modulator) {
	l.mu.Lock()
	l.modulator = m
	l.mu.Unlock()
}

// rate reads the modulator outside the substrate lock.
func (l *Loopback) rate() (float64, float64) {
	l.mu.RLock()
	mod, region, lr := l.modulator, l.cfg.Region, l.cfg.LearningRate
	l.mu.RUnlock()
	if mod == nil {
		return lr, 1
	}
	plasticity := mod.PlasticityMultiplier(region)
	return lr * mod.LearningRateMultiplier(region) * plasticity, plasticity
}

// InjectReplay implements memory.Substrate.
func (l *Loopback) InjectReplay(ctx context.Context, r memory.Replay) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lr, plasticity := l.rate()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.weights = memory.Blend(l.weights, r.Pattern, memory.Clamp01(lr*r.Strength))
	l.trace = append(l.trace, r)
	if over := len(l.trace) - l.cfg.MaxTrace; over > 0 {
		l.trace = append([]memory.Replay(nil), l.trace[over:]...)
	}
	l.stats.Replays++
	l.stats.LastPlasticity = plasticity
	return nil
}

// ReinforcePattern implements memory.LearningSystem.
func (l *Loopback) ReinforcePattern(ctx context.Context, pattern []float64, strength float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lr, plasticity := l.rate()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.weights = memory.Blend(l.weights, pattern, memory.Clamp01(lr*strength))
	l.stats.Reinforcements++
	l.stats.LastPlasticity = plasticity
	return nil
}

// ApplyHomeostaticScaling implements memory.LearningSystem.
func (l *Loopback) ApplyHomeostaticScaling(ctx context.Context, factor float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gain *= factor
	l.weights = memory.Scale(l.weights, factor)
	l.stats.Scalings++
	l.logger.Debug("homeostatic scaling applied", zap.Float64("factor", factor), zap.Float64("gain", l.gain))
	return nil
}

// Replays returns up to n most recent replays, newest last.
func (l *Loopback) Replays(n int) []memory.Replay {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > len(l.trace) {
		n = len(l.trace)
	}
	return append([]memory.Replay(nil), l.trace[len(l.trace)-n:]...)
}

// Weights returns a copy of the weight vector.
func (l *Loopback) Weights() []float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return memory.Clone(l.weights)
}

// Stats returns counters.
func (l *Loopback) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := l.stats
	s.Gain = l.gain
	s.WeightNorm = memory.Norm(l.weights)
	return s
}
