package events

import (
	"context"
	"sync"

	"github.com/nidhogg/nuka-memory/internal/memory"
	"go.uber.org/zap"
)

// Publisher is the part of Bus the remote substrate needs.
type Publisher interface {
	Publish(ctx context.Context, stream, kind string, payload any) error
}

// Command is the payload of replay, reinforce and scale events. The
// current developmental multipliers travel with every command so the
// remote network can apply them.
type Command struct {
	Region        string       `json:"region"`
	Pattern       []float64    `json:"pattern,omitempty"`
	Speed         float64      `json:"speed,omitempty"`
	Strength      float64      `json:"strength,omitempty"`
	Phase         memory.Phase `json:"phase,omitempty"`
	Source        *memory.Ref  `json:"source,omitempty"`
	Factor        float64      `json:"factor,omitempty"`
	Plasticity    float64      `json:"plasticity"`
	LearningRate  float64      `json:"learning_rate"`
	Consolidation float64      `json:"consolidation"`
}

// RemoteSubstrate implements memory.Substrate and memory.LearningSystem by
// streaming commands to an external spiking network.
type RemoteSubstrate struct {
	pub       Publisher
	stream    string
	region    string
	modulator memory.Modulator
	sent      map[string]int
	mu        sync.Mutex
	logger    *zap.Logger
}

// NewRemoteSubstrate publishes commands for region on stream.
func NewRemoteSubstrate(pub Publisher, stream, region string, logger *zap.Logger) *RemoteSubstrate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if region == "" {
		region = "cortex"
	}
	return &RemoteSubstrate{
		pub:    pub,
		stream: stream,
		region: region,
		sent:   make(map[string]int),
		logger: logger,
	}
}

// SetModulator implements memory.LearningSystem.
func (r *RemoteSubstrate) SetModulator(m memory.Modulator) {
	r.mu.Lock()
	r.modulator = m
	r.mu.Unlock()
}

func (r *RemoteSubstrate) command() Command {
	r.mu.Lock()
	mod := r.modulator
	r.mu.Unlock()
	c := Command{Region: r.region, Plasticity: 1, LearningRate: 1, Consolidation: 1}
	if mod != nil {
		c.Plasticity = mod.PlasticityMultiplier(r.region)
		c.LearningRate = mod.LearningRateMultiplier(r.region)
		c.Consolidation = mod.ConsolidationMultiplier(r.region)
	}
	return c
}

func (r *RemoteSubstrate) send(ctx context.Context, kind string, c Command) error {
	if err := r.pub.Publish(ctx, r.stream, kind, c); err != nil {
		r.logger.Warn("substrate command failed", zap.String("kind", kind), zap.Error(err))
		return err
	}
	r.mu.Lock()
	r.sent[kind]++
	r.mu.Unlock()
	return nil
}

// InjectReplay implements memory.Substrate.
func (r *RemoteSubstrate) InjectReplay(ctx context.Context, rep memory.Replay) error {
	c := r.command()
	c.Pattern = rep.Pattern
	c.Speed = rep.Speed
	c.Strength = rep.Strength
	c.Phase = rep.Phase
	if rep.Source.System != "" {
		src := rep.Source
		c.Source = &src
	}
	return r.send(ctx, KindReplay, c)
}

// ReinforcePattern implements memory.LearningSystem.
func (r *RemoteSubstrate) ReinforcePattern(ctx context.Context, pattern []float64, strength float64) error {
	c := r.command()
	c.Pattern = pattern
	c.Strength = strength
	return r.send(ctx, KindReinforce, c)
}

// ApplyHomeostaticScaling implements memory.LearningSystem.
func (r *RemoteSubstrate) ApplyHomeostaticScaling(ctx context.Context, factor float64) error {
	c := r.command()
	c.Factor = factor
	return r.send(ctx, KindScale, c)
}

// Sent returns how many commands of each kind were delivered.
func (r *RemoteSubstrate) Sent() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.sent))
	for k, v := range r.sent {
		out[k] = v
	}
	return out
}
