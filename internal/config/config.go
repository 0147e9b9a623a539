package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/nidhogg/nuka-memory/internal/integrator"
	"github.com/nidhogg/nuka-memory/internal/substrate"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig      `json:"server"`
	Memory    integrator.Config `json:"memory"`
	Clock     ClockConfig       `json:"clock"`
	Substrate SubstrateConfig   `json:"substrate"`
	Database  DatabaseConfig    `json:"database"`
	Gateway   GatewayConfig     `json:"gateway"`
	Seed      int64             `json:"seed"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type ClockConfig struct {
	Interval      Duration `json:"interval"`
	Speed         float64  `json:"speed"`
	SleepEvery    Duration `json:"sleep_every"`
	SleepDuration Duration `json:"sleep_duration"` // 0 = random within sleep bounds
}

// SubstrateConfig selects where replays go: "loopback" keeps them in
// process, "redis" streams them to an external network.
type SubstrateConfig struct {
	Mode     string           `json:"mode"`
	Loopback substrate.Config `json:"loopback"`
	Stream   string           `json:"stream"`
}

type GatewayConfig struct {
	Slack   SlackGatewayConfig   `json:"slack"`
	Discord DiscordGatewayConfig `json:"discord"`
}

type SlackGatewayConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	Channel  string `json:"channel"`
}

type DiscordGatewayConfig struct {
	Enabled   bool   `json:"enabled"`
	BotToken  string `json:"bot_token"`
	ChannelID string `json:"channel_id"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL          string `json:"url"`
	IngestStream string `json:"ingest_stream"`
}

type QdrantConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Collection string `json:"collection"`
	Dimension  int    `json:"dimension"`
}

// Duration decodes from a Go duration string such as "90s" or from
// nanoseconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("duration %s: %w", b, err)
		}
		*d = Duration(n)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Default returns a config that runs fully in process.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080, LogLevel: "info"},
		Memory: integrator.DefaultConfig(),
		Clock: ClockConfig{
			Interval:   Duration(time.Second),
			Speed:      60,
			SleepEvery: Duration(24 * time.Hour),
		},
		Substrate: SubstrateConfig{
			Mode:     "loopback",
			Loopback: substrate.DefaultConfig(),
			Stream:   "memory:replay",
		},
		Database: DatabaseConfig{
			Redis:  RedisConfig{IngestStream: "memory:ingest"},
			Qdrant: QdrantConfig{Port: 6334, Collection: "episodes"},
		},
		Seed: 1,
	}
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file over the defaults and substitutes
// environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	cfg := Default()
	if err := json.Unmarshal([]byte(resolved), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the values that have no safe fallback.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch strings.ToLower(c.Server.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("server.log_level %q unknown", c.Server.LogLevel))
	}
	if c.Clock.Interval < 0 || c.Clock.Speed < 0 || c.Clock.SleepEvery < 0 || c.Clock.SleepDuration < 0 {
		errs = append(errs, errors.New("clock values must not be negative"))
	}
	if c.Memory.EnableSleep {
		if err := c.Memory.Sleep.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("memory.sleep: %w", err))
		}
	}
	switch c.Substrate.Mode {
	case "loopback":
	case "redis":
		if c.Database.Redis.URL == "" {
			errs = append(errs, errors.New("substrate.mode redis needs database.redis.url"))
		}
	default:
		errs = append(errs, fmt.Errorf("substrate.mode %q unknown", c.Substrate.Mode))
	}
	if c.Gateway.Slack.Enabled && (c.Gateway.Slack.BotToken == "" || c.Gateway.Slack.Channel == "") {
		errs = append(errs, errors.New("gateway.slack needs bot_token and channel"))
	}
	if c.Gateway.Discord.Enabled && (c.Gateway.Discord.BotToken == "" || c.Gateway.Discord.ChannelID == "") {
		errs = append(errs, errors.New("gateway.discord needs bot_token and channel_id"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
