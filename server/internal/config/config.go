package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/casewatch/casewatch/pkg/coalesce"
	"github.com/casewatch/casewatch/pkg/types"
)

// Default values for the server configuration.
const (
	DefaultGRPCPort        = 50051
	DefaultHTTPPort        = 8080
	DefaultLogLevel        = "info"
	DefaultTreeTimeout     = 2 * time.Minute
	DefaultPollResolution  = time.Second
	DefaultResultsDelay    = 2 * time.Minute
	DefaultPendingInterval = 10 * time.Second
	DefaultProducerTTL     = 5 * time.Minute
)

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	GRPCPort int    `yaml:"grpc_port"`
	HTTPPort int    `yaml:"http_port"`
	LogLevel string `yaml:"log_level"` // debug | info | warn | error

	Auth AuthConfig `yaml:"auth"`

	// Refresh configures the tree and results coalescing engines.
	Refresh RefreshConfig `yaml:"refresh"`

	Stream    StreamConfig    `yaml:"stream"`
	Producers ProducersConfig `yaml:"producers"`

	// Webhooks receive every determinate refresh message.
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AuthConfig controls client authentication for gRPC and REST.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv names the environment variable holding the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the gRPC metadata key and HTTP header carrying the key.
	// Defaults to "x-api-key".
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return strings.ToLower(a.Header)
	}
	return "x-api-key"
}

// EngineConfig is the YAML form of one coalescing engine.
type EngineConfig struct {
	// Policy is fixed (alias batch) or deadline (alias debounce).
	Policy         string        `yaml:"policy"`
	BatchDelay     time.Duration `yaml:"batch_delay"`
	Timeout        time.Duration `yaml:"timeout"`
	PollResolution time.Duration `yaml:"poll_resolution"`
}

// Coalesce converts e to an engine config named name.
func (e EngineConfig) Coalesce(name string) (coalesce.Config, error) {
	p, err := coalesce.ParsePolicy(e.Policy)
	if err != nil {
		return coalesce.Config{}, err
	}
	c := coalesce.Config{
		Name:           name,
		Policy:         p,
		BatchDelay:     e.BatchDelay,
		Timeout:        e.Timeout,
		PollResolution: e.PollResolution,
	}
	return c, c.Validate()
}

// RefreshConfig configures the refresh aggregator.
type RefreshConfig struct {
	Tree    EngineConfig `yaml:"tree"`
	Results EngineConfig `yaml:"results"`

	// IgnoredKinds are never considered refresh-relevant.
	IgnoredKinds []string `yaml:"ignored_kinds"`
}

// Kinds parses IgnoredKinds.
func (r RefreshConfig) Kinds() ([]types.Kind, error) {
	out := make([]types.Kind, 0, len(r.IgnoredKinds))
	for _, s := range r.IgnoredKinds {
		k, err := types.ParseKind(s)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

// StreamConfig controls the WebSocket hub.
type StreamConfig struct {
	// PendingInterval is how often the pending snapshot is rebroadcast while
	// keys are pending. Zero disables the rebroadcast.
	PendingInterval time.Duration `yaml:"pending_interval"`
}

// ProducersConfig controls the producer registry.
type ProducersConfig struct {
	// TTL is how long a producer stays listed after its last batch.
	TTL time.Duration `yaml:"ttl"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: slack | http.
	Type string `yaml:"type"`

	// URLEnv names the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Level parses LogLevel.
func (s ServerConfig) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level %q: %w", s.LogLevel, err)
	}
	return l, nil
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			GRPCPort: DefaultGRPCPort,
			HTTPPort: DefaultHTTPPort,
			LogLevel: DefaultLogLevel,
			Refresh: RefreshConfig{
				Tree: EngineConfig{
					Policy:         coalesce.PerKeyDeadline.String(),
					Timeout:        DefaultTreeTimeout,
					PollResolution: DefaultPollResolution,
				},
				Results: EngineConfig{
					Policy:     coalesce.FixedDelay.String(),
					BatchDelay: DefaultResultsDelay,
				},
			},
			Stream:    StreamConfig{PendingInterval: DefaultPendingInterval},
			Producers: ProducersConfig{TTL: DefaultProducerTTL},
		},
	}
}

func validate(cfg *Config) error {
	s := cfg.Server
	if s.GRPCPort <= 0 || s.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [1, 65535]", s.GRPCPort)
	}
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	if _, err := s.Level(); err != nil {
		return fmt.Errorf("server.%w", err)
	}
	switch s.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}
	if _, err := s.Refresh.Tree.Coalesce("tree"); err != nil {
		return fmt.Errorf("server.refresh.tree: %w", err)
	}
	if _, err := s.Refresh.Results.Coalesce("results"); err != nil {
		return fmt.Errorf("server.refresh.results: %w", err)
	}
	if _, err := s.Refresh.Kinds(); err != nil {
		return fmt.Errorf("server.refresh.ignored_kinds: %w", err)
	}
	if s.Stream.PendingInterval < 0 {
		return fmt.Errorf("server.stream.pending_interval must not be negative")
	}
	if s.Producers.TTL <= 0 {
		return fmt.Errorf("server.producers.ttl must be positive")
	}
	for i, wh := range s.Webhooks {
		switch wh.Type {
		case "slack", "http":
		default:
			return fmt.Errorf("server.webhooks[%d].type %q unknown: want slack|http", i, wh.Type)
		}
	}
	return nil
}
