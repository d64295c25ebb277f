package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/casewatch/casewatch/pkg/types"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultShipDelay  = 2 * time.Second
	DefaultBufferSize = 1000
	DefaultLogLevel   = "info"
)

// Config is the agent's view of config.yaml. The `server:` section is
// ignored.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// ServerEndpoint is the gRPC address of casewatch-server (host:port).
	ServerEndpoint string `yaml:"server_endpoint"`

	// Source identifies this agent to the server. Defaults to the hostname.
	Source string `yaml:"source"`

	// ShipDelay is how long file changes are accumulated before one batch
	// is handed to the shipper.
	ShipDelay time.Duration `yaml:"ship_delay"`

	// BufferSize is the maximum number of batches held in memory while the
	// server is unreachable.
	BufferSize int `yaml:"buffer_size"`

	LogLevel string `yaml:"log_level"`

	// ServerAuth configures how the agent authenticates to the server.
	ServerAuth AuthConfig `yaml:"server_auth"`

	// Watches are the directories whose changes are reported.
	Watches []Watch `yaml:"watches"`
}

// Watch is one watched directory tree.
type Watch struct {
	ID   string `yaml:"id"`
	Path string `yaml:"path"`

	// Kind and TypeID select the tree node a change under Path refreshes.
	Kind         string `yaml:"kind"`
	TypeID       int64  `yaml:"type_id"`
	DataSourceID int64  `yaml:"data_source_id"`

	// Recursive also watches every subdirectory, including ones created
	// later.
	Recursive bool `yaml:"recursive"`

	// Ignore holds filepath.Match patterns tested against base names.
	Ignore []string `yaml:"ignore"`
}

// Ignored reports whether the base name of path matches an Ignore pattern.
func (w Watch) Ignored(path string) bool {
	base := filepath.Base(path)
	for _, pat := range w.Ignore {
		if ok, _ := filepath.Match(pat, base); ok {
			return true
		}
	}
	return false
}

// AuthConfig specifies how the agent authenticates to the server.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Header is the metadata key the API key is sent in (default x-api-key).
	Header string `yaml:"header"`
	// KeyEnv names the environment variable holding the key.
	KeyEnv string `yaml:"key_env"`
}

// Key returns the API key value resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	applyWatchDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	host, _ := os.Hostname()
	return &Config{
		Agent: AgentConfig{
			Source:     host,
			ShipDelay:  DefaultShipDelay,
			BufferSize: DefaultBufferSize,
			LogLevel:   DefaultLogLevel,
			ServerAuth: AuthConfig{Header: "x-api-key"},
		},
	}
}

// applyWatchDefaults fills per-watch defaults, which yaml cannot do for
// slice elements.
func applyWatchDefaults(cfg *Config) {
	for i := range cfg.Agent.Watches {
		w := &cfg.Agent.Watches[i]
		if w.Kind == "" {
			w.Kind = string(types.KindFile)
		}
		if w.ID == "" {
			w.ID = filepath.Base(w.Path)
		}
	}
}

func validate(cfg *Config) error {
	a := cfg.Agent
	if a.ServerEndpoint == "" {
		return fmt.Errorf("agent.server_endpoint is required")
	}
	if a.ShipDelay <= 0 {
		return fmt.Errorf("agent.ship_delay must be positive")
	}
	if a.BufferSize <= 0 {
		return fmt.Errorf("agent.buffer_size must be positive")
	}
	switch a.ServerAuth.Mode {
	case "mtls", "apikey", "none", "":
	default:
		return fmt.Errorf("agent.server_auth.mode %q unknown: want mtls|apikey|none", a.ServerAuth.Mode)
	}

	seen := make(map[string]bool, len(a.Watches))
	for i, w := range a.Watches {
		if w.Path == "" {
			return fmt.Errorf("watches[%d]: path is required", i)
		}
		if seen[w.ID] {
			return fmt.Errorf("watches[%d]: duplicate id %q", i, w.ID)
		}
		seen[w.ID] = true
		kind, err := types.ParseKind(w.Kind)
		if err != nil {
			return fmt.Errorf("watches[%d] %q: %w", i, w.ID, err)
		}
		if w.DataSourceID <= 0 && kind != types.KindHost {
			return fmt.Errorf("watches[%d] %q: data_source_id must be positive", i, w.ID)
		}
		for _, pat := range w.Ignore {
			if _, err := filepath.Match(pat, ""); err != nil {
				return fmt.Errorf("watches[%d] %q: bad ignore pattern %q", i, w.ID, pat)
			}
		}
	}
	return nil
}
