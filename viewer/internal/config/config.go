package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultServerURL        = "ws://localhost:8080/ws"
	DefaultOutboxSize       = 100
	DefaultReconnectInitial = 1 * time.Second
	DefaultReconnectMax     = 60 * time.Second
)

// Config is the viewer's view of config.yaml. The `server:` key in the same
// file is ignored.
type Config struct {
	Viewer ViewerConfig `yaml:"viewer"`
}

// ViewerConfig holds all viewer-side settings.
type ViewerConfig struct {
	// ServerURL is the WebSocket endpoint of fanstage-server (ws:// or wss://).
	ServerURL string `yaml:"server_url"`

	// UserID identifies this viewer in chat and presence events.
	UserID string `yaml:"user_id"`

	// StreamID is the stream to join.
	StreamID string `yaml:"stream_id"`

	// IsCreator marks the viewer as the stream's creator. Informational only.
	IsCreator bool `yaml:"is_creator"`

	// TokenEnv is the name of the environment variable holding a join token,
	// required when the server runs with join_auth mode jwt.
	TokenEnv string `yaml:"token_env"`

	// OutboxSize is how many outgoing messages are held while disconnected.
	// When full the oldest message is dropped.
	OutboxSize int `yaml:"outbox_size"`

	// Reconnect controls the backoff between connection attempts.
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// Token returns the join token resolved from the environment.
func (v ViewerConfig) Token() string {
	if v.TokenEnv == "" {
		return ""
	}
	return os.Getenv(v.TokenEnv)
}

// ReconnectConfig bounds the truncated exponential backoff.
type ReconnectConfig struct {
	Initial time.Duration `yaml:"initial"`
	Max     time.Duration `yaml:"max"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("viewer config: read file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("viewer config: parse yaml: %w", err)
	}
	return cfg, nil
}

// Defaults returns a Config pre-populated with default values.
func Defaults() *Config {
	return &Config{
		Viewer: ViewerConfig{
			ServerURL:  DefaultServerURL,
			OutboxSize: DefaultOutboxSize,
			Reconnect: ReconnectConfig{
				Initial: DefaultReconnectInitial,
				Max:     DefaultReconnectMax,
			},
		},
	}
}

// Validate checks required fields and structural constraints. It is separate
// from Load because command-line flags may fill in fields after loading.
func (v ViewerConfig) Validate() error {
	u, err := url.Parse(v.ServerURL)
	if err != nil {
		return fmt.Errorf("viewer.server_url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("viewer.server_url %q: scheme must be ws or wss", v.ServerURL)
	}
	if v.UserID == "" {
		return fmt.Errorf("viewer.user_id is required")
	}
	if v.StreamID == "" {
		return fmt.Errorf("viewer.stream_id is required")
	}
	if v.OutboxSize <= 0 {
		return fmt.Errorf("viewer.outbox_size must be positive")
	}
	if v.Reconnect.Initial <= 0 || v.Reconnect.Max < v.Reconnect.Initial {
		return fmt.Errorf("viewer.reconnect: want 0 < initial <= max, got %v / %v",
			v.Reconnect.Initial, v.Reconnect.Max)
	}
	return nil
}
