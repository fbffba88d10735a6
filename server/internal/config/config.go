package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultGRPCPort        = 50051
	DefaultHTTPPort        = 8080
	DefaultLogLevel        = "info"
	DefaultHubPath         = "/ws"
	DefaultSendBuffer      = 64
	DefaultMaxMessageBytes = 64 << 10
	DefaultMaxChatLength   = 0
	DefaultPongWait        = 60 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultAPIKeyHeader    = "x-api-key"
	DefaultJoinSecretEnv   = "FANSTAGE_JOIN_SECRET"
)

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml. The `viewer:` key in the same file is ignored.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort is the port the WebSocket hub, REST API and /metrics listen on
	// (default 8080).
	HTTPPort int `yaml:"http_port"`

	// GRPCPort is the port the gRPC health service listens on (default 50051).
	// When equal to HTTPPort both protocols share one listener.
	GRPCPort int `yaml:"grpc_port"`

	// LogLevel is one of debug | info | warn | error. Reloaded without restart.
	LogLevel string `yaml:"log_level"`

	// Auth configures how the server authenticates REST, metrics and gRPC
	// clients.
	Auth AuthConfig `yaml:"auth"`

	// Hub configures the WebSocket presence and chat hub.
	Hub HubConfig `yaml:"hub"`
}

// AuthConfig controls client authentication on the server side.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	// Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the gRPC metadata key (and HTTP header name) to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return strings.ToLower(a.Header)
	}
	return DefaultAPIKeyHeader
}

// HubConfig holds the WebSocket hub settings.
type HubConfig struct {
	// Path is the HTTP path that accepts WebSocket upgrades (default /ws).
	Path string `yaml:"path"`

	// SendBuffer is the per-connection outbound queue depth. Events for a
	// connection whose queue is full are dropped.
	SendBuffer int `yaml:"send_buffer"`

	// MaxMessageBytes caps one inbound frame; larger frames close the
	// connection.
	MaxMessageBytes int64 `yaml:"max_message_bytes"`

	// MaxChatLength is the longest accepted chat message in characters.
	// 0 (the default) relays chat of any length. Reloaded without restart.
	MaxChatLength int `yaml:"max_chat_length"`

	// PongWait is how long a silent connection is kept before it is reaped.
	PongWait time.Duration `yaml:"pong_wait"`

	// WriteTimeout bounds a single write to a client.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// AllowedOrigins restricts browser Origin headers on upgrade. Empty
	// allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// JoinAuth controls verification of join_stream requests.
	JoinAuth JoinAuthConfig `yaml:"join_auth"`
}

// JoinAuthConfig controls whether join_stream must carry a signed token.
type JoinAuthConfig struct {
	// Mode is one of: jwt | none. With "none" the userId in join_stream is
	// trusted as sent.
	Mode string `yaml:"mode"`

	// SecretEnv is the name of the environment variable holding the HS256
	// signing secret. Used when Mode == "jwt".
	SecretEnv string `yaml:"secret_env"`
}

// Secret returns the token signing secret resolved from the environment.
func (j JoinAuthConfig) Secret() string {
	if j.SecretEnv == "" {
		return ""
	}
	return os.Getenv(j.SecretEnv)
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with sensible defaults before validation.
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

// SlogLevel maps LogLevel to a slog.Level. Validation guarantees the value
// is known.
func (s ServerConfig) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			GRPCPort: DefaultGRPCPort,
			HTTPPort: DefaultHTTPPort,
			LogLevel: DefaultLogLevel,
			Hub: HubConfig{
				Path:            DefaultHubPath,
				SendBuffer:      DefaultSendBuffer,
				MaxMessageBytes: DefaultMaxMessageBytes,
				MaxChatLength:   DefaultMaxChatLength,
				PongWait:        DefaultPongWait,
				WriteTimeout:    DefaultWriteTimeout,
				JoinAuth: JoinAuthConfig{
					Mode:      "none",
					SecretEnv: DefaultJoinSecretEnv,
				},
			},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.GRPCPort <= 0 || s.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [1, 65535]", s.GRPCPort)
	}
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	switch strings.ToLower(s.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level %q unknown: want debug|info|warn|error", s.LogLevel)
	}
	switch s.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}

	h := s.Hub
	if !strings.HasPrefix(h.Path, "/") {
		return fmt.Errorf("server.hub.path %q must start with /", h.Path)
	}
	if h.Path == "/" || strings.HasPrefix(h.Path, "/api/") || h.Path == "/metrics" {
		return fmt.Errorf("server.hub.path %q collides with a built-in route", h.Path)
	}
	if h.SendBuffer <= 0 {
		return fmt.Errorf("server.hub.send_buffer must be positive")
	}
	if h.MaxMessageBytes <= 0 {
		return fmt.Errorf("server.hub.max_message_bytes must be positive")
	}
	if h.MaxChatLength < 0 {
		return fmt.Errorf("server.hub.max_chat_length must not be negative")
	}
	if h.PongWait <= 0 {
		return fmt.Errorf("server.hub.pong_wait must be positive")
	}
	if h.WriteTimeout <= 0 {
		return fmt.Errorf("server.hub.write_timeout must be positive")
	}
	switch h.JoinAuth.Mode {
	case "jwt":
		if h.JoinAuth.SecretEnv == "" {
			return fmt.Errorf("server.hub.join_auth.secret_env is required for mode jwt")
		}
	case "none", "":
	default:
		return fmt.Errorf("server.hub.join_auth.mode %q unknown: want jwt|none", h.JoinAuth.Mode)
	}
	return nil
}
