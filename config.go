package panel

import (
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the settings for serving sessions.
type Config struct {
	Session   SessionConfig   `yaml:"session"`
	Transport TransportConfig `yaml:"transport"`
	Log       LogConfig       `yaml:"log"`
}

// SessionConfig holds the defaults applied to every session.
type SessionConfig struct {
	Mode        string   `yaml:"mode"` // immediate or deferred
	QueueSize   int      `yaml:"queue_size"`
	SendTimeout Duration `yaml:"send_timeout"`
}

// TransportConfig configures the websocket transport.
type TransportConfig struct {
	Path        string   `yaml:"path"`
	Format      string   `yaml:"format"` // msgpack or json
	Key         string   `yaml:"key"`    // 64 hex digits
	TokenMaxAge Duration `yaml:"token_max_age"`
	Backlog     int      `yaml:"backlog"`
}

// LogConfig selects where log output goes.
type LogConfig struct {
	Output string `yaml:"output"` // stderr, stdout, discard, or a file path
}

// Duration is a time.Duration written as "5s" or "1m30s" in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			Mode:        Immediate.String(),
			QueueSize:   defaultQueueSize,
			SendTimeout: Duration(defaultSendTimeout),
		},
		Transport: TransportConfig{
			Path:        "/ws",
			Format:      "msgpack",
			TokenMaxAge: Duration(24 * time.Hour),
			Backlog:     64,
		},
		Log: LogConfig{Output: "stderr"},
	}
}

// LoadConfig reads the configuration from path.
// Falls back to defaults if the file doesn't exist.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML on top of the defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("panel: config: %w", err)
	}
	if _, err := ParseMode(cfg.Session.Mode); err != nil {
		return nil, fmt.Errorf("panel: config: %w", err)
	}
	// Ensure reasonable defaults
	if cfg.Session.QueueSize <= 0 {
		cfg.Session.QueueSize = defaultQueueSize
	}
	if cfg.Session.SendTimeout <= 0 {
		cfg.Session.SendTimeout = Duration(defaultSendTimeout)
	}
	if cfg.Transport.Backlog <= 0 {
		cfg.Transport.Backlog = 64
	}
	return cfg, nil
}

// SessionOptions converts the session settings to options.
func (c *Config) SessionOptions() []SessionOption {
	mode, _ := ParseMode(c.Session.Mode)
	return []SessionOption{
		WithMode(mode),
		WithQueueSize(c.Session.QueueSize),
		WithSendTimeout(time.Duration(c.Session.SendTimeout)),
	}
}

// Key decodes the transport key. An empty key yields nil.
func (c *Config) Key() ([]byte, error) {
	if c.Transport.Key == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.Transport.Key)
	if err != nil {
		return nil, fmt.Errorf("panel: config: transport key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("panel: config: transport key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Logger opens the configured log output. name selects the prefix, as
// for NewLogger.
func (c *Config) Logger(name string) (*log.Logger, error) {
	var w io.Writer
	switch c.Log.Output {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	case "discard":
		return DiscardLogger(), nil
	default:
		f, err := os.OpenFile(c.Log.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("panel: config: log output: %w", err)
		}
		w = f
	}
	return NewLogger(w, name), nil
}
