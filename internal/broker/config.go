package broker

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/gobuffalo/envy"
	"gopkg.in/yaml.v3"
)

// DefaultPort is the broker's well-known listening port.
const DefaultPort = 23048

const (
	defaultIdleWindow = 30 * time.Second
	defaultIdleLimit  = 2
)

// Config holds the broker's runtime settings. Zero values mean "use the
// default"; applyDefaults fills them in before use.
type Config struct {
	// Port is the TCP listening port; must sit in the registered-port
	// range [1024, 49151].
	Port int
	// Host is the bind address; empty binds all interfaces.
	Host string
	// LogLevel is a logrus level name ("debug", "info", ...).
	LogLevel string
	// IdleWindow is the per-connection read deadline.
	IdleWindow time.Duration
	// IdleLimit is how many consecutive idle windows a peer may sit
	// through before the broker closes the connection.
	IdleLimit int
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.IdleWindow == 0 {
		c.IdleWindow = defaultIdleWindow
	}
	if c.IdleLimit == 0 {
		c.IdleLimit = defaultIdleLimit
	}
}

// ValidatePort rejects ports outside the registered range: the well-known
// ports need privileges the broker should never run with, and the
// ephemeral range collides with outbound connections.
func ValidatePort(n int) error {
	if n < 1024 || n > 49151 {
		return fmt.Errorf("port %d outside allowed range [1024, 49151]", n)
	}
	return nil
}

// LoadConfig reads a broker.yaml from path and overlays it onto the
// defaults. A missing file is not an error — the broker runs fine on
// defaults alone — but an unreadable or unparseable one is.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	var raw struct {
		Port       int    `yaml:"port"`
		Host       string `yaml:"host"`
		LogLevel   string `yaml:"log_level"`
		IdleWindow string `yaml:"idle_window"`
		IdleLimit  int    `yaml:"idle_limit"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if raw.Port != 0 {
		cfg.Port = raw.Port
	}
	if raw.Host != "" {
		cfg.Host = raw.Host
	}
	if raw.LogLevel != "" {
		cfg.LogLevel = raw.LogLevel
	}
	if raw.IdleWindow != "" {
		d, err := time.ParseDuration(raw.IdleWindow)
		if err != nil {
			return cfg, fmt.Errorf("parse config %s: idle_window: %w", path, err)
		}
		cfg.IdleWindow = d
	}
	if raw.IdleLimit != 0 {
		cfg.IdleLimit = raw.IdleLimit
	}
	return cfg, nil
}

// PortFromEnv returns the port from the BROKER_PORT environment variable.
// Unset or unparseable values are reported as absent so the caller falls
// through to the next configuration source.
func PortFromEnv() (int, bool) {
	v := envy.Get("BROKER_PORT", "")
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
