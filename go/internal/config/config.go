package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Game      GameConfig      `yaml:"game"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	NATS      NATSConfig      `yaml:"nats"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port              string        `yaml:"port"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

type GameConfig struct {
	CountdownMin      time.Duration `yaml:"countdown_min"`
	CountdownMax      time.Duration `yaml:"countdown_max"`
	MaxUsernameLength int           `yaml:"max_username_length"`
	QueueSize         int           `yaml:"queue_size"`
}

type WebSocketConfig struct {
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	SendBufferSize int           `yaml:"send_buffer_size"`
}

type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Stream        string `yaml:"stream"`
	SubjectPrefix string `yaml:"subject_prefix"`
	BufferSize    int    `yaml:"buffer_size"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              "8080",
			AllowedOrigins:    []string{"*"},
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Game: GameConfig{
			CountdownMin:      1000 * time.Millisecond,
			CountdownMax:      10000 * time.Millisecond,
			MaxUsernameLength: 32,
			QueueSize:         256,
		},
		WebSocket: WebSocketConfig{
			WriteTimeout:   10 * time.Second,
			ReadTimeout:    60 * time.Second,
			PingInterval:   30 * time.Second,
			MaxMessageSize: 1024,
			SendBufferSize: 256,
		},
		NATS: NATSConfig{
			Enabled:       false,
			URL:           "nats://localhost:4222",
			Stream:        "REFLEX_ROOM_EVENTS",
			SubjectPrefix: "reflex.rooms",
			BufferSize:    1024,
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: false,
		},
	}
}

// Load reads the optional YAML file at path over the defaults, applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("REFLEX_ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("REFLEX_COUNTDOWN_MIN"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("REFLEX_COUNTDOWN_MIN: %w", err)
		}
		c.Game.CountdownMin = d
	}
	if v := os.Getenv("REFLEX_COUNTDOWN_MAX"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("REFLEX_COUNTDOWN_MAX: %w", err)
		}
		c.Game.CountdownMax = d
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
		c.NATS.Enabled = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_PRETTY"); v != "" {
		pretty, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LOG_PRETTY: %w", err)
		}
		c.Log.Pretty = pretty
	}
	return nil
}

// parseDuration accepts Go durations ("1500ms") or bare milliseconds.
func parseDuration(v string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	port, err := strconv.Atoi(c.Server.Port)
	if err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %q is not a valid port", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}

	if c.Game.CountdownMin <= 0 {
		errs = append(errs, fmt.Errorf("game.countdown_min must be positive, got %s", c.Game.CountdownMin))
	}
	if c.Game.CountdownMax-c.Game.CountdownMin < time.Millisecond {
		errs = append(errs, fmt.Errorf("game.countdown_max %s must exceed countdown_min %s by at least 1ms",
			c.Game.CountdownMax, c.Game.CountdownMin))
	}
	if c.Game.MaxUsernameLength <= 0 {
		errs = append(errs, errors.New("game.max_username_length must be positive"))
	}

	if c.WebSocket.WriteTimeout <= 0 || c.WebSocket.ReadTimeout <= 0 {
		errs = append(errs, errors.New("websocket timeouts must be positive"))
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.PingInterval >= c.WebSocket.ReadTimeout {
		errs = append(errs, fmt.Errorf("websocket.ping_interval %s must be positive and below read_timeout %s",
			c.WebSocket.PingInterval, c.WebSocket.ReadTimeout))
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("websocket.max_message_size must be positive"))
	}

	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			errs = append(errs, errors.New("nats.url is required when nats is enabled"))
		}
		if c.NATS.Stream == "" || c.NATS.SubjectPrefix == "" {
			errs = append(errs, errors.New("nats.stream and nats.subject_prefix are required when nats is enabled"))
		}
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	return errors.Join(errs...)
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return ":" + c.Server.Port
}

// ZerologLevel returns the parsed level, defaulting to info.
func (l LogConfig) ZerologLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(l.Level)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}
