package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/rugwirobaker/irrigate/internal/flag"
	"github.com/rugwirobaker/irrigate/internal/pointer"
	"github.com/rugwirobaker/irrigate/internal/stream"
)

// Event log backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

type Config struct {
	Port     int      `yaml:"port" toml:"port"` // 8080
	Device   Device   `yaml:"device" toml:"device"`
	EventLog EventLog `yaml:"event_log" toml:"event_log"`
	Stream   Stream   `yaml:"stream" toml:"stream"`
	Log      Log      `yaml:"log" toml:"log"`
}

type Device struct {
	URL     string        `yaml:"url" toml:"url"`         // http://192.168.1.40
	Timeout time.Duration `yaml:"timeout" toml:"timeout"` // 0 waits forever
}

type EventLog struct {
	Backend string `yaml:"backend" toml:"backend"` // "file", "sqlite"
	Path    string `yaml:"path" toml:"path"`       // log.json
	DB      string `yaml:"db" toml:"db"`           // irrigate.db
}

type Stream struct {
	Mode     string        `yaml:"mode" toml:"mode"`         // "poll", "push"
	Interval time.Duration `yaml:"interval" toml:"interval"` // 1s
}

type Log struct {
	Format    string  `yaml:"format" toml:"format"`                 // "text", "json"
	Timestamp bool    `yaml:"timestamp" toml:"timestamp"`           // show timestamp
	Debug     bool    `yaml:"debug" toml:"debug"`                   // include debug logging
	Path      *string `yaml:"path,omitempty" toml:"path,omitempty"` // /var/log/irrigate.log
}

func Default() *Config {
	return &Config{
		Port: 8080,
		EventLog: EventLog{
			Backend: BackendFile,
			Path:    "log.json",
			DB:      "irrigate.db",
		},
		Stream: Stream{
			Mode:     "poll",
			Interval: time.Second,
		},
		Log: Log{
			Format:    "text",
			Timestamp: true,
			Debug:     false,
		},
	}
}

func (cfg *Config) Write(w io.Writer) error {
	encoder := yaml.NewEncoder(w)

	encoder.SetIndent(2)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// FromFile reads a YAML or, for a .toml extension, TOML file over the
// defaults. Unknown keys are rejected in both formats.
func FromFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	var cfg = Default()

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		md, err := toml.NewDecoder(file).Decode(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("failed to decode config file: unknown key %q", undecoded[0].String())
		}
		return cfg, nil
	}

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	return cfg, nil
}

// OverrideWithEnv applies PORT and ESP_IP.
func (cfg *Config) OverrideWithEnv(getenv func(string) string) error {
	if port := getenv("PORT"); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		cfg.Port = n
	}
	if espIP := getenv("ESP_IP"); espIP != "" {
		cfg.Device.URL = espIP
	}
	return nil
}

func (cfg *Config) OverrideWithFlags(ctx context.Context) {
	if port := flag.GetInt(ctx, "port"); port != 0 {
		cfg.Port = port
	}
	if deviceURL := flag.GetString(ctx, "device-url"); deviceURL != "" {
		cfg.Device.URL = deviceURL
	}
	if timeout := flag.GetDuration(ctx, "device-timeout"); timeout != 0 {
		cfg.Device.Timeout = timeout
	}
	if backend := flag.GetString(ctx, "backend"); backend != "" {
		cfg.EventLog.Backend = backend
	}
	if eventLog := flag.GetString(ctx, "event-log"); eventLog != "" {
		if cfg.EventLog.Backend == BackendSQLite {
			cfg.EventLog.DB = eventLog
		} else {
			cfg.EventLog.Path = eventLog
		}
	}
	if mode := flag.GetString(ctx, "stream-mode"); mode != "" {
		cfg.Stream.Mode = mode
	}
	if logFormat := flag.GetString(ctx, "log-format"); logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if debug := flag.GetBool(ctx, "debug"); debug {
		cfg.Log.Debug = debug
	}
	if logPath := flag.GetString(ctx, "log-path"); logPath != "" {
		cfg.Log.Path = pointer.String(logPath)
	}
}

func (cfg *Config) Validate() error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Port)
	}
	switch cfg.EventLog.Backend {
	case BackendFile:
		if cfg.EventLog.Path == "" {
			return fmt.Errorf("event log path is required")
		}
	case BackendSQLite:
		if cfg.EventLog.DB == "" {
			return fmt.Errorf("event log database is required")
		}
	default:
		return fmt.Errorf("invalid event log backend: %q", cfg.EventLog.Backend)
	}
	if _, err := stream.ParseMode(cfg.Stream.Mode); err != nil {
		return err
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %q", cfg.Log.Format)
	}
	if cfg.Device.Timeout < 0 {
		return fmt.Errorf("invalid device timeout: %s", cfg.Device.Timeout)
	}
	return nil
}
