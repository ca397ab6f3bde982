package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/biostream/biostream-go/pkg/driver/serial"
	"github.com/biostream/biostream-go/pkg/driver/sim"
	"github.com/biostream/biostream-go/pkg/transport"
)

// Config is the server configuration. It is read from a YAML or TOML file
// and overridden by command-line flags.
type Config struct {
	Listen           string        `yaml:"listen" toml:"listen"`
	MaxConnections   int           `yaml:"max_connections" toml:"max_connections"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" toml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout" toml:"write_timeout"`

	// ScanOnStart connects every discoverable device at startup instead
	// of on the first request.
	ScanOnStart bool `yaml:"scan_on_start" toml:"scan_on_start"`

	Log       LogConfig       `yaml:"log" toml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
	Discovery DiscoveryConfig `yaml:"discovery" toml:"discovery"`

	// Sim lists simulated devices served under "sim:<address>".
	Sim []sim.DeviceConfig `yaml:"sim" toml:"sim"`

	// Serial enables the serial backend when set.
	Serial *serial.BackendConfig `yaml:"serial" toml:"serial"`
}

// LogConfig configures operational and protocol logging.
type LogConfig struct {
	Level         string `yaml:"level" toml:"level"`
	ProtocolLog   string `yaml:"protocol_log" toml:"protocol_log"`
	CaptureFrames bool   `yaml:"capture_frames" toml:"capture_frames"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Listen
// disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen" toml:"listen"`
	Path   string `yaml:"path" toml:"path"`
}

// DiscoveryConfig configures mDNS advertisement.
type DiscoveryConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Instance  string `yaml:"instance" toml:"instance"`
	Interface string `yaml:"interface" toml:"interface"`
}

// DefaultConfig returns the configuration used without a config file.
func DefaultConfig() Config {
	return Config{
		Listen:           fmt.Sprintf(":%d", transport.DefaultPort),
		HandshakeTimeout: transport.DefaultHandshakeTimeout,
		WriteTimeout:     transport.DefaultWriteTimeout,
		Log:              LogConfig{Level: "info"},
		Metrics:          MetricsConfig{Path: "/metrics"},
	}
}

// LoadConfig reads path on top of DefaultConfig. The format is chosen by
// extension: .yaml, .yml or .toml. Unknown keys are rejected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return cfg, fmt.Errorf("parse %s: unknown key %q", path, undecoded[0].String())
		}
	default:
		return cfg, fmt.Errorf("unsupported config format %q (use .yaml, .yml or .toml)", filepath.Ext(path))
	}
	return cfg, cfg.Validate()
}

// Validate checks values that would otherwise fail late.
func (c Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address required")
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max_connections must not be negative, got %d", c.MaxConnections)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Sim))
	for _, d := range c.Sim {
		if d.Address == "" {
			return errors.New("sim device without address")
		}
		if seen[d.Address] {
			return fmt.Errorf("duplicate sim device %q", d.Address)
		}
		seen[d.Address] = true
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("invalid log level %q (use debug, info, warn or error)", s)
	}
	return level, nil
}

// parseSimFlag parses "<address>=<description>[@<frequency>]".
func parseSimFlag(s string) (sim.DeviceConfig, error) {
	address, rest, ok := strings.Cut(s, "=")
	if !ok || address == "" || rest == "" {
		return sim.DeviceConfig{}, fmt.Errorf("invalid --sim %q (want address=description[@frequency])", s)
	}
	cfg := sim.DeviceConfig{Address: address, Description: rest}
	if desc, freq, ok := strings.Cut(rest, "@"); ok {
		cfg.Description = desc
		if _, err := fmt.Sscanf(freq, "%g", &cfg.Frequency); err != nil || cfg.Frequency <= 0 {
			return sim.DeviceConfig{}, fmt.Errorf("invalid --sim frequency %q", freq)
		}
	}
	return cfg, nil
}
