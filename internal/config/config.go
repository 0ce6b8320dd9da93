// Package config loads the relay configuration from YAML or JSON5 files,
// with $include resolution and environment-variable expansion.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration for the relay daemon.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	State     StateConfig     `yaml:"state"`
	Providers ProvidersConfig `yaml:"providers"`
	Tools     ToolsConfig     `yaml:"tools"`
	Skills    SkillsConfig    `yaml:"skills"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	// Listen is the host:port the gateway binds.
	Listen string `yaml:"listen"`

	// StrictProtocol rejects handshakes whose protocol range does not
	// include the gateway's version.
	StrictProtocol bool `yaml:"strict_protocol"`
}

type StateConfig struct {
	// Dir holds the selection record, secrets, and rollouts.
	Dir string `yaml:"dir"`
}

type ProvidersConfig struct {
	Primary   PrimaryConfig   `yaml:"primary"`
	Secondary SecondaryConfig `yaml:"secondary"`
	Router    RouterConfig    `yaml:"router"`
}

type PrimaryConfig struct {
	BaseURL string `yaml:"base_url"`
}

type SecondaryConfig struct {
	BaseURL string `yaml:"base_url"`
}

type RouterConfig struct {
	BaseURL string `yaml:"base_url"`
}

type ToolsConfig struct {
	// ValidateArgs checks tool-call arguments against the declared
	// schema before dispatch.
	ValidateArgs *bool `yaml:"validate_args"`

	// ExecTimeout bounds a single tool execution. Zero disables the
	// bound; turns are interrupted via session.interrupt instead.
	ExecTimeout time.Duration `yaml:"exec_timeout"`
}

type SkillsConfig struct {
	// Dirs are scanned for SKILL.md definitions.
	Dirs []string `yaml:"dirs"`

	// Watch reloads skills when a directory changes.
	Watch bool `yaml:"watch"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TelemetryConfig struct {
	// Metrics exposes prometheus counters on GET /metrics.
	Metrics bool `yaml:"metrics"`

	// TraceEndpoint is the OTLP gRPC collector address. Empty disables
	// span export.
	TraceEndpoint string `yaml:"trace_endpoint"`

	// TraceInsecure disables TLS for the OTLP connection.
	TraceInsecure bool `yaml:"trace_insecure"`

	// SampleRate is the fraction of traces recorded, (0, 1].
	SampleRate float64 `yaml:"sample_rate"`
}

// Load reads, merges, and validates the configuration at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// ValidateArgsEnabled reports the effective validate_args setting.
func (t ToolsConfig) ValidateArgsEnabled() bool {
	if t.ValidateArgs == nil {
		return true
	}
	return *t.ValidateArgs
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = "127.0.0.1:7171"
	}
	if cfg.State.Dir == "" {
		cfg.State.Dir = DefaultStateDir()
	}
	if cfg.Providers.Primary.BaseURL == "" {
		cfg.Providers.Primary.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Providers.Router.BaseURL == "" {
		cfg.Providers.Router.BaseURL = "https://openrouter.ai/api/v1"
	}
	if cfg.Tools.ExecTimeout == 0 {
		cfg.Tools.ExecTimeout = 60 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Telemetry.SampleRate <= 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if len(cfg.Skills.Dirs) == 0 {
		cfg.Skills.Dirs = []string{filepath.Join(cfg.State.Dir, "skills")}
	}
}

// DefaultStateDir returns ~/.relay, falling back to a relative directory
// when the home directory cannot be resolved.
func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".relay"
	}
	return filepath.Join(home, ".relay")
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if c.State.Dir == "" {
		return fmt.Errorf("state.dir is required")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate must be in (0, 1], got %v", c.Telemetry.SampleRate)
	}
	return nil
}
