// Package config loads the workflow configuration: the arbitrary values tree
// exposed to templates as `config.*`, plus infrastructure settings (steps
// directory, SSH defaults, telemetry).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/automaxhq/automax/pkg/telemetry"
)

// SSHDefaults are connection settings applied when a sub-step's SSH params
// leave them out.
type SSHDefaults struct {
	// User is the default login user.
	User string `yaml:"user"`

	// Port is the default SSH port.
	Port int `yaml:"port" validate:"min=0,max=65535"`

	// KeyFile is the path to the default private key.
	KeyFile string `yaml:"key_file"`

	// KnownHostsFile is the path to the known_hosts file. Empty disables
	// host key verification.
	KnownHostsFile string `yaml:"known_hosts_file"`

	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// Config is the top-level workflow configuration document.
type Config struct {
	// StepsDir is the directory holding step definition files.
	StepsDir string `yaml:"steps_dir" validate:"required"`

	// Values is the arbitrary key/value tree exposed as `config.*` in
	// templates. The runner never interprets it.
	Values map[string]any `yaml:"values"`

	// EnvFile is an optional dotenv file loaded into the process
	// environment before the run's env snapshot is taken.
	EnvFile string `yaml:"env_file"`

	// SSH holds connection defaults for the SSH plugins.
	SSH SSHDefaults `yaml:"ssh"`

	// HistoryDB is an optional SQLite file recording past runs. Empty
	// disables run history.
	HistoryDB string `yaml:"history_db"`

	// Telemetry configures logging, metrics, and tracing.
	Telemetry *telemetry.Config `yaml:"telemetry"`

	// Source is the file the configuration was loaded from.
	Source string `yaml:"-"`
}

var validate = validator.New()

// Load reads, validates, and finalizes a configuration file. Relative paths
// inside the file (steps_dir, env_file, key files) are resolved against the
// file's directory. The EnvFile, when set, is loaded into the process
// environment here so every later env snapshot sees it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.Source = path

	base := filepath.Dir(path)
	cfg.StepsDir = resolvePath(base, cfg.StepsDir)
	cfg.EnvFile = resolvePath(base, cfg.EnvFile)
	cfg.HistoryDB = resolvePath(base, cfg.HistoryDB)
	cfg.SSH.KeyFile = resolvePath(base, cfg.SSH.KeyFile)
	cfg.SSH.KnownHostsFile = resolvePath(base, cfg.SSH.KnownHostsFile)

	cfg.applyDefaults()

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	if cfg.EnvFile != "" {
		if err := godotenv.Load(cfg.EnvFile); err != nil {
			return nil, fmt.Errorf("loading env file %s: %w", cfg.EnvFile, err)
		}
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Values == nil {
		c.Values = make(map[string]any)
	}
	if c.SSH.Port == 0 {
		c.SSH.Port = 22
	}
	if c.SSH.ConnectTimeout == 0 {
		c.SSH.ConnectTimeout = 10 * time.Second
	}
	if c.Telemetry == nil {
		c.Telemetry = telemetry.DefaultConfig()
	} else {
		def := telemetry.DefaultConfig()
		if c.Telemetry.ServiceName == "" {
			c.Telemetry.ServiceName = def.ServiceName
		}
		if c.Telemetry.ServiceVersion == "" {
			c.Telemetry.ServiceVersion = def.ServiceVersion
		}
		if c.Telemetry.Environment == "" {
			c.Telemetry.Environment = def.Environment
		}
		if c.Telemetry.Logging.Level == "" {
			c.Telemetry.Logging = def.Logging
		}
		if c.Telemetry.Metrics.Namespace == "" {
			c.Telemetry.Metrics.Namespace = def.Metrics.Namespace
		}
		if c.Telemetry.Tracing.SamplingRate == 0 {
			c.Telemetry.Tracing.SamplingRate = def.Tracing.SamplingRate
		}
		if c.Telemetry.Tracing.ExportTimeout == 0 {
			c.Telemetry.Tracing.ExportTimeout = def.Tracing.ExportTimeout
		}
	}
}

// EnvSnapshot captures the process environment as a map. Taken once per run;
// the run never observes later environment changes.
func EnvSnapshot() map[string]string {
	environ := os.Environ()
	out := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}

func resolvePath(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
