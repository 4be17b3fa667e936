package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config describes the top-level application configuration loaded from YAML and ENV.
type Config struct {
	Version  string         `mapstructure:"version"`
	Pi       PiConfig       `mapstructure:"pi"`
	Delegate DelegateConfig `mapstructure:"delegate"`
	Approval ApprovalConfig `mapstructure:"approval"`
	Install  InstallConfig  `mapstructure:"install"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Server   ServerConfig   `mapstructure:"server"`
}

// PiConfig identifies the Pi binary and the provider/model it should run with.
// Provider and model are opaque strings passed straight through to Pi's CLI.
type PiConfig struct {
	Provider   string `mapstructure:"provider"`    // e.g. fae-local, anthropic
	Model      string `mapstructure:"model"`       // e.g. fae-qwen3
	BinaryPath string `mapstructure:"binary_path"` // optional explicit path, skips detection
}

// DelegateConfig controls the delegate tool's polling loop.
type DelegateConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"` // hard wall-clock deadline per task
	PollMillis     int `mapstructure:"poll_millis"`     // sleep between event polls
}

// Timeout returns the task deadline as a duration.
func (d DelegateConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// PollInterval returns the poll sleep as a duration.
func (d DelegateConfig) PollInterval() time.Duration {
	return time.Duration(d.PollMillis) * time.Millisecond
}

// ApprovalConfig controls the human-in-the-loop gate around dangerous tools.
type ApprovalConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	TimeoutSeconds int  `mapstructure:"timeout_seconds"`
}

// Timeout returns the approval wait as a duration.
func (a ApprovalConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// InstallConfig controls Pi binary detection and installation.
type InstallConfig struct {
	AutoInstall bool   `mapstructure:"auto_install"` // download from the release index when nothing is found
	ReleaseURL  string `mapstructure:"release_url"`  // release index endpoint (latest-release JSON)
	InstallDir  string `mapstructure:"install_dir"`  // override managed install directory
	StateDir    string `mapstructure:"state_dir"`    // override marker/state directory
}

// LoggingConfig controls logger behaviour.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // console or json
}

// ServerConfig describes daemon settings.
type ServerConfig struct {
	Addr           string `mapstructure:"addr"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	Transport      string `mapstructure:"transport"` // connect or ndjson
}

// Load reads configuration from the provided path or defaults to configs/config.yaml.
// Environment variables override file values (prefix: FAE_, dots replaced with underscores).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FAE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
	} else {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && path == "" {
			v.SetConfigName("config.example")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults populates sensible defaults for optional fields.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("pi.provider", "fae-local")
	v.SetDefault("pi.model", "fae-qwen3")
	v.SetDefault("pi.binary_path", "")

	v.SetDefault("delegate.timeout_seconds", 300)
	v.SetDefault("delegate.poll_millis", 50)

	v.SetDefault("approval.enabled", true)
	v.SetDefault("approval.timeout_seconds", 60)

	v.SetDefault("install.auto_install", false)
	v.SetDefault("install.release_url", "https://api.github.com/repos/badlogic/pi-mono/releases/latest")
	v.SetDefault("install.install_dir", "")
	v.SetDefault("install.state_dir", "")

	v.SetDefault("server.addr", ":8090")
	v.SetDefault("server.metrics_enabled", true)
	v.SetDefault("server.transport", "connect")
}

// Validate performs basic sanity checks on configuration values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Pi.Provider) == "" {
		return errors.New("pi.provider is required")
	}
	if strings.TrimSpace(c.Pi.Model) == "" {
		return errors.New("pi.model is required")
	}

	// The delegate deadline must stay within a sane band: long enough for real
	// coding tasks, short enough that a hung Pi cannot pin a session forever.
	if c.Delegate.TimeoutSeconds < 60 || c.Delegate.TimeoutSeconds > 1800 {
		return fmt.Errorf("delegate.timeout_seconds must be within [60,1800], got %d", c.Delegate.TimeoutSeconds)
	}
	if c.Delegate.PollMillis < 10 || c.Delegate.PollMillis > 1000 {
		return fmt.Errorf("delegate.poll_millis must be within [10,1000], got %d", c.Delegate.PollMillis)
	}

	if c.Approval.TimeoutSeconds <= 0 {
		return errors.New("approval.timeout_seconds must be > 0")
	}

	if c.Install.AutoInstall && strings.TrimSpace(c.Install.ReleaseURL) == "" {
		return errors.New("install.release_url must be set when install.auto_install is true")
	}

	switch strings.ToLower(strings.TrimSpace(c.Server.Transport)) {
	case "", "connect", "ndjson":
	default:
		return fmt.Errorf("server.transport must be one of connect or ndjson, got %q", c.Server.Transport)
	}

	return nil
}
