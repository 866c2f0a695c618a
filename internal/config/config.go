// Package config loads pinvault configuration.
//
// Sources, highest priority first:
// 1. Environment variables: PINVAULT_ prefix, dots become underscores
//    (gate.pin_length -> PINVAULT_GATE_PIN_LENGTH)
// 2. config.yaml in the data directory (optional)
// 3. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/forest6511/pinvault/pkg/crypto"
	"github.com/forest6511/pinvault/pkg/gate"
)

// EnvPrefix is the environment variable prefix.
const EnvPrefix = "PINVAULT"

// DefaultDirName is the data directory under the user's home.
const DefaultDirName = ".pinvault"

// Config is the root configuration structure.
type Config struct {
	DataDir   string          `mapstructure:"data_dir" yaml:"data_dir"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Gate      GateConfig      `mapstructure:"gate" yaml:"gate"`
	Biometric BiometricConfig `mapstructure:"biometric" yaml:"biometric"`
	Audit     AuditConfig     `mapstructure:"audit" yaml:"audit"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// GateConfig contains access controller settings.
type GateConfig struct {
	PINLength         int           `mapstructure:"pin_length" yaml:"pin_length"`
	DigestAlgorithm   string        `mapstructure:"digest_algorithm" yaml:"digest_algorithm"`
	CooldownThreshold int           `mapstructure:"cooldown_threshold" yaml:"cooldown_threshold"`
	Cooldown          time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
}

// BiometricConfig names the external biometric helper. An empty command
// means biometrics are unavailable.
type BiometricConfig struct {
	Command string   `mapstructure:"command" yaml:"command"`
	Args    []string `mapstructure:"args" yaml:"args"`
}

// AuditConfig contains audit log settings.
type AuditConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Options select where to load from.
type Options struct {
	// DataDir overrides data_dir from every other source.
	DataDir string
	// ConfigFile is an explicit config file. When empty, config.yaml in the
	// data directory is used if present.
	ConfigFile string
}

// Load reads configuration from file and environment variables.
func Load(opts Options) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = v.GetString("data_dir")
	}
	dataDir, err := expandHome(dataDir)
	if err != nil {
		return nil, err
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dataDir)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
			// Config file is optional, use defaults and env vars
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if opts.DataDir != "" {
		cfg.DataDir = dataDir
	} else if cfg.DataDir, err = expandHome(cfg.DataDir); err != nil {
		return nil, err
	}
	cfg.Gate.DigestAlgorithm = strings.ToLower(cfg.Gate.DigestAlgorithm)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Validate checks for configuration errors.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Gate.PINLength < gate.MinPINLength || c.Gate.PINLength > gate.MaxPINLength {
		return fmt.Errorf("gate.pin_length must be between %d and %d, got %d",
			gate.MinPINLength, gate.MaxPINLength, c.Gate.PINLength)
	}
	if !crypto.ValidAlgorithm(c.Gate.DigestAlgorithm) {
		return fmt.Errorf("gate.digest_algorithm %q is not supported", c.Gate.DigestAlgorithm)
	}
	if c.Gate.CooldownThreshold < 0 {
		return fmt.Errorf("gate.cooldown_threshold must not be negative")
	}
	if c.Gate.CooldownThreshold > 0 && c.Gate.Cooldown <= 0 {
		return fmt.Errorf("gate.cooldown must be positive when gate.cooldown_threshold is set")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	return nil
}

// AuditDir is the audit log directory inside the data directory.
func (c *Config) AuditDir() string {
	return filepath.Join(c.DataDir, "audit")
}

func expandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "~/"+DefaultDirName)

	// Log
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "console")

	// Gate
	v.SetDefault("gate.pin_length", gate.DefaultPINLength)
	v.SetDefault("gate.digest_algorithm", crypto.AlgorithmSHA256)
	v.SetDefault("gate.cooldown_threshold", 0)
	v.SetDefault("gate.cooldown", "30s")

	// Biometric
	v.SetDefault("biometric.command", "")
	v.SetDefault("biometric.args", []string{})

	// Audit
	v.SetDefault("audit.enabled", true)
}
