package cli

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/mlindner/depsentry/pkg/errors"
)

// Scan strategy names accepted in config and on the command line.
const (
	StrategyMetadata = "metadata"
	StrategySandbox  = "sandbox"
)

// Config is the TOML-backed configuration for the analysis engine.
type Config struct {
	// Strategy selects the scan implementation: "metadata" walks
	// declared dependencies via registry metadata, "sandbox" performs a
	// real isolated install.
	Strategy string `toml:"strategy"`

	RegistryURL string `toml:"registry_url"`
	MirrorURL   string `toml:"mirror_url"`
	DenylistURL string `toml:"denylist_url"`

	MaxDepth     int `toml:"max_depth"`
	BatchSize    int `toml:"batch_size"`
	MaxRetries   int `toml:"max_retries"`
	PrimaryLimit int `toml:"primary_limit"`

	FetchTimeoutSeconds   int `toml:"fetch_timeout_seconds"`
	InstallTimeoutSeconds int `toml:"install_timeout_seconds"`

	InstallBin string `toml:"install_bin"`
	SandboxDir string `toml:"sandbox_dir"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Strategy: StrategyMetadata,
	}
}

// LoadConfig reads a TOML config file, applying defaults for absent
// fields. An empty path returns DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(errors.ErrCodeInvalidConfig, err, "read config %s", path)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(errors.ErrCodeInvalidConfig, err, "parse config %s", path)
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyMetadata
	}
	return cfg, nil
}

// Validate checks fields that have no safe fallback.
func (c Config) Validate() error {
	switch c.Strategy {
	case StrategyMetadata, StrategySandbox:
		return nil
	default:
		return errors.New(errors.ErrCodeInvalidConfig, "unknown strategy %q (want %q or %q)", c.Strategy, StrategyMetadata, StrategySandbox)
	}
}

func (c Config) fetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

func (c Config) installTimeout() time.Duration {
	return time.Duration(c.InstallTimeoutSeconds) * time.Second
}
