// Package config handles node configuration loading using viper.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"veilnet.io/stratum/internal/core"
	logpkg "veilnet.io/stratum/internal/log"
)

// GlobalConfig is the top-level static configuration, mapping to the
// `stratum:` root key in YAML.
type GlobalConfig struct {
	Node      NodeConfig      `mapstructure:"node"`
	Transport TransportConfig `mapstructure:"transport"`
	Roots     []RootSpec      `mapstructure:"roots"`
	RootsFile string          `mapstructure:"roots_file"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       logpkg.Config   `mapstructure:"log"`
	DataDir   string          `mapstructure:"data_dir"`
}

// NodeConfig contains node identity settings.
type NodeConfig struct {
	// IdentityFile overrides the default identity location under DataDir.
	IdentityFile string `mapstructure:"identity_file"`
}

// TransportConfig contains UDP socket settings.
type TransportConfig struct {
	Listen      []string `mapstructure:"listen"` // e.g. "0.0.0.0:9993"
	RecvBufSize int      `mapstructure:"recv_buf_size"`
	BatchSize   int      `mapstructure:"batch_size"`
}

// RootSpec names one root: its full public identity and the physical
// endpoints it can be reached at.
type RootSpec struct {
	Identity  string   `mapstructure:"identity" yaml:"identity"`
	Endpoints []string `mapstructure:"endpoints" yaml:"endpoints"`
}

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// Load reads and validates the configuration file. A missing file yields
// defaults.
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetDefault("data_dir", "/var/lib/stratum")
	v.SetDefault("transport.listen", []string{"0.0.0.0:9993"})
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9900")
	v.SetEnvPrefix("STRATUM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, missing := err.(viper.ConfigFileNotFoundError); !missing && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg := &GlobalConfig{}
	sub := v
	if v.IsSet("stratum") {
		// Allow either a bare document or one nested under `stratum:`.
		raw := v.Get("stratum")
		if m, ok := raw.(map[string]any); ok {
			if err := mapstructure.Decode(m, cfg); err != nil {
				return nil, fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
			}
			return cfg, validate(cfg)
		}
	}
	if err := sub.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}
	return cfg, validate(cfg)
}

func validate(cfg *GlobalConfig) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("%w: data_dir must be set", core.ErrConfigInvalid)
	}
	if len(cfg.Transport.Listen) == 0 {
		return fmt.Errorf("%w: transport.listen must name at least one address", core.ErrConfigInvalid)
	}
	return nil
}

// LoadRoots merges the inline root specs with the optional standalone
// roots file (a YAML list of RootSpec).
func (c *GlobalConfig) LoadRoots() ([]RootSpec, error) {
	roots := append([]RootSpec(nil), c.Roots...)
	if c.RootsFile != "" {
		data, err := os.ReadFile(c.RootsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read roots file: %w", err)
		}
		var fileRoots []RootSpec
		if err := yaml.Unmarshal(data, &fileRoots); err != nil {
			return nil, fmt.Errorf("%w: roots file: %v", core.ErrConfigInvalid, err)
		}
		roots = append(roots, fileRoots...)
	}
	return roots, nil
}
