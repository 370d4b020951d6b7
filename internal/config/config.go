package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v2"

	"github.com/bibin-skaria/layer-reuse/internal/errors"
	"github.com/bibin-skaria/layer-reuse/internal/types"
)

const (
	InspectorNative = "native"
	InspectorSkopeo = "skopeo"

	// DefaultHistoryAuthor is the history author written by the component
	// layer builder.
	DefaultHistoryAuthor = "chunkah"

	DefaultComponentLimit = 5

	EnvConfigPath = "LAYER_REUSE_CONFIG"
	EnvInspector  = "LAYER_REUSE_INSPECTOR"
	EnvLogLevel   = "LAYER_REUSE_LOG_LEVEL"
	EnvJobs       = "LAYER_REUSE_JOBS"
)

type Config struct {
	Inspector      string               `yaml:"inspector"`
	SkopeoPath     string               `yaml:"skopeo_path"`
	SkopeoArgs     []string             `yaml:"skopeo_args"`
	HistoryAuthor  string               `yaml:"history_author"`
	ComponentLimit int                  `yaml:"component_limit"`
	Jobs           int                  `yaml:"jobs"`
	Platform       string               `yaml:"platform"`
	LogLevel       string               `yaml:"log_level"`
	LogFormat      string               `yaml:"log_format"`
	Retries        int                  `yaml:"retries"`
	Registry       types.RegistryConfig `yaml:"registry"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Inspector:      InspectorNative,
		SkopeoPath:     "skopeo",
		HistoryAuthor:  DefaultHistoryAuthor,
		ComponentLimit: DefaultComponentLimit,
		Jobs:           1,
		LogLevel:       "info",
		LogFormat:      "text",
		Retries:        3,
		Registry: types.RegistryConfig{
			Registries: make(map[string]types.RegistryAuth),
		},
	}
}

// Load reads the configuration. An explicit path must exist; otherwise
// LAYER_REUSE_CONFIG and then the per-user default file are tried and may be
// absent. Environment overrides are applied last. Callers run Validate after
// applying their own overrides.
func Load(path string) (*Config, error) {
	config := Default()

	required := path != ""
	if path == "" {
		path = os.Getenv(EnvConfigPath)
		required = path != ""
	}
	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, ".config", "layer-reuse", "config.yaml")
		}
	}

	if path != "" {
		if err := loadFile(config, path, required); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(config); err != nil {
		return nil, err
	}

	if config.HistoryAuthor == "" {
		config.HistoryAuthor = DefaultHistoryAuthor
	}

	return config, nil
}

func loadFile(config *Config, path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return errors.NewConfigurationError("load_config", fmt.Sprintf("reading config %s", path), err)
	}

	if err := yaml.UnmarshalStrict(data, config); err != nil {
		return errors.NewConfigurationError("load_config", fmt.Sprintf("parsing config %s", path), err)
	}

	if config.Registry.Registries == nil {
		config.Registry.Registries = make(map[string]types.RegistryAuth)
	}

	return nil
}

func applyEnv(config *Config) error {
	if inspector := os.Getenv(EnvInspector); inspector != "" {
		config.Inspector = inspector
	}

	if level := os.Getenv(EnvLogLevel); level != "" {
		config.LogLevel = level
	}

	if jobs := os.Getenv(EnvJobs); jobs != "" {
		n, err := strconv.Atoi(jobs)
		if err != nil {
			return errors.NewConfigurationError("load_config", fmt.Sprintf("invalid %s %q", EnvJobs, jobs), err)
		}
		config.Jobs = n
	}

	return nil
}

// Validate checks values that cannot be fixed up silently.
func (c *Config) Validate() error {
	switch c.Inspector {
	case InspectorNative, InspectorSkopeo:
	default:
		return errors.NewConfigurationError("validate_config",
			fmt.Sprintf("invalid inspector %q (expected %s or %s)", c.Inspector, InspectorNative, InspectorSkopeo), nil)
	}

	if c.Jobs < 1 {
		return errors.NewConfigurationError("validate_config", fmt.Sprintf("jobs must be at least 1, got %d", c.Jobs), nil)
	}

	if c.ComponentLimit < 1 {
		return errors.NewConfigurationError("validate_config", fmt.Sprintf("component_limit must be at least 1, got %d", c.ComponentLimit), nil)
	}

	if c.Retries < 0 {
		return errors.NewConfigurationError("validate_config", fmt.Sprintf("retries cannot be negative, got %d", c.Retries), nil)
	}

	if c.Platform != "" {
		if _, err := types.ParsePlatform(c.Platform); err != nil {
			return errors.NewConfigurationError("validate_config", "invalid platform", err)
		}
	}

	return nil
}

// TargetPlatform returns the configured platform or the host default.
func (c *Config) TargetPlatform() types.Platform {
	if c.Platform != "" {
		if p, err := types.ParsePlatform(c.Platform); err == nil {
			return p
		}
	}
	return types.GetHostPlatform()
}
