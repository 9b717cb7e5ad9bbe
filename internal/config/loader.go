package config

import (
	"fmt"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path, merges it over the built-in defaults,
// applies environment-variable overrides, and validates the result.
//
// A missing file is not an error: the built-in defaults are returned as
// long as the run target can still be supplied via PIPELINE_TARGET_ROOT.
func Load(path string) (*Config, error) {
	log := slog.With("config_path", path)
	cfg := Default()

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		var user Config
		if err := yaml.Unmarshal(raw, &user); err != nil {
			return nil, &LoadError{File: path, Err: fmt.Errorf("%w: %v", ErrInvalidYAML, err)}
		}
		if err := mergo.Merge(cfg, &user, mergo.WithOverride); err != nil {
			return nil, &LoadError{File: path, Err: err}
		}
	case os.IsNotExist(err):
		log.Warn("configuration file not found, using built-in defaults")
	default:
		return nil, &LoadError{File: path, Err: err}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	return cfg, nil
}

// applyEnvOverrides lets a handful of operationally-sensitive values be set
// without editing the YAML file, mirroring the teacher's env-expansion step.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PIPELINE_TARGET_ROOT"); v != "" {
		cfg.Run.TargetRoot = v
	}
	if v := os.Getenv("PIPELINE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("PIPELINE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("PIPELINE_GRAPH_ENDPOINT"); v != "" {
		cfg.Graph.Endpoint = v
	}
}
