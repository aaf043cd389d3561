package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// config is the alo tool configuration. Precedence, lowest to
// highest: built-in defaults, YAML file, ALO_* environment variables,
// command line flags.
type config struct {
	// Persist selects restore token persistence: 0 never, 1 process
	// lifetime, 2 durable on disk.
	Persist int `yaml:"persist" env:"ALO_PERSIST"`

	// Capture controls whether sessions negotiate screen capture.
	Capture bool `yaml:"capture" env:"ALO_CAPTURE"`

	// TokenPath overrides the restore token file location.
	TokenPath string `yaml:"token_path" env:"ALO_TOKEN_PATH"`

	Debug   bool `yaml:"debug" env:"ALO_DEBUG"`
	JSONLog bool `yaml:"json_log" env:"ALO_JSON_LOG"`
}

func defaultConfig() config {
	return config{Persist: 2, Capture: true}
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "open-alo", "alo.yaml")
}

// loadConfig resolves the file and environment layers. An explicitly
// given path must exist; the default path is optional.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()

	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist) && !explicit:
			// No config file is fine, defaults apply.
		default:
			return config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return config{}, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.Persist < 0 || cfg.Persist > 2 {
		return config{}, fmt.Errorf("persist must be 0, 1 or 2, got %d", cfg.Persist)
	}
	return cfg, nil
}
