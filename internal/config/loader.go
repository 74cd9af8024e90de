package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// defaultConfigPath is used when CONFIG_PATH is unset. A missing file at
// the default path is not an error: a containerized worker typically
// runs on environment variables alone.
const defaultConfigPath = "./config.yaml"

// Load assembles the worker configuration and validates it. Sources in
// priority order: environment variables, then the YAML file, then the
// env-default tags on the config structs.
func Load() (*Config, error) {
	var cfg Config
	if err := readSources(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

func readSources(cfg *Config) error {
	path, explicit := os.LookupEnv("CONFIG_PATH")
	if path == "" {
		path, explicit = defaultConfigPath, false
	}

	switch _, err := os.Stat(path); {
	case err == nil:
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return fmt.Errorf("config: read %s: %w", path, err)
		}
	case explicit:
		// An explicitly requested file that cannot be read is an
		// operator error, never something to fall through silently.
		return fmt.Errorf("config: file %s: %w", path, err)
	default:
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return fmt.Errorf("config: read environment: %w", err)
		}
	}
	return nil
}
