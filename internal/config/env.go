package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix namespaces environment overrides, e.g. FARMER_DATABASE_PASSWORD.
const EnvPrefix = "FARMER_"

// ApplyEnv overlays FARMER_* environment variables on cfg. Variables that are
// not set leave the file value untouched.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
