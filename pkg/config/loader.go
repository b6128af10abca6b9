// Package config reads configuration from the environment. The service has
// no config files; everything is env vars with defaults, declared as `env`
// tags on internal/config.Config.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Load parses environment variables into cfg according to its `env` tags,
// e.g. `env:"PROFILE_DEBOUNCE" envDefault:"900ms"`.
func Load(cfg any) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
