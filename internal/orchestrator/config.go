package orchestrator

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds scheduler tuning parameters.
type Config struct {
	Workers        int    `toml:"workers"`
	PersistTimeout string `toml:"persist_timeout"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Workers        string
	PersistTimeout string
}

// PersistTimeoutDuration returns PersistTimeout as a time.Duration.
func (c *Config) PersistTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.PersistTimeout)
	return d
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.Workers != 0 {
		c.Workers = overlay.Workers
	}
	if overlay.PersistTimeout != "" {
		c.PersistTimeout = overlay.PersistTimeout
	}
}

func (c *Config) loadDefaults() {
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.PersistTimeout == "" {
		c.PersistTimeout = "5s"
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.Workers != "" {
		if v := os.Getenv(env.Workers); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.Workers = n
			}
		}
	}
	if env.PersistTimeout != "" {
		if v := os.Getenv(env.PersistTimeout); v != "" {
			c.PersistTimeout = v
		}
	}
}

func (c *Config) validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive")
	}
	if _, err := time.ParseDuration(c.PersistTimeout); err != nil {
		return fmt.Errorf("invalid persist_timeout: %w", err)
	}
	return nil
}
