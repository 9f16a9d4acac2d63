package pipeline

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Config controls the stage sequence and batch execution limits. Stages are
// deployment configuration: a deployment may add, remove, or reorder
// intermediate stages as long as the list starts at pending and ends at
// completed.
type Config struct {
	Stages         []string `toml:"stages"`
	Concurrency    int      `toml:"concurrency"`
	PersistTimeout string   `toml:"persist_timeout"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Stages         string
	Concurrency    string
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
	if len(overlay.Stages) > 0 {
		c.Stages = slices.Clone(overlay.Stages)
	}
	if overlay.Concurrency != 0 {
		c.Concurrency = overlay.Concurrency
	}
	if overlay.PersistTimeout != "" {
		c.PersistTimeout = overlay.PersistTimeout
	}
}

func (c *Config) loadDefaults() {
	if len(c.Stages) == 0 {
		c.Stages = []string{
			StagePending,
			"extracting",
			"cleaning",
			"chunking",
			"indexing",
			StageCompleted,
		}
	}
	if c.Concurrency == 0 {
		c.Concurrency = 3
	}
	if c.PersistTimeout == "" {
		c.PersistTimeout = "5s"
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.Stages != "" {
		if v := os.Getenv(env.Stages); v != "" {
			c.Stages = strings.Split(v, ",")
			for i := range c.Stages {
				c.Stages[i] = strings.TrimSpace(c.Stages[i])
			}
		}
	}
	if env.Concurrency != "" {
		if v := os.Getenv(env.Concurrency); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.Concurrency = n
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
	if len(c.Stages) < 2 {
		return fmt.Errorf("at least two stages required")
	}
	if c.Stages[0] != StagePending {
		return fmt.Errorf("first stage must be %q, got %q", StagePending, c.Stages[0])
	}
	if c.Stages[len(c.Stages)-1] != StageCompleted {
		return fmt.Errorf("last stage must be %q, got %q", StageCompleted, c.Stages[len(c.Stages)-1])
	}

	seen := make(map[string]bool, len(c.Stages))
	for _, stage := range c.Stages {
		if stage == StageFailed {
			return fmt.Errorf("%q is reserved and cannot appear in the stage list", StageFailed)
		}
		if seen[stage] {
			return fmt.Errorf("duplicate stage %q", stage)
		}
		seen[stage] = true
	}

	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be positive")
	}
	if _, err := time.ParseDuration(c.PersistTimeout); err != nil {
		return fmt.Errorf("invalid persist timeout: %w", err)
	}
	return nil
}
