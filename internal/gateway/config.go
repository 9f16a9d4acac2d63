package gateway

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/docwatch/sentinel/pkg/events"
)

// Config controls the broadcast gateway's event allow-list and connection
// keepalive behavior.
type Config struct {
	AllowedEvents []string `toml:"allowed_events"`
	WriteTimeout  string   `toml:"write_timeout"`
	PingInterval  string   `toml:"ping_interval"`
	SendBuffer    int      `toml:"send_buffer"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	AllowedEvents string
	WriteTimeout  string
	PingInterval  string
	SendBuffer    string
}

func (c *Config) WriteTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.WriteTimeout)
	return d
}

func (c *Config) PingIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.PingInterval)
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
	if len(overlay.AllowedEvents) > 0 {
		c.AllowedEvents = slices.Clone(overlay.AllowedEvents)
	}
	if overlay.WriteTimeout != "" {
		c.WriteTimeout = overlay.WriteTimeout
	}
	if overlay.PingInterval != "" {
		c.PingInterval = overlay.PingInterval
	}
	if overlay.SendBuffer != 0 {
		c.SendBuffer = overlay.SendBuffer
	}
}

func (c *Config) loadDefaults() {
	if len(c.AllowedEvents) == 0 {
		c.AllowedEvents = []string{
			events.WorkflowCreated,
			events.WorkflowStarted,
			events.WorkflowCompleted,
			events.WorkflowFailed,
			events.WorkflowWaitingApproval,
			events.TaskStarted,
			events.TaskCompleted,
			events.TaskFailed,
			events.TaskAwaitingApproval,
			events.TaskApproved,
			events.TaskRejected,
			events.StageChanged,
			events.DocumentFailed,
			events.DocumentReset,
			events.SessionStarted,
			events.SessionCompleted,
			events.SessionCancelled,
		}
	}
	if c.WriteTimeout == "" {
		c.WriteTimeout = "10s"
	}
	if c.PingInterval == "" {
		c.PingInterval = "30s"
	}
	if c.SendBuffer == 0 {
		c.SendBuffer = 64
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.AllowedEvents != "" {
		if v := os.Getenv(env.AllowedEvents); v != "" {
			c.AllowedEvents = strings.Split(v, ",")
			for i := range c.AllowedEvents {
				c.AllowedEvents[i] = strings.TrimSpace(c.AllowedEvents[i])
			}
		}
	}
	if env.WriteTimeout != "" {
		if v := os.Getenv(env.WriteTimeout); v != "" {
			c.WriteTimeout = v
		}
	}
	if env.PingInterval != "" {
		if v := os.Getenv(env.PingInterval); v != "" {
			c.PingInterval = v
		}
	}
	if env.SendBuffer != "" {
		if v := os.Getenv(env.SendBuffer); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.SendBuffer = n
			}
		}
	}
}

func (c *Config) validate() error {
	if _, err := time.ParseDuration(c.WriteTimeout); err != nil {
		return fmt.Errorf("invalid write timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.PingInterval); err != nil {
		return fmt.Errorf("invalid ping interval: %w", err)
	}
	if c.SendBuffer < 1 {
		return fmt.Errorf("send buffer must be positive")
	}
	return nil
}
