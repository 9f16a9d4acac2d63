package config

import (
	"fmt"
	"os"
	"time"

	"github.com/docwatch/sentinel/internal/agents"
	"github.com/docwatch/sentinel/internal/gateway"
	"github.com/docwatch/sentinel/internal/orchestrator"
	"github.com/docwatch/sentinel/internal/pipeline"
	"github.com/docwatch/sentinel/pkg/database"
	"github.com/docwatch/sentinel/pkg/storage"
	"github.com/pelletier/go-toml/v2"
)

const (
	BaseConfigFile       = "config.toml"
	OverlayConfigPattern = "config.%s.toml"

	EnvSentinelEnv             = "SENTINEL_ENV"
	EnvSentinelShutdownTimeout = "SENTINEL_SHUTDOWN_TIMEOUT"
	EnvSentinelVersion         = "SENTINEL_VERSION"
)

var databaseEnv = &database.Env{
	Host:            "SENTINEL_DB_HOST",
	Port:            "SENTINEL_DB_PORT",
	Name:            "SENTINEL_DB_NAME",
	User:            "SENTINEL_DB_USER",
	Password:        "SENTINEL_DB_PASSWORD",
	SSLMode:         "SENTINEL_DB_SSL_MODE",
	MaxOpenConns:    "SENTINEL_DB_MAX_OPEN_CONNS",
	MaxIdleConns:    "SENTINEL_DB_MAX_IDLE_CONNS",
	ConnMaxLifetime: "SENTINEL_DB_CONN_MAX_LIFETIME",
	ConnTimeout:     "SENTINEL_DB_CONN_TIMEOUT",
}

var storageEnv = &storage.Env{
	ContainerName:    "SENTINEL_STORAGE_CONTAINER_NAME",
	ConnectionString: "SENTINEL_STORAGE_CONNECTION_STRING",
	MaxListSize:      "SENTINEL_STORAGE_MAX_LIST_SIZE",
}

// Config is the root configuration for the engine service.
type Config struct {
	Server          ServerConfig        `toml:"server"`
	Database        database.Config     `toml:"database"`
	Storage         storage.Config      `toml:"storage"`
	API             APIConfig           `toml:"api"`
	Orchestrator    orchestrator.Config `toml:"orchestrator"`
	Pipeline        pipeline.Config     `toml:"pipeline"`
	Agents          agents.Config       `toml:"agents"`
	Gateway         gateway.Config      `toml:"gateway"`
	ShutdownTimeout string              `toml:"shutdown_timeout"`
	Version         string              `toml:"version"`
}

// Env returns the SENTINEL_ENV value, defaulting to "local".
func (c *Config) Env() string {
	if env := os.Getenv(EnvSentinelEnv); env != "" {
		return env
	}
	return "local"
}

// ShutdownTimeoutDuration returns ShutdownTimeout as a time.Duration.
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ShutdownTimeout)
	return d
}

// Load reads the base config (if present), applies any environment overlay,
// and finalizes all values. If no config.toml exists, defaults and environment
// variables provide all configuration.
func Load() (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat(BaseConfigFile); err == nil {
		loaded, err := load(BaseConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if path := overlayPath(); path != "" {
		overlay, err := load(path)
		if err != nil {
			return nil, fmt.Errorf("load overlay %s: %w", path, err)
		}
		cfg.Merge(overlay)
	}

	if err := cfg.finalize(); err != nil {
		return nil, fmt.Errorf("finalize config: %w", err)
	}

	return cfg, nil
}

// Merge overwrites non-zero fields from overlay across all sub-configs.
func (c *Config) Merge(overlay *Config) {
	if overlay.ShutdownTimeout != "" {
		c.ShutdownTimeout = overlay.ShutdownTimeout
	}
	if overlay.Version != "" {
		c.Version = overlay.Version
	}
	c.Server.Merge(&overlay.Server)
	c.Database.Merge(&overlay.Database)
	c.Storage.Merge(&overlay.Storage)
	c.API.Merge(&overlay.API)
	c.Orchestrator.Merge(&overlay.Orchestrator)
	c.Pipeline.Merge(&overlay.Pipeline)
	c.Agents.Merge(&overlay.Agents)
	c.Gateway.Merge(&overlay.Gateway)
}

func (c *Config) finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if err := c.validate(); err != nil {
		return err
	}
	if err := c.Server.Finalize(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Database.Finalize(databaseEnv); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Storage.Finalize(storageEnv); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.API.Finalize(); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if err := c.Orchestrator.Finalize(orchestratorEnv); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	if err := c.Pipeline.Finalize(pipelineEnv); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := c.Agents.Finalize(agentsEnv); err != nil {
		return fmt.Errorf("agents: %w", err)
	}
	if err := c.Gateway.Finalize(gatewayEnv); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	return nil
}
func (c *Config) loadDefaults() {
	if c.ShutdownTimeout == "" {
		c.ShutdownTimeout = "30s"
	}
	if c.Version == "" {
		c.Version = "0.1.0"
	}
}

func (c *Config) loadEnv() {
	if v := os.Getenv(EnvSentinelShutdownTimeout); v != "" {
		c.ShutdownTimeout = v
	}
	if v := os.Getenv(EnvSentinelVersion); v != "" {
		c.Version = v
	}
}

func (c *Config) validate() error {
	if _, err := time.ParseDuration(c.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid shutdown_timeout: %w", err)
	}
	return nil
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

func overlayPath() string {
	if env := os.Getenv(EnvSentinelEnv); env != "" {
		path := fmt.Sprintf(OverlayConfigPattern, env)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
