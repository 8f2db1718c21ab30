// Package config loads the Talkie deployment configuration: which
// modules run where, how clients reach them, and the shared
// infrastructure (etcd directory, KeyDB cache, tracing) they use.
package config

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/talkie-project/talkie/internal/healthbeat"
	"github.com/talkie-project/talkie/internal/tracing"
)

// Config is the full deployment configuration.
type Config struct {
	Logging        LoggingConfig           `yaml:"logging"`
	Tracing        tracing.Config          `yaml:"tracing"`
	Infrastructure InfrastructureConfig    `yaml:"infrastructure"`
	Modules        map[string]ModuleConfig `yaml:"modules"`
	Healthbeat     healthbeat.Config       `yaml:"healthbeat"`
}

// LoggingConfig controls the zap logger built for the process.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// InfrastructureConfig describes the shared backing services.
type InfrastructureConfig struct {
	Etcd      EtcdConfig      `yaml:"etcd"`
	KeyDB     KeyDBConfig     `yaml:"keydb"`
	Discovery DiscoveryConfig `yaml:"discovery"`
}

// EtcdConfig points at the service directory cluster.
type EtcdConfig struct {
	Endpoints []string `yaml:"endpoints"`
	Username  string   `yaml:"username"`
	Password  string   `yaml:"password"`
	Namespace string   `yaml:"namespace"`
}

// KeyDBConfig points at the shared cache tier.
type KeyDBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	Database int    `yaml:"database"`
}

// Address returns the host:port the cache driver dials.
func (c KeyDBConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DiscoveryConfig tunes how clients resolve module endpoints.
type DiscoveryConfig struct {
	// Enabled switches clients from static endpoints to directory
	// lookups.
	Enabled bool `yaml:"enabled"`

	// Interval throttles client endpoint refreshes and drives the
	// healthbeat sweep period.
	Interval time.Duration `yaml:"interval"`

	// CacheTTL bounds how long discovery results live in the cache.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// Strategy is the default load balancing strategy for clients.
	Strategy string `yaml:"strategy"`

	// StaticFile seeds a file-backed directory when etcd is not
	// configured.
	StaticFile string `yaml:"static_file"`
}

// ModuleConfig describes one module: where its server listens and how
// clients should call it.
type ModuleConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Version string `yaml:"version"`

	// AdvertiseAddress is what gets registered in the directory.
	AdvertiseAddress string   `yaml:"advertise_address"`
	Tags             []string `yaml:"tags"`

	// Endpoints are static client targets, used when discovery is off
	// or as an explicit override for this module.
	Endpoints []string `yaml:"endpoints"`

	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`

	RetryMax         int           `yaml:"retry_max"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
}

// Validate checks the configuration for contradictions before anything
// starts.
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.Logging),
		validation.Field(&c.Infrastructure),
	)
	if err != nil {
		return err
	}
	for name, module := range c.Modules {
		if err := module.validate(); err != nil {
			return fmt.Errorf("module %q: %w", name, err)
		}
		if !c.Infrastructure.Discovery.Enabled && len(module.Endpoints) == 0 && module.Port <= 0 {
			return fmt.Errorf("module %q: endpoints or a port are required when service discovery is disabled", name)
		}
	}
	return nil
}

func (c LoggingConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Level, validation.In("debug", "info", "warn", "error", "")),
		validation.Field(&c.Format, validation.In("json", "console", "")),
	)
}

func (c InfrastructureConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.KeyDB, validation.Skip.When(c.KeyDB.Host == "")),
	)
}

func (c KeyDBConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.Database, validation.Min(0)),
	)
}

func (m ModuleConfig) validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Port, validation.Min(0), validation.Max(65535)),
		validation.Field(&m.RetryMax, validation.Min(0)),
	)
}
