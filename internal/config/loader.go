package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/talkie-project/talkie/internal/client"
	"github.com/talkie-project/talkie/internal/healthbeat"
	"github.com/talkie-project/talkie/internal/server"
)

// Load reads the config file, applies environment overrides and
// validates the result. An empty path yields the defaults with
// overrides applied.
func Load(configFile string) (*Config, error) {
	cfg := defaults()

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Infrastructure: InfrastructureConfig{
			KeyDB: KeyDBConfig{
				Host: "localhost",
				Port: 6379,
			},
			Discovery: DiscoveryConfig{
				Enabled:  false,
				Interval: 30 * time.Second,
				CacheTTL: 30 * time.Second,
				Strategy: "round_robin",
			},
		},
		Modules: make(map[string]ModuleConfig),
		Healthbeat: healthbeat.Config{
			Interval:     30 * time.Second,
			ProbeTimeout: 5 * time.Second,
		},
	}
}

// applyEnvOverrides lets deployments adjust the file config without
// editing it, which is how the containerized setups inject addresses.
func applyEnvOverrides(cfg *Config) {
	if endpoints := os.Getenv("TALKIE_ETCD_ENDPOINTS"); endpoints != "" {
		cfg.Infrastructure.Etcd.Endpoints = strings.Split(endpoints, ",")
	}
	if username := os.Getenv("TALKIE_ETCD_USERNAME"); username != "" {
		cfg.Infrastructure.Etcd.Username = username
	}
	if password := os.Getenv("TALKIE_ETCD_PASSWORD"); password != "" {
		cfg.Infrastructure.Etcd.Password = password
	}
	if host := os.Getenv("TALKIE_KEYDB_HOST"); host != "" {
		cfg.Infrastructure.KeyDB.Host = host
	}
	if port := os.Getenv("TALKIE_KEYDB_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			cfg.Infrastructure.KeyDB.Port = n
		}
	}
	if password := os.Getenv("TALKIE_KEYDB_PASSWORD"); password != "" {
		cfg.Infrastructure.KeyDB.Password = password
	}
	if level := os.Getenv("TALKIE_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("TALKIE_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}
	if addr := os.Getenv("TALKIE_ADVERTISE_ADDRESS"); addr != "" {
		for name, module := range cfg.Modules {
			module.AdvertiseAddress = addr
			cfg.Modules[name] = module
		}
	}
}

// BuildLogger constructs the process logger from the logging section.
func (c LoggingConfig) BuildLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	if c.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}

// ClientConfig resolves the client configuration for calling one
// module. Static endpoints on the module block win over discovery.
func (c *Config) ClientConfig(module string) (*client.Config, error) {
	mc, ok := c.Modules[module]
	if !ok {
		return nil, fmt.Errorf("module %q is not configured", module)
	}

	discovery := c.Infrastructure.Discovery
	out := &client.Config{
		ModuleName:          module,
		Endpoints:           mc.Endpoints,
		Strategy:            discovery.Strategy,
		Timeout:             mc.Timeout,
		RetryMax:            mc.RetryMax,
		RetryDelay:          mc.RetryDelay,
		FailureThreshold:    mc.FailureThreshold,
		RecoveryTimeout:     mc.RecoveryTimeout,
		APIKey:              mc.APIKey,
		HealthCheckInterval: discovery.Interval,
	}
	if len(mc.Endpoints) == 0 && discovery.Enabled {
		out.UseServiceDiscovery = true
	}
	if len(mc.Endpoints) == 0 && !discovery.Enabled && mc.Port > 0 {
		// A local single-instance deployment: derive the endpoint from
		// the module's own server block.
		host := mc.Host
		if host == "" || host == "0.0.0.0" {
			host = "localhost"
		}
		out.Endpoints = []string{fmt.Sprintf("http://%s:%d", host, mc.Port)}
	}
	return out, nil
}

// ServerConfig resolves the server configuration for running one
// module.
func (c *Config) ServerConfig(module string) (*server.Config, error) {
	mc, ok := c.Modules[module]
	if !ok {
		return nil, fmt.Errorf("module %q is not configured", module)
	}
	if mc.Port <= 0 {
		return nil, fmt.Errorf("module %q has no server port configured", module)
	}
	return &server.Config{
		ModuleName:       module,
		Host:             mc.Host,
		Port:             mc.Port,
		Version:          mc.Version,
		AdvertiseAddress: mc.AdvertiseAddress,
		Tags:             mc.Tags,
		APIKey:           mc.APIKey,
	}, nil
}
