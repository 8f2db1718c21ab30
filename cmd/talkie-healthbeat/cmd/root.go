package cmd

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/talkie-project/talkie/internal/config"
	"github.com/talkie-project/talkie/internal/discovery/driver/etcd"
	"github.com/talkie-project/talkie/internal/discovery/driver/static"
	"github.com/talkie-project/talkie/internal/healthbeat"
	"github.com/talkie-project/talkie/internal/registry"
	"github.com/talkie-project/talkie/internal/store/driver/memory"
	"github.com/talkie-project/talkie/internal/store/driver/redis"
	"github.com/talkie-project/talkie/pkg/discovery"
	"github.com/talkie-project/talkie/pkg/store"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "talkie-healthbeat",
	Short: "Health monitor for Talkie module instances",
	Long: `talkie-healthbeat probes every registered module instance and keeps
the shared health picture current. Probe results are cached so module
clients prefer healthy instances; status transitions are logged.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	_ = godotenv.Load()
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "talkie.yaml", "Configuration file path")
}

// runtime is the wiring shared by the subcommands.
type runtime struct {
	config    *config.Config
	logger    *zap.Logger
	directory discovery.Directory
	cache     store.Cache
	registry  *registry.Registry
	monitor   *healthbeat.Monitor
}

func buildRuntime() (*runtime, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := cfg.Logging.BuildLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	dir, err := buildDirectory(cfg, logger)
	if err != nil {
		return nil, err
	}

	cache := buildCache(cfg, logger)
	reg := registry.New(dir, cache, cfg.Infrastructure.Discovery.CacheTTL, logger)

	// Watch every configured module unless the healthbeat block names a
	// subset.
	if len(cfg.Healthbeat.Services) == 0 {
		for name := range cfg.Modules {
			cfg.Healthbeat.Services = append(cfg.Healthbeat.Services, name)
		}
	}

	return &runtime{
		config:    cfg,
		logger:    logger,
		directory: dir,
		cache:     cache,
		registry:  reg,
		monitor:   healthbeat.New(&cfg.Healthbeat, dir, reg, logger),
	}, nil
}

func (r *runtime) close() {
	if err := r.directory.Close(); err != nil {
		r.logger.Warn("failed to close directory", zap.Error(err))
	}
	if err := r.cache.Close(); err != nil {
		r.logger.Warn("failed to close cache", zap.Error(err))
	}
	r.logger.Sync()
}

func buildDirectory(cfg *config.Config, logger *zap.Logger) (discovery.Directory, error) {
	infra := cfg.Infrastructure
	if len(infra.Etcd.Endpoints) > 0 {
		return etcd.New(&etcd.Config{
			Endpoints: infra.Etcd.Endpoints,
			Username:  infra.Etcd.Username,
			Password:  infra.Etcd.Password,
			Namespace: infra.Etcd.Namespace,
		}, logger)
	}
	if infra.Discovery.StaticFile != "" {
		return static.FromFile(infra.Discovery.StaticFile)
	}
	return nil, fmt.Errorf("no service directory configured: set etcd endpoints or a static instance file")
}

// buildCache falls back to process-local memory when KeyDB is not
// reachable; monitoring still works, only cross-process status sharing
// is lost.
func buildCache(cfg *config.Config, logger *zap.Logger) store.Cache {
	keydb := cfg.Infrastructure.KeyDB
	cache, err := redis.New(&redis.Config{
		Address:  keydb.Address(),
		Password: keydb.Password,
		Database: keydb.Database,
	})
	if err != nil {
		logger.Warn("KeyDB unreachable, using in-memory cache",
			zap.String("address", keydb.Address()),
			zap.Error(err))
		return memory.New(0)
	}
	return cache
}
