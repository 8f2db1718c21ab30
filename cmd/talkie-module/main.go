// talkie-module runs the base server for one module instance: the
// shared health, metrics and config surface, plus directory
// registration. Module-specific API routes are mounted by the module
// binaries built on the same packages.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/talkie-project/talkie/internal/config"
	"github.com/talkie-project/talkie/internal/discovery/driver/etcd"
	"github.com/talkie-project/talkie/internal/discovery/driver/static"
	"github.com/talkie-project/talkie/internal/server"
	"github.com/talkie-project/talkie/internal/tracing"
	"github.com/talkie-project/talkie/pkg/discovery"
)

var (
	configFile = flag.String("config", "talkie.yaml", "Configuration file path")
	moduleName = flag.String("module", "", "Module name to run (must exist in the config)")
	version    = flag.Bool("version", false, "Show version information")
)

const Version = "v1.0.0"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()
	flag.Parse()

	if *version {
		fmt.Printf("Talkie module server %s\n", Version)
		os.Exit(0)
	}
	if *moduleName == "" {
		log.Fatal("-module is required")
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := cfg.Logging.BuildLogger()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	tracer, err := tracing.NewProvider(&cfg.Tracing)
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}

	srvCfg, err := cfg.ServerConfig(*moduleName)
	if err != nil {
		logger.Fatal("failed to resolve server config", zap.Error(err))
	}

	srv, err := server.New(srvCfg, logger)
	if err != nil {
		logger.Fatal("failed to create module server", zap.Error(err))
	}

	if dir := buildDirectory(cfg, logger); dir != nil {
		defer dir.Close()
		srv.SetDirectory(dir)
	}

	// A placeholder API route so the base server is exercisable before
	// the module mounts its real handlers.
	srv.Routes().POST("/api/echo", func(c *gin.Context) {
		var body map[string]interface{}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Request body must be a JSON object",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"echo": body})
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Fatal("module server failed", zap.Error(err))
	}

	if err := tracer.Shutdown(context.Background()); err != nil {
		logger.Warn("failed to shut down tracing", zap.Error(err))
	}
}

// buildDirectory picks the directory implementation from the config:
// etcd when endpoints are set, a static file when given, none
// otherwise.
func buildDirectory(cfg *config.Config, logger *zap.Logger) discovery.Directory {
	infra := cfg.Infrastructure
	if len(infra.Etcd.Endpoints) > 0 {
		dir, err := etcd.New(&etcd.Config{
			Endpoints: infra.Etcd.Endpoints,
			Username:  infra.Etcd.Username,
			Password:  infra.Etcd.Password,
			Namespace: infra.Etcd.Namespace,
		}, logger)
		if err != nil {
			logger.Fatal("failed to connect to etcd", zap.Error(err))
		}
		return dir
	}
	if infra.Discovery.StaticFile != "" {
		dir, err := static.FromFile(infra.Discovery.StaticFile)
		if err != nil {
			logger.Fatal("failed to load static directory", zap.Error(err))
		}
		return dir
	}
	return nil
}
