// Package server provides the HTTP base every Talkie module runs on.
// It serves the shared operational surface (health probes, metrics,
// runtime config, version) and registers the module with the service
// directory; module-specific API routes are mounted on top.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/talkie-project/talkie/internal/auth"
	"github.com/talkie-project/talkie/pkg/discovery"
)

const (
	apiVersion = "1.0"

	registerAttempts = 5
	registerBackoff  = 2 * time.Second
)

// Config configures a module server.
type Config struct {
	ModuleName string `yaml:"module_name"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Version    string `yaml:"version"`

	// AdvertiseAddress is the address other modules should dial. It
	// defaults to Host, which only works when Host is routable.
	AdvertiseAddress string   `yaml:"advertise_address"`
	Tags             []string `yaml:"tags"`

	// Inbound auth. When APIKey is set, API routes require it (or a
	// bearer token carrying it). JWTSecret switches to JWT validation.
	APIKey    string `yaml:"api_key"`
	JWTSecret string `yaml:"jwt_secret"`
	JWTIssuer string `yaml:"jwt_issuer"`
}

// Server is the base HTTP server for one module instance.
type Server struct {
	config     *Config
	engine     *gin.Engine
	logger     *zap.Logger
	metrics    *Metrics
	instanceID string
	started    time.Time

	ready      atomic.Bool
	readyCheck func() error

	configMu     sync.RWMutex
	moduleConfig map[string]interface{}
	onConfig     func(map[string]interface{}) error
	onReload     func() error

	directory discovery.Directory

	httpSrv *http.Server
}

// New builds a module server with the standard endpoints mounted.
func New(config *Config, logger *zap.Logger) (*Server, error) {
	if config == nil || config.ModuleName == "" {
		return nil, fmt.Errorf("server: module name is required")
	}
	if config.Port <= 0 {
		return nil, fmt.Errorf("server: port is required for %s", config.ModuleName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := *config
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	if cfg.AdvertiseAddress == "" {
		cfg.AdvertiseAddress = cfg.Host
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		config:       &cfg,
		engine:       gin.New(),
		logger:       logger.With(zap.String("module", cfg.ModuleName)),
		instanceID:   fmt.Sprintf("%s-%s", cfg.ModuleName, uuid.NewString()[:8]),
		started:      time.Now(),
		moduleConfig: make(map[string]interface{}),
	}
	s.metrics = newMetrics(cfg.ModuleName, s.started, s.ready.Load)
	s.ready.Store(true)

	s.engine.Use(gin.Recovery())
	s.engine.Use(requestIDMiddleware())
	s.engine.Use(tracingMiddleware(cfg.ModuleName))
	s.engine.Use(s.metricsMiddleware())
	if validator := s.validator(); validator != nil {
		s.engine.Use(s.authMiddleware(validator))
	}

	s.registerBaseRoutes()
	return s, nil
}

func (s *Server) validator() auth.Validator {
	switch {
	case s.config.JWTSecret != "":
		return auth.NewJWTValidator(s.config.JWTSecret, s.config.JWTIssuer)
	case s.config.APIKey != "":
		return auth.NewAPIKeyValidator(s.config.APIKey)
	default:
		return nil
	}
}

func (s *Server) registerBaseRoutes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/health/live", s.handleLive)
	s.engine.GET("/health/ready", s.handleReady)
	s.engine.GET("/config", s.handleGetConfig)
	s.engine.POST("/config", s.handleUpdateConfig)
	s.engine.POST("/config/reload", s.handleReloadConfig)
	s.engine.GET("/metrics", s.handleMetrics)
	s.engine.GET("/metrics/prometheus", gin.WrapH(s.metrics.Handler()))
	s.engine.GET("/version", s.handleVersion)
}

// InstanceID returns this instance's directory identity.
func (s *Server) InstanceID() string {
	return s.instanceID
}

// Routes exposes the router so modules can mount their API handlers.
func (s *Server) Routes() *gin.Engine {
	return s.engine
}

// SetReady flips the readiness probe. Modules start ready and mark
// themselves not ready while loading models or draining.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// SetReadyCheck installs an additional readiness check consulted by the
// ready probe.
func (s *Server) SetReadyCheck(fn func() error) {
	s.readyCheck = fn
}

// SetConfig replaces the runtime config served on /config.
func (s *Server) SetConfig(cfg map[string]interface{}) {
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.moduleConfig = make(map[string]interface{}, len(cfg))
	for k, v := range cfg {
		s.moduleConfig[k] = v
	}
}

// OnConfigUpdate installs the hook invoked when POST /config merges new
// values. The hook sees the merged config and may reject it.
func (s *Server) OnConfigUpdate(fn func(map[string]interface{}) error) {
	s.onConfig = fn
}

// OnReload installs the hook invoked by POST /config/reload.
func (s *Server) OnReload(fn func() error) {
	s.onReload = fn
}

// SetDirectory enables registration with the service directory when the
// server starts.
func (s *Server) SetDirectory(dir discovery.Directory) {
	s.directory = dir
}

// Run serves until ctx is cancelled, then deregisters and shuts down.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("module server listening",
			zap.String("addr", s.httpSrv.Addr),
			zap.String("instance_id", s.instanceID))
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	if s.directory != nil {
		go s.registerWithDirectory(ctx)
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if s.directory != nil {
		deregCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.directory.Deregister(deregCtx, s.instanceID); err != nil {
			s.logger.Warn("failed to deregister from directory", zap.Error(err))
		}
		cancel()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("shutting down module server")
	return s.httpSrv.Shutdown(shutdownCtx)
}

// registerWithDirectory announces this instance, retrying a few times so
// a directory that starts alongside the module does not lose us.
func (s *Server) registerWithDirectory(ctx context.Context) {
	reg := &discovery.Registration{
		ID:             s.instanceID,
		Service:        s.config.ModuleName,
		Address:        s.config.AdvertiseAddress,
		Port:           s.config.Port,
		HealthCheckURL: fmt.Sprintf("http://%s:%d/health", s.config.AdvertiseAddress, s.config.Port),
		Tags:           s.config.Tags,
		Metadata: map[string]string{
			"version":      s.config.Version,
			"api_version":  apiVersion,
			"metrics_path": "/metrics",
		},
	}

	for attempt := 1; attempt <= registerAttempts; attempt++ {
		err := s.directory.Register(ctx, reg)
		if err == nil {
			s.logger.Info("registered with service directory",
				zap.String("instance_id", s.instanceID),
				zap.String("address", reg.Address),
				zap.Int("port", reg.Port))
			return
		}
		s.logger.Warn("directory registration failed",
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(registerBackoff):
		}
	}
	s.logger.Error("giving up on directory registration",
		zap.Int("attempts", registerAttempts))
}
