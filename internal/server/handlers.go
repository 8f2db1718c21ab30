package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (s *Server) handleHealth(c *gin.Context) {
	ready := s.ready.Load()
	status := "healthy"
	if !ready {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         status,
		"ready":          ready,
		"module":         s.config.ModuleName,
		"instance_id":    s.instanceID,
		"version":        s.config.Version,
		"uptime_seconds": time.Since(s.started).Seconds(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleLive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) handleReady(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	if s.readyCheck != nil {
		if err := s.readyCheck(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not_ready",
				"reason": err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) handleGetConfig(c *gin.Context) {
	s.configMu.RLock()
	defer s.configMu.RUnlock()
	c.JSON(http.StatusOK, gin.H{
		"module": s.config.ModuleName,
		"config": s.moduleConfig,
	})
}

// handleUpdateConfig merges the posted keys into the runtime config.
// The update hook can veto the merge; on veto nothing changes.
func (s *Server) handleUpdateConfig(c *gin.Context) {
	var updates map[string]interface{}
	if err := c.ShouldBindJSON(&updates); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be a JSON object",
		})
		return
	}

	s.configMu.Lock()
	merged := make(map[string]interface{}, len(s.moduleConfig)+len(updates))
	for k, v := range s.moduleConfig {
		merged[k] = v
	}
	for k, v := range updates {
		merged[k] = v
	}
	if s.onConfig != nil {
		if err := s.onConfig(merged); err != nil {
			s.configMu.Unlock()
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "config_rejected",
				"message": err.Error(),
			})
			return
		}
	}
	s.moduleConfig = merged
	s.configMu.Unlock()

	s.logger.Info("runtime config updated", zap.Int("keys", len(updates)))
	c.JSON(http.StatusOK, gin.H{
		"status": "updated",
		"config": merged,
	})
}

func (s *Server) handleReloadConfig(c *gin.Context) {
	if s.onReload == nil {
		c.JSON(http.StatusNotImplemented, gin.H{
			"error":   "not_supported",
			"message": "Module does not support config reload",
		})
		return
	}
	if err := s.onReload(); err != nil {
		s.logger.Error("config reload failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "reload_failed",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reloaded"})
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.Snapshot(time.Since(s.started)))
}

func (s *Server) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"module":      s.config.ModuleName,
		"version":     s.config.Version,
		"api_version": apiVersion,
	})
}
