package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"

	"ordermesh/pkg/apiserver/config"
	msg "ordermesh/pkg/apiserver/infrastructure/messaging"
)

func init() {
	RegisterAPI(&health{})
}

// health provides liveness and readiness endpoints.
type health struct {
	Queue msg.Queue `inject:"queue"`
}

func (h *health) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("/health", h.healthCheck)
	group.GET("/ready", h.readinessCheck)
}

func (h *health) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// readinessCheck verifies broker connectivity before reporting ready.
func (h *health) readinessCheck(c *gin.Context) {
	ctx := c.Request.Context()
	if h.Queue != nil {
		if _, ok := h.Queue.(*msg.NoopQueue); !ok {
			if _, _, err := h.Queue.Stats(ctx, config.DefaultConsumerGroup); err != nil {
				klog.V(4).Infof("readiness check failed: queue stats error: %v", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": "queue connection failed"})
				return
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
