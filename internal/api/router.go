package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"tickerpulse/internal/config"
	"tickerpulse/internal/gateway"
	"tickerpulse/internal/queue"
	"tickerpulse/internal/store"
)

type Handler struct {
	queues *queue.Set
	store  *store.Redis
	logger *logrus.Logger
}

// NewRouter builds the inspection/administration API plus the websocket
// gateway endpoint.
func NewRouter(queues *queue.Set, st *store.Redis, gw *gateway.Gateway, logger *logrus.Logger, cfg config.Config) *gin.Engine {
	r := gin.Default()
	h := &Handler{queues: queues, store: st, logger: logger}

	base := r.Group(cfg.API.BasePath)
	{
		base.POST("/jobs", h.EnqueueJob)
		base.GET("/jobs/:queue/:id", h.GetJob)
		base.POST("/jobs/:queue/:id/retry", h.RetryJob)
		base.DELETE("/jobs/:queue/:id", h.CancelJob)
		base.GET("/queues/:queue/failed", h.FailedJobs)
		base.GET("/queues/stats", h.QueueStats)
	}

	r.GET("/ws", gw.HandleWS)

	r.GET("/health", func(c *gin.Context) {
		if err := st.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
