package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"

	"tickerpulse/internal/queue"
)

type enqueueRequest struct {
	Queue    string          `json:"queue" binding:"required"`
	Type     string          `json:"type" binding:"required"`
	Payload  json.RawMessage `json:"payload" binding:"required"`
	Priority int             `json:"priority"`
}

// EnqueueJob places a job on a named queue.
func (h *Handler) EnqueueJob(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Errorf("Invalid request: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	q, ok := h.queues.Get(req.Queue)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown queue"})
		return
	}

	opts := []queue.EnqueueOption{}
	if req.Priority != 0 {
		opts = append(opts, queue.WithPriority(req.Priority))
	}
	job, err := q.Enqueue(c.Request.Context(), req.Type, req.Payload, opts...)
	if err != nil {
		h.logger.Errorf("Enqueue on %s failed: %v", req.Queue, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, job)
}

// GetJob returns a job's current state.
func (h *Handler) GetJob(c *gin.Context) {
	q, ok := h.queues.Get(c.Param("queue"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown queue"})
		return
	}
	job, err := q.Job(c.Request.Context(), c.Param("id"))
	if err == queue.ErrJobNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		h.logger.Errorf("Get job failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, job)
}

// FailedJobs lists a queue's retained failures for operator triage.
func (h *Handler) FailedJobs(c *gin.Context) {
	q, ok := h.queues.Get(c.Param("queue"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown queue"})
		return
	}
	jobs, err := q.FailedJobs(c.Request.Context())
	if err != nil {
		h.logger.Errorf("List failed jobs failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, jobs)
}

// RetryJob resets a failed job to waiting with a fresh attempt budget.
func (h *Handler) RetryJob(c *gin.Context) {
	q, ok := h.queues.Get(c.Param("queue"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown queue"})
		return
	}
	err := q.Retry(c.Request.Context(), c.Param("id"))
	switch err {
	case nil:
		c.JSON(http.StatusOK, gin.H{"message": "retry queued"})
	case queue.ErrJobNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case queue.ErrNotRetryable:
		c.JSON(http.StatusBadRequest, gin.H{"error": "job is not in failed state"})
	default:
		h.logger.Errorf("Retry job failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// CancelJob removes a pending job; active jobs cannot be cancelled.
func (h *Handler) CancelJob(c *gin.Context) {
	q, ok := h.queues.Get(c.Param("queue"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown queue"})
		return
	}
	err := q.Cancel(c.Request.Context(), c.Param("id"))
	switch err {
	case nil:
		c.JSON(http.StatusOK, gin.H{"message": "job cancelled"})
	case queue.ErrJobNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case queue.ErrNotCancellable:
		c.JSON(http.StatusConflict, gin.H{"error": "only pending jobs can be cancelled"})
	default:
		h.logger.Errorf("Cancel job failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// QueueStats aggregates per-queue depth statistics.
func (h *Handler) QueueStats(c *gin.Context) {
	stats, err := h.queues.Depths(c.Request.Context())
	if err != nil {
		h.logger.Errorf("Queue stats failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}
