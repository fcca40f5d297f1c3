package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"photorestore/internal/middleware"
	"photorestore/internal/models"
)

const sseHeartbeat = 25 * time.Second

type jobResponse struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	ImagePath    string     `json:"image_path"`
	Status       string     `json:"status"`
	PredictionID string     `json:"prediction_id,omitempty"`
	ResultURL    *string    `json:"result_url"`
	ErrorMessage *string    `json:"error_message"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	TimeoutAt    *time.Time `json:"timeout_at"`
	RefundedAt   *time.Time `json:"refunded_at,omitempty"`
}

func toJobResponse(job models.Job) jobResponse {
	return jobResponse{
		ID:           job.ID,
		UserID:       job.UserID,
		ImagePath:    job.ImagePath,
		Status:       string(job.Status),
		PredictionID: job.PredictionID,
		ResultURL:    job.ResultURL,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
		TimeoutAt:    job.TimeoutAt,
		RefundedAt:   job.RefundedAt,
	}
}

type startRequest struct {
	UserID    string `json:"user_id"`
	ImagePath string `json:"image_path"`
}

type startResponse struct {
	JobID        string `json:"job_id"`
	PredictionID string `json:"prediction_id"`
	Status       string `json:"status"`
	Credits      int    `json:"credits"`
}

// StartRestoration charges the restoration cost and starts the job; the
// response carries the balance after the charge.
func (h HandlerSet) StartRestoration(c *gin.Context) {
	var req startRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	userID, err := actingUser(c, req.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	job, balance, err := h.jobs.Start(c.Request.Context(), userID, req.ImagePath)
	if err != nil {
		// A job that failed to start is refundable by id.
		if job.ID != "" {
			h.respondErrorBody(c, err, gin.H{"job_id": job.ID})
			return
		}
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, startResponse{
		JobID:        job.ID,
		PredictionID: job.PredictionID,
		Status:       string(job.Status),
		Credits:      balance,
	})
}

type cancelRequest struct {
	JobID  string `json:"job_id"`
	UserID string `json:"user_id"`
}

func (h HandlerSet) CancelRestoration(c *gin.Context) {
	var req cancelRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	userID, err := actingUser(c, req.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if _, err := h.jobs.Cancel(c.Request.Context(), userID, req.JobID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Job cancelled"})
}

func (h HandlerSet) ListRestorations(c *gin.Context) {
	jobs, err := h.jobs.List(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	out := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, toJobResponse(job))
	}
	c.JSON(http.StatusOK, gin.H{"jobs": out})
}

func (h HandlerSet) GetRestoration(c *gin.Context) {
	job, err := h.jobs.Get(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toJobResponse(job))
}

// RestorationEvents streams the caller's job transitions as server-sent events.
func (h HandlerSet) RestorationEvents(c *gin.Context) {
	if h.events == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Live updates are not available"})
		return
	}
	ctx := c.Request.Context()
	stream, err := h.events.Subscribe(ctx, middleware.CurrentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent("job", ev)
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			return true
		}
	})
}
