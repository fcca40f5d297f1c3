package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"photorestore/internal/prediction"
	"photorestore/internal/repository"
)

// PredictionWebhook applies a completion callback from the prediction service.
func (h HandlerSet) PredictionWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	hook, err := prediction.ParseWebhook(body)
	if err != nil {
		h.respondError(c, err)
		return
	}
	hook.JobID = c.Query(prediction.WebhookJobParam)

	job, err := h.jobs.HandleWebhook(c.Request.Context(), hook)
	if errors.Is(err, repository.ErrJobNotFound) {
		h.log.Warn().Str("prediction_id", hook.ID).Str("job_id", hook.JobID).Msg("webhook for unknown prediction")
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "job_id": job.ID, "status": job.Status})
}
