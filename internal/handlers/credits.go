package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"photorestore/internal/middleware"
	"photorestore/internal/models"
)

type milestoneResponse struct {
	Days    int  `json:"days"`
	Reward  int  `json:"reward"`
	Reached bool `json:"reached"`
	Claimed bool `json:"claimed"`
}

type creditsResponse struct {
	Credits          int                 `json:"credits"`
	CurrentStreak    int                 `json:"current_streak"`
	CheckpointLevel  int                 `json:"checkpoint_level"`
	LastActivityDate *string             `json:"last_activity_date"`
	Milestones       []milestoneResponse `json:"milestones"`
	Features         gin.H               `json:"features"`
}

func (h HandlerSet) toCreditsResponse(row models.UserCredits) creditsResponse {
	resp := creditsResponse{
		Credits:         row.Credits,
		CurrentStreak:   row.CurrentStreak,
		CheckpointLevel: row.CheckpointLevel,
		Features: gin.H{
			"credits_test_panel": h.cfg.Features.CreditsTestPanel,
			"streak_test_panel":  h.cfg.Features.StreakTestPanel,
		},
	}
	if row.LastActivityDate != nil {
		d := row.LastActivityDate.Format(time.DateOnly)
		resp.LastActivityDate = &d
	}
	for _, m := range models.Milestones {
		resp.Milestones = append(resp.Milestones, milestoneResponse{
			Days:    m.Days,
			Reward:  m.Reward,
			Reached: row.CheckpointLevel >= m.Days,
			Claimed: row.Claimed(m.Days),
		})
	}
	return resp
}

func (h HandlerSet) GetCredits(c *gin.Context) {
	row, err := h.credits.Get(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.toCreditsResponse(row))
}

type amountRequest struct {
	Amount int `json:"amount"`
}

func (h HandlerSet) DeductCredits(c *gin.Context) {
	var req amountRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	balance, err := h.credits.Deduct(c.Request.Context(), middleware.CurrentUserID(c), req.Amount)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credits": balance})
}

type refundRequest struct {
	JobID string `json:"job_id"`
}

// RefundCredits returns what a cancelled or failed job was charged. Refunds
// are tied to a charged job so a client cannot mint credits.
func (h HandlerSet) RefundCredits(c *gin.Context) {
	var req refundRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	balance, err := h.jobs.RefundJob(c.Request.Context(), middleware.CurrentUserID(c), req.JobID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credits": balance})
}

type validateRequest struct {
	Required int `json:"required"`
}

func (h HandlerSet) ValidateCredits(c *gin.Context) {
	var req validateRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	balance, err := h.credits.ValidateForOperation(c.Request.Context(), middleware.CurrentUserID(c), req.Required)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "credits": balance})
}

func (h HandlerSet) RecordActivity(c *gin.Context) {
	row, err := h.credits.RecordActivity(c.Request.Context(), middleware.CurrentUserID(c), time.Now())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.toCreditsResponse(row))
}

func (h HandlerSet) ClaimMilestone(c *gin.Context) {
	day, err := strconv.Atoi(c.Param("day"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "day must be a number"})
		return
	}
	row, err := h.credits.ClaimMilestone(c.Request.Context(), middleware.CurrentUserID(c), day)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.toCreditsResponse(row))
}
