package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"photorestore/internal/middleware"
	"photorestore/internal/service"
)

func (h HandlerSet) UploadPhoto(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	defer file.Close()

	result, err := h.uploads.Upload(c.Request.Context(), service.UploadInput{
		UserID: middleware.CurrentUserID(c),
		File:   file,
		Header: header,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h HandlerSet) SignedURL(c *gin.Context) {
	url, ttl, err := h.uploads.SignedURL(c.Request.Context(), middleware.CurrentUserID(c), c.Query("path"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"signed_url": url,
		"expires_in": int(ttl / time.Second),
	})
}

type imageResponse struct {
	ID           string    `json:"id"`
	JobID        *string   `json:"job_id"`
	OriginalURL  string    `json:"original_url"`
	EditedURL    string    `json:"edited_url"`
	Prompt       string    `json:"prompt"`
	Tags         []string  `json:"tags"`
	HD           bool      `json:"hd"`
	ThumbnailURL *string   `json:"thumbnail_url"`
	CreatedAt    time.Time `json:"created_at"`
}

func (h HandlerSet) ListImages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	views, err := h.images.List(c.Request.Context(), middleware.CurrentUserID(c), limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}

	out := make([]imageResponse, 0, len(views))
	for _, v := range views {
		tags := v.Tags
		if tags == nil {
			tags = []string{}
		}
		out = append(out, imageResponse{
			ID:           v.ID,
			JobID:        v.JobID,
			OriginalURL:  v.OriginalSignedURL,
			EditedURL:    v.EditedSignedURL,
			Prompt:       v.Prompt,
			Tags:         tags,
			HD:           v.HD,
			ThumbnailURL: v.ThumbnailURL,
			CreatedAt:    v.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"images": out})
}

func (h HandlerSet) DeleteImage(c *gin.Context) {
	if err := h.images.Delete(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
