package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facegate/internal/gallery"
)

type GalleryHandler struct {
	trainer Retrainer
}

func NewGalleryHandler(trainer Retrainer) *GalleryHandler {
	return &GalleryHandler{trainer: trainer}
}

func (h *GalleryHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.trainer.Status())
}

// Retrain rebuilds the gallery from the images directory and swaps it in.
// The request waits for the build.
func (h *GalleryHandler) Retrain(c *gin.Context) {
	if _, err := h.trainer.Retrain(c.Request.Context()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, gallery.ErrTrainerClosed) || errors.Is(err, c.Request.Context().Err()) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.trainer.Status())
}
