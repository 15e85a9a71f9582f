package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/facegate/internal/capture"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/pkg/dto"
)

type CameraManager interface {
	Start(cam models.Camera) (models.Camera, error)
	Stop(id uuid.UUID) error
	Get(id uuid.UUID) (models.Camera, bool)
	List() []models.Camera
}

type FrameCache interface {
	LatestFrame(id uuid.UUID) ([]byte, bool)
	Forget(id uuid.UUID)
}

type CameraHandler struct {
	cameras CameraManager
	frames  FrameCache
}

func NewCameraHandler(cameras CameraManager, frames FrameCache) *CameraHandler {
	return &CameraHandler{cameras: cameras, frames: frames}
}

func (h *CameraHandler) Create(c *gin.Context) {
	var req dto.CreateCameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	role, err := models.ParseRole(req.Role)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	detect := true
	if req.Detect != nil {
		detect = *req.Detect
	}

	cam, err := h.cameras.Start(models.Camera{
		Name:   req.Name,
		Source: req.Source,
		Role:   role,
		Detect: detect,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, cameraResponse(cam))
}

func (h *CameraHandler) List(c *gin.Context) {
	cams := h.cameras.List()
	resp := make([]dto.CameraResponse, 0, len(cams))
	for _, cam := range cams {
		resp = append(resp, cameraResponse(cam))
	}
	c.JSON(http.StatusOK, dto.CameraListResponse{Cameras: resp, Total: len(resp)})
}

func (h *CameraHandler) Get(c *gin.Context) {
	id, ok := parseCameraID(c)
	if !ok {
		return
	}
	cam, found := h.cameras.Get(id)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "camera not found"})
		return
	}
	c.JSON(http.StatusOK, cameraResponse(cam))
}

// Delete stops the camera's loop and waits for it to exit.
func (h *CameraHandler) Delete(c *gin.Context) {
	id, ok := parseCameraID(c)
	if !ok {
		return
	}

	if err := h.cameras.Stop(id); err != nil {
		if errors.Is(err, capture.ErrCameraNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "camera not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.frames.Forget(id)

	slog.Info("camera removed", "camera_id", id)
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

// Frame returns the latest rendered (mirrored, annotated) JPEG.
func (h *CameraHandler) Frame(c *gin.Context) {
	id, ok := parseCameraID(c)
	if !ok {
		return
	}
	jpg, found := h.frames.LatestFrame(id)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no frame rendered yet"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/jpeg", jpg)
}

func parseCameraID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid camera id"})
		return uuid.Nil, false
	}
	return id, true
}

func cameraResponse(cam models.Camera) dto.CameraResponse {
	return dto.CameraResponse{
		ID:           cam.ID,
		Name:         cam.Name,
		Source:       cam.Source,
		Role:         string(cam.Role),
		Detect:       cam.Detect,
		Status:       string(cam.Status),
		ErrorMessage: cam.ErrorMessage,
		Frames:       cam.Frames,
		CreatedAt:    cam.CreatedAt.Format(time.RFC3339),
	}
}
