package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/facegate/internal/auth"
	"github.com/your-org/facegate/internal/capture"
	"github.com/your-org/facegate/internal/gallery"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/storage"
	"github.com/your-org/facegate/internal/vision"
	"github.com/your-org/facegate/pkg/dto"
)

const maxUploadBytes = 16 << 20

var imageExts = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".bmp":  "image/bmp",
	".gif":  "image/gif",
	".webp": "image/webp",
}

type IdentityStore interface {
	CreateIdentity(ctx context.Context, in models.Identity) (*models.Identity, error)
	GetIdentity(ctx context.Context, id int64) (*models.Identity, error)
	ListIdentities(ctx context.Context, query string) ([]models.Identity, error)
}

// ObjectArchive keeps a copy of uploaded enrollment images.
type ObjectArchive interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

type Retrainer interface {
	Retrain(ctx context.Context) (*gallery.Gallery, error)
	// RetrainAsync starts a retrain that outlives the request. It reports
	// false when the trainer no longer accepts work.
	RetrainAsync(ctx context.Context) bool
	Status() gallery.Status
}

// FrameGrabber hands out raw frames from a running camera.
type FrameGrabber interface {
	Grab(ctx context.Context, id uuid.UUID, n int) ([]image.Image, error)
}

const (
	defaultCaptureCount = 3
	captureTimeout      = 10 * time.Second
)

type IdentityHandler struct {
	db        IdentityStore
	archive   ObjectArchive
	trainer   Retrainer
	grabber   FrameGrabber
	imagesDir string
	// background retrains outlive the upload request
	baseCtx context.Context

	labelLocks sync.Map // label -> *sync.Mutex
}

type enrollImage struct {
	ext         string
	contentType string
	data        []byte
}

// NewIdentityHandler creates the enrollment handler. archive may be nil.
func NewIdentityHandler(ctx context.Context, db IdentityStore, archive ObjectArchive, trainer Retrainer, imagesDir string) *IdentityHandler {
	return &IdentityHandler{db: db, archive: archive, trainer: trainer, imagesDir: imagesDir, baseCtx: ctx}
}

// WithCapture enables enrollment from camera frames.
func (h *IdentityHandler) WithCapture(g FrameGrabber) *IdentityHandler {
	h.grabber = g
	return h
}

func (h *IdentityHandler) Create(c *gin.Context) {
	var req dto.CreateIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	name := strings.TrimSpace(req.Name)
	if err := validLabel(name); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.db.CreateIdentity(c.Request.Context(), models.Identity{
		Name:    name,
		Address: req.Address,
		Phone:   req.Phone,
		Email:   req.Email,
	})
	if errors.Is(err, storage.ErrConflict) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := os.MkdirAll(filepath.Join(h.imagesDir, id.Name), 0o755); err != nil {
		slog.Error("create label directory", "name", id.Name, "error", err)
	}

	attrs := []any{"identity_id", id.ID, "name", id.Name}
	if s, ok := auth.SessionFrom(c); ok {
		attrs = append(attrs, "principal", s.Principal)
	}
	slog.Info("identity registered", attrs...)

	c.JSON(http.StatusCreated, identityResponse(id))
}

func (h *IdentityHandler) List(c *gin.Context) {
	ids, err := h.db.ListIdentities(c.Request.Context(), strings.TrimSpace(c.Query("name")))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.IdentityResponse, 0, len(ids))
	for i := range ids {
		resp = append(resp, identityResponse(&ids[i]))
	}

	c.JSON(http.StatusOK, dto.IdentityListResponse{Identities: resp, Total: len(resp)})
}

func (h *IdentityHandler) Get(c *gin.Context) {
	id, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, identityResponse(id))
}

// UploadImages stores enrollment images under the identity's label directory
// and retrains the gallery in the background.
func (h *IdentityHandler) UploadImages(c *gin.Context) {
	id, ok := h.lookup(c)
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form required"})
		return
	}
	files := form.File["images"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one file in field images required"})
		return
	}

	images := make([]enrollImage, 0, len(files))
	for _, fh := range files {
		ext := strings.ToLower(filepath.Ext(fh.Filename))
		contentType, ok := imageExts[ext]
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported image type %q", fh.Filename)})
			return
		}
		if fh.Size > maxUploadBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("%s exceeds %d bytes", fh.Filename, maxUploadBytes)})
			return
		}

		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "read upload failed"})
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "read upload failed"})
			return
		}
		images = append(images, enrollImage{ext: ext, contentType: contentType, data: data})
	}

	h.enroll(c, id, images)
}

// CaptureImages grabs successive frames from a running camera and enrolls
// them like uploaded images.
func (h *IdentityHandler) CaptureImages(c *gin.Context) {
	if h.grabber == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "camera capture not available"})
		return
	}

	id, ok := h.lookup(c)
	if !ok {
		return
	}

	var req dto.CaptureImagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Count == 0 {
		req.Count = defaultCaptureCount
	}
	cameraID := uuid.MustParse(req.CameraID)

	ctx, cancel := context.WithTimeout(c.Request.Context(), captureTimeout)
	defer cancel()

	frames, err := h.grabber.Grab(ctx, cameraID, req.Count)
	switch {
	case errors.Is(err, capture.ErrCameraNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "camera not found"})
		return
	case errors.Is(err, capture.ErrCameraNotRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "camera delivered no frames in time"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	images := make([]enrollImage, 0, len(frames))
	for _, f := range frames {
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, f, imaging.JPEG, imaging.JPEGQuality(95)); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "encode frame failed"})
			return
		}
		images = append(images, enrollImage{ext: ".jpg", contentType: "image/jpeg", data: buf.Bytes()})
	}

	slog.Info("enrollment frames captured", "identity_id", id.ID, "camera_id", cameraID, "frames", len(images))
	h.enroll(c, id, images)
}

// enroll stores images, archives them and starts a background retrain.
func (h *IdentityHandler) enroll(c *gin.Context, id *models.Identity, images []enrollImage) {
	saved, err := h.store(id.Name, images)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if h.archive != nil {
		for i, filename := range saved {
			key := "enrollment/" + id.Name + "/" + filename
			if err := h.archive.PutObject(c.Request.Context(), key, images[i].data, images[i].contentType); err != nil {
				slog.Warn("archive enrollment image", "key", key, "error", err)
			}
		}
	}

	retraining := h.trainer != nil && h.trainer.RetrainAsync(h.baseCtx)

	c.JSON(http.StatusCreated, dto.UploadImagesResponse{
		IdentityID: id.ID,
		Saved:      saved,
		Retraining: retraining,
	})
}

// store writes images as <name>_<n><ext>, continuing after the highest
// existing n. Writers for one label are serialized and never overwrite.
func (h *IdentityHandler) store(name string, images []enrollImage) ([]string, error) {
	mu, _ := h.labelLocks.LoadOrStore(name, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()

	dir := filepath.Join(h.imagesDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create label directory: %w", err)
	}
	next, err := nextImageIndex(dir, name)
	if err != nil {
		return nil, err
	}

	saved := make([]string, 0, len(images))
	for _, img := range images {
		filename := fmt.Sprintf("%s_%d%s", name, next, img.ext)
		next++
		if err := writeNew(filepath.Join(dir, filename), img.data); err != nil {
			return nil, fmt.Errorf("store image %s: %w", filename, err)
		}
		saved = append(saved, filename)
	}
	return saved, nil
}

func writeNew(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (h *IdentityHandler) lookup(c *gin.Context) (*models.Identity, bool) {
	idNum, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid identity id"})
		return nil, false
	}

	id, err := h.db.GetIdentity(c.Request.Context(), idNum)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if id == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "identity not found"})
		return nil, false
	}
	return id, true
}

// validLabel rejects names that cannot serve as a label directory.
func validLabel(name string) error {
	switch {
	case name == "":
		return errors.New("name is required")
	case name == "." || name == "..":
		return fmt.Errorf("invalid name %q", name)
	case strings.ContainsAny(name, `/\`):
		return errors.New("name must not contain path separators")
	case strings.EqualFold(name, vision.Unknown):
		return fmt.Errorf("name %q is reserved", name)
	}
	return nil
}

// nextImageIndex returns the first n such that no <name>_<m>.* exists for m >= n.
func nextImageIndex(dir, name string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read label directory: %w", err)
	}

	highest := 0
	prefix := name + "_"
	for _, e := range entries {
		base := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if !strings.HasPrefix(base, prefix) {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimPrefix(base, prefix)); err == nil && n > highest {
			highest = n
		}
	}
	return highest + 1, nil
}

func identityResponse(id *models.Identity) dto.IdentityResponse {
	return dto.IdentityResponse{
		ID:        id.ID,
		Name:      id.Name,
		Address:   id.Address,
		Phone:     id.Phone,
		Email:     id.Email,
		CreatedAt: id.CreatedAt.Format(time.RFC3339),
	}
}
