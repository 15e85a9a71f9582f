package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/observability"
	"github.com/your-org/facegate/internal/vision"
)

var ErrCameraNotFound = errors.New("camera not found")

// TrackingOptions configures the per-camera decision tracker.
type TrackingOptions struct {
	Enabled bool
	MaxAge  int
	MinHits int
}

// Deps are shared by every loop the manager starts.
type Deps struct {
	Recognizer Recognizer
	Galleries  Galleries
	Recorder   Recorder
	Sink       Sink
	Tracking   TrackingOptions
}

type activeCamera struct {
	camera models.Camera
	cancel context.CancelFunc
	done   chan struct{}
	tap    *frameTap
}

// Manager owns the capture loops. Loops outlive the requests that start them
// and end when stopped or when the manager's context is cancelled.
type Manager struct {
	ctx       context.Context
	newSource SourceFactory
	deps      Deps

	mu      sync.RWMutex
	cameras map[uuid.UUID]*activeCamera
	wg      sync.WaitGroup
}

func NewManager(ctx context.Context, factory SourceFactory, deps Deps) *Manager {
	return &Manager{
		ctx:       ctx,
		newSource: factory,
		deps:      deps,
		cameras:   make(map[uuid.UUID]*activeCamera),
	}
}

// Start registers a camera and launches its loop. A zero ID is assigned.
func (m *Manager) Start(cam models.Camera) (models.Camera, error) {
	role, err := models.ParseRole(string(cam.Role))
	if err != nil {
		return models.Camera{}, err
	}
	if cam.Source == "" {
		return models.Camera{}, errors.New("camera source is required")
	}
	cam.Role = role
	if cam.ID == uuid.Nil {
		cam.ID = uuid.New()
	}
	if cam.CreatedAt.IsZero() {
		cam.CreatedAt = time.Now().UTC()
	}
	cam.Status = models.CameraStatusStarting
	cam.ErrorMessage = ""
	cam.Frames = 0

	ctx, cancel := context.WithCancel(m.ctx)
	ac := &activeCamera{camera: cam, cancel: cancel, done: make(chan struct{}), tap: newFrameTap()}

	m.mu.Lock()
	if _, exists := m.cameras[cam.ID]; exists {
		m.mu.Unlock()
		cancel()
		return models.Camera{}, fmt.Errorf("camera %s already running", cam.ID)
	}
	m.cameras[cam.ID] = ac
	m.mu.Unlock()

	loop := &Loop{
		Camera:     cam,
		Source:     m.newSource(cam),
		Recognizer: m.deps.Recognizer,
		Galleries:  m.deps.Galleries,
		Recorder:   m.deps.Recorder,
		Sink:       m.deps.Sink,
		tap:        ac.tap,
		OnStatus: func(status models.CameraStatus, msg string) {
			m.update(cam.ID, func(c *models.Camera) {
				c.Status = status
				c.ErrorMessage = msg
			})
		},
		OnFrame: func() {
			m.update(cam.ID, func(c *models.Camera) { c.Frames++ })
		},
	}
	if m.deps.Tracking.Enabled {
		loop.Tracker = vision.NewTracker(cam.ID.String()[:8], m.deps.Tracking.MaxAge, m.deps.Tracking.MinHits)
	}

	observability.ActiveCameras.Inc()
	slog.Info("starting camera", "camera_id", cam.ID, "name", cam.Name, "source", cam.Source, "role", cam.Role)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(ac.done)
		defer observability.ActiveCameras.Dec()
		defer ac.tap.close(ErrCameraNotRunning)

		if err := loop.Run(ctx); err != nil {
			slog.Error("camera loop terminated", "camera_id", cam.ID, "error", err)
			return
		}
		slog.Info("camera loop stopped", "camera_id", cam.ID)
	}()

	return cam, nil
}

// Stop cancels a camera's loop, waits for it to exit and forgets the camera.
func (m *Manager) Stop(id uuid.UUID) error {
	m.mu.Lock()
	ac, exists := m.cameras[id]
	if exists {
		delete(m.cameras, id)
	}
	m.mu.Unlock()

	if !exists {
		return ErrCameraNotFound
	}

	ac.cancel()
	<-ac.done
	return nil
}

// Grab returns the next n frames a camera reads, unmirrored and unannotated.
// It fails with ErrCameraNotRunning if the loop ends first.
func (m *Manager) Grab(ctx context.Context, id uuid.UUID, n int) ([]image.Image, error) {
	m.mu.RLock()
	ac, ok := m.cameras[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrCameraNotFound
	}
	return ac.tap.grab(ctx, n)
}

// StopAll stops every loop and waits for all of them.
func (m *Manager) StopAll() {
	m.mu.Lock()
	active := make([]*activeCamera, 0, len(m.cameras))
	for _, ac := range m.cameras {
		active = append(active, ac)
	}
	m.mu.Unlock()

	for _, ac := range active {
		ac.cancel()
	}
	m.wg.Wait()
}

// Get returns a snapshot of one camera.
func (m *Manager) Get(id uuid.UUID) (models.Camera, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ac, ok := m.cameras[id]
	if !ok {
		return models.Camera{}, false
	}
	return ac.camera, true
}

// List returns all cameras, including those whose loop has ended, oldest first.
func (m *Manager) List() []models.Camera {
	m.mu.RLock()
	out := make([]models.Camera, 0, len(m.cameras))
	for _, ac := range m.cameras {
		out = append(out, ac.camera)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// ActiveCount returns the number of cameras whose loop is running.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, ac := range m.cameras {
		if ac.camera.Status == models.CameraStatusRunning {
			n++
		}
	}
	return n
}

func (m *Manager) update(id uuid.UUID, fn func(*models.Camera)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ac, ok := m.cameras[id]; ok {
		fn(&ac.camera)
	}
}
