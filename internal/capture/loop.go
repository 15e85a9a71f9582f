package capture

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/your-org/facegate/internal/attendance"
	"github.com/your-org/facegate/internal/gallery"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/observability"
	"github.com/your-org/facegate/internal/vision"
)

// Source yields decoded frames in acquisition order.
type Source interface {
	Open(ctx context.Context) error
	Read(ctx context.Context) (image.Image, error)
	Close() error
}

// SourceFactory creates the frame source for a camera.
type SourceFactory func(cam models.Camera) Source

type Recognizer interface {
	Recognize(frame image.Image, g *gallery.Gallery) ([]vision.Match, error)
}

type Galleries interface {
	Current() *gallery.Gallery
}

type Recorder interface {
	Handle(ctx context.Context, obs attendance.Observation) []models.AttendanceEvent
}

// Sink receives every processed frame. Implementations must not block.
type Sink interface {
	Render(cameraID uuid.UUID, frame image.Image)
}

// Loop drives one camera: read, mirror, recognize, record, annotate, render.
type Loop struct {
	Camera     models.Camera
	Source     Source
	Recognizer Recognizer
	Galleries  Galleries
	Tracker    *vision.Tracker // nil forwards every frame's matches
	Recorder   Recorder
	Sink       Sink

	// OnStatus is called on every status transition.
	OnStatus func(status models.CameraStatus, msg string)
	// OnFrame is called after each frame has been rendered.
	OnFrame func()

	tap *frameTap
	now func() time.Time
}

// Run blocks until the context is cancelled or the source fails. It returns
// nil when stopped by cancellation.
func (l *Loop) Run(ctx context.Context) error {
	log := slog.With("camera", l.Camera.Label(), "role", l.Camera.Role)

	if err := l.Source.Open(ctx); err != nil {
		if ctx.Err() != nil {
			l.setStatus(models.CameraStatusStopped, "")
			return nil
		}
		log.Error("open camera source", "source", l.Camera.Source, "error", err)
		l.setStatus(models.CameraStatusError, err.Error())
		return err
	}
	defer l.Source.Close()

	l.setStatus(models.CameraStatusRunning, "")
	log.Info("capture loop started", "detect", l.Camera.Detect)

	for {
		if ctx.Err() != nil {
			l.setStatus(models.CameraStatusStopped, "")
			return nil
		}

		frame, err := l.Source.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				l.setStatus(models.CameraStatusStopped, "")
				return nil
			}
			log.Error("read frame", "error", err)
			l.setStatus(models.CameraStatusError, err.Error())
			return err
		}

		observability.FramesCaptured.WithLabelValues(l.Camera.Label()).Inc()
		l.tap.offer(frame)
		l.process(ctx, log, frame)

		if l.OnFrame != nil {
			l.OnFrame()
		}
	}
}

func (l *Loop) process(ctx context.Context, log *slog.Logger, frame image.Image) {
	mirrored := imaging.FlipH(frame)

	if l.Camera.Detect {
		matches, err := l.Recognizer.Recognize(mirrored, l.Galleries.Current())
		if err != nil {
			log.Warn("recognition failed", "error", err)
		} else {
			l.record(ctx, mirrored, matches)
			vision.Annotate(mirrored, matches)
		}
	}

	if l.Sink != nil {
		l.Sink.Render(l.Camera.ID, mirrored)
	}
}

func (l *Loop) record(ctx context.Context, frame image.Image, matches []vision.Match) {
	label := l.Camera.Label()
	observability.FacesDetected.WithLabelValues(label).Add(float64(len(matches)))
	for _, m := range matches {
		if m.Known {
			observability.FacesRecognized.WithLabelValues(label).Inc()
		}
	}

	decisions := matches
	if l.Tracker != nil {
		decisions = l.Tracker.Update(matches)
	}
	if len(decisions) == 0 || l.Recorder == nil {
		return
	}

	at := time.Now()
	if l.now != nil {
		at = l.now()
	}
	l.Recorder.Handle(ctx, attendance.Observation{
		Camera:  l.Camera,
		Matches: decisions,
		Frame:   frame,
		At:      at,
	})
}

func (l *Loop) setStatus(status models.CameraStatus, msg string) {
	if l.OnStatus != nil {
		l.OnStatus(status, msg)
	}
}
