// Package attendance turns recognition results into check-in/check-out
// records and unmatched-exit alerts.
package attendance

import (
	"bytes"
	"context"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/observability"
	"github.com/your-org/facegate/internal/vision"
)

// Ledger is the attendance datastore.
type Ledger interface {
	LookupIdentity(ctx context.Context, name string) (id int64, ok bool, err error)
	// CheckIn opens a record unless the user already has one open.
	CheckIn(ctx context.Context, userID int64, at time.Time, image []byte) (recordID int64, created bool, err error)
	RecordUnknown(ctx context.Context, at time.Time, image []byte) (recordID int64, err error)
	// CheckOut closes the user's most recent open record, if any.
	CheckOut(ctx context.Context, userID int64, at time.Time) (recordID int64, closed bool, err error)
}

type Publisher interface {
	PublishAttendance(ctx context.Context, ev models.AttendanceEvent) error
}

type Alerter interface {
	Alert(ctx context.Context, a models.ExitAlert) error
}

// Observation is one frame's recognition result from one camera.
type Observation struct {
	Camera  models.Camera
	Matches []vision.Match
	Frame   image.Image // unannotated, used for record snapshots
	At      time.Time
}

type Options struct {
	// UnknownCooldown suppresses further unknown-visitor records from the
	// same camera for this long. Zero records every decision.
	UnknownCooldown time.Duration
	// AlertCooldown does the same for exit alerts.
	AlertCooldown   time.Duration
	SnapshotQuality int
}

// Machine applies the attendance rules:
//
//	entry + known   -> check in (no-op when already checked in)
//	entry + unknown -> identity-less record
//	exit  + known   -> close the latest open record (orphan exit when none)
//	exit  + unknown -> exit alert, nothing written
//	untracked       -> nothing
//
// Datastore failures are logged and counted; they never stop the caller.
type Machine struct {
	ledger    Ledger
	publisher Publisher
	alerter   Alerter
	opts      Options

	mu          sync.Mutex
	ids         map[string]int64
	lastUnknown map[uuid.UUID]time.Time
	lastAlert   map[uuid.UUID]time.Time
}

// NewMachine builds a Machine. publisher and alerter may be nil.
func NewMachine(ledger Ledger, publisher Publisher, alerter Alerter, opts Options) *Machine {
	if opts.SnapshotQuality <= 0 {
		opts.SnapshotQuality = 85
	}
	return &Machine{
		ledger:      ledger,
		publisher:   publisher,
		alerter:     alerter,
		opts:        opts,
		ids:         make(map[string]int64),
		lastUnknown: make(map[uuid.UUID]time.Time),
		lastAlert:   make(map[uuid.UUID]time.Time),
	}
}

// Handle processes every match of an observation and returns the events it
// produced.
func (m *Machine) Handle(ctx context.Context, obs Observation) []models.AttendanceEvent {
	if obs.Camera.Role != models.RoleEntry && obs.Camera.Role != models.RoleExit {
		return nil
	}
	if obs.At.IsZero() {
		obs.At = time.Now()
	}

	snap := &snapshot{frame: obs.Frame, quality: m.opts.SnapshotQuality}

	var events []models.AttendanceEvent
	for _, match := range obs.Matches {
		var ev *models.AttendanceEvent
		switch {
		case obs.Camera.Role == models.RoleEntry && match.Known:
			ev = m.checkIn(ctx, obs, match, snap)
		case obs.Camera.Role == models.RoleEntry:
			ev = m.unknownVisitor(ctx, obs, match, snap)
		case match.Known:
			ev = m.checkOut(ctx, obs, match)
		default:
			ev = m.exitAlert(ctx, obs, match)
		}
		if ev == nil {
			continue
		}

		observability.AttendanceEvents.WithLabelValues(string(ev.Kind)).Inc()
		m.publish(ctx, *ev)
		events = append(events, *ev)
	}
	return events
}

func (m *Machine) checkIn(ctx context.Context, obs Observation, match vision.Match, snap *snapshot) *models.AttendanceEvent {
	userID, ok := m.resolve(ctx, match.Label)
	if !ok {
		return nil
	}

	recordID, created, err := m.ledger.CheckIn(ctx, userID, obs.At, snap.bytes())
	if err != nil {
		m.ledgerError("check_in", err, obs, match)
		return nil
	}
	if !created {
		slog.Debug("already checked in", "label", match.Label, "record_id", recordID)
		return nil
	}

	slog.Info("checked in", "label", match.Label, "user_id", userID, "record_id", recordID, "camera", obs.Camera.Label())
	ev := newEvent(models.EventCheckIn, obs, match)
	ev.UserID = &userID
	ev.RecordID = &recordID
	return &ev
}

func (m *Machine) unknownVisitor(ctx context.Context, obs Observation, match vision.Match, snap *snapshot) *models.AttendanceEvent {
	if !m.allow(m.lastUnknown, obs.Camera.ID, obs.At, m.opts.UnknownCooldown) {
		return nil
	}

	recordID, err := m.ledger.RecordUnknown(ctx, obs.At, snap.bytes())
	if err != nil {
		m.ledgerError("record_unknown", err, obs, match)
		return nil
	}

	slog.Info("unknown visitor recorded", "record_id", recordID, "camera", obs.Camera.Label())
	ev := newEvent(models.EventUnknownVisitor, obs, match)
	ev.RecordID = &recordID
	return &ev
}

func (m *Machine) checkOut(ctx context.Context, obs Observation, match vision.Match) *models.AttendanceEvent {
	userID, ok := m.resolve(ctx, match.Label)
	if !ok {
		return nil
	}

	recordID, closed, err := m.ledger.CheckOut(ctx, userID, obs.At)
	if err != nil {
		m.ledgerError("check_out", err, obs, match)
		return nil
	}

	if !closed {
		observability.OrphanExits.Inc()
		slog.Warn("exit without open record", "label", match.Label, "user_id", userID, "camera", obs.Camera.Label())
		ev := newEvent(models.EventOrphanExit, obs, match)
		ev.UserID = &userID
		return &ev
	}

	slog.Info("checked out", "label", match.Label, "user_id", userID, "record_id", recordID, "camera", obs.Camera.Label())
	ev := newEvent(models.EventCheckOut, obs, match)
	ev.UserID = &userID
	ev.RecordID = &recordID
	return &ev
}

func (m *Machine) exitAlert(ctx context.Context, obs Observation, match vision.Match) *models.AttendanceEvent {
	if !m.allow(m.lastAlert, obs.Camera.ID, obs.At, m.opts.AlertCooldown) {
		return nil
	}

	observability.ExitAlerts.Inc()
	slog.Warn("unknown face at exit", "camera", obs.Camera.Label(), "bbox", match.BBox)

	if m.alerter != nil {
		alert := models.ExitAlert{
			CameraID:   obs.Camera.ID,
			CameraName: obs.Camera.Name,
			BBox:       match.BBox,
			Timestamp:  obs.At,
		}
		if err := m.alerter.Alert(ctx, alert); err != nil {
			slog.Error("raise exit alert", "error", err, "camera", obs.Camera.Label())
		}
	}

	ev := newEvent(models.EventExitAlert, obs, match)
	return &ev
}

// resolve maps a label to a user id. Only hits are cached: identities are
// immutable, but a label may be enrolled after its first sighting.
func (m *Machine) resolve(ctx context.Context, label string) (int64, bool) {
	m.mu.Lock()
	id, ok := m.ids[label]
	m.mu.Unlock()
	if ok {
		return id, true
	}

	id, ok, err := m.ledger.LookupIdentity(ctx, label)
	if err != nil {
		observability.LedgerErrors.WithLabelValues("lookup").Inc()
		slog.Error("lookup identity", "error", err, "label", label)
		return 0, false
	}
	if !ok {
		slog.Warn("gallery label has no identity", "label", label)
		return 0, false
	}

	m.mu.Lock()
	m.ids[label] = id
	m.mu.Unlock()
	return id, true
}

func (m *Machine) allow(last map[uuid.UUID]time.Time, camera uuid.UUID, at time.Time, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := last[camera]; ok && at.Sub(prev) < cooldown {
		return false
	}
	last[camera] = at
	return true
}

func (m *Machine) publish(ctx context.Context, ev models.AttendanceEvent) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.PublishAttendance(ctx, ev); err != nil {
		slog.Error("publish attendance event", "error", err, "kind", ev.Kind)
	}
}

func (m *Machine) ledgerError(op string, err error, obs Observation, match vision.Match) {
	observability.LedgerErrors.WithLabelValues(op).Inc()
	slog.Error("attendance ledger", "op", op, "error", err, "label", match.Label, "camera", obs.Camera.Label())
}

func newEvent(kind models.EventKind, obs Observation, match vision.Match) models.AttendanceEvent {
	ev := models.AttendanceEvent{
		Kind:       kind,
		CameraID:   obs.Camera.ID,
		CameraName: obs.Camera.Name,
		Role:       obs.Camera.Role,
		BBox:       match.BBox,
		Distance:   match.Distance,
		Timestamp:  obs.At,
	}
	if match.Known {
		ev.Label = match.Label
	}
	return ev
}

// snapshot encodes the frame at most once per observation.
type snapshot struct {
	frame   image.Image
	quality int
	once    sync.Once
	data    []byte
}

func (s *snapshot) bytes() []byte {
	s.once.Do(func() {
		if s.frame == nil {
			return
		}
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, s.frame, imaging.JPEG, imaging.JPEGQuality(s.quality)); err != nil {
			slog.Warn("encode snapshot", "error", err)
			return
		}
		s.data = buf.Bytes()
	})
	return s.data
}
