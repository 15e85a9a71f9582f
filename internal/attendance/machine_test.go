package attendance

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/vision"
)

type record struct {
	id       int64
	userID   *int64
	checkIn  time.Time
	checkOut *time.Time
	image    []byte
}

// memLedger mirrors the PostgreSQL ledger semantics in memory.
type memLedger struct {
	users   map[string]int64
	records []*record
	lookups int
	writes  int
	failOp  string
}

func newMemLedger(users map[string]int64) *memLedger {
	return &memLedger{users: users}
}

func (l *memLedger) LookupIdentity(_ context.Context, name string) (int64, bool, error) {
	l.lookups++
	if l.failOp == "lookup" {
		return 0, false, errors.New("db down")
	}
	id, ok := l.users[name]
	return id, ok, nil
}

func (l *memLedger) open(userID int64) *record {
	var latest *record
	for _, r := range l.records {
		if r.userID != nil && *r.userID == userID && r.checkOut == nil {
			if latest == nil || r.checkIn.After(latest.checkIn) {
				latest = r
			}
		}
	}
	return latest
}

func (l *memLedger) insert(userID *int64, at time.Time, img []byte) int64 {
	l.writes++
	r := &record{id: int64(len(l.records) + 1), userID: userID, checkIn: at, image: img}
	l.records = append(l.records, r)
	return r.id
}

func (l *memLedger) CheckIn(_ context.Context, userID int64, at time.Time, img []byte) (int64, bool, error) {
	if l.failOp == "check_in" {
		return 0, false, errors.New("db down")
	}
	if r := l.open(userID); r != nil {
		return r.id, false, nil
	}
	uid := userID
	return l.insert(&uid, at, img), true, nil
}

func (l *memLedger) RecordUnknown(_ context.Context, at time.Time, img []byte) (int64, error) {
	if l.failOp == "record_unknown" {
		return 0, errors.New("db down")
	}
	return l.insert(nil, at, img), nil
}

func (l *memLedger) CheckOut(_ context.Context, userID int64, at time.Time) (int64, bool, error) {
	if l.failOp == "check_out" {
		return 0, false, errors.New("db down")
	}
	r := l.open(userID)
	if r == nil {
		return 0, false, nil
	}
	l.writes++
	t := at
	r.checkOut = &t
	return r.id, true, nil
}

type capturePublisher struct {
	events []models.AttendanceEvent
}

func (p *capturePublisher) PublishAttendance(_ context.Context, ev models.AttendanceEvent) error {
	p.events = append(p.events, ev)
	return nil
}

type captureAlerter struct {
	alerts []models.ExitAlert
}

func (a *captureAlerter) Alert(_ context.Context, al models.ExitAlert) error {
	a.alerts = append(a.alerts, al)
	return nil
}

var (
	entryCam     = models.Camera{ID: uuid.New(), Name: "front-in", Role: models.RoleEntry}
	exitCam      = models.Camera{ID: uuid.New(), Name: "front-out", Role: models.RoleExit}
	untrackedCam = models.Camera{ID: uuid.New(), Name: "lobby", Role: models.RoleUntracked}
	t0           = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	testFrame    = image.NewNRGBA(image.Rect(0, 0, 8, 8))
)

func known(label string) vision.Match {
	return vision.Match{Label: label, Known: true, BBox: [4]float32{1, 2, 3, 4}, Distance: 0.3}
}

func unknown() vision.Match {
	return vision.Match{Label: vision.Unknown, BBox: [4]float32{5, 6, 7, 8}}
}

func obs(cam models.Camera, at time.Time, matches ...vision.Match) Observation {
	return Observation{Camera: cam, Matches: matches, Frame: testFrame, At: at}
}

type harness struct {
	ledger  *memLedger
	pub     *capturePublisher
	alerter *captureAlerter
	m       *Machine
}

func newHarness(opts Options) *harness {
	h := &harness{
		ledger:  newMemLedger(map[string]int64{"alice": 1, "bob": 2}),
		pub:     &capturePublisher{},
		alerter: &captureAlerter{},
	}
	h.m = NewMachine(h.ledger, h.pub, h.alerter, opts)
	return h
}

func kinds(evs []models.AttendanceEvent) []models.EventKind {
	out := make([]models.EventKind, len(evs))
	for i, e := range evs {
		out[i] = e.Kind
	}
	return out
}

func TestEntryThenExitClosesRecord(t *testing.T) {
	h := newHarness(Options{})
	ctx := context.Background()

	evs := h.m.Handle(ctx, obs(entryCam, t0, known("alice")))
	if len(evs) != 1 || evs[0].Kind != models.EventCheckIn {
		t.Fatalf("entry events = %v", kinds(evs))
	}
	if *evs[0].UserID != 1 || evs[0].Label != "alice" {
		t.Errorf("check-in event = %+v", evs[0])
	}
	if len(h.ledger.records) != 1 || len(h.ledger.records[0].image) == 0 {
		t.Fatal("check-in should store a record with a snapshot")
	}

	evs = h.m.Handle(ctx, obs(exitCam, t0.Add(8*time.Hour), known("alice")))
	if len(evs) != 1 || evs[0].Kind != models.EventCheckOut {
		t.Fatalf("exit events = %v", kinds(evs))
	}

	r := h.ledger.records[0]
	if r.checkOut == nil || !r.checkOut.Equal(t0.Add(8*time.Hour)) {
		t.Errorf("record not closed: %+v", r)
	}
	if len(h.pub.events) != 2 {
		t.Errorf("published %d events, want 2", len(h.pub.events))
	}
	if len(h.alerter.alerts) != 0 {
		t.Error("no alert expected")
	}
}

func TestUnknownAtEntryRecordsWithoutIdentity(t *testing.T) {
	h := newHarness(Options{})

	evs := h.m.Handle(context.Background(), obs(entryCam, t0, unknown()))
	if len(evs) != 1 || evs[0].Kind != models.EventUnknownVisitor {
		t.Fatalf("events = %v", kinds(evs))
	}
	if len(h.ledger.records) != 1 || h.ledger.records[0].userID != nil {
		t.Fatalf("records = %+v", h.ledger.records)
	}
	if h.ledger.lookups != 0 {
		t.Error("unknown faces must not touch identities")
	}
	if evs[0].Label != "" {
		t.Errorf("label = %q, want empty", evs[0].Label)
	}
}

func TestUnknownAtExitAlertsWithoutWriting(t *testing.T) {
	h := newHarness(Options{})

	evs := h.m.Handle(context.Background(), obs(exitCam, t0, unknown()))
	if len(evs) != 1 || evs[0].Kind != models.EventExitAlert {
		t.Fatalf("events = %v", kinds(evs))
	}
	if len(h.alerter.alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(h.alerter.alerts))
	}
	a := h.alerter.alerts[0]
	if a.CameraID != exitCam.ID || a.BBox != unknown().BBox || !a.Timestamp.Equal(t0) {
		t.Errorf("alert = %+v", a)
	}
	if h.ledger.writes != 0 {
		t.Errorf("ledger writes = %d, want 0", h.ledger.writes)
	}
}

func TestExitWithoutOpenRecordIsOrphan(t *testing.T) {
	h := newHarness(Options{})

	evs := h.m.Handle(context.Background(), obs(exitCam, t0, known("bob")))
	if len(evs) != 1 || evs[0].Kind != models.EventOrphanExit {
		t.Fatalf("events = %v", kinds(evs))
	}
	if h.ledger.writes != 0 || len(h.alerter.alerts) != 0 {
		t.Error("orphan exit must not write or alert")
	}
}

func TestRepeatedEntryKeepsOneOpenRecord(t *testing.T) {
	h := newHarness(Options{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		h.m.Handle(ctx, obs(entryCam, t0.Add(time.Duration(i)*time.Second), known("alice")))
	}

	open := 0
	for _, r := range h.ledger.records {
		if r.userID != nil && *r.userID == 1 && r.checkOut == nil {
			open++
		}
	}
	if open != 1 {
		t.Errorf("open records = %d, want 1", open)
	}
	if len(h.pub.events) != 1 {
		t.Errorf("events = %d, want 1", len(h.pub.events))
	}
	if h.ledger.lookups != 1 {
		t.Errorf("lookups = %d, want 1 (cached)", h.ledger.lookups)
	}
}

func TestAlertOnlyForUnknownAtExit(t *testing.T) {
	cams := []models.Camera{entryCam, exitCam, untrackedCam}
	matches := []vision.Match{known("alice"), unknown()}

	for _, cam := range cams {
		for _, match := range matches {
			h := newHarness(Options{})
			h.m.Handle(context.Background(), obs(cam, t0, match))

			want := cam.Role == models.RoleExit && !match.Known
			if got := len(h.alerter.alerts) == 1; got != want {
				t.Errorf("%s/%s: alert = %v, want %v", cam.Role, match.Label, got, want)
			}
		}
	}
}

func TestUntrackedCameraDoesNothing(t *testing.T) {
	h := newHarness(Options{})
	evs := h.m.Handle(context.Background(), obs(untrackedCam, t0, known("alice"), unknown()))

	if len(evs) != 0 || h.ledger.writes != 0 || h.ledger.lookups != 0 {
		t.Errorf("untracked camera produced events=%d writes=%d lookups=%d", len(evs), h.ledger.writes, h.ledger.lookups)
	}
}

func TestUnenrolledLabelIsSkipped(t *testing.T) {
	h := newHarness(Options{})
	evs := h.m.Handle(context.Background(), obs(entryCam, t0, known("mallory"), known("alice")))

	if len(evs) != 1 || evs[0].Label != "alice" {
		t.Errorf("events = %+v", evs)
	}
}

func TestLedgerFailureDoesNotStopOtherMatches(t *testing.T) {
	h := newHarness(Options{})
	h.ledger.failOp = "check_in"

	evs := h.m.Handle(context.Background(), obs(entryCam, t0, known("alice"), unknown()))
	if len(evs) != 1 || evs[0].Kind != models.EventUnknownVisitor {
		t.Errorf("events = %v", kinds(evs))
	}
}

func TestLookupFailureIsNotCached(t *testing.T) {
	h := newHarness(Options{})
	ctx := context.Background()

	h.ledger.failOp = "lookup"
	if evs := h.m.Handle(ctx, obs(entryCam, t0, known("alice"))); len(evs) != 0 {
		t.Fatalf("events = %v", kinds(evs))
	}

	h.ledger.failOp = ""
	if evs := h.m.Handle(ctx, obs(entryCam, t0, known("alice"))); len(evs) != 1 {
		t.Errorf("events after recovery = %v", kinds(evs))
	}
}

func TestCooldowns(t *testing.T) {
	h := newHarness(Options{UnknownCooldown: 10 * time.Second, AlertCooldown: 10 * time.Second})
	ctx := context.Background()

	h.m.Handle(ctx, obs(entryCam, t0, unknown()))
	h.m.Handle(ctx, obs(entryCam, t0.Add(5*time.Second), unknown()))
	h.m.Handle(ctx, obs(entryCam, t0.Add(11*time.Second), unknown()))
	if len(h.ledger.records) != 2 {
		t.Errorf("unknown records = %d, want 2", len(h.ledger.records))
	}

	h.m.Handle(ctx, obs(exitCam, t0, unknown()))
	h.m.Handle(ctx, obs(exitCam, t0.Add(time.Second), unknown()))
	if len(h.alerter.alerts) != 1 {
		t.Errorf("alerts = %d, want 1", len(h.alerter.alerts))
	}
}

func TestNilCollaborators(t *testing.T) {
	m := NewMachine(newMemLedger(map[string]int64{"alice": 1}), nil, nil, Options{})
	evs := m.Handle(context.Background(), Observation{Camera: exitCam, Matches: []vision.Match{unknown()}})
	if len(evs) != 1 {
		t.Errorf("events = %v", kinds(evs))
	}
}
