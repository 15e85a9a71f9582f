package vision

import (
	"fmt"
	"sync"
)

// minTrackIoU is the overlap a face needs with a live track to continue it.
const minTrackIoU = 0.3

// Track follows one face across consecutive frames of a camera.
type Track struct {
	ID              string
	BBox            [4]float32
	Label           string
	Hits            int
	TimeSinceUpdate int

	reported string // label last forwarded; empty until the first decision
}

// Tracker assigns track ids to matches with greedy IoU association and
// reports each track's decision once.
type Tracker struct {
	mu      sync.Mutex
	tracks  map[string]*Track
	nextID  int
	maxAge  int
	minHits int
	prefix  string
}

func NewTracker(prefix string, maxAge, minHits int) *Tracker {
	if minHits < 1 {
		minHits = 1
	}
	return &Tracker{
		tracks:  make(map[string]*Track),
		maxAge:  maxAge,
		minHits: minHits,
		prefix:  prefix,
	}
}

// Update sets TrackID on every match and returns the matches that carry a new
// decision: the track reached minHits for the first time, or its label changed
// since the last decision.
func (t *Tracker) Update(matches []Match) []Match {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, tr := range t.tracks {
		tr.TimeSinceUpdate++
	}

	claimed := make(map[string]bool, len(matches))
	var decisions []Match

	for i := range matches {
		m := &matches[i]
		tr := t.associate(m.BBox, claimed)
		if tr == nil {
			t.nextID++
			tr = &Track{ID: fmt.Sprintf("%s_%d", t.prefix, t.nextID)}
			t.tracks[tr.ID] = tr
		}
		claimed[tr.ID] = true

		if tr.Label != m.Label {
			tr.Hits = 0
		}
		tr.BBox = m.BBox
		tr.Label = m.Label
		tr.Hits++
		tr.TimeSinceUpdate = 0
		m.TrackID = tr.ID

		if tr.Hits >= t.minHits && tr.reported != m.Label {
			tr.reported = m.Label
			decisions = append(decisions, *m)
		}
	}

	for id, tr := range t.tracks {
		if tr.TimeSinceUpdate > t.maxAge {
			delete(t.tracks, id)
		}
	}
	return decisions
}

func (t *Tracker) associate(box [4]float32, claimed map[string]bool) *Track {
	var (
		best    *Track
		bestIoU float32 = minTrackIoU
	)
	for _, tr := range t.tracks {
		if claimed[tr.ID] {
			continue
		}
		if v := iou(box, tr.BBox); v > bestIoU {
			best, bestIoU = tr, v
		}
	}
	return best
}

// Len returns the number of live tracks.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracks)
}
