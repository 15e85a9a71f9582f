package vision

import (
	"fmt"
	"image"
	"time"

	"github.com/your-org/facegate/internal/gallery"
	"github.com/your-org/facegate/internal/observability"
)

// Unknown labels faces that matched no gallery entry.
const Unknown = "unknown"

// Policy selects which gallery entry names a face.
type Policy string

const (
	// PolicyFirst takes the first entry in gallery order within tolerance.
	PolicyFirst Policy = "first"
	// PolicyNearest takes the closest entry, if within tolerance.
	PolicyNearest Policy = "nearest"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyFirst, PolicyNearest:
		return Policy(s), nil
	case "":
		return PolicyFirst, nil
	}
	return "", fmt.Errorf("unknown match policy %q", s)
}

// Match is the classification of one face region.
type Match struct {
	BBox       [4]float32 `json:"bbox"`
	Confidence float32    `json:"confidence"`
	Label      string     `json:"label"`
	Known      bool       `json:"known"`
	Distance   float64    `json:"distance,omitempty"`
	TrackID    string     `json:"track_id,omitempty"`
}

// Engine classifies every face in a frame against a gallery snapshot.
type Engine struct {
	analyzer  FaceAnalyzer
	tolerance float64
	policy    Policy
}

func NewEngine(analyzer FaceAnalyzer, tolerance float64, policy Policy) *Engine {
	if policy == "" {
		policy = PolicyFirst
	}
	return &Engine{analyzer: analyzer, tolerance: tolerance, policy: policy}
}

// Recognize detects faces in frame and labels each one. Any detection or
// embedding failure fails the whole frame.
func (e *Engine) Recognize(frame image.Image, g *gallery.Gallery) ([]Match, error) {
	dets, err := e.analyzer.Detect(frame)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}

	matches := make([]Match, 0, len(dets))
	for _, det := range dets {
		emb, err := e.analyzer.Embed(frame, det)
		if err != nil {
			return nil, fmt.Errorf("embed: %w", err)
		}

		start := time.Now()
		label, dist, known := e.Classify(emb, g)
		observability.InferenceDuration.WithLabelValues("match").Observe(time.Since(start).Seconds())

		matches = append(matches, Match{
			BBox:       det.BBox,
			Confidence: det.Confidence,
			Label:      label,
			Known:      known,
			Distance:   dist,
		})
	}
	return matches, nil
}

// Classify names one embedding. Faces with no entry within tolerance, and
// every face against an empty gallery, are Unknown.
func (e *Engine) Classify(emb []float32, g *gallery.Gallery) (string, float64, bool) {
	var (
		entry gallery.Entry
		dist  float64
		ok    bool
	)
	switch e.policy {
	case PolicyNearest:
		entry, dist, ok = g.Nearest(emb, e.tolerance)
	default:
		entry, dist, ok = g.FirstWithin(emb, e.tolerance)
	}
	if !ok {
		return Unknown, 0, false
	}
	return entry.Label, dist, true
}

// CompareFaces reports, for each known embedding, whether it lies within
// tolerance of the candidate.
func CompareFaces(known [][]float32, candidate []float32, tolerance float64) []bool {
	out := make([]bool, len(known))
	for i, k := range known {
		out[i] = gallery.Distance(k, candidate) <= tolerance
	}
	return out
}
