// Package gallery holds the trained set of labeled face embeddings that
// recognition compares against, and the tooling to build and persist it.
package gallery

import (
	"math"
	"sync"
	"time"

	"github.com/coder/hnsw"
)

// indexThreshold is the gallery size from which nearest-label lookups go
// through an HNSW graph instead of a linear scan.
const indexThreshold = 64

const (
	hnswMaxNeighbors = 16
	hnswCandidates   = 8
)

// Entry is one labeled embedding.
type Entry struct {
	Label     string
	Embedding []float32
}

// Gallery is an immutable snapshot. It is safe for concurrent readers and is
// replaced as a whole, never modified in place.
type Gallery struct {
	entries []Entry
	source  string
	builtAt time.Time

	indexOnce sync.Once
	index     *hnsw.Graph[int]
}

// New wraps entries in a snapshot. The slice is owned by the gallery afterwards.
func New(entries []Entry, source string, builtAt time.Time) *Gallery {
	return &Gallery{entries: entries, source: source, builtAt: builtAt}
}

// Empty returns a gallery with no entries. Every face compared against it is unknown.
func Empty() *Gallery {
	return New(nil, "", time.Time{})
}

func (g *Gallery) Len() int {
	if g == nil {
		return 0
	}
	return len(g.entries)
}

// Entries returns the entries in stored order. Callers must not modify them.
func (g *Gallery) Entries() []Entry {
	if g == nil {
		return nil
	}
	return g.entries
}

func (g *Gallery) Source() string     { return g.source }
func (g *Gallery) BuiltAt() time.Time { return g.builtAt }

// Labels returns the distinct labels in first-seen order.
func (g *Gallery) Labels() []string {
	seen := make(map[string]bool)
	var labels []string
	for _, e := range g.Entries() {
		if !seen[e.Label] {
			seen[e.Label] = true
			labels = append(labels, e.Label)
		}
	}
	return labels
}

// FirstWithin returns the first entry in stored order whose distance to query
// is within tolerance.
func (g *Gallery) FirstWithin(query []float32, tolerance float64) (Entry, float64, bool) {
	for _, e := range g.Entries() {
		if d := Distance(query, e.Embedding); d <= tolerance {
			return e, d, true
		}
	}
	return Entry{}, 0, false
}

// Nearest returns the closest entry if its distance is within tolerance.
// Galleries of indexThreshold entries or more are searched through a graph
// built on first use.
func (g *Gallery) Nearest(query []float32, tolerance float64) (Entry, float64, bool) {
	if g.Len() == 0 {
		return Entry{}, 0, false
	}

	var (
		best     = -1
		bestDist = math.Inf(1)
	)

	if g.Len() >= indexThreshold {
		g.indexOnce.Do(g.buildIndex)
		for _, n := range g.index.Search(query, hnswCandidates) {
			if d := Distance(query, g.entries[n.Key].Embedding); d < bestDist {
				best, bestDist = n.Key, d
			}
		}
	} else {
		for i, e := range g.entries {
			if d := Distance(query, e.Embedding); d < bestDist {
				best, bestDist = i, d
			}
		}
	}

	if best < 0 || bestDist > tolerance {
		return Entry{}, 0, false
	}
	return g.entries[best], bestDist, true
}

func (g *Gallery) buildIndex() {
	graph := hnsw.NewGraph[int]()
	graph.M = hnswMaxNeighbors
	graph.Ml = 1.0 / float64(hnswMaxNeighbors)
	graph.Distance = hnsw.CosineDistance

	for i, e := range g.entries {
		if len(e.Embedding) == 0 {
			continue
		}
		graph.Add(hnsw.MakeNode(i, e.Embedding))
	}
	g.index = graph
}

// Distance is the cosine distance (1 - cosine similarity) between two
// embeddings, in [0, 2]. Vectors of different length are infinitely far
// apart; a zero vector is orthogonal to everything.
func Distance(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/math.Sqrt(na*nb)
}
