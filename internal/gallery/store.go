package gallery

import (
	"sync/atomic"

	"github.com/your-org/facegate/internal/observability"
)

// Store publishes the active gallery to concurrent readers. Readers always see
// either the previous or the new snapshot, never a mix.
type Store struct {
	current atomic.Pointer[Gallery]
}

func NewStore(initial *Gallery) *Store {
	s := &Store{}
	if initial == nil {
		initial = Empty()
	}
	s.Swap(initial)
	return s
}

// Current returns the active snapshot.
func (s *Store) Current() *Gallery {
	return s.current.Load()
}

// Swap installs g and returns the snapshot it replaced.
func (s *Store) Swap(g *Gallery) *Gallery {
	if g == nil {
		g = Empty()
	}
	observability.GalleryEntries.Set(float64(g.Len()))
	return s.current.Swap(g)
}
