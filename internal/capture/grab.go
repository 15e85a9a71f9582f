package capture

import (
	"context"
	"errors"
	"image"
	"slices"
	"sync"
)

// ErrCameraNotRunning is returned by grabs on a camera whose loop has ended.
var ErrCameraNotRunning = errors.New("camera not running")

type grab struct {
	want   int
	frames []image.Image
	err    error
	done   chan struct{}
}

// frameTap hands raw frames, as read from the source, to pending grabs.
type frameTap struct {
	mu      sync.Mutex
	waiters []*grab
	err     error
}

func newFrameTap() *frameTap {
	return &frameTap{}
}

// offer delivers frame to every pending grab.
func (t *frameTap) offer(frame image.Image) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.waiters[:0]
	for _, g := range t.waiters {
		g.frames = append(g.frames, frame)
		if len(g.frames) >= g.want {
			close(g.done)
			continue
		}
		kept = append(kept, g)
	}
	clear(t.waiters[len(kept):])
	t.waiters = kept
}

// close fails pending and future grabs with err.
func (t *frameTap) close(err error) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.err = err
	for _, g := range t.waiters {
		g.err = err
		close(g.done)
	}
	t.waiters = nil
}

// grab waits for the next n frames.
func (t *frameTap) grab(ctx context.Context, n int) ([]image.Image, error) {
	if n <= 0 {
		return nil, nil
	}

	g := &grab{want: n, done: make(chan struct{})}
	t.mu.Lock()
	if t.err != nil {
		t.mu.Unlock()
		return nil, t.err
	}
	t.waiters = append(t.waiters, g)
	t.mu.Unlock()

	select {
	case <-g.done:
		if g.err != nil {
			return nil, g.err
		}
		return g.frames, nil
	case <-ctx.Done():
		t.mu.Lock()
		t.waiters = slices.DeleteFunc(t.waiters, func(w *grab) bool { return w == g })
		t.mu.Unlock()
		return nil, ctx.Err()
	}
}
