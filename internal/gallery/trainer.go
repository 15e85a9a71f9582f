package gallery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Status describes the active gallery and the last training run.
type Status struct {
	Entries   int       `json:"entries"`
	Labels    []string  `json:"labels"`
	Source    string    `json:"source"`
	BuiltAt   time.Time `json:"built_at"`
	Training  bool      `json:"training"`
	LastError string    `json:"last_error,omitempty"`
}

// ErrTrainerClosed is returned for retrains requested after Close.
var ErrTrainerClosed = errors.New("trainer closed")

// Trainer rebuilds, persists and publishes galleries. Concurrent retrains run
// one after another.
type Trainer struct {
	builder   *Builder
	persister Persister
	store     *Store
	root      string

	mu       sync.Mutex
	stateMu  sync.Mutex
	training bool
	lastErr  error
	closed   bool
	running  sync.WaitGroup
}

func NewTrainer(builder *Builder, persister Persister, store *Store, root string) *Trainer {
	return &Trainer{builder: builder, persister: persister, store: store, root: root}
}

// Retrain builds a gallery from the image root, persists it and swaps it in.
// The active gallery is left untouched when building or saving fails.
func (t *Trainer) Retrain(ctx context.Context) (*Gallery, error) {
	if !t.acquire() {
		return nil, ErrTrainerClosed
	}
	defer t.running.Done()
	return t.run(ctx)
}

// RetrainAsync runs Retrain in the background. It returns false once the
// trainer is closed.
func (t *Trainer) RetrainAsync(ctx context.Context) bool {
	if !t.acquire() {
		return false
	}
	go func() {
		defer t.running.Done()
		if _, err := t.run(ctx); err != nil {
			slog.Error("background retrain", "root", t.root, "error", err)
		}
	}()
	return true
}

// Close rejects new retrains and waits for running ones.
func (t *Trainer) Close() {
	t.stateMu.Lock()
	t.closed = true
	t.stateMu.Unlock()
	t.running.Wait()
}

func (t *Trainer) acquire() bool {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	if t.closed {
		return false
	}
	t.running.Add(1)
	return true
}

func (t *Trainer) run(ctx context.Context) (*Gallery, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.setTraining(true, nil)
	g, err := t.retrain(ctx)
	t.setTraining(false, err)
	return g, err
}

func (t *Trainer) retrain(ctx context.Context) (*Gallery, error) {
	g, err := t.builder.Build(ctx, t.root)
	if err != nil {
		return nil, fmt.Errorf("build gallery: %w", err)
	}
	if err := t.persister.Save(ctx, g); err != nil {
		return nil, fmt.Errorf("persist gallery: %w", err)
	}
	t.store.Swap(g)
	slog.Info("gallery swapped", "entries", g.Len())
	return g, nil
}

// LoadOrTrain installs the persisted gallery, training a new one when none
// has been persisted.
func (t *Trainer) LoadOrTrain(ctx context.Context) (*Gallery, error) {
	g, err := t.persister.Load(ctx)
	switch {
	case err == nil:
		t.store.Swap(g)
		slog.Info("gallery loaded", "entries", g.Len(), "source", g.Source())
		return g, nil
	case errors.Is(err, ErrNotFound):
		slog.Info("no persisted gallery, training", "root", t.root)
		return t.Retrain(ctx)
	default:
		return nil, fmt.Errorf("load gallery: %w", err)
	}
}

func (t *Trainer) Status() Status {
	g := t.store.Current()

	t.stateMu.Lock()
	defer t.stateMu.Unlock()

	s := Status{
		Entries:  g.Len(),
		Labels:   g.Labels(),
		Source:   g.Source(),
		BuiltAt:  g.BuiltAt(),
		Training: t.training,
	}
	if t.lastErr != nil {
		s.LastError = t.lastErr.Error()
	}
	return s
}

func (t *Trainer) setTraining(on bool, err error) {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	t.training = on
	if !on {
		t.lastErr = err
	}
}
