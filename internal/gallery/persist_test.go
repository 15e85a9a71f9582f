package gallery

import (
	"context"
	"errors"
	"image/color"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func sampleGallery() *Gallery {
	return New([]Entry{
		{Label: "alice", Embedding: []float32{0.1, 0.2}},
		{Label: "bob", Embedding: []float32{0.3, 0.4}},
	}, "images", time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
}

func assertSameGallery(t *testing.T, got, want *Gallery) {
	t.Helper()
	if got.Len() != want.Len() {
		t.Fatalf("Len = %d, want %d", got.Len(), want.Len())
	}
	for i := range want.Entries() {
		g, w := got.Entries()[i], want.Entries()[i]
		if g.Label != w.Label || !slices.Equal(g.Embedding, w.Embedding) {
			t.Errorf("entry %d = %+v, want %+v", i, g, w)
		}
	}
}

func TestFilePersister(t *testing.T) {
	ctx := context.Background()
	p := NewFilePersister(filepath.Join(t.TempDir(), "sub", "gallery.gob"))

	if _, err := p.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load before Save: err = %v, want ErrNotFound", err)
	}

	want := sampleGallery()
	if err := p.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := p.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertSameGallery(t, got, want)
	if !got.BuiltAt().Equal(want.BuiltAt()) || got.Source() != "images" {
		t.Errorf("metadata = %v %q", got.BuiltAt(), got.Source())
	}

	// A second save replaces the first.
	if err := p.Save(ctx, Empty()); err != nil {
		t.Fatal(err)
	}
	got, err = p.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.Len() != 0 {
		t.Errorf("Len after replace = %d", got.Len())
	}
}

type memObjects struct {
	data map[string][]byte
}

func (m *memObjects) PutObject(_ context.Context, key string, data []byte, _ string) error {
	m.data[key] = append([]byte(nil), data...)
	return nil
}

func (m *memObjects) GetObject(_ context.Context, key string) ([]byte, error) {
	return m.data[key], nil
}

func TestObjectPersister(t *testing.T) {
	ctx := context.Background()
	p := NewObjectPersister(&memObjects{data: map[string][]byte{}}, "gallery/current.gob")

	if _, err := p.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	want := sampleGallery()
	if err := p.Save(ctx, want); err != nil {
		t.Fatal(err)
	}
	got, err := p.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	assertSameGallery(t, got, want)
	if !got.BuiltAt().Equal(want.BuiltAt()) {
		t.Errorf("BuiltAt = %v, want %v", got.BuiltAt(), want.BuiltAt())
	}
}

func TestTablePersisterEmptyGalleryIsPersisted(t *testing.T) {
	ctx := context.Background()
	table := &memTable{}
	p := NewTablePersister(table, "images")

	if err := p.Save(ctx, New(nil, "images", time.Now())); err != nil {
		t.Fatal(err)
	}
	got, err := p.Load(ctx)
	if err != nil {
		t.Fatalf("Load after saving an empty gallery: %v", err)
	}
	if got.Len() != 0 {
		t.Errorf("Len = %d, want 0", got.Len())
	}

	// Starting again loads the empty gallery instead of training.
	root := t.TempDir()
	writePNG(t, filepath.Join(root, "alice", "a.png"), color.RGBA{R: 255, A: 255})
	emb := &colorEmbedder{}
	tr := NewTrainer(NewBuilder(emb), p, NewStore(nil), root)
	if _, err := tr.LoadOrTrain(ctx); err != nil {
		t.Fatal(err)
	}
	if emb.calls != 0 || tr.Status().BuiltAt.IsZero() {
		t.Errorf("empty persisted gallery was retrained: calls=%d status=%+v", emb.calls, tr.Status())
	}
}

type memTable struct {
	entries []Entry
	builtAt time.Time
	saved   bool
}

func (m *memTable) ReplaceGalleryEntries(_ context.Context, entries []Entry, builtAt time.Time) error {
	m.entries = append([]Entry(nil), entries...)
	m.builtAt = builtAt
	m.saved = true
	return nil
}

func (m *memTable) GalleryEntries(context.Context) ([]Entry, time.Time, bool, error) {
	return m.entries, m.builtAt, m.saved, nil
}

func TestTablePersister(t *testing.T) {
	ctx := context.Background()
	p := NewTablePersister(&memTable{}, "images")

	if _, err := p.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	want := sampleGallery()
	if err := p.Save(ctx, want); err != nil {
		t.Fatal(err)
	}
	got, err := p.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	assertSameGallery(t, got, want)
	if !got.BuiltAt().Equal(want.BuiltAt()) {
		t.Errorf("BuiltAt = %v, want %v", got.BuiltAt(), want.BuiltAt())
	}
}
