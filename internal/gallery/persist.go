package gallery

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ErrNotFound is returned by Load when nothing has been persisted yet.
var ErrNotFound = errors.New("gallery: not persisted")

// Persister saves and loads whole galleries. Save replaces any previous
// gallery.
type Persister interface {
	Save(ctx context.Context, g *Gallery) error
	Load(ctx context.Context) (*Gallery, error)
}

// artifact is the serialized form: parallel label and embedding lists.
type artifact struct {
	Labels     []string
	Embeddings [][]float32
	Source     string
	BuiltAt    time.Time
}

// Encode writes g to w.
func Encode(w io.Writer, g *Gallery) error {
	a := artifact{Source: g.Source(), BuiltAt: g.BuiltAt()}
	for _, e := range g.Entries() {
		a.Labels = append(a.Labels, e.Label)
		a.Embeddings = append(a.Embeddings, e.Embedding)
	}
	if err := gob.NewEncoder(w).Encode(&a); err != nil {
		return fmt.Errorf("encode gallery: %w", err)
	}
	return nil
}

// Decode reads a gallery written by Encode.
func Decode(r io.Reader) (*Gallery, error) {
	var a artifact
	if err := gob.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("decode gallery: %w", err)
	}
	if len(a.Labels) != len(a.Embeddings) {
		return nil, fmt.Errorf("decode gallery: %d labels for %d embeddings", len(a.Labels), len(a.Embeddings))
	}

	entries := make([]Entry, len(a.Labels))
	for i := range a.Labels {
		entries[i] = Entry{Label: a.Labels[i], Embedding: a.Embeddings[i]}
	}
	return New(entries, a.Source, a.BuiltAt), nil
}

// FilePersister keeps the gallery in a single local file.
type FilePersister struct {
	path string
}

func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

func (p *FilePersister) Save(_ context.Context, g *Gallery) error {
	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create gallery dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".gallery-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, g); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), p.path); err != nil {
		return fmt.Errorf("replace gallery file: %w", err)
	}
	return nil
}

func (p *FilePersister) Load(_ context.Context) (*Gallery, error) {
	f, err := os.Open(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open gallery file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// ObjectStore is the subset of an object storage client used for galleries.
// GetObject returns nil data and a nil error for missing keys.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// ObjectPersister keeps the gallery as one object in a bucket.
type ObjectPersister struct {
	store ObjectStore
	key   string
}

func NewObjectPersister(store ObjectStore, key string) *ObjectPersister {
	return &ObjectPersister{store: store, key: key}
}

func (p *ObjectPersister) Save(ctx context.Context, g *Gallery) error {
	var buf bytes.Buffer
	if err := Encode(&buf, g); err != nil {
		return err
	}
	if err := p.store.PutObject(ctx, p.key, buf.Bytes(), "application/octet-stream"); err != nil {
		return fmt.Errorf("upload gallery: %w", err)
	}
	return nil
}

func (p *ObjectPersister) Load(ctx context.Context) (*Gallery, error) {
	data, err := p.store.GetObject(ctx, p.key)
	if err != nil {
		return nil, fmt.Errorf("download gallery: %w", err)
	}
	if data == nil {
		return nil, ErrNotFound
	}
	return Decode(bytes.NewReader(data))
}

// EntryTable stores gallery entries as rows, e.g. a pgvector table, together
// with the build time of the stored gallery.
type EntryTable interface {
	ReplaceGalleryEntries(ctx context.Context, entries []Entry, builtAt time.Time) error
	// GalleryEntries reports ok=false when no gallery has been saved.
	GalleryEntries(ctx context.Context) (entries []Entry, builtAt time.Time, ok bool, err error)
}

// TablePersister adapts an EntryTable. A saved gallery with no entries loads
// as an empty gallery, not as missing.
type TablePersister struct {
	table  EntryTable
	source string
}

func NewTablePersister(table EntryTable, source string) *TablePersister {
	return &TablePersister{table: table, source: source}
}

func (p *TablePersister) Save(ctx context.Context, g *Gallery) error {
	return p.table.ReplaceGalleryEntries(ctx, g.Entries(), g.BuiltAt())
}

func (p *TablePersister) Load(ctx context.Context) (*Gallery, error) {
	entries, builtAt, ok, err := p.table.GalleryEntries(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return New(entries, p.source, builtAt), nil
}
