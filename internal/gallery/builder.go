package gallery

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Embedder turns an image into the embedding of its most confident face.
type Embedder interface {
	// EmbedFirst returns ok=false when the image contains no face.
	EmbedFirst(img image.Image) (embedding []float32, ok bool, err error)
}

// ProgressFunc is called after each image is processed.
type ProgressFunc func(done, total int, path string)

// Builder scans a labeled image directory into a Gallery. The directory layout
// is <root>/<label>/<image>.
type Builder struct {
	embedder Embedder
	progress ProgressFunc
}

func NewBuilder(embedder Embedder) *Builder {
	return &Builder{embedder: embedder}
}

// OnProgress registers a progress callback.
func (b *Builder) OnProgress(fn ProgressFunc) *Builder {
	b.progress = fn
	return b
}

type sample struct {
	label string
	path  string
}

// Build walks root in lexical order and embeds every image that contains a
// face. Unreadable files and faceless images are skipped. A missing root
// yields an empty gallery.
func (b *Builder) Build(ctx context.Context, root string) (*Gallery, error) {
	samples, err := listSamples(root)
	if err != nil {
		return nil, err
	}

	var (
		entries []Entry
		skipped int
	)

	for i, s := range samples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		emb, ok := b.embedSample(s)
		if ok {
			entries = append(entries, Entry{Label: s.label, Embedding: emb})
		} else {
			skipped++
		}

		if b.progress != nil {
			b.progress(i+1, len(samples), s.path)
		}
	}

	slog.Info("gallery built",
		"root", root,
		"images", len(samples),
		"entries", len(entries),
		"skipped", skipped,
	)

	return New(entries, root, time.Now()), nil
}

func (b *Builder) embedSample(s sample) ([]float32, bool) {
	img, err := imaging.Open(s.path, imaging.AutoOrientation(true))
	if err != nil {
		slog.Debug("skip unreadable image", "path", s.path, "error", err)
		return nil, false
	}

	emb, ok, err := b.embedder.EmbedFirst(img)
	if err != nil {
		slog.Warn("embed training image", "path", s.path, "error", err)
		return nil, false
	}
	if !ok {
		slog.Debug("no face in training image", "path", s.path)
		return nil, false
	}
	return emb, true
}

// listSamples returns label/image pairs in lexical order. os.ReadDir sorts by
// filename.
func listSamples(root string) ([]sample, error) {
	labels, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read gallery root: %w", err)
	}

	var samples []sample
	for _, l := range labels {
		if !l.IsDir() {
			continue
		}
		dir := filepath.Join(root, l.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			slog.Warn("skip label directory", "dir", dir, "error", err)
			continue
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			samples = append(samples, sample{label: l.Name(), path: filepath.Join(dir, f.Name())})
		}
	}
	return samples, nil
}
