package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/your-org/facegate/internal/config"
	"github.com/your-org/facegate/internal/gallery"
	"github.com/your-org/facegate/internal/storage"
)

// backends holds the optional external stores.
type backends struct {
	db    *storage.PostgresStore
	minio *storage.MinIOStore
}

// openBackends connects to PostgreSQL when needDB is set or the gallery lives
// in a table, and to MinIO when an endpoint is configured.
func openBackends(ctx context.Context, cfg *config.Config, needDB bool) (*backends, error) {
	b := &backends{}

	if needDB || cfg.Gallery.Backend == "postgres" {
		db, err := storage.NewPostgresStore(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		b.db = db
	}

	if cfg.MinIO.Endpoint != "" {
		m, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			b.close()
			return nil, fmt.Errorf("connect to minio: %w", err)
		}
		if err := m.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio bucket", "bucket", cfg.MinIO.Bucket, "error", err)
		}
		b.minio = m
	} else if cfg.Gallery.Backend == "minio" {
		b.close()
		return nil, fmt.Errorf("gallery.backend is minio but minio.endpoint is empty")
	}

	return b, nil
}

func (b *backends) close() {
	if b.db != nil {
		b.db.Close()
	}
}

func (b *backends) galleryPersister(cfg config.GalleryConfig) gallery.Persister {
	switch cfg.Backend {
	case "postgres":
		return gallery.NewTablePersister(b.db, cfg.ImagesDir)
	case "minio":
		return gallery.NewObjectPersister(b.minio, cfg.Path)
	default:
		return gallery.NewFilePersister(cfg.Path)
	}
}
