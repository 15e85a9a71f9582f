package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/facegate/internal/gallery"
)

// ReplaceGalleryEntries swaps the stored gallery for entries in one transaction.
func (s *PostgresStore) ReplaceGalleryEntries(ctx context.Context, entries []gallery.Entry, builtAt time.Time) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM gallery_entries`); err != nil {
			return fmt.Errorf("clear gallery: %w", err)
		}

		batch := &pgx.Batch{}
		for i, e := range entries {
			batch.Queue(`INSERT INTO gallery_entries (position, label, embedding) VALUES ($1, $2, $3)`,
				i, e.Label, pgvector.NewVector(e.Embedding))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert gallery entries: %w", err)
		}

		_, err := tx.Exec(ctx,
			`INSERT INTO gallery_build (id, built_at, entries) VALUES (1, $1, $2)
			 ON CONFLICT (id) DO UPDATE SET built_at = EXCLUDED.built_at, entries = EXCLUDED.entries`,
			builtAt, len(entries))
		if err != nil {
			return fmt.Errorf("record gallery build: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace gallery: %w", err)
	}
	return nil
}

// GalleryEntries returns the stored gallery in its original order and its
// build time. ok is false when no gallery has been saved.
func (s *PostgresStore) GalleryEntries(ctx context.Context) ([]gallery.Entry, time.Time, bool, error) {
	var builtAt time.Time
	err := s.pool.QueryRow(ctx, `SELECT built_at FROM gallery_build WHERE id = 1`).Scan(&builtAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("load gallery build: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT label, embedding FROM gallery_entries ORDER BY position`)
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("load gallery: %w", err)
	}
	defer rows.Close()

	var out []gallery.Entry
	for rows.Next() {
		var (
			label string
			vec   pgvector.Vector
		)
		if err := rows.Scan(&label, &vec); err != nil {
			return nil, time.Time{}, false, fmt.Errorf("scan gallery entry: %w", err)
		}
		out = append(out, gallery.Entry{Label: label, Embedding: vec.Slice()})
	}
	if err := rows.Err(); err != nil {
		return nil, time.Time{}, false, fmt.Errorf("load gallery: %w", err)
	}
	return out, builtAt, true, nil
}
