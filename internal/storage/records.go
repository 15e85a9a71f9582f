package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/your-org/facegate/internal/models"
)

// CheckIn opens a record for userID unless one is already open. It returns
// the open record's id and whether a new record was created. The per-user
// advisory lock serializes concurrent check-ins and check-outs.
func (s *PostgresStore) CheckIn(ctx context.Context, userID int64, at time.Time, image []byte) (int64, bool, error) {
	var (
		id      int64
		created bool
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, userID); err != nil {
			return fmt.Errorf("lock user %d: %w", userID, err)
		}

		err := tx.QueryRow(ctx,
			`SELECT id FROM records
			 WHERE user_id = $1 AND check_out_time IS NULL
			 ORDER BY check_in_time DESC, id DESC LIMIT 1`, userID).Scan(&id)
		if err == nil {
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("find open record: %w", err)
		}

		if err := tx.QueryRow(ctx,
			`INSERT INTO records (user_id, check_in_time, image) VALUES ($1, $2, $3) RETURNING id`,
			userID, at, image).Scan(&id); err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("check in user %d: %w", userID, err)
	}
	return id, created, nil
}

// RecordUnknown stores a visit by an unrecognized face.
func (s *PostgresStore) RecordUnknown(ctx context.Context, at time.Time, image []byte) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO records (user_id, check_in_time, image) VALUES (NULL, $1, $2) RETURNING id`,
		at, image).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("record unknown visitor: %w", err)
	}
	return id, nil
}

// CheckOut closes the most recent open record of userID. closed is false when
// the user had no open record.
func (s *PostgresStore) CheckOut(ctx context.Context, userID int64, at time.Time) (int64, bool, error) {
	var (
		id     int64
		closed bool
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, userID); err != nil {
			return fmt.Errorf("lock user %d: %w", userID, err)
		}

		err := tx.QueryRow(ctx,
			`UPDATE records SET check_out_time = $2
			 WHERE id = (
			     SELECT id FROM records
			     WHERE user_id = $1 AND check_out_time IS NULL
			     ORDER BY check_in_time DESC, id DESC LIMIT 1
			 )
			 RETURNING id`, userID, at).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("close record: %w", err)
		}
		closed = true
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("check out user %d: %w", userID, err)
	}
	return id, closed, nil
}

// ListRecords returns records newest first plus the total matching count.
func (s *PostgresStore) ListRecords(ctx context.Context, f models.RecordFilter) ([]models.Record, int, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.UserID != nil {
		where = append(where, "r.user_id = "+arg(*f.UserID))
	}
	if f.Open != nil {
		if *f.Open {
			where = append(where, "r.check_out_time IS NULL")
		} else {
			where = append(where, "r.check_out_time IS NOT NULL")
		}
	}
	if f.From != nil {
		where = append(where, "r.check_in_time >= "+arg(*f.From))
	}
	if f.To != nil {
		where = append(where, "r.check_in_time < "+arg(*f.To))
	}

	cond := ""
	if len(where) > 0 {
		cond = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM records r `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count records: %w", err)
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset := max(f.Offset, 0)
	query := `SELECT r.id, r.user_id, COALESCE(u.name, ''), r.check_in_time, r.check_out_time
		FROM records r LEFT JOIN users u ON u.id = r.user_id ` + cond +
		` ORDER BY r.check_in_time DESC, r.id DESC LIMIT ` + arg(limit) + ` OFFSET ` + arg(offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []models.Record
	for rows.Next() {
		var r models.Record
		if err := rows.Scan(&r.ID, &r.UserID, &r.UserName, &r.CheckInTime, &r.CheckOutTime); err != nil {
			return nil, 0, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// GetRecordImage returns the snapshot stored with a record, or nil when the
// record does not exist or has no image.
func (s *PostgresStore) GetRecordImage(ctx context.Context, id int64) ([]byte, error) {
	var img []byte
	err := s.pool.QueryRow(ctx, `SELECT image FROM records WHERE id = $1`, id).Scan(&img)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record image: %w", err)
	}
	return img, nil
}
