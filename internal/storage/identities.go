package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/your-org/facegate/internal/models"
)

func (s *PostgresStore) CreateIdentity(ctx context.Context, in models.Identity) (*models.Identity, error) {
	id := in
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (name, address, phone, email) VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		id.Name, id.Address, id.Phone, id.Email,
	).Scan(&id.ID, &id.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("identity %q: %w", id.Name, ErrConflict)
		}
		return nil, fmt.Errorf("create identity: %w", err)
	}
	return &id, nil
}

func (s *PostgresStore) GetIdentity(ctx context.Context, id int64) (*models.Identity, error) {
	return s.scanIdentity(s.pool.QueryRow(ctx,
		`SELECT id, name, address, phone, email, created_at FROM users WHERE id = $1`, id))
}

func (s *PostgresStore) GetIdentityByName(ctx context.Context, name string) (*models.Identity, error) {
	return s.scanIdentity(s.pool.QueryRow(ctx,
		`SELECT id, name, address, phone, email, created_at FROM users WHERE name = $1`, name))
}

func (s *PostgresStore) scanIdentity(row pgx.Row) (*models.Identity, error) {
	var u models.Identity
	err := row.Scan(&u.ID, &u.Name, &u.Address, &u.Phone, &u.Email, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return &u, nil
}

// ListIdentities returns identities ordered by name. A non-empty query keeps
// names containing it, case-insensitively.
func (s *PostgresStore) ListIdentities(ctx context.Context, query string) ([]models.Identity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, address, phone, email, created_at FROM users
		 WHERE $1 = '' OR name ILIKE '%' || $1 || '%'
		 ORDER BY name`, query)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var out []models.Identity
	for rows.Next() {
		var u models.Identity
		if err := rows.Scan(&u.ID, &u.Name, &u.Address, &u.Phone, &u.Email, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// LookupIdentity resolves a gallery label to a user id.
func (s *PostgresStore) LookupIdentity(ctx context.Context, name string) (int64, bool, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `SELECT id FROM users WHERE name = $1`, name).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup identity %q: %w", name, err)
	}
	return id, true, nil
}
