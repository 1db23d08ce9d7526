package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Grant is a stored Spotify refresh grant.
type Grant struct {
	ID           uuid.UUID
	RefreshToken string
	AccountID    string
	DisplayName  string
	Scope        string
	CreatedAt    time.Time
}

// GrantRepository handles grant database operations.
type GrantRepository struct {
	pool *pgxpool.Pool
}

// Create inserts a new grant, assigning its ID and creation time.
func (r *GrantRepository) Create(ctx context.Context, grant *Grant) error {
	query := `
		INSERT INTO spotify_grants (id, refresh_token, account_id, display_name, scope, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING created_at
	`
	grant.ID = uuid.New()
	err := r.pool.QueryRow(ctx, query,
		grant.ID,
		grant.RefreshToken,
		grant.AccountID,
		grant.DisplayName,
		grant.Scope,
	).Scan(&grant.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting grant: %w", err)
	}
	return nil
}

// Latest retrieves the most recently created grant.
func (r *GrantRepository) Latest(ctx context.Context) (*Grant, error) {
	query := `
		SELECT id, refresh_token, account_id, display_name, scope, created_at
		FROM spotify_grants
		ORDER BY created_at DESC
		LIMIT 1
	`
	var grant Grant
	err := r.pool.QueryRow(ctx, query).Scan(
		&grant.ID,
		&grant.RefreshToken,
		&grant.AccountID,
		&grant.DisplayName,
		&grant.Scope,
		&grant.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying grant: %w", err)
	}
	return &grant, nil
}

// DeleteAll removes every stored grant.
func (r *GrantRepository) DeleteAll(ctx context.Context) error {
	query := `DELETE FROM spotify_grants`
	_, err := r.pool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("deleting grants: %w", err)
	}
	return nil
}

