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

// UserRepository handles user database operations, including the
// credential store consumed by the sync engine.
type UserRepository struct {
	pool *pgxpool.Pool
}

const userColumns = `id, username, display_name, avatar_url, spotify_id,
		access_token, refresh_token, token_expires_at, last_active_at, created_at`

func scanUser(row pgx.Row) (*User, error) {
	var user User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.DisplayName,
		&user.AvatarURL,
		&user.SpotifyID,
		&user.AccessToken,
		&user.RefreshToken,
		&user.TokenExpiresAt,
		&user.LastActiveAt,
		&user.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	return &user, nil
}

// Get retrieves a user by ID.
func (r *UserRepository) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

// GetBySpotifyID retrieves a user by their linked Spotify account.
func (r *UserRepository) GetBySpotifyID(ctx context.Context, spotifyID string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE spotify_id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, spotifyID))
}

// UpsertBySpotifyID creates or updates a user keyed by their Spotify
// account, storing the freshly exchanged credential pair. Used by the
// OAuth callback.
func (r *UserRepository) UpsertBySpotifyID(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, username, display_name, avatar_url, spotify_id,
			access_token, refresh_token, token_expires_at, last_active_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (spotify_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			avatar_url = EXCLUDED.avatar_url,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expires_at = EXCLUDED.token_expires_at,
			last_active_at = NOW()
		RETURNING id, created_at
	`
	err := r.pool.QueryRow(ctx, query,
		user.ID,
		user.Username,
		user.DisplayName,
		user.AvatarURL,
		user.SpotifyID,
		user.AccessToken,
		user.RefreshToken,
		user.TokenExpiresAt,
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

// UpdateTokens persists a refreshed credential pair and its expiry.
func (r *UserRepository) UpdateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) error {
	query := `
		UPDATE users
		SET access_token = $2, refresh_token = $3, token_expires_at = $4
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query, id, accessToken, refreshToken, expiresAt)
	if err != nil {
		return fmt.Errorf("updating tokens: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateProfile stores the display attributes fetched from the
// streaming provider.
func (r *UserRepository) UpdateProfile(ctx context.Context, id uuid.UUID, displayName, avatarURL, spotifyID string) error {
	query := `
		UPDATE users
		SET display_name = $2, avatar_url = NULLIF($3, ''), spotify_id = $4, last_active_at = NOW()
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query, id, displayName, avatarURL, spotifyID)
	if err != nil {
		return fmt.Errorf("updating profile: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLastActive bumps the last-active timestamp.
func (r *UserRepository) UpdateLastActive(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE users SET last_active_at = $2 WHERE id = $1`
	result, err := r.pool.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("updating last active: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
