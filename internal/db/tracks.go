package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TrackRepository handles track database operations.
type TrackRepository struct {
	pool *pgxpool.Pool
}

// Upsert creates or updates a track keyed by its Spotify ID. The local
// ID is stable: re-delivery of the same Spotify ID updates display
// fields and returns the existing row's ID.
func (r *TrackRepository) Upsert(ctx context.Context, track *Track) error {
	query := `
		INSERT INTO tracks (id, title, artist, album, duration, source, source_url, spotify_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (spotify_id) DO UPDATE SET
			title = EXCLUDED.title,
			artist = EXCLUDED.artist,
			album = EXCLUDED.album
		RETURNING id
	`
	err := r.pool.QueryRow(ctx, query,
		uuid.New(),
		track.Title,
		track.Artist,
		track.Album,
		track.DurationSec,
		track.Source,
		track.SourceURL,
		track.SpotifyID,
	).Scan(&track.ID)
	if err != nil {
		return fmt.Errorf("upserting track: %w", err)
	}
	return nil
}

// Get retrieves a track by its local ID.
func (r *TrackRepository) Get(ctx context.Context, id uuid.UUID) (*Track, error) {
	query := `
		SELECT id, title, artist, album, duration, source, source_url, spotify_id
		FROM tracks
		WHERE id = $1
	`
	var track Track
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&track.ID,
		&track.Title,
		&track.Artist,
		&track.Album,
		&track.DurationSec,
		&track.Source,
		&track.SourceURL,
		&track.SpotifyID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying track: %w", err)
	}
	return &track, nil
}
