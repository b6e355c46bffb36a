package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ArtistRepository handles artist database operations.
type ArtistRepository struct {
	pool *pgxpool.Pool
}

// Upsert creates or updates an artist keyed by its Spotify ID,
// preserving the local ID across deliveries.
func (r *ArtistRepository) Upsert(ctx context.Context, artist *Artist) error {
	genres := artist.Genres
	if genres == nil {
		genres = []string{}
	}
	genresJSON, err := json.Marshal(genres)
	if err != nil {
		return fmt.Errorf("encoding genres: %w", err)
	}

	query := `
		INSERT INTO artists (id, name, spotify_id, image_url, genres, popularity, followers, source_url)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8)
		ON CONFLICT (spotify_id) DO UPDATE SET
			name = EXCLUDED.name,
			image_url = EXCLUDED.image_url,
			genres = EXCLUDED.genres,
			popularity = EXCLUDED.popularity,
			followers = EXCLUDED.followers
		RETURNING id
	`
	err = r.pool.QueryRow(ctx, query,
		uuid.New(),
		artist.Name,
		artist.SpotifyID,
		artist.ImageURL,
		string(genresJSON),
		artist.Popularity,
		artist.Followers,
		artist.SourceURL,
	).Scan(&artist.ID)
	if err != nil {
		return fmt.Errorf("upserting artist: %w", err)
	}
	return nil
}

// Get retrieves an artist by its local ID.
func (r *ArtistRepository) Get(ctx context.Context, id uuid.UUID) (*Artist, error) {
	query := `
		SELECT id, name, spotify_id, image_url, genres, popularity, followers, source_url
		FROM artists
		WHERE id = $1
	`
	var artist Artist
	var genresJSON []byte
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&artist.ID,
		&artist.Name,
		&artist.SpotifyID,
		&artist.ImageURL,
		&genresJSON,
		&artist.Popularity,
		&artist.Followers,
		&artist.SourceURL,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying artist: %w", err)
	}
	if err := json.Unmarshal(genresJSON, &artist.Genres); err != nil {
		return nil, fmt.Errorf("decoding genres: %w", err)
	}
	return &artist, nil
}
