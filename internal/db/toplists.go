package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TopListRepository handles ranked top-list database operations.
//
// A (user, time range) list is a snapshot of one collection cycle: each
// replace deletes the previous entries and inserts the new set inside a
// single transaction so readers never observe merged old and new ranks.
type TopListRepository struct {
	pool *pgxpool.Pool
}

// ReplaceTopTracks swaps the stored top-track list for (user, range).
func (r *TopListRepository) ReplaceTopTracks(ctx context.Context, userID uuid.UUID, timeRange string, entries []TopEntry) error {
	return r.replace(ctx, "top_tracks", "track_id", userID, timeRange, entries)
}

// ReplaceTopArtists swaps the stored top-artist list for (user, range).
func (r *TopListRepository) ReplaceTopArtists(ctx context.Context, userID uuid.UUID, timeRange string, entries []TopEntry) error {
	return r.replace(ctx, "top_artists", "artist_id", userID, timeRange, entries)
}

func (r *TopListRepository) replace(ctx context.Context, table, entityColumn string, userID uuid.UUID, timeRange string, entries []TopEntry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	deleteQuery := fmt.Sprintf(`DELETE FROM %s WHERE user_id = $1 AND time_range = $2`, table)
	if _, err := tx.Exec(ctx, deleteQuery, userID, timeRange); err != nil {
		return fmt.Errorf("clearing %s: %w", table, err)
	}

	if len(entries) > 0 {
		insertQuery := fmt.Sprintf(`
			INSERT INTO %s (id, user_id, %s, time_range, rank, collected_at)
			SELECT gen_random_uuid(), $1, entity_id, $2, rank, $3
			FROM unnest($4::uuid[], $5::int[]) AS t(entity_id, rank)
		`, table, entityColumn)

		entityIDs := make([]uuid.UUID, len(entries))
		ranks := make([]int, len(entries))
		for i, e := range entries {
			entityIDs[i] = e.EntityID
			ranks[i] = e.Rank
		}

		if _, err := tx.Exec(ctx, insertQuery, userID, timeRange, time.Now(), entityIDs, ranks); err != nil {
			return fmt.Errorf("inserting %s: %w", table, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing %s replace: %w", table, err)
	}
	return nil
}

// ListTopTracks retrieves the stored top tracks for (user, range),
// ordered by rank.
func (r *TopListRepository) ListTopTracks(ctx context.Context, userID uuid.UUID, timeRange string) ([]TopTrackEntry, error) {
	query := `
		SELECT id, user_id, track_id, time_range, rank, collected_at
		FROM top_tracks
		WHERE user_id = $1 AND time_range = $2
		ORDER BY rank
	`
	rows, err := r.pool.Query(ctx, query, userID, timeRange)
	if err != nil {
		return nil, fmt.Errorf("querying top tracks: %w", err)
	}
	defer rows.Close()

	var entries []TopTrackEntry
	for rows.Next() {
		var e TopTrackEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.TrackID, &e.TimeRange, &e.Rank, &e.CollectedAt); err != nil {
			return nil, fmt.Errorf("scanning top track: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListTopArtists retrieves the stored top artists for (user, range),
// ordered by rank.
func (r *TopListRepository) ListTopArtists(ctx context.Context, userID uuid.UUID, timeRange string) ([]TopArtistEntry, error) {
	query := `
		SELECT id, user_id, artist_id, time_range, rank, collected_at
		FROM top_artists
		WHERE user_id = $1 AND time_range = $2
		ORDER BY rank
	`
	rows, err := r.pool.Query(ctx, query, userID, timeRange)
	if err != nil {
		return nil, fmt.Errorf("querying top artists: %w", err)
	}
	defer rows.Close()

	var entries []TopArtistEntry
	for rows.Next() {
		var e TopArtistEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.ArtistID, &e.TimeRange, &e.Rank, &e.CollectedAt); err != nil {
			return nil, fmt.Errorf("scanning top artist: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
