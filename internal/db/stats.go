package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StatsRepository handles daily listening statistic operations.
type StatsRepository struct {
	pool *pgxpool.Pool
}

// MergeDaily folds one ingestion batch's totals into the row for
// (user, date) as a single atomic statement: track and minute counts
// add, unique-artist count takes the greater of the stored and batch
// values. Totals only ever increase within a day.
func (r *StatsRepository) MergeDaily(ctx context.Context, stat *ListeningStat) error {
	genres := stat.TopGenres
	if genres == nil {
		genres = []string{}
	}
	genresJSON, err := json.Marshal(genres)
	if err != nil {
		return fmt.Errorf("encoding top genres: %w", err)
	}

	query := `
		INSERT INTO listening_stats (id, user_id, date, total_tracks, total_minutes, unique_artists, top_genres, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, NOW())
		ON CONFLICT (user_id, date) DO UPDATE SET
			total_tracks = listening_stats.total_tracks + EXCLUDED.total_tracks,
			total_minutes = listening_stats.total_minutes + EXCLUDED.total_minutes,
			unique_artists = GREATEST(listening_stats.unique_artists, EXCLUDED.unique_artists),
			updated_at = NOW()
		RETURNING id, total_tracks, total_minutes, unique_artists, updated_at
	`
	err = r.pool.QueryRow(ctx, query,
		uuid.New(),
		stat.UserID,
		stat.Date,
		stat.TotalTracks,
		stat.TotalMinutes,
		stat.UniqueArtists,
		string(genresJSON),
	).Scan(&stat.ID, &stat.TotalTracks, &stat.TotalMinutes, &stat.UniqueArtists, &stat.UpdatedAt)
	if err != nil {
		return fmt.Errorf("merging daily stats: %w", err)
	}
	return nil
}

// GetForDay retrieves the statistic row for (user, date).
func (r *StatsRepository) GetForDay(ctx context.Context, userID uuid.UUID, date time.Time) (*ListeningStat, error) {
	query := `
		SELECT id, user_id, date, total_tracks, total_minutes, unique_artists, top_genres, updated_at
		FROM listening_stats
		WHERE user_id = $1 AND date = $2
	`
	return r.scanStat(r.pool.QueryRow(ctx, query, userID, date))
}

// ListForUser retrieves up to limit daily rows for a user, newest day first.
func (r *StatsRepository) ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]ListeningStat, error) {
	query := `
		SELECT id, user_id, date, total_tracks, total_minutes, unique_artists, top_genres, updated_at
		FROM listening_stats
		WHERE user_id = $1
		ORDER BY date DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying listening stats: %w", err)
	}
	defer rows.Close()

	var stats []ListeningStat
	for rows.Next() {
		stat, err := r.scanStat(rows)
		if err != nil {
			return nil, err
		}
		stats = append(stats, *stat)
	}
	return stats, rows.Err()
}

func (r *StatsRepository) scanStat(row pgx.Row) (*ListeningStat, error) {
	var stat ListeningStat
	var genresJSON []byte
	err := row.Scan(
		&stat.ID,
		&stat.UserID,
		&stat.Date,
		&stat.TotalTracks,
		&stat.TotalMinutes,
		&stat.UniqueArtists,
		&genresJSON,
		&stat.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning listening stat: %w", err)
	}
	if err := json.Unmarshal(genresJSON, &stat.TopGenres); err != nil {
		return nil, fmt.Errorf("decoding top genres: %w", err)
	}
	return &stat, nil
}
