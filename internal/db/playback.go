package db

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PlaybackRepository handles playback history database operations.
type PlaybackRepository struct {
	pool *pgxpool.Pool
}

// Insert stores a playback event. A row already present under the
// (user, track, played_at) key is left untouched; the return value
// reports whether a new row was actually created.
func (r *PlaybackRepository) Insert(ctx context.Context, event *PlaybackEvent) (bool, error) {
	contextJSON, err := json.Marshal(event.Context)
	if err != nil {
		return false, fmt.Errorf("encoding playback context: %w", err)
	}

	query := `
		INSERT INTO recent_playback (id, user_id, track_id, played_at, context, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, NOW())
		ON CONFLICT (user_id, track_id, played_at) DO NOTHING
	`
	result, err := r.pool.Exec(ctx, query,
		uuid.New(),
		event.UserID,
		event.TrackID,
		event.PlayedAt,
		string(contextJSON),
	)
	if err != nil {
		return false, fmt.Errorf("inserting playback: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// ListRecent retrieves a user's playback history, most recent first.
func (r *PlaybackRepository) ListRecent(ctx context.Context, userID uuid.UUID, limit int) ([]PlaybackEvent, error) {
	query := `
		SELECT id, user_id, track_id, played_at, context, created_at
		FROM recent_playback
		WHERE user_id = $1
		ORDER BY played_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying playback: %w", err)
	}
	defer rows.Close()

	var events []PlaybackEvent
	for rows.Next() {
		var event PlaybackEvent
		var contextJSON []byte
		if err := rows.Scan(
			&event.ID,
			&event.UserID,
			&event.TrackID,
			&event.PlayedAt,
			&contextJSON,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning playback: %w", err)
		}
		if len(contextJSON) > 0 {
			if err := json.Unmarshal(contextJSON, &event.Context); err != nil {
				return nil, fmt.Errorf("decoding playback context: %w", err)
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
