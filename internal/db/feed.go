package db

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// FeedRepository handles feed event database operations. Feed events
// are append-only; there is no update path.
type FeedRepository struct {
	pool *pgxpool.Pool
}

// Insert appends a feed event.
func (r *FeedRepository) Insert(ctx context.Context, event *FeedEvent) error {
	contextJSON, err := json.Marshal(event.Context)
	if err != nil {
		return fmt.Errorf("encoding feed context: %w", err)
	}

	query := `
		INSERT INTO feed_events (id, user_id, event_type, track_id, context, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, NOW())
		RETURNING id, created_at
	`
	err = r.pool.QueryRow(ctx, query,
		uuid.New(),
		event.UserID,
		event.EventType,
		event.TrackID,
		string(contextJSON),
	).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting feed event: %w", err)
	}
	return nil
}

// ListForUser retrieves a user's feed events, newest first.
func (r *FeedRepository) ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]FeedEvent, error) {
	query := `
		SELECT id, user_id, event_type, track_id, context, created_at
		FROM feed_events
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying feed events: %w", err)
	}
	defer rows.Close()

	var events []FeedEvent
	for rows.Next() {
		var event FeedEvent
		var contextJSON []byte
		if err := rows.Scan(
			&event.ID,
			&event.UserID,
			&event.EventType,
			&event.TrackID,
			&contextJSON,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning feed event: %w", err)
		}
		if len(contextJSON) > 0 {
			if err := json.Unmarshal(contextJSON, &event.Context); err != nil {
				return nil, fmt.Errorf("decoding feed context: %w", err)
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
