package db

import (
	"time"

	"github.com/google/uuid"
)

// User represents a registered listener with their streaming credentials.
type User struct {
	ID             uuid.UUID
	Username       string
	DisplayName    *string // nullable
	AvatarURL      *string // nullable
	SpotifyID      *string // nullable until the account is linked
	AccessToken    string  // empty when no credential is on file
	RefreshToken   string
	TokenExpiresAt *time.Time // nullable
	LastActiveAt   *time.Time // nullable
	CreatedAt      time.Time
}

// Track represents a normalized song keyed by its Spotify ID.
type Track struct {
	ID          uuid.UUID
	Title       string
	Artist      string  // display string, multiple artists joined by ", "
	Album       *string // nullable
	DurationSec int
	Source      string
	SourceURL   *string // nullable
	SpotifyID   string
}

// Artist represents a normalized artist keyed by its Spotify ID.
type Artist struct {
	ID         uuid.UUID
	Name       string
	SpotifyID  string
	ImageURL   *string // nullable
	Genres     []string
	Popularity int
	Followers  int
	SourceURL  *string // nullable
}

// PlaybackContext describes where a playback happened (playlist, album, ...).
type PlaybackContext struct {
	Type string `json:"context_type,omitempty"`
	URI  string `json:"context_uri,omitempty"`
	Name string `json:"context_name,omitempty"`
}

// PlaybackEvent represents one play of a track by a user.
// (UserID, TrackID, PlayedAt) is unique.
type PlaybackEvent struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TrackID   uuid.UUID
	PlayedAt  time.Time
	Context   PlaybackContext
	CreatedAt time.Time
}

// TopEntry is one reconciled entity with its upstream rank, used when
// replacing a ranked list.
type TopEntry struct {
	EntityID uuid.UUID
	Rank     int
}

// TopTrackEntry is a stored ranked-list row for tracks.
type TopTrackEntry struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	TrackID     uuid.UUID
	TimeRange   string
	Rank        int
	CollectedAt time.Time
}

// TopArtistEntry is a stored ranked-list row for artists.
type TopArtistEntry struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	ArtistID    uuid.UUID
	TimeRange   string
	Rank        int
	CollectedAt time.Time
}

// FeedEvent is an append-only record of a notable listening action.
type FeedEvent struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	EventType string
	TrackID   *uuid.UUID // nullable, unset for artist events
	Context   map[string]any
	CreatedAt time.Time
}

// ListeningStat holds running per-day listening totals for a user.
type ListeningStat struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	Date          time.Time
	TotalTracks   int
	TotalMinutes  int
	UniqueArtists int
	TopGenres     []string
	UpdatedAt     time.Time
}
