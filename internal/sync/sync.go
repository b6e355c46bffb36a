// Package sync implements the token-aware synchronization engine that
// pulls listening activity from Spotify into the local store and keeps
// the derived aggregates current.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/tunewave/tunewave-backend/internal/auth"
	"github.com/tunewave/tunewave-backend/internal/db"
	"github.com/tunewave/tunewave-backend/internal/spotify"
)

// Kind selects which activity a sync invocation ingests.
type Kind string

// Supported sync kinds.
const (
	KindProfile        Kind = "profile"
	KindTopTracks      Kind = "top_tracks"
	KindTopArtists     Kind = "top_artists"
	KindRecentPlayback Kind = "recent_playback"
)

// Request describes one sync invocation for a user.
type Request struct {
	Kind   Kind
	Window spotify.Window // top-list kinds only
	Limit  int
	After  string // recent-playback cursor bounds
	Before string
}

// EntityFailure records a single entity that could not be reconciled.
// The rest of the batch proceeds.
type EntityFailure struct {
	SpotifyID string
	Err       error
}

// Result is the outcome of a sync invocation. Failures holds
// per-entity problems; a non-empty Failures alongside stored entities
// is a partial success, not an error.
type Result struct {
	Profile           *spotify.Profile
	Tracks            []db.Track
	Artists           []db.Artist
	Playback          []db.PlaybackEvent
	FeedEventsCreated int
	Failures          []EntityFailure
}

// ActivityClient fetches listening activity from the streaming provider.
type ActivityClient interface {
	CurrentProfile(ctx context.Context, accessToken string) (*spotify.Profile, error)
	TopTracks(ctx context.Context, accessToken string, window spotify.Window, limit int) ([]spotify.Track, error)
	TopArtists(ctx context.Context, accessToken string, window spotify.Window, limit int) ([]spotify.Artist, error)
	RecentlyPlayed(ctx context.Context, accessToken string, opts spotify.RecentOpts) ([]spotify.Playback, error)
}

// TokenRefresher obtains a fresh access token from a refresh token.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// UserStore is the credential store plus profile persistence.
type UserStore interface {
	Get(ctx context.Context, id uuid.UUID) (*db.User, error)
	UpdateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) error
	UpdateProfile(ctx context.Context, id uuid.UUID, displayName, avatarURL, spotifyID string) error
}

// TrackStore upserts normalized tracks.
type TrackStore interface {
	Upsert(ctx context.Context, track *db.Track) error
}

// ArtistStore upserts normalized artists.
type ArtistStore interface {
	Upsert(ctx context.Context, artist *db.Artist) error
}

// PlaybackStore inserts playback events idempotently.
type PlaybackStore interface {
	Insert(ctx context.Context, event *db.PlaybackEvent) (bool, error)
}

// TopListStore replaces ranked lists atomically per (user, range).
type TopListStore interface {
	ReplaceTopTracks(ctx context.Context, userID uuid.UUID, timeRange string, entries []db.TopEntry) error
	ReplaceTopArtists(ctx context.Context, userID uuid.UUID, timeRange string, entries []db.TopEntry) error
}

// FeedStore appends feed events.
type FeedStore interface {
	Insert(ctx context.Context, event *db.FeedEvent) error
}

// StatsStore merges batch totals into daily statistics.
type StatsStore interface {
	MergeDaily(ctx context.Context, stat *db.ListeningStat) error
}

// Deps wires a Service. All fields are required except Logger.
type Deps struct {
	Client    ActivityClient
	Refresher TokenRefresher
	Users     UserStore
	Tracks    TrackStore
	Artists   ArtistStore
	Playback  PlaybackStore
	TopLists  TopListStore
	Feed      FeedStore
	Stats     StatsStore
	Logger    *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithNow overrides the clock (used in tests for day bucketing).
func WithNow(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service coordinates fetch, credential refresh, reconciliation, and
// aggregation for one sync invocation at a time per call.
type Service struct {
	client    ActivityClient
	refresher TokenRefresher
	users     UserStore
	tracks    TrackStore
	artists   ArtistStore
	playback  PlaybackStore
	topLists  TopListStore
	feed      FeedStore
	stats     StatsStore
	log       *zap.Logger
	now       func() time.Time

	// refreshGroup collapses concurrent refreshes for the same user
	// into a single token-endpoint call.
	refreshGroup singleflight.Group
	// windowLocks serializes ranked-list replacement per (user, window).
	windowLocks keyedMutex
}

// New creates a sync Service.
func New(deps Deps, opts ...Option) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		client:    deps.Client,
		refresher: deps.Refresher,
		users:     deps.Users,
		tracks:    deps.Tracks,
		artists:   deps.Artists,
		playback:  deps.Playback,
		topLists:  deps.TopLists,
		feed:      deps.Feed,
		stats:     deps.Stats,
		log:       logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync runs one invocation for a user. Credential problems surface as
// auth.ErrCredentialInvalid; rate limiting and upstream outages pass
// through verbatim so the caller can decide on backoff.
func (s *Service) Sync(ctx context.Context, userID uuid.UUID, req Request) (*Result, error) {
	user, err := s.users.Get(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("user %s: %w", userID, auth.ErrCredentialInvalid)
	}
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if user.AccessToken == "" {
		return nil, fmt.Errorf("no access token on file: %w", auth.ErrCredentialInvalid)
	}

	payload, err := s.fetchWithRefresh(ctx, user, req)
	if err != nil {
		return nil, err
	}

	switch req.Kind {
	case KindProfile:
		return s.applyProfile(ctx, user.ID, payload.profile)
	case KindTopTracks:
		return s.applyTopTracks(ctx, user.ID, req.Window, payload.tracks)
	case KindTopArtists:
		return s.applyTopArtists(ctx, user.ID, req.Window, payload.artists)
	case KindRecentPlayback:
		return s.applyRecentPlayback(ctx, user.ID, payload.plays)
	default:
		return nil, fmt.Errorf("unknown sync kind %q", req.Kind)
	}
}

// payload is the union of fetch results across kinds.
type payload struct {
	profile *spotify.Profile
	tracks  []spotify.Track
	artists []spotify.Artist
	plays   []spotify.Playback
}

// fetchWithRefresh issues the upstream call, running the refresh
// protocol on an unauthorized result and retrying the identical call
// exactly once. A second unauthorized result is terminal.
func (s *Service) fetchWithRefresh(ctx context.Context, user *db.User, req Request) (*payload, error) {
	p, err := s.fetch(ctx, user.AccessToken, req)
	if !errors.Is(err, spotify.ErrUnauthorized) {
		return p, err
	}

	if user.RefreshToken == "" {
		return nil, fmt.Errorf("access token rejected and no refresh token on file: %w", auth.ErrCredentialInvalid)
	}

	accessToken, err := s.refreshCredentials(ctx, user)
	if err != nil {
		return nil, err
	}
	s.log.Info("retrying after credential refresh",
		zap.String("user_id", user.ID.String()),
		zap.String("kind", string(req.Kind)))

	p, err = s.fetch(ctx, accessToken, req)
	if errors.Is(err, spotify.ErrUnauthorized) {
		return nil, fmt.Errorf("access token rejected after refresh: %w", auth.ErrCredentialInvalid)
	}
	return p, err
}

func (s *Service) fetch(ctx context.Context, accessToken string, req Request) (*payload, error) {
	switch req.Kind {
	case KindProfile:
		profile, err := s.client.CurrentProfile(ctx, accessToken)
		if err != nil {
			return nil, err
		}
		return &payload{profile: profile}, nil
	case KindTopTracks:
		tracks, err := s.client.TopTracks(ctx, accessToken, req.Window, req.Limit)
		if err != nil {
			return nil, err
		}
		return &payload{tracks: tracks}, nil
	case KindTopArtists:
		artists, err := s.client.TopArtists(ctx, accessToken, req.Window, req.Limit)
		if err != nil {
			return nil, err
		}
		return &payload{artists: artists}, nil
	case KindRecentPlayback:
		plays, err := s.client.RecentlyPlayed(ctx, accessToken, spotify.RecentOpts{
			Limit:  req.Limit,
			After:  req.After,
			Before: req.Before,
		})
		if err != nil {
			return nil, err
		}
		return &payload{plays: plays}, nil
	default:
		return nil, fmt.Errorf("unknown sync kind %q", req.Kind)
	}
}

// refreshCredentials runs the refresh protocol for a user and persists
// the new credential pair before any retry. Concurrent invocations for
// the same user share one refresh.
func (s *Service) refreshCredentials(ctx context.Context, user *db.User) (string, error) {
	v, err, _ := s.refreshGroup.Do(user.ID.String(), func() (any, error) {
		token, err := s.refresher.Refresh(ctx, user.RefreshToken)
		if err != nil {
			return nil, err
		}

		// Providers may rotate the refresh token; keep the old one
		// when they don't.
		refreshToken := token.RefreshToken
		if refreshToken == "" {
			refreshToken = user.RefreshToken
		}

		if err := s.users.UpdateTokens(ctx, user.ID, token.AccessToken, refreshToken, token.Expiry); err != nil {
			return nil, fmt.Errorf("persisting refreshed credential: %w", err)
		}
		return token.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *Service) applyProfile(ctx context.Context, userID uuid.UUID, profile *spotify.Profile) (*Result, error) {
	if err := s.users.UpdateProfile(ctx, userID, profile.DisplayName, profile.AvatarURL, profile.SpotifyID); err != nil {
		return nil, fmt.Errorf("storing profile: %w", err)
	}
	return &Result{Profile: profile}, nil
}
