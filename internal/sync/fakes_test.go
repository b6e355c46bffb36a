package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/tunewave/tunewave-backend/internal/db"
	"github.com/tunewave/tunewave-backend/internal/spotify"
)

// In-memory fakes mirroring the storage layer's conflict semantics.

type fakeClient struct {
	profileFn    func(ctx context.Context, token string) (*spotify.Profile, error)
	topTracksFn  func(ctx context.Context, token string, window spotify.Window, limit int) ([]spotify.Track, error)
	topArtistsFn func(ctx context.Context, token string, window spotify.Window, limit int) ([]spotify.Artist, error)
	recentFn     func(ctx context.Context, token string, opts spotify.RecentOpts) ([]spotify.Playback, error)
	calls        int
}

func (c *fakeClient) CurrentProfile(ctx context.Context, token string) (*spotify.Profile, error) {
	c.calls++
	return c.profileFn(ctx, token)
}

func (c *fakeClient) TopTracks(ctx context.Context, token string, window spotify.Window, limit int) ([]spotify.Track, error) {
	c.calls++
	return c.topTracksFn(ctx, token, window, limit)
}

func (c *fakeClient) TopArtists(ctx context.Context, token string, window spotify.Window, limit int) ([]spotify.Artist, error) {
	c.calls++
	return c.topArtistsFn(ctx, token, window, limit)
}

func (c *fakeClient) RecentlyPlayed(ctx context.Context, token string, opts spotify.RecentOpts) ([]spotify.Playback, error) {
	c.calls++
	return c.recentFn(ctx, token, opts)
}

type fakeRefresher struct {
	token *oauth2.Token
	err   error
	calls int
}

func (r *fakeRefresher) Refresh(_ context.Context, _ string) (*oauth2.Token, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.token, nil
}

type fakeUsers struct {
	users        map[uuid.UUID]*db.User
	tokenUpdates int
}

func newFakeUsers(user *db.User) *fakeUsers {
	return &fakeUsers{users: map[uuid.UUID]*db.User{user.ID: user}}
}

func (f *fakeUsers) Get(_ context.Context, id uuid.UUID) (*db.User, error) {
	user, ok := f.users[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (f *fakeUsers) UpdateTokens(_ context.Context, id uuid.UUID, access, refresh string, expiresAt time.Time) error {
	user, ok := f.users[id]
	if !ok {
		return db.ErrNotFound
	}
	user.AccessToken = access
	user.RefreshToken = refresh
	user.TokenExpiresAt = &expiresAt
	f.tokenUpdates++
	return nil
}

func (f *fakeUsers) UpdateProfile(_ context.Context, id uuid.UUID, displayName, avatarURL, spotifyID string) error {
	user, ok := f.users[id]
	if !ok {
		return db.ErrNotFound
	}
	user.DisplayName = &displayName
	if avatarURL != "" {
		user.AvatarURL = &avatarURL
	}
	user.SpotifyID = &spotifyID
	return nil
}

type fakeTracks struct {
	bySpotifyID map[string]uuid.UUID
	upserts     int
	failOn      map[string]error
}

func newFakeTracks() *fakeTracks {
	return &fakeTracks{bySpotifyID: make(map[string]uuid.UUID)}
}

func (f *fakeTracks) Upsert(_ context.Context, track *db.Track) error {
	if err := f.failOn[track.SpotifyID]; err != nil {
		return err
	}
	f.upserts++
	id, ok := f.bySpotifyID[track.SpotifyID]
	if !ok {
		id = uuid.New()
		f.bySpotifyID[track.SpotifyID] = id
	}
	track.ID = id
	return nil
}

type fakeArtists struct {
	bySpotifyID map[string]uuid.UUID
	failOn      map[string]error
}

func newFakeArtists() *fakeArtists {
	return &fakeArtists{bySpotifyID: make(map[string]uuid.UUID)}
}

func (f *fakeArtists) Upsert(_ context.Context, artist *db.Artist) error {
	if err := f.failOn[artist.SpotifyID]; err != nil {
		return err
	}
	id, ok := f.bySpotifyID[artist.SpotifyID]
	if !ok {
		id = uuid.New()
		f.bySpotifyID[artist.SpotifyID] = id
	}
	artist.ID = id
	return nil
}

type fakePlayback struct {
	rows map[string]db.PlaybackEvent
}

func newFakePlayback() *fakePlayback {
	return &fakePlayback{rows: make(map[string]db.PlaybackEvent)}
}

func playbackKey(userID, trackID uuid.UUID, playedAt time.Time) string {
	return fmt.Sprintf("%s|%s|%d", userID, trackID, playedAt.UnixNano())
}

func (f *fakePlayback) Insert(_ context.Context, event *db.PlaybackEvent) (bool, error) {
	key := playbackKey(event.UserID, event.TrackID, event.PlayedAt)
	if _, exists := f.rows[key]; exists {
		return false, nil
	}
	event.ID = uuid.New()
	f.rows[key] = *event
	return true, nil
}

type fakeTopLists struct {
	trackLists  map[string][]db.TopEntry
	artistLists map[string][]db.TopEntry
}

func newFakeTopLists() *fakeTopLists {
	return &fakeTopLists{
		trackLists:  make(map[string][]db.TopEntry),
		artistLists: make(map[string][]db.TopEntry),
	}
}

func listKey(userID uuid.UUID, timeRange string) string {
	return userID.String() + "|" + timeRange
}

func (f *fakeTopLists) ReplaceTopTracks(_ context.Context, userID uuid.UUID, timeRange string, entries []db.TopEntry) error {
	f.trackLists[listKey(userID, timeRange)] = append([]db.TopEntry(nil), entries...)
	return nil
}

func (f *fakeTopLists) ReplaceTopArtists(_ context.Context, userID uuid.UUID, timeRange string, entries []db.TopEntry) error {
	f.artistLists[listKey(userID, timeRange)] = append([]db.TopEntry(nil), entries...)
	return nil
}

type fakeFeed struct {
	events []db.FeedEvent
}

func (f *fakeFeed) Insert(_ context.Context, event *db.FeedEvent) error {
	event.ID = uuid.New()
	event.CreatedAt = time.Now()
	f.events = append(f.events, *event)
	return nil
}

func (f *fakeFeed) countByType(eventType string) int {
	n := 0
	for _, e := range f.events {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

type fakeStats struct {
	rows map[string]*db.ListeningStat
}

func newFakeStats() *fakeStats {
	return &fakeStats{rows: make(map[string]*db.ListeningStat)}
}

func (f *fakeStats) MergeDaily(_ context.Context, stat *db.ListeningStat) error {
	key := stat.UserID.String() + "|" + stat.Date.Format("2006-01-02")
	existing, ok := f.rows[key]
	if !ok {
		copied := *stat
		copied.ID = uuid.New()
		f.rows[key] = &copied
		return nil
	}
	existing.TotalTracks += stat.TotalTracks
	existing.TotalMinutes += stat.TotalMinutes
	if stat.UniqueArtists > existing.UniqueArtists {
		existing.UniqueArtists = stat.UniqueArtists
	}
	*stat = *existing
	return nil
}

// fixture bundles a Service with its fakes for assertions.
type fixture struct {
	service   *Service
	client    *fakeClient
	refresher *fakeRefresher
	users     *fakeUsers
	tracks    *fakeTracks
	artists   *fakeArtists
	playback  *fakePlayback
	topLists  *fakeTopLists
	feed      *fakeFeed
	stats     *fakeStats
	user      *db.User
}

func newFixture(opts ...Option) *fixture {
	user := &db.User{
		ID:           uuid.New(),
		Username:     "listener",
		AccessToken:  "valid-token",
		RefreshToken: "refresh-token",
	}

	f := &fixture{
		client:    &fakeClient{},
		refresher: &fakeRefresher{token: &oauth2.Token{AccessToken: "refreshed-token", Expiry: time.Now().Add(time.Hour)}},
		users:     newFakeUsers(user),
		tracks:    newFakeTracks(),
		artists:   newFakeArtists(),
		playback:  newFakePlayback(),
		topLists:  newFakeTopLists(),
		feed:      &fakeFeed{},
		stats:     newFakeStats(),
		user:      user,
	}
	f.service = New(Deps{
		Client:    f.client,
		Refresher: f.refresher,
		Users:     f.users,
		Tracks:    f.tracks,
		Artists:   f.artists,
		Playback:  f.playback,
		TopLists:  f.topLists,
		Feed:      f.feed,
		Stats:     f.stats,
	}, opts...)
	return f
}

var errBoom = errors.New("boom")
