package spotify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(handler http.Handler) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	client := NewClient(
		WithBaseURL(server.URL),
		WithRateLimit(1000, 1000),
	)
	return client, server
}

func TestTopTracksSuccess(t *testing.T) {
	var gotAuth, gotQuery string
	client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"items": [
				{
					"id": "T1",
					"name": "First Song",
					"artists": [{"name": "Artist A"}, {"name": "Artist B"}],
					"album": {"name": "Album X"},
					"duration_ms": 183500,
					"external_urls": {"spotify": "https://open.spotify.com/track/T1"}
				},
				{
					"id": "T2",
					"name": "Second Song",
					"artists": [{"name": "Artist C"}],
					"album": {"name": "Album Y"},
					"duration_ms": 240000
				}
			]
		}`))
	}))
	defer server.Close()

	tracks, err := client.TopTracks(context.Background(), "tok-123", WindowShort, 20)
	if err != nil {
		t.Fatalf("TopTracks() error = %v", err)
	}

	if gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer tok-123")
	}
	if gotQuery != "limit=20&time_range=short_term" {
		t.Errorf("query = %q, want %q", gotQuery, "limit=20&time_range=short_term")
	}

	if len(tracks) != 2 {
		t.Fatalf("got %d tracks, want 2", len(tracks))
	}
	first := tracks[0]
	if first.SpotifyID != "T1" || first.Title != "First Song" {
		t.Errorf("first track = %+v", first)
	}
	if first.Artist != "Artist A, Artist B" {
		t.Errorf("Artist = %q, want joined names", first.Artist)
	}
	if first.LeadArtist != "Artist A" {
		t.Errorf("LeadArtist = %q, want %q", first.LeadArtist, "Artist A")
	}
	if first.DurationSec != 184 {
		t.Errorf("DurationSec = %d, want 184", first.DurationSec)
	}
	if tracks[1].SourceURL != "" {
		t.Errorf("missing external_urls should give empty SourceURL, got %q", tracks[1].SourceURL)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		body       string
		check      func(t *testing.T, err error)
	}{
		{
			name:   "401 maps to ErrUnauthorized",
			status: http.StatusUnauthorized,
			body:   `{"error": {"status": 401, "message": "The access token expired"}}`,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrUnauthorized) {
					t.Errorf("error = %v, want ErrUnauthorized", err)
				}
			},
		},
		{
			name:       "429 carries retry hint",
			status:     http.StatusTooManyRequests,
			retryAfter: "7",
			check: func(t *testing.T, err error) {
				var rle *RateLimitedError
				if !errors.As(err, &rle) {
					t.Fatalf("error = %v, want RateLimitedError", err)
				}
				if rle.RetryAfter != 7*time.Second {
					t.Errorf("RetryAfter = %s, want 7s", rle.RetryAfter)
				}
			},
		},
		{
			name:   "500 maps to UpstreamError",
			status: http.StatusInternalServerError,
			check: func(t *testing.T, err error) {
				var ue *UpstreamError
				if !errors.As(err, &ue) {
					t.Fatalf("error = %v, want UpstreamError", err)
				}
				if ue.StatusCode != http.StatusInternalServerError {
					t.Errorf("StatusCode = %d, want 500", ue.StatusCode)
				}
			},
		},
		{
			name:   "malformed body maps to UpstreamError",
			status: http.StatusOK,
			body:   `{"items": [`,
			check: func(t *testing.T, err error) {
				var ue *UpstreamError
				if !errors.As(err, &ue) {
					t.Fatalf("error = %v, want UpstreamError", err)
				}
				if ue.StatusCode != 0 {
					t.Errorf("StatusCode = %d, want 0 for decode failure", ue.StatusCode)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := client.TopTracks(context.Background(), "tok", WindowMedium, 10)
			if err == nil {
				t.Fatal("TopTracks() error = nil, want error")
			}
			tt.check(t, err)
		})
	}
}

func TestRecentlyPlayedCursors(t *testing.T) {
	var gotQuery map[string][]string
	client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`{
			"items": [
				{
					"track": {
						"id": "T9",
						"name": "Played Song",
						"artists": [{"name": "Someone"}],
						"album": {"name": "Somewhere"},
						"duration_ms": 60000
					},
					"played_at": "2026-08-28T21:15:00Z",
					"context": {
						"type": "playlist",
						"uri": "spotify:playlist:p1",
						"external_urls": {"spotify": "https://open.spotify.com/playlist/p1"}
					}
				}
			]
		}`))
	}))
	defer server.Close()

	plays, err := client.RecentlyPlayed(context.Background(), "tok", RecentOpts{
		Limit: 30,
		After: "1756400000000",
	})
	if err != nil {
		t.Fatalf("RecentlyPlayed() error = %v", err)
	}

	if got := gotQuery["limit"]; len(got) != 1 || got[0] != "30" {
		t.Errorf("limit param = %v, want [30]", got)
	}
	if got := gotQuery["after"]; len(got) != 1 || got[0] != "1756400000000" {
		t.Errorf("after param = %v, want cursor", got)
	}
	if _, ok := gotQuery["before"]; ok {
		t.Error("before param should be absent when not set")
	}

	if len(plays) != 1 {
		t.Fatalf("got %d plays, want 1", len(plays))
	}
	play := plays[0]
	wantPlayedAt := time.Date(2026, 8, 28, 21, 15, 0, 0, time.UTC)
	if !play.PlayedAt.Equal(wantPlayedAt) {
		t.Errorf("PlayedAt = %s, want %s", play.PlayedAt, wantPlayedAt)
	}
	if play.Context.Type != "playlist" || play.Context.URI != "spotify:playlist:p1" {
		t.Errorf("Context = %+v", play.Context)
	}
	if play.Context.Name != "https://open.spotify.com/playlist/p1" {
		t.Errorf("Context.Name = %q, want the context external URL", play.Context.Name)
	}
}

func TestCurrentProfile(t *testing.T) {
	client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me" {
			t.Errorf("path = %s, want /me", r.URL.Path)
		}
		w.Write([]byte(`{
			"id": "spotify-user-1",
			"display_name": "Test Listener",
			"images": [{"url": "https://img.example/avatar.jpg"}]
		}`))
	}))
	defer server.Close()

	profile, err := client.CurrentProfile(context.Background(), "tok")
	if err != nil {
		t.Fatalf("CurrentProfile() error = %v", err)
	}
	if profile.SpotifyID != "spotify-user-1" {
		t.Errorf("SpotifyID = %q", profile.SpotifyID)
	}
	if profile.AvatarURL != "https://img.example/avatar.jpg" {
		t.Errorf("AvatarURL = %q", profile.AvatarURL)
	}
}

func TestContextCancellation(t *testing.T) {
	client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.CurrentProfile(ctx, "tok")
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("error = %v, want UpstreamError for aborted call", err)
	}
}
