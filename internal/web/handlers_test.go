package web

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tunewave/tunewave-backend/internal/auth"
	"github.com/tunewave/tunewave-backend/internal/db"
	"github.com/tunewave/tunewave-backend/internal/spotify"
	syncsvc "github.com/tunewave/tunewave-backend/internal/sync"
)

type fakeSyncer struct {
	result  *syncsvc.Result
	err     error
	lastReq syncsvc.Request
}

func (f *fakeSyncer) Sync(_ context.Context, _ uuid.UUID, req syncsvc.Request) (*syncsvc.Result, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeFeedReader struct {
	events []db.FeedEvent
	err    error
}

func (f *fakeFeedReader) ListForUser(context.Context, uuid.UUID, int) ([]db.FeedEvent, error) {
	return f.events, f.err
}

func syncBody(t *testing.T, userID string) *strings.Reader {
	t.Helper()
	return strings.NewReader(`{"user_id":"` + userID + `"}`)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
	return body
}

func TestSyncTopTracksSuccess(t *testing.T) {
	album := "Album"
	syncer := &fakeSyncer{result: &syncsvc.Result{
		Tracks: []db.Track{
			{ID: uuid.New(), Title: "Song A", Artist: "Artist A", Album: &album, DurationSec: 184, SpotifyID: "sp-1"},
			{ID: uuid.New(), Title: "Song B", Artist: "Artist B", DurationSec: 201, SpotifyID: "sp-2"},
		},
		FeedEventsCreated: 2,
	}}
	h := NewHandlers(HandlerDeps{Sync: syncer})

	req := httptest.NewRequest(http.MethodPost, "/api/spotify/top-tracks?time_range=short_term&limit=10", syncBody(t, uuid.NewString()))
	rec := httptest.NewRecorder()
	h.SyncTopTracks(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if syncer.lastReq.Kind != syncsvc.KindTopTracks {
		t.Errorf("kind = %q, want %q", syncer.lastReq.Kind, syncsvc.KindTopTracks)
	}
	if syncer.lastReq.Window != spotify.WindowShort {
		t.Errorf("window = %q, want %q", syncer.lastReq.Window, spotify.WindowShort)
	}
	if syncer.lastReq.Limit != 10 {
		t.Errorf("limit = %d, want 10", syncer.lastReq.Limit)
	}

	body := decodeBody(t, rec)
	if body["success"] != true {
		t.Errorf("success = %v, want true", body["success"])
	}
	tracks, ok := body["tracks"].([]any)
	if !ok || len(tracks) != 2 {
		t.Fatalf("tracks = %v, want 2 entries", body["tracks"])
	}
	if body["feed_events_created"] != float64(2) {
		t.Errorf("feed_events_created = %v, want 2", body["feed_events_created"])
	}
}

func TestSyncErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantHeader string
	}{
		{
			name:       "credential invalid",
			err:        auth.ErrCredentialInvalid,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "rate limited",
			err:        &spotify.RateLimitedError{RetryAfter: 30 * time.Second},
			wantStatus: http.StatusTooManyRequests,
			wantHeader: "30",
		},
		{
			name:       "upstream unavailable",
			err:        auth.ErrUpstreamUnavailable,
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "upstream error",
			err:        &spotify.UpstreamError{StatusCode: 503, Err: errors.New("bad gateway")},
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "internal",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandlers(HandlerDeps{Sync: &fakeSyncer{err: tc.err}})

			req := httptest.NewRequest(http.MethodPost, "/api/spotify/profile", syncBody(t, uuid.NewString()))
			rec := httptest.NewRecorder()
			h.SyncProfile(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if got := rec.Header().Get("Retry-After"); got != tc.wantHeader {
				t.Errorf("Retry-After = %q, want %q", got, tc.wantHeader)
			}
			body := decodeBody(t, rec)
			if body["success"] != false {
				t.Errorf("success = %v, want false", body["success"])
			}
		})
	}
}

func TestSyncRejectsBadInput(t *testing.T) {
	h := NewHandlers(HandlerDeps{Sync: &fakeSyncer{result: &syncsvc.Result{}}})

	tests := []struct {
		name   string
		target string
		body   string
	}{
		{name: "malformed json", target: "/api/spotify/top-tracks", body: "{not json"},
		{name: "bad user id", target: "/api/spotify/top-tracks", body: `{"user_id":"nope"}`},
		{name: "bad time range", target: "/api/spotify/top-tracks?time_range=forever", body: `{"user_id":"` + uuid.NewString() + `"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tc.target, strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.SyncTopTracks(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestSyncConfiguredDefaultLimit(t *testing.T) {
	syncer := &fakeSyncer{result: &syncsvc.Result{}}
	h := NewHandlers(HandlerDeps{Sync: syncer, SyncLimit: 35})

	// No limit in the query: the configured page size applies.
	req := httptest.NewRequest(http.MethodPost, "/api/spotify/top-tracks", syncBody(t, uuid.NewString()))
	rec := httptest.NewRecorder()
	h.SyncTopTracks(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if syncer.lastReq.Limit != 35 {
		t.Errorf("limit = %d, want configured 35", syncer.lastReq.Limit)
	}

	// An explicit query limit still wins.
	req = httptest.NewRequest(http.MethodPost, "/api/spotify/top-tracks?limit=5", syncBody(t, uuid.NewString()))
	rec = httptest.NewRecorder()
	h.SyncTopTracks(rec, req)

	if syncer.lastReq.Limit != 5 {
		t.Errorf("limit = %d, want explicit 5", syncer.lastReq.Limit)
	}
}

func TestSyncRecentlyPlayedPassesCursors(t *testing.T) {
	syncer := &fakeSyncer{result: &syncsvc.Result{}}
	h := NewHandlers(HandlerDeps{Sync: syncer})

	req := httptest.NewRequest(http.MethodPost, "/api/spotify/recently-played?after=1700000000000&limit=25", syncBody(t, uuid.NewString()))
	rec := httptest.NewRecorder()
	h.SyncRecentlyPlayed(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if syncer.lastReq.After != "1700000000000" {
		t.Errorf("after = %q, want 1700000000000", syncer.lastReq.After)
	}
	if syncer.lastReq.Before != "" {
		t.Errorf("before = %q, want empty", syncer.lastReq.Before)
	}
	if syncer.lastReq.Limit != 25 {
		t.Errorf("limit = %d, want 25", syncer.lastReq.Limit)
	}
}

func TestSyncPartialFailureResponse(t *testing.T) {
	syncer := &fakeSyncer{result: &syncsvc.Result{
		Tracks:   []db.Track{{ID: uuid.New(), Title: "Kept", SpotifyID: "sp-1"}},
		Failures: []syncsvc.EntityFailure{{SpotifyID: "sp-2", Err: errors.New("upsert failed")}},
	}}
	h := NewHandlers(HandlerDeps{Sync: syncer})

	req := httptest.NewRequest(http.MethodPost, "/api/spotify/top-tracks", syncBody(t, uuid.NewString()))
	rec := httptest.NewRecorder()
	h.SyncTopTracks(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := decodeBody(t, rec)
	failures, ok := body["failures"].([]any)
	if !ok || len(failures) != 1 {
		t.Fatalf("failures = %v, want 1 entry", body["failures"])
	}
	failure := failures[0].(map[string]any)
	if failure["spotify_id"] != "sp-2" {
		t.Errorf("failure spotify_id = %v, want sp-2", failure["spotify_id"])
	}
}

func TestFeedEndpoint(t *testing.T) {
	trackID := uuid.New()
	feed := &fakeFeedReader{events: []db.FeedEvent{
		{
			ID:        uuid.New(),
			UserID:    uuid.New(),
			EventType: "top_track",
			TrackID:   &trackID,
			Context:   map[string]any{"rank": 1},
			CreatedAt: time.Now(),
		},
	}}
	h := NewHandlers(HandlerDeps{Feed: feed})

	req := httptest.NewRequest(http.MethodGet, "/api/feed?user_id="+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	h.Feed(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := decodeBody(t, rec)
	events, ok := body["events"].([]any)
	if !ok || len(events) != 1 {
		t.Fatalf("events = %v, want 1 entry", body["events"])
	}
	event := events[0].(map[string]any)
	if event["event_type"] != "top_track" {
		t.Errorf("event_type = %v, want top_track", event["event_type"])
	}
}

func TestFeedRequiresUserID(t *testing.T) {
	h := NewHandlers(HandlerDeps{Feed: &fakeFeedReader{}})

	req := httptest.NewRequest(http.MethodGet, "/api/feed", nil)
	rec := httptest.NewRecorder()
	h.Feed(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHealth(t *testing.T) {
	h := NewHandlers(HandlerDeps{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}
