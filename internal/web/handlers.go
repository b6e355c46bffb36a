package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/tunewave/tunewave-backend/internal/auth"
	"github.com/tunewave/tunewave-backend/internal/db"
	"github.com/tunewave/tunewave-backend/internal/spotify"
	syncsvc "github.com/tunewave/tunewave-backend/internal/sync"
)

const (
	oauthStateCookie = "oauth_state"
	defaultListLimit = 50
	defaultSyncLimit = 20
)

// Syncer drives one sync invocation.
type Syncer interface {
	Sync(ctx context.Context, userID uuid.UUID, req syncsvc.Request) (*syncsvc.Result, error)
}

// CodeExchanger performs the OAuth authorization-code exchange.
type CodeExchanger interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, state string, r *http.Request) (*oauth2.Token, error)
}

// ProfileFetcher loads the token owner's profile; used to identify the
// account during the callback.
type ProfileFetcher interface {
	CurrentProfile(ctx context.Context, accessToken string) (*spotify.Profile, error)
}

// UserWriter seeds the credential store from the callback.
type UserWriter interface {
	UpsertBySpotifyID(ctx context.Context, user *db.User) error
}

// FeedReader lists stored feed events.
type FeedReader interface {
	ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]db.FeedEvent, error)
}

// StatsReader lists stored daily statistics.
type StatsReader interface {
	ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]db.ListeningStat, error)
}

// TopListReader lists stored ranked lists.
type TopListReader interface {
	ListTopTracks(ctx context.Context, userID uuid.UUID, timeRange string) ([]db.TopTrackEntry, error)
	ListTopArtists(ctx context.Context, userID uuid.UUID, timeRange string) ([]db.TopArtistEntry, error)
}

// Handlers contains the HTTP handlers for the backend API.
type Handlers struct {
	sync      Syncer
	exchanger CodeExchanger
	profiles  ProfileFetcher
	users     UserWriter
	feed      FeedReader
	stats     StatsReader
	topLists  TopListReader
	syncLimit int
	log       *zap.Logger
}

// HandlerDeps wires a Handlers instance.
type HandlerDeps struct {
	Sync      Syncer
	Exchanger CodeExchanger
	Profiles  ProfileFetcher
	Users     UserWriter
	Feed      FeedReader
	Stats     StatsReader
	TopLists  TopListReader
	SyncLimit int // page size for sync fetches when the request omits one
	Logger    *zap.Logger
}

// NewHandlers creates a Handlers instance.
func NewHandlers(deps HandlerDeps) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	syncLimit := deps.SyncLimit
	if syncLimit <= 0 {
		syncLimit = defaultSyncLimit
	}
	return &Handlers{
		sync:      deps.Sync,
		exchanger: deps.Exchanger,
		profiles:  deps.Profiles,
		users:     deps.Users,
		feed:      deps.Feed,
		stats:     deps.Stats,
		topLists:  deps.TopLists,
		syncLimit: syncLimit,
		log:       logger,
	}
}

// Health reports liveness (GET /healthz).
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Login initiates the Spotify OAuth flow (GET /auth/login).
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateOAuthState()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate state")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   300,
	})

	http.Redirect(w, r, h.exchanger.AuthURL(state), http.StatusTemporaryRedirect)
}

// Callback completes the OAuth flow (GET /auth/callback): it exchanges
// the code, identifies the account, and seeds the credential store.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing state cookie")
		return
	}
	if r.URL.Query().Get("state") != stateCookie.Value {
		writeError(w, http.StatusBadRequest, "state mismatch")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Value: "", Path: "/", HttpOnly: true, MaxAge: -1})

	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		writeError(w, http.StatusBadRequest, "authorization refused: "+errMsg)
		return
	}

	token, err := h.exchanger.Exchange(r.Context(), stateCookie.Value, r)
	if err != nil {
		h.log.Error("code exchange failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to exchange authorization code")
		return
	}

	profile, err := h.profiles.CurrentProfile(r.Context(), token.AccessToken)
	if err != nil {
		h.log.Error("profile fetch after exchange failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to load account profile")
		return
	}

	expiry := token.Expiry
	user := &db.User{
		ID:             uuid.New(),
		Username:       profile.SpotifyID,
		DisplayName:    &profile.DisplayName,
		SpotifyID:      &profile.SpotifyID,
		AccessToken:    token.AccessToken,
		RefreshToken:   token.RefreshToken,
		TokenExpiresAt: &expiry,
	}
	if profile.AvatarURL != "" {
		user.AvatarURL = &profile.AvatarURL
	}
	if err := h.users.UpsertBySpotifyID(r.Context(), user); err != nil {
		h.log.Error("storing linked account failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store account")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>Account Linked</title></head>
<body>
<h1>Account linked!</h1>
<p>You can close this window and return to the app.</p>
</body>
</html>`)
}

// syncRequestBody is the JSON body shared by the sync endpoints.
type syncRequestBody struct {
	UserID string `json:"user_id"`
}

// SyncProfile syncs the user's profile (POST /api/spotify/profile).
func (h *Handlers) SyncProfile(w http.ResponseWriter, r *http.Request) {
	h.runSync(w, r, func(_ *http.Request) (syncsvc.Request, error) {
		return syncsvc.Request{Kind: syncsvc.KindProfile}, nil
	})
}

// SyncTopTracks collects the user's ranked top tracks
// (POST /api/spotify/top-tracks?time_range=&limit=).
func (h *Handlers) SyncTopTracks(w http.ResponseWriter, r *http.Request) {
	h.runSync(w, r, func(r *http.Request) (syncsvc.Request, error) {
		window, err := spotify.ParseWindow(r.URL.Query().Get("time_range"))
		if err != nil {
			return syncsvc.Request{}, err
		}
		return syncsvc.Request{
			Kind:   syncsvc.KindTopTracks,
			Window: window,
			Limit:  queryInt(r, "limit", h.syncLimit),
		}, nil
	})
}

// SyncTopArtists collects the user's ranked top artists
// (POST /api/spotify/top-artists?time_range=&limit=).
func (h *Handlers) SyncTopArtists(w http.ResponseWriter, r *http.Request) {
	h.runSync(w, r, func(r *http.Request) (syncsvc.Request, error) {
		window, err := spotify.ParseWindow(r.URL.Query().Get("time_range"))
		if err != nil {
			return syncsvc.Request{}, err
		}
		return syncsvc.Request{
			Kind:   syncsvc.KindTopArtists,
			Window: window,
			Limit:  queryInt(r, "limit", h.syncLimit),
		}, nil
	})
}

// SyncRecentlyPlayed ingests the recent playback history
// (POST /api/spotify/recently-played?limit=&after=&before=).
func (h *Handlers) SyncRecentlyPlayed(w http.ResponseWriter, r *http.Request) {
	h.runSync(w, r, func(r *http.Request) (syncsvc.Request, error) {
		return syncsvc.Request{
			Kind:   syncsvc.KindRecentPlayback,
			Limit:  queryInt(r, "limit", h.syncLimit),
			After:  r.URL.Query().Get("after"),
			Before: r.URL.Query().Get("before"),
		}, nil
	})
}

func (h *Handlers) runSync(w http.ResponseWriter, r *http.Request, build func(*http.Request) (syncsvc.Request, error)) {
	var body syncRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	userID, err := uuid.Parse(body.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user_id")
		return
	}

	req, err := build(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.sync.Sync(r.Context(), userID, req)
	if err != nil {
		h.writeSyncError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, syncResponse(result))
}

// writeSyncError maps the sync engine's failure taxonomy onto HTTP.
func (h *Handlers) writeSyncError(w http.ResponseWriter, err error) {
	var rateLimited *spotify.RateLimitedError
	switch {
	case errors.Is(err, auth.ErrCredentialInvalid):
		writeError(w, http.StatusUnauthorized, "credential invalid, re-authentication required")
	case errors.As(err, &rateLimited):
		if rateLimited.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(rateLimited.RetryAfter/time.Second)))
		}
		writeError(w, http.StatusTooManyRequests, "upstream rate limit")
	case errors.Is(err, auth.ErrUpstreamUnavailable):
		writeError(w, http.StatusBadGateway, "upstream unavailable")
	default:
		var upstream *spotify.UpstreamError
		if errors.As(err, &upstream) {
			writeError(w, http.StatusBadGateway, "upstream error")
			return
		}
		h.log.Error("sync failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "sync failed")
	}
}

// Feed lists a user's feed events (GET /api/feed?user_id=&limit=).
func (h *Handlers) Feed(w http.ResponseWriter, r *http.Request) {
	userID, ok := queryUserID(w, r)
	if !ok {
		return
	}
	events, err := h.feed.ListForUser(r.Context(), userID, queryInt(r, "limit", defaultListLimit))
	if err != nil {
		h.log.Error("listing feed failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load feed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "events": feedEvents(events)})
}

// DailyStats lists a user's daily listening statistics
// (GET /api/stats/daily?user_id=&limit=).
func (h *Handlers) DailyStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := queryUserID(w, r)
	if !ok {
		return
	}
	stats, err := h.stats.ListForUser(r.Context(), userID, queryInt(r, "limit", 30))
	if err != nil {
		h.log.Error("listing stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "stats": dailyStats(stats)})
}

// TopTracks lists a user's stored top tracks
// (GET /api/top-tracks?user_id=&time_range=).
func (h *Handlers) TopTracks(w http.ResponseWriter, r *http.Request) {
	userID, ok := queryUserID(w, r)
	if !ok {
		return
	}
	window, err := spotify.ParseWindow(r.URL.Query().Get("time_range"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.topLists.ListTopTracks(r.Context(), userID, string(window))
	if err != nil {
		h.log.Error("listing top tracks failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load top tracks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "entries": topTrackEntries(entries)})
}

// TopArtists lists a user's stored top artists
// (GET /api/top-artists?user_id=&time_range=).
func (h *Handlers) TopArtists(w http.ResponseWriter, r *http.Request) {
	userID, ok := queryUserID(w, r)
	if !ok {
		return
	}
	window, err := spotify.ParseWindow(r.URL.Query().Get("time_range"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.topLists.ListTopArtists(r.Context(), userID, string(window))
	if err != nil {
		h.log.Error("listing top artists failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load top artists")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "entries": topArtistEntries(entries)})
}

func queryUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user_id")
		return uuid.UUID{}, false
	}
	return userID, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	value, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}

func generateOAuthState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
