package sync

import (
	"context"
	"fmt"
	"math"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tunewave/tunewave-backend/internal/db"
	"github.com/tunewave/tunewave-backend/internal/spotify"
)

// Feed event kinds emitted by the aggregation engine.
const (
	eventTopTrack       = "top_track"
	eventTopArtist      = "top_artist"
	eventRecentlyPlayed = "recently_played"
)

// keyedMutex hands out one mutex per key. Used to serialize ranked-list
// replacement per (user, window); entries are never evicted, which is
// fine for the bounded user x window key space of a single process.
type keyedMutex struct {
	mu    stdsync.Mutex
	locks map[string]*stdsync.Mutex
}

func (k *keyedMutex) get(key string) *stdsync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.locks == nil {
		k.locks = make(map[string]*stdsync.Mutex)
	}
	lock, ok := k.locks[key]
	if !ok {
		lock = &stdsync.Mutex{}
		k.locks[key] = lock
	}
	return lock
}

// applyTopTracks reconciles the fetched tracks, swaps the ranked list
// for (user, window), and emits one top_track feed event per stored
// entry.
func (s *Service) applyTopTracks(ctx context.Context, userID uuid.UUID, window spotify.Window, items []spotify.Track) (*Result, error) {
	reconciled, failures := s.reconcileTracks(ctx, items)

	// A batch where every entity failed signals storage trouble, not an
	// empty collection; keep the previous snapshot intact.
	if len(reconciled) == 0 && len(failures) > 0 {
		return &Result{Failures: failures}, nil
	}

	entries := make([]db.TopEntry, len(reconciled))
	tracks := make([]db.Track, len(reconciled))
	for i, r := range reconciled {
		entries[i] = db.TopEntry{EntityID: r.track.ID, Rank: r.rank}
		tracks[i] = r.track
	}

	lock := s.windowLocks.get(topListKey(userID, window, "tracks"))
	lock.Lock()
	err := s.topLists.ReplaceTopTracks(ctx, userID, string(window), entries)
	lock.Unlock()
	if err != nil {
		return nil, fmt.Errorf("replacing top tracks: %w", err)
	}

	result := &Result{Tracks: tracks, Failures: failures}
	for _, r := range reconciled {
		trackID := r.track.ID
		event := &db.FeedEvent{
			UserID:    userID,
			EventType: eventTopTrack,
			TrackID:   &trackID,
			Context: map[string]any{
				"rank":       r.rank,
				"time_range": string(window),
			},
		}
		if err := s.feed.Insert(ctx, event); err != nil {
			s.log.Warn("feed event not recorded",
				zap.String("spotify_id", r.track.SpotifyID),
				zap.Error(err))
			result.Failures = append(result.Failures, EntityFailure{SpotifyID: r.track.SpotifyID, Err: err})
			continue
		}
		result.FeedEventsCreated++
	}
	return result, nil
}

// applyTopArtists mirrors applyTopTracks for artists. Artist feed
// events carry no track reference; the artist travels in the context
// payload.
func (s *Service) applyTopArtists(ctx context.Context, userID uuid.UUID, window spotify.Window, items []spotify.Artist) (*Result, error) {
	reconciled, failures := s.reconcileArtists(ctx, items)

	if len(reconciled) == 0 && len(failures) > 0 {
		return &Result{Failures: failures}, nil
	}

	entries := make([]db.TopEntry, len(reconciled))
	artists := make([]db.Artist, len(reconciled))
	for i, r := range reconciled {
		entries[i] = db.TopEntry{EntityID: r.artist.ID, Rank: r.rank}
		artists[i] = r.artist
	}

	lock := s.windowLocks.get(topListKey(userID, window, "artists"))
	lock.Lock()
	err := s.topLists.ReplaceTopArtists(ctx, userID, string(window), entries)
	lock.Unlock()
	if err != nil {
		return nil, fmt.Errorf("replacing top artists: %w", err)
	}

	result := &Result{Artists: artists, Failures: failures}
	for _, r := range reconciled {
		event := &db.FeedEvent{
			UserID:    userID,
			EventType: eventTopArtist,
			Context: map[string]any{
				"artist_id":   r.artist.ID.String(),
				"artist_name": r.artist.Name,
				"rank":        r.rank,
				"time_range":  string(window),
			},
		}
		if err := s.feed.Insert(ctx, event); err != nil {
			s.log.Warn("feed event not recorded",
				zap.String("spotify_id", r.artist.SpotifyID),
				zap.Error(err))
			result.Failures = append(result.Failures, EntityFailure{SpotifyID: r.artist.SpotifyID, Err: err})
			continue
		}
		result.FeedEventsCreated++
	}
	return result, nil
}

// applyRecentPlayback reconciles each play's track, inserts the
// playback row under the (user, track, played_at) key, and emits a
// recently_played feed event only for rows that were genuinely new.
// Re-delivery of an already-seen page stores nothing and emits nothing.
// Daily statistics are merged from the whole fetched batch.
func (s *Service) applyRecentPlayback(ctx context.Context, userID uuid.UUID, plays []spotify.Playback) (*Result, error) {
	result := &Result{}

	for _, play := range plays {
		track := trackFromUpstream(play.Track)
		if err := s.tracks.Upsert(ctx, &track); err != nil {
			s.log.Warn("skipping play",
				zap.String("spotify_id", play.Track.SpotifyID),
				zap.Error(err))
			result.Failures = append(result.Failures, EntityFailure{SpotifyID: play.Track.SpotifyID, Err: err})
			continue
		}

		event := &db.PlaybackEvent{
			UserID:   userID,
			TrackID:  track.ID,
			PlayedAt: play.PlayedAt,
			Context: db.PlaybackContext{
				Type: play.Context.Type,
				URI:  play.Context.URI,
				Name: play.Context.Name,
			},
		}
		inserted, err := s.playback.Insert(ctx, event)
		if err != nil {
			result.Failures = append(result.Failures, EntityFailure{SpotifyID: play.Track.SpotifyID, Err: err})
			continue
		}
		if !inserted {
			continue // idempotent re-delivery
		}
		result.Playback = append(result.Playback, *event)

		trackID := track.ID
		feedEvent := &db.FeedEvent{
			UserID:    userID,
			EventType: eventRecentlyPlayed,
			TrackID:   &trackID,
			Context: map[string]any{
				"played_at": play.PlayedAt.Format(time.RFC3339),
			},
		}
		if err := s.feed.Insert(ctx, feedEvent); err != nil {
			s.log.Warn("feed event not recorded",
				zap.String("spotify_id", play.Track.SpotifyID),
				zap.Error(err))
			result.Failures = append(result.Failures, EntityFailure{SpotifyID: play.Track.SpotifyID, Err: err})
			continue
		}
		result.FeedEventsCreated++
	}

	if len(plays) > 0 {
		if err := s.mergeDailyStats(ctx, userID, plays); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// mergeDailyStats folds batch totals into today's row. Counts and
// minutes add; the unique-artist count is the max of the stored value
// and this batch's distinct lead artists, a per-batch approximation
// rather than a true running distinct count.
func (s *Service) mergeDailyStats(ctx context.Context, userID uuid.UUID, plays []spotify.Playback) error {
	totalMinutes := 0
	distinctArtists := make(map[string]struct{})
	for _, play := range plays {
		totalMinutes += int(math.Round(float64(play.Track.DurationSec) / 60))
		if play.Track.LeadArtist != "" {
			distinctArtists[play.Track.LeadArtist] = struct{}{}
		}
	}

	now := s.now()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	stat := &db.ListeningStat{
		UserID:        userID,
		Date:          day,
		TotalTracks:   len(plays),
		TotalMinutes:  totalMinutes,
		UniqueArtists: len(distinctArtists),
		TopGenres:     []string{},
	}
	if err := s.stats.MergeDaily(ctx, stat); err != nil {
		return fmt.Errorf("merging daily stats: %w", err)
	}
	return nil
}

func topListKey(userID uuid.UUID, window spotify.Window, kind string) string {
	return userID.String() + "|" + string(window) + "|" + kind
}
