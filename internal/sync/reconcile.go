package sync

import (
	"context"

	"go.uber.org/zap"

	"github.com/tunewave/tunewave-backend/internal/db"
	"github.com/tunewave/tunewave-backend/internal/spotify"
)

const trackSource = "spotify"

// rankedTrack pairs a reconciled track with its upstream position.
type rankedTrack struct {
	track db.Track
	rank  int
}

// rankedArtist pairs a reconciled artist with its upstream position.
type rankedArtist struct {
	artist db.Artist
	rank   int
}

// reconcileTracks upserts each fetched track independently. A failed
// upsert is recorded and skipped; the rest of the batch proceeds.
// Ranks are the 1-based upstream positions.
func (s *Service) reconcileTracks(ctx context.Context, items []spotify.Track) ([]rankedTrack, []EntityFailure) {
	var reconciled []rankedTrack
	var failures []EntityFailure

	for i, item := range items {
		track := trackFromUpstream(item)
		if err := s.tracks.Upsert(ctx, &track); err != nil {
			s.log.Warn("skipping track",
				zap.String("spotify_id", item.SpotifyID),
				zap.Error(err))
			failures = append(failures, EntityFailure{SpotifyID: item.SpotifyID, Err: err})
			continue
		}
		reconciled = append(reconciled, rankedTrack{track: track, rank: i + 1})
	}
	return reconciled, failures
}

// reconcileArtists mirrors reconcileTracks for artists.
func (s *Service) reconcileArtists(ctx context.Context, items []spotify.Artist) ([]rankedArtist, []EntityFailure) {
	var reconciled []rankedArtist
	var failures []EntityFailure

	for i, item := range items {
		artist := artistFromUpstream(item)
		if err := s.artists.Upsert(ctx, &artist); err != nil {
			s.log.Warn("skipping artist",
				zap.String("spotify_id", item.SpotifyID),
				zap.Error(err))
			failures = append(failures, EntityFailure{SpotifyID: item.SpotifyID, Err: err})
			continue
		}
		reconciled = append(reconciled, rankedArtist{artist: artist, rank: i + 1})
	}
	return reconciled, failures
}

func trackFromUpstream(t spotify.Track) db.Track {
	return db.Track{
		Title:       t.Title,
		Artist:      t.Artist,
		Album:       nullable(t.Album),
		DurationSec: t.DurationSec,
		Source:      trackSource,
		SourceURL:   nullable(t.SourceURL),
		SpotifyID:   t.SpotifyID,
	}
}

func artistFromUpstream(a spotify.Artist) db.Artist {
	genres := a.Genres
	if genres == nil {
		genres = []string{}
	}
	return db.Artist{
		Name:       a.Name,
		SpotifyID:  a.SpotifyID,
		ImageURL:   nullable(a.ImageURL),
		Genres:     genres,
		Popularity: a.Popularity,
		Followers:  a.Followers,
		SourceURL:  nullable(a.SourceURL),
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
