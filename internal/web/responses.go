package web

import (
	"time"

	"github.com/google/uuid"

	"github.com/tunewave/tunewave-backend/internal/db"
	syncsvc "github.com/tunewave/tunewave-backend/internal/sync"
)

// JSON projections of the stored models, in the field naming the
// mobile client expects.

type trackDTO struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Artist      string    `json:"artist"`
	Album       *string   `json:"album"`
	DurationSec int       `json:"duration"`
	SpotifyID   string    `json:"spotify_id"`
	SourceURL   *string   `json:"source_url"`
}

type artistDTO struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	SpotifyID  string    `json:"spotify_id"`
	ImageURL   *string   `json:"image_url"`
	Genres     []string  `json:"genres"`
	Popularity int       `json:"popularity"`
	Followers  int       `json:"followers"`
}

type playbackDTO struct {
	ID       uuid.UUID `json:"id"`
	TrackID  uuid.UUID `json:"track_id"`
	PlayedAt time.Time `json:"played_at"`
}

type failureDTO struct {
	SpotifyID string `json:"spotify_id"`
	Error     string `json:"error"`
}

type syncResponseDTO struct {
	Success           bool          `json:"success"`
	Profile           any           `json:"profile,omitempty"`
	Tracks            []trackDTO    `json:"tracks,omitempty"`
	Artists           []artistDTO   `json:"artists,omitempty"`
	Playback          []playbackDTO `json:"playback,omitempty"`
	FeedEventsCreated int           `json:"feed_events_created"`
	Failures          []failureDTO  `json:"failures,omitempty"`
}

func syncResponse(result *syncsvc.Result) syncResponseDTO {
	resp := syncResponseDTO{
		Success:           true,
		FeedEventsCreated: result.FeedEventsCreated,
	}
	if result.Profile != nil {
		resp.Profile = map[string]string{
			"spotify_id":   result.Profile.SpotifyID,
			"display_name": result.Profile.DisplayName,
			"avatar_url":   result.Profile.AvatarURL,
		}
	}
	for _, t := range result.Tracks {
		resp.Tracks = append(resp.Tracks, trackDTO{
			ID:          t.ID,
			Title:       t.Title,
			Artist:      t.Artist,
			Album:       t.Album,
			DurationSec: t.DurationSec,
			SpotifyID:   t.SpotifyID,
			SourceURL:   t.SourceURL,
		})
	}
	for _, a := range result.Artists {
		resp.Artists = append(resp.Artists, artistDTO{
			ID:         a.ID,
			Name:       a.Name,
			SpotifyID:  a.SpotifyID,
			ImageURL:   a.ImageURL,
			Genres:     a.Genres,
			Popularity: a.Popularity,
			Followers:  a.Followers,
		})
	}
	for _, p := range result.Playback {
		resp.Playback = append(resp.Playback, playbackDTO{
			ID:       p.ID,
			TrackID:  p.TrackID,
			PlayedAt: p.PlayedAt,
		})
	}
	for _, f := range result.Failures {
		resp.Failures = append(resp.Failures, failureDTO{
			SpotifyID: f.SpotifyID,
			Error:     f.Err.Error(),
		})
	}
	return resp
}

type feedEventDTO struct {
	ID        uuid.UUID      `json:"id"`
	EventType string         `json:"event_type"`
	TrackID   *uuid.UUID     `json:"track_id,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func feedEvents(events []db.FeedEvent) []feedEventDTO {
	out := make([]feedEventDTO, len(events))
	for i, e := range events {
		out[i] = feedEventDTO{
			ID:        e.ID,
			EventType: e.EventType,
			TrackID:   e.TrackID,
			Context:   e.Context,
			CreatedAt: e.CreatedAt,
		}
	}
	return out
}

type dailyStatDTO struct {
	Date          string   `json:"date"`
	TotalTracks   int      `json:"total_tracks"`
	TotalMinutes  int      `json:"total_minutes"`
	UniqueArtists int      `json:"unique_artists"`
	TopGenres     []string `json:"top_genres"`
}

func dailyStats(stats []db.ListeningStat) []dailyStatDTO {
	out := make([]dailyStatDTO, len(stats))
	for i, s := range stats {
		out[i] = dailyStatDTO{
			Date:          s.Date.Format("2006-01-02"),
			TotalTracks:   s.TotalTracks,
			TotalMinutes:  s.TotalMinutes,
			UniqueArtists: s.UniqueArtists,
			TopGenres:     s.TopGenres,
		}
	}
	return out
}

type topEntryDTO struct {
	EntityID    uuid.UUID `json:"entity_id"`
	Rank        int       `json:"rank"`
	TimeRange   string    `json:"time_range"`
	CollectedAt time.Time `json:"collected_at"`
}

func topTrackEntries(entries []db.TopTrackEntry) []topEntryDTO {
	out := make([]topEntryDTO, len(entries))
	for i, e := range entries {
		out[i] = topEntryDTO{
			EntityID:    e.TrackID,
			Rank:        e.Rank,
			TimeRange:   e.TimeRange,
			CollectedAt: e.CollectedAt,
		}
	}
	return out
}

func topArtistEntries(entries []db.TopArtistEntry) []topEntryDTO {
	out := make([]topEntryDTO, len(entries))
	for i, e := range entries {
		out[i] = topEntryDTO{
			EntityID:    e.ArtistID,
			Rank:        e.Rank,
			TimeRange:   e.TimeRange,
			CollectedAt: e.CollectedAt,
		}
	}
	return out
}
