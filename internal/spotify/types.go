package spotify

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Window is a Spotify top-item aggregation window.
type Window string

// Supported aggregation windows.
const (
	WindowShort  Window = "short_term"
	WindowMedium Window = "medium_term"
	WindowLong   Window = "long_term"
)

// ParseWindow validates a window string. An empty value defaults to
// the medium window, matching the upstream API default.
func ParseWindow(s string) (Window, error) {
	switch Window(s) {
	case "":
		return WindowMedium, nil
	case WindowShort, WindowMedium, WindowLong:
		return Window(s), nil
	default:
		return "", fmt.Errorf("invalid time range %q", s)
	}
}

// Profile is the normalized user profile.
type Profile struct {
	SpotifyID   string
	DisplayName string
	AvatarURL   string
}

// Track is a normalized track as returned by the upstream API.
type Track struct {
	SpotifyID   string
	Title       string
	Artist      string // all artist names joined by ", "
	LeadArtist  string // first credited artist, used for distinct-artist stats
	Album       string
	DurationSec int
	SourceURL   string
}

// Artist is a normalized artist as returned by the upstream API.
type Artist struct {
	SpotifyID  string
	Name       string
	ImageURL   string
	Genres     []string
	Popularity int
	Followers  int
	SourceURL  string
}

// PlaybackContext describes the listening context of a play.
type PlaybackContext struct {
	Type string
	URI  string
	Name string
}

// Playback is one entry of the recent playback history.
type Playback struct {
	Track    Track
	PlayedAt time.Time
	Context  PlaybackContext
}

// RecentOpts bounds a recent-playback request. After and Before are
// upstream cursors (unix millisecond timestamps); the client never
// pages beyond the requested window itself.
type RecentOpts struct {
	Limit  int
	After  string
	Before string
}

// Wire shapes, trimmed to the fields the sync engine consumes.

type imageObject struct {
	URL string `json:"url"`
}

type profileResponse struct {
	ID          string        `json:"id"`
	DisplayName string        `json:"display_name"`
	Images      []imageObject `json:"images"`
}

type trackObject struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Album struct {
		Name string `json:"name"`
	} `json:"album"`
	DurationMs   int               `json:"duration_ms"`
	ExternalURLs map[string]string `json:"external_urls"`
}

type artistObject struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Images     []imageObject `json:"images"`
	Genres     []string      `json:"genres"`
	Popularity int           `json:"popularity"`
	Followers  struct {
		Total int `json:"total"`
	} `json:"followers"`
	ExternalURLs map[string]string `json:"external_urls"`
}

type topTracksResponse struct {
	Items []trackObject `json:"items"`
}

type topArtistsResponse struct {
	Items []artistObject `json:"items"`
}

type playHistoryObject struct {
	Track    trackObject `json:"track"`
	PlayedAt time.Time   `json:"played_at"`
	Context  *struct {
		Type         string            `json:"type"`
		URI          string            `json:"uri"`
		ExternalURLs map[string]string `json:"external_urls"`
	} `json:"context"`
}

type recentlyPlayedResponse struct {
	Items []playHistoryObject `json:"items"`
}

func convertProfile(p profileResponse) *Profile {
	profile := &Profile{
		SpotifyID:   p.ID,
		DisplayName: p.DisplayName,
	}
	if len(p.Images) > 0 {
		profile.AvatarURL = p.Images[0].URL
	}
	return profile
}

func convertTrack(t trackObject) Track {
	names := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		names[i] = a.Name
	}

	track := Track{
		SpotifyID:   t.ID,
		Title:       t.Name,
		Artist:      strings.Join(names, ", "),
		Album:       t.Album.Name,
		DurationSec: int(math.Round(float64(t.DurationMs) / 1000)),
		SourceURL:   t.ExternalURLs["spotify"],
	}
	if len(names) > 0 {
		track.LeadArtist = names[0]
	}
	return track
}

func convertArtist(a artistObject) Artist {
	genres := a.Genres
	if genres == nil {
		genres = []string{}
	}

	artist := Artist{
		SpotifyID:  a.ID,
		Name:       a.Name,
		Genres:     genres,
		Popularity: a.Popularity,
		Followers:  a.Followers.Total,
		SourceURL:  a.ExternalURLs["spotify"],
	}
	if len(a.Images) > 0 {
		artist.ImageURL = a.Images[0].URL
	}
	return artist
}

func convertPlayback(p playHistoryObject) Playback {
	playback := Playback{
		Track:    convertTrack(p.Track),
		PlayedAt: p.PlayedAt,
	}
	if p.Context != nil {
		playback.Context = PlaybackContext{
			Type: p.Context.Type,
			URI:  p.Context.URI,
			// The recently-played payload carries no display name for
			// the context; the external URL stands in for it.
			Name: p.Context.ExternalURLs["spotify"],
		}
	}
	return playback
}
