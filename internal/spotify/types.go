package spotify

import (
	"time"

	"github.com/zmb3/spotify/v2"
)

// Track is the part of a Spotify track object this service reads.
type Track struct {
	ID           spotify.ID             `json:"id"`
	Name         string                 `json:"name"`
	Artists      []spotify.SimpleArtist `json:"artists"`
	Album        Album                  `json:"album"`
	ExternalURLs map[string]string      `json:"external_urls"`
}

// Album is the part of a Spotify album object this service reads.
type Album struct {
	Name        string          `json:"name"`
	ReleaseDate string          `json:"release_date"`
	Images      []spotify.Image `json:"images"`
}

// CurrentlyPlaying is the response of GET /me/player/currently-playing.
// Item is nil when nothing trackable is playing (ads, private session).
type CurrentlyPlaying struct {
	IsPlaying bool   `json:"is_playing"`
	Item      *Track `json:"item"`
}

// RecentlyPlayed is the response of GET /me/player/recently-played.
type RecentlyPlayed struct {
	Items []PlayHistory `json:"items"`
}

// PlayHistory is one entry of the recently played list.
type PlayHistory struct {
	Track    Track     `json:"track"`
	PlayedAt time.Time `json:"played_at"`
}

// errorResponse is the JSON envelope of a Spotify Web API error.
type errorResponse struct {
	Error spotify.Error `json:"error"`
}
