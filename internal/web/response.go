package web

import (
	"math"
	"net/http"
	"time"

	"github.com/justestif/go-spotify-now-playing/internal/nowplaying"
)

// TrackResponse is the 200 body of the now-playing endpoint.
type TrackResponse struct {
	Name         string            `json:"name"`
	Artists      []ArtistResponse  `json:"artists"`
	Album        AlbumResponse     `json:"album"`
	ExternalURLs map[string]string `json:"external_urls"`
	IsPlaying    bool              `json:"isPlaying"`
	PlayedAt     *time.Time        `json:"played_at,omitempty"`
}

// ArtistResponse is a track artist.
type ArtistResponse struct {
	Name string `json:"name"`
}

// AlbumResponse is the album of a track.
type AlbumResponse struct {
	Name        string          `json:"name"`
	Images      []ImageResponse `json:"images"`
	ReleaseDate string          `json:"release_date,omitempty"`
}

// ImageResponse is album artwork.
type ImageResponse struct {
	URL string `json:"url"`
}

// ErrorResponse is the body of every error status.
type ErrorResponse struct {
	Error             string `json:"error"`
	RetryAfterSeconds int    `json:"retryAfterSeconds,omitempty"`
}

type authorizedResponse struct {
	Message   string `json:"message"`
	ExpiresIn int    `json:"expires_in,omitempty"`
	Account   string `json:"account,omitempty"`
}

// StatusFor maps a failure kind to its HTTP status.
func StatusFor(kind nowplaying.Kind) int {
	switch kind {
	case nowplaying.KindAuthFailed:
		return http.StatusUnauthorized
	case nowplaying.KindRateLimited:
		return http.StatusTooManyRequests
	case nowplaying.KindTimeout:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Render maps an outcome to a status and body. The body is nil for 204.
func Render(out nowplaying.Outcome) (int, any) {
	switch out := out.(type) {
	case nowplaying.Resolved:
		return http.StatusOK, newTrackResponse(out.Snapshot)
	case nowplaying.Empty:
		return http.StatusNoContent, nil
	case nowplaying.Failure:
		return StatusFor(out.Kind), ErrorResponse{
			Error:             out.Message,
			RetryAfterSeconds: retryAfterSeconds(out.RetryAfter),
		}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"}
	}
}

func newTrackResponse(s nowplaying.Snapshot) TrackResponse {
	resp := TrackResponse{
		Name:         s.Name,
		Artists:      make([]ArtistResponse, 0, len(s.Artists)),
		ExternalURLs: map[string]string{"spotify": s.ExternalURL},
		IsPlaying:    s.IsPlaying,
		Album: AlbumResponse{
			Name:        s.Album.Name,
			Images:      make([]ImageResponse, 0, len(s.Album.Images)),
			ReleaseDate: s.Album.ReleaseDate,
		},
	}
	for _, a := range s.Artists {
		resp.Artists = append(resp.Artists, ArtistResponse{Name: a.Name})
	}
	for _, img := range s.Album.Images {
		resp.Album.Images = append(resp.Album.Images, ImageResponse{URL: img.URL})
	}
	if !s.PlayedAt.IsZero() {
		playedAt := s.PlayedAt
		resp.PlayedAt = &playedAt
	}
	return resp
}

func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
