package nowplaying

import (
	"fmt"
	"time"
)

// Snapshot is a point-in-time view of the current or most recent track.
type Snapshot struct {
	Name        string
	Artists     []Artist
	Album       Album
	ExternalURL string
	IsPlaying   bool
	PlayedAt    time.Time // set only for tracks taken from play history
}

// Artist is a track artist.
type Artist struct {
	Name string
}

// Album is the album a track belongs to.
type Album struct {
	Name        string
	ReleaseDate string
	Images      []Image
}

// Image is album artwork.
type Image struct {
	URL string
}

// Outcome is the result of one resolution. It is one of Resolved, Empty or
// Failure.
type Outcome interface {
	outcome()
}

// Resolved carries the snapshot that was found.
type Resolved struct {
	Snapshot Snapshot
}

// Empty means nothing is playing and there is no recent history.
type Empty struct{}

// Kind classifies a Failure.
type Kind int

const (
	KindUpstream Kind = iota
	KindConfig
	KindAuthFailed
	KindRateLimited
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindAuthFailed:
		return "auth_failed"
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	default:
		return "upstream"
	}
}

// Failure is a terminal error outcome.
type Failure struct {
	Kind Kind
	// Status is the upstream HTTP status, or zero when no response was received.
	Status int
	// RetryAfter is the provider's backoff hint for KindRateLimited.
	RetryAfter time.Duration
	// Message is safe to show to callers.
	Message string
	Err     error
}

func (f Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f Failure) Unwrap() error {
	return f.Err
}

func (Resolved) outcome() {}
func (Empty) outcome()    {}
func (Failure) outcome()  {}
