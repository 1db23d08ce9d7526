// Package nowplaying resolves what the account is listening to, falling back
// from live playback to play history.
package nowplaying

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"

	"github.com/justestif/go-spotify-now-playing/internal/auth"
	"github.com/justestif/go-spotify-now-playing/internal/spotify"
)

// Tokens supplies bearer tokens for player calls.
type Tokens interface {
	Acquire(ctx context.Context) (auth.Credential, error)
	Invalidate()
}

// Player queries live and historical playback.
type Player interface {
	CurrentlyPlaying(ctx context.Context, token string) (*spotify.CurrentlyPlaying, error)
	RecentlyPlayed(ctx context.Context, token string, limit int) (*spotify.RecentlyPlayed, error)
}

// Resolver runs one resolution per Resolve call. It is safe for concurrent use.
type Resolver struct {
	tokens Tokens
	player Player
	logger *log.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates a Resolver.
func NewResolver(tokens Tokens, player Player, opts ...Option) *Resolver {
	r := &Resolver{
		tokens: tokens,
		player: player,
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type state int

const (
	stateAcquireToken state = iota
	stateQueryCurrent
	stateQueryRecent
	stateDone
)

func (s state) String() string {
	switch s {
	case stateAcquireToken:
		return "acquire_token"
	case stateQueryCurrent:
		return "query_current"
	case stateQueryRecent:
		return "query_recent"
	default:
		return "done"
	}
}

// resolution holds the per-call state.
type resolution struct {
	*Resolver
	token   string
	outcome Outcome
}

// Resolve returns the current track, else the most recent one, else Empty.
// Live playback is queried first and history at most once afterwards. It
// never returns nil.
func (r *Resolver) Resolve(ctx context.Context) Outcome {
	res := &resolution{Resolver: r}

	for st := stateAcquireToken; st != stateDone; {
		switch st {
		case stateAcquireToken:
			st = res.acquireToken(ctx)
		case stateQueryCurrent:
			st = res.queryCurrent(ctx)
		case stateQueryRecent:
			st = res.queryRecent(ctx)
		default:
			panic(fmt.Sprintf("nowplaying: unknown state %d", st))
		}
	}

	return res.outcome
}

func (res *resolution) acquireToken(ctx context.Context) state {
	cred, err := res.tokens.Acquire(ctx)
	if err == nil {
		res.token = cred.BearerToken
		return stateQueryCurrent
	}

	var authErr *auth.AuthError
	switch {
	case errors.Is(err, auth.ErrMissingCredentials):
		return res.fail(stateAcquireToken, Failure{Kind: KindConfig, Message: "Missing Spotify configuration", Err: err}, "")
	case errors.As(err, &authErr):
		return res.fail(stateAcquireToken, Failure{
			Kind:    KindAuthFailed,
			Status:  authErr.StatusCode,
			Message: "Authentication failed - check your Spotify credentials",
			Err:     err,
		}, authErr.Body)
	case errors.Is(err, auth.ErrTimeout):
		return res.fail(stateAcquireToken, Failure{Kind: KindTimeout, Message: "Token request timed out", Err: err}, "")
	default:
		return res.fail(stateAcquireToken, Failure{Kind: KindUpstream, Message: "Internal server error", Err: err}, "")
	}
}

func (res *resolution) queryCurrent(ctx context.Context) state {
	current, err := res.player.CurrentlyPlaying(ctx, res.token)
	if err == nil {
		res.outcome = Resolved{Snapshot: snapshotOf(current.Item, current.IsPlaying)}
		return stateDone
	}

	if errors.Is(err, spotify.ErrNoContent) {
		res.logger.Debug("nothing playing, checking history")
		return stateQueryRecent
	}

	var apiErr *spotify.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized:
			res.tokens.Invalidate()
			res.logger.Warn("bearer token rejected, cleared cache",
				"state", stateQueryCurrent, "status", apiErr.StatusCode, "body", apiErr.Body)
			return stateQueryRecent
		case http.StatusTooManyRequests:
			return res.fail(stateQueryCurrent, rateLimited(apiErr, err), apiErr.Body)
		}
		res.logger.Warn("currently playing failed, checking history",
			"state", stateQueryCurrent, "status", apiErr.StatusCode, "body", apiErr.Body)
		return stateQueryRecent
	}

	res.logger.Warn("currently playing failed, checking history", "state", stateQueryCurrent, "err", err)
	return stateQueryRecent
}

func (res *resolution) queryRecent(ctx context.Context) state {
	recent, err := res.player.RecentlyPlayed(ctx, res.token, 1)
	if err == nil {
		item := recent.Items[0]
		snap := snapshotOf(&item.Track, false)
		snap.PlayedAt = item.PlayedAt
		res.outcome = Resolved{Snapshot: snap}
		return stateDone
	}

	if errors.Is(err, spotify.ErrNoContent) {
		res.outcome = Empty{}
		return stateDone
	}

	var apiErr *spotify.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized:
			res.tokens.Invalidate()
			return res.fail(stateQueryRecent, Failure{
				Kind:    KindAuthFailed,
				Status:  apiErr.StatusCode,
				Message: "Authentication failed - token may be expired",
				Err:     err,
			}, apiErr.Body)
		case http.StatusTooManyRequests:
			return res.fail(stateQueryRecent, rateLimited(apiErr, err), apiErr.Body)
		}
		return res.fail(stateQueryRecent, Failure{
			Kind:    KindUpstream,
			Status:  apiErr.StatusCode,
			Message: fmt.Sprintf("Failed to fetch recently played: %d", apiErr.StatusCode),
			Err:     err,
		}, apiErr.Body)
	}

	if errors.Is(err, spotify.ErrTimeout) {
		return res.fail(stateQueryRecent, Failure{Kind: KindTimeout, Message: "Recently played request timed out", Err: err}, "")
	}

	return res.fail(stateQueryRecent, Failure{Kind: KindUpstream, Message: "Failed to fetch recently played", Err: err}, "")
}

// fail records f as the outcome and ends the resolution.
func (res *resolution) fail(from state, f Failure, body string) state {
	res.logger.Error("now playing resolution failed",
		"state", from, "kind", f.Kind, "status", f.Status, "body", body, "err", f.Err)
	res.outcome = f
	return stateDone
}

func rateLimited(apiErr *spotify.APIError, err error) Failure {
	hint := "60"
	if apiErr.RetryAfter > 0 {
		hint = fmt.Sprintf("%d", int(apiErr.RetryAfter.Seconds()))
	}
	return Failure{
		Kind:       KindRateLimited,
		Status:     apiErr.StatusCode,
		RetryAfter: apiErr.RetryAfter,
		Message:    fmt.Sprintf("Rate limited. Try again in %s seconds", hint),
		Err:        err,
	}
}

func snapshotOf(t *spotify.Track, playing bool) Snapshot {
	snap := Snapshot{
		Name:        t.Name,
		Artists:     make([]Artist, 0, len(t.Artists)),
		ExternalURL: t.ExternalURLs["spotify"],
		IsPlaying:   playing,
		Album: Album{
			Name:        t.Album.Name,
			ReleaseDate: t.Album.ReleaseDate,
			Images:      make([]Image, 0, len(t.Album.Images)),
		},
	}
	for _, a := range t.Artists {
		snap.Artists = append(snap.Artists, Artist{Name: a.Name})
	}
	for _, img := range t.Album.Images {
		snap.Album.Images = append(snap.Album.Images, Image{URL: img.URL})
	}
	return snap
}
