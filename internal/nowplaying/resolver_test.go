package nowplaying

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"testing"
	"time"

	zspotify "github.com/zmb3/spotify/v2"

	"github.com/justestif/go-spotify-now-playing/internal/auth"
	"github.com/justestif/go-spotify-now-playing/internal/logging"
	"github.com/justestif/go-spotify-now-playing/internal/spotify"
)

// fakeTokens hands out a fixed token through a real CredentialCache.
type fakeTokens struct {
	cache       *auth.CredentialCache
	err         error
	acquires    int
	invalidates int
}

func newFakeTokens() *fakeTokens {
	return &fakeTokens{cache: auth.NewCredentialCache()}
}

func (f *fakeTokens) Acquire(_ context.Context) (auth.Credential, error) {
	f.acquires++
	if f.err != nil {
		return auth.Credential{}, f.err
	}
	if cred, ok := f.cache.Get(); ok {
		return cred, nil
	}
	cred, _ := f.cache.Set("bearer-1", time.Hour)
	return cred, nil
}

func (f *fakeTokens) Invalidate() {
	f.invalidates++
	f.cache.Clear()
}

type fakePlayer struct {
	current    *spotify.CurrentlyPlaying
	currentErr error
	recent     *spotify.RecentlyPlayed
	recentErr  error

	currentCalls int
	recentCalls  int
	lastToken    string
	lastLimit    int
}

func (f *fakePlayer) CurrentlyPlaying(_ context.Context, token string) (*spotify.CurrentlyPlaying, error) {
	f.currentCalls++
	f.lastToken = token
	return f.current, f.currentErr
}

func (f *fakePlayer) RecentlyPlayed(_ context.Context, token string, limit int) (*spotify.RecentlyPlayed, error) {
	f.recentCalls++
	f.lastToken = token
	f.lastLimit = limit
	return f.recent, f.recentErr
}

func track(name string) spotify.Track {
	return spotify.Track{
		Name:    name,
		Artists: []zspotify.SimpleArtist{{Name: name + " Artist"}},
		Album: spotify.Album{
			Name:        name + " Album",
			ReleaseDate: "2024-05-01",
			Images:      []zspotify.Image{{URL: "https://img/" + name}},
		},
		ExternalURLs: map[string]string{"spotify": "https://open.spotify.com/track/" + name},
	}
}

func playing(name string, isPlaying bool) *spotify.CurrentlyPlaying {
	t := track(name)
	return &spotify.CurrentlyPlaying{IsPlaying: isPlaying, Item: &t}
}

var playedAt = time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)

func history(name string) *spotify.RecentlyPlayed {
	return &spotify.RecentlyPlayed{Items: []spotify.PlayHistory{{Track: track(name), PlayedAt: playedAt}}}
}

func apiErr(status int) error {
	return fmt.Errorf("fetching: %w", &spotify.APIError{StatusCode: status, Body: "upstream says no"})
}

func newTestResolver(tokens Tokens, player Player) *Resolver {
	return NewResolver(tokens, player, WithLogger(logging.Discard()))
}

func TestResolve_CurrentTrackWins(t *testing.T) {
	tokens := newFakeTokens()
	player := &fakePlayer{current: playing("A", true), recent: history("B")}

	out := newTestResolver(tokens, player).Resolve(context.Background())

	resolved, ok := out.(Resolved)
	if !ok {
		t.Fatalf("outcome = %#v, want Resolved", out)
	}

	want := Snapshot{
		Name:        "A",
		Artists:     []Artist{{Name: "A Artist"}},
		Album:       Album{Name: "A Album", ReleaseDate: "2024-05-01", Images: []Image{{URL: "https://img/A"}}},
		ExternalURL: "https://open.spotify.com/track/A",
		IsPlaying:   true,
	}
	if !reflect.DeepEqual(resolved.Snapshot, want) {
		t.Errorf("Snapshot = %+v, want %+v", resolved.Snapshot, want)
	}
	if player.recentCalls != 0 {
		t.Errorf("recent calls = %d, want 0", player.recentCalls)
	}
	if player.lastToken != "bearer-1" {
		t.Errorf("token = %q, want bearer-1", player.lastToken)
	}
}

func TestResolve_PausedTrackReportsNotPlaying(t *testing.T) {
	player := &fakePlayer{current: playing("A", false)}

	out := newTestResolver(newFakeTokens(), player).Resolve(context.Background())

	resolved, ok := out.(Resolved)
	if !ok {
		t.Fatalf("outcome = %#v, want Resolved", out)
	}
	if resolved.Snapshot.IsPlaying {
		t.Error("IsPlaying = true, want false")
	}
	if player.recentCalls != 0 {
		t.Errorf("recent calls = %d, want 0", player.recentCalls)
	}
}

func TestResolve_FallsBackToHistory(t *testing.T) {
	tests := []struct {
		name       string
		currentErr error
	}{
		{"no content", fmt.Errorf("fetching: %w", spotify.ErrNoContent)},
		{"server error", apiErr(http.StatusBadGateway)},
		{"forbidden", apiErr(http.StatusForbidden)},
		{"timeout", fmt.Errorf("%w: deadline", spotify.ErrTimeout)},
		{"malformed", fmt.Errorf("parsing: %w", spotify.ErrMalformedResponse)},
		{"transport", errors.New("connection refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			player := &fakePlayer{currentErr: tt.currentErr, recent: history("B")}

			out := newTestResolver(newFakeTokens(), player).Resolve(context.Background())

			resolved, ok := out.(Resolved)
			if !ok {
				t.Fatalf("outcome = %#v, want Resolved", out)
			}
			if resolved.Snapshot.Name != "B" {
				t.Errorf("Name = %q, want B", resolved.Snapshot.Name)
			}
			if resolved.Snapshot.IsPlaying {
				t.Error("IsPlaying = true, want false for history")
			}
			if !resolved.Snapshot.PlayedAt.Equal(playedAt) {
				t.Errorf("PlayedAt = %v, want %v", resolved.Snapshot.PlayedAt, playedAt)
			}
			if player.currentCalls != 1 || player.recentCalls != 1 {
				t.Errorf("calls = current %d recent %d, want 1 and 1", player.currentCalls, player.recentCalls)
			}
			if player.lastLimit != 1 {
				t.Errorf("limit = %d, want 1", player.lastLimit)
			}
		})
	}
}

// Resolving through the no-content path gives the same outcome as querying
// history directly.
func TestResolve_NoContentMatchesHistoryAlone(t *testing.T) {
	recents := []struct {
		name      string
		recent    *spotify.RecentlyPlayed
		recentErr error
	}{
		{"one item", history("B"), nil},
		{"empty", nil, spotify.ErrNoContent},
		{"unauthorized", nil, apiErr(http.StatusUnauthorized)},
		{"rate limited", nil, apiErr(http.StatusTooManyRequests)},
		{"server error", nil, apiErr(http.StatusInternalServerError)},
		{"timeout", nil, spotify.ErrTimeout},
	}

	for _, tt := range recents {
		t.Run(tt.name, func(t *testing.T) {
			viaFallback := newTestResolver(newFakeTokens(), &fakePlayer{
				currentErr: spotify.ErrNoContent,
				recent:     tt.recent,
				recentErr:  tt.recentErr,
			}).Resolve(context.Background())

			res := &resolution{Resolver: newTestResolver(newFakeTokens(), &fakePlayer{
				recent:    tt.recent,
				recentErr: tt.recentErr,
			}), token: "bearer-1"}
			if next := res.queryRecent(context.Background()); next != stateDone {
				t.Fatalf("queryRecent() next = %v, want done", next)
			}

			if !sameOutcome(viaFallback, res.outcome) {
				t.Errorf("fallback = %#v, direct = %#v", viaFallback, res.outcome)
			}
		})
	}
}

func sameOutcome(a, b Outcome) bool {
	fa, aok := a.(Failure)
	fb, bok := b.(Failure)
	if aok && bok {
		return fa.Kind == fb.Kind && fa.Status == fb.Status && fa.Message == fb.Message
	}
	return reflect.DeepEqual(a, b)
}

func TestResolve_CurrentUnauthorizedClearsCache(t *testing.T) {
	tokens := newFakeTokens()
	player := &fakePlayer{currentErr: apiErr(http.StatusUnauthorized), recent: history("B")}

	out := newTestResolver(tokens, player).Resolve(context.Background())

	if _, ok := tokens.cache.Get(); ok {
		t.Error("cache still holds a credential after 401")
	}
	if tokens.invalidates != 1 {
		t.Errorf("invalidates = %d, want 1", tokens.invalidates)
	}
	if player.currentCalls != 1 {
		t.Errorf("current calls = %d, want 1 (no retry)", player.currentCalls)
	}
	resolved, ok := out.(Resolved)
	if !ok || resolved.Snapshot.Name != "B" {
		t.Errorf("outcome = %#v, want Resolved B", out)
	}
}

func TestResolve_CurrentRateLimitedSkipsHistory(t *testing.T) {
	player := &fakePlayer{
		currentErr: &spotify.APIError{StatusCode: http.StatusTooManyRequests, RetryAfter: 30 * time.Second},
		recent:     history("B"),
	}

	out := newTestResolver(newFakeTokens(), player).Resolve(context.Background())

	failure, ok := out.(Failure)
	if !ok {
		t.Fatalf("outcome = %#v, want Failure", out)
	}
	if failure.Kind != KindRateLimited {
		t.Errorf("Kind = %v, want rate_limited", failure.Kind)
	}
	if failure.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v, want 30s", failure.RetryAfter)
	}
	if failure.Message != "Rate limited. Try again in 30 seconds" {
		t.Errorf("Message = %q", failure.Message)
	}
	if player.recentCalls != 0 {
		t.Errorf("recent calls = %d, want 0", player.recentCalls)
	}
}

func TestResolve_HistoryOutcomes(t *testing.T) {
	tests := []struct {
		name           string
		recent         *spotify.RecentlyPlayed
		recentErr      error
		wantEmpty      bool
		wantKind       Kind
		wantStatus     int
		wantInvalidate bool
	}{
		{
			name:      "no history",
			recentErr: fmt.Errorf("fetching: %w", spotify.ErrNoContent),
			wantEmpty: true,
		},
		{
			name:           "unauthorized",
			recentErr:      apiErr(http.StatusUnauthorized),
			wantKind:       KindAuthFailed,
			wantStatus:     http.StatusUnauthorized,
			wantInvalidate: true,
		},
		{
			name:       "rate limited",
			recentErr:  apiErr(http.StatusTooManyRequests),
			wantKind:   KindRateLimited,
			wantStatus: http.StatusTooManyRequests,
		},
		{
			name:       "server error",
			recentErr:  apiErr(http.StatusServiceUnavailable),
			wantKind:   KindUpstream,
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:      "timeout",
			recentErr: fmt.Errorf("%w: deadline", spotify.ErrTimeout),
			wantKind:  KindTimeout,
		},
		{
			name:      "malformed",
			recentErr: fmt.Errorf("parsing: %w", spotify.ErrMalformedResponse),
			wantKind:  KindUpstream,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := newFakeTokens()
			player := &fakePlayer{currentErr: spotify.ErrNoContent, recent: tt.recent, recentErr: tt.recentErr}

			out := newTestResolver(tokens, player).Resolve(context.Background())

			if tt.wantEmpty {
				if _, ok := out.(Empty); !ok {
					t.Fatalf("outcome = %#v, want Empty", out)
				}
				return
			}

			failure, ok := out.(Failure)
			if !ok {
				t.Fatalf("outcome = %#v, want Failure", out)
			}
			if failure.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", failure.Kind, tt.wantKind)
			}
			if failure.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", failure.Status, tt.wantStatus)
			}
			if failure.Message == "" {
				t.Error("Message is empty")
			}
			if got := tokens.invalidates == 1; got != tt.wantInvalidate {
				t.Errorf("invalidated = %v, want %v", got, tt.wantInvalidate)
			}
			if !errors.Is(failure, tt.recentErr) {
				t.Errorf("failure does not wrap %v", tt.recentErr)
			}
		})
	}
}

func TestResolve_TokenFailures(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantKind   Kind
		wantStatus int
	}{
		{"missing credentials", auth.ErrMissingCredentials, KindConfig, 0},
		{"rejected", &auth.AuthError{StatusCode: http.StatusBadRequest, Body: `{"error":"invalid_grant"}`}, KindAuthFailed, http.StatusBadRequest},
		{"timeout", fmt.Errorf("%w: deadline", auth.ErrTimeout), KindTimeout, 0},
		{"other", errors.New("exchanging refresh token: EOF"), KindUpstream, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := newFakeTokens()
			tokens.err = tt.err
			player := &fakePlayer{current: playing("A", true), recent: history("B")}

			out := newTestResolver(tokens, player).Resolve(context.Background())

			failure, ok := out.(Failure)
			if !ok {
				t.Fatalf("outcome = %#v, want Failure", out)
			}
			if failure.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", failure.Kind, tt.wantKind)
			}
			if failure.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", failure.Status, tt.wantStatus)
			}
			if player.currentCalls != 0 || player.recentCalls != 0 {
				t.Errorf("player calls = current %d recent %d, want none", player.currentCalls, player.recentCalls)
			}
		})
	}
}

func TestResolve_ReusesCachedToken(t *testing.T) {
	tokens := newFakeTokens()
	player := &fakePlayer{current: playing("A", true)}
	r := newTestResolver(tokens, player)

	r.Resolve(context.Background())
	first, _ := tokens.cache.Get()
	r.Resolve(context.Background())
	second, _ := tokens.cache.Get()

	if first != second {
		t.Errorf("credential changed between calls: %+v then %+v", first, second)
	}
	if tokens.acquires != 2 {
		t.Errorf("acquires = %d, want 2", tokens.acquires)
	}
}

func TestKindString(t *testing.T) {
	tests := map[Kind]string{
		KindUpstream:    "upstream",
		KindConfig:      "config",
		KindAuthFailed:  "auth_failed",
		KindRateLimited: "rate_limited",
		KindTimeout:     "timeout",
	}
	for kind, want := range tests {
		if got := kind.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(kind), got, want)
		}
	}
}
