// Package auth exchanges Spotify refresh grants for short-lived bearer tokens
// and caches them in memory.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/justestif/go-spotify-now-playing/internal/config"
)

// defaultTokenLifetime applies when the provider omits expires_in.
const defaultTokenLifetime = time.Hour

// maxErrorBody bounds how much of an upstream error body is kept for diagnostics.
const maxErrorBody = 512

var (
	// ErrMissingCredentials is returned before any network call when the client
	// identity or a refresh token is not available.
	ErrMissingCredentials = errors.New("missing Spotify client id, client secret or refresh token")

	// ErrTimeout is returned when the token exchange exceeds its deadline.
	ErrTimeout = errors.New("token request timed out")
)

// AuthError is returned when the token endpoint rejects the exchange.
type AuthError struct {
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("failed to get access token: %d - %s", e.StatusCode, e.Body)
}

// Acquirer produces valid bearer tokens, exchanging the refresh grant only
// when the cache has nothing usable.
type Acquirer struct {
	oauth      *oauth2.Config
	timeout    time.Duration
	cache      *CredentialCache
	grants     GrantStore
	httpClient *http.Client
	logger     *log.Logger

	mu           sync.Mutex
	refreshToken string
}

// AcquirerOption configures an Acquirer.
type AcquirerOption func(*Acquirer)

// WithGrantStore sets where refresh grants are read from when none is
// configured, and where rotated refresh tokens are written.
func WithGrantStore(store GrantStore) AcquirerOption {
	return func(a *Acquirer) {
		a.grants = store
	}
}

// WithHTTPClient sets the client used for the token exchange.
func WithHTTPClient(client *http.Client) AcquirerOption {
	return func(a *Acquirer) {
		a.httpClient = client
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) AcquirerOption {
	return func(a *Acquirer) {
		a.logger = logger
	}
}

// NewAcquirer creates an Acquirer for the configured client, backed by cache.
func NewAcquirer(cfg config.SpotifyConfig, cache *CredentialCache, opts ...AcquirerOption) *Acquirer {
	a := &Acquirer{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   spotifyauth.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		timeout:      cfg.TokenTimeout,
		cache:        cache,
		httpClient:   http.DefaultClient,
		logger:       log.Default(),
		refreshToken: cfg.RefreshToken,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.timeout <= 0 {
		a.timeout = 15 * time.Second
	}
	return a
}

// Acquire returns a cached credential or exchanges the refresh grant for a
// new one. Failures are ErrMissingCredentials, ErrTimeout, *AuthError or a
// wrapped transport/payload error.
func (a *Acquirer) Acquire(ctx context.Context) (Credential, error) {
	if a.oauth.ClientID == "" || a.oauth.ClientSecret == "" {
		return Credential{}, ErrMissingCredentials
	}

	if cred, ok := a.cache.Get(); ok {
		return cred, nil
	}

	refreshToken, err := a.currentRefreshToken(ctx)
	if err != nil {
		return Credential{}, err
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	exchangeCtx = context.WithValue(exchangeCtx, oauth2.HTTPClient, a.httpClient)

	token, err := a.oauth.TokenSource(exchangeCtx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		err = classifyExchangeError(err)
		a.logger.Error("token exchange failed", "err", err)
		return Credential{}, err
	}

	ttl := defaultTokenLifetime
	if !token.Expiry.IsZero() {
		ttl = time.Until(token.Expiry)
	}

	cred, ok := a.cache.Set(token.AccessToken, ttl)
	if !ok {
		// Unusable lifetime: hand the token out once without caching it.
		cred = Credential{BearerToken: token.AccessToken, ExpiresAt: a.cache.now()}
	}
	a.logger.Debug("token exchanged", "expires_at", cred.ExpiresAt)

	if token.RefreshToken != "" && token.RefreshToken != refreshToken {
		a.rotate(ctx, token.RefreshToken)
	}

	return cred, nil
}

// Invalidate drops the cached credential so the next Acquire exchanges again.
func (a *Acquirer) Invalidate() {
	a.cache.Clear()
}

// currentRefreshToken returns the configured or previously rotated refresh
// token, falling back to the grant store.
func (a *Acquirer) currentRefreshToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	token := a.refreshToken
	a.mu.Unlock()

	if token != "" {
		return token, nil
	}

	if a.grants == nil {
		return "", ErrMissingCredentials
	}

	grant, err := a.grants.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("loading refresh grant: %w", err)
	}
	if grant == nil || grant.RefreshToken == "" {
		return "", ErrMissingCredentials
	}

	return grant.RefreshToken, nil
}

// rotate records a refresh token issued in place of the one just used.
func (a *Acquirer) rotate(ctx context.Context, refreshToken string) {
	a.mu.Lock()
	a.refreshToken = refreshToken
	a.mu.Unlock()

	if a.grants == nil {
		return
	}

	grant, err := a.grants.Load(ctx)
	if err != nil || grant == nil {
		grant = &Grant{}
	}
	grant.RefreshToken = refreshToken
	grant.CreatedAt = time.Now()

	if err := a.grants.Save(ctx, grant); err != nil {
		// The in-memory copy still works until restart.
		a.logger.Warn("failed to persist rotated refresh token", "err", err)
	}
}

// classifyExchangeError maps oauth2 errors onto the package's error kinds.
func classifyExchangeError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		return &AuthError{StatusCode: status, Body: truncate(string(retrieveErr.Body))}
	}

	if isTimeout(err) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return fmt.Errorf("exchanging refresh token: %w", err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string) string {
	if len(s) <= maxErrorBody {
		return s
	}
	return s[:maxErrorBody] + "..."
}
