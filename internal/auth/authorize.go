package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/justestif/go-spotify-now-playing/internal/config"
)

// exchangeTimeout bounds the authorization-code exchange.
const exchangeTimeout = 10 * time.Second

// ErrNoRefreshToken is returned when the code exchange succeeds but the
// provider issues no refresh token.
var ErrNoRefreshToken = errors.New("authorization response contained no refresh token")

// Authorizer runs the one-off authorization-code flow that produces the
// refresh grant used by Acquirer.
type Authorizer struct {
	oauth      *oauth2.Config
	apiURL     string
	grants     GrantStore
	httpClient *http.Client
	logger     *log.Logger
}

// NewAuthorizer creates an Authorizer that persists grants to store.
func NewAuthorizer(cfg config.SpotifyConfig, store GrantStore, logger *log.Logger) *Authorizer {
	if logger == nil {
		logger = log.Default()
	}
	return &Authorizer{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes: []string{
				spotifyauth.ScopeUserReadCurrentlyPlaying,
				spotifyauth.ScopeUserReadRecentlyPlayed,
			},
			Endpoint: oauth2.Endpoint{
				AuthURL:   spotifyauth.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		apiURL:     strings.TrimRight(cfg.APIURL, "/") + "/",
		grants:     store,
		httpClient: http.DefaultClient,
		logger:     logger,
	}
}

// Configured reports whether the client identity is present.
func (a *Authorizer) Configured() bool {
	return a.oauth.ClientID != "" && a.oauth.ClientSecret != ""
}

// AuthURL returns the provider consent URL carrying state.
func (a *Authorizer) AuthURL(state string) string {
	return a.oauth.AuthCodeURL(state)
}

// Complete exchanges code for tokens, labels the grant with the Spotify
// account when possible, and persists it. The returned token is for the
// caller's information only.
func (a *Authorizer) Complete(ctx context.Context, code string) (*oauth2.Token, *Grant, error) {
	ctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)

	token, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, nil, classifyExchangeError(err)
	}
	if token.RefreshToken == "" {
		return nil, nil, ErrNoRefreshToken
	}

	grant := &Grant{
		RefreshToken: token.RefreshToken,
		CreatedAt:    time.Now(),
	}
	if scope, ok := token.Extra("scope").(string); ok {
		grant.Scope = scope
	}

	// The account label is informational, so a failed lookup is not fatal.
	client := spotify.New(a.oauth.Client(ctx, token), spotify.WithBaseURL(a.apiURL))
	if user, err := client.CurrentUser(ctx); err != nil {
		a.logger.Warn("failed to look up authorized account", "err", err)
	} else {
		grant.AccountID = string(user.ID)
		grant.DisplayName = user.DisplayName
	}

	if a.grants != nil {
		if err := a.grants.Save(ctx, grant); err != nil {
			return nil, nil, fmt.Errorf("saving grant: %w", err)
		}
	}

	a.logger.Info("authorization complete", "account", grant.AccountID)
	return token, grant, nil
}

// GenerateState creates a random state string for OAuth.
func GenerateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
