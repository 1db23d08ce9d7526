package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"

	"github.com/justestif/go-spotify-now-playing/internal/auth"
	"github.com/justestif/go-spotify-now-playing/internal/nowplaying"
)

const stateCookie = "oauth_state"

// Resolver produces the now-playing outcome for a request.
type Resolver interface {
	Resolve(ctx context.Context) nowplaying.Outcome
}

// Authorizer runs the authorization-code flow.
type Authorizer interface {
	Configured() bool
	AuthURL(state string) string
	Complete(ctx context.Context, code string) (*oauth2.Token, *auth.Grant, error)
}

// Handlers contains HTTP handlers for the web application.
type Handlers struct {
	resolver   Resolver
	authorizer Authorizer
	logger     *log.Logger
}

// NewHandlers creates a new Handlers instance. authorizer may be nil, which
// disables the authorization routes.
func NewHandlers(resolver Resolver, authorizer Authorizer, logger *log.Logger) *Handlers {
	return &Handlers{
		resolver:   resolver,
		authorizer: authorizer,
		logger:     logger,
	}
}

// NowPlaying reports the current or most recent track (GET /api/spotify/now-playing).
func (h *Handlers) NowPlaying(w http.ResponseWriter, r *http.Request) {
	out := h.resolver.Resolve(r.Context())

	w.Header().Set("Cache-Control", "no-store")

	status, body := Render(out)
	if f, ok := out.(nowplaying.Failure); ok {
		h.logger.Warn("now playing request failed",
			"kind", f.Kind, "upstream_status", f.Status, "status", status)
		if f.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(f.RetryAfter)))
		}
	}

	if body == nil {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, body)
}

// Healthz reports liveness (GET /healthz).
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Login initiates the Spotify OAuth flow (GET /auth/login).
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if h.authorizer == nil || !h.authorizer.Configured() {
		writeError(w, http.StatusInternalServerError, "Server configuration error", 0)
		return
	}

	state, err := auth.GenerateState()
	if err != nil {
		h.logger.Error("failed to generate state", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to generate state", 0)
		return
	}

	// Store state in cookie for validation on callback
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   300,
	})

	http.Redirect(w, r, h.authorizer.AuthURL(state), http.StatusTemporaryRedirect)
}

// Callback completes the OAuth flow and stores the refresh grant
// (GET /api/auth/callback/spotify). Tokens are never echoed.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if errMsg := query.Get("error"); errMsg != "" {
		h.logger.Warn("spotify authorization error", "error", errMsg)
		writeError(w, http.StatusBadRequest, "Authorization denied by user", 0)
		return
	}

	code := query.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "Authorization code not found", 0)
		return
	}

	state := query.Get("state")
	if state == "" {
		writeError(w, http.StatusBadRequest, "State parameter missing", 0)
		return
	}
	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value != state {
		writeError(w, http.StatusBadRequest, "State mismatch", 0)
		return
	}

	// Clear state cookie
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})

	if h.authorizer == nil || !h.authorizer.Configured() {
		h.logger.Error("missing Spotify client credentials")
		writeError(w, http.StatusInternalServerError, "Server configuration error", 0)
		return
	}

	token, grant, err := h.authorizer.Complete(r.Context(), code)
	if err != nil {
		var authErr *auth.AuthError
		if errors.As(err, &authErr) {
			h.logger.Error("authorization code exchange rejected", "status", authErr.StatusCode, "body", authErr.Body)
			status := http.StatusInternalServerError
			if authErr.StatusCode >= 400 && authErr.StatusCode < 500 {
				status = http.StatusBadRequest
			}
			writeError(w, status, "Authentication failed", 0)
			return
		}
		h.logger.Error("authorization failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error", 0)
		return
	}

	resp := authorizedResponse{
		Message: "Spotify authentication successful!",
		Account: grant.AccountID,
	}
	if !token.Expiry.IsZero() {
		resp.ExpiresIn = int(time.Until(token.Expiry).Round(time.Second).Seconds())
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string, retryAfter int) {
	writeJSON(w, status, ErrorResponse{Error: message, RetryAfterSeconds: retryAfter})
}
