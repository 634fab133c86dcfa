package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/darwin7381/ga4-realtime-api/internal/apperror"
	"github.com/darwin7381/ga4-realtime-api/internal/auth"
	"github.com/darwin7381/ga4-realtime-api/internal/model"
	"github.com/darwin7381/ga4-realtime-api/internal/service"
)

// OAuthStarter builds the Google consent URL. *auth.GoogleProvider
// implements it.
type OAuthStarter interface {
	Configured() bool
	AuthURL(state string) string
}

// StateIssuer issues and checks the OAuth state parameter.
// *auth.StateSigner implements it.
type StateIssuer interface {
	Issue() (state, nonce string, err error)
	Verify(state string) (nonce string, err error)
}

// LoginCompleter finishes a login. *service.AccountService implements it.
type LoginCompleter interface {
	CompleteOAuth(ctx context.Context, code string) (*service.LoginResult, error)
}

// AuthHandler runs the browser side of the Google OAuth flow.
//
//   - HandleGoogle        → 302 to Google's consent screen
//   - HandleGoogleURL     → the consent URL as JSON, for SPAs
//   - HandleCallback      → Google redirects here; renders an HTML page
//   - HandleCallbackJSON  → same flow, JSON result
//   - HandleStatus        → whether OAuth is usable
//
// CSRF PROTECTION VIA STATE:
// Every consent URL carries a signed, short-lived state token, and the
// browser that asked for it gets the state's nonce in an HttpOnly cookie.
// The callback rejects any state this server did not issue, and any state
// whose nonce does not match the cookie, so a forged callback with an
// attacker's code cannot log a victim into the attacker's account.
type AuthHandler struct {
	enabled  bool
	provider OAuthStarter
	states   StateIssuer
	logins   LoginCompleter
	pages    *PageRenderer
	logger   *slog.Logger
}

// NewAuthHandler wires the OAuth endpoints. enabled is ENABLE_OAUTH_MODE;
// the flow additionally needs the provider to have client credentials.
func NewAuthHandler(
	enabled bool,
	provider OAuthStarter,
	states StateIssuer,
	logins LoginCompleter,
	pages *PageRenderer,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		enabled:  enabled,
		provider: provider,
		states:   states,
		logins:   logins,
		pages:    pages,
		logger:   logger,
	}
}

var errOAuthDisabled = apperror.ServiceUnavailable("OAuth login is not enabled")

var errBadState = apperror.ValidationFailed("state", "invalid or expired OAuth state, start the login again")

// StateCookie holds the nonce of the login this browser started.
const StateCookie = "ga4_oauth_state"

func (h *AuthHandler) usable() bool {
	return h.enabled && h.provider.Configured()
}

// consentURL issues a fresh state, binds it to this browser and builds the
// URL that carries it.
func (h *AuthHandler) consentURL(w http.ResponseWriter, r *http.Request) (string, string, error) {
	state, nonce, err := h.states.Issue()
	if err != nil {
		return "", "", err
	}
	setStateCookie(w, r, nonce, int(auth.StateTTL/time.Second))
	return h.provider.AuthURL(state), state, nil
}

// setStateCookie scopes the cookie to /auth so it never travels with API
// calls. A negative maxAge deletes it.
func setStateCookie(w http.ResponseWriter, r *http.Request, nonce string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookie,
		Value:    nonce,
		Path:     "/auth",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   isHTTPS(r),
		SameSite: http.SameSiteLaxMode,
	})
}

// HandleGoogle serves GET /auth/google.
func (h *AuthHandler) HandleGoogle(w http.ResponseWriter, r *http.Request) {
	if !h.usable() {
		WriteError(w, r, errOAuthDisabled)
		return
	}
	url, _, err := h.consentURL(w, r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// HandleGoogleURL serves GET /auth/google/url.
func (h *AuthHandler) HandleGoogleURL(w http.ResponseWriter, r *http.Request) {
	if !h.usable() {
		WriteError(w, r, errOAuthDisabled)
		return
	}
	url, state, err := h.consentURL(w, r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"auth_url": url,
		"state":    state,
		"message":  "open auth_url in a browser to grant access to Google Analytics",
	})
}

// complete runs the checks shared by both callback variants and then the
// login itself.
//
// FLOW:
//  1. Google reports a denial through ?error=
//  2. The state must be one we issued, not expired, and started in
//     this browser (nonce matches the cookie)
//  3. The code is exchanged and the account stored (service layer)
//
// The state cookie is single use and cleared whatever the outcome.
func (h *AuthHandler) complete(w http.ResponseWriter, r *http.Request) (*service.LoginResult, error) {
	q := r.URL.Query()
	setStateCookie(w, r, "", -1)

	if denied := q.Get("error"); denied != "" {
		h.logger.Info("auth callback: user denied authorization", slog.String("error", denied))
		return nil, apperror.ValidationFailed("error", "authorization was denied: "+denied)
	}

	nonce, err := h.states.Verify(q.Get("state"))
	if err != nil {
		h.logger.Warn("auth callback: bad state", slog.String("error", err.Error()))
		return nil, errBadState
	}
	cookie, err := r.Cookie(StateCookie)
	if err != nil || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(nonce)) != 1 {
		h.logger.Warn("auth callback: state was issued to another browser")
		return nil, errBadState
	}

	return h.logins.CompleteOAuth(r.Context(), q.Get("code"))
}

// HandleCallback serves GET /auth/callback, where Google sends the browser.
func (h *AuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if !h.usable() {
		h.pages.render(w, http.StatusServiceUnavailable, callbackPage{
			Title: "Authorization failed",
			Error: errOAuthDisabled.Message,
		})
		return
	}

	res, err := h.complete(w, r)
	if err != nil {
		status, message := http.StatusInternalServerError, "login failed, please try again"
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			status, message = statusOf(err), appErr.Message
		} else {
			h.logger.Error("auth callback failed", slog.String("error", err.Error()))
		}
		h.pages.render(w, status, callbackPage{Title: "Authorization failed", Error: message})
		return
	}

	h.pages.render(w, http.StatusOK, callbackPage{
		Title:       "Authorization complete",
		Email:       res.User.Email,
		AccessToken: res.Token.AccessToken,
		ExpiresAt:   res.Token.ExpiresAt.UTC().Format(time.RFC3339),
		Properties:  res.Properties,
		BaseURL:     baseURL(r),
	})
}

// CallbackResponse is the JSON body of /auth/callback/json.
type CallbackResponse struct {
	Message       string           `json:"message"`
	UserID        int64            `json:"user_id"`
	Email         string           `json:"email"`
	GA4Properties []model.Property `json:"ga4_properties"`
	AccessToken   string           `json:"access_token"`
	ExpiresAt     string           `json:"expires_at"`
}

// HandleCallbackJSON serves GET /auth/callback/json.
func (h *AuthHandler) HandleCallbackJSON(w http.ResponseWriter, r *http.Request) {
	if !h.usable() {
		WriteError(w, r, errOAuthDisabled)
		return
	}

	res, err := h.complete(w, r)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CallbackResponse{
		Message:       "authorization complete",
		UserID:        res.User.ID,
		Email:         res.User.Email,
		GA4Properties: res.Properties,
		AccessToken:   res.Token.AccessToken,
		ExpiresAt:     res.Token.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// HandleStatus serves GET /auth/status.
func (h *AuthHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	usable := h.usable()
	scopes := []string{}
	message := "OAuth login is not enabled"
	if usable {
		scopes = auth.GoogleScopes
		message = "OAuth login is available at /auth/google"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"oauth_enabled":        h.enabled,
		"oauth_configured":     usable,
		"client_id_configured": h.provider.Configured(),
		"scopes":               scopes,
		"message":              message,
	})
}

// baseURL reconstructs the public origin for copy-paste examples.
func baseURL(r *http.Request) string {
	scheme := "http"
	if isHTTPS(r) {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
}
