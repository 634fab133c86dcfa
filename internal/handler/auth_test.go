package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darwin7381/ga4-realtime-api/internal/apperror"
	"github.com/darwin7381/ga4-realtime-api/internal/handler"
	"github.com/darwin7381/ga4-realtime-api/internal/model"
	"github.com/darwin7381/ga4-realtime-api/internal/service"
)

type fakeProvider struct{ configured bool }

func (p fakeProvider) Configured() bool { return p.configured }
func (p fakeProvider) AuthURL(state string) string {
	return "https://accounts.google.com/o/oauth2/auth?state=" + state
}

const testNonce = "nonce-1"

type fakeStates struct{ verifyErr error }

func (fakeStates) Issue() (string, string, error) { return "signed-state", testNonce, nil }
func (s fakeStates) Verify(string) (string, error) {
	if s.verifyErr != nil {
		return "", s.verifyErr
	}
	return testNonce, nil
}

// callback builds a callback request from the browser that started the
// login.
func callback(target string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.AddCookie(&http.Cookie{Name: handler.StateCookie, Value: testNonce})
	return req
}

func stateCookie(rr *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == handler.StateCookie {
			return c
		}
	}
	return nil
}

type fakeLogins struct {
	res      *service.LoginResult
	err      error
	lastCode string
}

func (f *fakeLogins) CompleteOAuth(_ context.Context, code string) (*service.LoginResult, error) {
	f.lastCode = code
	return f.res, f.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loginResult() *service.LoginResult {
	return &service.LoginResult{
		User: &model.User{ID: 5, Email: "amy@example.com"},
		Token: &model.OAuthToken{
			AccessToken: "ya29.token",
			ExpiresAt:   time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC),
		},
		Properties: []model.Property{{ID: 1, PropertyID: "222", PropertyName: "Blog", IsDefault: true}},
	}
}

func newAuthHandler(t *testing.T, enabled, configured bool, states fakeStates, logins *fakeLogins) *handler.AuthHandler {
	t.Helper()
	pages, err := handler.NewPageRenderer(quietLogger())
	require.NoError(t, err)
	return handler.NewAuthHandler(enabled, fakeProvider{configured: configured}, states, logins, pages, quietLogger())
}

func TestHandleGoogle_RedirectsWithState(t *testing.T) {
	h := newAuthHandler(t, true, true, fakeStates{}, &fakeLogins{})

	rr := httptest.NewRecorder()
	h.HandleGoogle(rr, httptest.NewRequest(http.MethodGet, "/auth/google", nil))

	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Contains(t, rr.Header().Get("Location"), "state=signed-state")

	c := stateCookie(rr)
	require.NotNil(t, c)
	assert.Equal(t, testNonce, c.Value)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, "/auth", c.Path)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
}

func TestHandleGoogleURL(t *testing.T) {
	h := newAuthHandler(t, true, true, fakeStates{}, &fakeLogins{})

	rr := httptest.NewRecorder()
	h.HandleGoogleURL(rr, httptest.NewRequest(http.MethodGet, "/auth/google/url", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "signed-state", body["state"])
	assert.Contains(t, body["auth_url"], "signed-state")
	assert.NotEmpty(t, body["message"])
	require.NotNil(t, stateCookie(rr), "the browser asking for the URL is the one allowed to finish")
}

func TestOAuthDisabled(t *testing.T) {
	tests := []struct {
		name       string
		enabled    bool
		configured bool
	}{
		{"mode off", false, true},
		{"no client credentials", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAuthHandler(t, tt.enabled, tt.configured, fakeStates{}, &fakeLogins{})

			for _, hf := range []http.HandlerFunc{h.HandleGoogle, h.HandleGoogleURL, h.HandleCallbackJSON, h.HandleCallback} {
				rr := httptest.NewRecorder()
				hf(rr, httptest.NewRequest(http.MethodGet, "/auth/google", nil))
				assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
			}
		})
	}
}

func TestHandleCallbackJSON(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		logins := &fakeLogins{res: loginResult()}
		h := newAuthHandler(t, true, true, fakeStates{}, logins)

		rr := httptest.NewRecorder()
		h.HandleCallbackJSON(rr, callback("/auth/callback/json?code=abc&state=signed-state"))

		require.Equal(t, http.StatusOK, rr.Code)
		var body handler.CallbackResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, int64(5), body.UserID)
		assert.Equal(t, "amy@example.com", body.Email)
		assert.Equal(t, "ya29.token", body.AccessToken)
		assert.Equal(t, "2025-06-01T13:00:00Z", body.ExpiresAt)
		assert.Len(t, body.GA4Properties, 1)
		assert.Equal(t, "abc", logins.lastCode)

		c := stateCookie(rr)
		require.NotNil(t, c)
		assert.Negative(t, c.MaxAge, "the state cookie is single use")
	})

	t.Run("state issued to another browser", func(t *testing.T) {
		logins := &fakeLogins{res: loginResult()}
		h := newAuthHandler(t, true, true, fakeStates{}, logins)

		rr := httptest.NewRecorder()
		h.HandleCallbackJSON(rr, httptest.NewRequest(http.MethodGet, "/auth/callback/json?code=abc&state=signed-state", nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code)

		req := httptest.NewRequest(http.MethodGet, "/auth/callback/json?code=abc&state=signed-state", nil)
		req.AddCookie(&http.Cookie{Name: handler.StateCookie, Value: "someone-elses-nonce"})
		rr = httptest.NewRecorder()
		h.HandleCallbackJSON(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)

		assert.Empty(t, logins.lastCode, "no exchange without the matching cookie")
	})

	t.Run("bad state never reaches the exchange", func(t *testing.T) {
		logins := &fakeLogins{res: loginResult()}
		h := newAuthHandler(t, true, true, fakeStates{verifyErr: errors.New("expired")}, logins)

		rr := httptest.NewRecorder()
		h.HandleCallbackJSON(rr, httptest.NewRequest(http.MethodGet, "/auth/callback/json?code=abc&state=old", nil))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Empty(t, logins.lastCode)
	})

	t.Run("user denied consent", func(t *testing.T) {
		logins := &fakeLogins{}
		h := newAuthHandler(t, true, true, fakeStates{}, logins)

		rr := httptest.NewRecorder()
		h.HandleCallbackJSON(rr, httptest.NewRequest(http.MethodGet, "/auth/callback/json?error=access_denied", nil))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "access_denied")
		assert.Empty(t, logins.lastCode)
	})

	t.Run("rejected code", func(t *testing.T) {
		logins := &fakeLogins{err: apperror.Unauthorized("authorization code was rejected by Google")}
		h := newAuthHandler(t, true, true, fakeStates{}, logins)

		rr := httptest.NewRecorder()
		h.HandleCallbackJSON(rr, callback("/auth/callback/json?code=used&state=s"))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestHandleCallback_HTML(t *testing.T) {
	t.Run("success page shows the token", func(t *testing.T) {
		h := newAuthHandler(t, true, true, fakeStates{}, &fakeLogins{res: loginResult()})

		rr := httptest.NewRecorder()
		h.HandleCallback(rr, callback("/auth/callback?code=abc&state=s"))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, rr.Body.String(), "ya29.token")
		assert.Contains(t, rr.Body.String(), "amy@example.com")
	})

	t.Run("internal errors are not leaked", func(t *testing.T) {
		h := newAuthHandler(t, true, true, fakeStates{}, &fakeLogins{err: errors.New("sql: database is locked")})

		rr := httptest.NewRecorder()
		h.HandleCallback(rr, callback("/auth/callback?code=abc&state=s"))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.NotContains(t, rr.Body.String(), "database is locked")
	})
}

func TestHandleStatus(t *testing.T) {
	h := newAuthHandler(t, true, false, fakeStates{}, &fakeLogins{})

	rr := httptest.NewRecorder()
	h.HandleStatus(rr, httptest.NewRequest(http.MethodGet, "/auth/status", nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, true, body["oauth_enabled"])
	assert.Equal(t, false, body["oauth_configured"])
	assert.Equal(t, false, body["client_id_configured"])
	assert.Empty(t, body["scopes"])
}
