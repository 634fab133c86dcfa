package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const defaultUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// DefaultProviderTimeout bounds a single call to Google when no
// WithTimeout option is given.
const DefaultProviderTimeout = 10 * time.Second

// Scopes requested at login. analytics.readonly lets the issued token query
// the user's own GA4 properties.
var GoogleScopes = []string{
	"https://www.googleapis.com/auth/analytics.readonly",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// GoogleUser is the subset of the userinfo response we keep.
type GoogleUser struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	VerifiedEmail bool   `json:"verified_email"`
}

// GoogleProvider runs the Google side of the OAuth flow.
type GoogleProvider struct {
	config      *oauth2.Config
	userInfoURL string
	timeout     time.Duration
}

type ProviderOption func(*GoogleProvider)

// WithEndpoint points the provider at another token/auth endpoint.
func WithEndpoint(ep oauth2.Endpoint) ProviderOption {
	return func(p *GoogleProvider) { p.config.Endpoint = ep }
}

// WithTimeout bounds each Exchange, UserInfo and Refresh call. The
// caller's deadline still applies when it is shorter.
func WithTimeout(d time.Duration) ProviderOption {
	return func(p *GoogleProvider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithUserInfoURL overrides where user profiles are fetched from.
func WithUserInfoURL(url string) ProviderOption {
	return func(p *GoogleProvider) { p.userInfoURL = url }
}

func NewGoogleProvider(clientID, clientSecret, redirectURL string, opts ...ProviderOption) *GoogleProvider {
	p := &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       GoogleScopes,
			Endpoint:     google.Endpoint,
		},
		userInfoURL: defaultUserInfoURL,
		timeout:     DefaultProviderTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Configured reports whether client credentials are present.
func (p *GoogleProvider) Configured() bool {
	return p.config.ClientID != "" && p.config.ClientSecret != ""
}

// AuthURL returns the consent page URL. Offline access plus a forced
// consent prompt make Google issue a refresh token on every login.
func (p *GoogleProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// Exchange trades an authorization code for a token and fetches the
// profile of the user who granted it.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, *GoogleUser, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("auth: exchanging OAuth code: %w", err)
	}

	user, err := p.UserInfo(ctx, tok)
	if err != nil {
		return nil, nil, err
	}
	return tok, user, nil
}

func (p *GoogleProvider) UserInfo(ctx context.Context, tok *oauth2.Token) (*GoogleUser, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: building userinfo request: %w", err)
	}

	resp, err := p.config.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: calling userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: userinfo returned status %d", resp.StatusCode)
	}

	var user GoogleUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("auth: decoding userinfo: %w", err)
	}
	if user.Email == "" {
		return nil, errors.New("auth: userinfo has no email")
	}
	return &user, nil
}

// Refresh exchanges a refresh token for a new access token. When Google
// does not rotate the refresh token the returned token carries the old one.
func (p *GoogleProvider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	tok, err := p.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("auth: refreshing token: %w", err)
	}
	return tok, nil
}
