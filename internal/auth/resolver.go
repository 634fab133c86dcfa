// Package auth resolves the caller of a request.
//
// A request may present a Google access token (Authorization: Bearer) or
// an API key (X-API-Key). The Resolver turns those headers into an
// Identity, applying the per-identity rate limit on the way. Everything
// the resolver needs is injected, so tests build isolated instances.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/darwin7381/ga4-realtime-api/internal/apperror"
	"github.com/darwin7381/ga4-realtime-api/internal/model"
	"github.com/darwin7381/ga4-realtime-api/internal/ratelimit"
	"github.com/darwin7381/ga4-realtime-api/internal/repository"
)

const bearerPrefix = "Bearer "

// fallback lifetime when the provider does not report one
const defaultTokenLifetime = time.Hour

const (
	msgInvalidToken  = "invalid token"
	msgTokenExpired  = "token expired, reauthorize"
	msgInvalidAPIKey = "invalid API key"
	msgNoAuthMethod  = "no authentication method configured"
	msgRateLimited   = "rate limit exceeded, try again later"

	formBearerToken  = "Authorization Bearer token"
	formAPIKeyHeader = "X-API-Key header"
)

// resolution outcomes reported to the observer
const (
	outcomeSuccess     = "success"
	outcomeRejected    = "unauthorized"
	outcomeThrottled   = "rate_limited"
	outcomeUnavailable = "unavailable"
	outcomeError       = "error"
)

// TokenRefresher exchanges a refresh token for a new access token.
// GoogleProvider implements it.
type TokenRefresher interface {
	Configured() bool
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// PropertyResolver picks the GA4 property of an OAuth user.
type PropertyResolver interface {
	ResolveProperty(ctx context.Context, userID int64) (string, error)
}

// KeyStore looks up and stamps per-user API keys.
type KeyStore interface {
	FindActiveKey(ctx context.Context, key string) (*model.APIKey, *model.User, error)
	TouchKey(ctx context.Context, id int64, at time.Time) error
}

// ResolutionObserver is told the outcome of every resolution.
type ResolutionObserver interface {
	ObserveResolution(kind, outcome string)
}

type ResolverConfig struct {
	OAuthEnabled      bool
	APIKeyEnabled     bool
	DefaultPropertyID string
	// StaticKeys maps secret -> alias.
	StaticKeys map[string]string
	// RetryAfter is reported on rate-limited responses. Normally the
	// limiter window.
	RetryAfter time.Duration
}

type ResolverDeps struct {
	Provider   TokenRefresher
	Tokens     repository.TokenRepository
	Properties PropertyResolver
	Keys       KeyStore
	Limiter    ratelimit.Limiter
}

type Resolver struct {
	cfg      ResolverConfig
	deps     ResolverDeps
	now      func() time.Time
	observer ResolutionObserver
	logger   *slog.Logger
}

type ResolverOption func(*Resolver)

// WithResolverClock overrides the clock used for expiry checks and
// last_used_at stamps.
func WithResolverClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

func WithObserver(o ResolutionObserver) ResolverOption {
	return func(r *Resolver) { r.observer = o }
}

func NewResolver(cfg ResolverConfig, deps ResolverDeps, logger *slog.Logger, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		cfg:    cfg,
		deps:   deps,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve authenticates a request from its X-API-Key and Authorization
// header values (empty when absent).
//
// A bearer token takes priority over an API key whenever OAuth is enabled
// and configured, even if both headers are present.
func (r *Resolver) Resolve(ctx context.Context, apiKey, authorization string) (Identity, error) {
	switch {
	case strings.HasPrefix(authorization, bearerPrefix) && r.oauthUsable():
		id, err := r.resolveOAuth(ctx, strings.TrimPrefix(authorization, bearerPrefix))
		r.observe("oauth", err)
		return id, err

	case apiKey != "" && r.cfg.APIKeyEnabled:
		id, err := r.resolveAPIKey(ctx, apiKey)
		r.observe("api_key", err)
		return id, err
	}

	err := r.noCredential()
	r.observe("none", err)
	return nil, err
}

func (r *Resolver) oauthUsable() bool {
	return r.cfg.OAuthEnabled && r.deps.Provider != nil && r.deps.Provider.Configured()
}

func (r *Resolver) noCredential() error {
	if !r.cfg.OAuthEnabled && !r.cfg.APIKeyEnabled {
		return apperror.ServiceUnavailable(msgNoAuthMethod)
	}
	var forms []string
	if r.oauthUsable() {
		forms = append(forms, formBearerToken)
	}
	if r.cfg.APIKeyEnabled {
		forms = append(forms, formAPIKeyHeader)
	}
	if len(forms) == 0 {
		// OAuth is switched on but has no client credentials
		return apperror.ServiceUnavailable(msgNoAuthMethod)
	}
	return apperror.Unauthorized("authentication required: provide " + strings.Join(forms, " or "))
}

func (r *Resolver) resolveOAuth(ctx context.Context, raw string) (Identity, error) {
	if raw == "" {
		return nil, apperror.Unauthorized(msgInvalidToken)
	}

	tok, user, err := r.deps.Tokens.FindActiveToken(ctx, raw)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.Unauthorized(msgInvalidToken)
	}
	if err != nil {
		return nil, fmt.Errorf("auth: looking up token: %w", err)
	}

	accessToken := tok.AccessToken
	if tok.Expired(r.now()) {
		refreshed, err := r.refresh(ctx, tok)
		if err != nil {
			return nil, err
		}
		accessToken = refreshed.AccessToken
	}

	if err := r.allow(ctx, fmt.Sprintf("oauth_%d", user.ID)); err != nil {
		return nil, err
	}

	property, err := r.deps.Properties.ResolveProperty(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("auth: resolving property: %w", err)
	}

	return OAuthIdentity{
		UserID:      user.ID,
		Email:       user.Email,
		Property:    property,
		AccessToken: accessToken,
	}, nil
}

// refresh swaps an expired token for a new one and persists it. Only a
// rejection by Google means the user has to log in again; a network
// failure or timeout leaves the stored token alone.
func (r *Resolver) refresh(ctx context.Context, old *model.OAuthToken) (*model.OAuthToken, error) {
	if old.RefreshToken == "" {
		return nil, apperror.Unauthorized(msgTokenExpired)
	}

	fresh, err := r.deps.Provider.Refresh(ctx, old.RefreshToken)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			r.logger.Warn("token refresh rejected",
				slog.Int64("user_id", old.UserID),
				slog.String("error", err.Error()),
			)
			return nil, apperror.Unauthorized(msgTokenExpired)
		}
		r.logger.Error("token refresh failed",
			slog.Int64("user_id", old.UserID),
			slog.String("error", err.Error()),
		)
		return nil, apperror.Upstream("Google token refresh failed", err)
	}

	next := &model.OAuthToken{
		UserID:       old.UserID,
		AccessToken:  fresh.AccessToken,
		RefreshToken: fresh.RefreshToken,
		ExpiresAt:    fresh.Expiry,
		Scope:        old.Scope,
		TokenType:    fresh.TokenType,
	}
	if next.RefreshToken == "" {
		next.RefreshToken = old.RefreshToken
	}
	if next.ExpiresAt.IsZero() {
		next.ExpiresAt = r.now().Add(defaultTokenLifetime)
	}
	if next.TokenType == "" {
		next.TokenType = old.TokenType
	}

	if err := r.deps.Tokens.ReplaceToken(ctx, next); err != nil {
		return nil, fmt.Errorf("auth: storing refreshed token: %w", err)
	}

	r.logger.Info("oauth token refreshed", slog.Int64("user_id", old.UserID))
	return next, nil
}

func (r *Resolver) resolveAPIKey(ctx context.Context, raw string) (Identity, error) {
	key, owner, err := r.deps.Keys.FindActiveKey(ctx, raw)
	switch {
	case err == nil:
		return r.resolveUserKey(ctx, key, owner)
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("auth: looking up api key: %w", err)
	}

	alias, ok := r.cfg.StaticKeys[raw]
	if !ok {
		return nil, apperror.Unauthorized(msgInvalidAPIKey)
	}
	if err := r.allow(ctx, "api_key_"+raw); err != nil {
		return nil, err
	}
	return StaticKeyIdentity{Alias: alias, Property: r.cfg.DefaultPropertyID}, nil
}

func (r *Resolver) resolveUserKey(ctx context.Context, key *model.APIKey, owner *model.User) (Identity, error) {
	if err := r.allow(ctx, fmt.Sprintf("user_api_key_%d", owner.ID)); err != nil {
		return nil, err
	}

	if err := r.deps.Keys.TouchKey(ctx, key.ID, r.now()); err != nil {
		return nil, fmt.Errorf("auth: recording key use: %w", err)
	}

	property := r.cfg.DefaultPropertyID
	if key.Property != nil {
		property = key.Property.PropertyID
	}

	return UserKeyIdentity{
		UserID:   owner.ID,
		KeyID:    key.ID,
		Email:    owner.Email,
		Property: property,
	}, nil
}

func (r *Resolver) allow(ctx context.Context, key string) error {
	ok, err := r.deps.Limiter.Allow(ctx, key)
	if err != nil {
		return fmt.Errorf("auth: checking rate limit: %w", err)
	}
	if !ok {
		return apperror.TooManyRequests(msgRateLimited, r.cfg.RetryAfter)
	}
	return nil
}

func (r *Resolver) observe(kind string, err error) {
	if r.observer == nil {
		return
	}
	outcome := outcomeSuccess
	switch {
	case err == nil:
	case errors.Is(err, apperror.ErrUnauthorized):
		outcome = outcomeRejected
	case errors.Is(err, apperror.ErrTooManyRequests):
		outcome = outcomeThrottled
	case errors.Is(err, apperror.ErrServiceUnavailable):
		outcome = outcomeUnavailable
	default:
		outcome = outcomeError
	}
	r.observer.ObserveResolution(kind, outcome)
}
