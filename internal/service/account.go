// Package service contains the account management logic that sits between
// the HTTP handlers and the repositories:
//
//	Handler (HTTP) → Service (business rules) → Repository (SQL)
//
// Services take primitives and return domain errors from apperror; they
// know nothing about requests or status codes. Every dependency is an
// interface so tests can pass in-memory fakes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/darwin7381/ga4-realtime-api/internal/apperror"
	"github.com/darwin7381/ga4-realtime-api/internal/auth"
	"github.com/darwin7381/ga4-realtime-api/internal/model"
	"github.com/darwin7381/ga4-realtime-api/internal/repository"
)

// defaultTokenLifetime applies when Google omits expires_in.
const defaultTokenLifetime = time.Hour

// CodeExchanger trades an OAuth authorization code for a token and the
// profile of the user who granted it. *auth.GoogleProvider implements it.
type CodeExchanger interface {
	Exchange(ctx context.Context, code string) (*oauth2.Token, *auth.GoogleUser, error)
}

// PropertyDiscoverer lists the GA4 properties an access token can read.
// *ga4.PropertyLister implements it.
type PropertyDiscoverer interface {
	ListProperties(ctx context.Context, accessToken string) ([]model.DiscoveredProperty, error)
}

// AccountService completes the Google login.
//
// DEPENDENCIES (injected via NewAccountService):
//   - users, tokens, properties → persistence
//   - exchanger                 → the Google side of the code exchange
//   - discoverer                → GA4 Admin API property listing
type AccountService struct {
	users      repository.UserRepository
	tokens     repository.TokenRepository
	properties repository.PropertyRepository
	exchanger  CodeExchanger
	discoverer PropertyDiscoverer
	logger     *slog.Logger
	now        func() time.Time
}

func NewAccountService(
	users repository.UserRepository,
	tokens repository.TokenRepository,
	properties repository.PropertyRepository,
	exchanger CodeExchanger,
	discoverer PropertyDiscoverer,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		users:      users,
		tokens:     tokens,
		properties: properties,
		exchanger:  exchanger,
		discoverer: discoverer,
		logger:     logger,
		now:        time.Now,
	}
}

// LoginResult is what the callback handler shows the user: who logged in,
// the access token to use as a Bearer credential and the properties found.
type LoginResult struct {
	User       *model.User
	Token      *model.OAuthToken
	Properties []model.Property
}

// CompleteOAuth finishes the login started at /auth/google:
//
//  1. Exchange the code with Google and fetch the profile
//  2. Upsert the user by email (a returning user is re-activated)
//  3. Replace the user's stored tokens with the new one
//  4. Discover the user's GA4 properties and sync them
//
// Discovery failing does not fail the login; the user keeps whatever
// properties were stored before and can add more by hand.
func (s *AccountService) CompleteOAuth(ctx context.Context, code string) (*LoginResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperror.ValidationFailed("code", "authorization code is required")
	}

	tok, profile, err := s.exchanger.Exchange(ctx, code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return nil, apperror.Unauthorized("authorization code was rejected by Google")
		}
		return nil, apperror.Upstream("Google authorization failed", err)
	}

	user, err := s.users.UpsertUserByEmail(ctx, profile.Email, profile.Name)
	if err != nil {
		return nil, fmt.Errorf("service/account: upserting user %s: %w", profile.Email, err)
	}

	stored := &model.OAuthToken{
		UserID:       user.ID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		TokenType:    tok.TokenType,
	}
	if stored.ExpiresAt.IsZero() {
		stored.ExpiresAt = s.now().Add(defaultTokenLifetime)
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		stored.Scope = scope
	}
	if err := s.tokens.ReplaceToken(ctx, stored); err != nil {
		return nil, fmt.Errorf("service/account: storing token for user %d: %w", user.ID, err)
	}

	s.logger.Info("user authenticated via Google",
		slog.Int64("userID", user.ID),
		slog.String("email", user.Email),
	)

	s.syncProperties(ctx, user.ID, tok.AccessToken)

	props, err := s.properties.ListProperties(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/account: listing properties for user %d: %w", user.ID, err)
	}

	return &LoginResult{User: user, Token: stored, Properties: props}, nil
}

func (s *AccountService) syncProperties(ctx context.Context, userID int64, accessToken string) {
	found, err := s.discoverer.ListProperties(ctx, accessToken)
	if err != nil {
		s.logger.Warn("GA4 property discovery failed",
			slog.Int64("userID", userID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.properties.SyncDiscoveredProperties(ctx, userID, found); err != nil {
		s.logger.Warn("storing discovered properties failed",
			slog.Int64("userID", userID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Info("GA4 properties synced",
		slog.Int64("userID", userID),
		slog.Int("count", len(found)),
	)
}
