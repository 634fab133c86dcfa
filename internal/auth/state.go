package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"
)

const (
	stateIssuer  = "ga4-realtime-api"
	stateSubject = "oauth-state"
)

// StateTTL is how long a login may take between consent URL and callback.
const StateTTL = 10 * time.Minute

// StateSigner issues and verifies the OAuth "state" parameter. A state is a
// short-lived HS256 JWT with a random nonce, so callbacks that did not
// start at our login endpoint are rejected without server-side storage.
// The nonce is also handed to the browser that started the login, so a
// state obtained by someone else is useless in another browser.
type StateSigner struct {
	secret []byte
	now    func() time.Time
}

// NewStateSigner builds a signer. An empty secret gets a random one, which
// is fine for a single process but invalidates pending logins on restart.
func NewStateSigner(secret string) (*StateSigner, error) {
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("auth: generating state secret: %w", err)
		}
		secret = hex.EncodeToString(buf)
	}
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &StateSigner{secret: []byte(secret), now: time.Now}, nil
}

// Issue returns a signed state value and the nonce it carries.
func (s *StateSigner) Issue() (state, nonce string, err error) {
	now := s.now()
	nonce = xid.New().String()
	c := jwt.RegisteredClaims{
		ID:        nonce,
		Subject:   stateSubject,
		Issuer:    stateIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(StateTTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", "", fmt.Errorf("auth: signing state: %w", err)
	}
	return signed, nonce, nil
}

// Verify checks signature, issuer, subject and expiry of a state value and
// returns its nonce.
func (s *StateSigner) Verify(state string) (string, error) {
	c := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(state, c,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithSubject(stateSubject),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", errors.New("auth: state expired")
		}
		return "", fmt.Errorf("auth: invalid state: %w", err)
	}
	if c.ID == "" {
		return "", errors.New("auth: state has no nonce")
	}
	return c.ID, nil
}
