package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/darwin7381/ga4-realtime-api/internal/apperror"
	"github.com/darwin7381/ga4-realtime-api/internal/model"
	"github.com/darwin7381/ga4-realtime-api/internal/repository"
)

const (
	MaxKeysPerUser   = 10
	MaxKeyNameLength = 100

	keyPrefix    = "ga4_"
	keyRandomLen = 40
	keyAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// APIKeyService manages the per-user keys that stand in for an OAuth
// token in machine-to-machine calls.
type APIKeyService struct {
	keys       repository.APIKeyRepository
	properties repository.PropertyRepository
	logger     *slog.Logger
}

func NewAPIKeyService(keys repository.APIKeyRepository, properties repository.PropertyRepository, logger *slog.Logger) *APIKeyService {
	return &APIKeyService{keys: keys, properties: properties, logger: logger}
}

// CreateKeyInput is what a user submits. PropertyRef, when set, is the
// internal id of one of the user's properties the key will query.
type CreateKeyInput struct {
	Name        string
	Description string
	PropertyRef *int64
}

// Create issues a new key. The full key value is only ever returned here.
func (s *APIKeyService) Create(ctx context.Context, userID int64, in CreateKeyInput) (*model.APIKey, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperror.ValidationFailed("key_name", "key name is required")
	}
	if len(name) > MaxKeyNameLength {
		return nil, apperror.ValidationFailed("key_name",
			fmt.Sprintf("key name must be %d characters or less", MaxKeyNameLength))
	}

	var bound *model.Property
	if in.PropertyRef != nil {
		// only the caller's own active properties may be bound
		var err error
		bound, err = s.properties.GetProperty(ctx, userID, *in.PropertyRef)
		if err != nil {
			return nil, err
		}
	}

	value, err := generateKey()
	if err != nil {
		return nil, fmt.Errorf("service/apikey: generating key: %w", err)
	}

	key := &model.APIKey{
		UserID:      userID,
		PropertyRef: in.PropertyRef,
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Key:         value,
		Property:    bound,
	}
	if err := s.keys.CreateKey(ctx, key, MaxKeysPerUser); err != nil {
		if errors.Is(err, repository.ErrLimitReached) {
			return nil, apperror.ValidationFailed("key_name",
				fmt.Sprintf("maximum of %d active API keys reached", MaxKeysPerUser))
		}
		return nil, fmt.Errorf("service/apikey: creating key: %w", err)
	}

	s.logger.Info("api key created",
		slog.Int64("userID", userID),
		slog.Int64("keyID", key.ID),
		slog.String("name", key.Name),
	)
	return key, nil
}

// List returns the user's active keys, newest first.
func (s *APIKeyService) List(ctx context.Context, userID int64) ([]model.APIKey, error) {
	keys, err := s.keys.ListKeys(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/apikey: listing keys: %w", err)
	}
	return keys, nil
}

// Delete soft-deletes one of the user's active keys. Someone else's key
// is reported as not found.
func (s *APIKeyService) Delete(ctx context.Context, userID, keyID int64) error {
	if err := s.keys.DeactivateKey(ctx, userID, keyID); err != nil {
		return err
	}
	s.logger.Info("api key revoked",
		slog.Int64("userID", userID),
		slog.Int64("keyID", keyID),
	)
	return nil
}

// generateKey returns "ga4_" followed by 40 characters drawn uniformly
// from [A-Za-z0-9].
func generateKey() (string, error) {
	var b strings.Builder
	b.Grow(len(keyPrefix) + keyRandomLen)
	b.WriteString(keyPrefix)

	limit := big.NewInt(int64(len(keyAlphabet)))
	for range keyRandomLen {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(keyAlphabet[n.Int64()])
	}
	return b.String(), nil
}
