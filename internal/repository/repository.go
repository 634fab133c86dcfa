// Package repository declares the persistence interfaces used by the
// resolver, the services and the usage recorder. sqlstore implements all
// of them; tests use small in-memory fakes.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/darwin7381/ga4-realtime-api/internal/model"
)

var (
	// ErrLimitReached is returned by creates that would take a user past
	// their allowance.
	ErrLimitReached = errors.New("repository: limit reached")
	// ErrDuplicate is returned when an equal active row already exists.
	ErrDuplicate = errors.New("repository: duplicate")
)

type UserRepository interface {
	// UpsertUserByEmail creates the user or refreshes the name of an
	// existing one. Either way the row ends up active.
	UpsertUserByEmail(ctx context.Context, email, name string) (*model.User, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
}

type TokenRepository interface {
	// FindActiveToken returns the non-revoked token row with this access
	// token together with its owner, provided the owner is active.
	// apperror.ErrNotFound otherwise.
	FindActiveToken(ctx context.Context, accessToken string) (*model.OAuthToken, *model.User, error)

	// ReplaceToken revokes every earlier token of tok.UserID and inserts
	// tok in one transaction.
	ReplaceToken(ctx context.Context, tok *model.OAuthToken) error
}

type PropertyRepository interface {
	// ResolveProperty picks the property a request acts on: the active
	// default, else the earliest created active one. Empty when none.
	ResolveProperty(ctx context.Context, userID int64) (string, error)

	GetProperty(ctx context.Context, userID, id int64) (*model.Property, error)
	ListProperties(ctx context.Context, userID int64) ([]model.Property, error)

	// CreateProperty inserts p unless the user already has an active
	// property with the same GA4 id (ErrDuplicate) or already has limit
	// active properties (ErrLimitReached). The checks and the insert are
	// atomic per user. limit <= 0 means no limit.
	CreateProperty(ctx context.Context, p *model.Property, limit int) error
	DeactivateProperty(ctx context.Context, userID, id int64) error
	SetDefaultProperty(ctx context.Context, userID, id int64) error

	// SyncDiscoveredProperties marks every property of the user inactive and
	// then re-activates or inserts the discovered ones. When the user ends
	// up without an active default the first discovered property becomes it.
	SyncDiscoveredProperties(ctx context.Context, userID int64, found []model.DiscoveredProperty) error
}

type APIKeyRepository interface {
	// FindActiveKey looks a key up by its value. Inactive keys and keys
	// whose owner is inactive are reported as apperror.ErrNotFound. The
	// bound property, when present and active, is attached to the key.
	FindActiveKey(ctx context.Context, key string) (*model.APIKey, *model.User, error)
	TouchKey(ctx context.Context, id int64, at time.Time) error

	// CreateKey inserts k unless its owner already has limit active keys
	// (ErrLimitReached). The count and the insert are atomic per user.
	// limit <= 0 means no limit.
	CreateKey(ctx context.Context, k *model.APIKey, limit int) error
	ListKeys(ctx context.Context, userID int64) ([]model.APIKey, error)
	DeactivateKey(ctx context.Context, userID, id int64) error
}

type UsageRepository interface {
	InsertUsage(ctx context.Context, entry *model.UsageLog) error
}
