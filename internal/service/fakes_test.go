package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/darwin7381/ga4-realtime-api/internal/apperror"
	"github.com/darwin7381/ga4-realtime-api/internal/auth"
	"github.com/darwin7381/ga4-realtime-api/internal/model"
	"github.com/darwin7381/ga4-realtime-api/internal/repository"
)

// =========================================================================
// IN-MEMORY FAKES
// =========================================================================
//
// One fakeStore implements every repository interface the services use.
// It mirrors the sqlstore semantics that matter here (soft deletes,
// owner scoping, newest-first listing) without any SQL.

type fakeStore struct {
	users  map[int64]*model.User
	tokens []*model.OAuthToken
	props  []*model.Property
	keys   []*model.APIKey
	nextID int64

	syncErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: map[int64]*model.User{}}
}

func (f *fakeStore) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) UpsertUserByEmail(_ context.Context, email, name string) (*model.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			u.Name = name
			u.IsActive = true
			return u, nil
		}
	}
	u := &model.User{ID: f.id(), Email: email, Name: name, IsActive: true}
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeStore) GetUser(_ context.Context, id int64) (*model.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", strconv.FormatInt(id, 10))
	}
	return u, nil
}

func (f *fakeStore) FindActiveToken(_ context.Context, access string) (*model.OAuthToken, *model.User, error) {
	for _, t := range f.tokens {
		if t.AccessToken == access && !t.IsRevoked {
			return t, f.users[t.UserID], nil
		}
	}
	return nil, nil, apperror.NotFound("token", "")
}

func (f *fakeStore) ReplaceToken(_ context.Context, tok *model.OAuthToken) error {
	for _, t := range f.tokens {
		if t.UserID == tok.UserID {
			t.IsRevoked = true
		}
	}
	tok.ID = f.id()
	if tok.TokenType == "" {
		tok.TokenType = "Bearer"
	}
	f.tokens = append(f.tokens, tok)
	return nil
}

func (f *fakeStore) active(userID int64) []*model.Property {
	var out []*model.Property
	for _, p := range f.props {
		if p.UserID == userID && p.IsActive {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakeStore) ResolveProperty(_ context.Context, userID int64) (string, error) {
	props := f.active(userID)
	for _, p := range props {
		if p.IsDefault {
			return p.PropertyID, nil
		}
	}
	if len(props) > 0 {
		return props[0].PropertyID, nil
	}
	return "", nil
}

func (f *fakeStore) GetProperty(_ context.Context, userID, id int64) (*model.Property, error) {
	for _, p := range f.active(userID) {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, apperror.NotFound("property", strconv.FormatInt(id, 10))
}

func (f *fakeStore) ListProperties(_ context.Context, userID int64) ([]model.Property, error) {
	out := []model.Property{}
	for _, p := range f.active(userID) {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (f *fakeStore) CreateProperty(_ context.Context, p *model.Property, limit int) error {
	active := f.active(p.UserID)
	for _, existing := range active {
		if existing.PropertyID == p.PropertyID {
			return repository.ErrDuplicate
		}
	}
	if limit > 0 && len(active) >= limit {
		return repository.ErrLimitReached
	}
	p.ID = f.id()
	p.IsActive = true
	f.props = append(f.props, p)
	return nil
}

func (f *fakeStore) DeactivateProperty(ctx context.Context, userID, id int64) error {
	p, err := f.GetProperty(ctx, userID, id)
	if err != nil {
		return err
	}
	p.IsActive = false
	p.IsDefault = false
	return nil
}

func (f *fakeStore) SetDefaultProperty(ctx context.Context, userID, id int64) error {
	target, err := f.GetProperty(ctx, userID, id)
	if err != nil {
		return err
	}
	for _, p := range f.props {
		if p.UserID == userID {
			p.IsDefault = false
		}
	}
	target.IsDefault = true
	return nil
}

func (f *fakeStore) SyncDiscoveredProperties(_ context.Context, userID int64, found []model.DiscoveredProperty) error {
	if f.syncErr != nil {
		return f.syncErr
	}
	for _, p := range f.props {
		if p.UserID == userID {
			p.IsActive = false
		}
	}
	for _, d := range found {
		var match *model.Property
		for _, p := range f.props {
			if p.UserID == userID && p.PropertyID == d.PropertyID {
				match = p
			}
		}
		if match == nil {
			match = &model.Property{ID: f.id(), UserID: userID, PropertyID: d.PropertyID}
			f.props = append(f.props, match)
		}
		match.PropertyName = d.DisplayName
		match.IsActive = true
	}
	hasDefault := false
	for _, p := range f.active(userID) {
		hasDefault = hasDefault || p.IsDefault
	}
	if !hasDefault && len(found) > 0 {
		for _, p := range f.active(userID) {
			if p.PropertyID == found[0].PropertyID {
				p.IsDefault = true
			}
		}
	}
	return nil
}

func (f *fakeStore) FindActiveKey(_ context.Context, key string) (*model.APIKey, *model.User, error) {
	for _, k := range f.keys {
		if k.Key == key && k.IsActive {
			return k, f.users[k.UserID], nil
		}
	}
	return nil, nil, apperror.NotFound("api key", "")
}

func (f *fakeStore) TouchKey(_ context.Context, id int64, at time.Time) error {
	for _, k := range f.keys {
		if k.ID == id {
			k.LastUsedAt = &at
			return nil
		}
	}
	return apperror.NotFound("api key", strconv.FormatInt(id, 10))
}

func (f *fakeStore) CreateKey(ctx context.Context, k *model.APIKey, limit int) error {
	if keys, _ := f.ListKeys(ctx, k.UserID); limit > 0 && len(keys) >= limit {
		return repository.ErrLimitReached
	}
	k.ID = f.id()
	k.IsActive = true
	f.keys = append(f.keys, k)
	return nil
}

func (f *fakeStore) ListKeys(_ context.Context, userID int64) ([]model.APIKey, error) {
	out := []model.APIKey{}
	for i := len(f.keys) - 1; i >= 0; i-- {
		if k := f.keys[i]; k.UserID == userID && k.IsActive {
			out = append(out, *k)
		}
	}
	return out, nil
}

func (f *fakeStore) DeactivateKey(_ context.Context, userID, id int64) error {
	for _, k := range f.keys {
		if k.ID == id && k.UserID == userID && k.IsActive {
			k.IsActive = false
			return nil
		}
	}
	return apperror.NotFound("api key", strconv.FormatInt(id, 10))
}

// fakeExchanger plays Google's token endpoint.
type fakeExchanger struct {
	token   *oauth2.Token
	profile *auth.GoogleUser
	err     error
	gotCode string
}

func (f *fakeExchanger) Exchange(_ context.Context, code string) (*oauth2.Token, *auth.GoogleUser, error) {
	f.gotCode = code
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.token, f.profile, nil
}

type fakeDiscoverer struct {
	found []model.DiscoveredProperty
	err   error
	token string
}

func (f *fakeDiscoverer) ListProperties(_ context.Context, accessToken string) ([]model.DiscoveredProperty, error) {
	f.token = accessToken
	return f.found, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}
