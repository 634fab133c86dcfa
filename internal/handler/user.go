package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/darwin7381/ga4-realtime-api/internal/apperror"
	"github.com/darwin7381/ga4-realtime-api/internal/auth"
	"github.com/darwin7381/ga4-realtime-api/internal/model"
	"github.com/darwin7381/ga4-realtime-api/internal/service"
)

type UserInfoService interface {
	Info(ctx context.Context, userID int64) (*service.UserInfo, error)
}

type KeyService interface {
	Create(ctx context.Context, userID int64, in service.CreateKeyInput) (*model.APIKey, error)
	List(ctx context.Context, userID int64) ([]model.APIKey, error)
	Delete(ctx context.Context, userID, keyID int64) error
}

type PropertyService interface {
	Add(ctx context.Context, userID int64, in service.AddPropertyInput) (*model.Property, error)
	List(ctx context.Context, userID int64) ([]model.Property, error)
	Delete(ctx context.Context, userID, id int64) error
	SetDefault(ctx context.Context, userID, id int64) (*model.Property, error)
}

// UserHandler serves the self-service account endpoints. They are only
// open to OAuth identities: an API key must not be able to mint or revoke
// other keys.
type UserHandler struct {
	users      UserInfoService
	keys       KeyService
	properties PropertyService
}

func NewUserHandler(users UserInfoService, keys KeyService, properties PropertyService) *UserHandler {
	return &UserHandler{users: users, keys: keys, properties: properties}
}

var errOAuthOnly = apperror.Forbidden("this endpoint requires OAuth authentication")

// oauthUser returns the user behind an OAuth identity.
func oauthUser(r *http.Request) (int64, error) {
	id, err := identity(r)
	if err != nil {
		return 0, err
	}
	o, ok := id.(auth.OAuthIdentity)
	if !ok {
		return 0, errOAuthOnly
	}
	return o.UserID, nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.ValidationFailed(name, name+" must be a positive integer")
	}
	return id, nil
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// HandleInfo serves GET /user/info.
func (h *UserHandler) HandleInfo(w http.ResponseWriter, r *http.Request) {
	userID, err := oauthUser(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	info, err := h.users.Info(r.Context(), userID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "success",
		"timestamp":      timestamp(),
		"user":           info.User,
		"ga4_properties": info.Properties,
	})
}

// keyView is how a key is shown. The full value appears only in the
// creation response; listings show a masked form.
type keyView struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Key         string          `json:"key"`
	PropertyID  *int64          `json:"property_id"`
	Property    *model.Property `json:"property,omitempty"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
	LastUsedAt  *time.Time      `json:"last_used_at"`
}

func viewKey(k model.APIKey, reveal bool) keyView {
	value := k.Key
	if !reveal {
		value = maskKey(value)
	}
	return keyView{
		ID:          k.ID,
		Name:        k.Name,
		Description: k.Description,
		Key:         value,
		PropertyID:  k.PropertyRef,
		Property:    k.Property,
		IsActive:    k.IsActive,
		CreatedAt:   k.CreatedAt,
		LastUsedAt:  k.LastUsedAt,
	}
}

// maskKey keeps the "ga4_" prefix plus four characters on each end.
func maskKey(k string) string {
	if len(k) <= 16 {
		return "****"
	}
	return k[:8] + "..." + k[len(k)-4:]
}

type createKeyRequest struct {
	Name        string `json:"key_name"`
	Description string `json:"description"`
	PropertyID  *int64 `json:"property_id"`
}

// HandleCreateKey serves POST /api/user/api-keys.
func (h *UserHandler) HandleCreateKey(w http.ResponseWriter, r *http.Request) {
	userID, err := oauthUser(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var req createKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	key, err := h.keys.Create(r.Context(), userID, service.CreateKeyInput{
		Name:        req.Name,
		Description: req.Description,
		PropertyRef: req.PropertyID,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"status":    "success",
		"timestamp": timestamp(),
		"message":   "API key created; store it now, it will not be shown again",
		"api_key":   viewKey(*key, true),
	})
}

// HandleListKeys serves GET /api/user/api-keys.
func (h *UserHandler) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	userID, err := oauthUser(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	keys, err := h.keys.List(r.Context(), userID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	views := make([]keyView, 0, len(keys))
	for _, k := range keys {
		views = append(views, viewKey(k, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"timestamp": timestamp(),
		"api_keys":  views,
		"total":     len(views),
	})
}

// HandleDeleteKey serves DELETE /api/user/api-keys/{key_id}.
func (h *UserHandler) HandleDeleteKey(w http.ResponseWriter, r *http.Request) {
	userID, err := oauthUser(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	keyID, err := pathID(r, "key_id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if err := h.keys.Delete(r.Context(), userID, keyID); err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"timestamp": timestamp(),
		"message":   "API key deleted",
	})
}

type addPropertyRequest struct {
	PropertyID   string `json:"property_id"`
	PropertyName string `json:"property_name"`
	WebsiteURL   string `json:"website_url"`
}

// HandleAddProperty serves POST /api/user/properties.
func (h *UserHandler) HandleAddProperty(w http.ResponseWriter, r *http.Request) {
	userID, err := oauthUser(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var req addPropertyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	p, err := h.properties.Add(r.Context(), userID, service.AddPropertyInput{
		PropertyID:   req.PropertyID,
		PropertyName: req.PropertyName,
		WebsiteURL:   req.WebsiteURL,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"status":    "success",
		"timestamp": timestamp(),
		"property":  p,
	})
}

// HandleListProperties serves GET /api/user/properties.
func (h *UserHandler) HandleListProperties(w http.ResponseWriter, r *http.Request) {
	userID, err := oauthUser(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	props, err := h.properties.List(r.Context(), userID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "success",
		"timestamp":  timestamp(),
		"properties": props,
		"total":      len(props),
	})
}

// HandleDeleteProperty serves DELETE /api/user/properties/{id}.
func (h *UserHandler) HandleDeleteProperty(w http.ResponseWriter, r *http.Request) {
	userID, err := oauthUser(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if err := h.properties.Delete(r.Context(), userID, id); err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"timestamp": timestamp(),
		"message":   "property deleted",
	})
}

// HandleSetDefaultProperty serves PUT /api/user/properties/{id}/default.
func (h *UserHandler) HandleSetDefaultProperty(w http.ResponseWriter, r *http.Request) {
	userID, err := oauthUser(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	p, err := h.properties.SetDefault(r.Context(), userID, id)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"timestamp": timestamp(),
		"property":  p,
	})
}
