package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/darwin7381/ga4-realtime-api/internal/apperror"
)

// Version is reported by / and /health.
const Version = "2.0.0"

// Pinger checks a backing store. *sqlstore.DB implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SystemStatus is the static part of the health report, filled in by the
// server from its configuration.
type SystemStatus struct {
	OAuthEnabled              bool
	OAuthConfigured           bool
	APIKeyEnabled             bool
	StaticKeys                int
	DefaultPropertyConfigured bool
	ServiceAccountConfigured  bool
	// RateLimitBackend is "memory" or "redis".
	RateLimitBackend string
	Database         string
}

// SystemHandler serves the unauthenticated service endpoints.
type SystemHandler struct {
	db     Pinger
	status SystemStatus
	logger *slog.Logger
	now    func() time.Time
}

func NewSystemHandler(db Pinger, status SystemStatus, logger *slog.Logger) *SystemHandler {
	return &SystemHandler{db: db, status: status, logger: logger, now: time.Now}
}

// HandleRoot serves GET /.
func (h *SystemHandler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "GA4 Realtime API Service",
		"version": Version,
		"status":  "running",
		"health":  "/health",
		"features": map[string]bool{
			"oauth_authentication":   h.status.OAuthEnabled && h.status.OAuthConfigured,
			"api_key_authentication": h.status.APIKeyEnabled,
			"realtime_analytics":     true,
			"historical_analytics":   true,
			"multi_tenant":           true,
		},
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// HandleHealth serves GET /health.
//
// HEALTH vs LIVENESS:
// The endpoint always answers 200 while the process runs. A failed check
// turns the status to "degraded" instead of returning an error status, so a
// missing service account does not get the pod restarted in a loop.
func (h *SystemHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	database := "healthy"
	if err := h.db.Ping(ctx); err != nil {
		h.logger.Warn("health: database ping failed", slog.String("error", err.Error()))
		database = "unavailable"
	}

	var missing []string
	if h.status.APIKeyEnabled && !h.status.ServiceAccountConfigured {
		missing = append(missing, "SERVICE_ACCOUNT_JSON")
	}
	if h.status.StaticKeys > 0 && !h.status.DefaultPropertyConfigured {
		missing = append(missing, "GA4_PROPERTY_ID")
	}
	if h.status.OAuthEnabled && !h.status.OAuthConfigured {
		missing = append(missing, "GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET")
	}
	authAvailable := h.status.APIKeyEnabled || (h.status.OAuthEnabled && h.status.OAuthConfigured)

	status := "healthy"
	if database != "healthy" || len(missing) > 0 || !authAvailable {
		status = "degraded"
	}

	oauth := "disabled"
	if h.status.OAuthEnabled {
		oauth = "enabled"
		if !h.status.OAuthConfigured {
			oauth = "unconfigured"
		}
	}

	if missing == nil {
		missing = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   status,
		"version":  Version,
		"database": database,
		"oauth":    oauth,
		"checks": map[string]any{
			"database_backend":           h.status.Database,
			"api_key_mode":               h.status.APIKeyEnabled,
			"static_keys_loaded":         h.status.StaticKeys,
			"ga4_property_configured":    h.status.DefaultPropertyConfigured,
			"service_account_configured": h.status.ServiceAccountConfigured,
			"rate_limit_backend":         h.status.RateLimitBackend,
			"authentication_available":   authAvailable,
		},
		"environment": map[string]any{
			"missing_variables": missing,
			"configured":        len(missing) == 0,
		},
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// HandleNotFound renders unknown routes in the common error shape.
func HandleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteError(w, r, &apperror.AppError{Err: apperror.ErrNotFound, Message: "endpoint not found"})
}

func HandleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{
		Error:      "method not allowed",
		StatusCode: http.StatusMethodNotAllowed,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Path:       r.URL.Path,
	})
}
