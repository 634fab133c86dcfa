package handler

import (
	"context"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/darwin7381/ga4-realtime-api/internal/apperror"
	"github.com/darwin7381/ga4-realtime-api/internal/auth"
	"github.com/darwin7381/ga4-realtime-api/internal/ga4"
)

// Analytics is the query surface the handlers need. *ga4.Service
// implements it.
type Analytics interface {
	ActiveUsers(ctx context.Context, id auth.Identity) (int64, error)
	RealtimeOverview(ctx context.Context, id auth.Identity) (*ga4.RealtimeOverview, error)
	RealtimeTopPages(ctx context.Context, id auth.Identity, limit int) ([]ga4.RealtimePage, error)
	TrafficSources(ctx context.Context, id auth.Identity, r ga4.DateRange) ([]ga4.TrafficSource, error)
	PageViews(ctx context.Context, id auth.Identity, r ga4.DateRange) (*ga4.PageViewsReport, error)
	Devices(ctx context.Context, id auth.Identity, r ga4.DateRange) ([]ga4.DeviceStat, error)
	Geographic(ctx context.Context, id auth.Identity, r ga4.DateRange) ([]ga4.Location, error)
	TopPages(ctx context.Context, id auth.Identity, r ga4.DateRange, limit int) ([]ga4.TopPage, error)
	SearchTerms(ctx context.Context, id auth.Identity, r ga4.DateRange, limit int) ([]ga4.SearchTerm, error)
	Performance(ctx context.Context, id auth.Identity, r ga4.DateRange, limit int) (*ga4.PerformanceReport, error)
	SinglePage(ctx context.Context, id auth.Identity, pagePath string, r ga4.DateRange) (ga4.SinglePageResult, error)
}

// AnalyticsHandler serves the identity-protected GA4 endpoints. Every
// route expects auth.RequireIdentity to have run.
type AnalyticsHandler struct {
	analytics Analytics
	now       func() time.Time
}

func NewAnalyticsHandler(analytics Analytics) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics, now: time.Now}
}

// envelope is the common part of every analytics response. Static keys
// have no property of their own, so property_id is omitted for them.
func (h *AnalyticsHandler) envelope(id auth.Identity) map[string]any {
	body := map[string]any{
		"user":      id.Name(),
		"user_type": string(id.Kind()),
		"timestamp": h.now().UTC().Format(time.RFC3339),
		"status":    "success",
	}
	if id.Kind() != auth.KindStaticKey {
		body["property_id"] = id.GA4Property()
	}
	return body
}

func (h *AnalyticsHandler) rangeEnvelope(id auth.Identity, r ga4.DateRange) map[string]any {
	body := h.envelope(id)
	body["dateRange"] = r.String()
	return body
}

// identity returns the caller resolved by the middleware. A missing
// identity means the route was mounted without it.
func identity(r *http.Request) (auth.Identity, error) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil, apperror.Unauthorized("authentication required")
	}
	return id, nil
}

// GA4 accepts absolute dates and a few relative forms.
var gaDate = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}|today|yesterday|\d+daysAgo)$`)

func dateRange(r *http.Request) (ga4.DateRange, error) {
	q := r.URL.Query()
	dr := ga4.DefaultDateRange
	if v := q.Get("start_date"); v != "" {
		dr.Start = v
	}
	if v := q.Get("end_date"); v != "" {
		dr.End = v
	}
	if !gaDate.MatchString(dr.Start) {
		return dr, apperror.ValidationFailed("start_date", "start_date must be YYYY-MM-DD, today, yesterday or NdaysAgo")
	}
	if !gaDate.MatchString(dr.End) {
		return dr, apperror.ValidationFailed("end_date", "end_date must be YYYY-MM-DD, today, yesterday or NdaysAgo")
	}
	return dr, nil
}

// queryLimit parses ?limit=, falling back to def. Range checks happen in
// the ga4 service.
func queryLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperror.ValidationFailed("limit", "limit must be an integer")
	}
	return n, nil
}

// HandleActiveUsers serves GET /active-users.
func (h *AnalyticsHandler) HandleActiveUsers(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	n, err := h.analytics.ActiveUsers(r.Context(), id)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	body := h.envelope(id)
	body["activeUsers"] = n
	writeJSON(w, http.StatusOK, body)
}

// HandleRealtimeOverview serves GET /realtime/overview.
func (h *AnalyticsHandler) HandleRealtimeOverview(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	data, err := h.analytics.RealtimeOverview(r.Context(), id)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	body := h.envelope(id)
	body["data"] = data
	writeJSON(w, http.StatusOK, body)
}

// HandleRealtimeTopPages serves GET /realtime/top-pages?limit=10.
func (h *AnalyticsHandler) HandleRealtimeTopPages(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	limit, err := queryLimit(r, 10)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	pages, err := h.analytics.RealtimeTopPages(r.Context(), id, limit)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	body := h.envelope(id)
	body["pages"] = pages
	writeJSON(w, http.StatusOK, body)
}

// rangeQuery is the shape shared by the date-range endpoints without a
// limit: run the query, put its result under key.
func rangeQuery[T any](h *AnalyticsHandler, key string, run func(context.Context, auth.Identity, ga4.DateRange) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := identity(r)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		dr, err := dateRange(r)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		result, err := run(r.Context(), id, dr)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		body := h.rangeEnvelope(id, dr)
		body[key] = result
		writeJSON(w, http.StatusOK, body)
	}
}

// HandleTrafficSources serves GET /analytics/traffic-sources.
func (h *AnalyticsHandler) HandleTrafficSources(w http.ResponseWriter, r *http.Request) {
	rangeQuery(h, "sources", h.analytics.TrafficSources)(w, r)
}

// HandlePageViews serves GET /analytics/pageviews.
func (h *AnalyticsHandler) HandlePageViews(w http.ResponseWriter, r *http.Request) {
	rangeQuery(h, "analytics", h.analytics.PageViews)(w, r)
}

// HandleDevices serves GET /analytics/devices.
func (h *AnalyticsHandler) HandleDevices(w http.ResponseWriter, r *http.Request) {
	rangeQuery(h, "devices", h.analytics.Devices)(w, r)
}

// HandleGeographic serves GET /analytics/geographic.
func (h *AnalyticsHandler) HandleGeographic(w http.ResponseWriter, r *http.Request) {
	rangeQuery(h, "locations", h.analytics.Geographic)(w, r)
}

// limitedRangeRequest parses what the limited date-range endpoints share.
func limitedRangeRequest(r *http.Request) (auth.Identity, ga4.DateRange, int, error) {
	id, err := identity(r)
	if err != nil {
		return nil, ga4.DateRange{}, 0, err
	}
	dr, err := dateRange(r)
	if err != nil {
		return nil, ga4.DateRange{}, 0, err
	}
	limit, err := queryLimit(r, 20)
	if err != nil {
		return nil, ga4.DateRange{}, 0, err
	}
	return id, dr, limit, nil
}

// HandleTopPages serves GET /analytics/top-pages?limit=20.
func (h *AnalyticsHandler) HandleTopPages(w http.ResponseWriter, r *http.Request) {
	id, dr, limit, err := limitedRangeRequest(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	pages, err := h.analytics.TopPages(r.Context(), id, dr, limit)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	body := h.rangeEnvelope(id, dr)
	body["pages"] = pages
	body["totalPages"] = len(pages)
	writeJSON(w, http.StatusOK, body)
}

// HandleSearchTerms serves GET /analytics/search-terms?limit=20.
func (h *AnalyticsHandler) HandleSearchTerms(w http.ResponseWriter, r *http.Request) {
	id, dr, limit, err := limitedRangeRequest(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	terms, err := h.analytics.SearchTerms(r.Context(), id, dr, limit)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	body := h.rangeEnvelope(id, dr)
	body["searchTerms"] = terms
	body["totalTerms"] = len(terms)
	writeJSON(w, http.StatusOK, body)
}

// HandlePerformance serves GET /analytics/performance?limit=20.
func (h *AnalyticsHandler) HandlePerformance(w http.ResponseWriter, r *http.Request) {
	id, dr, limit, err := limitedRangeRequest(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	report, err := h.analytics.Performance(r.Context(), id, dr, limit)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	body := h.rangeEnvelope(id, dr)
	body["performance"] = report
	writeJSON(w, http.StatusOK, body)
}

// HandleSinglePage serves GET /analytics/single-page?page_path=/blog/x.
// A page without data is a 200 with status "not_found", not an error.
func (h *AnalyticsHandler) HandleSinglePage(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	dr, err := dateRange(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	pagePath := r.URL.Query().Get("page_path")

	result, err := h.analytics.SinglePage(r.Context(), id, pagePath, dr)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	body := h.rangeEnvelope(id, dr)
	if !result.Found {
		body["status"] = "not_found"
		body["message"] = "no data found for page " + pagePath
		body["pageData"] = nil
		writeJSON(w, http.StatusOK, body)
		return
	}
	body["pageData"] = result.Data
	writeJSON(w, http.StatusOK, body)
}
