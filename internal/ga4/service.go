package ga4

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	analyticsdata "google.golang.org/api/analyticsdata/v1beta"

	"github.com/darwin7381/ga4-realtime-api/internal/apperror"
	"github.com/darwin7381/ga4-realtime-api/internal/auth"
)

// MaxLimit caps the row limit callers may ask for.
const MaxLimit = 250

// Service runs the analytics queries. Every query is exactly one Data API
// request bounded by the configured timeout.
type Service struct {
	clients ClientFactory
	timeout time.Duration
	logger  *slog.Logger
}

func NewService(clients ClientFactory, timeout time.Duration, logger *slog.Logger) *Service {
	return &Service{clients: clients, timeout: timeout, logger: logger}
}

// call is one prepared query: the client for the identity and the property
// to run against.
type call struct {
	client   Client
	property string
}

func (s *Service) prepare(ctx context.Context, id auth.Identity) (*call, error) {
	property := id.GA4Property()
	if property == "" {
		return nil, apperror.ValidationFailed("property_id",
			"no GA4 property configured for this caller; add a property or set GA4_PROPERTY_ID")
	}
	client, err := s.clients.ForIdentity(ctx, id)
	if err != nil {
		return nil, err
	}
	return &call{client: client, property: property}, nil
}

// upstream logs a failed Data API call and hides its details from callers.
func (s *Service) upstream(ctx context.Context, query string, id auth.Identity, err error) error {
	s.logger.Warn("ga4 query failed",
		slog.String("query", query),
		slog.String("caller", id.Name()),
		slog.String("property_id", id.GA4Property()),
		slog.String("error", err.Error()),
	)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperror.Upstream("GA4 request timed out", err)
	}
	return apperror.Upstream("GA4 request failed", err)
}

func (s *Service) realtime(ctx context.Context, id auth.Identity, query string, req *analyticsdata.RunRealtimeReportRequest) (*analyticsdata.RunRealtimeReportResponse, error) {
	c, err := s.prepare(ctx, id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := c.client.RunRealtimeReport(ctx, c.property, req)
	if err != nil {
		return nil, s.upstream(ctx, query, id, err)
	}
	return resp, nil
}

func (s *Service) report(ctx context.Context, id auth.Identity, query string, req *analyticsdata.RunReportRequest) (*analyticsdata.RunReportResponse, error) {
	c, err := s.prepare(ctx, id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := c.client.RunReport(ctx, c.property, req)
	if err != nil {
		return nil, s.upstream(ctx, query, id, err)
	}
	return resp, nil
}

func validateLimit(limit int) error {
	if limit < 1 || limit > MaxLimit {
		return apperror.ValidationFailed("limit", fmt.Sprintf("limit must be between 1 and %d", MaxLimit))
	}
	return nil
}

func (s *Service) ActiveUsers(ctx context.Context, id auth.Identity) (int64, error) {
	resp, err := s.realtime(ctx, id, "active_users", activeUsersRequest())
	if err != nil {
		return 0, err
	}
	return shapeActiveUsers(resp), nil
}

func (s *Service) RealtimeOverview(ctx context.Context, id auth.Identity) (*RealtimeOverview, error) {
	resp, err := s.realtime(ctx, id, "realtime_overview", realtimeOverviewRequest())
	if err != nil {
		return nil, err
	}
	return shapeRealtimeOverview(resp), nil
}

func (s *Service) RealtimeTopPages(ctx context.Context, id auth.Identity, limit int) ([]RealtimePage, error) {
	if err := validateLimit(limit); err != nil {
		return nil, err
	}
	resp, err := s.realtime(ctx, id, "realtime_top_pages", realtimeTopPagesRequest(limit))
	if err != nil {
		return nil, err
	}
	return shapeRealtimeTopPages(resp), nil
}

func (s *Service) TrafficSources(ctx context.Context, id auth.Identity, r DateRange) ([]TrafficSource, error) {
	resp, err := s.report(ctx, id, "traffic_sources", trafficSourcesRequest(r))
	if err != nil {
		return nil, err
	}
	return shapeTrafficSources(resp), nil
}

func (s *Service) PageViews(ctx context.Context, id auth.Identity, r DateRange) (*PageViewsReport, error) {
	resp, err := s.report(ctx, id, "pageviews", pageViewsRequest(r))
	if err != nil {
		return nil, err
	}
	return shapePageViews(resp), nil
}

func (s *Service) Devices(ctx context.Context, id auth.Identity, r DateRange) ([]DeviceStat, error) {
	resp, err := s.report(ctx, id, "devices", devicesRequest(r))
	if err != nil {
		return nil, err
	}
	return shapeDevices(resp), nil
}

func (s *Service) Geographic(ctx context.Context, id auth.Identity, r DateRange) ([]Location, error) {
	resp, err := s.report(ctx, id, "geographic", geographicRequest(r))
	if err != nil {
		return nil, err
	}
	return shapeGeographic(resp), nil
}

func (s *Service) TopPages(ctx context.Context, id auth.Identity, r DateRange, limit int) ([]TopPage, error) {
	if err := validateLimit(limit); err != nil {
		return nil, err
	}
	resp, err := s.report(ctx, id, "top_pages", topPagesRequest(r, limit))
	if err != nil {
		return nil, err
	}
	return shapeTopPages(resp), nil
}

func (s *Service) SearchTerms(ctx context.Context, id auth.Identity, r DateRange, limit int) ([]SearchTerm, error) {
	if err := validateLimit(limit); err != nil {
		return nil, err
	}
	resp, err := s.report(ctx, id, "search_terms", searchTermsRequest(r, limit))
	if err != nil {
		return nil, err
	}
	return shapeSearchTerms(resp), nil
}

func (s *Service) Performance(ctx context.Context, id auth.Identity, r DateRange, limit int) (*PerformanceReport, error) {
	if err := validateLimit(limit); err != nil {
		return nil, err
	}
	resp, err := s.report(ctx, id, "performance", performanceRequest(r, limit))
	if err != nil {
		return nil, err
	}
	return shapePerformance(resp), nil
}

// SinglePage reports on one page path. A full URL is accepted and reduced
// to its path.
func (s *Service) SinglePage(ctx context.Context, id auth.Identity, pagePath string, r DateRange) (SinglePageResult, error) {
	path, err := NormalizePagePath(pagePath)
	if err != nil {
		return SinglePageResult{}, err
	}

	c, err := s.prepare(ctx, id)
	if err != nil {
		return SinglePageResult{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := c.client.BatchRunReports(ctx, c.property, singlePageRequest(path, r))
	if err != nil {
		return SinglePageResult{}, s.upstream(ctx, "single_page", id, err)
	}
	return shapeSinglePage(path, resp), nil
}

// NormalizePagePath validates a page_path parameter. "https://x.com/a?b"
// becomes "/a"; a bare path must start with "/".
func NormalizePagePath(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", apperror.ValidationFailed("page_path", "page_path is required")
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return "", apperror.ValidationFailed("page_path", "page_path is not a valid URL")
		}
		if u.Path == "" {
			return "/", nil
		}
		return u.Path, nil
	}
	if !strings.HasPrefix(raw, "/") {
		return "", apperror.ValidationFailed("page_path", "page_path must start with /")
	}
	return raw, nil
}
