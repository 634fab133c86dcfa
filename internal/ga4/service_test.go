package ga4

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	analyticsdata "google.golang.org/api/analyticsdata/v1beta"

	"github.com/darwin7381/ga4-realtime-api/internal/apperror"
	"github.com/darwin7381/ga4-realtime-api/internal/auth"
)

// fakeClient records every request and answers with canned responses.
type fakeClient struct {
	property string
	calls    int

	report   *analyticsdata.RunReportRequest
	realtime *analyticsdata.RunRealtimeReportRequest
	batch    *analyticsdata.BatchRunReportsRequest

	reportResp   *analyticsdata.RunReportResponse
	realtimeResp *analyticsdata.RunRealtimeReportResponse
	batchResp    *analyticsdata.BatchRunReportsResponse
	err          error

	deadline bool
}

func (c *fakeClient) RunReport(ctx context.Context, propertyID string, req *analyticsdata.RunReportRequest) (*analyticsdata.RunReportResponse, error) {
	c.calls++
	c.property, c.report = propertyID, req
	_, c.deadline = ctx.Deadline()
	if c.err != nil {
		return nil, c.err
	}
	if c.reportResp == nil {
		return &analyticsdata.RunReportResponse{}, nil
	}
	return c.reportResp, nil
}

func (c *fakeClient) RunRealtimeReport(ctx context.Context, propertyID string, req *analyticsdata.RunRealtimeReportRequest) (*analyticsdata.RunRealtimeReportResponse, error) {
	c.calls++
	c.property, c.realtime = propertyID, req
	_, c.deadline = ctx.Deadline()
	if c.err != nil {
		return nil, c.err
	}
	if c.realtimeResp == nil {
		return &analyticsdata.RunRealtimeReportResponse{}, nil
	}
	return c.realtimeResp, nil
}

func (c *fakeClient) BatchRunReports(ctx context.Context, propertyID string, req *analyticsdata.BatchRunReportsRequest) (*analyticsdata.BatchRunReportsResponse, error) {
	c.calls++
	c.property, c.batch = propertyID, req
	_, c.deadline = ctx.Deadline()
	if c.err != nil {
		return nil, c.err
	}
	if c.batchResp == nil {
		return &analyticsdata.BatchRunReportsResponse{}, nil
	}
	return c.batchResp, nil
}

type fakeFactory struct {
	client *fakeClient
	err    error
	got    auth.Identity
}

func (f *fakeFactory) ForIdentity(_ context.Context, id auth.Identity) (Client, error) {
	f.got = id
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}

func newTestService(t *testing.T) (*Service, *fakeClient, *fakeFactory) {
	t.Helper()
	client := &fakeClient{}
	factory := &fakeFactory{client: client}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(factory, 5*time.Second, logger), client, factory
}

var joey = auth.StaticKeyIdentity{Alias: "joey", Property: "123456"}

func TestService_ActiveUsers(t *testing.T) {
	svc, client, factory := newTestService(t)
	client.realtimeResp = &analyticsdata.RunRealtimeReportResponse{Rows: []*analyticsdata.Row{row(nil, "17")}}

	n, err := svc.ActiveUsers(context.Background(), joey)
	require.NoError(t, err)

	assert.Equal(t, int64(17), n)
	assert.Equal(t, 1, client.calls)
	assert.Equal(t, "123456", client.property)
	assert.Equal(t, joey, factory.got)
	assert.True(t, client.deadline, "query must carry a timeout")
	require.Len(t, client.realtime.Metrics, 1)
	assert.Equal(t, "activeUsers", client.realtime.Metrics[0].Name)
}

func TestService_EmptyPropertyIsRejectedBeforeCalling(t *testing.T) {
	svc, client, _ := newTestService(t)

	_, err := svc.TrafficSources(context.Background(), auth.StaticKeyIdentity{Alias: "joey"}, DefaultDateRange)

	assert.ErrorIs(t, err, apperror.ErrValidation)
	assert.Zero(t, client.calls)
}

func TestService_UpstreamErrorsAreWrapped(t *testing.T) {
	svc, client, _ := newTestService(t)
	client.err = errors.New("googleapi: Error 403: permission denied")

	_, err := svc.Devices(context.Background(), joey, DefaultDateRange)

	require.ErrorIs(t, err, apperror.ErrUpstream)
	assert.Equal(t, "GA4 request failed", err.Error())
}

func TestService_TimeoutIsReported(t *testing.T) {
	svc, client, _ := newTestService(t)
	client.err = context.DeadlineExceeded

	_, err := svc.PageViews(context.Background(), joey, DefaultDateRange)

	require.ErrorIs(t, err, apperror.ErrUpstream)
	assert.Equal(t, "GA4 request timed out", err.Error())
}

func TestService_FactoryErrorPassesThrough(t *testing.T) {
	svc, client, factory := newTestService(t)
	factory.err = apperror.ServiceUnavailable("GA4 service account is not configured")

	_, err := svc.RealtimeOverview(context.Background(), joey)

	assert.ErrorIs(t, err, apperror.ErrServiceUnavailable)
	assert.Zero(t, client.calls)
}

func TestService_LimitValidation(t *testing.T) {
	svc, client, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.TopPages(ctx, joey, DefaultDateRange, 0)
	assert.ErrorIs(t, err, apperror.ErrValidation)
	_, err = svc.RealtimeTopPages(ctx, joey, MaxLimit+1)
	assert.ErrorIs(t, err, apperror.ErrValidation)
	_, err = svc.SearchTerms(ctx, joey, DefaultDateRange, -3)
	assert.ErrorIs(t, err, apperror.ErrValidation)
	assert.Zero(t, client.calls)

	_, err = svc.Performance(ctx, joey, DefaultDateRange, MaxLimit)
	require.NoError(t, err)
	assert.Equal(t, int64(MaxLimit), client.report.Limit)
}

func TestService_ReportQueriesUseTheDateRange(t *testing.T) {
	svc, client, _ := newTestService(t)
	ctx := context.Background()
	r := DateRange{Start: "2025-06-01", End: "2025-06-30"}

	queries := map[string]func() error{
		"traffic":      func() error { _, err := svc.TrafficSources(ctx, joey, r); return err },
		"pageviews":    func() error { _, err := svc.PageViews(ctx, joey, r); return err },
		"devices":      func() error { _, err := svc.Devices(ctx, joey, r); return err },
		"geographic":   func() error { _, err := svc.Geographic(ctx, joey, r); return err },
		"top pages":    func() error { _, err := svc.TopPages(ctx, joey, r, 10); return err },
		"search terms": func() error { _, err := svc.SearchTerms(ctx, joey, r, 10); return err },
		"performance":  func() error { _, err := svc.Performance(ctx, joey, r, 10); return err },
	}
	for name, run := range queries {
		t.Run(name, func(t *testing.T) {
			client.report = nil
			require.NoError(t, run())
			require.NotNil(t, client.report)
			require.Len(t, client.report.DateRanges, 1)
			assert.Equal(t, "2025-06-01", client.report.DateRanges[0].StartDate)
			assert.Equal(t, "2025-06-30", client.report.DateRanges[0].EndDate)
		})
	}
	assert.Equal(t, len(queries), client.calls, "one upstream call per query")
}

func TestService_SinglePage(t *testing.T) {
	svc, client, _ := newTestService(t)
	client.batchResp = &analyticsdata.BatchRunReportsResponse{Reports: []*analyticsdata.RunReportResponse{
		{Rows: []*analyticsdata.Row{row(d("Hello"), "10", "8", "9", "2", "0.1", "0.55", "40")}},
	}}

	got, err := svc.SinglePage(context.Background(), joey, "https://blog.example.com/hello?utm=x", DefaultDateRange)
	require.NoError(t, err)

	require.True(t, got.Found)
	assert.Equal(t, "/hello", got.Data.PagePath)
	assert.Equal(t, "B", got.Data.Summary.PerformanceGrade)
	assert.Equal(t, 1, client.calls)
	require.Len(t, client.batch.Requests, 4)
	for _, req := range client.batch.Requests {
		assert.Equal(t, "/hello", req.DimensionFilter.Filter.StringFilter.Value)
		assert.Equal(t, "EXACT", req.DimensionFilter.Filter.StringFilter.MatchType)
	}
}

func TestService_SinglePage_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t)

	got, err := svc.SinglePage(context.Background(), joey, "/nothing-here", DefaultDateRange)
	require.NoError(t, err)
	assert.False(t, got.Found)
}

func TestService_SinglePage_BadPath(t *testing.T) {
	svc, client, _ := newTestService(t)

	_, err := svc.SinglePage(context.Background(), joey, "", DefaultDateRange)
	assert.ErrorIs(t, err, apperror.ErrValidation)
	assert.Zero(t, client.calls)
}

func TestNormalizePagePath(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "/blog/post", want: "/blog/post"},
		{raw: "  /trim  ", want: "/trim"},
		{raw: "https://example.com/a/b?c=d#e", want: "/a/b"},
		{raw: "http://example.com", want: "/"},
		{raw: "", wantErr: true},
		{raw: "blog/post", wantErr: true},
		{raw: "https:///nohost", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := NormalizePagePath(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, apperror.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDateRange_String(t *testing.T) {
	assert.Equal(t, "7daysAgo to today", DefaultDateRange.String())
}
