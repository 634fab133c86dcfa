package ga4

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	analyticsdata "google.golang.org/api/analyticsdata/v1beta"
)

// row builds a response row from dimension and metric values.
func row(dimValues []string, metricValues ...string) *analyticsdata.Row {
	r := &analyticsdata.Row{}
	for _, d := range dimValues {
		r.DimensionValues = append(r.DimensionValues, &analyticsdata.DimensionValue{Value: d})
	}
	for _, m := range metricValues {
		r.MetricValues = append(r.MetricValues, &analyticsdata.MetricValue{Value: m})
	}
	return r
}

func d(values ...string) []string { return values }

func TestShapeActiveUsers(t *testing.T) {
	assert.Equal(t, int64(0), shapeActiveUsers(&analyticsdata.RunRealtimeReportResponse{}))
	assert.Equal(t, int64(0), shapeActiveUsers(nil))
	assert.Equal(t, int64(42), shapeActiveUsers(&analyticsdata.RunRealtimeReportResponse{
		Rows: []*analyticsdata.Row{row(nil, "42")},
	}))
}

func TestShapeRealtimeOverview(t *testing.T) {
	resp := &analyticsdata.RunRealtimeReportResponse{Rows: []*analyticsdata.Row{
		row(d("Taiwan", "mobile"), "10", "30", "50"),
		row(d("Taiwan", "desktop"), "4", "8", "9"),
		row(d("Japan", "mobile"), "6", "7", "8"),
		row(d("US", "tablet"), "1", "1", "1"),
		row(d("UK", "mobile"), "2", "2", "2"),
		row(d("France", "mobile"), "3", "3", "3"),
		row(d("Korea", "mobile"), "5", "5", "5"),
	}}

	got := shapeRealtimeOverview(resp)

	assert.Equal(t, int64(31), got.ActiveUsers)
	assert.Equal(t, int64(56), got.PageViews)
	assert.Equal(t, int64(78), got.Events)

	require.Len(t, got.TopCountries, 5)
	assert.Equal(t, NamedCount{Name: "Taiwan", Users: 10}, got.TopCountries[0], "first row per country wins")
	assert.Equal(t, "Japan", got.TopCountries[1].Name)
	assert.Equal(t, "Korea", got.TopCountries[2].Name)

	assert.Equal(t, []NamedCount{
		{Name: "mobile", Users: 10},
		{Name: "desktop", Users: 4},
		{Name: "tablet", Users: 1},
	}, got.DeviceBreakdown)
}

func TestShapeRealtimeOverview_Empty(t *testing.T) {
	got := shapeRealtimeOverview(&analyticsdata.RunRealtimeReportResponse{})
	assert.Zero(t, got.ActiveUsers)
	assert.NotNil(t, got.TopCountries)
	assert.Empty(t, got.TopCountries)
	assert.NotNil(t, got.DeviceBreakdown)
}

func TestShapeRealtimeTopPages_MissingNameUsesPlaceholder(t *testing.T) {
	got := shapeRealtimeTopPages(&analyticsdata.RunRealtimeReportResponse{Rows: []*analyticsdata.Row{
		row(d("Home"), "5", "9"),
		row(d(""), "1", "2"),
		row(nil, "1", "1"),
	}})

	require.Len(t, got, 3)
	assert.Equal(t, RealtimePage{ScreenName: "Home", ActiveUsers: 5, PageViews: 9}, got[0])
	assert.Equal(t, unknownTitle, got[1].ScreenName)
	assert.Equal(t, unknownTitle, got[2].ScreenName)
}

func TestShapeTrafficSources(t *testing.T) {
	got := shapeTrafficSources(&analyticsdata.RunReportResponse{Rows: []*analyticsdata.Row{
		row(d("Organic Search", "google", "organic"), "120", "100", "80", "0.45678"),
	}})

	require.Len(t, got, 1)
	assert.Equal(t, TrafficSource{
		ChannelGroup: "Organic Search",
		Source:       "google",
		Medium:       "organic",
		Sessions:     120,
		TotalUsers:   100,
		NewUsers:     80,
		BounceRate:   45.68,
	}, got[0])
}

func TestShapePageViews(t *testing.T) {
	got := shapePageViews(&analyticsdata.RunReportResponse{Rows: []*analyticsdata.Row{
		row(d("/", "Home"), "100", "60", "35.1234", "0.5"),
		row(d("/about", ""), "20", "15", "12", "0.25"),
	}})

	assert.Equal(t, PageViewsSummary{TotalPageViews: 120, TotalUniqueViews: 75, TotalPages: 2}, got.Summary)
	require.Len(t, got.TopPages, 2)
	assert.Equal(t, 35.12, got.TopPages[0].AvgSessionDuration)
	assert.Equal(t, 50.0, got.TopPages[0].BounceRate)
	assert.Equal(t, unknownTitle, got.TopPages[1].Title)
}

func TestShapeDevicesAndGeographic(t *testing.T) {
	devices := shapeDevices(&analyticsdata.RunReportResponse{Rows: []*analyticsdata.Row{
		row(d("mobile", "iOS", "Safari"), "50", "70", "0.3", "61.556"),
	}})
	require.Len(t, devices, 1)
	assert.Equal(t, DeviceStat{
		DeviceCategory: "mobile", OperatingSystem: "iOS", Browser: "Safari",
		TotalUsers: 50, Sessions: 70, BounceRate: 30, AvgSessionDuration: 61.56,
	}, devices[0])

	locations := shapeGeographic(&analyticsdata.RunReportResponse{Rows: []*analyticsdata.Row{
		row(d("Taiwan", "Taipei"), "40", "55", "200"),
	}})
	assert.Equal(t, []Location{{Country: "Taiwan", City: "Taipei", TotalUsers: 40, Sessions: 55, PageViews: 200}}, locations)

	assert.Empty(t, shapeDevices(&analyticsdata.RunReportResponse{}))
	assert.NotNil(t, shapeGeographic(nil))
}

func TestShapeTopPagesAndSearchTerms(t *testing.T) {
	pages := shapeTopPages(&analyticsdata.RunReportResponse{Rows: []*analyticsdata.Row{
		row(d("/post/1", "Post", "https://blog.example.com/post/1"), "300", "210", "250", "48.2", "0.123"),
	}})
	require.Len(t, pages, 1)
	assert.Equal(t, "https://blog.example.com/post/1", pages[0].FullURL)
	assert.Equal(t, 12.3, pages[0].BounceRate)

	terms := shapeSearchTerms(&analyticsdata.RunReportResponse{Rows: []*analyticsdata.Row{
		row(d("golang"), "17", "9"),
	}})
	assert.Equal(t, []SearchTerm{{Term: "golang", SearchCount: 17, Users: 9}}, terms)
}

func TestShapePerformance(t *testing.T) {
	got := shapePerformance(&analyticsdata.RunReportResponse{Rows: []*analyticsdata.Row{
		row(d("/a"), "100", "30", "0.4", "0.6"),
		row(d("/b"), "50", "10", "0.2", "0.8"),
	}})

	assert.Equal(t, PerformanceSummary{AvgSessionDuration: 20, AvgBounceRate: 30, AvgEngagementRate: 70}, got.Summary)
	require.Len(t, got.Pages, 2)
	assert.Equal(t, PagePerformance{PagePath: "/a", PageViews: 100, AvgSessionDuration: 30, BounceRate: 40, EngagementRate: 60}, got.Pages[0])

	empty := shapePerformance(&analyticsdata.RunReportResponse{})
	assert.Equal(t, PerformanceSummary{}, empty.Summary)
	assert.NotNil(t, empty.Pages)
}

func TestPerformanceGrade(t *testing.T) {
	tests := []struct {
		pct  float64
		want string
	}{
		{100, "A"}, {70, "A"}, {69.99, "B"}, {50, "B"}, {30, "C"}, {29.9, "D"}, {0, "D"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, performanceGrade(tt.pct), "engagement %.2f", tt.pct)
	}
}

func TestShapeSinglePage(t *testing.T) {
	resp := &analyticsdata.BatchRunReportsResponse{Reports: []*analyticsdata.RunReportResponse{
		{Rows: []*analyticsdata.Row{row(d("My Post"), "500", "320", "400", "120", "0.35", "0.72", "95.456")}},
		{Rows: []*analyticsdata.Row{
			row(d("20250601"), "200", "150", "180"),
			row(d("20250602"), "300", "170", "220"),
		}},
		{Rows: []*analyticsdata.Row{row(d("Organic Search", "google"), "250", "200")}},
		{Rows: []*analyticsdata.Row{row(d("mobile", "Android"), "180", "210")}},
	}}

	got := shapeSinglePage("/post/1", resp)
	require.True(t, got.Found)
	data := got.Data

	assert.Equal(t, "/post/1", data.PagePath)
	assert.Equal(t, "My Post", data.PageTitle)
	assert.Equal(t, PageSummary{
		TotalPageViews:     500,
		TotalUsers:         320,
		TotalSessions:      400,
		NewUsers:           120,
		AvgBounceRate:      35,
		AvgEngagementRate:  72,
		AvgSessionDuration: 95.46,
		PerformanceGrade:   "A",
	}, data.Summary)
	assert.Equal(t, []DailyStat{
		{Date: "2025-06-01", PageViews: 200, Users: 150, Sessions: 180},
		{Date: "2025-06-02", PageViews: 300, Users: 170, Sessions: 220},
	}, data.DailyBreakdown)
	assert.Equal(t, []PageTrafficSource{{ChannelGroup: "Organic Search", Source: "google", Sessions: 250, Users: 200}}, data.TrafficSources)
	assert.Equal(t, []PageDevice{{DeviceCategory: "mobile", OperatingSystem: "Android", Users: 180, Sessions: 210}}, data.DeviceBreakdown)
}

func TestShapeSinglePage_NotFound(t *testing.T) {
	got := shapeSinglePage("/missing", &analyticsdata.BatchRunReportsResponse{Reports: []*analyticsdata.RunReportResponse{{}, {}, {}, {}}})
	assert.False(t, got.Found)
	assert.Nil(t, got.Data)

	assert.False(t, shapeSinglePage("/missing", nil).Found)
}

func TestMetricParsing(t *testing.T) {
	r := row(nil, "12.0", "abc", "0.5")
	assert.Equal(t, int64(12), metricInt(r, 0))
	assert.Equal(t, int64(0), metricInt(r, 1))
	assert.Equal(t, int64(0), metricInt(r, 9), "out of range")
	assert.Equal(t, 0.5, metricFloat(r, 2))
	assert.Equal(t, 0.0, metricFloat(r, 9))
}

func TestFormatDate(t *testing.T) {
	assert.Equal(t, "2025-06-01", formatDate("20250601"))
	assert.Equal(t, "(other)", formatDate("(other)"))
}
