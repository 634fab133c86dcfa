package ga4

import (
	analyticsdata "google.golang.org/api/analyticsdata/v1beta"
)

func dims(names ...string) []*analyticsdata.Dimension {
	out := make([]*analyticsdata.Dimension, len(names))
	for i, n := range names {
		out[i] = &analyticsdata.Dimension{Name: n}
	}
	return out
}

func metrics(names ...string) []*analyticsdata.Metric {
	out := make([]*analyticsdata.Metric, len(names))
	for i, n := range names {
		out[i] = &analyticsdata.Metric{Name: n}
	}
	return out
}

func byMetricDesc(name string) []*analyticsdata.OrderBy {
	return []*analyticsdata.OrderBy{{Desc: true, Metric: &analyticsdata.MetricOrderBy{MetricName: name}}}
}

func byDimensionAsc(name string) []*analyticsdata.OrderBy {
	return []*analyticsdata.OrderBy{{Dimension: &analyticsdata.DimensionOrderBy{DimensionName: name}}}
}

func dateRanges(r DateRange) []*analyticsdata.DateRange {
	return []*analyticsdata.DateRange{{StartDate: r.Start, EndDate: r.End}}
}

func activeUsersRequest() *analyticsdata.RunRealtimeReportRequest {
	return &analyticsdata.RunRealtimeReportRequest{
		Metrics: metrics("activeUsers"),
	}
}

func realtimeOverviewRequest() *analyticsdata.RunRealtimeReportRequest {
	return &analyticsdata.RunRealtimeReportRequest{
		Dimensions: dims("country", "deviceCategory"),
		Metrics:    metrics("activeUsers", "screenPageViews", "eventCount"),
		Limit:      10,
	}
}

// The realtime API has no pagePath dimension; unifiedScreenName is the
// closest it offers.
func realtimeTopPagesRequest(limit int) *analyticsdata.RunRealtimeReportRequest {
	return &analyticsdata.RunRealtimeReportRequest{
		Dimensions: dims("unifiedScreenName"),
		Metrics:    metrics("activeUsers", "screenPageViews"),
		OrderBys:   byMetricDesc("activeUsers"),
		Limit:      int64(limit),
	}
}

func trafficSourcesRequest(r DateRange) *analyticsdata.RunReportRequest {
	return &analyticsdata.RunReportRequest{
		DateRanges: dateRanges(r),
		Dimensions: dims("sessionDefaultChannelGroup", "sessionSource", "sessionMedium"),
		Metrics:    metrics("sessions", "totalUsers", "newUsers", "bounceRate"),
		OrderBys:   byMetricDesc("sessions"),
		Limit:      20,
	}
}

func pageViewsRequest(r DateRange) *analyticsdata.RunReportRequest {
	return &analyticsdata.RunReportRequest{
		DateRanges: dateRanges(r),
		Dimensions: dims("pagePath", "pageTitle"),
		Metrics:    metrics("screenPageViews", "sessions", "averageSessionDuration", "bounceRate"),
		OrderBys:   byMetricDesc("screenPageViews"),
		Limit:      20,
	}
}

func devicesRequest(r DateRange) *analyticsdata.RunReportRequest {
	return &analyticsdata.RunReportRequest{
		DateRanges: dateRanges(r),
		Dimensions: dims("deviceCategory", "operatingSystem", "browser"),
		Metrics:    metrics("totalUsers", "sessions", "bounceRate", "averageSessionDuration"),
		OrderBys:   byMetricDesc("totalUsers"),
		Limit:      15,
	}
}

func geographicRequest(r DateRange) *analyticsdata.RunReportRequest {
	return &analyticsdata.RunReportRequest{
		DateRanges: dateRanges(r),
		Dimensions: dims("country", "city"),
		Metrics:    metrics("totalUsers", "sessions", "screenPageViews"),
		OrderBys:   byMetricDesc("totalUsers"),
		Limit:      20,
	}
}

func topPagesRequest(r DateRange, limit int) *analyticsdata.RunReportRequest {
	return &analyticsdata.RunReportRequest{
		DateRanges: dateRanges(r),
		Dimensions: dims("pagePath", "pageTitle", "fullPageUrl"),
		Metrics:    metrics("screenPageViews", "totalUsers", "sessions", "averageSessionDuration", "bounceRate"),
		OrderBys:   byMetricDesc("screenPageViews"),
		Limit:      int64(limit),
	}
}

func searchTermsRequest(r DateRange, limit int) *analyticsdata.RunReportRequest {
	return &analyticsdata.RunReportRequest{
		DateRanges: dateRanges(r),
		Dimensions: dims("searchTerm"),
		Metrics:    metrics("eventCount", "totalUsers"),
		OrderBys:   byMetricDesc("eventCount"),
		Limit:      int64(limit),
	}
}

func performanceRequest(r DateRange, limit int) *analyticsdata.RunReportRequest {
	return &analyticsdata.RunReportRequest{
		DateRanges: dateRanges(r),
		Dimensions: dims("pagePath"),
		Metrics:    metrics("screenPageViews", "averageSessionDuration", "bounceRate", "engagementRate"),
		OrderBys:   byMetricDesc("screenPageViews"),
		Limit:      int64(limit),
	}
}

func pagePathFilter(path string) *analyticsdata.FilterExpression {
	return &analyticsdata.FilterExpression{
		Filter: &analyticsdata.Filter{
			FieldName:    "pagePath",
			StringFilter: &analyticsdata.StringFilter{MatchType: "EXACT", Value: path},
		},
	}
}

// singlePageRequest batches the four reports behind the single-page view
// so the whole page costs one API call. Report order: summary, daily,
// traffic sources, devices.
func singlePageRequest(path string, r DateRange) *analyticsdata.BatchRunReportsRequest {
	filter := pagePathFilter(path)
	return &analyticsdata.BatchRunReportsRequest{
		Requests: []*analyticsdata.RunReportRequest{
			{
				DateRanges:      dateRanges(r),
				Dimensions:      dims("pageTitle"),
				Metrics:         metrics("screenPageViews", "totalUsers", "sessions", "newUsers", "bounceRate", "engagementRate", "averageSessionDuration"),
				DimensionFilter: filter,
			},
			{
				DateRanges:      dateRanges(r),
				Dimensions:      dims("date"),
				Metrics:         metrics("screenPageViews", "totalUsers", "sessions"),
				DimensionFilter: filter,
				OrderBys:        byDimensionAsc("date"),
			},
			{
				DateRanges:      dateRanges(r),
				Dimensions:      dims("sessionDefaultChannelGroup", "sessionSource"),
				Metrics:         metrics("sessions", "totalUsers"),
				DimensionFilter: filter,
				OrderBys:        byMetricDesc("sessions"),
				Limit:           10,
			},
			{
				DateRanges:      dateRanges(r),
				Dimensions:      dims("deviceCategory", "operatingSystem"),
				Metrics:         metrics("totalUsers", "sessions"),
				DimensionFilter: filter,
				OrderBys:        byMetricDesc("totalUsers"),
				Limit:           10,
			},
		},
	}
}
