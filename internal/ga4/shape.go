package ga4

import (
	"math"
	"sort"
	"strconv"
	"time"

	analyticsdata "google.golang.org/api/analyticsdata/v1beta"
)

const unknownTitle = "unknown title"

// Row accessors are positional and tolerate short rows: a missing
// dimension yields the fallback, a missing or unparsable metric yields 0.

func dimension(row *analyticsdata.Row, i int, fallback string) string {
	if i < len(row.DimensionValues) && row.DimensionValues[i] != nil && row.DimensionValues[i].Value != "" {
		return row.DimensionValues[i].Value
	}
	return fallback
}

func metricInt(row *analyticsdata.Row, i int) int64 {
	if i >= len(row.MetricValues) || row.MetricValues[i] == nil {
		return 0
	}
	v := row.MetricValues[i].Value
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	// some integer metrics come back as "12.0"
	f, _ := strconv.ParseFloat(v, 64)
	return int64(f)
}

func metricFloat(row *analyticsdata.Row, i int) float64 {
	if i >= len(row.MetricValues) || row.MetricValues[i] == nil {
		return 0
	}
	f, _ := strconv.ParseFloat(row.MetricValues[i].Value, 64)
	return f
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// percent turns a GA4 ratio (0..1) into a rounded percentage.
func percent(f float64) float64 {
	return round2(f * 100)
}

func shapeActiveUsers(resp *analyticsdata.RunRealtimeReportResponse) int64 {
	if resp == nil || len(resp.Rows) == 0 {
		return 0
	}
	return metricInt(resp.Rows[0], 0)
}

func shapeRealtimeOverview(resp *analyticsdata.RunRealtimeReportResponse) *RealtimeOverview {
	out := &RealtimeOverview{TopCountries: []NamedCount{}, DeviceBreakdown: []NamedCount{}}
	if resp == nil {
		return out
	}

	seenCountry := map[string]bool{}
	seenDevice := map[string]bool{}
	for _, row := range resp.Rows {
		users := metricInt(row, 0)
		out.ActiveUsers += users
		out.PageViews += metricInt(row, 1)
		out.Events += metricInt(row, 2)

		// the first row for a name carries its count
		if c := dimension(row, 0, ""); !seenCountry[c] {
			seenCountry[c] = true
			out.TopCountries = append(out.TopCountries, NamedCount{Name: c, Users: users})
		}
		if d := dimension(row, 1, ""); !seenDevice[d] {
			seenDevice[d] = true
			out.DeviceBreakdown = append(out.DeviceBreakdown, NamedCount{Name: d, Users: users})
		}
	}

	sort.SliceStable(out.TopCountries, func(i, j int) bool {
		return out.TopCountries[i].Users > out.TopCountries[j].Users
	})
	if len(out.TopCountries) > 5 {
		out.TopCountries = out.TopCountries[:5]
	}
	return out
}

func shapeRealtimeTopPages(resp *analyticsdata.RunRealtimeReportResponse) []RealtimePage {
	pages := []RealtimePage{}
	if resp == nil {
		return pages
	}
	for _, row := range resp.Rows {
		pages = append(pages, RealtimePage{
			ScreenName:  dimension(row, 0, unknownTitle),
			ActiveUsers: metricInt(row, 0),
			PageViews:   metricInt(row, 1),
		})
	}
	return pages
}

func shapeTrafficSources(resp *analyticsdata.RunReportResponse) []TrafficSource {
	out := []TrafficSource{}
	if resp == nil {
		return out
	}
	for _, row := range resp.Rows {
		out = append(out, TrafficSource{
			ChannelGroup: dimension(row, 0, ""),
			Source:       dimension(row, 1, ""),
			Medium:       dimension(row, 2, ""),
			Sessions:     metricInt(row, 0),
			TotalUsers:   metricInt(row, 1),
			NewUsers:     metricInt(row, 2),
			BounceRate:   percent(metricFloat(row, 3)),
		})
	}
	return out
}

func shapePageViews(resp *analyticsdata.RunReportResponse) *PageViewsReport {
	out := &PageViewsReport{TopPages: []PageViewsPage{}}
	if resp == nil {
		return out
	}
	for _, row := range resp.Rows {
		p := PageViewsPage{
			Path:               dimension(row, 0, ""),
			Title:              dimension(row, 1, unknownTitle),
			PageViews:          metricInt(row, 0),
			Sessions:           metricInt(row, 1),
			AvgSessionDuration: round2(metricFloat(row, 2)),
			BounceRate:         percent(metricFloat(row, 3)),
		}
		out.Summary.TotalPageViews += p.PageViews
		out.Summary.TotalUniqueViews += p.Sessions
		out.TopPages = append(out.TopPages, p)
	}
	out.Summary.TotalPages = len(out.TopPages)
	return out
}

func shapeDevices(resp *analyticsdata.RunReportResponse) []DeviceStat {
	out := []DeviceStat{}
	if resp == nil {
		return out
	}
	for _, row := range resp.Rows {
		out = append(out, DeviceStat{
			DeviceCategory:     dimension(row, 0, ""),
			OperatingSystem:    dimension(row, 1, ""),
			Browser:            dimension(row, 2, ""),
			TotalUsers:         metricInt(row, 0),
			Sessions:           metricInt(row, 1),
			BounceRate:         percent(metricFloat(row, 2)),
			AvgSessionDuration: round2(metricFloat(row, 3)),
		})
	}
	return out
}

func shapeGeographic(resp *analyticsdata.RunReportResponse) []Location {
	out := []Location{}
	if resp == nil {
		return out
	}
	for _, row := range resp.Rows {
		out = append(out, Location{
			Country:    dimension(row, 0, ""),
			City:       dimension(row, 1, ""),
			TotalUsers: metricInt(row, 0),
			Sessions:   metricInt(row, 1),
			PageViews:  metricInt(row, 2),
		})
	}
	return out
}

func shapeTopPages(resp *analyticsdata.RunReportResponse) []TopPage {
	out := []TopPage{}
	if resp == nil {
		return out
	}
	for _, row := range resp.Rows {
		out = append(out, TopPage{
			PagePath:           dimension(row, 0, ""),
			PageTitle:          dimension(row, 1, unknownTitle),
			FullURL:            dimension(row, 2, ""),
			PageViews:          metricInt(row, 0),
			TotalUsers:         metricInt(row, 1),
			Sessions:           metricInt(row, 2),
			AvgSessionDuration: round2(metricFloat(row, 3)),
			BounceRate:         percent(metricFloat(row, 4)),
		})
	}
	return out
}

func shapeSearchTerms(resp *analyticsdata.RunReportResponse) []SearchTerm {
	out := []SearchTerm{}
	if resp == nil {
		return out
	}
	for _, row := range resp.Rows {
		out = append(out, SearchTerm{
			Term:        dimension(row, 0, ""),
			SearchCount: metricInt(row, 0),
			Users:       metricInt(row, 1),
		})
	}
	return out
}

func shapePerformance(resp *analyticsdata.RunReportResponse) *PerformanceReport {
	out := &PerformanceReport{Pages: []PagePerformance{}}
	if resp == nil || len(resp.Rows) == 0 {
		return out
	}

	var duration, bounce, engagement float64
	for _, row := range resp.Rows {
		d, b, e := metricFloat(row, 1), metricFloat(row, 2), metricFloat(row, 3)
		duration += d
		bounce += b
		engagement += e
		out.Pages = append(out.Pages, PagePerformance{
			PagePath:           dimension(row, 0, ""),
			PageViews:          metricInt(row, 0),
			AvgSessionDuration: round2(d),
			BounceRate:         percent(b),
			EngagementRate:     percent(e),
		})
	}

	n := float64(len(resp.Rows))
	out.Summary = PerformanceSummary{
		AvgSessionDuration: round2(duration / n),
		AvgBounceRate:      percent(bounce / n),
		AvgEngagementRate:  percent(engagement / n),
	}
	return out
}

// performanceGrade rates a page by its engagement rate in percent.
func performanceGrade(engagementPct float64) string {
	switch {
	case engagementPct >= 70:
		return "A"
	case engagementPct >= 50:
		return "B"
	case engagementPct >= 30:
		return "C"
	default:
		return "D"
	}
}

// shapeSinglePage assembles the batch response of singlePageRequest.
func shapeSinglePage(path string, resp *analyticsdata.BatchRunReportsResponse) SinglePageResult {
	if resp == nil || len(resp.Reports) == 0 || resp.Reports[0] == nil || len(resp.Reports[0].Rows) == 0 {
		return SinglePageResult{}
	}
	report := func(i int) []*analyticsdata.Row {
		if i < len(resp.Reports) && resp.Reports[i] != nil {
			return resp.Reports[i].Rows
		}
		return nil
	}

	data := &PageData{
		PagePath:        path,
		PageTitle:       unknownTitle,
		DailyBreakdown:  []DailyStat{},
		TrafficSources:  []PageTrafficSource{},
		DeviceBreakdown: []PageDevice{},
	}

	summaryRows := report(0)
	var bounce, engagement, duration float64
	for i, row := range summaryRows {
		if i == 0 {
			data.PageTitle = dimension(row, 0, unknownTitle)
		}
		data.Summary.TotalPageViews += metricInt(row, 0)
		data.Summary.TotalUsers += metricInt(row, 1)
		data.Summary.TotalSessions += metricInt(row, 2)
		data.Summary.NewUsers += metricInt(row, 3)
		bounce += metricFloat(row, 4)
		engagement += metricFloat(row, 5)
		duration += metricFloat(row, 6)
	}
	n := float64(len(summaryRows))
	data.Summary.AvgBounceRate = percent(bounce / n)
	data.Summary.AvgEngagementRate = percent(engagement / n)
	data.Summary.AvgSessionDuration = round2(duration / n)
	data.Summary.PerformanceGrade = performanceGrade(data.Summary.AvgEngagementRate)

	for _, row := range report(1) {
		data.DailyBreakdown = append(data.DailyBreakdown, DailyStat{
			Date:      formatDate(dimension(row, 0, "")),
			PageViews: metricInt(row, 0),
			Users:     metricInt(row, 1),
			Sessions:  metricInt(row, 2),
		})
	}
	for _, row := range report(2) {
		data.TrafficSources = append(data.TrafficSources, PageTrafficSource{
			ChannelGroup: dimension(row, 0, ""),
			Source:       dimension(row, 1, ""),
			Sessions:     metricInt(row, 0),
			Users:        metricInt(row, 1),
		})
	}
	for _, row := range report(3) {
		data.DeviceBreakdown = append(data.DeviceBreakdown, PageDevice{
			DeviceCategory:  dimension(row, 0, ""),
			OperatingSystem: dimension(row, 1, ""),
			Users:           metricInt(row, 0),
			Sessions:        metricInt(row, 1),
		})
	}

	return SinglePageResult{Found: true, Data: data}
}

// formatDate turns GA4's YYYYMMDD into YYYY-MM-DD, leaving anything else
// untouched.
func formatDate(s string) string {
	t, err := time.Parse("20060102", s)
	if err != nil {
		return s
	}
	return t.Format("2006-01-02")
}
