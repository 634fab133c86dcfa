package ga4

// Response records. Field names follow the JSON the HTTP API has always
// returned, so they are camelCase rather than the snake_case of the
// envelope.

type DateRange struct {
	Start string
	End   string
}

// DefaultDateRange is the last seven days, in GA4's relative date syntax.
var DefaultDateRange = DateRange{Start: "7daysAgo", End: "today"}

func (d DateRange) String() string {
	return d.Start + " to " + d.End
}

type NamedCount struct {
	Name  string `json:"name"`
	Users int64  `json:"users"`
}

type RealtimeOverview struct {
	ActiveUsers     int64        `json:"activeUsers"`
	PageViews       int64        `json:"pageViews"`
	Events          int64        `json:"events"`
	TopCountries    []NamedCount `json:"topCountries"`
	DeviceBreakdown []NamedCount `json:"deviceBreakdown"`
}

type RealtimePage struct {
	ScreenName  string `json:"screenName"`
	ActiveUsers int64  `json:"activeUsers"`
	PageViews   int64  `json:"pageViews"`
}

type TrafficSource struct {
	ChannelGroup string  `json:"channelGroup"`
	Source       string  `json:"source"`
	Medium       string  `json:"medium"`
	Sessions     int64   `json:"sessions"`
	TotalUsers   int64   `json:"totalUsers"`
	NewUsers     int64   `json:"newUsers"`
	BounceRate   float64 `json:"bounceRate"`
}

type PageViewsSummary struct {
	TotalPageViews   int64 `json:"totalPageViews"`
	TotalUniqueViews int64 `json:"totalUniqueViews"`
	TotalPages       int   `json:"totalPages"`
}

type PageViewsPage struct {
	Path               string  `json:"path"`
	Title              string  `json:"title"`
	PageViews          int64   `json:"pageViews"`
	Sessions           int64   `json:"sessions"`
	AvgSessionDuration float64 `json:"avgSessionDuration"`
	BounceRate         float64 `json:"bounceRate"`
}

type PageViewsReport struct {
	Summary  PageViewsSummary `json:"summary"`
	TopPages []PageViewsPage  `json:"topPages"`
}

type DeviceStat struct {
	DeviceCategory     string  `json:"deviceCategory"`
	OperatingSystem    string  `json:"operatingSystem"`
	Browser            string  `json:"browser"`
	TotalUsers         int64   `json:"totalUsers"`
	Sessions           int64   `json:"sessions"`
	BounceRate         float64 `json:"bounceRate"`
	AvgSessionDuration float64 `json:"avgSessionDuration"`
}

type Location struct {
	Country    string `json:"country"`
	City       string `json:"city"`
	TotalUsers int64  `json:"totalUsers"`
	Sessions   int64  `json:"sessions"`
	PageViews  int64  `json:"pageViews"`
}

type TopPage struct {
	PagePath           string  `json:"pagePath"`
	PageTitle          string  `json:"pageTitle"`
	FullURL            string  `json:"fullUrl"`
	PageViews          int64   `json:"pageViews"`
	TotalUsers         int64   `json:"totalUsers"`
	Sessions           int64   `json:"sessions"`
	AvgSessionDuration float64 `json:"avgSessionDuration"`
	BounceRate         float64 `json:"bounceRate"`
}

type SearchTerm struct {
	Term        string `json:"searchTerm"`
	SearchCount int64  `json:"searchCount"`
	Users       int64  `json:"users"`
}

type PerformanceSummary struct {
	AvgSessionDuration float64 `json:"avgSessionDuration"`
	AvgBounceRate      float64 `json:"avgBounceRate"`
	AvgEngagementRate  float64 `json:"avgEngagementRate"`
}

type PagePerformance struct {
	PagePath           string  `json:"pagePath"`
	PageViews          int64   `json:"pageViews"`
	AvgSessionDuration float64 `json:"avgSessionDuration"`
	BounceRate         float64 `json:"bounceRate"`
	EngagementRate     float64 `json:"engagementRate"`
}

type PerformanceReport struct {
	Summary PerformanceSummary `json:"summary"`
	Pages   []PagePerformance  `json:"pages"`
}

type PageSummary struct {
	TotalPageViews     int64   `json:"totalPageViews"`
	TotalUsers         int64   `json:"totalUsers"`
	TotalSessions      int64   `json:"totalSessions"`
	NewUsers           int64   `json:"newUsers"`
	AvgBounceRate      float64 `json:"avgBounceRate"`
	AvgEngagementRate  float64 `json:"avgEngagementRate"`
	AvgSessionDuration float64 `json:"avgSessionDuration"`
	PerformanceGrade   string  `json:"performanceGrade"`
}

type DailyStat struct {
	Date      string `json:"date"`
	PageViews int64  `json:"pageViews"`
	Users     int64  `json:"users"`
	Sessions  int64  `json:"sessions"`
}

type PageTrafficSource struct {
	ChannelGroup string `json:"channelGroup"`
	Source       string `json:"source"`
	Sessions     int64  `json:"sessions"`
	Users        int64  `json:"users"`
}

type PageDevice struct {
	DeviceCategory  string `json:"deviceCategory"`
	OperatingSystem string `json:"operatingSystem"`
	Users           int64  `json:"users"`
	Sessions        int64  `json:"sessions"`
}

type PageData struct {
	PagePath        string              `json:"pagePath"`
	PageTitle       string              `json:"pageTitle"`
	Summary         PageSummary         `json:"summary"`
	DailyBreakdown  []DailyStat         `json:"dailyBreakdown"`
	TrafficSources  []PageTrafficSource `json:"trafficSources"`
	DeviceBreakdown []PageDevice        `json:"deviceBreakdown"`
}

// SinglePageResult is the outcome of a single-page query. Found is false
// when GA4 has no rows for the path in the range.
type SinglePageResult struct {
	Found bool
	Data  *PageData
}
