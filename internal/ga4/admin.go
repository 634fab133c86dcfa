package ga4

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	analyticsadmin "google.golang.org/api/analyticsadmin/v1beta"
	"google.golang.org/api/option"

	"github.com/darwin7381/ga4-realtime-api/internal/model"
)

// PropertyLister discovers the GA4 properties a Google user can read,
// through the Admin API account summaries.
type PropertyLister struct {
	timeout time.Duration
	opts    []option.ClientOption
}

// NewPropertyLister builds a lister whose whole listing, every page
// included, must finish within timeout.
func NewPropertyLister(timeout time.Duration, opts ...option.ClientOption) *PropertyLister {
	return &PropertyLister{timeout: timeout, opts: opts}
}

func (l *PropertyLister) ListProperties(ctx context.Context, accessToken string) ([]model.DiscoveredProperty, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	opts := make([]option.ClientOption, 0, len(l.opts)+1)
	opts = append(append(opts, l.opts...), option.WithTokenSource(ts))

	svc, err := analyticsadmin.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ga4: creating admin client: %w", err)
	}

	var found []model.DiscoveredProperty
	err = svc.AccountSummaries.List().PageSize(200).Pages(ctx,
		func(page *analyticsadmin.GoogleAnalyticsAdminV1betaListAccountSummariesResponse) error {
			for _, acct := range page.AccountSummaries {
				found = append(found, discovered(acct)...)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("ga4: listing account summaries: %w", err)
	}
	return found, nil
}

// discovered keeps the ordinary GA4 properties of an account. Subproperties
// and roll-ups cannot be queried the same way.
func discovered(acct *analyticsadmin.GoogleAnalyticsAdminV1betaAccountSummary) []model.DiscoveredProperty {
	var out []model.DiscoveredProperty
	for _, p := range acct.PropertySummaries {
		if p.PropertyType != "" && p.PropertyType != "PROPERTY_TYPE_ORDINARY" {
			continue
		}
		id := strings.TrimPrefix(p.Property, "properties/")
		if id == "" || id == p.Property {
			continue
		}
		out = append(out, model.DiscoveredProperty{
			PropertyID:  id,
			DisplayName: p.DisplayName,
			Account:     acct.DisplayName,
		})
	}
	return out
}
