// Package ga4 queries the Google Analytics 4 Data API on behalf of a
// resolved identity and shapes the rows into response records.
package ga4

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	analyticsdata "google.golang.org/api/analyticsdata/v1beta"
	"google.golang.org/api/option"

	"github.com/darwin7381/ga4-realtime-api/internal/apperror"
	"github.com/darwin7381/ga4-realtime-api/internal/auth"
)

// Client is the part of the Data API the service uses. Property ids are
// the bare numeric ids; the client adds the "properties/" prefix.
type Client interface {
	RunReport(ctx context.Context, propertyID string, req *analyticsdata.RunReportRequest) (*analyticsdata.RunReportResponse, error)
	RunRealtimeReport(ctx context.Context, propertyID string, req *analyticsdata.RunRealtimeReportRequest) (*analyticsdata.RunRealtimeReportResponse, error)
	BatchRunReports(ctx context.Context, propertyID string, req *analyticsdata.BatchRunReportsRequest) (*analyticsdata.BatchRunReportsResponse, error)
}

// ClientFactory returns a Client carrying the right credential for an
// identity.
type ClientFactory interface {
	ForIdentity(ctx context.Context, id auth.Identity) (Client, error)
}

type dataClient struct {
	svc *analyticsdata.Service
}

func propertyName(id string) string {
	return "properties/" + id
}

func (c *dataClient) RunReport(ctx context.Context, propertyID string, req *analyticsdata.RunReportRequest) (*analyticsdata.RunReportResponse, error) {
	return c.svc.Properties.RunReport(propertyName(propertyID), req).Context(ctx).Do()
}

func (c *dataClient) RunRealtimeReport(ctx context.Context, propertyID string, req *analyticsdata.RunRealtimeReportRequest) (*analyticsdata.RunRealtimeReportResponse, error) {
	return c.svc.Properties.RunRealtimeReport(propertyName(propertyID), req).Context(ctx).Do()
}

func (c *dataClient) BatchRunReports(ctx context.Context, propertyID string, req *analyticsdata.BatchRunReportsRequest) (*analyticsdata.BatchRunReportsResponse, error) {
	return c.svc.Properties.BatchRunReports(propertyName(propertyID), req).Context(ctx).Do()
}

// GoogleClients builds Data API clients. OAuth identities get a client
// bound to their own access token; key identities share one client built
// from the service account.
type GoogleClients struct {
	serviceAccount Client
	opts           []option.ClientOption
}

// NewGoogleClients parses the service account JSON (may be empty) and
// prepares the shared client. Extra options apply to every client and
// exist mainly for pointing tests at a fake endpoint.
func NewGoogleClients(ctx context.Context, serviceAccountJSON string, opts ...option.ClientOption) (*GoogleClients, error) {
	g := &GoogleClients{opts: opts}
	if serviceAccountJSON == "" {
		return g, nil
	}

	creds, err := google.CredentialsFromJSON(ctx, []byte(serviceAccountJSON), analyticsdata.AnalyticsReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("ga4: parsing service account: %w", err)
	}
	svc, err := analyticsdata.NewService(ctx, g.with(option.WithCredentials(creds))...)
	if err != nil {
		return nil, fmt.Errorf("ga4: creating data client: %w", err)
	}
	g.serviceAccount = &dataClient{svc: svc}
	return g, nil
}

// ServiceAccountConfigured reports whether key identities can be served.
func (g *GoogleClients) ServiceAccountConfigured() bool {
	return g.serviceAccount != nil
}

// with returns the shared options plus extra without aliasing g.opts.
func (g *GoogleClients) with(extra ...option.ClientOption) []option.ClientOption {
	out := make([]option.ClientOption, 0, len(g.opts)+len(extra))
	return append(append(out, g.opts...), extra...)
}

func (g *GoogleClients) ForIdentity(ctx context.Context, id auth.Identity) (Client, error) {
	switch v := id.(type) {
	case auth.OAuthIdentity:
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: v.AccessToken, TokenType: "Bearer"})
		svc, err := analyticsdata.NewService(ctx, g.with(option.WithTokenSource(ts))...)
		if err != nil {
			return nil, fmt.Errorf("ga4: creating data client: %w", err)
		}
		return &dataClient{svc: svc}, nil

	case auth.UserKeyIdentity, auth.StaticKeyIdentity:
		if g.serviceAccount == nil {
			return nil, apperror.ServiceUnavailable("GA4 service account is not configured")
		}
		return g.serviceAccount, nil

	default:
		return nil, fmt.Errorf("ga4: unsupported identity %T", id)
	}
}
