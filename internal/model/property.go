package model

import "time"

// Property binds a GA4 property to a user. PropertyID is the numeric id
// Google assigns ("123456789"); ID is our row id.
type Property struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"-"`
	PropertyID   string    `json:"property_id"`
	PropertyName string    `json:"property_name"`
	WebsiteURL   string    `json:"website_url"`
	IsDefault    bool      `json:"is_default"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DiscoveredProperty is a GA4 property found through the Admin API.
type DiscoveredProperty struct {
	PropertyID  string `json:"property_id"`
	DisplayName string `json:"display_name"`
	Account     string `json:"account"`
}

// APIKey is a per-user generated key, optionally scoped to one of the
// owner's properties. Deletion only clears IsActive.
type APIKey struct {
	ID          int64
	UserID      int64
	PropertyRef *int64 // ga4_properties.id, nil when unbound
	Name        string
	Description string
	Key         string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastUsedAt  *time.Time

	// Property is filled by queries that join the bound property.
	Property *Property
}

// UsageLog is one audited API request.
type UsageLog struct {
	ID             int64
	UserID         *int64
	Caller         string
	Endpoint       string
	Method         string
	StatusCode     int
	ResponseTimeMS int64
	UserAgent      string
	IPAddress      string
	ErrorMessage   string
	CreatedAt      time.Time
}
