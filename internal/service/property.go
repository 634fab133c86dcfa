package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/darwin7381/ga4-realtime-api/internal/apperror"
	"github.com/darwin7381/ga4-realtime-api/internal/model"
	"github.com/darwin7381/ga4-realtime-api/internal/repository"
)

const (
	MaxPropertiesPerUser  = 20
	MaxPropertyNameLength = 200
)

// PropertyService manages the GA4 properties a user has registered, on top
// of the ones discovered at login.
type PropertyService struct {
	properties repository.PropertyRepository
	logger     *slog.Logger
}

func NewPropertyService(properties repository.PropertyRepository, logger *slog.Logger) *PropertyService {
	return &PropertyService{properties: properties, logger: logger}
}

type AddPropertyInput struct {
	PropertyID   string
	PropertyName string
	WebsiteURL   string
}

// Add registers a property by hand. The same GA4 property id cannot be
// active twice for one user.
func (s *PropertyService) Add(ctx context.Context, userID int64, in AddPropertyInput) (*model.Property, error) {
	propertyID := strings.TrimPrefix(strings.TrimSpace(in.PropertyID), "properties/")
	name := strings.TrimSpace(in.PropertyName)

	if propertyID == "" {
		return nil, apperror.ValidationFailed("property_id", "property_id is required")
	}
	if !isDigits(propertyID) {
		return nil, apperror.ValidationFailed("property_id", "property_id must be the numeric GA4 property id")
	}
	if name == "" {
		return nil, apperror.ValidationFailed("property_name", "property_name is required")
	}
	if len(name) > MaxPropertyNameLength {
		return nil, apperror.ValidationFailed("property_name",
			fmt.Sprintf("property_name must be %d characters or less", MaxPropertyNameLength))
	}

	p := &model.Property{
		UserID:       userID,
		PropertyID:   propertyID,
		PropertyName: name,
		WebsiteURL:   strings.TrimSpace(in.WebsiteURL),
	}
	err := s.properties.CreateProperty(ctx, p, MaxPropertiesPerUser)
	switch {
	case errors.Is(err, repository.ErrDuplicate):
		return nil, apperror.ValidationFailed("property_id", "property "+propertyID+" is already registered")
	case errors.Is(err, repository.ErrLimitReached):
		return nil, apperror.ValidationFailed("property_id",
			fmt.Sprintf("maximum of %d properties reached", MaxPropertiesPerUser))
	case err != nil:
		return nil, fmt.Errorf("service/property: creating property: %w", err)
	}

	s.logger.Info("property added",
		slog.Int64("userID", userID),
		slog.String("propertyID", propertyID),
	)
	return p, nil
}

func (s *PropertyService) List(ctx context.Context, userID int64) ([]model.Property, error) {
	props, err := s.properties.ListProperties(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/property: listing properties: %w", err)
	}
	return props, nil
}

func (s *PropertyService) Delete(ctx context.Context, userID, id int64) error {
	if err := s.properties.DeactivateProperty(ctx, userID, id); err != nil {
		return err
	}
	s.logger.Info("property removed", slog.Int64("userID", userID), slog.Int64("id", id))
	return nil
}

// SetDefault makes id the property requests fall back to. Exactly one
// property per user is the default afterwards.
func (s *PropertyService) SetDefault(ctx context.Context, userID, id int64) (*model.Property, error) {
	if err := s.properties.SetDefaultProperty(ctx, userID, id); err != nil {
		return nil, err
	}
	p, err := s.properties.GetProperty(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("default property changed",
		slog.Int64("userID", userID),
		slog.String("propertyID", p.PropertyID),
	)
	return p, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
