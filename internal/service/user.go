package service

import (
	"context"
	"fmt"

	"github.com/darwin7381/ga4-realtime-api/internal/model"
	"github.com/darwin7381/ga4-realtime-api/internal/repository"
)

type UserService struct {
	users      repository.UserRepository
	properties repository.PropertyRepository
}

func NewUserService(users repository.UserRepository, properties repository.PropertyRepository) *UserService {
	return &UserService{users: users, properties: properties}
}

// UserInfo is a user together with the properties they can query.
type UserInfo struct {
	User       *model.User
	Properties []model.Property
}

func (s *UserService) Info(ctx context.Context, userID int64) (*UserInfo, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	props, err := s.properties.ListProperties(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/user: listing properties: %w", err)
	}
	return &UserInfo{User: user, Properties: props}, nil
}
