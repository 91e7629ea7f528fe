package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/user/shortlink/internal/models"
	"github.com/user/shortlink/internal/repository"
)

// UserService exposes account reads to the authenticated surface.
type UserService struct {
	users repository.UserStore
	log   zerolog.Logger
}

func NewUserService(users repository.UserStore, log zerolog.Logger) *UserService {
	return &UserService{users: users, log: log}
}

// Me returns the caller's own profile.
func (s *UserService) Me(ctx context.Context, userID uuid.UUID) (*models.MeResponse, *Error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load user")
		return nil, NotFound("User not found")
	}

	return &models.MeResponse{
		ID:              user.ID,
		Email:           user.Email,
		DisplayName:     user.DisplayName,
		IsEmailVerified: user.IsEmailVerified,
		CreatedAt:       user.CreatedAt,
		LastLoginAt:     user.LastLoginAt,
	}, nil
}
