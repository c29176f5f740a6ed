package user

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dkosyrev/authgate/internal/models"
	"github.com/dkosyrev/authgate/internal/repository"
)

// UserService covers the user directory: listing, lookup and deletion.
// Authorization (who may delete whom) is the transport layer's concern.
type UserService struct {
	userRepo repository.UserRepo
}

func NewService(userRepo repository.UserRepo) *UserService {
	return &UserService{userRepo: userRepo}
}

func (s *UserService) ListUsers(ctx context.Context) ([]models.User, error) {
	users, err := s.userRepo.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("can't list users. Err: %w", err)
	}

	return users, nil
}

func (s *UserService) GetUser(ctx context.Context, userID uuid.UUID) (models.User, error) {
	return s.userRepo.GetUserByID(ctx, userID)
}

func (s *UserService) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	return s.userRepo.DeleteUser(ctx, userID)
}
