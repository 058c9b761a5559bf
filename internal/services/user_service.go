package services

import (
	"context"

	"cirsqu_api/internal/clock"
	"cirsqu_api/internal/models"
)

// AccountService exposes the signed-in user's account
type AccountService struct {
	users UserRepository
	clock clock.Clock
}

func NewAccountService(users UserRepository, clk clock.Clock) *AccountService {
	return &AccountService{users: users, clock: clk}
}

// Provision creates or refreshes the local user for a verified identity
func (s *AccountService) Provision(ctx context.Context, uid, email, name string) (*models.User, error) {
	return s.users.UpsertByFirebaseUID(ctx, uid, email, name)
}

// ResolveUID maps an identity provider uid to the local user
func (s *AccountService) ResolveUID(ctx context.Context, uid string) (*models.User, error) {
	return s.users.FindByFirebaseUID(ctx, uid)
}

func (s *AccountService) Profile(ctx context.Context, userID uint) (models.Profile, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return models.Profile{}, err
	}
	return user.ToProfile(s.clock.Now()), nil
}

// List returns every user's profile as seen now, for admins
func (s *AccountService) List(ctx context.Context) ([]models.Profile, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	profiles := make([]models.Profile, 0, len(users))
	for _, u := range users {
		profiles = append(profiles, u.ToProfile(now))
	}
	return profiles, nil
}
