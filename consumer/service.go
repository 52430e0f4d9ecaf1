package consumer

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidProfile is returned when a profile lacks the fields letters need.
var ErrInvalidProfile = errors.New("consumer: invalid profile")

// Store abstracts repository operations for the service.
type Store interface {
	GetByID(ctx context.Context, id string) (Profile, error)
	Upsert(ctx context.Context, p Profile) (Profile, error)
}

// Service exposes business-level consumer operations.
type Service struct {
	repo Store
}

// NewService builds a Service using the provided repository.
func NewService(repo Store) *Service {
	return &Service{repo: repo}
}

// GetByID returns the consumer profile for the given identifier.
func (s *Service) GetByID(ctx context.Context, id string) (Profile, error) {
	return s.repo.GetByID(ctx, id)
}

// Save validates and stores the profile.
func (s *Service) Save(ctx context.Context, p Profile) (Profile, error) {
	if strings.TrimSpace(p.FullName) == "" {
		return Profile{}, fmt.Errorf("%w: full name required", ErrInvalidProfile)
	}
	if strings.TrimSpace(p.Address) == "" {
		return Profile{}, fmt.Errorf("%w: mailing address required", ErrInvalidProfile)
	}
	return s.repo.Upsert(ctx, p)
}
