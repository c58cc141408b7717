package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/kailas-cloud/librarian/internal/domain"
)

// Service issues and validates opaque bearer tokens.
type Service struct {
	users UserStore
}

// New creates an auth service.
func New(users UserStore) *Service {
	return &Service{users: users}
}

// Register creates an account. The password is stored as a bcrypt hash.
func (s *Service) Register(ctx context.Context, email, password string) (domain.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return domain.User{}, fmt.Errorf("%w: a valid email is required", domain.ErrInvalidInput)
	}
	if password == "" {
		return domain.User{}, fmt.Errorf("%w: password is required", domain.ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	u := domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		return domain.User{}, err
	}
	u.PasswordHash = ""
	return u, nil
}

// Login verifies credentials and issues a fresh bearer token, replacing any
// previous one.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	u, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("login: %w", domain.ErrUnauthorized)
		}
		return "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", fmt.Errorf("login: %w", domain.ErrUnauthorized)
	}

	token := uuid.NewString()
	if err := s.users.UpdateUserToken(ctx, u.ID, token); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	return token, nil
}

// Authenticate resolves a bearer token to the owning actor id.
func (s *Service) Authenticate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("missing token: %w", domain.ErrUnauthorized)
	}
	u, err := s.users.GetUserByToken(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("unknown token: %w", domain.ErrUnauthorized)
		}
		return "", err
	}
	return u.ID, nil
}
