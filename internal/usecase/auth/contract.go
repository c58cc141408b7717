package auth

import (
	"context"

	"github.com/kailas-cloud/librarian/internal/domain"
)

// UserStore persists accounts and their bearer tokens.
type UserStore interface {
	CreateUser(ctx context.Context, u domain.User) error
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
	GetUserByToken(ctx context.Context, token string) (domain.User, error)
	UpdateUserToken(ctx context.Context, userID, token string) error
}
