package favorites

import (
	"context"

	"github.com/kailas-cloud/librarian/internal/domain"
)

// FavoriteStore persists users' saved books.
type FavoriteStore interface {
	AddFavorite(ctx context.Context, fav domain.Favorite) error
	ListFavorites(ctx context.Context, userID string) ([]domain.Favorite, error)
	RemoveFavorite(ctx context.Context, userID, bookID string) error
}
