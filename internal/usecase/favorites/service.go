package favorites

import (
	"context"
	"fmt"
	"strings"

	"github.com/kailas-cloud/librarian/internal/domain"
)

// Service manages a user's saved books.
type Service struct {
	store FavoriteStore
}

// New creates a favorites service.
func New(store FavoriteStore) *Service {
	return &Service{store: store}
}

// Add saves a book for the user.
func (s *Service) Add(ctx context.Context, userID, bookID, title string) (domain.Favorite, error) {
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return domain.Favorite{}, fmt.Errorf("%w: bookId is required", domain.ErrInvalidInput)
	}

	fav := domain.Favorite{
		UserID: userID,
		BookID: bookID,
		Title:  strings.TrimSpace(title),
	}
	if err := s.store.AddFavorite(ctx, fav); err != nil {
		return domain.Favorite{}, err
	}
	return fav, nil
}

// List returns the user's saved books, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]domain.Favorite, error) {
	favs, err := s.store.ListFavorites(ctx, userID)
	if err != nil {
		return nil, err
	}
	if favs == nil {
		favs = []domain.Favorite{}
	}
	return favs, nil
}

// Remove deletes a saved book.
func (s *Service) Remove(ctx context.Context, userID, bookID string) error {
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return fmt.Errorf("%w: bookId is required", domain.ErrInvalidInput)
	}
	return s.store.RemoveFavorite(ctx, userID, bookID)
}
