package domain

import "time"

// User is a registered account. PasswordHash is a bcrypt digest; Token is
// the opaque bearer credential issued at login.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Token        string
	CreatedAt    time.Time
}

// Favorite is a book a user has saved. At most one entry per (user, book).
type Favorite struct {
	UserID    string
	BookID    string
	Title     string
	CreatedAt time.Time
}
