package chatstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/kailas-cloud/librarian/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	token         TEXT,
	created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	title      TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS turns (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS usage_records (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	actor_id   TEXT NOT NULL,
	operation  TEXT NOT NULL,
	units      INTEGER NOT NULL,
	cost_usd   REAL NOT NULL,
	metadata   TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS favorites (
	user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	book_id    TEXT NOT NULL,
	title      TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (user_id, book_id)
);

CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id);
CREATE INDEX IF NOT EXISTS idx_usage_actor ON usage_records(actor_id);
`

// Store persists users, chat sessions, turns and usage records in SQLite.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens the SQLite database at path.
// Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database availability.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// --- Users ---

// CreateUser inserts a new account. A duplicate email maps to
// domain.ErrAlreadyExists.
func (s *Store) CreateUser(ctx context.Context, u domain.User) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, email, password_hash, token) VALUES (?, ?, ?, ?)",
		u.ID, u.Email, u.PasswordHash, u.Token,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("email %s: %w", u.Email, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByEmail loads an account by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return s.getUser(ctx, "email = ?", email)
}

// GetUserByToken loads an account by its current bearer token.
func (s *Store) GetUserByToken(ctx context.Context, token string) (domain.User, error) {
	return s.getUser(ctx, "token = ?", token)
}

func (s *Store) getUser(ctx context.Context, where string, arg any) (domain.User, error) {
	var u domain.User
	var token sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, password_hash, token, created_at FROM users WHERE "+where, arg,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &token, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, fmt.Errorf("user: %w", domain.ErrNotFound)
		}
		return domain.User{}, fmt.Errorf("select user: %w", err)
	}
	u.Token = token.String
	return u, nil
}

// UpdateUserToken replaces the account's bearer token.
func (s *Store) UpdateUserToken(ctx context.Context, userID, token string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE users SET token = ? WHERE id = ?", token, userID)
	if err != nil {
		return fmt.Errorf("update token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}
	return nil
}

// DeleteUser removes an account. Sessions and turns cascade.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", userID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// --- Sessions and turns ---

// CreateSession inserts a new conversation thread.
func (s *Store) CreateSession(ctx context.Context, sess domain.Session) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (id, user_id, title) VALUES (?, ?, ?)",
		sess.ID, sess.UserID, sess.Title,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession loads a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (domain.Session, error) {
	var sess domain.Session
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, title, created_at FROM sessions WHERE id = ?", id,
	).Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Session{}, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
		}
		return domain.Session{}, fmt.Errorf("select session: %w", err)
	}
	return sess, nil
}

// ListRecentTurns returns the last limit turns of a session ordered
// oldest-first. A missing session yields an empty slice, not an error.
func (s *Store) ListRecentTurns(ctx context.Context, sessionID string, limit int) ([]domain.ConversationTurn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, role, content, created_at FROM (
			SELECT id, session_id, role, content, created_at
			FROM turns WHERE session_id = ?
			ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select turns: %w", err)
	}
	defer rows.Close()

	var turns []domain.ConversationTurn
	for rows.Next() {
		var t domain.ConversationTurn
		var role string
		if err := rows.Scan(&t.SessionID, &role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Role = domain.Role(role)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return turns, nil
}

// AppendTurnPair persists the user message and the assistant reply in one
// transaction so a session never ends up with a dangling half of the pair.
func (s *Store) AppendTurnPair(ctx context.Context, sessionID, userContent, assistantContent string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	const insert = "INSERT INTO turns (session_id, role, content) VALUES (?, ?, ?)"
	if _, err := tx.ExecContext(ctx, insert, sessionID, string(domain.RoleUser), userContent); err != nil {
		return fmt.Errorf("insert user turn: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insert, sessionID, string(domain.RoleAssistant), assistantContent); err != nil {
		return fmt.Errorf("insert assistant turn: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit turn pair: %w", err)
	}
	return nil
}

// --- Favorites ---

// AddFavorite saves a book for a user. Saving the same book twice maps to
// domain.ErrAlreadyExists.
func (s *Store) AddFavorite(ctx context.Context, fav domain.Favorite) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO favorites (user_id, book_id, title) VALUES (?, ?, ?)",
		fav.UserID, fav.BookID, fav.Title,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("favorite %s: %w", fav.BookID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert favorite: %w", err)
	}
	return nil
}

// ListFavorites returns a user's saved books, newest first.
func (s *Store) ListFavorites(ctx context.Context, userID string) ([]domain.Favorite, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id, book_id, title, created_at FROM favorites WHERE user_id = ? ORDER BY created_at DESC, book_id",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select favorites: %w", err)
	}
	defer rows.Close()

	var favs []domain.Favorite
	for rows.Next() {
		var f domain.Favorite
		if err := rows.Scan(&f.UserID, &f.BookID, &f.Title, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan favorite: %w", err)
		}
		favs = append(favs, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate favorites: %w", err)
	}
	return favs, nil
}

// RemoveFavorite deletes a saved book. A missing entry maps to
// domain.ErrNotFound.
func (s *Store) RemoveFavorite(ctx context.Context, userID, bookID string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM favorites WHERE user_id = ? AND book_id = ?", userID, bookID,
	)
	if err != nil {
		return fmt.Errorf("delete favorite: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("favorite %s: %w", bookID, domain.ErrNotFound)
	}
	return nil
}

// --- Usage records ---

// AppendUsage inserts one append-only accounting entry.
func (s *Store) AppendUsage(ctx context.Context, rec domain.UsageRecord) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO usage_records (actor_id, operation, units, cost_usd, metadata) VALUES (?, ?, ?, ?, ?)",
		rec.ActorID, string(rec.Operation), rec.Units, rec.CostUSD, rec.Metadata,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// SumUsage returns the total recorded cost, optionally filtered by actor
// (empty actorID sums across all actors).
func (s *Store) SumUsage(ctx context.Context, actorID string) (float64, error) {
	query := "SELECT COALESCE(SUM(cost_usd), 0) FROM usage_records"
	args := []any{}
	if actorID != "" {
		query += " WHERE actor_id = ?"
		args = append(args, actorID)
	}

	var total float64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum usage: %w", err)
	}
	return total, nil
}

// CountUsage returns the number of records for an actor. Used by the stats
// endpoint alongside the cost aggregate.
func (s *Store) CountUsage(ctx context.Context, actorID string) (int64, error) {
	query := "SELECT COUNT(*) FROM usage_records"
	args := []any{}
	if actorID != "" {
		query += " WHERE actor_id = ?"
		args = append(args, actorID)
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count usage: %w", err)
	}
	return n, nil
}

// isUniqueViolation sniffs the driver error text; modernc.org/sqlite does
// not export typed constraint errors.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique")
}
