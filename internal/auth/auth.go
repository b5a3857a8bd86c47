// Package auth backs the broker's CONNECT-time credential check with a
// sqlite-resident user table.
package auth

import (
	"database/sql"
	"errors"

	"github.com/tallerdist/sentinela/internal/er"
	"github.com/tallerdist/sentinela/internal/hash"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	username TEXT PRIMARY KEY,
	secret   TEXT NOT NULL
);`

// Store authenticates CONNECT username/password pairs against sqlite.
type Store struct {
	db *sql.DB
}

// New opens the user table, creating it if this is a fresh store file.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, &er.Err{Context: "Auth, Migrate", Message: err}
	}
	return &Store{db: db}, nil
}

// Authenticate reports whether username/password matches a stored user.
func (s *Store) Authenticate(username, password string) error {
	var secret string

	err := s.db.QueryRow("SELECT secret FROM users WHERE username = ?", username).Scan(&secret)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &er.Err{Context: "Auth", Message: er.ErrUserNotFound}
		}
		return &er.Err{Context: "Auth", Message: err}
	}

	if !hash.VerifyPasswd(secret, password) {
		return &er.Err{Context: "Auth", Message: er.ErrInvalidPassword}
	}
	return nil
}

// Seed inserts or updates a user's credentials, hashing the password with
// bcrypt before it ever touches disk. Used by broker config at startup to
// provision the accounts listed under the broker's YAML config.
func (s *Store) Seed(username, password string, cost int) error {
	hashed, err := hash.HashPasswd(password, cost)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		"INSERT INTO users (username, secret) VALUES (?, ?) ON CONFLICT(username) DO UPDATE SET secret = excluded.secret",
		username, hashed,
	)
	if err != nil {
		return &er.Err{Context: "Auth, Seed", Message: err}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
