package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// UpsertUser creates username or replaces its password. The password is
// stored as a bcrypt hash.
func (s *Storage) UpsertUser(ctx context.Context, username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO users (username, password_hash) VALUES (?, ?)
ON CONFLICT(username) DO UPDATE SET password_hash = excluded.password_hash
`, username, string(hash))
	if err != nil {
		return fmt.Errorf("upsert user %q: %w", username, err)
	}
	return nil
}

// CreateUser adds a new user with a bcrypt-hashed password. It returns
// ErrUserExists when username is taken and leaves the existing password
// untouched.
func (s *Storage) CreateUser(ctx context.Context, username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO users (username, password_hash) VALUES (?, ?)
ON CONFLICT(username) DO NOTHING
`, username, string(hash))
	if err != nil {
		return fmt.Errorf("create user %q: %w", username, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create user %q: %w", username, err)
	}
	if n == 0 {
		return ErrUserExists
	}
	return nil
}

// GetUser returns the user named username, or ErrNotFound.
func (s *Storage) GetUser(ctx context.Context, username string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash FROM users WHERE username = ?`, username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %q: %w", username, err)
	}
	return &u, nil
}

// Authenticate reports whether password matches the stored hash for
// username. Unknown users and wrong passwords both return false.
func (s *Storage) Authenticate(ctx context.Context, username, password string) (bool, error) {
	u, err := s.GetUser(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return false, nil
	}
	return true, nil
}
