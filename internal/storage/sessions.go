package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateSession creates a new authentication session for username.
func (s *Storage) CreateSession(ctx context.Context, token, username string, expiresAt time.Time) error {
	_, err := s.stmtInsertSession.ExecContext(ctx, token, username, expiresAt.Unix(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession retrieves an authentication session by token.
// It returns nil without error when the token is unknown.
func (s *Storage) GetSession(ctx context.Context, token string) (*Session, error) {
	row := s.stmtGetSession.QueryRowContext(ctx, token)
	var sess Session
	var expires, created int64
	if err := row.Scan(&sess.Token, &sess.Username, &expires, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.ExpiresAt = time.Unix(expires, 0)
	sess.CreatedAt = time.Unix(created, 0)
	return &sess, nil
}

// DeleteSession deletes an authentication session by token.
func (s *Storage) DeleteSession(ctx context.Context, token string) error {
	if _, err := s.stmtDeleteSession.ExecContext(ctx, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// CleanupExpiredSessions removes sessions that expired before now.
func (s *Storage) CleanupExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("cleanup sessions: %w", err)
	}
	return result.RowsAffected()
}
