package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/darkcord/server/internal/models"
)

// CreateUser inserts a new account. Returns models.ErrDuplicate when the
// username or email is already taken.
func (s *Store) CreateUser(ctx context.Context, username, displayName, email, passwordHash string) (Profile, error) {
	var existing string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM users WHERE username = ? OR email = ?`, username, email).Scan(&existing)
	switch {
	case err == nil:
		return Profile{}, models.ErrDuplicate
	case !errors.Is(err, sql.ErrNoRows):
		return Profile{}, fmt.Errorf("check existing user: %w", err)
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, display_name, email, password_hash, status)
		VALUES (?, ?, ?, ?, ?, 'online')`,
		id, username, displayName, email, passwordHash)
	if err != nil {
		return Profile{}, fmt.Errorf("insert user: %w", err)
	}
	return s.Profile(ctx, id)
}

// UserCredentials looks up the id and password hash for a login attempt.
func (s *Store) UserCredentials(ctx context.Context, email string) (id, passwordHash string, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT id, password_hash FROM users WHERE email = ?`, email).Scan(&id, &passwordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", models.ErrNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("select credentials: %w", err)
	}
	return id, passwordHash, nil
}

// Profile returns the full own-user view.
func (s *Store) Profile(ctx context.Context, userID string) (Profile, error) {
	var (
		p      Profile
		avatar sql.NullString
		isBot  int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, display_name, avatar, status, custom_status, is_bot
		FROM users WHERE id = ?`, userID).
		Scan(&p.ID, &p.Username, &p.DisplayName, &avatar, &p.Status, &p.CustomStatus, &isBot)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, models.ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("select profile: %w", err)
	}
	p.Avatar = avatar.String
	p.IsBot = isBot != 0
	return p, nil
}

// UserSnapshot returns the point-in-time profile copy embedded in
// broadcast payloads.
func (s *Store) UserSnapshot(ctx context.Context, userID string) (models.UserSnapshot, error) {
	p, err := s.Profile(ctx, userID)
	if err != nil {
		return models.UserSnapshot{}, err
	}
	return models.UserSnapshot{
		ID:          p.ID,
		Username:    p.Username,
		DisplayName: p.DisplayName,
		Avatar:      p.Avatar,
		Status:      p.Status,
		IsBot:       p.IsBot,
	}, nil
}

// SetUserStatus persists a presence status value.
func (s *Store) SetUserStatus(ctx context.Context, userID, status string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE users SET status = ? WHERE id = ?`, status, userID); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}
