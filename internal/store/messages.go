package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/darkcord/server/internal/models"
)

// CreateMessage inserts a message row and returns its id and timestamp.
func (s *Store) CreateMessage(ctx context.Context, channelID, authorID, content string, replyTo *string) (string, time.Time, error) {
	id := uuid.NewString()
	createdAt := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, channel_id, author_id, content, reply_to, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, channelID, authorID, content, replyTo, createdAt.Format(models.TimeLayout))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("insert message: %w", err)
	}
	return id, createdAt, nil
}

// UpdateMessage rewrites a message's content and marks it edited. The
// authorship condition is part of the WHERE clause, so a missing row and a
// row owned by someone else both come back as models.ErrNotFound.
func (s *Store) UpdateMessage(ctx context.Context, messageID, authorID, content string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ?, edited = 1 WHERE id = ? AND author_id = ?`,
		content, messageID, authorID)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DeleteMessage removes a message row under the same conflated authorship
// rule as UpdateMessage.
func (s *Store) DeleteMessage(ctx context.Context, messageID, authorID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE id = ? AND author_id = ?`, messageID, authorID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// MessageChannel returns the channel a message lives in, and additionally
// its author, for authorization checks ahead of a mutation.
func (s *Store) MessageChannel(ctx context.Context, messageID string) (channelID, authorID string, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT channel_id, author_id FROM messages WHERE id = ?`, messageID).
		Scan(&channelID, &authorID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", models.ErrNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("select message channel: %w", err)
	}
	return channelID, authorID, nil
}

// ToggleReaction flips one (message, user, emoji) reaction: present rows
// are removed, absent ones inserted.
func (s *Store) ToggleReaction(ctx context.Context, messageID, userID, emoji string) error {
	var existing int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM reactions WHERE message_id = ? AND user_id = ? AND emoji = ?`,
		messageID, userID, emoji).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO reactions (message_id, user_id, emoji) VALUES (?, ?, ?)`,
			messageID, userID, emoji); err != nil {
			return fmt.Errorf("insert reaction: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("select reaction: %w", err)
	default:
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM reactions WHERE id = ?`, existing); err != nil {
			return fmt.Errorf("delete reaction: %w", err)
		}
		return nil
	}
}

// ReactionSummary aggregates reactions on a message. The Reacted flag is
// relative to viewerID.
func (s *Store) ReactionSummary(ctx context.Context, messageID, viewerID string) ([]models.ReactionCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT emoji, COUNT(*) as count,
			MAX(CASE WHEN user_id = ? THEN 1 ELSE 0 END) as reacted
		FROM reactions WHERE message_id = ? GROUP BY emoji`, viewerID, messageID)
	if err != nil {
		return nil, fmt.Errorf("select reactions: %w", err)
	}
	defer rows.Close()

	summary := []models.ReactionCount{}
	for rows.Next() {
		var (
			rc      models.ReactionCount
			reacted int
		)
		if err := rows.Scan(&rc.Emoji, &rc.Count, &reacted); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		rc.Reacted = reacted != 0
		summary = append(summary, rc)
	}
	return summary, rows.Err()
}

// Messages returns one history page for a channel, oldest first. The
// before cursor is an exclusive upper bound on created_at.
func (s *Store) Messages(ctx context.Context, channelID, viewerID string, limit int, before string) ([]models.Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := `
		SELECT m.id, m.content, m.reply_to, m.pinned, m.edited, m.created_at,
			u.id, u.username, u.display_name, u.avatar, u.status, u.is_bot
		FROM messages m
		INNER JOIN users u ON m.author_id = u.id
		WHERE m.channel_id = ?`
	args := []interface{}{channelID}
	if before != "" {
		query += ` AND m.created_at < ?`
		args = append(args, before)
	}
	query += ` ORDER BY m.created_at DESC, m.rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()

	page := []models.Message{}
	for rows.Next() {
		var (
			m              models.Message
			replyTo        sql.NullString
			avatar         sql.NullString
			pinned, edited int
			isBot          int
		)
		if err := rows.Scan(&m.ID, &m.Content, &replyTo, &pinned, &edited, &m.Timestamp,
			&m.Author.ID, &m.Author.Username, &m.Author.DisplayName, &avatar,
			&m.Author.Status, &isBot); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ChannelID = channelID
		m.Pinned = pinned != 0
		m.Edited = edited != 0
		m.Author.Avatar = avatar.String
		m.Author.IsBot = isBot != 0
		if replyTo.Valid {
			v := replyTo.String
			m.ReplyTo = &v
		}
		page = append(page, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Oldest first for display.
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}

	for i := range page {
		summary, err := s.ReactionSummary(ctx, page[i].ID, viewerID)
		if err != nil {
			return nil, err
		}
		if len(summary) > 0 {
			page[i].Reactions = summary
		}
	}
	return page, nil
}
