package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/darkcord/server/internal/models"
)

// ServerIDs lists the servers the user is a member of.
func (s *Store) ServerIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT server_id FROM server_members WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("select server memberships: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan server id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsServerMember reports whether the user belongs to the server.
func (s *Store) IsServerMember(ctx context.Context, serverID, userID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM server_members WHERE server_id = ? AND user_id = ?`,
		serverID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return true, nil
}

// ChannelServer returns the server a channel belongs to.
func (s *Store) ChannelServer(ctx context.Context, channelID string) (string, error) {
	var serverID string
	err := s.db.QueryRowContext(ctx,
		`SELECT server_id FROM channels WHERE id = ?`, channelID).Scan(&serverID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", models.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("select channel server: %w", err)
	}
	return serverID, nil
}

// FirstServerID returns the oldest server, used to auto-join new accounts.
func (s *Store) FirstServerID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM servers LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", models.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("select first server: %w", err)
	}
	return id, nil
}

// AddServerMember joins a user to a server, idempotently.
func (s *Store) AddServerMember(ctx context.Context, serverID, userID, role string) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO server_members (server_id, user_id, role) VALUES (?, ?, ?)`,
		serverID, userID, role)
	if err != nil {
		return fmt.Errorf("insert membership: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE servers SET member_count = member_count + 1 WHERE id = ?`, serverID); err != nil {
			return fmt.Errorf("bump member count: %w", err)
		}
	}
	return nil
}

// CreateServer creates a server with a default category and channel and
// makes the owner an admin member.
func (s *Store) CreateServer(ctx context.Context, name, color, ownerID string) (Server, error) {
	if color == "" {
		color = "#8B5CF6"
	}
	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO servers (id, name, color, owner_id, member_count) VALUES (?, ?, ?, ?, 1)`,
		id, name, color, ownerID); err != nil {
		return Server{}, fmt.Errorf("insert server: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO server_members (server_id, user_id, role) VALUES (?, ?, 'admin')`,
		id, ownerID); err != nil {
		return Server{}, fmt.Errorf("insert owner membership: %w", err)
	}

	catID := uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO categories (id, server_id, name, position) VALUES (?, ?, 'GENEL', 0)`,
		catID, id); err != nil {
		return Server{}, fmt.Errorf("insert default category: %w", err)
	}
	chID := uuid.NewString()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO channels (id, category_id, server_id, name, type, description, position)
		VALUES (?, ?, ?, 'genel-sohbet', 'text', 'Genel konuşmalar', 0)`,
		chID, catID, id); err != nil {
		return Server{}, fmt.Errorf("insert default channel: %w", err)
	}

	return Server{
		ID:          id,
		Name:        name,
		Color:       color,
		OwnerID:     ownerID,
		MemberCount: 1,
		Categories: []Category{{
			ID:   catID,
			Name: "GENEL",
			Channels: []Channel{{
				ID:          chID,
				Name:        "genel-sohbet",
				Type:        "text",
				Description: "Genel konuşmalar",
			}},
		}},
	}, nil
}

// Servers lists the user's servers with their category/channel trees.
func (s *Store) Servers(ctx context.Context, userID string) ([]Server, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.name, s.icon, s.color, s.owner_id, s.member_count, s.boost_level
		FROM servers s
		INNER JOIN server_members sm ON s.id = sm.server_id
		WHERE sm.user_id = ?
		ORDER BY s.created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("select servers: %w", err)
	}
	defer rows.Close()

	servers := []Server{}
	for rows.Next() {
		var (
			srv  Server
			icon sql.NullString
		)
		if err := rows.Scan(&srv.ID, &srv.Name, &icon, &srv.Color, &srv.OwnerID,
			&srv.MemberCount, &srv.BoostLevel); err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		srv.Icon = icon.String
		servers = append(servers, srv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range servers {
		cats, err := s.categories(ctx, servers[i].ID)
		if err != nil {
			return nil, err
		}
		servers[i].Categories = cats
	}
	return servers, nil
}

func (s *Store) categories(ctx context.Context, serverID string) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name FROM categories WHERE server_id = ? ORDER BY position`, serverID)
	if err != nil {
		return nil, fmt.Errorf("select categories: %w", err)
	}
	defer rows.Close()

	cats := []Category{}
	for rows.Next() {
		var cat Category
		if err := rows.Scan(&cat.ID, &cat.Name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		cats = append(cats, cat)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range cats {
		chs, err := s.channels(ctx, cats[i].ID)
		if err != nil {
			return nil, err
		}
		cats[i].Channels = chs
	}
	return cats, nil
}

func (s *Store) channels(ctx context.Context, categoryID string) ([]Channel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, type, description FROM channels
		WHERE category_id = ? ORDER BY position`, categoryID)
	if err != nil {
		return nil, fmt.Errorf("select channels: %w", err)
	}
	defer rows.Close()

	chs := []Channel{}
	for rows.Next() {
		var (
			ch   Channel
			desc sql.NullString
		)
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.Type, &desc); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		ch.Description = desc.String
		chs = append(chs, ch)
	}
	return chs, rows.Err()
}

// ServerMembers lists member snapshots for a server, offline users last.
func (s *Store) ServerMembers(ctx context.Context, serverID string) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.username, u.display_name, u.avatar, u.status, u.custom_status, u.is_bot, sm.role
		FROM server_members sm
		INNER JOIN users u ON sm.user_id = u.id
		WHERE sm.server_id = ?
		ORDER BY u.status = 'offline', u.display_name`, serverID)
	if err != nil {
		return nil, fmt.Errorf("select members: %w", err)
	}
	defer rows.Close()

	members := []Member{}
	for rows.Next() {
		var (
			m      Member
			avatar sql.NullString
			isBot  int
		)
		if err := rows.Scan(&m.ID, &m.Username, &m.DisplayName, &avatar,
			&m.Status, &m.CustomStatus, &isBot, &m.Role); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.Avatar = avatar.String
		m.IsBot = isBot != 0
		members = append(members, m)
	}
	return members, rows.Err()
}
