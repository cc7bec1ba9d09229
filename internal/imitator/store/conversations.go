package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Conversation is one direct-message thread the imitator has seen.
type Conversation struct {
	ID             string
	DisplayName    sql.NullString
	Active         bool
	LastActivityAt time.Time
	CreatedAt      time.Time
}

// Name returns the display name, or the conversation ID when none is known.
func (c *Conversation) Name() string {
	if c.DisplayName.Valid && c.DisplayName.String != "" {
		return c.DisplayName.String
	}
	return c.ID
}

// UpsertSeen records activity on a conversation. A new conversation is
// created active. For an existing one the display name is replaced only when
// displayName is non-empty, and the active flag is never touched.
func (s *Store) UpsertSeen(ctx context.Context, id, displayName string) error {
	if id == "" {
		return fmt.Errorf("store: upsert seen: empty conversation id")
	}
	now := s.timestamp()

	var name sql.NullString
	if displayName != "" {
		name = sql.NullString{String: displayName, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (conversation_id, display_name, active, last_activity_at, created_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			display_name     = COALESCE(excluded.display_name, conversations.display_name),
			last_activity_at = excluded.last_activity_at
	`, id, name, now, now)
	if err != nil {
		return storageErr("upsert seen", err)
	}
	return nil
}

// SetActive flips the active flag. It reports false, without creating a row,
// when the conversation has never been seen.
func (s *Store) SetActive(ctx context.Context, id string, active bool) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET active = ? WHERE conversation_id = ?`,
		boolToInt(active), id,
	)
	if err != nil {
		return false, storageErr("set active", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("set active", err)
	}
	return n > 0, nil
}

// IsActive reports whether the conversation exists and is active.
func (s *Store) IsActive(ctx context.Context, id string) (bool, error) {
	var active int
	err := s.db.QueryRowContext(ctx,
		`SELECT active FROM conversations WHERE conversation_id = ?`, id,
	).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storageErr("is active", err)
	}
	return active != 0, nil
}

// GetConversation returns the conversation, or (nil, nil) when it is unknown.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	c := &Conversation{}
	var active int
	err := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, display_name, active, last_activity_at, created_at
		FROM conversations
		WHERE conversation_id = ?
	`, id).Scan(&c.ID, &c.DisplayName, &active, &c.LastActivityAt, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get conversation", err)
	}
	c.Active = active != 0
	return c, nil
}

// ListActive returns active conversations, most recently active first. Ties
// are broken by conversation ID so the order is stable.
func (s *Store) ListActive(ctx context.Context) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, display_name, active, last_activity_at, created_at
		FROM conversations
		WHERE active = 1
		ORDER BY last_activity_at DESC, conversation_id ASC
	`)
	if err != nil {
		return nil, storageErr("list active", err)
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		c := &Conversation{}
		var active int
		if err := rows.Scan(&c.ID, &c.DisplayName, &active, &c.LastActivityAt, &c.CreatedAt); err != nil {
			return nil, storageErr("list active scan", err)
		}
		c.Active = active != 0
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list active rows", err)
	}
	return out, nil
}

// ActiveCount returns the number of active conversations.
func (s *Store) ActiveCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations WHERE active = 1`).Scan(&n); err != nil {
		return 0, storageErr("active count", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
