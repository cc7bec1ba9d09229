package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ScheduledMeeting is a booking made by the scheduling branch.
type ScheduledMeeting struct {
	ID              int64
	ConversationID  string
	DisplayName     sql.NullString
	MeetingTime     time.Time
	CalendarEventID string
	CreatedAt       time.Time
}

// RecordMeeting inserts m and returns its row ID. m.CreatedAt is set.
func (s *Store) RecordMeeting(ctx context.Context, m *ScheduledMeeting) (int64, error) {
	if m.ConversationID == "" || m.CalendarEventID == "" {
		return 0, fmt.Errorf("store: record meeting: conversation id and calendar event id are required")
	}
	m.CreatedAt = s.timestamp()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_meetings (conversation_id, display_name, meeting_time, calendar_event_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, m.ConversationID, m.DisplayName, m.MeetingTime.UTC(), m.CalendarEventID, m.CreatedAt)
	if err != nil {
		return 0, storageErr("record meeting", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("record meeting", err)
	}
	m.ID = id
	return id, nil
}

// ListMeetings returns meetings ordered by meeting time, newest first. An empty
// conversationID lists every conversation; limit <= 0 means 50.
func (s *Store) ListMeetings(ctx context.Context, conversationID string, limit int) ([]*ScheduledMeeting, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, conversation_id, display_name, meeting_time, calendar_event_id, created_at
		FROM scheduled_meetings`
	args := []any{}
	if conversationID != "" {
		query += ` WHERE conversation_id = ?`
		args = append(args, conversationID)
	}
	query += ` ORDER BY meeting_time DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list meetings", err)
	}
	defer rows.Close()

	var out []*ScheduledMeeting
	for rows.Next() {
		m := &ScheduledMeeting{}
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.DisplayName, &m.MeetingTime, &m.CalendarEventID, &m.CreatedAt); err != nil {
			return nil, storageErr("list meetings scan", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list meetings rows", err)
	}
	return out, nil
}

// GetMeetingByEventID returns the meeting booked as eventID, or (nil, nil).
func (s *Store) GetMeetingByEventID(ctx context.Context, eventID string) (*ScheduledMeeting, error) {
	m := &ScheduledMeeting{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, display_name, meeting_time, calendar_event_id, created_at
		FROM scheduled_meetings
		WHERE calendar_event_id = ?
		ORDER BY id DESC
		LIMIT 1
	`, eventID).Scan(&m.ID, &m.ConversationID, &m.DisplayName, &m.MeetingTime, &m.CalendarEventID, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get meeting", err)
	}
	return m, nil
}

// CountMeetings returns how many meetings were booked for conversationID, or
// in total when conversationID is empty.
func (s *Store) CountMeetings(ctx context.Context, conversationID string) (int, error) {
	var n int
	var err error
	if conversationID == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scheduled_meetings`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM scheduled_meetings WHERE conversation_id = ?`, conversationID,
		).Scan(&n)
	}
	if err != nil {
		return 0, storageErr("count meetings", err)
	}
	return n, nil
}
