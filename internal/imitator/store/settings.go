package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bdobrica/Mimic/common/spec/backend"
)

// ErrSettingNotFound is returned by GetSetting when the key has not been set.
var ErrSettingNotFound = errors.New("store: setting not found")

// KeyActiveBackend holds the name of the generation backend used for the next
// conversational reply.
const KeyActiveBackend = "active_backend"

// EnsureDefaults seeds settings that must exist. Existing values are kept, so
// an operator's runtime choice survives restarts.
func (s *Store) EnsureDefaults(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO settings (key, value, updated_at) VALUES (?, ?, ?)
	`, KeyActiveBackend, string(s.defaultBackend), s.timestamp())
	if err != nil {
		return storageErr("ensure defaults", err)
	}
	return nil
}

// GetBackend returns the active backend name. When the setting is missing the
// default configured at New is returned.
func (s *Store) GetBackend(ctx context.Context) (string, error) {
	v, err := s.GetSetting(ctx, KeyActiveBackend)
	if errors.Is(err, ErrSettingNotFound) {
		return string(s.defaultBackend), nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

// SetBackend persists name as the active backend. Names outside the closed
// backend set are rejected with false and leave the stored value unchanged.
func (s *Store) SetBackend(ctx context.Context, name string) (bool, error) {
	kind, err := backend.Parse(name)
	if err != nil {
		return false, nil
	}
	if err := s.SetSetting(ctx, KeyActiveBackend, string(kind)); err != nil {
		return false, err
	}
	return true, nil
}

// GetSetting returns the value for key or ErrSettingNotFound.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrSettingNotFound
	}
	if err != nil {
		return "", storageErr(fmt.Sprintf("get setting %q", key), err)
	}
	return value, nil
}

// SetSetting upserts key.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, s.timestamp())
	if err != nil {
		return storageErr(fmt.Sprintf("set setting %q", key), err)
	}
	return nil
}

// ListSettings returns a snapshot of all settings. An empty map, not nil, is
// returned when nothing is stored.
func (s *Store) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, storageErr("list settings", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, storageErr("list settings scan", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list settings rows", err)
	}
	return out, nil
}
