// Package history keeps the per-conversation transcript used as generation
// context. Each conversation is one JSON file holding an array of entries.
package history

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bdobrica/Mimic/internal/imitator/keylock"
)

// Role of a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ErrInvalidRole is returned by Append for roles other than user/assistant.
var ErrInvalidRole = errors.New("history: invalid role")

// Turn labels used when a transcript is rendered for a prompt.
const (
	UserLabel      = "User: "
	AssistantLabel = "Assistant: "
)

// Default read-back bounds.
const (
	DefaultMaxEntries = 10
	DefaultMaxChars   = 2000
)

// Entry is one turn of a conversation.
type Entry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Log stores transcripts under a directory. Writers of one conversation are
// serialised; different conversations never contend.
type Log struct {
	dir   string
	locks keylock.Map
	now   func() time.Time
}

// New creates the directory if needed and returns a Log rooted at it.
func New(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("history: create dir: %w", err)
	}
	return &Log{dir: dir, now: time.Now}, nil
}

// path maps a conversation ID to its file. Matrix room IDs contain ':' and
// '!' so the ID is base64url-encoded.
func (l *Log) path(conversationID string) string {
	name := base64.RawURLEncoding.EncodeToString([]byte(conversationID))
	return filepath.Join(l.dir, name+".json")
}

// Append adds one entry stamped with the current time. Appending the same
// content twice records it twice.
func (l *Log) Append(ctx context.Context, conversationID string, role Role, content string) error {
	if role != RoleUser && role != RoleAssistant {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := l.locks.Lock(conversationID)
	defer unlock()

	entries, err := l.read(conversationID)
	if err != nil {
		return err
	}
	entries = append(entries, Entry{Role: role, Content: content, Timestamp: l.now().UTC()})
	return l.write(conversationID, entries)
}

// Entries returns the full transcript in append order. A conversation without
// a log yields an empty slice.
func (l *Log) Entries(ctx context.Context, conversationID string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock := l.locks.Lock(conversationID)
	defer unlock()
	return l.read(conversationID)
}

// ReadRecent renders the last maxEntries turns as labelled text. When the
// rendering is longer than maxChars characters it is cut to fit, and the cut
// always lands on the start of a user turn. If no user turn fits, the result
// is empty. Non-positive bounds select the defaults.
func (l *Log) ReadRecent(ctx context.Context, conversationID string, maxEntries, maxChars int) (string, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	entries, err := l.Entries(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if len(entries) > maxEntries {
		entries = entries[len(entries)-maxEntries:]
	}
	return Render(entries, maxChars), nil
}

// Render formats entries as "User: …" / "Assistant: …" turns separated by a
// blank line and applies the maxChars budget described on ReadRecent.
func Render(entries []Entry, maxChars int) string {
	var b strings.Builder
	type turn struct {
		offset int // rune offset of the label
		user   bool
	}
	turns := make([]turn, 0, len(entries))
	runes := 0

	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n\n")
			runes += 2
		}
		label := AssistantLabel
		if e.Role == RoleUser {
			label = UserLabel
		}
		turns = append(turns, turn{offset: runes, user: e.Role == RoleUser})
		b.WriteString(label)
		b.WriteString(e.Content)
		runes += len([]rune(label)) + len([]rune(e.Content))
	}

	text := b.String()
	if runes <= maxChars {
		return text
	}

	cutoff := runes - maxChars
	for _, t := range turns {
		if t.user && t.offset >= cutoff {
			return string([]rune(text)[t.offset:])
		}
	}
	return ""
}

func (l *Log) read(conversationID string) ([]Entry, error) {
	data, err := os.ReadFile(l.path(conversationID))
	if errors.Is(err, os.ErrNotExist) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: read %s: %w", conversationID, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return []Entry{}, nil
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("history: decode %s: %w", conversationID, err)
	}
	return entries, nil
}

// write replaces the log atomically: temp file in the same directory, fsync,
// rename.
func (l *Log) write(conversationID string, entries []Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("history: encode: %w", err)
	}

	target := l.path(conversationID)
	tmp, err := os.CreateTemp(l.dir, ".history-*.tmp")
	if err != nil {
		return fmt.Errorf("history: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("history: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("history: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("history: close temp: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("history: rename: %w", err)
	}
	return nil
}
