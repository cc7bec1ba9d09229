// Package matrix provides the controller's Matrix bot account. It only
// listens in the configured admin rooms.
package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/Mimic/common/redact"
	"github.com/bdobrica/Mimic/common/retry"
	imitatormatrix "github.com/bdobrica/Mimic/internal/imitator/matrix"
)

// Config holds Matrix client configuration
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	AdminRooms  []string // Room IDs where the controller accepts commands
	// DB persists the sync position. The imitator shares the same table;
	// rows are keyed by user ID.
	DB        *sql.DB
	SendRetry retry.Config
}

// MessageHandler processes incoming admin-room messages
type MessageHandler func(ctx context.Context, evt *event.Event)

// Client wraps the Matrix client
type Client struct {
	client  *mautrix.Client
	config  Config
	stopCh  chan struct{}
	stopped sync.Once
	syncWG  sync.WaitGroup
	handler MessageHandler

	// skipBefore drops commands replayed by the first sync of the bot.
	skipBefore time.Time
}

// New creates a new Matrix client
func New(config Config) (*Client, error) {
	if config.Homeserver == "" || config.UserID == "" || config.AccessToken == "" {
		return nil, errors.New("matrix: homeserver, user ID and access token are required")
	}
	if config.SendRetry.MaxAttempts == 0 {
		config.SendRetry = imitatormatrix.DefaultSendRetry
	}

	client, err := mautrix.NewClient(config.Homeserver, id.UserID(config.UserID), config.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}
	client.DefaultHTTPRetries = 0

	if config.DB != nil {
		client.Store = imitatormatrix.NewSyncStore(config.DB)
	} else {
		slog.Warn("Matrix sync store: no DB configured, using in-memory store (history will replay on restart)")
	}

	return &Client{
		client: client,
		config: config,
		stopCh: make(chan struct{}),
	}, nil
}

// Start joins the admin rooms and begins syncing in the background.
func (c *Client) Start(ctx context.Context, handler MessageHandler) error {
	if handler == nil {
		return errors.New("matrix: nil handler")
	}
	c.handler = handler

	next, err := c.client.Store.LoadNextBatch(ctx, c.client.UserID)
	if err != nil {
		return fmt.Errorf("matrix: load sync position: %w", err)
	}
	if next == "" {
		c.skipBefore = time.Now()
	}

	syncer, ok := c.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("matrix: unexpected syncer type")
	}
	syncer.OnEventType(event.EventMessage, c.handleMessage)

	for _, roomID := range c.config.AdminRooms {
		if err := c.joinRoom(ctx, id.RoomID(roomID)); err != nil {
			return fmt.Errorf("failed to join admin room %s: %w", roomID, err)
		}
	}

	c.syncWG.Add(1)
	go func() {
		defer c.syncWG.Done()
		c.syncLoop(ctx)
	}()
	return nil
}

func (c *Client) syncLoop(ctx context.Context) {
	const (
		backoffMin = 2 * time.Second
		backoffMax = 5 * time.Minute
	)
	backoff := backoffMin
	for {
		err := c.client.SyncWithContext(ctx)
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
		if err == nil {
			return
		}
		slog.Error("Matrix sync stopped; reconnecting", "err", redact.Headers(err.Error()), "backoff", backoff)
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, backoffMax)
	}
}

// Stop stops the Matrix client
func (c *Client) Stop() {
	c.stopped.Do(func() {
		close(c.stopCh)
		c.client.StopSync()
	})
	c.syncWG.Wait()
}

// SendFormattedMessage sends a formatted message (HTML + plain text fallback)
func (c *Client) SendFormattedMessage(ctx context.Context, roomID, html, plaintext string) error {
	return c.send(ctx, roomID, &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          plaintext,
		Format:        event.FormatHTML,
		FormattedBody: html,
	})
}

// SendNotice sends a notice message (less intrusive than normal messages)
func (c *Client) SendNotice(ctx context.Context, roomID, message string) error {
	return c.send(ctx, roomID, &event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    message,
	})
}

func (c *Client) send(ctx context.Context, roomID string, content *event.MessageEventContent) error {
	err := retry.Do(ctx, c.config.SendRetry, func() error {
		_, err := c.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, content)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to send message to %s: %s", roomID, redact.Headers(err.Error()))
	}
	return nil
}

// IsAdminRoom checks if a room is configured as an admin room
func (c *Client) IsAdminRoom(roomID string) bool {
	return slices.Contains(c.config.AdminRooms, roomID)
}

// UserID returns the bot's user ID
func (c *Client) UserID() string {
	return c.config.UserID
}

func (c *Client) handleMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(c.config.UserID) {
		return
	}
	select {
	case <-c.stopCh:
		return
	default:
	}
	if !c.skipBefore.IsZero() && evt.Timestamp < c.skipBefore.UnixMilli() {
		return
	}
	msgContent := evt.Content.AsMessage()
	if msgContent == nil || msgContent.MsgType != event.MsgText {
		return
	}
	if !c.IsAdminRoom(evt.RoomID.String()) {
		return
	}
	c.handler(ctx, evt)
}

func (c *Client) joinRoom(ctx context.Context, roomID id.RoomID) error {
	_, err := c.client.JoinRoomByID(ctx, roomID)
	if err != nil {
		// M_FORBIDDEN is also what homeservers answer when already joined.
		if errors.Is(err, mautrix.MForbidden) {
			slog.Warn("joinRoom: already a member or access denied, continuing", "room", roomID)
			return nil
		}
		return err
	}
	return nil
}
