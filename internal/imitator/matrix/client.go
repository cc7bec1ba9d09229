// Package matrix is the imitator's transport: a regular Matrix user account
// that answers direct messages.
//
// A room counts as a direct conversation when exactly two users are joined.
// Messages in any other room are ignored.
package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/Mimic/common/redact"
	"github.com/bdobrica/Mimic/common/retry"
	"github.com/bdobrica/Mimic/internal/imitator/metadata"
	"github.com/bdobrica/Mimic/internal/imitator/orchestrator"
)

// Config holds the account and transport settings.
type Config struct {
	Homeserver string
	UserID     string
	// AccessToken wins over a stored session and over Password.
	AccessToken string
	DeviceID    string
	// Password is used to log in when no token is configured or stored.
	Password   string
	DeviceName string

	// DB persists the sync position; nil means an in-memory store.
	DB *sql.DB
	// Session stores the device ID and access token obtained by a login.
	Session *metadata.File

	// AutoJoin accepts every room invite.
	AutoJoin      bool
	TypingTimeout time.Duration
	SendRetry     retry.Config
}

// Client implements orchestrator.Transport.
type Client struct {
	client  *mautrix.Client
	cfg     Config
	userID  id.UserID
	stopCh  chan struct{}
	stopped sync.Once
	syncWG  sync.WaitGroup
	handler orchestrator.MessageHandler

	// skipBefore drops history replayed by the very first sync of an
	// account; zero when resuming from a stored position.
	skipBefore time.Time

	mu     sync.Mutex
	direct map[id.RoomID]bool
	names  map[id.UserID]string
}

var _ orchestrator.Transport = (*Client)(nil)

// New creates the client and, when needed, logs in with the password.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Homeserver == "" || cfg.UserID == "" {
		return nil, errors.New("matrix: homeserver and user ID are required")
	}
	if cfg.TypingTimeout <= 0 {
		cfg.TypingTimeout = 10 * time.Second
	}
	if cfg.SendRetry.MaxAttempts == 0 {
		cfg.SendRetry = DefaultSendRetry
	}

	userID := id.UserID(cfg.UserID)
	cli, err := mautrix.NewClient(cfg.Homeserver, userID, "")
	if err != nil {
		return nil, fmt.Errorf("matrix: create client: %w", err)
	}
	// Sends are retried by SendRetry.
	cli.DefaultHTTPRetries = 0

	c := &Client{
		client: cli,
		cfg:    cfg,
		userID: userID,
		stopCh: make(chan struct{}),
		direct: make(map[id.RoomID]bool),
		names:  make(map[id.UserID]string),
	}
	if err := c.authenticate(ctx); err != nil {
		return nil, err
	}

	if cfg.DB != nil {
		cli.Store = NewSyncStore(cfg.DB)
	} else {
		slog.Warn("matrix: no database configured, sync position is not persisted")
	}
	return c, nil
}

// authenticate picks the first credential available: configured token,
// stored session, password login.
func (c *Client) authenticate(ctx context.Context) error {
	if c.cfg.AccessToken != "" {
		c.client.AccessToken = c.cfg.AccessToken
		c.client.DeviceID = id.DeviceID(c.cfg.DeviceID)
		return nil
	}

	if c.cfg.Session != nil {
		token, device, ok, err := c.storedSession()
		if err != nil {
			return err
		}
		if ok {
			slog.Info("matrix: using stored session", "user_id", c.userID, "device_id", device)
			c.client.AccessToken = token
			c.client.DeviceID = id.DeviceID(device)
			return nil
		}
	}

	if c.cfg.Password == "" {
		return errors.New("matrix: no access token, stored session or password")
	}
	return c.login(ctx)
}

func (c *Client) storedSession() (token, device string, ok bool, err error) {
	user, _, err := c.cfg.Session.Get(metadata.KeyMatrixUserID)
	if err != nil {
		return "", "", false, fmt.Errorf("matrix: read session: %w", err)
	}
	if user != c.userID.String() {
		return "", "", false, nil
	}
	token, ok, err = c.cfg.Session.GetSecret(metadata.KeyMatrixAccessToken)
	if err != nil {
		return "", "", false, fmt.Errorf("matrix: read session: %w", err)
	}
	device, _, err = c.cfg.Session.Get(metadata.KeyMatrixDeviceID)
	if err != nil {
		return "", "", false, fmt.Errorf("matrix: read session: %w", err)
	}
	return token, device, ok && token != "", nil
}

func (c *Client) login(ctx context.Context) error {
	resp, err := c.client.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: c.userID.String(),
		},
		Password:                 c.cfg.Password,
		DeviceID:                 id.DeviceID(c.cfg.DeviceID),
		InitialDeviceDisplayName: c.cfg.DeviceName,
		StoreCredentials:         true,
	})
	if err != nil {
		return fmt.Errorf("matrix: password login: %s", redact.Headers(err.Error()))
	}
	slog.Info("matrix: logged in", "user_id", resp.UserID, "device_id", resp.DeviceID)

	if c.cfg.Session == nil {
		return nil
	}
	if err := c.cfg.Session.Update(map[string]string{
		metadata.KeyMatrixUserID:   c.userID.String(),
		metadata.KeyMatrixDeviceID: resp.DeviceID.String(),
	}); err != nil {
		return fmt.Errorf("matrix: persist session: %w", err)
	}
	if err := c.cfg.Session.UpdateSecrets(map[string]string{
		metadata.KeyMatrixAccessToken: resp.AccessToken,
	}); err != nil {
		return fmt.Errorf("matrix: persist session: %w", err)
	}
	return nil
}

// Start registers handler and begins syncing in the background. The sync
// loop reconnects with exponential back-off until Stop is called.
func (c *Client) Start(ctx context.Context, handler orchestrator.MessageHandler) error {
	if handler == nil {
		return errors.New("matrix: nil handler")
	}
	c.handler = handler

	next, err := c.client.Store.LoadNextBatch(ctx, c.userID)
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
	syncer.OnEventType(event.StateMember, c.handleMember)

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
		slog.Error("matrix: sync stopped, reconnecting", "err", redact.Headers(err.Error()), "backoff", backoff)
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

// Stop ends the sync loop. No handler is invoked after Stop returns; sending
// keeps working so in-flight replies can still be delivered.
func (c *Client) Stop() {
	c.stopped.Do(func() {
		close(c.stopCh)
		c.client.StopSync()
	})
	c.syncWG.Wait()
}

// Send implements orchestrator.Transport, retrying rate-limited sends.
func (c *Client) Send(ctx context.Context, conversationID, text string) error {
	err := retry.Do(ctx, c.cfg.SendRetry, func() error {
		_, err := c.client.SendText(ctx, id.RoomID(conversationID), text)
		return err
	})
	if err != nil {
		return fmt.Errorf("matrix: send to %s: %s", conversationID, redact.Headers(err.Error()))
	}
	return nil
}

// IndicateTyping implements orchestrator.Transport.
func (c *Client) IndicateTyping(ctx context.Context, conversationID string) error {
	if _, err := c.client.UserTyping(ctx, id.RoomID(conversationID), true, c.cfg.TypingTimeout); err != nil {
		return fmt.Errorf("matrix: typing in %s: %w", conversationID, err)
	}
	return nil
}

// UserID returns the account the client acts as.
func (c *Client) UserID() string { return c.userID.String() }

func (c *Client) handleMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == c.userID {
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
	content := evt.Content.AsMessage()
	if content == nil || content.MsgType != event.MsgText {
		return
	}
	if !c.isDirect(ctx, evt.RoomID) {
		return
	}

	c.handler.OnPrivateMessage(ctx, orchestrator.InboundMessage{
		ConversationID: evt.RoomID.String(),
		SenderID:       evt.Sender.String(),
		DisplayName:    c.displayName(ctx, evt.Sender),
		Text:           content.Body,
		EventID:        evt.ID.String(),
	})
}

func (c *Client) handleMember(ctx context.Context, evt *event.Event) {
	c.mu.Lock()
	delete(c.direct, evt.RoomID)
	c.mu.Unlock()

	member := evt.Content.AsMember()
	if member == nil || evt.GetStateKey() != c.userID.String() || member.Membership != event.MembershipInvite {
		return
	}
	if !c.cfg.AutoJoin {
		slog.Info("matrix: ignoring invite", "room_id", evt.RoomID, "sender", evt.Sender)
		return
	}
	if _, err := c.client.JoinRoomByID(ctx, evt.RoomID); err != nil {
		slog.Warn("matrix: failed to accept invite", "room_id", evt.RoomID, "err", redact.Headers(err.Error()))
		return
	}
	slog.Info("matrix: accepted invite", "room_id", evt.RoomID, "sender", evt.Sender, "is_direct", member.IsDirect)
}

// isDirect reports whether exactly two users are joined to roomID. Results
// are cached until the next membership change in that room.
func (c *Client) isDirect(ctx context.Context, roomID id.RoomID) bool {
	c.mu.Lock()
	v, ok := c.direct[roomID]
	c.mu.Unlock()
	if ok {
		return v
	}

	resp, err := c.client.JoinedMembers(ctx, roomID)
	if err != nil {
		slog.Warn("matrix: failed to list room members", "room_id", roomID, "err", redact.Headers(err.Error()))
		return false
	}
	direct := len(resp.Joined) == 2

	c.mu.Lock()
	c.direct[roomID] = direct
	c.mu.Unlock()
	return direct
}

func (c *Client) displayName(ctx context.Context, userID id.UserID) string {
	c.mu.Lock()
	name, ok := c.names[userID]
	c.mu.Unlock()
	if ok {
		return name
	}

	resp, err := c.client.GetDisplayName(ctx, userID)
	if err != nil {
		slog.Debug("matrix: display name lookup failed", "user_id", userID, "err", err)
		return ""
	}
	c.mu.Lock()
	c.names[userID] = resp.DisplayName
	c.mu.Unlock()
	return resp.DisplayName
}
