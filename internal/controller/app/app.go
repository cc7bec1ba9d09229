// Package app wires the controller: the bot account, the command router and
// the store it shares with the imitator.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"maunium.net/go/mautrix/event"

	"github.com/bdobrica/Mimic/common/logging"
	"github.com/bdobrica/Mimic/internal/controller/commands"
	"github.com/bdobrica/Mimic/internal/controller/matrix"
	"github.com/bdobrica/Mimic/internal/imitator/calendar"
	"github.com/bdobrica/Mimic/internal/imitator/metadata"
	"github.com/bdobrica/Mimic/internal/imitator/store"
)

// messenger is the part of the Matrix client the app uses.
type messenger interface {
	Start(ctx context.Context, handler matrix.MessageHandler) error
	Stop()
	SendFormattedMessage(ctx context.Context, roomID, html, plaintext string) error
	SendNotice(ctx context.Context, roomID, message string) error
}

// App is the controller process.
type App struct {
	cfg    *Config
	store  *store.Store
	matrix messenger
	router *commands.Router
	access *commands.Access
}

// New opens the store and the calendar and creates the bot client.
func New(ctx context.Context, cfg *Config) (*App, error) {
	st, err := store.New(cfg.DatabasePath, cfg.DefaultBackend)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := st.EnsureDefaults(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to seed settings: %w", err)
	}

	cal, err := newCalendar(ctx, cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	mcfg := cfg.Matrix
	mcfg.DB = st.DB()
	mx, err := matrix.New(mcfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	return newApp(cfg, st, cal, mx), nil
}

func newApp(cfg *Config, st *store.Store, cal calendar.Client, mx messenger) *App {
	access := commands.NewAccess(cfg.AdminSenders, metadata.Open(cfg.MetadataPath))
	router := commands.NewRouter(commands.Prefix)
	commands.NewHandlers(commands.HandlersConfig{
		Store:    st,
		Calendar: cal,
		Access:   access,
		Location: cfg.Location,
	}).Register(router)

	if len(cfg.AdminSenders) == 0 {
		slog.Warn("CONTROLLER_ADMIN_SENDERS is empty; only the claimed operator may run commands")
	}
	return &App{cfg: cfg, store: st, matrix: mx, router: router, access: access}
}

func newCalendar(ctx context.Context, cfg *Config) (calendar.Client, error) {
	if cfg.Calendar.CredentialsFile == "" {
		slog.Warn("GOOGLE_CREDENTIALS_FILE not set; meetings cancel is disabled")
		return calendar.Disabled{}, nil
	}
	gcfg := cfg.Calendar
	gcfg.Location = cfg.Location
	gcfg.Timeout = cfg.CalendarTimeout
	g, err := calendar.NewGoogle(ctx, gcfg)
	if err != nil {
		return nil, fmt.Errorf("calendar: %w", err)
	}
	return g, nil
}

// Run serves commands until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	slog.Info("starting Matrix sync")
	if err := a.matrix.Start(ctx, a.handleMessage); err != nil {
		a.Stop()
		return fmt.Errorf("failed to start Matrix client: %w", err)
	}

	for _, roomID := range a.cfg.Matrix.AdminRooms {
		if err := a.matrix.SendNotice(ctx, roomID, "✅ Mimic controller started. Type "+commands.Prefix+" help for commands."); err != nil {
			slog.Warn("failed to announce startup", "room", roomID, "err", err)
		}
	}
	slog.Info("controller is running")

	<-ctx.Done()
	slog.Info("shutting down")
	a.Stop()
	return nil
}

// Stop stops the Matrix client and closes the database.
func (a *App) Stop() {
	slog.Info("stopping Matrix client")
	a.matrix.Stop()

	slog.Info("closing database")
	a.store.Close()
}

// handleMessage routes one admin-room message. Ordinary chat is ignored, and
// so are commands from senders outside the allowlist, except claim.
func (a *App) handleMessage(ctx context.Context, evt *event.Event) {
	msgContent := evt.Content.AsMessage()
	if msgContent == nil {
		return
	}
	text := msgContent.Body

	cmd, err := a.router.Parse(text)
	if errors.Is(err, commands.ErrNotACommand) {
		return
	}
	sender := evt.Sender.String()
	if !a.access.Allowed(sender) && (cmd == nil || cmd.Key() != "claim") {
		slog.Info("ignoring command from unauthorized sender", "sender", sender, "room", evt.RoomID)
		return
	}

	traceID := logging.NewTraceID()
	ctx = logging.WithTraceID(ctx, traceID)
	if a.cfg.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.CommandTimeout)
		defer cancel()
	}
	logging.FromContext(ctx).Info("command received", "sender", sender, "room", evt.RoomID)

	roomID := evt.RoomID.String()
	response, err := a.router.Route(ctx, text, evt)
	if err != nil {
		if err := a.matrix.SendNotice(ctx, roomID, fmt.Sprintf("❌ Error: %s (trace: %s)", err, traceID)); err != nil {
			slog.Error("failed to send error reply", "room", roomID, "err", err)
		}
		return
	}
	if response == "" {
		return
	}
	if err := a.matrix.SendFormattedMessage(ctx, roomID, markdownToHTML(response), response); err != nil {
		slog.Error("failed to send response", "room", roomID, "err", err)
	}
}
