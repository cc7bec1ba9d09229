package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"maunium.net/go/mautrix/event"

	"github.com/bdobrica/Mimic/common/logging"
	"github.com/bdobrica/Mimic/common/spec/backend"
	"github.com/bdobrica/Mimic/common/version"
	"github.com/bdobrica/Mimic/internal/imitator/calendar"
	"github.com/bdobrica/Mimic/internal/imitator/store"
)

// HandlersConfig wires the command handlers.
type HandlersConfig struct {
	Store *store.Store
	// Calendar cancels booked meetings; nil disables meetings cancel.
	Calendar calendar.Client
	Access   *Access
	// Location formats times in replies. Defaults to UTC.
	Location *time.Location
}

// Handlers implements the controller commands.
type Handlers struct {
	store    *store.Store
	calendar calendar.Client
	access   *Access
	loc      *time.Location
}

// NewHandlers creates a Handlers instance.
func NewHandlers(cfg HandlersConfig) *Handlers {
	h := &Handlers{store: cfg.Store, calendar: cfg.Calendar, access: cfg.Access, loc: cfg.Location}
	if h.calendar == nil {
		h.calendar = calendar.Disabled{}
	}
	if h.loc == nil {
		h.loc = time.UTC
	}
	return h
}

// Register installs every handler on r.
func (h *Handlers) Register(r *Router) {
	r.Register("help", h.HandleHelp)
	r.Register("version", h.HandleVersion)
	r.Register("ping", h.HandlePing)
	r.Register("claim", h.HandleClaim)
	r.Register("chats", h.HandleChats)
	r.Register("activate", h.HandleActivate)
	r.Register("deactivate", h.HandleDeactivate)
	r.Register("provider", h.HandleProviderShow)
	r.Register("provider.set", h.HandleProviderSet)
	r.Register("meetings", h.HandleMeetingsList)
	r.Register("meetings.list", h.HandleMeetingsList)
	r.Register("meetings.cancel", h.HandleMeetingsCancel)
	r.Register("audit", h.HandleAuditTail)
	r.Register("audit.tail", h.HandleAuditTail)
}

// HandleHelp lists the commands.
func (h *Handlers) HandleHelp(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	return `**Mimic controller**

**General:**
• /mimic help - Show this help message
• /mimic version - Show version information
• /mimic ping - Health check
• /mimic claim - Become the operator (first caller only)

**Conversations:**
• /mimic chats - List conversations with auto-reply on
• /mimic activate <conversation_id> - Turn auto-reply on
• /mimic deactivate <conversation_id> - Turn auto-reply off

**Generation backend:**
• /mimic provider - Show the active backend
• /mimic provider set <name> - Switch backend (` + backend.Names() + `)

**Meetings:**
• /mimic meetings list [conversation_id] - Show booked meetings
• /mimic meetings cancel <event_id> - Cancel a booked meeting

**Audit:**
• /mimic audit tail [n] - Show recent controller actions`, nil
}

// HandleVersion shows build information.
func (h *Handlers) HandleVersion(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	return fmt.Sprintf("**Mimic controller**\nVersion: %s\nCommit: %s\nBuild Time: %s",
		version.Version, version.GitCommit, version.BuildTime), nil
}

// HandlePing answers and records an audit row, proving the database is
// writable.
func (h *Handlers) HandlePing(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	traceID := traceOf(ctx)
	if err := h.audit(ctx, evt, "ping", "", nil, nil); err != nil {
		return "", err
	}
	return fmt.Sprintf("🏓 Pong! (trace: %s)", traceID), nil
}

// HandleClaim makes the sender the operator when nobody is.
func (h *Handlers) HandleClaim(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	traceID := traceOf(ctx)
	sender := evt.Sender.String()

	op, claimed, err := h.access.Claim(sender)
	if err != nil {
		h.audit(ctx, evt, "claim", sender, nil, err)
		return "", fmt.Errorf("claim failed: %w", err)
	}
	if !claimed {
		h.audit(ctx, evt, "claim", sender, store.AuditPayload{"operator": op}, errors.New("already claimed"))
		if op == sender {
			return fmt.Sprintf("You are already the operator. (trace: %s)", traceID), nil
		}
		return "", fmt.Errorf("the controller is already claimed by %s", op)
	}
	if err := h.audit(ctx, evt, "claim", sender, nil, nil); err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ %s is now the operator. (trace: %s)", sender, traceID), nil
}

// HandleChats lists active conversations, most recent first.
func (h *Handlers) HandleChats(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	traceID := traceOf(ctx)

	convs, err := h.store.ListActive(ctx)
	if err != nil {
		h.audit(ctx, evt, "chats", "", nil, err)
		return "", fmt.Errorf("failed to list conversations: %w", err)
	}
	if err := h.audit(ctx, evt, "chats", "", store.AuditPayload{"count": len(convs)}, nil); err != nil {
		return "", err
	}

	if len(convs) == 0 {
		return fmt.Sprintf("No active conversations. (trace: %s)", traceID), nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Active conversations (%d)**\n\n", len(convs))
	for _, c := range convs {
		fmt.Fprintf(&sb, "✅ **%s** `%s`\n", c.Name(), c.ID)
		fmt.Fprintf(&sb, "  Last activity: %s\n", c.LastActivityAt.In(h.loc).Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(&sb, "\n(trace: %s)", traceID)
	return sb.String(), nil
}

// HandleActivate turns auto-reply on for a conversation.
func (h *Handlers) HandleActivate(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	return h.setActive(ctx, cmd, evt, true)
}

// HandleDeactivate turns auto-reply off for a conversation.
func (h *Handlers) HandleDeactivate(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	return h.setActive(ctx, cmd, evt, false)
}

func (h *Handlers) setActive(ctx context.Context, cmd *Command, evt *event.Event, active bool) (string, error) {
	traceID := traceOf(ctx)
	action := "deactivate"
	if active {
		action = "activate"
	}

	id, ok := cmd.Arg(0)
	if !ok {
		return "", fmt.Errorf("usage: %s %s <conversation_id>", Prefix, action)
	}

	changed, err := h.store.SetActive(ctx, id, active)
	if err != nil {
		h.audit(ctx, evt, action, id, nil, err)
		return "", fmt.Errorf("failed to %s %s: %w", action, id, err)
	}
	if !changed {
		h.audit(ctx, evt, action, id, nil, errors.New("unknown conversation"))
		return "", fmt.Errorf("unknown conversation %s", id)
	}
	if err := h.audit(ctx, evt, action, id, nil, nil); err != nil {
		return "", err
	}

	state := "off"
	if active {
		state = "on"
	}
	return fmt.Sprintf("✅ Auto-reply is %s for `%s`. (trace: %s)", state, id, traceID), nil
}

// HandleProviderShow shows the backend used for the next reply.
func (h *Handlers) HandleProviderShow(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	traceID := traceOf(ctx)
	name, err := h.store.GetBackend(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read active backend: %w", err)
	}
	return fmt.Sprintf("Active backend: **%s**\nAvailable: %s\n(trace: %s)",
		name, backend.Names(), traceID), nil
}

// HandleProviderSet switches the backend. The imitator reads the setting
// before every reply, so the switch applies to the next message.
func (h *Handlers) HandleProviderSet(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	traceID := traceOf(ctx)
	name, ok := cmd.Arg(0)
	if !ok {
		return "", fmt.Errorf("usage: %s provider set <%s>", Prefix, strings.ReplaceAll(backend.Names(), ", ", "|"))
	}

	previous, _ := h.store.GetBackend(ctx)
	set, err := h.store.SetBackend(ctx, name)
	if err != nil {
		h.audit(ctx, evt, "provider.set", name, nil, err)
		return "", fmt.Errorf("failed to set backend: %w", err)
	}
	if !set {
		h.audit(ctx, evt, "provider.set", name, nil, backend.ErrUnknown)
		return "", fmt.Errorf("unknown backend %q, choose one of: %s", name, backend.Names())
	}
	current, _ := h.store.GetBackend(ctx)
	if err := h.audit(ctx, evt, "provider.set", current, store.AuditPayload{"previous": previous}, nil); err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Active backend: **%s** (was %s). (trace: %s)", current, previous, traceID), nil
}

// HandleMeetingsList shows booked meetings, optionally for one conversation.
func (h *Handlers) HandleMeetingsList(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	traceID := traceOf(ctx)
	conv, _ := cmd.Arg(0)

	meetings, err := h.store.ListMeetings(ctx, conv, 20)
	if err != nil {
		return "", fmt.Errorf("failed to list meetings: %w", err)
	}
	if len(meetings) == 0 {
		return fmt.Sprintf("No meetings booked. (trace: %s)", traceID), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "**Meetings (%d)**\n\n", len(meetings))
	for _, m := range meetings {
		name := m.ConversationID
		if m.DisplayName.Valid && m.DisplayName.String != "" {
			name = m.DisplayName.String
		}
		fmt.Fprintf(&sb, "📅 `%s` **%s**\n", m.MeetingTime.In(h.loc).Format("2006-01-02 15:04"), name)
		fmt.Fprintf(&sb, "  Event: `%s`\n", m.CalendarEventID)
		fmt.Fprintf(&sb, "  Conversation: `%s`\n", m.ConversationID)
	}
	fmt.Fprintf(&sb, "\n(trace: %s)", traceID)
	return sb.String(), nil
}

// HandleMeetingsCancel deletes the calendar event of a booked meeting. The
// meetings table keeps its row.
func (h *Handlers) HandleMeetingsCancel(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	traceID := traceOf(ctx)
	eventID, ok := cmd.Arg(0)
	if !ok {
		return "", fmt.Errorf("usage: %s meetings cancel <event_id>", Prefix)
	}

	m, err := h.store.GetMeetingByEventID(ctx, eventID)
	if err != nil {
		return "", fmt.Errorf("failed to look up meeting: %w", err)
	}
	if m == nil {
		h.audit(ctx, evt, "meetings.cancel", eventID, nil, errors.New("unknown meeting"))
		return "", fmt.Errorf("no meeting with event ID %s", eventID)
	}
	if !h.calendar.CancelMeeting(ctx, eventID) {
		err := fmt.Errorf("%w: could not cancel %s", calendar.ErrCalendar, eventID)
		h.audit(ctx, evt, "meetings.cancel", eventID, nil, err)
		return "", err
	}
	if err := h.audit(ctx, evt, "meetings.cancel", eventID,
		store.AuditPayload{"conversation_id": m.ConversationID, "meeting_time": m.MeetingTime}, nil); err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Cancelled meeting `%s` on %s. (trace: %s)",
		eventID, m.MeetingTime.In(h.loc).Format("2006-01-02 15:04"), traceID), nil
}

// HandleAuditTail shows recent audit entries.
func (h *Handlers) HandleAuditTail(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	traceID := traceOf(ctx)

	limit := 10
	if s, ok := cmd.Arg(0); ok {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	entries, err := h.store.GetAuditLog(ctx, limit)
	if err != nil {
		return "", fmt.Errorf("failed to get audit log: %w", err)
	}
	if err := h.audit(ctx, evt, "audit.tail", "", store.AuditPayload{"limit": limit}, nil); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "**Recent audit entries (last %d)**\n\n", limit)
	for _, e := range entries {
		mark := "✅"
		if e.Result == "error" {
			mark = "❌"
		}
		fmt.Fprintf(&sb, "%s `%s` **%s** by %s\n", mark, e.Timestamp.In(h.loc).Format("01-02 15:04:05"), e.Action, e.ActorID)
		if e.Target.Valid {
			fmt.Fprintf(&sb, "   Target: %s\n", e.Target.String)
		}
		if e.ErrorMessage.Valid {
			fmt.Fprintf(&sb, "   Error: %s\n", e.ErrorMessage.String)
		}
		fmt.Fprintf(&sb, "   Trace: %s\n\n", e.TraceID)
	}
	fmt.Fprintf(&sb, "(trace: %s)", traceID)
	return sb.String(), nil
}

// audit writes one audit row; cause nil means success. Write failures are
// returned so a mutation without its audit row is reported to the operator.
func (h *Handlers) audit(ctx context.Context, evt *event.Event, action, target string, payload store.AuditPayload, cause error) error {
	result, msg := "success", ""
	if cause != nil {
		result, msg = "error", cause.Error()
	}
	if err := h.store.WriteAudit(ctx, traceOf(ctx), evt.Sender.String(), action, target, result, payload, msg); err != nil {
		logging.FromContext(ctx).Error("failed to write audit", "action", action, "err", err)
		return fmt.Errorf("failed to write audit: %w", err)
	}
	return nil
}

// traceOf returns the trace ID the app attached to ctx, or a fresh one.
func traceOf(ctx context.Context) string {
	if id := logging.TraceID(ctx); id != "" {
		return id
	}
	return logging.NewTraceID()
}
