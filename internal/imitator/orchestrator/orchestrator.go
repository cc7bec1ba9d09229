// Package orchestrator decides, for every inbound direct message, whether
// and how the imitator answers.
//
// Per message:
//
//	RECEIVED → record activity → inactive? → DROPPED
//	         → extract intent → SCHEDULING → CONFIRMED | SCHEDULING_FAILED
//	                          → CONVERSING → REPLIED   | REPLY_FAILED
//
// Every path except DROPPED appends exactly one user turn and one assistant
// turn to the history and delivers exactly one reply. Messages of the same
// conversation are handled one at a time; different conversations proceed in
// parallel.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bdobrica/Mimic/common/logging"
	"github.com/bdobrica/Mimic/internal/imitator/calendar"
	"github.com/bdobrica/Mimic/internal/imitator/generation"
	"github.com/bdobrica/Mimic/internal/imitator/history"
	"github.com/bdobrica/Mimic/internal/imitator/intent"
	"github.com/bdobrica/Mimic/internal/imitator/keylock"
	"github.com/bdobrica/Mimic/internal/imitator/persona"
	"github.com/bdobrica/Mimic/internal/imitator/store"
)

// InboundMessage is a direct message received by the imitator account.
type InboundMessage struct {
	ConversationID string
	SenderID       string
	DisplayName    string
	Text           string
	EventID        string
}

// Outcome is the terminal state of one message.
type Outcome string

const (
	Dropped          Outcome = "dropped"
	Confirmed        Outcome = "confirmed"
	SchedulingFailed Outcome = "scheduling_failed"
	Replied          Outcome = "replied"
	ReplyFailed      Outcome = "reply_failed"
)

// MessageHandler receives transport events.
type MessageHandler interface {
	OnPrivateMessage(ctx context.Context, msg InboundMessage)
}

// Transport delivers replies.
type Transport interface {
	IndicateTyping(ctx context.Context, conversationID string) error
	Send(ctx context.Context, conversationID, text string) error
}

// ConversationStore is the slice of store.Store the orchestrator uses.
type ConversationStore interface {
	UpsertSeen(ctx context.Context, id, displayName string) error
	IsActive(ctx context.Context, id string) (bool, error)
	GetBackend(ctx context.Context) (string, error)
	RecordMeeting(ctx context.Context, m *store.ScheduledMeeting) (int64, error)
}

// HistoryLog is the slice of history.Log the orchestrator uses.
type HistoryLog interface {
	Append(ctx context.Context, conversationID string, role history.Role, content string) error
	ReadRecent(ctx context.Context, conversationID string, maxEntries, maxChars int) (string, error)
}

// BackendResolver returns the generation backend for a stored name.
type BackendResolver interface {
	Get(name string) (generation.Backend, error)
}

// Policy selects the meeting time.
type Policy string

const (
	// PolicyExtracted books at the time named in the message when it can be
	// resolved, otherwise at the next full hour.
	PolicyExtracted Policy = "extracted"
	// PolicyNextHour always books at the next full hour.
	PolicyNextHour Policy = "next-hour"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyExtracted, PolicyNextHour:
		return p, nil
	}
	return "", fmt.Errorf("orchestrator: unknown scheduling policy %q (want %s or %s)", s, PolicyExtracted, PolicyNextHour)
}

// Config wires the orchestrator.
type Config struct {
	Store     ConversationStore
	History   HistoryLog
	Backends  BackendResolver
	Calendar  calendar.Client
	Extractor intent.Extractor
	Transport Transport
	Persona   *persona.Persona

	// Location is the time zone meetings are resolved and shown in.
	Location *time.Location
	Policy   Policy
	// Attendee is invited to every booked meeting when set.
	Attendee string

	HistoryEntries int
	HistoryChars   int

	// The typing pause before a reply is len(reply) × TypingPerChar,
	// capped at TypingCap. Zero TypingPerChar disables it.
	TypingPerChar time.Duration
	TypingCap     time.Duration

	StoreTimeout      time.Duration
	GenerationTimeout time.Duration
	CalendarTimeout   time.Duration
	TransportTimeout  time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// Orchestrator implements MessageHandler.
type Orchestrator struct {
	cfg      Config
	locks    keylock.Map
	outcomes map[Outcome]*atomic.Int64
}

var _ MessageHandler = (*Orchestrator)(nil)

// New validates cfg and returns an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	var missing []string
	for name, ok := range map[string]bool{
		"Store":     cfg.Store != nil,
		"History":   cfg.History != nil,
		"Backends":  cfg.Backends != nil,
		"Transport": cfg.Transport != nil,
	} {
		if !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("orchestrator: missing dependencies: %s", strings.Join(missing, ", "))
	}
	if cfg.Calendar == nil {
		cfg.Calendar = calendar.Disabled{}
	}
	if cfg.Persona == nil {
		cfg.Persona = persona.Default()
	}
	if cfg.Extractor == nil {
		cfg.Extractor = intent.NewHeuristic(cfg.Persona.Keywords...)
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyExtracted
	}
	if cfg.HistoryEntries <= 0 {
		cfg.HistoryEntries = history.DefaultMaxEntries
	}
	if cfg.HistoryChars <= 0 {
		cfg.HistoryChars = history.DefaultMaxChars
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	o := &Orchestrator{cfg: cfg, outcomes: make(map[Outcome]*atomic.Int64)}
	for _, out := range []Outcome{Dropped, Confirmed, SchedulingFailed, Replied, ReplyFailed} {
		o.outcomes[out] = new(atomic.Int64)
	}
	return o, nil
}

// OnPrivateMessage implements MessageHandler. It never panics.
func (o *Orchestrator) OnPrivateMessage(ctx context.Context, msg InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("orchestrator: panic while handling message",
				"conversation_id", msg.ConversationID, "event_id", msg.EventID, "panic", r)
		}
	}()
	o.HandleMessage(ctx, msg)
}

// HandleMessage runs the pipeline for msg and returns its terminal state.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg InboundMessage) Outcome {
	if logging.TraceID(ctx) == "" {
		ctx = logging.WithTraceID(ctx, logging.NewTraceID())
	}
	log := logging.FromContext(ctx).With("conversation_id", msg.ConversationID, "event_id", msg.EventID)

	if msg.ConversationID == "" || strings.TrimSpace(msg.Text) == "" {
		log.Debug("ignoring empty message")
		return o.count(Dropped)
	}

	unlock := o.locks.Lock(msg.ConversationID)
	defer unlock()

	if !o.admit(ctx, log, msg) {
		log.Debug("conversation inactive, message dropped")
		return o.count(Dropped)
	}

	var out Outcome
	if in := o.cfg.Extractor.Extract(msg.Text); in != nil {
		log.Info("meeting request detected", "date", in.Date, "time", in.Time)
		out = o.schedule(ctx, log, msg, in)
	} else {
		out = o.converse(ctx, log, msg)
	}
	log.Info("message handled", "outcome", out)
	return o.count(out)
}

// admit records the activity and reports whether the conversation is active.
// A store failure counts as inactive.
func (o *Orchestrator) admit(ctx context.Context, log *slog.Logger, msg InboundMessage) bool {
	sctx, cancel := withTimeout(ctx, o.cfg.StoreTimeout)
	defer cancel()

	if err := o.cfg.Store.UpsertSeen(sctx, msg.ConversationID, msg.DisplayName); err != nil {
		log.Warn("failed to record conversation activity", "err", err)
	}
	active, err := o.cfg.Store.IsActive(sctx, msg.ConversationID)
	if err != nil {
		log.Error("failed to read active flag, treating conversation as inactive", "err", err)
		return false
	}
	return active
}

func (o *Orchestrator) schedule(ctx context.Context, log *slog.Logger, msg InboundMessage, in *intent.MeetingIntent) Outcome {
	p := o.cfg.Persona
	name := displayName(msg)
	when := o.meetingTime(log, in)

	cctx, cancel := withTimeout(ctx, o.cfg.CalendarTimeout)
	res := o.cfg.Calendar.CreateMeeting(cctx, calendar.MeetingRequest{
		Summary:       p.Summary(name),
		Description:   p.Description(name, in.RawMessage),
		Start:         when,
		Duration:      p.MeetingDuration,
		AttendeeEmail: o.cfg.Attendee,
	})
	cancel()

	switch {
	case res.OK && res.EventID != "" && res.JoinLink != "":
		if err := o.record(ctx, msg, when, res.EventID); err != nil {
			log.Error("failed to record meeting, cancelling booked event", "calendar_event_id", res.EventID, "err", err)
			o.cancelEvent(ctx, log, res.EventID)
			break
		}
		reply := p.ConfirmationText(when, res.JoinLink, name)
		o.appendTurns(ctx, log, msg, reply)
		o.deliver(ctx, log, msg.ConversationID, reply)
		return Confirmed
	case res.OK && res.EventID != "":
		log.Warn("meeting booked without a join link, cancelling", "calendar_event_id", res.EventID)
		o.cancelEvent(ctx, log, res.EventID)
	default:
		log.Warn("meeting could not be booked", "start", when)
	}

	o.appendTurns(ctx, log, msg, p.SchedulingFallback)
	o.deliver(ctx, log, msg.ConversationID, p.SchedulingFallback)
	return SchedulingFailed
}

func (o *Orchestrator) meetingTime(log *slog.Logger, in *intent.MeetingIntent) time.Time {
	now := o.cfg.Now()
	if o.cfg.Policy == PolicyExtracted {
		if t, ok := intent.Resolve(in, now, o.cfg.Location); ok {
			return t
		}
		log.Debug("could not resolve requested time, using next full hour", "date", in.Date, "time", in.Time)
	}
	return intent.NextFullHour(now, o.cfg.Location)
}

func (o *Orchestrator) record(ctx context.Context, msg InboundMessage, when time.Time, eventID string) error {
	sctx, cancel := withTimeout(ctx, o.cfg.StoreTimeout)
	defer cancel()
	m := &store.ScheduledMeeting{
		ConversationID:  msg.ConversationID,
		MeetingTime:     when,
		CalendarEventID: eventID,
	}
	if msg.DisplayName != "" {
		m.DisplayName.String, m.DisplayName.Valid = msg.DisplayName, true
	}
	_, err := o.cfg.Store.RecordMeeting(sctx, m)
	return err
}

func (o *Orchestrator) cancelEvent(ctx context.Context, log *slog.Logger, eventID string) {
	cctx, cancel := withTimeout(ctx, o.cfg.CalendarTimeout)
	defer cancel()
	if !o.cfg.Calendar.CancelMeeting(cctx, eventID) {
		log.Error("orphaned calendar event could not be cancelled", "calendar_event_id", eventID)
	}
}

func (o *Orchestrator) converse(ctx context.Context, log *slog.Logger, msg InboundMessage) Outcome {
	hist, err := o.cfg.History.ReadRecent(ctx, msg.ConversationID, o.cfg.HistoryEntries, o.cfg.HistoryChars)
	if err != nil {
		log.Warn("failed to read history, continuing without it", "err", err)
		hist = ""
	}

	reply, err := o.generate(ctx, hist, msg.Text)
	out := Replied
	if err != nil {
		level := slog.LevelError
		if errors.Is(err, generation.ErrUnavailable) {
			level = slog.LevelWarn
		}
		log.Log(ctx, level, "generation failed, sending apology", "err", err)
		reply = o.cfg.Persona.Apology
		out = ReplyFailed
	}

	o.appendTurns(ctx, log, msg, reply)
	o.deliver(ctx, log, msg.ConversationID, reply)
	return out
}

// generate resolves the active backend from the settings on every call, so
// a switch by the operator applies to the very next message.
func (o *Orchestrator) generate(ctx context.Context, hist, message string) (string, error) {
	sctx, cancel := withTimeout(ctx, o.cfg.StoreTimeout)
	name, err := o.cfg.Store.GetBackend(sctx)
	cancel()
	if err != nil {
		return "", fmt.Errorf("%w: read active backend: %w", generation.ErrUnavailable, err)
	}
	b, err := o.cfg.Backends.Get(name)
	if err != nil {
		return "", err
	}

	gctx, cancel := withTimeout(ctx, o.cfg.GenerationTimeout)
	defer cancel()
	reply, err := b.Generate(gctx, generation.Request{
		SystemPromptTemplate: o.cfg.Persona.SystemPrompt,
		ChatHistory:          hist,
		UserMessage:          message,
	})
	if err != nil && gctx.Err() != nil && !errors.Is(err, generation.ErrUnavailable) {
		err = fmt.Errorf("%w: %w", generation.ErrUnavailable, err)
	}
	return reply, err
}

// appendTurns records both turns even when ctx was cancelled mid-message,
// keeping the transcript in step with what is delivered.
func (o *Orchestrator) appendTurns(ctx context.Context, log *slog.Logger, msg InboundMessage, reply string) {
	ctx = context.WithoutCancel(ctx)
	if err := o.cfg.History.Append(ctx, msg.ConversationID, history.RoleUser, msg.Text); err != nil {
		log.Error("failed to append user turn", "err", err)
	}
	if err := o.cfg.History.Append(ctx, msg.ConversationID, history.RoleAssistant, reply); err != nil {
		log.Error("failed to append assistant turn", "err", err)
	}
}

// deliver shows a typing indicator, pauses in proportion to the reply
// length, then sends. Failures are logged; the outcome does not change.
func (o *Orchestrator) deliver(ctx context.Context, log *slog.Logger, conversationID, text string) {
	tctx, cancel := withTimeout(ctx, o.cfg.TransportTimeout)
	if err := o.cfg.Transport.IndicateTyping(tctx, conversationID); err != nil {
		log.Debug("typing indicator failed", "err", err)
	}
	cancel()

	if d := o.typingDelay(text); d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	sctx, cancel := withTimeout(context.WithoutCancel(ctx), o.cfg.TransportTimeout)
	defer cancel()
	if err := o.cfg.Transport.Send(sctx, conversationID, text); err != nil {
		log.Error("failed to deliver reply", "err", err)
	}
}

func (o *Orchestrator) typingDelay(text string) time.Duration {
	if o.cfg.TypingPerChar <= 0 {
		return 0
	}
	d := time.Duration(len([]rune(text))) * o.cfg.TypingPerChar
	if o.cfg.TypingCap > 0 && d > o.cfg.TypingCap {
		d = o.cfg.TypingCap
	}
	return d
}

func (o *Orchestrator) count(out Outcome) Outcome {
	o.outcomes[out].Add(1)
	return out
}

// Stats returns how many messages ended in each outcome since start.
func (o *Orchestrator) Stats() map[Outcome]int64 {
	out := make(map[Outcome]int64, len(o.outcomes))
	for k, v := range o.outcomes {
		out[k] = v.Load()
	}
	return out
}

func displayName(msg InboundMessage) string {
	if msg.DisplayName != "" {
		return msg.DisplayName
	}
	return msg.SenderID
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}
