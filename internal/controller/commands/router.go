// Package commands parses and executes the operator's /mimic commands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"maunium.net/go/mautrix/event"

	"github.com/bdobrica/Mimic/common/logging"
)

// Prefix starts every controller command.
const Prefix = "/mimic"

// Command is a parsed command line.
type Command struct {
	Name       string
	Subcommand string
	Args       []string
	RawText    string
}

// ErrNotACommand is returned when the message does not start with the
// prefix. Ordinary chat in admin rooms produces it.
var ErrNotACommand = errors.New("not a command (missing prefix)")

// ErrUnknownCommand wraps the key of a command with no handler.
var ErrUnknownCommand = errors.New("unknown command")

// Handler executes one command and returns the reply text.
type Handler func(ctx context.Context, cmd *Command, evt *event.Event) (string, error)

// Router maps "name" and "name.subcommand" keys to handlers.
type Router struct {
	handlers map[string]Handler
	prefix   string
}

// NewRouter creates a router for prefix.
func NewRouter(prefix string) *Router {
	return &Router{
		handlers: make(map[string]Handler),
		prefix:   prefix,
	}
}

// Register installs handler under key ("chats", "provider.set", ...).
func (r *Router) Register(key string, handler Handler) {
	r.handlers[key] = handler
}

// Keys lists the registered command keys, sorted.
func (r *Router) Keys() []string {
	keys := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Parse splits text into a Command. The second word is taken as a
// subcommand only when "name.word" is registered, so "/mimic activate
// !room:server" keeps the room ID as an argument.
func (r *Router) Parse(text string) (*Command, error) {
	text = strings.TrimSpace(text)
	if text != r.prefix && !strings.HasPrefix(text, r.prefix+" ") {
		return nil, ErrNotACommand
	}

	text = strings.TrimSpace(strings.TrimPrefix(text, r.prefix))
	parts := strings.Fields(text)
	if len(parts) == 0 {
		return nil, errors.New("empty command, try " + r.prefix + " help")
	}

	cmd := &Command{
		Name:    strings.ToLower(parts[0]),
		Args:    []string{},
		RawText: text,
	}
	rest := parts[1:]
	if len(rest) > 0 {
		if _, ok := r.handlers[cmd.Name+"."+strings.ToLower(rest[0])]; ok {
			cmd.Subcommand = strings.ToLower(rest[0])
			rest = rest[1:]
		}
	}
	cmd.Args = append(cmd.Args, rest...)
	return cmd, nil
}

// Route parses text and runs the matching handler. ctx gets a trace ID when
// it has none, so the reply and the audit row carry the same one.
func (r *Router) Route(ctx context.Context, text string, evt *event.Event) (string, error) {
	if logging.TraceID(ctx) == "" {
		ctx = logging.WithTraceID(ctx, logging.NewTraceID())
	}
	cmd, err := r.Parse(text)
	if err != nil {
		return "", err
	}
	handler, ok := r.handlers[cmd.Key()]
	if !ok {
		return "", fmt.Errorf("%w: %s (try %s help)", ErrUnknownCommand, strings.Join(append([]string{cmd.Name}, cmd.Args...), " "), r.prefix)
	}
	return handler(ctx, cmd, evt)
}

// Key is the handler key for cmd.
func (c *Command) Key() string {
	if c.Subcommand != "" {
		return c.Name + "." + c.Subcommand
	}
	return c.Name
}

// Arg returns the argument at index.
func (c *Command) Arg(index int) (string, bool) {
	if index < 0 || index >= len(c.Args) {
		return "", false
	}
	return c.Args[index], true
}
