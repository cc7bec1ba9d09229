// Package generation produces conversational replies through a pluggable text
// generation backend.
//
// Every backend formats the operator's system prompt with the recent
// transcript and the inbound message, sends it together with the message as
// a user turn, and returns the model's text. Failures are classified into two
// kinds so the orchestrator can pick its apology without knowing which
// provider is behind the call:
//
//   - ErrUnavailable: the backend could not be reached or authorized
//     (network, timeout, 5xx, rate limiting, credentials).
//   - ErrGeneration: the backend answered but the answer is unusable, or the
//     request itself was malformed.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bdobrica/Mimic/common/spec/backend"
)

var (
	// ErrUnavailable reports that the backend could not serve the request.
	ErrUnavailable = errors.New("generation: backend unavailable")
	// ErrGeneration reports an unusable request or response.
	ErrGeneration = errors.New("generation: generation failed")
)

// errUnauthorized is returned by a backend call when the credential was
// rejected. callWithRefresh turns it into one refresh and one retry.
var errUnauthorized = errors.New("generation: unauthorized")

// Request is one generation call.
type Request struct {
	SystemPromptTemplate string
	ChatHistory          string
	UserMessage          string
}

// Backend generates reply text.
type Backend interface {
	Name() backend.Kind
	Generate(ctx context.Context, req Request) (string, error)
}

// Sampling parameters shared by all backends.
const (
	defaultMaxTokens   = 500
	defaultTemperature = 0.7
)

func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, fmt.Sprintf(format, args...))
}

func generationFailed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrGeneration, fmt.Sprintf(format, args...))
}

// classifyStatus maps an HTTP status to the failure kinds above.
func classifyStatus(provider string, status int, body string) error {
	switch {
	case status == 401 || status == 403:
		return fmt.Errorf("%s: HTTP %d: %w", provider, status, errUnauthorized)
	case status == 408 || status == 429 || status >= 500:
		return unavailable("%s: HTTP %d: %s", provider, status, truncate(body, 200))
	default:
		return generationFailed("%s: HTTP %d: %s", provider, status, truncate(body, 200))
	}
}

// cleanReply trims the model output and rejects empty replies.
func cleanReply(provider, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", generationFailed("%s: empty reply", provider)
	}
	return text, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
