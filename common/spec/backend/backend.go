// Package backend defines the closed set of text-generation backends the
// imitator can route replies through.
//
// Both the conversation store (which persists the operator's selection) and
// the generation registry (which constructs the provider) validate names
// against this package, so a backend name can never be stored unless a
// provider for it exists.
package backend

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a text-generation backend.
type Kind string

const (
	// OpenAI is the OpenAI chat completions API (or any compatible endpoint).
	OpenAI Kind = "openai"
	// GigaChat is the Sber GigaChat API.
	GigaChat Kind = "gigachat"
)

// ErrUnknown is returned by Parse for names outside the supported set.
var ErrUnknown = errors.New("backend: unknown backend")

// All returns the supported kinds in display order.
func All() []Kind {
	return []Kind{OpenAI, GigaChat}
}

// Parse maps a case-insensitive name to a Kind.
func Parse(name string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range All() {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknown, name)
}

// Names returns the supported kinds as a comma-separated list for help and
// error messages.
func Names() string {
	names := make([]string, 0, len(All()))
	for _, k := range All() {
		names = append(names, string(k))
	}
	return strings.Join(names, ", ")
}

// String implements fmt.Stringer.
func (k Kind) String() string { return string(k) }
