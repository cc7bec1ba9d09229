package commands

import (
	"fmt"
	"sync"

	"github.com/bdobrica/Mimic/internal/imitator/metadata"
)

// Access decides who may run commands: the configured admins plus the
// operator who claimed the controller. The claim is kept in the controller's
// metadata file.
type Access struct {
	admins  map[string]bool
	session *metadata.File
	mu      sync.Mutex
}

// NewAccess returns an Access for admins and session.
func NewAccess(admins []string, session *metadata.File) *Access {
	a := &Access{admins: make(map[string]bool, len(admins)), session: session}
	for _, id := range admins {
		a.admins[id] = true
	}
	return a
}

// Operator returns the claimed operator, or "".
func (a *Access) Operator() (string, error) {
	if a.session == nil {
		return "", nil
	}
	op, _, err := a.session.Get(metadata.KeyOperatorID)
	if err != nil {
		return "", fmt.Errorf("access: %w", err)
	}
	return op, nil
}

// Allowed reports whether sender may run commands. A metadata read error
// denies everyone but the configured admins.
func (a *Access) Allowed(sender string) bool {
	if a.admins[sender] {
		return true
	}
	op, err := a.Operator()
	return err == nil && op != "" && op == sender
}

// Claim makes sender the operator unless someone already is. It returns the
// operator after the call and whether sender just became it.
func (a *Access) Claim(sender string) (operator string, claimed bool, err error) {
	if a.session == nil {
		return "", false, fmt.Errorf("access: no metadata file configured")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	op, err := a.Operator()
	if err != nil {
		return "", false, err
	}
	if op != "" {
		return op, false, nil
	}
	if err := a.session.Set(metadata.KeyOperatorID, sender); err != nil {
		return "", false, fmt.Errorf("access: %w", err)
	}
	return sender, true, nil
}
