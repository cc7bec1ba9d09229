package generation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// Credentials supplies the bearer credential for a backend. Token may return
// a cached value; Refresh always obtains a new one.
type Credentials interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// callWithRefresh runs call with the current token. If the backend rejects
// the token, the credential is refreshed once and the call retried once. A
// second rejection, or a failed refresh, is ErrUnavailable.
func callWithRefresh[T any](ctx context.Context, creds Credentials, call func(ctx context.Context, token string) (T, error)) (T, error) {
	var zero T

	token, err := creds.Token(ctx)
	if err != nil {
		return zero, fmt.Errorf("%w: obtain credential: %w", ErrUnavailable, err)
	}

	out, err := call(ctx, token)
	if err == nil || !errors.Is(err, errUnauthorized) {
		return out, err
	}

	token, err = creds.Refresh(ctx)
	if err != nil {
		return zero, fmt.Errorf("%w: refresh credential: %w", ErrUnavailable, err)
	}

	out, err = call(ctx, token)
	if errors.Is(err, errUnauthorized) {
		return zero, fmt.Errorf("%w: credential rejected after refresh: %w", ErrUnavailable, err)
	}
	return out, err
}

// refreshTimeout bounds a single credential fetch.
const refreshTimeout = 30 * time.Second

// tokenCache holds the current token. Concurrent refreshes share one fetch;
// the cached token is replaced under the mutex, last writer wins.
type tokenCache struct {
	mu    sync.Mutex
	tok   *oauth2.Token
	group singleflight.Group
	fetch func(ctx context.Context) (*oauth2.Token, error)
}

func (c *tokenCache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	tok := c.tok
	c.mu.Unlock()
	if tok.Valid() {
		return tok.AccessToken, nil
	}
	return c.Refresh(ctx)
}

// Refresh fetches a new token. The shared fetch runs detached from the
// caller that started it, bounded by refreshTimeout, so one caller giving up
// does not fail the others waiting on the same fetch.
func (c *tokenCache) Refresh(ctx context.Context) (string, error) {
	ch := c.group.DoChan("refresh", func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		tok, err := c.fetch(fctx)
		if err != nil {
			return nil, err
		}
		if tok == nil || tok.AccessToken == "" {
			return nil, errors.New("empty token")
		}
		c.mu.Lock()
		c.tok = tok
		c.mu.Unlock()
		return tok, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(*oauth2.Token).AccessToken, nil
	}
}

// Prime obtains the first token. Backends are primed when built so a bad
// credential is reported at construction rather than on the first reply.
func Prime(ctx context.Context, creds Credentials) error {
	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()
	if _, err := creds.Token(ctx); err != nil {
		return fmt.Errorf("%w: obtain credential: %w", ErrUnavailable, err)
	}
	return nil
}

// APIKey is a static bearer credential. When it was configured through a
// file, Refresh re-reads the file so a rotated key is picked up without a
// restart.
type APIKey struct {
	cache tokenCache
}

// NewAPIKey returns credentials for key, or for the contents of file when
// file is set.
func NewAPIKey(key, file string) (*APIKey, error) {
	if key == "" && file == "" {
		return nil, errors.New("generation: api key or api key file is required")
	}
	k := &APIKey{}
	k.cache.fetch = func(context.Context) (*oauth2.Token, error) {
		if file == "" {
			return &oauth2.Token{AccessToken: key, TokenType: "Bearer"}, nil
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read api key file: %w", err)
		}
		return &oauth2.Token{AccessToken: strings.TrimSpace(string(data)), TokenType: "Bearer"}, nil
	}
	return k, nil
}

func (k *APIKey) Token(ctx context.Context) (string, error) { return k.cache.Token(ctx) }
func (k *APIKey) Refresh(ctx context.Context) (string, error) { return k.cache.Refresh(ctx) }
