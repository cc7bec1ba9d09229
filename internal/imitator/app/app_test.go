package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bdobrica/Mimic/common/spec/backend"
	"github.com/bdobrica/Mimic/internal/imitator/calendar"
	"github.com/bdobrica/Mimic/internal/imitator/generation"
	"github.com/bdobrica/Mimic/internal/imitator/history"
	"github.com/bdobrica/Mimic/internal/imitator/orchestrator"
	"github.com/bdobrica/Mimic/internal/imitator/persona"
	"github.com/bdobrica/Mimic/internal/imitator/store"
)

type fakeTransport struct {
	mu      sync.Mutex
	handler orchestrator.MessageHandler
	sent    []string
	stopped bool
}

func (f *fakeTransport) Start(_ context.Context, h orchestrator.MessageHandler) error {
	f.handler = h
	return nil
}

func (f *fakeTransport) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeTransport) IndicateTyping(context.Context, string) error { return nil }

func (f *fakeTransport) Send(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeTransport) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

const completion = `{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Здравствуйте!"}}]}`

func newTestApp(t *testing.T, openaiHandler http.HandlerFunc, grace time.Duration) (*App, *fakeTransport, *store.Store) {
	t.Helper()
	srv := httptest.NewServer(openaiHandler)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfg := &Config{
		DefaultBackend: backend.OpenAI,
		OpenAIKey:      "sk-test",
		OpenAI:         generation.OpenAIConfig{BaseURL: srv.URL + "/v1/"},
		Location:       time.UTC,
		Policy:         orchestrator.PolicyExtracted,
		ShutdownGrace:  grace,
	}
	st, err := store.New(filepath.Join(dir, "mimic.db"), cfg.DefaultBackend)
	if err != nil {
		t.Fatal(err)
	}
	hist, err := history.New(filepath.Join(dir, "history"))
	if err != nil {
		t.Fatal(err)
	}
	tr := &fakeTransport{}
	a, err := newApp(cfg, st, hist, calendar.Disabled{}, tr, persona.Default())
	if err != nil {
		t.Fatal(err)
	}
	return a, tr, st
}

func TestApp_RepliesAndDrainsOnStop(t *testing.T) {
	a, tr, _ := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completion))
	}, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// Wait for Run to register the handler.
	deadline := time.Now().Add(2 * time.Second)
	for {
		tr.mu.Lock()
		h := tr.handler
		tr.mu.Unlock()
		if h != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("handler never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	a.OnPrivateMessage(context.Background(), orchestrator.InboundMessage{
		ConversationID: "!dm:example.org", SenderID: "@alice:example.org", Text: "Добрый день",
	})
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := tr.messages(); len(got) != 1 || got[0] != "Здравствуйте!" {
		t.Errorf("sent = %v", got)
	}
	if !tr.stopped {
		t.Error("transport not stopped")
	}
	if got := a.orch.Stats()[orchestrator.Replied]; got != 1 {
		t.Errorf("replied = %d", got)
	}
}

func TestApp_CancelsStragglersAfterGrace(t *testing.T) {
	release := make(chan struct{})
	a, tr, _ := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}, 50*time.Millisecond)
	// Registered after newTestApp so it runs before srv.Close (cleanups are LIFO).
	t.Cleanup(func() { close(release) })

	a.OnPrivateMessage(context.Background(), orchestrator.InboundMessage{
		ConversationID: "!dm:example.org", SenderID: "@alice:example.org", Text: "hello",
	})
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	a.Stop()
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Stop took %v", elapsed)
	}
	if got := tr.messages(); len(got) != 1 || got[0] != persona.Default().Apology {
		t.Errorf("sent = %v", got)
	}
}

func TestBuildRegistry(t *testing.T) {
	cfg := &Config{OpenAIKey: "sk", GigaChat: generation.GigaChatConfig{AuthKey: "auth"}}
	got := buildRegistry(cfg).Configured()
	if len(got) != 2 || got[0] != backend.OpenAI || got[1] != backend.GigaChat {
		t.Errorf("Configured = %v", got)
	}

	onlyGiga := buildRegistry(&Config{GigaChat: generation.GigaChatConfig{AuthKey: "auth"}})
	if _, err := onlyGiga.Get("openai"); err == nil {
		t.Error("unconfigured backend returned")
	}
}
