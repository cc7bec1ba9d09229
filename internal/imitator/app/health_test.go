package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bdobrica/Mimic/common/spec/backend"
	"github.com/bdobrica/Mimic/internal/imitator/orchestrator"
)

type stubStatus struct{ active int }

func (s *stubStatus) ActiveCount(context.Context) (int, error)   { return s.active, nil }
func (s *stubStatus) GetBackend(context.Context) (string, error) { return "gigachat", nil }

type stubStats map[orchestrator.Outcome]int64

func (s stubStats) Stats() map[orchestrator.Outcome]int64 { return s }

type stubBackends []backend.Kind

func (s stubBackends) Configured() []backend.Kind { return s }

func TestHealthServer_Health(t *testing.T) {
	hs := NewHealthServer("127.0.0.1:0", nil, nil, nil)

	w := httptest.NewRecorder()
	hs.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status = %v", resp["status"])
	}
}

func TestHealthServer_Status(t *testing.T) {
	hs := NewHealthServer("127.0.0.1:0",
		&stubStatus{active: 4},
		stubStats{orchestrator.Replied: 7, orchestrator.Dropped: 2},
		stubBackends{backend.OpenAI, backend.GigaChat},
	)

	w := httptest.NewRecorder()
	hs.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp statusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ActiveConversations != 4 || resp.ActiveBackend != "gigachat" {
		t.Errorf("status = %+v", resp)
	}
	if resp.Outcomes["replied"] != 7 || resp.Outcomes["dropped"] != 2 {
		t.Errorf("outcomes = %v", resp.Outcomes)
	}
	if len(resp.ConfiguredBackends) != 2 {
		t.Errorf("configured = %v", resp.ConfiguredBackends)
	}
}

func TestHealthServer_RejectsPost(t *testing.T) {
	hs := NewHealthServer("127.0.0.1:0", nil, nil, nil)
	w := httptest.NewRecorder()
	hs.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/status", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /status = %d", w.Code)
	}
}
