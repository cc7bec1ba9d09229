package generation_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bdobrica/Mimic/internal/imitator/generation"
)

// gigaChatServer issues tok-1, tok-2, … from /oauth and accepts only the
// token named by accept on /chat/completions.
func gigaChatServer(t *testing.T, accept string) (*httptest.Server, *int32, *int32) {
	t.Helper()
	var oauthCalls, chatCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&oauthCalls, 1)
		if r.Header.Get("Authorization") != "Basic YXV0aC1rZXk=" {
			t.Errorf("oauth Authorization = %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("RqUID") == "" {
			t.Error("missing RqUID")
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("scope") != "GIGACHAT_API_PERS" {
			t.Errorf("scope = %q (%v)", r.PostForm.Get("scope"), err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": fmt.Sprintf("tok-%d", n),
			"expires_at":   time.Now().Add(30 * time.Minute).UnixMilli(),
		})
	})
	mux.HandleFunc("/api/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&chatCalls, 1)
		if r.Header.Get("Authorization") != "Bearer "+accept {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"status":401,"message":"Token has expired"}`))
			return
		}
		var body chatBody
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Model != "GigaChat" {
			t.Errorf("model = %q", body.Model)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Здравствуйте!"},"finish_reason":"stop"}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &oauthCalls, &chatCalls
}

func newGigaChat(t *testing.T, srv *httptest.Server) generation.Backend {
	t.Helper()
	cfg := generation.GigaChatConfig{
		AuthKey:  "YXV0aC1rZXk=",
		OAuthURL: srv.URL + "/oauth",
		BaseURL:  srv.URL + "/api/v1",
		Timeout:  5 * time.Second,
	}
	creds, err := generation.NewGigaChatCredentials(cfg)
	if err != nil {
		t.Fatalf("NewGigaChatCredentials: %v", err)
	}
	b, err := generation.NewGigaChat(cfg, creds)
	if err != nil {
		t.Fatalf("NewGigaChat: %v", err)
	}
	return b
}

var gigaReq = generation.Request{
	SystemPromptTemplate: "{chat_history}\n{user_message}",
	UserMessage:          "привет",
}

func TestGigaChat_RefreshesExpiredTokenOnce(t *testing.T) {
	srv, oauthCalls, chatCalls := gigaChatServer(t, "tok-2")
	b := newGigaChat(t, srv)

	reply, err := b.Generate(context.Background(), gigaReq)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if reply != "Здравствуйте!" {
		t.Errorf("reply = %q", reply)
	}
	if n := atomic.LoadInt32(oauthCalls); n != 2 {
		t.Errorf("oauth calls = %d, want 2", n)
	}
	if n := atomic.LoadInt32(chatCalls); n != 2 {
		t.Errorf("chat calls = %d, want 2", n)
	}

	// The refreshed token is cached for the next message.
	if _, err := b.Generate(context.Background(), gigaReq); err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(oauthCalls); n != 2 {
		t.Errorf("oauth calls after cached use = %d", n)
	}
}

func TestGigaChat_PersistentUnauthorizedIsBounded(t *testing.T) {
	srv, oauthCalls, chatCalls := gigaChatServer(t, "never")
	b := newGigaChat(t, srv)

	_, err := b.Generate(context.Background(), gigaReq)
	if !errors.Is(err, generation.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if n := atomic.LoadInt32(chatCalls); n != 2 {
		t.Errorf("chat calls = %d, want 2", n)
	}
	if n := atomic.LoadInt32(oauthCalls); n != 2 {
		t.Errorf("oauth calls = %d, want 2", n)
	}
}

func TestGigaChatCredentials_OAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	creds, err := generation.NewGigaChatCredentials(generation.GigaChatConfig{AuthKey: "k", OAuthURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := creds.Token(context.Background()); err == nil {
		t.Fatal("expected error from failing oauth endpoint")
	}
}
