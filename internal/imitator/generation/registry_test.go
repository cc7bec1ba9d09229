package generation_test

import (
	"context"
	"errors"
	"testing"

	"github.com/bdobrica/Mimic/common/spec/backend"
	"github.com/bdobrica/Mimic/internal/imitator/generation"
)

type fixedBackend struct{ kind backend.Kind }

func (f fixedBackend) Name() backend.Kind { return f.kind }
func (f fixedBackend) Generate(context.Context, generation.Request) (string, error) {
	return "ok", nil
}

func TestRegistry_LazyAndCached(t *testing.T) {
	r := generation.NewRegistry()
	builds := 0
	r.Register(backend.OpenAI, func() (generation.Backend, error) {
		builds++
		return fixedBackend{backend.OpenAI}, nil
	})

	if builds != 0 {
		t.Fatal("factory ran at registration")
	}
	for i := 0; i < 3; i++ {
		b, err := r.Get("OpenAI")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if b.Name() != backend.OpenAI {
			t.Errorf("Name = %q", b.Name())
		}
	}
	if builds != 1 {
		t.Errorf("builds = %d, want 1", builds)
	}
	if got := r.Configured(); len(got) != 1 || got[0] != backend.OpenAI {
		t.Errorf("Configured = %v", got)
	}
}

func TestRegistry_Errors(t *testing.T) {
	r := generation.NewRegistry()
	r.Register(backend.GigaChat, func() (generation.Backend, error) {
		return nil, errors.New("no key")
	})

	if _, err := r.Get("llama"); !errors.Is(err, backend.ErrUnknown) {
		t.Errorf("unknown name: got %v", err)
	}
	if _, err := r.Get("openai"); !errors.Is(err, generation.ErrUnavailable) {
		t.Errorf("unconfigured: got %v", err)
	}
	if _, err := r.Get("gigachat"); !errors.Is(err, generation.ErrUnavailable) {
		t.Errorf("failing factory: got %v", err)
	}
}
