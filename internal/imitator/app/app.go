// Package app wires the imitator: store, history, generation backends,
// calendar, orchestrator and the Matrix transport.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/bdobrica/Mimic/common/spec/backend"
	"github.com/bdobrica/Mimic/internal/imitator/calendar"
	"github.com/bdobrica/Mimic/internal/imitator/generation"
	"github.com/bdobrica/Mimic/internal/imitator/history"
	"github.com/bdobrica/Mimic/internal/imitator/matrix"
	"github.com/bdobrica/Mimic/internal/imitator/metadata"
	"github.com/bdobrica/Mimic/internal/imitator/orchestrator"
	"github.com/bdobrica/Mimic/internal/imitator/persona"
	"github.com/bdobrica/Mimic/internal/imitator/store"
)

// transport is what App needs from the Matrix client.
type transport interface {
	orchestrator.Transport
	Start(ctx context.Context, handler orchestrator.MessageHandler) error
	Stop()
}

// App is the running imitator.
type App struct {
	cfg      *Config
	store    *store.Store
	registry *generation.Registry
	orch     *orchestrator.Orchestrator
	matrix   transport
	health   *HealthServer

	// handlerCtx outlives the stop signal so in-flight messages can finish
	// within ShutdownGrace.
	handlerCtx    context.Context
	cancelHandler context.CancelFunc
	inflight      sync.WaitGroup
	stopOnce      sync.Once
}

var _ orchestrator.MessageHandler = (*App)(nil)

// New opens the store and builds every component. The Matrix login, if
// needed, happens here.
func New(ctx context.Context, cfg *Config) (*App, error) {
	p, err := persona.Load(cfg.PersonaFile)
	if err != nil {
		return nil, err
	}

	st, err := store.New(cfg.DatabasePath, cfg.DefaultBackend)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.EnsureDefaults(ctx); err != nil {
		st.Close()
		return nil, err
	}

	hist, err := history.New(cfg.HistoryPath)
	if err != nil {
		st.Close()
		return nil, err
	}

	cal, err := newCalendar(ctx, cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	session := metadata.Open(cfg.MetadataPath)
	if cfg.MetadataKey != nil {
		session.SealWith(cfg.MetadataKey)
	}
	mcfg := cfg.Matrix
	mcfg.DB = st.DB()
	mcfg.Session = session
	mx, err := matrix.New(ctx, mcfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	a, err := newApp(cfg, st, hist, cal, mx, p)
	if err != nil {
		st.Close()
		return nil, err
	}
	return a, nil
}

// newApp assembles an App from already-built dependencies.
func newApp(cfg *Config, st *store.Store, hist orchestrator.HistoryLog, cal calendar.Client, mx transport, p *persona.Persona) (*App, error) {
	registry := buildRegistry(cfg)
	if configured := registry.Configured(); !slices.Contains(configured, cfg.DefaultBackend) {
		slog.Warn("default backend has no credentials; replies will fail until the operator switches",
			"default_backend", cfg.DefaultBackend, "configured", configured)
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Store:             st,
		History:           hist,
		Backends:          registry,
		Calendar:          cal,
		Transport:         mx,
		Persona:           p,
		Location:          cfg.Location,
		Policy:            cfg.Policy,
		Attendee:          cfg.Attendee,
		HistoryEntries:    cfg.HistoryEntries,
		HistoryChars:      cfg.HistoryChars,
		TypingPerChar:     cfg.TypingPerChar,
		TypingCap:         cfg.TypingCap,
		StoreTimeout:      cfg.StoreTimeout,
		GenerationTimeout: cfg.GenerationTimeout,
		CalendarTimeout:   cfg.CalendarTimeout,
		TransportTimeout:  cfg.TransportTimeout,
	})
	if err != nil {
		return nil, err
	}

	handlerCtx, cancel := context.WithCancel(context.Background())
	a := &App{
		cfg:           cfg,
		store:         st,
		registry:      registry,
		orch:          orch,
		matrix:        mx,
		handlerCtx:    handlerCtx,
		cancelHandler: cancel,
	}
	if cfg.HTTPAddr != "" {
		a.health = NewHealthServer(cfg.HTTPAddr, st, orch, registry)
	}
	return a, nil
}

func buildRegistry(cfg *Config) *generation.Registry {
	r := generation.NewRegistry()
	if cfg.OpenAIKey != "" || cfg.OpenAIKeyFile != "" {
		r.Register(backend.OpenAI, func() (generation.Backend, error) {
			creds, err := generation.NewAPIKey(cfg.OpenAIKey, cfg.OpenAIKeyFile)
			if err != nil {
				return nil, err
			}
			primeCredentials(backend.OpenAI, creds)
			ocfg := cfg.OpenAI
			ocfg.Timeout = cfg.GenerationTimeout
			return generation.NewOpenAI(ocfg, creds), nil
		})
	}
	if cfg.GigaChat.AuthKey != "" {
		r.Register(backend.GigaChat, func() (generation.Backend, error) {
			gcfg := cfg.GigaChat
			gcfg.Timeout = cfg.GenerationTimeout
			creds, err := generation.NewGigaChatCredentials(gcfg)
			if err != nil {
				return nil, err
			}
			primeCredentials(backend.GigaChat, creds)
			return generation.NewGigaChat(gcfg, creds)
		})
	}
	return r
}

// primeCredentials obtains the first token when a backend is built. A
// failure is only logged: every call fetches again when the cache is empty.
func primeCredentials(kind backend.Kind, creds generation.Credentials) {
	if err := generation.Prime(context.Background(), creds); err != nil {
		slog.Warn("generation credential not obtained", "backend", string(kind), "err", err)
	}
}

func newCalendar(ctx context.Context, cfg *Config) (calendar.Client, error) {
	if cfg.Calendar.CredentialsFile == "" {
		slog.Warn("GOOGLE_CREDENTIALS_FILE not set; meeting requests will get the fallback reply")
		return calendar.Disabled{}, nil
	}
	gcfg := cfg.Calendar
	gcfg.Location = cfg.Location
	gcfg.Timeout = cfg.CalendarTimeout
	g, err := calendar.NewGoogle(ctx, gcfg)
	if err != nil {
		return nil, fmt.Errorf("calendar: %w", err)
	}
	return g, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	if a.health != nil {
		if err := a.health.Start(); err != nil {
			slog.Warn("health server failed to start; continuing without it", "err", err)
		}
	}

	slog.Info("starting Matrix sync")
	if err := a.matrix.Start(ctx, a); err != nil {
		a.Stop()
		return fmt.Errorf("start Matrix client: %w", err)
	}
	slog.Info("imitator is running", "timezone", a.cfg.Location.String(), "policy", a.cfg.Policy)

	<-ctx.Done()
	slog.Info("shutting down")
	a.Stop()
	return nil
}

// OnPrivateMessage implements orchestrator.MessageHandler. Each message is
// handled on its own goroutine so a slow backend never blocks the sync loop.
func (a *App) OnPrivateMessage(_ context.Context, msg orchestrator.InboundMessage) {
	a.inflight.Add(1)
	go func() {
		defer a.inflight.Done()
		a.orch.OnPrivateMessage(a.handlerCtx, msg)
	}()
}

// Stop ends the sync loop, waits up to ShutdownGrace for in-flight messages,
// cancels the stragglers and closes the database. It is safe to call more
// than once.
func (a *App) Stop() {
	a.stopOnce.Do(a.stop)
}

func (a *App) stop() {
	slog.Info("stopping Matrix client")
	a.matrix.Stop()

	if !a.waitInflight(a.cfg.ShutdownGrace) {
		slog.Warn("in-flight messages did not finish in time, cancelling", "grace", a.cfg.ShutdownGrace)
		a.cancelHandler()
		a.waitInflight(5 * time.Second)
	}
	a.cancelHandler()

	if a.health != nil {
		a.health.Stop()
	}
	slog.Info("closing database", "outcomes", a.orch.Stats())
	if err := a.store.Close(); err != nil {
		slog.Warn("close database", "err", err)
	}
}

func (a *App) waitInflight(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		a.inflight.Wait()
		close(done)
	}()
	if d <= 0 {
		<-done
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
