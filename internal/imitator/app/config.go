package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/bdobrica/Mimic/common/crypto"
	"github.com/bdobrica/Mimic/common/environment"
	"github.com/bdobrica/Mimic/common/spec/backend"
	"github.com/bdobrica/Mimic/internal/imitator/calendar"
	"github.com/bdobrica/Mimic/internal/imitator/generation"
	"github.com/bdobrica/Mimic/internal/imitator/history"
	"github.com/bdobrica/Mimic/internal/imitator/matrix"
	"github.com/bdobrica/Mimic/internal/imitator/orchestrator"
)

// Config holds everything the imitator needs to start.
type Config struct {
	DatabasePath string
	HistoryPath  string
	MetadataPath string
	// MetadataKey, when set, seals the stored access token.
	MetadataKey []byte
	PersonaFile string

	// DefaultBackend seeds the active_backend setting on first start.
	DefaultBackend backend.Kind
	OpenAIKey      string
	OpenAIKeyFile  string
	OpenAI         generation.OpenAIConfig
	GigaChat       generation.GigaChatConfig

	Calendar calendar.GoogleConfig

	Matrix matrix.Config

	Location       *time.Location
	Policy         orchestrator.Policy
	Attendee       string
	HistoryEntries int
	HistoryChars   int
	TypingPerChar  time.Duration
	TypingCap      time.Duration

	StoreTimeout      time.Duration
	GenerationTimeout time.Duration
	CalendarTimeout   time.Duration
	TransportTimeout  time.Duration
	// ShutdownGrace bounds how long in-flight messages may finish after a
	// stop signal before their context is cancelled.
	ShutdownGrace time.Duration

	// HTTPAddr enables the health server when set (e.g. ":8080").
	HTTPAddr string
}

// LoadConfig reads the imitator configuration from the environment. All
// problems are reported together.
func LoadConfig() (*Config, error) {
	var errs []error
	required := func(name string) string {
		v, err := environment.RequiredString(name)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := &Config{
		DatabasePath: environment.StringOr("DATABASE_PATH", "./mimic.db"),
		HistoryPath:  environment.StringOr("HISTORY_PATH", "./history"),
		MetadataPath: environment.StringOr("METADATA_PATH", "./imitator.session.json"),
		PersonaFile:  environment.StringOr("PERSONA_FILE", ""),

		OpenAIKey:     environment.StringOr("OPENAI_API_KEY", ""),
		OpenAIKeyFile: environment.StringOr("OPENAI_API_KEY_FILE", ""),
		OpenAI: generation.OpenAIConfig{
			BaseURL: environment.StringOr("OPENAI_BASE_URL", ""),
			Model:   environment.StringOr("OPENAI_MODEL", ""),
		},
		GigaChat: generation.GigaChatConfig{
			AuthKey:    environment.SecretOr("GIGACHAT_AUTH_KEY", ""),
			Scope:      environment.StringOr("GIGACHAT_SCOPE", ""),
			OAuthURL:   environment.StringOr("GIGACHAT_OAUTH_URL", ""),
			BaseURL:    environment.StringOr("GIGACHAT_BASE_URL", ""),
			Model:      environment.StringOr("GIGACHAT_MODEL", ""),
			CACertFile: environment.StringOr("GIGACHAT_CA_FILE", ""),
		},
		Calendar: calendar.GoogleConfig{
			CredentialsFile: environment.StringOr("GOOGLE_CREDENTIALS_FILE", ""),
			CalendarID:      environment.StringOr("GOOGLE_CALENDAR_ID", "primary"),
		},
		Matrix: matrix.Config{
			Homeserver:  required("MATRIX_HOMESERVER"),
			UserID:      required("MATRIX_USER_ID"),
			AccessToken: environment.SecretOr("MATRIX_ACCESS_TOKEN", ""),
			DeviceID:    environment.StringOr("MATRIX_DEVICE_ID", ""),
			Password:    environment.SecretOr("MATRIX_PASSWORD", ""),
			DeviceName:  environment.StringOr("MATRIX_DEVICE_NAME", "mimic"),
			AutoJoin:    environment.BoolOr("MATRIX_AUTO_JOIN", true),
		},

		Location:       environment.LocationOr("TIMEZONE", "Europe/Moscow"),
		Attendee:       environment.StringOr("MEETING_ATTENDEE", ""),
		HistoryEntries: environment.IntOr("HISTORY_MAX_ENTRIES", history.DefaultMaxEntries),
		HistoryChars:   environment.IntOr("HISTORY_MAX_CHARS", history.DefaultMaxChars),
		TypingPerChar:  environment.DurationOr("TYPING_PER_CHAR", 30*time.Millisecond),
		TypingCap:      environment.DurationOr("TYPING_CAP", 3*time.Second),

		StoreTimeout:      environment.DurationOr("STORE_TIMEOUT", 5*time.Second),
		GenerationTimeout: environment.DurationOr("GENERATION_TIMEOUT", 60*time.Second),
		CalendarTimeout:   environment.DurationOr("CALENDAR_TIMEOUT", 30*time.Second),
		TransportTimeout:  environment.DurationOr("TRANSPORT_TIMEOUT", 30*time.Second),
		ShutdownGrace:     environment.DurationOr("SHUTDOWN_GRACE", 30*time.Second),

		HTTPAddr: environment.StringOr("HTTP_ADDR", ""),
	}

	kind, err := backend.Parse(environment.StringOr("DEFAULT_BACKEND", string(backend.OpenAI)))
	if err != nil {
		errs = append(errs, fmt.Errorf("DEFAULT_BACKEND: %w", err))
	}
	cfg.DefaultBackend = kind

	policy, err := orchestrator.ParsePolicy(environment.StringOr("SCHEDULING_POLICY", string(orchestrator.PolicyExtracted)))
	if err != nil {
		errs = append(errs, fmt.Errorf("SCHEDULING_POLICY: %w", err))
	}
	cfg.Policy = policy

	if raw := environment.SecretOr("METADATA_KEY", ""); raw != "" {
		key, err := crypto.ParseKey(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("METADATA_KEY: %w", err))
		}
		cfg.MetadataKey = key
	}

	if cfg.OpenAIKey == "" && cfg.OpenAIKeyFile == "" && cfg.GigaChat.AuthKey == "" {
		errs = append(errs, errors.New("no generation backend configured: set OPENAI_API_KEY or GIGACHAT_AUTH_KEY"))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}
