package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/bdobrica/Mimic/common/environment"
	"github.com/bdobrica/Mimic/common/spec/backend"
	"github.com/bdobrica/Mimic/internal/controller/matrix"
	"github.com/bdobrica/Mimic/internal/imitator/calendar"
)

// Config holds the controller configuration.
type Config struct {
	// DatabasePath is the SQLite file shared with the imitator.
	DatabasePath string
	// MetadataPath holds the claimed operator.
	MetadataPath   string
	DefaultBackend backend.Kind

	Matrix matrix.Config
	// AdminSenders may always run commands; the claimed operator is added at
	// runtime.
	AdminSenders []string

	Calendar        calendar.GoogleConfig
	CalendarTimeout time.Duration
	Location        *time.Location
	CommandTimeout  time.Duration
}

// LoadConfig reads the controller configuration from the environment.
// CONTROLLER_* variables take precedence over the shared ones.
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
		MetadataPath: environment.StringOr("CONTROLLER_METADATA_PATH", "./controller.session.json"),
		Matrix: matrix.Config{
			Homeserver:  environment.StringOr("CONTROLLER_HOMESERVER", environment.StringOr("MATRIX_HOMESERVER", "")),
			UserID:      required("CONTROLLER_USER_ID"),
			AccessToken: environment.SecretOr("CONTROLLER_ACCESS_TOKEN", ""),
			AdminRooms:  environment.StringSliceOr("CONTROLLER_ADMIN_ROOMS", nil),
		},
		AdminSenders: environment.StringSliceOr("CONTROLLER_ADMIN_SENDERS", nil),
		Calendar: calendar.GoogleConfig{
			CredentialsFile: environment.StringOr("GOOGLE_CREDENTIALS_FILE", ""),
			CalendarID:      environment.StringOr("GOOGLE_CALENDAR_ID", "primary"),
		},
		CalendarTimeout: environment.DurationOr("CALENDAR_TIMEOUT", 30*time.Second),
		Location:        environment.LocationOr("TIMEZONE", "Europe/Moscow"),
		CommandTimeout:  environment.DurationOr("CONTROLLER_COMMAND_TIMEOUT", 30*time.Second),
	}

	if cfg.Matrix.Homeserver == "" {
		errs = append(errs, errors.New("CONTROLLER_HOMESERVER or MATRIX_HOMESERVER is required"))
	}
	if cfg.Matrix.AccessToken == "" {
		errs = append(errs, errors.New("CONTROLLER_ACCESS_TOKEN is required"))
	}
	if len(cfg.Matrix.AdminRooms) == 0 {
		errs = append(errs, errors.New("CONTROLLER_ADMIN_ROOMS is required"))
	}

	kind, err := backend.Parse(environment.StringOr("DEFAULT_BACKEND", string(backend.OpenAI)))
	if err != nil {
		errs = append(errs, fmt.Errorf("DEFAULT_BACKEND: %w", err))
	}
	cfg.DefaultBackend = kind

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}
