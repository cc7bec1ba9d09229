// Package environment reads process configuration from environment
// variables.
//
// Every helper returns either the parsed value or a caller-supplied default.
// Required variables return an error instead of exiting so that each binary's
// main decides how to report a missing setting.
package environment

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// StringOr returns the value of the named environment variable, or
// defaultValue if the variable is unset or empty.
func StringOr(name, defaultValue string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return defaultValue
}

// RequiredString returns the value of the named environment variable or an
// error if it is unset or empty.
func RequiredString(name string) (string, error) {
	v := os.Getenv(name)
	if v == "" {
		return "", fmt.Errorf("required environment variable %q is not set", name)
	}
	return v, nil
}

// SecretOr returns a credential from the environment. When NAME_FILE is set
// the credential is read from that file (trailing whitespace trimmed), which
// keeps API keys out of the process environment; otherwise NAME itself is
// used. An unreadable file yields defaultValue.
func SecretOr(name, defaultValue string) string {
	if path := os.Getenv(name + "_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return defaultValue
		}
		if v := strings.TrimSpace(string(data)); v != "" {
			return v
		}
		return defaultValue
	}
	return StringOr(name, defaultValue)
}

// BoolOr parses the named environment variable as a boolean using
// strconv.ParseBool. Returns defaultValue if the variable is unset, empty, or
// cannot be parsed.
func BoolOr(name string, defaultValue bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return b
}

// IntOr parses the named environment variable as a decimal integer.
func IntOr(name string, defaultValue int) int {
	v := os.Getenv(name)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

// DurationOr parses the named environment variable as a time.Duration
// ("30s", "5m").
func DurationOr(name string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return d
}

// LocationOr loads the IANA time zone named by the variable (for example
// "Europe/Moscow"). An unset variable or an unknown zone falls back to
// loading defaultZone, and finally to UTC.
func LocationOr(name, defaultZone string) *time.Location {
	for _, zone := range []string{os.Getenv(name), defaultZone} {
		if zone == "" {
			continue
		}
		if loc, err := time.LoadLocation(zone); err == nil {
			return loc
		}
	}
	return time.UTC
}

// StringSliceOr parses the named environment variable as a comma-separated
// list, trimming whitespace and dropping empty elements.
func StringSliceOr(name string, defaultValue []string) []string {
	v := os.Getenv(name)
	if v == "" {
		return defaultValue
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			result = append(result, t)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
