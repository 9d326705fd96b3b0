// Package config loads stagehand settings.
//
// Settings are resolved in order: built-in defaults, an optional YAML file,
// then environment variables. The result is validated against an embedded
// CUE schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Playback modes.
const (
	ModeStandalone = "standalone"
	ModeTV         = "tv"
)

// Settings is the process configuration.
type Settings struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// Database is the SQLite file for snapshots and history. Empty disables
	// persistence.
	Database string `yaml:"database" json:"database"`

	ClientAPIURL             string `yaml:"clientApiUrl" json:"clientApiUrl"`
	LayoutService            string `yaml:"layoutService" json:"layoutService"`
	WebsocketService         string `yaml:"websocketService" json:"websocketService"`
	WebsocketInternalService string `yaml:"websocketInternalService" json:"websocketInternalService"`
	TimelineService          string `yaml:"timelineService" json:"timelineService"`

	// Mode is the playback mode: standalone or tv.
	Mode string `yaml:"mode" json:"mode"`

	// LogLevel is DEBUG, INFO, WARN or ERROR, case-insensitive.
	LogLevel string `yaml:"logLevel" json:"logLevel"`

	// ForwardTimeout bounds one delivery to a remote listener, in seconds.
	ForwardTimeout float64 `yaml:"forwardTimeout" json:"forwardTimeout"`
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		Listen:         ":8008",
		Mode:           ModeStandalone,
		LogLevel:       "INFO",
		ForwardTimeout: 5,
	}
}

// envVars maps environment variables to the setting they override.
var envVars = []struct {
	name string
	set  func(*Settings, string) error
}{
	{"CLIENT_API_URL", func(s *Settings, v string) error { s.ClientAPIURL = v; return nil }},
	{"LAYOUT_SERVICE_URL", func(s *Settings, v string) error { s.LayoutService = v; return nil }},
	{"WEBSOCKET_SERVICE_URL", func(s *Settings, v string) error { s.WebsocketService = v; return nil }},
	{"WEBSOCKET_INTERNAL_SERVICE_URL", func(s *Settings, v string) error { s.WebsocketInternalService = v; return nil }},
	{"TIMELINE_SERVICE_URL", func(s *Settings, v string) error { s.TimelineService = v; return nil }},
	{"STAGEHAND_MODE", func(s *Settings, v string) error { s.Mode = v; return nil }},
	{"LOGLEVEL", func(s *Settings, v string) error { s.LogLevel = v; return nil }},
	{"STAGEHAND_LISTEN", func(s *Settings, v string) error { s.Listen = v; return nil }},
	{"STAGEHAND_DB", func(s *Settings, v string) error { s.Database = v; return nil }},
	{"STAGEHAND_FORWARD_TIMEOUT", func(s *Settings, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		s.ForwardTimeout = f
		return nil
	}},
}

// Load resolves settings from defaults, the YAML file at path (skipped when
// path is empty) and the process environment.
func Load(path string) (Settings, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Settings, error) {
	s := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &s); err != nil {
			return Settings{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	websocketInternalSet := s.WebsocketInternalService != ""
	for _, ev := range envVars {
		v, ok := lookup(ev.name)
		if !ok {
			continue
		}
		if err := ev.set(&s, v); err != nil {
			return Settings{}, fmt.Errorf("environment %s: %w", ev.name, err)
		}
		if ev.name == "WEBSOCKET_INTERNAL_SERVICE_URL" {
			websocketInternalSet = true
		}
	}
	if !websocketInternalSet {
		s.WebsocketInternalService = s.WebsocketService
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks the settings against the schema. The error lists every
// violation.
func (s Settings) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile settings schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Settings"))
	v := def.Unify(ctx.Encode(s))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Details: strings.TrimSpace(cueerrors.Details(err, nil))}
	}
	return nil
}

// ValidationError reports settings that do not match the schema.
type ValidationError struct {
	Details string
}

func (e *ValidationError) Error() string {
	return "invalid settings:\n" + e.Details
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Timeout returns ForwardTimeout as a duration.
func (s Settings) Timeout() time.Duration {
	return time.Duration(s.ForwardTimeout * float64(time.Second))
}

// ParseLevel converts a LogLevel value to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", level)
	}
}
