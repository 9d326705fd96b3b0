package config

import (
	"log/slog"
	"strings"
	"sync"
)

// Patch changes the runtime-mutable settings. Nil fields are left alone.
type Patch struct {
	Mode     *string `json:"mode,omitempty"`
	LogLevel *string `json:"logLevel,omitempty"`
}

// Live holds the settings of a running server. Only Mode and LogLevel
// change after startup; the log level takes effect through Level.
//
// Thread-safety: all methods are safe for concurrent use.
type Live struct {
	mu       sync.RWMutex
	settings Settings
	level    *slog.LevelVar
}

// NewLive wraps validated settings.
func NewLive(s Settings) *Live {
	l := &Live{settings: s, level: new(slog.LevelVar)}
	if lvl, err := ParseLevel(s.LogLevel); err == nil {
		l.level.Set(lvl)
	}
	return l
}

// Settings returns a copy of the current settings.
func (l *Live) Settings() Settings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.settings
}

// Level is the slog level to install in the process handler.
func (l *Live) Level() *slog.LevelVar {
	return l.level
}

// Update validates and applies p, returning the new settings and whether the
// mode changed.
func (l *Live) Update(p Patch) (Settings, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.settings
	if p.Mode != nil {
		next.Mode = *p.Mode
	}
	if p.LogLevel != nil {
		next.LogLevel = strings.ToUpper(*p.LogLevel)
	}
	if err := next.Validate(); err != nil {
		return l.settings, false, err
	}
	lvl, err := ParseLevel(next.LogLevel)
	if err != nil {
		return l.settings, false, err
	}
	modeChanged := next.Mode != l.settings.Mode
	l.settings = next
	l.level.Set(lvl)
	slog.Info("settings updated", "mode", next.Mode, "logLevel", next.LogLevel)
	return next, modeChanged, nil
}
