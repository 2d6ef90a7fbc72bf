// Package settings holds the user-tunable thresholds read by the classifier,
// the task scheduler and the pomodoro controller.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/vthunder/clr/internal/logging"
	"github.com/vthunder/clr/internal/types"
)

var validate = validator.New()

// Settings are process-wide and mutable only through Store.Apply
type Settings struct {
	ShortBreakSeconds int     `json:"short_break_seconds" validate:"gte=60,lte=900"`
	LongBreakSeconds  int     `json:"long_break_seconds" validate:"gte=300,lte=3600"`
	HighLoadThreshold float64 `json:"high_load_threshold" validate:"gte=0.4,lte=0.95"`
	FatigueThreshold  float64 `json:"fatigue_threshold" validate:"gte=0.5,lte=0.99"`
	SessionGapMinutes int     `json:"session_gap_minutes" validate:"gte=2,lte=60"`
}

// Defaults returns the factory settings
func Defaults() Settings {
	return Settings{
		ShortBreakSeconds: 300,
		LongBreakSeconds:  1200,
		HighLoadThreshold: 0.75,
		FatigueThreshold:  0.85,
		SessionGapMinutes: 10,
	}
}

// SessionGap is the session-splitting gap as a duration
func (s Settings) SessionGap() time.Duration {
	return time.Duration(s.SessionGapMinutes) * time.Minute
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	ShortBreakSeconds *int     `json:"short_break_seconds,omitempty" validate:"omitempty,gte=60,lte=900"`
	LongBreakSeconds  *int     `json:"long_break_seconds,omitempty" validate:"omitempty,gte=300,lte=3600"`
	HighLoadThreshold *float64 `json:"high_load_threshold,omitempty" validate:"omitempty,gte=0.4,lte=0.95"`
	FatigueThreshold  *float64 `json:"fatigue_threshold,omitempty" validate:"omitempty,gte=0.5,lte=0.99"`
	SessionGapMinutes *int     `json:"session_gap_minutes,omitempty" validate:"omitempty,gte=2,lte=60"`
}

// Empty reports whether the patch changes nothing
func (p Patch) Empty() bool {
	return p.ShortBreakSeconds == nil && p.LongBreakSeconds == nil &&
		p.HighLoadThreshold == nil && p.FatigueThreshold == nil && p.SessionGapMinutes == nil
}

// Validate checks every present field against its allowed range
func (p Patch) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %s", types.ErrConfig, describe(err))
	}
	return nil
}

// ApplyTo returns s with the patch applied. The patch must already be valid.
func (p Patch) ApplyTo(s Settings) Settings {
	if p.ShortBreakSeconds != nil {
		s.ShortBreakSeconds = *p.ShortBreakSeconds
	}
	if p.LongBreakSeconds != nil {
		s.LongBreakSeconds = *p.LongBreakSeconds
	}
	if p.HighLoadThreshold != nil {
		s.HighLoadThreshold = *p.HighLoadThreshold
	}
	if p.FatigueThreshold != nil {
		s.FatigueThreshold = *p.FatigueThreshold
	}
	if p.SessionGapMinutes != nil {
		s.SessionGapMinutes = *p.SessionGapMinutes
	}
	return s
}

// describe flattens validator errors into "field must be gte 60" style text
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s must be %s %s", fe.Field(), fe.Tag(), fe.Param()))
	}
	return strings.Join(parts, "; ")
}

// Store keeps the current settings and persists them as JSON
type Store struct {
	path    string
	mu      sync.RWMutex
	current Settings
}

// NewStore creates a store backed by path. An empty path keeps settings in
// memory only.
func NewStore(path string) *Store {
	return &Store{path: path, current: Defaults()}
}

// Load reads persisted settings. A missing file keeps defaults; a malformed
// or out-of-range file is logged and ignored.
func (s *Store) Load() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read settings: %w", err)
	}

	loaded := Defaults()
	if err := json.Unmarshal(data, &loaded); err != nil {
		logging.Warn("settings", "Ignoring malformed %s: %v", s.path, err)
		return nil
	}
	if err := validate.Struct(loaded); err != nil {
		logging.Warn("settings", "Ignoring out-of-range %s: %s", s.path, describe(err))
		return nil
	}

	s.mu.Lock()
	s.current = loaded
	s.mu.Unlock()
	return nil
}

// Get returns the current settings
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Apply validates and applies a patch, all or nothing, then persists
func (s *Store) Apply(p Patch) (Settings, error) {
	if err := p.Validate(); err != nil {
		return s.Get(), err
	}

	s.mu.Lock()
	next := p.ApplyTo(s.current)
	s.current = next
	s.mu.Unlock()

	if err := s.save(next); err != nil {
		return next, err
	}
	return next, nil
}

func (s *Store) save(cur Settings) error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create settings dir: %w", err)
	}
	data, err := json.MarshalIndent(cur, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return os.Rename(tmp, s.path)
}
