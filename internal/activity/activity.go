// Package activity is the append-only JSONL journal of control actions:
// focus and pomodoro transitions, task edits, settings patches and
// controller faults. Per-tick load history lives in the timeline instead.
package activity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

// Type identifies what kind of activity this is
type Type string

const (
	TypeFocusStarted    Type = "focus_started"
	TypeFocusStopped    Type = "focus_stopped"
	TypeFocusExpired    Type = "focus_expired"
	TypePomodoroStarted Type = "pomodoro_started"
	TypePomodoroStopped Type = "pomodoro_stopped"
	TypePomodoroPhase   Type = "pomodoro_phase" // automatic phase transition
	TypeTaskAdded       Type = "task_added"
	TypeTaskRemoved     Type = "task_removed"
	TypeTaskCompleted   Type = "task_completed"
	TypeSettings        Type = "settings_patched"
	TypePolicyReload    Type = "policy_reloaded"
	TypeFault           Type = "controller_fault"
)

// Types lists every journal entry type
var Types = []Type{
	TypeFocusStarted, TypeFocusStopped, TypeFocusExpired,
	TypePomodoroStarted, TypePomodoroStopped, TypePomodoroPhase,
	TypeTaskAdded, TypeTaskRemoved, TypeTaskCompleted,
	TypeSettings, TypePolicyReload, TypeFault,
}

// Valid reports whether t is a known entry type
func (t Type) Valid() bool {
	return slices.Contains(Types, t)
}

// Entry represents a single activity log entry
type Entry struct {
	Timestamp time.Time      `json:"ts"`
	Type      Type           `json:"type"`
	Summary   string         `json:"summary"`
	Source    string         `json:"source,omitempty"` // user, policy, engine, mcp
	Data      map[string]any `json:"data,omitempty"`
}

// Log is the activity journal
type Log struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// New creates a journal at statePath/activity.jsonl
func New(statePath string) *Log {
	return &Log{
		path: filepath.Join(statePath, "activity.jsonl"),
		now:  time.Now,
	}
}

// Path is the journal file location
func (l *Log) Path() string {
	return l.path
}

// Log appends an entry
func (l *Log) Log(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now()
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create activity dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

// Record is Log with the common fields inline
func (l *Log) Record(t Type, source, summary string, data map[string]any) error {
	return l.Log(Entry{Type: t, Source: source, Summary: summary, Data: data})
}

// FaultEntry builds the entry for a recovered controller fault
func FaultEntry(controller string, fault any) Entry {
	return Entry{
		Type:    TypeFault,
		Source:  "engine",
		Summary: controller + " faulted during tick",
		Data: map[string]any{
			"controller": controller,
			"error":      fmt.Sprint(fault),
		},
	}
}

// Filter selects journal entries. Zero fields match everything.
type Filter struct {
	Types []Type
	Since time.Time
	Until time.Time
	Text  string // case-insensitive substring of summary or source
	Limit int    // keep the newest Limit matches; <= 0 keeps all
}

func (f Filter) match(e Entry) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, e.Type) {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	if f.Text != "" {
		q := strings.ToLower(f.Text)
		if !strings.Contains(strings.ToLower(e.Summary), q) &&
			!strings.Contains(strings.ToLower(e.Source), q) {
			return false
		}
	}
	return true
}

// Query returns matching entries in journal order (oldest first)
func (l *Log) Query(f Filter) ([]Entry, error) {
	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if f.match(e) {
			out = append(out, e)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

// Recent returns the last n entries
func (l *Log) Recent(n int) ([]Entry, error) {
	return l.Query(Filter{Limit: n})
}

// Day returns the bounds of the local calendar day containing t
func Day(t time.Time) (start, end time.Time) {
	start = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// readAll reads every entry, skipping malformed lines
func (l *Log) readAll() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []Entry
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
