// Package timeline is the append-only durable log of inference ticks and
// the historical queries derived from it.
package timeline

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/vthunder/clr/internal/logging"
	"github.com/vthunder/clr/internal/types"
)

//go:embed schema.sql
var schemaSQL string

const (
	DefaultLimit = 200
	MaxLimit     = 1000
)

// ErrClosed is returned after Close
var ErrClosed = errors.New("timeline: closed")

// Entry is one durable row. Never updated or deleted.
type Entry struct {
	ID        int64          `json:"id"`
	Timestamp float64        `json:"timestamp"`
	Source    string         `json:"source"`
	EventType string         `json:"event_type"`
	LoadScore float64        `json:"load_score"`
	Context   string         `json:"context"`
	Metadata  map[string]any `json:"metadata"`
}

// TickEntry builds the row written once per inference tick
func TickEntry(snap types.Snapshot) Entry {
	return Entry{
		Timestamp: snap.Timestamp,
		Source:    string(types.SourceEngine),
		EventType: types.EventInferenceTick,
		LoadScore: snap.LoadScore,
		Context:   string(snap.Context),
		Metadata: map[string]any{
			"intrinsic":  snap.Breakdown.Intrinsic,
			"extraneous": snap.Breakdown.Extraneous,
			"germane":    snap.Breakdown.Germane,
			"confidence": snap.Confidence,
		},
	}
}

// Store manages the SQLite timeline
type Store struct {
	db *sql.DB
}

// Open creates or opens the timeline database at path. ":memory:" is
// accepted for tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer; in-memory databases are per-connection
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func encodeMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(data), nil
}

const insertSQL = `INSERT INTO timeline (timestamp, source, event_type, load_score, context, metadata_json)
	VALUES (?, ?, ?, ?, ?, ?)`

// Append writes one row and returns its id
func (s *Store) Append(ctx context.Context, e Entry) (int64, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	meta, err := encodeMetadata(e.Metadata)
	if err != nil {
		return 0, err
	}
	if e.Context == "" {
		e.Context = string(types.ContextUnknown)
	}
	res, err := s.db.ExecContext(ctx, insertSQL,
		e.Timestamp, e.Source, e.EventType, e.LoadScore, e.Context, meta)
	if err != nil {
		return 0, fmt.Errorf("failed to append timeline entry: %w", err)
	}
	return res.LastInsertId()
}

// AppendBatch writes rows in one transaction
func (s *Store) AppendBatch(ctx context.Context, entries []Entry) error {
	if s.db == nil {
		return ErrClosed
	}
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		meta, err := encodeMetadata(e.Metadata)
		if err != nil {
			return err
		}
		if e.Context == "" {
			e.Context = string(types.ContextUnknown)
		}
		if _, err := stmt.ExecContext(ctx, e.Timestamp, e.Source, e.EventType, e.LoadScore, e.Context, meta); err != nil {
			return fmt.Errorf("failed to append timeline entry: %w", err)
		}
	}
	return tx.Commit()
}

// Filter selects rows for Query. Zero Since/Until means unbounded.
type Filter struct {
	Since     float64
	Until     float64
	Source    string
	EventType string
	Limit     int
}

// ClampLimit applies the default and the maximum
func ClampLimit(n int) int {
	if n <= 0 {
		return DefaultLimit
	}
	if n > MaxLimit {
		return MaxLimit
	}
	return n
}

// Query returns matching rows ascending by timestamp. Unreadable rows are
// skipped with a warning.
func (s *Store) Query(ctx context.Context, f Filter) ([]Entry, error) {
	f.Limit = ClampLimit(f.Limit)
	return s.query(ctx, f)
}

// query runs the select; Limit < 0 means no limit
func (s *Store) query(ctx context.Context, f Filter) ([]Entry, error) {
	if s.db == nil {
		return nil, ErrClosed
	}

	var clauses []string
	var args []any
	if f.Since > 0 {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, f.Since)
	}
	if f.Until > 0 {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, f.Until)
	}
	if f.Source != "" {
		clauses = append(clauses, "source = ?")
		args = append(args, f.Source)
	}
	if f.EventType != "" {
		clauses = append(clauses, "event_type = ?")
		args = append(args, f.EventType)
	}

	q := "SELECT id, timestamp, source, event_type, load_score, context, metadata_json FROM timeline"
	if len(clauses) > 0 {
		q += " WHERE " + strings.Join(clauses, " AND ")
	}
	q += " ORDER BY timestamp ASC, id ASC"
	if f.Limit >= 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeline: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			logging.Warn("timeline", "Skipping unreadable row: %v", err)
			continue
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("failed to read timeline: %w", err)
	}
	return out, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e    Entry
		ts   sql.NullFloat64
		load sql.NullFloat64
		ctx  sql.NullString
		meta sql.NullString
	)
	if err := rows.Scan(&e.ID, &ts, &e.Source, &e.EventType, &load, &ctx, &meta); err != nil {
		return e, err
	}
	if !ts.Valid {
		return e, fmt.Errorf("row %d: null timestamp", e.ID)
	}
	e.Timestamp = ts.Float64
	e.LoadScore = load.Float64
	e.Context = ctx.String
	if e.Context == "" {
		e.Context = string(types.ContextUnknown)
	}
	e.Metadata = map[string]any{}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &e.Metadata); err != nil {
			return e, fmt.Errorf("row %d: bad metadata: %w", e.ID, err)
		}
	}
	return e, nil
}

// LoadHistory returns the newest tick scores with timestamp in
// [now-window, now], oldest first, at most MaxLimit of them.
func (s *Store) LoadHistory(ctx context.Context, now, windowSeconds float64) ([]float64, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT load_score FROM (
			SELECT id, timestamp, load_score FROM timeline
			WHERE source = ? AND event_type = ? AND timestamp >= ? AND timestamp <= ?
			ORDER BY timestamp DESC, id DESC LIMIT ?
		) ORDER BY timestamp ASC, id ASC`,
		string(types.SourceEngine), types.EventInferenceTick, now-windowSeconds, now, MaxLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to query load history: %w", err)
	}
	defer rows.Close()

	scores := []float64{}
	for rows.Next() {
		var v sql.NullFloat64
		if err := rows.Scan(&v); err != nil {
			logging.Warn("timeline", "Skipping unreadable load score: %v", err)
			continue
		}
		scores = append(scores, v.Float64)
	}
	return scores, rows.Err()
}

// Count returns the number of rows
func (s *Store) Count(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM timeline").Scan(&n)
	return n, err
}
