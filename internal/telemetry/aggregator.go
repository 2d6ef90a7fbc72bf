// Package telemetry validates raw collector events and feeds them into the
// sliding window.
package telemetry

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/vthunder/clr/internal/types"
)

// Both wrap types.ErrValidation. Transports answer 400 for an unknown
// source and 422 for an unknown type.
var (
	ErrUnknownSource = fmt.Errorf("%w: unknown source", types.ErrValidation)
	ErrUnknownType   = fmt.Errorf("%w: unknown event type", types.ErrValidation)
)

// RawEvent is the collector wire shape
type RawEvent struct {
	Source    string         `json:"source"`
	Type      string         `json:"type"`
	Timestamp *float64       `json:"timestamp,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Sink receives accepted events. It reports false when the event fell
// below the window's lower bound and was dropped.
type Sink interface {
	Push(ev types.TelemetryEvent, now time.Time) bool
}

// Aggregator normalizes raw events and pushes them into a Sink.
// It is not safe for concurrent use; the engine loop owns it.
type Aggregator struct {
	sink Sink
	now  func() time.Time
}

// NewAggregator creates an aggregator feeding sink
func NewAggregator(sink Sink, now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{sink: sink, now: now}
}

// ParseSource canonicalizes a collector's source name. It does not check
// that the source is known.
func ParseSource(s string) types.Source {
	return types.Source(strings.ToLower(strings.TrimSpace(s)))
}

// Normalize validates a raw event and maps it to the internal shape.
// A missing timestamp becomes now; a timestamp in the future is clamped to now.
func Normalize(raw RawEvent, now time.Time) (types.TelemetryEvent, error) {
	src := ParseSource(raw.Source)
	if _, ok := parsers[src]; !ok {
		return types.TelemetryEvent{}, fmt.Errorf("%w %q", ErrUnknownSource, raw.Source)
	}

	m, ok := lookup(src, raw.Type)
	if !ok {
		known := KnownTypes(src)
		sort.Strings(known)
		return types.TelemetryEvent{}, fmt.Errorf("%w %q for source %s (known: %s)",
			ErrUnknownType, raw.Type, src, strings.Join(known, ", "))
	}

	nowTS := types.Unix(now)
	ts := nowTS
	if raw.Timestamp != nil {
		ts = *raw.Timestamp
		if math.IsNaN(ts) || math.IsInf(ts, 0) || ts <= 0 {
			return types.TelemetryEvent{}, fmt.Errorf("%w: invalid timestamp %v", types.ErrValidation, ts)
		}
		if ts > nowTS {
			ts = nowTS
		}
	}

	data := raw.Data
	if data == nil {
		data = map[string]any{}
	}
	var out map[string]any
	if m.extract != nil {
		out = m.extract(data)
	}
	if out == nil {
		out = map[string]any{}
	}
	if src == types.SourceIDE {
		lang := str(data, "language", "languageId")
		if lang == "" {
			lang = "unknown"
		}
		out["language"] = lang
	}

	return types.TelemetryEvent{
		Source:    src,
		Type:      m.eventType,
		RawType:   raw.Type,
		Timestamp: ts,
		Data:      out,
	}, nil
}

// Ingest validates and pushes one event. Events older than the window are
// dropped without error.
func (a *Aggregator) Ingest(raw RawEvent) (types.TelemetryEvent, error) {
	now := a.now()
	ev, err := Normalize(raw, now)
	if err != nil {
		return ev, err
	}
	a.sink.Push(ev, now)
	return ev, nil
}

// ItemError reports why one element of a batch was rejected
type ItemError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// BatchResult summarizes a batch ingestion
type BatchResult struct {
	Accepted int         `json:"accepted"`
	Total    int         `json:"total"`
	Errors   []ItemError `json:"errors,omitempty"`
}

// IngestBatch ingests each element independently; a bad element never
// aborts the rest of the batch.
func (a *Aggregator) IngestBatch(raws []RawEvent) (BatchResult, []types.TelemetryEvent) {
	res := BatchResult{Total: len(raws)}
	accepted := make([]types.TelemetryEvent, 0, len(raws))
	for i, raw := range raws {
		ev, err := a.Ingest(raw)
		if err != nil {
			res.Errors = append(res.Errors, ItemError{Index: i, Error: err.Error()})
			continue
		}
		res.Accepted++
		accepted = append(accepted, ev)
	}
	return res, accepted
}

// IsUnknownSource reports whether err came from an unrecognized source
func IsUnknownSource(err error) bool {
	return errors.Is(err, ErrUnknownSource)
}
