// Package tasks keeps the load-aware task queue.
package tasks

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vthunder/clr/internal/types"
)

const (
	DefaultEstimatedMinutes = 25
	MinBlockMinutes         = 10
	MaxBlockMinutes         = 35
	DefaultLoad             = 0.5
)

// Regime is the ordering mode the queue is in
type Regime string

const (
	RegimeHighLoad Regime = "high_load" // easy/review first
	RegimeLowLoad  Regime = "low_load"  // hard first
	RegimeNormal   Regime = "normal"    // insertion order
)

type entry struct {
	task types.Task
	seq  uint64
}

// Queue orders tasks by the current load. Each group keeps insertion order.
type Queue struct {
	mu      sync.RWMutex
	items   []entry
	nextSeq uint64
	load    float64
	high    float64
	low     float64
	regime  Regime
	path    string
}

// NewQueue creates an empty queue. path may be empty for memory only.
func NewQueue(path string, highThreshold, lowThreshold float64) *Queue {
	return &Queue{
		items:  make([]entry, 0),
		load:   DefaultLoad,
		high:   highThreshold,
		low:    lowThreshold,
		regime: RegimeNormal,
		path:   path,
	}
}

// RecommendedDuration maps load to a work block length in minutes:
// 35 at zero load down to 10 at full load.
func RecommendedDuration(score float64) int {
	m := math.Round(float64(MaxBlockMinutes) - 25*types.Clamp01(score))
	return int(types.Clamp(m, MinBlockMinutes, MaxBlockMinutes))
}

// Validate normalizes a task in place. An empty id gets a UUID.
func Validate(t *types.Task) error {
	t.Title = strings.TrimSpace(t.Title)
	if t.Title == "" {
		return fmt.Errorf("%w: task title is required", types.ErrValidation)
	}
	if t.Difficulty == "" {
		t.Difficulty = types.DifficultyMedium
	}
	if !t.Difficulty.Valid() {
		return fmt.Errorf("%w: invalid difficulty %q: must be easy, medium, hard, or review",
			types.ErrValidation, t.Difficulty)
	}
	if t.EstimatedMinutes < 0 {
		return fmt.Errorf("%w: estimated_minutes must be positive", types.ErrValidation)
	}
	if t.EstimatedMinutes == 0 {
		t.EstimatedMinutes = DefaultEstimatedMinutes
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Tags = dedupe(t.Tags)
	return nil
}

func dedupe(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

// Add validates and enqueues a task
func (q *Queue) Add(t types.Task) (types.Task, error) {
	if err := Validate(&t); err != nil {
		return t, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.items {
		if e.task.ID == t.ID {
			return t, fmt.Errorf("%w: task %s already queued", types.ErrDuplicateID, t.ID)
		}
	}
	q.items = append(q.items, entry{task: t, seq: q.nextSeq})
	q.nextSeq++
	q.reorder()
	return t, nil
}

// Remove deletes a task by id
func (q *Queue) Remove(id string) (types.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.items {
		if e.task.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return e.task, nil
		}
	}
	return types.Task{}, fmt.Errorf("%w: task %s", types.ErrNotFound, id)
}

// CompleteCurrent pops the head of the queue
func (q *Queue) CompleteCurrent() (types.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return types.Task{}, fmt.Errorf("%w: queue is empty", types.ErrNotFound)
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head.task, nil
}

// Peek returns the head without removing it
func (q *Queue) Peek() (types.Task, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if len(q.items) == 0 {
		return types.Task{}, false
	}
	return q.items[0].task, true
}

// All returns the tasks in queue order
func (q *Queue) All() []types.Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]types.Task, len(q.items))
	for i, e := range q.items {
		out[i] = e.task
	}
	return out
}

// Count returns the number of queued tasks
func (q *Queue) Count() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

// CurrentLoad is the score last passed to UpdateLoad
func (q *Queue) CurrentLoad() float64 {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.load
}

// Regime is the current ordering mode
func (q *Queue) Regime() Regime {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.regime
}

// SetThresholds updates the regime boundaries (after a settings patch)
func (q *Queue) SetThresholds(high, low float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.high, q.low = high, low
}

// UpdateLoad records the score and reorders the queue. Returns true when
// the order changed.
func (q *Queue) UpdateLoad(score float64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.setLoad(score)
	return q.reorder()
}

// setLoad picks the regime for score. Caller holds mu.
func (q *Queue) setLoad(score float64) {
	q.load = types.Clamp01(score)
	switch {
	case q.load > q.high:
		q.regime = RegimeHighLoad
	case q.load < q.low:
		q.regime = RegimeLowLoad
	default:
		q.regime = RegimeNormal
	}
}

// reorder stable-sorts by (group rank, insertion seq). Caller holds mu.
func (q *Queue) reorder() bool {
	before := make([]string, len(q.items))
	for i, e := range q.items {
		before[i] = e.task.ID
	}

	regime := q.regime
	sort.SliceStable(q.items, func(i, j int) bool {
		ri, rj := rank(q.items[i].task.Difficulty, regime), rank(q.items[j].task.Difficulty, regime)
		if ri != rj {
			return ri < rj
		}
		return q.items[i].seq < q.items[j].seq
	})

	for i, e := range q.items {
		if before[i] != e.task.ID {
			return true
		}
	}
	return false
}

func rank(d types.Difficulty, r Regime) int {
	switch r {
	case RegimeHighLoad:
		if d == types.DifficultyEasy || d == types.DifficultyReview {
			return 0
		}
		return 1
	case RegimeLowLoad:
		if d == types.DifficultyHard {
			return 0
		}
		return 1
	}
	return 0
}

type persisted struct {
	Tasks   []types.Task `json:"tasks"`
	NextSeq uint64       `json:"next_seq"`
	Load    float64      `json:"load"`
}

// Load restores the queue from disk
func (q *Queue) Load() error {
	if q.path == "" {
		return nil
	}
	data, err := os.ReadFile(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read tasks: %w", err)
	}

	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("failed to parse tasks: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = q.items[:0]
	for i, t := range p.Tasks {
		q.items = append(q.items, entry{task: t, seq: uint64(i)})
	}
	q.nextSeq = uint64(len(p.Tasks))
	if p.NextSeq > q.nextSeq {
		q.nextSeq = p.NextSeq
	}
	q.setLoad(p.Load)
	q.reorder()
	return nil
}

// Save persists the queue in its current order
func (q *Queue) Save() error {
	if q.path == "" {
		return nil
	}

	q.mu.RLock()
	p := persisted{Tasks: make([]types.Task, len(q.items)), NextSeq: q.nextSeq, Load: q.load}
	// insertion order; Load re-derives the regime order
	byseq := make([]entry, len(q.items))
	copy(byseq, q.items)
	q.mu.RUnlock()

	sort.Slice(byseq, func(i, j int) bool { return byseq[i].seq < byseq[j].seq })
	for i, e := range byseq {
		p.Tasks[i] = e.task
	}

	if err := os.MkdirAll(filepath.Dir(q.path), 0755); err != nil {
		return fmt.Errorf("failed to create tasks dir: %w", err)
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tasks: %w", err)
	}
	return os.WriteFile(q.path, data, 0644)
}
