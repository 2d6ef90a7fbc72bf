// Package stream fans state snapshots out to push subscribers.
package stream

import (
	"sync"
	"sync/atomic"

	"github.com/vthunder/clr/internal/types"
)

const subscriberBuffer = 8

// Hub fans out snapshots to any number of subscribers. Publish never
// blocks: a subscriber that falls behind loses its oldest queued snapshot.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan types.Snapshot]struct{}
	closed      bool
	dropped     atomic.Int64
}

// NewHub constructs a hub
func NewHub() *Hub {
	return &Hub{subscribers: make(map[chan types.Snapshot]struct{})}
}

// Publish delivers snap to every subscriber without waiting on any of them
func (h *Hub) Publish(snap types.Snapshot) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for ch := range h.subscribers {
		select {
		case ch <- snap:
			continue
		default:
		}
		// full: discard the stalest snapshot and retry once
		select {
		case <-ch:
			h.dropped.Add(1)
		default:
		}
		select {
		case ch <- snap:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel of future snapshots and a cleanup func
func (h *Hub) Subscribe() (<-chan types.Snapshot, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		empty := make(chan types.Snapshot)
		close(empty)
		return empty, func() {}
	}
	ch := make(chan types.Snapshot, subscriberBuffer)
	h.subscribers[ch] = struct{}{}
	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// Count is the number of live subscribers
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Dropped is the number of snapshots discarded for slow subscribers
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close unsubscribes everyone and stops future publications
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, ch)
	}
}
