package timeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vthunder/clr/internal/logging"
)

// Appender is the write side of the store
type Appender interface {
	AppendBatch(ctx context.Context, entries []Entry) error
}

// BatchWriter appends entries off the caller's goroutine. Entries are
// flushed when maxSize accumulate or maxWait passes, and on Close.
// Add never blocks; a full buffer drops the entry.
type BatchWriter struct {
	store   Appender
	in      chan Entry
	maxSize int
	maxWait time.Duration
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once

	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewBatchWriter starts the background flusher
func NewBatchWriter(store Appender, buffer, maxSize int, maxWait time.Duration) *BatchWriter {
	if buffer <= 0 {
		buffer = 1024
	}
	if maxSize <= 0 {
		maxSize = 50
	}
	if maxWait <= 0 {
		maxWait = 500 * time.Millisecond
	}
	bw := &BatchWriter{
		store:   store,
		in:      make(chan Entry, buffer),
		maxSize: maxSize,
		maxWait: maxWait,
		done:    make(chan struct{}),
	}
	bw.wg.Add(1)
	go bw.run()
	return bw
}

// Add queues an entry. Returns false if the writer is closed or full.
func (bw *BatchWriter) Add(e Entry) bool {
	select {
	case <-bw.done:
		return false
	default:
	}
	select {
	case bw.in <- e:
		return true
	default:
		bw.dropped.Add(1)
		logging.Warn("timeline", "Write buffer full, dropping %s entry at %.3f", e.EventType, e.Timestamp)
		return false
	}
}

// Close stops accepting entries and flushes what is buffered
func (bw *BatchWriter) Close() {
	bw.once.Do(func() {
		close(bw.done)
		bw.wg.Wait()
	})
}

// Stats returns written, dropped and failed entry counts
func (bw *BatchWriter) Stats() (written, dropped, failed int64) {
	return bw.written.Load(), bw.dropped.Load(), bw.failed.Load()
}

func (bw *BatchWriter) run() {
	defer bw.wg.Done()

	batch := make([]Entry, 0, bw.maxSize)
	ticker := time.NewTicker(bw.maxWait)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := bw.store.AppendBatch(ctx, batch)
		cancel()
		if err != nil {
			bw.failed.Add(int64(len(batch)))
			logging.Warn("timeline", "Failed to write %d entries: %v", len(batch), err)
		} else {
			bw.written.Add(int64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-bw.in:
			batch = append(batch, e)
			if len(batch) >= bw.maxSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-bw.done:
			for {
				select {
				case e := <-bw.in:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}
