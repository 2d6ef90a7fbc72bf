package engine

import (
	"context"
	"sync"

	"github.com/vthunder/clr/internal/activity"
	"github.com/vthunder/clr/internal/logging"
	"github.com/vthunder/clr/internal/tasks"
)

// Journal is where control actions are recorded. activity.Log satisfies it.
type Journal interface {
	Log(e activity.Entry) error
}

type persistJob struct {
	entry     *activity.Entry
	saveTasks bool
	synced    chan struct{}
}

// persister takes journal appends and task snapshots off the loop. Jobs
// run in submission order on one goroutine.
type persister struct {
	journal Journal // optional
	queue   *tasks.Queue
	jobs    chan persistJob
	done    chan struct{}

	mu     sync.Mutex
	closed bool
}

func newPersister(journal Journal, queue *tasks.Queue, buffer int) *persister {
	p := &persister{
		journal: journal,
		queue:   queue,
		jobs:    make(chan persistJob, buffer),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *persister) run() {
	defer close(p.done)
	for job := range p.jobs {
		p.handle(job)
	}
}

func (p *persister) handle(job persistJob) {
	if job.entry != nil && p.journal != nil {
		if err := p.journal.Log(*job.entry); err != nil {
			logging.Warn("engine", "Failed to record %s: %v", job.entry.Type, err)
		}
	}
	if job.saveTasks {
		if err := p.queue.Save(); err != nil {
			logging.Warn("engine", "Failed to save tasks: %v", err)
		}
	}
	if job.synced != nil {
		close(job.synced)
	}
}

// submit queues a job. A full queue writes inline rather than losing it.
func (p *persister) submit(job persistJob) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.handle(job)
		return
	}
	select {
	case p.jobs <- job:
	default:
		logging.Warn("engine", "Persist queue full, writing inline")
		p.handle(job)
	}
}

// sync waits until every job submitted before it has been written
func (p *persister) sync(ctx context.Context) error {
	ch := make(chan struct{})
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	select {
	case p.jobs <- persistJob{synced: ch}:
	case <-ctx.Done():
		p.mu.Unlock()
		return ctx.Err()
	}
	p.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close drains pending jobs and stops the goroutine
func (p *persister) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	<-p.done
}
