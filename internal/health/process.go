// Package health samples the router's own process resource usage for the
// health endpoint.
package health

import (
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/vthunder/clr/internal/logging"
)

// Usage is one resource sample
type Usage struct {
	RSSBytes   uint64    `json:"rss_bytes"`
	CPUPercent float64   `json:"cpu_percent"`
	Threads    int32     `json:"threads"`
	SampledAt  time.Time `json:"sampled_at"`
}

// Sampler polls the current process in the background so health requests
// never wait on /proc
type Sampler struct {
	mu           sync.Mutex
	proc         *process.Process
	pollInterval time.Duration
	last         Usage
	started      time.Time

	stopChan chan struct{}
	running  bool
}

// NewSampler creates a sampler for this process
func NewSampler(pollInterval time.Duration) (*Sampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	return &Sampler{
		proc:         proc,
		pollInterval: pollInterval,
		started:      time.Now(),
		stopChan:     make(chan struct{}),
	}, nil
}

// Start begins polling
func (s *Sampler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	stop := make(chan struct{})
	s.stopChan = stop
	s.mu.Unlock()

	s.poll()
	go s.loop(stop)
	logging.Info("health", "Sampler started (poll=%v)", s.pollInterval)
}

// Stop halts polling
func (s *Sampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		close(s.stopChan)
		s.running = false
	}
}

func (s *Sampler) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.poll()
		}
	}
}

func (s *Sampler) poll() {
	u := Usage{SampledAt: time.Now()}
	if mem, err := s.proc.MemoryInfo(); err == nil {
		u.RSSBytes = mem.RSS
	}
	if cpu, err := s.proc.CPUPercent(); err == nil {
		u.CPUPercent = cpu
	}
	if n, err := s.proc.NumThreads(); err == nil {
		u.Threads = n
	}

	s.mu.Lock()
	s.last = u
	s.mu.Unlock()
}

// Last returns the most recent sample. A sampler that was never started
// samples on demand.
func (s *Sampler) Last() Usage {
	s.mu.Lock()
	running := s.running
	last := s.last
	s.mu.Unlock()
	if !running && last.SampledAt.IsZero() {
		s.poll()
		s.mu.Lock()
		last = s.last
		s.mu.Unlock()
	}
	return last
}

// Uptime is the time since the sampler was created
func (s *Sampler) Uptime() time.Duration {
	return time.Since(s.started)
}
