package health

import (
	"testing"
	"time"
)

func TestSamplerReportsOwnProcess(t *testing.T) {
	s, err := NewSampler(time.Hour)
	if err != nil {
		t.Skipf("process info unavailable: %v", err)
	}

	u := s.Last()
	if u.SampledAt.IsZero() {
		t.Fatal("expected an on-demand sample")
	}
	if u.RSSBytes == 0 {
		t.Error("expected non-zero RSS for the test binary")
	}
}

func TestSamplerStartStop(t *testing.T) {
	s, err := NewSampler(time.Hour)
	if err != nil {
		t.Skipf("process info unavailable: %v", err)
	}
	s.Start()
	s.Start() // second start is a no-op
	first := s.Last()
	s.Stop()
	s.Stop()

	if first.SampledAt.IsZero() {
		t.Error("Start should take an immediate sample")
	}
	if s.Uptime() <= 0 {
		t.Error("uptime should be positive")
	}
}

func TestSamplerRestart(t *testing.T) {
	s, err := NewSampler(time.Millisecond)
	if err != nil {
		t.Skipf("process info unavailable: %v", err)
	}
	for i := 0; i < 3; i++ {
		s.Start()
		time.Sleep(5 * time.Millisecond)
		s.Stop()
	}
	s.Start()
	defer s.Stop()
	time.Sleep(5 * time.Millisecond)
	if s.Last().SampledAt.IsZero() {
		t.Error("restarted sampler should keep sampling")
	}
}
