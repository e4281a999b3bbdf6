package worker

import (
	"sync/atomic"
	"testing"
)

func TestPoolRunsSubmittedJobs(t *testing.T) {
	p := NewPool(2)
	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		p.Submit(func() { ran.Add(1) })
	}
	p.Stop()
	if got := ran.Load(); got != 10 {
		t.Fatalf("ran %d jobs, want 10", got)
	}
}

func TestPoolSubmitAfterStopIsDropped(t *testing.T) {
	p := NewPool(1)
	p.Stop()

	// a sweep finishing during shutdown may still submit; the job is
	// dropped instead of panicking on the closed channel
	p.Submit(func() { t.Error("job ran after Stop") })
	p.Stop()
}
