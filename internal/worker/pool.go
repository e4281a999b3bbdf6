package worker

import (
	"sync"

	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/metrics"
)

type task func()

// Pool runs side-effect jobs off the request path. Bounded queue,
// fixed worker count, drained on Stop.
type Pool struct {
	wg      sync.WaitGroup
	mu      sync.Mutex
	jobs    chan task
	stopped bool
}

func NewPool(n int) *Pool {
	p := &Pool{jobs: make(chan task, 1024)}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				job()
				metrics.WorkerQueueDepth.Set(float64(len(p.jobs)))
			}
		}()
	}
	return p
}

// Submit queues a job. After Stop the job is dropped; side effects are
// fire-and-forget, so a submission racing shutdown must not panic on
// the closed channel.
func (p *Pool) Submit(f task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.jobs <- f
	metrics.WorkerQueueDepth.Set(float64(len(p.jobs)))
}

func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}
