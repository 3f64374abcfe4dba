package task

import (
	"sync"
)

// Processor owns the caller queues, one per (caller, device) pair. A queue
// is created on first use and removed once cancelled.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Processor struct {
	mu     sync.Mutex
	queues map[Key]*Queue
	closed bool
}

// NewProcessor creates an empty processor.
func NewProcessor() *Processor {
	return &Processor{
		queues: make(map[Key]*Queue),
	}
}

// Add appends t to the queue for key, creating and starting the queue if
// needed. Tasks for the same key run in submission order.
func (p *Processor) Add(key Key, t *Task) error {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return ErrProcessorClosed
		}
		q, ok := p.queues[key]
		if !ok {
			q = NewQueue(key)
			q.onFinish = p.forget
			p.queues[key] = q
			q.Start()
		}
		p.mu.Unlock()

		err := q.Add(t)
		if err == nil {
			return nil
		}
		// Cancelled between lookup and Add; drop it and retry with a fresh queue.
		p.forget(q)
	}
}

// Has reports whether a queue exists for key.
func (p *Processor) Has(key Key) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.queues[key]
	return ok
}

// Len returns the number of live queues.
func (p *Processor) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queues)
}

// CancelQueue cancels the queue for key, if any.
func (p *Processor) CancelQueue(key Key) {
	p.mu.Lock()
	q := p.queues[key]
	delete(p.queues, key)
	p.mu.Unlock()

	if q != nil {
		q.Cancel()
	}
}

// RemoveSource cancels every queue belonging to a caller.
func (p *Processor) RemoveSource(source string) {
	p.cancelMatching(func(k Key) bool { return k.Source == source })
}

// RemoveSink cancels every queue targeting a device.
func (p *Processor) RemoveSink(sink string) {
	p.cancelMatching(func(k Key) bool { return k.Sink == sink })
}

// Shutdown closes every queue. Unanswered tasks receive ErrDied and later
// Add calls fail with ErrProcessorClosed.
func (p *Processor) Shutdown() {
	p.mu.Lock()
	p.closed = true
	queues := make([]*Queue, 0, len(p.queues))
	for k, q := range p.queues {
		queues = append(queues, q)
		delete(p.queues, k)
	}
	p.mu.Unlock()

	for _, q := range queues {
		q.Shutdown()
	}
}

func (p *Processor) cancelMatching(match func(Key) bool) {
	p.mu.Lock()
	var queues []*Queue
	for k, q := range p.queues {
		if match(k) {
			queues = append(queues, q)
			delete(p.queues, k)
		}
	}
	p.mu.Unlock()

	for _, q := range queues {
		q.Cancel()
	}
}

func (p *Processor) forget(q *Queue) {
	p.mu.Lock()
	if p.queues[q.key] == q {
		delete(p.queues, q.key)
	}
	p.mu.Unlock()
}
