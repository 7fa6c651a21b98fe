package infer

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrPoolClosed is returned when acquiring from a closed pool.
var ErrPoolClosed = errors.New("interpreter pool is closed")

// Pool owns a fixed set of interpreter instances. Callers are assigned an
// instance round-robin; each instance serializes its own calls in arrival
// order while different instances run fully concurrently. This bounds peak
// concurrent inference to the pool size without dropping or reordering
// requests.
type Pool struct {
	slots  []*poolSlot
	next   uint64
	mu     sync.Mutex
	closed bool
}

type poolSlot struct {
	// queue has capacity 1 and acts as the slot's FIFO ticket: a caller
	// sends to enter and receives to leave, so waiters wake in order.
	queue  chan struct{}
	interp Interpreter
}

// NewPool builds size interpreter instances via factory. On any failure
// the already-built instances are closed and the error is returned.
func NewPool(size int, factory Factory) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool size must be at least 1, got %d", size)
	}

	p := &Pool{slots: make([]*poolSlot, 0, size)}
	for i := 0; i < size; i++ {
		interp, err := factory()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("build interpreter %d: %w", i, err)
		}
		p.slots = append(p.slots, &poolSlot{
			queue:  make(chan struct{}, 1),
			interp: interp,
		})
	}

	return p, nil
}

// Size returns the number of pooled instances.
func (p *Pool) Size() int {
	return len(p.slots)
}

// Do runs fn with exclusive access to one pooled interpreter, blocking
// until the chosen instance's prior calls complete. A call racing Close
// either runs to completion before the instance is released or fails with
// ErrPoolClosed; it never reaches a closed interpreter.
func (p *Pool) Do(fn func(Interpreter) error) error {
	slot := p.slots[atomic.AddUint64(&p.next, 1)%uint64(len(p.slots))]

	slot.queue <- struct{}{}
	defer func() { <-slot.queue }()

	// Close only releases an instance while holding its ticket, so with
	// the ticket held here the instance is still live unless closed was
	// already set.
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPoolClosed
	}

	return fn(slot.interp)
}

// Close releases all pooled interpreters. It is idempotent; calls racing
// with in-flight work wait for each instance to go idle first.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	var firstErr error
	for _, slot := range p.slots {
		slot.queue <- struct{}{}
		if err := slot.interp.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		<-slot.queue
	}
	return firstErr
}
