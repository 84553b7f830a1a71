package channel

import "sync"

// pipe guards a raw channel so that sends after Close are refused instead
// of panicking.
type pipe[T any] struct {
	mu     sync.RWMutex
	ch     chan T
	done   chan struct{}
	once   sync.Once
	closed bool
}

func (p *pipe[T]) init(size int) {
	p.ch = make(chan T, size)
	p.done = make(chan struct{})
}

func (p *pipe[T]) Send(v T) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.ch <- v:
		return true
	case <-p.done:
		return false
	}
}

func (p *pipe[T]) TrySend(v T) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.ch <- v:
		return true
	default:
		return false
	}
}

func (p *pipe[T]) Receive() <-chan T {
	return p.ch
}

func (p *pipe[T]) Close() {
	// Blocked senders hold the read lock; release them first.
	p.once.Do(func() { close(p.done) })
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
}

func (p *pipe[T]) Closed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}
