// Package queue holds the call queue behind the queued connectors: many
// goroutines push, one drains.
package queue

import "sync"

// Span locates a payload inside a queue's arena.
type Span struct {
	Offset int
	Length int
}

// In returns the bytes span refers to. The result cannot be appended into
// the neighbouring payload.
func (s Span) In(arena []byte) []byte {
	return arena[s.Offset : s.Offset+s.Length : s.Offset+s.Length]
}

// Queue is a mutex-guarded FIFO of calls. Payloads are copied into one
// shared arena instead of being allocated per call, and both buffers are
// recycled between drains.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	arena []byte

	// handed back by the last Drain
	spareItems []T
	spareArena []byte
}

func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Push appends calls without payload.
func (q *Queue[T]) Push(items ...T) {
	q.mu.Lock()
	q.items = append(q.items, items...)
	q.mu.Unlock()
}

// PushPayload copies payload into the arena and appends the call build
// makes from its span. build runs under the queue lock.
func (q *Queue[T]) PushPayload(payload []byte, build func(Span) T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	span := Span{Offset: len(q.arena), Length: len(payload)}
	q.arena = append(q.arena, payload...)
	q.items = append(q.items, build(span))
}

// Len returns the number of queued calls.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain swaps the buffers under the lock, then calls fn for every call in
// push order with the lock released, so fn may push. Calls pushed during
// the drain wait for the next one. Only one goroutine may drain at a time.
// The arena passed to fn is only valid until fn returns.
func (q *Queue[T]) Drain(fn func(item T, arena []byte)) int {
	q.mu.Lock()
	items, arena := q.items, q.arena
	q.items, q.arena = q.spareItems[:0], q.spareArena[:0]
	q.spareItems, q.spareArena = nil, nil
	q.mu.Unlock()

	for _, item := range items {
		fn(item, arena)
	}

	clear(items)
	q.mu.Lock()
	q.spareItems, q.spareArena = items[:0], arena[:0]
	q.mu.Unlock()
	return len(items)
}
